// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ux

import (
	"os"
	"strings"
	"sync"

	"github.com/mattn/go-isatty"
)

// Mode controls how much styling the CLI emits.
type Mode string

const (
	// ModeRich uses colors, icons and progress bars.
	ModeRich Mode = "rich"

	// ModeMinimal uses icons without colored text.
	ModeMinimal Mode = "minimal"

	// ModeMachine emits plain prefixed lines for scripts and log collectors.
	ModeMachine Mode = "machine"
)

// EnvMode overrides the detected mode.
const EnvMode = "LIVEGRAPH_OUTPUT"

var (
	currentMode = ModeRich
	modeMu      sync.RWMutex
)

// GetMode returns the current output mode.
func GetMode() Mode {
	modeMu.RLock()
	defer modeMu.RUnlock()
	return currentMode
}

// SetMode sets the output mode.
func SetMode(m Mode) {
	modeMu.Lock()
	defer modeMu.Unlock()
	currentMode = m
}

// ParseMode parses a mode name. Unknown names fall back to ModeRich.
func ParseMode(s string) Mode {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "minimal", "min":
		return ModeMinimal
	case "machine", "plain", "quiet":
		return ModeMachine
	default:
		return ModeRich
	}
}

// InitMode picks the mode from LIVEGRAPH_OUTPUT, or from whether stdout is
// a terminal.
func InitMode() {
	if env := os.Getenv(EnvMode); env != "" {
		SetMode(ParseMode(env))
		return
	}
	if !IsTerminal(os.Stdout) {
		SetMode(ModeMachine)
		return
	}
	SetMode(ModeRich)
}

// IsTerminal reports whether f is a terminal, Cygwin and MSYS included.
func IsTerminal(f *os.File) bool {
	if f == nil {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// IsInteractive reports whether a full-screen UI may be used.
func IsInteractive() bool {
	return GetMode() != ModeMachine && IsTerminal(os.Stdout) && IsTerminal(os.Stdin)
}
