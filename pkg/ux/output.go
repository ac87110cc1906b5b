// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package ux provides styled line output for the livegraph CLI when the
// full-screen viewer is not in use.
package ux

import (
	"fmt"
	"io"
	"math"
	"os"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"
)

// Palette, matching the node colors of the viewer.
var (
	ColorFolder   = lipgloss.Color("#f6b93b")
	ColorFile     = lipgloss.Color("#74b9ff")
	ColorFunction = lipgloss.Color("#10ac84")
	ColorAccent   = lipgloss.Color("#7D56F4")

	ColorSuccess = lipgloss.Color("#10ac84")
	ColorWarning = lipgloss.Color("#F4D03F")
	ColorError   = lipgloss.Color("#E74C3C")
	ColorMuted   = lipgloss.Color("#636e72")
)

// Styles provides pre-configured lipgloss styles
var Styles = struct {
	Title     lipgloss.Style
	Bold      lipgloss.Style
	Muted     lipgloss.Style
	Success   lipgloss.Style
	Warning   lipgloss.Style
	Error     lipgloss.Style
	Highlight lipgloss.Style
	Key       lipgloss.Style
	Box       lipgloss.Style
}{
	Title:     lipgloss.NewStyle().Bold(true).Foreground(ColorAccent),
	Bold:      lipgloss.NewStyle().Bold(true),
	Muted:     lipgloss.NewStyle().Foreground(ColorMuted),
	Success:   lipgloss.NewStyle().Foreground(ColorSuccess),
	Warning:   lipgloss.NewStyle().Foreground(ColorWarning),
	Error:     lipgloss.NewStyle().Foreground(ColorError),
	Highlight: lipgloss.NewStyle().Foreground(ColorFile).Bold(true),
	Key:       lipgloss.NewStyle().Foreground(ColorMuted).Width(12),
	Box: lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorAccent).
		Padding(0, 1),
}

// Icon is a status icon.
type Icon string

const (
	IconSuccess Icon = "✓"
	IconWarning Icon = "⚠"
	IconError   Icon = "✗"
	IconPending Icon = "○"
	IconArrow   Icon = "→"
	IconBullet  Icon = "•"
)

// Render returns the icon with appropriate styling
func (i Icon) Render() string {
	switch i {
	case IconSuccess:
		return Styles.Success.Render(string(i))
	case IconWarning:
		return Styles.Warning.Render(string(i))
	case IconError:
		return Styles.Error.Render(string(i))
	case IconPending:
		return Styles.Muted.Render(string(i))
	default:
		return string(i)
	}
}

// ===== Writers =====

var (
	outMu  sync.Mutex
	stdout io.Writer = os.Stdout
	stderr io.Writer = os.Stderr
)

// SetOutput redirects output, for tests. It returns a func restoring the
// previous writers.
func SetOutput(out, errOut io.Writer) func() {
	outMu.Lock()
	defer outMu.Unlock()
	prevOut, prevErr := stdout, stderr
	stdout, stderr = out, errOut
	return func() {
		outMu.Lock()
		defer outMu.Unlock()
		stdout, stderr = prevOut, prevErr
	}
}

func printOut(format string, args ...any) {
	outMu.Lock()
	defer outMu.Unlock()
	fmt.Fprintf(stdout, format, args...)
}

func printErr(format string, args ...any) {
	outMu.Lock()
	defer outMu.Unlock()
	fmt.Fprintf(stderr, format, args...)
}

// ===== Lines =====

// Title prints a styled title
func Title(text string) {
	if GetMode() == ModeMachine {
		return
	}
	printOut("%s\n", Styles.Title.Render(text))
}

// Success prints a success message with checkmark
func Success(text string) {
	switch GetMode() {
	case ModeMachine:
		printOut("OK: %s\n", text)
	case ModeMinimal:
		printOut("%s %s\n", IconSuccess.Render(), text)
	default:
		printOut("%s %s\n", IconSuccess.Render(), Styles.Success.Render(text))
	}
}

// Warning prints a warning message
func Warning(text string) {
	switch GetMode() {
	case ModeMachine:
		printErr("WARN: %s\n", text)
	case ModeMinimal:
		printOut("%s %s\n", IconWarning.Render(), text)
	default:
		printOut("%s %s\n", IconWarning.Render(), Styles.Warning.Render(text))
	}
}

// Error prints an error message
func Error(text string) {
	switch GetMode() {
	case ModeMachine:
		printErr("ERROR: %s\n", text)
	case ModeMinimal:
		printOut("%s %s\n", IconError.Render(), text)
	default:
		printOut("%s %s\n", IconError.Render(), Styles.Error.Render(text))
	}
}

// Info prints an informational message
func Info(text string) {
	if GetMode() == ModeMachine {
		printOut("%s\n", text)
		return
	}
	printOut("%s %s\n", Styles.Muted.Render("│"), text)
}

// KeyValue prints one aligned field.
func KeyValue(key string, value any) {
	if GetMode() == ModeMachine {
		printOut("%s=%v\n", key, value)
		return
	}
	printOut("  %s%v\n", Styles.Key.Render(key), value)
}

// Box prints text in a rounded box
func Box(title, content string) {
	if GetMode() == ModeMachine {
		printOut("%s: %s\n", title, content)
		return
	}
	printOut("%s\n", Styles.Box.Width(60).Render(Styles.Title.Render(title)+"\n"+content))
}

// Progress prints one analysis progress line.
//
// # Inputs
//
//   - pct: Percent complete, clamped to [0, 100].
//   - message: Backend status message. May be empty.
//   - file: File being analyzed. May be empty.
func Progress(pct float64, message, file string) {
	pct = math.Max(0, math.Min(100, pct))
	if GetMode() == ModeMachine {
		parts := []string{fmt.Sprintf("PROGRESS: %.0f", pct)}
		if message != "" {
			parts = append(parts, message)
		}
		if file != "" {
			parts = append(parts, file)
		}
		printOut("%s\n", strings.Join(parts, " "))
		return
	}
	line := ProgressBar(pct, 24)
	if message != "" {
		line += " " + message
	}
	if file != "" {
		line += " " + Styles.Muted.Render(file)
	}
	printOut("%s\n", line)
}

// ProgressBar renders a progress bar for a percentage.
func ProgressBar(pct float64, width int) string {
	pct = math.Max(0, math.Min(100, pct))
	if GetMode() == ModeMachine {
		return fmt.Sprintf("%.0f%%", pct)
	}
	filled := int(pct / 100 * float64(width))
	bar := Styles.Success.Render(strings.Repeat("█", filled)) +
		Styles.Muted.Render(strings.Repeat("░", max(width-filled, 0)))
	return fmt.Sprintf("%s %3.0f%%", bar, pct)
}
