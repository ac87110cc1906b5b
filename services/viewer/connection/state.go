// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package connection

import "fmt"

// Phase is the coarse connection state.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseConnecting
	PhaseOpen
	PhaseReconnecting
	PhaseClosed
	PhaseFailed
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseConnecting:
		return "connecting"
	case PhaseOpen:
		return "open"
	case PhaseReconnecting:
		return "reconnecting"
	case PhaseClosed:
		return "closed"
	case PhaseFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// State is one observable connection state.
type State struct {
	SessionID string
	Phase     Phase

	// Attempt counts consecutive failures. Zero while Open.
	Attempt int

	// Err is the cause of a Reconnecting or Failed state.
	Err error
}

// Terminal reports whether the manager will not dial again on its own.
func (s State) Terminal() bool {
	return s.Phase == PhaseClosed || s.Phase == PhaseFailed || s.Phase == PhaseIdle
}

func (s State) String() string {
	if s.Phase == PhaseReconnecting {
		return fmt.Sprintf("reconnecting(%d)", s.Attempt)
	}
	return s.Phase.String()
}
