// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package connection manages the streaming subscription to one analysis.
//
// A Manager owns at most one live websocket subscription. It decodes every
// pushed message into an AnalysisSnapshot and delivers it in receive order.
// Abnormal closures are retried with exponential backoff until MaxAttempts
// consecutive failures, after which the manager enters the terminal Failed
// phase. A closure requested by the caller, or a normal closure sent by the
// server, never reconnects.
//
// State machine:
//
//	Idle -> Connecting -> Open -> Closed
//	                       |
//	                       v
//	             Reconnecting(n) -> Connecting ... -> Failed
package connection

import "errors"

var (
	// ErrRetriesExhausted means MaxAttempts consecutive connection attempts
	// failed. Terminal until the caller opens again.
	ErrRetriesExhausted = errors.New("connection retries exhausted")

	// ErrEmptySessionID is returned by Open for an empty session id.
	ErrEmptySessionID = errors.New("session id must not be empty")

	// ErrProtocol wraps messages that could not be decoded or validated.
	ErrProtocol = errors.New("malformed stream message")
)
