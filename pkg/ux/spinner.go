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
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
)

// spinnerStyle shares its frames with the full-screen viewer.
var spinnerStyle = spinner.MiniDot

// Spinner shows a one-line task indicator with the time spent so far. In
// ModeMachine it prints a single PROGRESS line instead of animating.
//
// # Thread Safety
//
// Safe for concurrent use.
type Spinner struct {
	mu      sync.Mutex
	message string
	started time.Time
	quit    chan struct{}
	done    chan struct{}
}

// NewSpinner creates a stopped spinner.
func NewSpinner(message string) *Spinner {
	return &Spinner{message: message}
}

// Start begins the indicator. Calling Start on a running spinner is a no-op.
func (s *Spinner) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started.IsZero() {
		return
	}
	s.started = time.Now()
	if GetMode() == ModeMachine {
		printOut("PROGRESS: %s\n", s.message)
		return
	}
	s.quit = make(chan struct{})
	s.done = make(chan struct{})
	go s.animate(s.quit, s.done)
}

func (s *Spinner) animate(quit, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(spinnerStyle.FPS)
	defer ticker.Stop()
	for frame := 0; ; frame++ {
		select {
		case <-quit:
			printOut("\r\033[K")
			return
		case <-ticker.C:
			s.mu.Lock()
			msg, elapsed := s.message, time.Since(s.started)
			s.mu.Unlock()
			glyph := spinnerStyle.Frames[frame%len(spinnerStyle.Frames)]
			printOut("\r\033[K%s %s %s", Styles.Highlight.Render(glyph), msg,
				Styles.Muted.Render(formatElapsed(elapsed)))
		}
	}
}

// Update replaces the message shown next to the indicator.
func (s *Spinner) Update(message string) {
	s.mu.Lock()
	s.message = message
	s.mu.Unlock()
}

// Stop clears the line and returns how long the spinner ran. Stopping a
// stopped spinner returns zero.
func (s *Spinner) Stop() time.Duration {
	s.mu.Lock()
	if s.started.IsZero() {
		s.mu.Unlock()
		return 0
	}
	elapsed := time.Since(s.started)
	s.started = time.Time{}
	quit, done := s.quit, s.done
	s.quit, s.done = nil, nil
	s.mu.Unlock()

	if quit != nil {
		close(quit)
		<-done
	}
	return elapsed
}

// WithSpinner runs fn behind a spinner and prints its outcome, with the
// elapsed time outside ModeMachine.
func WithSpinner(message string, fn func() error) error {
	spin := NewSpinner(message)
	spin.Start()
	err := fn()
	elapsed := spin.Stop()

	line := message
	if GetMode() != ModeMachine {
		line += " " + Styles.Muted.Render(formatElapsed(elapsed))
	}
	if err != nil {
		Error(fmt.Sprintf("%s: %v", line, err))
		return err
	}
	Success(line)
	return nil
}

func formatElapsed(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("(%dms)", d.Milliseconds())
	}
	return fmt.Sprintf("(%.1fs)", d.Seconds())
}
