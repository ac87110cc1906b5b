// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package clock provides the time source used by every timed loop in the
// viewer: reconnect backoff, snapshot polling and the layout tick loop.
//
// Production code uses Real. Tests use Manual, which only moves when Advance
// is called, so backoff schedules and poll intervals can be stepped through
// deterministically.
package clock

import (
	"sort"
	"sync"
	"time"
)

// Clock abstracts the wall clock.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// After returns a channel that receives the current time once d has
	// elapsed. The channel is buffered; a receiver that stops listening does
	// not leak the sender.
	After(d time.Duration) <-chan time.Time
}

// Real is the wall clock.
type Real struct{}

// Now returns time.Now().
func (Real) Now() time.Time { return time.Now() }

// After returns time.After(d).
func (Real) After(d time.Duration) <-chan time.Time { return time.After(d) }

// =============================================================================
// Manual Clock
// =============================================================================

type waiter struct {
	deadline time.Time
	ch       chan time.Time
}

// Manual is a Clock that only advances when told to.
//
// # Example
//
//	clk := clock.NewManual(time.Unix(0, 0))
//	go mgr.Open(ctx, "abc123")
//	clk.BlockUntil(1)              // reconnect loop is now waiting
//	clk.Advance(2 * time.Second)   // fire the backoff timer
type Manual struct {
	mu      sync.Mutex
	now     time.Time
	waiters []waiter
	cond    *sync.Cond
}

// NewManual returns a Manual clock set to start.
func NewManual(start time.Time) *Manual {
	m := &Manual{now: start}
	m.cond = sync.NewCond(&m.mu)
	return m
}

// Now returns the manual time.
func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// After registers a waiter that fires once the clock reaches now+d.
// A non-positive d fires immediately.
func (m *Manual) After(d time.Duration) <-chan time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()

	ch := make(chan time.Time, 1)
	if d <= 0 {
		ch <- m.now
		return ch
	}
	m.waiters = append(m.waiters, waiter{deadline: m.now.Add(d), ch: ch})
	m.cond.Broadcast()
	return ch
}

// Advance moves the clock forward by d and fires every waiter whose
// deadline has been reached, earliest first.
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.now = m.now.Add(d)
	sort.SliceStable(m.waiters, func(i, j int) bool {
		return m.waiters[i].deadline.Before(m.waiters[j].deadline)
	})
	remaining := m.waiters[:0]
	for _, w := range m.waiters {
		if !w.deadline.After(m.now) {
			w.ch <- m.now
			continue
		}
		remaining = append(remaining, w)
	}
	m.waiters = remaining
}

// Waiters returns the number of pending After calls.
func (m *Manual) Waiters() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.waiters)
}

// BlockUntil blocks until at least n After calls are pending.
func (m *Manual) BlockUntil(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for len(m.waiters) < n {
		m.cond.Wait()
	}
}
