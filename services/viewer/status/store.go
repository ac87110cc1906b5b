// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package status holds the latest known state of one repository analysis.
//
// Snapshots arrive from two independent sources: push messages from the
// streaming connection and responses to periodic polling. The Store
// reconciles them with logical stamps: a push is stamped when it arrives, a
// poll when its request is issued. A snapshot is applied only if its stamp is
// not older than the held one, so a poll that was in flight when a push
// arrived can never overwrite the push.
package status

import (
	"errors"
	"sync"

	"github.com/AleutianAI/livegraph/services/viewer/datatypes"
)

// Sentinel errors for the status store.
var (
	// ErrAnalysisNotFound means the backend no longer knows the session.
	// Terminal: polling and reconnection stop.
	ErrAnalysisNotFound = errors.New("analysis no longer available")

	// ErrPollRetriesExhausted means polling failed too many times in a row.
	ErrPollRetriesExhausted = errors.New("status polling retries exhausted")

	// ErrNoSession is returned when applying to a store with no session.
	ErrNoSession = errors.New("no active session")
)

// Source identifies where a snapshot came from.
type Source string

const (
	SourcePush Source = "push"
	SourcePoll Source = "poll"
)

// Stamp is a logical timestamp issued by a Store. Larger is newer.
type Stamp uint64

// View is what subscribers observe.
type View struct {
	SessionID string                      `json:"session_id"`
	Snapshot  *datatypes.AnalysisSnapshot `json:"snapshot,omitempty"`
	Stamp     Stamp                       `json:"stamp"`
	Source    Source                      `json:"source,omitempty"`

	// Err is a terminal error for the session; nil while healthy.
	Err error `json:"-"`
}

// Processing reports whether the analysis is known to be still running, or
// has not reported yet.
func (v View) Processing() bool {
	if v.Err != nil {
		return false
	}
	return v.Snapshot == nil || v.Snapshot.Status == datatypes.StatusProcessing
}

// Outcome is the result of one Apply call.
type Outcome string

const (
	Applied        Outcome = "applied"
	RejectedStale  Outcome = "stale"
	RejectedOther  Outcome = "other_session"
	RejectedFailed Outcome = "session_failed"
)

// Store is the single source of truth for the analysis state of the active
// session.
//
// # Thread Safety
//
// Safe for concurrent use. Every mutation is atomic; subscribers run after
// the lock is released, in registration order.
type Store struct {
	mu      sync.Mutex
	clock   Stamp
	view    View
	subs    []subscriber
	nextSub int
}

type subscriber struct {
	id int
	fn func(View)
}

// NewStore returns a store with no session.
func NewStore() *Store {
	return &Store{}
}

// Stamp issues the next logical timestamp. Call it when a push message
// arrives or when a poll request is issued.
func (s *Store) Stamp() Stamp {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clock++
	return s.clock
}

// Reset starts a new session. The held snapshot and error are dropped.
func (s *Store) Reset(sessionID string) {
	s.mu.Lock()
	s.view = View{SessionID: sessionID}
	v := s.view
	subs := s.subsLocked()
	s.mu.Unlock()
	notify(subs, v)
}

// Apply offers a snapshot for the given session.
//
// # Description
//
// The snapshot replaces the held one if and only if the session matches,
// the session has not failed, and stamp is not older than the held stamp.
//
// # Inputs
//
//   - sessionID: Session the snapshot belongs to.
//   - snap: Snapshot. Must not be nil; it is not copied and must not be
//     modified afterwards.
//   - src: Where it came from.
//   - stamp: From Stamp(), taken at push arrival or poll issue time.
//
// # Outputs
//
//   - Outcome: Applied or the reason for rejection.
func (s *Store) Apply(sessionID string, snap *datatypes.AnalysisSnapshot, src Source, stamp Stamp) Outcome {
	s.mu.Lock()
	switch {
	case sessionID == "" || sessionID != s.view.SessionID:
		s.mu.Unlock()
		return RejectedOther
	case s.view.Err != nil:
		s.mu.Unlock()
		return RejectedFailed
	case s.view.Snapshot != nil && stamp < s.view.Stamp:
		s.mu.Unlock()
		return RejectedStale
	}
	s.view.Snapshot = snap
	s.view.Stamp = stamp
	s.view.Source = src
	v := s.view
	subs := s.subsLocked()
	s.mu.Unlock()

	notify(subs, v)
	return Applied
}

// Fail records a terminal error for the session. The first error wins.
func (s *Store) Fail(sessionID string, err error) bool {
	s.mu.Lock()
	if sessionID != s.view.SessionID || s.view.Err != nil || err == nil {
		s.mu.Unlock()
		return false
	}
	s.view.Err = err
	v := s.view
	subs := s.subsLocked()
	s.mu.Unlock()

	notify(subs, v)
	return true
}

// View returns the current view.
func (s *Store) View() View {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view
}

// Subscribe registers fn and returns a function that unregisters it.
func (s *Store) Subscribe(fn func(View)) func() {
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs = append(s.subs, subscriber{id: id, fn: fn})
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		for i, sub := range s.subs {
			if sub.id == id {
				s.subs = append(s.subs[:i:i], s.subs[i+1:]...)
				return
			}
		}
	}
}

func (s *Store) subsLocked() []func(View) {
	out := make([]func(View), len(s.subs))
	for i, sub := range s.subs {
		out[i] = sub.fn
	}
	return out
}

func notify(subs []func(View), v View) {
	for _, fn := range subs {
		fn(v)
	}
}
