// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package selection holds the one shared "selected entity" of a viewer
// session together with the current detail level.
//
// A Store is created per session and passed explicitly to every surface that
// needs it. Views read through Reader; the interaction controller and
// programmatic selection (file tree, HTTP API) write through Writer.
package selection

import (
	"sync"

	"github.com/AleutianAI/livegraph/services/viewer/datatypes"
	"github.com/AleutianAI/livegraph/services/viewer/graph"
)

// Selection is the selected entity.
type Selection struct {
	ID       string                  `json:"id"`
	Kind     datatypes.NodeKind      `json:"kind"`
	Name     string                  `json:"name"`
	Metadata *datatypes.NodeMetadata `json:"metadata,omitempty"`
}

// FromNode builds a Selection from a graph node.
func FromNode(n datatypes.GraphNode) Selection {
	return Selection{ID: n.ID, Kind: n.Kind, Name: n.Name, Metadata: n.Metadata.Clone()}
}

// State is what subscribers observe.
type State struct {
	// Selected is nil when nothing is selected.
	Selected *Selection       `json:"selected"`
	Level    graph.DetailLevel `json:"detail_level"`
}

// Reader is the read-only view of a Store.
type Reader interface {
	Current() (Selection, bool)
	DetailLevel() graph.DetailLevel
	Subscribe(fn func(State)) func()
}

// Writer mutates a Store.
type Writer interface {
	Select(s Selection)
	Clear()
	SetDetailLevel(l graph.DetailLevel)
}

// Store holds at most one selection.
//
// # Thread Safety
//
// Safe for concurrent use. Subscribers are called synchronously after the
// mutation, outside the lock, in registration order.
type Store struct {
	mu       sync.Mutex
	selected *Selection
	level    graph.DetailLevel
	subs     []subscriber
	nextID   int
}

type subscriber struct {
	id int
	fn func(State)
}

// NewStore returns an empty store at the default detail level.
func NewStore() *Store {
	return &Store{level: graph.DefaultDetailLevel}
}

// Select replaces the selection. Selecting the already-selected id with the
// same data notifies nobody.
func (s *Store) Select(sel Selection) {
	s.mu.Lock()
	if s.selected != nil && s.selected.ID == sel.ID && s.selected.Kind == sel.Kind && s.selected.Name == sel.Name &&
		s.selected.Metadata.Equal(sel.Metadata) {
		s.mu.Unlock()
		return
	}
	sel.Metadata = sel.Metadata.Clone()
	s.selected = &sel
	st := s.stateLocked()
	subs := s.subsLocked()
	s.mu.Unlock()
	notify(subs, st)
}

// Clear removes the selection.
func (s *Store) Clear() {
	s.mu.Lock()
	if s.selected == nil {
		s.mu.Unlock()
		return
	}
	s.selected = nil
	st := s.stateLocked()
	subs := s.subsLocked()
	s.mu.Unlock()
	notify(subs, st)
}

// SetDetailLevel changes the detail level.
func (s *Store) SetDetailLevel(l graph.DetailLevel) {
	s.mu.Lock()
	if s.level == l {
		s.mu.Unlock()
		return
	}
	s.level = l
	st := s.stateLocked()
	subs := s.subsLocked()
	s.mu.Unlock()
	notify(subs, st)
}

// Reset clears the selection without changing the detail level.
func (s *Store) Reset() {
	s.Clear()
}

// Current returns a copy of the selection.
func (s *Store) Current() (Selection, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.selected == nil {
		return Selection{}, false
	}
	out := *s.selected
	out.Metadata = out.Metadata.Clone()
	return out, true
}

// DetailLevel returns the current detail level.
func (s *Store) DetailLevel() graph.DetailLevel {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.level
}

// Snapshot returns the current state.
func (s *Store) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stateLocked()
}

// Subscribe registers fn and returns a function that unregisters it.
func (s *Store) Subscribe(fn func(State)) func() {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
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

func (s *Store) stateLocked() State {
	st := State{Level: s.level}
	if s.selected != nil {
		c := *s.selected
		c.Metadata = c.Metadata.Clone()
		st.Selected = &c
	}
	return st
}

func (s *Store) subsLocked() []func(State) {
	out := make([]func(State), len(s.subs))
	for i, sub := range s.subs {
		out[i] = sub.fn
	}
	return out
}

func notify(subs []func(State), st State) {
	for _, fn := range subs {
		fn(st)
	}
}
