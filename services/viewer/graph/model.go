// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package graph

import (
	"context"
	"sync"
	"time"

	"github.com/AleutianAI/livegraph/pkg/logging"
	"github.com/AleutianAI/livegraph/services/viewer/datatypes"
)

// Model accumulates the graph of one analysis session.
//
// # Description
//
// Each applied snapshot is collected with the pure builders and merged into
// the model: unknown ids are appended in first-seen order, known ids keep
// their kind and have their metadata enriched, and edges are kept even when
// an endpoint is missing so that they appear once it materializes.
//
// # Thread Safety
//
// Safe for concurrent use.
type Model struct {
	mu      sync.RWMutex
	logger  *logging.Logger
	nodes   []datatypes.GraphNode
	index   map[string]int
	edges   []datatypes.GraphEdge
	edgeSet map[string]struct{}
	version uint64
}

// NewModel creates an empty model. A nil logger discards output.
func NewModel(logger *logging.Logger) *Model {
	if logger == nil {
		logger = logging.Nop()
	}
	m := &Model{logger: logger}
	m.resetLocked()
	return m
}

// ApplyResult summarizes one Apply call.
type ApplyResult struct {
	// Added is the number of nodes seen for the first time.
	Added int

	// Enriched is the number of known nodes whose metadata changed.
	Enriched int

	// Conflicts is the number of nodes whose kind disagreed with the model.
	Conflicts int

	// Changed reports whether the renderable node or edge set changed.
	Changed bool
}

// Apply merges one snapshot into the model.
//
// # Inputs
//
//   - ctx: Carries the trace span.
//   - snap: Snapshot to merge. Must not be nil.
//
// # Outputs
//
//   - ApplyResult: What changed.
//   - error: ErrNilSnapshot only. Kind conflicts are logged, not returned.
func (m *Model) Apply(ctx context.Context, snap *datatypes.AnalysisSnapshot) (ApplyResult, error) {
	if snap == nil {
		return ApplyResult{}, ErrNilSnapshot
	}
	ctx, span := startApplySpan(ctx, string(snap.Status))
	defer span.End()
	start := time.Now()

	var c collected
	if snap.Structure != nil {
		c = appendCollected(c, collectStructure(snap.Structure))
	}
	if snap.Graph != nil {
		c = appendCollected(c, collectFlat(snap.Graph))
	}
	res := m.merge(c)

	nodes, edges, pending := m.counts()
	setApplySpanResult(span, nodes, edges, pending)
	recordApplyMetrics(ctx, time.Since(start), nodes, pending, res.Conflicts)
	return res, nil
}

// ApplyGraph merges an already-built graph, such as one fetched from the
// graph endpoint, into the model.
func (m *Model) ApplyGraph(g datatypes.Graph) ApplyResult {
	return m.merge(collected{nodes: g.Nodes, edges: g.Edges})
}

func appendCollected(a, b collected) collected {
	a.nodes = append(a.nodes, b.nodes...)
	a.edges = append(a.edges, b.edges...)
	return a
}

func (m *Model) merge(c collected) ApplyResult {
	m.mu.Lock()
	defer m.mu.Unlock()

	var res ApplyResult
	for _, n := range c.nodes {
		i, ok := m.index[n.ID]
		if !ok {
			n.Metadata = n.Metadata.Clone()
			m.index[n.ID] = len(m.nodes)
			m.nodes = append(m.nodes, n)
			res.Added++
			continue
		}
		existing := &m.nodes[i]
		if existing.Kind != n.Kind {
			res.Conflicts++
			m.logger.Warn("ignoring kind change for existing node",
				"node_id", n.ID,
				"kind", existing.Kind,
				"incoming_kind", n.Kind,
				"error", ErrKindConflict,
			)
		}
		if !n.Metadata.IsZero() {
			merged := existing.Metadata.Merge(n.Metadata)
			if !merged.Equal(existing.Metadata) {
				existing.Metadata = merged
				res.Enriched++
			}
		}
		if n.Name != "" && existing.Name == "" {
			existing.Name = n.Name
		}
	}

	addedEdges := 0
	for _, e := range c.edges {
		if _, dup := m.edgeSet[e.Key()]; dup {
			continue
		}
		m.edgeSet[e.Key()] = struct{}{}
		m.edges = append(m.edges, e)
		addedEdges++
	}

	res.Changed = res.Added > 0 || addedEdges > 0
	if res.Changed || res.Enriched > 0 {
		m.version++
	}
	return res
}

// Graph returns the renderable graph at the given level: every node visible
// at that level and every edge whose endpoints both exist and are visible.
func (m *Model) Graph(level DetailLevel) datatypes.Graph {
	m.mu.RLock()
	defer m.mu.RUnlock()

	g := emptyGraph()
	for _, n := range m.nodes {
		n.Metadata = n.Metadata.Clone()
		g.Nodes = append(g.Nodes, n)
	}
	for _, e := range m.edges {
		if m.resolvedLocked(e) {
			g.Edges = append(g.Edges, e)
		}
	}
	return Filter(g, level)
}

// Node returns one node by id.
func (m *Model) Node(id string) (datatypes.GraphNode, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	i, ok := m.index[id]
	if !ok {
		return datatypes.GraphNode{}, false
	}
	n := m.nodes[i]
	n.Metadata = n.Metadata.Clone()
	return n, true
}

// Version increments whenever the model changes.
func (m *Model) Version() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.version
}

// Reset discards every node and edge. Used on session change.
func (m *Model) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resetLocked()
	m.version++
}

func (m *Model) resetLocked() {
	m.nodes = nil
	m.index = make(map[string]int)
	m.edges = nil
	m.edgeSet = make(map[string]struct{})
}

func (m *Model) resolvedLocked(e datatypes.GraphEdge) bool {
	_, okS := m.index[e.Source]
	_, okT := m.index[e.Target]
	return okS && okT
}

// counts returns node count, resolved edge count and pending edge count.
func (m *Model) counts() (int, int, int) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	resolved := 0
	for _, e := range m.edges {
		if m.resolvedLocked(e) {
			resolved++
		}
	}
	return len(m.nodes), resolved, len(m.edges) - resolved
}
