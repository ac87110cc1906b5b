// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package datatypes provides the data structures shared by the live graph
// viewer: renderable graph nodes and edges, analysis snapshots as delivered by
// the analysis backend, and the request/response bodies of its HTTP API.
package datatypes

import (
	"reflect"
	"strings"
)

// =============================================================================
// Node and Edge Kinds
// =============================================================================

// NodeKind classifies a graph node.
type NodeKind string

const (
	KindFolder   NodeKind = "folder"
	KindFile     NodeKind = "file"
	KindFunction NodeKind = "function"
	KindOther    NodeKind = "other"
)

// ParseNodeKind maps a backend node "type" to a NodeKind.
//
// The backend emits "repository", "folder", "file" and raw syntax node types
// such as "function_definition" or "class_definition". Anything that is not a
// folder, file, or function is KindOther.
func ParseNodeKind(wire string) NodeKind {
	switch strings.ToLower(wire) {
	case "folder", "directory", "dir":
		return KindFolder
	case "file":
		return KindFile
	case "function", "method", "function_definition", "method_definition", "function_declaration", "method_declaration":
		return KindFunction
	default:
		return KindOther
	}
}

// Rank orders kinds for display: folders first, then files, functions, other.
func (k NodeKind) Rank() int {
	switch k {
	case KindFolder:
		return 0
	case KindFile:
		return 1
	case KindFunction:
		return 2
	default:
		return 3
	}
}

// EdgeKind classifies a graph edge.
type EdgeKind string

const (
	EdgeContains   EdgeKind = "contains"
	EdgeImports    EdgeKind = "imports"
	EdgeReferences EdgeKind = "references"
)

// ParseEdgeKind maps a backend edge "type" to an EdgeKind. Unknown types,
// including the backend's "related" default, become EdgeReferences.
func ParseEdgeKind(wire string) EdgeKind {
	switch strings.ToLower(wire) {
	case "contains":
		return EdgeContains
	case "imports", "import":
		return EdgeImports
	default:
		return EdgeReferences
	}
}

// =============================================================================
// Graph Types
// =============================================================================

// NodeMetadata carries optional descriptive data for a node.
//
// Fields are enriched over time: a node first seen in a nested structure has
// only path, hash and size; a later flat graph may add summary and line range.
type NodeMetadata struct {
	Path      string         `json:"path,omitempty"`
	Hash      string         `json:"hash,omitempty"`
	Size      int64          `json:"size,omitempty"`
	Summary   string         `json:"summary,omitempty"`
	Language  string         `json:"language,omitempty"`
	StartLine int            `json:"start_line,omitempty"`
	EndLine   int            `json:"end_line,omitempty"`
	Extra     map[string]any `json:"extra,omitempty"`
}

// IsZero reports whether m carries no data.
func (m *NodeMetadata) IsZero() bool {
	return m == nil || (m.Path == "" && m.Hash == "" && m.Size == 0 && m.Summary == "" &&
		m.Language == "" && m.StartLine == 0 && m.EndLine == 0 && len(m.Extra) == 0)
}

// Equal reports whether m and o carry the same data. Nil equals empty.
func (m *NodeMetadata) Equal(o *NodeMetadata) bool {
	if m.IsZero() || o.IsZero() {
		return m.IsZero() == o.IsZero()
	}
	if (len(m.Extra) != 0 || len(o.Extra) != 0) && !reflect.DeepEqual(m.Extra, o.Extra) {
		return false
	}
	return m.Path == o.Path && m.Hash == o.Hash && m.Size == o.Size && m.Summary == o.Summary &&
		m.Language == o.Language && m.StartLine == o.StartLine && m.EndLine == o.EndLine
}

// Clone returns a deep copy of m. Clone of nil is nil.
func (m *NodeMetadata) Clone() *NodeMetadata {
	if m == nil {
		return nil
	}
	c := *m
	if m.Extra != nil {
		c.Extra = make(map[string]any, len(m.Extra))
		for k, v := range m.Extra {
			c.Extra[k] = v
		}
	}
	return &c
}

// Merge returns a copy of m with every non-empty field of other applied on
// top. Neither input is modified.
func (m *NodeMetadata) Merge(other *NodeMetadata) *NodeMetadata {
	if other.IsZero() {
		return m.Clone()
	}
	out := m.Clone()
	if out == nil {
		out = &NodeMetadata{}
	}
	if other.Path != "" {
		out.Path = other.Path
	}
	if other.Hash != "" {
		out.Hash = other.Hash
	}
	if other.Size != 0 {
		out.Size = other.Size
	}
	if other.Summary != "" {
		out.Summary = other.Summary
	}
	if other.Language != "" {
		out.Language = other.Language
	}
	if other.StartLine != 0 {
		out.StartLine = other.StartLine
	}
	if other.EndLine != 0 {
		out.EndLine = other.EndLine
	}
	for k, v := range other.Extra {
		if out.Extra == nil {
			out.Extra = make(map[string]any, len(other.Extra))
		}
		out.Extra[k] = v
	}
	return out
}

// GraphNode is a renderable node. ID is unique within a graph and stable
// across snapshots of the same analysis.
type GraphNode struct {
	ID       string        `json:"id"`
	Kind     NodeKind      `json:"kind"`
	Name     string        `json:"name"`
	Metadata *NodeMetadata `json:"metadata,omitempty"`
}

// GraphEdge is a directed edge between two node ids.
type GraphEdge struct {
	Source string   `json:"source"`
	Target string   `json:"target"`
	Kind   EdgeKind `json:"kind"`
}

// Key returns a string identifying the edge, used for de-duplication.
func (e GraphEdge) Key() string {
	return e.Source + "\x00" + e.Target + "\x00" + string(e.Kind)
}

// Graph is a flat, renderer-ready graph. Every edge endpoint resolves to a
// node in Nodes.
type Graph struct {
	Nodes []GraphNode `json:"nodes"`
	Edges []GraphEdge `json:"edges"`
}

// NodeByID returns the node with the given id.
func (g Graph) NodeByID(id string) (GraphNode, bool) {
	for _, n := range g.Nodes {
		if n.ID == id {
			return n, true
		}
	}
	return GraphNode{}, false
}

// Len returns the number of nodes.
func (g Graph) Len() int {
	return len(g.Nodes)
}
