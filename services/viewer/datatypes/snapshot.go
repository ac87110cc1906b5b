// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

// =============================================================================
// Shared Validator Instance
// =============================================================================

var validate = validator.New()

// Validator returns the package validator, shared with request handlers.
func Validator() *validator.Validate {
	return validate
}

// =============================================================================
// Analysis Status
// =============================================================================

// AnalysisStatus is the lifecycle state of one backend analysis.
type AnalysisStatus string

const (
	StatusProcessing AnalysisStatus = "processing"
	StatusCompleted  AnalysisStatus = "completed"
	StatusError      AnalysisStatus = "error"
)

// Terminal reports whether no further snapshots are expected.
func (s AnalysisStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusError
}

// =============================================================================
// Nested Repository Structure
// =============================================================================

// FileEntry is one file of a repository structure. Path may be the full
// relative path ("src/a.py") or a bare name when listed inside a folder.
type FileEntry struct {
	Path string `json:"path" validate:"required"`
	Hash string `json:"hash,omitempty"`
	Size int64  `json:"size,omitempty" validate:"gte=0"`
}

// FolderNode is one level of the nested folder tree.
type FolderNode struct {
	Folders map[string]FolderNode `json:"folders,omitempty"`
	Files   []FileEntry           `json:"files,omitempty" validate:"dive"`
}

// RepoStructure is the nested, possibly partial, description of a
// repository as produced by the backend's scanner.
type RepoStructure struct {
	ID      string                `json:"id,omitempty"`
	Name    string                `json:"name,omitempty"`
	URL     string                `json:"url,omitempty"`
	Branch  string                `json:"branch,omitempty"`
	Folders map[string]FolderNode `json:"folders,omitempty"`
	Files   []FileEntry           `json:"files,omitempty" validate:"dive"`
}

// =============================================================================
// Flat Wire Graph
// =============================================================================

// WireNode is a node in the backend's flat graph format.
type WireNode struct {
	ID   string         `json:"id" validate:"required"`
	Type string         `json:"type"`
	Name string         `json:"name"`
	Data map[string]any `json:"data,omitempty"`
}

// WireEdge is an edge in the backend's flat graph format.
type WireEdge struct {
	Source string `json:"source" validate:"required"`
	Target string `json:"target" validate:"required"`
	Type   string `json:"type"`
}

// FlatGraph is the backend's flat node/edge payload.
type FlatGraph struct {
	Nodes []WireNode `json:"nodes" validate:"dive"`
	Edges []WireEdge `json:"edges" validate:"dive"`
}

// Metadata extracts the known descriptive keys of a wire node's data map.
// Unknown keys are kept in Extra.
func (n WireNode) Metadata() *NodeMetadata {
	if len(n.Data) == 0 {
		return nil
	}
	m := &NodeMetadata{}
	for k, v := range n.Data {
		switch k {
		case "path":
			m.Path = asString(v)
		case "hash":
			m.Hash = asString(v)
		case "size":
			m.Size = int64(asFloat(v))
		case "summary":
			m.Summary = asString(v)
		case "language":
			m.Language = asString(v)
		case "start_line":
			m.StartLine = int(asFloat(v))
		case "end_line":
			m.EndLine = int(asFloat(v))
		case "start_point":
			m.StartLine = pointRow(v)
		case "end_point":
			m.EndLine = pointRow(v)
		default:
			if m.Extra == nil {
				m.Extra = make(map[string]any)
			}
			m.Extra[k] = v
		}
	}
	return m
}

func asString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case nil:
		return ""
	default:
		return fmt.Sprint(t)
	}
}

func asFloat(v any) float64 {
	switch t := v.(type) {
	case float64:
		return t
	case int:
		return float64(t)
	case int64:
		return float64(t)
	default:
		return 0
	}
}

// pointRow reads a syntax-tree point [row, column] as a 1-based line.
func pointRow(v any) int {
	if pt, ok := v.([]any); ok && len(pt) > 0 {
		return int(asFloat(pt[0])) + 1
	}
	return 0
}

// =============================================================================
// Analysis Snapshot
// =============================================================================

// AnalysisSnapshot is a complete description of analysis state at one point
// in time. A snapshot is never mutated after it is decoded.
type AnalysisSnapshot struct {
	Status      AnalysisStatus `json:"status" validate:"required,oneof=processing completed error"`
	Progress    float64        `json:"progress" validate:"gte=0,lte=100"`
	Message     string         `json:"message,omitempty"`
	CurrentFile string         `json:"current_file,omitempty"`
	Structure   *RepoStructure `json:"structure,omitempty"`
	Graph       *FlatGraph     `json:"graph,omitempty"`
	Error       string         `json:"error,omitempty"`
}

// Validate checks field constraints. Invalid snapshots are protocol errors.
func (s *AnalysisSnapshot) Validate() error {
	if err := validate.Struct(s); err != nil {
		return fmt.Errorf("invalid snapshot: %w", err)
	}
	return nil
}

// HasGraphData reports whether the snapshot carries a structure or a graph.
func (s *AnalysisSnapshot) HasGraphData() bool {
	return s.Structure != nil || s.Graph != nil
}

// =============================================================================
// Backend Request / Response Types
// =============================================================================

// SubmitRequest is the body of POST /api/repo.
type SubmitRequest struct {
	URL    string `json:"url" validate:"required,url"`
	Branch string `json:"branch,omitempty"`
}

// SubmitResponse is the response of POST /api/repo.
type SubmitResponse struct {
	ID     string         `json:"id"`
	Status AnalysisStatus `json:"status"`
}

// NodeDetails is the response of GET /api/repo/{id}/node/{node_id}.
type NodeDetails struct {
	ID    string         `json:"id"`
	Type  string         `json:"type"`
	Name  string         `json:"name"`
	Data  map[string]any `json:"data,omitempty"`
	Edges []WireEdge     `json:"edges,omitempty"`
}
