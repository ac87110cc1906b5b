// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/livegraph/cmd/livegraph/config"
	"github.com/AleutianAI/livegraph/pkg/logging"
	"github.com/AleutianAI/livegraph/services/viewer/datatypes"
	"github.com/AleutianAI/livegraph/services/viewer/graph"
	"github.com/AleutianAI/livegraph/services/viewer/visualization"
)

type fakeBackend struct {
	snap     *datatypes.AnalysisSnapshot
	flat     *datatypes.FlatGraph
	graphErr error
	levels   []graph.DetailLevel
}

func (f *fakeBackend) Submit(context.Context, string, string) (*datatypes.SubmitResponse, error) {
	return &datatypes.SubmitResponse{ID: "abc123", Status: datatypes.StatusProcessing}, nil
}

func (f *fakeBackend) FetchSnapshot(context.Context, string) (*datatypes.AnalysisSnapshot, error) {
	return f.snap, nil
}

func (f *fakeBackend) FetchGraph(_ context.Context, _ string, level graph.DetailLevel) (*datatypes.FlatGraph, error) {
	f.levels = append(f.levels, level)
	return f.flat, f.graphErr
}

func (f *fakeBackend) FetchNode(context.Context, string, string) (*datatypes.NodeDetails, error) {
	return nil, errors.New("not used")
}

func (f *fakeBackend) StreamURL(id string) (string, error) { return "ws://localhost/ws/" + id, nil }

func exportIDs(t *testing.T, be *fakeBackend, level graph.DetailLevel) []string {
	t.Helper()
	cfg = config.DefaultConfig()
	cfg.Viewer.Level = int(level)

	out, err := exportGraph(context.Background(), be, "abc123", visualization.FormatD3, logging.Nop())
	require.NoError(t, err)

	var d3 visualization.D3Graph
	require.NoError(t, json.Unmarshal([]byte(out), &d3))
	ids := make([]string, 0, len(d3.Nodes))
	for _, n := range d3.Nodes {
		ids = append(ids, n.ID)
	}
	return ids
}

func structureSnapshot(st datatypes.AnalysisStatus) *datatypes.AnalysisSnapshot {
	return &datatypes.AnalysisSnapshot{
		Status: st,
		Structure: &datatypes.RepoStructure{
			Folders: map[string]datatypes.FolderNode{
				"src": {Files: []datatypes.FileEntry{{Path: "src/a.py"}}},
			},
		},
	}
}

func TestExportGraph_Processing(t *testing.T) {
	be := &fakeBackend{snap: structureSnapshot(datatypes.StatusProcessing)}
	ids := exportIDs(t, be, graph.LevelFiles)
	assert.ElementsMatch(t, []string{"src", "src/a.py"}, ids)
	assert.Empty(t, be.levels, "the full graph is fetched only once complete")
}

func TestExportGraph_CompletedAddsFullGraph(t *testing.T) {
	be := &fakeBackend{
		snap: structureSnapshot(datatypes.StatusCompleted),
		flat: &datatypes.FlatGraph{
			Nodes: []datatypes.WireNode{
				{ID: "src", Type: "folder", Name: "src"},
				{ID: "src/a.py", Type: "file", Name: "a.py"},
				{ID: "src/a.py/main", Type: "function", Name: "main"},
			},
			Edges: []datatypes.WireEdge{
				{Source: "src", Target: "src/a.py", Type: "contains"},
				{Source: "src/a.py", Target: "src/a.py/main", Type: "contains"},
			},
		},
	}

	assert.ElementsMatch(t, []string{"src", "src/a.py", "src/a.py/main"}, exportIDs(t, be, graph.LevelAll))
	assert.Equal(t, []graph.DetailLevel{graph.LevelAll}, be.levels)

	assert.ElementsMatch(t, []string{"src"}, exportIDs(t, be, graph.LevelFolders))
}

func TestExportGraph_FullGraphFailureKeepsStructure(t *testing.T) {
	be := &fakeBackend{
		snap:     structureSnapshot(datatypes.StatusCompleted),
		graphErr: errors.New("boom"),
	}
	assert.ElementsMatch(t, []string{"src", "src/a.py"}, exportIDs(t, be, graph.LevelAll))
}
