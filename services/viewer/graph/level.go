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
	"fmt"

	"github.com/AleutianAI/livegraph/services/viewer/datatypes"
)

// DetailLevel selects graph granularity.
type DetailLevel int

const (
	// LevelFolders shows folders only.
	LevelFolders DetailLevel = 1

	// LevelFiles shows folders and files.
	LevelFiles DetailLevel = 2

	// LevelAll shows every node, including functions and other symbols.
	LevelAll DetailLevel = 3
)

// DefaultDetailLevel is the level a new session starts at.
const DefaultDetailLevel = LevelFiles

// ParseDetailLevel validates an integer detail level.
func ParseDetailLevel(n int) (DetailLevel, error) {
	if n < int(LevelFolders) || n > int(LevelAll) {
		return 0, fmt.Errorf("detail level %d out of range [%d,%d]", n, LevelFolders, LevelAll)
	}
	return DetailLevel(n), nil
}

// String returns "folders", "files" or "all".
func (l DetailLevel) String() string {
	switch l {
	case LevelFolders:
		return "folders"
	case LevelFiles:
		return "files"
	case LevelAll:
		return "all"
	default:
		return fmt.Sprintf("level(%d)", int(l))
	}
}

// Includes reports whether nodes of kind k are shown at this level.
// Levels outside the known range show everything.
func (l DetailLevel) Includes(k datatypes.NodeKind) bool {
	switch l {
	case LevelFolders:
		return k == datatypes.KindFolder
	case LevelFiles:
		return k == datatypes.KindFolder || k == datatypes.KindFile
	default:
		return true
	}
}

// Filter returns the subgraph visible at level l. Edges survive only when
// both endpoints survive. The input is not modified.
func Filter(g datatypes.Graph, l DetailLevel) datatypes.Graph {
	out := emptyGraph()
	keep := make(map[string]struct{}, len(g.Nodes))
	for _, n := range g.Nodes {
		if l.Includes(n.Kind) {
			keep[n.ID] = struct{}{}
			out.Nodes = append(out.Nodes, n)
		}
	}
	for _, e := range g.Edges {
		_, okS := keep[e.Source]
		_, okT := keep[e.Target]
		if okS && okT {
			out.Edges = append(out.Edges, e)
		}
	}
	return out
}
