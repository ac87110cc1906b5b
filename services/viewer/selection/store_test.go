// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package selection

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/livegraph/services/viewer/datatypes"
	"github.com/AleutianAI/livegraph/services/viewer/graph"
)

var (
	_ Reader = (*Store)(nil)
	_ Writer = (*Store)(nil)
)

func TestStore_SelectAndClear(t *testing.T) {
	s := NewStore()
	_, ok := s.Current()
	assert.False(t, ok)

	s.Select(FromNode(datatypes.GraphNode{
		ID: "src/a.py", Kind: datatypes.KindFile, Name: "a.py",
		Metadata: &datatypes.NodeMetadata{Hash: "h1", Size: 120},
	}))
	cur, ok := s.Current()
	require.True(t, ok)
	assert.Equal(t, "src/a.py", cur.ID)
	assert.Equal(t, datatypes.KindFile, cur.Kind)
	assert.Equal(t, "h1", cur.Metadata.Hash)

	// At most one selection: a second select replaces the first.
	s.Select(Selection{ID: "src", Kind: datatypes.KindFolder, Name: "src"})
	cur, _ = s.Current()
	assert.Equal(t, "src", cur.ID)

	s.Clear()
	_, ok = s.Current()
	assert.False(t, ok)
}

func TestStore_SubscribersSeeEveryChangeOnce(t *testing.T) {
	s := NewStore()
	var got []State
	unsubscribe := s.Subscribe(func(st State) { got = append(got, st) })

	sel := Selection{ID: "a", Kind: datatypes.KindFile, Name: "a"}
	s.Select(sel)
	s.Select(sel) // no-op
	s.SetDetailLevel(graph.LevelAll)
	s.SetDetailLevel(graph.LevelAll) // no-op
	s.Clear()
	s.Clear() // no-op

	require.Len(t, got, 3)
	assert.Equal(t, "a", got[0].Selected.ID)
	assert.Equal(t, graph.LevelAll, got[1].Level)
	assert.Nil(t, got[2].Selected)

	unsubscribe()
	s.Select(sel)
	assert.Len(t, got, 3)
}

func TestStore_CurrentReturnsCopy(t *testing.T) {
	s := NewStore()
	s.Select(Selection{ID: "a", Metadata: &datatypes.NodeMetadata{Hash: "h"}})

	cur, _ := s.Current()
	cur.Metadata.Hash = "changed"
	again, _ := s.Current()
	assert.Equal(t, "h", again.Metadata.Hash)
}

func TestStore_DefaultLevelAndReset(t *testing.T) {
	s := NewStore()
	assert.Equal(t, graph.DefaultDetailLevel, s.DetailLevel())

	s.SetDetailLevel(graph.LevelFolders)
	s.Select(Selection{ID: "a"})
	s.Reset()

	snap := s.Snapshot()
	assert.Nil(t, snap.Selected)
	assert.Equal(t, graph.LevelFolders, snap.Level)
}

func TestStore_ConcurrentWriters(t *testing.T) {
	s := NewStore()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			s.Select(Selection{ID: "x", Kind: datatypes.KindFile})
		}()
		go func() {
			defer wg.Done()
			s.Clear()
		}()
	}
	wg.Wait()

	// Whatever won, the state is whole: either nothing or the full selection.
	if cur, ok := s.Current(); ok {
		assert.Equal(t, "x", cur.ID)
		assert.Equal(t, datatypes.KindFile, cur.Kind)
	}
}
