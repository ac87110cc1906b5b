// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package layout

import (
	"context"
	"math"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/livegraph/services/viewer/clock"
	"github.com/AleutianAI/livegraph/services/viewer/datatypes"
)

func srcGraph(files ...string) datatypes.Graph {
	g := datatypes.Graph{
		Nodes: []datatypes.GraphNode{{ID: "src", Kind: datatypes.KindFolder, Name: "src"}},
	}
	for _, f := range files {
		g.Nodes = append(g.Nodes, datatypes.GraphNode{ID: "src/" + f, Kind: datatypes.KindFile, Name: f})
		g.Edges = append(g.Edges, datatypes.GraphEdge{Source: "src", Target: "src/" + f, Kind: datatypes.EdgeContains})
	}
	return g
}

func TestEngine_SetGraphPreservesPositions(t *testing.T) {
	e := NewEngine(DefaultParams(), clock.NewManual(time.Unix(0, 0)), nil)

	res := e.SetGraph(srcGraph("a.py", "b.py"))
	assert.Equal(t, SetGraphResult{Added: 3}, res)
	e.RunTicks(40)

	before := map[string][2]float64{}
	for _, n := range e.State().Nodes {
		before[n.ID] = [2]float64{n.X, n.Y}
	}

	// S2 shares src and src/a.py with S1, drops src/b.py and adds two files.
	res = e.SetGraph(srcGraph("a.py", "c.py", "d.py"))
	assert.Equal(t, SetGraphResult{Added: 2, Removed: 1, Kept: 2}, res)

	for _, id := range []string{"src", "src/a.py"} {
		x, y, ok := e.Position(id)
		require.True(t, ok)
		assert.Equal(t, before[id], [2]float64{x, y}, id)
	}
	_, _, ok := e.Position("src/b.py")
	assert.False(t, ok)
}

func TestEngine_NewNodeEntersNearNeighbor(t *testing.T) {
	p := DefaultParams()
	e := NewEngine(p, nil, nil)
	e.SetGraph(srcGraph("a.py"))
	e.RunTicks(100)

	sx, sy, _ := e.Position("src")
	e.SetGraph(srcGraph("a.py", "new.py"))
	nx, ny, ok := e.Position("src/new.py")
	require.True(t, ok)

	d := math.Hypot(nx-sx, ny-sy)
	assert.LessOrEqual(t, d, p.LinkDistance.FolderFile+1e-9)
	assert.GreaterOrEqual(t, d, p.LinkDistance.FolderFile*0.5-1e-9)
}

func TestEngine_NewNodeWithoutNeighborEntersNearCentroid(t *testing.T) {
	p := DefaultParams()
	e := NewEngine(p, nil, nil)
	e.SetGraph(srcGraph("a.py", "b.py"))
	e.RunTicks(50)

	cx, cy := centroid(e.State().Nodes)
	g := srcGraph("a.py", "b.py")
	g.Nodes = append(g.Nodes, datatypes.GraphNode{ID: "orphan", Kind: datatypes.KindOther})
	e.SetGraph(g)

	x, y, ok := e.Position("orphan")
	require.True(t, ok)
	assert.LessOrEqual(t, math.Hypot(x-cx, y-cy), p.LinkDistance.Default+1e-9)
}

func TestEngine_PlacementIsSeeded(t *testing.T) {
	run := func() (float64, float64) {
		e := NewEngine(DefaultParams(), nil, nil)
		e.SetGraph(srcGraph("a.py"))
		e.RunTicks(10)
		e.SetGraph(srcGraph("a.py", "b.py"))
		x, y, _ := e.Position("src/b.py")
		return x, y
	}
	x1, y1 := run()
	x2, y2 := run()
	assert.Equal(t, x1, x2)
	assert.Equal(t, y1, y2)
}

func TestEngine_SetGraphIgnoresDanglingEdges(t *testing.T) {
	e := NewEngine(DefaultParams(), nil, nil)
	g := srcGraph("a.py")
	g.Edges = append(g.Edges, datatypes.GraphEdge{Source: "src", Target: "ghost"})
	e.SetGraph(g)
	assert.Len(t, e.State().Links, 1)
}

func TestEngine_DragPinsAndReheats(t *testing.T) {
	p := DefaultParams()
	e := NewEngine(p, nil, nil)
	e.SetGraph(srcGraph("a.py", "b.py"))
	e.RunTicks(1000)
	require.True(t, e.Settled())

	require.NoError(t, e.BeginDrag("src/a.py", 250, -40))
	assert.False(t, e.Settled(), "drag must keep the simulation warm")
	e.Tick()
	x, y, _ := e.Position("src/a.py")
	assert.Equal(t, 250.0, x)
	assert.Equal(t, -40.0, y)

	require.NoError(t, e.DragTo("src/a.py", 300, 0))
	e.Tick()
	x, _, _ = e.Position("src/a.py")
	assert.Equal(t, 300.0, x)
	assert.Greater(t, e.State().Alpha, 0.0)

	require.NoError(t, e.EndDrag("src/a.py"))
	st := e.State()
	assert.Zero(t, st.AlphaTarget)
	for _, n := range st.Nodes {
		assert.False(t, n.Pinned)
	}
	e.RunTicks(1000)
	assert.True(t, e.Settled())

	assert.ErrorIs(t, e.BeginDrag("nope", 0, 0), ErrUnknownNode)
	assert.ErrorIs(t, e.DragTo("nope", 0, 0), ErrUnknownNode)
	assert.ErrorIs(t, e.EndDrag("nope"), ErrUnknownNode)
}

func TestEngine_DragTargetRemovedStillSettles(t *testing.T) {
	e := NewEngine(DefaultParams(), nil, nil)
	e.SetGraph(srcGraph("a.py"))
	e.RunTicks(300)

	require.NoError(t, e.BeginDrag("src/a.py", 100, 100))
	require.Equal(t, 1, e.Dragging())

	// Another surface switches to folders only while the drag is active.
	e.SetGraph(srcGraph())
	assert.Zero(t, e.Dragging())
	assert.Zero(t, e.State().AlphaTarget)

	assert.ErrorIs(t, e.EndDrag("src/a.py"), ErrUnknownNode)
	e.RunTicks(5000)
	assert.True(t, e.Settled())
}

func TestEngine_ConcurrentDrags(t *testing.T) {
	p := DefaultParams()
	e := NewEngine(p, nil, nil)
	e.SetGraph(srcGraph("a.py", "b.py"))
	e.RunTicks(300)

	pinned := func(id string) bool {
		for _, n := range e.State().Nodes {
			if n.ID == id {
				return n.Pinned
			}
		}
		return false
	}

	require.NoError(t, e.BeginDrag("src/a.py", 10, 10))
	require.NoError(t, e.BeginDrag("src/b.py", 20, 20))
	require.NoError(t, e.EndDrag("src/a.py"))
	assert.Equal(t, p.DragAlphaTarget, e.State().AlphaTarget, "b is still dragged")
	assert.False(t, pinned("src/a.py"))
	assert.True(t, pinned("src/b.py"))

	// Two surfaces holding the same node.
	require.NoError(t, e.BeginDrag("src/b.py", 30, 30))
	require.NoError(t, e.EndDrag("src/b.py"))
	assert.True(t, pinned("src/b.py"))
	assert.Equal(t, 1, e.Dragging())

	require.NoError(t, e.EndDrag("src/b.py"))
	assert.False(t, pinned("src/b.py"))
	assert.Zero(t, e.State().AlphaTarget)
	e.RunTicks(5000)
	assert.True(t, e.Settled())
}

func TestEngine_NodeAt(t *testing.T) {
	p := DefaultParams()
	e := NewEngine(p, nil, nil)
	e.SetGraph(srcGraph("a.py"))
	e.RunTicks(300)

	x, y, _ := e.Position("src/a.py")
	id, ok := e.NodeAt(x+p.Radius.File/2, y)
	require.True(t, ok)
	assert.Equal(t, "src/a.py", id)

	_, ok = e.NodeAt(x+10000, y+10000)
	assert.False(t, ok)
}

func TestEngine_SubscribeReceivesFrames(t *testing.T) {
	e := NewEngine(DefaultParams(), nil, nil)
	e.SetGraph(srcGraph("a.py"))

	var frames atomic.Int32
	var last atomic.Value
	unsubscribe := e.Subscribe(func(f Frame) {
		frames.Add(1)
		last.Store(f)
	})
	e.Tick()
	e.Tick()
	unsubscribe()
	unsubscribe()
	e.Tick()

	assert.Equal(t, int32(2), frames.Load())
	f := last.Load().(Frame)
	assert.Equal(t, uint64(2), f.Tick)
	assert.Len(t, f.Nodes, 2)
	require.Len(t, f.Links, 1)
	assert.Equal(t, "src", f.Links[0].Source)
}

func TestEngine_LookupAndReset(t *testing.T) {
	e := NewEngine(DefaultParams(), nil, nil)
	g := srcGraph("a.py")
	g.Nodes[1].Metadata = &datatypes.NodeMetadata{Hash: "h1"}
	e.SetGraph(g)

	n, ok := e.Lookup("src/a.py")
	require.True(t, ok)
	assert.Equal(t, "h1", n.Metadata.Hash)

	e.Reset()
	_, ok = e.Lookup("src/a.py")
	assert.False(t, ok)
	assert.Empty(t, e.Frame().Nodes)

	// After a reset the next graph is laid out from scratch.
	res := e.SetGraph(g)
	assert.Equal(t, 2, res.Added)
	assert.Equal(t, 1.0, e.State().Alpha)
}

func TestEngine_RunTicksOnClockAndIdles(t *testing.T) {
	clk := clock.NewManual(time.Unix(0, 0))
	p := DefaultParams()
	e := NewEngine(p, clk, nil)
	e.SetGraph(srcGraph("a.py"))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()

	clk.BlockUntil(1)
	assert.Equal(t, uint64(1), e.Frame().Tick)
	clk.Advance(p.TickInterval)
	clk.BlockUntil(1)
	assert.Equal(t, uint64(2), e.Frame().Tick)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Run did not stop on cancel")
	}
}

func TestEngine_RunWaitsWhileSettled(t *testing.T) {
	e := NewEngine(DefaultParams(), clock.NewManual(time.Unix(0, 0)), nil)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := e.Run(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, uint64(0), e.Frame().Tick)
}

func TestFrame_Bounds(t *testing.T) {
	f := Frame{Nodes: []FrameNode{
		{X: 0, Y: 0, Radius: 5},
		{X: 100, Y: -50, Radius: 10},
	}}
	minX, minY, maxX, maxY := f.Bounds()
	assert.Equal(t, -5.0, minX)
	assert.Equal(t, -60.0, minY)
	assert.Equal(t, 110.0, maxX)
	assert.Equal(t, 5.0, maxY)
}

func TestFrame_WithSelected(t *testing.T) {
	e := NewEngine(DefaultParams(), clock.NewManual(time.Unix(0, 0)), nil)
	e.SetGraph(srcGraph("a.py", "b.py"))
	f := e.Frame()

	marked := f.WithSelected("src/a.py")
	count := 0
	for _, n := range marked.Nodes {
		if n.Selected {
			count++
			assert.Equal(t, "src/a.py", n.ID)
		}
	}
	assert.Equal(t, 1, count)
	for _, n := range f.Nodes {
		assert.False(t, n.Selected, "original frame is not modified")
	}
	for _, n := range f.WithSelected("").Nodes {
		assert.False(t, n.Selected)
	}
}
