// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package interaction

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/livegraph/services/viewer/datatypes"
	"github.com/AleutianAI/livegraph/services/viewer/graph"
	"github.com/AleutianAI/livegraph/services/viewer/layout"
	"github.com/AleutianAI/livegraph/services/viewer/selection"
)

var _ Layout = (*layout.Engine)(nil)

func abc123Engine(t *testing.T) *layout.Engine {
	t.Helper()
	g := graph.BuildStructure(&datatypes.RepoStructure{
		Folders: map[string]datatypes.FolderNode{
			"src": {Files: []datatypes.FileEntry{{Path: "src/a.py", Hash: "h1", Size: 120}}},
		},
	})
	e := layout.NewEngine(layout.DefaultParams(), nil, nil)
	e.SetGraph(g)
	e.RunTicks(300)
	return e
}

func click(c *Controller, x, y float64) Action {
	c.Handle(PointerEvent{Kind: PointerDown, X: x, Y: y})
	return c.Handle(PointerEvent{Kind: PointerUp, X: x, Y: y})
}

func TestController_ClickSelectsAndEmptyClickClears(t *testing.T) {
	e := abc123Engine(t)
	sel := selection.NewStore()
	home := Centered(800, 600)
	c := NewController(DefaultConfig(), e, sel, home, nil)

	x, y, ok := e.Position("src/a.py")
	require.True(t, ok)
	sx, sy := c.Transform().ToScreen(x, y)

	assert.Equal(t, ActionSelect, click(c, sx, sy))
	cur, ok := sel.Current()
	require.True(t, ok)
	assert.Equal(t, "src/a.py", cur.ID)
	assert.Equal(t, datatypes.KindFile, cur.Kind)
	assert.Equal(t, "a.py", cur.Name)
	require.NotNil(t, cur.Metadata)
	assert.Equal(t, "h1", cur.Metadata.Hash)

	assert.Equal(t, ActionClear, click(c, 1, 1))
	_, ok = sel.Current()
	assert.False(t, ok)
}

func TestController_SmallJitterStillClicks(t *testing.T) {
	e := abc123Engine(t)
	sel := selection.NewStore()
	c := NewController(DefaultConfig(), e, sel, Identity(), nil)

	x, y, _ := e.Position("src")
	c.Handle(PointerEvent{Kind: PointerDown, X: x, Y: y})
	assert.Equal(t, ActionNone, c.Handle(PointerEvent{Kind: PointerMove, X: x + 1, Y: y + 1}))
	assert.Equal(t, ActionSelect, c.Handle(PointerEvent{Kind: PointerUp, X: x + 1, Y: y + 1}))

	cur, _ := sel.Current()
	assert.Equal(t, "src", cur.ID)
}

func TestController_DragPinsNodeAndDoesNotSelect(t *testing.T) {
	e := abc123Engine(t)
	sel := selection.NewStore()
	c := NewController(DefaultConfig(), e, sel, Identity(), nil)

	x, y, _ := e.Position("src/a.py")
	c.Handle(PointerEvent{Kind: PointerDown, X: x, Y: y})
	assert.Equal(t, ActionDrag, c.Handle(PointerEvent{Kind: PointerMove, X: x + 50, Y: y}))
	assert.Equal(t, ActionDrag, c.Handle(PointerEvent{Kind: PointerMove, X: x + 80, Y: y + 10}))

	e.Tick()
	nx, ny, _ := e.Position("src/a.py")
	assert.Equal(t, x+80, nx)
	assert.Equal(t, y+10, ny)
	assert.False(t, e.Settled())

	assert.Equal(t, ActionDragEnd, c.Handle(PointerEvent{Kind: PointerUp, X: x + 80, Y: y + 10}))
	for _, n := range e.State().Nodes {
		assert.False(t, n.Pinned)
	}
	_, ok := sel.Current()
	assert.False(t, ok, "a drag must not change the selection")
}

func TestController_PanAndZoom(t *testing.T) {
	e := abc123Engine(t)
	sel := selection.NewStore()
	sel.Select(selection.Selection{ID: "keep"})
	c := NewController(DefaultConfig(), e, sel, Identity(), nil)

	c.Handle(PointerEvent{Kind: PointerDown, X: 5000, Y: 5000})
	assert.Equal(t, ActionPan, c.Handle(PointerEvent{Kind: PointerMove, X: 5010, Y: 5020}))
	assert.Equal(t, ActionPan, c.Handle(PointerEvent{Kind: PointerUp, X: 5010, Y: 5020}))
	assert.Equal(t, Transform{Scale: 1, TX: 10, TY: 20}, c.Transform())
	_, ok := sel.Current()
	assert.True(t, ok, "panning must not clear the selection")

	before := c.Transform()
	lx, ly := before.ToLayout(100, 100)
	assert.Equal(t, ActionZoom, c.Handle(PointerEvent{Kind: Wheel, X: 100, Y: 100, DeltaY: -1}))
	after := c.Transform()
	assert.InDelta(t, 1.2, after.Scale, 1e-9)
	ax, ay := after.ToLayout(100, 100)
	assert.InDelta(t, lx, ax, 1e-9)
	assert.InDelta(t, ly, ay, 1e-9)

	for i := 0; i < 100; i++ {
		c.Handle(PointerEvent{Kind: Wheel, X: 0, Y: 0, DeltaY: 1})
	}
	assert.InDelta(t, DefaultConfig().MinScale, c.Transform().Scale, 1e-9)

	c.ResetView()
	assert.Equal(t, Identity(), c.Transform())
}

func TestController_ResetViewAbandonsDrag(t *testing.T) {
	e := abc123Engine(t)
	c := NewController(DefaultConfig(), e, selection.NewStore(), Identity(), nil)

	x, y, _ := e.Position("src")
	c.Handle(PointerEvent{Kind: PointerDown, X: x, Y: y})
	c.Handle(PointerEvent{Kind: PointerMove, X: x + 40, Y: y})
	c.ResetView()

	for _, n := range e.State().Nodes {
		assert.False(t, n.Pinned)
	}
	assert.Equal(t, ActionNone, c.Handle(PointerEvent{Kind: PointerUp, X: x + 40, Y: y}))
}

func TestController_SelectNode(t *testing.T) {
	e := abc123Engine(t)
	sel := selection.NewStore()
	c := NewController(DefaultConfig(), e, sel, Identity(), nil)

	assert.True(t, c.SelectNode("src/a.py"))
	cur, _ := sel.Current()
	assert.Equal(t, "src/a.py", cur.ID)
	assert.False(t, c.SelectNode("missing"))
}

func TestTransform_Fit(t *testing.T) {
	tr := Fit(-100, -50, 100, 50, 400, 200, 0, 0.01, 100)
	assert.InDelta(t, 2.0, tr.Scale, 1e-9)
	sx, sy := tr.ToScreen(0, 0)
	assert.InDelta(t, 200, sx, 1e-9)
	assert.InDelta(t, 100, sy, 1e-9)

	// A single point falls back to unit scale.
	tr = Fit(5, 5, 5, 5, 400, 200, 10, 0.01, 100)
	assert.Equal(t, 1.0, tr.Scale)
}
