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
	"errors"
	"math"
	"math/rand/v2"
	"sync"

	"github.com/AleutianAI/livegraph/pkg/logging"
	"github.com/AleutianAI/livegraph/services/viewer/clock"
	"github.com/AleutianAI/livegraph/services/viewer/datatypes"
)

// ErrUnknownNode is returned by drag operations for an id not in the layout.
var ErrUnknownNode = errors.New("node not in layout")

// =============================================================================
// Frames
// =============================================================================

// FrameNode is a positioned node ready to draw.
type FrameNode struct {
	ID       string             `json:"id"`
	Kind     datatypes.NodeKind `json:"kind"`
	Name     string             `json:"name"`
	X        float64            `json:"x"`
	Y        float64            `json:"y"`
	Radius   float64            `json:"r"`
	Pinned   bool               `json:"pinned,omitempty"`
	Selected bool               `json:"selected,omitempty"`
}

// FrameLink is a positioned link ready to draw.
type FrameLink struct {
	Source string             `json:"source"`
	Target string             `json:"target"`
	Kind   datatypes.EdgeKind `json:"kind"`
	X1     float64            `json:"x1"`
	Y1     float64            `json:"y1"`
	X2     float64            `json:"x2"`
	Y2     float64            `json:"y2"`
}

// Frame is the output of one tick.
type Frame struct {
	Tick    uint64      `json:"tick"`
	Alpha   float64     `json:"alpha"`
	Settled bool        `json:"settled"`
	Nodes   []FrameNode `json:"nodes"`
	Links   []FrameLink `json:"links"`
}

// Bounds returns the bounding box of all node discs.
func (f Frame) Bounds() (minX, minY, maxX, maxY float64) {
	if len(f.Nodes) == 0 {
		return 0, 0, 0, 0
	}
	minX, minY = math.Inf(1), math.Inf(1)
	maxX, maxY = math.Inf(-1), math.Inf(-1)
	for _, n := range f.Nodes {
		minX = math.Min(minX, n.X-n.Radius)
		minY = math.Min(minY, n.Y-n.Radius)
		maxX = math.Max(maxX, n.X+n.Radius)
		maxY = math.Max(maxY, n.Y+n.Radius)
	}
	return minX, minY, maxX, maxY
}

// WithSelected returns a copy of f with the node id marked selected. The
// node slice is copied; links are shared.
func (f Frame) WithSelected(id string) Frame {
	nodes := make([]FrameNode, len(f.Nodes))
	copy(nodes, f.Nodes)
	for i := range nodes {
		nodes[i].Selected = id != "" && nodes[i].ID == id
	}
	f.Nodes = nodes
	return f
}

// =============================================================================
// Engine
// =============================================================================

// Engine owns the simulation of the current graph.
//
// # Description
//
// SetGraph swaps in a new node set while carrying positions over by id.
// Run ticks Step on the clock until the simulation settles, then waits for
// the next SetGraph, drag or Reheat. Every tick is published as a Frame to
// subscribers.
//
// # Thread Safety
//
// All methods are safe for concurrent use. Subscribers are called from the
// goroutine that ticked, without the engine lock held.
type Engine struct {
	mu      sync.Mutex
	params  Params
	state   State
	index   map[string]int
	nodes   map[string]datatypes.GraphNode
	drags   map[string]int
	rng     *rand.Rand
	tick    uint64
	clk     clock.Clock
	logger  *logging.Logger
	subs    map[int]func(Frame)
	nextSub int
	wake    chan struct{}
}

// NewEngine creates an engine. A nil clock uses the wall clock; a nil logger
// discards output.
func NewEngine(params Params, clk clock.Clock, logger *logging.Logger) *Engine {
	if clk == nil {
		clk = clock.Real{}
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &Engine{
		params: params,
		index:  make(map[string]int),
		nodes:  make(map[string]datatypes.GraphNode),
		drags:  make(map[string]int),
		rng:    rand.New(rand.NewPCG(params.Seed, params.Seed^0x9e3779b97f4a7c15)),
		clk:    clk,
		logger: logger,
		subs:   make(map[int]func(Frame)),
		wake:   make(chan struct{}, 1),
	}
}

// SetGraphResult reports how the node set changed.
type SetGraphResult struct {
	Added   int
	Removed int
	Kept    int
}

// SetGraph replaces the simulated graph.
//
// # Description
//
// Nodes whose id already exists keep position, velocity and pin. A new node
// is placed near an already-positioned neighbor when it has one, otherwise
// near the centroid of the existing nodes, with a random offset. On the very
// first graph, nodes are laid out on a phyllotaxis spiral around the center.
// Edges with an endpoint outside g are ignored. When the node set changes,
// alpha is raised to ReheatAlpha (or 1 for the first graph).
func (e *Engine) SetGraph(g datatypes.Graph) SetGraphResult {
	e.mu.Lock()

	prev := e.state
	prevIndex := e.index
	first := len(prev.Nodes) == 0

	cx, cy := e.params.CenterX, e.params.CenterY
	if !first {
		cx, cy = centroid(prev.Nodes)
	}

	index := make(map[string]int, len(g.Nodes))
	nodes := make([]Node, 0, len(g.Nodes))
	byID := make(map[string]datatypes.GraphNode, len(g.Nodes))
	for _, gn := range g.Nodes {
		if _, dup := index[gn.ID]; dup {
			continue
		}
		index[gn.ID] = len(nodes)
		byID[gn.ID] = gn
		n := Node{ID: gn.ID, Kind: gn.Kind, Name: gn.Name}
		if i, ok := prevIndex[gn.ID]; ok {
			old := prev.Nodes[i]
			n.X, n.Y, n.VX, n.VY = old.X, old.Y, old.VX, old.VY
			n.Pinned, n.FX, n.FY = old.Pinned, old.FX, old.FY
		}
		nodes = append(nodes, n)
	}

	links := make([]Link, 0, len(g.Edges))
	neighbor := make(map[int]int)
	for _, ge := range g.Edges {
		s, okS := index[ge.Source]
		t, okT := index[ge.Target]
		if !okS || !okT || s == t {
			continue
		}
		links = append(links, Link{Source: s, Target: t, Kind: ge.Kind})
		if _, had := neighbor[t]; !had {
			neighbor[t] = s
		}
		if _, had := neighbor[s]; !had {
			neighbor[s] = t
		}
	}

	res := SetGraphResult{}
	for i := range nodes {
		if _, ok := prevIndex[nodes[i].ID]; ok {
			res.Kept++
			continue
		}
		res.Added++
		if first {
			nodes[i].X, nodes[i].Y = phyllotaxis(i, cx, cy)
			continue
		}
		ax, ay := cx, cy
		spread := e.params.LinkDistance.Default
		if nb, ok := neighbor[i]; ok {
			if _, known := prevIndex[nodes[nb].ID]; known {
				ax, ay = nodes[nb].X, nodes[nb].Y
				spread = e.params.LinkDistance.For(nodes[i].Kind, nodes[nb].Kind)
			}
		}
		if spread <= 0 {
			spread = 30
		}
		angle := e.rng.Float64() * 2 * math.Pi
		r := spread * (0.5 + 0.5*e.rng.Float64())
		nodes[i].X = ax + r*math.Cos(angle)
		nodes[i].Y = ay + r*math.Sin(angle)
	}
	res.Removed = len(prev.Nodes) - res.Kept

	e.state = State{
		Nodes:       nodes,
		Links:       links,
		Alpha:       prev.Alpha,
		AlphaTarget: prev.AlphaTarget,
	}
	if res.Added > 0 || res.Removed > 0 {
		reheat := e.params.ReheatAlpha
		if first {
			reheat = 1
		}
		e.state.Alpha = math.Max(e.state.Alpha, reheat)
	}
	e.index = index
	e.nodes = byID
	for id := range e.drags {
		if _, ok := index[id]; !ok {
			delete(e.drags, id)
		}
	}
	if len(e.drags) == 0 {
		e.state.AlphaTarget = 0
	}
	e.mu.Unlock()

	e.logger.Debug("layout graph updated",
		"added", res.Added, "removed", res.Removed, "kept", res.Kept)
	e.signal()
	return res
}

// Reset discards the simulation. Used on session change.
func (e *Engine) Reset() {
	e.mu.Lock()
	e.state = State{}
	e.index = make(map[string]int)
	e.nodes = make(map[string]datatypes.GraphNode)
	e.drags = make(map[string]int)
	e.tick = 0
	e.mu.Unlock()
	e.publish()
}

// SetParams replaces the parameters, for example after a config reload, and
// reheats the simulation.
func (e *Engine) SetParams(p Params) {
	e.mu.Lock()
	e.params = p
	e.state.Alpha = math.Max(e.state.Alpha, p.ReheatAlpha)
	e.mu.Unlock()
	e.signal()
}

// Params returns the current parameters.
func (e *Engine) Params() Params {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.params
}

// Reheat raises alpha to at least a.
func (e *Engine) Reheat(a float64) {
	e.mu.Lock()
	e.state.Alpha = math.Max(e.state.Alpha, a)
	e.mu.Unlock()
	e.signal()
}

// Tick advances the simulation by one step and publishes the frame.
func (e *Engine) Tick() Frame {
	e.mu.Lock()
	e.state = Step(e.state, e.params, 1)
	e.tick++
	f := e.frameLocked()
	e.mu.Unlock()

	e.notify(f)
	return f
}

// Settled reports whether the simulation is idle.
func (e *Engine) Settled() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.Settled(e.params)
}

// Run ticks until ctx is done. While settled, it blocks until woken by
// SetGraph, SetParams, Reheat or a drag.
func (e *Engine) Run(ctx context.Context) error {
	for {
		if e.Settled() {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-e.wake:
				continue
			}
		}

		f := e.Tick()
		if f.Settled {
			e.logger.Debug("layout settled", "tick", f.Tick, "nodes", len(f.Nodes))
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-e.clk.After(e.Params().TickInterval):
		}
	}
}

// RunTicks runs at most n ticks without a clock, stopping early once the
// simulation settles. Used for offline exports.
func (e *Engine) RunTicks(n int) Frame {
	f := e.Frame()
	for i := 0; i < n; i++ {
		f = e.Tick()
		if f.Settled {
			break
		}
	}
	return f
}

// =============================================================================
// Dragging
// =============================================================================

// BeginDrag pins node id at (x, y) and keeps the simulation warm while the
// drag lasts. Drags are counted per node, so several surfaces may drag at
// once; the simulation cools only after the last one ends.
func (e *Engine) BeginDrag(id string, x, y float64) error {
	e.mu.Lock()
	i, ok := e.index[id]
	if !ok {
		e.mu.Unlock()
		return ErrUnknownNode
	}
	n := &e.state.Nodes[i]
	n.Pinned, n.FX, n.FY = true, x, y
	e.drags[id]++
	e.state.AlphaTarget = e.params.DragAlphaTarget
	e.mu.Unlock()
	e.signal()
	return nil
}

// DragTo moves the pin of node id to (x, y).
func (e *Engine) DragTo(id string, x, y float64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	i, ok := e.index[id]
	if !ok {
		return ErrUnknownNode
	}
	n := &e.state.Nodes[i]
	n.Pinned, n.FX, n.FY = true, x, y
	return nil
}

// EndDrag releases one drag of node id. The node is unpinned when no drag
// of it remains, and the simulation cools when no drag remains at all. A
// node that left the layout mid-drag still releases its drag, then
// ErrUnknownNode is returned.
func (e *Engine) EndDrag(id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.drags[id] > 1 {
		e.drags[id]--
	} else {
		delete(e.drags, id)
	}
	if len(e.drags) == 0 {
		e.state.AlphaTarget = 0
	}

	i, ok := e.index[id]
	if !ok {
		return ErrUnknownNode
	}
	if e.drags[id] == 0 {
		e.state.Nodes[i].Pinned = false
	}
	return nil
}

// Dragging reports how many drags are in progress.
func (e *Engine) Dragging() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for _, c := range e.drags {
		n += c
	}
	return n
}

// =============================================================================
// Queries
// =============================================================================

// NodeAt returns the topmost node whose disc contains (x, y).
func (e *Engine) NodeAt(x, y float64) (string, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i := len(e.state.Nodes) - 1; i >= 0; i-- {
		n := e.state.Nodes[i]
		r := e.params.Radius.For(n.Kind)
		dx, dy := x-n.X, y-n.Y
		if dx*dx+dy*dy <= r*r {
			return n.ID, true
		}
	}
	return "", false
}

// Lookup returns the graph node for id, metadata included.
func (e *Engine) Lookup(id string) (datatypes.GraphNode, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	n, ok := e.nodes[id]
	return n, ok
}

// Position returns the current position of id.
func (e *Engine) Position(id string) (x, y float64, ok bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	i, ok := e.index[id]
	if !ok {
		return 0, 0, false
	}
	return e.state.Nodes[i].X, e.state.Nodes[i].Y, true
}

// State returns a copy of the current simulation state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.Clone()
}

// Frame returns the current frame without ticking.
func (e *Engine) Frame() Frame {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.frameLocked()
}

// Subscribe registers fn for every published frame and returns a function
// that unregisters it.
func (e *Engine) Subscribe(fn func(Frame)) func() {
	e.mu.Lock()
	id := e.nextSub
	e.nextSub++
	e.subs[id] = fn
	e.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			e.mu.Lock()
			delete(e.subs, id)
			e.mu.Unlock()
		})
	}
}

func (e *Engine) frameLocked() Frame {
	f := Frame{
		Tick:    e.tick,
		Alpha:   e.state.Alpha,
		Settled: e.state.Settled(e.params),
		Nodes:   make([]FrameNode, len(e.state.Nodes)),
		Links:   make([]FrameLink, len(e.state.Links)),
	}
	for i, n := range e.state.Nodes {
		f.Nodes[i] = FrameNode{
			ID:     n.ID,
			Kind:   n.Kind,
			Name:   n.Name,
			X:      n.X,
			Y:      n.Y,
			Radius: e.params.Radius.For(n.Kind),
			Pinned: n.Pinned,
		}
	}
	for i, l := range e.state.Links {
		s, t := e.state.Nodes[l.Source], e.state.Nodes[l.Target]
		f.Links[i] = FrameLink{
			Source: s.ID, Target: t.ID, Kind: l.Kind,
			X1: s.X, Y1: s.Y, X2: t.X, Y2: t.Y,
		}
	}
	return f
}

func (e *Engine) publish() {
	e.notify(e.Frame())
}

func (e *Engine) notify(f Frame) {
	e.mu.Lock()
	subs := make([]func(Frame), 0, len(e.subs))
	for _, fn := range e.subs {
		subs = append(subs, fn)
	}
	e.mu.Unlock()
	for _, fn := range subs {
		fn(f)
	}
}

func (e *Engine) signal() {
	select {
	case e.wake <- struct{}{}:
	default:
	}
}

// =============================================================================
// Helpers
// =============================================================================

func centroid(nodes []Node) (float64, float64) {
	var sx, sy float64
	for _, n := range nodes {
		sx += n.X
		sy += n.Y
	}
	k := float64(len(nodes))
	return sx / k, sy / k
}

// phyllotaxis places the i-th node on a sunflower spiral around (cx, cy).
func phyllotaxis(i int, cx, cy float64) (float64, float64) {
	const initialRadius = 10.0
	angle := math.Pi * (3 - math.Sqrt(5))
	r := initialRadius * math.Sqrt(0.5+float64(i))
	a := float64(i) * angle
	return cx + r*math.Cos(a), cy + r*math.Sin(a)
}
