// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package interaction turns pointer input on the graph canvas into layout
// pinning, selection changes, and view transform updates.
//
// The controller is surface-agnostic: the terminal viewer feeds it mouse
// cells, the HTTP surface feeds it browser pointer events. Both speak
// PointerEvent in screen coordinates.
package interaction

import (
	"math"
	"sync"

	"github.com/AleutianAI/livegraph/pkg/logging"
	"github.com/AleutianAI/livegraph/services/viewer/datatypes"
	"github.com/AleutianAI/livegraph/services/viewer/selection"
)

// PointerKind is the type of a pointer event.
type PointerKind string

const (
	PointerDown PointerKind = "down"
	PointerMove PointerKind = "move"
	PointerUp   PointerKind = "up"
	Wheel       PointerKind = "wheel"
)

// PointerEvent is one pointer event in screen coordinates.
type PointerEvent struct {
	Kind PointerKind `json:"kind" validate:"required,oneof=down move up wheel"`
	X    float64     `json:"x"`
	Y    float64     `json:"y"`

	// DeltaY is the wheel delta. Negative zooms in.
	DeltaY float64 `json:"delta_y,omitempty"`
}

// Action reports what a pointer event did.
type Action string

const (
	ActionNone     Action = "none"
	ActionPress    Action = "press"
	ActionSelect   Action = "select"
	ActionClear    Action = "clear"
	ActionDrag     Action = "drag"
	ActionDragEnd  Action = "drag_end"
	ActionPan      Action = "pan"
	ActionZoom     Action = "zoom"
	ActionNotFound Action = "not_found"
)

// Layout is the part of the layout engine the controller drives.
type Layout interface {
	NodeAt(x, y float64) (string, bool)
	Lookup(id string) (datatypes.GraphNode, bool)
	BeginDrag(id string, x, y float64) error
	DragTo(id string, x, y float64) error
	EndDrag(id string) error
}

// Config tunes the controller.
type Config struct {
	// ClickTolerance is the screen distance a press may travel and still
	// count as a click.
	ClickTolerance float64 `yaml:"click_tolerance" validate:"gte=0"`

	// MinScale and MaxScale clamp zooming.
	MinScale float64 `yaml:"min_scale" validate:"gt=0"`
	MaxScale float64 `yaml:"max_scale" validate:"gtfield=MinScale"`

	// ZoomStep is the scale factor per wheel notch.
	ZoomStep float64 `yaml:"zoom_step" validate:"gt=1"`
}

// DefaultConfig returns sensible defaults for both surfaces.
func DefaultConfig() Config {
	return Config{
		ClickTolerance: 3,
		MinScale:       0.05,
		MaxScale:       8,
		ZoomStep:       1.2,
	}
}

// press tracks the pointer between down and up.
type press struct {
	active   bool
	nodeID   string
	startX   float64
	startY   float64
	lastX    float64
	lastY    float64
	dragging bool
}

// Controller translates pointer events into layout and selection writes.
//
// # Thread Safety
//
// Safe for concurrent use; events are processed one at a time.
type Controller struct {
	mu        sync.Mutex
	cfg       Config
	layout    Layout
	selection selection.Writer
	logger    *logging.Logger
	home      Transform
	transform Transform
	press     press
}

// NewController creates a controller. home is the transform ResetView
// returns to.
func NewController(cfg Config, layout Layout, sel selection.Writer, home Transform, logger *logging.Logger) *Controller {
	if logger == nil {
		logger = logging.Nop()
	}
	if home.Scale == 0 {
		home.Scale = 1
	}
	return &Controller{
		cfg:       cfg,
		layout:    layout,
		selection: sel,
		logger:    logger,
		home:      home,
		transform: home,
	}
}

// Handle processes one pointer event.
//
// # Description
//
//   - down on a node starts a press on it; on empty canvas, a pan
//   - move beyond ClickTolerance drags the pressed node (pinned at the
//     pointer) or pans the view
//   - up without travel selects the pressed node, or clears the selection
//     on empty canvas; up after a drag releases the pin
//   - wheel zooms around the pointer
func (c *Controller) Handle(ev PointerEvent) Action {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch ev.Kind {
	case PointerDown:
		return c.down(ev)
	case PointerMove:
		return c.move(ev)
	case PointerUp:
		return c.up(ev)
	case Wheel:
		return c.wheel(ev)
	default:
		return ActionNone
	}
}

func (c *Controller) down(ev PointerEvent) Action {
	lx, ly := c.transform.ToLayout(ev.X, ev.Y)
	id, _ := c.layout.NodeAt(lx, ly)
	c.press = press{
		active: true,
		nodeID: id,
		startX: ev.X, startY: ev.Y,
		lastX: ev.X, lastY: ev.Y,
	}
	return ActionPress
}

func (c *Controller) move(ev PointerEvent) Action {
	p := &c.press
	if !p.active {
		return ActionNone
	}
	if !p.dragging && math.Hypot(ev.X-p.startX, ev.Y-p.startY) <= c.cfg.ClickTolerance {
		return ActionNone
	}

	if p.nodeID == "" {
		c.transform = c.transform.Pan(ev.X-p.lastX, ev.Y-p.lastY)
		p.lastX, p.lastY = ev.X, ev.Y
		p.dragging = true
		return ActionPan
	}

	lx, ly := c.transform.ToLayout(ev.X, ev.Y)
	var err error
	if !p.dragging {
		err = c.layout.BeginDrag(p.nodeID, lx, ly)
	} else {
		err = c.layout.DragTo(p.nodeID, lx, ly)
	}
	if err != nil {
		c.logger.Debug("drag target vanished", "node_id", p.nodeID, "error", err)
		c.press = press{}
		return ActionNotFound
	}
	p.lastX, p.lastY = ev.X, ev.Y
	p.dragging = true
	return ActionDrag
}

func (c *Controller) up(ev PointerEvent) Action {
	p := c.press
	c.press = press{}
	if !p.active {
		return ActionNone
	}

	if p.dragging {
		if p.nodeID == "" {
			return ActionPan
		}
		if err := c.layout.EndDrag(p.nodeID); err != nil {
			c.logger.Debug("drag target vanished", "node_id", p.nodeID, "error", err)
		}
		return ActionDragEnd
	}

	if p.nodeID == "" {
		c.selection.Clear()
		return ActionClear
	}
	n, ok := c.layout.Lookup(p.nodeID)
	if !ok {
		return ActionNotFound
	}
	c.selection.Select(selection.FromNode(n))
	return ActionSelect
}

func (c *Controller) wheel(ev PointerEvent) Action {
	if ev.DeltaY == 0 {
		return ActionNone
	}
	factor := c.cfg.ZoomStep
	if ev.DeltaY > 0 {
		factor = 1 / factor
	}
	c.transform = c.transform.ZoomAt(ev.X, ev.Y, factor, c.cfg.MinScale, c.cfg.MaxScale)
	return ActionZoom
}

// SelectNode selects a node by id, as a file tree or API would.
func (c *Controller) SelectNode(id string) bool {
	n, ok := c.layout.Lookup(id)
	if !ok {
		return false
	}
	c.selection.Select(selection.FromNode(n))
	return true
}

// Transform returns the current view transform.
func (c *Controller) Transform() Transform {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.transform
}

// SetTransform replaces the view transform, for example to fit the graph.
func (c *Controller) SetTransform(t Transform) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if t.Scale == 0 {
		t.Scale = 1
	}
	c.transform = t
}

// SetHome changes the transform ResetView returns to, for example after the
// viewport was resized.
func (c *Controller) SetHome(t Transform) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if t.Scale == 0 {
		t.Scale = 1
	}
	c.home = t
}

// ResetView returns to the home transform and abandons any press in
// progress. Called whenever a new graph is loaded.
func (c *Controller) ResetView() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.press.dragging && c.press.nodeID != "" {
		_ = c.layout.EndDrag(c.press.nodeID)
	}
	c.press = press{}
	c.transform = c.home
}
