// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package tui provides the terminal surface of the viewer.
//
// # Description
//
// Model renders the live layout into a character canvas and forwards mouse
// input to an interaction.Controller, so clicking, dragging, panning and
// wheel zoom behave as in the browser. A status line shows analysis
// progress, the file being analyzed and the stream state; terminal errors
// are shown in red with a retry key. An inspector pane shows the selected
// node.
//
// # Thread Safety
//
// Model is a Bubble Tea model and is only used from the program goroutine.
// Layout frames and session views arrive through latest-wins channels, so
// the goroutines that produce them never block on the terminal.
package tui

import (
	"context"
	"math"
	"sync"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/AleutianAI/livegraph/pkg/logging"
	"github.com/AleutianAI/livegraph/services/viewer/graph"
	"github.com/AleutianAI/livegraph/services/viewer/interaction"
	"github.com/AleutianAI/livegraph/services/viewer/layout"
	"github.com/AleutianAI/livegraph/services/viewer/selection"
	"github.com/AleutianAI/livegraph/services/viewer/session"
)

// Cells are mapped to a pixel-like screen space so that the interaction
// tolerances and node radii mean the same as in the browser.
const (
	cellWidth  = 8.0
	cellHeight = 16.0

	// maxFitScale keeps tiny graphs from filling the screen.
	maxFitScale = 1.5

	inspectorWidth = 34

	// header row above the canvas; status, connection and help rows below.
	headerRows = 1
	footerRows = 3
)

// Session is the part of *session.Session the terminal drives.
type Session interface {
	View() session.View
	Layout() *layout.Engine
	Selection() *selection.Store
	Subscribe(fn func(session.View)) func()
	SetDetailLevel(l graph.DetailLevel)
	Retry(ctx context.Context) error
}

// Options configures the model.
type Options struct {
	Logger      *logging.Logger
	Interaction interaction.Config

	// HideInspector starts with the inspector pane closed.
	HideInspector bool
}

// ===== Messages =====

type frameMsg layout.Frame

type viewMsg session.View

type retryMsg struct{ err error }

// pressOffset moves the pointer from a clicked cell onto the node drawn in
// it for the rest of the press.
type pressOffset struct {
	active bool
	dx, dy float64
}

// =============================================================================
// Model
// =============================================================================

// Model is the Bubble Tea model of the viewer.
type Model struct {
	// ctx bounds sessions reopened with the retry key.
	ctx    context.Context
	sess   Session
	logger *logging.Logger
	icfg   interaction.Config
	ctl    *interaction.Controller

	keys     keyMap
	help     help.Model
	spinner  spinner.Model
	progress progress.Model

	frames    chan layout.Frame
	views     chan session.View
	done      chan struct{}
	closeOnce *sync.Once
	unsub     []func()

	frame     layout.Frame
	view      session.View
	width     int
	height    int
	fitted    bool
	inspector bool
	press     pressOffset
	action    interaction.Action
	retryErr  error
}

// New creates the model and subscribes to the session. Close must be called
// once the program has exited.
func New(ctx context.Context, sess Session, opts Options) Model {
	if opts.Logger == nil {
		opts.Logger = logging.Nop()
	}
	if opts.Interaction == (interaction.Config{}) {
		opts.Interaction = interaction.DefaultConfig()
	}

	spin := spinner.New()
	spin.Spinner = spinner.MiniDot
	spin.Style = spinnerStyle

	m := Model{
		ctx:       ctx,
		sess:      sess,
		logger:    opts.Logger,
		icfg:      opts.Interaction,
		keys:      defaultKeyMap(),
		help:      help.New(),
		spinner:   spin,
		progress:  progress.New(progress.WithDefaultGradient(), progress.WithWidth(24), progress.WithoutPercentage()),
		frames:    make(chan layout.Frame, 1),
		views:     make(chan session.View, 1),
		done:      make(chan struct{}),
		closeOnce: &sync.Once{},
		inspector: !opts.HideInspector,
		width:     80,
		height:    24,
		action:    interaction.ActionNone,
	}
	m.ctl = interaction.NewController(m.icfg, sess.Layout(), sess.Selection(), m.home(), m.logger)

	frames, views := m.frames, m.views
	m.unsub = append(m.unsub,
		sess.Layout().Subscribe(func(f layout.Frame) { offer(frames, f) }),
		sess.Subscribe(func(v session.View) { offer(views, v) }),
	)
	m.frame = sess.Layout().Frame()
	m.view = sess.View()
	return m
}

// Close unsubscribes from the session. Safe to call more than once.
func (m Model) Close() {
	m.closeOnce.Do(func() {
		for _, fn := range m.unsub {
			fn()
		}
		close(m.done)
	})
}

// offer hands v to a latest-wins channel of capacity 1.
func offer[T any](ch chan T, v T) {
	for {
		select {
		case ch <- v:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}

func waitFrame(ch <-chan layout.Frame, done <-chan struct{}) tea.Cmd {
	return func() tea.Msg {
		select {
		case f := <-ch:
			return frameMsg(f)
		case <-done:
			return nil
		}
	}
}

func waitView(ch <-chan session.View, done <-chan struct{}) tea.Cmd {
	return func() tea.Msg {
		select {
		case v := <-ch:
			return viewMsg(v)
		case <-done:
			return nil
		}
	}
}

// Init starts the spinner and the subscriptions.
func (m Model) Init() tea.Cmd {
	return tea.Batch(
		m.spinner.Tick,
		waitFrame(m.frames, m.done),
		waitView(m.views, m.done),
	)
}

// =============================================================================
// Update
// =============================================================================

// Update handles messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.help.Width = msg.Width
		m.ctl.SetHome(m.home())
		if m.fitted {
			m.fit()
		} else {
			m.ctl.ResetView()
		}
		return m, nil

	case frameMsg:
		m.frame = layout.Frame(msg)
		if !m.fitted && len(m.frame.Nodes) > 0 {
			m.fit()
		}
		return m, waitFrame(m.frames, m.done)

	case viewMsg:
		v := session.View(msg)
		if v.SessionID != m.view.SessionID {
			m.fitted = false
			m.press = pressOffset{}
			m.ctl.SetHome(m.home())
			m.ctl.ResetView()
		}
		m.view = v
		return m, waitView(m.views, m.done)

	case retryMsg:
		m.retryErr = msg.err
		if msg.err != nil {
			m.logger.Warn("retry failed", "error", msg.err)
		}
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case tea.MouseMsg:
		return m.handleMouse(msg), nil

	case tea.KeyMsg:
		return m.handleKey(msg)
	}
	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		return m, tea.Quit
	case key.Matches(msg, m.keys.Folders):
		m.sess.SetDetailLevel(graph.LevelFolders)
	case key.Matches(msg, m.keys.Files):
		m.sess.SetDetailLevel(graph.LevelFiles)
	case key.Matches(msg, m.keys.All):
		m.sess.SetDetailLevel(graph.LevelAll)
	case key.Matches(msg, m.keys.ZoomIn):
		m.zoom(-1)
	case key.Matches(msg, m.keys.ZoomOut):
		m.zoom(1)
	case key.Matches(msg, m.keys.Fit):
		m.fit()
	case key.Matches(msg, m.keys.ResetView):
		m.ctl.ResetView()
	case key.Matches(msg, m.keys.Clear):
		m.sess.Selection().Clear()
	case key.Matches(msg, m.keys.Inspector):
		m.inspector = !m.inspector
	case key.Matches(msg, m.keys.Help):
		m.help.ShowAll = !m.help.ShowAll
	case key.Matches(msg, m.keys.Retry):
		m.retryErr = nil
		return m, m.retry()
	}
	return m, nil
}

func (m Model) retry() tea.Cmd {
	ctx, sess := m.ctx, m.sess
	return func() tea.Msg {
		return retryMsg{err: sess.Retry(ctx)}
	}
}

// zoom zooms about the canvas center. Negative delta zooms in.
func (m *Model) zoom(delta float64) {
	w, h := m.canvasSize()
	m.action = m.ctl.Handle(interaction.PointerEvent{
		Kind:   interaction.Wheel,
		X:      float64(w) * cellWidth / 2,
		Y:      float64(h) * cellHeight / 2,
		DeltaY: delta,
	})
}

// fit frames the whole graph and makes that the home view.
func (m *Model) fit() {
	if len(m.frame.Nodes) == 0 {
		return
	}
	w, h := m.canvasSize()
	minX, minY, maxX, maxY := m.frame.Bounds()
	t := interaction.Fit(minX, minY, maxX, maxY,
		float64(w)*cellWidth, float64(h)*cellHeight, cellHeight,
		m.icfg.MinScale, math.Min(maxFitScale, m.icfg.MaxScale))
	m.ctl.SetHome(t)
	m.ctl.SetTransform(t)
	m.fitted = true
}

func (m Model) home() interaction.Transform {
	w, h := m.canvasSize()
	return interaction.Centered(float64(w)*cellWidth, float64(h)*cellHeight)
}

// canvasSize returns the canvas size in cells.
func (m Model) canvasSize() (int, int) {
	w := m.width
	if m.showInspector() {
		w -= inspectorWidth
	}
	return max(w, 1), max(m.height-headerRows-footerRows, 1)
}

func (m Model) showInspector() bool {
	return m.inspector && m.view.Selection != nil && m.width > inspectorWidth*2
}

// ===== Mouse =====

func (m Model) handleMouse(msg tea.MouseMsg) Model {
	col, row := msg.X, msg.Y-headerRows
	w, h := m.canvasSize()
	inside := col >= 0 && col < w && row >= 0 && row < h
	sx := (float64(col) + 0.5) * cellWidth
	sy := (float64(row) + 0.5) * cellHeight

	var ev interaction.PointerEvent
	switch {
	case msg.Button == tea.MouseButtonWheelUp || msg.Button == tea.MouseButtonWheelDown:
		if !inside || msg.Action != tea.MouseActionPress {
			return m
		}
		delta := 1.0
		if msg.Button == tea.MouseButtonWheelUp {
			delta = -1
		}
		ev = interaction.PointerEvent{Kind: interaction.Wheel, X: sx, Y: sy, DeltaY: delta}

	case msg.Action == tea.MouseActionPress && msg.Button == tea.MouseButtonLeft:
		if !inside {
			return m
		}
		m.press = m.snap(col, row, sx, sy)
		ev = interaction.PointerEvent{Kind: interaction.PointerDown, X: sx + m.press.dx, Y: sy + m.press.dy}

	case msg.Action == tea.MouseActionMotion:
		if !m.press.active {
			return m
		}
		ev = interaction.PointerEvent{Kind: interaction.PointerMove, X: sx + m.press.dx, Y: sy + m.press.dy}

	case msg.Action == tea.MouseActionRelease:
		if !m.press.active {
			return m
		}
		ev = interaction.PointerEvent{Kind: interaction.PointerUp, X: sx + m.press.dx, Y: sy + m.press.dy}
		m.press = pressOffset{}

	default:
		return m
	}

	if a := m.ctl.Handle(ev); a != interaction.ActionNone {
		m.action = a
	}
	return m
}

// snap aims a press at the center of the topmost node drawn in the cell.
func (m Model) snap(col, row int, sx, sy float64) pressOffset {
	t := m.ctl.Transform()
	for i := len(m.frame.Nodes) - 1; i >= 0; i-- {
		n := m.frame.Nodes[i]
		nx, ny := t.ToScreen(n.X, n.Y)
		c, r := cellOf(nx, ny)
		if c == col && r == row {
			return pressOffset{active: true, dx: nx - sx, dy: ny - sy}
		}
	}
	return pressOffset{active: true}
}

func cellOf(sx, sy float64) (int, int) {
	return int(math.Floor(sx / cellWidth)), int(math.Floor(sy / cellHeight))
}
