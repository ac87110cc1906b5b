// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package session wires the viewer components for one analysis at a time.
//
// A Session owns the streaming connection, the status store and its poller,
// the graph model, the layout engine and the selection store. Pushed and
// polled snapshots flow into the status store; every applied snapshot is
// merged into the graph model, and the model's graph at the current detail
// level is handed to the layout engine. Polling runs only while the stream
// is not open.
//
// Switching sessions tears down in a fixed order: polling stops, the stream
// is closed with a normal closure, then the simulation, selection and model
// are discarded.
package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/livegraph/pkg/logging"
	"github.com/AleutianAI/livegraph/services/viewer/backend"
	"github.com/AleutianAI/livegraph/services/viewer/clock"
	"github.com/AleutianAI/livegraph/services/viewer/connection"
	"github.com/AleutianAI/livegraph/services/viewer/datatypes"
	"github.com/AleutianAI/livegraph/services/viewer/graph"
	"github.com/AleutianAI/livegraph/services/viewer/layout"
	"github.com/AleutianAI/livegraph/services/viewer/observability"
	"github.com/AleutianAI/livegraph/services/viewer/selection"
	"github.com/AleutianAI/livegraph/services/viewer/status"
	"github.com/AleutianAI/livegraph/services/viewer/telemetry"
)

const tracerName = "livegraph.session"

var (
	// ErrEmptySessionID is returned by Open for an empty id.
	ErrEmptySessionID = errors.New("session id must not be empty")

	// ErrNoSession is returned by Retry when no session was ever opened.
	ErrNoSession = errors.New("no session to retry")
)

// Backend is the part of the analysis backend a session uses.
type Backend interface {
	Submit(ctx context.Context, repoURL, branch string) (*datatypes.SubmitResponse, error)
	FetchSnapshot(ctx context.Context, id string) (*datatypes.AnalysisSnapshot, error)
	FetchGraph(ctx context.Context, id string, level graph.DetailLevel) (*datatypes.FlatGraph, error)
	FetchNode(ctx context.Context, id, nodeID string) (*datatypes.NodeDetails, error)
	StreamURL(id string) (string, error)
}

// Config groups the tunables of every component.
type Config struct {
	Connection connection.Config
	Polling    status.PollerConfig
	Layout     layout.Params
	Level      graph.DetailLevel

	// ClientID is sent as X-Client-ID on the stream handshake.
	ClientID string
}

// DefaultConfig returns the component defaults.
func DefaultConfig() Config {
	return Config{
		Connection: connection.DefaultConfig(),
		Polling:    status.DefaultPollerConfig(),
		Layout:     layout.DefaultParams(),
		Level:      graph.DefaultDetailLevel,
	}
}

// Options carries injectable collaborators. Zero values use defaults.
type Options struct {
	Dialer  connection.Dialer
	Clock   clock.Clock
	Logger  *logging.Logger
	Metrics *observability.ViewerMetrics
}

// View is the aggregated state surfaces render outside the graph itself.
type View struct {
	SessionID  string                 `json:"session_id"`
	Status     status.View            `json:"status"`
	Connection connection.State       `json:"-"`
	Selection  *selection.Selection   `json:"selection,omitempty"`
	Details    *datatypes.NodeDetails `json:"details,omitempty"`
	Level      graph.DetailLevel      `json:"detail_level"`
	Nodes      int                    `json:"nodes"`
	Edges      int                    `json:"edges"`
}

// Err returns the terminal error to show, if any.
func (v View) Err() error {
	if v.Status.Err != nil {
		return v.Status.Err
	}
	if v.Connection.Phase == connection.PhaseFailed {
		return v.Connection.Err
	}
	return nil
}

// Session orchestrates the viewer components.
//
// # Description
//
// Open starts a session: the stream is dialed and the poller runs until
// the stream is open. When the analysis completes, the full graph is fetched
// once and merged. Selecting a node fetches its details for the inspector
// and enriches the node's metadata. Close tears everything down.
//
// # Thread Safety
//
// All methods are safe for concurrent use. Open, Close, Submit and Retry
// must not be called from subscriber callbacks.
type Session struct {
	cfg     Config
	backend Backend
	logger  *logging.Logger

	status *status.Store
	poller *status.Poller
	conn   *connection.Manager
	model  *graph.Model
	engine *layout.Engine
	sel    *selection.Store

	mu           sync.Mutex
	id           string
	last         string
	gen          uint64
	cancel       context.CancelFunc
	ctx          context.Context
	graphFetched bool
	inspected    string
	details      *datatypes.NodeDetails
	level        graph.DetailLevel
	wg           sync.WaitGroup

	subMu   sync.Mutex
	subs    map[int]func(View)
	nextSub int
}

// New wires a session. Nothing is dialed until Open.
func New(cfg Config, be Backend, opts Options) *Session {
	if opts.Logger == nil {
		opts.Logger = logging.Nop()
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real{}
	}
	if opts.Dialer == nil {
		opts.Dialer = connection.NewWebsocketDialer(cfg.Connection.HandshakeTimeout)
	}
	if cfg.Level == 0 {
		cfg.Level = graph.DefaultDetailLevel
	}

	s := &Session{
		cfg:     cfg,
		backend: be,
		logger:  opts.Logger,
		status:  status.NewStore(),
		model:   graph.NewModel(opts.Logger),
		engine:  layout.NewEngine(cfg.Layout, opts.Clock, opts.Logger),
		sel:     selection.NewStore(),
		level:   cfg.Level,
		ctx:     context.Background(),
		subs:    make(map[int]func(View)),
	}
	s.sel.SetDetailLevel(cfg.Level)

	var header http.Header
	if cfg.ClientID != "" {
		header = http.Header{"X-Client-ID": {cfg.ClientID}}
	}
	s.conn = connection.NewManager(cfg.Connection, opts.Dialer, be.StreamURL, connection.Handlers{
		OnMessage:       s.handlePush,
		OnStateChange:   s.handleConnState,
		OnProtocolError: s.handleProtocolError,
	}, opts.Clock, opts.Logger, opts.Metrics, header)
	s.poller = status.NewPoller(s.status, status.FetcherFunc(s.fetchSnapshot), cfg.Polling, opts.Clock, opts.Logger, opts.Metrics)

	s.status.Subscribe(s.handleStatus)
	s.sel.Subscribe(s.handleSelection)
	return s
}

// =============================================================================
// Component Accessors
// =============================================================================

// Status returns the read side of the status store.
func (s *Session) Status() *status.Store { return s.status }

// Layout returns the layout engine.
func (s *Session) Layout() *layout.Engine { return s.engine }

// Selection returns the selection store.
func (s *Session) Selection() *selection.Store { return s.sel }

// Model returns the graph model.
func (s *Session) Model() *graph.Model { return s.model }

// Connection returns the current connection state.
func (s *Session) Connection() connection.State { return s.conn.State() }

// ID returns the active session id, or "".
func (s *Session) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}

// =============================================================================
// Lifecycle
// =============================================================================

// Open starts viewing analysis id, tearing down any current session first.
// ctx bounds the lifetime of the session.
func (s *Session) Open(ctx context.Context, id string) error {
	if id == "" {
		return ErrEmptySessionID
	}
	ctx, span := telemetry.StartSpan(ctx, tracerName, "Session.Open",
		trace.WithAttributes(attribute.String("session.id", id)))
	defer span.End()

	s.teardown()

	sctx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.gen++
	s.id = id
	s.last = id
	s.ctx = sctx
	s.cancel = cancel
	s.mu.Unlock()

	s.logger.Info("session opened", "session_id", id, "trace_id", telemetry.TraceID(ctx))
	s.status.Reset(id)
	s.poller.Start(sctx, id)
	if err := s.conn.Open(sctx, id); err != nil {
		telemetry.RecordError(span, err)
		s.teardown()
		return fmt.Errorf("open stream: %w", err)
	}
	s.notify()
	return nil
}

// Submit starts an analysis of repoURL and opens it.
func (s *Session) Submit(ctx context.Context, repoURL, branch string) (string, error) {
	resp, err := s.backend.Submit(ctx, repoURL, branch)
	if err != nil {
		return "", fmt.Errorf("submit: %w", err)
	}
	if err := s.Open(ctx, resp.ID); err != nil {
		return "", err
	}
	return resp.ID, nil
}

// Retry reopens the last session, for example after a terminal error.
func (s *Session) Retry(ctx context.Context) error {
	s.mu.Lock()
	last := s.last
	s.mu.Unlock()
	if last == "" {
		return ErrNoSession
	}
	s.logger.Info("retrying session", "session_id", last)
	return s.Open(ctx, last)
}

// Close ends the current session. Idempotent.
func (s *Session) Close() {
	s.teardown()
}

// Run drives the layout loop until ctx is done, then closes the session.
func (s *Session) Run(ctx context.Context) error {
	defer s.Close()
	if err := s.engine.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// SetDetailLevel changes which node kinds are laid out.
func (s *Session) SetDetailLevel(l graph.DetailLevel) {
	s.sel.SetDetailLevel(l)
}

func (s *Session) teardown() {
	s.mu.Lock()
	if s.id == "" && s.cancel == nil {
		s.mu.Unlock()
		return
	}
	id := s.id
	s.id = ""
	s.gen++
	cancel := s.cancel
	s.cancel = nil
	s.ctx = context.Background()
	s.graphFetched = false
	s.inspected = ""
	s.details = nil
	s.mu.Unlock()

	s.poller.Stop()
	s.conn.Close()
	if cancel != nil {
		cancel()
	}
	s.conn.Wait()
	s.wg.Wait()

	s.engine.Reset()
	s.sel.Reset()
	s.model.Reset()
	s.status.Reset("")
	s.logger.Info("session closed", "session_id", id)
	s.notify()
}

// current reports whether gen is still the active generation.
func (s *Session) current(gen uint64) (context.Context, string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ctx, s.id, gen == s.gen && s.id != ""
}

func (s *Session) snapshotGen() (uint64, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen, s.id
}

// =============================================================================
// Event Handlers
// =============================================================================

func (s *Session) handlePush(id string, snap *datatypes.AnalysisSnapshot) {
	if _, cur := s.snapshotGen(); id != cur {
		return
	}
	outcome := s.status.Apply(id, snap, status.SourcePush, s.status.Stamp())
	if outcome != status.Applied {
		s.logger.Debug("push not applied", "session_id", id, "outcome", string(outcome))
	}
}

func (s *Session) handleProtocolError(id string, err error) {
	s.logger.Warn("stream message dropped", "session_id", id, "error", err)
}

func (s *Session) handleConnState(st connection.State) {
	gen, cur := s.snapshotGen()
	if st.SessionID != cur || cur == "" {
		return
	}
	ctx, _, ok := s.current(gen)
	if !ok {
		return
	}

	switch st.Phase {
	case connection.PhaseOpen:
		s.poller.Stop()
	case connection.PhaseConnecting, connection.PhaseReconnecting:
		s.poller.Start(ctx, cur)
	case connection.PhaseClosed:
		// The server ended the stream; keep polling while still processing.
		if s.status.View().Processing() {
			s.poller.Start(ctx, cur)
		}
	case connection.PhaseFailed:
		if s.status.View().Processing() {
			s.status.Fail(cur, st.Err)
		}
	}
	s.notify()
}

func (s *Session) handleStatus(v status.View) {
	gen, cur := s.snapshotGen()
	if v.SessionID == "" || v.SessionID != cur {
		return
	}
	ctx, _, ok := s.current(gen)
	if !ok {
		return
	}

	if v.Err != nil {
		s.logger.Warn("session failed", "session_id", cur, "error", v.Err)
		if !s.conn.State().Terminal() {
			s.conn.Close()
		}
		s.notify()
		return
	}
	if v.Snapshot == nil {
		s.notify()
		return
	}

	res, err := s.model.Apply(ctx, v.Snapshot)
	if err != nil {
		s.logger.Error("apply snapshot", "session_id", cur, "error", err)
		return
	}
	if res.Changed || res.Enriched > 0 {
		s.refreshLayout()
	}
	if v.Snapshot.Status == datatypes.StatusCompleted {
		s.fetchFullGraph(gen)
	}
	s.notify()
}

func (s *Session) handleSelection(st selection.State) {
	s.mu.Lock()
	levelChanged := st.Level != s.level
	s.level = st.Level
	gen := s.gen
	id := s.id
	var fetch string
	switch {
	case st.Selected == nil:
		s.inspected = ""
		s.details = nil
	case st.Selected.ID != s.inspected:
		s.inspected = st.Selected.ID
		s.details = nil
		fetch = st.Selected.ID
	}
	s.mu.Unlock()

	if levelChanged {
		s.refreshLayout()
	}
	if fetch != "" && id != "" {
		s.inspect(gen, fetch)
	}
	s.notify()
}

// refreshLayout hands the model's graph at the current level to the layout
// engine and keeps the selection in step with it.
func (s *Session) refreshLayout() {
	level := s.sel.DetailLevel()
	g := s.model.Graph(level)
	s.engine.SetGraph(g)

	cur, ok := s.sel.Current()
	if !ok {
		return
	}
	n, ok := g.NodeByID(cur.ID)
	if !ok {
		s.sel.Clear()
		return
	}
	s.sel.Select(selection.FromNode(n))
}

// fetchFullGraph merges the completed analysis graph, functions included.
// It runs at most once per session unless the backend is not ready yet.
func (s *Session) fetchFullGraph(gen uint64) {
	s.mu.Lock()
	if gen != s.gen || s.graphFetched || s.id == "" {
		s.mu.Unlock()
		return
	}
	s.graphFetched = true
	ctx, id := s.ctx, s.id
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		flat, err := s.backend.FetchGraph(ctx, id, graph.LevelAll)
		if err != nil {
			if ctx.Err() == nil {
				s.logger.Warn("graph fetch failed", "session_id", id, "error", err)
			}
			if errors.Is(err, backend.ErrNotReady) {
				s.mu.Lock()
				if gen == s.gen {
					s.graphFetched = false
				}
				s.mu.Unlock()
			}
			return
		}
		if _, _, ok := s.current(gen); !ok {
			return
		}
		res := s.model.ApplyGraph(graph.BuildFlat(flat))
		s.logger.Info("full graph merged", "session_id", id, "added", res.Added, "enriched", res.Enriched)
		if res.Changed || res.Enriched > 0 {
			s.refreshLayout()
		}
		s.notify()
	}()
}

// inspect fetches node details for the inspector.
func (s *Session) inspect(gen uint64, nodeID string) {
	s.mu.Lock()
	if gen != s.gen || s.id == "" {
		s.mu.Unlock()
		return
	}
	ctx, id := s.ctx, s.id
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		d, err := s.backend.FetchNode(ctx, id, nodeID)
		if err != nil {
			if ctx.Err() == nil {
				s.logger.Debug("node details unavailable", "session_id", id, "node_id", nodeID, "error", err)
			}
			return
		}

		s.mu.Lock()
		if gen != s.gen || s.inspected != nodeID {
			s.mu.Unlock()
			return
		}
		s.details = d
		s.mu.Unlock()

		if existing, ok := s.model.Node(nodeID); ok {
			wire := datatypes.WireNode{ID: d.ID, Type: d.Type, Name: d.Name, Data: d.Data}
			n := datatypes.GraphNode{ID: nodeID, Kind: existing.Kind, Name: existing.Name, Metadata: wire.Metadata()}
			if res := s.model.ApplyGraph(datatypes.Graph{Nodes: []datatypes.GraphNode{n}}); res.Enriched > 0 {
				s.refreshLayout()
			}
		}
		s.notify()
	}()
}

// fetchSnapshot adapts the backend for the poller, translating a missing
// analysis into the terminal status error.
func (s *Session) fetchSnapshot(ctx context.Context, id string) (*datatypes.AnalysisSnapshot, error) {
	snap, err := s.backend.FetchSnapshot(ctx, id)
	if err != nil {
		if errors.Is(err, backend.ErrNotFound) {
			return nil, fmt.Errorf("%w: %v", status.ErrAnalysisNotFound, err)
		}
		return nil, err
	}
	return snap, nil
}

// =============================================================================
// Subscriptions
// =============================================================================

// View returns the aggregated state.
func (s *Session) View() View {
	s.mu.Lock()
	id := s.id
	details := s.details
	s.mu.Unlock()

	v := View{
		SessionID:  id,
		Status:     s.status.View(),
		Connection: s.conn.State(),
		Details:    details,
		Level:      s.sel.DetailLevel(),
	}
	if cur, ok := s.sel.Current(); ok {
		v.Selection = &cur
	}
	f := s.engine.Frame()
	v.Nodes, v.Edges = len(f.Nodes), len(f.Links)
	return v
}

// Subscribe registers fn for View changes and returns an unsubscribe func.
// fn runs on whichever goroutine caused the change.
func (s *Session) Subscribe(fn func(View)) func() {
	s.subMu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.subMu.Unlock()
	return func() {
		s.subMu.Lock()
		delete(s.subs, id)
		s.subMu.Unlock()
	}
}

func (s *Session) notify() {
	s.subMu.Lock()
	fns := make([]func(View), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.subMu.Unlock()
	if len(fns) == 0 {
		return
	}
	v := s.View()
	for _, fn := range fns {
		fn(v)
	}
}
