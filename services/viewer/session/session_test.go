// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/livegraph/services/viewer/backend"
	"github.com/AleutianAI/livegraph/services/viewer/clock"
	"github.com/AleutianAI/livegraph/services/viewer/connection"
	"github.com/AleutianAI/livegraph/services/viewer/datatypes"
	"github.com/AleutianAI/livegraph/services/viewer/graph"
	"github.com/AleutianAI/livegraph/services/viewer/selection"
	"github.com/AleutianAI/livegraph/services/viewer/status"
)

// =============================================================================
// Fakes
// =============================================================================

type fakeBackend struct {
	mu         sync.Mutex
	snapshot   func(id string) (*datatypes.AnalysisSnapshot, error)
	flat       *datatypes.FlatGraph
	details    map[string]*datatypes.NodeDetails
	polls      int
	graphCalls int
	nodeCalls  int
}

func (b *fakeBackend) Submit(_ context.Context, repoURL, _ string) (*datatypes.SubmitResponse, error) {
	if repoURL == "" {
		return nil, backend.ErrInvalidRequest
	}
	return &datatypes.SubmitResponse{ID: "abc123", Status: datatypes.StatusProcessing}, nil
}

func (b *fakeBackend) FetchSnapshot(_ context.Context, id string) (*datatypes.AnalysisSnapshot, error) {
	b.mu.Lock()
	b.polls++
	fn := b.snapshot
	b.mu.Unlock()
	if fn == nil {
		return &datatypes.AnalysisSnapshot{Status: datatypes.StatusProcessing}, nil
	}
	return fn(id)
}

func (b *fakeBackend) FetchGraph(_ context.Context, _ string, _ graph.DetailLevel) (*datatypes.FlatGraph, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.graphCalls++
	if b.flat == nil {
		return nil, &backend.HTTPError{Method: http.MethodGet, StatusCode: http.StatusBadRequest}
	}
	return b.flat, nil
}

func (b *fakeBackend) FetchNode(_ context.Context, _ string, nodeID string) (*datatypes.NodeDetails, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nodeCalls++
	d, ok := b.details[nodeID]
	if !ok {
		return nil, backend.ErrNotFound
	}
	return d, nil
}

func (b *fakeBackend) StreamURL(id string) (string, error) {
	return "ws://backend/api/repo/" + id + "/stream", nil
}

func (b *fakeBackend) Polls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.polls
}

type fakeConn struct {
	msgs   chan []byte
	closed chan struct{}
	once   sync.Once

	mu    sync.Mutex
	codes []int
}

func newFakeConn() *fakeConn {
	return &fakeConn{msgs: make(chan []byte, 16), closed: make(chan struct{})}
}

func (c *fakeConn) push(t *testing.T, snap datatypes.AnalysisSnapshot) {
	t.Helper()
	data, err := json.Marshal(snap)
	require.NoError(t, err)
	c.msgs <- data
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	select {
	case m := <-c.msgs:
		return websocket.TextMessage, m, nil
	case <-c.closed:
		return 0, nil, &websocket.CloseError{Code: websocket.CloseAbnormalClosure}
	}
}

func (c *fakeConn) WriteControl(mt int, data []byte, _ time.Time) error {
	if mt == websocket.CloseMessage && len(data) >= 2 {
		c.mu.Lock()
		c.codes = append(c.codes, int(data[0])<<8|int(data[1]))
		c.mu.Unlock()
	}
	return nil
}

func (c *fakeConn) SetReadDeadline(time.Time) error { return nil }

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) Codes() []int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]int(nil), c.codes...)
}

type dialFunc func(ctx context.Context, url string, h http.Header) (connection.Conn, error)

func (f dialFunc) Dial(ctx context.Context, url string, h http.Header) (connection.Conn, error) {
	return f(ctx, url, h)
}

func abc123Structure() *datatypes.RepoStructure {
	return &datatypes.RepoStructure{
		ID: "abc123",
		Folders: map[string]datatypes.FolderNode{
			"src": {Folders: map[string]datatypes.FolderNode{}},
		},
		Files: []datatypes.FileEntry{{Path: "src/a.py", Hash: "h1", Size: 120}},
	}
}

func newSession(t *testing.T, be *fakeBackend, d connection.Dialer, clk clock.Clock) *Session {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Polling.Interval = time.Second
	cfg.Connection.Jitter = 0
	cfg.ClientID = "client-1"
	s := New(cfg, be, Options{Dialer: d, Clock: clk})
	t.Cleanup(s.Close)
	return s
}

func nodeIDs(s *Session) []string {
	var ids []string
	for _, n := range s.Layout().Frame().Nodes {
		ids = append(ids, n.ID)
	}
	return ids
}

// =============================================================================
// Tests
// =============================================================================

func TestSession_Abc123EndToEnd(t *testing.T) {
	conn := newFakeConn()
	var header http.Header
	d := dialFunc(func(_ context.Context, _ string, h http.Header) (connection.Conn, error) {
		header = h
		return conn, nil
	})
	be := &fakeBackend{
		flat: &datatypes.FlatGraph{
			Nodes: []datatypes.WireNode{
				{ID: "src/a.py", Type: "file", Name: "a.py"},
				{ID: "src/a.py:main", Type: "function", Name: "main", Data: map[string]any{"start_line": 3.0}},
			},
			Edges: []datatypes.WireEdge{{Source: "src/a.py", Target: "src/a.py:main", Type: "contains"}},
		},
	}
	s := newSession(t, be, d, clock.NewManual(time.Unix(0, 0)))

	require.NoError(t, s.Open(context.Background(), "abc123"))
	require.Eventually(t, func() bool { return s.Connection().Phase == connection.PhaseOpen }, time.Second, time.Millisecond)
	assert.Equal(t, "client-1", header.Get("X-Client-ID"))

	conn.push(t, datatypes.AnalysisSnapshot{Status: datatypes.StatusProcessing, Progress: 40, Structure: abc123Structure()})
	require.Eventually(t, func() bool { return len(nodeIDs(s)) == 2 }, time.Second, time.Millisecond)
	assert.ElementsMatch(t, []string{"src", "src/a.py"}, nodeIDs(s))

	links := s.Layout().Frame().Links
	require.Len(t, links, 1)
	assert.Equal(t, "src", links[0].Source)
	assert.Equal(t, "src/a.py", links[0].Target)

	// Completion fetches the full graph once; functions show at level 3.
	conn.push(t, datatypes.AnalysisSnapshot{Status: datatypes.StatusCompleted, Progress: 100, Structure: abc123Structure()})
	require.Eventually(t, func() bool {
		_, ok := s.Model().Node("src/a.py:main")
		return ok
	}, time.Second, time.Millisecond)
	assert.Len(t, nodeIDs(s), 2, "functions are hidden at the default level")

	s.SetDetailLevel(graph.LevelAll)
	require.Eventually(t, func() bool { return len(nodeIDs(s)) == 3 }, time.Second, time.Millisecond)

	s.SetDetailLevel(graph.LevelFolders)
	require.Eventually(t, func() bool { return len(nodeIDs(s)) == 1 }, time.Second, time.Millisecond)

	v := s.View()
	assert.Equal(t, "abc123", v.SessionID)
	assert.Equal(t, datatypes.StatusCompleted, v.Status.Snapshot.Status)
	assert.NoError(t, v.Err())
}

func TestSession_PollsUntilStreamOpens(t *testing.T) {
	release := make(chan struct{})
	conn := newFakeConn()
	d := dialFunc(func(ctx context.Context, _ string, _ http.Header) (connection.Conn, error) {
		select {
		case <-release:
			return conn, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	})
	be := &fakeBackend{snapshot: func(string) (*datatypes.AnalysisSnapshot, error) {
		return &datatypes.AnalysisSnapshot{Status: datatypes.StatusProcessing, Progress: 5, Structure: abc123Structure()}, nil
	}}
	clk := clock.NewManual(time.Unix(0, 0))
	s := newSession(t, be, d, clk)

	require.NoError(t, s.Open(context.Background(), "abc123"))
	require.Eventually(t, func() bool { return be.Polls() >= 1 }, time.Second, time.Millisecond)
	require.Eventually(t, func() bool { return len(nodeIDs(s)) == 2 }, time.Second, time.Millisecond)
	assert.Equal(t, status.SourcePoll, s.Status().View().Source)

	close(release)
	require.Eventually(t, func() bool { return s.Connection().Phase == connection.PhaseOpen }, time.Second, time.Millisecond)

	polls := be.Polls()
	clk.Advance(time.Minute)
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, polls, be.Polls(), "no polling while the stream is open")
}

func TestSession_CloseTearsDownInOrder(t *testing.T) {
	conn := newFakeConn()
	d := dialFunc(func(context.Context, string, http.Header) (connection.Conn, error) { return conn, nil })
	be := &fakeBackend{details: map[string]*datatypes.NodeDetails{}}
	s := newSession(t, be, d, clock.NewManual(time.Unix(0, 0)))

	require.NoError(t, s.Open(context.Background(), "abc123"))
	require.Eventually(t, func() bool { return s.Connection().Phase == connection.PhaseOpen }, time.Second, time.Millisecond)
	conn.push(t, datatypes.AnalysisSnapshot{Status: datatypes.StatusProcessing, Structure: abc123Structure()})
	require.Eventually(t, func() bool { return len(nodeIDs(s)) == 2 }, time.Second, time.Millisecond)
	n, _ := s.Model().Node("src")
	s.Selection().Select(selection.FromNode(n))

	s.Close()
	s.Close()

	assert.Equal(t, []int{websocket.CloseNormalClosure}, conn.Codes())
	assert.Equal(t, connection.PhaseClosed, s.Connection().Phase)
	assert.Empty(t, nodeIDs(s))
	_, selected := s.Selection().Current()
	assert.False(t, selected)
	assert.Empty(t, s.Model().Graph(graph.LevelAll).Nodes)
	assert.Equal(t, "", s.ID())
	assert.Nil(t, s.Status().View().Snapshot)
}

func TestSession_SwitchingSessionsDiscardsPreviousGraph(t *testing.T) {
	conns := map[string]*fakeConn{"abc123": newFakeConn(), "def456": newFakeConn()}
	d := dialFunc(func(_ context.Context, url string, _ http.Header) (connection.Conn, error) {
		for id, c := range conns {
			if url == "ws://backend/api/repo/"+id+"/stream" {
				return c, nil
			}
		}
		return nil, fmt.Errorf("unexpected url %s", url)
	})
	s := newSession(t, &fakeBackend{}, d, clock.NewManual(time.Unix(0, 0)))

	require.NoError(t, s.Open(context.Background(), "abc123"))
	require.Eventually(t, func() bool { return s.Connection().Phase == connection.PhaseOpen }, time.Second, time.Millisecond)
	conns["abc123"].push(t, datatypes.AnalysisSnapshot{Status: datatypes.StatusProcessing, Structure: abc123Structure()})
	require.Eventually(t, func() bool { return len(nodeIDs(s)) == 2 }, time.Second, time.Millisecond)

	require.NoError(t, s.Open(context.Background(), "def456"))
	assert.Equal(t, []int{websocket.CloseNormalClosure}, conns["abc123"].Codes())
	assert.Empty(t, nodeIDs(s))
	require.Eventually(t, func() bool {
		st := s.Connection()
		return st.Phase == connection.PhaseOpen && st.SessionID == "def456"
	}, time.Second, time.Millisecond)

	conns["def456"].push(t, datatypes.AnalysisSnapshot{Status: datatypes.StatusProcessing, Structure: &datatypes.RepoStructure{
		Files: []datatypes.FileEntry{{Path: "lib/b.go"}},
	}})
	require.Eventually(t, func() bool { return len(nodeIDs(s)) == 2 }, time.Second, time.Millisecond)
	assert.ElementsMatch(t, []string{"lib", "lib/b.go"}, nodeIDs(s))
}

func TestSession_NotFoundIsTerminal(t *testing.T) {
	d := dialFunc(func(context.Context, string, http.Header) (connection.Conn, error) {
		return nil, errors.New("refused")
	})
	be := &fakeBackend{snapshot: func(id string) (*datatypes.AnalysisSnapshot, error) {
		return nil, &backend.HTTPError{Method: http.MethodGet, Path: "/api/repo/" + id, StatusCode: http.StatusNotFound, Detail: "Analysis not found"}
	}}
	s := newSession(t, be, d, clock.NewManual(time.Unix(0, 0)))

	require.NoError(t, s.Open(context.Background(), "gone"))
	require.Eventually(t, func() bool { return s.View().Err() != nil }, time.Second, time.Millisecond)

	err := s.View().Err()
	assert.ErrorIs(t, err, status.ErrAnalysisNotFound)
	require.Eventually(t, func() bool { return s.Connection().Terminal() }, time.Second, time.Millisecond)
	assert.Equal(t, connection.PhaseClosed, s.Connection().Phase, "reconnection stops")
	assert.Equal(t, 1, be.Polls())
}

func TestSession_StreamFailureIsTerminalAndRetryable(t *testing.T) {
	var mu sync.Mutex
	fail := true
	conn := newFakeConn()
	d := dialFunc(func(context.Context, string, http.Header) (connection.Conn, error) {
		mu.Lock()
		defer mu.Unlock()
		if fail {
			return nil, errors.New("refused")
		}
		return conn, nil
	})
	clk := clock.NewManual(time.Unix(0, 0))
	s := newSession(t, &fakeBackend{}, d, clk)

	require.NoError(t, s.Open(context.Background(), "abc123"))
	require.Eventually(t, func() bool {
		clk.Advance(time.Minute)
		return s.Connection().Phase == connection.PhaseFailed
	}, 2*time.Second, time.Millisecond)

	err := s.View().Err()
	assert.ErrorIs(t, err, connection.ErrRetriesExhausted)
	assert.False(t, s.Status().View().Processing())

	mu.Lock()
	fail = false
	mu.Unlock()
	require.NoError(t, s.Retry(context.Background()))
	require.Eventually(t, func() bool { return s.Connection().Phase == connection.PhaseOpen }, time.Second, time.Millisecond)
	assert.NoError(t, s.View().Err())
}

func TestSession_SelectionFetchesDetails(t *testing.T) {
	conn := newFakeConn()
	d := dialFunc(func(context.Context, string, http.Header) (connection.Conn, error) { return conn, nil })
	be := &fakeBackend{details: map[string]*datatypes.NodeDetails{
		"src/a.py": {ID: "src/a.py", Type: "file", Name: "a.py", Data: map[string]any{"summary": "entry point", "language": "python"}},
	}}
	s := newSession(t, be, d, clock.NewManual(time.Unix(0, 0)))

	require.NoError(t, s.Open(context.Background(), "abc123"))
	require.Eventually(t, func() bool { return s.Connection().Phase == connection.PhaseOpen }, time.Second, time.Millisecond)
	conn.push(t, datatypes.AnalysisSnapshot{Status: datatypes.StatusProcessing, Structure: abc123Structure()})
	require.Eventually(t, func() bool { return len(nodeIDs(s)) == 2 }, time.Second, time.Millisecond)

	n, ok := s.Model().Node("src/a.py")
	require.True(t, ok)
	s.Selection().Select(selection.FromNode(n))

	require.Eventually(t, func() bool { return s.View().Details != nil }, time.Second, time.Millisecond)
	require.Eventually(t, func() bool {
		cur, ok := s.Selection().Current()
		return ok && cur.Metadata != nil && cur.Metadata.Summary == "entry point"
	}, time.Second, time.Millisecond)

	cur, _ := s.Selection().Current()
	assert.Equal(t, "h1", cur.Metadata.Hash, "enrichment keeps existing fields")
	assert.Equal(t, "python", cur.Metadata.Language)

	s.Selection().Clear()
	assert.Nil(t, s.View().Details)
}

func TestSession_SubmitOpens(t *testing.T) {
	conn := newFakeConn()
	d := dialFunc(func(context.Context, string, http.Header) (connection.Conn, error) { return conn, nil })
	s := newSession(t, &fakeBackend{}, d, clock.NewManual(time.Unix(0, 0)))

	id, err := s.Submit(context.Background(), "https://github.com/acme/widgets", "main")
	require.NoError(t, err)
	assert.Equal(t, "abc123", id)
	assert.Equal(t, "abc123", s.ID())

	_, err = s.Submit(context.Background(), "", "")
	assert.ErrorIs(t, err, backend.ErrInvalidRequest)
}

func TestSession_OpenAndRetryErrors(t *testing.T) {
	s := newSession(t, &fakeBackend{}, dialFunc(func(context.Context, string, http.Header) (connection.Conn, error) {
		return nil, errors.New("unused")
	}), clock.NewManual(time.Unix(0, 0)))

	assert.ErrorIs(t, s.Open(context.Background(), ""), ErrEmptySessionID)
	assert.ErrorIs(t, s.Retry(context.Background()), ErrNoSession)
}

func TestSession_SubscribeReceivesViews(t *testing.T) {
	conn := newFakeConn()
	d := dialFunc(func(context.Context, string, http.Header) (connection.Conn, error) { return conn, nil })
	s := newSession(t, &fakeBackend{}, d, clock.NewManual(time.Unix(0, 0)))

	var mu sync.Mutex
	var last View
	unsubscribe := s.Subscribe(func(v View) {
		mu.Lock()
		last = v
		mu.Unlock()
	})
	defer unsubscribe()

	require.NoError(t, s.Open(context.Background(), "abc123"))
	require.Eventually(t, func() bool { return s.Connection().Phase == connection.PhaseOpen }, time.Second, time.Millisecond)
	conn.push(t, datatypes.AnalysisSnapshot{Status: datatypes.StatusProcessing, Progress: 77, CurrentFile: "src/a.py", Structure: abc123Structure()})

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return last.Status.Snapshot != nil && last.Status.Snapshot.Progress == 77
	}, time.Second, time.Millisecond)
	mu.Lock()
	assert.Equal(t, "src/a.py", last.Status.Snapshot.CurrentFile)
	assert.Equal(t, 2, last.Nodes)
	mu.Unlock()
}
