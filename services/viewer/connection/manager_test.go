// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package connection

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/livegraph/services/viewer/clock"
	"github.com/AleutianAI/livegraph/services/viewer/datatypes"
)

// =============================================================================
// Fakes
// =============================================================================

type fakeConn struct {
	msgs   chan []byte
	errs   chan error
	closed chan struct{}
	once   sync.Once

	mu         sync.Mutex
	closeCodes []int
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		msgs:   make(chan []byte, 16),
		errs:   make(chan error, 1),
		closed: make(chan struct{}),
	}
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	select {
	case m := <-c.msgs:
		return websocket.TextMessage, m, nil
	case err := <-c.errs:
		return 0, nil, err
	case <-c.closed:
		return 0, nil, &websocket.CloseError{Code: websocket.CloseAbnormalClosure}
	}
}

func (c *fakeConn) WriteControl(messageType int, data []byte, _ time.Time) error {
	if messageType == websocket.CloseMessage && len(data) >= 2 {
		c.mu.Lock()
		c.closeCodes = append(c.closeCodes, int(data[0])<<8|int(data[1]))
		c.mu.Unlock()
	}
	return nil
}

func (c *fakeConn) SetReadDeadline(time.Time) error { return nil }

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) CloseCodes() []int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]int(nil), c.closeCodes...)
}

type fakeDialer struct {
	mu    sync.Mutex
	dials []string
	next  func(n int) (Conn, error)
}

func (d *fakeDialer) Dial(_ context.Context, url string, _ http.Header) (Conn, error) {
	d.mu.Lock()
	d.dials = append(d.dials, url)
	n := len(d.dials)
	d.mu.Unlock()
	return d.next(n)
}

func (d *fakeDialer) Count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.dials)
}

type recorder struct {
	mu       sync.Mutex
	states   []State
	messages []*datatypes.AnalysisSnapshot
	protoErr []error
}

func (r *recorder) handlers() Handlers {
	return Handlers{
		OnStateChange: func(s State) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.states = append(r.states, s)
		},
		OnMessage: func(_ string, snap *datatypes.AnalysisSnapshot) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.messages = append(r.messages, snap)
		},
		OnProtocolError: func(_ string, err error) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.protoErr = append(r.protoErr, err)
		},
	}
}

func (r *recorder) Phases() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.states))
	for i, s := range r.states {
		out[i] = s.String()
	}
	return out
}

func (r *recorder) Messages() []*datatypes.AnalysisSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*datatypes.AnalysisSnapshot(nil), r.messages...)
}

func testConfig() Config {
	return Config{
		MaxAttempts:    5,
		InitialBackoff: time.Second,
		MaxBackoff:     4 * time.Second,
		Multiplier:     2,
	}
}

func staticURL(id string) (string, error) { return "ws://backend/api/repo/" + id + "/stream", nil }

func waitPhase(t *testing.T, m *Manager, p Phase) {
	t.Helper()
	require.Eventually(t, func() bool { return m.State().Phase == p }, time.Second, time.Millisecond)
}

// =============================================================================
// Tests
// =============================================================================

func TestManager_FiveFailedAttemptsFailWithoutSixthDial(t *testing.T) {
	clk := clock.NewManual(time.Unix(0, 0))
	d := &fakeDialer{next: func(int) (Conn, error) { return nil, errors.New("connection refused") }}
	rec := &recorder{}
	m := NewManager(testConfig(), d, staticURL, rec.handlers(), clk, nil, nil, nil)

	require.NoError(t, m.Open(context.Background(), "abc123"))

	for _, delay := range []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 4 * time.Second} {
		clk.BlockUntil(1)
		clk.Advance(delay - time.Millisecond)
		assert.Equal(t, 1, clk.Waiters(), "backoff fired early")
		clk.Advance(time.Millisecond)
	}
	m.Wait()

	assert.Equal(t, 5, d.Count())
	st := m.State()
	assert.Equal(t, PhaseFailed, st.Phase)
	assert.Equal(t, 5, st.Attempt)
	assert.ErrorIs(t, st.Err, ErrRetriesExhausted)
	assert.True(t, IsTerminal(st.Err))
	assert.Contains(t, st.Err.Error(), "connection refused")
	assert.Equal(t, []string{
		"connecting",
		"reconnecting(1)", "connecting",
		"reconnecting(2)", "connecting",
		"reconnecting(3)", "connecting",
		"reconnecting(4)", "connecting",
		"failed",
	}, rec.Phases())

	// Nothing else is scheduled.
	assert.Zero(t, clk.Waiters())
}

func TestManager_CallerCloseNeverReconnects(t *testing.T) {
	clk := clock.NewManual(time.Unix(0, 0))
	conn := newFakeConn()
	d := &fakeDialer{next: func(int) (Conn, error) { return conn, nil }}
	rec := &recorder{}
	m := NewManager(testConfig(), d, staticURL, rec.handlers(), clk, nil, nil, nil)

	require.NoError(t, m.Open(context.Background(), "abc123"))
	waitPhase(t, m, PhaseOpen)

	m.Close()
	m.Close()
	m.Wait()

	assert.Equal(t, 1, d.Count())
	assert.Equal(t, PhaseClosed, m.State().Phase)
	assert.Equal(t, []int{websocket.CloseNormalClosure}, conn.CloseCodes())
	assert.Equal(t, []string{"connecting", "open", "closed"}, rec.Phases())
	assert.Zero(t, clk.Waiters())
}

func TestManager_ServerNormalClosureIsClosed(t *testing.T) {
	conn := newFakeConn()
	d := &fakeDialer{next: func(int) (Conn, error) { return conn, nil }}
	rec := &recorder{}
	m := NewManager(testConfig(), d, staticURL, rec.handlers(), clock.NewManual(time.Unix(0, 0)), nil, nil, nil)

	require.NoError(t, m.Open(context.Background(), "abc123"))
	waitPhase(t, m, PhaseOpen)
	conn.errs <- &websocket.CloseError{Code: websocket.CloseNormalClosure, Text: "analysis finished"}
	m.Wait()

	assert.Equal(t, 1, d.Count())
	assert.Equal(t, []string{"connecting", "open", "closed"}, rec.Phases())
	assert.Empty(t, conn.CloseCodes(), "the client does not echo a close it did not start")
}

func TestManager_OpenResetsAttemptCounter(t *testing.T) {
	clk := clock.NewManual(time.Unix(0, 0))
	conns := []*fakeConn{newFakeConn(), newFakeConn()}
	d := &fakeDialer{next: func(n int) (Conn, error) {
		switch n {
		case 1:
			return nil, errors.New("refused")
		case 2:
			return conns[0], nil
		default:
			return conns[1], nil
		}
	}}
	rec := &recorder{}
	m := NewManager(testConfig(), d, staticURL, rec.handlers(), clk, nil, nil, nil)

	require.NoError(t, m.Open(context.Background(), "abc123"))
	clk.BlockUntil(1)
	clk.Advance(time.Second)
	waitPhase(t, m, PhaseOpen)
	assert.Zero(t, m.State().Attempt)

	conns[0].errs <- io.ErrUnexpectedEOF
	clk.BlockUntil(1)
	st := m.State()
	assert.Equal(t, PhaseReconnecting, st.Phase)
	assert.Equal(t, 1, st.Attempt, "counter restarted after a successful open")

	// Backoff restarted too: the initial interval applies again.
	clk.Advance(time.Second)
	waitPhase(t, m, PhaseOpen)

	m.Close()
	m.Wait()
	assert.Equal(t, 3, d.Count())
}

func TestManager_MessagesInOrderAndMalformedDropped(t *testing.T) {
	conn := newFakeConn()
	d := &fakeDialer{next: func(int) (Conn, error) { return conn, nil }}
	rec := &recorder{}
	m := NewManager(testConfig(), d, staticURL, rec.handlers(), clock.NewManual(time.Unix(0, 0)), nil, nil, nil)

	require.NoError(t, m.Open(context.Background(), "abc123"))
	waitPhase(t, m, PhaseOpen)

	conn.msgs <- []byte(`{"status":"processing","progress":10}`)
	conn.msgs <- []byte(`{not json`)
	conn.msgs <- []byte(`{"status":"exploding","progress":20}`)
	conn.msgs <- []byte(`{"status":"processing","progress":30}`)
	conn.msgs <- []byte(`{"status":"processing","progress":20}`)

	require.Eventually(t, func() bool { return len(rec.Messages()) == 3 }, time.Second, time.Millisecond)
	var got []float64
	for _, s := range rec.Messages() {
		got = append(got, s.Progress)
	}
	assert.Equal(t, []float64{10, 30, 20}, got, "delivered in receive order, not coalesced")

	rec.mu.Lock()
	require.Len(t, rec.protoErr, 2)
	for _, err := range rec.protoErr {
		assert.ErrorIs(t, err, ErrProtocol)
	}
	rec.mu.Unlock()
	assert.Equal(t, PhaseOpen, m.State().Phase)

	m.Close()
	m.Wait()
}

func TestManager_CloseFromHandler(t *testing.T) {
	conn := newFakeConn()
	d := &fakeDialer{next: func(int) (Conn, error) { return conn, nil }}
	var m *Manager
	delivered := 0
	m = NewManager(testConfig(), d, staticURL, Handlers{
		OnMessage: func(string, *datatypes.AnalysisSnapshot) {
			delivered++
			m.Close()
		},
	}, clock.NewManual(time.Unix(0, 0)), nil, nil, nil)

	require.NoError(t, m.Open(context.Background(), "abc123"))
	waitPhase(t, m, PhaseOpen)
	conn.msgs <- []byte(`{"status":"processing","progress":10}`)
	conn.msgs <- []byte(`{"status":"processing","progress":20}`)
	m.Wait()

	assert.Equal(t, 1, delivered)
	assert.Equal(t, PhaseClosed, m.State().Phase)
	assert.Equal(t, 1, d.Count())
}

func TestManager_OpenReplacesPreviousSubscription(t *testing.T) {
	first, second := newFakeConn(), newFakeConn()
	d := &fakeDialer{next: func(n int) (Conn, error) {
		if n == 1 {
			return first, nil
		}
		return second, nil
	}}
	m := NewManager(testConfig(), d, staticURL, Handlers{}, clock.NewManual(time.Unix(0, 0)), nil, nil, nil)

	require.NoError(t, m.Open(context.Background(), "abc123"))
	waitPhase(t, m, PhaseOpen)
	require.NoError(t, m.Open(context.Background(), "def456"))
	waitPhase(t, m, PhaseOpen)

	assert.Equal(t, []int{websocket.CloseNormalClosure}, first.CloseCodes())
	assert.Equal(t, "def456", m.State().SessionID)
	d.mu.Lock()
	assert.True(t, strings.Contains(d.dials[1], "def456"))
	d.mu.Unlock()

	m.Close()
	m.Wait()
}

func TestManager_OpenRejectsEmptySession(t *testing.T) {
	m := NewManager(testConfig(), &fakeDialer{}, staticURL, Handlers{}, nil, nil, nil, nil)
	assert.ErrorIs(t, m.Open(context.Background(), ""), ErrEmptySessionID)
	assert.Equal(t, PhaseIdle, m.State().Phase)
	m.Close()
}

func TestManager_ParentCancelCloses(t *testing.T) {
	conn := newFakeConn()
	d := &fakeDialer{next: func(int) (Conn, error) { return conn, nil }}
	m := NewManager(testConfig(), d, staticURL, Handlers{}, clock.NewManual(time.Unix(0, 0)), nil, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, m.Open(ctx, "abc123"))
	waitPhase(t, m, PhaseOpen)
	cancel()
	m.Wait()

	assert.Equal(t, PhaseClosed, m.State().Phase)
	assert.Equal(t, 1, d.Count())
}

func TestWebsocketDialer_EndToEnd(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/repo/abc123/stream", r.URL.Path)
		assert.Equal(t, "client-1", r.Header.Get("X-Client-ID"))
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer c.Close()
		_ = c.WriteJSON(datatypes.AnalysisSnapshot{Status: datatypes.StatusProcessing, Progress: 55})
		_ = c.WriteJSON(datatypes.AnalysisSnapshot{Status: datatypes.StatusCompleted, Progress: 100})
		_ = c.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "done"))
		_, _, _ = c.ReadMessage()
	}))
	defer srv.Close()

	rec := &recorder{}
	urlFor := func(id string) (string, error) {
		return "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/repo/" + id + "/stream", nil
	}
	header := http.Header{"X-Client-ID": {"client-1"}}
	m := NewManager(testConfig(), NewWebsocketDialer(time.Second), urlFor, rec.handlers(), nil, nil, nil, header)

	require.NoError(t, m.Open(context.Background(), "abc123"))
	m.Wait()

	msgs := rec.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, 55.0, msgs[0].Progress)
	assert.Equal(t, datatypes.StatusCompleted, msgs[1].Status)
	assert.Equal(t, []string{"connecting", "open", "closed"}, rec.Phases())
}
