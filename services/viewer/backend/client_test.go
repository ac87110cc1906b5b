// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package backend

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/livegraph/services/viewer/datatypes"
	"github.com/AleutianAI/livegraph/services/viewer/graph"
)

func newTestClient(t *testing.T, h http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	cfg := DefaultConfig()
	cfg.BaseURL = srv.URL
	cfg.ClientID = "client-1"
	c, err := NewClient(cfg, srv.Client(), nil)
	require.NoError(t, err)
	return c
}

func TestClient_Submit(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/repo", r.URL.Path)
		assert.NotEmpty(t, r.Header.Get("X-Request-ID"))
		assert.Equal(t, "client-1", r.Header.Get("X-Client-ID"))

		var req datatypes.SubmitRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "https://github.com/acme/widgets", req.URL)
		assert.Equal(t, "main", req.Branch)
		_ = json.NewEncoder(w).Encode(datatypes.SubmitResponse{ID: "abc123", Status: datatypes.StatusProcessing})
	}))

	resp, err := c.Submit(context.Background(), "https://github.com/acme/widgets", "main")
	require.NoError(t, err)
	assert.Equal(t, "abc123", resp.ID)
	assert.Equal(t, datatypes.StatusProcessing, resp.Status)
}

func TestClient_SubmitValidatesURL(t *testing.T) {
	var hits atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))

	for _, bad := range []string{"", "not a url", "widgets"} {
		_, err := c.Submit(context.Background(), bad, "")
		assert.ErrorIs(t, err, ErrInvalidRequest, bad)
	}
	assert.Zero(t, hits.Load())
}

func TestClient_FetchSnapshot(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/repo/abc123":
			_, _ = w.Write([]byte(`{"status":"processing","progress":42,"current_file":"src/a.py",
				"structure":{"folders":{"src":{"folders":{},"files":[]}},"files":[{"path":"src/a.py","hash":"h1","size":120}]}}`))
		case "/api/repo/bad":
			_, _ = w.Write([]byte(`{"status":"processing","progress":420}`))
		case "/api/repo/garbage":
			_, _ = w.Write([]byte(`{not json`))
		default:
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"detail":"Analysis not found"}`))
		}
	}))
	ctx := context.Background()

	snap, err := c.FetchSnapshot(ctx, "abc123")
	require.NoError(t, err)
	assert.Equal(t, 42.0, snap.Progress)
	assert.Equal(t, "src/a.py", snap.CurrentFile)
	require.NotNil(t, snap.Structure)
	assert.Len(t, snap.Structure.Files, 1)

	_, err = c.FetchSnapshot(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.True(t, IsNotFound(err))
	var httpErr *HTTPError
	require.True(t, errors.As(err, &httpErr))
	assert.Equal(t, "Analysis not found", httpErr.Detail)
	assert.False(t, httpErr.Temporary())

	_, err = c.FetchSnapshot(ctx, "bad")
	assert.ErrorIs(t, err, ErrProtocol)

	_, err = c.FetchSnapshot(ctx, "garbage")
	assert.ErrorIs(t, err, ErrProtocol)

	_, err = c.FetchSnapshot(ctx, "")
	assert.ErrorIs(t, err, ErrEmptyID)
}

func TestClient_FetchGraph(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/repo/pending/graph" {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"detail":"Analysis not completed"}`))
			return
		}
		assert.Equal(t, "/api/repo/abc123/graph", r.URL.Path)
		assert.Equal(t, "3", r.URL.Query().Get("level"))
		_, _ = w.Write([]byte(`{"nodes":[{"id":"src","type":"directory","name":"src"},
			{"id":"src/a.py","type":"file","name":"a.py"}],
			"edges":[{"source":"src","target":"src/a.py","type":"contains"}]}`))
	}))

	g, err := c.FetchGraph(context.Background(), "abc123", graph.LevelAll)
	require.NoError(t, err)
	assert.Len(t, g.Nodes, 2)
	assert.Len(t, g.Edges, 1)

	_, err = c.FetchGraph(context.Background(), "pending", graph.LevelAll)
	assert.ErrorIs(t, err, ErrNotReady)
	assert.Contains(t, err.Error(), "Analysis not completed")
}

func TestClient_FetchGraphCollapsesConcurrentRequests(t *testing.T) {
	var hits atomic.Int32
	release := make(chan struct{})
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		<-release
		_, _ = w.Write([]byte(`{"nodes":[],"edges":[]}`))
	}))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.FetchGraph(context.Background(), "abc123", graph.LevelFiles)
			assert.NoError(t, err)
		}()
	}
	require.Eventually(t, func() bool { return hits.Load() == 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()
	assert.LessOrEqual(t, hits.Load(), int32(2))
}

func TestClient_FetchNode(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/repo/abc123/node/src%2Fa.py", r.URL.EscapedPath())
		_, _ = w.Write([]byte(`{"id":"src/a.py","type":"file","name":"a.py","data":{"summary":"entry point"},
			"edges":[{"source":"src","target":"src/a.py","type":"contains"}]}`))
	}))

	d, err := c.FetchNode(context.Background(), "abc123", "src/a.py")
	require.NoError(t, err)
	assert.Equal(t, "entry point", d.Data["summary"])
	assert.Len(t, d.Edges, 1)

	_, err = c.FetchNode(context.Background(), "abc123", "")
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestClient_StreamURL(t *testing.T) {
	tests := []struct {
		name   string
		cfg    Config
		expect string
	}{
		{"http to ws", Config{BaseURL: "http://localhost:8000"}, "ws://localhost:8000/api/repo/abc123/stream"},
		{"https to wss", Config{BaseURL: "https://api.example.com/base/"}, "wss://api.example.com/base/api/repo/abc123/stream"},
		{"explicit", Config{BaseURL: "http://x", StreamURL: "ws://push:9000", StreamPath: "/ws/{id}"}, "ws://push:9000/ws/abc123"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := NewClient(tt.cfg, nil, nil)
			require.NoError(t, err)
			got, err := c.StreamURL("abc123")
			require.NoError(t, err)
			assert.Equal(t, tt.expect, got)
		})
	}
}

func TestNewClient_RejectsBadBaseURL(t *testing.T) {
	_, err := NewClient(Config{BaseURL: "ftp://x"}, nil, nil)
	assert.Error(t, err)
}

func TestParseDetail(t *testing.T) {
	assert.Equal(t, "Analysis not found", parseDetail([]byte(`{"detail":"Analysis not found"}`)))
	assert.Equal(t, "field required; bad url", parseDetail([]byte(`{"detail":[{"msg":"field required"},{"msg":"bad url"}]}`)))
	assert.Equal(t, "plain text", parseDetail([]byte("plain text\n")))
}

func TestHTTPError_Classification(t *testing.T) {
	assert.ErrorIs(t, &HTTPError{Method: http.MethodGet, StatusCode: 400}, ErrNotReady)
	assert.ErrorIs(t, &HTTPError{Method: http.MethodPost, StatusCode: 400}, ErrInvalidRequest)
	assert.ErrorIs(t, &HTTPError{Method: http.MethodPost, StatusCode: 422}, ErrInvalidRequest)
	assert.True(t, (&HTTPError{StatusCode: 503}).Temporary())
	assert.Nil(t, (&HTTPError{StatusCode: 500}).Unwrap())
}
