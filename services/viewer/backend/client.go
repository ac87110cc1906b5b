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
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/AleutianAI/livegraph/pkg/logging"
	"github.com/AleutianAI/livegraph/services/viewer/datatypes"
	"github.com/AleutianAI/livegraph/services/viewer/graph"
)

// HTTPClient allows injecting mock HTTP clients for testing.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// maxBodyBytes bounds how much of a response body is read.
const maxBodyBytes = 64 << 20

// Config configures a Client.
type Config struct {
	// BaseURL of the backend, e.g. "http://localhost:8000".
	BaseURL string `yaml:"base_url" validate:"required,url"`

	// StreamURL overrides the websocket base. When empty it is derived from
	// BaseURL by switching http to ws and https to wss.
	StreamURL string `yaml:"stream_url,omitempty" validate:"omitempty,url"`

	// StreamPath is the websocket path template; "{id}" is replaced with the
	// analysis id.
	StreamPath string `yaml:"stream_path"`

	// Timeout applies to every request when the caller's context has no
	// deadline. Zero means no timeout.
	Timeout time.Duration `yaml:"timeout"`

	// ClientID is sent as X-Client-ID on every request.
	ClientID string `yaml:"-"`
}

// DefaultStreamPath is the websocket path the backend serves.
const DefaultStreamPath = "/api/repo/{id}/stream"

// DefaultConfig returns a config for a backend on localhost:8000.
func DefaultConfig() Config {
	return Config{
		BaseURL:    "http://localhost:8000",
		StreamPath: DefaultStreamPath,
		Timeout:    15 * time.Second,
	}
}

// Client talks to the analysis backend over HTTP.
//
// # Description
//
// Every request carries an X-Request-ID. Graph fetches for the same analysis
// and level are collapsed with singleflight, so a burst of completion events
// results in one request.
//
// # Thread Safety
//
// Safe for concurrent use.
type Client struct {
	cfg    Config
	base   *url.URL
	http   HTTPClient
	logger *logging.Logger
	flight singleflight.Group
}

// NewClient creates a client. A nil httpClient uses http.DefaultClient and a
// nil logger discards output.
//
// # Outputs
//
//   - *Client: Ready to use.
//   - error: Non-nil when BaseURL is not an absolute http(s) URL.
func NewClient(cfg Config, httpClient HTTPClient, logger *logging.Logger) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("base url %q: scheme must be http or https", cfg.BaseURL)
	}
	if cfg.StreamPath == "" {
		cfg.StreamPath = DefaultStreamPath
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &Client{cfg: cfg, base: base, http: httpClient, logger: logger}, nil
}

// Submit starts an analysis of repoURL and returns its id.
func (c *Client) Submit(ctx context.Context, repoURL, branch string) (*datatypes.SubmitResponse, error) {
	req := datatypes.SubmitRequest{URL: repoURL, Branch: branch}
	if err := datatypes.Validator().Struct(req); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode submit request: %w", err)
	}

	var resp datatypes.SubmitResponse
	if err := c.do(ctx, http.MethodPost, "/api/repo", nil, body, &resp); err != nil {
		return nil, err
	}
	if resp.ID == "" {
		return nil, fmt.Errorf("%w: submit response has no id", ErrProtocol)
	}
	c.logger.Info("analysis submitted", "session_id", resp.ID, "repo", repoURL, "branch", branch)
	return &resp, nil
}

// FetchSnapshot returns the current snapshot of an analysis. An unknown id
// yields an error wrapping ErrNotFound.
func (c *Client) FetchSnapshot(ctx context.Context, id string) (*datatypes.AnalysisSnapshot, error) {
	if id == "" {
		return nil, ErrEmptyID
	}
	var snap datatypes.AnalysisSnapshot
	if err := c.do(ctx, http.MethodGet, "/api/repo/"+url.PathEscape(id), nil, nil, &snap); err != nil {
		return nil, err
	}
	if err := snap.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProtocol, err)
	}
	return &snap, nil
}

// FetchGraph returns the flat graph of a completed analysis at the given
// detail level. Before completion the error wraps ErrNotReady.
func (c *Client) FetchGraph(ctx context.Context, id string, level graph.DetailLevel) (*datatypes.FlatGraph, error) {
	if id == "" {
		return nil, ErrEmptyID
	}
	key := id + "#" + strconv.Itoa(int(level))
	v, err, shared := c.flight.Do(key, func() (any, error) {
		var g datatypes.FlatGraph
		q := url.Values{"level": {strconv.Itoa(int(level))}}
		if err := c.do(ctx, http.MethodGet, "/api/repo/"+url.PathEscape(id)+"/graph", q, nil, &g); err != nil {
			return nil, err
		}
		return &g, nil
	})
	if err != nil {
		return nil, err
	}
	if shared {
		c.logger.Debug("graph fetch shared", "session_id", id, "level", level.String())
	}
	return v.(*datatypes.FlatGraph), nil
}

// FetchNode returns details for one node of an analysis.
func (c *Client) FetchNode(ctx context.Context, id, nodeID string) (*datatypes.NodeDetails, error) {
	if id == "" {
		return nil, ErrEmptyID
	}
	if nodeID == "" {
		return nil, fmt.Errorf("%w: node id must not be empty", ErrInvalidRequest)
	}
	var d datatypes.NodeDetails
	path := "/api/repo/" + url.PathEscape(id) + "/node/" + url.PathEscape(nodeID)
	if err := c.do(ctx, http.MethodGet, path, nil, nil, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

// StreamURL returns the websocket URL for an analysis.
func (c *Client) StreamURL(id string) (string, error) {
	if id == "" {
		return "", ErrEmptyID
	}
	var base *url.URL
	if c.cfg.StreamURL != "" {
		u, err := url.Parse(strings.TrimRight(c.cfg.StreamURL, "/"))
		if err != nil {
			return "", fmt.Errorf("parse stream url: %w", err)
		}
		base = u
	} else {
		u := *c.base
		switch u.Scheme {
		case "https":
			u.Scheme = "wss"
		default:
			u.Scheme = "ws"
		}
		base = &u
	}
	path := strings.ReplaceAll(c.cfg.StreamPath, "{id}", url.PathEscape(id))
	out, err := joinEscaped(base, path)
	if err != nil {
		return "", err
	}
	return out.String(), nil
}

// joinEscaped appends an already escaped path to base.
func joinEscaped(base *url.URL, escaped string) (*url.URL, error) {
	raw := strings.TrimRight(base.EscapedPath(), "/") + escaped
	decoded, err := url.PathUnescape(raw)
	if err != nil {
		return nil, err
	}
	out := *base
	out.Path = decoded
	out.RawPath = raw
	return &out, nil
}

// ClientID returns the configured client id.
func (c *Client) ClientID() string {
	return c.cfg.ClientID
}

// =============================================================================
// Request Helpers
// =============================================================================

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body []byte, out any) error {
	if c.cfg.Timeout > 0 {
		if _, ok := ctx.Deadline(); !ok {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)
			defer cancel()
		}
	}

	u, err := joinEscaped(c.base, path)
	if err != nil {
		return fmt.Errorf("build url: %w", err)
	}
	u.RawQuery = query.Encode()

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	requestID := uuid.NewString()
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", requestID)
	if c.cfg.ClientID != "" {
		req.Header.Set("X-Client-ID", c.cfg.ClientID)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return fmt.Errorf("%s %s: read body: %w", method, path, err)
	}
	c.logger.Debug("backend request",
		"method", method,
		"path", path,
		"status", resp.StatusCode,
		"request_id", requestID,
		"duration_ms", time.Since(start).Milliseconds())

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &HTTPError{
			Method:     method,
			Path:       path,
			StatusCode: resp.StatusCode,
			Detail:     parseDetail(data),
		}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%w: %s %s: %v", ErrProtocol, method, path, err)
	}
	return nil
}

// parseDetail extracts the "detail" field of an error body. Validation
// errors carry a list of objects with a "msg" field.
func parseDetail(data []byte) string {
	var body struct {
		Detail json.RawMessage `json:"detail"`
	}
	if err := json.Unmarshal(data, &body); err != nil || len(body.Detail) == 0 {
		return strings.TrimSpace(string(data))
	}
	var s string
	if err := json.Unmarshal(body.Detail, &s); err == nil {
		return s
	}
	var items []struct {
		Msg string `json:"msg"`
	}
	if err := json.Unmarshal(body.Detail, &items); err == nil {
		msgs := make([]string, 0, len(items))
		for _, it := range items {
			if it.Msg != "" {
				msgs = append(msgs, it.Msg)
			}
		}
		if len(msgs) > 0 {
			return strings.Join(msgs, "; ")
		}
	}
	return string(body.Detail)
}

// IsNotFound reports whether err means the analysis or node is unknown.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
