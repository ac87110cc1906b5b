// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package config

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/livegraph/pkg/logging"
	"github.com/AleutianAI/livegraph/services/viewer/graph"
)

// TestLoad_CreatesDefault verifies first-run creation in nested directories.
func TestLoad_CreatesDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".livegraph", "nested", "livegraph.yaml")

	cfg, created, err := Load(path)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, DefaultConfig().Backend.BaseURL, cfg.Backend.BaseURL)
	assert.Equal(t, 5, cfg.Connection.MaxAttempts)
	assert.Equal(t, 2, cfg.Viewer.Level)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var onDisk LivegraphConfig
	require.NoError(t, yaml.Unmarshal(data, &onDisk))
	assert.Equal(t, cfg.Polling, onDisk.Polling)
	assert.Equal(t, cfg.Layout, onDisk.Layout)

	_, created, err = Load(path)
	require.NoError(t, err)
	assert.False(t, created)
}

// TestLoad_PartialFileKeepsDefaults verifies absent sections keep defaults.
func TestLoad_PartialFileKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "livegraph.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
backend:
  base_url: http://analysis.internal:9000
connection:
  max_attempts: 3
  initial_backoff: 500ms
  max_backoff: 5s
  multiplier: 2
polling:
  interval: 4s
viewer:
  level: 3
`), 0o644))

	cfg, created, err := Load(path)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, "http://analysis.internal:9000", cfg.Backend.BaseURL)
	assert.Equal(t, "/api/repo/{id}/stream", cfg.Backend.StreamPath)
	assert.Equal(t, 3, cfg.Connection.MaxAttempts)
	assert.Equal(t, 500*time.Millisecond, cfg.Connection.InitialBackoff)
	assert.Equal(t, 4*time.Second, cfg.Polling.Interval)
	assert.Equal(t, 5, cfg.Polling.MaxTransientFailures)
	assert.Equal(t, DefaultConfig().Layout, cfg.Layout)

	sc := cfg.SessionConfig("client-1")
	assert.Equal(t, graph.LevelAll, sc.Level)
	assert.Equal(t, "client-1", sc.ClientID)
	assert.Equal(t, "client-1", cfg.BackendConfig("client-1").ClientID)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"bad level", "viewer:\n  level: 7\n"},
		{"bad url", "backend:\n  base_url: not a url\n"},
		{"backoff order", "connection:\n  initial_backoff: 10s\n  max_backoff: 1s\n"},
		{"bad log level", "logging:\n  level: loud\n"},
		{"bad exporter", "telemetry:\n  trace_exporter: carrier-pigeon\n"},
		{"bad frame rate", "server:\n  frame_rate: 0\n"},
		{"zoom range", "interaction:\n  min_scale: 2\n  max_scale: 1\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "livegraph.yaml")
			require.NoError(t, os.WriteFile(path, []byte(tt.body), 0o644))
			_, _, err := Load(path)
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}

	path := filepath.Join(t.TempDir(), "livegraph.yaml")
	require.NoError(t, os.WriteFile(path, []byte("backend: [unclosed"), 0o644))
	_, _, err := Load(path)
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrInvalidConfig)
}

func TestDefaultConfig_IsValid(t *testing.T) {
	assert.NoError(t, Validate(DefaultConfig()))
}

func TestLoggingConfig_LoggerConfig(t *testing.T) {
	lc := LoggingConfig{Level: "debug", Dir: "/tmp/logs", JSON: true}.LoggerConfig("livegraph", true)
	assert.Equal(t, logging.LevelDebug, lc.Level)
	assert.Equal(t, "/tmp/logs", lc.LogDir)
	assert.Equal(t, "livegraph", lc.Service)
	assert.True(t, lc.JSON)
	assert.True(t, lc.Quiet)

	lc = LoggingConfig{Level: "bogus"}.LoggerConfig("x", false)
	assert.Equal(t, logging.LevelInfo, lc.Level)
}

// =============================================================================
// Watch
// =============================================================================

type changes struct {
	mu   sync.Mutex
	seen []LivegraphConfig
}

func (c *changes) add(cfg LivegraphConfig) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seen = append(c.seen, cfg)
}

func (c *changes) last() (LivegraphConfig, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.seen) == 0 {
		return LivegraphConfig{}, 0
	}
	return c.seen[len(c.seen)-1], len(c.seen)
}

func TestWatch_ReloadsValidChanges(t *testing.T) {
	path := filepath.Join(t.TempDir(), "livegraph.yaml")
	_, _, err := Load(path)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	got := &changes{}
	done := make(chan error, 1)
	go func() { done <- Watch(ctx, path, 20*time.Millisecond, got.add, nil) }()

	// Give the watcher time to register before writing.
	time.Sleep(100 * time.Millisecond)

	// Invalid content is skipped.
	require.NoError(t, os.WriteFile(path, []byte("viewer:\n  level: 9\n"), 0o644))
	time.Sleep(150 * time.Millisecond)
	_, n := got.last()
	assert.Equal(t, 0, n)

	require.NoError(t, os.WriteFile(path, []byte("layout:\n  center_strength: 0.2\n"), 0o644))
	require.Eventually(t, func() bool {
		cfg, n := got.last()
		return n > 0 && cfg.Layout.CenterStrength == 0.2
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Watch did not return after cancel")
	}
}

func TestWatch_MissingDirectory(t *testing.T) {
	err := Watch(context.Background(), filepath.Join(t.TempDir(), "nope", "livegraph.yaml"), 0, func(LivegraphConfig) {}, nil)
	assert.Error(t, err)
}
