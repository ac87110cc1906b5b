// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"github.com/AleutianAI/livegraph/pkg/logging"
	"github.com/AleutianAI/livegraph/services/viewer/backend"
	"github.com/AleutianAI/livegraph/services/viewer/connection"
	"github.com/AleutianAI/livegraph/services/viewer/graph"
	"github.com/AleutianAI/livegraph/services/viewer/interaction"
	"github.com/AleutianAI/livegraph/services/viewer/layout"
	"github.com/AleutianAI/livegraph/services/viewer/server"
	"github.com/AleutianAI/livegraph/services/viewer/session"
	"github.com/AleutianAI/livegraph/services/viewer/status"
	"github.com/AleutianAI/livegraph/services/viewer/telemetry"
)

// LivegraphConfig is the contents of livegraph.yaml.
type LivegraphConfig struct {
	// Backend locates the analysis backend.
	Backend backend.Config `yaml:"backend"`

	// Connection tunes the push stream and its reconnects.
	Connection connection.Config `yaml:"connection"`

	// Polling tunes the fallback status poller.
	Polling status.PollerConfig `yaml:"polling"`

	// Layout holds the force simulation parameters. Changes are applied to
	// a running viewer.
	Layout layout.Params `yaml:"layout"`

	// Interaction tunes pointer handling on both surfaces.
	Interaction interaction.Config `yaml:"interaction"`

	Viewer    ViewerConfig     `yaml:"viewer"`
	Logging   LoggingConfig    `yaml:"logging"`
	Telemetry telemetry.Config `yaml:"telemetry"`
	Server    server.Config    `yaml:"server"`
}

// ViewerConfig holds surface preferences.
type ViewerConfig struct {
	// Level is the initial detail level: 1 folders, 2 files, 3 everything.
	Level int `yaml:"level" validate:"min=1,max=3"`

	// Output forces the plain output mode: rich, minimal or machine.
	Output string `yaml:"output,omitempty" validate:"omitempty,oneof=rich minimal machine"`

	// HideInspector starts the terminal viewer with the inspector closed.
	HideInspector bool `yaml:"hide_inspector"`
}

// LoggingConfig configures pkg/logging.
type LoggingConfig struct {
	Level string `yaml:"level" validate:"oneof=debug info warn error"`

	// Dir receives daily JSON log files. Supports "~". Empty disables file
	// logging.
	Dir string `yaml:"dir"`

	// JSON switches stderr output to JSON.
	JSON bool `yaml:"json"`
}

// DefaultConfig returns the configuration written on first run.
func DefaultConfig() LivegraphConfig {
	return LivegraphConfig{
		Backend:     backend.DefaultConfig(),
		Connection:  connection.DefaultConfig(),
		Polling:     status.DefaultPollerConfig(),
		Layout:      layout.DefaultParams(),
		Interaction: interaction.DefaultConfig(),
		Viewer:      ViewerConfig{Level: int(graph.DefaultDetailLevel)},
		Logging:     LoggingConfig{Level: "info", Dir: "~/.livegraph/logs"},
		Telemetry:   telemetry.DefaultConfig(),
		Server:      server.DefaultConfig(),
	}
}

// SessionConfig returns the session tunables for a client.
func (c LivegraphConfig) SessionConfig(clientID string) session.Config {
	level, err := graph.ParseDetailLevel(c.Viewer.Level)
	if err != nil {
		level = graph.DefaultDetailLevel
	}
	return session.Config{
		Connection: c.Connection,
		Polling:    c.Polling,
		Layout:     c.Layout,
		Level:      level,
		ClientID:   clientID,
	}
}

// BackendConfig returns the backend client config for a client.
func (c LivegraphConfig) BackendConfig(clientID string) backend.Config {
	cfg := c.Backend
	cfg.ClientID = clientID
	return cfg
}

// LoggerConfig returns the logger config. Quiet keeps stderr free for a
// full-screen UI.
func (c LoggingConfig) LoggerConfig(service string, quiet bool) logging.Config {
	level, err := logging.ParseLevel(c.Level)
	if err != nil {
		level = logging.LevelInfo
	}
	return logging.Config{
		Level:   level,
		LogDir:  c.Dir,
		Service: service,
		JSON:    c.JSON,
		Quiet:   quiet,
	}
}
