// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/AleutianAI/livegraph/cmd/livegraph/config"
	"github.com/AleutianAI/livegraph/pkg/logging"
	"github.com/AleutianAI/livegraph/services/viewer/backend"
	"github.com/AleutianAI/livegraph/services/viewer/observability"
	"github.com/AleutianAI/livegraph/services/viewer/session"
	"github.com/AleutianAI/livegraph/services/viewer/telemetry"
)

// errNoTarget is returned when neither a session id nor --repo was given.
var errNoTarget = errors.New("give a session id or --repo")

// newLogger returns the command logger and a func closing its log file.
// quiet keeps stderr free for a full-screen UI.
func newLogger(quiet bool) (*logging.Logger, func()) {
	base := logging.New(cfg.Logging.LoggerConfig("livegraph", quiet))
	return base.With("client_id", clientID), func() { _ = base.Close() }
}

// initTelemetry starts tracing and metrics export. Failures are logged and
// leave telemetry disabled.
func initTelemetry(ctx context.Context, discard bool, logger *logging.Logger) func() {
	tc := cfg.Telemetry
	if discard {
		tc.Writer = io.Discard
	}
	shutdown, err := telemetry.Init(ctx, tc)
	if err != nil {
		logger.Warn("telemetry disabled", "error", err)
		return func() {}
	}
	return func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(sctx); err != nil {
			logger.Warn("telemetry shutdown failed", "error", err)
		}
	}
}

// newBackend returns a traced client for the configured backend.
func newBackend(logger *logging.Logger) (*backend.Client, error) {
	httpClient := &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}
	return backend.NewClient(cfg.BackendConfig(clientID), httpClient, logger)
}

// newSession wires a session against the configured backend.
func newSession(logger *logging.Logger, metrics *observability.ViewerMetrics) (*session.Session, error) {
	be, err := newBackend(logger)
	if err != nil {
		return nil, err
	}
	return session.New(cfg.SessionConfig(clientID), be, session.Options{
		Logger:  logger,
		Metrics: metrics,
	}), nil
}

// openTarget opens the analysis named by args, or submits --repo first.
func openTarget(ctx context.Context, sess *session.Session, args []string) (string, error) {
	switch {
	case len(args) == 1:
		if err := sess.Open(ctx, args[0]); err != nil {
			return "", err
		}
		return args[0], nil
	case repoURL != "":
		id, err := sess.Submit(ctx, repoURL, branch)
		if err != nil {
			return "", err
		}
		return id, nil
	default:
		return "", errNoTarget
	}
}

// watchConfig applies layout changes from the config file to the running
// engine until ctx is done.
func watchConfig(ctx context.Context, sess *session.Session, logger *logging.Logger) error {
	err := config.Watch(ctx, configPath, 0, func(c config.LivegraphConfig) {
		sess.Layout().SetParams(c.Layout)
	}, logger)
	if err != nil {
		// A missing watch is not worth stopping the viewer for.
		logger.Warn("config changes will not be applied", "error", err)
	}
	return nil
}

func wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf(format+": %w", append(args, err)...)
}
