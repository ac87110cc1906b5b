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
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/livegraph/pkg/ux"
	"github.com/AleutianAI/livegraph/services/viewer/observability"
	"github.com/AleutianAI/livegraph/services/viewer/server"
	"github.com/AleutianAI/livegraph/services/viewer/telemetry"
)

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger, closeLog := newLogger(false)
	defer closeLog()
	defer initTelemetry(ctx, false, logger)()

	metrics := observability.NewViewerMetrics(nil)
	sess, err := newSession(logger, metrics)
	if err != nil {
		return err
	}
	defer sess.Close()

	scfg := cfg.Server
	if serveAddr != "" {
		scfg.Addr = serveAddr
	}
	handler := telemetry.MetricsHandler()
	if handler == nil {
		handler = promhttp.Handler()
	}
	srv := server.New(scfg, sess, server.Options{
		Logger:         logger,
		Metrics:        metrics,
		MetricsHandler: handler,
		Interaction:    cfg.Interaction,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Run(gctx) })
	g.Go(func() error { return sess.Run(gctx) })
	g.Go(func() error { return watchConfig(gctx, sess, logger) })

	if len(args) > 0 || repoURL != "" {
		id, err := openTarget(gctx, sess, args)
		if err != nil {
			// The browser shows the error; a later retry can recover.
			logger.Error("open failed", "error", err)
		} else {
			ux.KeyValue("session_id", id)
		}
	}
	ux.Info("serving the live graph on " + scfg.Addr)

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
