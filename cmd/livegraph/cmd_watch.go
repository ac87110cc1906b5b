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

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/livegraph/pkg/logging"
	"github.com/AleutianAI/livegraph/pkg/ux"
	"github.com/AleutianAI/livegraph/services/viewer/session"
	"github.com/AleutianAI/livegraph/services/viewer/tui"
)

// errWatchFailed marks a non-zero exit after the plain watcher already
// printed the reason.
var errWatchFailed = errors.New("analysis did not complete")

func runWatch(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	full := ux.IsInteractive() && !plainMode
	logger, closeLog := newLogger(full)
	defer closeLog()
	defer initTelemetry(ctx, full, logger)()

	sess, err := newSession(logger, nil)
	if err != nil {
		return err
	}
	defer sess.Close()

	if full {
		return watchFullScreen(ctx, sess, args, logger)
	}
	return watchPlain(ctx, sess, args, logger)
}

// watchFullScreen runs the terminal viewer. Opening errors are shown in the
// viewer, where they can be retried.
func watchFullScreen(ctx context.Context, sess *session.Session, args []string, logger *logging.Logger) error {
	if len(args) == 0 && repoURL == "" {
		return errNoTarget
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	model := tui.New(ctx, sess, tui.Options{
		Logger:        logger,
		Interaction:   cfg.Interaction,
		HideInspector: cfg.Viewer.HideInspector,
	})
	defer model.Close()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return sess.Run(gctx) })
	g.Go(func() error { return watchConfig(gctx, sess, logger) })
	g.Go(func() error {
		if _, err := openTarget(gctx, sess, args); err != nil {
			logger.Error("open failed", "error", err)
		}
		return nil
	})

	p := tea.NewProgram(model,
		tea.WithAltScreen(),
		tea.WithMouseCellMotion(),
		tea.WithContext(gctx),
	)
	_, runErr := p.Run()
	cancel()
	if err := g.Wait(); err != nil {
		return err
	}
	if runErr != nil && !errors.Is(runErr, tea.ErrProgramKilled) {
		return runErr
	}
	return nil
}

// watchPlain prints progress lines until the analysis finishes. It exits
// non-zero when the analysis or the connection fails.
func watchPlain(ctx context.Context, sess *session.Session, args []string, logger *logging.Logger) error {
	views := make(chan session.View, 1)
	unsub := sess.Subscribe(func(v session.View) { offer(views, v) })
	defer unsub()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return sess.Run(gctx) })
	g.Go(func() error { return watchConfig(gctx, sess, logger) })

	id, err := openTarget(gctx, sess, args)
	if err != nil {
		cancel()
		_ = g.Wait()
		return err
	}
	ux.KeyValue("session_id", id)

	var printer plainPrinter
	var failed error
loop:
	for {
		select {
		case <-gctx.Done():
			break loop
		case v := <-views:
			done, err := printer.Print(v)
			if done {
				failed = err
				break loop
			}
		}
	}
	cancel()
	if err := g.Wait(); err != nil {
		return err
	}
	if failed != nil {
		// Already printed.
		return errWatchFailed
	}
	return nil
}

// offer delivers v, replacing any value the reader has not taken yet.
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
