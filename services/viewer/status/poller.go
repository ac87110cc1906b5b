// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package status

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/AleutianAI/livegraph/pkg/logging"
	"github.com/AleutianAI/livegraph/services/viewer/clock"
	"github.com/AleutianAI/livegraph/services/viewer/datatypes"
)

// Fetcher retrieves the current snapshot of a session. Implementations must
// return an error wrapping ErrAnalysisNotFound when the backend no longer
// knows the session.
type Fetcher interface {
	FetchSnapshot(ctx context.Context, sessionID string) (*datatypes.AnalysisSnapshot, error)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(ctx context.Context, sessionID string) (*datatypes.AnalysisSnapshot, error)

// FetchSnapshot calls f.
func (f FetcherFunc) FetchSnapshot(ctx context.Context, sessionID string) (*datatypes.AnalysisSnapshot, error) {
	return f(ctx, sessionID)
}

// PollObserver receives one call per poll attempt. Result is an Outcome for
// delivered snapshots, or one of "transient_error", "protocol_error",
// "not_found" and "exhausted".
type PollObserver interface {
	ObservePoll(result string)
}

// PollerConfig configures a Poller.
type PollerConfig struct {
	// Interval between polls.
	Interval time.Duration `yaml:"interval" validate:"gt=0"`

	// MaxTransientFailures is how many consecutive failed polls are
	// tolerated; one more fails the session with ErrPollRetriesExhausted.
	MaxTransientFailures int `yaml:"max_transient_failures" validate:"gte=0"`

	// RequestTimeout bounds one fetch. Zero means no timeout.
	RequestTimeout time.Duration `yaml:"request_timeout" validate:"gte=0"`
}

// DefaultPollerConfig returns a 2s interval with 5 tolerated failures.
func DefaultPollerConfig() PollerConfig {
	return PollerConfig{
		Interval:             2 * time.Second,
		MaxTransientFailures: 5,
		RequestTimeout:       10 * time.Second,
	}
}

// Poller fetches snapshots periodically while the analysis is processing.
//
// # Description
//
// The first fetch is issued immediately, then once per Interval. Polling
// stops on its own when a snapshot reports completed or error, when the
// session fails or changes, and when Stop is called. A not-found response is
// terminal and is never retried. Other failures are retried until
// MaxTransientFailures consecutive failures have been seen.
//
// # Thread Safety
//
// Start and Stop are safe for concurrent use.
type Poller struct {
	store    *Store
	fetcher  Fetcher
	clk      clock.Clock
	cfg      PollerConfig
	logger   *logging.Logger
	observer PollObserver

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	session string
}

// NewPoller creates a poller. Nil clock and logger use defaults; observer
// may be nil.
func NewPoller(store *Store, fetcher Fetcher, cfg PollerConfig, clk clock.Clock, logger *logging.Logger, observer PollObserver) *Poller {
	if clk == nil {
		clk = clock.Real{}
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &Poller{
		store:    store,
		fetcher:  fetcher,
		clk:      clk,
		cfg:      cfg,
		logger:   logger,
		observer: observer,
	}
}

// Start begins polling sessionID. If the poller is already running for the
// same session it does nothing; a different session is stopped first.
func (p *Poller) Start(ctx context.Context, sessionID string) {
	p.mu.Lock()
	if p.done != nil {
		select {
		case <-p.done:
			p.done = nil
		default:
		}
	}
	if p.done != nil && p.session == sessionID {
		p.mu.Unlock()
		return
	}
	p.mu.Unlock()
	p.Stop()

	p.mu.Lock()
	defer p.mu.Unlock()
	pctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	p.cancel = cancel
	p.done = done
	p.session = sessionID
	go func() {
		defer close(done)
		p.run(pctx, sessionID)
	}()
}

// Stop cancels polling and waits for any in-flight poll to finish. After
// Stop returns, the poller will not apply anything to the store.
func (p *Poller) Stop() {
	p.mu.Lock()
	cancel, done := p.cancel, p.done
	p.cancel, p.done = nil, nil
	p.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

// Running reports whether a poll loop is active.
func (p *Poller) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.done == nil {
		return false
	}
	select {
	case <-p.done:
		return false
	default:
		return true
	}
}

func (p *Poller) run(ctx context.Context, sessionID string) {
	log := p.logger.With("session_id", sessionID)
	log.Debug("polling started", "interval", p.cfg.Interval)
	defer log.Debug("polling stopped")

	failures := 0
	for {
		v := p.store.View()
		if v.SessionID != sessionID || !v.Processing() {
			return
		}

		stamp := p.store.Stamp()
		snap, err := p.fetch(ctx, sessionID)
		if ctx.Err() != nil {
			return
		}

		switch {
		case errors.Is(err, ErrAnalysisNotFound):
			p.observe("not_found")
			log.Warn("analysis not found, polling stopped")
			p.store.Fail(sessionID, ErrAnalysisNotFound)
			return

		case err != nil:
			failures++
			if failures > p.cfg.MaxTransientFailures {
				p.observe("exhausted")
				log.Error("status polling gave up", "attempts", failures, "error", err)
				p.store.Fail(sessionID, fmt.Errorf("%w after %d attempts: %v", ErrPollRetriesExhausted, failures, err))
				return
			}
			p.observe("transient_error")
			log.Warn("status poll failed", "attempt", failures, "max_failures", p.cfg.MaxTransientFailures, "error", err)

		default:
			failures = 0
			outcome := p.store.Apply(sessionID, snap, SourcePoll, stamp)
			p.observe(string(outcome))
			if outcome == Applied && snap.Status.Terminal() {
				return
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-p.clk.After(p.cfg.Interval):
		}
	}
}

func (p *Poller) fetch(ctx context.Context, sessionID string) (*datatypes.AnalysisSnapshot, error) {
	if p.cfg.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.RequestTimeout)
		defer cancel()
	}
	snap, err := p.fetcher.FetchSnapshot(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if snap == nil {
		p.observe("protocol_error")
		return nil, errors.New("empty snapshot")
	}
	if err := snap.Validate(); err != nil {
		p.observe("protocol_error")
		return nil, err
	}
	return snap, nil
}

func (p *Poller) observe(result string) {
	if p.observer != nil {
		p.observer.ObservePoll(result)
	}
}
