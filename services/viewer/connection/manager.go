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
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/gorilla/websocket"

	"github.com/AleutianAI/livegraph/pkg/logging"
	"github.com/AleutianAI/livegraph/services/viewer/clock"
	"github.com/AleutianAI/livegraph/services/viewer/datatypes"
)

// =============================================================================
// Configuration
// =============================================================================

// Config configures reconnect behaviour.
type Config struct {
	// MaxAttempts is the number of consecutive failed attempts after which
	// the manager gives up.
	MaxAttempts int `yaml:"max_attempts" validate:"gte=1"`

	// InitialBackoff is the delay before the first reconnect.
	InitialBackoff time.Duration `yaml:"initial_backoff" validate:"gt=0"`

	// MaxBackoff caps the delay between reconnects.
	MaxBackoff time.Duration `yaml:"max_backoff" validate:"gtefield=InitialBackoff"`

	// Multiplier grows the delay after each failure.
	Multiplier float64 `yaml:"multiplier" validate:"gte=1"`

	// Jitter is the randomization factor in [0, 1).
	Jitter float64 `yaml:"jitter" validate:"gte=0,lt=1"`

	// ReadTimeout closes a silent connection abnormally. Zero disables it.
	ReadTimeout time.Duration `yaml:"read_timeout"`

	// HandshakeTimeout bounds the websocket handshake.
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
}

// DefaultConfig returns 5 attempts with 1s..30s backoff.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:      5,
		InitialBackoff:   time.Second,
		MaxBackoff:       30 * time.Second,
		Multiplier:       2,
		Jitter:           0.2,
		HandshakeTimeout: 10 * time.Second,
	}
}

func (c Config) newBackoff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.InitialBackoff
	b.MaxInterval = c.MaxBackoff
	b.Multiplier = c.Multiplier
	b.RandomizationFactor = c.Jitter
	b.Reset()
	return b
}

// Handlers receive manager events. Any field may be nil. Handlers run on the
// subscription goroutine, except for the Closed transition produced by
// Close, which runs on the caller. Handlers may call Close and Open. No
// handler call starts after Close returns, but one already running may
// still be in progress.
type Handlers struct {
	OnMessage       func(sessionID string, snap *datatypes.AnalysisSnapshot)
	OnStateChange   func(State)
	OnProtocolError func(sessionID string, err error)
}

// Observer receives metrics events. Dial results are "ok", "error" and
// "cancelled".
type Observer interface {
	ObserveDial(result string)
	ObserveState(phase string)
	ObserveProtocolError()
}

// =============================================================================
// Manager
// =============================================================================

// Manager owns the streaming subscription for one session at a time.
//
// # Description
//
// Open starts a subscription goroutine that dials, reads, and reconnects
// following the package state machine. The attempt counter is reset on every
// successful open. Each abnormal closure, failed dial or read timeout
// increments it; when it reaches MaxAttempts the manager enters Failed with
// ErrRetriesExhausted and does not dial again.
//
// # Thread Safety
//
// All methods are safe for concurrent use and may be called from handlers.
type Manager struct {
	cfg      Config
	dialer   Dialer
	urlFor   URLFunc
	clk      clock.Clock
	logger   *logging.Logger
	handlers Handlers
	observer Observer
	header   http.Header

	mu    sync.Mutex
	state State
	sub   *subscription
}

// subscription is the lifetime of one Open call.
type subscription struct {
	sessionID string
	cancel    context.CancelFunc
	done      chan struct{}

	// mu orders handler delivery against Close: once closed is set no new
	// handler call starts.
	mu     sync.Mutex
	closed bool
	conn   Conn
}

// NewManager creates a manager.
//
// # Inputs
//
//   - cfg: Reconnect configuration.
//   - dialer: Opens connections. Use NewWebsocketDialer in production.
//   - urlFor: Resolves the stream URL for a session.
//   - handlers: Event callbacks.
//   - clk: Time source for backoff. Nil uses the wall clock.
//   - logger: Nil discards output.
//   - observer: Optional metrics sink.
//   - header: Extra handshake headers, e.g. X-Client-ID. May be nil.
func NewManager(cfg Config, dialer Dialer, urlFor URLFunc, handlers Handlers, clk clock.Clock, logger *logging.Logger, observer Observer, header http.Header) *Manager {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultConfig().MaxAttempts
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = DefaultConfig().InitialBackoff
	}
	if cfg.MaxBackoff < cfg.InitialBackoff {
		cfg.MaxBackoff = cfg.InitialBackoff
	}
	if cfg.Multiplier < 1 {
		cfg.Multiplier = 1
	}
	if clk == nil {
		clk = clock.Real{}
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &Manager{
		cfg:      cfg,
		dialer:   dialer,
		urlFor:   urlFor,
		clk:      clk,
		logger:   logger,
		handlers: handlers,
		observer: observer,
		header:   header,
	}
}

// State returns the current state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Open subscribes to sessionID, closing any previous subscription first.
func (m *Manager) Open(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return ErrEmptySessionID
	}
	m.Close()

	sctx, cancel := context.WithCancel(ctx)
	sub := &subscription{sessionID: sessionID, cancel: cancel, done: make(chan struct{})}

	m.mu.Lock()
	m.sub = sub
	m.mu.Unlock()

	go func() {
		defer close(sub.done)
		m.run(sctx, sub)
	}()
	return nil
}

// Close ends the current subscription with a normal closure. It never
// triggers a reconnect and is idempotent. It does not wait for the
// subscription goroutine; use Wait for that.
func (m *Manager) Close() {
	m.mu.Lock()
	sub := m.sub
	m.mu.Unlock()
	if sub == nil {
		return
	}

	sub.mu.Lock()
	if sub.closed {
		sub.mu.Unlock()
		return
	}
	sub.closed = true
	conn := sub.conn
	sub.conn = nil
	sub.mu.Unlock()

	sub.cancel()
	if conn != nil {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "client closed")
		if err := conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second)); err != nil {
			m.logger.Debug("close frame not sent", "session_id", sub.sessionID, "error", err)
		}
		_ = conn.Close()
	}

	st := State{SessionID: sub.sessionID, Phase: PhaseClosed}
	m.mu.Lock()
	if m.sub == sub {
		m.state = st
	}
	m.mu.Unlock()
	m.logger.Info("stream closed by client", "session_id", sub.sessionID)
	m.emitState(st)
}

// Wait blocks until the current subscription goroutine has exited.
func (m *Manager) Wait() {
	m.mu.Lock()
	sub := m.sub
	m.mu.Unlock()
	if sub != nil {
		<-sub.done
	}
}

func (m *Manager) run(ctx context.Context, sub *subscription) {
	log := m.logger.With("session_id", sub.sessionID)
	b := m.cfg.newBackoff()
	attempt := 0

	defer func() {
		// A cancelled parent context ends the subscription like Close.
		if ctx.Err() != nil {
			m.transition(sub, State{SessionID: sub.sessionID, Phase: PhaseClosed})
		}
		sub.mu.Lock()
		sub.closed = true
		sub.mu.Unlock()
	}()

	for {
		if !m.transition(sub, State{SessionID: sub.sessionID, Phase: PhaseConnecting, Attempt: attempt}) {
			return
		}

		cause := m.connect(ctx, sub, log, &attempt, b)
		if cause == nil {
			return
		}

		attempt++
		if attempt >= m.cfg.MaxAttempts {
			err := fmt.Errorf("%w after %d attempts: %v", ErrRetriesExhausted, attempt, cause)
			log.Error("stream failed", "attempt", attempt, "error", cause)
			m.transition(sub, State{SessionID: sub.sessionID, Phase: PhaseFailed, Attempt: attempt, Err: err})
			return
		}

		delay := b.NextBackOff()
		log.Warn("stream lost, reconnecting", "attempt", attempt, "max_attempts", m.cfg.MaxAttempts, "delay", delay, "error", cause)
		if !m.transition(sub, State{SessionID: sub.sessionID, Phase: PhaseReconnecting, Attempt: attempt, Err: cause}) {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-m.clk.After(delay):
		}
	}
}

// connect dials once and reads until the connection ends. It returns nil
// when the subscription should stop without reconnecting, otherwise the
// cause of the abnormal closure.
func (m *Manager) connect(ctx context.Context, sub *subscription, log *logging.Logger, attempt *int, b *backoff.ExponentialBackOff) error {
	url, err := m.urlFor(sub.sessionID)
	if err != nil {
		return fmt.Errorf("resolve stream url: %w", err)
	}

	conn, err := m.dialer.Dial(ctx, url, m.header)
	if ctx.Err() != nil {
		m.observeDial("cancelled")
		if conn != nil {
			_ = conn.Close()
		}
		return nil
	}
	if err != nil {
		m.observeDial("error")
		return err
	}
	m.observeDial("ok")

	sub.mu.Lock()
	if sub.closed {
		sub.mu.Unlock()
		_ = conn.Close()
		return nil
	}
	sub.conn = conn
	sub.mu.Unlock()

	*attempt = 0
	b.Reset()
	log.Info("stream open", "url", url)
	if !m.transition(sub, State{SessionID: sub.sessionID, Phase: PhaseOpen}) {
		return nil
	}

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	err = m.readLoop(ctx, sub, conn, log)
	stop()
	sub.mu.Lock()
	if sub.conn == conn {
		sub.conn = nil
	}
	sub.mu.Unlock()
	_ = conn.Close()

	if ctx.Err() != nil {
		return nil
	}
	if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		log.Info("stream closed by server")
		m.transition(sub, State{SessionID: sub.sessionID, Phase: PhaseClosed})
		return nil
	}
	return err
}

func (m *Manager) readLoop(ctx context.Context, sub *subscription, conn Conn, log *logging.Logger) error {
	for {
		if m.cfg.ReadTimeout > 0 {
			if err := conn.SetReadDeadline(time.Now().Add(m.cfg.ReadTimeout)); err != nil {
				return err
			}
		}
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		snap, err := decode(data)
		if err != nil {
			log.Warn("dropping malformed stream message", "error", err, "bytes", len(data))
			if m.observer != nil {
				m.observer.ObserveProtocolError()
			}
			if h := m.handlers.OnProtocolError; h != nil {
				m.deliver(sub, func() { h(sub.sessionID, err) })
			}
			continue
		}
		if h := m.handlers.OnMessage; h != nil {
			if !m.deliver(sub, func() { h(sub.sessionID, snap) }) {
				return context.Canceled
			}
		}
	}
}

func decode(data []byte) (*datatypes.AnalysisSnapshot, error) {
	var snap datatypes.AnalysisSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProtocol, err)
	}
	if err := snap.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProtocol, err)
	}
	return &snap, nil
}

// transition records st and notifies handlers unless the subscription was
// closed. It reports whether the subscription is still live.
func (m *Manager) transition(sub *subscription, st State) bool {
	sub.mu.Lock()
	if sub.closed {
		sub.mu.Unlock()
		return false
	}
	m.mu.Lock()
	if m.sub == sub {
		m.state = st
	}
	m.mu.Unlock()
	sub.mu.Unlock()

	m.emitState(st)
	return true
}

// deliver runs fn unless the subscription is closed.
func (m *Manager) deliver(sub *subscription, fn func()) bool {
	sub.mu.Lock()
	closed := sub.closed
	sub.mu.Unlock()
	if closed {
		return false
	}
	fn()
	return true
}

func (m *Manager) emitState(st State) {
	if m.observer != nil {
		m.observer.ObserveState(st.Phase.String())
	}
	if h := m.handlers.OnStateChange; h != nil {
		h(st)
	}
}

func (m *Manager) observeDial(result string) {
	if m.observer != nil {
		m.observer.ObserveDial(result)
	}
}

// IsTerminal reports whether err ends a session for good.
func IsTerminal(err error) bool {
	return errors.Is(err, ErrRetriesExhausted)
}
