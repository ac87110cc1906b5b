// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package observability provides Prometheus metrics for the viewer.
//
// # Description
//
// Metrics cover the streaming connection (dials, state transitions,
// malformed messages), status polling results, and the HTTP surface (layout
// frames sent or dropped, connected viewers).
//
// # Integration
//
// Metrics are exposed via the /metrics endpoint of `livegraph serve`.
// ViewerMetrics satisfies connection.Observer and status.PollObserver, so it
// is handed directly to those components.
//
// # Thread Safety
//
// All metric operations are thread-safe via Prometheus's internal locking.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// Metric Definitions
// =============================================================================

// Namespace for all metrics
const metricsNamespace = "livegraph"

const (
	connectionSubsystem = "connection"
	pollSubsystem       = "poll"
	serverSubsystem     = "server"
)

// ViewerMetrics holds all Prometheus metrics for a viewer process.
//
// # Fields
//
//   - DialsTotal: Stream dial attempts by result (ok, error, cancelled)
//   - StateTransitionsTotal: Connection state transitions by phase
//   - ProtocolErrorsTotal: Dropped malformed stream messages
//   - PollsTotal: Status polls by result
//   - FramesTotal: Layout frames offered to browser viewers by outcome
//   - ActiveViewers: Currently connected browser viewers
//
// # Thread Safety
//
// All operations are thread-safe.
type ViewerMetrics struct {
	DialsTotal            *prometheus.CounterVec
	StateTransitionsTotal *prometheus.CounterVec
	ProtocolErrorsTotal   prometheus.Counter
	PollsTotal            *prometheus.CounterVec
	FramesTotal           *prometheus.CounterVec
	ActiveViewers         prometheus.Gauge
}

// NewViewerMetrics creates and registers all metrics with reg.
//
// # Inputs
//
//   - reg: Registry to register with. Nil uses prometheus.DefaultRegisterer.
//
// # Examples
//
//	m := observability.NewViewerMetrics(prometheus.NewRegistry())
//	mgr := connection.NewManager(cfg, dialer, urlFor, h, nil, logger, m, nil)
//
// # Limitations
//
//   - Panics on duplicate registration with the same registry.
func NewViewerMetrics(reg prometheus.Registerer) *ViewerMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)

	return &ViewerMetrics{
		DialsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: connectionSubsystem,
				Name:      "dials_total",
				Help:      "Stream dial attempts by result",
			},
			[]string{"result"},
		),

		StateTransitionsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: connectionSubsystem,
				Name:      "state_transitions_total",
				Help:      "Connection state transitions by target phase",
			},
			[]string{"phase"},
		),

		ProtocolErrorsTotal: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: connectionSubsystem,
				Name:      "protocol_errors_total",
				Help:      "Stream messages dropped because they could not be decoded",
			},
		),

		PollsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: pollSubsystem,
				Name:      "requests_total",
				Help:      "Status polls by result",
			},
			[]string{"result"},
		),

		FramesTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: serverSubsystem,
				Name:      "frames_total",
				Help:      "Layout frames offered to browser viewers by outcome",
			},
			[]string{"outcome"},
		),

		ActiveViewers: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: serverSubsystem,
				Name:      "active_viewers",
				Help:      "Number of connected browser viewers",
			},
		),
	}
}

// =============================================================================
// Observer Methods
// =============================================================================

// ObserveDial records one stream dial attempt.
func (m *ViewerMetrics) ObserveDial(result string) {
	if m == nil {
		return
	}
	m.DialsTotal.WithLabelValues(result).Inc()
}

// ObserveState records one connection state transition.
func (m *ViewerMetrics) ObserveState(phase string) {
	if m == nil {
		return
	}
	m.StateTransitionsTotal.WithLabelValues(phase).Inc()
}

// ObserveProtocolError records one dropped stream message.
func (m *ViewerMetrics) ObserveProtocolError() {
	if m == nil {
		return
	}
	m.ProtocolErrorsTotal.Inc()
}

// ObservePoll records one status poll.
func (m *ViewerMetrics) ObservePoll(result string) {
	if m == nil {
		return
	}
	m.PollsTotal.WithLabelValues(result).Inc()
}

// ObserveFrame records a layout frame sent to, or dropped for, a viewer.
func (m *ViewerMetrics) ObserveFrame(sent bool) {
	if m == nil {
		return
	}
	outcome := "dropped"
	if sent {
		outcome = "sent"
	}
	m.FramesTotal.WithLabelValues(outcome).Inc()
}

// ViewerConnected increments the active viewer gauge and returns a func
// that decrements it.
func (m *ViewerMetrics) ViewerConnected() func() {
	if m == nil {
		return func() {}
	}
	m.ActiveViewers.Inc()
	return m.ActiveViewers.Dec
}
