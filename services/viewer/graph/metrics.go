// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package graph

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Package-level tracer and meter for graph operations.
var (
	tracer = otel.Tracer("livegraph.graph")
	meter  = otel.Meter("livegraph.graph")
)

var (
	applyLatency   metric.Float64Histogram
	applyTotal     metric.Int64Counter
	nodeGauge      metric.Int64Gauge
	droppedEdges   metric.Int64Counter
	kindConflicts  metric.Int64Counter
	metricsOnce    sync.Once
	metricsInitErr error
)

// initMetrics initializes the instruments. Safe to call multiple times.
func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		applyLatency, err = meter.Float64Histogram(
			"livegraph_model_apply_duration_seconds",
			metric.WithDescription("Duration of snapshot application to the graph model"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsInitErr = err
			return
		}

		applyTotal, err = meter.Int64Counter(
			"livegraph_model_apply_total",
			metric.WithDescription("Snapshots applied to the graph model"),
		)
		if err != nil {
			metricsInitErr = err
			return
		}

		nodeGauge, err = meter.Int64Gauge(
			"livegraph_model_nodes",
			metric.WithDescription("Nodes currently held by the graph model"),
		)
		if err != nil {
			metricsInitErr = err
			return
		}

		droppedEdges, err = meter.Int64Counter(
			"livegraph_model_pending_edges_total",
			metric.WithDescription("Edges held back because an endpoint is not materialized"),
		)
		if err != nil {
			metricsInitErr = err
			return
		}

		kindConflicts, err = meter.Int64Counter(
			"livegraph_model_kind_conflicts_total",
			metric.WithDescription("Snapshots that tried to change the kind of an existing node"),
		)
		if err != nil {
			metricsInitErr = err
		}
	})
	return metricsInitErr
}

// recordApplyMetrics records one Model.Apply call.
func recordApplyMetrics(ctx context.Context, duration time.Duration, nodes, pending, conflicts int) {
	if err := initMetrics(); err != nil {
		return
	}
	applyLatency.Record(ctx, duration.Seconds())
	applyTotal.Add(ctx, 1)
	nodeGauge.Record(ctx, int64(nodes))
	if pending > 0 {
		droppedEdges.Add(ctx, int64(pending))
	}
	if conflicts > 0 {
		kindConflicts.Add(ctx, int64(conflicts))
	}
}

// startApplySpan creates a span for Model.Apply.
func startApplySpan(ctx context.Context, status string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "graph.Model.Apply",
		trace.WithAttributes(
			attribute.String("snapshot.status", status),
		),
	)
}

// setApplySpanResult sets the result attributes on an apply span.
func setApplySpanResult(span trace.Span, nodes, edges, pending int) {
	span.SetAttributes(
		attribute.Int("graph.node_count", nodes),
		attribute.Int("graph.edge_count", edges),
		attribute.Int("graph.pending_edges", pending),
	)
}
