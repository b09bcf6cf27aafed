// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package bootstrap

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Package-level tracer and meter for engine operations.
var (
	tracer = otel.Tracer("stealthboot.bootstrap")
	meter  = otel.Meter("stealthboot.bootstrap")
)

// Metrics for engine operations.
var (
	runLatency    metric.Float64Histogram
	runTotal      metric.Int64Counter
	attemptTotal  metric.Int64Counter
	replicateDone metric.Int64Counter

	metricsOnce sync.Once
	metricsErr  error
)

// initMetrics initializes the metrics. Safe to call multiple times.
func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		runLatency, err = meter.Float64Histogram(
			"bootstrap_run_duration_seconds",
			metric.WithDescription("Duration of estimation runs"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		runTotal, err = meter.Int64Counter(
			"bootstrap_run_total",
			metric.WithDescription("Total number of estimation runs"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		attemptTotal, err = meter.Int64Counter(
			"bootstrap_attempts_total",
			metric.WithDescription("Total number of batch attempts"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		replicateDone, err = meter.Int64Counter(
			"bootstrap_replicates_total",
			metric.WithDescription("Total number of accepted replicates"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

// startRunSpan creates a span for an estimation run.
func startRunSpan(ctx context.Context, runID string, kind Kind) (context.Context, trace.Span) {
	return tracer.Start(ctx, "Engine."+string(kind),
		trace.WithAttributes(
			attribute.String("bootstrap.run_id", runID),
			attribute.String("bootstrap.kind", string(kind)),
		),
	)
}

// startAttemptSpan creates a span for one batch attempt.
func startAttemptSpan(ctx context.Context, at Attempt, jobs int) (context.Context, trace.Span) {
	return tracer.Start(ctx, "Engine.attempt",
		trace.WithAttributes(
			attribute.Int("bootstrap.replicate", at.Replicate),
			attribute.Int("bootstrap.attempt", at.Attempt),
			attribute.Int("bootstrap.jobs", jobs),
		),
	)
}

// setRunSpanResult sets the result attributes on a run span.
func setRunSpanResult(span trace.Span, success bool, replicates, attempts int) {
	span.SetAttributes(
		attribute.Bool("bootstrap.success", success),
		attribute.Int("bootstrap.replicates", replicates),
		attribute.Int("bootstrap.attempts", attempts),
	)
}

// recordRunMetrics records metrics for a finished run.
func recordRunMetrics(ctx context.Context, kind Kind, duration time.Duration, success bool) {
	if err := initMetrics(); err != nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("kind", string(kind)),
		attribute.Bool("success", success),
	)
	runLatency.Record(ctx, duration.Seconds(), attrs)
	runTotal.Add(ctx, 1, attrs)
}

// recordAttempt records one batch attempt and its outcome.
func recordAttempt(ctx context.Context, kind Kind, outcome string) {
	if err := initMetrics(); err != nil {
		return
	}
	attemptTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("kind", string(kind)),
		attribute.String("outcome", outcome),
	))
}

// recordReplicate records one accepted replicate.
func recordReplicate(ctx context.Context, kind Kind) {
	if err := initMetrics(); err != nil {
		return
	}
	replicateDone.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", string(kind))))
}
