// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package batch

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// Prometheus Metrics for Solver Batches
// =============================================================================

const (
	outcomeCompleted    = "completed"
	outcomeTimedOut     = "timed_out"
	outcomeWaitFailed   = "wait_failed"
	outcomeLaunchFailed = "launch_failed"
	outcomeCanceled     = "canceled"
)

var (
	// batchRuns counts batches by outcome.
	// Labels: outcome (completed, timed_out, wait_failed, launch_failed, canceled)
	batchRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "stealthboot",
		Subsystem: "batch",
		Name:      "runs_total",
		Help:      "Total solver batches by outcome",
	}, []string{"outcome"})

	// batchDuration measures wall time from first launch to last reap.
	// Labels: outcome
	batchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "stealthboot",
		Subsystem: "batch",
		Name:      "duration_seconds",
		Help:      "Solver batch duration in seconds",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
	}, []string{"outcome"})

	// processesStarted counts solver processes launched.
	processesStarted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "stealthboot",
		Subsystem: "batch",
		Name:      "processes_started_total",
		Help:      "Total solver processes started",
	})

	// processesKilled counts solver processes killed while still running.
	processesKilled = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "stealthboot",
		Subsystem: "batch",
		Name:      "processes_killed_total",
		Help:      "Total solver processes killed before exiting",
	})

	// nonZeroExits counts solver processes that exited with a failure status.
	nonZeroExits = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "stealthboot",
		Subsystem: "batch",
		Name:      "nonzero_exits_total",
		Help:      "Total solver processes that exited with a non-zero status",
	})
)

// recordBatch records the outcome and duration of one batch.
func recordBatch(outcome string, seconds float64) {
	batchRuns.WithLabelValues(outcome).Inc()
	batchDuration.WithLabelValues(outcome).Observe(seconds)
}
