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
	"time"

	"github.com/AleutianAI/stealthboot/services/bootstrap/sampler"
)

// Kind names the estimator of a run.
type Kind string

const (
	KindWeights         Kind = "weights"
	KindWeightsOnce     Kind = "weights_once"
	KindWasserstein     Kind = "wasserstein"
	KindWassersteinOnce Kind = "wasserstein_once"
)

// Attempt carries the two counters that seed a batch.
//
// Replicate counts accepted batches and drives the index seed, so a retry
// selects the same points. Attempt counts every dispatched batch, including
// retries, and drives the noise seed, so a retry gets fresh jitter.
type Attempt struct {
	Replicate int `json:"replicate"`
	Attempt   int `json:"attempt"`
}

// IndexSeed returns the index seed of a worker slot.
func (a Attempt) IndexSeed(base int64, slot int) int64 {
	return sampler.SlotSeed(base+int64(a.Replicate), slot)
}

// NoiseSeed returns the jitter seed of a worker slot.
func (a Attempt) NoiseSeed(base int64, slot int) int64 {
	return sampler.SlotSeed(base+int64(a.Attempt), slot)
}

// WeightsResult is the outcome of a stealth sampling estimate.
type WeightsResult struct {
	RunID string `json:"run_id"`

	// Weights holds one weight per original point, grouped like the input.
	Weights [][]float64 `json:"weights"`

	// Replicates is the number of accepted batches.
	Replicates int `json:"replicates"`

	// Attempts is the number of dispatched batches, retries included.
	Attempts int `json:"attempts"`

	// Resumed is set when the run continued from a checkpoint.
	Resumed bool `json:"resumed"`

	Duration time.Duration `json:"duration"`
}

// DistanceResult is the outcome of a Wasserstein estimate.
type DistanceResult struct {
	RunID string `json:"run_id"`

	// Distance is the bootstrap mean of the per-job distances.
	Distance float64 `json:"distance"`

	// StdDev is the sample standard deviation of the per-job distances.
	StdDev float64 `json:"std_dev"`

	// SampleSize is the number of points drawn from each set per job.
	SampleSize int `json:"sample_size"`

	// Jobs is the number of folded solver results.
	Jobs int `json:"jobs"`

	Replicates int           `json:"replicates"`
	Attempts   int           `json:"attempts"`
	Resumed    bool          `json:"resumed"`
	Duration   time.Duration `json:"duration"`
}
