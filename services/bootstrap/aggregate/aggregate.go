// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package aggregate combines per-job solver outputs into bootstrap
// estimates.
//
// Accumulator scatters each job's weights back onto the original point
// positions and normalizes the total at the end. RunningScalar averages
// per-job scalars such as distances. Both are folded only from batches
// that completed and decoded in full, from a single goroutine.
package aggregate

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

var (
	// ErrShape indicates a job result whose shape does not fit the
	// accumulator.
	ErrShape = errors.New("job result shape mismatch")

	// ErrZeroWeight indicates a job whose subsample or multiplier total is
	// zero, so its weights cannot be normalized.
	ErrZeroWeight = errors.New("job has zero normalizer")

	// ErrDegenerateTotal indicates a final total that is zero or not finite.
	ErrDegenerateTotal = errors.New("accumulated total is not positive")
)

// =============================================================================
// WEIGHT ACCUMULATOR
// =============================================================================

// JobResult is the decoded output of one stealth sampling job.
type JobResult struct {
	// Indices are the original positions of the job's points, per group.
	Indices [][]int

	// Values are the solver weights, aligned with Indices.
	Values [][]float64

	// Multipliers are the scaled multipliers the job ran with.
	Multipliers []int
}

// Accumulator sums normalized job weights per original point.
//
// Thread Safety: NOT safe for concurrent use.
type Accumulator struct {
	q     [][]float64
	scale float64
	folds int
}

// NewAccumulator creates an accumulator for groups of the given sizes.
//
// Inputs:
//
//	sizes - Original size of every group.
//	epsilon - Initial value of every entry.
//	numSample - Bootstrap replicates in the run.
//	numProcess - Jobs per replicate.
//
// Outputs:
//
//	*Accumulator - The accumulator.
func NewAccumulator(sizes []int, epsilon float64, numSample, numProcess int) *Accumulator {
	q := make([][]float64, len(sizes))
	for j, n := range sizes {
		q[j] = make([]float64, n)
		for i := range q[j] {
			q[j][i] = epsilon
		}
	}
	return &Accumulator{q: q, scale: float64(numSample) * float64(numProcess)}
}

// Fold adds one job's weights.
//
// Description:
//
//	Each value is divided by sum(subsample sizes) * sum(multipliers) *
//	numSample * numProcess and added at its original index. Nothing is
//	added when the job is rejected.
//
// Inputs:
//
//	job - Decoded job output.
//
// Outputs:
//
//	error - ErrShape or ErrZeroWeight when the job cannot be folded.
func (a *Accumulator) Fold(job JobResult) error {
	if len(job.Indices) != len(a.q) || len(job.Values) != len(a.q) {
		return fmt.Errorf("%w: %d index groups, %d value groups, want %d",
			ErrShape, len(job.Indices), len(job.Values), len(a.q))
	}

	points := 0
	for j, idx := range job.Indices {
		if len(idx) != len(job.Values[j]) {
			return fmt.Errorf("%w: group %d has %d indices and %d values",
				ErrShape, j, len(idx), len(job.Values[j]))
		}
		for _, i := range idx {
			if i < 0 || i >= len(a.q[j]) {
				return fmt.Errorf("%w: group %d index %d out of range", ErrShape, j, i)
			}
		}
		points += len(idx)
	}
	k := 0
	for _, m := range job.Multipliers {
		k += m
	}
	if points == 0 || k == 0 {
		return fmt.Errorf("%w: %d points, multiplier total %d", ErrZeroWeight, points, k)
	}

	denom := float64(points) * float64(k) * a.scale
	for j, idx := range job.Indices {
		for n, i := range idx {
			a.q[j][i] += job.Values[j][n] / denom
		}
	}
	a.folds++
	return nil
}

// Folds returns the number of jobs folded so far.
func (a *Accumulator) Folds() int {
	return a.folds
}

// Finalize returns the accumulated weights divided by their grand total.
//
// The accumulator itself is left unchanged.
func (a *Accumulator) Finalize() ([][]float64, error) {
	total := 0.0
	for _, g := range a.q {
		total += floats.Sum(g)
	}
	if !(total > 0) || math.IsInf(total, 0) {
		return nil, fmt.Errorf("%w: %v", ErrDegenerateTotal, total)
	}

	out := make([][]float64, len(a.q))
	for j, g := range a.q {
		out[j] = make([]float64, len(g))
		copy(out[j], g)
		floats.Scale(1/total, out[j])
	}
	return out, nil
}

// AccumulatorState is a serializable copy of an Accumulator.
type AccumulatorState struct {
	Q     [][]float64 `json:"q"`
	Scale float64     `json:"scale"`
	Folds int         `json:"folds"`
}

// Snapshot returns a deep copy of the accumulator's state.
func (a *Accumulator) Snapshot() AccumulatorState {
	q := make([][]float64, len(a.q))
	for j, g := range a.q {
		q[j] = append([]float64(nil), g...)
	}
	return AccumulatorState{Q: q, Scale: a.scale, Folds: a.folds}
}

// Restore replaces the accumulator's state with s.
//
// The group count and sizes of s must match the accumulator.
func (a *Accumulator) Restore(s AccumulatorState) error {
	if len(s.Q) != len(a.q) || s.Scale != a.scale {
		return fmt.Errorf("%w: snapshot does not match accumulator", ErrShape)
	}
	for j := range s.Q {
		if len(s.Q[j]) != len(a.q[j]) {
			return fmt.Errorf("%w: snapshot group %d has %d entries, want %d",
				ErrShape, j, len(s.Q[j]), len(a.q[j]))
		}
	}
	for j := range s.Q {
		copy(a.q[j], s.Q[j])
	}
	a.folds = s.Folds
	return nil
}

// =============================================================================
// SCALAR AVERAGE
// =============================================================================

// RunningScalar averages per-job scalars over a bootstrap run.
//
// Thread Safety: NOT safe for concurrent use.
type RunningScalar struct {
	scale  float64
	sum    float64
	values []float64
}

// NewRunningScalar creates an average over numSample * numProcess jobs.
func NewRunningScalar(numSample, numProcess int) *RunningScalar {
	return &RunningScalar{scale: float64(numSample) * float64(numProcess)}
}

// Fold adds v / (numSample * numProcess) to the estimate.
func (s *RunningScalar) Fold(v float64) {
	s.sum += v / s.scale
	s.values = append(s.values, v)
}

// Value returns the current estimate.
func (s *RunningScalar) Value() float64 {
	return s.sum
}

// Count returns the number of folded values.
func (s *RunningScalar) Count() int {
	return len(s.values)
}

// StdDev returns the sample standard deviation of the folded values.
//
// It is zero with fewer than two values.
func (s *RunningScalar) StdDev() float64 {
	if len(s.values) < 2 {
		return 0
	}
	_, std := stat.MeanStdDev(s.values, nil)
	return std
}

// ScalarState is a serializable copy of a RunningScalar.
type ScalarState struct {
	Scale  float64   `json:"scale"`
	Sum    float64   `json:"sum"`
	Values []float64 `json:"values"`
}

// Snapshot returns a copy of the scalar's state.
func (s *RunningScalar) Snapshot() ScalarState {
	return ScalarState{Scale: s.scale, Sum: s.sum, Values: append([]float64(nil), s.values...)}
}

// Restore replaces the scalar's state with st.
func (s *RunningScalar) Restore(st ScalarState) error {
	if st.Scale != s.scale {
		return fmt.Errorf("%w: snapshot scale %v, want %v", ErrShape, st.Scale, s.scale)
	}
	s.sum = st.Sum
	s.values = append([]float64(nil), st.Values...)
	return nil
}
