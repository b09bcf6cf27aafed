// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package sampler

import (
	"errors"
	"fmt"
	"math"
	"math/rand"

	"github.com/AleutianAI/stealthboot/services/bootstrap/dataset"
)

// DefaultJitterScale is the standard deviation of the coordinate noise.
const DefaultJitterScale = 1e-10

// ErrInvalidRatio indicates a subsampling ratio outside (0, 1].
var ErrInvalidRatio = errors.New("ratio must be in (0, 1]")

// =============================================================================
// ROUNDING
// =============================================================================

// SubsampleSize returns round(ratio * n).
//
// Halves round to the nearest even integer, so a group of 5 at ratio 0.5
// contributes 2 points, not 3.
func SubsampleSize(n int, ratio float64) int {
	return int(math.RoundToEven(ratio * float64(n)))
}

// ScaleMultiplier returns round(ratio * k) with the same rounding as
// SubsampleSize.
func ScaleMultiplier(k int, ratio float64) int {
	return int(math.RoundToEven(ratio * float64(k)))
}

// =============================================================================
// SEEDS
// =============================================================================

// SlotSeed derives the seed of one worker slot from a replicate seed.
//
// Description:
//
//	Mixes the slot number into the seed with the splitmix64 finalizer so
//	that the worker jobs of one replicate draw from independent streams
//	while staying reproducible from (seed, slot).
func SlotSeed(seed int64, slot int) int64 {
	z := uint64(seed) + uint64(slot)*0x9e3779b97f4a7c15
	z = (z ^ (z >> 30)) * 0xbf58476d1ce4e5b9
	z = (z ^ (z >> 27)) * 0x94d049bb133111eb
	return int64(z ^ (z >> 31))
}

// =============================================================================
// SAMPLER
// =============================================================================

// Sampler draws the subsamples of one bootstrap replicate.
//
// Thread Safety: Safe for concurrent use. Every draw creates its own
// random source from the seeds it is given.
type Sampler struct {
	ratio       float64
	jitterScale float64
}

// New creates a sampler.
//
// Inputs:
//
//	ratio - Fraction of each group kept per replicate, in (0, 1].
//	jitterScale - Standard deviation of the coordinate noise. Zero disables it.
//
// Outputs:
//
//	*Sampler - The sampler.
//	error - Non-nil if ratio or jitterScale is out of range.
func New(ratio, jitterScale float64) (*Sampler, error) {
	if !(ratio > 0 && ratio <= 1) {
		return nil, fmt.Errorf("%w: got %v", ErrInvalidRatio, ratio)
	}
	if jitterScale < 0 || math.IsNaN(jitterScale) {
		return nil, fmt.Errorf("jitter scale must be non-negative, got %v", jitterScale)
	}
	return &Sampler{ratio: ratio, jitterScale: jitterScale}, nil
}

// Ratio returns the subsampling ratio.
func (s *Sampler) Ratio() float64 {
	return s.ratio
}

// Counts returns the subsample size of each group.
func (s *Sampler) Counts(sizes []int) []int {
	counts := make([]int, len(sizes))
	for j, n := range sizes {
		counts[j] = SubsampleSize(n, s.ratio)
	}
	return counts
}

// ScaledMultipliers returns the multiplier of each group scaled by the ratio.
func (s *Sampler) ScaledMultipliers(ks []int) []int {
	scaled := make([]int, len(ks))
	for j, k := range ks {
		scaled[j] = ScaleMultiplier(k, s.ratio)
	}
	return scaled
}

// GroupDraw is one worker slot's share of a stealth-sampling replicate.
type GroupDraw struct {
	// Indices are the selected positions in each original group.
	Indices [][]int

	// Points are the selected rows of each group with jitter applied.
	Points [][][]float64

	// Multipliers are the ratio-scaled multipliers of each group.
	Multipliers []int
}

// Sizes returns the number of selected points in each group.
func (d *GroupDraw) Sizes() []int {
	sizes := make([]int, len(d.Indices))
	for j, idx := range d.Indices {
		sizes[j] = len(idx)
	}
	return sizes
}

// DrawGroups selects and perturbs one slot's subsample of every group.
//
// Description:
//
//	Indices come from indexSeed only and jitter from noiseSeed only, so a
//	retried attempt with the same index seed selects the same rows while
//	receiving fresh noise.
//
// Inputs:
//
//	groups - The validated input groups.
//	indexSeed - Seed of the index permutation stream.
//	noiseSeed - Seed of the jitter stream.
//
// Outputs:
//
//	*GroupDraw - Indices, jittered rows and scaled multipliers.
func (s *Sampler) DrawGroups(groups []dataset.Group, indexSeed, noiseSeed int64) *GroupDraw {
	indices := Indices(dataset.Sizes(groups), s.Counts(dataset.Sizes(groups)), indexSeed)

	selected := make([][][]float64, len(groups))
	for j, g := range groups {
		selected[j] = dataset.Gather(g.Points, indices[j])
	}

	return &GroupDraw{
		Indices:     indices,
		Points:      JitterGroups(selected, noiseSeed, s.jitterScale),
		Multipliers: s.ScaledMultipliers(dataset.Multipliers(groups)),
	}
}

// PairDraw is one worker slot's share of a Wasserstein replicate.
type PairDraw struct {
	Indices1 []int
	Indices2 []int
	Points1  [][]float64
	Points2  [][]float64
}

// DrawPair selects n rows from each of two point sets and perturbs them.
//
// Both permutations come from the same index stream, first set first. The
// caller clamps n to the size of the smaller set.
func (s *Sampler) DrawPair(x1, x2 [][]float64, n int, indexSeed, noiseSeed int64) *PairDraw {
	idx := Indices([]int{len(x1), len(x2)}, []int{n, n}, indexSeed)
	jittered := JitterGroups([][][]float64{
		dataset.Gather(x1, idx[0]),
		dataset.Gather(x2, idx[1]),
	}, noiseSeed, s.jitterScale)

	return &PairDraw{
		Indices1: idx[0],
		Indices2: idx[1],
		Points1:  jittered[0],
		Points2:  jittered[1],
	}
}

// =============================================================================
// PRIMITIVES
// =============================================================================

// Indices draws counts[j] distinct positions from [0, sizes[j]) per group.
//
// One random stream seeded with seed serves all groups in order; each
// group takes the prefix of a fresh permutation.
func Indices(sizes, counts []int, seed int64) [][]int {
	rng := rand.New(rand.NewSource(seed))
	out := make([][]int, len(sizes))
	for j, n := range sizes {
		m := counts[j]
		if m > n {
			m = n
		}
		out[j] = rng.Perm(n)[:m]
	}
	return out
}

// JitterGroups returns a perturbed deep copy of every group's rows.
//
// Each coordinate receives scale * N(0, 1) noise from one stream seeded
// with seed, visiting groups, rows and coordinates in order. The input is
// never modified.
func JitterGroups(groups [][][]float64, seed int64, scale float64) [][][]float64 {
	rng := rand.New(rand.NewSource(seed))
	out := make([][][]float64, len(groups))
	for j, rows := range groups {
		out[j] = make([][]float64, len(rows))
		for i, row := range rows {
			cp := make([]float64, len(row))
			for k, v := range row {
				cp[k] = v + scale*rng.NormFloat64()
			}
			out[j][i] = cp
		}
	}
	return out
}

// Jitter returns a perturbed copy of a single point set.
func Jitter(points [][]float64, seed int64, scale float64) [][]float64 {
	return JitterGroups([][][]float64{points}, seed, scale)[0]
}
