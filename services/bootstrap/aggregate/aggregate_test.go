// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package aggregate

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/floats"
)

func sumAll(q [][]float64) float64 {
	total := 0.0
	for _, g := range q {
		total += floats.Sum(g)
	}
	return total
}

func TestAccumulator_InitialEpsilon(t *testing.T) {
	a := NewAccumulator([]int{2, 3}, 1e-10, 1, 1)
	snap := a.Snapshot()
	assert.Equal(t, [][]float64{{1e-10, 1e-10}, {1e-10, 1e-10, 1e-10}}, snap.Q)

	out, err := a.Finalize()
	require.NoError(t, err)
	for _, g := range out {
		for _, v := range g {
			assert.InDelta(t, 0.2, v, 1e-12)
		}
	}
}

func TestAccumulator_FoldScatters(t *testing.T) {
	a := NewAccumulator([]int{4, 2}, 0, 2, 1)

	err := a.Fold(JobResult{
		Indices:     [][]int{{3, 1}, {0}},
		Values:      [][]float64{{6, 12}, {18}},
		Multipliers: []int{1, 2},
	})
	require.NoError(t, err)

	// denom = 3 points * 3 multiplier total * 2 samples * 1 process = 18
	snap := a.Snapshot()
	assert.InDeltaSlice(t, []float64{0, 12.0 / 18, 0, 6.0 / 18}, snap.Q[0], 1e-15)
	assert.InDeltaSlice(t, []float64{1, 0}, snap.Q[1], 1e-15)
	assert.Equal(t, 1, a.Folds())
}

func TestAccumulator_RejectsBadJobs(t *testing.T) {
	a := NewAccumulator([]int{2}, 1e-10, 1, 1)
	before := a.Snapshot()

	cases := map[string]JobResult{
		"group count":   {Indices: [][]int{{0}, {0}}, Values: [][]float64{{1}, {1}}, Multipliers: []int{1, 1}},
		"value count":   {Indices: [][]int{{0, 1}}, Values: [][]float64{{1}}, Multipliers: []int{1}},
		"out of range":  {Indices: [][]int{{2}}, Values: [][]float64{{1}}, Multipliers: []int{1}},
		"no points":     {Indices: [][]int{{}}, Values: [][]float64{{}}, Multipliers: []int{1}},
		"no multiplier": {Indices: [][]int{{0}}, Values: [][]float64{{1}}, Multipliers: []int{0}},
	}
	for name, job := range cases {
		t.Run(name, func(t *testing.T) {
			assert.Error(t, a.Fold(job))
		})
	}
	assert.ErrorIs(t, a.Fold(cases["no points"]), ErrZeroWeight)
	assert.ErrorIs(t, a.Fold(cases["out of range"]), ErrShape)
	assert.Equal(t, before, a.Snapshot(), "rejected jobs must not change state")
}

func TestAccumulator_FinalizeSumsToOne(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	sizes := []int{100, 50, 7}
	const numSample, numProcess = 10, 2
	a := NewAccumulator(sizes, 1e-10, numSample, numProcess)

	for job := 0; job < numSample*numProcess; job++ {
		res := JobResult{Multipliers: []int{1, 2, 0}}
		for _, n := range sizes {
			m := int(math.RoundToEven(0.3 * float64(n)))
			idx := rng.Perm(n)[:m]
			vals := make([]float64, m)
			for i := range vals {
				vals[i] = rng.Float64() * 5
			}
			res.Indices = append(res.Indices, idx)
			res.Values = append(res.Values, vals)
		}
		require.NoError(t, a.Fold(res))
	}

	out, err := a.Finalize()
	require.NoError(t, err)
	assert.InDelta(t, 1.0, sumAll(out), 1e-6)
	for j, g := range out {
		assert.Len(t, g, sizes[j])
		for _, v := range g {
			assert.True(t, v > 0)
		}
	}
}

func TestAccumulator_FinalizeDegenerate(t *testing.T) {
	a := NewAccumulator([]int{3}, 0, 1, 1)
	_, err := a.Finalize()
	assert.ErrorIs(t, err, ErrDegenerateTotal)
}

func TestAccumulator_SnapshotRestore(t *testing.T) {
	a := NewAccumulator([]int{2, 1}, 1e-10, 3, 2)
	require.NoError(t, a.Fold(JobResult{
		Indices:     [][]int{{1}, {0}},
		Values:      [][]float64{{2}, {4}},
		Multipliers: []int{1, 1},
	}))
	snap := a.Snapshot()

	b := NewAccumulator([]int{2, 1}, 1e-10, 3, 2)
	require.NoError(t, b.Restore(snap))
	assert.Equal(t, snap, b.Snapshot())
	assert.Equal(t, 1, b.Folds())

	snap.Q[0][0] = 99
	assert.NotEqual(t, 99.0, b.Snapshot().Q[0][0], "restore must copy")

	c := NewAccumulator([]int{3, 1}, 1e-10, 3, 2)
	assert.ErrorIs(t, c.Restore(a.Snapshot()), ErrShape)

	d := NewAccumulator([]int{2, 1}, 1e-10, 4, 2)
	assert.ErrorIs(t, d.Restore(a.Snapshot()), ErrShape)
}

func TestRunningScalar(t *testing.T) {
	s := NewRunningScalar(2, 2)
	for _, v := range []float64{1, 2, 3, 6} {
		s.Fold(v)
	}
	assert.InDelta(t, 3.0, s.Value(), 1e-12)
	assert.Equal(t, 4, s.Count())
	assert.InDelta(t, math.Sqrt(14.0/3), s.StdDev(), 1e-12)

	r := NewRunningScalar(2, 2)
	require.NoError(t, r.Restore(s.Snapshot()))
	assert.Equal(t, s.Value(), r.Value())
	assert.Equal(t, s.StdDev(), r.StdDev())

	assert.Error(t, NewRunningScalar(1, 1).Restore(s.Snapshot()))
}

func TestRunningScalar_SingleValue(t *testing.T) {
	s := NewRunningScalar(1, 1)
	s.Fold(0.5)
	assert.Equal(t, 0.5, s.Value())
	assert.Zero(t, s.StdDev())
}
