// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package dataset

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate(t *testing.T) {
	t.Run("valid groups", func(t *testing.T) {
		groups := []Group{
			{Points: [][]float64{{1, 2}, {3, 4}}, Multiplier: 3},
			{Points: [][]float64{{5, 6}}, Multiplier: 5},
			{Points: nil, Multiplier: 1},
		}
		dim, err := Validate(groups)
		require.NoError(t, err)
		assert.Equal(t, 2, dim)
	})

	t.Run("no groups", func(t *testing.T) {
		_, err := Validate(nil)
		assert.ErrorIs(t, err, ErrEmptyData)
	})

	t.Run("all groups empty", func(t *testing.T) {
		_, err := Validate([]Group{{Multiplier: 1}, {Multiplier: 2}})
		assert.ErrorIs(t, err, ErrEmptyData)
	})

	t.Run("dimension mismatch across groups", func(t *testing.T) {
		groups := []Group{
			{Points: [][]float64{{1, 2}}},
			{Points: [][]float64{{1, 2, 3}}},
		}
		_, err := Validate(groups)
		assert.ErrorIs(t, err, ErrDimensionMismatch)
	})

	t.Run("negative multiplier", func(t *testing.T) {
		_, err := Validate([]Group{{Points: [][]float64{{1}}, Multiplier: -1}})
		assert.ErrorIs(t, err, ErrNegativeMultiplier)
	})
}

func TestValidatePair(t *testing.T) {
	dim, err := ValidatePair([][]float64{{1, 2}}, [][]float64{{3, 4}, {5, 6}})
	require.NoError(t, err)
	assert.Equal(t, 2, dim)

	_, err = ValidatePair(nil, [][]float64{{1}})
	assert.ErrorIs(t, err, ErrEmptyData)

	_, err = ValidatePair([][]float64{{1, 2}}, [][]float64{{1}})
	assert.ErrorIs(t, err, ErrDimensionMismatch)

	_, err = ValidatePair([][]float64{{1, 2}, {1}}, [][]float64{{1, 2}})
	assert.ErrorIs(t, err, ErrDimensionMismatch)
}

func TestAccessors(t *testing.T) {
	groups := []Group{
		{Points: [][]float64{{0}, {1}, {2}}, Multiplier: 3},
		{Points: [][]float64{{3}}, Multiplier: 5},
	}
	assert.Equal(t, []int{3, 1}, Sizes(groups))
	assert.Equal(t, []int{3, 5}, Multipliers(groups))

	rows := Gather(groups[0].Points, []int{2, 0})
	assert.Equal(t, [][]float64{{2}, {0}}, rows)
}
