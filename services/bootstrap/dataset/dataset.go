// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package dataset holds the immutable input data of an estimation run.
//
// A run operates on C labeled groups. Each group is an ordered sequence of
// dense feature vectors of identical dimensionality plus an integer
// multiplier K. The Wasserstein estimators take two plain point sets.
//
// Values in this package are never mutated by the estimators; samplers
// copy rows before perturbing them.
package dataset

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS
// =============================================================================

var (
	// ErrEmptyData indicates no groups, or a point set with no points.
	ErrEmptyData = errors.New("dataset is empty")

	// ErrDimensionMismatch indicates feature vectors of differing lengths.
	ErrDimensionMismatch = errors.New("feature dimension mismatch")

	// ErrNegativeMultiplier indicates a group multiplier below zero.
	ErrNegativeMultiplier = errors.New("group multiplier must not be negative")
)

// =============================================================================
// TYPES
// =============================================================================

// Group is one labeled partition of a dataset.
type Group struct {
	// Points are the feature vectors of the group, in input order.
	Points [][]float64 `json:"points"`

	// Multiplier is the integer multiplier K attached to the group.
	Multiplier int `json:"multiplier"`
}

// Len returns the number of points in the group.
func (g Group) Len() int {
	return len(g.Points)
}

// =============================================================================
// VALIDATION
// =============================================================================

// Validate checks a set of groups before an estimation run.
//
// Description:
//
//	Requires at least one group and at least one point overall. Every
//	point in every group must share the same dimension, and multipliers
//	must be non-negative. Empty groups are allowed.
//
// Inputs:
//
//	groups - The groups to check.
//
// Outputs:
//
//	int - The shared feature dimension.
//	error - Non-nil if the groups are unusable.
func Validate(groups []Group) (int, error) {
	if len(groups) == 0 {
		return 0, fmt.Errorf("%w: no groups", ErrEmptyData)
	}

	dim := -1
	total := 0
	for j, g := range groups {
		if g.Multiplier < 0 {
			return 0, fmt.Errorf("%w: group %d has K=%d", ErrNegativeMultiplier, j, g.Multiplier)
		}
		for i, p := range g.Points {
			if dim < 0 {
				dim = len(p)
				continue
			}
			if len(p) != dim {
				return 0, fmt.Errorf("%w: group %d point %d has %d features, want %d",
					ErrDimensionMismatch, j, i, len(p), dim)
			}
		}
		total += g.Len()
	}
	if total == 0 {
		return 0, fmt.Errorf("%w: all groups are empty", ErrEmptyData)
	}
	return dim, nil
}

// ValidatePair checks the two point sets of a distance estimate.
//
// Outputs:
//
//	int - The shared feature dimension.
//	error - Non-nil if either set is empty or the dimensions differ.
func ValidatePair(x1, x2 [][]float64) (int, error) {
	if len(x1) == 0 || len(x2) == 0 {
		return 0, fmt.Errorf("%w: both point sets need at least one point", ErrEmptyData)
	}
	d1, err := dimension(x1)
	if err != nil {
		return 0, fmt.Errorf("first set: %w", err)
	}
	d2, err := dimension(x2)
	if err != nil {
		return 0, fmt.Errorf("second set: %w", err)
	}
	if d1 != d2 {
		return 0, fmt.Errorf("%w: %d vs %d", ErrDimensionMismatch, d1, d2)
	}
	return d1, nil
}

func dimension(points [][]float64) (int, error) {
	dim := len(points[0])
	for i, p := range points {
		if len(p) != dim {
			return 0, fmt.Errorf("%w: point %d has %d features, want %d", ErrDimensionMismatch, i, len(p), dim)
		}
	}
	return dim, nil
}

// =============================================================================
// ACCESSORS
// =============================================================================

// Sizes returns the number of points in each group.
func Sizes(groups []Group) []int {
	sizes := make([]int, len(groups))
	for j, g := range groups {
		sizes[j] = g.Len()
	}
	return sizes
}

// Multipliers returns the multiplier of each group.
func Multipliers(groups []Group) []int {
	ks := make([]int, len(groups))
	for j, g := range groups {
		ks[j] = g.Multiplier
	}
	return ks
}

// Gather returns the rows of points selected by indices, in index order.
//
// The returned rows alias the input rows; callers that modify them must
// copy first.
func Gather(points [][]float64, indices []int) [][]float64 {
	out := make([][]float64, len(indices))
	for i, idx := range indices {
		out[i] = points[idx]
	}
	return out
}
