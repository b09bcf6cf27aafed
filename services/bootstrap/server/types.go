// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package server

import (
	"github.com/AleutianAI/stealthboot/services/bootstrap/dataset"
)

// GroupRequest is one labelled group of points.
type GroupRequest struct {
	// Points are the feature vectors of the group.
	Points [][]float64 `json:"points" binding:"required,min=1"`

	// Multiplier is the group's integer multiplier K.
	Multiplier int `json:"multiplier" binding:"gte=0"`
}

// WeightsRequest is the body of POST /v1/estimate/weights.
type WeightsRequest struct {
	Groups []GroupRequest `json:"groups" binding:"required,min=1,dive"`

	// Once runs a single solve over all points instead of the bootstrap.
	Once bool `json:"once"`
}

func (r *WeightsRequest) groups() []dataset.Group {
	out := make([]dataset.Group, len(r.Groups))
	for j, g := range r.Groups {
		out[j] = dataset.Group{Points: g.Points, Multiplier: g.Multiplier}
	}
	return out
}

// WassersteinRequest is the body of POST /v1/estimate/wasserstein.
type WassersteinRequest struct {
	X1 [][]float64 `json:"x1" binding:"required,min=1"`
	X2 [][]float64 `json:"x2" binding:"required,min=1"`

	// N is the number of points drawn from each set per job. Ignored
	// when Once is set.
	N int `json:"n" binding:"gte=0"`

	// Once runs a single solve over both full sets.
	Once bool `json:"once"`
}

// WeightsResponse is returned by POST /v1/estimate/weights.
type WeightsResponse struct {
	RunID      string      `json:"run_id"`
	Weights    [][]float64 `json:"weights"`
	Replicates int         `json:"replicates"`
	Attempts   int         `json:"attempts"`
	Resumed    bool        `json:"resumed"`
	DurationMS int64       `json:"duration_ms"`
}

// DistanceResponse is returned by POST /v1/estimate/wasserstein.
type DistanceResponse struct {
	RunID      string  `json:"run_id"`
	Distance   float64 `json:"distance"`
	StdDev     float64 `json:"std_dev"`
	SampleSize int     `json:"sample_size"`
	Jobs       int     `json:"jobs"`
	Replicates int     `json:"replicates"`
	Attempts   int     `json:"attempts"`
	Resumed    bool    `json:"resumed"`
	DurationMS int64   `json:"duration_ms"`
}

// HealthResponse is returned by GET /v1/health.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	// Error is the error message.
	Error string `json:"error"`

	// Code is a stable machine-readable error code.
	Code string `json:"code"`
}

// Error codes.
const (
	CodeInvalidRequest = "INVALID_REQUEST"
	CodeInvalidInput   = "INVALID_INPUT"
	CodeSolverLaunch   = "SOLVER_LAUNCH_FAILED"
	CodeSolverOutput   = "SOLVER_OUTPUT_INVALID"
	CodeSolverTimeout  = "SOLVER_TIMEOUT"
	CodeBusy           = "BUSY"
	CodeRateLimited    = "RATE_LIMITED"
	CodeInternal       = "INTERNAL_ERROR"
)
