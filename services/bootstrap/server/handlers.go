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
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/stealthboot/services/bootstrap"
	"github.com/AleutianAI/stealthboot/services/bootstrap/batch"
	"github.com/AleutianAI/stealthboot/services/bootstrap/dataset"
	"github.com/AleutianAI/stealthboot/services/bootstrap/svmlight"
)

// HandleHealth handles GET /v1/health.
func (s *Server) HandleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{Status: "healthy", Version: Version})
}

// HandleWeights handles POST /v1/estimate/weights.
//
// Description:
//
//	Runs a stealth sampling estimate, or a single solve when the request
//	sets once. Blocks until a concurrency slot is free.
//
// Responses:
//
//	200 - WeightsResponse
//	400 - Invalid body or input data
//	502 - Solver could not be started or wrote invalid output
//	429 - Request rate limit exceeded
//	503 - Request ended while waiting for a slot
//	504 - Solver batches kept timing out
func (s *Server) HandleWeights(c *gin.Context) {
	var req WeightsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: CodeInvalidRequest})
		return
	}

	ctx, release, ok := s.acquire(c)
	if !ok {
		return
	}
	defer release()

	estimate := s.est.StealthWeights
	if req.Once {
		estimate = s.est.StealthWeightsOnce
	}
	res, err := estimate(ctx, req.groups())
	if err != nil {
		s.fail(c, err)
		return
	}

	c.JSON(http.StatusOK, WeightsResponse{
		RunID:      res.RunID,
		Weights:    res.Weights,
		Replicates: res.Replicates,
		Attempts:   res.Attempts,
		Resumed:    res.Resumed,
		DurationMS: res.Duration.Milliseconds(),
	})
}

// HandleWasserstein handles POST /v1/estimate/wasserstein.
//
// Responses match HandleWeights.
func (s *Server) HandleWasserstein(c *gin.Context) {
	var req WassersteinRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: CodeInvalidRequest})
		return
	}

	ctx, release, ok := s.acquire(c)
	if !ok {
		return
	}
	defer release()

	var (
		res *bootstrap.DistanceResult
		err error
	)
	if req.Once {
		res, err = s.est.WassersteinOnce(ctx, req.X1, req.X2)
	} else {
		res, err = s.est.Wasserstein(ctx, req.X1, req.X2, req.N)
	}
	if err != nil {
		s.fail(c, err)
		return
	}

	c.JSON(http.StatusOK, DistanceResponse{
		RunID:      res.RunID,
		Distance:   res.Distance,
		StdDev:     res.StdDev,
		SampleSize: res.SampleSize,
		Jobs:       res.Jobs,
		Replicates: res.Replicates,
		Attempts:   res.Attempts,
		Resumed:    res.Resumed,
		DurationMS: res.Duration.Milliseconds(),
	})
}

// acquire waits for a concurrency slot and applies RequestTimeout.
//
// On failure it writes the 503 response itself and returns ok=false.
func (s *Server) acquire(c *gin.Context) (ctx context.Context, release func(), ok bool) {
	ctx = c.Request.Context()
	if err := s.slots.Acquire(ctx, 1); err != nil {
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: err.Error(), Code: CodeBusy})
		return nil, nil, false
	}

	cancel := context.CancelFunc(func() {})
	if s.cfg.RequestTimeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, s.cfg.RequestTimeout)
	}
	return ctx, func() {
		cancel()
		s.slots.Release(1)
	}, true
}

// fail writes the error response for an estimation error.
func (s *Server) fail(c *gin.Context, err error) {
	status, code := classify(err)
	level := slog.LevelWarn
	if status >= http.StatusInternalServerError {
		level = slog.LevelError
	}
	s.logger.Log(c.Request.Context(), level, "Estimate failed",
		slog.String("path", c.Request.URL.Path),
		slog.Int("status", status),
		slog.String("code", code),
		slog.String("error", err.Error()),
	)
	c.JSON(status, ErrorResponse{Error: err.Error(), Code: code})
}

// classify maps an estimation error to an HTTP status and error code.
func classify(err error) (int, string) {
	var exhausted *bootstrap.RetryExhaustedError
	switch {
	case errors.Is(err, dataset.ErrEmptyData),
		errors.Is(err, dataset.ErrDimensionMismatch),
		errors.Is(err, dataset.ErrNegativeMultiplier),
		errors.Is(err, bootstrap.ErrDegenerateReplicate),
		errors.Is(err, bootstrap.ErrInvalidSampleSize):
		return http.StatusBadRequest, CodeInvalidInput
	case errors.Is(err, batch.ErrLaunch):
		return http.StatusBadGateway, CodeSolverLaunch
	case errors.As(err, &exhausted),
		errors.Is(err, batch.ErrTimeout),
		errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, CodeSolverTimeout
	case errors.Is(err, svmlight.ErrOutputMismatch),
		errors.Is(err, svmlight.ErrMalformed):
		return http.StatusBadGateway, CodeSolverOutput
	default:
		return http.StatusInternalServerError, CodeInternal
	}
}
