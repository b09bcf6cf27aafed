// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package server exposes the estimation engine over HTTP.
//
// Routes:
//
//	POST /v1/estimate/weights      - Stealth sampling weights
//	POST /v1/estimate/wasserstein  - Wasserstein distance
//	GET  /v1/health                - Health check
//	GET  /metrics                  - Prometheus metrics
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/AleutianAI/stealthboot/services/bootstrap"
	"github.com/AleutianAI/stealthboot/services/bootstrap/dataset"
	"github.com/AleutianAI/stealthboot/services/bootstrap/telemetry"
)

// Version is reported by the health endpoint.
var Version = "dev"

// Estimator runs estimates. *bootstrap.Engine implements it.
type Estimator interface {
	StealthWeights(ctx context.Context, groups []dataset.Group) (*bootstrap.WeightsResult, error)
	StealthWeightsOnce(ctx context.Context, groups []dataset.Group) (*bootstrap.WeightsResult, error)
	Wasserstein(ctx context.Context, x1, x2 [][]float64, n int) (*bootstrap.DistanceResult, error)
	WassersteinOnce(ctx context.Context, x1, x2 [][]float64) (*bootstrap.DistanceResult, error)
}

var _ Estimator = (*bootstrap.Engine)(nil)

// Config configures the HTTP server.
type Config struct {
	// Addr is the listen address.
	// Default: ":8080"
	Addr string

	// MaxConcurrent caps estimates running at once. Further requests wait
	// for a free slot until their context ends.
	// Default: 4
	MaxConcurrent int64

	// RequestTimeout bounds one estimate. Zero means no limit.
	// Default: 0
	RequestTimeout time.Duration

	// ShutdownTimeout bounds graceful shutdown.
	// Default: 30s
	ShutdownTimeout time.Duration

	// RateLimit is the sustained number of estimate requests accepted per
	// second. Requests over the limit get 429. Zero disables limiting.
	// Default: 0
	RateLimit float64

	// RateBurst is the number of requests accepted above RateLimit in a
	// burst. Values below 1 mean 1.
	// Default: 0
	RateBurst int
}

// DefaultConfig returns the default server configuration.
func DefaultConfig() Config {
	return Config{
		Addr:            ":8080",
		MaxConcurrent:   4,
		ShutdownTimeout: 30 * time.Second,
	}
}

// Server serves estimates over HTTP.
//
// Thread Safety: Safe for concurrent use.
type Server struct {
	cfg     Config
	est     Estimator
	slots   *semaphore.Weighted
	limiter *rate.Limiter
	logger  *slog.Logger
}

// New creates a server backed by est.
//
// Inputs:
//
//	cfg - Server configuration. Non-positive MaxConcurrent means 1.
//	est - The estimator, normally a *bootstrap.Engine.
//	logger - Logger for request logging. Nil uses slog.Default().
func New(cfg Config, est Estimator, logger *slog.Logger) *Server {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		cfg:    cfg,
		est:    est,
		slots:  semaphore.NewWeighted(cfg.MaxConcurrent),
		logger: logger,
	}
	if cfg.RateLimit > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), max(cfg.RateBurst, 1))
	}
	return s
}

// Router builds the gin engine with every route registered.
func (s *Server) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), telemetry.GinTracing("stealthboot"), s.logRequests)

	v1 := router.Group("/v1")
	{
		v1.GET("/health", s.HandleHealth)
		estimate := v1.Group("/estimate", s.rateLimit)
		estimate.POST("/weights", s.HandleWeights)
		estimate.POST("/wasserstein", s.HandleWasserstein)
	}

	metrics := telemetry.MetricsHandler()
	if metrics == nil {
		metrics = promhttp.Handler()
	}
	router.GET("/metrics", gin.WrapH(metrics))

	return router
}

// Run serves until ctx is canceled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Starting estimation server", slog.String("address", s.cfg.Addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.logger.Info("Shutting down estimation server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// rateLimit rejects requests over the configured rate with 429.
func (s *Server) rateLimit(c *gin.Context) {
	if s.limiter != nil && !s.limiter.Allow() {
		c.AbortWithStatusJSON(http.StatusTooManyRequests, ErrorResponse{
			Error: "request rate limit exceeded",
			Code:  CodeRateLimited,
		})
		return
	}
	c.Next()
}

func (s *Server) logRequests(c *gin.Context) {
	start := time.Now()
	c.Next()
	telemetry.LoggerWithTrace(c.Request.Context(), s.logger).Info("HTTP request",
		slog.String("method", c.Request.Method),
		slog.String("path", c.Request.URL.Path),
		slog.Int("status", c.Writer.Status()),
		slog.Duration("latency", time.Since(start)),
	)
}
