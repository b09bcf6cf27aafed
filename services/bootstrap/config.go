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
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// MismatchPolicy decides how a solver output of the wrong length is treated.
type MismatchPolicy string

const (
	// MismatchRetry discards the batch and retries it like a timeout.
	MismatchRetry MismatchPolicy = "retry"

	// MismatchFatal aborts the run.
	MismatchFatal MismatchPolicy = "fatal"
)

// =============================================================================
// CONFIGURATION
// =============================================================================

// Config holds configuration for an estimation engine.
type Config struct {
	// StealthSolver is the stealth sampling executable.
	// Default: stealth-sampling/main
	StealthSolver string `validate:"required"`

	// WassersteinSolver is the Wasserstein distance executable.
	// Default: wasserstein/main
	WassersteinSolver string `validate:"required"`

	// WorkDir holds the job files and is the working directory of every
	// solver process.
	// Default: "."
	WorkDir string `validate:"required"`

	// Prefix starts every job file name.
	// Default: "tmp"
	Prefix string `validate:"required,excludesall=/"`

	// Ratio is the fraction of each group kept per replicate.
	// Default: 0.3
	Ratio float64 `validate:"gt=0,lte=1"`

	// NumSample is the number of bootstrap replicates.
	// Default: 10
	NumSample int `validate:"gte=1"`

	// NumProcess is the number of parallel solver jobs per replicate.
	// Default: 2
	NumProcess int `validate:"gte=1"`

	// Seed is the base of every replicate seed.
	// Default: 0
	Seed int64

	// Timeout is the joint deadline of one batch of solver processes.
	// Default: 10s
	Timeout time.Duration `validate:"gt=0"`

	// JitterScale is the standard deviation of the noise added to every
	// coordinate before it is written.
	// Default: 1e-10
	JitterScale float64 `validate:"gte=0"`

	// Epsilon is the initial value of every accumulated weight.
	// Default: 1e-10
	Epsilon float64 `validate:"gte=0"`

	// MaxAttempts caps the batch attempts of one replicate. Zero retries
	// without limit.
	// Default: 0
	MaxAttempts int `validate:"gte=0"`

	// RetryDelay is the pause between a failed batch and its retry.
	// Default: 0
	RetryDelay time.Duration `validate:"gte=0"`

	// MismatchPolicy selects the reaction to a malformed solver output.
	// Default: retry
	MismatchPolicy MismatchPolicy `validate:"oneof=retry fatal"`

	// KeepFiles leaves job files on disk for debugging.
	// Default: false
	KeepFiles bool
}

// DefaultConfig returns a Config with sensible defaults.
//
// Outputs:
//
//	*Config - Configuration with default values
func DefaultConfig() *Config {
	return &Config{
		StealthSolver:     filepath.Join("stealth-sampling", "main"),
		WassersteinSolver: filepath.Join("wasserstein", "main"),
		WorkDir:           ".",
		Prefix:            "tmp",
		Ratio:             0.3,
		NumSample:         10,
		NumProcess:        2,
		Timeout:           10 * time.Second,
		JitterScale:       1e-10,
		Epsilon:           1e-10,
		MismatchPolicy:    MismatchRetry,
	}
}

var configValidate = validator.New()

// Validate checks that the configuration is valid.
//
// Outputs:
//
//	error - Wraps ErrInvalidConfig and lists every failing field
func (c *Config) Validate() error {
	err := configValidate.Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	msgs := make([]string, len(verrs))
	for i, fe := range verrs {
		msgs[i] = fmt.Sprintf("%s failed %q (value %v)", fe.Field(), fe.Tag(), fe.Value())
	}
	return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(msgs, "; "))
}

// =============================================================================
// CONFIGURATION OPTIONS
// =============================================================================

// Option is a function that modifies Config.
type Option func(*Config)

// WithSolverRoot points both solvers at <root>/stealth-sampling/main and
// <root>/wasserstein/main.
func WithSolverRoot(root string) Option {
	return func(c *Config) {
		c.StealthSolver = filepath.Join(root, "stealth-sampling", "main")
		c.WassersteinSolver = filepath.Join(root, "wasserstein", "main")
	}
}

// WithStealthSolver sets the stealth sampling executable.
func WithStealthSolver(path string) Option {
	return func(c *Config) {
		c.StealthSolver = path
	}
}

// WithWassersteinSolver sets the Wasserstein executable.
func WithWassersteinSolver(path string) Option {
	return func(c *Config) {
		c.WassersteinSolver = path
	}
}

// WithWorkDir sets the job file directory.
func WithWorkDir(dir string) Option {
	return func(c *Config) {
		c.WorkDir = dir
	}
}

// WithPrefix sets the job file name prefix.
func WithPrefix(prefix string) Option {
	return func(c *Config) {
		c.Prefix = prefix
	}
}

// WithRatio sets the subsampling ratio.
func WithRatio(r float64) Option {
	return func(c *Config) {
		c.Ratio = r
	}
}

// WithNumSample sets the number of bootstrap replicates.
func WithNumSample(n int) Option {
	return func(c *Config) {
		c.NumSample = n
	}
}

// WithNumProcess sets the number of jobs per replicate.
func WithNumProcess(n int) Option {
	return func(c *Config) {
		c.NumProcess = n
	}
}

// WithSeed sets the base seed.
func WithSeed(seed int64) Option {
	return func(c *Config) {
		c.Seed = seed
	}
}

// WithTimeout sets the batch deadline.
func WithTimeout(d time.Duration) Option {
	return func(c *Config) {
		c.Timeout = d
	}
}

// WithJitterScale sets the coordinate noise scale.
func WithJitterScale(s float64) Option {
	return func(c *Config) {
		c.JitterScale = s
	}
}

// WithEpsilon sets the initial accumulated weight.
func WithEpsilon(e float64) Option {
	return func(c *Config) {
		c.Epsilon = e
	}
}

// WithMaxAttempts caps batch attempts per replicate.
func WithMaxAttempts(n int) Option {
	return func(c *Config) {
		c.MaxAttempts = n
	}
}

// WithRetryDelay sets the pause between attempts.
func WithRetryDelay(d time.Duration) Option {
	return func(c *Config) {
		c.RetryDelay = d
	}
}

// WithMismatchPolicy sets the malformed output policy.
func WithMismatchPolicy(p MismatchPolicy) Option {
	return func(c *Config) {
		c.MismatchPolicy = p
	}
}

// WithKeepFiles keeps job files after use.
func WithKeepFiles(keep bool) Option {
	return func(c *Config) {
		c.KeepFiles = keep
	}
}

// NewConfig creates a Config with the given options applied.
//
// Inputs:
//
//	opts - Options to apply to the default config
//
// Outputs:
//
//	*Config - Configuration with options applied. Call Validate before use.
func NewConfig(opts ...Option) *Config {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}
