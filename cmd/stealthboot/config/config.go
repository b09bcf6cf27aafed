// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads the stealthboot YAML configuration file.
//
// A missing path yields the defaults. Unknown keys are rejected so that a
// typo does not silently fall back to a default.
//
// Example file:
//
//	solvers:
//	  root: /opt/stealthboot
//	work_dir: /var/tmp/stealthboot
//	bootstrap:
//	  ratio: 0.3
//	  num_sample: 10
//	  num_process: 4
//	timeout: 30s
//	retry:
//	  max_attempts: 20
//	  mismatch_policy: retry
//	checkpoint:
//	  enabled: true
//	  dir: ~/.stealthboot/checkpoints
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/stealthboot/pkg/logging"
	"github.com/AleutianAI/stealthboot/services/bootstrap"
	"github.com/AleutianAI/stealthboot/services/bootstrap/checkpoint"
	"github.com/AleutianAI/stealthboot/services/bootstrap/server"
	"github.com/AleutianAI/stealthboot/services/bootstrap/telemetry"
)

// ErrInvalid indicates a configuration file that failed validation.
var ErrInvalid = errors.New("invalid configuration")

// File is the on-disk configuration.
type File struct {
	Solvers    SolverConfig     `yaml:"solvers"`
	WorkDir    string           `yaml:"work_dir" validate:"required"`
	Prefix     string           `yaml:"prefix" validate:"required,excludesall=/"`
	KeepFiles  bool             `yaml:"keep_files"`
	Bootstrap  BootstrapConfig  `yaml:"bootstrap"`
	Timeout    time.Duration    `yaml:"timeout" validate:"gt=0"`
	Retry      RetryConfig      `yaml:"retry"`
	Checkpoint CheckpointConfig `yaml:"checkpoint"`
	Logging    LoggingConfig    `yaml:"logging"`
	Telemetry  telemetry.Config `yaml:"telemetry"`
	Server     ServerConfig     `yaml:"server"`
}

// SolverConfig locates the solver executables. Explicit paths win over Root.
type SolverConfig struct {
	Root        string `yaml:"root"`
	Stealth     string `yaml:"stealth,omitempty"`
	Wasserstein string `yaml:"wasserstein,omitempty"`
}

// BootstrapConfig holds the resampling parameters.
type BootstrapConfig struct {
	Ratio       float64 `yaml:"ratio" validate:"gt=0,lte=1"`
	NumSample   int     `yaml:"num_sample" validate:"gte=1"`
	NumProcess  int     `yaml:"num_process" validate:"gte=1"`
	Seed        int64   `yaml:"seed"`
	JitterScale float64 `yaml:"jitter_scale" validate:"gte=0"`
	Epsilon     float64 `yaml:"epsilon" validate:"gte=0"`
}

// RetryConfig controls rejected batches.
type RetryConfig struct {
	MaxAttempts    int           `yaml:"max_attempts" validate:"gte=0"`
	Delay          time.Duration `yaml:"delay" validate:"gte=0"`
	MismatchPolicy string        `yaml:"mismatch_policy" validate:"oneof=retry fatal"`
}

// CheckpointConfig controls resumable runs.
type CheckpointConfig struct {
	Enabled bool          `yaml:"enabled"`
	Dir     string        `yaml:"dir" validate:"required_if=Enabled true"`
	TTL     time.Duration `yaml:"ttl" validate:"gte=0"`
}

// LoggingConfig mirrors logging.Config.
type LoggingConfig struct {
	Level string `yaml:"level" validate:"omitempty,oneof=debug info warn warning error"`
	Dir   string `yaml:"dir"`
	JSON  bool   `yaml:"json"`
}

// ServerConfig configures the serve command.
type ServerConfig struct {
	Addr            string        `yaml:"addr" validate:"required"`
	MaxConcurrent   int64         `yaml:"max_concurrent" validate:"gte=1"`
	RequestTimeout  time.Duration `yaml:"request_timeout" validate:"gte=0"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" validate:"gte=0"`
	RateLimit       float64       `yaml:"rate_limit" validate:"gte=0"`
	RateBurst       int           `yaml:"rate_burst" validate:"gte=0"`
}

// Default returns the configuration used when no file is given.
func Default() *File {
	engine := bootstrap.DefaultConfig()
	srv := server.DefaultConfig()
	tel := telemetry.DefaultConfig()
	tel.Output = nil

	return &File{
		Solvers: SolverConfig{Root: "."},
		WorkDir: engine.WorkDir,
		Prefix:  engine.Prefix,
		Bootstrap: BootstrapConfig{
			Ratio:       engine.Ratio,
			NumSample:   engine.NumSample,
			NumProcess:  engine.NumProcess,
			Seed:        engine.Seed,
			JitterScale: engine.JitterScale,
			Epsilon:     engine.Epsilon,
		},
		Timeout: engine.Timeout,
		Retry: RetryConfig{
			MaxAttempts:    engine.MaxAttempts,
			Delay:          engine.RetryDelay,
			MismatchPolicy: string(engine.MismatchPolicy),
		},
		Checkpoint: CheckpointConfig{
			Dir: filepath.Join("~", ".stealthboot", "checkpoints"),
			TTL: checkpoint.DefaultConfig("").TTL,
		},
		Logging:   LoggingConfig{Level: "info"},
		Telemetry: tel,
		Server: ServerConfig{
			Addr:            srv.Addr,
			MaxConcurrent:   srv.MaxConcurrent,
			RequestTimeout:  srv.RequestTimeout,
			ShutdownTimeout: srv.ShutdownTimeout,
			RateLimit:       srv.RateLimit,
			RateBurst:       srv.RateBurst,
		},
	}
}

// Load reads path over the defaults and validates the result.
//
// Inputs:
//
//	path - YAML file. Empty returns the validated defaults.
//
// Outputs:
//
//	*File - The effective configuration.
//	error - Read, parse or validation failure. Validation failures wrap
//	    ErrInvalid.
func Load(path string) (*File, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := Decode(bytes.NewReader(data), cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Decode strictly decodes YAML from r onto cfg.
func Decode(r io.Reader, cfg *File) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// Write encodes cfg as YAML.
func Write(w io.Writer, cfg *File) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return err
	}
	return enc.Close()
}

var validate = validator.New()

// Validate checks every field and lists all failures.
func (f *File) Validate() error {
	err := validate.Struct(f)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	msgs := make([]string, len(verrs))
	for i, fe := range verrs {
		msgs[i] = fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag())
	}
	return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(msgs, "; "))
}

// =============================================================================
// CONVERSIONS
// =============================================================================

// Engine returns the engine configuration.
func (f *File) Engine() *bootstrap.Config {
	opts := []bootstrap.Option{
		bootstrap.WithSolverRoot(expand(f.Solvers.Root)),
		bootstrap.WithWorkDir(expand(f.WorkDir)),
		bootstrap.WithPrefix(f.Prefix),
		bootstrap.WithRatio(f.Bootstrap.Ratio),
		bootstrap.WithNumSample(f.Bootstrap.NumSample),
		bootstrap.WithNumProcess(f.Bootstrap.NumProcess),
		bootstrap.WithSeed(f.Bootstrap.Seed),
		bootstrap.WithJitterScale(f.Bootstrap.JitterScale),
		bootstrap.WithEpsilon(f.Bootstrap.Epsilon),
		bootstrap.WithTimeout(f.Timeout),
		bootstrap.WithMaxAttempts(f.Retry.MaxAttempts),
		bootstrap.WithRetryDelay(f.Retry.Delay),
		bootstrap.WithMismatchPolicy(bootstrap.MismatchPolicy(f.Retry.MismatchPolicy)),
		bootstrap.WithKeepFiles(f.KeepFiles),
	}
	if f.Solvers.Stealth != "" {
		opts = append(opts, bootstrap.WithStealthSolver(expand(f.Solvers.Stealth)))
	}
	if f.Solvers.Wasserstein != "" {
		opts = append(opts, bootstrap.WithWassersteinSolver(expand(f.Solvers.Wasserstein)))
	}
	return bootstrap.NewConfig(opts...)
}

// CheckpointStore returns the checkpoint store configuration, or false when
// checkpointing is disabled.
func (f *File) CheckpointStore() (checkpoint.Config, bool) {
	if !f.Checkpoint.Enabled {
		return checkpoint.Config{}, false
	}
	cfg := checkpoint.DefaultConfig(expand(f.Checkpoint.Dir))
	cfg.TTL = f.Checkpoint.TTL
	return cfg, true
}

// HTTPServer returns the server configuration.
func (f *File) HTTPServer() server.Config {
	return server.Config{
		Addr:            f.Server.Addr,
		MaxConcurrent:   f.Server.MaxConcurrent,
		RequestTimeout:  f.Server.RequestTimeout,
		ShutdownTimeout: f.Server.ShutdownTimeout,
		RateLimit:       f.Server.RateLimit,
		RateBurst:       f.Server.RateBurst,
	}
}

// Logger returns the logging configuration.
func (f *File) Logger(service string) (logging.Config, error) {
	level, err := logging.ParseLevel(f.Logging.Level)
	if err != nil {
		return logging.Config{}, err
	}
	return logging.Config{
		Level:   level,
		LogDir:  f.Logging.Dir,
		Service: service,
		JSON:    f.Logging.JSON,
	}, nil
}

func expand(path string) string {
	if strings.HasPrefix(path, "~") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[1:])
		}
	}
	return path
}
