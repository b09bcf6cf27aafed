// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/stealthboot/services/bootstrap"
	"github.com/AleutianAI/stealthboot/services/bootstrap/batch"
	"github.com/AleutianAI/stealthboot/services/bootstrap/checkpoint"
	"github.com/AleutianAI/stealthboot/services/bootstrap/server"
)

// engineFlags override configuration file values for one run.
type engineFlags struct {
	solverRoot    string
	workDir       string
	ratio         float64
	numSample     int
	numProcess    int
	seed          int64
	timeout       time.Duration
	maxAttempts   int
	checkpointDir string
	keepFiles     bool
}

func (f *engineFlags) register(cmd *cobra.Command) {
	fs := cmd.Flags()
	fs.StringVar(&f.solverRoot, "solver-root", "", "directory holding the solver executables")
	fs.StringVar(&f.workDir, "work-dir", "", "directory for solver input and output files")
	fs.Float64Var(&f.ratio, "ratio", 0, "fraction of each group kept per replicate")
	fs.IntVar(&f.numSample, "num-sample", 0, "number of bootstrap replicates")
	fs.IntVar(&f.numProcess, "num-process", 0, "solver processes per batch")
	fs.Int64Var(&f.seed, "seed", 0, "base random seed")
	fs.DurationVar(&f.timeout, "timeout", 0, "deadline of one solver batch")
	fs.IntVar(&f.maxAttempts, "max-attempts", 0, "attempts per replicate, 0 for unlimited")
	fs.StringVar(&f.checkpointDir, "checkpoint", "", "enable resumable runs with checkpoints in this directory")
	fs.BoolVar(&f.keepFiles, "keep-files", false, "keep solver files after each batch")
}

// apply copies the flags the user set onto the loaded configuration.
func (f *engineFlags) apply(cmd *cobra.Command, a *app) {
	fs := cmd.Flags()
	cfg := a.cfg
	if fs.Changed("solver-root") {
		cfg.Solvers.Root = f.solverRoot
	}
	if fs.Changed("work-dir") {
		cfg.WorkDir = f.workDir
	}
	if fs.Changed("ratio") {
		cfg.Bootstrap.Ratio = f.ratio
	}
	if fs.Changed("num-sample") {
		cfg.Bootstrap.NumSample = f.numSample
	}
	if fs.Changed("num-process") {
		cfg.Bootstrap.NumProcess = f.numProcess
	}
	if fs.Changed("seed") {
		cfg.Bootstrap.Seed = f.seed
	}
	if fs.Changed("timeout") {
		cfg.Timeout = f.timeout
	}
	if fs.Changed("max-attempts") {
		cfg.Retry.MaxAttempts = f.maxAttempts
	}
	if fs.Changed("checkpoint") {
		cfg.Checkpoint.Enabled = true
		cfg.Checkpoint.Dir = f.checkpointDir
	}
	if fs.Changed("keep-files") {
		cfg.KeepFiles = f.keepFiles
	}
}

// newEngine builds an engine that runs real solver processes. The returned
// close function releases the checkpoint store, if any.
func (a *app) newEngine() (*bootstrap.Engine, func() error, error) {
	engine, err := bootstrap.NewEngine(a.cfg.Engine(), batch.NewExecLauncher(a.log()), a.log())
	if err != nil {
		return nil, nil, err
	}

	ckCfg, ok := a.cfg.CheckpointStore()
	if !ok {
		return engine, func() error { return nil }, nil
	}
	ckCfg.Logger = a.log()
	store, err := checkpoint.Open(ckCfg)
	if err != nil {
		return nil, nil, fmt.Errorf("open checkpoints: %w", err)
	}
	return engine.WithCheckpoints(store), store.Close, nil
}

// signalContext cancels on SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

// ===== weights =====

func newWeightsCmd(a *app) *cobra.Command {
	var (
		flags  engineFlags
		input  string
		format string
		output string
		once   bool
	)

	cmd := &cobra.Command{
		Use:   "weights",
		Short: "Estimate stealth sampling weights",
		Long: `Estimate one weight per input point by averaging stealth sampling solves
over bootstrap replicates. The result is JSON with one weight list per group.

Input is either a JSON object {"groups":[{"points":[[...]],"multiplier":K}]}
or a labeled-vector file whose labels are group indices and whose first
integer-only comment line lists the group multipliers.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			flags.apply(cmd, a)

			data, err := readInput(input, cmd.InOrStdin())
			if err != nil {
				return err
			}
			groups, err := parseGroups(data, format)
			if err != nil {
				return err
			}

			engine, closeStore, err := a.newEngine()
			if err != nil {
				return err
			}
			defer func() {
				if cerr := closeStore(); err == nil && cerr != nil {
					err = fmt.Errorf("close checkpoints: %w", cerr)
				}
			}()

			ctx, cancel := signalContext(cmd.Context())
			defer cancel()

			estimate := engine.StealthWeights
			if once {
				estimate = engine.StealthWeightsOnce
			}
			res, err := estimate(ctx, groups)
			if err != nil {
				return err
			}

			if err := writeJSON(output, a.stdout, res); err != nil {
				return err
			}
			printSummary(a.stderr, weightsSummary(res))
			return nil
		},
	}

	cmd.Flags().StringVarP(&input, "input", "i", "-", "input file, - for stdin")
	cmd.Flags().StringVar(&format, "format", formatAuto, "input format: auto, json or svmlight")
	cmd.Flags().StringVarP(&output, "output", "o", "", "write the JSON result to this file")
	cmd.Flags().BoolVar(&once, "once", false, "run a single solve over all points")
	flags.register(cmd)
	return cmd
}

// ===== wasserstein =====

func newWassersteinCmd(a *app) *cobra.Command {
	var (
		flags  engineFlags
		x1Path string
		x2Path string
		format string
		output string
		n      int
		once   bool
	)

	cmd := &cobra.Command{
		Use:   "wasserstein",
		Short: "Estimate the Wasserstein distance between two point sets",
		Long: `Estimate the Wasserstein distance between two point sets as the mean over
bootstrap jobs, each solving on n points drawn from both sets.

Each set is either a JSON array of rows or a labeled-vector file whose
labels are ignored. Rows are zero-padded to a common dimension.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			flags.apply(cmd, a)

			x1, err := loadPoints(x1Path, format, cmd)
			if err != nil {
				return err
			}
			x2, err := loadPoints(x2Path, format, cmd)
			if err != nil {
				return err
			}
			x1, x2 = padPoints(x1, x2)

			engine, closeStore, err := a.newEngine()
			if err != nil {
				return err
			}
			defer func() {
				if cerr := closeStore(); err == nil && cerr != nil {
					err = fmt.Errorf("close checkpoints: %w", cerr)
				}
			}()

			ctx, cancel := signalContext(cmd.Context())
			defer cancel()

			var res *bootstrap.DistanceResult
			if once {
				res, err = engine.WassersteinOnce(ctx, x1, x2)
			} else {
				res, err = engine.Wasserstein(ctx, x1, x2, n)
			}
			if err != nil {
				return err
			}

			if err := writeJSON(output, a.stdout, res); err != nil {
				return err
			}
			printSummary(a.stderr, distanceSummary(res))
			return nil
		},
	}

	cmd.Flags().StringVar(&x1Path, "x1", "", "first point set")
	cmd.Flags().StringVar(&x2Path, "x2", "", "second point set")
	cmd.Flags().StringVar(&format, "format", formatAuto, "input format: auto, json or svmlight")
	cmd.Flags().StringVarP(&output, "output", "o", "", "write the JSON result to this file")
	cmd.Flags().IntVar(&n, "n", 0, "points drawn from each set per job, required unless --once")
	cmd.Flags().BoolVar(&once, "once", false, "run a single solve over both full sets")
	_ = cmd.MarkFlagRequired("x1")
	_ = cmd.MarkFlagRequired("x2")
	flags.register(cmd)
	return cmd
}

func loadPoints(path, format string, cmd *cobra.Command) ([][]float64, error) {
	data, err := readInput(path, cmd.InOrStdin())
	if err != nil {
		return nil, err
	}
	return parsePoints(data, format)
}

// ===== serve =====

func newServeCmd(a *app) *cobra.Command {
	var (
		flags engineFlags
		addr  string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve estimates over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			flags.apply(cmd, a)
			if cmd.Flags().Changed("addr") {
				a.cfg.Server.Addr = addr
			}

			engine, closeStore, err := a.newEngine()
			if err != nil {
				return err
			}
			defer func() {
				if cerr := closeStore(); err == nil && cerr != nil {
					err = fmt.Errorf("close checkpoints: %w", cerr)
				}
			}()

			ctx, cancel := signalContext(cmd.Context())
			defer cancel()

			server.Version = Version
			return server.New(a.cfg.HTTPServer(), engine, a.log()).Run(ctx)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address, e.g. :8080")
	flags.register(cmd)
	return cmd
}
