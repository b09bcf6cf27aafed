// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

// =============================================================================
// RESULT TYPES
// =============================================================================

// Exit is the observed end of one process in a completed batch.
type Exit struct {
	Slot int
	Pid  int

	// Code is the exit status, or -1 if it is unknown.
	Code int
}

// Result describes a completed batch.
type Result struct {
	Exits    []Exit
	Duration time.Duration
}

// =============================================================================
// RUNNER
// =============================================================================

// Runner runs batches of solver processes under one joint deadline.
//
// A batch either completes, meaning every process exited before the
// deadline, or fails as a unit: every process is killed and reaped and no
// output of the batch should be trusted.
//
// Thread Safety: Safe for concurrent use. Each Run owns its processes.
type Runner struct {
	launcher Launcher
	timeout  time.Duration
	logger   *slog.Logger
}

// NewRunner creates a batch runner.
//
// Inputs:
//
//	launcher - Starts the processes. Must not be nil.
//	timeout - Joint deadline of a batch. Must be positive.
//	logger - Logger for structured logging. Nil uses slog.Default().
//
// Outputs:
//
//	*Runner - Configured runner.
//	error - Non-nil on invalid arguments.
func NewRunner(launcher Launcher, timeout time.Duration, logger *slog.Logger) (*Runner, error) {
	if launcher == nil {
		return nil, ErrNoLauncher
	}
	if timeout <= 0 {
		return nil, fmt.Errorf("batch timeout must be positive, got %s", timeout)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{launcher: launcher, timeout: timeout, logger: logger}, nil
}

// Timeout returns the joint batch deadline.
func (r *Runner) Timeout() time.Duration {
	return r.timeout
}

// Run starts every command and waits for all of them.
//
// Description:
//
//	All processes are started before the deadline clock begins. If a
//	start fails, the processes already started are killed and reaped and
//	a *LaunchError is returned. Otherwise the runner waits for every
//	process under a single deadline. When the deadline passes, or a wait
//	fails, every process in the batch is killed and reaped before Run
//	returns a *TimeoutError. Cancelling ctx behaves the same but returns
//	the context error. Exit statuses are recorded, not judged.
//
// Inputs:
//
//	ctx - Parent context.
//	cmds - The commands of the batch, indexed by slot.
//
// Outputs:
//
//	*Result - Exit details when every process completed.
//	error - *LaunchError, *TimeoutError or the context error.
func (r *Runner) Run(ctx context.Context, cmds []Command) (*Result, error) {
	start := time.Now()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	procs := make([]Process, 0, len(cmds))
	for i, cmd := range cmds {
		p, err := r.launcher.Start(ctx, cmd)
		if err != nil {
			r.logger.Error("Failed to start solver",
				slog.Int("slot", i),
				slog.String("path", cmd.Path),
				slog.String("error", err.Error()),
			)
			r.stopAll(procs)
			recordBatch(outcomeLaunchFailed, time.Since(start).Seconds())
			return nil, &LaunchError{Slot: i, Path: cmd.Path, Err: err}
		}
		processesStarted.Inc()
		procs = append(procs, p)
	}

	r.logger.Debug("Batch dispatched",
		slog.Int("processes", len(procs)),
		slog.Duration("timeout", r.timeout),
	)

	deadline, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	exits := make([]Exit, len(procs))
	finished := make([]atomic.Bool, len(procs))
	g, gctx := errgroup.WithContext(deadline)
	for i, p := range procs {
		g.Go(func() error {
			done := make(chan error, 1)
			go func() { done <- p.Wait() }()

			select {
			case err := <-done:
				finished[i].Store(true)
				code, werr := exitCode(err)
				exits[i] = Exit{Slot: i, Pid: p.Pid(), Code: code}
				if werr != nil {
					return fmt.Errorf("slot %d: wait: %w", i, werr)
				}
				if code != 0 {
					nonZeroExits.Inc()
					r.logger.Warn("Solver exited with non-zero status",
						slog.Int("slot", i),
						slog.Int("pid", p.Pid()),
						slog.Int("exit_code", code),
					)
				}
				return nil
			case <-gctx.Done():
				r.kill(i, p, true)
				<-done
				return gctx.Err()
			}
		})
	}
	err := g.Wait()
	elapsed := time.Since(start)

	if err == nil {
		recordBatch(outcomeCompleted, elapsed.Seconds())
		r.logger.Debug("Batch completed",
			slog.Int("processes", len(procs)),
			slog.Duration("duration", elapsed),
		)
		return &Result{Exits: exits, Duration: elapsed}, nil
	}

	// Processes that exited on their own still receive Kill so the whole
	// batch is stopped uniformly. Every waiter has returned, so all are reaped.
	for i, p := range procs {
		if finished[i].Load() {
			r.kill(i, p, false)
		}
	}

	var pending []int
	for i := range procs {
		if !finished[i].Load() {
			pending = append(pending, i)
		}
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		recordBatch(outcomeCanceled, elapsed.Seconds())
		r.logger.Warn("Batch canceled",
			slog.Int("pending", len(pending)),
			slog.Duration("duration", elapsed),
		)
		return nil, ctxErr
	}

	terr := &TimeoutError{Timeout: r.timeout, Pending: pending}
	outcome := outcomeTimedOut
	if !errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, context.Canceled) {
		terr.Cause = err
		outcome = outcomeWaitFailed
	}
	recordBatch(outcome, elapsed.Seconds())
	r.logger.Warn("Batch failed, all processes killed",
		slog.String("outcome", outcome),
		slog.Int("processes", len(procs)),
		slog.Int("pending", len(pending)),
		slog.Duration("duration", elapsed),
	)
	return nil, terr
}

// stopAll kills and reaps the processes of an aborted launch.
func (r *Runner) stopAll(procs []Process) {
	for i, p := range procs {
		r.kill(i, p, true)
	}
	for _, p := range procs {
		_ = p.Wait()
	}
}

// kill sends Kill and logs failures other than an already-exited process.
func (r *Runner) kill(slot int, p Process, running bool) {
	err := p.Kill()
	if err != nil && !errors.Is(err, os.ErrProcessDone) {
		r.logger.Warn("Failed to kill solver",
			slog.Int("slot", slot),
			slog.Int("pid", p.Pid()),
			slog.String("error", err.Error()),
		)
		return
	}
	if running {
		processesKilled.Inc()
	}
}

// exitCode separates an exit status from a failure to wait.
//
// Errors carrying an exit code, like *exec.ExitError, are statuses. Any
// other error means the process could not be waited on.
func exitCode(err error) (int, error) {
	if err == nil {
		return 0, nil
	}
	var coded interface{ ExitCode() int }
	if errors.As(err, &coded) {
		return coded.ExitCode(), nil
	}
	return -1, err
}
