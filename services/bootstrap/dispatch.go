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
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/cenkalti/backoff/v5"
	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/stealthboot/services/bootstrap/batch"
	"github.com/AleutianAI/stealthboot/services/bootstrap/svmlight"
)

// =============================================================================
// JOB FILES
// =============================================================================

// jobFiles are the paths one solver job reads and writes.
type jobFiles struct {
	inputs []string
	output string
}

func (f jobFiles) all() []string {
	return append(append([]string(nil), f.inputs...), f.output)
}

// files names the job files of a slot.
//
// Names embed the run ID, the attempt counter and the slot, so no two
// jobs, retries or concurrent runs share a file:
//
//	<prefix>_<run>_a<attempt>_p<slot>_input.txt
func (e *Engine) files(r *run, at Attempt, slot int) jobFiles {
	runTag := r.id
	if len(runTag) > 8 {
		runTag = runTag[:8]
	}
	base := filepath.Join(e.cfg.WorkDir,
		fmt.Sprintf("%s_%s_a%05d_p%05d", e.cfg.Prefix, runTag, at.Attempt, slot))

	f := jobFiles{output: base + "_output.txt"}
	switch r.kind {
	case KindWasserstein, KindWassersteinOnce:
		f.inputs = []string{base + "_input1.txt", base + "_input2.txt"}
	default:
		f.inputs = []string{base + "_input.txt"}
	}
	return f
}

// removeFiles deletes every file of the given jobs. Missing files are
// ignored.
func removeFiles(files []jobFiles) error {
	var result *multierror.Error
	for _, f := range files {
		for _, p := range f.all() {
			if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
				result = multierror.Append(result, err)
			}
		}
	}
	return result.ErrorOrNil()
}

// =============================================================================
// DISPATCH
// =============================================================================

// dispatch runs batches of numJobs solver jobs until one is accepted.
//
// Description:
//
//	Every attempt increments the attempt counter, writes fresh inputs with
//	prepare, runs the batch and decodes every output with decode. Timeouts
//	are retried, as are malformed outputs under MismatchRetry. Any other
//	failure ends the run. With MaxAttempts set, running out of attempts
//	returns a *RetryExhaustedError.
//
// Outputs:
//
//	[]T - One decoded result per slot.
//	error - Non-nil if no batch was accepted.
func dispatch[T any](
	ctx context.Context,
	e *Engine,
	r *run,
	solver string,
	numJobs int,
	prepare func(at Attempt, slot int, f jobFiles) error,
	decode func(slot int, f jobFiles) (T, error),
) ([]T, error) {
	tries := 0
	op := func() ([]T, error) {
		if err := ctx.Err(); err != nil {
			return nil, backoff.Permanent(err)
		}
		r.at.Attempt++
		tries++

		results, err := attempt(ctx, e, r, r.at, solver, numJobs, prepare, decode)
		if err == nil {
			recordAttempt(ctx, r.kind, "accepted")
			return results, nil
		}
		if e.retryable(err) {
			recordAttempt(ctx, r.kind, "retried")
			r.logger.Warn("Batch rejected, retrying",
				slog.Int("replicate", r.at.Replicate),
				slog.Int("attempt", r.at.Attempt),
				slog.Int("tries", tries),
				slog.String("error", err.Error()),
			)
			return nil, err
		}
		recordAttempt(ctx, r.kind, "fatal")
		return nil, backoff.Permanent(err)
	}

	opts := []backoff.RetryOption{
		backoff.WithBackOff(e.backOff()),
		backoff.WithMaxElapsedTime(0),
	}
	if e.cfg.MaxAttempts > 0 {
		opts = append(opts, backoff.WithMaxTries(uint(e.cfg.MaxAttempts)))
	}

	results, err := backoff.Retry(ctx, op, opts...)
	if err == nil {
		return results, nil
	}

	var perm *backoff.PermanentError
	if errors.As(err, &perm) {
		err = perm.Err
	}
	if e.retryable(err) {
		r.logger.Error("Retries exhausted",
			slog.Int("replicate", r.at.Replicate),
			slog.Int("attempts", tries),
		)
		return nil, &RetryExhaustedError{
			Replicate:   r.at.Replicate,
			Attempts:    tries,
			MaxAttempts: e.cfg.MaxAttempts,
			LastError:   err,
		}
	}
	r.logger.Error("Estimate aborted",
		slog.Int("replicate", r.at.Replicate),
		slog.Int("attempt", r.at.Attempt),
		slog.String("error", err.Error()),
	)
	return nil, err
}

// attempt runs one batch and decodes its outputs.
//
// Job files are removed when the attempt ends, whatever its outcome,
// unless KeepFiles is set.
func attempt[T any](
	ctx context.Context,
	e *Engine,
	r *run,
	at Attempt,
	solver string,
	numJobs int,
	prepare func(at Attempt, slot int, f jobFiles) error,
	decode func(slot int, f jobFiles) (T, error),
) ([]T, error) {
	ctx, span := startAttemptSpan(ctx, at, numJobs)
	defer span.End()

	files := make([]jobFiles, numJobs)
	for slot := range files {
		files[slot] = e.files(r, at, slot)
	}
	defer func() {
		if e.cfg.KeepFiles {
			return
		}
		if err := removeFiles(files); err != nil {
			r.logger.Warn("Failed to remove job files", slog.String("error", err.Error()))
		}
	}()

	cmds := make([]batch.Command, numJobs)
	for slot, f := range files {
		if err := prepare(at, slot, f); err != nil {
			return nil, fmt.Errorf("write job %d input: %w", slot, err)
		}
		cmds[slot] = batch.Command{
			Path:   solver,
			Args:   f.inputs,
			Dir:    e.cfg.WorkDir,
			Stdout: f.output,
		}
	}

	if _, err := e.runner.Run(ctx, cmds); err != nil {
		span.RecordError(err)
		return nil, err
	}

	// Every process is reaped, so outputs are complete.
	results := make([]T, numJobs)
	var g errgroup.Group
	for slot, f := range files {
		g.Go(func() error {
			v, err := decode(slot, f)
			if err != nil {
				return fmt.Errorf("decode job %d output: %w", slot, err)
			}
			results[slot] = v
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		span.RecordError(err)
		return nil, err
	}
	return results, nil
}

// retryable reports whether a failed batch may be retried.
func (e *Engine) retryable(err error) bool {
	if errors.Is(err, batch.ErrTimeout) {
		return true
	}
	if e.cfg.MismatchPolicy == MismatchRetry {
		return errors.Is(err, svmlight.ErrOutputMismatch) || errors.Is(err, svmlight.ErrMalformed)
	}
	return false
}

func (e *Engine) backOff() backoff.BackOff {
	if e.cfg.RetryDelay <= 0 {
		return &backoff.ZeroBackOff{}
	}
	return backoff.NewConstantBackOff(e.cfg.RetryDelay)
}
