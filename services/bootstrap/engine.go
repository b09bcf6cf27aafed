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
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/AleutianAI/stealthboot/services/bootstrap/aggregate"
	"github.com/AleutianAI/stealthboot/services/bootstrap/batch"
	"github.com/AleutianAI/stealthboot/services/bootstrap/checkpoint"
	"github.com/AleutianAI/stealthboot/services/bootstrap/dataset"
	"github.com/AleutianAI/stealthboot/services/bootstrap/sampler"
	"github.com/AleutianAI/stealthboot/services/bootstrap/svmlight"
)

// =============================================================================
// ENGINE
// =============================================================================

// CheckpointStore persists run progress between replicates.
type CheckpointStore interface {
	Load(ctx context.Context, key string) (*checkpoint.State, error)
	Save(ctx context.Context, key string, st *checkpoint.State) error
	Delete(ctx context.Context, key string) error
}

// Engine runs bootstrap estimates through external solver processes.
//
// Thread Safety: Safe for concurrent use. Concurrent runs use distinct run
// IDs and therefore distinct job files. A checkpoint key is leased to one
// run at a time; an identical concurrent run proceeds without checkpoints.
type Engine struct {
	cfg         Config
	sampler     *sampler.Sampler
	runner      *batch.Runner
	checkpoints CheckpointStore
	logger      *slog.Logger

	// mu protects leases.
	mu     sync.Mutex
	leases map[string]struct{}
}

// NewEngine creates an estimation engine.
//
// Description:
//
//	Validates cfg and resolves WorkDir and both solver paths to absolute
//	paths, so solver invocations do not depend on the process working
//	directory.
//
// Inputs:
//
//	cfg - Engine configuration. Nil uses DefaultConfig().
//	launcher - Starts solver processes. Use batch.NewExecLauncher in
//	    production and batch.MockLauncher in tests.
//	logger - Logger for structured logging. Nil uses slog.Default().
//
// Outputs:
//
//	*Engine - Configured engine.
//	error - Non-nil if the configuration is invalid.
func NewEngine(cfg *Config, launcher batch.Launcher, logger *slog.Logger) (*Engine, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	c := *cfg
	var err error
	if c.WorkDir, err = filepath.Abs(c.WorkDir); err != nil {
		return nil, fmt.Errorf("%w: work dir: %v", ErrInvalidConfig, err)
	}
	if c.StealthSolver, err = filepath.Abs(c.StealthSolver); err != nil {
		return nil, fmt.Errorf("%w: stealth solver: %v", ErrInvalidConfig, err)
	}
	if c.WassersteinSolver, err = filepath.Abs(c.WassersteinSolver); err != nil {
		return nil, fmt.Errorf("%w: wasserstein solver: %v", ErrInvalidConfig, err)
	}

	s, err := sampler.New(c.Ratio, c.JitterScale)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	runner, err := batch.NewRunner(launcher, c.Timeout, logger)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	return &Engine{
		cfg:     c,
		sampler: s,
		runner:  runner,
		logger:  logger,
		leases:  make(map[string]struct{}),
	}, nil
}

// WithCheckpoints enables resumable runs backed by store.
func (e *Engine) WithCheckpoints(store CheckpointStore) *Engine {
	e.checkpoints = store
	return e
}

// Config returns the resolved configuration.
func (e *Engine) Config() Config {
	return e.cfg
}

// run is the mutable state of one estimation call.
type run struct {
	id   string
	kind Kind
	at   Attempt
	key  string

	resumed bool
	start   time.Time
	logger  *slog.Logger
}

func (e *Engine) newRun(kind Kind) *run {
	id := uuid.NewString()
	return &run{
		id:     id,
		kind:   kind,
		start:  time.Now(),
		logger: e.logger.With(slog.String("run_id", id), slog.String("kind", string(kind))),
	}
}

// =============================================================================
// STEALTH SAMPLING
// =============================================================================

// StealthWeights estimates per-point weights by bootstrap stealth sampling.
//
// Description:
//
//	Runs NumSample replicates. Each replicate keeps round(Ratio * n_j)
//	points of every group and scales every multiplier to round(Ratio * K_j),
//	then dispatches NumProcess solver jobs as one batch. A batch that times
//	out is discarded and retried with the same points and fresh jitter.
//	Accepted job weights are scattered back to the original points, and
//	the result is normalized to sum to one.
//
// Inputs:
//
//	ctx - Context for cancellation.
//	groups - The input groups. Not modified.
//
// Outputs:
//
//	*WeightsResult - One weight per input point, grouped like the input.
//	error - Input validation errors, ErrDegenerateReplicate, a fatal solver
//	    error, *RetryExhaustedError, or the context error.
func (e *Engine) StealthWeights(ctx context.Context, groups []dataset.Group) (result *WeightsResult, err error) {
	if _, err := dataset.Validate(groups); err != nil {
		return nil, err
	}
	sizes := dataset.Sizes(groups)
	if sum(e.sampler.Counts(sizes)) == 0 || sum(e.sampler.ScaledMultipliers(dataset.Multipliers(groups))) == 0 {
		return nil, fmt.Errorf("%w: ratio %v leaves no points or no multiplier weight",
			ErrDegenerateReplicate, e.cfg.Ratio)
	}

	r := e.newRun(KindWeights)
	ctx, span := startRunSpan(ctx, r.id, r.kind)
	defer span.End()
	defer func() {
		setRunSpanResult(span, err == nil, r.at.Replicate, r.at.Attempt)
		recordRunMetrics(ctx, r.kind, time.Since(r.start), err == nil)
	}()

	acc := aggregate.NewAccumulator(sizes, e.cfg.Epsilon, e.cfg.NumSample, e.cfg.NumProcess)
	e.resume(ctx, r, e.identity(groups), func(st *checkpoint.State) error {
		if st.Weights == nil {
			return errors.New("checkpoint has no weight state")
		}
		return acc.Restore(*st.Weights)
	})
	defer e.release(r)

	r.logger.Info("Starting stealth sampling",
		slog.Int("groups", len(groups)),
		slog.Int("replicates", e.cfg.NumSample),
		slog.Int("processes", e.cfg.NumProcess),
		slog.Float64("ratio", e.cfg.Ratio),
		slog.Int("resume_from", r.at.Replicate),
	)

	for r.at.Replicate < e.cfg.NumSample {
		draws := make([]*sampler.GroupDraw, e.cfg.NumProcess)
		jobs, err := dispatch(ctx, e, r, e.cfg.StealthSolver, e.cfg.NumProcess,
			func(at Attempt, slot int, f jobFiles) error {
				d := e.sampler.DrawGroups(groups, at.IndexSeed(e.cfg.Seed, slot), at.NoiseSeed(e.cfg.Seed, slot))
				draws[slot] = d
				return svmlight.WriteFile(f.inputs[0], func(w io.Writer) error {
					return svmlight.EncodeStealth(w, d.Points, d.Multipliers)
				})
			},
			func(slot int, f jobFiles) (aggregate.JobResult, error) {
				values, err := svmlight.ReadValuesFile(f.output)
				if err != nil {
					return aggregate.JobResult{}, err
				}
				d := draws[slot]
				parts, err := svmlight.SplitGroups(values, d.Sizes())
				if err != nil {
					return aggregate.JobResult{}, err
				}
				return aggregate.JobResult{Indices: d.Indices, Values: parts, Multipliers: d.Multipliers}, nil
			},
		)
		if err != nil {
			return nil, err
		}

		// Jobs of an accepted batch all fold, or none do.
		before := acc.Snapshot()
		for slot, job := range jobs {
			if err := acc.Fold(job); err != nil {
				_ = acc.Restore(before)
				return nil, fmt.Errorf("fold job %d: %w", slot, err)
			}
		}
		e.acceptReplicate(ctx, r)
		e.save(ctx, r, &checkpoint.State{Weights: ptr(acc.Snapshot())})
	}

	weights, err := acc.Finalize()
	if err != nil {
		return nil, err
	}
	e.finish(ctx, r)

	return &WeightsResult{
		RunID:      r.id,
		Weights:    weights,
		Replicates: r.at.Replicate,
		Attempts:   r.at.Attempt,
		Resumed:    r.resumed,
		Duration:   time.Since(r.start),
	}, nil
}

// StealthWeightsOnce runs the stealth solver once over every point.
//
// Multipliers are used unscaled and each weight is divided by
// N * sum(K), with N the total point count. No epsilon is added and the
// weights are not renormalized. A timed out solve is retried with fresh
// jitter.
func (e *Engine) StealthWeightsOnce(ctx context.Context, groups []dataset.Group) (result *WeightsResult, err error) {
	if _, err := dataset.Validate(groups); err != nil {
		return nil, err
	}
	sizes := dataset.Sizes(groups)
	ks := dataset.Multipliers(groups)
	total, kSum := sum(sizes), sum(ks)
	if kSum == 0 {
		return nil, fmt.Errorf("%w: all multipliers are zero", ErrDegenerateReplicate)
	}

	r := e.newRun(KindWeightsOnce)
	ctx, span := startRunSpan(ctx, r.id, r.kind)
	defer span.End()
	defer func() {
		setRunSpanResult(span, err == nil, r.at.Replicate, r.at.Attempt)
		recordRunMetrics(ctx, r.kind, time.Since(r.start), err == nil)
	}()

	all := make([][][]float64, len(groups))
	for j, g := range groups {
		all[j] = g.Points
	}

	jobs, err := dispatch(ctx, e, r, e.cfg.StealthSolver, 1,
		func(at Attempt, slot int, f jobFiles) error {
			points := sampler.JitterGroups(all, at.NoiseSeed(e.cfg.Seed, slot), e.cfg.JitterScale)
			return svmlight.WriteFile(f.inputs[0], func(w io.Writer) error {
				return svmlight.EncodeStealth(w, points, ks)
			})
		},
		func(slot int, f jobFiles) ([][]float64, error) {
			values, err := svmlight.ReadValuesFile(f.output)
			if err != nil {
				return nil, err
			}
			return svmlight.SplitGroups(values, sizes)
		},
	)
	if err != nil {
		return nil, err
	}
	r.at.Replicate++

	denom := float64(total) * float64(kSum)
	weights := make([][]float64, len(jobs[0]))
	for j, part := range jobs[0] {
		weights[j] = make([]float64, len(part))
		for i, v := range part {
			weights[j][i] = v / denom
		}
	}
	e.finish(ctx, r)

	return &WeightsResult{
		RunID:      r.id,
		Weights:    weights,
		Replicates: r.at.Replicate,
		Attempts:   r.at.Attempt,
		Duration:   time.Since(r.start),
	}, nil
}

// =============================================================================
// WASSERSTEIN DISTANCE
// =============================================================================

// Wasserstein estimates the Wasserstein distance between two point sets.
//
// Description:
//
//	Clamps n to min(n, len(x1), len(x2)). Every job draws n points from
//	each set, jitters them and runs the distance solver. The estimate is
//	the mean over NumSample * NumProcess jobs.
//
// Inputs:
//
//	ctx - Context for cancellation.
//	x1, x2 - The point sets. Not modified.
//	n - Requested points per set per job. Must be positive.
//
// Outputs:
//
//	*DistanceResult - The bootstrap distance and its spread.
//	error - Input validation errors, a fatal solver error,
//	    *RetryExhaustedError, or the context error.
func (e *Engine) Wasserstein(ctx context.Context, x1, x2 [][]float64, n int) (result *DistanceResult, err error) {
	if _, err := dataset.ValidatePair(x1, x2); err != nil {
		return nil, err
	}
	if n <= 0 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidSampleSize, n)
	}
	n = min(n, len(x1), len(x2))

	r := e.newRun(KindWasserstein)
	ctx, span := startRunSpan(ctx, r.id, r.kind)
	defer span.End()
	defer func() {
		setRunSpanResult(span, err == nil, r.at.Replicate, r.at.Attempt)
		recordRunMetrics(ctx, r.kind, time.Since(r.start), err == nil)
	}()

	avg := aggregate.NewRunningScalar(e.cfg.NumSample, e.cfg.NumProcess)
	e.resume(ctx, r, e.identity(n, x1, x2), func(st *checkpoint.State) error {
		if st.Scalar == nil {
			return errors.New("checkpoint has no scalar state")
		}
		return avg.Restore(*st.Scalar)
	})
	defer e.release(r)

	r.logger.Info("Starting Wasserstein estimate",
		slog.Int("n1", len(x1)),
		slog.Int("n2", len(x2)),
		slog.Int("sample_size", n),
		slog.Int("replicates", e.cfg.NumSample),
		slog.Int("processes", e.cfg.NumProcess),
		slog.Int("resume_from", r.at.Replicate),
	)

	for r.at.Replicate < e.cfg.NumSample {
		distances, err := dispatch(ctx, e, r, e.cfg.WassersteinSolver, e.cfg.NumProcess,
			func(at Attempt, slot int, f jobFiles) error {
				d := e.sampler.DrawPair(x1, x2, n, at.IndexSeed(e.cfg.Seed, slot), at.NoiseSeed(e.cfg.Seed, slot))
				return writePair(f, d.Points1, d.Points2)
			},
			func(slot int, f jobFiles) (float64, error) {
				return svmlight.ReadScalarFile(f.output)
			},
		)
		if err != nil {
			return nil, err
		}
		for _, d := range distances {
			avg.Fold(d)
		}
		e.acceptReplicate(ctx, r)
		e.save(ctx, r, &checkpoint.State{Scalar: ptr(avg.Snapshot())})
	}
	e.finish(ctx, r)

	return &DistanceResult{
		RunID:      r.id,
		Distance:   avg.Value(),
		StdDev:     avg.StdDev(),
		SampleSize: n,
		Jobs:       avg.Count(),
		Replicates: r.at.Replicate,
		Attempts:   r.at.Attempt,
		Resumed:    r.resumed,
		Duration:   time.Since(r.start),
	}, nil
}

// WassersteinOnce runs the distance solver once over both full sets.
func (e *Engine) WassersteinOnce(ctx context.Context, x1, x2 [][]float64) (result *DistanceResult, err error) {
	if _, err := dataset.ValidatePair(x1, x2); err != nil {
		return nil, err
	}

	r := e.newRun(KindWassersteinOnce)
	ctx, span := startRunSpan(ctx, r.id, r.kind)
	defer span.End()
	defer func() {
		setRunSpanResult(span, err == nil, r.at.Replicate, r.at.Attempt)
		recordRunMetrics(ctx, r.kind, time.Since(r.start), err == nil)
	}()

	distances, err := dispatch(ctx, e, r, e.cfg.WassersteinSolver, 1,
		func(at Attempt, slot int, f jobFiles) error {
			seed := at.NoiseSeed(e.cfg.Seed, slot)
			j := sampler.JitterGroups([][][]float64{x1, x2}, seed, e.cfg.JitterScale)
			return writePair(f, j[0], j[1])
		},
		func(slot int, f jobFiles) (float64, error) {
			return svmlight.ReadScalarFile(f.output)
		},
	)
	if err != nil {
		return nil, err
	}
	r.at.Replicate++
	e.finish(ctx, r)

	return &DistanceResult{
		RunID:      r.id,
		Distance:   distances[0],
		SampleSize: min(len(x1), len(x2)),
		Jobs:       1,
		Replicates: r.at.Replicate,
		Attempts:   r.at.Attempt,
		Duration:   time.Since(r.start),
	}, nil
}

func writePair(f jobFiles, p1, p2 [][]float64) error {
	if err := svmlight.WriteFile(f.inputs[0], func(w io.Writer) error {
		return svmlight.EncodeDistribution(w, p1)
	}); err != nil {
		return err
	}
	return svmlight.WriteFile(f.inputs[1], func(w io.Writer) error {
		return svmlight.EncodeDistribution(w, p2)
	})
}

// =============================================================================
// RUN BOOKKEEPING
// =============================================================================

func (e *Engine) acceptReplicate(ctx context.Context, r *run) {
	r.at.Replicate++
	recordReplicate(ctx, r.kind)
	r.logger.Debug("Replicate accepted",
		slog.Int("replicate", r.at.Replicate),
		slog.Int("attempt", r.at.Attempt),
	)
}

func (e *Engine) finish(ctx context.Context, r *run) {
	if e.checkpoints != nil && r.key != "" {
		if err := e.checkpoints.Delete(ctx, r.key); err != nil {
			r.logger.Warn("Failed to delete checkpoint", slog.String("error", err.Error()))
		}
	}
	r.logger.Info("Estimate complete",
		slog.Int("replicates", r.at.Replicate),
		slog.Int("attempts", r.at.Attempt),
		slog.Duration("duration", time.Since(r.start)),
	)
}

// identity lists the values that make two runs interchangeable.
func (e *Engine) identity(data ...any) []any {
	params := struct {
		Ratio       float64
		NumSample   int
		NumProcess  int
		Seed        int64
		JitterScale float64
		Epsilon     float64
	}{e.cfg.Ratio, e.cfg.NumSample, e.cfg.NumProcess, e.cfg.Seed, e.cfg.JitterScale, e.cfg.Epsilon}
	return append([]any{params}, data...)
}

// resume leases the run's checkpoint key and loads a matching checkpoint,
// if any.
//
// Checkpoint failures never fail a run; they only disable resumption. When
// another live run holds the key, this run neither loads nor saves
// checkpoints.
func (e *Engine) resume(ctx context.Context, r *run, identity []any, restore func(*checkpoint.State) error) {
	if e.checkpoints == nil {
		return
	}
	key, err := checkpoint.Fingerprint(string(r.kind), identity...)
	if err != nil {
		r.logger.Warn("Checkpointing disabled", slog.String("error", err.Error()))
		return
	}
	if !e.acquire(key) {
		r.logger.Warn("Checkpoint in use by a concurrent run, running without checkpoints",
			slog.String("key", key),
		)
		return
	}
	r.key = key

	st, err := e.checkpoints.Load(ctx, key)
	if errors.Is(err, checkpoint.ErrNotFound) {
		return
	}
	if err != nil {
		r.logger.Warn("Failed to load checkpoint", slog.String("error", err.Error()))
		return
	}
	if st.Replicate < 0 || st.Replicate > e.cfg.NumSample || st.Attempt < st.Replicate {
		r.logger.Warn("Ignoring inconsistent checkpoint",
			slog.Int("replicate", st.Replicate),
			slog.Int("attempt", st.Attempt),
		)
		return
	}
	if err := restore(st); err != nil {
		r.logger.Warn("Ignoring unusable checkpoint", slog.String("error", err.Error()))
		return
	}

	r.id = st.RunID
	r.logger = e.logger.With(slog.String("run_id", r.id), slog.String("kind", string(r.kind)))
	r.at = Attempt{Replicate: st.Replicate, Attempt: st.Attempt}
	r.resumed = true
	r.logger.Info("Resuming from checkpoint",
		slog.Int("replicate", r.at.Replicate),
		slog.Int("attempt", r.at.Attempt),
	)
}

// acquire leases key to the caller. It reports false if the key is held.
func (e *Engine) acquire(key string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, busy := e.leases[key]; busy {
		return false
	}
	e.leases[key] = struct{}{}
	return true
}

// release returns the run's checkpoint lease, if it holds one.
func (e *Engine) release(r *run) {
	if r.key == "" {
		return
	}
	e.mu.Lock()
	delete(e.leases, r.key)
	e.mu.Unlock()
}

// save stores the run's progress after an accepted replicate.
func (e *Engine) save(ctx context.Context, r *run, st *checkpoint.State) {
	if e.checkpoints == nil || r.key == "" {
		return
	}
	st.RunID = r.id
	st.Kind = string(r.kind)
	st.Replicate = r.at.Replicate
	st.Attempt = r.at.Attempt
	if err := e.checkpoints.Save(ctx, r.key, st); err != nil {
		r.logger.Warn("Failed to save checkpoint", slog.String("error", err.Error()))
	}
}

func sum(xs []int) int {
	total := 0
	for _, x := range xs {
		total += x
	}
	return total
}

func ptr[T any](v T) *T {
	return &v
}
