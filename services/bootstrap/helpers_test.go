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
	"fmt"
	"math"
	"os"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/stealthboot/services/bootstrap/batch"
	"github.com/AleutianAI/stealthboot/services/bootstrap/dataset"
	"github.com/AleutianAI/stealthboot/services/bootstrap/svmlight"
)

var jobName = regexp.MustCompile(`_a(\d+)_p(\d+)_`)

// fakeSolver answers solver commands in-process.
//
// Stealth jobs get one weight per input point, equal to its label plus one.
// Wasserstein jobs get the absolute difference of the first-coordinate
// means of both inputs.
type fakeSolver struct {
	t *testing.T

	// hang makes the given slot of the given attempt run until killed.
	hang func(attempt, slot int) bool

	// corrupt makes the given attempt write one value too few.
	corrupt func(attempt int) bool

	// fail makes Start fail for the given attempt.
	fail func(attempt int) bool

	mu     sync.Mutex
	inputs map[string]string
	procs  map[int][]*batch.MockProcess
}

func newFakeSolver(t *testing.T) *fakeSolver {
	return &fakeSolver{t: t, inputs: make(map[string]string), procs: make(map[int][]*batch.MockProcess)}
}

func (f *fakeSolver) launcher() *batch.MockLauncher {
	return &batch.MockLauncher{StartFunc: f.start}
}

func (f *fakeSolver) start(ctx context.Context, cmd batch.Command) (batch.Process, error) {
	m := jobName.FindStringSubmatch(cmd.Args[0])
	if m == nil {
		return nil, fmt.Errorf("unexpected job file %s", cmd.Args[0])
	}
	attempt, _ := strconv.Atoi(m[1])
	slot, _ := strconv.Atoi(m[2])

	if f.fail != nil && f.fail(attempt) {
		return nil, fmt.Errorf("exec format error")
	}

	var contents []string
	for _, in := range cmd.Args {
		data, err := os.ReadFile(in)
		if err != nil {
			return nil, err
		}
		contents = append(contents, string(data))
	}

	var p *batch.MockProcess
	if f.hang != nil && f.hang(attempt, slot) {
		p = batch.NewMockProcess(attempt*100+slot, -1, nil)
	} else {
		out, err := f.answer(attempt, cmd.Args)
		if err != nil {
			return nil, err
		}
		if err := os.WriteFile(cmd.Stdout, []byte(out), 0o644); err != nil {
			return nil, err
		}
		p = batch.NewMockProcess(attempt*100+slot, 0, nil)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.inputs[fmt.Sprintf("a%d_p%d", attempt, slot)] = strings.Join(contents, "\n--\n")
	f.procs[attempt] = append(f.procs[attempt], p)
	return p, nil
}

func (f *fakeSolver) answer(attempt int, args []string) (string, error) {
	read := func(path string) (*svmlight.Labeled, error) {
		fh, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer fh.Close()
		return svmlight.ReadLabeled(fh, 0)
	}

	if len(args) == 2 {
		a, err := read(args[0])
		if err != nil {
			return "", err
		}
		b, err := read(args[1])
		if err != nil {
			return "", err
		}
		return strconv.FormatFloat(math.Abs(firstMean(a.Points)-firstMean(b.Points)), 'g', -1, 64) + "\n", nil
	}

	l, err := read(args[0])
	if err != nil {
		return "", err
	}
	n := len(l.Labels)
	if f.corrupt != nil && f.corrupt(attempt) {
		n--
	}
	var b strings.Builder
	for i := 0; i < n; i++ {
		fmt.Fprintf(&b, "%d\n", l.Labels[i]+1)
	}
	return b.String(), nil
}

func (f *fakeSolver) input(attempt, slot int) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.inputs[fmt.Sprintf("a%d_p%d", attempt, slot)]
}

func (f *fakeSolver) processes(attempt int) []*batch.MockProcess {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*batch.MockProcess(nil), f.procs[attempt]...)
}

func firstMean(points [][]float64) float64 {
	if len(points) == 0 {
		return 0
	}
	total := 0.0
	for _, p := range points {
		if len(p) > 0 {
			total += p[0]
		}
	}
	return total / float64(len(points))
}

// testConfig returns a small, fast configuration in a temp work dir.
func testConfig(t *testing.T, opts ...Option) *Config {
	t.Helper()
	base := []Option{
		WithWorkDir(t.TempDir()),
		WithSolverRoot("/opt/solvers"),
		WithNumSample(4),
		WithNumProcess(2),
		WithTimeout(2 * time.Second),
	}
	return NewConfig(append(base, opts...)...)
}

func newTestEngine(t *testing.T, cfg *Config, launcher batch.Launcher) *Engine {
	t.Helper()
	e, err := NewEngine(cfg, launcher, nil)
	require.NoError(t, err)
	return e
}

// makeGroups builds groups with distinct rows of the given dimension.
func makeGroups(dim int, sizes []int, ks []int) []dataset.Group {
	groups := make([]dataset.Group, len(sizes))
	v := 1.0
	for j, n := range sizes {
		points := make([][]float64, n)
		for i := range points {
			row := make([]float64, dim)
			for d := range row {
				row[d] = v
				v += 0.5
			}
			points[i] = row
		}
		groups[j] = dataset.Group{Points: points, Multiplier: ks[j]}
	}
	return groups
}

func makePoints(n, dim int, offset float64) [][]float64 {
	points := make([][]float64, n)
	for i := range points {
		row := make([]float64, dim)
		for d := range row {
			row[d] = offset + float64(i*dim+d)
		}
		points[i] = row
	}
	return points
}

func totalWeight(w [][]float64) float64 {
	total := 0.0
	for _, g := range w {
		for _, v := range g {
			total += v
		}
	}
	return total
}

func dirEntries(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}
