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
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/stealthboot/services/bootstrap"
)

const (
	onesSolver       = `grep -v '^#' "$1" | while IFS= read -r line; do [ -n "$line" ] && echo 1; done; exit 0`
	constantDistance = `echo 0.25`
)

// installSolvers writes shell-script solvers in the default layout.
func installSolvers(t *testing.T) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell solvers need /bin/sh")
	}
	root := t.TempDir()
	for dir, body := range map[string]string{
		"stealth-sampling": onesSolver,
		"wasserstein":      constantDistance,
	} {
		require.NoError(t, os.MkdirAll(filepath.Join(root, dir), 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(root, dir, "main"), []byte("#!/bin/sh\n"+body+"\n"), 0o755))
	}
	return root
}

// runCLI executes args with telemetry exporters disabled.
func runCLI(t *testing.T, stdin string, args ...string) (string, string, error) {
	t.Helper()
	t.Setenv("OTEL_TRACES_EXPORTER", "none")
	t.Setenv("OTEL_METRICS_EXPORTER", "none")
	t.Setenv("STEALTHBOOT_CONFIG", "")

	var stdout, stderr bytes.Buffer
	a := newApp(&stdout, &stderr)
	err := a.execute(context.Background(), args, strings.NewReader(stdin))
	return stdout.String(), stderr.String(), err
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func groupsJSON(sizes []int, ks []int) string {
	type group struct {
		Points     [][]float64 `json:"points"`
		Multiplier int         `json:"multiplier"`
	}
	var req struct {
		Groups []group `json:"groups"`
	}
	v := 1.0
	for j, n := range sizes {
		g := group{Multiplier: ks[j]}
		for i := 0; i < n; i++ {
			g.Points = append(g.Points, []float64{v, v + 0.5})
			v++
		}
		req.Groups = append(req.Groups, g)
	}
	data, _ := json.Marshal(req)
	return string(data)
}

func TestVersionCommand(t *testing.T) {
	out, _, err := runCLI(t, "", "version", "--config", "/does/not/exist.yaml")
	require.NoError(t, err)
	assert.Equal(t, "stealthboot "+Version+"\n", out)
}

func TestConfigShow(t *testing.T) {
	path := writeFile(t, "config.yaml", "bootstrap:\n  num_sample: 7\ntimeout: 45s\n")

	out, _, err := runCLI(t, "", "config", "show", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, "num_sample: 7")
	assert.Contains(t, out, "timeout: 45s")
}

func TestConfigShow_InvalidFile(t *testing.T) {
	path := writeFile(t, "config.yaml", "bootstrap:\n  ratoi: 0.5\n")

	_, _, err := runCLI(t, "", "config", "show", "--config", path)
	assert.Error(t, err)
}

func TestWeightsCommand(t *testing.T) {
	root := installSolvers(t)
	workDir := t.TempDir()
	input := writeFile(t, "groups.json", groupsJSON([]int{20, 10}, []int{3, 5}))

	out, _, err := runCLI(t, "", "weights",
		"--input", input,
		"--solver-root", root,
		"--work-dir", workDir,
		"--num-sample", "3",
		"--num-process", "2",
		"--timeout", "10s",
	)
	require.NoError(t, err)

	var res bootstrap.WeightsResult
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	require.Len(t, res.Weights, 2)
	assert.Len(t, res.Weights[0], 20)
	assert.Len(t, res.Weights[1], 10)
	assert.Equal(t, 3, res.Replicates)

	total := 0.0
	for _, g := range res.Weights {
		for _, w := range g {
			total += w
		}
	}
	assert.InDelta(t, 1.0, total, 1e-6)

	entries, err := os.ReadDir(workDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestWeightsCommand_StdinOnceToFile(t *testing.T) {
	root := installSolvers(t)
	output := filepath.Join(t.TempDir(), "weights.json")
	input := "# 1 2\n0 0:1 1:1\n0 0:2 1:2\n1 0:3\n"

	out, _, err := runCLI(t, input, "weights", "--once",
		"--solver-root", root,
		"--work-dir", t.TempDir(),
		"-o", output,
	)
	require.NoError(t, err)
	assert.Empty(t, out)

	data, err := os.ReadFile(output)
	require.NoError(t, err)
	var res bootstrap.WeightsResult
	require.NoError(t, json.Unmarshal(data, &res))
	// Each value is divided by the point count times the multiplier sum.
	require.Len(t, res.Weights, 2)
	assert.InDeltaSlice(t, []float64{1.0 / 9, 1.0 / 9}, res.Weights[0], 1e-12)
	assert.InDeltaSlice(t, []float64{1.0 / 9}, res.Weights[1], 1e-12)
}

func TestWeightsCommand_BadInput(t *testing.T) {
	input := writeFile(t, "groups.txt", "0 0:1\n")

	_, _, err := runCLI(t, "", "weights", "--input", input, "--work-dir", t.TempDir())
	require.Error(t, err)
	assert.Equal(t, exitInvalidInput, exitCode(err))
}

func TestWeightsCommand_MissingSolver(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("relies on unix paths")
	}
	input := writeFile(t, "groups.json", groupsJSON([]int{10, 10}, []int{4, 4}))

	_, _, err := runCLI(t, "", "weights",
		"--input", input,
		"--solver-root", t.TempDir(),
		"--work-dir", t.TempDir(),
	)
	require.Error(t, err)
	assert.Equal(t, exitSolver, exitCode(err))
}

func TestWassersteinCommand(t *testing.T) {
	root := installSolvers(t)
	x1 := writeFile(t, "x1.json", `[[0, 0], [1, 1], [2, 2], [3, 3]]`)
	x2 := writeFile(t, "x2.txt", "0 0:5\n0 0:6 1:1\n0 0:7\n")

	out, _, err := runCLI(t, "", "wasserstein",
		"--x1", x1,
		"--x2", x2,
		"--n", "10",
		"--num-sample", "2",
		"--solver-root", root,
		"--work-dir", t.TempDir(),
	)
	require.NoError(t, err)

	var res bootstrap.DistanceResult
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.InDelta(t, 0.25, res.Distance, 1e-12)
	assert.Equal(t, 3, res.SampleSize)
}

func TestWassersteinCommand_RequiresN(t *testing.T) {
	x := writeFile(t, "x.json", `[[0, 0], [1, 1]]`)

	_, _, err := runCLI(t, "", "wasserstein", "--x1", x, "--x2", x, "--work-dir", t.TempDir())
	require.Error(t, err)
	assert.ErrorIs(t, err, bootstrap.ErrInvalidSampleSize)
}

func TestWassersteinCommand_Checkpoint(t *testing.T) {
	root := installSolvers(t)
	x := writeFile(t, "x.json", `[[0, 0], [1, 1], [2, 2]]`)
	ckpt := filepath.Join(t.TempDir(), "ckpt")

	_, _, err := runCLI(t, "", "wasserstein",
		"--x1", x, "--x2", x, "--n", "2",
		"--solver-root", root,
		"--work-dir", t.TempDir(),
		"--checkpoint", ckpt,
	)
	require.NoError(t, err)

	_, err = os.Stat(ckpt)
	assert.NoError(t, err, "checkpoint directory must be created")
}

func TestLogDirFlag(t *testing.T) {
	logDir := t.TempDir()

	_, _, err := runCLI(t, "", "config", "show", "--log-dir", logDir, "--log-level", "debug")
	require.NoError(t, err)

	entries, err := os.ReadDir(logDir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.True(t, strings.HasPrefix(entries[0].Name(), "stealthboot_"))
}
