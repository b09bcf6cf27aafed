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
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeScript(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755))
	return path
}

func skipWithoutShell(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("requires a POSIX shell")
	}
	if _, err := os.Stat("/bin/sh"); err != nil {
		t.Skip("requires /bin/sh")
	}
}

func TestExecLauncher_WritesStdoutInWorkDir(t *testing.T) {
	skipWithoutShell(t)
	dir := t.TempDir()
	script := writeScript(t, dir, "echo.sh", `printf '%s\n' "$1"; pwd`)
	out := filepath.Join(dir, "out.txt")

	work := filepath.Join(dir, "work")
	require.NoError(t, os.Mkdir(work, 0o755))

	l := NewExecLauncher(nil)
	p, err := l.Start(context.Background(), Command{
		Path:   script,
		Args:   []string{"hello world"},
		Dir:    work,
		Stdout: out,
	})
	require.NoError(t, err)
	require.NoError(t, p.Wait())
	require.NoError(t, p.Wait(), "Wait is repeatable")
	assert.NoError(t, p.Kill(), "killing an exited process is tolerated")

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	lines := string(data)
	assert.Contains(t, lines, "hello world\n")
	assert.Contains(t, lines, string(filepath.Separator)+"work\n")
}

func TestExecLauncher_MissingExecutable(t *testing.T) {
	skipWithoutShell(t)
	dir := t.TempDir()
	l := NewExecLauncher(nil)
	_, err := l.Start(context.Background(), Command{
		Path:   filepath.Join(dir, "does-not-exist"),
		Stdout: filepath.Join(dir, "out.txt"),
	})
	assert.Error(t, err)
}

func TestExecLauncher_NonZeroExit(t *testing.T) {
	skipWithoutShell(t)
	dir := t.TempDir()
	script := writeScript(t, dir, "fail.sh", "echo oops >&2; exit 4")

	r, err := NewRunner(NewExecLauncher(nil), 5*time.Second, nil)
	require.NoError(t, err)
	res, err := r.Run(context.Background(), []Command{{Path: script, Dir: dir}})
	require.NoError(t, err)
	assert.Equal(t, 4, res.Exits[0].Code)
}

func TestRunner_KillsRealProcessesOnTimeout(t *testing.T) {
	skipWithoutShell(t)
	dir := t.TempDir()
	fast := writeScript(t, dir, "fast.sh", "echo 1")
	slow := writeScript(t, dir, "slow.sh", "exec sleep 30")

	r, err := NewRunner(NewExecLauncher(nil), 300*time.Millisecond, nil)
	require.NoError(t, err)

	start := time.Now()
	_, err = r.Run(context.Background(), []Command{
		{Path: fast, Dir: dir, Stdout: filepath.Join(dir, "a.out")},
		{Path: slow, Dir: dir, Stdout: filepath.Join(dir, "b.out")},
	})
	require.ErrorIs(t, err, ErrTimeout)
	assert.Less(t, time.Since(start), 10*time.Second)
}
