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
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"os/exec"
	"time"
)

// =============================================================================
// INTERFACES
// =============================================================================

// Command describes one solver invocation.
type Command struct {
	// Path is the executable. Relative paths resolve against the process
	// working directory of the caller, not Dir.
	Path string

	// Args are passed to the executable as-is, without a shell.
	Args []string

	// Dir is the working directory of the process. Empty inherits the
	// caller's.
	Dir string

	// Stdout is the file that receives standard output. It is created or
	// truncated before the process starts. Empty discards the output.
	Stdout string
}

// Process is a started solver process.
//
// Wait blocks until the process exits and may be called more than once.
// Kill on an exited process returns nil or os.ErrProcessDone.
type Process interface {
	Wait() error
	Kill() error
	Pid() int
}

// Launcher starts solver processes.
type Launcher interface {
	Start(ctx context.Context, cmd Command) (Process, error)
}

// =============================================================================
// EXEC LAUNCHER
// =============================================================================

// DefaultStderrLimit caps the stderr bytes kept per process.
const DefaultStderrLimit = 4096

// waitDelay bounds how long Wait blocks on stderr after the process exits.
const waitDelay = 2 * time.Second

// ExecLauncher starts real processes with os/exec.
//
// Thread Safety: Safe for concurrent use.
type ExecLauncher struct {
	// StderrLimit caps the captured stderr per process. Zero uses
	// DefaultStderrLimit.
	StderrLimit int

	Logger *slog.Logger
}

// NewExecLauncher creates a launcher that logs through logger.
func NewExecLauncher(logger *slog.Logger) *ExecLauncher {
	if logger == nil {
		logger = slog.Default()
	}
	return &ExecLauncher{StderrLimit: DefaultStderrLimit, Logger: logger}
}

// Start launches cmd.
//
// Description:
//
//	Creates the stdout file, then starts the executable with the argument
//	list and working directory of cmd. The process is not bound to ctx;
//	the Runner owns its lifetime.
//
// Inputs:
//
//	ctx - Checked for cancellation before starting.
//	cmd - The command to run.
//
// Outputs:
//
//	Process - The running process.
//	error - Non-nil if the output file or the process could not be created.
func (l *ExecLauncher) Start(ctx context.Context, cmd Command) (Process, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c := exec.Command(cmd.Path, cmd.Args...)
	c.Dir = cmd.Dir
	c.WaitDelay = waitDelay

	var out *os.File
	if cmd.Stdout != "" {
		f, err := os.Create(cmd.Stdout)
		if err != nil {
			return nil, err
		}
		out = f
		c.Stdout = f
	}

	limit := l.StderrLimit
	if limit <= 0 {
		limit = DefaultStderrLimit
	}
	stderr := &limitedBuffer{limit: limit}
	c.Stderr = stderr

	if err := c.Start(); err != nil {
		if out != nil {
			_ = out.Close()
		}
		return nil, err
	}

	p := &execProcess{cmd: c, out: out, stderr: stderr, logger: l.logger(), done: make(chan struct{})}
	go p.reap()
	return p, nil
}

func (l *ExecLauncher) logger() *slog.Logger {
	if l.Logger == nil {
		return slog.Default()
	}
	return l.Logger
}

// execProcess reaps its child exactly once so Wait can be repeated.
type execProcess struct {
	cmd    *exec.Cmd
	out    *os.File
	stderr *limitedBuffer
	logger *slog.Logger
	done   chan struct{}
	err    error
}

func (p *execProcess) reap() {
	p.err = p.cmd.Wait()
	if p.out != nil {
		if err := p.out.Close(); err != nil && p.err == nil {
			p.err = err
		}
	}
	if p.err != nil && p.stderr.buf.Len() > 0 {
		p.logger.Debug("Solver stderr",
			slog.Int("pid", p.Pid()),
			slog.String("stderr", p.stderr.buf.String()),
			slog.Bool("truncated", p.stderr.truncated),
		)
	}
	close(p.done)
}

func (p *execProcess) Wait() error {
	<-p.done
	return p.err
}

func (p *execProcess) Kill() error {
	err := p.cmd.Process.Kill()
	if errors.Is(err, os.ErrProcessDone) {
		return nil
	}
	return err
}

func (p *execProcess) Pid() int {
	return p.cmd.Process.Pid
}

// limitedBuffer keeps the first limit bytes written to it.
type limitedBuffer struct {
	buf       bytes.Buffer
	limit     int
	truncated bool
}

func (lb *limitedBuffer) Write(p []byte) (int, error) {
	n := len(p)
	remaining := lb.limit - lb.buf.Len()
	if remaining <= 0 {
		lb.truncated = true
		return n, nil
	}
	if len(p) > remaining {
		p = p[:remaining]
		lb.truncated = true
	}
	lb.buf.Write(p)
	return n, nil
}

// Compile-time interface compliance check.
var (
	_ Launcher = (*ExecLauncher)(nil)
	_ Process  = (*execProcess)(nil)
)
