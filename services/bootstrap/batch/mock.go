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
	"fmt"
	"os"
	"sync"
	"time"
)

// -----------------------------------------------------------------------------
// Mock Implementation for Testing
// -----------------------------------------------------------------------------

// MockLauncher is a test double for Launcher.
//
// Configure the mock by setting StartFunc before use. If StartFunc is nil
// and Start is called, it will panic.
//
// # Examples
//
//	mock := &MockLauncher{
//	    StartFunc: func(ctx context.Context, cmd Command) (Process, error) {
//	        return NewMockProcess(100, 10*time.Millisecond, nil), nil
//	    },
//	}
type MockLauncher struct {
	// StartFunc is called when Start is invoked
	StartFunc func(ctx context.Context, cmd Command) (Process, error)

	// Calls records every command passed to Start
	Calls []Command

	// Started records the processes returned by StartFunc
	Started []Process

	// mu protects Calls and Started for concurrent access
	mu sync.Mutex
}

// Start delegates to StartFunc and records the call.
func (m *MockLauncher) Start(ctx context.Context, cmd Command) (Process, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = append(m.Calls, cmd)
	if m.StartFunc == nil {
		panic("MockLauncher.StartFunc not set")
	}
	p, err := m.StartFunc(ctx, cmd)
	if err == nil {
		m.Started = append(m.Started, p)
	}
	return p, err
}

// Reset clears all recorded calls and processes.
func (m *MockLauncher) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = nil
	m.Started = nil
}

// GetCalls returns a copy of all recorded calls.
func (m *MockLauncher) GetCalls() []Command {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]Command, len(m.Calls))
	copy(result, m.Calls)
	return result
}

// GetStarted returns a copy of all started processes.
func (m *MockLauncher) GetStarted() []Process {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]Process, len(m.Started))
	copy(result, m.Started)
	return result
}

// MockExitError is the wait error of a mock process with a non-zero status.
type MockExitError struct {
	Code int
}

func (e *MockExitError) Error() string {
	return fmt.Sprintf("exit status %d", e.Code)
}

// ExitCode returns the exit status.
func (e *MockExitError) ExitCode() int {
	return e.Code
}

// MockProcess is a Process that exits after a fixed delay or when killed.
type MockProcess struct {
	pid    int
	kill   chan struct{}
	exited chan struct{}

	mu    sync.Mutex
	kills int
	err   error
}

// NewMockProcess starts a fake process.
//
// Inputs:
//
//	pid - Reported process id.
//	runFor - Time until exit. Negative runs until killed.
//	exitErr - Error returned by Wait on a normal exit.
func NewMockProcess(pid int, runFor time.Duration, exitErr error) *MockProcess {
	p := &MockProcess{pid: pid, kill: make(chan struct{}), exited: make(chan struct{})}
	go func() {
		var timer <-chan time.Time
		if runFor >= 0 {
			t := time.NewTimer(runFor)
			defer t.Stop()
			timer = t.C
		}
		select {
		case <-timer:
			p.finish(exitErr)
		case <-p.kill:
			p.finish(&MockExitError{Code: -1})
		}
	}()
	return p
}

func (p *MockProcess) finish(err error) {
	p.mu.Lock()
	p.err = err
	p.mu.Unlock()
	close(p.exited)
}

// Wait blocks until the process exits.
func (p *MockProcess) Wait() error {
	<-p.exited
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

// Kill stops a running process. On an exited process it returns
// os.ErrProcessDone.
func (p *MockProcess) Kill() error {
	p.mu.Lock()
	p.kills++
	first := p.kills == 1
	p.mu.Unlock()

	select {
	case <-p.exited:
		return os.ErrProcessDone
	default:
	}
	if first {
		close(p.kill)
	}
	return nil
}

// Pid returns the reported process id.
func (p *MockProcess) Pid() int {
	return p.pid
}

// Kills returns how many times Kill was called.
func (p *MockProcess) Kills() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.kills
}

// Exited reports whether the process has exited.
func (p *MockProcess) Exited() bool {
	select {
	case <-p.exited:
		return true
	default:
		return false
	}
}

// Compile-time interface compliance check.
var (
	_ Launcher = (*MockLauncher)(nil)
	_ Process  = (*MockProcess)(nil)
)
