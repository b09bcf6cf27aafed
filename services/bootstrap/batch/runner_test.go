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
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func commands(n int) []Command {
	cmds := make([]Command, n)
	for i := range cmds {
		cmds[i] = Command{Path: "/opt/solver/main", Args: []string{"in"}, Dir: "/tmp"}
	}
	return cmds
}

// launcherWith returns a mock whose i-th process runs for runFor[i].
func launcherWith(runFor ...time.Duration) *MockLauncher {
	var n atomic.Int32
	return &MockLauncher{
		StartFunc: func(ctx context.Context, cmd Command) (Process, error) {
			i := int(n.Add(1)) - 1
			return NewMockProcess(1000+i, runFor[i], nil), nil
		},
	}
}

func mockProcs(t *testing.T, m *MockLauncher) []*MockProcess {
	t.Helper()
	var out []*MockProcess
	for _, p := range m.GetStarted() {
		mp, ok := p.(*MockProcess)
		require.True(t, ok)
		out = append(out, mp)
	}
	return out
}

func TestNewRunner_Validation(t *testing.T) {
	_, err := NewRunner(nil, time.Second, nil)
	assert.ErrorIs(t, err, ErrNoLauncher)

	_, err = NewRunner(&MockLauncher{}, 0, nil)
	assert.Error(t, err)

	r, err := NewRunner(&MockLauncher{}, time.Second, nil)
	require.NoError(t, err)
	assert.Equal(t, time.Second, r.Timeout())
}

func TestRun_AllComplete(t *testing.T) {
	m := launcherWith(5*time.Millisecond, 10*time.Millisecond, 0)
	r, err := NewRunner(m, 2*time.Second, nil)
	require.NoError(t, err)

	res, err := r.Run(context.Background(), commands(3))
	require.NoError(t, err)
	require.Len(t, res.Exits, 3)
	for i, e := range res.Exits {
		assert.Equal(t, i, e.Slot)
		assert.Equal(t, 1000+i, e.Pid)
		assert.Equal(t, 0, e.Code)
	}
	assert.Len(t, m.GetCalls(), 3)
	for _, p := range mockProcs(t, m) {
		assert.Zero(t, p.Kills())
	}
}

func TestRun_NonZeroExitIsCompleted(t *testing.T) {
	m := &MockLauncher{
		StartFunc: func(ctx context.Context, cmd Command) (Process, error) {
			return NewMockProcess(7, 0, &MockExitError{Code: 3}), nil
		},
	}
	r, err := NewRunner(m, time.Second, nil)
	require.NoError(t, err)

	res, err := r.Run(context.Background(), commands(1))
	require.NoError(t, err)
	assert.Equal(t, 3, res.Exits[0].Code)
}

func TestRun_OneHangs_AllKilled(t *testing.T) {
	m := launcherWith(0, -1, 5*time.Millisecond)
	r, err := NewRunner(m, 100*time.Millisecond, nil)
	require.NoError(t, err)

	res, err := r.Run(context.Background(), commands(3))
	assert.Nil(t, res)
	require.ErrorIs(t, err, ErrTimeout)

	var terr *TimeoutError
	require.True(t, errors.As(err, &terr))
	assert.Equal(t, []int{1}, terr.Pending)
	assert.Nil(t, terr.Cause)

	procs := mockProcs(t, m)
	require.Len(t, procs, 3)
	for i, p := range procs {
		assert.GreaterOrEqual(t, p.Kills(), 1, "slot %d was not killed", i)
		assert.True(t, p.Exited(), "slot %d was not reaped", i)
	}
}

func TestRun_WaitFailure(t *testing.T) {
	var n atomic.Int32
	m := &MockLauncher{
		StartFunc: func(ctx context.Context, cmd Command) (Process, error) {
			if n.Add(1) == 1 {
				return NewMockProcess(1, 0, errors.New("no child processes")), nil
			}
			return NewMockProcess(2, -1, nil), nil
		},
	}
	r, err := NewRunner(m, 5*time.Second, nil)
	require.NoError(t, err)

	start := time.Now()
	_, err = r.Run(context.Background(), commands(2))
	require.ErrorIs(t, err, ErrTimeout)
	assert.Less(t, time.Since(start), 5*time.Second)

	var terr *TimeoutError
	require.True(t, errors.As(err, &terr))
	assert.Error(t, terr.Cause)
	for _, p := range mockProcs(t, m) {
		assert.True(t, p.Exited())
		assert.GreaterOrEqual(t, p.Kills(), 1)
	}
}

func TestRun_LaunchFailure(t *testing.T) {
	var n atomic.Int32
	startErr := errors.New("exec format error")
	m := &MockLauncher{
		StartFunc: func(ctx context.Context, cmd Command) (Process, error) {
			if n.Add(1) == 3 {
				return nil, startErr
			}
			return NewMockProcess(int(n.Load()), -1, nil), nil
		},
	}
	r, err := NewRunner(m, time.Second, nil)
	require.NoError(t, err)

	_, err = r.Run(context.Background(), commands(4))
	require.ErrorIs(t, err, ErrLaunch)
	assert.ErrorIs(t, err, startErr)
	assert.NotErrorIs(t, err, ErrTimeout)

	var lerr *LaunchError
	require.True(t, errors.As(err, &lerr))
	assert.Equal(t, 2, lerr.Slot)

	assert.Len(t, m.GetCalls(), 3, "no start after the failing one")
	procs := mockProcs(t, m)
	require.Len(t, procs, 2)
	for _, p := range procs {
		assert.Equal(t, 1, p.Kills())
		assert.True(t, p.Exited())
	}
}

func TestRun_ParentCanceled(t *testing.T) {
	m := launcherWith(-1, -1)
	r, err := NewRunner(m, 10*time.Second, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err = r.Run(ctx, commands(2))
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, ErrTimeout)
	for _, p := range mockProcs(t, m) {
		assert.True(t, p.Exited())
	}
}

func TestRun_AlreadyCanceled(t *testing.T) {
	m := launcherWith(0)
	r, err := NewRunner(m, time.Second, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = r.Run(ctx, commands(1))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, m.GetCalls())
}

func TestRun_Empty(t *testing.T) {
	r, err := NewRunner(&MockLauncher{}, time.Second, nil)
	require.NoError(t, err)
	res, err := r.Run(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, res.Exits)
}

func TestTimeoutError_Message(t *testing.T) {
	err := &TimeoutError{Timeout: time.Second, Pending: []int{0, 2}}
	assert.Contains(t, err.Error(), "pending slots [0 2]")

	cause := errors.New("boom")
	err = &TimeoutError{Timeout: time.Second, Cause: cause}
	assert.ErrorIs(t, err, cause)
	assert.ErrorIs(t, err, ErrTimeout)
}
