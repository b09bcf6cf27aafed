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
	"errors"
	"fmt"
	"strings"
	"time"
)

// =============================================================================
// SENTINEL ERRORS
// =============================================================================

var (
	// ErrTimeout indicates a batch that did not complete before its deadline.
	ErrTimeout = errors.New("batch timed out")

	// ErrLaunch indicates a process that could not be started.
	ErrLaunch = errors.New("process launch failed")

	// ErrNoLauncher indicates a runner built without a launcher.
	ErrNoLauncher = errors.New("launcher must not be nil")
)

// =============================================================================
// ERROR TYPES
// =============================================================================

// TimeoutError reports a batch that was killed before completing.
type TimeoutError struct {
	// Timeout is the joint deadline the batch ran under.
	Timeout time.Duration

	// Pending are the slots still running when the batch was stopped.
	Pending []int

	// Cause is set when a wait failure, not the deadline, stopped the batch.
	Cause error
}

// Error implements the error interface.
func (e *TimeoutError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s after %s", ErrTimeout, e.Timeout)
	if len(e.Pending) > 0 {
		fmt.Fprintf(&b, " (pending slots %v)", e.Pending)
	}
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

// Unwrap returns ErrTimeout and the cause, if any.
func (e *TimeoutError) Unwrap() []error {
	if e.Cause != nil {
		return []error{ErrTimeout, e.Cause}
	}
	return []error{ErrTimeout}
}

// LaunchError reports a process that failed to start.
type LaunchError struct {
	// Slot is the position of the command in the batch.
	Slot int

	// Path is the executable that failed to start.
	Path string

	// Err is the underlying start error.
	Err error
}

// Error implements the error interface.
func (e *LaunchError) Error() string {
	return fmt.Sprintf("%s: slot %d: %s: %v", ErrLaunch, e.Slot, e.Path, e.Err)
}

// Unwrap returns ErrLaunch and the start error.
func (e *LaunchError) Unwrap() []error {
	return []error{ErrLaunch, e.Err}
}
