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
	"errors"
	"strconv"
)

// =============================================================================
// SENTINEL ERRORS
// =============================================================================

var (
	// ErrInvalidConfig indicates a configuration that failed validation.
	ErrInvalidConfig = errors.New("invalid engine configuration")

	// ErrDegenerateReplicate indicates a replicate that would select no
	// points, or whose scaled multipliers are all zero.
	ErrDegenerateReplicate = errors.New("replicate is degenerate")

	// ErrInvalidSampleSize indicates a non-positive Wasserstein sample size.
	ErrInvalidSampleSize = errors.New("sample size must be positive")
)

// =============================================================================
// ERROR TYPES
// =============================================================================

// RetryExhaustedError reports a replicate that hit MaxAttempts.
type RetryExhaustedError struct {
	// Replicate is the replicate counter when retries ran out.
	Replicate int

	// Attempts is the number of batches dispatched for the replicate.
	Attempts int

	// MaxAttempts is the configured cap.
	MaxAttempts int

	// LastError is the error of the last attempt.
	LastError error
}

// Error implements the error interface.
func (e *RetryExhaustedError) Error() string {
	msg := "replicate " + strconv.Itoa(e.Replicate) + ": max retries exhausted after " +
		strconv.Itoa(e.Attempts) + " attempts"
	if e.LastError != nil {
		msg += ": " + e.LastError.Error()
	}
	return msg
}

// Unwrap returns the last error.
func (e *RetryExhaustedError) Unwrap() error {
	return e.LastError
}
