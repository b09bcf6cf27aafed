// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package svmlight

import (
	"errors"
	"fmt"
)

var (
	// ErrOutputMismatch indicates a solver output whose value count does not
	// match the job that produced it.
	ErrOutputMismatch = errors.New("solver output length mismatch")

	// ErrMalformed indicates text that is not valid labeled-vector or value
	// output.
	ErrMalformed = errors.New("malformed solver file")
)

// MismatchError reports an output file with the wrong number of values.
type MismatchError struct {
	// Want is the number of values the job requires.
	Want int

	// Got is the number of values that were read.
	Got int
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("%s: want %d values, got %d", ErrOutputMismatch, e.Want, e.Got)
}

func (e *MismatchError) Unwrap() error {
	return ErrOutputMismatch
}
