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
	"bufio"
	"io"
	"os"
)

// WriteFile creates or truncates path and fills it with encode.
//
// The file is flushed and closed before returning. A partially written
// file is left in place for the caller's cleanup to remove.
func WriteFile(path string, encode func(io.Writer) error) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()

	bw := bufio.NewWriter(f)
	if err := encode(bw); err != nil {
		return err
	}
	return bw.Flush()
}

// ReadValuesFile decodes the flat value output stored at path.
func ReadValuesFile(path string) ([]float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return DecodeValues(f)
}

// ReadScalarFile decodes the single-value output stored at path.
func ReadScalarFile(path string) (float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	return DecodeScalar(f)
}
