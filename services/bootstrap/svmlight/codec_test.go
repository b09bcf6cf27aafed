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
	"bytes"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeStealth_Format(t *testing.T) {
	var buf bytes.Buffer
	groups := [][][]float64{
		{{1.5, 0, -2}, {0, 0, 0}},
		{{0.1, 1e-10, 3}},
	}

	require.NoError(t, EncodeStealth(&buf, groups, []int{1, 2}))

	want := strings.Join([]string{
		"# Generated by stealthboot",
		"# Column indices are zero-based",
		"#",
		"# 1 2",
		"0 0:1.5 2:-2",
		"0",
		"1 0:0.1 1:1e-10 2:3",
		"",
	}, "\n")
	assert.Equal(t, want, buf.String())
}

func TestEncodeStealth_MultiplierLineIsFourthComment(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, EncodeStealth(&buf, [][][]float64{{{1}}, {{2}}, {{3}}}, []int{4, 0, 7}))

	n := 0
	for _, line := range strings.Split(buf.String(), "\n") {
		if strings.HasPrefix(line, "#") {
			n++
			if n == 4 {
				assert.Equal(t, "4 0 7", line[2:])
			}
		}
	}
	assert.Equal(t, 4, n)
}

func TestEncodeDistribution_NoComment(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, EncodeDistribution(&buf, [][]float64{{1, 2}, {0, 3}}))
	assert.Equal(t, "0 0:1 1:2\n0 1:3\n", buf.String())
}

func TestWriteLabeled_LengthMismatch(t *testing.T) {
	err := WriteLabeled(&bytes.Buffer{}, []int{0}, [][]float64{{1}, {2}}, "")
	assert.Error(t, err)
}

func TestReadLabeled_RoundTrip(t *testing.T) {
	groups := [][][]float64{
		{{0.1 + 0.2, 0, 1.0 / 3}, {-7.25, 1e-300, 0}},
		{{2, 2, 2}},
	}
	var buf bytes.Buffer
	require.NoError(t, EncodeStealth(&buf, groups, []int{3, 5}))

	got, err := ReadLabeled(&buf, 3)
	require.NoError(t, err)

	assert.Equal(t, []int{0, 0, 1}, got.Labels)
	assert.Equal(t, [][]float64{groups[0][0], groups[0][1], groups[1][0]}, got.Points)
	assert.Equal(t, []int{3, 5}, got.Multipliers)
	assert.Len(t, got.Comments, 4)
}

func TestReadLabeled_InfersDimension(t *testing.T) {
	got, err := ReadLabeled(strings.NewReader("0 4:1\n1 0:2\n"), 0)
	require.NoError(t, err)
	assert.Equal(t, [][]float64{{0, 0, 0, 0, 1}, {2, 0, 0, 0, 0}}, got.Points)
	assert.Nil(t, got.Multipliers)
}

func TestReadLabeled_Malformed(t *testing.T) {
	cases := map[string]string{
		"bad label":    "x 0:1\n",
		"bad feature":  "0 0=1\n",
		"bad index":    "0 -1:1\n",
		"bad value":    "0 0:abc\n",
		"out of range": "0 5:1\n",
	}
	for name, input := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ReadLabeled(strings.NewReader(input), 3)
			assert.ErrorIs(t, err, ErrMalformed)
		})
	}
}

func TestReadLabeled_RejectsHugeDimension(t *testing.T) {
	_, err := ReadLabeled(strings.NewReader("0 2000000000:1\n"), 0)
	assert.ErrorIs(t, err, ErrMalformed)

	_, err = ReadLabeled(strings.NewReader(fmt.Sprintf("0 %d:1\n", MaxDimension)), 0)
	assert.ErrorIs(t, err, ErrMalformed)

	got, err := ReadLabeled(strings.NewReader(fmt.Sprintf("0 %d:1\n", MaxDimension-1)), 0)
	require.NoError(t, err)
	assert.Len(t, got.Points[0], MaxDimension)
}

func TestReadLabeled_RejectsTooManyCells(t *testing.T) {
	rows := MaxCells/MaxDimension + 1
	input := strings.Repeat(fmt.Sprintf("0 %d:1\n", MaxDimension-1), rows)

	_, err := ReadLabeled(strings.NewReader(input), 0)
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestDecodeValues(t *testing.T) {
	values, err := DecodeValues(strings.NewReader("0.5\n1e-3  2\n\n-4\n"))
	require.NoError(t, err)
	assert.Equal(t, []float64{0.5, 1e-3, 2, -4}, values)

	_, err = DecodeValues(strings.NewReader("1\nnope\n"))
	assert.ErrorIs(t, err, ErrMalformed)

	values, err = DecodeValues(strings.NewReader(""))
	require.NoError(t, err)
	assert.Empty(t, values)
}

func TestSplitGroups(t *testing.T) {
	parts, err := SplitGroups([]float64{1, 2, 3, 4, 5}, []int{2, 0, 3})
	require.NoError(t, err)
	assert.Equal(t, [][]float64{{1, 2}, {}, {3, 4, 5}}, parts)

	_, err = SplitGroups([]float64{1, 2, 3}, []int{2, 2})
	var mismatch *MismatchError
	require.True(t, errors.As(err, &mismatch))
	assert.Equal(t, 4, mismatch.Want)
	assert.Equal(t, 3, mismatch.Got)
	assert.ErrorIs(t, err, ErrOutputMismatch)

	_, err = SplitGroups([]float64{1, 2, 3, 4, 5}, []int{2, 2})
	assert.ErrorIs(t, err, ErrOutputMismatch)
}

func TestDecodeScalar(t *testing.T) {
	v, err := DecodeScalar(strings.NewReader("  0.125\n"))
	require.NoError(t, err)
	assert.Equal(t, 0.125, v)

	_, err = DecodeScalar(strings.NewReader(""))
	assert.ErrorIs(t, err, ErrOutputMismatch)

	_, err = DecodeScalar(strings.NewReader("1 2"))
	assert.ErrorIs(t, err, ErrOutputMismatch)
}

func TestFiles(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "in.txt")

	require.NoError(t, WriteFile(in, func(w io.Writer) error {
		return EncodeDistribution(w, [][]float64{{1}, {2}})
	}))
	values, err := ReadValuesFile(in)
	require.Error(t, err, "labeled file is not a plain value list")
	assert.Nil(t, values)

	out := filepath.Join(dir, "out.txt")
	require.NoError(t, WriteFile(out, func(w io.Writer) error {
		_, err := io.WriteString(w, "0.25\n0.75\n")
		return err
	}))
	values, err = ReadValuesFile(out)
	require.NoError(t, err)
	assert.Equal(t, []float64{0.25, 0.75}, values)

	_, err = ReadScalarFile(out)
	assert.ErrorIs(t, err, ErrOutputMismatch)

	_, err = ReadValuesFile(filepath.Join(dir, "missing"))
	assert.Error(t, err)
}
