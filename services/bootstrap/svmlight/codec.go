// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package svmlight reads and writes the text files exchanged with solver
// processes.
//
// Inputs use the sparse labeled-vector format, one point per line:
//
//	<label> <index>:<value> <index>:<value> ...
//
// Indices are zero-based and zero coordinates are omitted. A stealth
// sampling input carries the group multipliers in a comment line. The
// solver reads that line as the fourth '#' line of the file, so the
// writer always emits three generator comment lines before it.
//
// Outputs are flat whitespace-separated decimal values.
package svmlight

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
)

const (
	// MaxDimension bounds the feature indices ReadLabeled accepts.
	MaxDimension = 1 << 16

	// MaxCells bounds the number of dense coordinates ReadLabeled allocates.
	MaxCells = 1 << 26
)

// headerLines precede a comment so that it lands on the fourth '#' line.
var headerLines = []string{
	"# Generated by stealthboot",
	"# Column indices are zero-based",
	"#",
}

// =============================================================================
// ENCODING
// =============================================================================

// WriteLabeled writes labeled points in sparse text form.
//
// Description:
//
//	Writes one line per point. When comment is non-empty the generator
//	header is written first, followed by "# <comment>". Values use the
//	shortest representation that parses back to the same float64.
//
// Inputs:
//
//	w - Destination writer.
//	labels - One label per point.
//	points - Dense feature vectors.
//	comment - Optional comment line, without the leading '#'.
//
// Outputs:
//
//	error - Non-nil on a length mismatch or write failure.
func WriteLabeled(w io.Writer, labels []int, points [][]float64, comment string) error {
	if len(labels) != len(points) {
		return fmt.Errorf("%d labels for %d points", len(labels), len(points))
	}

	bw := bufio.NewWriter(w)
	if comment != "" {
		for _, h := range headerLines {
			bw.WriteString(h)
			bw.WriteByte('\n')
		}
		bw.WriteString("# ")
		bw.WriteString(comment)
		bw.WriteByte('\n')
	}

	buf := make([]byte, 0, 64)
	for i, p := range points {
		buf = strconv.AppendInt(buf[:0], int64(labels[i]), 10)
		for k, v := range p {
			if v == 0 {
				continue
			}
			buf = append(buf, ' ')
			buf = strconv.AppendInt(buf, int64(k), 10)
			buf = append(buf, ':')
			buf = strconv.AppendFloat(buf, v, 'g', -1, 64)
		}
		buf = append(buf, '\n')
		if _, err := bw.Write(buf); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// EncodeStealth writes the input of one stealth sampling job.
//
// Points of group j are labeled j, groups in order. The comment line holds
// the space-separated multipliers.
func EncodeStealth(w io.Writer, groups [][][]float64, multipliers []int) error {
	if len(groups) != len(multipliers) {
		return fmt.Errorf("%d groups for %d multipliers", len(groups), len(multipliers))
	}

	var labels []int
	var points [][]float64
	for j, rows := range groups {
		for _, row := range rows {
			labels = append(labels, j)
			points = append(points, row)
		}
	}
	return WriteLabeled(w, labels, points, FormatMultipliers(multipliers))
}

// EncodeDistribution writes one point set of a Wasserstein job.
func EncodeDistribution(w io.Writer, points [][]float64) error {
	return WriteLabeled(w, make([]int, len(points)), points, "")
}

// FormatMultipliers renders multipliers as a space-separated list.
func FormatMultipliers(ks []int) string {
	parts := make([]string, len(ks))
	for i, k := range ks {
		parts[i] = strconv.Itoa(k)
	}
	return strings.Join(parts, " ")
}

// =============================================================================
// DECODING
// =============================================================================

// Labeled is a parsed labeled-vector file.
type Labeled struct {
	Labels []int
	Points [][]float64

	// Comments are the comment lines without their leading '#'.
	Comments []string

	// Multipliers come from the first comment made only of integers.
	Multipliers []int
}

// ReadLabeled parses a labeled-vector file.
//
// Description:
//
//	Points are densified to dim coordinates. With dim <= 0 the dimension is
//	one past the largest index seen. Blank lines are skipped. Indices of
//	MaxDimension or more, and files that would densify to more than
//	MaxCells coordinates, are rejected before any dense row is allocated.
//
// Inputs:
//
//	r - Source reader.
//	dim - Feature dimension, or <= 0 to infer it.
//
// Outputs:
//
//	*Labeled - Parsed labels, points and comments.
//	error - Wraps ErrMalformed on a syntax error.
func ReadLabeled(r io.Reader, dim int) (*Labeled, error) {
	type sparse struct {
		idx []int
		val []float64
	}

	out := &Labeled{}
	var rows []sparse
	maxIdx := -1

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" {
			continue
		}
		if strings.HasPrefix(text, "#") {
			c := strings.TrimSpace(strings.TrimPrefix(text, "#"))
			out.Comments = append(out.Comments, c)
			if out.Multipliers == nil {
				if ks, ok := parseInts(c); ok {
					out.Multipliers = ks
				}
			}
			continue
		}

		fields := strings.Fields(text)
		label, err := strconv.Atoi(fields[0])
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: bad label %q", ErrMalformed, line, fields[0])
		}
		var row sparse
		for _, f := range fields[1:] {
			i, v, ok := strings.Cut(f, ":")
			if !ok {
				return nil, fmt.Errorf("%w: line %d: bad feature %q", ErrMalformed, line, f)
			}
			idx, err := strconv.Atoi(i)
			if err != nil || idx < 0 {
				return nil, fmt.Errorf("%w: line %d: bad index %q", ErrMalformed, line, i)
			}
			if idx >= MaxDimension {
				return nil, fmt.Errorf("%w: line %d: index %d exceeds limit %d",
					ErrMalformed, line, idx, MaxDimension-1)
			}
			val, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return nil, fmt.Errorf("%w: line %d: bad value %q", ErrMalformed, line, v)
			}
			row.idx = append(row.idx, idx)
			row.val = append(row.val, val)
			if idx > maxIdx {
				maxIdx = idx
			}
		}
		out.Labels = append(out.Labels, label)
		rows = append(rows, row)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}

	if dim <= 0 {
		dim = maxIdx + 1
	} else if maxIdx >= dim {
		return nil, fmt.Errorf("%w: index %d exceeds dimension %d", ErrMalformed, maxIdx, dim)
	}
	if dim > 0 && len(rows) > MaxCells/dim {
		return nil, fmt.Errorf("%w: %d rows of dimension %d exceed %d coordinates",
			ErrMalformed, len(rows), dim, MaxCells)
	}
	out.Points = make([][]float64, len(rows))
	for i, row := range rows {
		p := make([]float64, dim)
		for k, idx := range row.idx {
			p[idx] = row.val[k]
		}
		out.Points[i] = p
	}
	return out, nil
}

func parseInts(s string) ([]int, bool) {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return nil, false
	}
	ks := make([]int, len(fields))
	for i, f := range fields {
		k, err := strconv.Atoi(f)
		if err != nil {
			return nil, false
		}
		ks[i] = k
	}
	return ks, true
}

// DecodeValues reads every whitespace-separated value from r.
func DecodeValues(r io.Reader) ([]float64, error) {
	sc := bufio.NewScanner(r)
	sc.Split(bufio.ScanWords)
	var values []float64
	for sc.Scan() {
		v, err := strconv.ParseFloat(sc.Text(), 64)
		if err != nil {
			return nil, fmt.Errorf("%w: value %d: %q", ErrMalformed, len(values), sc.Text())
		}
		values = append(values, v)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return values, nil
}

// SplitGroups cuts a flat value list into consecutive runs of sizes[j].
//
// The returned slices share the backing array of values. A total length
// other than sum(sizes) returns a *MismatchError.
func SplitGroups(values []float64, sizes []int) ([][]float64, error) {
	total := 0
	for _, n := range sizes {
		total += n
	}
	if len(values) != total {
		return nil, &MismatchError{Want: total, Got: len(values)}
	}

	out := make([][]float64, len(sizes))
	off := 0
	for j, n := range sizes {
		out[j] = values[off : off+n : off+n]
		off += n
	}
	return out, nil
}

// DecodeScalar reads an output that must hold exactly one value.
func DecodeScalar(r io.Reader) (float64, error) {
	values, err := DecodeValues(r)
	if err != nil {
		return 0, err
	}
	if len(values) != 1 {
		return 0, &MismatchError{Want: 1, Got: len(values)}
	}
	return values[0], nil
}
