// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/AleutianAI/stealthboot/services/bootstrap/dataset"
	"github.com/AleutianAI/stealthboot/services/bootstrap/server"
	"github.com/AleutianAI/stealthboot/services/bootstrap/svmlight"
)

// Input formats accepted by the estimate commands.
const (
	formatAuto     = "auto"
	formatJSON     = "json"
	formatSVMLight = "svmlight"
)

// errInput marks errors in user-supplied input files.
var errInput = errors.New("invalid input")

// readInput returns the contents of path, or of stdin when path is "-".
func readInput(path string, stdin io.Reader) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(stdin)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errInput, err)
	}
	return data, nil
}

// detectFormat resolves formatAuto by looking at the first non-blank byte.
func detectFormat(format string, data []byte) (string, error) {
	switch format {
	case formatJSON, formatSVMLight:
		return format, nil
	case formatAuto, "":
	default:
		return "", fmt.Errorf("%w: unknown format %q (want auto, json or svmlight)", errInput, format)
	}
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && (trimmed[0] == '{' || trimmed[0] == '[') {
		return formatJSON, nil
	}
	return formatSVMLight, nil
}

// parseGroups decodes the groups of a weights estimate.
//
// JSON input has the shape of a weights request body. Labeled-vector input
// uses each row's label as its group index and reads the multipliers from
// the first all-integer comment line.
func parseGroups(data []byte, format string) ([]dataset.Group, error) {
	format, err := detectFormat(format, data)
	if err != nil {
		return nil, err
	}

	if format == formatJSON {
		var req server.WeightsRequest
		if err := json.Unmarshal(data, &req); err != nil {
			return nil, fmt.Errorf("%w: decode groups: %w", errInput, err)
		}
		groups := make([]dataset.Group, len(req.Groups))
		for j, g := range req.Groups {
			groups[j] = dataset.Group{Points: g.Points, Multiplier: g.Multiplier}
		}
		return groups, nil
	}

	l, err := svmlight.ReadLabeled(bytes.NewReader(data), 0)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errInput, err)
	}
	if len(l.Multipliers) == 0 {
		return nil, fmt.Errorf("%w: no multiplier comment line", errInput)
	}
	groups := make([]dataset.Group, len(l.Multipliers))
	for j, k := range l.Multipliers {
		groups[j].Multiplier = k
	}
	for i, label := range l.Labels {
		if label < 0 || label >= len(groups) {
			return nil, fmt.Errorf("%w: label %d on row %d outside %d groups",
				errInput, label, i+1, len(groups))
		}
		groups[label].Points = append(groups[label].Points, l.Points[i])
	}
	return groups, nil
}

// parsePoints decodes one point set of a Wasserstein estimate, either a
// JSON array of rows or a labeled-vector file whose labels are ignored.
func parsePoints(data []byte, format string) ([][]float64, error) {
	format, err := detectFormat(format, data)
	if err != nil {
		return nil, err
	}
	if format == formatJSON {
		var points [][]float64
		if err := json.Unmarshal(data, &points); err != nil {
			return nil, fmt.Errorf("%w: decode points: %w", errInput, err)
		}
		return points, nil
	}
	l, err := svmlight.ReadLabeled(bytes.NewReader(data), 0)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errInput, err)
	}
	return l.Points, nil
}

// padPoints widens every row of both sets to the larger dimension.
//
// Sparse files omit trailing zero features, so two sets written from the
// same space can infer different dimensions.
func padPoints(x1, x2 [][]float64) ([][]float64, [][]float64) {
	dim := 0
	for _, set := range [][][]float64{x1, x2} {
		for _, row := range set {
			dim = max(dim, len(row))
		}
	}
	pad := func(set [][]float64) [][]float64 {
		out := make([][]float64, len(set))
		for i, row := range set {
			if len(row) == dim {
				out[i] = row
				continue
			}
			p := make([]float64, dim)
			copy(p, row)
			out[i] = p
		}
		return out
	}
	return pad(x1), pad(x2)
}

// writeJSON writes v as indented JSON to path, or to w when path is empty.
func writeJSON(path string, w io.Writer, v any) (err error) {
	if path != "" {
		f, cerr := os.Create(path)
		if cerr != nil {
			return fmt.Errorf("create output: %w", cerr)
		}
		defer func() {
			if cerr := f.Close(); err == nil {
				err = cerr
			}
		}()
		bw := bufio.NewWriter(f)
		defer func() {
			if ferr := bw.Flush(); err == nil {
				err = ferr
			}
		}()
		w = bw
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
