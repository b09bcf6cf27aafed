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
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"

	"github.com/AleutianAI/stealthboot/services/bootstrap"
	"github.com/AleutianAI/stealthboot/services/bootstrap/batch"
	"github.com/AleutianAI/stealthboot/services/bootstrap/dataset"
	"github.com/AleutianAI/stealthboot/services/bootstrap/svmlight"
)

// ===== STYLES =====

var (
	colorTealBright  = lipgloss.Color("#2CD7C7")
	colorTealPrimary = lipgloss.Color("#20B9B4")
	colorTealDeep    = lipgloss.Color("#16858E")
	colorSlate       = lipgloss.Color("#2C4A54")
	colorError       = lipgloss.Color("#E74C3C")
)

var styles = struct {
	Title lipgloss.Style
	Label lipgloss.Style
	Value lipgloss.Style
	Muted lipgloss.Style
	Error lipgloss.Style
	Box   lipgloss.Style
}{
	Title: lipgloss.NewStyle().Bold(true).Foreground(colorTealBright),
	Label: lipgloss.NewStyle().Foreground(colorTealPrimary),
	Value: lipgloss.NewStyle().Bold(true),
	Muted: lipgloss.NewStyle().Foreground(colorSlate),
	Error: lipgloss.NewStyle().Foreground(colorError),
	Box: lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(colorTealDeep).
		Padding(0, 1),
}

// ===== EXIT CODES =====

const (
	exitFailure      = 1
	exitInvalidInput = 2
	exitSolver       = 3
	exitTimeout      = 4
)

// exitCode maps a command error to the process exit status.
func exitCode(err error) int {
	var exhausted *bootstrap.RetryExhaustedError
	switch {
	case errors.Is(err, dataset.ErrEmptyData),
		errors.Is(err, dataset.ErrDimensionMismatch),
		errors.Is(err, dataset.ErrNegativeMultiplier),
		errors.Is(err, bootstrap.ErrDegenerateReplicate),
		errors.Is(err, bootstrap.ErrInvalidSampleSize),
		errors.Is(err, errInput):
		return exitInvalidInput
	case errors.Is(err, batch.ErrLaunch),
		errors.Is(err, svmlight.ErrOutputMismatch),
		errors.Is(err, svmlight.ErrMalformed):
		return exitSolver
	case errors.As(err, &exhausted),
		errors.Is(err, batch.ErrTimeout),
		errors.Is(err, context.DeadlineExceeded):
		return exitTimeout
	default:
		return exitFailure
	}
}

func errorLine(err error) string {
	return styles.Error.Render("✗ " + err.Error())
}

// ===== SUMMARIES =====

// isTerminal reports whether w is an interactive terminal.
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

type summaryRow struct {
	label string
	value string
}

func renderSummary(title string, rows []summaryRow) string {
	width := 0
	for _, r := range rows {
		width = max(width, len(r.label))
	}
	var b strings.Builder
	b.WriteString(styles.Title.Render(title))
	for _, r := range rows {
		b.WriteString("\n")
		b.WriteString(styles.Label.Render(fmt.Sprintf("%-*s", width, r.label)))
		b.WriteString("  ")
		b.WriteString(styles.Value.Render(r.value))
	}
	return styles.Box.Render(b.String())
}

func weightsSummary(res *bootstrap.WeightsResult) string {
	points := 0
	for _, g := range res.Weights {
		points += len(g)
	}
	return renderSummary("Stealth weights", []summaryRow{
		{"run", res.RunID},
		{"groups", fmt.Sprint(len(res.Weights))},
		{"points", fmt.Sprint(points)},
		{"replicates", fmt.Sprint(res.Replicates)},
		{"attempts", fmt.Sprint(res.Attempts)},
		{"resumed", fmt.Sprint(res.Resumed)},
		{"duration", res.Duration.Round(time.Millisecond).String()},
	})
}

func distanceSummary(res *bootstrap.DistanceResult) string {
	return renderSummary("Wasserstein distance", []summaryRow{
		{"run", res.RunID},
		{"distance", fmt.Sprintf("%.6g", res.Distance)},
		{"std dev", fmt.Sprintf("%.3g", res.StdDev)},
		{"sample size", fmt.Sprint(res.SampleSize)},
		{"jobs", fmt.Sprint(res.Jobs)},
		{"attempts", fmt.Sprint(res.Attempts)},
		{"duration", res.Duration.Round(time.Millisecond).String()},
	})
}

// printSummary writes a styled summary to w when it is a terminal.
func printSummary(w io.Writer, summary string) {
	if !isTerminal(w) {
		return
	}
	fmt.Fprintln(w, summary)
	fmt.Fprintln(w, styles.Muted.Render("full result written as JSON"))
}
