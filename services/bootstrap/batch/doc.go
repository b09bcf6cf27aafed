// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package batch runs groups of solver processes under a joint deadline.
//
// # Overview
//
// A Runner starts every Command of a batch through a Launcher, then waits
// for all of them. When the batch deadline passes, or the context is
// canceled, every process still running is killed and every process is
// reaped before Run returns. Output files of a failed batch must be
// discarded by the caller.
//
// Launch failures are reported as *LaunchError and timeouts as
// *TimeoutError. Exit statuses are recorded in Result but never judged;
// the caller decides from the output files whether a batch succeeded.
//
// # Example Usage
//
//	runner, err := batch.NewRunner(batch.NewExecLauncher(logger), 30*time.Second, logger)
//	if err != nil {
//	    return err
//	}
//	res, err := runner.Run(ctx, []batch.Command{
//	    {Path: "/opt/solvers/wasserstein/main", Args: []string{in1, in2}, Stdout: out},
//	})
//
// # Testing
//
// MockLauncher and MockProcess stand in for real processes.
package batch
