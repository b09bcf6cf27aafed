// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package bootstrap estimates stealth sampling weights and Wasserstein
// distances by running external solvers over bootstrap subsamples.
//
// An Engine draws the subsamples of each replicate, writes one input file
// set per worker slot, runs the solvers as one batch and folds the
// decoded outputs into a running average. A batch that times out or
// writes unusable output is retried with the same rows and fresh jitter.
// With a CheckpointStore attached, accepted replicates are persisted and
// an identical run resumes where the previous one stopped.
package bootstrap
