// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package sampler derives reproducible bootstrap subsamples.
//
// # Overview
//
// A replicate keeps round(ratio * n_j) points of every group j, chosen by
// a permutation seeded from the replicate counter, and scales every group
// multiplier to round(ratio * K_j). Selected rows receive a tiny Gaussian
// jitter drawn from a second, independent seed.
//
// # Seeds
//
// Two counters drive the seeds:
//
//   - index seed = base + c, where c counts accepted batches
//   - noise seed = base + c2, where c2 counts every batch attempt
//
// A retried batch keeps its rows (same c) but gets new noise (new c2).
// Within a batch, every worker slot mixes its slot number into both seeds
// with SlotSeed, giving each slot its own reproducible stream.
//
// # Example Usage
//
//	s, err := sampler.New(0.3, sampler.DefaultJitterScale)
//	if err != nil {
//	    return err
//	}
//	draw := s.DrawGroups(groups,
//	    sampler.SlotSeed(base+c, slot),
//	    sampler.SlotSeed(base+c2, slot),
//	)
//
// # Thread Safety
//
// Sampler is immutable and safe for concurrent use.
package sampler
