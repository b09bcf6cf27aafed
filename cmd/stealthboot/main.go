// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command stealthboot runs bootstrap stealth sampling and Wasserstein
// distance estimates through external solver binaries.
//
// Usage:
//
//	stealthboot weights --input groups.json
//	stealthboot wasserstein --x1 a.txt --x2 b.txt --n 500
//	stealthboot serve --addr :8080
//	stealthboot config show
package main

import (
	"context"
	"fmt"
	"os"
)

func main() {
	a := newApp(os.Stdout, os.Stderr)
	if err := a.execute(context.Background(), os.Args[1:], os.Stdin); err != nil {
		fmt.Fprintln(os.Stderr, errorLine(err))
		os.Exit(exitCode(err))
	}
}
