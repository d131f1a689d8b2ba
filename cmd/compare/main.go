// Copyright ©2024 The GUDA Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command compare compares a sweep session against a baseline session,
// plate size by plate size.
package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"time"

	"github.com/LynnColeArt/gudasum"
)

type ComparisonResult struct {
	PlateSize int
	Status    string // "PASS", "FAIL", "SLOWER", "FASTER"

	BaselineDuration time.Duration
	CurrentDuration  time.Duration
	SpeedupFactor    float64

	Message string
}

func main() {
	var (
		baselineFile = flag.String("baseline", "", "Baseline session file")
		currentFile  = flag.String("current", "", "Current session file (default: latest in -log-dir)")
		logDir       = flag.String("log-dir", "benchmark_logs", "Directory searched when -current is empty")
		perfRegress  = flag.Float64("perf-regress", 1.1, "Performance regression threshold (1.1 = 10% slower)")
	)
	flag.Parse()

	if *baselineFile == "" {
		fmt.Fprintln(os.Stderr, "Usage: compare -baseline <session.json> [-current <session.json>]")
		os.Exit(2)
	}

	baseline, err := gudasum.LoadSession(*baselineFile)
	if err != nil {
		log.Fatalf("Failed to load baseline: %v", err)
	}

	path := *currentFile
	if path == "" {
		path, err = gudasum.LatestSession(*logDir)
		if err != nil {
			log.Fatalf("Failed to find current session: %v", err)
		}
	}
	current, err := gudasum.LoadSession(path)
	if err != nil {
		log.Fatalf("Failed to load current results: %v", err)
	}

	if baseline.Equation != current.Equation || baseline.BatchDims != current.BatchDims {
		log.Printf("warning: comparing %q [%s] against %q [%s]",
			current.Equation, current.BatchDims, baseline.Equation, baseline.BatchDims)
	}

	comparisons := compareSessions(baseline, current, *perfRegress)
	printSummary(os.Stdout, comparisons)

	for _, comp := range comparisons {
		if comp.Status == "FAIL" || comp.Status == "SLOWER" {
			os.Exit(1)
		}
	}
}

// perIter normalizes a record to one call so sessions with different
// iteration counts compare.
func perIter(r gudasum.Record) time.Duration {
	if r.Iters <= 0 {
		return r.Elapsed
	}
	return r.Elapsed / time.Duration(r.Iters)
}

func compareSessions(baseline, current *gudasum.Session, perfRegress float64) []ComparisonResult {
	currentMap := make(map[int]gudasum.Record)
	for _, r := range current.Records {
		currentMap[r.PlateSize] = r
	}

	comparisons := make([]ComparisonResult, 0, len(baseline.Records))
	for _, base := range baseline.Records {
		comp := ComparisonResult{
			PlateSize:        base.PlateSize,
			BaselineDuration: perIter(base),
		}

		curr, exists := currentMap[base.PlateSize]
		if !exists {
			comp.Status = "FAIL"
			comp.Message = "Plate size missing in current session"
			comparisons = append(comparisons, comp)
			continue
		}

		comp.CurrentDuration = perIter(curr)
		if comp.CurrentDuration > 0 {
			comp.SpeedupFactor = float64(comp.BaselineDuration) / float64(comp.CurrentDuration)
		}

		switch {
		case comp.CurrentDuration == 0 || comp.BaselineDuration == 0:
			comp.Status = "PASS"
			comp.Message = "Too fast to compare"
		case comp.SpeedupFactor < 1.0/perfRegress:
			comp.Status = "SLOWER"
			comp.Message = fmt.Sprintf("Performance regression: %.2fx slower", 1.0/comp.SpeedupFactor)
		case comp.SpeedupFactor > perfRegress:
			comp.Status = "FASTER"
			comp.Message = fmt.Sprintf("Performance improvement: %.2fx faster", comp.SpeedupFactor)
		default:
			comp.Status = "PASS"
		}
		comparisons = append(comparisons, comp)
	}
	return comparisons
}

func printSummary(w io.Writer, comparisons []ComparisonResult) {
	fmt.Fprintln(w, "=== ubersum Session Comparison ===")
	fmt.Fprintln(w)

	statusCount := make(map[string]int)
	for _, comp := range comparisons {
		statusCount[comp.Status]++
	}

	fmt.Fprintf(w, "Total plate sizes: %d\n", len(comparisons))
	fmt.Fprintf(w, "  PASS:   %d\n", statusCount["PASS"])
	fmt.Fprintf(w, "  FAIL:   %d\n", statusCount["FAIL"])
	fmt.Fprintf(w, "  SLOWER: %d\n", statusCount["SLOWER"])
	fmt.Fprintf(w, "  FASTER: %d\n", statusCount["FASTER"])
	fmt.Fprintln(w)

	if statusCount["FAIL"] > 0 {
		fmt.Fprintln(w, "FAILURES:")
		for _, comp := range comparisons {
			if comp.Status == "FAIL" {
				fmt.Fprintf(w, "  plate %d: %s\n", comp.PlateSize, comp.Message)
			}
		}
		fmt.Fprintln(w)
	}

	fmt.Fprintln(w, "DETAILED RESULTS (per call):")
	fmt.Fprintf(w, "%-6s %-6s %12s %12s %8s\n", "Plate", "Status", "Baseline", "Current", "Speedup")
	fmt.Fprintln(w, strings.Repeat("-", 50))
	for _, comp := range comparisons {
		fmt.Fprintf(w, "%-6d %-6s %12s %12s %8.2f\n",
			comp.PlateSize,
			comp.Status,
			comp.BaselineDuration,
			comp.CurrentDuration,
			comp.SpeedupFactor)
	}
}
