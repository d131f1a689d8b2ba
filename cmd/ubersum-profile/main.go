// Copyright ©2024 The GUDA Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command ubersum-profile times a plated tensor contraction across a
// descending sweep of plate sizes and prints "plate_size<TAB>seconds"
// lines in ascending plate size order.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"time"

	"github.com/LynnColeArt/gudasum"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// parseFlags binds every option under its short and long name.
func parseFlags(args []string, stderr io.Writer) (gudasum.Config, bool, error) {
	cfg := gudasum.DefaultConfig()
	var verbose bool

	fs := flag.NewFlagSet("ubersum-profile", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprintln(fs.Output(), "ubersum profiler\n\nUsage: ubersum-profile [flags]")
		fs.PrintDefaults()
	}

	for _, name := range []string{"e", "equation"} {
		fs.StringVar(&cfg.Equation, name, cfg.Equation, "contraction equation")
	}
	for _, name := range []string{"b", "batch-dims"} {
		fs.StringVar(&cfg.BatchDims, name, cfg.BatchDims, "labels treated as plates")
	}
	for _, name := range []string{"d", "dim-size"} {
		fs.IntVar(&cfg.DimSize, name, cfg.DimSize, "extent of non-plate dimensions")
	}
	for _, name := range []string{"p", "max-plate-size"} {
		fs.IntVar(&cfg.MaxPlateSize, name, cfg.MaxPlateSize, "largest plate size; the sweep runs down to 1")
	}
	for _, name := range []string{"n", "iters"} {
		fs.IntVar(&cfg.Iters, name, cfg.Iters, "timed repetitions per plate size")
	}
	fs.BoolVar(&cfg.CUDA, "cuda", false, "run on the accelerated device")
	fs.BoolVar(&cfg.JIT, "jit", false, "accepted for compatibility; contractions are always traced")
	fs.Int64Var(&cfg.Seed, "seed", 0, "random seed for operands (0 seeds from the clock)")
	fs.StringVar(&cfg.LogDir, "log-dir", "", "write a JSON session log to this directory")
	fs.BoolVar(&verbose, "v", false, "verbose logging")

	if err := fs.Parse(args); err != nil {
		return cfg, false, err
	}
	if fs.NArg() > 0 {
		return cfg, false, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}
	return cfg, verbose, cfg.Validate()
}

func newLogger(w io.Writer, verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	cfg, verbose, err := parseFlags(args, stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		fmt.Fprintln(stderr, "ubersum-profile:", err)
		return 2
	}
	logger := newLogger(stderr, verbose)

	if err := profile(ctx, cfg, stdout, logger); err != nil {
		logger.Error("profile failed", "error", err)
		return 1
	}
	return 0
}

func profile(ctx context.Context, cfg gudasum.Config, stdout io.Writer, logger *slog.Logger) error {
	dev, err := gudasum.NewDevice(cfg.DeviceKind())
	if err != nil {
		return err
	}
	defer dev.Close()

	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	version := gudasum.Version()
	logger.Info("starting sweep",
		"equation", cfg.Equation,
		"batch_dims", cfg.BatchDims,
		"dim_size", cfg.DimSize,
		"max_plate_size", cfg.MaxPlateSize,
		"iters", cfg.Iters,
		"device", dev.String(),
		"cpu", gudasum.GetCPUInfo(),
		"go", runtime.Version(),
		"seed", seed)
	if cfg.JIT {
		logger.Debug("-jit has no effect; contractions are always traced")
	}

	driver := gudasum.NewDriver(dev, seed)
	driver.OnRecord = func(r gudasum.Record) error {
		logger.Debug("measured", "plate_size", r.PlateSize, "seconds", r.Seconds())
		return nil
	}

	var session *gudasum.BenchmarkLogger
	if cfg.LogDir != "" {
		session, err = gudasum.NewBenchmarkLogger(cfg.LogDir, "ubersum", gudasum.Session{
			Equation:     cfg.Equation,
			BatchDims:    cfg.BatchDims,
			DimSize:      cfg.DimSize,
			MaxPlateSize: cfg.MaxPlateSize,
			Iters:        cfg.Iters,
			Device:       dev.String(),
			CPU:          gudasum.GetCPUInfo(),
			Version:      version,
		})
		if err != nil {
			return err
		}
		logger.Info("logging session", "id", session.ID(), "path", session.Path())
		debugRecord := driver.OnRecord
		driver.OnRecord = func(r gudasum.Record) error {
			if err := debugRecord(r); err != nil {
				return err
			}
			return session.Log(r)
		}
	}

	records, err := driver.Sweep(ctx, cfg)
	if err != nil {
		return err
	}
	if err := gudasum.WriteTable(stdout, records); err != nil {
		return err
	}

	summary := gudasum.Summarize(records)
	stats := dev.Pool().GetStats()
	logger.Info("sweep complete",
		"points", summary.Points,
		"slope_seconds_per_plate", summary.Slope,
		"r_squared", summary.RSquared,
		"mean_seconds_per_iter", summary.MeanSecondsPerIter,
		"traces", driver.Cache.Builds(),
		"peak_bytes", stats.Peak,
		"pool_reuse", stats.Reused)
	if session != nil {
		return session.Finish(summary)
	}
	return nil
}
