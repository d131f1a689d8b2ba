// Copyright ©2024 The GUDA Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package gudasum profiles plated tensor contractions on a CUDA-style CPU
// runtime.
//
// The package provides three layers:
//   - A device runtime: a serial CPU device and an accelerated device that
//     launches kernels across goroutines through a stream, both backed by a
//     pooled float32 allocator.
//   - Ubersum, an einsum-like sum-product contraction in which plate (batch)
//     dimensions are multiplied out instead of summed, together with Trace,
//     which records a replayable Plan from one example call.
//   - A benchmark driver that sweeps plate sizes, times memoized traced
//     contractions and reports (plate size, seconds) records.
//
// Example usage:
//
//	dev, _ := gudasum.NewDevice(gudasum.DeviceCPU)
//	defer dev.Close()
//
//	eq, _ := gudasum.ParseEquation("ai,abi->")
//	batch, _ := gudasum.ParseBatchDims("i")
//	out, err := gudasum.Ubersum(dev, eq, batch, x, y)
package gudasum
