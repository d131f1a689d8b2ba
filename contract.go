// Copyright ©2024 The GUDA Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package gudasum

// Ubersum contracts operands under eq, an einsum-like sum-product in which
// the labels in batch are plates: a plate label is multiplied out rather
// than summed, and every sum label is summed inside the plates shared by
// all operands that carry it. For
//
//	a,abi,bcij,adj,deij->   with plates "ij"
//
// the result is
//
//	sum_a A[a] * prod_i(sum_b B[a,b,i] * prod_j sum_c C[b,c,i,j])
//	           * prod_j(sum_d D[a,d,j] * prod_i sum_e E[d,e,i,j])
//
// A plate label that appears in an output is kept as a batch axis of that
// output. Ubersum returns one tensor per output of eq, owned by the caller.
//
// Ubersum traces and runs a fresh Plan on every call; use a TraceCache to
// reuse plans across calls.
func Ubersum(dev *Device, eq Equation, batch BatchDims, operands ...*Tensor) ([]*Tensor, error) {
	p, err := Trace(dev, eq, batch, operands...)
	if err != nil {
		return nil, err
	}
	return p.Run(operands...)
}
