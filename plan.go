// Copyright ©2024 The GUDA Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package gudasum

import (
	"fmt"
	"sort"
	"strings"
)

type opKind int

const (
	// opSumProduct multiplies one or two factors, broadcasting over the
	// union of their labels, and sums out every label not in the result.
	opSumProduct opKind = iota
	// opPlateProduct multiplies out the plate labels missing from the
	// result.
	opPlateProduct
)

// op is one recorded step of a Plan. Operands and results live in slots;
// the first slots hold the plan inputs.
type op struct {
	kind   opKind
	a, b   int // b < 0 for unary steps
	out    int
	labels string
}

// Plan is a traced contraction: the elimination order of an Ubersum call,
// recorded in label space from one example call. Replaying a plan skips
// the elimination analysis; only operand count, ranks and label extents
// are checked, so a plan is reusable whenever operands keep their ranks
// and only extents change.
type Plan struct {
	dev      *Device
	equation Equation
	batch    BatchDims
	slots    []string // labels of each slot
	ops      []op
	outputs  []int
	release  [][]int // slots freed after each op
	nInputs  int
}

// factor is a slot together with its labels and plate set during tracing.
type factor struct {
	slot   int
	labels string
	plates string
}

type tracer struct {
	eq       Equation
	batch    BatchDims
	slots    []string
	ops      []op
	ordinals map[byte]string
}

// Trace builds a Plan for contracting operands under eq, treating batch
// labels as plates. The operands are only used to check ranks; no
// arithmetic is performed.
func Trace(dev *Device, eq Equation, batch BatchDims, operands ...*Tensor) (*Plan, error) {
	const opName = "Trace"
	if dev == nil {
		return nil, NewInvalidArgError(opName, "nil device")
	}
	if _, err := labelExtents(opName, eq, operands); err != nil {
		return nil, err
	}

	tr := &tracer{
		eq:       eq,
		batch:    batch,
		ordinals: make(map[byte]string),
	}
	inputs := make([]factor, len(eq.Inputs))
	for i, labels := range eq.Inputs {
		inputs[i] = factor{slot: tr.newSlot(labels), labels: labels, plates: batch.Plates(labels)}
	}

	// The ordinal of a sum label is the set of plates shared by every
	// factor that mentions it; it is summed out at that plate level.
	for _, f := range inputs {
		for i := 0; i < len(f.labels); i++ {
			v := f.labels[i]
			if batch.Contains(v) {
				continue
			}
			if ord, ok := tr.ordinals[v]; ok {
				tr.ordinals[v] = intersect(ord, f.plates)
			} else {
				tr.ordinals[v] = f.plates
			}
		}
	}

	p := &Plan{
		dev:      dev,
		equation: eq,
		batch:    batch,
		nInputs:  len(inputs),
	}
	for _, output := range eq.Outputs {
		slot, err := tr.contractOutput(inputs, output)
		if err != nil {
			return nil, err
		}
		p.outputs = append(p.outputs, slot)
	}
	p.slots = tr.slots
	p.ops = tr.ops
	p.release = releaseSchedule(p)
	return p, nil
}

func (tr *tracer) newSlot(labels string) int {
	tr.slots = append(tr.slots, labels)
	return len(tr.slots) - 1
}

func (tr *tracer) emit(kind opKind, a, b int, labels string) factor {
	out := tr.newSlot(labels)
	tr.ops = append(tr.ops, op{kind: kind, a: a, b: b, out: out, labels: labels})
	return factor{slot: out, labels: labels, plates: tr.batch.Plates(labels)}
}

// contractOutput eliminates plates from the deepest plate set towards the
// plates kept by output, then multiplies what remains into output order.
func (tr *tracer) contractOutput(inputs []factor, output string) (int, error) {
	keepPlates := tr.batch.Plates(output)
	for i := 0; i < len(output); i++ {
		v := output[i]
		if tr.batch.Contains(v) {
			continue
		}
		if !isSubset(tr.ordinals[v], keepPlates) {
			return -1, NewNotImplementedError("Trace", fmt.Sprintf(
				"%q: output label %q lives in plates %q that the output does not keep",
				tr.eq, v, tr.ordinals[v]))
		}
	}

	active := append([]factor(nil), inputs...)
	for {
		leaf, ok := deepestPlates(active, keepPlates)
		if !ok {
			break
		}

		var group, rest []factor
		for _, f := range active {
			if f.plates == leaf {
				group = append(group, f)
			} else {
				rest = append(rest, f)
			}
		}

		var local []byte
		for _, f := range group {
			for i := 0; i < len(f.labels); i++ {
				v := f.labels[i]
				if !tr.batch.Contains(v) && tr.ordinals[v] == leaf &&
					strings.IndexByte(output, v) < 0 && !containsByte(local, v) {
					local = append(local, v)
				}
			}
		}

		results := make([]factor, 0, len(group))
		for _, comp := range components(group, string(local)) {
			f := tr.reduce(comp, string(local))

			target := intersect(leaf, keepPlates)
			for i := 0; i < len(f.labels); i++ {
				if v := f.labels[i]; !tr.batch.Contains(v) {
					target = union(target, tr.ordinals[v])
				}
			}
			if target == leaf {
				return -1, NewNotImplementedError("Trace", fmt.Sprintf(
					"%q: plates %q do not form a tree under batch dims %q", tr.eq, leaf, tr.batch))
			}
			landing := landingPlates(rest, target, leaf)
			f = tr.emit(opPlateProduct, f.slot, -1, minus(f.labels, minus(leaf, landing)))
			results = append(results, f)
		}
		active = append(rest, results...)
	}

	return tr.finish(active, output), nil
}

// reduce multiplies a connected component of factors left to right,
// summing each local label as soon as no later factor needs it.
func (tr *tracer) reduce(comp []factor, local string) factor {
	acc := comp[0]
	if len(comp) == 1 {
		if keep := minus(acc.labels, local); keep != acc.labels {
			acc = tr.emit(opSumProduct, acc.slot, -1, keep)
		}
		return acc
	}
	for i := 1; i < len(comp); i++ {
		next := comp[i]
		needed := labelsOf(comp[i+1:])
		var labels []byte
		for _, v := range []byte(acc.labels + minus(next.labels, acc.labels)) {
			if strings.IndexByte(local, v) >= 0 && strings.IndexByte(needed, v) < 0 {
				continue
			}
			labels = append(labels, v)
		}
		acc = tr.emit(opSumProduct, acc.slot, next.slot, string(labels))
	}
	return acc
}

// finish multiplies the remaining factors, sums every label not in output
// and lays the result out in output order. The result is always a fresh
// slot so that outputs never alias plan inputs.
func (tr *tracer) finish(active []factor, output string) int {
	acc := active[0]
	if len(active) == 1 {
		if acc.labels != output || acc.slot < len(tr.eq.Inputs) {
			acc = tr.emit(opSumProduct, acc.slot, -1, output)
		}
		return acc.slot
	}
	for i := 1; i < len(active); i++ {
		next := active[i]
		labels := output
		if i < len(active)-1 {
			needed := labelsOf(active[i+1:]) + output
			labels = intersect(acc.labels+minus(next.labels, acc.labels), needed)
		}
		acc = tr.emit(opSumProduct, acc.slot, next.slot, labels)
	}
	return acc.slot
}

// deepestPlates picks the largest plate set not kept by the output. Ties
// are broken lexically so traces are deterministic.
func deepestPlates(active []factor, keep string) (string, bool) {
	best, found := "", false
	for _, f := range active {
		if isSubset(f.plates, keep) {
			continue
		}
		if !found || len(f.plates) > len(best) || (len(f.plates) == len(best) && f.plates < best) {
			best, found = f.plates, true
		}
	}
	return best, found
}

// landingPlates returns the deepest plate set, among those of the other
// factors and target itself, that contains target and is strictly inside
// leaf.
func landingPlates(others []factor, target, leaf string) string {
	best := target
	for _, f := range others {
		p := f.plates
		if p == leaf || !isSubset(target, p) || !isSubset(p, leaf) {
			continue
		}
		if len(p) > len(best) || (len(p) == len(best) && p < best) {
			best = p
		}
	}
	return best
}

// components groups factors connected through shared local labels,
// preserving input order.
func components(group []factor, local string) [][]factor {
	parent := make([]int, len(group))
	for i := range parent {
		parent[i] = i
	}
	var find func(int) int
	find = func(i int) int {
		for parent[i] != i {
			parent[i] = parent[parent[i]]
			i = parent[i]
		}
		return i
	}
	owner := make(map[byte]int)
	for i, f := range group {
		for _, v := range []byte(intersect(f.labels, local)) {
			if j, ok := owner[v]; ok {
				parent[find(i)] = find(j)
			} else {
				owner[v] = i
			}
		}
	}

	index := make(map[int]int)
	var comps [][]factor
	for i, f := range group {
		r := find(i)
		k, ok := index[r]
		if !ok {
			k = len(comps)
			index[r] = k
			comps = append(comps, nil)
		}
		comps[k] = append(comps[k], f)
	}
	return comps
}

// releaseSchedule frees every intermediate slot right after its last
// reader. Inputs and outputs are never freed by the plan.
func releaseSchedule(p *Plan) [][]int {
	last := make(map[int]int)
	for i, o := range p.ops {
		last[o.a] = i
		if o.b >= 0 {
			last[o.b] = i
		}
	}
	keep := make(map[int]bool)
	for _, s := range p.outputs {
		keep[s] = true
	}

	schedule := make([][]int, len(p.ops))
	slots := make([]int, 0, len(last))
	for s := range last {
		slots = append(slots, s)
	}
	sort.Ints(slots)
	for _, s := range slots {
		if s < p.nInputs || keep[s] {
			continue
		}
		schedule[last[s]] = append(schedule[last[s]], s)
	}
	return schedule
}

func labelsOf(fs []factor) string {
	var b strings.Builder
	for _, f := range fs {
		b.WriteString(f.labels)
	}
	return b.String()
}

func containsByte(b []byte, c byte) bool {
	for _, x := range b {
		if x == c {
			return true
		}
	}
	return false
}

// Equation returns the traced equation
func (p *Plan) Equation() Equation { return p.equation }

// BatchDims returns the traced plate labels
func (p *Plan) BatchDims() BatchDims { return p.batch }

// NumSteps returns the number of recorded kernel launches
func (p *Plan) NumSteps() int { return len(p.ops) }

// Run replays the plan on operands and returns one tensor per output of
// the equation. The caller owns the results.
func (p *Plan) Run(operands ...*Tensor) ([]*Tensor, error) {
	ext, err := labelExtents("Plan.Run", p.equation, operands)
	if err != nil {
		return nil, err
	}

	vals := make([]*Tensor, len(p.slots))
	copy(vals, operands)
	fail := func(err error) ([]*Tensor, error) {
		ReleaseAll(vals[p.nInputs:])
		return nil, err
	}

	for i, o := range p.ops {
		var t *Tensor
		switch o.kind {
		case opSumProduct:
			var b *Tensor
			var lb string
			if o.b >= 0 {
				b, lb = vals[o.b], p.slots[o.b]
			}
			t, err = sumProduct(p.dev, vals[o.a], p.slots[o.a], b, lb, o.labels, ext)
		case opPlateProduct:
			t, err = plateProduct(p.dev, vals[o.a], p.slots[o.a], o.labels, ext)
		}
		if err != nil {
			return fail(err)
		}
		vals[o.out] = t
		for _, s := range p.release[i] {
			vals[s].Release()
			vals[s] = nil
		}
	}

	results := make([]*Tensor, len(p.outputs))
	for i, s := range p.outputs {
		results[i] = vals[s]
	}
	return results, nil
}

// labelExtents checks operands against the equation's inputs and returns
// the extent of every label.
func labelExtents(opName string, eq Equation, operands []*Tensor) (map[byte]int, error) {
	if len(operands) != len(eq.Inputs) {
		return nil, NewShapeError(opName, fmt.Sprintf("equation %q takes %d operands, got %d",
			eq, len(eq.Inputs), len(operands)), nil)
	}
	ext := make(map[byte]int)
	for i, t := range operands {
		labels := eq.Inputs[i]
		if t == nil {
			return nil, NewInvalidArgError(opName, fmt.Sprintf("operand %d is nil", i))
		}
		if t.Rank() != len(labels) {
			return nil, NewShapeError(opName, fmt.Sprintf("operand %d has shape %v but %q has %d labels",
				i, t.shape, labels, len(labels)), t.Shape())
		}
		for j := 0; j < len(labels); j++ {
			v, n := labels[j], t.shape[j]
			if m, ok := ext[v]; ok && m != n {
				return nil, NewShapeError(opName, fmt.Sprintf("label %q has extent %d in operand %d but %d elsewhere",
					v, n, i, m), t.Shape())
			}
			ext[v] = n
		}
	}
	return ext, nil
}
