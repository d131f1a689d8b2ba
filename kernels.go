package gudasum

import (
	"strings"

	"gonum.org/v1/gonum/blas/blas32"
)

// axes describes how one operand is addressed from a loop over labels:
// stride[k] is the operand stride of the k-th loop label, or 0 when the
// operand does not carry that label (broadcast).
type axes struct {
	stride []int
}

func operandAxes(labels string, t *Tensor, loop string) axes {
	strides := t.Strides()
	ax := axes{stride: make([]int, len(loop))}
	for k := 0; k < len(loop); k++ {
		for j := 0; j < len(labels); j++ {
			if labels[j] == loop[k] {
				ax.stride[k] = strides[j]
			}
		}
	}
	return ax
}

func (ax axes) offset(idx []int) int {
	off := 0
	for k, x := range idx {
		off += x * ax.stride[k]
	}
	return off
}

func extentsOf(labels string, ext map[byte]int) []int {
	shape := make([]int, len(labels))
	for i := 0; i < len(labels); i++ {
		shape[i] = ext[labels[i]]
	}
	return shape
}

// unravel writes the row-major multi-index of flat into idx.
func unravel(flat int, shape []int, idx []int) {
	for k := len(shape) - 1; k >= 0; k-- {
		idx[k] = flat % shape[k]
		flat /= shape[k]
	}
}

// advance increments a row-major multi-index and reports whether it did
// not wrap around.
func advance(idx []int, shape []int) bool {
	for k := len(idx) - 1; k >= 0; k-- {
		idx[k]++
		if idx[k] < shape[k] {
			return true
		}
		idx[k] = 0
	}
	return false
}

// sumProduct computes out[o] = sum over s of a[o,s] * b[o,s], where o runs
// over the labels of out and s over the remaining labels of a and b. b may
// be nil for a unary sum or permutation. The innermost summed label is
// reduced with a strided BLAS dot product.
func sumProduct(dev *Device, a *Tensor, la string, b *Tensor, lb string, out string, ext map[byte]int) (*Tensor, error) {
	// Pick the innermost sum label: prefer one carried by both operands so
	// the dot product reads both vectors directly.
	sum := []byte(minus(la+minus(lb, la), out))
	for k := len(sum) - 1; k >= 0; k-- {
		if b != nil && strings.IndexByte(la, sum[k]) >= 0 && strings.IndexByte(lb, sum[k]) >= 0 {
			sum[k], sum[len(sum)-1] = sum[len(sum)-1], sum[k]
			break
		}
	}
	loop := out + string(sum)

	res, err := NewTensor(dev, extentsOf(out, ext))
	if err != nil {
		return nil, err
	}

	axA := operandAxes(la, a, loop)
	var axB axes
	if b != nil {
		axB = operandAxes(lb, b, loop)
	}
	outShape := extentsOf(out, ext)
	nOut := len(out)

	var (
		outerShape []int // sum labels except the innermost
		innerN     int
		innerA     int
		innerB     int
		ones       []float32
		emptySum   bool
	)
	if len(sum) > 0 {
		for _, n := range extentsOf(string(sum), ext) {
			emptySum = emptySum || n == 0
		}
		outerShape = extentsOf(string(sum[:len(sum)-1]), ext)
		innerN = ext[sum[len(sum)-1]]
		innerA = axA.stride[len(loop)-1]
		if b != nil {
			innerB = axB.stride[len(loop)-1]
		}
		if innerA == 0 || innerB == 0 {
			ones = make([]float32, innerN)
			for i := range ones {
				ones[i] = 1
			}
		}
	}

	// dot reduces the innermost sum label starting at the given offsets.
	dot := func(offA, offB int) float32 {
		if innerN == 0 {
			return 0
		}
		switch {
		case b == nil:
			return blas32.Dot(
				blas32.Vector{N: innerN, Data: a.data[offA:], Inc: innerA},
				blas32.Vector{N: innerN, Data: ones, Inc: 1})
		case innerA != 0 && innerB != 0:
			return blas32.Dot(
				blas32.Vector{N: innerN, Data: a.data[offA:], Inc: innerA},
				blas32.Vector{N: innerN, Data: b.data[offB:], Inc: innerB})
		case innerA != 0:
			return b.data[offB] * blas32.Dot(
				blas32.Vector{N: innerN, Data: a.data[offA:], Inc: innerA},
				blas32.Vector{N: innerN, Data: ones, Inc: 1})
		default:
			return a.data[offA] * blas32.Dot(
				blas32.Vector{N: innerN, Data: b.data[offB:], Inc: innerB},
				blas32.Vector{N: innerN, Data: ones, Inc: 1})
		}
	}

	kernel := func(lo, hi int) {
		idx := make([]int, len(loop))
		unravel(lo, outShape, idx[:nOut])
		for i := lo; i < hi; i++ {
			for k := nOut; k < len(idx); k++ {
				idx[k] = 0
			}
			var acc float32
			switch {
			case emptySum:
			case len(sum) == 0:
				acc = a.data[axA.offset(idx)]
				if b != nil {
					acc *= b.data[axB.offset(idx)]
				}
			default:
				outer := idx[nOut : len(idx)-1]
				for {
					offA := axA.offset(idx)
					offB := 0
					if b != nil {
						offB = axB.offset(idx)
					}
					acc += dot(offA, offB)
					if !advance(outer, outerShape) {
						break
					}
				}
			}
			res.data[i] = acc
			advance(idx[:nOut], outShape)
		}
	}

	if err := dev.Launch(res.Numel(), kernel); err != nil {
		res.Release()
		return nil, err
	}
	return res, nil
}

// plateProduct computes out[o] = product over p of a[o,p], where p runs
// over the labels of a that out drops.
func plateProduct(dev *Device, a *Tensor, la string, out string, ext map[byte]int) (*Tensor, error) {
	plates := minus(la, out)
	loop := out + plates

	res, err := NewTensor(dev, extentsOf(out, ext))
	if err != nil {
		return nil, err
	}

	axA := operandAxes(la, a, loop)
	outShape := extentsOf(out, ext)
	plateShape := extentsOf(plates, ext)
	nOut := len(out)
	empty := false
	for _, n := range plateShape {
		empty = empty || n == 0
	}

	kernel := func(lo, hi int) {
		idx := make([]int, len(loop))
		unravel(lo, outShape, idx[:nOut])
		for i := lo; i < hi; i++ {
			acc := float32(1)
			if !empty {
				inner := idx[nOut:]
				for k := range inner {
					inner[k] = 0
				}
				for {
					acc *= a.data[axA.offset(idx)]
					if !advance(inner, plateShape) {
						break
					}
				}
			}
			res.data[i] = acc
			advance(idx[:nOut], outShape)
		}
	}

	if err := dev.Launch(res.Numel(), kernel); err != nil {
		res.Release()
		return nil, err
	}
	return res, nil
}
