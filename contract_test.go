package gudasum

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// at reads t at a multi-index as float64
func at(t *Tensor, idx ...int) float64 {
	off := 0
	for k, s := range t.Strides() {
		off += idx[k] * s
	}
	return float64(t.data[off])
}

func mustEquation(t testing.TB, s, batch string) (Equation, BatchDims) {
	t.Helper()
	eq, err := ParseEquation(s)
	require.NoError(t, err)
	b, err := ParseBatchDims(batch)
	require.NoError(t, err)
	return eq, b
}

func randOperands(t testing.TB, dev *Device, seed int64, shapes ...[]int) []*Tensor {
	t.Helper()
	rng := rand.New(rand.NewSource(seed))
	ops := make([]*Tensor, len(shapes))
	for i, s := range shapes {
		x, err := Randn(dev, rng, s)
		require.NoError(t, err)
		ops[i] = x
	}
	return ops
}

func assertClose(t *testing.T, want, got float64, msgAndArgs ...interface{}) {
	t.Helper()
	assert.InDelta(t, want, got, 1e-4*(1+math.Abs(want)), msgAndArgs...)
}

func forEachDevice(t *testing.T, fn func(t *testing.T, dev *Device)) {
	for _, kind := range []DeviceKind{DeviceCPU, DeviceCUDA} {
		t.Run(kind.String(), func(t *testing.T) {
			dev, err := NewDevice(kind)
			require.NoError(t, err)
			defer dev.Close()
			// Small blocks so the accelerated device really splits work.
			require.NoError(t, dev.SetBlockSize(3))
			fn(t, dev)
		})
	}
}

func TestUbersumMatmul(t *testing.T) {
	forEachDevice(t, func(t *testing.T, dev *Device) {
		eq, batch := mustEquation(t, "ab,bc->ac", "")
		ops := randOperands(t, dev, 1, []int{3, 4}, []int{4, 5})

		out, err := Ubersum(dev, eq, batch, ops...)
		require.NoError(t, err)
		require.Len(t, out, 1)
		assert.Equal(t, []int{3, 5}, out[0].Shape())

		for a := 0; a < 3; a++ {
			for c := 0; c < 5; c++ {
				want := 0.0
				for b := 0; b < 4; b++ {
					want += at(ops[0], a, b) * at(ops[1], b, c)
				}
				assertClose(t, want, at(out[0], a, c), "out[%d,%d]", a, c)
			}
		}
	})
}

func TestUbersumTranspose(t *testing.T) {
	forEachDevice(t, func(t *testing.T, dev *Device) {
		eq, batch := mustEquation(t, "ab->ba", "")
		ops := randOperands(t, dev, 2, []int{2, 3})

		out, err := Ubersum(dev, eq, batch, ops...)
		require.NoError(t, err)
		assert.Equal(t, []int{3, 2}, out[0].Shape())
		for a := 0; a < 2; a++ {
			for b := 0; b < 3; b++ {
				assert.Equal(t, at(ops[0], a, b), at(out[0], b, a))
			}
		}
	})
}

func TestUbersumPlateProduct(t *testing.T) {
	forEachDevice(t, func(t *testing.T, dev *Device) {
		eq, batch := mustEquation(t, "ai->", "i")
		ops := randOperands(t, dev, 3, []int{4, 3})

		out, err := Ubersum(dev, eq, batch, ops...)
		require.NoError(t, err)

		want := 1.0
		for i := 0; i < 3; i++ {
			s := 0.0
			for a := 0; a < 4; a++ {
				s += at(ops[0], a, i)
			}
			want *= s
		}
		got, err := out[0].Item()
		require.NoError(t, err)
		assertClose(t, want, float64(got))
	})
}

func TestUbersumKeepsOutputPlates(t *testing.T) {
	forEachDevice(t, func(t *testing.T, dev *Device) {
		eq, batch := mustEquation(t, "ai->i", "i")
		ops := randOperands(t, dev, 4, []int{4, 3})

		out, err := Ubersum(dev, eq, batch, ops...)
		require.NoError(t, err)
		assert.Equal(t, []int{3}, out[0].Shape())
		for i := 0; i < 3; i++ {
			want := 0.0
			for a := 0; a < 4; a++ {
				want += at(ops[0], a, i)
			}
			assertClose(t, want, at(out[0], i))
		}
	})
}

func TestUbersumGlobalLabelInsidePlate(t *testing.T) {
	forEachDevice(t, func(t *testing.T, dev *Device) {
		// b is shared by a global factor, so it is summed outside plate i.
		eq, batch := mustEquation(t, "ab,bi->a", "i")
		ops := randOperands(t, dev, 5, []int{2, 3}, []int{3, 4})

		out, err := Ubersum(dev, eq, batch, ops...)
		require.NoError(t, err)
		for a := 0; a < 2; a++ {
			want := 0.0
			for b := 0; b < 3; b++ {
				p := 1.0
				for i := 0; i < 4; i++ {
					p *= at(ops[1], b, i)
				}
				want += at(ops[0], a, b) * p
			}
			assertClose(t, want, at(out[0], a))
		}
	})
}

func TestUbersumSiblingPlates(t *testing.T) {
	forEachDevice(t, func(t *testing.T, dev *Device) {
		eq, batch := mustEquation(t, "ai,aj->", "ij")
		ops := randOperands(t, dev, 6, []int{3, 2}, []int{3, 4})

		out, err := Ubersum(dev, eq, batch, ops...)
		require.NoError(t, err)

		want := 0.0
		for a := 0; a < 3; a++ {
			pi, pj := 1.0, 1.0
			for i := 0; i < 2; i++ {
				pi *= at(ops[0], a, i)
			}
			for j := 0; j < 4; j++ {
				pj *= at(ops[1], a, j)
			}
			want += pi * pj
		}
		got, err := out[0].Item()
		require.NoError(t, err)
		assertClose(t, want, float64(got))
	})
}

// referenceProfilerEquation evaluates a,abi,bcij,adj,deij-> with plates ij
// directly from its definition.
func referenceProfilerEquation(ops []*Tensor, d, pi, pj int) float64 {
	A, B, C, D, E := ops[0], ops[1], ops[2], ops[3], ops[4]
	total := 0.0
	for a := 0; a < d; a++ {
		left := 1.0
		for i := 0; i < pi; i++ {
			sb := 0.0
			for b := 0; b < d; b++ {
				pjProd := 1.0
				for j := 0; j < pj; j++ {
					sc := 0.0
					for c := 0; c < d; c++ {
						sc += at(C, b, c, i, j)
					}
					pjProd *= sc
				}
				sb += at(B, a, b, i) * pjProd
			}
			left *= sb
		}
		right := 1.0
		for j := 0; j < pj; j++ {
			sd := 0.0
			for dd := 0; dd < d; dd++ {
				piProd := 1.0
				for i := 0; i < pi; i++ {
					se := 0.0
					for e := 0; e < d; e++ {
						se += at(E, dd, e, i, j)
					}
					piProd *= se
				}
				sd += at(D, a, dd, j) * piProd
			}
			right *= sd
		}
		total += at(A, a) * left * right
	}
	return total
}

func TestUbersumProfilerEquation(t *testing.T) {
	forEachDevice(t, func(t *testing.T, dev *Device) {
		eq, batch := mustEquation(t, DefaultEquation, DefaultBatchDims)
		const d, p = 2, 3
		ops := randOperands(t, dev, 7,
			[]int{d}, []int{d, d, p}, []int{d, d, p, p}, []int{d, d, p}, []int{d, d, p, p})

		out, err := Ubersum(dev, eq, batch, ops...)
		require.NoError(t, err)
		got, err := out[0].Item()
		require.NoError(t, err)
		assertClose(t, referenceProfilerEquation(ops, d, p, p), float64(got))
	})
}

func TestUbersumMultipleOutputs(t *testing.T) {
	dev, err := NewDevice(DeviceCPU)
	require.NoError(t, err)
	defer dev.Close()

	eq, batch := mustEquation(t, "ab,bc->ac,", "")
	ops := randOperands(t, dev, 8, []int{2, 3}, []int{3, 2})

	out, err := Ubersum(dev, eq, batch, ops...)
	require.NoError(t, err)
	require.Len(t, out, 2)

	total := 0.0
	for a := 0; a < 2; a++ {
		for c := 0; c < 2; c++ {
			total += at(out[0], a, c)
		}
	}
	got, err := out[1].Item()
	require.NoError(t, err)
	assertClose(t, total, float64(got))
}

func TestUbersumOutputDoesNotAliasOperand(t *testing.T) {
	dev, err := NewDevice(DeviceCPU)
	require.NoError(t, err)
	defer dev.Close()

	eq, batch := mustEquation(t, "ab->ab", "")
	ops := randOperands(t, dev, 9, []int{2, 2})
	out, err := Ubersum(dev, eq, batch, ops...)
	require.NoError(t, err)

	out[0].Data()[0] = 42
	assert.NotEqual(t, float32(42), ops[0].Data()[0])
}

func TestPlanReplaysAcrossPlateSizes(t *testing.T) {
	forEachDevice(t, func(t *testing.T, dev *Device) {
		eq, batch := mustEquation(t, DefaultEquation, DefaultBatchDims)
		const d = 2
		shapes := func(p int) [][]int { return OperandShapes(eq, batch, p, d) }

		example := randOperands(t, dev, 10, shapes(3)...)
		plan, err := Trace(dev, eq, batch, example...)
		require.NoError(t, err)

		for _, p := range []int{3, 2, 1} {
			ops := randOperands(t, dev, int64(20+p), shapes(p)...)
			out, err := plan.Run(ops...)
			require.NoError(t, err)
			got, err := out[0].Item()
			require.NoError(t, err)
			assertClose(t, referenceProfilerEquation(ops, d, p, p), float64(got), "plate size %d", p)
		}
	})
}

func TestPlanReleasesIntermediates(t *testing.T) {
	dev, err := NewDevice(DeviceCPU)
	require.NoError(t, err)
	defer dev.Close()

	eq, batch := mustEquation(t, DefaultEquation, DefaultBatchDims)
	ops := randOperands(t, dev, 11, OperandShapes(eq, batch, 2, 2)...)
	before := dev.Pool().GetStats().Allocated

	out, err := Ubersum(dev, eq, batch, ops...)
	require.NoError(t, err)
	ReleaseAll(out)

	assert.Equal(t, before, dev.Pool().GetStats().Allocated)
}

func TestUbersumErrors(t *testing.T) {
	dev, err := NewDevice(DeviceCPU)
	require.NoError(t, err)
	defer dev.Close()

	tests := []struct {
		name    string
		eq      string
		batch   string
		shapes  [][]int
		checkFn func(error) bool
	}{
		{
			name:    "operand count",
			eq:      "ab,bc->ac",
			shapes:  [][]int{{2, 2}},
			checkFn: IsShapeError,
		},
		{
			name:    "rank mismatch",
			eq:      "ab->",
			shapes:  [][]int{{2, 2, 2}},
			checkFn: IsShapeError,
		},
		{
			name:    "inconsistent extent",
			eq:      "ab,bc->",
			shapes:  [][]int{{2, 3}, {4, 2}},
			checkFn: IsShapeError,
		},
		{
			name:    "output label inside dropped plate",
			eq:      "ai->a",
			batch:   "i",
			shapes:  [][]int{{2, 2}},
			checkFn: IsNotImplementedError,
		},
		{
			name:    "plates without a tree",
			eq:      "abij,ai,bj->",
			batch:   "ij",
			shapes:  [][]int{{2, 2, 2, 2}, {2, 2}, {2, 2}},
			checkFn: IsNotImplementedError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			eq, batch := mustEquation(t, tt.eq, tt.batch)
			ops := randOperands(t, dev, 12, tt.shapes...)
			_, err := Ubersum(dev, eq, batch, ops...)
			require.Error(t, err)
			assert.True(t, tt.checkFn(err), "unexpected error: %v", err)
		})
	}
}

func BenchmarkUbersum(b *testing.B) {
	for _, kind := range []DeviceKind{DeviceCPU, DeviceCUDA} {
		b.Run(kind.String(), func(b *testing.B) {
			dev, err := NewDevice(kind)
			require.NoError(b, err)
			defer dev.Close()

			eq, batch := mustEquation(b, DefaultEquation, DefaultBatchDims)
			ops := randOperands(b, dev, 1, OperandShapes(eq, batch, 8, 8)...)
			plan, err := Trace(dev, eq, batch, ops...)
			require.NoError(b, err)

			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				out, err := plan.Run(ops...)
				if err != nil {
					b.Fatal(err)
				}
				ReleaseAll(out)
			}
		})
	}
}
