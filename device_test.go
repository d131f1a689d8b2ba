package gudasum

import (
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestNewDevice(t *testing.T) {
	cpu, err := NewDevice(DeviceCPU)
	require.NoError(t, err)
	defer cpu.Close()
	assert.Equal(t, "cpu", cpu.Kind.String())
	assert.Contains(t, cpu.String(), "[cpu]")
	assert.Positive(t, cpu.NumCores)

	_, err = NewDevice(DeviceKind(7))
	assert.ErrorIs(t, err, ErrInvalidDevice)
	assert.Equal(t, "DeviceKind(7)", DeviceKind(7).String())
}

func TestLaunchCoversRange(t *testing.T) {
	defer goleak.VerifyNone(t)

	for _, kind := range []DeviceKind{DeviceCPU, DeviceCUDA} {
		t.Run(kind.String(), func(t *testing.T) {
			dev, err := NewDevice(kind)
			require.NoError(t, err)
			defer dev.Close()
			require.NoError(t, dev.SetBlockSize(7))

			for _, n := range []int{0, 1, 6, 7, 8, 1000} {
				hits := make([]int32, n)
				err := dev.Launch(n, func(lo, hi int) {
					for i := lo; i < hi; i++ {
						atomic.AddInt32(&hits[i], 1)
					}
				})
				require.NoError(t, err)
				for i, h := range hits {
					require.Equal(t, int32(1), h, "n=%d index %d", n, i)
				}
			}
		})
	}
}

func TestLaunchRecoversKernelPanic(t *testing.T) {
	defer goleak.VerifyNone(t)

	dev, err := NewDevice(DeviceCUDA)
	require.NoError(t, err)
	defer dev.Close()

	err = dev.Launch(10, func(lo, hi int) {
		var s []float32
		_ = s[hi]
	})
	require.Error(t, err)
	var gerr *Error
	require.ErrorAs(t, err, &gerr)
	assert.Equal(t, ErrTypeExecution, gerr.Type)
}

func TestLaunchErrors(t *testing.T) {
	dev, err := NewDevice(DeviceCUDA)
	require.NoError(t, err)

	assert.True(t, IsInvalidArgError(dev.Launch(-1, func(lo, hi int) {})))
	assert.True(t, IsInvalidArgError(dev.SetBlockSize(0)))

	require.NoError(t, dev.Close())
	require.NoError(t, dev.Close())
	assert.ErrorIs(t, dev.Launch(1, func(lo, hi int) {}), ErrDeviceClosed)
}

func TestStreamRunsTasksInOrder(t *testing.T) {
	defer goleak.VerifyNone(t)

	s := NewStream()
	var order []int
	for i := 0; i < 10; i++ {
		i := i
		s.Submit(func() { order = append(order, i) })
	}
	s.Synchronize()
	s.Destroy()
	assert.Equal(t, []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, order)
}

func TestMemoryPoolReuse(t *testing.T) {
	mp := NewMemoryPool()

	buf, err := mp.Allocate(100)
	require.NoError(t, err)
	assert.Len(t, buf, 100)
	buf[0] = 3
	mp.Free(buf)

	again, err := mp.Allocate(90)
	require.NoError(t, err)
	assert.Len(t, again, 90)
	assert.Equal(t, float32(0), again[0], "reused buffers are zeroed")

	stats := mp.GetStats()
	assert.Equal(t, int64(2), stats.Allocs)
	assert.Equal(t, int64(1), stats.Reused)
	assert.Equal(t, int64(400), stats.Allocated)
	assert.Equal(t, int64(400), stats.Peak)

	_, err = mp.Allocate(-1)
	assert.ErrorIs(t, err, ErrInvalidSize)
}

func TestTensorConstructors(t *testing.T) {
	dev, err := NewDevice(DeviceCPU)
	require.NoError(t, err)
	defer dev.Close()

	x, err := FromData(dev, []int{2, 3}, []float32{1, 2, 3, 4, 5, 6})
	require.NoError(t, err)
	assert.Equal(t, []int{2, 3}, x.Shape())
	assert.Equal(t, []int{3, 1}, x.Strides())
	assert.Equal(t, 2, x.Rank())
	assert.Equal(t, 6, x.Numel())
	_, err = x.Item()
	assert.True(t, IsShapeError(err))

	s, err := Full(dev, nil, 2.5)
	require.NoError(t, err)
	v, err := s.Item()
	require.NoError(t, err)
	assert.Equal(t, float32(2.5), v)

	_, err = FromData(dev, []int{2, 2}, []float32{1})
	assert.True(t, IsShapeError(err))
	_, err = NewTensor(dev, []int{-1})
	assert.True(t, IsShapeError(err))
	_, err = NewTensor(nil, []int{1})
	assert.True(t, IsInvalidArgError(err))

	x.Release()
	x.Release()
	s.Release()
	assert.Equal(t, int64(0), dev.Pool().GetStats().Allocated)
}
