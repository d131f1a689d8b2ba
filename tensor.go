package gudasum

import (
	"fmt"
	"math/rand"
	"slices"
)

// Tensor is a dense row-major float32 tensor resident on a Device.
// A rank-0 tensor holds a single element.
type Tensor struct {
	shape []int
	data  []float32
	dev   *Device
}

// NewTensor allocates a zeroed tensor of the given shape on dev.
func NewTensor(dev *Device, shape []int) (*Tensor, error) {
	if dev == nil {
		return nil, NewInvalidArgError("NewTensor", "nil device")
	}
	n := 1
	for _, s := range shape {
		if s < 0 {
			return nil, NewShapeError("NewTensor", fmt.Sprintf("negative extent in shape %v", shape), shape)
		}
		n *= s
	}
	data, err := dev.memory.Allocate(n)
	if err != nil {
		return nil, err
	}
	return &Tensor{shape: slices.Clone(shape), data: data, dev: dev}, nil
}

// FromData wraps a copy of data as a tensor of the given shape.
func FromData(dev *Device, shape []int, data []float32) (*Tensor, error) {
	t, err := NewTensor(dev, shape)
	if err != nil {
		return nil, err
	}
	if len(data) != len(t.data) {
		t.Release()
		return nil, NewShapeError("FromData",
			fmt.Sprintf("shape %v needs %d elements, got %d", shape, t.Numel(), len(data)), shape)
	}
	copy(t.data, data)
	return t, nil
}

// Randn returns a tensor filled with standard normal samples from rng.
func Randn(dev *Device, rng *rand.Rand, shape []int) (*Tensor, error) {
	t, err := NewTensor(dev, shape)
	if err != nil {
		return nil, err
	}
	for i := range t.data {
		t.data[i] = float32(rng.NormFloat64())
	}
	return t, nil
}

// Full returns a tensor with every element set to v.
func Full(dev *Device, shape []int, v float32) (*Tensor, error) {
	t, err := NewTensor(dev, shape)
	if err != nil {
		return nil, err
	}
	for i := range t.data {
		t.data[i] = v
	}
	return t, nil
}

// Shape returns a copy of the tensor's extents
func (t *Tensor) Shape() []int { return slices.Clone(t.shape) }

// Rank returns the number of axes
func (t *Tensor) Rank() int { return len(t.shape) }

// Numel returns the number of elements
func (t *Tensor) Numel() int { return len(t.data) }

// Data returns the backing slice. Writes are visible to the tensor.
func (t *Tensor) Data() []float32 { return t.data }

// Device returns the owning device
func (t *Tensor) Device() *Device { return t.dev }

// Item returns the single element of a one-element tensor.
func (t *Tensor) Item() (float32, error) {
	if len(t.data) != 1 {
		return 0, NewShapeError("Item", fmt.Sprintf("tensor of shape %v is not a scalar", t.shape), t.shape)
	}
	return t.data[0], nil
}

// Strides returns row-major strides in elements
func (t *Tensor) Strides() []int {
	return rowMajorStrides(t.shape)
}

// Release returns the tensor's storage to its device pool. The tensor must
// not be used afterwards. Releasing a nil tensor is a no-op.
func (t *Tensor) Release() {
	if t == nil || t.data == nil {
		return
	}
	t.dev.memory.Free(t.data)
	t.data = nil
}

func (t *Tensor) String() string {
	return fmt.Sprintf("Tensor%v@%s", t.shape, t.dev.Kind)
}

func rowMajorStrides(shape []int) []int {
	strides := make([]int, len(shape))
	s := 1
	for i := len(shape) - 1; i >= 0; i-- {
		strides[i] = s
		s *= shape[i]
	}
	return strides
}

// ReleaseAll releases every tensor in ts.
func ReleaseAll(ts []*Tensor) {
	for _, t := range ts {
		t.Release()
	}
}
