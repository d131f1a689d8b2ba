package gudasum

import (
	"fmt"
	"runtime"
)

// DeviceKind selects how a Device executes kernels.
type DeviceKind int

const (
	// DeviceCPU runs every kernel serially on the calling goroutine.
	DeviceCPU DeviceKind = iota
	// DeviceCUDA is the accelerated device: kernels are split into blocks
	// and executed across all cores through a stream, CUDA style.
	DeviceCUDA
)

// String returns the device kind name
func (k DeviceKind) String() string {
	switch k {
	case DeviceCPU:
		return "cpu"
	case DeviceCUDA:
		return "cuda"
	default:
		return fmt.Sprintf("DeviceKind(%d)", int(k))
	}
}

// Device represents a compute device. Every tensor belongs to exactly one
// device and is allocated from the device's memory pool. A Device is an
// explicit value passed to tensor constructors; there is no process-wide
// default.
type Device struct {
	Kind       DeviceKind
	Name       string // Human-readable device name
	NumCores   int    // Number of CPU cores
	MaxThreads int    // Maximum concurrent threads

	memory    *MemoryPool
	stream    *Stream
	blockSize int
	closed    bool
}

// NewDevice creates a device of the given kind. Devices of kind DeviceCUDA
// own a stream worker and must be closed.
func NewDevice(kind DeviceKind) (*Device, error) {
	d := &Device{
		Kind:       kind,
		NumCores:   runtime.NumCPU(),
		MaxThreads: runtime.NumCPU() * 2, // Hyperthreading
		memory:     NewMemoryPool(),
		blockSize:  DefaultBlockSize,
	}

	switch kind {
	case DeviceCPU:
		d.Name = "CPU"
	case DeviceCUDA:
		d.Name = fmt.Sprintf("GUDA (%d cores)", d.NumCores)
		d.stream = NewStream()
	default:
		return nil, ErrInvalidDevice
	}
	return d, nil
}

// SetBlockSize overrides the number of elements per kernel block.
func (d *Device) SetBlockSize(n int) error {
	if n <= 0 || n > MaxThreadsPerBlock*MaxThreadsPerBlock {
		return NewInvalidArgError("SetBlockSize", fmt.Sprintf("invalid block size: %d", n))
	}
	d.blockSize = n
	return nil
}

// Pool returns the device memory pool
func (d *Device) Pool() *MemoryPool {
	return d.memory
}

// Close waits for outstanding work and stops the stream worker. Closing a
// device twice is a no-op.
func (d *Device) Close() error {
	if d.closed {
		return nil
	}
	d.closed = true
	if d.stream != nil {
		d.stream.Destroy()
	}
	return nil
}

// String implements fmt.Stringer
func (d *Device) String() string {
	return fmt.Sprintf("%s [%s]", d.Name, d.Kind)
}
