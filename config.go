// Package gudasum configuration constants
package gudasum

// Profiler defaults
const (
	// DefaultEquation is the plated contraction profiled when none is given
	DefaultEquation = "a,abi,bcij,adj,deij->"

	// DefaultBatchDims are the plate labels of DefaultEquation
	DefaultBatchDims = "ij"

	// DefaultDimSize is the extent of every non-plate dimension
	DefaultDimSize = 32

	// DefaultMaxPlateSize is the first (largest) plate size of a sweep
	DefaultMaxPlateSize = 32

	// DefaultIters is the number of timed calls per sweep point
	DefaultIters = 100
)

// Thread and block dimensions
const (
	// Default block size for kernels
	DefaultBlockSize = 256

	// Maximum threads per block (CUDA compatibility)
	MaxThreadsPerBlock = 1024
)

// Memory pool parameters
const (
	// Minimum allocation size in float32 elements to prevent fragmentation
	MinAllocationSize = 16

	// Free list size threshold for reuse
	FreeListThreshold = 100

	// A pooled buffer is reused only if it wastes less than this factor
	MaxReuseSlack = 2
)
