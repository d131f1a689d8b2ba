package gudasum

import (
	"sync"
)

// MemoryPool manages device memory allocation with efficient reuse.
// It maintains a free list of previously allocated buffers to reduce
// allocation overhead across repeated contractions.
type MemoryPool struct {
	mu         sync.Mutex
	freeList   [][]float32
	totalAlloc int64
	peakAlloc  int64
	allocs     int64
	reused     int64
}

// NewMemoryPool creates a new memory pool.
// The pool tracks allocations and provides statistics on memory usage.
func NewMemoryPool() *MemoryPool {
	return &MemoryPool{}
}

// Allocate returns a zeroed buffer of n float32 elements.
func (mp *MemoryPool) Allocate(n int) ([]float32, error) {
	if n < 0 {
		return nil, ErrInvalidSize
	}

	mp.mu.Lock()
	defer mp.mu.Unlock()

	size := n
	if size < MinAllocationSize {
		size = MinAllocationSize
	}

	// Try to reuse from free list
	for i, buf := range mp.freeList {
		if cap(buf) >= size && cap(buf) <= size*MaxReuseSlack {
			last := len(mp.freeList) - 1
			mp.freeList[i] = mp.freeList[last]
			mp.freeList[last] = nil
			mp.freeList = mp.freeList[:last]

			buf = buf[:n]
			clear(buf)
			mp.track(cap(buf))
			mp.reused++
			return buf, nil
		}
	}

	buf := make([]float32, n, size)
	mp.track(size)
	return buf, nil
}

func (mp *MemoryPool) track(elems int) {
	mp.allocs++
	mp.totalAlloc += int64(elems) * 4
	if mp.totalAlloc > mp.peakAlloc {
		mp.peakAlloc = mp.totalAlloc
	}
}

// Free returns a buffer to the pool. Buffers beyond FreeListThreshold are
// left to the garbage collector.
func (mp *MemoryPool) Free(buf []float32) {
	if cap(buf) == 0 {
		return
	}

	mp.mu.Lock()
	defer mp.mu.Unlock()

	mp.totalAlloc -= int64(cap(buf)) * 4
	if len(mp.freeList) < FreeListThreshold {
		mp.freeList = append(mp.freeList, buf[:0])
	}
}

// PoolStats is a snapshot of pool usage.
type PoolStats struct {
	Allocated int64 // bytes currently handed out
	Peak      int64 // high-water mark of Allocated
	Allocs    int64 // total Allocate calls
	Reused    int64 // Allocate calls served from the free list
	Free      int   // buffers on the free list
}

// GetStats returns memory pool statistics
func (mp *MemoryPool) GetStats() PoolStats {
	mp.mu.Lock()
	defer mp.mu.Unlock()
	return PoolStats{
		Allocated: mp.totalAlloc,
		Peak:      mp.peakAlloc,
		Allocs:    mp.allocs,
		Reused:    mp.reused,
		Free:      len(mp.freeList),
	}
}
