package gudasum

import (
	"fmt"
	"sync"
)

// Stream represents an ordered sequence of operations. Tasks submitted to
// a stream run one after another on the stream worker.
type Stream struct {
	tasks chan func()
	done  chan struct{}
	wg    sync.WaitGroup
}

// NewStream creates a stream and starts its worker goroutine.
func NewStream() *Stream {
	s := &Stream{
		tasks: make(chan func(), 64),
		done:  make(chan struct{}),
	}
	go s.worker()
	return s
}

func (s *Stream) worker() {
	defer close(s.done)
	for task := range s.tasks {
		task()
		s.wg.Done()
	}
}

// Submit adds a task to the stream
func (s *Stream) Submit(task func()) {
	s.wg.Add(1)
	s.tasks <- task
}

// Synchronize waits for all submitted tasks to complete
func (s *Stream) Synchronize() {
	s.wg.Wait()
}

// Destroy drains the stream and stops its worker.
func (s *Stream) Destroy() {
	s.Synchronize()
	close(s.tasks)
	<-s.done
}

// Launch runs kernel over the index range [0, n) and returns once every
// element has been processed. kernel receives half-open sub-ranges and must
// only write outputs inside its range.
//
// On a CPU device the whole range is one call on the calling goroutine. On
// the accelerated device the range is split into blocks; blocks are dealt
// to up to NumCores workers and the launch is synchronized before return.
func (d *Device) Launch(n int, kernel func(lo, hi int)) error {
	if d.closed {
		return ErrDeviceClosed
	}
	if n < 0 {
		return NewInvalidArgError("Launch", fmt.Sprintf("negative range: %d", n))
	}
	if n == 0 {
		return nil
	}
	if d.stream == nil {
		return runKernel(kernel, 0, n)
	}

	numBlocks := (n + d.blockSize - 1) / d.blockSize
	numWorkers := d.NumCores
	if numBlocks < numWorkers {
		numWorkers = numBlocks
	}
	// Cache-aware scheduling: each worker processes a contiguous run of
	// blocks.
	blocksPerWorker := (numBlocks + numWorkers - 1) / numWorkers

	var (
		mu       sync.Mutex
		firstErr error
	)
	d.stream.Submit(func() {
		var wg sync.WaitGroup
		for w := 0; w < numWorkers; w++ {
			lo := w * blocksPerWorker * d.blockSize
			hi := lo + blocksPerWorker*d.blockSize
			if hi > n {
				hi = n
			}
			if lo >= hi {
				break
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				if err := runKernel(kernel, lo, hi); err != nil {
					mu.Lock()
					if firstErr == nil {
						firstErr = err
					}
					mu.Unlock()
				}
			}()
		}
		wg.Wait()
	})
	d.stream.Synchronize()
	return firstErr
}

// runKernel converts a kernel panic (an out-of-range index from a
// malformed plan, say) into an execution error.
func runKernel(kernel func(lo, hi int), lo, hi int) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = NewExecutionError("Launch", fmt.Sprintf("kernel panicked on [%d, %d)", lo, hi), fmt.Errorf("%v", r))
		}
	}()
	kernel(lo, hi)
	return nil
}
