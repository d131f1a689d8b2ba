package gudasum

// Traced is a replayable contraction. *Plan implements it.
type Traced interface {
	Run(operands ...*Tensor) ([]*Tensor, error)
}

// Builder traces a contraction from one example call.
type Builder func(dev *Device, eq Equation, batch BatchDims, operands ...*Tensor) (Traced, error)

// TraceBuilder is the default Builder; it calls Trace.
func TraceBuilder(dev *Device, eq Equation, batch BatchDims, operands ...*Tensor) (Traced, error) {
	return Trace(dev, eq, batch, operands...)
}

type cacheKey struct {
	dev      *Device
	equation string
	batch    string
}

// TraceCache memoizes traced contractions by (device, equation, batch dims).
// A plan allocates and launches on the device it was traced for, so each
// device gets its own entry. Entries are built lazily from the first call with a given key and are
// never invalidated or evicted.
//
// A cached entry is reused for any later operands with the same key. Plans
// built by Trace only require that ranks stay the same; a custom Builder
// may demand more, and it is the caller's job to vary only plate extents
// between calls sharing a key.
//
// A TraceCache is not safe for concurrent use.
type TraceCache struct {
	build   Builder
	entries map[cacheKey]Traced
	builds  int
}

// NewTraceCache creates an empty cache. A nil build uses TraceBuilder.
func NewTraceCache(build Builder) *TraceCache {
	if build == nil {
		build = TraceBuilder
	}
	return &TraceCache{
		build:   build,
		entries: make(map[cacheKey]Traced),
	}
}

// Call looks up or builds the traced contraction for (dev, eq, batch) and runs
// it on operands. Errors from building or running are returned unchanged.
func (c *TraceCache) Call(dev *Device, eq Equation, batch BatchDims, operands ...*Tensor) ([]*Tensor, error) {
	key := cacheKey{dev: dev, equation: eq.String(), batch: batch.String()}
	fn, ok := c.entries[key]
	if !ok {
		var err error
		fn, err = c.build(dev, eq, batch, operands...)
		if err != nil {
			return nil, err
		}
		c.builds++
		c.entries[key] = fn
	}
	return fn.Run(operands...)
}

// Len returns the number of cached entries
func (c *TraceCache) Len() int { return len(c.entries) }

// Builds returns how many times the builder has succeeded
func (c *TraceCache) Builds() int { return c.builds }
