package gudasum

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Config holds the parameters of a plate-size sweep.
type Config struct {
	Equation     string
	BatchDims    string
	DimSize      int  // extent of non-plate labels
	MaxPlateSize int  // first plate size; the sweep counts down to 1
	Iters        int  // timed calls per sweep point
	CUDA         bool // run on the accelerated device
	JIT          bool // accepted for compatibility; contractions are always traced
	Seed         int64
	LogDir       string
}

// DefaultConfig returns the profiler defaults
func DefaultConfig() Config {
	return Config{
		Equation:     DefaultEquation,
		BatchDims:    DefaultBatchDims,
		DimSize:      DefaultDimSize,
		MaxPlateSize: DefaultMaxPlateSize,
		Iters:        DefaultIters,
	}
}

// Validate checks the numeric parameters. The equation and batch dims are
// checked when they are parsed.
func (c Config) Validate() error {
	switch {
	case c.DimSize < 1:
		return NewInvalidArgError("Config", fmt.Sprintf("dim size must be positive, got %d", c.DimSize))
	case c.MaxPlateSize < 1:
		return NewInvalidArgError("Config", fmt.Sprintf("max plate size must be positive, got %d", c.MaxPlateSize))
	case c.Iters < 0:
		return NewInvalidArgError("Config", fmt.Sprintf("iters must not be negative, got %d", c.Iters))
	}
	return nil
}

// DeviceKind returns the device the configuration asks for
func (c Config) DeviceKind() DeviceKind {
	if c.CUDA {
		return DeviceCUDA
	}
	return DeviceCPU
}

// OperandShapes returns the shape of each input of eq: plateSize on plate
// labels, dimSize on every other label.
func OperandShapes(eq Equation, batch BatchDims, plateSize, dimSize int) [][]int {
	shapes := make([][]int, len(eq.Inputs))
	for i, labels := range eq.Inputs {
		shape := make([]int, len(labels))
		for j := 0; j < len(labels); j++ {
			if batch.Contains(labels[j]) {
				shape[j] = plateSize
			} else {
				shape[j] = dimSize
			}
		}
		shapes[i] = shape
	}
	return shapes
}

// GenerateOperands allocates one standard normal tensor per input of eq,
// shaped by OperandShapes.
func GenerateOperands(dev *Device, rng *rand.Rand, eq Equation, batch BatchDims, plateSize, dimSize int) ([]*Tensor, error) {
	shapes := OperandShapes(eq, batch, plateSize, dimSize)
	operands := make([]*Tensor, 0, len(shapes))
	for _, shape := range shapes {
		t, err := Randn(dev, rng, shape)
		if err != nil {
			ReleaseAll(operands)
			return nil, err
		}
		operands = append(operands, t)
	}
	return operands, nil
}

// Clock is the time source of the timer.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock reads the wall clock
var SystemClock Clock = systemClock{}

// TimedRun calls the memoized contraction once untimed, paying any tracing
// cost, then times iters further calls in one wall-clock window. Results
// are released as they are produced. The first error aborts the run and
// is returned unchanged.
func TimedRun(cache *TraceCache, clock Clock, dev *Device, eq Equation, batch BatchDims, operands []*Tensor, iters int) (time.Duration, error) {
	out, err := cache.Call(dev, eq, batch, operands...)
	if err != nil {
		return 0, err
	}
	ReleaseAll(out)

	start := clock.Now()
	for i := 0; i < iters; i++ {
		out, err := cache.Call(dev, eq, batch, operands...)
		if err != nil {
			return 0, err
		}
		ReleaseAll(out)
	}
	elapsed := clock.Now().Sub(start)
	if elapsed < 0 {
		elapsed = 0
	}
	return elapsed, nil
}

// Record is the timing of one sweep point.
type Record struct {
	PlateSize int           `json:"plate_size"`
	Iters     int           `json:"iters"`
	Elapsed   time.Duration `json:"elapsed_ns"`
}

// Seconds returns the elapsed time in seconds
func (r Record) Seconds() float64 { return r.Elapsed.Seconds() }

// Driver runs plate-size sweeps. Device, Cache, Clock and Rand must be
// set; OnRecord, if set, sees every record as soon as it is measured and
// can abort the sweep by returning an error.
type Driver struct {
	Device   *Device
	Cache    *TraceCache
	Clock    Clock
	Rand     *rand.Rand
	OnRecord func(Record) error
}

// NewDriver returns a driver on dev with a fresh trace cache, the system
// clock and a generator seeded with seed.
func NewDriver(dev *Device, seed int64) *Driver {
	return &Driver{
		Device: dev,
		Cache:  NewTraceCache(nil),
		Clock:  SystemClock,
		Rand:   rand.New(rand.NewSource(seed)),
	}
}

// Sweep times cfg.Equation for plate sizes cfg.MaxPlateSize down to 1 and
// returns the records sorted by ascending plate size. Operands are
// regenerated for every plate size. Any failure aborts the sweep; ctx is
// only consulted between sweep points.
func (d *Driver) Sweep(ctx context.Context, cfg Config) ([]Record, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	eq, err := ParseEquation(cfg.Equation)
	if err != nil {
		return nil, err
	}
	batch, err := ParseBatchDims(cfg.BatchDims)
	if err != nil {
		return nil, err
	}

	records := make([]Record, 0, cfg.MaxPlateSize)
	for plateSize := cfg.MaxPlateSize; plateSize >= 1; plateSize-- {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rec, err := d.point(eq, batch, plateSize, cfg)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
		if d.OnRecord != nil {
			if err := d.OnRecord(rec); err != nil {
				return nil, err
			}
		}
	}

	sort.Slice(records, func(i, j int) bool { return records[i].PlateSize < records[j].PlateSize })
	return records, nil
}

func (d *Driver) point(eq Equation, batch BatchDims, plateSize int, cfg Config) (Record, error) {
	operands, err := GenerateOperands(d.Device, d.Rand, eq, batch, plateSize, cfg.DimSize)
	if err != nil {
		return Record{}, err
	}
	defer ReleaseAll(operands)

	elapsed, err := TimedRun(d.Cache, d.Clock, d.Device, eq, batch, operands, cfg.Iters)
	if err != nil {
		return Record{}, err
	}
	return Record{PlateSize: plateSize, Iters: cfg.Iters, Elapsed: elapsed}, nil
}

// WriteTable writes one "plate_size\tseconds" line per record, in the
// order given. Seconds are formatted by FormatSeconds.
func WriteTable(w io.Writer, records []Record) error {
	for _, r := range records {
		if _, err := fmt.Fprintf(w, "%d\t%s\n", r.PlateSize, FormatSeconds(r.Seconds())); err != nil {
			return err
		}
	}
	return nil
}

// FormatSeconds prints s with the fewest digits that round-trip, switching
// to exponent form for very small or large values. Whole numbers keep a
// trailing ".0" so every value reads as a float.
func FormatSeconds(s float64) string {
	out := strconv.FormatFloat(s, 'g', -1, 64)
	if !strings.ContainsAny(out, ".eIN") {
		out += ".0"
	}
	return out
}
