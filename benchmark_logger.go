package gudasum

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/stat"
)

// Session is the JSON document written by a BenchmarkLogger.
type Session struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Started      time.Time `json:"started"`
	Equation     string    `json:"equation"`
	BatchDims    string    `json:"batch_dims"`
	DimSize      int       `json:"dim_size"`
	MaxPlateSize int       `json:"max_plate_size"`
	Iters        int       `json:"iters"`
	Device       string    `json:"device"`
	CPU          string    `json:"cpu"`
	Version      string    `json:"version,omitempty"`
	Records      []Record  `json:"records"`
	Summary      *Summary  `json:"summary,omitempty"`
}

// Summary describes how a sweep scales with plate size.
type Summary struct {
	Points int `json:"points"`
	// Least-squares fit seconds = Intercept + Slope*plate_size
	Intercept float64 `json:"intercept_seconds"`
	Slope     float64 `json:"slope_seconds_per_plate"`
	RSquared  float64 `json:"r_squared"`
	// Mean over sweep points of seconds per timed call
	MeanSecondsPerIter float64 `json:"mean_seconds_per_iter"`
}

// Summarize fits elapsed seconds against plate size. Fewer than two
// records give a zero fit.
func Summarize(records []Record) Summary {
	s := Summary{Points: len(records)}
	if len(records) == 0 {
		return s
	}

	xs := make([]float64, len(records))
	ys := make([]float64, len(records))
	var perIter []float64
	for i, r := range records {
		xs[i] = float64(r.PlateSize)
		ys[i] = r.Seconds()
		if r.Iters > 0 {
			perIter = append(perIter, r.Seconds()/float64(r.Iters))
		}
	}
	if len(perIter) > 0 {
		s.MeanSecondsPerIter = stat.Mean(perIter, nil)
	}
	if len(records) >= 2 {
		s.Intercept, s.Slope = stat.LinearRegression(xs, ys, nil, false)
		// A flat series has no variance to explain.
		if r2 := stat.RSquared(xs, ys, nil, s.Intercept, s.Slope); !math.IsNaN(r2) && !math.IsInf(r2, 0) {
			s.RSquared = r2
		}
	}
	return s
}

// BenchmarkLogger manages logging of sweep results to a JSON session file.
// The file is rewritten after every record so a crash loses nothing.
type BenchmarkLogger struct {
	mu      sync.Mutex
	session Session
	path    string
}

// NewBenchmarkLogger creates logDir if needed and starts a session file
// named <name>_<timestamp>.json. ID and Started are filled in when empty.
func NewBenchmarkLogger(logDir, name string, session Session) (*BenchmarkLogger, error) {
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	if session.ID == "" {
		session.ID = uuid.NewString()
	}
	if session.Started.IsZero() {
		session.Started = time.Now()
	}
	session.Name = name
	session.Records = nil

	bl := &BenchmarkLogger{
		session: session,
		path: filepath.Join(logDir,
			fmt.Sprintf("%s_%s.json", name, session.Started.Format("20060102_150405"))),
	}
	if err := bl.flush(); err != nil {
		return nil, err
	}
	return bl, nil
}

// Path returns the session file path
func (bl *BenchmarkLogger) Path() string { return bl.path }

// ID returns the session id
func (bl *BenchmarkLogger) ID() string { return bl.session.ID }

// Log appends a record and flushes the session file.
func (bl *BenchmarkLogger) Log(r Record) error {
	bl.mu.Lock()
	defer bl.mu.Unlock()
	bl.session.Records = append(bl.session.Records, r)
	return bl.flush()
}

// Finish stores the summary and flushes the session file.
func (bl *BenchmarkLogger) Finish(s Summary) error {
	bl.mu.Lock()
	defer bl.mu.Unlock()
	bl.session.Summary = &s
	return bl.flush()
}

// flush writes the session to disk
func (bl *BenchmarkLogger) flush() error {
	data, err := json.MarshalIndent(bl.session, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}
	return os.WriteFile(bl.path, data, 0644)
}

// LoadSession reads a session file written by a BenchmarkLogger.
func LoadSession(path string) (*Session, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to parse session %s: %w", path, err)
	}
	return &s, nil
}

// LatestSession returns the most recently modified session file in logDir.
func LatestSession(logDir string) (string, error) {
	files, err := filepath.Glob(filepath.Join(logDir, "*.json"))
	if err != nil {
		return "", err
	}
	if len(files) == 0 {
		return "", fmt.Errorf("no session files found in %s", logDir)
	}

	var latest string
	var latestTime time.Time
	for _, file := range files {
		info, err := os.Stat(file)
		if err != nil {
			continue
		}
		if latest == "" || info.ModTime().After(latestTime) {
			latest = file
			latestTime = info.ModTime()
		}
	}
	return latest, nil
}
