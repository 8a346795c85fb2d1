package storage

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/ziutek/rrd"
)

// RRDOptions configures the RRD-backed series storage
type RRDOptions struct {
	DataDir     string
	Step        time.Duration // probe interval; one primary data point per step
	Retention   string        // e.g. "1s:1d,1m:7d,1h:90d"
	XFF         float64
	Aggregation string // average, min, max, last
}

// RRDStorage persists per-target latency and loss series in RRD files
type RRDStorage struct {
	dataDir     string
	step        time.Duration
	heartbeat   time.Duration
	xff         float64
	aggregation string // "AVERAGE", "MIN", "MAX", "LAST"

	rras []rraConfig

	updaters map[string]*rrd.Updater
	mu       sync.Mutex
}

// rraConfig defines an RRA (Round Robin Archive) configuration
type rraConfig struct {
	steps int // Number of primary data points per consolidated data point
	rows  int // Number of rows (consolidated data points) in the archive
}

// NewRRDStorage creates the data directory and parses the retention policy
func NewRRDStorage(opts RRDOptions) (*RRDStorage, error) {
	step := opts.Step
	if step < time.Second {
		// rrdtool resolution is whole seconds
		step = time.Second
	}
	step = step.Truncate(time.Second)

	rras, err := parseRRAs(opts.Retention, step)
	if err != nil {
		return nil, fmt.Errorf("failed to parse retentions: %w", err)
	}

	if err := os.MkdirAll(opts.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	agg := strings.ToUpper(opts.Aggregation)
	if agg == "" {
		agg = "AVERAGE"
	}

	return &RRDStorage{
		dataDir:     opts.DataDir,
		step:        step,
		heartbeat:   step * 3,
		xff:         opts.XFF,
		aggregation: agg,
		rras:        rras,
		updaters:    make(map[string]*rrd.Updater),
	}, nil
}

// Write stores a latency value and loss indicator for a target
func (s *RRDStorage) Write(targetName string, timestamp time.Time, latencyMs float64, isLoss bool) error {
	u, err := s.updater(targetName)
	if err != nil {
		return err
	}

	var latencyVal, lossVal interface{}
	if isLoss {
		latencyVal = math.NaN()
		lossVal = 1.0
	} else {
		latencyVal = latencyMs
		lossVal = 0.0
	}

	return u.Update(timestamp, latencyVal, lossVal)
}

// updater returns the cached updater for a target, creating its file on first use
func (s *RRDStorage) updater(targetName string) (*rrd.Updater, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if u, ok := s.updaters[targetName]; ok {
		return u, nil
	}

	filename := s.getFilename(targetName)
	if _, err := os.Stat(filename); os.IsNotExist(err) {
		if err := s.createRRD(filename); err != nil {
			return nil, fmt.Errorf("failed to create RRD file: %w", err)
		}
	}

	u := rrd.NewUpdater(filename)
	s.updaters[targetName] = u
	return u, nil
}

// Fetch retrieves data points for a target within a time range
func (s *RRDStorage) Fetch(targetName string, from, to time.Time) ([]DataPoint, error) {
	filename := s.getFilename(targetName)

	if _, err := os.Stat(filename); os.IsNotExist(err) {
		return []DataPoint{}, nil
	}

	step := s.calculateStep(to.Sub(from))

	fetchRes, err := rrd.Fetch(filename, s.aggregation, from, to, step)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch data: %w", err)
	}
	defer fetchRes.FreeValues()

	if len(fetchRes.DsNames) < 2 {
		return nil, fmt.Errorf("unexpected data source count: %d (expected 2)", len(fetchRes.DsNames))
	}

	points := make([]DataPoint, 0, fetchRes.RowCnt)
	for row := 0; row < fetchRes.RowCnt; row++ {
		points = append(points, DataPoint{
			Timestamp: fetchRes.Start.Add(time.Duration(row) * fetchRes.Step),
			Value:     fetchRes.ValueAt(0, row), // DS 0 = latency
			Loss:      fetchRes.ValueAt(1, row), // DS 1 = loss
		})
	}

	return points, nil
}

// calculateStep picks the finest archive whose span covers the requested duration.
// Ranges longer than every archive fall back to the coarsest one.
func (s *RRDStorage) calculateStep(duration time.Duration) time.Duration {
	best := s.step
	bestSpan := time.Duration(0)
	for _, rra := range s.rras {
		resolution := time.Duration(rra.steps) * s.step
		span := resolution * time.Duration(rra.rows)
		if span >= duration {
			return resolution
		}
		if span > bestSpan {
			best, bestSpan = resolution, span
		}
	}
	return best
}

// Close drops all cached updaters
func (s *RRDStorage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// RRD updaters hold no file handles between updates
	s.updaters = make(map[string]*rrd.Updater)
	return nil
}

// createRRD creates a new RRD file with latency and loss data sources
func (s *RRDStorage) createRRD(filename string) error {
	stepSecs := uint(s.step.Seconds())
	heartbeatSecs := int(s.heartbeat.Seconds())

	c := rrd.NewCreator(filename, time.Now().Add(-s.step), stepSecs)

	for _, rra := range s.rras {
		c.RRA(s.aggregation, s.xff, rra.steps, rra.rows)
	}

	// DS 0: latency in ms, DS 1: loss indicator 0..1
	c.DS("latency", "GAUGE", heartbeatSecs, 0, "U")
	c.DS("loss", "GAUGE", heartbeatSecs, 0, 1)

	return c.Create(false)
}

var (
	// unsafeFilenameChars matches characters that are unsafe for filenames on various filesystems
	unsafeFilenameChars = regexp.MustCompile(`[<>:"/\\|?*\x00-\x1f\s]`)
	repeatedUnderscores = regexp.MustCompile(`_+`)
)

// getFilename returns the RRD file path for a target.
// Dots are kept so "8.8.8.8" and "dns.google" stay readable on disk.
func (s *RRDStorage) getFilename(targetName string) string {
	safe := unsafeFilenameChars.ReplaceAllString(targetName, "_")
	safe = strings.ToLower(safe)
	safe = repeatedUnderscores.ReplaceAllString(safe, "_")
	safe = strings.Trim(safe, "_.")
	if len(safe) > 200 {
		safe = safe[:200]
	}
	if safe == "" {
		safe = "unnamed"
	}
	return filepath.Join(s.dataDir, safe+".rrd")
}

// parseRRAs parses a retention string like "1s:1d,1m:7d,1h:90d" into RRA configurations
func parseRRAs(retentionStr string, baseStep time.Duration) ([]rraConfig, error) {
	parts := strings.Split(retentionStr, ",")
	rras := make([]rraConfig, 0, len(parts))

	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		subparts := strings.Split(part, ":")
		if len(subparts) != 2 {
			return nil, fmt.Errorf("invalid retention format: %s", part)
		}

		resolution, err := ParseRetentionDuration(subparts[0])
		if err != nil {
			return nil, fmt.Errorf("invalid resolution in %s: %w", part, err)
		}

		duration, err := ParseRetentionDuration(subparts[1])
		if err != nil {
			return nil, fmt.Errorf("invalid duration in %s: %w", part, err)
		}

		steps := int(resolution / baseStep)
		if steps < 1 {
			steps = 1
		}

		// Rows are counted in the effective resolution, which may be coarser than requested
		effective := time.Duration(steps) * baseStep
		rows := int(duration / effective)
		if rows < 1 {
			rows = 1
		}

		rras = append(rras, rraConfig{steps: steps, rows: rows})
	}

	if len(rras) == 0 {
		return nil, fmt.Errorf("no valid retentions found")
	}

	return rras, nil
}

// ParseRetentionDuration parses duration strings like "10s", "1m", "1h", "1d", "2w"
func ParseRetentionDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if len(s) == 0 {
		return 0, fmt.Errorf("empty duration")
	}

	// Day and week suffixes are not supported by time.ParseDuration
	unit := time.Duration(0)
	switch {
	case strings.HasSuffix(s, "d"):
		unit = 24 * time.Hour
	case strings.HasSuffix(s, "w"):
		unit = 7 * 24 * time.Hour
	}
	if unit > 0 {
		var n int
		if _, err := fmt.Sscanf(s[:len(s)-1], "%d", &n); err != nil || n <= 0 {
			return 0, fmt.Errorf("invalid duration: %s", s)
		}
		return time.Duration(n) * unit, nil
	}

	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, fmt.Errorf("duration must be positive: %s", s)
	}
	return d, nil
}
