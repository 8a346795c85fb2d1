package storage

import (
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned when a target has no stats entry
var ErrNotFound = errors.New("target not found")

// Status classifies a single probe
type Status int

const (
	StatusNormal      Status = 0
	StatusHighLatency Status = 1
	StatusLoss        Status = 2
)

// String returns the wire name of the status
func (s Status) String() string {
	switch s {
	case StatusNormal:
		return "normal"
	case StatusHighLatency:
		return "high_latency"
	case StatusLoss:
		return "loss"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// IsAnomaly reports whether the status counts towards the anomaly rate
func (s Status) IsAnomaly() bool {
	return s == StatusHighLatency || s == StatusLoss
}

// MarshalText implements encoding.TextMarshaler
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (s *Status) UnmarshalText(b []byte) error {
	parsed, err := ParseStatus(string(b))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// ParseStatus parses a status wire name
func ParseStatus(v string) (Status, error) {
	switch v {
	case "normal":
		return StatusNormal, nil
	case "high_latency":
		return StatusHighLatency, nil
	case "loss":
		return StatusLoss, nil
	}
	return StatusNormal, fmt.Errorf("unknown status %q", v)
}

// LatencySample is one recorded round-trip time
type LatencySample struct {
	Timestamp time.Time `json:"timestamp"`
	Ms        float64   `json:"ms"`
}

// StatusSample is one recorded probe classification
type StatusSample struct {
	Timestamp time.Time `json:"timestamp"`
	Status    Status    `json:"status"`
}

// TargetStats is a point-in-time copy of a target's rolling statistics
type TargetStats struct {
	Target         string    `json:"target"`
	TotalProbes    uint64    `json:"total_probes"`
	TotalAnomalies uint64    `json:"total_anomalies"`
	AnomalyRate    float64   `json:"anomaly_rate"`   // percent, 2dp
	AvgLatency     float64   `json:"avg_latency_ms"` // mean over retained latencies, 2dp
	Streak         int       `json:"streak"`
	LastUpdate     time.Time `json:"last_update"`

	// Derived from retained latencies at snapshot time
	MinMs    float64 `json:"min_ms"`
	MaxMs    float64 `json:"max_ms"`
	P95Ms    float64 `json:"p95_ms"`
	JitterMs float64 `json:"jitter_ms"`
	LastMs   float64 `json:"last_ms"` // -1 when the last probe was lost

	Latencies []LatencySample `json:"latencies"`
	Statuses  []StatusSample  `json:"statuses"`
	Events    []string        `json:"events"`
}

// RecentEvents returns up to n of the newest events, oldest first
func (s TargetStats) RecentEvents(n int) []string {
	if n <= 0 || n >= len(s.Events) {
		return s.Events
	}
	return s.Events[len(s.Events)-n:]
}

// LatencyHistory returns up to n of the newest latency values, oldest first
func (s TargetStats) LatencyHistory(n int) []float64 {
	samples := s.Latencies
	if n > 0 && n < len(samples) {
		samples = samples[len(samples)-n:]
	}
	out := make([]float64, len(samples))
	for i, sample := range samples {
		out[i] = sample.Ms
	}
	return out
}

// DataPoint represents a single data point in time series
type DataPoint struct {
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"` // Latency in ms, NaN for packet loss or no data
	Loss      float64   `json:"loss"`  // 0=success, 1=failure, NaN=no data (for aggregated: 0.0-1.0 loss ratio)
}

// Storage defines the interface for persistent time-series storage
type Storage interface {
	// Write stores a latency value and loss indicator for a target at the given timestamp
	// latencyMs: latency in milliseconds (ignored when isLoss)
	// isLoss: true if the probe failed (packet loss)
	Write(targetName string, timestamp time.Time, latencyMs float64, isLoss bool) error

	// Fetch retrieves data points for a target within a time range
	Fetch(targetName string, from, to time.Time) ([]DataPoint, error)

	// Close releases storage resources
	Close() error
}

// EventRecord is a persisted anomaly event
type EventRecord struct {
	ID        int64     `json:"id"`
	Target    string    `json:"target"`
	Timestamp time.Time `json:"timestamp"`
	Status    Status    `json:"status"`
	Streak    int       `json:"streak"`
	Message   string    `json:"message"`
}

// Journal persists anomaly events beyond the in-memory event ring
type Journal interface {
	Append(rec EventRecord) error
	Recent(target string, limit int) ([]EventRecord, error)
	Close() error
}
