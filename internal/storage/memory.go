package storage

import (
	"math"
	"sort"
	"sync"
	"time"
)

// Default ring capacities
const (
	DefaultLatencyCapacity = 1000
	DefaultStatusCapacity  = 1000
	DefaultEventCapacity   = 100
)

// Capacities bounds the per-target rolling history
type Capacities struct {
	Latency int
	Status  int
	Events  int
}

// DefaultCapacities returns the default ring sizes
func DefaultCapacities() Capacities {
	return Capacities{
		Latency: DefaultLatencyCapacity,
		Status:  DefaultStatusCapacity,
		Events:  DefaultEventCapacity,
	}
}

func (c Capacities) withDefaults() Capacities {
	if c.Latency <= 0 {
		c.Latency = DefaultLatencyCapacity
	}
	if c.Status <= 0 {
		c.Status = DefaultStatusCapacity
	}
	if c.Events <= 0 {
		c.Events = DefaultEventCapacity
	}
	return c
}

// StatsStore implements the in-memory rolling statistics store.
// The outer lock only guards the entry map; each entry serialises its own writes.
type StatsStore struct {
	caps    Capacities
	entries map[string]*Entry
	mu      sync.RWMutex
}

// Entry holds the rolling history of a single target
type Entry struct {
	target string

	latencies     *Ring[LatencySample]
	latencySum    float64
	latencyPushes int
	statuses      *Ring[StatusSample]
	events        *Ring[string]

	totalProbes    uint64
	totalAnomalies uint64
	streak         int
	lastMs         float64
	lastUpdate     time.Time

	mu sync.RWMutex
}

// Observation is everything one probe tick contributes to an entry
type Observation struct {
	Timestamp  time.Time
	LatencyMs  float64
	HasLatency bool
	Status     Status
	Streak     int
	Event      string // empty when the tick produced no event
}

// NewStatsStore creates an empty store
func NewStatsStore(caps Capacities) *StatsStore {
	return &StatsStore{
		caps:    caps.withDefaults(),
		entries: make(map[string]*Entry),
	}
}

// Capacities returns the ring sizes used for new entries
func (s *StatsStore) Capacities() Capacities {
	return s.caps
}

// CreateEntry returns the entry for target, creating it if needed
func (s *StatsStore) CreateEntry(target string) *Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.entries[target]; ok {
		return e
	}
	e := newEntry(target, s.caps)
	s.entries[target] = e
	return e
}

// DeleteEntry removes all data for target. It reports whether an entry existed.
func (s *StatsStore) DeleteEntry(target string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entries[target]; !ok {
		return false
	}
	delete(s.entries, target)
	return true
}

// Entry returns the live entry for target
func (s *StatsStore) Entry(target string) (*Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[target]
	return e, ok
}

// RecordLatency appends a latency sample for target
func (s *StatsStore) RecordLatency(target string, ts time.Time, latencyMs float64) error {
	e, ok := s.Entry(target)
	if !ok {
		return ErrNotFound
	}
	e.RecordLatency(ts, latencyMs)
	return nil
}

// RecordStatus appends a status sample for target and bumps its counters
func (s *StatsStore) RecordStatus(target string, ts time.Time, status Status) error {
	e, ok := s.Entry(target)
	if !ok {
		return ErrNotFound
	}
	e.RecordStatus(ts, status)
	return nil
}

// AppendEvent appends an event line for target
func (s *StatsStore) AppendEvent(target string, ts time.Time, text string) error {
	e, ok := s.Entry(target)
	if !ok {
		return ErrNotFound
	}
	e.AppendEvent(ts, text)
	return nil
}

// Snapshot returns a consistent copy of target's statistics
func (s *StatsStore) Snapshot(target string) (TargetStats, error) {
	e, ok := s.Entry(target)
	if !ok {
		return TargetStats{}, ErrNotFound
	}
	return e.Snapshot(), nil
}

// Targets returns the names of all entries, sorted
func (s *StatsStore) Targets() []string {
	s.mu.RLock()
	names := make([]string, 0, len(s.entries))
	for name := range s.entries {
		names = append(names, name)
	}
	s.mu.RUnlock()

	sort.Strings(names)
	return names
}

// SnapshotAll returns snapshots for every target
func (s *StatsStore) SnapshotAll() map[string]TargetStats {
	s.mu.RLock()
	entries := make([]*Entry, 0, len(s.entries))
	for _, e := range s.entries {
		entries = append(entries, e)
	}
	s.mu.RUnlock()

	result := make(map[string]TargetStats, len(entries))
	for _, e := range entries {
		result[e.target] = e.Snapshot()
	}
	return result
}

func newEntry(target string, caps Capacities) *Entry {
	return &Entry{
		target:    target,
		latencies: NewRing[LatencySample](caps.Latency),
		statuses:  NewRing[StatusSample](caps.Status),
		events:    NewRing[string](caps.Events),
		lastMs:    -1,
	}
}

// Target returns the entry's target name
func (e *Entry) Target() string {
	return e.target
}

// Record applies one probe tick atomically
func (e *Entry) Record(obs Observation) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if obs.HasLatency && obs.LatencyMs > 0 {
		e.recordLatencyLocked(obs.Timestamp, obs.LatencyMs)
	}
	e.recordStatusLocked(obs.Timestamp, obs.Status)
	if obs.Event != "" {
		e.events.Push(obs.Event)
	}
	e.streak = obs.Streak

	switch {
	case obs.Status == StatusLoss:
		e.lastMs = -1
	case obs.HasLatency:
		e.lastMs = obs.LatencyMs
	}
}

// RecordLatency appends a latency sample
func (e *Entry) RecordLatency(ts time.Time, latencyMs float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.recordLatencyLocked(ts, latencyMs)
	e.lastMs = latencyMs
}

// RecordStatus appends a status sample and bumps the lifetime counters
func (e *Entry) RecordStatus(ts time.Time, status Status) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.recordStatusLocked(ts, status)
}

// EventTimeLayout is the timestamp prefix of event lines
const EventTimeLayout = "2006-01-02 15:04:05"

// AppendEvent appends text as an event line stamped with ts
func (e *Entry) AppendEvent(ts time.Time, text string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events.Push(ts.Format(EventTimeLayout) + " - " + text)
	e.touch(ts)
}

// Must be called with e.mu held
func (e *Entry) recordLatencyLocked(ts time.Time, latencyMs float64) {
	evicted, ok := e.latencies.Push(LatencySample{Timestamp: ts, Ms: latencyMs})
	e.latencySum += latencyMs
	if ok {
		e.latencySum -= evicted.Ms
	}

	// Resum once per full rotation so float error cannot accumulate
	e.latencyPushes++
	if e.latencyPushes%e.latencies.Cap() == 0 {
		e.latencySum = 0
		for _, sample := range e.latencies.Items() {
			e.latencySum += sample.Ms
		}
	}
	e.touch(ts)
}

// Must be called with e.mu held
func (e *Entry) recordStatusLocked(ts time.Time, status Status) {
	e.statuses.Push(StatusSample{Timestamp: ts, Status: status})
	e.totalProbes++
	if status.IsAnomaly() {
		e.totalAnomalies++
	}
	e.touch(ts)
}

func (e *Entry) touch(ts time.Time) {
	if ts.After(e.lastUpdate) {
		e.lastUpdate = ts
	}
}

// Snapshot returns a consistent copy of the entry
func (e *Entry) Snapshot() TargetStats {
	e.mu.RLock()
	stats := TargetStats{
		Target:         e.target,
		TotalProbes:    e.totalProbes,
		TotalAnomalies: e.totalAnomalies,
		Streak:         e.streak,
		LastUpdate:     e.lastUpdate,
		LastMs:         e.lastMs,
		Latencies:      e.latencies.Items(),
		Statuses:       e.statuses.Items(),
		Events:         e.events.Items(),
	}
	sum := e.latencySum
	e.mu.RUnlock()

	stats.AnomalyRate = AnomalyRate(stats.TotalAnomalies, stats.TotalProbes)
	if n := len(stats.Latencies); n > 0 {
		stats.AvgLatency = Round2(sum / float64(n))
	}
	fillDistribution(&stats)
	return stats
}

// Summary is the counter view of an entry, without the sample history
type Summary struct {
	TotalProbes    uint64  `json:"total_probes"`
	TotalAnomalies uint64  `json:"total_anomalies"`
	AnomalyRate    float64 `json:"anomaly_rate"`
	AvgLatency     float64 `json:"avg_latency_ms"`
	Streak         int     `json:"streak"`
	LastMs         float64 `json:"last_ms"`
}

// Summary returns the entry's counters and averages in O(1)
func (e *Entry) Summary() Summary {
	e.mu.RLock()
	sum := Summary{
		TotalProbes:    e.totalProbes,
		TotalAnomalies: e.totalAnomalies,
		Streak:         e.streak,
		LastMs:         e.lastMs,
	}
	latencySum, n := e.latencySum, e.latencies.Len()
	e.mu.RUnlock()

	sum.AnomalyRate = AnomalyRate(sum.TotalAnomalies, sum.TotalProbes)
	if n > 0 {
		sum.AvgLatency = Round2(latencySum / float64(n))
	}
	return sum
}

// AnomalyRate returns 100*anomalies/probes rounded to two decimals, 0 without probes
func AnomalyRate(anomalies, probes uint64) float64 {
	if probes == 0 {
		return 0
	}
	return Round2(float64(anomalies) / float64(probes) * 100)
}

// Round2 rounds to two decimal places
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// fillDistribution computes min/max/p95/jitter from the copied latencies
func fillDistribution(stats *TargetStats) {
	if len(stats.Latencies) == 0 {
		return
	}

	values := make([]float64, len(stats.Latencies))
	for i, sample := range stats.Latencies {
		values[i] = sample.Ms
	}

	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	stats.MinMs = sorted[0]
	stats.MaxMs = sorted[len(sorted)-1]
	stats.P95Ms = Round2(percentile(sorted, 95))
	stats.JitterMs = Round2(stddev(values, mean(values)))
}

// percentile calculates the p-th percentile of sorted values
func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	if len(sorted) == 1 {
		return sorted[0]
	}

	idx := (p / 100) * float64(len(sorted)-1)
	lower := int(math.Floor(idx))
	upper := int(math.Ceil(idx))

	if lower == upper {
		return sorted[lower]
	}

	// Linear interpolation
	weight := idx - float64(lower)
	return sorted[lower]*(1-weight) + sorted[upper]*weight
}

// mean calculates the arithmetic mean
func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// stddev calculates the population standard deviation
func stddev(values []float64, avg float64) float64 {
	if len(values) < 2 {
		return 0
	}
	sumSquares := 0.0
	for _, v := range values {
		diff := v - avg
		sumSquares += diff * diff
	}
	return math.Sqrt(sumSquares / float64(len(values)))
}
