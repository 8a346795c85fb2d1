package tui

import (
	"math"
	"sort"
	"time"

	"github.com/wellsgz/netpulse/internal/storage"
)

// View represents the current view mode
type View int

const (
	ListView View = iota
	DetailView
)

// RefreshInterval is how often snapshots are polled
const RefreshInterval = time.Second

// DetailEvents is the number of events shown in the detail view
const DetailEvents = 10

// TimeRange selects what the detail chart shows
type TimeRange int

const (
	TimeRangeRealtime TimeRange = iota
	TimeRange1Hour
	TimeRange1Day
	TimeRange1Week
)

var timeRanges = []TimeRange{TimeRangeRealtime, TimeRange1Hour, TimeRange1Day, TimeRange1Week}

// String returns a display name for the time range
func (tr TimeRange) String() string {
	switch tr {
	case TimeRangeRealtime:
		return "Realtime"
	case TimeRange1Hour:
		return "1h"
	case TimeRange1Day:
		return "1d"
	case TimeRange1Week:
		return "1w"
	default:
		return "Unknown"
	}
}

// Duration returns the lookback of a persisted range; zero for realtime
func (tr TimeRange) Duration() time.Duration {
	switch tr {
	case TimeRange1Hour:
		return time.Hour
	case TimeRange1Day:
		return 24 * time.Hour
	case TimeRange1Week:
		return 7 * 24 * time.Hour
	default:
		return 0
	}
}

// Next returns the next time range in the cycle
func (tr TimeRange) Next() TimeRange {
	return timeRanges[(int(tr)+1)%len(timeRanges)]
}

// PeriodStats summarizes persisted series over a time range
type PeriodStats struct {
	MinMs   float64
	MaxMs   float64
	AvgMs   float64
	P95Ms   float64
	LossPct float64
	Points  int
}

// TargetState is the TUI's copy of one target
type TargetState struct {
	Name  string
	Stats storage.TargetStats
	Err   error
}

// Model holds all application state
type Model struct {
	source Source
	title  string

	view        View
	selectedIdx int
	targets     []TargetState

	// Inline add-target prompt
	adding bool
	input  []rune

	// Detail chart range and the persisted series behind it
	timeRange   TimeRange
	history     []storage.DataPoint
	historyFor  string
	periodStats *PeriodStats
	loading     bool

	width  int
	height int
	ready  bool

	notice string
	err    error
}

// NewModel creates a model reading from source. title names the source in the header.
func NewModel(source Source, title string) Model {
	return Model{
		source: source,
		title:  title,
	}
}

// SelectedTarget returns the currently selected target
func (m Model) SelectedTarget() *TargetState {
	if m.selectedIdx >= 0 && m.selectedIdx < len(m.targets) {
		return &m.targets[m.selectedIdx]
	}
	return nil
}

// setTargets replaces the polled targets, keeping the selection on the same name when it survives
func (m *Model) setTargets(targets []TargetState) {
	var selected string
	if t := m.SelectedTarget(); t != nil {
		selected = t.Name
	}

	m.targets = targets
	m.selectedIdx = 0
	for i, t := range targets {
		if t.Name == selected {
			m.selectedIdx = i
			break
		}
	}

	if len(m.targets) == 0 && m.view == DetailView {
		m.view = ListView
	}
}

// calculatePeriodStats summarizes persisted data points. Points with no data (NaN loss) are skipped.
func calculatePeriodStats(data []storage.DataPoint) *PeriodStats {
	var lossSum float64
	var withData int
	values := make([]float64, 0, len(data))

	for _, dp := range data {
		if math.IsNaN(dp.Loss) {
			continue
		}
		withData++
		lossSum += dp.Loss
		if !math.IsNaN(dp.Value) && dp.Value >= 0 {
			values = append(values, dp.Value)
		}
	}
	if withData == 0 {
		return nil
	}

	stats := &PeriodStats{
		LossPct: lossSum / float64(withData) * 100,
		Points:  withData,
	}
	if len(values) == 0 {
		return stats
	}

	sort.Float64s(values)
	var sum float64
	for _, v := range values {
		sum += v
	}
	stats.MinMs = values[0]
	stats.MaxMs = values[len(values)-1]
	stats.AvgMs = sum / float64(len(values))
	stats.P95Ms = percentile(values, 95)
	return stats
}

// percentile interpolates the p-th percentile of sorted values
func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := p / 100 * float64(len(sorted)-1)
	lower := int(math.Floor(idx))
	upper := int(math.Ceil(idx))
	if lower == upper {
		return sorted[lower]
	}
	weight := idx - float64(lower)
	return sorted[lower]*(1-weight) + sorted[upper]*weight
}
