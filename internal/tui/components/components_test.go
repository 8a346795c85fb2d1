package components

import (
	"strings"
	"testing"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wellsgz/netpulse/internal/storage"
)

func TestSparkline(t *testing.T) {
	out := Sparkline([]float64{1, 5, 9}, 6)
	assert.Equal(t, 6, lipgloss.Width(out))
	assert.Contains(t, out, "▁")
	assert.Contains(t, out, "█")

	lost := Sparkline([]float64{3, -1, 3}, 3)
	assert.Contains(t, lost, "×")
	assert.Equal(t, 3, lipgloss.Width(lost))

	// Only the newest width values are drawn
	trimmed := Sparkline([]float64{-1, 2, 2}, 2)
	assert.NotContains(t, trimmed, "×")

	assert.Equal(t, "    ", Sparkline(nil, 4))
}

func TestStatusStrip(t *testing.T) {
	out := StatusStrip([]storage.Status{
		storage.StatusNormal,
		storage.StatusHighLatency,
		storage.StatusLoss,
	}, 5)
	assert.Equal(t, 3, strings.Count(out, "■"))
	assert.Equal(t, 5, lipgloss.Width(out))
}

func TestTargetColumns(t *testing.T) {
	for _, width := range []int{40, 80, 200} {
		cols := TargetColumns(width)
		require.Len(t, cols, 7)
		assert.Equal(t, "Target", cols[0].Title)
		assert.Equal(t, "History", cols[6].Title)
		assert.GreaterOrEqual(t, cols[0].Width, 12)
		assert.LessOrEqual(t, cols[0].Width, 24)
		assert.GreaterOrEqual(t, cols[6].Width, 10)
	}
	assert.Greater(t, TargetColumns(200)[6].Width, TargetColumns(80)[6].Width)
}

func TestTableRowWidth(t *testing.T) {
	table := NewTable(TargetColumns(100))
	header := table.RenderHeader()
	row := table.RenderRow([]string{"10.0.0.1", "5.0ms"}, true)

	assert.Contains(t, header, "Target")
	assert.Contains(t, row, "10.0.0.1")
	assert.Equal(t, lipgloss.Width(header), lipgloss.Width(row))
	assert.Equal(t, lipgloss.Width(header), lipgloss.Width(table.RenderSeparator()))
}

func TestChart(t *testing.T) {
	from := time.Unix(0, 0)
	to := from.Add(time.Minute)

	empty := Chart(nil, from, to, 40, 4)
	assert.Contains(t, empty, "No data")

	points := []Point{
		{Timestamp: from.Add(10 * time.Second), Value: 20},
		{Timestamp: from.Add(30 * time.Second), Value: -1, Lost: true},
		{Timestamp: from.Add(50 * time.Second), Value: 40},
		{Timestamp: from.Add(2 * time.Minute), Value: 999}, // out of range
	}
	out := Chart(points, from, to, 40, 4)
	assert.NotContains(t, out, "No data")
	assert.Contains(t, out, "×")
	assert.Contains(t, out, "█")
	assert.Contains(t, out, "44ms") // top of axis is max avg plus headroom
	assert.NotContains(t, out, "1.1s")

	// height rows, loss row, axis line, labels
	assert.Len(t, strings.Split(out, "\n"), 4+1+2)
}

func TestChartOnlyLosses(t *testing.T) {
	from := time.Unix(0, 0)
	out := Chart([]Point{{Timestamp: from, Value: -1, Lost: true}}, from, from.Add(time.Hour), 30, 3)
	assert.NotContains(t, out, "No data")
	assert.Contains(t, out, "×")
}
