package components

import (
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/wellsgz/netpulse/internal/storage"
)

// Sparkline block characters from lowest to highest
var sparkBlocks = []rune{'▁', '▂', '▃', '▄', '▅', '▆', '▇', '█'}

const (
	lossMark   = '×'
	statusMark = '■'
)

var (
	sparkStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#06B6D4"))
	lossStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#EF4444"))
	warnStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#F59E0B"))
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#10B981"))
)

// tail returns at most the last n elements of s
func tail[T any](s []T, n int) []T {
	if n >= 0 && len(s) > n {
		return s[len(s)-n:]
	}
	return s
}

// pad right-fills a rendered row of n visible cells up to width
func pad(b *strings.Builder, n, width int) string {
	if n < width {
		b.WriteString(strings.Repeat(" ", width-n))
	}
	return b.String()
}

// Sparkline renders the newest width latency values scaled between their own min and max.
// Negative values are losses and render as a red cross.
func Sparkline(values []float64, width int) string {
	values = tail(values, width)

	lo, hi := 0.0, 0.0
	seen := false
	for _, v := range values {
		if v < 0 {
			continue
		}
		if !seen || v < lo {
			lo = v
		}
		if !seen || v > hi {
			hi = v
		}
		seen = true
	}
	span := hi - lo
	if span == 0 {
		span = 1
	}

	var b strings.Builder
	for _, v := range values {
		if v < 0 {
			b.WriteString(lossStyle.Render(string(lossMark)))
			continue
		}
		idx := int((v - lo) / span * float64(len(sparkBlocks)-1))
		idx = max(0, min(idx, len(sparkBlocks)-1))
		b.WriteString(sparkStyle.Render(string(sparkBlocks[idx])))
	}
	return pad(&b, len(values), width)
}

// StatusStrip renders the newest width statuses as a green/yellow/red strip
func StatusStrip(statuses []storage.Status, width int) string {
	statuses = tail(statuses, width)

	var b strings.Builder
	for _, s := range statuses {
		style := okStyle
		switch s {
		case storage.StatusHighLatency:
			style = warnStyle
		case storage.StatusLoss:
			style = lossStyle
		}
		b.WriteString(style.Render(string(statusMark)))
	}
	return pad(&b, len(statuses), width)
}
