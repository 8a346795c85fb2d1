package components

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
)

const axisWidth = 8

var axisStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#6B7280"))

// Point is one latency reading on a chart
type Point struct {
	Timestamp time.Time
	Value     float64 // ms; NaN or negative when there is no reading
	Lost      bool
}

// Chart renders points between from and to as a bar chart of height rows.
// Each column averages the readings falling into its time bucket; columns with a loss get a marker underneath.
func Chart(points []Point, from, to time.Time, width, height int) string {
	plotWidth := max(width-axisWidth, 10)
	height = max(height, 2)

	sums := make([]float64, plotWidth)
	counts := make([]int, plotWidth)
	lost := make([]bool, plotWidth)
	anyLoss := false

	span := to.Sub(from)
	if span <= 0 {
		span = time.Second
	}
	for _, p := range points {
		if p.Timestamp.Before(from) || p.Timestamp.After(to) {
			continue
		}
		col := int(float64(p.Timestamp.Sub(from)) / float64(span) * float64(plotWidth-1))
		col = max(0, min(col, plotWidth-1))
		if p.Lost {
			lost[col] = true
			anyLoss = true
		}
		if p.Value >= 0 && !math.IsNaN(p.Value) {
			sums[col] += p.Value
			counts[col]++
		}
	}

	top := 0.0
	avgs := make([]float64, plotWidth)
	for i := range avgs {
		if counts[i] == 0 {
			avgs[i] = -1
			continue
		}
		avgs[i] = sums[i] / float64(counts[i])
		top = math.Max(top, avgs[i])
	}

	var b strings.Builder
	if top == 0 && !anyLoss {
		for row := 0; row < height; row++ {
			b.WriteString(axisStyle.Render(strings.Repeat(" ", axisWidth-1) + "│"))
			if row == height/2 {
				b.WriteString(lipgloss.PlaceHorizontal(plotWidth, lipgloss.Center, axisStyle.Render("No data")))
			} else {
				b.WriteString(strings.Repeat(" ", plotWidth))
			}
			b.WriteString("\n")
		}
		b.WriteString(xAxis(from, to, plotWidth))
		return b.String()
	}

	top = math.Max(top*1.1, 1)
	levels := height * len(sparkBlocks)

	for row := 0; row < height; row++ {
		switch row {
		case 0:
			b.WriteString(axisStyle.Render(fmt.Sprintf("%*s┤", axisWidth-1, shortMs(top))))
		case height - 1:
			b.WriteString(axisStyle.Render(fmt.Sprintf("%*s┤", axisWidth-1, "0")))
		default:
			b.WriteString(axisStyle.Render(strings.Repeat(" ", axisWidth-1) + "│"))
		}

		base := (height - 1 - row) * len(sparkBlocks)
		for col := 0; col < plotWidth; col++ {
			if avgs[col] < 0 {
				b.WriteRune(' ')
				continue
			}
			// Every reading shows at least the lowest block
			fill := max(int(avgs[col]/top*float64(levels)), 1) - base
			switch {
			case fill <= 0:
				b.WriteRune(' ')
			case fill >= len(sparkBlocks):
				b.WriteString(sparkStyle.Render(string(sparkBlocks[len(sparkBlocks)-1])))
			default:
				b.WriteString(sparkStyle.Render(string(sparkBlocks[fill-1])))
			}
		}
		b.WriteString("\n")
	}

	if anyLoss {
		b.WriteString(strings.Repeat(" ", axisWidth))
		for _, l := range lost {
			if l {
				b.WriteString(lossStyle.Render(string(lossMark)))
			} else {
				b.WriteRune(' ')
			}
		}
		b.WriteString("\n")
	}

	b.WriteString(xAxis(from, to, plotWidth))
	return b.String()
}

func xAxis(from, to time.Time, plotWidth int) string {
	var b strings.Builder
	b.WriteString(axisStyle.Render(strings.Repeat(" ", axisWidth-1) + "└" + strings.Repeat("─", plotWidth)))
	b.WriteString("\n")

	span := to.Sub(from)
	left, right := timeLabel(from, span), timeLabel(to, span)
	gap := max(plotWidth-len(left)-len(right), 1)

	b.WriteString(strings.Repeat(" ", axisWidth))
	b.WriteString(axisStyle.Render(left + strings.Repeat(" ", gap) + right))
	return b.String()
}

func timeLabel(t time.Time, span time.Duration) string {
	switch {
	case span <= time.Hour:
		return t.Format("15:04:05")
	case span <= 24*time.Hour:
		return t.Format("15:04")
	default:
		return t.Format("Jan 02 15:04")
	}
}

func shortMs(ms float64) string {
	if ms >= 1000 {
		return fmt.Sprintf("%.1fs", ms/1000)
	}
	return fmt.Sprintf("%.0fms", ms)
}
