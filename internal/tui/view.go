package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/wellsgz/netpulse/internal/storage"
	"github.com/wellsgz/netpulse/internal/tui/components"
)

const (
	chartHeight   = 8
	maxChartWidth = 100
)

// View renders the current view
func (m Model) View() string {
	if !m.ready {
		return "Initializing..."
	}

	if m.view == DetailView && m.SelectedTarget() != nil {
		return m.renderDetailView()
	}
	return m.renderListView()
}

// renderListView renders the target table
func (m Model) renderListView() string {
	var b strings.Builder

	b.WriteString(m.renderHeader())
	b.WriteString("\n")
	b.WriteString(m.renderStatusLine())
	b.WriteString("\n")

	if len(m.targets) == 0 {
		b.WriteString(MutedStyle.Render("  No targets. Press 'a' to add one."))
		b.WriteString("\n")
	} else {
		b.WriteString(m.renderTable())
		b.WriteString("\n")
	}

	b.WriteString("\n")
	if m.adding {
		b.WriteString(m.renderInput())
	} else {
		b.WriteString(renderHelp([][2]string{
			{"↑/↓", "navigate"},
			{"Enter", "details"},
			{"a", "add"},
			{"d", "remove"},
			{"r", "refresh"},
			{"q", "quit"},
		}))
	}

	return b.String()
}

// renderHeader renders the application header
func (m Model) renderHeader() string {
	title := TitleStyle.Render(" netpulse ")
	subtitle := SubtitleStyle.Render("Target Monitor")
	left := lipgloss.JoinHorizontal(lipgloss.Center, title, " ", subtitle)

	right := MutedStyle.Render(fmt.Sprintf("%s  %d targets", m.title, len(m.targets)))

	spacing := max(m.width-lipgloss.Width(left)-lipgloss.Width(right)-2, 1)
	return lipgloss.JoinHorizontal(lipgloss.Center, left, strings.Repeat(" ", spacing), right)
}

// renderStatusLine shows the last error or action result, or a blank line
func (m Model) renderStatusLine() string {
	switch {
	case m.err != nil:
		return ErrorStyle.Render("Error: " + m.err.Error())
	case m.notice != "":
		return NoticeStyle.Render(m.notice)
	}
	return ""
}

func (m Model) renderInput() string {
	prompt := HelpKeyStyle.Render("Add target: ")
	field := InputStyle.Render(string(m.input) + "█")
	hint := HelpStyle.Render("Enter confirm  Esc cancel")
	return prompt + field + "  " + hint
}

// renderTable renders the targets table
func (m Model) renderTable() string {
	columns := components.TargetColumns(m.width)
	table := components.NewTable(columns)
	sparkWidth := columns[len(columns)-1].Width

	rows := []string{table.RenderHeader(), table.RenderSeparator()}
	for i, t := range m.targets {
		rows = append(rows, table.RenderRow(m.targetRow(t, columns[0].Width, sparkWidth), i == m.selectedIdx))
	}
	return strings.Join(rows, "\n")
}

// targetRow renders the cells of one target
func (m Model) targetRow(t TargetState, nameWidth, sparkWidth int) []string {
	name := t.Name
	if len([]rune(name)) > nameWidth {
		name = string([]rune(name)[:nameWidth-1]) + "…"
	}

	if t.Err != nil {
		return []string{name, LossStyle.Render("error")}
	}

	s := t.Stats
	if s.TotalProbes == 0 {
		return []string{name, MutedStyle.Render("--"), MutedStyle.Render("--"), "", "0", "0", ""}
	}

	streak := fmt.Sprintf("%d", s.Streak)
	if s.Streak > 0 {
		streak = LossStyle.Render(streak)
	}

	return []string{
		name,
		FormatLatency(s.LastMs),
		FormatLatency(s.AvgLatency),
		FormatRate(s.AnomalyRate),
		fmt.Sprintf("%d", s.TotalProbes),
		streak,
		components.Sparkline(recentLatencies(s, sparkWidth), sparkWidth),
	}
}

// recentLatencies merges latency samples and losses into one chronological series; losses are -1
func recentLatencies(s storage.TargetStats, n int) []float64 {
	points := chartPoints(s)
	if len(points) > n {
		points = points[len(points)-n:]
	}
	out := make([]float64, len(points))
	for i, p := range points {
		out[i] = p.Value
		if p.Lost {
			out[i] = -1
		}
	}
	return out
}

// chartPoints merges the retained latencies with the loss statuses by timestamp
func chartPoints(s storage.TargetStats) []components.Point {
	points := make([]components.Point, 0, len(s.Latencies)+len(s.Statuses))
	li := 0
	for _, st := range s.Statuses {
		for li < len(s.Latencies) && !s.Latencies[li].Timestamp.After(st.Timestamp) {
			points = append(points, components.Point{Timestamp: s.Latencies[li].Timestamp, Value: s.Latencies[li].Ms})
			li++
		}
		if st.Status == storage.StatusLoss {
			points = append(points, components.Point{Timestamp: st.Timestamp, Value: -1, Lost: true})
		}
	}
	for ; li < len(s.Latencies); li++ {
		points = append(points, components.Point{Timestamp: s.Latencies[li].Timestamp, Value: s.Latencies[li].Ms})
	}
	return points
}

// renderDetailView renders the detail view for the selected target
func (m Model) renderDetailView() string {
	t := m.SelectedTarget()
	s := t.Stats

	var b strings.Builder

	header := TitleStyle.Render(" " + t.Name + " ")
	back := MutedStyle.Render("[Esc] back")
	spacing := max(m.width-lipgloss.Width(header)-lipgloss.Width(back)-2, 1)
	b.WriteString(lipgloss.JoinHorizontal(lipgloss.Center, header, strings.Repeat(" ", spacing), back))
	b.WriteString("\n")
	b.WriteString(m.renderStatusLine())
	b.WriteString("\n")

	b.WriteString(m.renderCounters(s))
	b.WriteString("\n")

	b.WriteString(SectionStyle.Render("Latency"))
	b.WriteString("  ")
	b.WriteString(renderTabs(m.timeRange))
	b.WriteString("\n")
	b.WriteString(m.renderChart(s))
	b.WriteString("\n\n")

	width := m.chartWidth()
	b.WriteString(SectionStyle.Render("Status"))
	b.WriteString("\n  ")
	statuses := make([]storage.Status, len(s.Statuses))
	for i, st := range s.Statuses {
		statuses[i] = st.Status
	}
	b.WriteString(components.StatusStrip(statuses, width-2))
	b.WriteString("\n\n")

	b.WriteString(SectionStyle.Render(fmt.Sprintf("Last %d events", DetailEvents)))
	b.WriteString("\n")
	events := s.RecentEvents(DetailEvents)
	if len(events) == 0 {
		b.WriteString(MutedStyle.Render("  none"))
		b.WriteString("\n")
	}
	for i := len(events) - 1; i >= 0; i-- {
		b.WriteString("  ")
		b.WriteString(events[i])
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(renderHelp([][2]string{
		{"Esc", "back"},
		{"↑/↓", "targets"},
		{"0-3", "range"},
		{"Tab", "cycle"},
		{"d", "remove"},
		{"q", "quit"},
	}))

	return b.String()
}

// renderCounters renders lifetime counters and, for persisted ranges, the period summary
func (m Model) renderCounters(s storage.TargetStats) string {
	var b strings.Builder

	b.WriteString("  ")
	b.WriteString(LabelStyle.Render("Probes:"))
	b.WriteString(fmt.Sprintf("%-8d", s.TotalProbes))
	b.WriteString(LabelStyle.Render("Anomalies:"))
	b.WriteString(fmt.Sprintf("%-8d", s.TotalAnomalies))
	b.WriteString(LabelStyle.Render("Rate:"))
	b.WriteString(FormatRate(s.AnomalyRate))
	b.WriteString("\n  ")

	b.WriteString(LabelStyle.Render("Last:"))
	b.WriteString(FormatLatency(s.LastMs))
	b.WriteString("  ")
	b.WriteString(LabelStyle.Render("Avg:"))
	b.WriteString(FormatLatency(s.AvgLatency))
	b.WriteString("  ")
	b.WriteString(LabelStyle.Render("P95:"))
	b.WriteString(FormatLatency(s.P95Ms))
	b.WriteString("  ")
	b.WriteString(LabelStyle.Render("Jitter:"))
	b.WriteString(fmt.Sprintf("%.2fms", s.JitterMs))
	b.WriteString("\n")

	if n := len(s.Statuses); n > 0 {
		last := s.Statuses[n-1].Status
		b.WriteString("  ")
		b.WriteString(LabelStyle.Render("Status:"))
		b.WriteString(StatusStyle(last).Width(14).Render(last.String()))
		b.WriteString(LabelStyle.Render("Streak:"))
		b.WriteString(fmt.Sprintf("%-8d", s.Streak))
		b.WriteString(LabelStyle.Render("Updated:"))
		b.WriteString(s.LastUpdate.Format("15:04:05"))
		b.WriteString("\n")
	}

	if m.timeRange != TimeRangeRealtime {
		b.WriteString("  ")
		b.WriteString(LabelStyle.Render(m.timeRange.String() + ":"))
		switch {
		case m.loading:
			b.WriteString(MutedStyle.Render("loading..."))
		case m.periodStats == nil:
			b.WriteString(MutedStyle.Render("no persisted data"))
		default:
			p := m.periodStats
			b.WriteString(fmt.Sprintf("min %s  avg %s  p95 %s  max %s  loss %s  (%d points)",
				FormatLatency(p.MinMs), FormatLatency(p.AvgMs), FormatLatency(p.P95Ms),
				FormatLatency(p.MaxMs), FormatRate(p.LossPct), p.Points))
		}
		b.WriteString("\n")
	}

	return b.String()
}

func (m Model) chartWidth() int {
	return min(max(m.width-2, 20), maxChartWidth)
}

// renderChart draws retained samples for realtime, persisted series otherwise
func (m Model) renderChart(s storage.TargetStats) string {
	width := m.chartWidth()

	if m.timeRange == TimeRangeRealtime {
		points := chartPoints(s)
		if len(points) == 0 {
			now := time.Now()
			return components.Chart(nil, now.Add(-time.Minute), now, width, chartHeight)
		}
		return components.Chart(points, points[0].Timestamp, points[len(points)-1].Timestamp, width, chartHeight)
	}

	if m.loading {
		return MutedStyle.Render("  Loading...")
	}

	points := make([]components.Point, len(m.history))
	for i, dp := range m.history {
		points[i] = components.Point{
			Timestamp: dp.Timestamp,
			Value:     dp.Value,
			Lost:      dp.Loss >= 0.5,
		}
	}
	now := time.Now()
	return components.Chart(points, now.Add(-m.timeRange.Duration()), now, width, chartHeight)
}

// renderTabs renders the time range selector
func renderTabs(selected TimeRange) string {
	tabs := make([]string, len(timeRanges))
	for i, tr := range timeRanges {
		if tr == selected {
			tabs[i] = TabSelectedStyle.Render(tr.String())
		} else {
			tabs[i] = TabStyle.Render(tr.String())
		}
	}
	return "[" + strings.Join(tabs, "|") + "]"
}

// renderHelp renders a key/description footer
func renderHelp(keys [][2]string) string {
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = HelpKeyStyle.Render(k[0]) + HelpStyle.Render(k[1])
	}
	return strings.Join(parts, " ")
}
