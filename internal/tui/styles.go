package tui

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"

	"github.com/wellsgz/netpulse/internal/storage"
)

// Color palette
var (
	ColorPrimary   = lipgloss.Color("#7C3AED") // Purple
	ColorSecondary = lipgloss.Color("#06B6D4") // Cyan
	ColorSuccess   = lipgloss.Color("#10B981") // Green
	ColorWarning   = lipgloss.Color("#F59E0B") // Yellow
	ColorDanger    = lipgloss.Color("#EF4444") // Red
	ColorMuted     = lipgloss.Color("#6B7280") // Gray
	ColorBgLight   = lipgloss.Color("#374151")
	ColorText      = lipgloss.Color("#F9FAFB")
)

var (
	TitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorText).
			Background(ColorPrimary).
			Padding(0, 1)

	SubtitleStyle = lipgloss.NewStyle().
			Foreground(ColorMuted).
			Padding(0, 1)

	SectionStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorSecondary)

	LabelStyle = lipgloss.NewStyle().
			Foreground(ColorMuted).
			Width(10)

	MutedStyle = lipgloss.NewStyle().Foreground(ColorMuted)

	LatencyGoodStyle = lipgloss.NewStyle().Foreground(ColorSuccess)
	LatencyWarnStyle = lipgloss.NewStyle().Foreground(ColorWarning)
	LatencyBadStyle  = lipgloss.NewStyle().Foreground(ColorDanger)
	LossStyle        = lipgloss.NewStyle().Foreground(ColorDanger)
	SuccessStyle     = lipgloss.NewStyle().Foreground(ColorSuccess)

	HelpStyle = lipgloss.NewStyle().
			Foreground(ColorMuted).
			Padding(0, 1)

	HelpKeyStyle = lipgloss.NewStyle().
			Foreground(ColorSecondary).
			Bold(true)

	InputStyle = lipgloss.NewStyle().
			Foreground(ColorText).
			Background(ColorBgLight).
			Padding(0, 1)

	ErrorStyle = lipgloss.NewStyle().
			Foreground(ColorDanger).
			Background(lipgloss.Color("#3F1F1F")).
			Padding(0, 1)

	NoticeStyle = lipgloss.NewStyle().
			Foreground(ColorSuccess).
			Padding(0, 1)

	TabSelectedStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(ColorText).
				Background(ColorPrimary).
				Padding(0, 1)

	TabStyle = lipgloss.NewStyle().
			Foreground(ColorMuted).
			Padding(0, 1)
)

// LatencyStyle returns the style for a latency value; negative means lost
func LatencyStyle(ms float64) lipgloss.Style {
	switch {
	case ms < 0:
		return LossStyle
	case ms < 50:
		return LatencyGoodStyle
	case ms < 200:
		return LatencyWarnStyle
	default:
		return LatencyBadStyle
	}
}

// RateStyle returns the style for an anomaly or loss percentage
func RateStyle(pct float64) lipgloss.Style {
	switch {
	case pct == 0:
		return SuccessStyle
	case pct < 5:
		return LatencyWarnStyle
	default:
		return LossStyle
	}
}

// StatusStyle colors a probe classification
func StatusStyle(s storage.Status) lipgloss.Style {
	switch s {
	case storage.StatusHighLatency:
		return LatencyWarnStyle
	case storage.StatusLoss:
		return LossStyle
	default:
		return SuccessStyle
	}
}

// FormatLatency formats a latency value with color
func FormatLatency(ms float64) string {
	if ms < 0 {
		return LossStyle.Render("--")
	}
	return LatencyStyle(ms).Render(formatMs(ms))
}

// FormatRate formats a percentage with color
func FormatRate(pct float64) string {
	return RateStyle(pct).Render(fmt.Sprintf("%.1f%%", pct))
}

func formatMs(ms float64) string {
	switch {
	case ms < 1:
		return "<1ms"
	case ms < 10:
		return fmt.Sprintf("%.1fms", ms)
	default:
		return fmt.Sprintf("%dms", int(ms))
	}
}
