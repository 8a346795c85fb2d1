package components

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Column defines a table column
type Column struct {
	Title string
	Width int
	Align lipgloss.Position
}

// Table renders fixed-width rows of pre-styled cells
type Table struct {
	Columns       []Column
	HeaderStyle   lipgloss.Style
	RowStyle      lipgloss.Style
	SelectedStyle lipgloss.Style
}

// NewTable creates a new table with the given columns
func NewTable(columns []Column) *Table {
	return &Table{
		Columns: columns,
		HeaderStyle: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#06B6D4")).
			Padding(0, 1),
		RowStyle: lipgloss.NewStyle().
			Padding(0, 1),
		SelectedStyle: lipgloss.NewStyle().
			Background(lipgloss.Color("#374151")).
			Foreground(lipgloss.Color("#F9FAFB")).
			Padding(0, 1),
	}
}

// RenderHeader renders the column titles
func (t *Table) RenderHeader() string {
	titles := make([]string, len(t.Columns))
	for i, col := range t.Columns {
		titles[i] = col.Title
	}
	return t.render(titles, t.HeaderStyle)
}

// RenderRow renders one row; missing cells are left blank
func (t *Table) RenderRow(values []string, selected bool) string {
	style := t.RowStyle
	if selected {
		style = t.SelectedStyle
	}
	return t.render(values, style)
}

func (t *Table) render(values []string, style lipgloss.Style) string {
	cells := make([]string, len(t.Columns))
	for i, col := range t.Columns {
		var value string
		if i < len(values) {
			value = values[i]
		}
		// Width counts visible cells, so pre-colored values align too
		cells[i] = style.Render(lipgloss.PlaceHorizontal(col.Width, col.Align, value))
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, cells...)
}

// RenderSeparator renders a rule as wide as the table
func (t *Table) RenderSeparator() string {
	total := 0
	for _, col := range t.Columns {
		total += col.Width + 2 // cell padding
	}
	return lipgloss.NewStyle().
		Foreground(lipgloss.Color("#6B7280")).
		Render(strings.Repeat("─", total))
}

// TargetColumns lays out the target list for a terminal width.
// The sparkline takes whatever the fixed columns leave.
func TargetColumns(width int) []Column {
	fixed := []Column{
		{Title: "Last", Width: 7, Align: lipgloss.Right},
		{Title: "Avg", Width: 7, Align: lipgloss.Right},
		{Title: "Anomaly", Width: 7, Align: lipgloss.Right},
		{Title: "Probes", Width: 7, Align: lipgloss.Right},
		{Title: "Streak", Width: 6, Align: lipgloss.Right},
	}

	used := 0
	for _, col := range fixed {
		used += col.Width + 2
	}
	remaining := width - used - 4 // target and sparkline padding

	targetWidth := min(max(remaining/3, 12), 24)
	sparkWidth := max(remaining-targetWidth, 10)

	columns := []Column{{Title: "Target", Width: targetWidth, Align: lipgloss.Left}}
	columns = append(columns, fixed...)
	return append(columns, Column{Title: "History", Width: sparkWidth, Align: lipgloss.Left})
}
