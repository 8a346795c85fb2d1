package tui

import (
	"errors"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/wellsgz/netpulse/internal/storage"
)

// Message types
type (
	// tickMsg triggers a poll of the source
	tickMsg time.Time

	// refreshMsg carries freshly polled snapshots
	refreshMsg struct {
		targets []TargetState
		err     error
	}

	// actionMsg reports the outcome of an add or remove
	actionMsg struct {
		notice string
		err    error
	}

	// historyMsg carries persisted series for the detail chart
	historyMsg struct {
		target string
		tr     TimeRange
		data   []storage.DataPoint
		err    error
	}
)

// Init polls once immediately and starts the refresh ticker
func (m Model) Init() tea.Cmd {
	return tea.Batch(refresh(m.source), tick())
}

// Update handles messages and updates the model
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		m.notice, m.err = "", nil
		if m.adding {
			return m.handleInputKeys(msg)
		}
		if m.view == DetailView {
			return m.handleDetailViewKeys(msg)
		}
		return m.handleListViewKeys(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.ready = true
		return m, nil

	case tickMsg:
		return m, tea.Batch(refresh(m.source), tick())

	case refreshMsg:
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		m.setTargets(msg.targets)
		return m, nil

	case actionMsg:
		m.notice, m.err = msg.notice, msg.err
		return m, refresh(m.source)

	case historyMsg:
		// Drop answers for a target or range that is no longer shown
		if msg.target != m.historyFor || msg.tr != m.timeRange {
			return m, nil
		}
		m.loading = false
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		m.history = msg.data
		m.periodStats = calculatePeriodStats(msg.data)
		return m, nil
	}

	return m, nil
}

// handleInputKeys edits the add-target prompt
func (m Model) handleInputKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyCtrlC:
		return m, tea.Quit

	case tea.KeyEsc:
		m.adding = false
		m.input = nil

	case tea.KeyEnter:
		target := strings.TrimSpace(string(m.input))
		m.adding = false
		m.input = nil
		if target != "" {
			return m, addTarget(m.source, target)
		}

	case tea.KeyBackspace:
		if len(m.input) > 0 {
			m.input = m.input[:len(m.input)-1]
		}

	case tea.KeyRunes, tea.KeySpace:
		m.input = append(m.input, msg.Runes...)
	}
	return m, nil
}

// handleListViewKeys handles keys in list view
func (m Model) handleListViewKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		return m, tea.Quit

	case "up", "k":
		if m.selectedIdx > 0 {
			m.selectedIdx--
		}

	case "down", "j":
		if m.selectedIdx < len(m.targets)-1 {
			m.selectedIdx++
		}

	case "home":
		m.selectedIdx = 0

	case "end":
		m.selectedIdx = max(len(m.targets)-1, 0)

	case "enter":
		if m.SelectedTarget() != nil {
			m.view = DetailView
			return m.setTimeRange(TimeRangeRealtime)
		}

	case "a":
		m.adding = true
		m.input = nil

	case "d", "delete":
		if t := m.SelectedTarget(); t != nil {
			return m, removeTarget(m.source, t.Name)
		}

	case "r":
		return m, refresh(m.source)
	}

	return m, nil
}

// handleDetailViewKeys handles keys in detail view
func (m Model) handleDetailViewKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		return m, tea.Quit

	case "esc", "backspace":
		m.view = ListView

	case "up", "k":
		if m.selectedIdx > 0 {
			m.selectedIdx--
			return m.setTimeRange(m.timeRange)
		}

	case "down", "j":
		if m.selectedIdx < len(m.targets)-1 {
			m.selectedIdx++
			return m.setTimeRange(m.timeRange)
		}

	case "d", "delete":
		if t := m.SelectedTarget(); t != nil {
			m.view = ListView
			return m, removeTarget(m.source, t.Name)
		}

	case "r":
		return m.setTimeRange(m.timeRange)

	case "0":
		return m.setTimeRange(TimeRangeRealtime)
	case "1":
		return m.setTimeRange(TimeRange1Hour)
	case "2":
		return m.setTimeRange(TimeRange1Day)
	case "3":
		return m.setTimeRange(TimeRange1Week)

	case "tab":
		return m.setTimeRange(m.timeRange.Next())
	}

	return m, nil
}

// setTimeRange switches the detail chart and fetches persisted series when needed
func (m Model) setTimeRange(tr TimeRange) (tea.Model, tea.Cmd) {
	m.timeRange = tr
	m.history = nil
	m.periodStats = nil
	m.loading = false
	m.historyFor = ""

	t := m.SelectedTarget()
	if t == nil || tr == TimeRangeRealtime {
		return m, nil
	}

	m.historyFor = t.Name
	m.loading = true
	return m, fetchHistory(m.source, t.Name, tr)
}

func tick() tea.Cmd {
	return tea.Tick(RefreshInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// refresh polls every target's snapshot off the UI goroutine
func refresh(source Source) tea.Cmd {
	return func() tea.Msg {
		names, err := source.ListTargets()
		if err != nil {
			return refreshMsg{err: fmt.Errorf("failed to list targets: %w", err)}
		}

		targets := make([]TargetState, 0, len(names))
		for _, name := range names {
			stats, err := source.Snapshot(name)
			if errors.Is(err, storage.ErrNotFound) {
				// Removed since the listing
				continue
			}
			targets = append(targets, TargetState{Name: name, Stats: stats, Err: err})
		}
		return refreshMsg{targets: targets}
	}
}

func addTarget(source Source, target string) tea.Cmd {
	return func() tea.Msg {
		if err := source.AddTarget(target); err != nil {
			return actionMsg{err: err}
		}
		return actionMsg{notice: "added " + target}
	}
}

func removeTarget(source Source, target string) tea.Cmd {
	return func() tea.Msg {
		if err := source.RemoveTarget(target); err != nil {
			return actionMsg{err: err}
		}
		return actionMsg{notice: "removed " + target}
	}
}

func fetchHistory(source Source, target string, tr TimeRange) tea.Cmd {
	return func() tea.Msg {
		now := time.Now()
		data, err := source.History(target, now.Add(-tr.Duration()), now)
		return historyMsg{target: target, tr: tr, data: data, err: err}
	}
}
