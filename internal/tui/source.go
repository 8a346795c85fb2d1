package tui

import (
	"time"

	"github.com/wellsgz/netpulse/internal/storage"
)

// Source is what the TUI reads and controls. The IPC client satisfies it directly;
// an in-process engine is adapted with Local.
type Source interface {
	ListTargets() ([]string, error)
	Snapshot(t string) (storage.TargetStats, error)
	AddTarget(t string) error
	RemoveTarget(t string) error
	History(t string, from, to time.Time) ([]storage.DataPoint, error)
}

// Engine is the in-process monitor surface wrapped by Local
type Engine interface {
	ListTargets() []string
	Snapshot(t string) (storage.TargetStats, error)
	AddTarget(t string) error
	RemoveTarget(t string)
	FetchHistory(t string, from, to time.Time) ([]storage.DataPoint, error)
}

type localSource struct {
	engine Engine
}

// Local adapts an in-process engine to Source
func Local(engine Engine) Source {
	return localSource{engine: engine}
}

func (s localSource) ListTargets() ([]string, error) {
	return s.engine.ListTargets(), nil
}

func (s localSource) Snapshot(t string) (storage.TargetStats, error) {
	return s.engine.Snapshot(t)
}

func (s localSource) AddTarget(t string) error {
	return s.engine.AddTarget(t)
}

func (s localSource) RemoveTarget(t string) error {
	s.engine.RemoveTarget(t)
	return nil
}

func (s localSource) History(t string, from, to time.Time) ([]storage.DataPoint, error) {
	return s.engine.FetchHistory(t, from, to)
}
