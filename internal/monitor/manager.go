package monitor

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/wellsgz/netpulse/internal/logging"
	"github.com/wellsgz/netpulse/internal/probe"
	"github.com/wellsgz/netpulse/internal/storage"
)

// Defaults for the probe schedule and anomaly detection
const (
	DefaultInterval         = time.Second
	DefaultTimeout          = 2 * time.Second
	DefaultLatencyThreshold = 200 * time.Millisecond
	DefaultStreakThreshold  = 3

	subscriberBuffer = 100
)

// Event is raised when a target's anomaly streak reaches the threshold
type Event struct {
	Target    string         `json:"target"`
	Timestamp time.Time      `json:"timestamp"`
	Status    storage.Status `json:"status"`
	Streak    int            `json:"streak"`
	Text      string         `json:"text"`
}

// Update is published to subscribers after every probe
type Update struct {
	Target    string          `json:"target"`
	Timestamp time.Time       `json:"timestamp"`
	Result    probe.Result    `json:"result"`
	Status    storage.Status  `json:"status"`
	Summary   storage.Summary `json:"summary"`
	Event     *Event          `json:"event,omitempty"`
}

// Recorder receives every update, typically to export metrics
type Recorder interface {
	Observe(u Update)
	SetTargets(n int)
	Forget(target string)
}

// Option configures a Manager
type Option func(*Manager)

// WithInterval sets the pause between the end of one probe and the start of the next
func WithInterval(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.interval = d
		}
	}
}

// WithTimeout bounds each probe call
func WithTimeout(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.timeout = d
		}
	}
}

// WithLatencyThreshold sets the latency above which a reply counts as an anomaly
func WithLatencyThreshold(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.latencyThreshold = d
		}
	}
}

// WithStreakThreshold sets how many consecutive anomalies raise an event
func WithStreakThreshold(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.streakThreshold = n
		}
	}
}

// WithClock replaces the wall clock, for tests
func WithClock(c clock.Clock) Option {
	return func(m *Manager) {
		if c != nil {
			m.clock = c
		}
	}
}

// WithStorage mirrors every probe into persistent series storage
func WithStorage(s storage.Storage) Option {
	return func(m *Manager) { m.series = s }
}

// WithJournal persists anomaly events
func WithJournal(j storage.Journal) Option {
	return func(m *Manager) { m.journal = j }
}

// WithRecorder attaches a metrics recorder
func WithRecorder(r Recorder) Option {
	return func(m *Manager) { m.recorder = r }
}

// Manager owns the set of monitored targets and their probe loops
type Manager struct {
	prober probe.Prober
	store  *storage.StatsStore

	interval         time.Duration
	timeout          time.Duration
	latencyThreshold time.Duration
	streakThreshold  int
	clock            clock.Clock

	series   storage.Storage
	journal  storage.Journal
	recorder Recorder

	// Lifecycle
	ctx       context.Context
	cancel    context.CancelFunc
	started   chan struct{}
	startOnce sync.Once
	stopOnce  sync.Once
	wg        sync.WaitGroup

	mu      sync.RWMutex
	loops   map[string]*loop
	running bool
	stopped bool

	// Update broadcasting
	subscribers map[chan Update]struct{}
	subMu       sync.RWMutex
	subsClosed  bool
}

// New creates a manager; probing begins after Start
func New(prober probe.Prober, store *storage.StatsStore, opts ...Option) *Manager {
	ctx, cancel := context.WithCancel(context.Background())

	m := &Manager{
		prober:           prober,
		store:            store,
		interval:         DefaultInterval,
		timeout:          DefaultTimeout,
		latencyThreshold: DefaultLatencyThreshold,
		streakThreshold:  DefaultStreakThreshold,
		clock:            clock.New(),
		ctx:              ctx,
		cancel:           cancel,
		started:          make(chan struct{}),
		loops:            make(map[string]*loop),
		subscribers:      make(map[chan Update]struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start releases every loop created so far and all later ones. It is a no-op after Stop.
func (m *Manager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped {
		return
	}
	m.running = true
	m.startOnce.Do(func() { close(m.started) })

	logging.Info("Monitor", "started",
		zap.Int("targets", len(m.loops)),
		zap.Duration("interval", m.interval),
		zap.Duration("timeout", m.timeout))
}

// Stop cancels every loop and waits until all of them, including removed ones still exiting, have returned.
// Subscriber channels are closed afterwards. Stop is idempotent.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() {
		m.mu.Lock()
		m.running = false
		m.stopped = true
		for _, l := range m.loops {
			l.stop()
		}
		m.mu.Unlock()

		m.cancel()
		m.wg.Wait()

		m.subMu.Lock()
		for ch := range m.subscribers {
			close(ch)
			delete(m.subscribers, ch)
		}
		m.subsClosed = true
		m.subMu.Unlock()

		logging.Info("Monitor", "stopped")
	})
}

// Running reports whether the manager has been started and not stopped
func (m *Manager) Running() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.running
}

// AddTarget starts monitoring t. Adding a registered target is a no-op.
func (m *Manager) AddTarget(t string) error {
	if err := ValidateTarget(t); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopped {
		return ErrStopped
	}
	if _, ok := m.loops[t]; ok {
		return nil
	}

	l := newLoop(m, t, m.store.CreateEntry(t))
	m.loops[t] = l
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		l.run()
		m.loopExited(l)
	}()

	if m.recorder != nil {
		m.recorder.SetTargets(len(m.loops))
	}
	logging.Info("Monitor", "target added", zap.String("target", t))
	return nil
}

// RemoveTarget stops monitoring t and discards its statistics. Unknown targets are ignored.
// It returns without waiting for the loop to exit.
func (m *Manager) RemoveTarget(t string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	l, ok := m.loops[t]
	if !ok {
		return
	}
	delete(m.loops, t)
	l.stop()
	m.store.DeleteEntry(t)

	if m.recorder != nil {
		m.recorder.SetTargets(len(m.loops))
	}
	logging.Info("Monitor", "target removed", zap.String("target", t))
}

// loopExited drops the metric series of a removed target once its loop can no longer write
func (m *Manager) loopExited(l *loop) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	// Still registered (manager stopped) or already re-added
	if _, ok := m.loops[l.target]; ok {
		return
	}
	if m.recorder != nil {
		m.recorder.Forget(l.target)
	}
}

// ListTargets returns the registered targets, sorted
func (m *Manager) ListTargets() []string {
	m.mu.RLock()
	targets := make([]string, 0, len(m.loops))
	for t := range m.loops {
		targets = append(targets, t)
	}
	m.mu.RUnlock()

	sort.Strings(targets)
	return targets
}

// Snapshot returns a copy of t's statistics, or storage.ErrNotFound
func (m *Manager) Snapshot(t string) (storage.TargetStats, error) {
	return m.store.Snapshot(t)
}

// SnapshotAll returns snapshots for every registered target
func (m *Manager) SnapshotAll() map[string]storage.TargetStats {
	return m.store.SnapshotAll()
}

// State returns the loop state of a registered target
func (m *Manager) State(t string) (LoopState, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	l, ok := m.loops[t]
	if !ok {
		return StateStopped, false
	}
	return l.State(), true
}

// FetchHistory reads persisted series for t; empty when no series storage is configured
func (m *Manager) FetchHistory(t string, from, to time.Time) ([]storage.DataPoint, error) {
	if m.series == nil {
		return []storage.DataPoint{}, nil
	}
	return m.series.Fetch(t, from, to)
}

// Journal returns the configured event journal, if any
func (m *Manager) Journal() storage.Journal {
	return m.journal
}

// Subscribe returns a channel that receives every update.
// Slow subscribers miss updates rather than stall probing. The channel is closed by Stop.
func (m *Manager) Subscribe() <-chan Update {
	ch := make(chan Update, subscriberBuffer)

	m.subMu.Lock()
	defer m.subMu.Unlock()
	if m.subsClosed {
		close(ch)
		return ch
	}
	m.subscribers[ch] = struct{}{}
	return ch
}

// Unsubscribe removes and closes a subscriber channel
func (m *Manager) Unsubscribe(ch <-chan Update) {
	m.subMu.Lock()
	defer m.subMu.Unlock()

	for subCh := range m.subscribers {
		if subCh == ch {
			close(subCh)
			delete(m.subscribers, subCh)
			return
		}
	}
}

// publish fans an update out to every side output
func (m *Manager) publish(u Update) {
	if m.series != nil {
		if err := m.series.Write(u.Target, u.Timestamp, u.Result.LatencyMs, u.Result.Lost()); err != nil {
			logging.Error("Monitor", "failed to write series", err, zap.String("target", u.Target))
		}
	}

	logging.ProbeResult(u.Target, u.Result.LatencyMs, u.Result.Success, u.Result.Error)

	if u.Event != nil {
		logging.Event(u.Target, u.Event.Text)
		if m.journal != nil {
			rec := storage.EventRecord{
				Target:    u.Target,
				Timestamp: u.Event.Timestamp,
				Status:    u.Event.Status,
				Streak:    u.Event.Streak,
				Message:   u.Event.Text,
			}
			if err := m.journal.Append(rec); err != nil {
				logging.Error("Monitor", "failed to journal event", err, zap.String("target", u.Target))
			}
		}
	}

	if m.recorder != nil {
		m.recorder.Observe(u)
	}

	m.subMu.RLock()
	defer m.subMu.RUnlock()
	for ch := range m.subscribers {
		select {
		case ch <- u:
		default:
			// Buffer full, drop for this subscriber
		}
	}
}
