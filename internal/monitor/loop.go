package monitor

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/wellsgz/netpulse/internal/probe"
	"github.com/wellsgz/netpulse/internal/storage"
)

// LoopState is the lifecycle state of a target's probe loop
type LoopState int32

const (
	StateCreated LoopState = iota
	StateRunning
	StateStopping
	StateStopped
)

func (s LoopState) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// MarshalText implements encoding.TextMarshaler
func (s LoopState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// EventTimeLayout is the timestamp prefix of event lines
const EventTimeLayout = storage.EventTimeLayout

// FormatEvent renders the event line recorded when a streak reaches the threshold
func FormatEvent(ts time.Time, status storage.Status, streak int) string {
	kind := "packet losses"
	if status == storage.StatusHighLatency {
		kind = "high-latency probes"
	}
	return fmt.Sprintf("%s - %d consecutive %s", ts.Format(EventTimeLayout), streak, kind)
}

// Classify maps a probe result to a status
func Classify(r probe.Result, threshold time.Duration) storage.Status {
	if r.Lost() {
		return storage.StatusLoss
	}
	if r.LatencyMs > float64(threshold)/float64(time.Millisecond) {
		return storage.StatusHighLatency
	}
	return storage.StatusNormal
}

// loop probes one target until its context is cancelled.
// It writes only to the entry it was created with, so a re-added target never sees its writes.
type loop struct {
	m      *Manager
	target string
	entry  *storage.Entry

	ctx    context.Context
	cancel context.CancelFunc
	state  atomic.Int32

	// consecutive anomalies; touched only by the loop goroutine
	streak int
}

func newLoop(m *Manager, target string, entry *storage.Entry) *loop {
	ctx, cancel := context.WithCancel(m.ctx)
	l := &loop{
		m:      m,
		target: target,
		entry:  entry,
		ctx:    ctx,
		cancel: cancel,
	}
	l.state.Store(int32(StateCreated))
	return l
}

func (l *loop) State() LoopState {
	return LoopState(l.state.Load())
}

// stop requests cancellation without waiting
func (l *loop) stop() {
	l.state.CompareAndSwap(int32(StateCreated), int32(StateStopping))
	l.state.CompareAndSwap(int32(StateRunning), int32(StateStopping))
	l.cancel()
}

func (l *loop) run() {
	defer l.state.Store(int32(StateStopped))

	// Loops added before Start stay in Created until the manager starts
	select {
	case <-l.m.started:
	case <-l.ctx.Done():
		return
	}
	l.state.CompareAndSwap(int32(StateCreated), int32(StateRunning))

	for {
		if l.ctx.Err() != nil {
			return
		}

		l.tick()

		timer := l.m.clock.Timer(l.m.interval)
		select {
		case <-l.ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

func (l *loop) tick() {
	now := l.m.clock.Now()

	pctx, cancel := context.WithTimeout(l.ctx, l.m.timeout)
	result := l.probe(pctx)
	cancel()

	// Removed or stopped while probing: the entry may already be gone
	if l.ctx.Err() != nil {
		return
	}

	status := Classify(result, l.m.latencyThreshold)

	var event *Event
	if status.IsAnomaly() {
		l.streak++
		if l.streak == l.m.streakThreshold {
			event = &Event{
				Target:    l.target,
				Timestamp: now,
				Status:    status,
				Streak:    l.streak,
				Text:      FormatEvent(now, status, l.streak),
			}
		}
	} else {
		l.streak = 0
	}

	obs := storage.Observation{
		Timestamp:  now,
		LatencyMs:  result.LatencyMs,
		HasLatency: !result.Lost(),
		Status:     status,
		Streak:     l.streak,
	}
	if event != nil {
		obs.Event = event.Text
	}
	l.entry.Record(obs)

	l.m.publish(Update{
		Target:    l.target,
		Timestamp: now,
		Result:    result,
		Status:    status,
		Summary:   l.entry.Summary(),
		Event:     event,
	})
}

// probe calls the prober, turning a panic into a lost result
func (l *loop) probe(ctx context.Context) (result probe.Result) {
	defer func() {
		if r := recover(); r != nil {
			result = probe.LostResult(l.target, fmt.Errorf("prober panic: %v", r))
		}
	}()
	return l.m.prober.Probe(ctx, l.target)
}
