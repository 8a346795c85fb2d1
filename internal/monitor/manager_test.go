package monitor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wellsgz/netpulse/internal/logging"
	"github.com/wellsgz/netpulse/internal/probe"
	"github.com/wellsgz/netpulse/internal/storage"
)

func TestMain(m *testing.M) {
	logging.SetWriter(io.Discard)
	os.Exit(m.Run())
}

const waitFor = 2 * time.Second

// scripted replays steps for each target, then blocks until the loop is cancelled
type scripted struct {
	mu    sync.Mutex
	steps []probe.Result
	calls map[string]int
}

func newScripted(steps ...probe.Result) *scripted {
	return &scripted{steps: steps, calls: make(map[string]int)}
}

func (s *scripted) Probe(ctx context.Context, target string) probe.Result {
	s.mu.Lock()
	n := s.calls[target]
	s.calls[target]++
	s.mu.Unlock()

	if n < len(s.steps) {
		r := s.steps[n]
		r.Target = target
		return r
	}
	<-ctx.Done()
	return probe.LostResult(target, ctx.Err())
}

func lost() probe.Result { return probe.LostResult("", errors.New("timeout")) }

func reply(ms int) probe.Result {
	return probe.SingleResult("", time.Duration(ms)*time.Millisecond)
}

var alwaysUp = probe.ProberFunc(func(ctx context.Context, target string) probe.Result {
	return probe.SingleResult(target, 5*time.Millisecond)
})

func newTestManager(t *testing.T, p probe.Prober, opts ...Option) *Manager {
	t.Helper()
	base := []Option{WithInterval(time.Millisecond), WithTimeout(time.Hour)}
	m := New(p, storage.NewStatsStore(storage.DefaultCapacities()), append(base, opts...)...)
	t.Cleanup(m.Stop)
	return m
}

func waitProbes(t *testing.T, m *Manager, target string, n uint64) storage.TargetStats {
	t.Helper()
	var snap storage.TargetStats
	require.Eventually(t, func() bool {
		var err error
		snap, err = m.Snapshot(target)
		return err == nil && snap.TotalProbes >= n
	}, waitFor, time.Millisecond)
	return snap
}

func TestThreeLossesRaiseOneEvent(t *testing.T) {
	m := newTestManager(t, newScripted(lost(), lost(), lost()))
	m.Start()
	require.NoError(t, m.AddTarget("10.0.0.1"))

	snap := waitProbes(t, m, "10.0.0.1", 3)

	assert.EqualValues(t, 3, snap.TotalProbes)
	assert.EqualValues(t, 3, snap.TotalAnomalies)
	assert.Equal(t, 100.0, snap.AnomalyRate)
	assert.Equal(t, 3, snap.Streak)
	assert.Empty(t, snap.Latencies)
	require.Len(t, snap.Events, 1)
	assert.Contains(t, snap.Events[0], "3 consecutive packet losses")
}

func TestEventFiresOnlyAtThreshold(t *testing.T) {
	steps := []probe.Result{
		lost(), lost(), lost(), lost(), // event at 3, none at 4
		reply(20),                           // reset
		reply(300), reply(250), reply(900), // high latency streak, event at 3
	}
	m := newTestManager(t, newScripted(steps...))
	m.Start()
	require.NoError(t, m.AddTarget("10.0.0.1"))

	snap := waitProbes(t, m, "10.0.0.1", uint64(len(steps)))

	require.Len(t, snap.Events, 2)
	assert.Contains(t, snap.Events[0], "3 consecutive packet losses")
	assert.Contains(t, snap.Events[1], "3 consecutive high-latency probes")
	assert.EqualValues(t, 7, snap.TotalAnomalies)
	assert.Equal(t, 87.5, snap.AnomalyRate)

	// Latencies are kept regardless of status
	require.Len(t, snap.Latencies, 4)
	assert.Equal(t, 367.5, snap.AvgLatency)

	want := []storage.Status{
		storage.StatusLoss, storage.StatusLoss, storage.StatusLoss, storage.StatusLoss,
		storage.StatusNormal,
		storage.StatusHighLatency, storage.StatusHighLatency, storage.StatusHighLatency,
	}
	require.Len(t, snap.Statuses, len(want))
	for i, s := range snap.Statuses {
		assert.Equal(t, want[i], s.Status, "status %d", i)
	}
}

func TestCustomThresholds(t *testing.T) {
	m := newTestManager(t, newScripted(reply(60), reply(70)),
		WithLatencyThreshold(50*time.Millisecond), WithStreakThreshold(2))
	m.Start()
	require.NoError(t, m.AddTarget("host.example"))

	snap := waitProbes(t, m, "host.example", 2)
	require.Len(t, snap.Events, 1)
	assert.Contains(t, snap.Events[0], "2 consecutive high-latency probes")
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name   string
		result probe.Result
		want   storage.Status
	}{
		{"lost", lost(), storage.StatusLoss},
		{"fast", reply(10), storage.StatusNormal},
		{"exactly threshold", reply(200), storage.StatusNormal},
		{"over threshold", probe.SingleResult("", 200*time.Millisecond+10*time.Microsecond), storage.StatusHighLatency},
		{"slow", reply(900), storage.StatusHighLatency},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.result, DefaultLatencyThreshold))
		})
	}
}

func TestFormatEvent(t *testing.T) {
	ts := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)
	assert.Equal(t, "2026-03-04 05:06:07 - 3 consecutive packet losses", FormatEvent(ts, storage.StatusLoss, 3))
	assert.Equal(t, "2026-03-04 05:06:07 - 5 consecutive high-latency probes", FormatEvent(ts, storage.StatusHighLatency, 5))
}

func TestListTargetsReflectsNetAdds(t *testing.T) {
	m := newTestManager(t, alwaysUp)

	require.NoError(t, m.AddTarget("8.8.8.8"))
	require.NoError(t, m.AddTarget("8.8.8.8"))
	require.NoError(t, m.AddTarget("1.1.1.1"))
	require.NoError(t, m.AddTarget("dns.google"))
	m.RemoveTarget("1.1.1.1")
	m.RemoveTarget("1.1.1.1")
	m.RemoveTarget("never.added")

	assert.Equal(t, []string{"8.8.8.8", "dns.google"}, m.ListTargets())
}

func TestConcurrentAddRemove(t *testing.T) {
	m := newTestManager(t, alwaysUp)
	m.Start()

	var wg sync.WaitGroup
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			target := fmt.Sprintf("10.0.0.%d", i)
			for k := 0; k < 3; k++ {
				assert.NoError(t, m.AddTarget(target))
				if i%2 == 1 {
					m.RemoveTarget(target)
				}
			}
		}(i)
	}
	wg.Wait()

	targets := m.ListTargets()
	require.Len(t, targets, 20)
	for _, target := range targets {
		var n int
		_, err := fmt.Sscanf(target, "10.0.0.%d", &n)
		require.NoError(t, err)
		assert.Zero(t, n%2, "odd target %s should have been removed", target)

		_, err = m.Snapshot(target)
		assert.NoError(t, err)
	}
}

func TestRemoveUnknownTarget(t *testing.T) {
	m := newTestManager(t, alwaysUp)
	require.NoError(t, m.AddTarget("8.8.8.8"))

	before := m.ListTargets()
	m.RemoveTarget("10.9.9.9")
	assert.Equal(t, before, m.ListTargets())
}

func TestAddInvalidTarget(t *testing.T) {
	m := newTestManager(t, alwaysUp)

	for _, target := range []string{"", "bad host", "-bad.example", "a..b", string(make([]byte, 254))} {
		err := m.AddTarget(target)
		assert.ErrorIs(t, err, ErrInvalidTarget, "target %q", target)
	}
	assert.Empty(t, m.ListTargets())
}

func TestValidateTarget(t *testing.T) {
	for _, target := range []string{"8.8.8.8", "::1", "2001:db8::1", "dns.google", "example.com.", "localhost", "a-b.c1.example"} {
		assert.NoError(t, ValidateTarget(target), "target %q", target)
	}
}

func TestRemoveDeletesStats(t *testing.T) {
	m := newTestManager(t, alwaysUp)
	m.Start()
	require.NoError(t, m.AddTarget("8.8.8.8"))
	waitProbes(t, m, "8.8.8.8", 1)

	m.RemoveTarget("8.8.8.8")

	_, err := m.Snapshot("8.8.8.8")
	assert.ErrorIs(t, err, storage.ErrNotFound)
	_, ok := m.State("8.8.8.8")
	assert.False(t, ok)
	assert.NotContains(t, m.SnapshotAll(), "8.8.8.8")
}

func TestLoopsWaitForStart(t *testing.T) {
	m := newTestManager(t, alwaysUp)
	require.NoError(t, m.AddTarget("8.8.8.8"))

	state, ok := m.State("8.8.8.8")
	require.True(t, ok)
	assert.Equal(t, StateCreated, state)
	assert.False(t, m.Running())

	time.Sleep(20 * time.Millisecond)
	snap, err := m.Snapshot("8.8.8.8")
	require.NoError(t, err)
	assert.Zero(t, snap.TotalProbes)

	m.Start()
	assert.True(t, m.Running())
	waitProbes(t, m, "8.8.8.8", 1)
	state, _ = m.State("8.8.8.8")
	assert.Equal(t, StateRunning, state)
}

func TestStopJoinsAllLoops(t *testing.T) {
	m := newTestManager(t, alwaysUp)
	m.Start()

	targets := []string{"10.0.0.1", "10.0.0.2", "10.0.0.3", "10.0.0.4"}
	for _, target := range targets {
		require.NoError(t, m.AddTarget(target))
	}
	require.NoError(t, m.AddTarget("10.0.0.9"))
	for _, target := range targets {
		waitProbes(t, m, target, 2)
	}

	// Removed but possibly still exiting when Stop is called
	m.RemoveTarget("10.0.0.9")

	m.Stop()
	assert.False(t, m.Running())

	before := m.SnapshotAll()
	time.Sleep(30 * time.Millisecond)
	after := m.SnapshotAll()

	for _, target := range targets {
		assert.Equal(t, before[target].TotalProbes, after[target].TotalProbes, "target %s mutated after Stop", target)
		state, ok := m.State(target)
		require.True(t, ok)
		assert.Equal(t, StateStopped, state)
	}

	assert.ErrorIs(t, m.AddTarget("10.0.0.5"), ErrStopped)

	// Idempotent, and Start after Stop stays stopped
	m.Stop()
	m.Start()
	assert.False(t, m.Running())
}

func TestStopBeforeStart(t *testing.T) {
	m := newTestManager(t, alwaysUp)
	require.NoError(t, m.AddTarget("8.8.8.8"))

	done := make(chan struct{})
	go func() {
		m.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(waitFor):
		t.Fatal("Stop() did not return")
	}
	state, _ := m.State("8.8.8.8")
	assert.Equal(t, StateStopped, state)
}

func TestSlowTargetDoesNotBlockOthers(t *testing.T) {
	p := probe.ProberFunc(func(ctx context.Context, target string) probe.Result {
		if target == "slow.example" {
			<-ctx.Done()
			return probe.LostResult(target, ctx.Err())
		}
		return probe.SingleResult(target, time.Millisecond)
	})
	m := newTestManager(t, p)
	m.Start()
	require.NoError(t, m.AddTarget("slow.example"))
	require.NoError(t, m.AddTarget("fast.example"))

	waitProbes(t, m, "fast.example", 10)

	slow, err := m.Snapshot("slow.example")
	require.NoError(t, err)
	assert.Zero(t, slow.TotalProbes)
}

func TestProbeTimeoutRecordsLoss(t *testing.T) {
	hang := probe.ProberFunc(func(ctx context.Context, target string) probe.Result {
		<-ctx.Done()
		return probe.LostResult(target, ctx.Err())
	})
	m := newTestManager(t, hang, WithTimeout(5*time.Millisecond))
	m.Start()
	require.NoError(t, m.AddTarget("8.8.8.8"))

	snap := waitProbes(t, m, "8.8.8.8", 2)
	assert.Equal(t, storage.StatusLoss, snap.Statuses[0].Status)
	assert.Equal(t, -1.0, snap.LastMs)
}

func TestProberPanicIsRecordedAsLoss(t *testing.T) {
	var calls sync.Map
	p := probe.ProberFunc(func(ctx context.Context, target string) probe.Result {
		if _, seen := calls.LoadOrStore(target, true); !seen {
			panic("socket exploded")
		}
		<-ctx.Done()
		return probe.LostResult(target, ctx.Err())
	})
	m := newTestManager(t, p)
	sub := m.Subscribe()
	m.Start()
	require.NoError(t, m.AddTarget("8.8.8.8"))

	snap := waitProbes(t, m, "8.8.8.8", 1)
	assert.EqualValues(t, 1, snap.TotalAnomalies)

	u := <-sub
	assert.True(t, u.Result.Lost())
	assert.Contains(t, u.Result.Error, "socket exploded")
}

func TestSubscribeReceivesUpdatesAndEvents(t *testing.T) {
	m := newTestManager(t, newScripted(reply(10), lost(), lost(), lost()))
	sub := m.Subscribe()
	m.Start()
	require.NoError(t, m.AddTarget("8.8.8.8"))

	var updates []Update
	timeout := time.After(waitFor)
	for len(updates) < 4 {
		select {
		case u := <-sub:
			updates = append(updates, u)
		case <-timeout:
			t.Fatalf("received %d updates, want 4", len(updates))
		}
	}

	assert.Equal(t, storage.StatusNormal, updates[0].Status)
	assert.Nil(t, updates[0].Event)
	assert.Nil(t, updates[2].Event)
	require.NotNil(t, updates[3].Event)
	assert.Equal(t, 3, updates[3].Event.Streak)
	assert.Equal(t, storage.StatusLoss, updates[3].Event.Status)
	assert.EqualValues(t, 4, updates[3].Summary.TotalProbes)
	assert.Equal(t, 75.0, updates[3].Summary.AnomalyRate)

	m.Stop()
	_, open := <-sub
	assert.False(t, open, "subscriber channel should be closed by Stop")

	late := m.Subscribe()
	_, open = <-late
	assert.False(t, open, "Subscribe after Stop should return a closed channel")
}

func TestUnsubscribe(t *testing.T) {
	m := newTestManager(t, alwaysUp)
	sub := m.Subscribe()
	m.Unsubscribe(sub)

	_, open := <-sub
	assert.False(t, open)
}

type fakeRecorder struct {
	mu        sync.Mutex
	observed  int
	targets   int
	forgotten []string
}

func (r *fakeRecorder) Observe(Update) {
	r.mu.Lock()
	r.observed++
	r.mu.Unlock()
}

func (r *fakeRecorder) SetTargets(n int) {
	r.mu.Lock()
	r.targets = n
	r.mu.Unlock()
}

func (r *fakeRecorder) Forget(target string) {
	r.mu.Lock()
	r.forgotten = append(r.forgotten, target)
	r.mu.Unlock()
}

type fakeJournal struct {
	mu      sync.Mutex
	records []storage.EventRecord
}

func (j *fakeJournal) Append(rec storage.EventRecord) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.records = append(j.records, rec)
	return nil
}

func (j *fakeJournal) Recent(target string, limit int) ([]storage.EventRecord, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]storage.EventRecord(nil), j.records...), nil
}

func (j *fakeJournal) Close() error { return nil }

type fakeSeries struct {
	mu     sync.Mutex
	writes int
	losses int
}

func (s *fakeSeries) Write(target string, ts time.Time, latencyMs float64, isLoss bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes++
	if isLoss {
		s.losses++
	}
	return nil
}

func (s *fakeSeries) Fetch(target string, from, to time.Time) ([]storage.DataPoint, error) {
	return []storage.DataPoint{{Timestamp: from, Value: 1}}, nil
}

func (s *fakeSeries) Close() error { return nil }

func TestSideOutputs(t *testing.T) {
	rec := &fakeRecorder{}
	journal := &fakeJournal{}
	series := &fakeSeries{}
	m := newTestManager(t, newScripted(lost(), lost(), lost(), reply(12)),
		WithRecorder(rec), WithJournal(journal), WithStorage(series))
	m.Start()
	require.NoError(t, m.AddTarget("8.8.8.8"))

	waitProbes(t, m, "8.8.8.8", 4)

	require.Eventually(t, func() bool {
		rec.mu.Lock()
		defer rec.mu.Unlock()
		return rec.observed == 4
	}, waitFor, time.Millisecond)

	journal.mu.Lock()
	require.Len(t, journal.records, 1)
	assert.Equal(t, "8.8.8.8", journal.records[0].Target)
	assert.Equal(t, 3, journal.records[0].Streak)
	journal.mu.Unlock()

	series.mu.Lock()
	assert.Equal(t, 4, series.writes)
	assert.Equal(t, 3, series.losses)
	series.mu.Unlock()

	points, err := m.FetchHistory("8.8.8.8", time.Now().Add(-time.Hour), time.Now())
	require.NoError(t, err)
	assert.Len(t, points, 1)
	assert.Equal(t, journal, m.Journal())

	m.RemoveTarget("8.8.8.8")
	require.Eventually(t, func() bool {
		rec.mu.Lock()
		defer rec.mu.Unlock()
		return len(rec.forgotten) == 1 && rec.targets == 0
	}, waitFor, time.Millisecond)
}

func TestFetchHistoryWithoutStorage(t *testing.T) {
	m := newTestManager(t, alwaysUp)
	points, err := m.FetchHistory("8.8.8.8", time.Now().Add(-time.Hour), time.Now())
	require.NoError(t, err)
	assert.Empty(t, points)
}

func TestReAddWhileExiting(t *testing.T) {
	var mu sync.Mutex
	calls := 0
	p := probe.ProberFunc(func(ctx context.Context, target string) probe.Result {
		mu.Lock()
		calls++
		first := calls == 1
		mu.Unlock()
		if first {
			<-ctx.Done()
			return probe.LostResult(target, ctx.Err())
		}
		return probe.SingleResult(target, time.Millisecond)
	})
	m := newTestManager(t, p)
	m.Start()

	require.NoError(t, m.AddTarget("8.8.8.8"))
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return calls == 1
	}, waitFor, time.Millisecond)

	m.RemoveTarget("8.8.8.8")
	require.NoError(t, m.AddTarget("8.8.8.8"))

	snap := waitProbes(t, m, "8.8.8.8", 3)
	// The cancelled first probe never reaches the new entry
	for _, s := range snap.Statuses {
		assert.Equal(t, storage.StatusNormal, s.Status)
	}
}

func TestMockClockTimestamps(t *testing.T) {
	mock := clock.NewMock()
	t0 := time.Date(2026, 1, 2, 15, 4, 5, 0, time.UTC)
	mock.Set(t0)

	m := newTestManager(t, alwaysUp, WithClock(mock), WithInterval(time.Second))
	m.Start()
	require.NoError(t, m.AddTarget("8.8.8.8"))

	snap := waitProbes(t, m, "8.8.8.8", 1)
	require.Len(t, snap.Statuses, 1)
	assert.True(t, snap.Statuses[0].Timestamp.Equal(t0))
	assert.True(t, snap.LastUpdate.Equal(t0))

	// Further ticks happen only as the clock advances
	require.Eventually(t, func() bool {
		mock.Add(time.Second)
		snap, _ := m.Snapshot("8.8.8.8")
		return snap.TotalProbes >= 3
	}, waitFor, time.Millisecond)

	snap, _ = m.Snapshot("8.8.8.8")
	for i := 1; i < len(snap.Statuses); i++ {
		assert.True(t, snap.Statuses[i].Timestamp.After(snap.Statuses[i-1].Timestamp), "samples out of order")
	}
}
