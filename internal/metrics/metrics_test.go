package metrics

import (
	"io"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wellsgz/netpulse/internal/monitor"
	"github.com/wellsgz/netpulse/internal/probe"
	"github.com/wellsgz/netpulse/internal/storage"
)

func scrape(t *testing.T, r *Recorder) string {
	t.Helper()
	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	return string(body)
}

func TestRecorderObserve(t *testing.T) {
	r := New()
	r.SetTargets(1)

	for i := 0; i < 3; i++ {
		r.Observe(monitor.Update{
			Target: "8.8.8.8",
			Result: probe.LostResult("8.8.8.8", nil),
			Status: storage.StatusLoss,
		})
	}
	r.Observe(monitor.Update{
		Target:  "8.8.8.8",
		Result:  probe.SingleResult("8.8.8.8", 0),
		Status:  storage.StatusNormal,
		Summary: storage.Summary{AvgLatency: 12.5, AnomalyRate: 75},
		Event:   &monitor.Event{Target: "8.8.8.8"},
	})

	out := scrape(t, r)
	assert.Contains(t, out, `netpulse_probes_total{status="loss",target="8.8.8.8"} 3`)
	assert.Contains(t, out, `netpulse_probes_total{status="normal",target="8.8.8.8"} 1`)
	assert.Contains(t, out, `netpulse_anomaly_events_total{target="8.8.8.8"} 1`)
	assert.Contains(t, out, `netpulse_avg_latency_ms{target="8.8.8.8"} 12.5`)
	assert.Contains(t, out, `netpulse_anomaly_rate{target="8.8.8.8"} 75`)
	assert.Contains(t, out, `netpulse_targets 1`)
	assert.Contains(t, out, "go_goroutines")
}

func TestRecorderForget(t *testing.T) {
	r := New()
	for _, target := range []string{"8.8.8.8", "1.1.1.1"} {
		r.Observe(monitor.Update{Target: target, Result: probe.LostResult(target, nil), Status: storage.StatusLoss})
	}

	r.Forget("8.8.8.8")

	out := scrape(t, r)
	assert.NotContains(t, out, `target="8.8.8.8"`)
	assert.Contains(t, out, `target="1.1.1.1"`)
}
