package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wellsgz/netpulse/internal/monitor"
)

const namespace = "netpulse"

// Recorder exports monitor updates as Prometheus metrics on its own registry
type Recorder struct {
	registry *prometheus.Registry

	probesTotal  *prometheus.CounterVec
	eventsTotal  *prometheus.CounterVec
	latency      *prometheus.GaugeVec
	avgLatency   *prometheus.GaugeVec
	anomalyRate  *prometheus.GaugeVec
	targetsGauge prometheus.Gauge
}

// New creates a recorder with process and Go runtime collectors registered
func New() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		probesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "probes_total",
				Help:      "Probes performed, by classification",
			},
			[]string{"target", "status"},
		),
		eventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "anomaly_events_total",
				Help:      "Anomaly streak events raised",
			},
			[]string{"target"},
		),
		latency: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "latency_ms",
				Help:      "Latency of the last probe in milliseconds, -1 when lost",
			},
			[]string{"target"},
		),
		avgLatency: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "avg_latency_ms",
				Help:      "Mean latency over the retained samples in milliseconds",
			},
			[]string{"target"},
		),
		anomalyRate: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "anomaly_rate",
				Help:      "Lifetime percentage of anomalous probes",
			},
			[]string{"target"},
		),
		targetsGauge: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "targets",
				Help:      "Number of monitored targets",
			},
		),
	}

	r.registry.MustRegister(
		r.probesTotal,
		r.eventsTotal,
		r.latency,
		r.avgLatency,
		r.anomalyRate,
		r.targetsGauge,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

// Observe implements monitor.Recorder
func (r *Recorder) Observe(u monitor.Update) {
	r.probesTotal.WithLabelValues(u.Target, u.Status.String()).Inc()
	if u.Event != nil {
		r.eventsTotal.WithLabelValues(u.Target).Inc()
	}
	r.latency.WithLabelValues(u.Target).Set(u.Result.LatencyMs)
	r.avgLatency.WithLabelValues(u.Target).Set(u.Summary.AvgLatency)
	r.anomalyRate.WithLabelValues(u.Target).Set(u.Summary.AnomalyRate)
}

// SetTargets implements monitor.Recorder
func (r *Recorder) SetTargets(n int) {
	r.targetsGauge.Set(float64(n))
}

// Forget drops every series labelled with target
func (r *Recorder) Forget(target string) {
	labels := prometheus.Labels{"target": target}
	r.probesTotal.DeletePartialMatch(labels)
	r.eventsTotal.DeletePartialMatch(labels)
	r.latency.DeletePartialMatch(labels)
	r.avgLatency.DeletePartialMatch(labels)
	r.anomalyRate.DeletePartialMatch(labels)
}

// Registry returns the underlying registry
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// Handler serves the registry in the Prometheus exposition format
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

var _ monitor.Recorder = (*Recorder)(nil)
