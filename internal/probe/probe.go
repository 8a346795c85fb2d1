package probe

import (
	"context"
	"fmt"
	"sort"
	"time"
)

// Defaults shared by all probers
const (
	DefaultTimeout = 2 * time.Second
	DefaultPings   = 1
)

// Result represents the outcome of one probe (potentially a burst)
type Result struct {
	Target    string        `json:"target"`
	Timestamp time.Time     `json:"timestamp"`
	Latency   time.Duration `json:"-"`
	LatencyMs float64       `json:"latency_ms"` // median latency, -1 for total loss
	Success   bool          `json:"success"`
	Error     string        `json:"error,omitempty"`

	// Burst statistics
	MinMs     float64 `json:"min_ms,omitempty"`
	MaxMs     float64 `json:"max_ms,omitempty"`
	AvgMs     float64 `json:"avg_ms,omitempty"`
	JitterMs  float64 `json:"jitter_ms,omitempty"`
	LossPct   float64 `json:"loss_pct"`
	PingsSent int     `json:"pings_sent,omitempty"`
	PingsRecv int     `json:"pings_recv,omitempty"`
}

// Lost reports whether no reply was received
func (r Result) Lost() bool {
	return !r.Success
}

// Prober measures round-trip latency to a target.
// Implementations must return once ctx is done and report every failure as a lost Result.
type Prober interface {
	Probe(ctx context.Context, target string) Result
}

// ProberFunc adapts a plain function to the Prober interface
type ProberFunc func(ctx context.Context, target string) Result

// Probe calls f(ctx, target)
func (f ProberFunc) Probe(ctx context.Context, target string) Result {
	return f(ctx, target)
}

// Options configures the probers built by New
type Options struct {
	Timeout      time.Duration
	Pings        int  // probes per tick (burst mode)
	Port         int  // tcp only
	Privileged   bool // icmp: try raw sockets first
	ExecFallback bool // icmp: fall back to the system ping binary
}

func (o Options) withDefaults() Options {
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	if o.Pings < 1 {
		o.Pings = DefaultPings
	}
	return o
}

// New builds a prober of the given kind: icmp, tcp or exec
func New(kind string, opts Options) (Prober, error) {
	opts = opts.withDefaults()

	switch kind {
	case "", "icmp":
		p := NewICMPProber(opts.Timeout, opts.Pings, opts.Privileged)
		if opts.ExecFallback {
			p.Fallback = NewExecProber(opts.Timeout)
		}
		return p, nil
	case "tcp":
		if opts.Port < 1 || opts.Port > 65535 {
			return nil, fmt.Errorf("tcp probe requires a port between 1 and 65535, got %d", opts.Port)
		}
		return NewTCPProber(opts.Port, opts.Timeout, opts.Pings), nil
	case "exec":
		return NewExecProber(opts.Timeout), nil
	default:
		return nil, fmt.Errorf("unknown probe type: %s", kind)
	}
}

// LostResult creates a Result for a probe that received no reply
func LostResult(target string, err error) Result {
	result := Result{
		Target:    target,
		Timestamp: time.Now(),
		LatencyMs: -1,
		LossPct:   100,
		PingsSent: 1,
	}
	if err != nil {
		result.Error = err.Error()
	} else {
		result.Error = "packet loss: no response"
	}
	return result
}

// SingleResult creates a Result for one successful reply
func SingleResult(target string, latency time.Duration) Result {
	ms := durationMs(latency)
	return Result{
		Target:    target,
		Timestamp: time.Now(),
		Latency:   latency,
		LatencyMs: ms,
		Success:   true,
		MinMs:     ms,
		MaxMs:     ms,
		AvgMs:     ms,
		PingsSent: 1,
		PingsRecv: 1,
	}
}

// BurstStats holds statistics from a burst of probes
type BurstStats struct {
	Rtts        []time.Duration
	PacketsSent int
	PacketsRecv int
	MinRtt      time.Duration
	MaxRtt      time.Duration
	AvgRtt      time.Duration
	StdDevRtt   time.Duration
}

// BurstResult creates a Result from burst statistics.
// The reported latency is the median RTT; a burst with no replies is lost.
func BurstResult(target string, stats BurstStats, err error) Result {
	if stats.PacketsRecv == 0 {
		result := LostResult(target, err)
		if stats.PacketsSent > 0 {
			result.PingsSent = stats.PacketsSent
		}
		return result
	}

	median := calculateMedian(stats.Rtts)
	return Result{
		Target:    target,
		Timestamp: time.Now(),
		Latency:   median,
		LatencyMs: durationMs(median),
		Success:   true,
		MinMs:     durationMs(stats.MinRtt),
		MaxMs:     durationMs(stats.MaxRtt),
		AvgMs:     durationMs(stats.AvgRtt),
		JitterMs:  durationMs(stats.StdDevRtt),
		LossPct:   float64(stats.PacketsSent-stats.PacketsRecv) / float64(stats.PacketsSent) * 100,
		PingsSent: stats.PacketsSent,
		PingsRecv: stats.PacketsRecv,
	}
}

func durationMs(d time.Duration) float64 {
	return float64(d.Microseconds()) / 1000.0
}

// calculateMedian returns the median value from a slice of durations
func calculateMedian(rtts []time.Duration) time.Duration {
	if len(rtts) == 0 {
		return 0
	}

	sorted := make([]time.Duration, len(rtts))
	copy(sorted, rtts)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i] < sorted[j]
	})

	n := len(sorted)
	if n%2 == 0 {
		return (sorted[n/2-1] + sorted[n/2]) / 2
	}
	return sorted[n/2]
}
