package probe

import (
	"context"
	"math"
	"net"
	"strconv"
	"time"
)

// TCPProber measures TCP connect time to target:Port
type TCPProber struct {
	Port    int
	Timeout time.Duration
	Pings   int
}

// NewTCPProber creates a TCP connect prober
func NewTCPProber(port int, timeout time.Duration, pings int) *TCPProber {
	if pings < 1 {
		pings = DefaultPings
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &TCPProber{Port: port, Timeout: timeout, Pings: pings}
}

// Probe performs a burst of TCP connects and returns the result with statistics
func (p *TCPProber) Probe(ctx context.Context, target string) Result {
	address := net.JoinHostPort(target, strconv.Itoa(p.Port))

	// Divide the timeout among pings, at least 100ms each
	dialer := &net.Dialer{Timeout: p.Timeout / time.Duration(p.Pings)}
	if dialer.Timeout < 100*time.Millisecond {
		dialer.Timeout = 100 * time.Millisecond
	}

	var (
		rtts           []time.Duration
		minRtt, maxRtt time.Duration
		totalRtt       time.Duration
		sent, recv     int
		lastErr        error
	)

	for i := 0; i < p.Pings; i++ {
		if ctx.Err() != nil {
			break
		}

		sent++
		start := time.Now()
		conn, err := dialer.DialContext(ctx, "tcp", address)
		latency := time.Since(start)
		if err != nil {
			lastErr = err
			continue
		}
		conn.Close()

		recv++
		rtts = append(rtts, latency)
		totalRtt += latency
		if minRtt == 0 || latency < minRtt {
			minRtt = latency
		}
		if latency > maxRtt {
			maxRtt = latency
		}

		// Small delay between connects to avoid hammering the target
		if i < p.Pings-1 {
			select {
			case <-ctx.Done():
			case <-time.After(10 * time.Millisecond):
			}
		}
	}

	var avgRtt, stdDevRtt time.Duration
	if recv > 0 {
		avgRtt = totalRtt / time.Duration(recv)
		if recv > 1 {
			var sumSquares float64
			avgNs := float64(avgRtt.Nanoseconds())
			for _, rtt := range rtts {
				diff := float64(rtt.Nanoseconds()) - avgNs
				sumSquares += diff * diff
			}
			stdDevRtt = time.Duration(math.Sqrt(sumSquares / float64(recv)))
		}
	}

	return BurstResult(target, BurstStats{
		Rtts:        rtts,
		PacketsSent: sent,
		PacketsRecv: recv,
		MinRtt:      minRtt,
		MaxRtt:      maxRtt,
		AvgRtt:      avgRtt,
		StdDevRtt:   stdDevRtt,
	}, lastErr)
}
