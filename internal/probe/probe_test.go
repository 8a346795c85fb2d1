package probe

import (
	"context"
	"errors"
	"net"
	"strconv"
	"strings"
	"testing"
	"time"
)

func TestCalculateMedian(t *testing.T) {
	ms := time.Millisecond
	tests := []struct {
		name string
		rtts []time.Duration
		want time.Duration
	}{
		{"empty", nil, 0},
		{"single value", []time.Duration{10 * ms}, 10 * ms},
		{"odd count", []time.Duration{10 * ms, 20 * ms, 30 * ms}, 20 * ms},
		{"even count", []time.Duration{10 * ms, 20 * ms, 30 * ms, 40 * ms}, 25 * ms},
		{"unsorted input", []time.Duration{30 * ms, 10 * ms, 20 * ms}, 20 * ms},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := calculateMedian(tt.rtts); got != tt.want {
				t.Errorf("calculateMedian() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestBurstResult(t *testing.T) {
	tests := []struct {
		name        string
		stats       BurstStats
		wantLossPct float64
		wantSuccess bool
		wantMs      float64
	}{
		{
			name: "all success",
			stats: BurstStats{
				Rtts:        []time.Duration{10 * time.Millisecond, 20 * time.Millisecond},
				PacketsSent: 2,
				PacketsRecv: 2,
				MinRtt:      10 * time.Millisecond,
				MaxRtt:      20 * time.Millisecond,
				AvgRtt:      15 * time.Millisecond,
			},
			wantLossPct: 0,
			wantSuccess: true,
			wantMs:      15,
		},
		{
			name: "partial loss",
			stats: BurstStats{
				Rtts:        []time.Duration{10 * time.Millisecond},
				PacketsSent: 2,
				PacketsRecv: 1,
			},
			wantLossPct: 50,
			wantSuccess: true,
			wantMs:      10,
		},
		{
			name:        "total loss",
			stats:       BurstStats{PacketsSent: 5},
			wantLossPct: 100,
			wantSuccess: false,
			wantMs:      -1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := BurstResult("8.8.8.8", tt.stats, nil)
			if result.LossPct != tt.wantLossPct {
				t.Errorf("LossPct = %v, want %v", result.LossPct, tt.wantLossPct)
			}
			if result.Success != tt.wantSuccess || result.Lost() == tt.wantSuccess {
				t.Errorf("Success = %v, Lost() = %v, want success %v", result.Success, result.Lost(), tt.wantSuccess)
			}
			if result.LatencyMs != tt.wantMs {
				t.Errorf("LatencyMs = %v, want %v", result.LatencyMs, tt.wantMs)
			}
			if result.Target != "8.8.8.8" {
				t.Errorf("Target = %q", result.Target)
			}
		})
	}
}

func TestLostAndSingleResult(t *testing.T) {
	lost := LostResult("host", errors.New("boom"))
	if !lost.Lost() || lost.LatencyMs != -1 || lost.LossPct != 100 || lost.Error != "boom" {
		t.Errorf("LostResult() = %+v", lost)
	}

	ok := SingleResult("host", 12500*time.Microsecond)
	if ok.Lost() || ok.LatencyMs != 12.5 || ok.PingsRecv != 1 {
		t.Errorf("SingleResult() = %+v", ok)
	}
}

func TestProberFunc(t *testing.T) {
	var p Prober = ProberFunc(func(ctx context.Context, target string) Result {
		return SingleResult(target, time.Millisecond)
	})
	if got := p.Probe(context.Background(), "x"); got.Target != "x" || got.Lost() {
		t.Errorf("ProberFunc.Probe() = %+v", got)
	}
}

func TestNew(t *testing.T) {
	tests := []struct {
		kind    string
		opts    Options
		wantErr bool
	}{
		{"icmp", Options{}, false},
		{"", Options{ExecFallback: true}, false},
		{"exec", Options{}, false},
		{"tcp", Options{Port: 443}, false},
		{"tcp", Options{}, true},
		{"udp", Options{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.kind, func(t *testing.T) {
			p, err := New(tt.kind, tt.opts)
			if (err != nil) != tt.wantErr {
				t.Fatalf("New(%q) error = %v, wantErr %v", tt.kind, err, tt.wantErr)
			}
			if !tt.wantErr && p == nil {
				t.Fatal("New() returned nil prober")
			}
		})
	}

	p, _ := New("icmp", Options{ExecFallback: true})
	icmp, ok := p.(*ICMPProber)
	if !ok {
		t.Fatalf("New(icmp) returned %T", p)
	}
	if icmp.Fallback == nil || icmp.Timeout != DefaultTimeout || icmp.Pings != DefaultPings {
		t.Errorf("New(icmp) = %+v, want defaults with fallback", icmp)
	}
}

func TestTCPProber(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			conn.Close()
		}
	}()

	port := ln.Addr().(*net.TCPAddr).Port
	p := NewTCPProber(port, time.Second, 3)

	result := p.Probe(context.Background(), "127.0.0.1")
	if result.Lost() {
		t.Fatalf("Probe() lost: %s", result.Error)
	}
	if result.PingsSent != 3 || result.PingsRecv != 3 || result.LatencyMs < 0 {
		t.Errorf("Probe() = %+v", result)
	}
}

func TestTCPProberClosedPort(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	_, portStr, _ := net.SplitHostPort(ln.Addr().String())
	ln.Close()
	port, _ := strconv.Atoi(portStr)

	result := NewTCPProber(port, 500*time.Millisecond, 1).Probe(context.Background(), "127.0.0.1")
	if !result.Lost() || result.LatencyMs != -1 || result.Error == "" {
		t.Errorf("Probe() on closed port = %+v, want lost with error", result)
	}
}

func TestTCPProberCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	result := NewTCPProber(9, time.Second, 5).Probe(ctx, "127.0.0.1")
	if !result.Lost() {
		t.Errorf("Probe() with cancelled context should be lost")
	}
	if time.Since(start) > 500*time.Millisecond {
		t.Errorf("Probe() ignored cancellation")
	}
}

func TestParsePingOutput(t *testing.T) {
	tests := []struct {
		name   string
		output string
		want   float64
		wantOK bool
	}{
		{
			name:   "linux",
			output: "64 bytes from 8.8.8.8: icmp_seq=1 ttl=117 time=12.4 ms",
			want:   12.4,
			wantOK: true,
		},
		{
			name:   "windows",
			output: "Reply from 8.8.8.8: bytes=32 time=9ms TTL=117",
			want:   9,
			wantOK: true,
		},
		{
			name:   "windows sub-millisecond",
			output: "Reply from 127.0.0.1: bytes=32 time<1ms TTL=128",
			want:   1,
			wantOK: true,
		},
		{
			name:   "timeout",
			output: "1 packets transmitted, 0 received, 100% packet loss",
			wantOK: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := parsePingOutput(tt.output)
			if ok != tt.wantOK || got != tt.want {
				t.Errorf("parsePingOutput() = %v, %v; want %v, %v", got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestExecProberMissingBinary(t *testing.T) {
	p := NewExecProber(time.Second)
	p.Binary = "netpulse-no-such-ping-binary"

	result := p.Probe(context.Background(), "127.0.0.1")
	if !result.Lost() || result.Error == "" {
		t.Errorf("Probe() with missing binary = %+v, want lost with error", result)
	}
}

func TestICMPProberSlowResolver(t *testing.T) {
	orig := net.DefaultResolver
	net.DefaultResolver = &net.Resolver{
		PreferGo: true,
		Dial: func(ctx context.Context, network, address string) (net.Conn, error) {
			select {
			case <-time.After(3 * time.Second):
				return nil, errors.New("dns server unreachable")
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		},
	}
	t.Cleanup(func() { net.DefaultResolver = orig })

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	start := time.Now()
	r := NewICMPProber(200*time.Millisecond, 1, false).Probe(ctx, "slow-dns.example")
	elapsed := time.Since(start)

	if !r.Lost() {
		t.Errorf("Probe() = %+v, want a loss", r)
	}
	if !strings.Contains(r.Error, "resolve") {
		t.Errorf("Probe() error = %q, want a resolution error", r.Error)
	}
	if elapsed > time.Second {
		t.Errorf("Probe() took %v, want it bounded by the 200ms timeout", elapsed)
	}
}
