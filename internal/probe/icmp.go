package probe

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	probing "github.com/prometheus-community/pro-bing"
)

// ICMPProber sends ICMP echo requests with pro-bing.
// It is shared by every monitor loop, so all mutable state is atomic.
type ICMPProber struct {
	Timeout time.Duration
	Pings   int

	// Fallback is used when neither raw nor unprivileged ICMP sockets can be opened
	Fallback Prober

	privileged atomic.Bool
}

// NewICMPProber creates an ICMP prober.
// With privileged set it starts on raw sockets and drops to UDP-ICMP on the first failure.
func NewICMPProber(timeout time.Duration, pings int, privileged bool) *ICMPProber {
	if pings < 1 {
		pings = DefaultPings
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	p := &ICMPProber{Timeout: timeout, Pings: pings}
	p.privileged.Store(privileged)
	return p
}

// Probe performs an ICMP ping burst against target
func (p *ICMPProber) Probe(ctx context.Context, target string) Result {
	// Name resolution shares the probe timeout
	lookupCtx, cancel := context.WithTimeout(ctx, p.Timeout)
	addr, err := resolve(lookupCtx, target)
	cancel()
	if err != nil {
		return LostResult(target, fmt.Errorf("failed to resolve %s: %w", target, err))
	}

	// Allow 250ms per ping for response collection, never less than the configured timeout
	burstTimeout := time.Duration(p.Pings) * 250 * time.Millisecond
	if burstTimeout < p.Timeout {
		burstTimeout = p.Timeout
	}
	pinger := p.newPinger(target, addr, burstTimeout)

	var (
		mu   sync.Mutex
		rtts []time.Duration
	)
	pinger.OnRecv = func(pkt *probing.Packet) {
		mu.Lock()
		rtts = append(rtts, pkt.Rtt)
		mu.Unlock()
	}

	privileged := p.privileged.Load()
	pinger.SetPrivileged(privileged)
	err = pinger.RunWithContext(ctx)
	if err != nil && privileged && ctx.Err() == nil {
		p.privileged.Store(false)
		mu.Lock()
		rtts = nil
		mu.Unlock()
		onRecv := pinger.OnRecv
		pinger = p.newPinger(target, addr, burstTimeout)
		pinger.OnRecv = onRecv
		pinger.SetPrivileged(false)
		err = pinger.RunWithContext(ctx)
	}
	if err != nil {
		if p.Fallback != nil && ctx.Err() == nil {
			return p.Fallback.Probe(ctx, target)
		}
		return LostResult(target, fmt.Errorf("ping failed: %w", err))
	}

	stats := pinger.Statistics()

	mu.Lock()
	collected := append([]time.Duration(nil), rtts...)
	mu.Unlock()

	return BurstResult(target, BurstStats{
		Rtts:        collected,
		PacketsSent: stats.PacketsSent,
		PacketsRecv: stats.PacketsRecv,
		MinRtt:      stats.MinRtt,
		MaxRtt:      stats.MaxRtt,
		AvgRtt:      stats.AvgRtt,
		StdDevRtt:   stats.StdDevRtt,
	}, nil)
}

// newPinger builds a pinger for an already resolved address; a Pinger cannot be rerun
func (p *ICMPProber) newPinger(target string, addr *net.IPAddr, timeout time.Duration) *probing.Pinger {
	pinger := probing.New(target)
	pinger.SetIPAddr(addr)
	pinger.Count = p.Pings
	pinger.Interval = 50 * time.Millisecond
	pinger.Timeout = timeout
	return pinger
}

// resolve looks target up with ctx, preferring IPv4 like net.ResolveIPAddr does
func resolve(ctx context.Context, target string) (*net.IPAddr, error) {
	addrs, err := net.DefaultResolver.LookupIPAddr(ctx, target)
	if err != nil {
		return nil, err
	}
	if len(addrs) == 0 {
		return nil, fmt.Errorf("no addresses for %s", target)
	}
	for _, a := range addrs {
		if a.IP.To4() != nil {
			return &a, nil
		}
	}
	return &addrs[0], nil
}
