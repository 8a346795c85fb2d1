package probe

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"regexp"
	"runtime"
	"strconv"
	"time"
)

var rttPattern = regexp.MustCompile(`time[=<]\s*([0-9]+(?:\.[0-9]+)?)\s*ms`)

// ExecProber runs the system ping binary, one echo request per probe.
// Used when the process may not open ICMP sockets at all.
type ExecProber struct {
	Timeout time.Duration
	Binary  string
}

// NewExecProber creates a prober backed by the system ping command
func NewExecProber(timeout time.Duration) *ExecProber {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &ExecProber{Timeout: timeout, Binary: "ping"}
}

// Probe runs one ping and parses the reported round-trip time
func (p *ExecProber) Probe(ctx context.Context, target string) Result {
	ctx, cancel := context.WithTimeout(ctx, p.Timeout+500*time.Millisecond)
	defer cancel()

	out, err := exec.CommandContext(ctx, p.Binary, pingArgs(target, p.Timeout)...).CombinedOutput()
	if ms, ok := parsePingOutput(string(out)); ok {
		return SingleResult(target, time.Duration(ms*float64(time.Millisecond)))
	}

	var exitErr *exec.ExitError
	switch {
	case ctx.Err() != nil:
		err = ctx.Err()
	case errors.As(err, &exitErr):
		err = fmt.Errorf("no reply (exit status %d)", exitErr.ExitCode())
	case err == nil:
		err = errors.New("no round-trip time in ping output")
	}
	return LostResult(target, err)
}

func pingArgs(target string, timeout time.Duration) []string {
	if runtime.GOOS == "windows" {
		return []string{"-n", "1", "-w", strconv.FormatInt(timeout.Milliseconds(), 10), target}
	}
	secs := int(timeout.Round(time.Second) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return []string{"-c", "1", "-W", strconv.Itoa(secs), target}
}

// parsePingOutput extracts the first "time=<x> ms" value from ping output
func parsePingOutput(out string) (float64, bool) {
	m := rttPattern.FindStringSubmatch(out)
	if m == nil {
		return 0, false
	}
	ms, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, false
	}
	return ms, true
}
