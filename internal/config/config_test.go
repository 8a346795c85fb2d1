package config

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestValidateRetention(t *testing.T) {
	tests := []struct {
		name      string
		retention string
		wantErr   bool
	}{
		{"valid single", "1s:1d", false},
		{"valid multiple", "1s:1d,1m:7d,1h:90d", false},
		{"valid with spaces", "1s:1d, 1m:7d", false},
		{"weeks", "1h:2w", false},
		{"empty", "", true},
		{"missing duration", "10s", true},
		{"invalid resolution", "abc:1d", true},
		{"invalid duration", "10s:abc", true},
		{"extra colons", "10s:1d:extra", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateRetention(tt.retention)
			if (err != nil) != tt.wantErr {
				t.Errorf("validateRetention(%q) error = %v, wantErr %v", tt.retention, err, tt.wantErr)
			}
		})
	}
}

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, time.Second, cfg.Monitor.Interval)
	assert.Equal(t, 2*time.Second, cfg.Monitor.Timeout)
	assert.Equal(t, 200*time.Millisecond, cfg.Monitor.LatencyThreshold)
	assert.Equal(t, 3, cfg.Monitor.StreakThreshold)
	assert.Equal(t, "icmp", cfg.Monitor.Probe)
	assert.Equal(t, 1000, cfg.History.LatencyCapacity)
	assert.Equal(t, 100, cfg.History.EventCapacity)
	assert.Empty(t, cfg.Targets)
	assert.NoError(t, cfg.Validate())
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults", func(c *Config) {}, false},
		{"targets", func(c *Config) { c.Targets = []string{"8.8.8.8", "dns.google"} }, false},
		{"timeout longer than interval", func(c *Config) { c.Monitor.Timeout = 5 * time.Second }, false},
		{"invalid target", func(c *Config) { c.Targets = []string{"bad host"} }, true},
		{"duplicate target", func(c *Config) { c.Targets = []string{"1.1.1.1", "1.1.1.1"} }, true},
		{"zero interval", func(c *Config) { c.Monitor.Interval = 0 }, true},
		{"zero timeout", func(c *Config) { c.Monitor.Timeout = 0 }, true},
		{"zero latency threshold", func(c *Config) { c.Monitor.LatencyThreshold = 0 }, true},
		{"zero streak threshold", func(c *Config) { c.Monitor.StreakThreshold = 0 }, true},
		{"too many pings", func(c *Config) { c.Monitor.Pings = 101 }, true},
		{"unknown probe", func(c *Config) { c.Monitor.Probe = "udp" }, true},
		{"tcp without port", func(c *Config) { c.Monitor.Probe = "tcp" }, true},
		{"tcp with port", func(c *Config) { c.Monitor.Probe = "tcp"; c.Monitor.Port = 443 }, false},
		{"zero capacity", func(c *Config) { c.History.StatusCapacity = 0 }, true},
		{"bad xff", func(c *Config) { c.Storage.XFF = 1.5 }, true},
		{"bad aggregation", func(c *Config) { c.Storage.Aggregation = "median" }, true},
		{"bad retention", func(c *Config) { c.Storage.Retention = "forever" }, true},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, t.TempDir(), `
monitor:
  interval: 500ms
  latency_threshold: 150ms
journal:
  enabled: true
data_dir: /tmp/netpulse
targets:
  - 8.8.8.8
  - dns.google
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 500*time.Millisecond, cfg.Monitor.Interval)
	assert.Equal(t, 150*time.Millisecond, cfg.Monitor.LatencyThreshold)
	assert.Equal(t, 2*time.Second, cfg.Monitor.Timeout, "unset keys keep defaults")
	assert.Equal(t, []string{"8.8.8.8", "dns.google"}, cfg.Targets)
	assert.True(t, cfg.Journal.Enabled)
	assert.Equal(t, "/tmp/netpulse/events.db", cfg.JournalFile())
	assert.Equal(t, "/tmp/netpulse/series", cfg.SeriesDir())
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	path := writeConfig(t, t.TempDir(), "targets: [\"not a host\"]\n")
	_, err = Load(path)
	assert.ErrorContains(t, err, "validation failed")
}

func TestLoadEnvOverride(t *testing.T) {
	path := writeConfig(t, t.TempDir(), "targets: [1.1.1.1]\n")
	t.Setenv("NETPULSE_MONITOR_INTERVAL", "5s")
	t.Setenv("NETPULSE_LOGGING_FORMAT", "json")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, cfg.Monitor.Interval)
	assert.Equal(t, "json", cfg.Logging.Format)
}

func TestYAMLRoundTrip(t *testing.T) {
	cfg := Default()
	cfg.Targets = []string{"8.8.8.8"}
	cfg.Monitor.LatencyThreshold = 250 * time.Millisecond

	out, err := cfg.YAML()
	require.NoError(t, err)
	assert.Contains(t, string(out), "latency_threshold: 250ms")
	assert.Contains(t, string(out), "- 8.8.8.8")

	path := writeConfig(t, t.TempDir(), string(out))
	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}

func TestMonitorConfigJSON(t *testing.T) {
	out, err := json.Marshal(Default().Monitor)
	require.NoError(t, err)
	assert.Contains(t, string(out), `"interval":"1s"`)
	assert.Contains(t, string(out), `"latency_threshold":"200ms"`)
}

func TestDiffTargets(t *testing.T) {
	tests := []struct {
		name        string
		prev, next  []string
		wantAdded   []string
		wantRemoved []string
	}{
		{"no change", []string{"a", "b"}, []string{"b", "a"}, nil, nil},
		{"add", []string{"a"}, []string{"a", "c", "b"}, []string{"b", "c"}, nil},
		{"remove", []string{"a", "b", "c"}, []string{"b"}, nil, []string{"a", "c"}},
		{"both", []string{"a"}, []string{"b", "b"}, []string{"b"}, []string{"a"}},
		{"from empty", nil, []string{"x"}, []string{"x"}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			added, removed := DiffTargets(tt.prev, tt.next)
			assert.Equal(t, tt.wantAdded, added)
			assert.Equal(t, tt.wantRemoved, removed)
		})
	}
}

func TestWatcherReloads(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "targets: [1.1.1.1]\n")

	reloaded := make(chan *Config, 4)
	w, err := NewWatcher(path, func(cfg *Config) { reloaded <- cfg })
	require.NoError(t, err)
	w.debounce = 20 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	// Give the watcher a moment to register the directory
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte("targets: [1.1.1.1, 9.9.9.9]\n"), 0644))

	select {
	case cfg := <-reloaded:
		assert.Equal(t, []string{"1.1.1.1", "9.9.9.9"}, cfg.Targets)
	case <-time.After(3 * time.Second):
		t.Fatal("configuration was not reloaded")
	}
}

func TestWatcherSerializesReloads(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "targets: [1.1.1.1]\n")

	var (
		inFlight atomic.Int32
		overlap  atomic.Bool
		calls    atomic.Int32
	)
	w, err := NewWatcher(path, func(cfg *Config) {
		if inFlight.Add(1) > 1 {
			overlap.Store(true)
		}
		time.Sleep(30 * time.Millisecond)
		inFlight.Add(-1)
		calls.Add(1)
	})
	require.NoError(t, err)
	w.debounce = time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	// Debounce timers firing while a reload is still running
	for i := 0; i < 10; i++ {
		w.schedule()
		time.Sleep(10 * time.Millisecond)
	}

	require.Eventually(t, func() bool { return calls.Load() >= 2 }, 3*time.Second, 10*time.Millisecond)
	assert.False(t, overlap.Load(), "reload callbacks overlapped")
}
