package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/wellsgz/netpulse/internal/monitor"
)

// EnvPrefix prefixes environment overrides, e.g. NETPULSE_MONITOR_INTERVAL
const EnvPrefix = "NETPULSE"

// Config represents the root configuration
type Config struct {
	Server  ServerConfig  `mapstructure:"server" yaml:"server" json:"server"`
	Monitor MonitorConfig `mapstructure:"monitor" yaml:"monitor" json:"monitor"`
	History HistoryConfig `mapstructure:"history" yaml:"history" json:"history"`
	Storage StorageConfig `mapstructure:"storage" yaml:"storage" json:"storage"`
	Journal JournalConfig `mapstructure:"journal" yaml:"journal" json:"journal"`
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging" json:"logging"`
	DataDir string        `mapstructure:"data_dir" yaml:"data_dir" json:"data_dir"`
	Targets []string      `mapstructure:"targets" yaml:"targets" json:"targets"`
}

// ServerConfig holds API server and control socket settings
type ServerConfig struct {
	Address   string `mapstructure:"address" yaml:"address" json:"address"`
	EnableAPI bool   `mapstructure:"enable_api" yaml:"enable_api" json:"enable_api"`
	Socket    string `mapstructure:"socket" yaml:"socket" json:"socket"`
}

// MonitorConfig holds probe scheduling and anomaly detection settings
type MonitorConfig struct {
	Interval         time.Duration `mapstructure:"interval"`
	Timeout          time.Duration `mapstructure:"timeout"`
	LatencyThreshold time.Duration `mapstructure:"latency_threshold"`
	StreakThreshold  int           `mapstructure:"streak_threshold"`
	Probe            string        `mapstructure:"probe"`
	Port             int           `mapstructure:"port"`
	Pings            int           `mapstructure:"pings"`
	Privileged       bool          `mapstructure:"privileged"`
	ExecFallback     bool          `mapstructure:"exec_fallback"`
}

// HistoryConfig bounds the in-memory rolling history per target
type HistoryConfig struct {
	LatencyCapacity int `mapstructure:"latency_capacity" yaml:"latency_capacity" json:"latency_capacity"`
	StatusCapacity  int `mapstructure:"status_capacity" yaml:"status_capacity" json:"status_capacity"`
	EventCapacity   int `mapstructure:"event_capacity" yaml:"event_capacity" json:"event_capacity"`
}

// StorageConfig holds RRD series settings
type StorageConfig struct {
	Enabled     bool    `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
	Retention   string  `mapstructure:"retention" yaml:"retention" json:"retention"`
	Aggregation string  `mapstructure:"aggregation" yaml:"aggregation" json:"aggregation"`
	XFF         float64 `mapstructure:"xff" yaml:"xff" json:"xff"`
}

// JournalConfig holds event journal settings
type JournalConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
	Path    string `mapstructure:"path" yaml:"path" json:"path"`
}

// LoggingConfig holds log output settings
type LoggingConfig struct {
	Format string `mapstructure:"format" yaml:"format" json:"format"`
	Level  string `mapstructure:"level" yaml:"level" json:"level"`
}

// monitorView renders durations as strings ("1s") rather than nanoseconds
type monitorView struct {
	Interval         string `yaml:"interval" json:"interval"`
	Timeout          string `yaml:"timeout" json:"timeout"`
	LatencyThreshold string `yaml:"latency_threshold" json:"latency_threshold"`
	StreakThreshold  int    `yaml:"streak_threshold" json:"streak_threshold"`
	Probe            string `yaml:"probe" json:"probe"`
	Port             int    `yaml:"port" json:"port"`
	Pings            int    `yaml:"pings" json:"pings"`
	Privileged       bool   `yaml:"privileged" json:"privileged"`
	ExecFallback     bool   `yaml:"exec_fallback" json:"exec_fallback"`
}

func (m MonitorConfig) view() monitorView {
	return monitorView{
		Interval:         m.Interval.String(),
		Timeout:          m.Timeout.String(),
		LatencyThreshold: m.LatencyThreshold.String(),
		StreakThreshold:  m.StreakThreshold,
		Probe:            m.Probe,
		Port:             m.Port,
		Pings:            m.Pings,
		Privileged:       m.Privileged,
		ExecFallback:     m.ExecFallback,
	}
}

// MarshalYAML implements yaml.Marshaler
func (m MonitorConfig) MarshalYAML() (interface{}, error) {
	return m.view(), nil
}

// MarshalJSON implements json.Marshaler
func (m MonitorConfig) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.view())
}

func newViper() *viper.Viper {
	v := viper.New()

	v.SetDefault("server.address", ":8080")
	v.SetDefault("server.enable_api", true)
	v.SetDefault("server.socket", "")
	v.SetDefault("monitor.interval", "1s")
	v.SetDefault("monitor.timeout", "2s")
	v.SetDefault("monitor.latency_threshold", "200ms")
	v.SetDefault("monitor.streak_threshold", 3)
	v.SetDefault("monitor.probe", "icmp")
	v.SetDefault("monitor.port", 0)
	v.SetDefault("monitor.pings", 1)
	v.SetDefault("monitor.privileged", true)
	v.SetDefault("monitor.exec_fallback", true)
	v.SetDefault("history.latency_capacity", 1000)
	v.SetDefault("history.status_capacity", 1000)
	v.SetDefault("history.event_capacity", 100)
	v.SetDefault("storage.enabled", false)
	v.SetDefault("storage.retention", "1s:1d,1m:7d,1h:90d")
	v.SetDefault("storage.aggregation", "average")
	v.SetDefault("storage.xff", 0.5)
	v.SetDefault("journal.enabled", false)
	v.SetDefault("journal.path", "")
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.level", "info")
	v.SetDefault("data_dir", "")
	v.SetDefault("targets", []string{})

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Default returns the built-in configuration with no targets
func Default() *Config {
	var cfg Config
	// Defaults always decode
	_ = newViper().Unmarshal(&cfg)
	return &cfg
}

// Load reads configuration from the specified file
func Load(configPath string) (*Config, error) {
	v := newViper()
	v.SetConfigFile(configPath)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// Validate checks configuration for valid values
func (c *Config) Validate() error {
	seen := make(map[string]bool, len(c.Targets))
	for i, target := range c.Targets {
		if err := monitor.ValidateTarget(target); err != nil {
			return fmt.Errorf("targets[%d]: %w", i, err)
		}
		if seen[target] {
			return fmt.Errorf("targets[%d] %q: duplicate target", i, target)
		}
		seen[target] = true
	}

	m := c.Monitor
	if m.Interval <= 0 {
		return errors.New("monitor.interval must be positive")
	}
	if m.Timeout <= 0 {
		return errors.New("monitor.timeout must be positive")
	}
	if m.LatencyThreshold <= 0 {
		return errors.New("monitor.latency_threshold must be positive")
	}
	if m.StreakThreshold < 1 {
		return errors.New("monitor.streak_threshold must be at least 1")
	}
	if m.Pings < 1 || m.Pings > 100 {
		return errors.New("monitor.pings must be between 1 and 100")
	}
	switch m.Probe {
	case "icmp", "exec":
	case "tcp":
		if m.Port < 1 || m.Port > 65535 {
			return fmt.Errorf("monitor.port must be between 1 and 65535 for tcp probes, got %d", m.Port)
		}
	default:
		return fmt.Errorf("monitor.probe must be 'icmp', 'tcp' or 'exec', got %q", m.Probe)
	}

	h := c.History
	if h.LatencyCapacity < 1 || h.StatusCapacity < 1 || h.EventCapacity < 1 {
		return errors.New("history capacities must be positive")
	}

	if c.Storage.XFF < 0 || c.Storage.XFF > 1 {
		return errors.New("storage.xff must be between 0 and 1")
	}

	validAggregations := map[string]bool{
		"average": true,
		"min":     true,
		"max":     true,
		"last":    true,
	}
	if !validAggregations[c.Storage.Aggregation] {
		return errors.New("storage.aggregation must be one of: average, min, max, last")
	}

	if err := validateRetention(c.Storage.Retention); err != nil {
		return fmt.Errorf("storage.retention: %w", err)
	}

	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be 'text' or 'json', got %q", c.Logging.Format)
	}

	return nil
}

// validateRetention validates the RRD retention string format
// Format: "resolution:duration,resolution:duration,..."
// Examples: "1s:1d", "1s:1d,1m:7d,1h:90d"
func validateRetention(retention string) error {
	if retention == "" {
		return errors.New("retention string cannot be empty")
	}

	durationPattern := regexp.MustCompile(`^(\d+)(s|m|h|d|w)$`)

	archives := strings.Split(retention, ",")
	for i, archive := range archives {
		archive = strings.TrimSpace(archive)
		parts := strings.Split(archive, ":")
		if len(parts) != 2 {
			return fmt.Errorf("archive %d: expected format 'resolution:duration', got %q", i+1, archive)
		}

		resolution := strings.TrimSpace(parts[0])
		if !durationPattern.MatchString(resolution) {
			return fmt.Errorf("archive %d: invalid resolution %q (use format like 1s, 1m, 1h)", i+1, resolution)
		}

		duration := strings.TrimSpace(parts[1])
		if !durationPattern.MatchString(duration) {
			return fmt.Errorf("archive %d: invalid duration %q (use format like 1d, 7d, 90d)", i+1, duration)
		}
	}

	return nil
}

// YAML renders the configuration as a YAML document
func (c *Config) YAML() ([]byte, error) {
	out, err := yaml.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("failed to render config: %w", err)
	}
	return out, nil
}

// DiffTargets returns the targets present only in next (added) and only in prev (removed), sorted
func DiffTargets(prev, next []string) (added, removed []string) {
	before := make(map[string]bool, len(prev))
	for _, t := range prev {
		before[t] = true
	}
	after := make(map[string]bool, len(next))
	for _, t := range next {
		after[t] = true
		if !before[t] {
			added = append(added, t)
		}
	}
	for t := range before {
		if !after[t] {
			removed = append(removed, t)
		}
	}

	added = dedupe(added)
	sort.Strings(removed)
	return added, removed
}

func dedupe(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	sort.Strings(in)
	out := in[:1]
	for _, s := range in[1:] {
		if s != out[len(out)-1] {
			out = append(out, s)
		}
	}
	return out
}

// JournalFile returns the journal database path, defaulting to events.db under the data directory
func (c *Config) JournalFile() string {
	if c.Journal.Path != "" {
		return c.Journal.Path
	}
	return filepath.Join(c.DataDir, "events.db")
}

// SeriesDir returns the directory holding RRD files
func (c *Config) SeriesDir() string {
	return filepath.Join(c.DataDir, "series")
}
