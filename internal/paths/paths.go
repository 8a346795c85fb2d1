package paths

import (
	"fmt"
	"os"
	"os/user"
	"path/filepath"
)

// Paths holds the resolved locations of the config file, data directory and control socket
type Paths struct {
	ConfigFile string
	DataDir    string
	SocketPath string
}

// DefaultPaths returns the default paths based on current user
// Root user: /etc/netpulse/, /var/lib/netpulse/, /var/run/netpulse/
// Non-root: ~/.netpulse/config/, ~/.netpulse/data/, ~/.netpulse/
func DefaultPaths() (*Paths, error) {
	if os.Geteuid() == 0 {
		return &Paths{
			ConfigFile: "/etc/netpulse/config.yaml",
			DataDir:    "/var/lib/netpulse",
			SocketPath: "/var/run/netpulse/netpulse.sock",
		}, nil
	}

	usr, err := user.Current()
	if err != nil {
		return nil, fmt.Errorf("failed to get current user: %w", err)
	}
	return ForBase(filepath.Join(usr.HomeDir, ".netpulse")), nil
}

// ForBase lays out the per-user structure under baseDir
func ForBase(baseDir string) *Paths {
	return &Paths{
		ConfigFile: filepath.Join(baseDir, "config", "config.yaml"),
		DataDir:    filepath.Join(baseDir, "data"),
		SocketPath: filepath.Join(baseDir, "netpulse.sock"),
	}
}

// EnsureDirectories creates all necessary directories if they don't exist
func (p *Paths) EnsureDirectories() error {
	dirs := []string{
		filepath.Dir(p.ConfigFile),
		p.DataDir,
		filepath.Dir(p.SocketPath),
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}

// ConfigExists checks if the config file exists
func (p *Paths) ConfigExists() bool {
	_, err := os.Stat(p.ConfigFile)
	return err == nil
}

func (p *Paths) String() string {
	return fmt.Sprintf("Config: %s, Data: %s, Socket: %s", p.ConfigFile, p.DataDir, p.SocketPath)
}

const defaultConfig = `# netpulse configuration

server:
  address: ":8080"
  enable_api: true

monitor:
  interval: 1s
  timeout: 2s
  latency_threshold: 200ms
  streak_threshold: 3
  probe: icmp          # icmp, tcp or exec
  # port: 443          # required for tcp

history:
  latency_capacity: 1000
  status_capacity: 1000
  event_capacity: 100

storage:
  enabled: false
  retention: "1s:1d,1m:7d,1h:90d"
  aggregation: average
  xff: 0.5

journal:
  enabled: true

logging:
  format: text
  level: info

targets:
  - 8.8.8.8
  - 1.1.1.1
`

// CreateDefaultConfig writes a sample config file.
// It reports whether a new file was created.
func (p *Paths) CreateDefaultConfig() (bool, error) {
	if p.ConfigExists() {
		return false, nil
	}

	if err := os.MkdirAll(filepath.Dir(p.ConfigFile), 0755); err != nil {
		return false, fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(p.ConfigFile, []byte(defaultConfig), 0644); err != nil {
		return false, fmt.Errorf("failed to write config file: %w", err)
	}
	return true, nil
}
