package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/wellsgz/netpulse/internal/api"
	"github.com/wellsgz/netpulse/internal/config"
	"github.com/wellsgz/netpulse/internal/logging"
	"github.com/wellsgz/netpulse/internal/paths"
)

// rootOptions holds the persistent flags
type rootOptions struct {
	configFile string
	socket     string
	logFormat  string
}

// env is the resolved configuration shared by every command
type env struct {
	cfg        *config.Config
	configFile string
	socket     string
	format     logging.Format
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:          "netpulse",
		Short:        "Continuous latency and packet loss monitor",
		Version:      api.Version,
		SilenceUsage: true,
	}

	flags := cmd.PersistentFlags()
	flags.StringVarP(&opts.configFile, "config", "c", "", "config file (default depends on user)")
	flags.StringVar(&opts.socket, "socket", "", "control socket path")
	flags.StringVar(&opts.logFormat, "log-format", "", "log format: text or json")

	cmd.AddCommand(
		newServeCmd(opts),
		newTUICmd(opts),
		newAddCmd(opts),
		newRemoveCmd(opts),
		newListCmd(opts),
		newStatsCmd(opts),
		newConfigCmd(opts),
	)
	return cmd
}

// loadEnv resolves paths and loads the configuration.
// A default config file is written on first run when --config is not given.
func loadEnv(opts *rootOptions) (*env, error) {
	p, err := paths.DefaultPaths()
	if err != nil {
		return nil, err
	}

	configFile := opts.configFile
	if configFile == "" {
		if err := p.EnsureDirectories(); err != nil {
			return nil, err
		}
		created, err := p.CreateDefaultConfig()
		if err != nil {
			return nil, err
		}
		if created {
			logging.Info("CLI", "wrote default configuration", zap.String("file", p.ConfigFile))
		}
		configFile = p.ConfigFile
	}

	logging.Debug("CLI", "resolved paths", zap.Stringer("paths", p))

	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, err
	}
	if cfg.DataDir == "" {
		cfg.DataDir = p.DataDir
	}

	socket := opts.socket
	if socket == "" {
		socket = cfg.Server.Socket
	}
	if socket == "" {
		socket = p.SocketPath
	}

	formatName := opts.logFormat
	if formatName == "" {
		formatName = cfg.Logging.Format
	}
	format, err := logging.ParseFormat(formatName)
	if err != nil {
		return nil, err
	}

	return &env{cfg: cfg, configFile: configFile, socket: socket, format: format}, nil
}

// configureLogging points logs at w with the configured format and level
func (e *env) configureLogging(w io.Writer) error {
	if err := logging.Configure(e.format, e.cfg.Logging.Level, w); err != nil {
		return fmt.Errorf("failed to configure logging: %w", err)
	}
	return nil
}
