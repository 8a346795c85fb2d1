package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/wellsgz/netpulse/internal/api"
	"github.com/wellsgz/netpulse/internal/config"
	"github.com/wellsgz/netpulse/internal/ipc"
	"github.com/wellsgz/netpulse/internal/logging"
	"github.com/wellsgz/netpulse/internal/metrics"
	"github.com/wellsgz/netpulse/internal/monitor"
	"github.com/wellsgz/netpulse/internal/probe"
	"github.com/wellsgz/netpulse/internal/storage"
	"github.com/wellsgz/netpulse/internal/tui"
)

const shutdownTimeout = 5 * time.Second

func newServeCmd(opts *rootOptions) *cobra.Command {
	var withTUI bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the monitoring daemon",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := loadEnv(opts)
			if err != nil {
				return err
			}
			return serve(cmd.Context(), e, withTUI)
		},
	}
	cmd.Flags().BoolVar(&withTUI, "tui", false, "run the terminal UI in-process")
	return cmd
}

// daemon owns everything serve starts
type daemon struct {
	manager  *monitor.Manager
	recorder *metrics.Recorder
	closers  []func() error
	targets  []string // as last read from the config file
}

func newDaemon(ctx context.Context, cfg *config.Config) (*daemon, error) {
	prober, err := probe.New(cfg.Monitor.Probe, probe.Options{
		Timeout:      cfg.Monitor.Timeout,
		Pings:        cfg.Monitor.Pings,
		Port:         cfg.Monitor.Port,
		Privileged:   cfg.Monitor.Privileged,
		ExecFallback: cfg.Monitor.ExecFallback,
	})
	if err != nil {
		return nil, err
	}

	d := &daemon{recorder: metrics.New()}
	mopts := []monitor.Option{
		monitor.WithInterval(cfg.Monitor.Interval),
		monitor.WithTimeout(cfg.Monitor.Timeout),
		monitor.WithLatencyThreshold(cfg.Monitor.LatencyThreshold),
		monitor.WithStreakThreshold(cfg.Monitor.StreakThreshold),
		monitor.WithRecorder(d.recorder),
	}

	if cfg.Storage.Enabled {
		series, err := storage.NewRRDStorage(storage.RRDOptions{
			DataDir:     cfg.SeriesDir(),
			Step:        cfg.Monitor.Interval,
			Retention:   cfg.Storage.Retention,
			XFF:         cfg.Storage.XFF,
			Aggregation: cfg.Storage.Aggregation,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to open series storage: %w", err)
		}
		d.closers = append(d.closers, series.Close)
		mopts = append(mopts, monitor.WithStorage(series))
	}

	if cfg.Journal.Enabled {
		journal, err := storage.NewSQLiteJournal(ctx, cfg.JournalFile())
		if err != nil {
			return nil, multierr.Append(err, d.close())
		}
		d.closers = append(d.closers, journal.Close)
		mopts = append(mopts, monitor.WithJournal(journal))
	}

	store := storage.NewStatsStore(storage.Capacities{
		Latency: cfg.History.LatencyCapacity,
		Status:  cfg.History.StatusCapacity,
		Events:  cfg.History.EventCapacity,
	})
	d.manager = monitor.New(prober, store, mopts...)

	for _, t := range cfg.Targets {
		if err := d.manager.AddTarget(t); err != nil {
			logging.Warn("Daemon", "skipping target", zap.String("target", t), zap.Error(err))
		}
	}
	d.targets = cfg.Targets
	return d, nil
}

// reload applies the target list of a changed config file.
// Targets added at runtime and absent from both files are left alone.
func (d *daemon) reload(next *config.Config) {
	added, removed := config.DiffTargets(d.targets, next.Targets)
	for _, t := range removed {
		d.manager.RemoveTarget(t)
	}
	for _, t := range added {
		if err := d.manager.AddTarget(t); err != nil {
			logging.Warn("Daemon", "skipping target", zap.String("target", t), zap.Error(err))
		}
	}
	d.targets = next.Targets

	if len(added)+len(removed) > 0 {
		logging.Info("Daemon", "targets reloaded",
			zap.Strings("added", added),
			zap.Strings("removed", removed))
	}
}

// close releases storage in reverse order of opening
func (d *daemon) close() error {
	var err error
	for i := len(d.closers) - 1; i >= 0; i-- {
		err = multierr.Append(err, d.closers[i]())
	}
	d.closers = nil
	return err
}

func serve(ctx context.Context, e *env, withTUI bool) (err error) {
	cfg := e.cfg

	logOut := os.Stderr
	if withTUI {
		// The TUI owns the terminal
		logPath := filepath.Join(cfg.DataDir, "netpulse.log")
		if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
			return fmt.Errorf("failed to create data directory: %w", err)
		}
		f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return fmt.Errorf("failed to open log file: %w", err)
		}
		defer f.Close()
		logOut = f
	}
	if err := e.configureLogging(logOut); err != nil {
		return err
	}
	defer func() { _ = logging.Sync() }()

	d, err := newDaemon(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, d.close()) }()

	d.manager.Start()
	defer d.manager.Stop()

	ipcServer := ipc.NewServer(e.socket, d.manager)
	if err := ipcServer.Start(); err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, ipcServer.Stop()) }()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	g, gctx := errgroup.WithContext(ctx)

	if cfg.Server.EnableAPI {
		apiServer := api.NewServer(cfg, d.manager, d.recorder.Handler())
		g.Go(func() error {
			logging.Info("Daemon", "API listening", zap.String("address", cfg.Server.Address))
			return apiServer.Start(cfg.Server.Address)
		})
		g.Go(func() error {
			<-gctx.Done()
			return apiServer.Shutdown(shutdownTimeout)
		})
	}

	watcher, err := config.NewWatcher(e.configFile, d.reload)
	if err != nil {
		logging.Warn("Daemon", "config hot reload unavailable", zap.Error(err))
	} else {
		g.Go(func() error {
			if err := watcher.Run(gctx); err != nil {
				logging.Warn("Daemon", "config hot reload stopped", zap.Error(err))
			}
			return nil
		})
	}

	if withTUI {
		g.Go(func() error {
			defer stop()
			return tui.Run(tui.Local(d.manager), "local")
		})
	}

	logging.Info("Daemon", "running",
		zap.String("socket", e.socket),
		zap.Int("targets", len(d.manager.ListTargets())))

	<-gctx.Done()
	logging.Info("Daemon", "shutting down")
	return g.Wait()
}
