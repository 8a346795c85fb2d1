package config

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/wellsgz/netpulse/internal/logging"
)

const defaultDebounce = 200 * time.Millisecond

// Watcher reloads the configuration file when it changes on disk
type Watcher struct {
	path     string
	watcher  *fsnotify.Watcher
	onReload func(*Config)
	debounce time.Duration

	mu    sync.Mutex
	timer *time.Timer
	fire  chan struct{} // debounced reload requests, consumed by Run
}

// NewWatcher creates a watcher for path. onReload receives every configuration that loads and validates.
func NewWatcher(path string, onReload func(*Config)) (*Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create config watcher: %w", err)
	}
	return &Watcher{
		path:     filepath.Clean(path),
		watcher:  w,
		onReload: onReload,
		debounce: defaultDebounce,
		fire:     make(chan struct{}, 1),
	}, nil
}

// Run watches until ctx is done.
// The parent directory is watched so editors that save by rename keep working.
// Reloads run on the calling goroutine, one at a time.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.watcher.Close()

	if err := w.watcher.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(w.path), err)
	}
	logging.Info("Config", "watching configuration", zap.String("file", w.path))

	for {
		select {
		case <-ctx.Done():
			w.mu.Lock()
			if w.timer != nil {
				w.timer.Stop()
			}
			w.mu.Unlock()
			return nil

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				w.schedule()
			}

		case <-w.fire:
			w.reload()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			logging.Error("Config", "watch error", err)
		}
	}
}

// schedule debounces bursts of writes into one reload
func (w *Watcher) schedule() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.request)
}

// request queues a reload; a pending one already covers the latest write
func (w *Watcher) request() {
	select {
	case w.fire <- struct{}{}:
	default:
	}
}

func (w *Watcher) reload() {
	cfg, err := Load(w.path)
	if err != nil {
		// Keep running with the previous configuration
		logging.Error("Config", "reload failed", err)
		return
	}
	logging.Info("Config", "configuration reloaded", zap.Int("targets", len(cfg.Targets)))
	if w.onReload != nil {
		w.onReload(cfg)
	}
}
