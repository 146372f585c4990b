package config

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// reloadDebounce coalesces editor write bursts into one reload.
const reloadDebounce = 250 * time.Millisecond

// Watcher reloads the configuration file when it changes on disk.
type Watcher struct {
	logger  zerolog.Logger
	path    string
	watcher *fsnotify.Watcher
	mu      sync.Mutex
	current *Config
}

// NewWatcher creates a watcher for the given config path with the
// already-loaded configuration as its starting point.
func NewWatcher(logger zerolog.Logger, path string, initial *Config) *Watcher {
	return &Watcher{
		logger:  logger.With().Str("component", "config-watcher").Logger(),
		path:    path,
		current: initial,
	}
}

// Current returns the most recently loaded configuration.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Watch starts watching the config file, invoking onReload for every
// successful reload until the context is cancelled.
func (w *Watcher) Watch(ctx context.Context, onReload func(*Config)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	w.watcher = watcher

	// Watch the directory rather than the file: editors replace the file
	// by rename, which would drop a file-level watch.
	if err := watcher.Add(filepath.Dir(w.path)); err != nil {
		_ = watcher.Close()
		return err
	}

	go w.processEvents(ctx, onReload)
	return nil
}

func (w *Watcher) processEvents(ctx context.Context, onReload func(*Config)) {
	defer func() {
		if w.watcher != nil {
			_ = w.watcher.Close()
		}
	}()

	var timer *time.Timer
	reload := func() {
		cfg, err := Load(w.path)
		if err != nil {
			w.logger.Warn().Err(err).Str("path", w.path).Msg("Config reload failed, keeping previous config")
			return
		}
		w.mu.Lock()
		w.current = cfg
		w.mu.Unlock()
		w.logger.Info().Str("path", w.path).Msg("Config reloaded")
		if onReload != nil {
			onReload(cfg)
		}
	}

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(reloadDebounce, reload)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn().Err(err).Msg("Config watch error")
		}
	}
}
