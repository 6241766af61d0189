package config

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// ChangeFunc receives the configuration before and after a reload
type ChangeFunc func(previous, current *Config)

// Watcher watches the configuration file and reloads it on change
type Watcher struct {
	path     string
	cfg      *Config
	mu       sync.RWMutex
	watcher  *fsnotify.Watcher
	onChange []ChangeFunc
	logger   *slog.Logger
	debounce time.Duration
}

// NewWatcher loads path and starts watching it for writes
func NewWatcher(path string, logger *slog.Logger) (*Watcher, error) {
	if logger == nil {
		logger = slog.Default()
	}

	cfg, err := Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load initial config: %w", err)
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}

	if err := fw.Add(path); err != nil {
		_ = fw.Close()
		return nil, fmt.Errorf("failed to watch config file: %w", err)
	}

	return &Watcher{
		path:     path,
		cfg:      cfg,
		watcher:  fw,
		logger:   logger,
		debounce: 100 * time.Millisecond,
	}, nil
}

// Config returns the current configuration (thread-safe)
func (w *Watcher) Config() *Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.cfg
}

// Path returns the watched file
func (w *Watcher) Path() string {
	return w.path
}

// OnChange registers a callback run after every successful reload.
// Must be called before Start.
func (w *Watcher) OnChange(fn ChangeFunc) {
	w.onChange = append(w.onChange, fn)
}

// Start blocks, reloading the file after writes until ctx is cancelled
func (w *Watcher) Start(ctx context.Context) error {
	w.logger.Info("Starting config file watcher", "path", w.path)

	// Editors often write several times in a row
	debounceTimer := time.NewTimer(0)
	debounceTimer.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Config watcher stopped")
			return w.watcher.Close()

		case event, ok := <-w.watcher.Events:
			if !ok {
				return fmt.Errorf("watcher events channel closed")
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				debounceTimer.Reset(w.debounce)
			}
			// Atomic saves replace the inode; watch the new file
			if event.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
				_ = w.watcher.Add(w.path)
				debounceTimer.Reset(w.debounce)
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return fmt.Errorf("watcher errors channel closed")
			}
			w.logger.Error("Config watcher error", "error", err)

		case <-debounceTimer.C:
			previous, current, err := w.reload()
			if err != nil {
				w.logger.Error("Failed to reload config", "error", err)
				continue
			}
			w.logger.Info("Config reloaded", "path", w.path)
			for _, fn := range w.onChange {
				fn(previous, current)
			}
		}
	}
}

func (w *Watcher) reload() (previous, current *Config, err error) {
	current, err = Load(w.path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	w.mu.Lock()
	previous = w.cfg
	w.cfg = current
	w.mu.Unlock()

	return previous, current, nil
}

// Close stops the watcher
func (w *Watcher) Close() error {
	if w.watcher != nil {
		return w.watcher.Close()
	}
	return nil
}
