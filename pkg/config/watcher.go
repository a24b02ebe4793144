// SPDX-License-Identifier: Apache-2.0

package config

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/knadh/koanf/providers/file"
)

// Watcher reloads configuration when any watched file changes and hands
// the new Config to registered listeners. Bursts of file events within
// the debounce window cause a single reload.
type Watcher struct {
	mu        sync.RWMutex
	paths     []string
	files     []*file.File
	load      func() (*Config, error)
	debounce  time.Duration
	config    *Config
	listeners []func(*Config)
	logger    *slog.Logger

	trigger  chan struct{}
	stopCh   chan struct{}
	doneCh   chan struct{}
	started  bool
	stopOnce sync.Once
}

// WatcherOption configures the watcher.
type WatcherOption func(*Watcher)

// WithDebounce sets how long the watcher waits for events to settle.
func WithDebounce(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// WithLoader replaces the function used to rebuild the configuration.
func WithLoader(fn func() (*Config, error)) WatcherOption {
	return func(w *Watcher) {
		if fn != nil {
			w.load = fn
		}
	}
}

// WithWatchLogger sets the logger for the watcher.
func WithWatchLogger(logger *slog.Logger) WatcherOption {
	return func(w *Watcher) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// NewWatcher loads the initial configuration and prepares to watch paths.
// Unless WithLoader is given, the first path is loaded with Load.
func NewWatcher(paths []string, opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		paths:    paths,
		debounce: 200 * time.Millisecond,
		logger:   slog.Default(),
		trigger:  make(chan struct{}, 1),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
	w.load = func() (*Config, error) {
		if len(w.paths) == 0 {
			return Load("")
		}
		return Load(w.paths[0])
	}
	for _, opt := range opts {
		opt(w)
	}

	cfg, err := w.load()
	if err != nil {
		return nil, err
	}
	w.config = cfg
	return w, nil
}

// OnChange registers a callback run after every successful reload.
func (w *Watcher) OnChange(fn func(*Config)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.listeners = append(w.listeners, fn)
}

// Config returns the current configuration.
func (w *Watcher) Config() *Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.config
}

// Start subscribes to file events and reloads until ctx ends or Stop is
// called.
func (w *Watcher) Start(ctx context.Context) error {
	for _, path := range w.paths {
		f := file.Provider(path)
		if err := f.Watch(func(_ interface{}, err error) {
			if err != nil {
				w.logger.Warn("config.watch.error", slog.String("path", path), slog.String("error", err.Error()))
				return
			}
			select {
			case w.trigger <- struct{}{}:
			default:
			}
		}); err != nil {
			w.unwatch()
			return err
		}
		w.files = append(w.files, f)
	}
	w.started = true
	go w.run(ctx)
	return nil
}

// Stop unsubscribes and waits for the reload loop to exit.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		w.unwatch()
		close(w.stopCh)
		if w.started {
			<-w.doneCh
		}
	})
}

func (w *Watcher) unwatch() {
	for _, f := range w.files {
		_ = f.Unwatch()
	}
	w.files = nil
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.doneCh)

	timer := time.NewTimer(w.debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-w.trigger:
			timer.Reset(w.debounce)
		case <-timer.C:
			w.reload()
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := w.load()
	if err != nil {
		w.logger.Error("config.reload.error", slog.String("error", err.Error()))
		return
	}

	w.mu.Lock()
	w.config = cfg
	listeners := make([]func(*Config), len(w.listeners))
	copy(listeners, w.listeners)
	w.mu.Unlock()

	w.logger.Info("config.reloaded")
	for _, fn := range listeners {
		fn(cfg)
	}
}

// WatchConfig watches configPath and its profile overlay, if present, and
// returns the started watcher with the initial configuration.
func WatchConfig(ctx context.Context, configPath, profile string, opts ...WatcherOption) (*Watcher, *Config, error) {
	var paths []string
	if configPath != "" {
		paths = append(paths, configPath)
		if overlay := profileConfigPath(configPath, profile); overlay != "" {
			paths = append(paths, overlay)
		}
	}
	loader := WithLoader(func() (*Config, error) { return LoadWithProfile(configPath, profile) })

	watcher, err := NewWatcher(paths, append([]WatcherOption{loader}, opts...)...)
	if err != nil {
		return nil, nil, err
	}
	if err := watcher.Start(ctx); err != nil {
		return nil, nil, err
	}
	return watcher, watcher.Config(), nil
}
