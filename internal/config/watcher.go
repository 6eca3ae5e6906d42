package config

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/kelmah/apigateway/internal/observability"
)

// DefaultDebounceDelay groups bursts of file events into one reload.
const DefaultDebounceDelay = 100 * time.Millisecond

// ChangeFunc receives the previous and the newly loaded configuration.
type ChangeFunc func(prev, next *GatewayConfig)

// ErrorCallback is called when a reload fails. The previous configuration
// stays in effect.
type ErrorCallback func(error)

// Watcher reloads the configuration file when it changes on disk.
// Only configurations that pass validation are handed to the callback.
type Watcher struct {
	path          string
	loader        *Loader
	watcher       *fsnotify.Watcher
	onChange      ChangeFunc
	errorCallback ErrorCallback
	logger        observability.Logger
	debounceDelay time.Duration

	mu        sync.RWMutex
	current   *GatewayConfig
	running   bool
	stopCh    chan struct{}
	stoppedCh chan struct{}
}

// WatcherOption is a functional option for configuring the watcher.
type WatcherOption func(*Watcher)

// WithDebounceDelay sets the debounce delay for file changes.
func WithDebounceDelay(delay time.Duration) WatcherOption {
	return func(w *Watcher) {
		if delay > 0 {
			w.debounceDelay = delay
		}
	}
}

// WithLogger sets the logger for the watcher.
func WithLogger(logger observability.Logger) WatcherOption {
	return func(w *Watcher) {
		w.logger = logger
	}
}

// WithErrorCallback sets the error callback for the watcher.
func WithErrorCallback(callback ErrorCallback) WatcherOption {
	return func(w *Watcher) {
		w.errorCallback = callback
	}
}

// WithLoader replaces the loader used on reload.
func WithLoader(l *Loader) WatcherOption {
	return func(w *Watcher) {
		w.loader = l
	}
}

// WithInitialConfig seeds the watcher with an already loaded
// configuration so Start does not read the file again.
func WithInitialConfig(cfg *GatewayConfig) WatcherOption {
	return func(w *Watcher) {
		w.current = cfg
	}
}

// NewWatcher creates a watcher for the file at path.
func NewWatcher(path string, onChange ChangeFunc, opts ...WatcherOption) (*Watcher, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}

	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		path:          absPath,
		loader:        NewLoader(),
		watcher:       fsWatcher,
		onChange:      onChange,
		debounceDelay: DefaultDebounceDelay,
		logger:        observability.NopLogger(),
		stopCh:        make(chan struct{}),
		stoppedCh:     make(chan struct{}),
	}

	for _, opt := range opts {
		opt(w)
	}

	return w, nil
}

// Start loads the file if no initial configuration was given and begins
// watching its directory. Editors replace files by rename, so the
// directory is watched rather than the file.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	seeded := w.current != nil
	w.mu.Unlock()

	if !seeded {
		cfg, err := w.load()
		if err != nil {
			w.setRunning(false)
			return err
		}
		w.mu.Lock()
		w.current = cfg
		w.mu.Unlock()
	}

	if err := w.watcher.Add(filepath.Dir(w.path)); err != nil {
		w.setRunning(false)
		return err
	}

	w.logger.Info("watching configuration file",
		observability.String("path", w.path),
	)

	go w.watch(ctx)

	return nil
}

// Stop stops watching and releases the fsnotify handle.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return w.watcher.Close()
	}
	w.running = false
	w.mu.Unlock()

	close(w.stopCh)
	<-w.stoppedCh

	return w.watcher.Close()
}

// Current returns the last successfully loaded configuration.
func (w *Watcher) Current() *GatewayConfig {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

// ForceReload reloads the file immediately.
func (w *Watcher) ForceReload() error {
	cfg, err := w.load()
	if err != nil {
		return err
	}
	w.apply(cfg)
	return nil
}

func (w *Watcher) setRunning(v bool) {
	w.mu.Lock()
	w.running = v
	w.mu.Unlock()
}

func (w *Watcher) load() (*GatewayConfig, error) {
	cfg, err := w.loader.Load(w.path)
	if err != nil {
		return nil, err
	}
	v := NewValidator()
	if err := v.Validate(cfg); err != nil {
		return nil, err
	}
	for _, warning := range v.Warnings() {
		w.logger.Warn("configuration warning", observability.String("warning", warning))
	}
	return cfg, nil
}

func (w *Watcher) apply(cfg *GatewayConfig) {
	w.mu.Lock()
	prev := w.current
	w.current = cfg
	w.mu.Unlock()

	if w.onChange != nil {
		w.onChange(prev, cfg)
	}
}

func (w *Watcher) watch(ctx context.Context) {
	defer close(w.stoppedCh)

	var debounceTimer *time.Timer
	var debounceCh <-chan time.Time
	defer func() {
		if debounceTimer != nil {
			debounceTimer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("config watcher stopped due to context cancellation")
			return

		case <-w.stopCh:
			w.logger.Info("config watcher stopped")
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !w.relevant(event) {
				continue
			}
			w.logger.Debug("config file changed",
				observability.String("path", event.Name),
				observability.String("op", event.Op.String()),
			)
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			debounceTimer = time.NewTimer(w.debounceDelay)
			debounceCh = debounceTimer.C

		case <-debounceCh:
			debounceCh = nil
			w.reload()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.fail("config watcher error", err)
		}
	}
}

func (w *Watcher) relevant(event fsnotify.Event) bool {
	if filepath.Clean(event.Name) != w.path {
		return false
	}
	return event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0
}

func (w *Watcher) reload() {
	w.logger.Info("reloading configuration",
		observability.String("path", w.path),
	)

	cfg, err := w.load()
	if err != nil {
		w.fail("configuration reload failed, keeping previous", err)
		return
	}

	w.apply(cfg)
	w.logger.Info("configuration reloaded")
}

func (w *Watcher) fail(msg string, err error) {
	w.logger.Error(msg, observability.Error(err))
	if w.errorCallback != nil {
		w.errorCallback(err)
	}
}
