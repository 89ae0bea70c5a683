package config

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher monitors the configuration file and hot-swaps the tunable scalars
// into a Tunables cell when the file changes. Only the tunables move; a
// structural change (index parameters, window capacity, storage backend)
// requires constructing a new engine and is reported through the callback
// so the operator can see it was ignored.
type Watcher struct {
	mu         sync.Mutex
	watcher    *fsnotify.Watcher
	configPath string
	tunables   *Tunables
	onSwap     func(old, new TunableValues)
	onError    func(error)
	debounce   time.Duration
	stopCh     chan struct{}
	running    bool
}

// WatcherOption is a functional option for Watcher configuration.
type WatcherOption func(*Watcher)

// WithDebounce sets the debounce duration for file change events.
func WithDebounce(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		w.debounce = d
	}
}

// WithSwapCallback registers a callback invoked after each successful swap.
func WithSwapCallback(fn func(old, new TunableValues)) WatcherOption {
	return func(w *Watcher) {
		w.onSwap = fn
	}
}

// WithErrorCallback registers a callback for reload failures.
func WithErrorCallback(fn func(error)) WatcherOption {
	return func(w *Watcher) {
		w.onError = fn
	}
}

// NewWatcher creates a configuration file watcher bound to a Tunables cell.
func NewWatcher(configPath string, tunables *Tunables, opts ...WatcherOption) (*Watcher, error) {
	if configPath == "" {
		return nil, fmt.Errorf("config path is required for watching")
	}
	if tunables == nil {
		return nil, fmt.Errorf("tunables cell is required for watching")
	}

	fswatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}

	w := &Watcher{
		watcher:    fswatcher,
		configPath: configPath,
		tunables:   tunables,
		debounce:   500 * time.Millisecond,
		stopCh:     make(chan struct{}),
	}

	for _, opt := range opts {
		opt(w)
	}

	return w, nil
}

// Watch blocks, monitoring the configuration file until the context is
// cancelled or Stop is called.
func (w *Watcher) Watch(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return fmt.Errorf("watcher is already running")
	}
	w.running = true
	w.mu.Unlock()

	defer func() {
		w.mu.Lock()
		w.running = false
		w.mu.Unlock()
	}()

	if err := w.watcher.Add(w.configPath); err != nil {
		return fmt.Errorf("watch config file %s: %w", w.configPath, err)
	}

	var debounceTimer *time.Timer
	defer func() {
		if debounceTimer != nil {
			debounceTimer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-w.stopCh:
			return nil

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			debounceTimer = time.AfterFunc(w.debounce, w.reload)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.reportError(fmt.Errorf("fsnotify: %w", err))
		}
	}
}

// Stop terminates the watch loop and releases the fsnotify handle.
func (w *Watcher) Stop() error {
	close(w.stopCh)
	return w.watcher.Close()
}

// reload re-parses the config file and swaps the tunables if they changed.
func (w *Watcher) reload() {
	cfg, err := Load(w.configPath, nil)
	if err != nil {
		w.reportError(fmt.Errorf("reload config: %w", err))
		return
	}

	old := w.tunables.Load()
	if old.VectorWeight == cfg.Retrieval.VectorWeight &&
		old.SimilarityThreshold == cfg.Retrieval.SimilarityThreshold {
		return
	}

	w.tunables.Store(cfg.Retrieval.VectorWeight, cfg.Retrieval.SimilarityThreshold)
	if w.onSwap != nil {
		w.onSwap(old, w.tunables.Load())
	}
}

func (w *Watcher) reportError(err error) {
	if w.onError != nil {
		w.onError(err)
	}
}
