package config

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

// Watcher polls the config file and feeds hot-reloadable changes into the
// running service. It computes the [ConfigDiff] itself, so the apply
// callback only ever sees fields that are safe to change live (log level,
// command threshold, hourly rate caps, session idle timeout); an edit that
// touches anything else is logged as requiring a restart. Change detection
// is an mtime check followed by a content hash, which keeps touch-without-
// edit and atomic-rename saves from triggering spurious reloads.
type Watcher struct {
	path     string
	interval time.Duration
	apply    func(diff ConfigDiff, next *Config)
	logger   *slog.Logger

	mu      sync.Mutex
	current *Config
	mtime   time.Time
	sum     [sha256.Size]byte

	done     chan struct{}
	stopOnce sync.Once
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval sets the polling interval. Default 5 seconds.
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// WithWatcherLogger sets the logger for reload events.
func WithWatcherLogger(logger *slog.Logger) WatcherOption {
	return func(w *Watcher) { w.logger = logger }
}

// NewWatcher loads path immediately, then polls it in a background goroutine,
// invoking apply with the diff of each valid content change. A nil apply
// still tracks [Watcher.Current].
func NewWatcher(path string, apply func(diff ConfigDiff, next *Config), opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		path:     path,
		interval: 5 * time.Second,
		apply:    apply,
		logger:   slog.Default(),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}

	cfg, sum, mtime, err := w.load()
	if err != nil {
		return nil, fmt.Errorf("config: initial load of %s: %w", path, err)
	}
	w.current, w.sum, w.mtime = cfg, sum, mtime

	go w.run()
	return w, nil
}

// Current returns the most recently loaded valid config.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Stop ends the polling goroutine. Safe to call more than once.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
	})
}

func (w *Watcher) run() {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			w.sweep()
		}
	}
}

// sweep reloads the file when it changed on disk and pushes the resulting
// diff to the apply callback. A file that fails to parse or validate keeps
// the last good config in place.
func (w *Watcher) sweep() {
	info, err := os.Stat(w.path)
	if err != nil {
		w.logger.Warn("config file unreadable, keeping current config",
			"path", w.path, "err", err)
		return
	}

	w.mu.Lock()
	seen := w.mtime
	w.mu.Unlock()
	if info.ModTime().Equal(seen) {
		return
	}

	next, sum, mtime, err := w.load()
	if err != nil {
		w.logger.Warn("config reload skipped, new file does not validate",
			"path", w.path, "err", err)
		return
	}

	w.mu.Lock()
	if sum == w.sum {
		// Touched but content unchanged.
		w.mtime = mtime
		w.mu.Unlock()
		return
	}
	old := w.current
	w.current, w.sum, w.mtime = next, sum, mtime
	w.mu.Unlock()

	diff := Diff(old, next)
	if !diff.Any() {
		w.logger.Warn("config changed but nothing is hot-reloadable, restart to apply",
			"path", w.path)
		return
	}

	w.logger.Info("applying config reload", "path", w.path)
	// Outside the lock so apply may call Current.
	if w.apply != nil {
		w.apply(diff, next)
	}
}

// load reads, hashes, and validates the file in one pass over its bytes.
func (w *Watcher) load() (*Config, [sha256.Size]byte, time.Time, error) {
	var zero [sha256.Size]byte

	info, err := os.Stat(w.path)
	if err != nil {
		return nil, zero, time.Time{}, err
	}
	data, err := os.ReadFile(w.path)
	if err != nil {
		return nil, zero, time.Time{}, err
	}
	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, zero, time.Time{}, err
	}
	return cfg, sha256.Sum256(data), info.ModTime(), nil
}
