package config

import (
	"bytes"
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

// fileState identifies one version of the watched file.
type fileState struct {
	mtime time.Time
	sum   [sha256.Size]byte
}

// Watcher keeps the latest valid configuration read from a file. A reload
// happens when polling sees a new modification time or when [Watcher.Trigger]
// is called. Edits that fail to parse or validate are logged and ignored.
type Watcher struct {
	path     string
	interval time.Duration
	onChange func(old, new *Config)
	trigger  chan struct{}

	mu      sync.Mutex
	current *Config
	seen    fileState
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval sets the polling period. Zero disables polling so only
// [Watcher.Trigger] reloads.
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) { w.interval = max(d, 0) }
}

// NewWatcher reads path once and fails if it is not a valid configuration.
// onChange runs on the [Watcher.Run] goroutine after every accepted change.
func NewWatcher(path string, onChange func(old, new *Config), opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		path:     path,
		interval: 5 * time.Second,
		onChange: onChange,
		trigger:  make(chan struct{}, 1),
	}
	for _, o := range opts {
		o(w)
	}
	cfg, st, err := w.read()
	if err != nil {
		return nil, fmt.Errorf("config: watcher initial load: %w", err)
	}
	w.current, w.seen = cfg, st
	return w, nil
}

// Current is the configuration most recently accepted.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Trigger asks Run to re-read the file now, whatever its modification time.
// It never blocks; triggers arriving while one is pending are merged.
func (w *Watcher) Trigger() {
	select {
	case w.trigger <- struct{}{}:
	default:
	}
}

// Run serves reloads until ctx is done and then returns nil.
func (w *Watcher) Run(ctx context.Context) error {
	var tick <-chan time.Time
	if w.interval > 0 {
		t := time.NewTicker(w.interval)
		defer t.Stop()
		tick = t.C
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-tick:
			if w.modified() {
				w.reload()
			}
		case <-w.trigger:
			w.reload()
		}
	}
}

func (w *Watcher) modified() bool {
	info, err := os.Stat(w.path)
	if err != nil {
		slog.Warn("config watcher: stat failed", "path", w.path, "err", err)
		return false
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return !info.ModTime().Equal(w.seen.mtime)
}

func (w *Watcher) reload() {
	cfg, st, err := w.read()
	if err != nil {
		slog.Warn("config watcher: keeping previous config", "path", w.path, "err", err)
		return
	}

	w.mu.Lock()
	sameContent := st.sum == w.seen.sum
	w.seen = st
	old := w.current
	if !sameContent {
		w.current = cfg
	}
	w.mu.Unlock()
	if sameContent {
		return
	}

	slog.Info("config watcher: configuration reloaded", "path", w.path)
	if w.onChange != nil {
		w.onChange(old, cfg)
	}
}

func (w *Watcher) read() (*Config, fileState, error) {
	f, err := os.Open(w.path)
	if err != nil {
		return nil, fileState{}, err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return nil, fileState{}, err
	}
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(f); err != nil {
		return nil, fileState{}, err
	}
	cfg, err := LoadFromReader(bytes.NewReader(buf.Bytes()))
	if err != nil {
		return nil, fileState{}, err
	}
	return cfg, fileState{mtime: info.ModTime(), sum: sha256.Sum256(buf.Bytes())}, nil
}
