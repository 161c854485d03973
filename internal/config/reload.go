package config

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Reload is one accepted configuration change: the validated config and
// the security-downgrade warnings produced by comparing it to the config
// it replaces. Warnings never block a reload; the consumer decides how
// loudly to surface them.
type Reload struct {
	Config   *Config
	Warnings []ReloadWarning
}

// Reloader watches a config file and emits validated Reloads on a
// channel. It reacts to both file changes (fsnotify) and SIGHUP.
type Reloader struct {
	path      string
	onChange  chan Reload
	done      chan struct{}
	closeOnce sync.Once

	mu   sync.Mutex
	last *Config // baseline for downgrade comparison
}

// NewReloader creates a reloader for path. current is the config the
// process started with; the first reload is diffed against it. Start
// must be called to begin watching.
func NewReloader(path string, current *Config) *Reloader {
	return &Reloader{
		path:     path,
		onChange: make(chan Reload, 1),
		done:     make(chan struct{}),
		last:     current,
	}
}

// Changes returns the channel that receives accepted reloads.
func (r *Reloader) Changes() <-chan Reload {
	return r.onChange
}

// Start watches the config file and listens for SIGHUP. It blocks until
// ctx is cancelled or Close is called. When Start returns, the onChange
// channel is closed. Reload failures are reported to stderr and the old
// config remains active.
func (r *Reloader) Start(ctx context.Context) error {
	defer close(r.onChange)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating file watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()

	// Watch the directory (not the file) so we catch editors that
	// write-to-temp-then-rename (vim, sed -i, etc.).
	dir := filepath.Dir(r.path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watching directory %s: %w", dir, err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGHUP)
	defer signal.Stop(sigCh)

	baseName := filepath.Base(r.path)

	// Debounce: editors may fire multiple events in quick succession.
	var debounce <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-r.done:
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			// Only react to writes/creates/renames of our config file.
			if filepath.Base(event.Name) != baseName {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
				debounce = time.After(100 * time.Millisecond)
			}
		case <-debounce:
			r.tryReload()
			debounce = nil
		case <-sigCh:
			r.tryReload()
		case _, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			// Watcher errors are non-fatal; keep watching.
		}
	}
}

// tryReload loads and validates the config and emits it with its
// downgrade warnings. On failure it reports to stderr and keeps the old
// config as the comparison baseline.
func (r *Reloader) tryReload() {
	cfg, err := Load(r.path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "gatelock: config reload failed: %v\n", err)
		return
	}

	r.mu.Lock()
	var warnings []ReloadWarning
	if r.last != nil {
		warnings = ValidateReload(r.last, cfg)
	}
	r.mu.Unlock()

	// Non-blocking send: if the consumer hasn't drained the last reload,
	// drop this one (it will be superseded by the next change anyway).
	// The comparison baseline advances only on delivery.
	select {
	case r.onChange <- Reload{Config: cfg, Warnings: warnings}:
		r.mu.Lock()
		r.last = cfg
		r.mu.Unlock()
	default:
	}
}

// Close stops the reloader. Safe to call multiple times.
func (r *Reloader) Close() {
	r.closeOnce.Do(func() {
		close(r.done)
	})
}
