// Package reload watches the persisted library script for changes on disk
// and triggers a supervisor restart so the running interpreter picks up
// the edit, instead of requiring an operator to bounce the process.
//
// Grounded in the debounced fsnotify watcher in
// theRebelliousNerd-codenerd/internal/core/mangle_watcher.go: one
// watcher, a debounce map keyed by path, and a periodic ticker that
// flushes settled events.
package reload

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const debounceWindow = 500 * time.Millisecond

// Restarter is the subset of *supervisor.Supervisor this package needs.
type Restarter interface {
	RestartFresh() error
}

// Watcher watches a set of paths (directories or single files) and calls
// Restarter.RestartFresh once a write, create or rename under any of them
// settles.
type Watcher struct {
	watcher    *fsnotify.Watcher
	restarter  Restarter
	watchPaths []string

	mu          sync.Mutex
	pending     map[string]time.Time
	running     bool
	stopCh      chan struct{}
	doneCh      chan struct{}
}

// New builds a Watcher over the given paths (for example a state
// directory and a library script inside it). Paths that don't exist yet
// are tolerated: Start logs a warning for each path it cannot watch and
// carries on without it, matching the original file watcher's "warn and
// continue" behavior for a missing directory. Start adds the paths only
// once, so a path created later is not picked up.
func New(restarter Restarter, paths ...string) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		watcher:    fw,
		restarter:  restarter,
		watchPaths: paths,
		pending:    make(map[string]time.Time),
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
	}, nil
}

// Start adds the configured paths to the underlying fsnotify watcher and
// begins the debounced event loop in a background goroutine.
func (w *Watcher) Start(ctx context.Context) {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return
	}
	w.running = true
	w.mu.Unlock()

	for _, p := range w.watchPaths {
		if err := w.watcher.Add(p); err != nil {
			slog.Warn("reload: failed to watch path, will not see its changes", "path", p, "error", err)
		}
	}

	go w.run(ctx)
}

// Stop ends the event loop and closes the underlying watcher.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	w.mu.Unlock()

	close(w.stopCh)
	<-w.doneCh
	if err := w.watcher.Close(); err != nil {
		slog.Error("reload: error closing watcher", "error", err)
	}
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.doneCh)

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.recordEvent(event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			slog.Error("reload: watcher error", "error", err)
		case <-ticker.C:
			w.flushSettled()
		}
	}
}

func (w *Watcher) recordEvent(event fsnotify.Event) {
	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.pending[event.Name] = time.Now()
}

func (w *Watcher) flushSettled() {
	w.mu.Lock()
	now := time.Now()
	var settled []string
	for path, seen := range w.pending {
		if now.Sub(seen) >= debounceWindow {
			settled = append(settled, path)
		}
	}
	for _, path := range settled {
		delete(w.pending, path)
	}
	w.mu.Unlock()

	if len(settled) == 0 {
		return
	}

	slog.Info("reload: library file change settled, restarting worker", "paths", settled)
	if err := w.restarter.RestartFresh(); err != nil {
		slog.Error("reload: restart after file change failed", "error", err)
	}
}
