// Package watch invalidates cached motions and expressions when their
// files change on disk, so the next request reads the new version.
package watch

import (
	"context"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce coalesces the burst of events an editor save produces.
const DefaultDebounce = 100 * time.Millisecond

// Invalidator drops cache entries read from a file.
// *model.InternalModel implements it.
type Invalidator interface {
	InvalidateFile(path string) int
}

// Watcher watches model files and invalidates them after they settle.
type Watcher struct {
	watcher  *fsnotify.Watcher
	target   Invalidator
	debounce time.Duration
	logger   *slog.Logger

	mu     sync.Mutex
	files  map[string]bool        // cleaned path -> watched
	dirs   map[string]bool        // directories added to fsnotify
	timers map[string]*time.Timer // pending invalidations
	closed bool
}

// New creates a Watcher that reports changes to target.
func New(target Invalidator, debounce time.Duration, logger *slog.Logger) (*Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	if logger == nil {
		logger = slog.Default().With("component", "watch")
	}
	return &Watcher{
		watcher:  w,
		target:   target,
		debounce: debounce,
		logger:   logger,
		files:    make(map[string]bool),
		dirs:     make(map[string]bool),
		timers:   make(map[string]*time.Timer),
	}, nil
}

// Add watches paths. Remote URLs are skipped. It returns how many files
// are now watched.
func (w *Watcher) Add(paths ...string) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	for _, p := range paths {
		if p == "" || strings.Contains(p, "://") {
			continue
		}
		p = filepath.Clean(p)
		dir := filepath.Dir(p)
		if !w.dirs[dir] {
			if err := w.watcher.Add(dir); err != nil {
				return len(w.files), err
			}
			w.dirs[dir] = true
			w.logger.Debug("watching directory", "dir", dir)
		}
		w.files[p] = true
	}
	return len(w.files), nil
}

// Run handles file events until ctx is done or Close is called.
func (w *Watcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) || ev.Has(fsnotify.Rename) {
				w.schedule(filepath.Clean(ev.Name))
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watcher error", "error", err)
		}
	}
}

// schedule (re)starts the debounce timer for path.
func (w *Watcher) schedule(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed || !w.files[path] {
		return
	}
	if t, ok := w.timers[path]; ok {
		t.Reset(w.debounce)
		return
	}
	w.timers[path] = time.AfterFunc(w.debounce, func() { w.fire(path) })
}

func (w *Watcher) fire(path string) {
	w.mu.Lock()
	delete(w.timers, path)
	closed := w.closed
	w.mu.Unlock()
	if closed {
		return
	}

	n := w.target.InvalidateFile(path)
	w.logger.Info("file changed", "path", path, "invalidated", n)
}

// Close stops watching and cancels pending invalidations.
func (w *Watcher) Close() error {
	w.mu.Lock()
	w.closed = true
	for p, t := range w.timers {
		t.Stop()
		delete(w.timers, p)
	}
	w.mu.Unlock()
	return w.watcher.Close()
}
