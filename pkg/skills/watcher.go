package skills

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher reloads a MemoryCatalog from a skills directory whenever a file
// under it changes, then notifies listeners.
type Watcher struct {
	root     string
	catalog  *MemoryCatalog
	debounce time.Duration
	logger   *slog.Logger

	mu        sync.Mutex
	listeners []func([]Skill)
}

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithDebounce sets how long the watcher waits for writes to settle.
func WithDebounce(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// WithWatcherLogger sets the logger.
func WithWatcherLogger(l *slog.Logger) WatcherOption {
	return func(w *Watcher) {
		if l != nil {
			w.logger = l
		}
	}
}

// NewWatcher creates a watcher for root feeding catalog.
func NewWatcher(root string, catalog *MemoryCatalog, opts ...WatcherOption) *Watcher {
	w := &Watcher{
		root:     root,
		catalog:  catalog,
		debounce: 250 * time.Millisecond,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// OnReload registers fn to be called after every successful reload.
func (w *Watcher) OnReload(fn func([]Skill)) {
	w.mu.Lock()
	w.listeners = append(w.listeners, fn)
	w.mu.Unlock()
}

// Reload loads the directory into the catalog and notifies listeners. A
// directory that fails to load leaves the catalog untouched.
func (w *Watcher) Reload() error {
	loaded, err := LoadDir(w.root)
	if err != nil {
		return err
	}
	w.catalog.Replace(loaded)
	w.logger.Info("skills reloaded", "dir", w.root, "count", len(loaded))

	w.mu.Lock()
	listeners := append([]func([]Skill){}, w.listeners...)
	w.mu.Unlock()
	for _, fn := range listeners {
		fn(loaded)
	}
	return nil
}

// Run performs an initial load and then watches until ctx is done.
func (w *Watcher) Run(ctx context.Context) error {
	if err := w.Reload(); err != nil {
		return err
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fw.Close()

	if err := w.addTree(fw); err != nil {
		return err
	}

	var (
		timer   *time.Timer
		pending <-chan time.Time
	)
	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil
		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if event.Op&fsnotify.Create != 0 {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					_ = fw.Add(event.Name)
				}
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			pending = timer.C
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("skills watcher error", "error", err)
		case <-pending:
			pending = nil
			if err := w.Reload(); err != nil {
				w.logger.Warn("skills reload failed; keeping previous catalog", "dir", w.root, "error", err)
			}
		}
	}
}

// fsnotify is not recursive, so every skill directory is added on its own.
func (w *Watcher) addTree(fw *fsnotify.Watcher) error {
	if err := fw.Add(w.root); err != nil {
		return err
	}
	entries, err := os.ReadDir(w.root)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.IsDir() {
			if err := fw.Add(filepath.Join(w.root, e.Name())); err != nil {
				w.logger.Warn("cannot watch skill dir", "dir", e.Name(), "error", err)
			}
		}
	}
	return nil
}
