// Package watcher reports files that appear in the inbound folder once they
// have stopped changing.
package watcher

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/raphaelgruber/intake/internal/metafile"
)

// ErrRootRemoved is reported on Fatal when the watched folder disappears.
var ErrRootRemoved = errors.New("watched folder removed or renamed")

// Watcher watches a folder tree recursively. File paths are delivered once no
// create or write event has been seen for them during the settle delay.
// Directories are never delivered: a new directory is watched and each file
// already inside it settles on its own writes.
type Watcher struct {
	root   string
	settle time.Duration
	fsw    *fsnotify.Watcher
	logger *slog.Logger

	paths    chan string
	overflow chan struct{}
	fatal    chan error
	done     chan struct{}
	ready    chan struct{}

	mu      sync.Mutex
	timers  map[string]*time.Timer
	started bool
	closed  bool
	wg      sync.WaitGroup
}

// New creates a watcher on root and every directory below it.
func New(root string, settle time.Duration, logger *slog.Logger) (*Watcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	w := &Watcher{
		root:     filepath.Clean(root),
		settle:   settle,
		fsw:      fsw,
		logger:   logger,
		paths:    make(chan string, 256),
		overflow: make(chan struct{}, 1),
		fatal:    make(chan error, 1),
		done:     make(chan struct{}),
		ready:    make(chan struct{}),
		timers:   make(map[string]*time.Timer),
	}
	if err := w.addTree(w.root); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", root, err)
	}
	return w, nil
}

// Start begins delivering events. Subsequent calls are no-ops.
func (w *Watcher) Start() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.started || w.closed {
		return
	}
	w.started = true
	w.wg.Add(1)
	go w.loop()
}

// Ready is closed once the event loop is running.
func (w *Watcher) Ready() <-chan struct{} { return w.ready }

// Paths delivers settled paths.
func (w *Watcher) Paths() <-chan string { return w.paths }

// Overflow signals that events were lost and the tree should be rescanned.
func (w *Watcher) Overflow() <-chan struct{} { return w.overflow }

// Fatal delivers at most one error after which the watcher is useless.
func (w *Watcher) Fatal() <-chan error { return w.fatal }

// Close stops the watcher and releases resources.
func (w *Watcher) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	close(w.done)
	for p, t := range w.timers {
		t.Stop()
		delete(w.timers, p)
	}
	w.mu.Unlock()

	err := w.fsw.Close()
	w.wg.Wait()
	return err
}

func (w *Watcher) loop() {
	defer w.wg.Done()
	close(w.ready)

	for {
		select {
		case <-w.done:
			return

		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handle(event)

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			if errors.Is(err, fsnotify.ErrEventOverflow) {
				w.logger.Warn("watch event queue overflowed, rescan required")
				select {
				case w.overflow <- struct{}{}:
				default:
				}
				continue
			}
			w.logger.Warn("watch error", "error", err)
		}
	}
}

func (w *Watcher) handle(event fsnotify.Event) {
	path := filepath.Clean(event.Name)

	if path == w.root {
		if event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
			w.reportFatal(ErrRootRemoved)
		}
		return
	}

	rel, err := filepath.Rel(w.root, path)
	if err != nil || metafile.Skip(filepath.ToSlash(rel)) {
		return
	}

	switch {
	case event.Has(fsnotify.Create):
		if info, err := os.Lstat(path); err == nil && info.IsDir() {
			if err := w.addTree(path); err != nil {
				w.logger.Warn("failed to watch new directory", "dir", path, "error", err)
			}
			w.debounceTree(path)
			return
		}
		w.debounce(path)
	case event.Has(fsnotify.Write):
		w.debounce(path)
	}
}

// addTree watches dir and every non-metadata directory below it.
func (w *Watcher) addTree(dir string) error {
	return filepath.WalkDir(dir, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			if p == dir {
				return err
			}
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if p != w.root {
			if rel, err := filepath.Rel(w.root, p); err == nil && metafile.Skip(filepath.ToSlash(rel)) {
				return filepath.SkipDir
			}
		}
		if err := w.fsw.Add(p); err != nil {
			if p == dir {
				return err
			}
			w.logger.Warn("failed to watch directory", "dir", p, "error", err)
		}
		return nil
	})
}

// debounceTree starts a settle timer for every regular file below dir. Files
// created before the watch on dir was in place produce no event of their own.
func (w *Watcher) debounceTree(dir string) {
	_ = filepath.WalkDir(dir, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		rel, relErr := filepath.Rel(w.root, p)
		if relErr == nil && metafile.Skip(filepath.ToSlash(rel)) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.Type().IsRegular() {
			w.debounce(p)
		}
		return nil
	})
}

func (w *Watcher) debounce(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	if t, ok := w.timers[path]; ok {
		t.Reset(w.settle)
		return
	}
	w.timers[path] = time.AfterFunc(w.settle, func() { w.emit(path) })
}

func (w *Watcher) emit(path string) {
	w.mu.Lock()
	delete(w.timers, path)
	closed := w.closed
	w.mu.Unlock()
	if closed {
		return
	}

	select {
	case w.paths <- path:
	case <-w.done:
	}
}

func (w *Watcher) reportFatal(err error) {
	select {
	case w.fatal <- err:
	default:
	}
}
