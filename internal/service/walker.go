package service

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/raphaelgruber/intake/internal/metafile"
)

// ItemFunc processes the single file at path from Inbound to its final folder.
type ItemFunc func(ctx context.Context, path string) error

// Walker turns submitted paths into file-level tasks. Paths are re-checked
// with Lstat at submission time; what the caller claims the path is does not
// matter.
type Walker struct {
	inbound string
	sched   *Scheduler
	process ItemFunc
	logger  *slog.Logger
	onSkip  func(path string)
}

// NewWalker creates a walker that schedules process for every qualifying file
// below inbound.
func NewWalker(inbound string, sched *Scheduler, process ItemFunc, logger *slog.Logger) *Walker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Walker{
		inbound: filepath.Clean(inbound),
		sched:   sched,
		process: process,
		logger:  logger,
	}
}

// OnSkip registers a callback for paths skipped as platform metadata.
func (w *Walker) OnSkip(fn func(path string)) {
	w.onSkip = fn
}

// Submit schedules the file at path, or every file below it if path is a
// directory. It returns the number of tasks scheduled.
func (w *Walker) Submit(path string) int {
	path = filepath.Clean(path)
	rel, ok := w.relative(path)
	if !ok {
		w.logger.Warn("ignoring path outside inbound", "path", path)
		return 0
	}
	if rel != "." && metafile.Skip(rel) {
		w.skipped(path)
		return 0
	}

	info, err := os.Lstat(path)
	if err != nil {
		if os.IsNotExist(err) {
			w.logger.Debug("path vanished before processing", "path", path)
		} else {
			w.logger.Warn("cannot stat submitted path", "path", path, "error", err)
		}
		return 0
	}

	switch {
	case info.Mode().IsRegular():
		return w.schedule(path)
	case info.IsDir():
		return w.walk(path)
	default:
		w.logger.Info("ignoring special file", "path", path, "mode", info.Mode())
		return 0
	}
}

// Reconcile submits every entry of Inbound as if it had just appeared. An
// unreadable Inbound is fatal.
func (w *Walker) Reconcile(ctx context.Context) (int, error) {
	entries, err := os.ReadDir(w.inbound)
	if err != nil {
		return 0, &InboundError{Dir: w.inbound, Err: err}
	}

	total := 0
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		if metafile.Skip(e.Name()) {
			continue
		}
		total += w.Submit(filepath.Join(w.inbound, e.Name()))
	}
	w.logger.Info("reconciled inbound", "entries", len(entries), "scheduled", total)
	return total, nil
}

func (w *Walker) schedule(path string) int {
	ok := w.sched.Submit(path, func(ctx context.Context) error {
		err := w.process(ctx, path)
		w.prune(filepath.Dir(path))
		return err
	})
	if !ok {
		return 0
	}
	return 1
}

// walk schedules every qualifying file below dir and then removes whatever
// subdirectories already hold nothing but metadata. dir itself is tried last
// unless it is the inbound root.
func (w *Walker) walk(dir string) int {
	count := 0
	var dirs []string

	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			w.logger.Warn("cannot read inbound entry", "path", p, "error", err)
			if d != nil && d.IsDir() && p != dir {
				return filepath.SkipDir
			}
			return nil
		}
		rel, _ := w.relative(p)
		if d.IsDir() {
			if p != dir && metafile.Skip(rel) {
				return filepath.SkipDir
			}
			dirs = append(dirs, p)
			return nil
		}
		if metafile.Skip(rel) {
			w.skipped(p)
			return nil
		}
		if !d.Type().IsRegular() {
			w.logger.Info("ignoring special file", "path", p, "mode", d.Type())
			return nil
		}
		count += w.schedule(p)
		return nil
	})
	if err != nil {
		w.logger.Warn("walk failed", "dir", dir, "error", err)
	}

	// Deepest first, so parents become empty before they are tried.
	slices.Reverse(dirs)
	for _, d := range dirs {
		if d != w.inbound {
			w.removeDrained(d)
		}
	}

	w.logger.Debug("walked directory", "dir", dir, "scheduled", count)
	return count
}

// prune removes dir and its parents up to, but excluding, the inbound root
// once they hold nothing but platform metadata.
func (w *Walker) prune(dir string) {
	for {
		rel, ok := w.relative(dir)
		if !ok || rel == "." {
			return
		}
		if !w.removeDrained(dir) {
			return
		}
		dir = filepath.Dir(dir)
	}
}

// removeDrained deletes dir if everything left in it is platform metadata.
// A dir that is already gone counts as drained.
func (w *Walker) removeDrained(dir string) bool {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return true
	}
	if err != nil {
		return false
	}
	for _, e := range entries {
		if e.IsDir() && !metafile.IsDir(e.Name()) {
			return false
		}
		if !e.IsDir() && !metafile.Skip(e.Name()) {
			return false
		}
	}
	for _, e := range entries {
		if err := os.RemoveAll(filepath.Join(dir, e.Name())); err != nil {
			w.logger.Debug("metadata entry not removed", "path", filepath.Join(dir, e.Name()), "error", err)
		}
	}
	if err := os.Remove(dir); err != nil && !os.IsNotExist(err) {
		w.logger.Debug("directory not removed", "dir", dir, "error", err)
		return false
	}
	w.logger.Debug("removed drained directory", "dir", dir)
	return true
}

func (w *Walker) relative(path string) (string, bool) {
	rel, err := filepath.Rel(w.inbound, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}
	return filepath.ToSlash(rel), true
}

func (w *Walker) skipped(path string) {
	w.logger.Debug("skipping platform metadata", "path", path)
	if w.onSkip != nil {
		w.onSkip(path)
	}
}
