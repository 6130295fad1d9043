// Package finalize moves items out of Inbound into Processed or Failed.
// The folder an item rests in is its only persistent state.
package finalize

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"syscall"

	"github.com/raphaelgruber/intake/internal/metafile"
	"github.com/raphaelgruber/intake/internal/models"
)

// ErrVanished is returned when the item disappeared from Inbound before it
// could be moved.
var ErrVanished = errors.New("item vanished from inbound")

// Outcome describes where an item came to rest.
type Outcome struct {
	Location models.Location
	Path     string
	// Fallback is set when the item was meant for Processed but ended in Failed.
	Fallback bool
	// Replaced is set when an earlier item with the same name was overwritten.
	Replaced bool
}

// StuckError means the item could be moved to neither folder and is still in
// Inbound. The process cannot make progress on it and must stop.
type StuckError struct {
	Path    string
	Errs    []error
	Targets []models.Location
}

func (e *StuckError) Error() string {
	return fmt.Sprintf("item %s stuck in inbound: %v", e.Path, errors.Join(e.Errs...))
}

func (e *StuckError) Unwrap() []error { return e.Errs }

// Finalizer owns the three folders.
type Finalizer struct {
	inbound   string
	processed string
	failed    string
	logger    *slog.Logger
}

// New creates a finalizer for the given folders.
func New(inbound, processed, failed string, logger *slog.Logger) *Finalizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Finalizer{
		inbound:   inbound,
		processed: processed,
		failed:    failed,
		logger:    logger,
	}
}

// Dir returns the folder backing a location.
func (f *Finalizer) Dir(loc models.Location) string {
	switch loc {
	case models.LocationProcessed:
		return f.processed
	case models.LocationFailed:
		return f.failed
	default:
		return f.inbound
	}
}

// Finalize moves the file at path into the target folder under its base
// name, replacing whatever is there. A failed move to Processed falls back to
// Failed. If neither move succeeds a *StuckError is returned.
func (f *Finalizer) Finalize(path string, target models.Location) (Outcome, error) {
	if target != models.LocationProcessed && target != models.LocationFailed {
		return Outcome{}, fmt.Errorf("invalid finalize target %q", target)
	}
	if _, err := os.Lstat(path); errors.Is(err, fs.ErrNotExist) {
		return Outcome{}, ErrVanished
	}

	dest, replaced, err := f.move(path, f.Dir(target))
	if err == nil {
		return Outcome{Location: target, Path: dest, Replaced: replaced}, nil
	}
	if target == models.LocationFailed {
		return Outcome{}, &StuckError{Path: path, Errs: []error{err}, Targets: []models.Location{target}}
	}

	f.logger.Error("destination unreachable, routing item to failed", "path", path, "destination", f.processed, "error", err)

	dest, replaced, fbErr := f.move(path, f.failed)
	if fbErr != nil {
		return Outcome{}, &StuckError{
			Path:    path,
			Errs:    []error{err, fbErr},
			Targets: []models.Location{models.LocationProcessed, models.LocationFailed},
		}
	}
	return Outcome{Location: models.LocationFailed, Path: dest, Fallback: true, Replaced: replaced}, nil
}

// Restore moves Failed/name back into Inbound so the pipeline picks it up
// again. It returns the new inbound path.
func (f *Finalizer) Restore(name string) (string, error) {
	if name != filepath.Base(name) || name == "." || name == ".." {
		return "", fmt.Errorf("invalid item name %q", name)
	}
	src := filepath.Join(f.failed, name)
	info, err := os.Lstat(src)
	if err != nil {
		return "", err
	}
	if !info.Mode().IsRegular() {
		return "", fmt.Errorf("%s is not a regular file", src)
	}
	dest, _, err := f.move(src, f.inbound)
	return dest, err
}

// Failed lists the item names currently resting in Failed.
func (f *Finalizer) Failed() ([]string, error) {
	entries, err := os.ReadDir(f.failed)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if e.Type().IsRegular() && !metafile.IsFile(e.Name()) {
			names = append(names, e.Name())
		}
	}
	return names, nil
}

// move relocates src into dir under its base name. An existing file is
// replaced atomically; an existing directory is removed first.
func (f *Finalizer) move(src, dir string) (string, bool, error) {
	dest := filepath.Join(dir, filepath.Base(src))

	replaced := false
	if info, err := os.Lstat(dest); err == nil {
		replaced = true
		if info.IsDir() {
			if err := os.RemoveAll(dest); err != nil {
				return "", false, fmt.Errorf("remove directory at destination: %w", err)
			}
		}
	}

	err := os.Rename(src, dest)
	if errors.Is(err, syscall.EXDEV) {
		err = copyReplace(src, dir, dest)
	}
	if err != nil {
		return "", false, err
	}
	if replaced {
		f.logger.Info("replaced existing item", "destination", dest)
	}
	return dest, replaced, nil
}

// copyReplace moves src across filesystems: it copies into a hidden temp file
// next to dest, syncs it, renames it over dest and only then removes src. If
// src cannot be removed, dest is removed again.
func copyReplace(src, dir, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	tmp, err := os.CreateTemp(dir, metafile.TempPrefix+"*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			os.Remove(tmpName)
		}
	}()

	if _, err := io.Copy(tmp, in); err != nil {
		tmp.Close()
		return fmt.Errorf("copy: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if info, err := in.Stat(); err == nil {
		_ = os.Chmod(tmpName, info.Mode().Perm())
	}
	if err := os.Rename(tmpName, dest); err != nil {
		return err
	}
	committed = true

	in.Close()
	if err := os.Remove(src); err != nil {
		// The item must not stay in both places.
		err = fmt.Errorf("remove source after copy: %w", err)
		if rmErr := os.Remove(dest); rmErr != nil {
			return errors.Join(err, fmt.Errorf("undo copy: %w", rmErr))
		}
		return err
	}
	return nil
}
