// Package archive turns source archives into the canonical zip payload the
// upload endpoint accepts.
package archive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/bodgit/sevenzip"
	"github.com/klauspost/compress/zip"
	"github.com/raphaelgruber/intake/internal/metafile"
	"github.com/raphaelgruber/intake/internal/models"
)

const (
	contentDir    = "content"
	canonicalName = "canonical.zip"
)

var (
	errEscapesTree = errors.New("entry path escapes working tree")
	errEmptyName   = errors.New("empty entry name")
)

// Normalizer extracts 7z archives into a per-task working tree and repacks
// their content as a deflated zip.
type Normalizer struct {
	workDir string
	logger  *slog.Logger
}

// NewNormalizer creates a normalizer whose working trees live under workDir.
// An empty workDir means the system temp directory.
func NewNormalizer(workDir string, logger *slog.Logger) *Normalizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Normalizer{workDir: workDir, logger: logger}
}

// Normalize converts the 7z archive at src into a canonical zip. The returned
// cleanup removes the working tree and must be called once the payload has
// been consumed. On error the tree is already gone and cleanup is a no-op.
func (n *Normalizer) Normalize(ctx context.Context, src string) (models.Payload, func() error, error) {
	noop := func() error { return nil }

	tree, err := os.MkdirTemp(n.workDir, "intake-")
	if err != nil {
		return models.Payload{}, noop, &ExtractionError{Archive: src, Err: fmt.Errorf("create working tree: %w", err)}
	}
	cleanup := func() error { return os.RemoveAll(tree) }
	fail := func(err error) (models.Payload, func() error, error) {
		if rmErr := cleanup(); rmErr != nil {
			n.logger.Warn("failed to remove working tree", "tree", tree, "error", rmErr)
		}
		return models.Payload{}, noop, err
	}

	content := filepath.Join(tree, contentDir)
	extracted, err := n.extract(ctx, src, content)
	if err != nil {
		return fail(err)
	}

	dst := filepath.Join(tree, canonicalName)
	packed, err := repack(ctx, content, dst)
	if err != nil {
		return fail(&RepackagingError{Archive: src, Err: err})
	}

	info, err := os.Stat(dst)
	if err != nil {
		return fail(&RepackagingError{Archive: src, Err: err})
	}

	n.logger.Debug("normalized archive", "src", src, "extracted", extracted, "packed", packed, "bytes", info.Size())
	return models.Payload{Path: dst, ContentType: models.ContentTypeZip, Size: info.Size()}, cleanup, nil
}

// extract unpacks every regular file of the 7z at src below dir and returns
// how many files were written.
func (n *Normalizer) extract(ctx context.Context, src, dir string) (int, error) {
	r, err := sevenzip.OpenReader(src)
	if err != nil {
		return 0, &ExtractionError{Archive: src, Err: err}
	}
	defer r.Close()

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return 0, &ExtractionError{Archive: src, Err: err}
	}

	count := 0
	for _, f := range r.File {
		if err := ctx.Err(); err != nil {
			return count, &ExtractionError{Archive: src, Err: err}
		}

		name, err := entryPath(f.Name)
		if err != nil {
			return count, &ExtractionError{Archive: src, Entry: f.Name, Err: err}
		}
		target := filepath.Join(dir, filepath.FromSlash(name))
		info := f.FileInfo()

		switch {
		case info.IsDir() || strings.HasSuffix(f.Name, "/"):
			if err := os.MkdirAll(target, 0o755); err != nil {
				return count, &ExtractionError{Archive: src, Entry: f.Name, Err: err}
			}
		case info.Mode()&fs.ModeSymlink != 0, !info.Mode().IsRegular():
			n.logger.Debug("skipping special archive entry", "archive", src, "entry", f.Name, "mode", info.Mode())
		default:
			if err := writeEntry(f, target); err != nil {
				return count, &ExtractionError{Archive: src, Entry: f.Name, Err: err}
			}
			count++
		}
	}
	return count, nil
}

func writeEntry(f *sevenzip.File, target string) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}
	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer rc.Close()

	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, rc); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// entryPath normalizes an archive entry name to a clean, slash-separated
// relative path. Names that would land outside the tree are rejected.
func entryPath(name string) (string, error) {
	slashed := strings.ReplaceAll(name, `\`, "/")
	if strings.HasPrefix(slashed, "/") {
		return "", errEscapesTree
	}
	clean := path.Clean(slashed)
	if clean == "." {
		return "", errEmptyName
	}
	if !filepath.IsLocal(filepath.FromSlash(clean)) {
		return "", errEscapesTree
	}
	return clean, nil
}

// repack writes every non-metadata regular file below dir into a new zip at
// dst, using paths relative to dir as entry names. It returns the number of
// entries written.
func repack(ctx context.Context, dir, dst string) (int, error) {
	out, err := os.Create(dst)
	if err != nil {
		return 0, err
	}
	zw := zip.NewWriter(out)

	count := 0
	walkErr := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		rel = filepath.ToSlash(rel)

		if d.IsDir() {
			if metafile.Skip(rel) {
				return filepath.SkipDir
			}
			return nil
		}
		if metafile.Skip(rel) || !d.Type().IsRegular() {
			return nil
		}

		if err := addFile(zw, p, rel); err != nil {
			return fmt.Errorf("add %s: %w", rel, err)
		}
		count++
		return nil
	})

	closeErr := zw.Close()
	if err := out.Close(); closeErr == nil {
		closeErr = err
	}
	if walkErr != nil {
		return count, walkErr
	}
	return count, closeErr
}

func addFile(zw *zip.Writer, src, name string) error {
	f, err := os.Open(src)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}
	hdr, err := zip.FileInfoHeader(info)
	if err != nil {
		return err
	}
	hdr.Name = name
	hdr.Method = zip.Deflate

	w, err := zw.CreateHeader(hdr)
	if err != nil {
		return err
	}
	_, err = io.Copy(w, f)
	return err
}
