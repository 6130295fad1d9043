// Package classify determines an item's content kind from its bytes.
package classify

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"github.com/gabriel-vasile/mimetype"
	"github.com/raphaelgruber/intake/internal/models"
)

// MIME types the classifier cares about.
const (
	MIMESevenZip    = "application/x-7z-compressed"
	MIMEZip         = "application/zip"
	MIMEDICOM       = "application/dicom"
	MIMEOctetStream = "application/octet-stream"
)

// Classifier sniffs file content and maps it to a models.ContentKind.
// The file name is never consulted: upstream sources mislabel extensions.
type Classifier struct {
	opaqueTypes []string
}

// New creates a classifier. opaqueTypes lists the raw-payload MIME types the
// endpoint accepts; if empty, DICOM is assumed.
func New(opaqueTypes ...string) *Classifier {
	if len(opaqueTypes) == 0 {
		opaqueTypes = []string{MIMEDICOM}
	}
	return &Classifier{opaqueTypes: opaqueTypes}
}

// Classify reads the head of the file at path and returns its content kind.
// An error means the file could not be inspected at all.
func (c *Classifier) Classify(path string) (models.ContentKind, error) {
	f, err := os.Open(path)
	if err != nil {
		return models.KindUnknown, fmt.Errorf("open: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return models.KindUnknown, fmt.Errorf("stat: %w", err)
	}
	if !info.Mode().IsRegular() {
		return models.KindUnknown, fmt.Errorf("not a regular file: %s", info.Mode())
	}
	if info.Size() == 0 {
		return models.KindUnsupported, nil
	}

	return c.classifyReader(f)
}

// sniffLimit is how much of the head is handed to mimetype.
const sniffLimit = 3072

// classifyReader sniffs the head of r. An empty stream is unsupported.
func (c *Classifier) classifyReader(r io.Reader) (models.ContentKind, error) {
	var head bytes.Buffer
	n, err := io.Copy(&head, io.LimitReader(r, sniffLimit))
	if err != nil {
		return models.KindUnknown, fmt.Errorf("read: %w", err)
	}
	if n == 0 {
		return models.KindUnsupported, nil
	}
	return c.kindOf(mimetype.Detect(head.Bytes())), nil
}

// Detect returns the sniffed MIME type of a file, for diagnostics.
func Detect(path string) (string, error) {
	mt, err := mimetype.DetectFile(path)
	if err != nil {
		return "", err
	}
	return mt.String(), nil
}

func (c *Classifier) kindOf(mt *mimetype.MIME) models.ContentKind {
	switch {
	case mt.Is(MIMESevenZip):
		return models.KindSourceArchive
	case isZipFamily(mt):
		return models.KindCanonicalArchive
	case c.isOpaque(mt):
		return models.KindOpaqueBinary
	case mt.Is(MIMEOctetStream):
		// Nothing more specific matched: accept as a raw payload.
		return models.KindOpaqueBinary
	default:
		return models.KindUnsupported
	}
}

// isZipFamily walks the MIME hierarchy so zip-based formats (jar, docx, ...)
// count as zip containers.
func isZipFamily(mt *mimetype.MIME) bool {
	for m := mt; m != nil; m = m.Parent() {
		if m.Is(MIMEZip) {
			return true
		}
	}
	return false
}

func (c *Classifier) isOpaque(mt *mimetype.MIME) bool {
	for _, t := range c.opaqueTypes {
		if mt.Is(t) {
			return true
		}
	}
	return false
}
