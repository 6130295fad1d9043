// Package models defines the data structures shared by the intake pipeline.
package models

import "fmt"

// ContentKind is the classification of an item's bytes.
type ContentKind int

const (
	// KindUnknown means the item has not been classified yet.
	KindUnknown ContentKind = iota
	// KindSourceArchive is a 7z container that must be repackaged before upload.
	KindSourceArchive
	// KindCanonicalArchive is a zip container, uploaded as-is.
	KindCanonicalArchive
	// KindOpaqueBinary is a raw payload (e.g. a DICOM instance), uploaded as-is.
	KindOpaqueBinary
	// KindUnsupported is anything the endpoint cannot accept.
	KindUnsupported
)

// String returns the human-readable name of a content kind.
func (k ContentKind) String() string {
	switch k {
	case KindUnknown:
		return "unknown"
	case KindSourceArchive:
		return "source-archive"
	case KindCanonicalArchive:
		return "canonical-archive"
	case KindOpaqueBinary:
		return "opaque-binary"
	case KindUnsupported:
		return "unsupported"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Uploadable reports whether items of this kind continue past classification.
func (k ContentKind) Uploadable() bool {
	return k == KindSourceArchive || k == KindCanonicalArchive || k == KindOpaqueBinary
}

// Content types sent with uploads.
const (
	ContentTypeZip   = "application/zip"
	ContentTypeDICOM = "application/dicom"
)

// Payload is what actually goes over the wire for an item: the file holding
// the bytes and the declared content type.
type Payload struct {
	Path        string
	ContentType string
	Size        int64
}
