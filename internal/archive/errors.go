package archive

import "fmt"

// ExtractionError reports a source archive that could not be opened or
// unpacked into the working tree.
type ExtractionError struct {
	Archive string
	Entry   string // empty when the archive itself is unreadable
	Err     error
}

func (e *ExtractionError) Error() string {
	if e.Entry != "" {
		return fmt.Sprintf("extract %s: entry %q: %v", e.Archive, e.Entry, e.Err)
	}
	return fmt.Sprintf("extract %s: %v", e.Archive, e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// RepackagingError reports a failure while building the canonical archive
// from extracted content.
type RepackagingError struct {
	Archive string
	Err     error
}

func (e *RepackagingError) Error() string {
	return fmt.Sprintf("repackage %s: %v", e.Archive, e.Err)
}

func (e *RepackagingError) Unwrap() error { return e.Err }
