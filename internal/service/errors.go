package service

import (
	"errors"
	"fmt"

	"github.com/raphaelgruber/intake/internal/finalize"
)

// ClassificationError means the item's bytes could not be inspected.
type ClassificationError struct {
	Path string
	Err  error
}

func (e *ClassificationError) Error() string {
	return fmt.Sprintf("classify %s: %v", e.Path, e.Err)
}

func (e *ClassificationError) Unwrap() error { return e.Err }

// UnsupportedError marks content the endpoint does not accept. It is a
// classification outcome, not a read failure.
type UnsupportedError struct {
	Path string
}

func (e *UnsupportedError) Error() string {
	return fmt.Sprintf("unsupported content: %s", e.Path)
}

// NormalizationError wraps an archive.ExtractionError or
// archive.RepackagingError.
type NormalizationError struct {
	Path string
	Err  error
}

func (e *NormalizationError) Error() string {
	return fmt.Sprintf("normalize %s: %v", e.Path, e.Err)
}

func (e *NormalizationError) Unwrap() error { return e.Err }

// UploadError wraps a transport failure or a rejected response.
type UploadError struct {
	Path string
	Err  error
}

func (e *UploadError) Error() string {
	return fmt.Sprintf("upload %s: %v", e.Path, e.Err)
}

func (e *UploadError) Unwrap() error { return e.Err }

// FinalizationError means the item could not be moved out of Inbound. It is
// fatal for the process.
type FinalizationError struct {
	Path string
	Err  error
}

func (e *FinalizationError) Error() string {
	return fmt.Sprintf("finalize %s: %v", e.Path, e.Err)
}

func (e *FinalizationError) Unwrap() error { return e.Err }

// IsFatal reports whether err must stop the process.
func IsFatal(err error) bool {
	var fe *FinalizationError
	var stuck *finalize.StuckError
	var ie *InboundError
	return errors.As(err, &fe) || errors.As(err, &stuck) || errors.As(err, &ie)
}

// InboundError means the inbound folder itself is unusable.
type InboundError struct {
	Dir string
	Err error
}

func (e *InboundError) Error() string {
	return fmt.Sprintf("inbound folder %s: %v", e.Dir, e.Err)
}

func (e *InboundError) Unwrap() error { return e.Err }
