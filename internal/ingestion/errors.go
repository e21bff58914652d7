package ingestion

import (
	"fmt"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/maraichr/sheetflow/pkg/models"
)

// IntakeError means the uploaded file could not be made durable. It is never
// retried.
type IntakeError struct {
	UploadID uuid.UUID
	Path     string
	Err      error
}

func (e *IntakeError) Error() string {
	return fmt.Sprintf("intake %s: %s: %v", e.UploadID, e.Path, e.Err)
}

func (e *IntakeError) Unwrap() error { return e.Err }

// UnsupportedFormatError is returned for files no reader can handle.
type UnsupportedFormatError struct {
	Path     string
	MimeType string
	Reason   string
}

func (e *UnsupportedFormatError) Error() string {
	return fmt.Sprintf("unsupported file format for %s (%s): %s", e.Path, e.MimeType, e.Reason)
}

// MalformedFileError reports a structural problem at a given line of the
// source file.
type MalformedFileError struct {
	Line int
	Err  error
}

func (e *MalformedFileError) Error() string {
	return fmt.Sprintf("malformed file at line %d: %v", e.Line, e.Err)
}

func (e *MalformedFileError) Unwrap() error { return e.Err }

// NonRetryableError means a chunk can never be processed, for example because
// its artifact is gone.
type NonRetryableError struct {
	Key models.ChunkKey
	Err error
}

func (e *NonRetryableError) Error() string {
	return fmt.Sprintf("chunk %s: %v", e.Key, e.Err)
}

func (e *NonRetryableError) Unwrap() error { return e.Err }

// permanent marks err so the queue skips any remaining attempts.
func permanent(err error) error {
	return backoff.Permanent(err)
}
