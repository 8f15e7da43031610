package attachments

import (
	"errors"
	"fmt"
)

var (
	ErrValidation       = errors.New("invalid attachment")
	ErrDecode           = errors.New("malformed transport encoding")
	ErrUpload           = errors.New("attachment upload failed")
	ErrPersistence      = errors.New("attachment metadata persistence failed")
	ErrInvalidOwnerKind = errors.New("invalid owner kind")
	ErrInvalidKey       = errors.New("invalid storage key")
	ErrNotFound         = errors.New("attachment not found")
)

// ValidationError rejects a whole batch before any side effect.
type ValidationError struct {
	Filename string
	Reason   string
	Err      error
}

func (e *ValidationError) Error() string {
	msg := fmt.Sprintf("attachment %q: %s", e.Filename, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ValidationError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrValidation}
	}
	return []error{ErrValidation, e.Err}
}

// UploadError is returned after the uploaded part of a batch has been rolled back.
// Filename names the first descriptor whose upload failed.
type UploadError struct {
	Filename string
	Key      string
	Err      error
}

func (e *UploadError) Error() string {
	return fmt.Sprintf("upload attachment %q (%s): %v", e.Filename, e.Key, e.Err)
}

func (e *UploadError) Unwrap() []error {
	return []error{ErrUpload, e.Err}
}

// PersistenceError is returned when metadata could not be written after all uploads
// succeeded. The uploaded blobs have been rolled back.
type PersistenceError struct {
	Count int
	Err   error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persist %d attachment records: %v", e.Count, e.Err)
}

func (e *PersistenceError) Unwrap() []error {
	return []error{ErrPersistence, e.Err}
}
