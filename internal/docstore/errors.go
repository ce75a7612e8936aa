package docstore

import (
	"errors"
	"fmt"
)

// Sentinel errors. Every typed error below matches its sentinel with
// errors.Is, and also matches its underlying cause.
var (
	// ErrConfiguration is matched by ConfigurationError.
	ErrConfiguration = errors.New("configuration error")

	// ErrLock is matched by LockError.
	ErrLock = errors.New("lock not acquired")

	// ErrDecode is matched by DecodeError.
	ErrDecode = errors.New("document is not valid JSON")

	// ErrWrite is matched by WriteError.
	ErrWrite = errors.New("write failed")

	// ErrNoBackup is returned when no usable backup exists for a document.
	ErrNoBackup = errors.New("no backup available")

	// ErrNotObject is returned by field operations on a document whose root
	// is not a JSON object.
	ErrNotObject = errors.New("document root is not a JSON object")

	// ErrNotArray is returned by Append when the field holds a non-array value.
	ErrNotArray = errors.New("field is not a JSON array")

	// ErrInvalidName is returned for document names that cannot map to a
	// single file inside the base directory.
	ErrInvalidName = errors.New("invalid document name")
)

// ConfigurationError reports an unusable base or backup directory.
type ConfigurationError struct {
	Path string
	Err  error
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error: %s: %v", e.Path, e.Err)
}

func (e *ConfigurationError) Unwrap() []error {
	return []error{ErrConfiguration, e.Err}
}

// LockError reports that the document lock was not obtained.
type LockError struct {
	Document string
	Path     string
	Err      error
}

func (e *LockError) Error() string {
	return fmt.Sprintf("lock %s (%s): %v", e.Document, e.Path, e.Err)
}

func (e *LockError) Unwrap() []error {
	return []error{ErrLock, e.Err}
}

// DecodeError reports a document that is not valid JSON and could not be
// recovered from a backup. Path points at the file an operator should inspect.
type DecodeError struct {
	Document string
	Path     string
	Err      error // decode failure of the document itself
	Recovery error // why backup recovery failed, nil if not attempted
}

func (e *DecodeError) Error() string {
	msg := fmt.Sprintf("decode %s (%s): %v", e.Document, e.Path, e.Err)
	if e.Recovery != nil {
		msg += fmt.Sprintf("; recovery failed: %v", e.Recovery)
	}
	return msg
}

func (e *DecodeError) Unwrap() []error {
	errs := []error{ErrDecode, e.Err}
	if e.Recovery != nil {
		errs = append(errs, e.Recovery)
	}
	return errs
}

// WriteError reports a write that did not commit. The document on disk is
// unchanged.
type WriteError struct {
	Document string
	Path     string
	Attempts int
	Err      error
}

func (e *WriteError) Error() string {
	if e.Attempts > 1 {
		return fmt.Sprintf("write %s (%s) failed after %d attempts: %v", e.Document, e.Path, e.Attempts, e.Err)
	}
	return fmt.Sprintf("write %s (%s): %v", e.Document, e.Path, e.Err)
}

func (e *WriteError) Unwrap() []error {
	return []error{ErrWrite, e.Err}
}
