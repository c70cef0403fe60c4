package api

import (
	"errors"
	"fmt"
)

// ErrNotFound covers both "does not exist" and "exists but belongs to
// someone else" so responses never leak existence.
var ErrNotFound = errors.New("deployment not found")

// ValidationError is malformed input, surfaced verbatim to the caller.
type ValidationError struct {
	msg string
}

func validationf(format string, args ...any) *ValidationError {
	return &ValidationError{msg: fmt.Sprintf(format, args...)}
}

func (e *ValidationError) Error() string { return e.msg }

// QuotaError is returned when an owner is at their deployment ceiling.
// It carries the numeric limit for display.
type QuotaError struct {
	Limit int
}

func (e *QuotaError) Error() string {
	return fmt.Sprintf("deployment limit reached (%d)", e.Limit)
}

// StorageError wraps a failed blob operation. Fatal on create/update,
// logged and swallowed on delete and best-effort content reads.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string { return fmt.Sprintf("storage %s failed: %v", e.Op, e.Err) }

func (e *StorageError) Unwrap() error { return e.Err }
