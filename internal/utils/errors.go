package utils

import (
	"errors"
	"fmt"
)

// Error taxonomy shared by stores, the engine and the transport boundaries.
var (
	// ErrNotFound reports a missing incident (or other addressed record).
	ErrNotFound = errors.New("not found")
	// ErrValidation reports a malformed ingest payload.
	ErrValidation = errors.New("validation failed")
	// ErrConflict reports a lost race on a uniqueness guarantee in the store.
	ErrConflict = errors.New("concurrency conflict")
)

// AppError wraps an operation, human-facing message, and underlying error.
type AppError struct {
	Op  string
	Msg string
	Err error
}

func (e *AppError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Msg)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Msg, e.Err)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// NewAppError constructs an AppError.
func NewAppError(op, msg string, err error) error {
	return &AppError{Op: op, Msg: msg, Err: err}
}

// NotFound returns an AppError classified as ErrNotFound.
func NotFound(op, msg string) error {
	return &AppError{Op: op, Msg: msg, Err: ErrNotFound}
}

// Invalid returns an AppError classified as ErrValidation.
func Invalid(op, msg string) error {
	return &AppError{Op: op, Msg: msg, Err: ErrValidation}
}

// IsNotFound reports whether err is classified as ErrNotFound.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// IsValidation reports whether err is classified as ErrValidation.
func IsValidation(err error) bool { return errors.Is(err, ErrValidation) }

// IsConflict reports whether err is classified as ErrConflict.
func IsConflict(err error) bool { return errors.Is(err, ErrConflict) }
