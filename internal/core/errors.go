package core

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrValidation         = errors.New("validation failed")
	ErrInvalidType        = errors.New("invalid transaction type")
	ErrInvalidAmount      = errors.New("invalid amount")
	ErrEmptyDescription   = errors.New("empty description")
	ErrDescriptionTooLong = errors.New("description too long (max 200 characters)")
	ErrMissingAccount     = errors.New("missing account")
	ErrUnknownAccount     = errors.New("unknown account")

	ErrNotFound      = errors.New("transaction not found")
	ErrConflict      = errors.New("concurrent modification")
	ErrTimeout       = errors.New("persistence timeout")
	ErrPersistence   = errors.New("persistence failure")
	ErrSessionClosed = errors.New("session closed")
)

// ErrorKind classifies a failed mutation. Values match the log error types.
type ErrorKind string

const (
	KindValidation  ErrorKind = "validation_error"
	KindNotFound    ErrorKind = "not_found_error"
	KindConflict    ErrorKind = "conflict_error"
	KindTimeout     ErrorKind = "timeout_error"
	KindPersistence ErrorKind = "database_error"
)

// MutationError is returned by every failed engine operation.
type MutationError struct {
	Op   string
	Kind ErrorKind
	Err  error
}

func (e *MutationError) Error() string {
	return fmt.Sprintf("%s transaction: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *MutationError) Unwrap() error { return e.Err }

// Classify maps an error to its kind using the sentinel errors above.
func Classify(err error) ErrorKind {
	var me *MutationError
	switch {
	case errors.As(err, &me):
		return me.Kind
	case errors.Is(err, ErrValidation), errors.Is(err, ErrUnknownAccount):
		return KindValidation
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrConflict):
		return KindConflict
	case errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	default:
		return KindPersistence
	}
}

// NewMutationError wraps err for op, deriving its kind.
func NewMutationError(op string, err error) *MutationError {
	return &MutationError{Op: op, Kind: Classify(err), Err: err}
}
