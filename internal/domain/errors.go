package domain

import (
	"errors"
	"fmt"
)

// ErrorKind classifies failures so transports can map them deterministically.
type ErrorKind string

const (
	KindValidation      ErrorKind = "validation"
	KindInvalidState    ErrorKind = "invalid_state"
	KindNotFound        ErrorKind = "not_found"
	KindAuthorization   ErrorKind = "authorization"
	KindUnauthenticated ErrorKind = "unauthenticated"
	KindConflict        ErrorKind = "conflict"
	KindPersistence     ErrorKind = "persistence"
)

// Error is the typed failure returned by services.
type Error struct {
	Kind    ErrorKind
	Op      string
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Op == "" {
		return msg
	}
	return fmt.Sprintf("%s: %s", e.Op, msg)
}

func (e *Error) Unwrap() error { return e.Err }

func newError(kind ErrorKind, op, msg string, err error) error {
	return &Error{Kind: kind, Op: op, Message: msg, Err: err}
}

// ValidationError reports malformed input.
func ValidationError(op, msg string) error { return newError(KindValidation, op, msg, nil) }

// InvalidStateError reports an operation not allowed from the current status.
func InvalidStateError(op, msg string) error { return newError(KindInvalidState, op, msg, nil) }

// NotFoundError reports a missing entity.
func NotFoundError(op, msg string) error { return newError(KindNotFound, op, msg, nil) }

// AuthorizationError reports a caller lacking the required role or ownership.
func AuthorizationError(op, msg string) error { return newError(KindAuthorization, op, msg, nil) }

// UnauthenticatedError reports missing or invalid credentials.
func UnauthenticatedError(op, msg string) error {
	return newError(KindUnauthenticated, op, msg, nil)
}

// ConflictError reports a uniqueness violation.
func ConflictError(op, msg string) error { return newError(KindConflict, op, msg, nil) }

// PersistenceError wraps a storage failure.
func PersistenceError(op string, err error) error {
	return newError(KindPersistence, op, "storage failure", err)
}

// KindOf extracts the error kind, or "" for untyped errors.
func KindOf(err error) ErrorKind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return ""
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind ErrorKind) bool {
	return KindOf(err) == kind
}

// MessageOf returns the user-facing message of err.
func MessageOf(err error) string {
	var de *Error
	if errors.As(err, &de) && de.Message != "" {
		return de.Message
	}
	return "internal server error"
}
