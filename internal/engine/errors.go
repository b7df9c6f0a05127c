package engine

import (
	"errors"
	"fmt"
)

// RuntimeError represents a failure detected during reconciliation or a
// mutation transaction. No runtime error is fatal to the process: every
// entry point degrades to a partial result plus a notice.
type RuntimeError struct {
	// Code identifies the error category.
	Code RuntimeErrorCode

	// Message is a human-readable description.
	Message string

	// InstanceID identifies the affected instance, when known.
	InstanceID string

	// Path identifies the affected document, when known.
	Path string

	// Err is the underlying cause, when one exists.
	Err error
}

// RuntimeErrorCode categorizes runtime errors.
type RuntimeErrorCode string

const (
	// ErrCodeUnknownInstance indicates the instance id is not in the
	// current reconciled set.
	ErrCodeUnknownInstance RuntimeErrorCode = "UNKNOWN_INSTANCE"

	// ErrCodeInvalidTransition indicates a state-machine violation
	// (e.g. stopping an instance that is not running).
	ErrCodeInvalidTransition RuntimeErrorCode = "INVALID_TRANSITION"

	// ErrCodeInvalidSlot indicates a slot key unknown to the current
	// boundary configuration.
	ErrCodeInvalidSlot RuntimeErrorCode = "INVALID_SLOT"

	// ErrCodePersistFailed indicates a document-store write failed at
	// the mutation boundary.
	ErrCodePersistFailed RuntimeErrorCode = "PERSIST_FAILED"

	// ErrCodeNoDefinition indicates an instance with no resolvable
	// definition; the instance is dropped from the reconciled set.
	ErrCodeNoDefinition RuntimeErrorCode = "NO_DEFINITION"

	// ErrCodeInvalidDate indicates a date key that does not parse as
	// YYYY-MM-DD.
	ErrCodeInvalidDate RuntimeErrorCode = "INVALID_DATE"
)

// Error implements the error interface.
func (e *RuntimeError) Error() string {
	switch {
	case e.InstanceID != "":
		return fmt.Sprintf("%s: %s (instance=%s)", e.Code, e.Message, e.InstanceID)
	case e.Path != "":
		return fmt.Sprintf("%s: %s (path=%s)", e.Code, e.Message, e.Path)
	default:
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
}

// Unwrap exposes the underlying cause to errors.Is/As.
func (e *RuntimeError) Unwrap() error {
	return e.Err
}

// IsPersistError reports whether err is a persistence failure.
// Uses errors.As to handle wrapped errors.
func IsPersistError(err error) bool {
	var re *RuntimeError
	if errors.As(err, &re) {
		return re.Code == ErrCodePersistFailed
	}
	return false
}

func unknownInstanceError(id string) *RuntimeError {
	return &RuntimeError{
		Code:       ErrCodeUnknownInstance,
		Message:    "instance not in the reconciled set",
		InstanceID: id,
	}
}

func transitionError(id, msg string) *RuntimeError {
	return &RuntimeError{
		Code:       ErrCodeInvalidTransition,
		Message:    msg,
		InstanceID: id,
	}
}

func persistError(id string, err error) *RuntimeError {
	return &RuntimeError{
		Code:       ErrCodePersistFailed,
		Message:    "persistence failed",
		InstanceID: id,
		Err:        err,
	}
}
