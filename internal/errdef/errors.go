// Copyright (c) 2026 Keymaster Team
// kmring - PGP and SSH keyring synchronization
// This source code is licensed under the MIT license found in the LICENSE file.

// Package errdef defines the error taxonomy shared by the keyring and its
// backends. Callers match with errors.Is / errors.As.
package errdef

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrCancelled marks an operation aborted through its context. It is a
	// non-completion, not a failure, and must not be reported as one.
	ErrCancelled = errors.New("operation cancelled")

	// ErrPrecondition marks programmer errors: removing an absent record,
	// merging a malformed descriptor, exporting a foreign object.
	ErrPrecondition = errors.New("precondition violated")

	// ErrUnsupported is returned by backends for operations they do not offer.
	ErrUnsupported = errors.New("operation not supported by backend")
)

// Code is a backend status code.
type Code int

const (
	CodeGeneral Code = iota + 1
	CodeCanceled
	CodeBadPassphrase
	CodeNotFound
	CodeInvalidData
	CodeNoUserID
	CodeUnsupported
)

// Category returns the human readable category of a code.
func (c Code) Category() string {
	switch c {
	case CodeCanceled:
		return "authentication canceled"
	case CodeBadPassphrase:
		return "bad passphrase"
	case CodeNotFound:
		return "not found"
	case CodeInvalidData, CodeNoUserID:
		return "invalid data"
	case CodeUnsupported:
		return "not supported"
	default:
		return "generic failure"
	}
}

// BackendError is a non-zero status from a backend call translated into the
// domain taxonomy.
type BackendError struct {
	Op       string
	Code     Code
	Category string
	Err      error
}

func (e *BackendError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Category)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Category, e.Err)
}

func (e *BackendError) Unwrap() error { return e.Err }

// DataError reports key material the backend accepted but could not use.
type DataError struct {
	Msg string
}

func (e *DataError) Error() string { return e.Msg }

// coder is implemented by raw backend errors that carry a status code.
type coder interface {
	StatusCode() Code
}

// Translate maps an error returned by a backend call into the taxonomy.
// Context cancellation becomes ErrCancelled; errors that already belong to the
// taxonomy pass through unchanged.
func Translate(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, ErrCancelled) {
		return ErrCancelled
	}
	var be *BackendError
	var de *DataError
	if errors.As(err, &be) || errors.As(err, &de) || errors.Is(err, ErrPrecondition) {
		return err
	}
	code := CodeGeneral
	var c coder
	switch {
	case errors.As(err, &c):
		code = c.StatusCode()
	case errors.Is(err, ErrUnsupported):
		code = CodeUnsupported
	}
	// CodeCanceled is a dismissed passphrase prompt, not a cancelled
	// context, so it stays a failure.
	return &BackendError{Op: op, Code: code, Category: code.Category(), Err: err}
}

// Outcome is how an operation ended.
type Outcome int

const (
	Completed Outcome = iota
	Cancelled
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Completed:
		return "completed"
	case Cancelled:
		return "cancelled"
	default:
		return "failed"
	}
}

// OutcomeOf classifies the error returned by an operation.
func OutcomeOf(err error) Outcome {
	switch {
	case err == nil:
		return Completed
	case errors.Is(err, ErrCancelled), errors.Is(err, context.Canceled):
		return Cancelled
	default:
		return Failed
	}
}
