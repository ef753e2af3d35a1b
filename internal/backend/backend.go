// Copyright (c) 2026 Keymaster Team
// kmring - PGP and SSH keyring synchronization
// This source code is licensed under the MIT license found in the LICENSE file.

// Package backend defines the contract between the keyring and the external
// store that actually holds key material (an OpenPGP keyring directory, an
// OpenSSH directory, ...). The keyring only orchestrates calls into it.
package backend

import (
	"context"
	"fmt"
	"io"

	"github.com/toeirei/kmring/internal/errdef"
	"github.com/toeirei/kmring/internal/model"
)

// ListMode selects how much detail an enumeration loads.
type ListMode int

const (
	// ListDefault loads key and identity data.
	ListDefault ListMode = 0
	// ListSignatures additionally loads signature data.
	ListSignatures ListMode = 1
)

// ExportOptions configure serialized output.
type ExportOptions struct {
	Armor    bool
	TextMode bool
}

// ImportStatus is the outcome for one candidate identity of an import.
type ImportStatus struct {
	Fingerprint string
	Err         error
}

// ImportResult enumerates the candidates an import considered.
type ImportResult struct {
	Considered int
	// NoUserID counts candidates rejected for missing identity data.
	NoUserID int
	Imports  []ImportStatus
}

// Backend opens independent sessions onto a key store.
type Backend interface {
	Kind() model.Kind
	// Name identifies the store, typically its directory.
	Name() string
	// Open returns a fresh session. Sessions are never shared between
	// concurrent operations.
	Open(ctx context.Context) (Session, error)
	// Watch returns the directory holding the key files and a predicate
	// selecting the file names whose changes require a reload.
	Watch() (dir string, match func(name string) bool)
}

// Session is one working context into a backend.
//
// ListEnd may be called concurrently with a blocked ListNext to abort the
// enumeration; ListNext then returns io.EOF.
type Session interface {
	ListStart(patterns []string, secret bool, mode ListMode) error
	// ListNext returns the next descriptor, or io.EOF once exhausted.
	ListNext() (*model.Descriptor, error)
	ListEnd() error

	Import(ctx context.Context, r io.Reader) (*ImportResult, error)
	Export(ctx context.Context, keyID string, w io.Writer, opts ExportOptions) error
	Delete(ctx context.Context, keyID string, secret bool) error

	Close() error
}

// Error is a raw status returned by a backend call.
type Error struct {
	Op   string
	Code errdef.Code
	Err  error
}

// Errorf builds an Error with a formatted cause.
func Errorf(op string, code errdef.Code, format string, args ...any) *Error {
	return &Error{Op: op, Code: code, Err: fmt.Errorf(format, args...)}
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: status %d", e.Op, e.Code)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// StatusCode exposes the code to errdef.Translate.
func (e *Error) StatusCode() errdef.Code { return e.Code }

// Exhausted reports whether err marks the end of an enumeration.
func Exhausted(err error) bool { return err == io.EOF }
