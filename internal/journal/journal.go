// Copyright (c) 2026 Keymaster Team
// kmring - PGP and SSH keyring synchronization
// This source code is licensed under the MIT license found in the LICENSE file.

// Package journal keeps a persistent trail of keyring operations (imports,
// exports, deletions and full loads) together with how they ended.
package journal

import (
	"context"
	"os/user"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/toeirei/kmring/internal/errdef"
)

// Entry is one journaled operation.
type Entry struct {
	ID        string
	Timestamp time.Time
	Username  string
	Action    string
	Details   string
	Outcome   string
}

// Journal stores entries.
type Journal interface {
	Record(ctx context.Context, e Entry) error
	// List returns the newest entries first. A non-positive limit returns all.
	List(ctx context.Context, limit int) ([]Entry, error)
	Close() error
}

// Actions recorded by the keyring.
const (
	ActionLoad   = "LOAD"
	ActionImport = "IMPORT"
	ActionExport = "EXPORT"
	ActionDelete = "DELETE"
)

// NewEntry fills id, timestamp, user and outcome for an operation that ended
// with err.
func NewEntry(action, details string, err error) Entry {
	return Entry{
		ID:        uuid.NewString(),
		Timestamp: time.Now().UTC(),
		Username:  currentUser(),
		Action:    action,
		Details:   details,
		Outcome:   errdef.OutcomeOf(err).String(),
	}
}

func currentUser() string {
	curUser, err := user.Current()
	if err != nil {
		return "unknown"
	}
	if parts := strings.Split(curUser.Username, `\`); len(parts) > 1 {
		return parts[1]
	}
	return curUser.Username
}

// Nop discards entries. It is used when journaling is disabled.
type Nop struct{}

func (Nop) Record(context.Context, Entry) error        { return nil }
func (Nop) List(context.Context, int) ([]Entry, error) { return nil, nil }
func (Nop) Close() error                               { return nil }
