// Copyright (c) 2026 Keymaster Team
// kmring - PGP and SSH keyring synchronization
// This source code is licensed under the MIT license found in the LICENSE file.

// Package keyring keeps an in-process key table synchronized with a backend
// key store. It loads keys in batches, imports and exports key material and
// reloads automatically when the store's files change.
package keyring

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/toeirei/kmring/internal/backend"
	"github.com/toeirei/kmring/internal/errdef"
	"github.com/toeirei/kmring/internal/journal"
	"github.com/toeirei/kmring/internal/keytable"
	"github.com/toeirei/kmring/internal/lister"
	"github.com/toeirei/kmring/internal/logging"
	"github.com/toeirei/kmring/internal/model"
	"github.com/toeirei/kmring/internal/progress"
	"github.com/toeirei/kmring/internal/refresh"
)

// LoadMode selects the detail level of a load.
type LoadMode int

const (
	LoadDefault LoadMode = 0
	// LoadSignatures requests signature data and fires the detail loader.
	LoadSignatures LoadMode = 1
)

// Option configures a Keyring.
type Option func(*Keyring)

// WithProgress reports long running operations to p.
func WithProgress(p progress.Sink) Option { return func(k *Keyring) { k.progress = progress.Or(p) } }

// WithJournal records every operation in j.
func WithJournal(j journal.Journal) Option {
	return func(k *Keyring) {
		if j != nil {
			k.journal = j
		}
	}
}

// WithBatchSize overrides lister.DefaultBatchSize.
func WithBatchSize(n int) Option { return func(k *Keyring) { k.batchSize = n } }

// WithDetailLoader is fired for every record surfaced by a full-detail load.
func WithDetailLoader(d lister.DetailLoader) Option { return func(k *Keyring) { k.detail = d } }

// WithRefreshDelay overrides refresh.DefaultDelay.
func WithRefreshDelay(d time.Duration) Option { return func(k *Keyring) { k.delay = d } }

// Keyring is the key table of one backend plus the operations that keep it
// synchronized.
type Keyring struct {
	backend   backend.Backend
	table     *keytable.Table
	scheduler *refresh.Scheduler

	progress  progress.Sink
	journal   journal.Journal
	batchSize int
	detail    lister.DetailLoader
	delay     time.Duration

	// ctx scopes reloads triggered by the scheduler; cancelled by Close.
	ctx    context.Context
	cancel context.CancelFunc
}

// New returns a keyring over b with an empty table.
func New(b backend.Backend, opts ...Option) *Keyring {
	k := &Keyring{
		backend:  b,
		table:    keytable.New(fmt.Sprintf("%s:%s", b.Kind(), b.Name())),
		progress: progress.Nop{},
		journal:  journal.Nop{},
	}
	for _, opt := range opts {
		opt(k)
	}
	k.ctx, k.cancel = context.WithCancel(context.Background())
	k.scheduler = refresh.New(k.delay, k.reload)
	return k
}

// Table returns the key table. Callers may read it and subscribe to it.
func (k *Keyring) Table() *keytable.Table { return k.table }

// Backend returns the backend the keyring is bound to.
func (k *Keyring) Backend() backend.Backend { return k.backend }

// Lookup finds a record by key id or fingerprint.
func (k *Keyring) Lookup(id string) (*model.Record, bool) {
	if rec, ok := k.table.Lookup(id); ok {
		return rec, true
	}
	return k.table.Lookup(model.KeyIDFromFingerprint(id))
}

// Load synchronizes the whole table with the backend.
func (k *Keyring) Load(ctx context.Context) error {
	err := k.LoadFull(ctx, nil, LoadDefault)
	k.record(ctx, journal.NewEntry(journal.ActionLoad, fmt.Sprintf("%d keys from %s", k.table.Len(), k.backend.Name()), err))
	return err
}

// Reset forgets every record and parked orphan, emitting removed
// notifications, and loads the backend from scratch.
func (k *Keyring) Reset(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return errdef.ErrCancelled
	}
	k.table.Clear()
	return k.Load(ctx)
}

// LoadFull lists secret and public keys concurrently and merges them into
// the table. Both listings always run to completion; the first hard failure
// is returned, else ErrCancelled if either was cancelled. Without patterns
// keys that vanished from the backend are removed from the table.
func (k *Keyring) LoadFull(ctx context.Context, patterns []string, mode LoadMode) error {
	// Our own listing may touch the key files; do not reload because of it.
	k.scheduler.ArmQuiet()

	errs := make([]error, 2)
	var g errgroup.Group
	for i, secret := range []bool{true, false} {
		s := lister.New(k.backend, k.table, lister.Options{
			Patterns:  patterns,
			Secret:    secret,
			Full:      mode&LoadSignatures != 0,
			BatchSize: k.batchSize,
			Progress:  k.progress,
			Detail:    k.detail,
		})
		g.Go(func() error {
			errs[i] = s.Run(ctx)
			return errs[i]
		})
	}
	first := g.Wait()
	if errdef.OutcomeOf(first) == errdef.Failed {
		return first
	}
	for _, err := range errs {
		if errdef.OutcomeOf(err) == errdef.Failed {
			return err
		}
	}
	return first
}

// StartMonitor reloads the table whenever the backend's key files change.
// The keyring keeps working if the directory can not be watched.
func (k *Keyring) StartMonitor() error {
	dir, match := k.backend.Watch()
	return k.scheduler.Start(dir, match)
}

// Scheduler exposes the refresh scheduler, for feeding change events from
// other sources.
func (k *Keyring) Scheduler() *refresh.Scheduler { return k.scheduler }

func (k *Keyring) reload() {
	if err := k.Load(k.ctx); err != nil && errdef.OutcomeOf(err) == errdef.Failed {
		logging.Warnf("keyring: refresh of %s failed: %v", k.backend.Name(), err)
	}
}

// Close stops monitoring and cancels reloads in flight. The journal is owned
// by the caller and stays open.
func (k *Keyring) Close() error {
	k.cancel()
	return k.scheduler.Close()
}

func (k *Keyring) record(ctx context.Context, e journal.Entry) {
	if err := k.journal.Record(context.WithoutCancel(ctx), e); err != nil {
		logging.Warnf("keyring: failed to journal %s: %v", e.Action, err)
	}
}
