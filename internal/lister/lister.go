// Copyright (c) 2026 Keymaster Team
// kmring - PGP and SSH keyring synchronization
// This source code is licensed under the MIT license found in the LICENSE file.

// Package lister drives a backend key enumeration to completion in bounded
// batches, merging every descriptor into a key table.
//
// A session yields between batches so that concurrent sessions and callers
// keep making progress, and it can be cancelled at any batch boundary through
// its context. Keys merged before a cancellation or failure stay merged.
package lister

import (
	"context"
	"fmt"
	"runtime"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/toeirei/kmring/internal/backend"
	"github.com/toeirei/kmring/internal/errdef"
	"github.com/toeirei/kmring/internal/i18n"
	"github.com/toeirei/kmring/internal/keytable"
	"github.com/toeirei/kmring/internal/logging"
	"github.com/toeirei/kmring/internal/model"
	"github.com/toeirei/kmring/internal/progress"
)

// DefaultBatchSize is the number of keys merged per scheduling turn.
const DefaultBatchSize = 50

// State is the lifecycle of a listing session.
type State int32

const (
	Created State = iota
	Listing
	Completed
	Cancelled
	Failed
)

func (s State) String() string {
	switch s {
	case Created:
		return "created"
	case Listing:
		return "listing"
	case Completed:
		return "completed"
	case Cancelled:
		return "cancelled"
	default:
		return "failed"
	}
}

// DetailLoader is fired, without waiting, for every record surfaced by a
// full-detail listing.
type DetailLoader func(rec *model.Record)

// Options parameterize a session.
type Options struct {
	// Patterns restricts the listing. Nil lists every key and enables
	// reconciliation of keys that disappeared from the backend.
	Patterns []string
	Secret   bool
	// Full additionally requests signature data and fires Detail.
	Full      bool
	BatchSize int
	Progress  progress.Sink
	// Token identifies the operation to the progress sink.
	Token  string
	Detail DetailLoader
}

// Session is one listing operation.
type Session struct {
	backend backend.Backend
	table   *keytable.Table
	opts    Options

	state  atomic.Int32
	loaded atomic.Int64

	// checks holds the ids whose half is expected to still exist; nil when
	// filtering.
	checks map[string]struct{}

	done chan struct{}
	err  error
	once sync.Once
}

// New prepares a session. Nothing touches the backend until Run or Start.
func New(b backend.Backend, t *keytable.Table, opts Options) *Session {
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	opts.Progress = progress.Or(opts.Progress)
	if opts.Token == "" {
		opts.Token = progress.NewToken()
	}
	return &Session{backend: b, table: t, opts: opts, done: make(chan struct{})}
}

// State returns the current lifecycle state.
func (s *Session) State() State { return State(s.state.Load()) }

// Loaded returns the number of descriptors merged so far.
func (s *Session) Loaded() int { return int(s.loaded.Load()) }

// Done is closed when the session ends.
func (s *Session) Done() <-chan struct{} { return s.done }

// Wait blocks until the session ends and returns its error.
func (s *Session) Wait() error {
	<-s.done
	return s.err
}

// ErrStarted is returned when a session is run a second time.
var ErrStarted = fmt.Errorf("%w: lister session already started", errdef.ErrPrecondition)

// Start claims the session and runs it in the background. Use Wait or Done
// for the result.
func (s *Session) Start(ctx context.Context) error {
	if !s.claim() {
		return ErrStarted
	}
	go func() { _ = s.drive(ctx) }()
	return nil
}

// Run drives the enumeration to its end. It returns nil when completed,
// errdef.ErrCancelled when cancelled and a *errdef.BackendError on failure.
// A session runs once; later calls return ErrStarted and leave the result
// reported by Wait untouched.
func (s *Session) Run(ctx context.Context) error {
	if !s.claim() {
		return ErrStarted
	}
	return s.drive(ctx)
}

func (s *Session) claim() bool {
	return s.state.CompareAndSwap(int32(Created), int32(Listing))
}

func (s *Session) drive(ctx context.Context) error {
	err := s.run(ctx)
	s.once.Do(func() {
		s.err = err
		switch errdef.OutcomeOf(err) {
		case errdef.Completed:
			s.state.Store(int32(Completed))
		case errdef.Cancelled:
			s.state.Store(int32(Cancelled))
		default:
			s.state.Store(int32(Failed))
		}
		close(s.done)
	})
	return err
}

func (s *Session) run(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return errdef.ErrCancelled
	}

	sess, err := s.backend.Open(ctx)
	if err != nil {
		return errdef.Translate("open", err)
	}
	defer func() { _ = sess.Close() }()

	mode := backend.ListDefault
	if s.opts.Full {
		mode |= backend.ListSignatures
	}
	if err := sess.ListStart(s.opts.Patterns, s.opts.Secret, mode); err != nil {
		return errdef.Translate("list", err)
	}

	var ended atomic.Bool
	end := func() {
		if ended.CompareAndSwap(false, true) {
			_ = sess.ListEnd()
		}
	}
	defer end()
	// Cancellation reaches the backend enumeration even while ListNext blocks.
	stop := context.AfterFunc(ctx, end)
	defer stop()

	if s.opts.Patterns == nil {
		// Every visible record has a public half; secret halves live in
		// private records and in the orphan set.
		ids := s.table.IDs()
		if s.opts.Secret {
			ids = append(s.table.IDsWithUsage(model.UsagePrivateKey), s.table.OrphanIDs()...)
		}
		s.checks = make(map[string]struct{}, len(ids))
		for _, id := range ids {
			s.checks[id] = struct{}{}
		}
	}

	s.opts.Progress.Prep(s.opts.Token, "")
	s.opts.Progress.Begin(s.opts.Token, "")
	defer s.opts.Progress.End(s.opts.Token, "")

	for {
		if ctx.Err() != nil {
			return errdef.ErrCancelled
		}
		exhausted, err := s.batch(ctx, sess)
		if err != nil {
			return err
		}
		if exhausted {
			break
		}
		s.opts.Progress.Update(s.opts.Token, i18n.Plural("lister.loaded", s.Loaded()))
		runtime.Gosched()
	}

	end()
	if s.checks != nil && len(s.checks) > 0 {
		stale := make([]string, 0, len(s.checks))
		for id := range s.checks {
			stale = append(stale, id)
		}
		sort.Strings(stale)
		changed := s.table.PruneHalves(stale, s.opts.Secret)
		logging.Debugf("lister: pruned %d halves no longer in %s (secret=%v)", len(changed), s.backend.Name(), s.opts.Secret)
	}
	s.opts.Progress.Update(s.opts.Token, i18n.Plural("lister.loaded", s.Loaded()))
	return nil
}

// batch merges up to BatchSize descriptors. It reports exhaustion of the
// enumeration.
func (s *Session) batch(ctx context.Context, sess backend.Session) (bool, error) {
	for i := 0; i < s.opts.BatchSize; i++ {
		d, err := sess.ListNext()
		if err != nil {
			if ctx.Err() != nil {
				return false, errdef.ErrCancelled
			}
			if backend.Exhausted(err) {
				return true, nil
			}
			return false, errdef.Translate("list", err)
		}
		if err := d.Validate(); err != nil {
			return false, err
		}

		if s.checks != nil {
			delete(s.checks, d.ID())
		}

		rec, err := s.table.InsertOrMerge(d)
		if err != nil {
			return false, err
		}
		if rec != nil && s.opts.Full && s.opts.Detail != nil {
			go s.opts.Detail(rec)
		}
		s.loaded.Add(1)
	}
	return false, nil
}
