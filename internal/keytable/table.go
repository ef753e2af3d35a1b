// Copyright (c) 2026 Keymaster Team
// kmring - PGP and SSH keyring synchronization
// This source code is licensed under the MIT license found in the LICENSE file.

// Package keytable holds the canonical in-memory keyring: a map from key id to
// record, plus the set of orphan secret halves still waiting for their public
// counterpart.
//
// Mutations are serialized (single writer) and every added/removed
// notification is delivered in mutation order, after the table lock is
// released. Observers may read the table from a callback but must not mutate
// it.
package keytable

import (
	"fmt"
	"sort"
	"sync"

	"github.com/toeirei/kmring/internal/errdef"
	"github.com/toeirei/kmring/internal/model"
)

// ErrNotFound is returned when removing an id the table does not hold.
var ErrNotFound = fmt.Errorf("%w: key not in table", errdef.ErrPrecondition)

// Observer receives table notifications.
type Observer interface {
	KeyAdded(rec *model.Record)
	KeyRemoved(rec *model.Record)
}

// EventType distinguishes notifications.
type EventType int

const (
	Added EventType = iota
	Removed
)

func (t EventType) String() string {
	if t == Added {
		return "added"
	}
	return "removed"
}

// Event is a single notification.
type Event struct {
	Type   EventType
	Record *model.Record
}

// Table is the keyring. The zero value is not usable; call New.
type Table struct {
	origin string

	mu      sync.RWMutex
	keys    map[string]*model.Record
	orphans map[string]*model.Record

	// notifyMu serializes mutators and is held until their notifications are
	// delivered, so deliveries keep mutation order. Always taken before mu.
	notifyMu sync.Mutex

	obsMu     sync.Mutex
	observers map[int]Observer
	nextObs   int
}

// New creates an empty table whose records report origin.
func New(origin string) *Table {
	return &Table{
		origin:    origin,
		keys:      make(map[string]*model.Record),
		orphans:   make(map[string]*model.Record),
		observers: make(map[int]Observer),
	}
}

// Origin names the keyring the records belong to.
func (t *Table) Origin() string { return t.origin }

// Subscribe registers an observer. The returned func unregisters it.
func (t *Table) Subscribe(o Observer) func() {
	t.obsMu.Lock()
	defer t.obsMu.Unlock()
	id := t.nextObs
	t.nextObs++
	t.observers[id] = o
	return func() {
		t.obsMu.Lock()
		defer t.obsMu.Unlock()
		delete(t.observers, id)
	}
}

// Lookup returns the record for id. Orphan secret halves are not visible.
func (t *Table) Lookup(id string) (*model.Record, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	rec, ok := t.keys[model.NormalizeID(id)]
	return rec, ok
}

// LookupOrphan returns a pending secret-only record.
func (t *Table) LookupOrphan(id string) (*model.Record, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	rec, ok := t.orphans[model.NormalizeID(id)]
	return rec, ok
}

// Len returns the number of visible records.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.keys)
}

// Records returns the visible records ordered by id.
func (t *Table) Records() []*model.Record {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return sortedValues(t.keys)
}

// Orphans returns the secret-only records ordered by id.
func (t *Table) Orphans() []*model.Record {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return sortedValues(t.orphans)
}

// IDs returns the ids of the visible records, sorted.
func (t *Table) IDs() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	ids := make([]string, 0, len(t.keys))
	for id := range t.keys {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// OrphanIDs returns the ids of the parked secret halves, sorted.
func (t *Table) OrphanIDs() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	ids := make([]string, 0, len(t.orphans))
	for id := range t.orphans {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// IDsWithUsage returns the ids of visible records with usage u.
func (t *Table) IDsWithUsage(u model.Usage) []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var ids []string
	for id, rec := range t.keys {
		if rec.Usage() == u {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// InsertOrMerge integrates one half into the table.
//
// A half for an unknown id creates a record. A half for a known record is
// merged into it, replacing the half of the same type, without notification.
// A secret half with no public-bearing record is parked in the orphan set and
// nil is returned: it stays invisible until its public half arrives, at which
// point the orphan record itself is adopted into the table.
func (t *Table) InsertOrMerge(d *model.Descriptor) (*model.Record, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}
	t.lock()
	rec, events, err := t.insertLocked(d)
	t.unlockAndEmit(events)
	return rec, err
}

func (t *Table) insertLocked(d *model.Descriptor) (*model.Record, []Event, error) {
	id := d.ID()
	if rec, ok := t.keys[id]; ok {
		return rec, nil, rec.Merge(d)
	}

	if d.Secret {
		if rec, ok := t.orphans[id]; ok {
			return nil, nil, rec.Merge(d)
		}
		rec, err := model.NewRecord(t.origin, d)
		if err != nil {
			return nil, nil, err
		}
		t.orphans[id] = rec
		return nil, nil, nil
	}

	rec, ok := t.orphans[id]
	if ok {
		if err := rec.Merge(d); err != nil {
			return nil, nil, err
		}
		delete(t.orphans, id)
	} else {
		var err error
		if rec, err = model.NewRecord(t.origin, d); err != nil {
			return nil, nil, err
		}
	}
	t.keys[id] = rec
	return rec, []Event{{Type: Added, Record: rec}}, nil
}

// Remove drops the record with id and emits a removed notification.
func (t *Table) Remove(id string) error {
	id = model.NormalizeID(id)
	t.lock()
	rec, ok := t.keys[id]
	if !ok {
		t.unlockAndEmit(nil)
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	delete(t.keys, id)
	t.unlockAndEmit([]Event{{Type: Removed, Record: rec}})
	return nil
}

// Prune removes every listed id the table still holds and returns the ids
// actually removed. Absent ids are skipped.
func (t *Table) Prune(ids []string) []string {
	t.lock()
	var events []Event
	var removed []string
	for _, id := range ids {
		id = model.NormalizeID(id)
		if rec, ok := t.keys[id]; ok {
			delete(t.keys, id)
			removed = append(removed, id)
			events = append(events, Event{Type: Removed, Record: rec})
		}
	}
	t.unlockAndEmit(events)
	return removed
}

// PruneHalves handles ids whose public (secret false) or secret half is no
// longer in the backend, and returns the ids it changed.
//
// A vanished public half removes the record with a removed notification; a
// secret half it carried goes back to the orphan set. A vanished secret half
// is detached from its record silently, leaving a public-only key, or drops
// the orphan holding it.
func (t *Table) PruneHalves(ids []string, secret bool) []string {
	t.lock()
	var events []Event
	var changed []string
	for _, id := range ids {
		id = model.NormalizeID(id)
		rec, visible := t.keys[id]
		switch {
		case secret && visible:
			if rec.DetachSecret() != nil {
				changed = append(changed, id)
			}
		case secret:
			if _, ok := t.orphans[id]; ok {
				delete(t.orphans, id)
				changed = append(changed, id)
			}
		case visible:
			delete(t.keys, id)
			changed = append(changed, id)
			events = append(events, Event{Type: Removed, Record: rec})
			if sd := rec.Secret(); sd != nil {
				if orphan, err := model.NewRecord(t.origin, sd); err == nil {
					t.orphans[id] = orphan
				}
			}
		}
	}
	t.unlockAndEmit(events)
	return changed
}

// Reconcile removes every record whose id is not in observed. It is meant for
// use after a full, unfiltered listing pass.
func (t *Table) Reconcile(observed []string) []string {
	seen := make(map[string]struct{}, len(observed))
	for _, id := range observed {
		seen[model.NormalizeID(id)] = struct{}{}
	}
	t.mu.RLock()
	var stale []string
	for id := range t.keys {
		if _, ok := seen[id]; !ok {
			stale = append(stale, id)
		}
	}
	t.mu.RUnlock()
	sort.Strings(stale)
	return t.Prune(stale)
}

// Clear removes every record, emitting removed for each visible one, and
// forgets all orphans.
func (t *Table) Clear() {
	t.lock()
	events := make([]Event, 0, len(t.keys))
	for _, rec := range sortedValues(t.keys) {
		events = append(events, Event{Type: Removed, Record: rec})
	}
	t.keys = make(map[string]*model.Record)
	t.orphans = make(map[string]*model.Record)
	t.unlockAndEmit(events)
}

// lock takes notifyMu, then mu for writing. Every mutator goes through it so
// the lock order is always notifyMu before mu.
func (t *Table) lock() {
	t.notifyMu.Lock()
	t.mu.Lock()
}

// unlockAndEmit releases mu, delivers events and then releases notifyMu.
// Observers run without mu held and may read the table.
func (t *Table) unlockAndEmit(events []Event) {
	t.mu.Unlock()
	defer t.notifyMu.Unlock()
	if len(events) == 0 {
		return
	}

	t.obsMu.Lock()
	observers := make([]Observer, 0, len(t.observers))
	ids := make([]int, 0, len(t.observers))
	for id := range t.observers {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	for _, id := range ids {
		observers = append(observers, t.observers[id])
	}
	t.obsMu.Unlock()

	for _, ev := range events {
		for _, o := range observers {
			if ev.Type == Added {
				o.KeyAdded(ev.Record)
			} else {
				o.KeyRemoved(ev.Record)
			}
		}
	}
}

func sortedValues(m map[string]*model.Record) []*model.Record {
	out := make([]*model.Record, 0, len(m))
	for _, rec := range m {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}
