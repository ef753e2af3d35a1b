// Copyright (c) 2026 Keymaster Team
// kmring - PGP and SSH keyring synchronization
// This source code is licensed under the MIT license found in the LICENSE file.

package keytable

import (
	"sync"

	"github.com/toeirei/kmring/internal/model"
)

// Funcs adapts plain functions to Observer. Nil fields are skipped.
type Funcs struct {
	Added   func(*model.Record)
	Removed func(*model.Record)
}

func (f Funcs) KeyAdded(rec *model.Record) {
	if f.Added != nil {
		f.Added(rec)
	}
}

func (f Funcs) KeyRemoved(rec *model.Record) {
	if f.Removed != nil {
		f.Removed(rec)
	}
}

// Events subscribes a queue to the table and returns its channel. The queue
// is unbounded so a slow reader never stalls a mutation; cancel unsubscribes
// and closes the channel once pending events are dropped.
func (t *Table) Events() (<-chan Event, func()) {
	q := &eventQueue{
		signal: make(chan struct{}, 1),
		done:   make(chan struct{}),
		out:    make(chan Event),
	}
	unsubscribe := t.Subscribe(Funcs{
		Added:   func(r *model.Record) { q.push(Event{Type: Added, Record: r}) },
		Removed: func(r *model.Record) { q.push(Event{Type: Removed, Record: r}) },
	})
	go q.pump()

	var once sync.Once
	return q.out, func() {
		once.Do(func() {
			unsubscribe()
			close(q.done)
		})
	}
}

type eventQueue struct {
	mu     sync.Mutex
	items  []Event
	signal chan struct{}
	done   chan struct{}
	out    chan Event
}

func (q *eventQueue) push(ev Event) {
	q.mu.Lock()
	q.items = append(q.items, ev)
	q.mu.Unlock()
	select {
	case q.signal <- struct{}{}:
	default:
	}
}

func (q *eventQueue) pump() {
	defer close(q.out)
	for {
		q.mu.Lock()
		var next *Event
		if len(q.items) > 0 {
			ev := q.items[0]
			q.items = q.items[1:]
			next = &ev
		}
		q.mu.Unlock()

		if next == nil {
			select {
			case <-q.signal:
				continue
			case <-q.done:
				return
			}
		}
		select {
		case q.out <- *next:
		case <-q.done:
			return
		}
	}
}
