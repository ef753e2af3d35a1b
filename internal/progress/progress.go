// Copyright (c) 2026 Keymaster Team
// kmring - PGP and SSH keyring synchronization
// This source code is licensed under the MIT license found in the LICENSE file.

// Package progress carries fire-and-forget progress reports out of long
// running keyring operations. Nothing reported here feeds back into the
// operation itself.
package progress

import (
	"sync"

	"github.com/google/uuid"

	"github.com/toeirei/kmring/internal/logging"
)

// Sink receives progress for an operation identified by token. item is empty
// for reports about the operation as a whole.
type Sink interface {
	Prep(token, item string)
	Begin(token, item string)
	Update(token, message string)
	End(token, item string)
}

// NewToken returns a fresh operation token.
func NewToken() string { return uuid.NewString() }

// Nop discards everything.
type Nop struct{}

func (Nop) Prep(string, string)   {}
func (Nop) Begin(string, string)  {}
func (Nop) Update(string, string) {}
func (Nop) End(string, string)    {}

// Or returns s, or Nop when s is nil.
func Or(s Sink) Sink {
	if s == nil {
		return Nop{}
	}
	return s
}

// Log writes progress to the package logger at debug level, and updates at
// info level.
type Log struct{}

func (Log) Prep(token, item string) {
	logging.Debugf("[%s] prepared %s", short(token), item)
}

func (Log) Begin(token, item string) {
	logging.Debugf("[%s] begin %s", short(token), item)
}

func (Log) Update(token, message string) {
	logging.Infof("[%s] %s", short(token), message)
}

func (Log) End(token, item string) {
	logging.Debugf("[%s] end %s", short(token), item)
}

func short(token string) string {
	if len(token) > 8 {
		return token[:8]
	}
	return token
}

// Event is one report captured by Recorder.
type Event struct {
	Kind  string
	Token string
	Item  string
}

// Recorder keeps every report in order. It is safe for concurrent use.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) add(kind, token, item string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, Event{Kind: kind, Token: token, Item: item})
}

func (r *Recorder) Prep(token, item string)      { r.add("prep", token, item) }
func (r *Recorder) Begin(token, item string)     { r.add("begin", token, item) }
func (r *Recorder) Update(token, message string) { r.add("update", token, message) }
func (r *Recorder) End(token, item string)       { r.add("end", token, item) }

// Events returns a copy of the recorded reports.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// Of returns the reports of one kind.
func (r *Recorder) Of(kind string) []Event {
	var out []Event
	for _, ev := range r.Events() {
		if ev.Kind == kind {
			out = append(out, ev)
		}
	}
	return out
}
