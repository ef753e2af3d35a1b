// Copyright (c) 2026 Keymaster Team
// kmring - PGP and SSH keyring synchronization
// This source code is licensed under the MIT license found in the LICENSE file.

// Package refresh turns bursts of change notifications on a key directory
// into a single delayed reload.
package refresh

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/toeirei/kmring/internal/logging"
)

// DefaultDelay is the debounce window.
const DefaultDelay = 500 * time.Millisecond

// Scheduler coalesces change events. At most one timer is pending at any
// time: either a reload timer armed by a change event or a quiet timer armed
// by ArmQuiet. While any timer is pending further events are absorbed.
type Scheduler struct {
	delay  time.Duration
	reload func()

	mu      sync.Mutex
	timer   *time.Timer
	gen     uint64
	quiet   bool
	match   func(name string) bool
	watcher *fsnotify.Watcher
	closed  bool
	wg      sync.WaitGroup
}

// New returns a scheduler calling reload once per coalesced burst. A
// non-positive delay selects DefaultDelay.
func New(delay time.Duration, reload func()) *Scheduler {
	if delay <= 0 {
		delay = DefaultDelay
	}
	return &Scheduler{delay: delay, reload: reload}
}

// Start watches dir, non-recursively, and feeds create, write, remove and
// rename events for names accepted by match into Notify.
func (s *Scheduler) Start(dir string, match func(name string) bool) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	s.mu.Lock()
	if s.closed || s.watcher != nil {
		s.mu.Unlock()
		_ = watcher.Close()
		return fmt.Errorf("refresh: scheduler already started or closed")
	}
	s.watcher = watcher
	s.match = match
	s.mu.Unlock()

	s.wg.Add(1)
	go s.loop(watcher)
	return nil
}

func (s *Scheduler) loop(watcher *fsnotify.Watcher) {
	defer s.wg.Done()
	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) != 0 {
				s.Notify(event.Name)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			logging.Warnf("refresh: file watcher error: %v", err)
		}
	}
}

// Notify reports a change to the named file. It arms the reload timer unless
// the name is not a key file or a timer is already pending.
func (s *Scheduler) Notify(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.timer != nil {
		return
	}
	if s.match != nil && !s.match(filepath.Base(name)) {
		return
	}
	logging.Debugf("refresh: scheduling refresh event due to file changes (%s)", filepath.Base(name))
	s.arm(false)
}

// ArmQuiet replaces any pending timer by a no-op one, so that changes caused
// by an operation about to start do not trigger a reload of their own.
func (s *Scheduler) ArmQuiet() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.stop()
	s.arm(true)
}

// Cancel discards the pending timer, if any.
func (s *Scheduler) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stop()
}

// Pending reports whether a timer is armed.
func (s *Scheduler) Pending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.timer != nil
}

// Close stops watching and discards the pending timer. A reload already
// running is not interrupted.
func (s *Scheduler) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.stop()
	watcher := s.watcher
	s.mu.Unlock()

	var err error
	if watcher != nil {
		err = watcher.Close()
	}
	s.wg.Wait()
	return err
}

// arm must be called with mu held and no timer pending.
func (s *Scheduler) arm(quiet bool) {
	s.gen++
	gen := s.gen
	s.quiet = quiet
	s.timer = time.AfterFunc(s.delay, func() { s.fire(gen) })
}

// stop must be called with mu held.
func (s *Scheduler) stop() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.gen++
}

func (s *Scheduler) fire(gen uint64) {
	s.mu.Lock()
	if gen != s.gen || s.timer == nil {
		// Superseded by Cancel, ArmQuiet or Close.
		s.mu.Unlock()
		return
	}
	s.timer = nil
	quiet := s.quiet
	s.mu.Unlock()

	if quiet {
		logging.Debugf("refresh: dummy refresh event occurring now")
		return
	}
	logging.Debugf("refresh: reloading after file changes")
	if s.reload != nil {
		s.reload()
	}
}
