// Copyright (c) 2026 Keymaster Team
// kmring - PGP and SSH keyring synchronization
// This source code is licensed under the MIT license found in the LICENSE file.

package model

import (
	"fmt"
	"sync"
)

// Exportable is implemented by objects whose key material a backend can
// serialize.
type Exportable interface {
	ExportID() string
	Origin() string
}

// Deletable is implemented by objects a backend can remove.
type Deletable interface {
	DeleteID() string
	HasSecret() bool
	Origin() string
}

// HasProperties is implemented by everything the front end can describe.
type HasProperties interface {
	Properties() map[string]string
}

// Record is a key held by a keyring, merged from a public and a secret half
// that arrive independently. A record is mutated in place when the other half
// shows up so that pointers held by observers stay valid.
type Record struct {
	id     string
	origin string

	mu  sync.RWMutex
	pub *Descriptor
	sec *Descriptor
}

// NewRecord creates a record from its first half.
func NewRecord(origin string, d *Descriptor) (*Record, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}
	r := &Record{id: d.ID(), origin: origin}
	r.attach(d)
	return r, nil
}

// ID returns the record identifier.
func (r *Record) ID() string { return r.id }

// Origin names the keyring the record belongs to.
func (r *Record) Origin() string { return r.origin }

// Merge attaches a half, replacing a previous half of the same type.
func (r *Record) Merge(d *Descriptor) error {
	if err := d.Validate(); err != nil {
		return err
	}
	if d.ID() != r.id {
		return fmt.Errorf("%w: descriptor %s merged into record %s", ErrMalformed, d.ID(), r.id)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.attach(d)
	return nil
}

func (r *Record) attach(d *Descriptor) {
	if d.Secret {
		r.sec = d
	} else {
		r.pub = d
	}
}

// Public returns the public half, or nil.
func (r *Record) Public() *Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.pub
}

// Secret returns the secret half, or nil.
func (r *Record) Secret() *Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sec
}

// DetachSecret drops the secret half and returns it, or nil when there was
// none. The record keeps its identity.
func (r *Record) DetachSecret() *Descriptor {
	r.mu.Lock()
	defer r.mu.Unlock()
	d := r.sec
	r.sec = nil
	return d
}

// HasSecret reports whether a secret half is attached.
func (r *Record) HasSecret() bool { return r.Secret() != nil }

// Usage derives the classification from the attached halves.
func (r *Record) Usage() Usage {
	r.mu.RLock()
	defer r.mu.RUnlock()
	switch {
	case r.pub != nil && r.sec != nil:
		return UsagePrivateKey
	case r.pub != nil:
		return UsagePublicKey
	case r.sec != nil:
		return UsageOrphanSecret
	default:
		return UsageNone
	}
}

// primary returns the half carrying the descriptive data, preferring public.
func (r *Record) primary() *Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.pub != nil {
		return r.pub
	}
	return r.sec
}

// Fingerprint returns the full fingerprint of the key.
func (r *Record) Fingerprint() string {
	if d := r.primary(); d != nil {
		return d.Fingerprint
	}
	return ""
}

// UserIDs returns the identities attached to the key.
func (r *Record) UserIDs() []UserID {
	d := r.primary()
	if d == nil {
		return nil
	}
	out := make([]UserID, len(d.UserIDs))
	copy(out, d.UserIDs)
	return out
}

// Label is the primary identity, or the identifier when there is none.
func (r *Record) Label() string {
	if uids := r.UserIDs(); len(uids) > 0 {
		if s := uids[0].String(); s != "" {
			return s
		}
	}
	return r.id
}

// ExportID implements Exportable.
func (r *Record) ExportID() string { return r.id }

// DeleteID implements Deletable.
func (r *Record) DeleteID() string { return r.id }

// Properties implements HasProperties.
func (r *Record) Properties() map[string]string {
	props := map[string]string{
		"id":     r.id,
		"origin": r.origin,
		"usage":  r.Usage().String(),
		"label":  r.Label(),
	}
	if d := r.primary(); d != nil {
		props["fingerprint"] = d.Fingerprint
		props["algorithm"] = d.Algorithm
		props["kind"] = string(d.Kind)
		if d.Bits > 0 {
			props["bits"] = fmt.Sprint(d.Bits)
		}
		if !d.Created.IsZero() {
			props["created"] = d.Created.Format("2006-01-02")
		}
		if !d.Expires.IsZero() {
			props["expires"] = d.Expires.Format("2006-01-02")
		}
	}
	return props
}
