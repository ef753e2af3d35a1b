// Copyright (c) 2026 Keymaster Team
// kmring - PGP and SSH keyring synchronization
// This source code is licensed under the MIT license found in the LICENSE file.

// package model defines the key records held by a keyring and the descriptors
// a backend yields for each half (public or secret) of a key.
package model // import "github.com/toeirei/kmring/internal/model"

import (
	"fmt"
	"strings"
	"time"

	"github.com/toeirei/kmring/internal/errdef"
)

// ErrMalformed is returned for descriptors the keyring can not index.
var ErrMalformed = fmt.Errorf("%w: malformed descriptor", errdef.ErrPrecondition)

// Kind names the family of key a backend manages.
type Kind string

const (
	KindPGP Kind = "pgp"
	KindSSH Kind = "ssh"
)

// Usage classifies a record by which halves it holds.
type Usage int

const (
	// UsageNone is reported by a record that holds no half at all.
	UsageNone Usage = iota
	// UsagePublicKey is a record backed only by a public half.
	UsagePublicKey
	// UsagePrivateKey is a complete record: public and secret halves merged.
	UsagePrivateKey
	// UsageOrphanSecret is a secret half whose public counterpart has not
	// been seen. Such records never appear in the table.
	UsageOrphanSecret
)

func (u Usage) String() string {
	switch u {
	case UsagePublicKey:
		return "public"
	case UsagePrivateKey:
		return "private"
	case UsageOrphanSecret:
		return "orphan-secret"
	default:
		return "none"
	}
}

// UserID is an identity attached to a key. It is an identity-only sub-record:
// it has properties but can not be exported or deleted on its own.
type UserID struct {
	KeyID   string
	Name    string
	Email   string
	Comment string
}

// String returns the conventional "Name (Comment) <email>" form.
func (u UserID) String() string {
	var b strings.Builder
	b.WriteString(u.Name)
	if u.Comment != "" {
		fmt.Fprintf(&b, " (%s)", u.Comment)
	}
	if u.Email != "" {
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		fmt.Fprintf(&b, "<%s>", u.Email)
	}
	return b.String()
}

// Properties implements HasProperties.
func (u UserID) Properties() map[string]string {
	return map[string]string{
		"keyid":   u.KeyID,
		"name":    u.Name,
		"email":   u.Email,
		"comment": u.Comment,
	}
}

// Signature is the subset of certification data loaded when a listing asks
// for full detail.
type Signature struct {
	IssuerKeyID string
	Created     time.Time
	UserID      string
}

// Descriptor is one half of a key as reported by a backend.
type Descriptor struct {
	KeyID       string
	Fingerprint string
	Secret      bool
	Kind        Kind
	Algorithm   string
	Bits        int
	Created     time.Time
	Expires     time.Time
	UserIDs     []UserID
	// Signatures is only populated for full-detail listings.
	Signatures []Signature
	// Path is the backend file the half was read from, if any.
	Path string
}

// Validate reports a malformed descriptor.
func (d *Descriptor) Validate() error {
	if d == nil {
		return fmt.Errorf("%w: nil descriptor", ErrMalformed)
	}
	if NormalizeID(d.KeyID) == "" {
		return fmt.Errorf("%w: descriptor without key id", ErrMalformed)
	}
	return nil
}

// ID returns the normalized identifier of the descriptor.
func (d *Descriptor) ID() string {
	return NormalizeID(d.KeyID)
}

// NormalizeID canonicalizes a key identifier. Hex identifiers (PGP key ids
// and fingerprints) are case-insensitive and may carry a 0x prefix; anything
// else (for example SSH SHA256 fingerprints) is case-sensitive and returned
// trimmed.
func NormalizeID(id string) string {
	id = strings.TrimSpace(id)
	if strings.HasPrefix(id, "0x") || strings.HasPrefix(id, "0X") {
		if isHex(id[2:]) {
			id = id[2:]
		}
	}
	if isHex(id) {
		return strings.ToUpper(id)
	}
	return id
}

// KeyIDFromFingerprint returns the 16 digit key id embedded at the end of a
// hex fingerprint. Non-hex or short identifiers are returned normalized.
func KeyIDFromFingerprint(fpr string) string {
	fpr = NormalizeID(fpr)
	if isHex(fpr) && len(fpr) > 16 {
		return fpr[len(fpr)-16:]
	}
	return fpr
}

func isHex(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		switch {
		case c >= '0' && c <= '9', c >= 'a' && c <= 'f', c >= 'A' && c <= 'F':
		default:
			return false
		}
	}
	return true
}
