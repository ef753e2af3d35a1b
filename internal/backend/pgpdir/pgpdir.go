// Copyright (c) 2026 Keymaster Team
// kmring - PGP and SSH keyring synchronization
// This source code is licensed under the MIT license found in the LICENSE file.

// Package pgpdir implements a backend over an OpenPGP keyring directory
// holding a binary public ring (pubring.gpg) and secret ring (secring.gpg).
package pgpdir

import (
	"bytes"
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/ProtonMail/go-crypto/openpgp"

	"github.com/toeirei/kmring/internal/backend"
	"github.com/toeirei/kmring/internal/errdef"
	"github.com/toeirei/kmring/internal/model"
)

const (
	PublicRing = "pubring.gpg"
	SecretRing = "secring.gpg"
)

// Backend is a keyring directory. Ring rewrites are serialized across all
// sessions of one Backend.
type Backend struct {
	dir string
	mu  sync.Mutex
}

// New returns a backend rooted at dir. The directory is created on first
// Open if missing.
func New(dir string) *Backend {
	return &Backend{dir: dir}
}

func (b *Backend) Kind() model.Kind { return model.KindPGP }
func (b *Backend) Name() string     { return b.dir }

// Watch reports changes to any ring file in the directory.
func (b *Backend) Watch() (string, func(string) bool) {
	return b.dir, func(name string) bool { return strings.HasSuffix(name, ".gpg") }
}

func (b *Backend) Open(ctx context.Context) (backend.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(b.dir, 0o700); err != nil {
		return nil, backend.Errorf("open", errdef.CodeGeneral, "create keyring dir: %w", err)
	}
	return &session{b: b}, nil
}

func (b *Backend) ringPath(secret bool) string {
	if secret {
		return filepath.Join(b.dir, SecretRing)
	}
	return filepath.Join(b.dir, PublicRing)
}

// readRing loads a ring file. A missing file is an empty ring.
func (b *Backend) readRing(secret bool) (openpgp.EntityList, error) {
	f, err := os.Open(b.ringPath(secret))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, backend.Errorf("read", errdef.CodeGeneral, "open ring: %w", err)
	}
	defer func() { _ = f.Close() }()
	el, err := openpgp.ReadKeyRing(f)
	if err != nil {
		return nil, backend.Errorf("read", errdef.CodeInvalidData, "%s: %w", f.Name(), err)
	}
	return el, nil
}

// writeRing replaces a ring file atomically.
func (b *Backend) writeRing(secret bool, el openpgp.EntityList) error {
	err := backend.WriteFileAtomic(b.ringPath(secret), 0o600, func(w io.Writer) error {
		for _, e := range el {
			var err error
			if secret {
				err = e.SerializePrivateWithoutSigning(w, nil)
			} else {
				err = e.Serialize(w)
			}
			if err != nil {
				return fmt.Errorf("serialize %s: %w", fingerprint(e), err)
			}
		}
		return nil
	})
	if err != nil {
		return backend.Errorf("write", errdef.CodeGeneral, "%w", err)
	}
	return nil
}

func fingerprint(e *openpgp.Entity) string {
	return strings.ToUpper(hex.EncodeToString(e.PrimaryKey.Fingerprint))
}

// find returns the index of the entity identified by id (key id or
// fingerprint), or -1.
func find(el openpgp.EntityList, id string) int {
	id = model.NormalizeID(id)
	for i, e := range el {
		if e.PrimaryKey.KeyIdString() == id || fingerprint(e) == id {
			return i
		}
	}
	return -1
}

// upsert replaces the entity with the same fingerprint or appends e.
func upsert(el openpgp.EntityList, e *openpgp.Entity) openpgp.EntityList {
	if i := find(el, fingerprint(e)); i >= 0 {
		el[i] = e
		return el
	}
	return append(el, e)
}

func remove(el openpgp.EntityList, i int) openpgp.EntityList {
	out := make(openpgp.EntityList, 0, len(el)-1)
	out = append(out, el[:i]...)
	return append(out, el[i+1:]...)
}

// matches reports whether e is selected by any pattern: a key id or
// fingerprint suffix of at least eight hex digits, or a case-insensitive
// user id substring.
func matches(e *openpgp.Entity, patterns []string) bool {
	if patterns == nil {
		return true
	}
	fpr := fingerprint(e)
	for _, p := range patterns {
		np := model.NormalizeID(p)
		if len(np) >= 8 && strings.HasSuffix(fpr, np) {
			return true
		}
		lp := strings.ToLower(strings.TrimSpace(p))
		if lp == "" {
			continue
		}
		for name := range e.Identities {
			if strings.Contains(strings.ToLower(name), lp) {
				return true
			}
		}
	}
	return false
}

// readArmoredOrBinary strips ASCII armor when present.
func readArmoredOrBinary(data []byte) ([]byte, error) {
	trimmed := bytes.TrimSpace(data)
	if !bytes.HasPrefix(trimmed, []byte("-----BEGIN ")) {
		return data, nil
	}
	var out bytes.Buffer
	rest := trimmed
	// Concatenated armored blocks, as produced by sequential exports.
	for len(rest) > 0 {
		block, err := decodeArmor(rest)
		if err != nil {
			return nil, err
		}
		if _, err := io.Copy(&out, block.body); err != nil {
			return nil, fmt.Errorf("read armored body: %w", err)
		}
		rest = bytes.TrimSpace(block.rest)
	}
	return out.Bytes(), nil
}
