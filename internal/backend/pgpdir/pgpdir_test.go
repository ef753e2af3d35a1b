// Copyright (c) 2026 Keymaster Team
// kmring - PGP and SSH keyring synchronization
// This source code is licensed under the MIT license found in the LICENSE file.

package pgpdir

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/ProtonMail/go-crypto/openpgp/packet"

	"github.com/toeirei/kmring/internal/backend"
	"github.com/toeirei/kmring/internal/errdef"
	"github.com/toeirei/kmring/internal/model"
)

func newEntity(t *testing.T, name, email string) *openpgp.Entity {
	t.Helper()
	e, err := openpgp.NewEntity(name, "test", email, &packet.Config{Algorithm: packet.PubKeyAlgoEdDSA})
	if err != nil {
		t.Fatalf("NewEntity: %v", err)
	}
	return e
}

func privateBytes(t *testing.T, e *openpgp.Entity) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := e.SerializePrivateWithoutSigning(&buf, nil); err != nil {
		t.Fatalf("SerializePrivateWithoutSigning: %v", err)
	}
	return buf.Bytes()
}

func publicBytes(t *testing.T, e *openpgp.Entity) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := e.Serialize(&buf); err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	return buf.Bytes()
}

func open(t *testing.T, b *Backend) backend.Session {
	t.Helper()
	s, err := b.Open(context.Background())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func list(t *testing.T, s backend.Session, patterns []string, secret bool, mode backend.ListMode) []*model.Descriptor {
	t.Helper()
	if err := s.ListStart(patterns, secret, mode); err != nil {
		t.Fatalf("ListStart: %v", err)
	}
	var out []*model.Descriptor
	for {
		d, err := s.ListNext()
		if backend.Exhausted(err) {
			break
		}
		if err != nil {
			t.Fatalf("ListNext: %v", err)
		}
		out = append(out, d)
	}
	return out
}

func TestImportListExportDelete(t *testing.T) {
	ctx := context.Background()
	b := New(t.TempDir())
	s := open(t, b)
	alice := newEntity(t, "Alice", "alice@example.com")

	res, err := s.Import(ctx, bytes.NewReader(privateBytes(t, alice)))
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	if res.Considered != 1 || res.NoUserID != 0 || len(res.Imports) != 1 {
		t.Fatalf("unexpected import result: %+v", res)
	}
	fpr := fingerprint(alice)
	if res.Imports[0].Fingerprint != fpr || res.Imports[0].Err != nil {
		t.Fatalf("unexpected import status: %+v", res.Imports[0])
	}

	pubs := list(t, s, nil, false, backend.ListDefault)
	if len(pubs) != 1 {
		t.Fatalf("expected 1 public key, got %d", len(pubs))
	}
	d := pubs[0]
	if d.KeyID != alice.PrimaryKey.KeyIdString() || d.Fingerprint != fpr || d.Secret {
		t.Fatalf("unexpected descriptor: %+v", d)
	}
	if d.Algorithm != "eddsa" || d.Kind != model.KindPGP || len(d.Signatures) != 0 {
		t.Fatalf("unexpected descriptor detail: %+v", d)
	}
	if len(d.UserIDs) != 1 || d.UserIDs[0].Email != "alice@example.com" || d.UserIDs[0].Name != "Alice" {
		t.Fatalf("unexpected user ids: %+v", d.UserIDs)
	}
	if model.KeyIDFromFingerprint(d.Fingerprint) != d.ID() {
		t.Fatalf("key id must be the fingerprint suffix")
	}

	secs := list(t, s, nil, true, backend.ListDefault)
	if len(secs) != 1 || !secs[0].Secret || secs[0].ID() != d.ID() {
		t.Fatalf("unexpected secret listing: %+v", secs)
	}

	full := list(t, s, nil, false, backend.ListSignatures)
	if len(full[0].Signatures) == 0 || full[0].Signatures[0].IssuerKeyID != d.KeyID {
		t.Fatalf("full listing must carry self signatures: %+v", full[0].Signatures)
	}

	var out bytes.Buffer
	if err := s.Export(ctx, d.KeyID, &out, backend.ExportOptions{Armor: true, TextMode: true}); err != nil {
		t.Fatalf("Export: %v", err)
	}
	if !strings.HasPrefix(out.String(), "-----BEGIN PGP PUBLIC KEY BLOCK-----") {
		t.Fatalf("export is not armored: %q", out.String())
	}
	el, err := openpgp.ReadArmoredKeyRing(&out)
	if err != nil || len(el) != 1 || el[0].PrivateKey != nil {
		t.Fatalf("exported data does not hold one public key: %v", err)
	}

	err = s.Delete(ctx, d.KeyID, false)
	var be *backend.Error
	if !errors.As(err, &be) || be.Code != errdef.CodeGeneral {
		t.Fatalf("deleting a key with a secret half must fail, got %v", err)
	}
	if err := s.Delete(ctx, d.KeyID, true); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if got := list(t, s, nil, false, backend.ListDefault); len(got) != 0 {
		t.Fatalf("public ring not empty after delete")
	}
	if got := list(t, s, nil, true, backend.ListDefault); len(got) != 0 {
		t.Fatalf("secret ring not empty after delete")
	}
	err = s.Delete(ctx, d.KeyID, true)
	if !errors.As(err, &be) || be.Code != errdef.CodeNotFound {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestListPatterns(t *testing.T) {
	ctx := context.Background()
	b := New(t.TempDir())
	s := open(t, b)
	alice := newEntity(t, "Alice", "alice@example.com")
	bob := newEntity(t, "Bob", "bob@example.com")
	data := append(publicBytes(t, alice), publicBytes(t, bob)...)
	if _, err := s.Import(ctx, bytes.NewReader(data)); err != nil {
		t.Fatalf("Import: %v", err)
	}

	cases := []struct {
		name     string
		patterns []string
		want     int
	}{
		{"all", nil, 2},
		{"uid substring", []string{"ALICE@"}, 1},
		{"key id", []string{strings.ToLower(bob.PrimaryKey.KeyIdString())}, 1},
		{"fingerprint", []string{fingerprint(alice)}, 1},
		{"both", []string{"alice", "bob"}, 2},
		{"short hex is not a key id", []string{"AB"}, 0},
		{"empty filter", []string{}, 0},
	}
	for _, tc := range cases {
		if got := list(t, s, tc.patterns, false, backend.ListDefault); len(got) != tc.want {
			t.Errorf("%s: got %d keys, want %d", tc.name, len(got), tc.want)
		}
	}
}

func TestImportArmoredConcatenation(t *testing.T) {
	ctx := context.Background()
	src := New(t.TempDir())
	s := open(t, src)
	alice := newEntity(t, "Alice", "alice@example.com")
	bob := newEntity(t, "Bob", "bob@example.com")
	if _, err := s.Import(ctx, bytes.NewReader(append(publicBytes(t, alice), publicBytes(t, bob)...))); err != nil {
		t.Fatalf("Import: %v", err)
	}
	var out bytes.Buffer
	for _, e := range []*openpgp.Entity{alice, bob} {
		if err := s.Export(ctx, fingerprint(e), &out, backend.ExportOptions{Armor: true}); err != nil {
			t.Fatalf("Export: %v", err)
		}
	}

	dst := open(t, New(t.TempDir()))
	res, err := dst.Import(ctx, &out)
	if err != nil {
		t.Fatalf("Import armored: %v", err)
	}
	if res.Considered != 2 || len(res.Imports) != 2 {
		t.Fatalf("unexpected import result: %+v", res)
	}
	if got := list(t, dst, nil, false, backend.ListDefault); len(got) != 2 {
		t.Fatalf("expected 2 keys, got %d", len(got))
	}
	if got := list(t, dst, nil, true, backend.ListDefault); len(got) != 0 {
		t.Fatalf("public import must not populate the secret ring")
	}
}

func TestImportWithoutUserID(t *testing.T) {
	e := newEntity(t, "Carol", "carol@example.com")
	var buf bytes.Buffer
	if err := e.PrimaryKey.Serialize(&buf); err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	s := open(t, New(t.TempDir()))
	res, err := s.Import(context.Background(), &buf)
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	if res.Considered != 1 || res.NoUserID != 1 {
		t.Fatalf("unexpected import result: %+v", res)
	}
	var be *backend.Error
	if len(res.Imports) != 1 || !errors.As(res.Imports[0].Err, &be) || be.Code != errdef.CodeNoUserID {
		t.Fatalf("expected a no-user-id status, got %+v", res.Imports)
	}
}

func TestImportGarbage(t *testing.T) {
	s := open(t, New(t.TempDir()))
	_, err := s.Import(context.Background(), strings.NewReader("not a key"))
	var be *backend.Error
	if !errors.As(err, &be) || be.Code != errdef.CodeInvalidData {
		t.Fatalf("expected invalid data, got %v", err)
	}
}

func TestListEndStopsEnumeration(t *testing.T) {
	ctx := context.Background()
	s := open(t, New(t.TempDir()))
	data := append(publicBytes(t, newEntity(t, "A", "a@example.com")), publicBytes(t, newEntity(t, "B", "b@example.com"))...)
	if _, err := s.Import(ctx, bytes.NewReader(data)); err != nil {
		t.Fatalf("Import: %v", err)
	}
	if err := s.ListStart(nil, false, backend.ListDefault); err != nil {
		t.Fatalf("ListStart: %v", err)
	}
	if _, err := s.ListNext(); err != nil {
		t.Fatalf("ListNext: %v", err)
	}
	_ = s.ListEnd()
	if _, err := s.ListNext(); err != io.EOF {
		t.Fatalf("expected io.EOF after ListEnd, got %v", err)
	}
}

func TestRingsAreReplacedAtomically(t *testing.T) {
	dir := t.TempDir()
	s := open(t, New(dir))
	if _, err := s.Import(context.Background(), bytes.NewReader(privateBytes(t, newEntity(t, "A", "a@example.com")))); err != nil {
		t.Fatalf("Import: %v", err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	if len(names) != 2 || names[0] != PublicRing || names[1] != SecretRing {
		t.Fatalf("unexpected directory content: %v", names)
	}
	info, err := os.Stat(filepath.Join(dir, SecretRing))
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Fatalf("secret ring mode = %v", info.Mode().Perm())
	}
}

func TestWatchMatch(t *testing.T) {
	b := New("/keys")
	dir, match := b.Watch()
	if dir != "/keys" {
		t.Fatalf("dir = %q", dir)
	}
	if !match("pubring.gpg") || match("pubring.kbx") || match("trustdb.gpg~") {
		t.Fatalf("unexpected watch matching")
	}
}
