// Copyright (c) 2026 Keymaster Team
// kmring - PGP and SSH keyring synchronization
// This source code is licensed under the MIT license found in the LICENSE file.

package model

import (
	"errors"
	"testing"

	"github.com/toeirei/kmring/internal/errdef"
)

func TestNormalizeID(t *testing.T) {
	tests := map[string]string{
		"0xabcdef0123456789": "ABCDEF0123456789",
		"  a1b2 ":            "A1B2",
		"SHA256:abcDEF+/x":   "SHA256:abcDEF+/x",
		"":                   "",
	}
	for in, want := range tests {
		if got := NormalizeID(in); got != want {
			t.Errorf("NormalizeID(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestKeyIDFromFingerprint(t *testing.T) {
	fpr := "0123456789abcdef0123456789ABCDEF01234567"
	if got := KeyIDFromFingerprint(fpr); got != "89ABCDEF01234567" {
		t.Fatalf("unexpected key id: %q", got)
	}
	if got := KeyIDFromFingerprint("SHA256:xyz"); got != "SHA256:xyz" {
		t.Fatalf("non-hex ids must pass through, got %q", got)
	}
}

func TestRecordMergeAndUsage(t *testing.T) {
	r, err := NewRecord("test", &Descriptor{KeyID: "a1", Secret: true})
	if err != nil {
		t.Fatalf("NewRecord: %v", err)
	}
	if r.ID() != "A1" {
		t.Fatalf("expected normalized id, got %q", r.ID())
	}
	if r.Usage() != UsageOrphanSecret {
		t.Fatalf("expected orphan usage, got %v", r.Usage())
	}

	pub := &Descriptor{KeyID: "A1", UserIDs: []UserID{{Name: "Alice", Email: "alice@example.com"}}}
	if err := r.Merge(pub); err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if r.Usage() != UsagePrivateKey {
		t.Fatalf("expected private usage after merge, got %v", r.Usage())
	}
	if r.Label() != "Alice <alice@example.com>" {
		t.Fatalf("unexpected label %q", r.Label())
	}

	if err := r.Merge(&Descriptor{KeyID: "B2"}); !errors.Is(err, errdef.ErrPrecondition) {
		t.Fatalf("expected precondition error for foreign half, got %v", err)
	}
	if _, err := NewRecord("test", &Descriptor{}); !errors.Is(err, ErrMalformed) {
		t.Fatalf("expected ErrMalformed for empty id, got %v", err)
	}
}

func TestCapabilities(t *testing.T) {
	r, _ := NewRecord("ring", &Descriptor{KeyID: "C3"})
	var items []any = []any{r, UserID{Name: "x"}}

	exportable := 0
	for _, it := range items {
		if _, ok := it.(Exportable); ok {
			exportable++
		}
		if _, ok := it.(HasProperties); !ok {
			t.Fatalf("%T must describe itself", it)
		}
	}
	if exportable != 1 {
		t.Fatalf("only records are exportable, got %d", exportable)
	}
	if r.Properties()["usage"] != "public" {
		t.Fatalf("unexpected properties: %v", r.Properties())
	}
}
