// Copyright (c) 2026 Keymaster Team
// kmring - PGP and SSH keyring synchronization
// This source code is licensed under the MIT license found in the LICENSE file.

package journal

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/toeirei/kmring/internal/errdef"
)

func openMemory(t *testing.T) Journal {
	t.Helper()
	j, err := Open(context.Background(), "sqlite", ":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = j.Close() })
	return j
}

func TestRecordAndList(t *testing.T) {
	ctx := context.Background()
	j := openMemory(t)

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i, action := range []string{ActionLoad, ActionImport, ActionExport} {
		e := NewEntry(action, "details", nil)
		e.Timestamp = base.Add(time.Duration(i) * time.Minute)
		if err := j.Record(ctx, e); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	all, err := j.List(ctx, 0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(all))
	}
	if all[0].Action != ActionExport || all[2].Action != ActionLoad {
		t.Fatalf("entries not newest first: %+v", all)
	}
	if all[0].Outcome != "completed" || all[0].ID == "" || all[0].Username == "" {
		t.Fatalf("unexpected entry: %+v", all[0])
	}

	limited, err := j.List(ctx, 2)
	if err != nil {
		t.Fatalf("List(2): %v", err)
	}
	if len(limited) != 2 {
		t.Fatalf("limit ignored: %d entries", len(limited))
	}
}

func TestNewEntryOutcome(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{nil, "completed"},
		{errdef.ErrCancelled, "cancelled"},
		{errors.New("boom"), "failed"},
	}
	for _, tc := range cases {
		if got := NewEntry(ActionDelete, "", tc.err).Outcome; got != tc.want {
			t.Errorf("outcome for %v = %q, want %q", tc.err, got, tc.want)
		}
	}
}

func TestOpenNoneAndUnsupported(t *testing.T) {
	j, err := Open(context.Background(), "none", "")
	if err != nil {
		t.Fatalf("Open none: %v", err)
	}
	if _, ok := j.(Nop); !ok {
		t.Fatalf("expected Nop journal, got %T", j)
	}
	if err := j.Record(context.Background(), NewEntry(ActionLoad, "", nil)); err != nil {
		t.Fatalf("Nop.Record: %v", err)
	}
	if _, err := Open(context.Background(), "oracle", "dsn"); err == nil {
		t.Fatalf("expected an error for an unsupported type")
	}
}
