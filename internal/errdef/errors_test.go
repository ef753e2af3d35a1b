// Copyright (c) 2026 Keymaster Team
// kmring - PGP and SSH keyring synchronization
// This source code is licensed under the MIT license found in the LICENSE file.

package errdef

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

type codedErr struct{ code Code }

func (e codedErr) Error() string    { return fmt.Sprintf("status %d", e.code) }
func (e codedErr) StatusCode() Code { return e.code }

func TestTranslate(t *testing.T) {
	if Translate("list", nil) != nil {
		t.Fatalf("nil error must stay nil")
	}
	if err := Translate("list", fmt.Errorf("wrapped: %w", context.Canceled)); err != ErrCancelled {
		t.Fatalf("expected ErrCancelled, got %v", err)
	}

	err := Translate("import", codedErr{CodeBadPassphrase})
	var be *BackendError
	if !errors.As(err, &be) {
		t.Fatalf("expected BackendError, got %T", err)
	}
	if be.Code != CodeBadPassphrase || be.Category != "bad passphrase" || be.Op != "import" {
		t.Fatalf("unexpected translation: %+v", be)
	}

	err = Translate("export", errors.New("boom"))
	if !errors.As(err, &be) || be.Category != "generic failure" {
		t.Fatalf("expected generic failure, got %v", err)
	}

	de := &DataError{Msg: "bad"}
	if Translate("import", de) != error(de) {
		t.Fatalf("DataError must pass through")
	}
	if err := Translate("delete", ErrUnsupported); !errors.As(err, &be) || be.Code != CodeUnsupported {
		t.Fatalf("expected CodeUnsupported, got %v", err)
	}
}

func TestOutcomeOf(t *testing.T) {
	tests := []struct {
		err  error
		want Outcome
	}{
		{nil, Completed},
		{ErrCancelled, Cancelled},
		{fmt.Errorf("x: %w", context.Canceled), Cancelled},
		{&DataError{Msg: "x"}, Failed},
		{&BackendError{Op: "list", Code: CodeGeneral}, Failed},
	}
	for _, tt := range tests {
		if got := OutcomeOf(tt.err); got != tt.want {
			t.Errorf("OutcomeOf(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}
