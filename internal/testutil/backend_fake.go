// Copyright (c) 2026 Keymaster Team
// kmring - PGP and SSH keyring synchronization
// This source code is licensed under the MIT license found in the LICENSE file.

package testutil

import (
	"context"
	"io"
	"strings"
	"sync"

	"github.com/toeirei/kmring/internal/backend"
	"github.com/toeirei/kmring/internal/errdef"
	"github.com/toeirei/kmring/internal/model"
)

// FakeBackend is a scripted in-memory backend used by tests to avoid real
// key stores. Exported fields may be changed between operations; guard
// concurrent changes with Lock/Unlock.
type FakeBackend struct {
	sync.Mutex

	KindValue model.Kind
	Dir       string

	Public []*model.Descriptor
	Secret []*model.Descriptor

	// ListErr is returned by ListNext once ListErrAfter descriptors were
	// yielded by a listing in the mode selected by ListErrSecret.
	ListErr       error
	ListErrAfter  int
	ListErrSecret bool
	// Gate, when set, is received from before each ListNext returns.
	Gate chan struct{}

	ImportResult *backend.ImportResult
	ImportErr    error
	// ImportAdds are appended to Public when an import succeeds.
	ImportAdds []*model.Descriptor

	ExportErr map[string]error
	// OnExport is called after each successful export call.
	OnExport func(keyID string)

	DeleteErr error

	Opened   int
	Closed   int
	Exports  []string
	Deleted  []string
	Patterns [][]string
}

// NewFakeBackend returns a PGP-kind fake.
func NewFakeBackend() *FakeBackend {
	return &FakeBackend{KindValue: model.KindPGP, Dir: "/fake"}
}

func (f *FakeBackend) Kind() model.Kind { return f.KindValue }
func (f *FakeBackend) Name() string     { return f.Dir }

func (f *FakeBackend) Watch() (string, func(string) bool) {
	return f.Dir, func(name string) bool { return strings.HasSuffix(name, ".gpg") }
}

func (f *FakeBackend) Open(ctx context.Context) (backend.Session, error) {
	f.Lock()
	defer f.Unlock()
	f.Opened++
	return &fakeSession{b: f, ended: make(chan struct{})}, nil
}

// AddPublic appends public halves.
func (f *FakeBackend) AddPublic(ids ...string) {
	f.Lock()
	defer f.Unlock()
	for _, id := range ids {
		f.Public = append(f.Public, &model.Descriptor{KeyID: id, Fingerprint: "FFFFFFFFFFFFFFFFFFFFFFFF" + id, Kind: f.KindValue})
	}
}

// AddSecret appends secret halves.
func (f *FakeBackend) AddSecret(ids ...string) {
	f.Lock()
	defer f.Unlock()
	for _, id := range ids {
		f.Secret = append(f.Secret, &model.Descriptor{KeyID: id, Fingerprint: "FFFFFFFFFFFFFFFFFFFFFFFF" + id, Kind: f.KindValue, Secret: true})
	}
}

// RemoveKey drops both halves of id.
func (f *FakeBackend) RemoveKey(id string) {
	f.Lock()
	defer f.Unlock()
	f.Public = without(f.Public, id)
	f.Secret = without(f.Secret, id)
}

// RemoveSecret drops only the secret half of id.
func (f *FakeBackend) RemoveSecret(id string) {
	f.Lock()
	defer f.Unlock()
	f.Secret = without(f.Secret, id)
}

func without(list []*model.Descriptor, id string) []*model.Descriptor {
	out := list[:0:0]
	for _, d := range list {
		if d.ID() != model.NormalizeID(id) {
			out = append(out, d)
		}
	}
	return out
}

type fakeSession struct {
	b       *FakeBackend
	mu      sync.Mutex
	pending []*model.Descriptor
	secret  bool
	yielded int
	ended   chan struct{}
	endOnce sync.Once
}

func matches(d *model.Descriptor, patterns []string) bool {
	if patterns == nil {
		return true
	}
	for _, p := range patterns {
		p = model.NormalizeID(p)
		if p == d.ID() || p == model.NormalizeID(d.Fingerprint) || model.KeyIDFromFingerprint(p) == d.ID() {
			return true
		}
	}
	return false
}

func (s *fakeSession) ListStart(patterns []string, secret bool, mode backend.ListMode) error {
	s.b.Lock()
	defer s.b.Unlock()
	s.b.Patterns = append(s.b.Patterns, patterns)
	src := s.b.Public
	if secret {
		src = s.b.Secret
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.secret = secret
	for _, d := range src {
		if matches(d, patterns) {
			cp := *d
			if mode&backend.ListSignatures != 0 {
				cp.Signatures = []model.Signature{{IssuerKeyID: d.KeyID}}
			}
			s.pending = append(s.pending, &cp)
		}
	}
	return nil
}

func (s *fakeSession) ListNext() (*model.Descriptor, error) {
	if gate := s.b.Gate; gate != nil {
		select {
		case <-gate:
		case <-s.ended:
			return nil, io.EOF
		}
	}
	select {
	case <-s.ended:
		return nil, io.EOF
	default:
	}

	s.b.Lock()
	listErr, after, errSecret := s.b.ListErr, s.b.ListErrAfter, s.b.ListErrSecret
	s.b.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if listErr != nil && s.secret == errSecret && s.yielded >= after {
		return nil, listErr
	}
	if len(s.pending) == 0 {
		return nil, io.EOF
	}
	d := s.pending[0]
	s.pending = s.pending[1:]
	s.yielded++
	return d, nil
}

func (s *fakeSession) ListEnd() error {
	s.endOnce.Do(func() { close(s.ended) })
	return nil
}

func (s *fakeSession) Import(ctx context.Context, r io.Reader) (*backend.ImportResult, error) {
	if _, err := io.ReadAll(r); err != nil {
		return nil, err
	}
	s.b.Lock()
	defer s.b.Unlock()
	if s.b.ImportErr != nil {
		return nil, s.b.ImportErr
	}
	s.b.Public = append(s.b.Public, s.b.ImportAdds...)
	if s.b.ImportResult == nil {
		return &backend.ImportResult{}, nil
	}
	return s.b.ImportResult, nil
}

func (s *fakeSession) Export(ctx context.Context, keyID string, w io.Writer, opts backend.ExportOptions) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.b.Lock()
	err := s.b.ExportErr[keyID]
	if err == nil {
		s.b.Exports = append(s.b.Exports, keyID)
	}
	hook := s.b.OnExport
	s.b.Unlock()
	if err != nil {
		return err
	}
	prefix := ""
	if opts.Armor {
		prefix = "armored:"
	}
	if _, err := io.WriteString(w, prefix+keyID+"\n"); err != nil {
		return err
	}
	if hook != nil {
		hook(keyID)
	}
	return nil
}

func (s *fakeSession) Delete(ctx context.Context, keyID string, secret bool) error {
	s.b.Lock()
	defer s.b.Unlock()
	if s.b.DeleteErr != nil {
		return s.b.DeleteErr
	}
	for _, d := range s.b.Public {
		if d.ID() == model.NormalizeID(keyID) {
			s.b.Deleted = append(s.b.Deleted, d.ID())
			s.b.Public = without(s.b.Public, keyID)
			if secret {
				s.b.Secret = without(s.b.Secret, keyID)
			}
			return nil
		}
	}
	return &backend.Error{Op: "delete", Code: errdef.CodeNotFound}
}

func (s *fakeSession) Close() error {
	s.b.Lock()
	defer s.b.Unlock()
	s.b.Closed++
	return nil
}
