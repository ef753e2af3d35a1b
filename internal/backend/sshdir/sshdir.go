// Copyright (c) 2026 Keymaster Team
// kmring - PGP and SSH keyring synchronization
// This source code is licensed under the MIT license found in the LICENSE file.

// Package sshdir implements a backend over an OpenSSH key directory such as
// ~/.ssh. Public halves are the *.pub files, secret halves the private key
// files next to them. Keys are identified by their SHA256 fingerprint.
package sshdir

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"golang.org/x/crypto/ssh"

	"github.com/toeirei/kmring/internal/backend"
	"github.com/toeirei/kmring/internal/errdef"
	"github.com/toeirei/kmring/internal/logging"
	"github.com/toeirei/kmring/internal/model"
)

// ImportPrefix names the files written by Import: imported_<n>.pub.
const ImportPrefix = "imported_"

// Backend is an OpenSSH key directory.
type Backend struct {
	dir string
	mu  sync.Mutex
}

func New(dir string) *Backend { return &Backend{dir: dir} }

func (b *Backend) Kind() model.Kind { return model.KindSSH }
func (b *Backend) Name() string     { return b.dir }

// Watch reports changes to public key files and default-named private keys.
func (b *Backend) Watch() (string, func(string) bool) {
	return b.dir, func(name string) bool {
		base := filepath.Base(name)
		return strings.HasSuffix(base, ".pub") || strings.HasPrefix(base, "id_")
	}
}

func (b *Backend) Open(ctx context.Context) (backend.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(b.dir, 0o700); err != nil {
		return nil, backend.Errorf("open", errdef.CodeGeneral, "create key dir: %w", err)
	}
	return &session{b: b}, nil
}

// scan reads every public or every private key in the directory, sorted by
// file name. Unreadable files are skipped with a debug message.
func (b *Backend) scan(secret bool) ([]*key, error) {
	entries, err := os.ReadDir(b.dir)
	if err != nil {
		return nil, backend.Errorf("read", errdef.CodeGeneral, "read key dir: %w", err)
	}
	var keys []*key
	for _, e := range entries {
		if !e.Type().IsRegular() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		path := filepath.Join(b.dir, e.Name())
		isPub := strings.HasSuffix(e.Name(), ".pub")
		if isPub == secret {
			continue
		}
		var k *key
		if secret {
			k, err = readPrivate(path)
		} else {
			k, err = readPublic(path)
		}
		if err != nil {
			if !errors.Is(err, errNotPrivate) {
				logging.Debugf("sshdir: skipping %s: %v", path, err)
			}
			continue
		}
		if info, ierr := e.Info(); ierr == nil {
			k.modTime = info.ModTime()
		}
		keys = append(keys, k)
	}
	return keys, nil
}

func find(keys []*key, id string) *key {
	id = strings.TrimSpace(id)
	for _, k := range keys {
		if k.id() == id {
			return k
		}
	}
	return nil
}

// nextImportPath returns the first free imported_<n>.pub path.
func (b *Backend) nextImportPath(n *int) string {
	for {
		*n++
		path := filepath.Join(b.dir, fmt.Sprintf("%s%d.pub", ImportPrefix, *n))
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return path
		}
	}
}

type session struct {
	b *Backend

	mu      sync.Mutex
	pending []*model.Descriptor
	ended   bool
}

func (s *session) ListStart(patterns []string, secret bool, mode backend.ListMode) error {
	keys, err := s.b.scan(secret)
	if err != nil {
		return err
	}
	var out []*model.Descriptor
	for _, k := range keys {
		if k.matches(patterns) {
			out = append(out, k.describe(mode&backend.ListSignatures != 0))
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = out
	s.ended = false
	return nil
}

func (s *session) ListNext() (*model.Descriptor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended || len(s.pending) == 0 {
		return nil, io.EOF
	}
	d := s.pending[0]
	s.pending = s.pending[1:]
	return d, nil
}

func (s *session) ListEnd() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ended = true
	s.pending = nil
	return nil
}

// Import reads authorized_keys formatted lines. Every key line is a
// candidate; keys without a comment are rejected for missing identity data
// and keys already present are reported without being written again.
func (s *session) Import(ctx context.Context, r io.Reader) (*backend.ImportResult, error) {
	res := &backend.ImportResult{}
	var lines []string
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		lines = append(lines, line)
	}
	if err := sc.Err(); err != nil {
		return nil, backend.Errorf("import", errdef.CodeGeneral, "read input: %w", err)
	}

	s.b.mu.Lock()
	defer s.b.mu.Unlock()
	existing, err := s.b.scan(false)
	if err != nil {
		return nil, err
	}
	n := 0
	for _, line := range lines {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		alg, data, comment, err := splitLine(line)
		if err != nil {
			res.Imports = append(res.Imports, backend.ImportStatus{Err: backend.Errorf("import", errdef.CodeInvalidData, "%w", err)})
			continue
		}
		canonical := alg + " " + data
		pub, _, _, _, err := ssh.ParseAuthorizedKey([]byte(canonical))
		if err != nil {
			res.Imports = append(res.Imports, backend.ImportStatus{Err: backend.Errorf("import", errdef.CodeInvalidData, "%w", err)})
			continue
		}
		res.Considered++
		id := ssh.FingerprintSHA256(pub)
		if comment == "" {
			res.NoUserID++
			res.Imports = append(res.Imports, backend.ImportStatus{
				Fingerprint: id,
				Err:         backend.Errorf("import", errdef.CodeNoUserID, "key without comment"),
			})
			continue
		}
		if find(existing, id) == nil {
			path := s.b.nextImportPath(&n)
			err := backend.WriteFileAtomic(path, 0o644, func(w io.Writer) error {
				_, err := io.WriteString(w, authorizedLine(pub, comment))
				return err
			})
			if err != nil {
				return nil, backend.Errorf("import", errdef.CodeGeneral, "%w", err)
			}
			existing = append(existing, &key{pub: pub, comment: comment, path: path})
		}
		res.Imports = append(res.Imports, backend.ImportStatus{Fingerprint: id})
	}
	if res.Considered == 0 && len(res.Imports) > 0 {
		return nil, res.Imports[0].Err
	}
	return res, nil
}

// Export writes the key as an authorized_keys line. The output is always
// text, so the armor options have no effect.
func (s *session) Export(ctx context.Context, keyID string, w io.Writer, opts backend.ExportOptions) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	keys, err := s.b.scan(false)
	if err != nil {
		return err
	}
	k := find(keys, keyID)
	if k == nil {
		return backend.Errorf("export", errdef.CodeNotFound, "no public key %s", keyID)
	}
	if _, err := io.WriteString(w, authorizedLine(k.pub, k.comment)); err != nil {
		return backend.Errorf("export", errdef.CodeGeneral, "write: %w", err)
	}
	return nil
}

// Delete removes the public key file, and with secret also the private key
// file holding the same key.
func (s *session) Delete(ctx context.Context, keyID string, secret bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.b.mu.Lock()
	defer s.b.mu.Unlock()
	pubs, err := s.b.scan(false)
	if err != nil {
		return err
	}
	pk := find(pubs, keyID)
	if pk == nil {
		return backend.Errorf("delete", errdef.CodeNotFound, "no public key %s", keyID)
	}
	secs, err := s.b.scan(true)
	if err != nil {
		return err
	}
	sk := find(secs, keyID)
	if sk != nil && !secret {
		return backend.Errorf("delete", errdef.CodeGeneral, "private key %s present", filepath.Base(sk.path))
	}
	var paths []string
	for _, k := range pubs {
		if k.id() == pk.id() {
			paths = append(paths, k.path)
		}
	}
	if sk != nil {
		paths = append(paths, sk.path)
	}
	sort.Strings(paths)
	for _, p := range paths {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			return backend.Errorf("delete", errdef.CodeGeneral, "%w", err)
		}
	}
	return nil
}

func (s *session) Close() error { return s.ListEnd() }
