// Copyright (c) 2026 Keymaster Team
// kmring - PGP and SSH keyring synchronization
// This source code is licensed under the MIT license found in the LICENSE file.

package pgpdir

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/ProtonMail/go-crypto/openpgp/armor"
	"github.com/ProtonMail/go-crypto/openpgp/packet"

	"github.com/toeirei/kmring/internal/backend"
	"github.com/toeirei/kmring/internal/errdef"
	"github.com/toeirei/kmring/internal/model"
)

type session struct {
	b *Backend

	mu      sync.Mutex
	pending []*model.Descriptor
	ended   bool
}

func (s *session) ListStart(patterns []string, secret bool, mode backend.ListMode) error {
	el, err := s.b.readRing(secret)
	if err != nil {
		return err
	}
	path := s.b.ringPath(secret)
	var out []*model.Descriptor
	for _, e := range el {
		if matches(e, patterns) {
			out = append(out, describe(e, secret, mode&backend.ListSignatures != 0, path))
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

// Import adds every entity in r to the public ring, and those carrying
// private key material to the secret ring as well. Candidates without a user
// id are counted and reported but not stored.
func (s *session) Import(ctx context.Context, r io.Reader) (*backend.ImportResult, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, backend.Errorf("import", errdef.CodeGeneral, "read input: %w", err)
	}
	body, err := readArmoredOrBinary(data)
	if err != nil {
		return nil, backend.Errorf("import", errdef.CodeInvalidData, "%w", err)
	}

	res := survey(body)
	el, err := openpgp.ReadKeyRing(bytes.NewReader(body))
	if err != nil && len(el) == 0 {
		if res.Considered > 0 {
			return res, nil
		}
		return nil, backend.Errorf("import", errdef.CodeInvalidData, "%w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.b.mu.Lock()
	defer s.b.mu.Unlock()
	pub, err := s.b.readRing(false)
	if err != nil {
		return nil, err
	}
	sec, err := s.b.readRing(true)
	if err != nil {
		return nil, err
	}
	secretChanged := false
	for _, e := range el {
		pub = upsert(pub, e)
		if e.PrivateKey != nil {
			sec = upsert(sec, e)
			secretChanged = true
		}
		res.Imports = append(res.Imports, backend.ImportStatus{Fingerprint: fingerprint(e)})
	}
	if err := s.b.writeRing(false, pub); err != nil {
		return nil, err
	}
	if secretChanged {
		if err := s.b.writeRing(true, sec); err != nil {
			return nil, err
		}
	}
	return res, nil
}

func (s *session) Export(ctx context.Context, keyID string, w io.Writer, opts backend.ExportOptions) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	el, err := s.b.readRing(false)
	if err != nil {
		return err
	}
	i := find(el, keyID)
	if i < 0 {
		return backend.Errorf("export", errdef.CodeNotFound, "no public key %s", keyID)
	}
	// Key material is binary; TextMode only applies to the armor wrapper,
	// which is always text.
	if !opts.Armor {
		if err := el[i].Serialize(w); err != nil {
			return backend.Errorf("export", errdef.CodeGeneral, "serialize: %w", err)
		}
		return nil
	}
	aw, err := armor.Encode(w, openpgp.PublicKeyType, nil)
	if err != nil {
		return backend.Errorf("export", errdef.CodeGeneral, "armor: %w", err)
	}
	if err := el[i].Serialize(aw); err != nil {
		_ = aw.Close()
		return backend.Errorf("export", errdef.CodeGeneral, "serialize: %w", err)
	}
	if err := aw.Close(); err != nil {
		return backend.Errorf("export", errdef.CodeGeneral, "armor: %w", err)
	}
	_, err = io.WriteString(w, "\n")
	return err
}

// Delete removes the key from the public ring. Its secret half is removed
// only when secret is set; deleting a public key whose secret key is still
// present fails.
func (s *session) Delete(ctx context.Context, keyID string, secret bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.b.mu.Lock()
	defer s.b.mu.Unlock()
	pub, err := s.b.readRing(false)
	if err != nil {
		return err
	}
	sec, err := s.b.readRing(true)
	if err != nil {
		return err
	}
	i := find(pub, keyID)
	if i < 0 {
		return backend.Errorf("delete", errdef.CodeNotFound, "no public key %s", keyID)
	}
	j := find(sec, keyID)
	if j >= 0 && !secret {
		return backend.Errorf("delete", errdef.CodeGeneral, "secret key %s present", keyID)
	}
	if err := s.b.writeRing(false, remove(pub, i)); err != nil {
		return err
	}
	if j >= 0 {
		return s.b.writeRing(true, remove(sec, j))
	}
	return nil
}

func (s *session) Close() error { return s.ListEnd() }

// survey counts the primary keys in a packet stream and reports those that
// carry no user id, which the entity reader would silently drop.
func survey(body []byte) *backend.ImportResult {
	res := &backend.ImportResult{}
	packets := packet.NewReader(bytes.NewReader(body))
	var current *packet.PublicKey
	hasUID := false
	flush := func() {
		if current == nil {
			return
		}
		res.Considered++
		if !hasUID {
			res.NoUserID++
			res.Imports = append(res.Imports, backend.ImportStatus{
				Fingerprint: strings.ToUpper(hex.EncodeToString(current.Fingerprint)),
				Err:         backend.Errorf("import", errdef.CodeNoUserID, "key without user id"),
			})
		}
	}
	for {
		p, err := packets.Next()
		if err != nil {
			break
		}
		switch pkt := p.(type) {
		case *packet.PublicKey:
			if !pkt.IsSubkey {
				flush()
				current, hasUID = pkt, false
			}
		case *packet.PrivateKey:
			if !pkt.IsSubkey {
				flush()
				current, hasUID = &pkt.PublicKey, false
			}
		case *packet.UserId:
			hasUID = true
		}
	}
	flush()
	return res
}

func describe(e *openpgp.Entity, secret, full bool, path string) *model.Descriptor {
	pk := e.PrimaryKey
	d := &model.Descriptor{
		KeyID:       pk.KeyIdString(),
		Fingerprint: fingerprint(e),
		Secret:      secret,
		Kind:        model.KindPGP,
		Algorithm:   algorithmName(pk.PubKeyAlgo),
		Created:     pk.CreationTime,
		Path:        path,
	}
	if bits, err := pk.BitLength(); err == nil {
		d.Bits = int(bits)
	}
	if sig, _ := e.PrimarySelfSignature(); sig != nil && sig.KeyLifetimeSecs != nil && *sig.KeyLifetimeSecs > 0 {
		d.Expires = pk.CreationTime.Add(time.Duration(*sig.KeyLifetimeSecs) * time.Second)
	}

	names := make([]string, 0, len(e.Identities))
	for name := range e.Identities {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		ident := e.Identities[name]
		uid := model.UserID{KeyID: d.KeyID, Name: name}
		if ident.UserId != nil {
			uid.Name, uid.Email, uid.Comment = ident.UserId.Name, ident.UserId.Email, ident.UserId.Comment
		}
		d.UserIDs = append(d.UserIDs, uid)
		if !full {
			continue
		}
		for _, sig := range ident.Signatures {
			cert := model.Signature{Created: sig.CreationTime, UserID: name}
			if sig.IssuerKeyId != nil {
				cert.IssuerKeyID = fmt.Sprintf("%016X", *sig.IssuerKeyId)
			}
			d.Signatures = append(d.Signatures, cert)
		}
	}
	return d
}

func algorithmName(a packet.PublicKeyAlgorithm) string {
	switch a {
	case packet.PubKeyAlgoRSA, packet.PubKeyAlgoRSAEncryptOnly, packet.PubKeyAlgoRSASignOnly:
		return "rsa"
	case packet.PubKeyAlgoDSA:
		return "dsa"
	case packet.PubKeyAlgoElGamal:
		return "elgamal"
	case packet.PubKeyAlgoECDSA:
		return "ecdsa"
	case packet.PubKeyAlgoECDH:
		return "ecdh"
	case packet.PubKeyAlgoEdDSA:
		return "eddsa"
	case packet.PubKeyAlgoEd25519:
		return "ed25519"
	case packet.PubKeyAlgoEd448:
		return "ed448"
	default:
		return fmt.Sprintf("algo%d", int(a))
	}
}

type armorBlock struct {
	body io.Reader
	rest []byte
}

var armorEnd = []byte("-----END ")

// decodeArmor decodes the first armored block in data and returns the bytes
// following it.
func decodeArmor(data []byte) (*armorBlock, error) {
	end := bytes.Index(data, armorEnd)
	if end < 0 {
		return nil, errors.New("armor: missing end line")
	}
	eol := bytes.IndexByte(data[end:], '\n')
	cut := len(data)
	if eol >= 0 {
		cut = end + eol + 1
	}
	block, err := armor.Decode(bytes.NewReader(data[:cut]))
	if err != nil {
		return nil, fmt.Errorf("armor: %w", err)
	}
	return &armorBlock{body: block.Body, rest: data[cut:]}, nil
}
