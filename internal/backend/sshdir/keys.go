// Copyright (c) 2026 Keymaster Team
// kmring - PGP and SSH keyring synchronization
// This source code is licensed under the MIT license found in the LICENSE file.

package sshdir

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rsa"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/toeirei/kmring/internal/model"
)

// splitLine splits a raw public key line (like one from an authorized_keys
// file) into its algorithm, key data and comment. Leading options such as
// from="..." or command="..." are skipped.
func splitLine(rawKey string) (algorithm, keyData, comment string, err error) {
	fields := strings.Fields(rawKey)
	if len(fields) == 0 {
		err = fmt.Errorf("empty line")
		return
	}

	keyStartIndex := -1
	for i, field := range fields {
		if strings.HasPrefix(field, "ssh-") || strings.HasPrefix(field, "ecdsa-") || strings.HasPrefix(field, "sk-") {
			keyStartIndex = i
			break
		}
	}
	if keyStartIndex == -1 {
		err = fmt.Errorf("no valid SSH key type found in line")
		return
	}
	if len(fields) < keyStartIndex+2 {
		err = fmt.Errorf("invalid public key format: missing key data after algorithm")
		return
	}

	algorithm = fields[keyStartIndex]
	keyData = fields[keyStartIndex+1]
	if len(fields) > keyStartIndex+2 {
		comment = strings.Join(fields[keyStartIndex+2:], " ")
	}
	return
}

// authorizedLine renders pub in authorized_keys form with an optional
// comment.
func authorizedLine(pub ssh.PublicKey, comment string) string {
	line := strings.TrimSpace(string(ssh.MarshalAuthorizedKey(pub)))
	if comment != "" {
		line += " " + comment
	}
	return line + "\n"
}

// key is one half found in the directory.
type key struct {
	pub     ssh.PublicKey
	comment string
	path    string
	secret  bool
	modTime time.Time
}

func (k *key) id() string { return ssh.FingerprintSHA256(k.pub) }

// readPublic parses the first key line of a .pub file.
func readPublic(path string) (*key, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	pub, comment, _, _, err := ssh.ParseAuthorizedKey(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &key{pub: pub, comment: comment, path: path}, nil
}

var errNotPrivate = errors.New("not a private key file")

// readPrivate parses a private key file. The public half of an encrypted key
// is taken from the file itself when the format carries it, else from the
// .pub sibling.
func readPrivate(path string) (*key, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if !bytes.HasPrefix(bytes.TrimSpace(data), []byte("-----BEGIN")) || !bytes.Contains(data, []byte("PRIVATE KEY")) {
		return nil, errNotPrivate
	}

	k := &key{path: path, secret: true}
	raw, err := ssh.ParseRawPrivateKey(data)
	var missing *ssh.PassphraseMissingError
	switch {
	case err == nil:
		signer, serr := ssh.NewSignerFromKey(raw)
		if serr != nil {
			return nil, fmt.Errorf("%s: %w", path, serr)
		}
		k.pub = signer.PublicKey()
	case errors.As(err, &missing) && missing.PublicKey != nil:
		k.pub = missing.PublicKey
	case errors.As(err, &missing):
		sib, serr := readPublic(path + ".pub")
		if serr != nil {
			return nil, fmt.Errorf("%s: encrypted key without public half: %w", path, serr)
		}
		k.pub = sib.pub
	default:
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if sib, err := readPublic(path + ".pub"); err == nil && sib.id() == k.id() {
		k.comment = sib.comment
	}
	return k, nil
}

func bitLength(pub ssh.PublicKey) int {
	if cert, ok := pub.(*ssh.Certificate); ok {
		pub = cert.Key
	}
	cpk, ok := pub.(ssh.CryptoPublicKey)
	if !ok {
		return 0
	}
	switch k := cpk.CryptoPublicKey().(type) {
	case *rsa.PublicKey:
		return k.N.BitLen()
	case *ecdsa.PublicKey:
		return k.Curve.Params().BitSize
	case ed25519.PublicKey:
		return 256
	default:
		return 0
	}
}

func (k *key) describe(full bool) *model.Descriptor {
	id := k.id()
	d := &model.Descriptor{
		KeyID:       id,
		Fingerprint: id,
		Secret:      k.secret,
		Kind:        model.KindSSH,
		Algorithm:   k.pub.Type(),
		Bits:        bitLength(k.pub),
		Created:     k.modTime,
		Path:        k.path,
	}
	if k.comment != "" {
		uid := model.UserID{KeyID: id, Name: k.comment}
		if strings.Contains(k.comment, "@") && !strings.ContainsAny(k.comment, " \t") {
			uid.Email = k.comment
		}
		d.UserIDs = []model.UserID{uid}
	}
	if cert, ok := k.pub.(*ssh.Certificate); ok {
		if cert.ValidBefore != ssh.CertTimeInfinity {
			d.Expires = time.Unix(int64(cert.ValidBefore), 0)
		}
		if full {
			d.Signatures = []model.Signature{{
				IssuerKeyID: ssh.FingerprintSHA256(cert.SignatureKey),
				Created:     time.Unix(int64(cert.ValidAfter), 0),
				UserID:      cert.KeyId,
			}}
		}
	}
	return d
}

// matches reports whether k is selected by any pattern: its fingerprint (or
// a suffix of it), a comment substring or its file name.
func (k *key) matches(patterns []string) bool {
	if patterns == nil {
		return true
	}
	id := k.id()
	for _, p := range patterns {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if id == p || (len(p) >= 8 && strings.HasSuffix(id, p)) {
			return true
		}
		if strings.Contains(strings.ToLower(k.comment), strings.ToLower(p)) {
			return true
		}
		if strings.TrimSuffix(filepath.Base(k.path), ".pub") == p {
			return true
		}
	}
	return false
}
