// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-platid.
//
// go-platid is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

// Package software loads RSA private keys from unencrypted PEM files.
// Both PKCS#1 ("RSA PRIVATE KEY") and PKCS#8 ("PRIVATE KEY") encodings
// are accepted.
package software

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"sync/atomic"

	"github.com/spf13/afero"
	"github.com/youmark/pkcs8"
)

const (
	pemTypePKCS1     = "RSA PRIVATE KEY"
	pemTypePKCS8     = "PRIVATE KEY"
	pemTypeEncrypted = "ENCRYPTED PRIVATE KEY"
)

var (
	// ErrNoPEMBlock indicates the file contains no PEM data
	ErrNoPEMBlock = errors.New("software: no PEM block found")

	// ErrEncryptedKey indicates the key requires a passphrase
	ErrEncryptedKey = errors.New("software: encrypted private keys are not supported")

	// ErrUnsupportedBlock indicates an unknown PEM block type
	ErrUnsupportedBlock = errors.New("software: unsupported PEM block type")

	// ErrNotRSAKey indicates the key is not an RSA key
	ErrNotRSAKey = errors.New("software: key is not RSA")

	// ErrKeyClosed indicates the key was closed
	ErrKeyClosed = errors.New("software: key closed")

	// ErrUnsupportedHash indicates a signing request that is not a raw private key operation
	ErrUnsupportedHash = errors.New("software: only raw PKCS#1 v1.5 private key operations are supported")
)

// Key is an in-memory RSA private key
type Key struct {
	key    *rsa.PrivateKey
	closed atomic.Bool
}

// NewKey wraps an RSA private key
func NewKey(key *rsa.PrivateKey) *Key {
	return &Key{key: key}
}

// LoadKey reads and parses the PEM private key at path
func LoadKey(fs afero.Fs, path string) (*Key, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, err
	}
	key, err := ParseKey(data)
	if err != nil {
		return nil, err
	}
	return NewKey(key), nil
}

// ParseKey parses the first PEM block of data as an unencrypted RSA key
func ParseKey(data []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, ErrNoPEMBlock
	}
	//nolint:staticcheck // legacy encrypted PEM detection
	if block.Type == pemTypeEncrypted || x509.IsEncryptedPEMBlock(block) {
		return nil, ErrEncryptedKey
	}

	var parsed crypto.PrivateKey
	var err error
	switch block.Type {
	case pemTypePKCS1:
		parsed, err = x509.ParsePKCS1PrivateKey(block.Bytes)
	case pemTypePKCS8:
		parsed, err = pkcs8.ParsePKCS8PrivateKey(block.Bytes)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedBlock, block.Type)
	}
	if err != nil {
		return nil, err
	}

	rsaKey, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("%w: %T", ErrNotRSAKey, parsed)
	}
	return rsaKey, nil
}

// Public returns the RSA public key
func (k *Key) Public() crypto.PublicKey {
	return &k.key.PublicKey
}

// Size returns the modulus size in bytes
func (k *Key) Size() int {
	return k.key.Size()
}

// Sign performs the PKCS#1 v1.5 private key operation on input without
// digest encoding. opts must select crypto.Hash(0).
func (k *Key) Sign(random io.Reader, input []byte, opts crypto.SignerOpts) ([]byte, error) {
	if k.closed.Load() {
		return nil, ErrKeyClosed
	}
	if opts != nil && opts.HashFunc() != 0 {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedHash, opts.HashFunc())
	}
	if random == nil {
		random = rand.Reader
	}
	return rsa.SignPKCS1v15(random, k.key, crypto.Hash(0), input)
}

// Close marks the key unusable
func (k *Key) Close() error {
	k.closed.Store(true)
	return nil
}
