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

package tpm2

import (
	"crypto"
	"crypto/rsa"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/google/go-tpm/tpm2"
)

// Key is an RSA private key resident in the TPM
type Key struct {
	engine    *Engine
	handle    tpm2.TPMHandle
	name      tpm2.TPM2BName
	public    *rsa.PublicKey
	transient bool
	once      sync.Once
	closed    atomic.Bool
}

// Public returns the RSA public key
func (k *Key) Public() crypto.PublicKey {
	return k.public
}

// Size returns the modulus size in bytes
func (k *Key) Size() int {
	return k.public.Size()
}

// Handle returns the TPM object handle
func (k *Key) Handle() tpm2.TPMHandle {
	return k.handle
}

// Sign performs the PKCS#1 v1.5 private key operation on input without
// digest encoding. opts must select crypto.Hash(0).
func (k *Key) Sign(_ io.Reader, input []byte, opts crypto.SignerOpts) ([]byte, error) {
	if k.closed.Load() {
		return nil, ErrKeyClosed
	}
	if opts != nil && opts.HashFunc() != 0 {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedHash, opts.HashFunc())
	}
	block, err := padPKCS1Type1(input, k.Size())
	if err != nil {
		return nil, err
	}
	out, err := k.engine.rsaDecrypt(k.handle, k.name, block)
	if err != nil {
		return nil, fmt.Errorf("tpm2: private key operation failed: %w", err)
	}
	return leftPad(out, k.Size())
}

// Close flushes transient key handles. Persistent handles are left in place.
func (k *Key) Close() error {
	var err error
	k.once.Do(func() {
		k.closed.Store(true)
		if k.transient {
			err = k.engine.flush(k.handle)
		}
	})
	return err
}

// padPKCS1Type1 builds EM = 0x00 || 0x01 || PS || 0x00 || M with PS of 0xff
func padPKCS1Type1(m []byte, k int) ([]byte, error) {
	if len(m) > k-11 {
		return nil, ErrMessageTooLong
	}
	em := make([]byte, k)
	em[1] = 0x01
	psEnd := k - len(m) - 1
	for i := 2; i < psEnd; i++ {
		em[i] = 0xff
	}
	copy(em[k-len(m):], m)
	return em, nil
}

// leftPad restores leading zero bytes the TPM strips from the result
func leftPad(b []byte, k int) ([]byte, error) {
	if len(b) == k {
		return b, nil
	}
	if len(b) > k {
		return nil, fmt.Errorf("tpm2: unexpected output length %d for %d byte key", len(b), k)
	}
	out := make([]byte, k)
	copy(out[k-len(b):], b)
	return out, nil
}

func rsaPublic(public tpm2.TPM2BPublic) (*rsa.PublicKey, error) {
	pub, err := public.Contents()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKeyFile, err)
	}
	if pub.Type != tpm2.TPMAlgRSA {
		return nil, ErrNotRSAKey
	}
	detail, err := pub.Parameters.RSADetail()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotRSAKey, err)
	}
	unique, err := pub.Unique.RSA()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotRSAKey, err)
	}
	return tpm2.RSAPub(detail, unique)
}
