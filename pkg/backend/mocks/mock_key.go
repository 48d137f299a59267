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

package mocks

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"io"
	"sync"
)

// MockSigningKey is a configurable backend.SigningKey for testing
type MockSigningKey struct {
	mu sync.Mutex

	Key *rsa.PrivateKey

	SignFunc  func(input []byte, opts crypto.SignerOpts) ([]byte, error)
	SizeFunc  func() int
	CloseFunc func() error

	SignCalls  int
	CloseCalls int
}

// NewMockSigningKey wraps key. Without overrides it signs like a software key.
func NewMockSigningKey(key *rsa.PrivateKey) *MockSigningKey {
	return &MockSigningKey{Key: key}
}

// Public returns the public key
func (m *MockSigningKey) Public() crypto.PublicKey {
	return &m.Key.PublicKey
}

// Size returns the modulus size
func (m *MockSigningKey) Size() int {
	if m.SizeFunc != nil {
		return m.SizeFunc()
	}
	return m.Key.Size()
}

// Sign records the call and signs with SignFunc or the wrapped key
func (m *MockSigningKey) Sign(_ io.Reader, input []byte, opts crypto.SignerOpts) ([]byte, error) {
	m.mu.Lock()
	m.SignCalls++
	m.mu.Unlock()

	if m.SignFunc != nil {
		return m.SignFunc(input, opts)
	}
	return rsa.SignPKCS1v15(rand.Reader, m.Key, opts.HashFunc(), input)
}

// Close records the call
func (m *MockSigningKey) Close() error {
	m.mu.Lock()
	m.CloseCalls++
	m.mu.Unlock()

	if m.CloseFunc != nil {
		return m.CloseFunc()
	}
	return nil
}

// Calls returns the number of Sign and Close calls
func (m *MockSigningKey) Calls() (sign, closeCalls int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.SignCalls, m.CloseCalls
}
