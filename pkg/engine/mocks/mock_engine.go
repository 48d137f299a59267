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

// Package mocks provides a scriptable engine.Engine for tests.
package mocks

import (
	"crypto"
	"crypto/rsa"
	"errors"
	"io"
	"sync"

	"github.com/jeremyhahn/go-platid/pkg/engine"
)

// MockEngine is a configurable engine.Engine that records every call in order.
type MockEngine struct {
	mu sync.Mutex

	EngineID string

	// RSAKey backs keys returned by LoadPrivateKey when LoadPrivateKeyFunc is nil
	RSAKey *rsa.PrivateKey

	// Configurable behavior
	InitFunc           func() error
	FinishFunc         func() error
	SupportsRSAFunc    func() error
	CtrlFunc           func(cmd engine.Command, arg int64) error
	LoadPrivateKeyFunc func(label string) (engine.PrivateKey, error)

	// Call tracking
	Calls      []string
	CtrlCalls  []engine.Command
	LoadLabels []string
	Keys       []*MockKey
}

// NewMockEngine creates a mock engine registered under id
func NewMockEngine(id string, key *rsa.PrivateKey) *MockEngine {
	return &MockEngine{EngineID: id, RSAKey: key}
}

// Factory returns an engine.Factory that always yields this mock
func (m *MockEngine) Factory() engine.Factory {
	return func() (engine.Engine, error) {
		return m, nil
	}
}

func (m *MockEngine) record(call string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = append(m.Calls, call)
}

// CallLog returns a copy of the recorded call sequence
func (m *MockEngine) CallLog() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.Calls))
	copy(out, m.Calls)
	return out
}

func (m *MockEngine) ID() string {
	return m.EngineID
}

func (m *MockEngine) Init() error {
	m.record("init")
	if m.InitFunc != nil {
		return m.InitFunc()
	}
	return nil
}

func (m *MockEngine) Finish() error {
	m.record("finish")
	if m.FinishFunc != nil {
		return m.FinishFunc()
	}
	return nil
}

func (m *MockEngine) SupportsRSA() error {
	m.record("set_default_rsa")
	if m.SupportsRSAFunc != nil {
		return m.SupportsRSAFunc()
	}
	return nil
}

func (m *MockEngine) Ctrl(cmd engine.Command, arg int64) error {
	m.record("ctrl:" + cmd.String())
	m.mu.Lock()
	m.CtrlCalls = append(m.CtrlCalls, cmd)
	m.mu.Unlock()
	if m.CtrlFunc != nil {
		return m.CtrlFunc(cmd, arg)
	}
	return nil
}

func (m *MockEngine) LoadPrivateKey(label string) (engine.PrivateKey, error) {
	m.record("load_private_key")
	m.mu.Lock()
	m.LoadLabels = append(m.LoadLabels, label)
	m.mu.Unlock()
	if m.LoadPrivateKeyFunc != nil {
		return m.LoadPrivateKeyFunc(label)
	}
	if m.RSAKey == nil {
		return nil, errors.New("mock engine: no key configured")
	}
	key := &MockKey{key: m.RSAKey, engine: m}
	m.mu.Lock()
	m.Keys = append(m.Keys, key)
	m.mu.Unlock()
	return key, nil
}

// MockKey is an engine.PrivateKey backed by an in-memory RSA key
type MockKey struct {
	mu         sync.Mutex
	key        *rsa.PrivateKey
	engine     *MockEngine
	CloseCalls int
}

func (k *MockKey) Public() crypto.PublicKey {
	return &k.key.PublicKey
}

func (k *MockKey) Size() int {
	return k.key.Size()
}

func (k *MockKey) Sign(rand io.Reader, digest []byte, opts crypto.SignerOpts) ([]byte, error) {
	return rsa.SignPKCS1v15(rand, k.key, opts.HashFunc(), digest)
}

// Close records "close_key" in the owning engine call log
func (k *MockKey) Close() error {
	k.mu.Lock()
	k.CloseCalls++
	k.mu.Unlock()
	if k.engine != nil {
		k.engine.record("close_key")
	}
	return nil
}

// Closed returns how many times Close was called
func (k *MockKey) Closed() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.CloseCalls
}
