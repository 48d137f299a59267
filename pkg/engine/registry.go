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

package engine

import (
	"fmt"
	"sync"
	"sync/atomic"
)

type slot struct {
	engine Engine
	refs   int
}

// Registry tracks engine factories and live engines. All state is guarded
// by a single mutex.
type Registry struct {
	mu         sync.Mutex
	factories  map[string]Factory
	active     map[string]*slot
	defaultRSA string
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]Factory),
		active:    make(map[string]*slot),
	}
}

var defaultRegistry = NewRegistry()

// Default returns the process-wide registry
func Default() *Registry {
	return defaultRegistry
}

// Register adds or replaces the factory for id
func (r *Registry) Register(id string, factory Factory) {
	if factory == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[id] = factory
}

// Acquire returns a handle to the engine registered under id, initializing
// it if no other handle is live. ErrEngineNotFound and ErrEngineInit are
// both recoverable: the caller may fall back to software keys.
func (r *Registry) Acquire(id string) (*Handle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.active[id]; ok {
		s.refs++
		return &Handle{registry: r, id: id, engine: s.engine}, nil
	}

	factory, ok := r.factories[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrEngineNotFound, id)
	}
	e, err := factory()
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrEngineNotFound, id, err)
	}
	if err := e.Init(); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrEngineInit, id, err)
	}

	r.active[id] = &slot{engine: e, refs: 1}
	return &Handle{registry: r, id: id, engine: e}, nil
}

// DefaultRSA returns the identifier of the default RSA provider, or an
// empty string if none is registered
func (r *Registry) DefaultRSA() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.defaultRSA
}

// Refs returns the number of live handles for id
func (r *Registry) Refs(id string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.active[id]; ok {
		return s.refs
	}
	return 0
}

// Cleanup drops global engine state when no engine is live. It returns
// false, and does nothing, while any handle is still held.
func (r *Registry) Cleanup() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.active) > 0 {
		return false
	}
	r.defaultRSA = ""
	return true
}

func (r *Registry) setDefaultRSA(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.defaultRSA = id
}

func (r *Registry) release(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.active[id]
	if !ok {
		return nil
	}
	s.refs--
	if s.refs > 0 {
		return nil
	}
	delete(r.active, id)
	if r.defaultRSA == id {
		r.defaultRSA = ""
	}
	return s.engine.Finish()
}

// Handle is one holder's reference to a live engine
type Handle struct {
	registry *Registry
	id       string
	engine   Engine
	once     sync.Once
	released atomic.Bool
}

// ID returns the engine identifier
func (h *Handle) ID() string {
	return h.id
}

// SetDefaultRSA registers the engine as the default RSA provider
func (h *Handle) SetDefaultRSA() error {
	if h.released.Load() {
		return ErrReleased
	}
	if err := h.engine.SupportsRSA(); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrDefaultRSA, h.id, err)
	}
	h.registry.setDefaultRSA(h.id)
	return nil
}

// Ctrl forwards a control command to the engine
func (h *Handle) Ctrl(cmd Command, arg int64) error {
	if h.released.Load() {
		return ErrReleased
	}
	return h.engine.Ctrl(cmd, arg)
}

// LoadPrivateKey loads a private key through the engine
func (h *Handle) LoadPrivateKey(label string) (PrivateKey, error) {
	if h.released.Load() {
		return nil, ErrReleased
	}
	return h.engine.LoadPrivateKey(label)
}

// Release drops this reference. The last release finishes the engine.
// Subsequent calls are no-ops.
func (h *Handle) Release() error {
	var err error
	h.once.Do(func() {
		h.released.Store(true)
		err = h.registry.release(h.id)
	})
	return err
}
