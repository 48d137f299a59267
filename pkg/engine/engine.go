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

// Package engine provides a process-wide registry of hardware cryptographic
// engines. An engine is looked up by identifier, initialized once, shared by
// every holder of a Handle and finished when the last Handle is released.
package engine

import (
	"crypto"
	"errors"
)

// Command is an engine specific control command
type Command int

const (
	// CmdUseWellKnownSecret instructs the engine to authorize parent key
	// use with the manufacturer default secret instead of a caller supplied
	// one. It lowers authorization strength.
	CmdUseWellKnownSecret Command = iota + 1
)

func (c Command) String() string {
	switch c {
	case CmdUseWellKnownSecret:
		return "use_well_known_secret"
	default:
		return "unknown"
	}
}

var (
	// ErrEngineNotFound indicates no engine is registered under the identifier
	ErrEngineNotFound = errors.New("engine: not found")

	// ErrEngineInit indicates the engine was found but failed to initialize
	ErrEngineInit = errors.New("engine: initialization failed")

	// ErrDefaultRSA indicates the engine could not be registered as the
	// default RSA provider
	ErrDefaultRSA = errors.New("engine: could not set default RSA method")

	// ErrReleased indicates the handle was already released
	ErrReleased = errors.New("engine: handle released")

	// ErrUnsupportedCommand indicates the engine does not implement the command
	ErrUnsupportedCommand = errors.New("engine: unsupported control command")
)

// PrivateKey is an RSA private key held by an engine. Sign with
// crypto.Hash(0) performs a PKCS#1 v1.5 private key operation over the raw
// input. Close releases the engine resources behind the key and is safe to
// call more than once.
type PrivateKey interface {
	crypto.Signer
	Size() int
	Close() error
}

// Engine is a hardware cryptographic module
type Engine interface {
	// ID returns the identifier the engine is registered under
	ID() string

	// Init acquires the underlying device. A failed Init leaves nothing
	// to release.
	Init() error

	// Finish releases the underlying device
	Finish() error

	// SupportsRSA reports whether the engine can serve as the RSA provider
	SupportsRSA() error

	// Ctrl executes an engine specific control command
	Ctrl(cmd Command, arg int64) error

	// LoadPrivateKey loads the private key identified by label. No
	// passphrase callback is available.
	LoadPrivateKey(label string) (PrivateKey, error)
}

// Factory constructs an engine. It must not touch the device; that is Init's job.
type Factory func() (Engine, error)
