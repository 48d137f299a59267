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

// Package backend decides where the platform identity private key lives.
//
// Select tries the hardware engine first and falls back to a software key
// file when the engine is missing or fails to initialize. An engine that
// initializes but refuses to become the default RSA provider is fatal.
package backend

import (
	"crypto"
	"errors"
)

var (
	// ErrBackendSelection indicates the hardware engine initialized but could
	// not be configured as the RSA provider. It is not recoverable.
	ErrBackendSelection = errors.New("backend: hardware engine selection failed")

	// ErrKeyLoad indicates the private key could not be loaded
	ErrKeyLoad = errors.New("backend: failed to load private key")

	// ErrReleased indicates the backend was already released
	ErrReleased = errors.New("backend: released")
)

// Kind identifies the key backend
type Kind int

const (
	// KindSoftware keys are parsed from an unencrypted PEM file
	KindSoftware Kind = iota

	// KindHardware keys are resident in the hardware engine
	KindHardware
)

func (k Kind) String() string {
	switch k {
	case KindHardware:
		return "hardware"
	default:
		return "software"
	}
}

// SigningKey is an RSA private key. Sign with crypto.Hash(0) performs the
// PKCS#1 v1.5 private key operation on the raw input and returns exactly
// Size bytes. Close is idempotent.
type SigningKey interface {
	crypto.Signer
	Size() int
	Close() error
}
