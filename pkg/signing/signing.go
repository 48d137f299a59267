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

// Package signing produces the platform identity response to a verifier
// nonce: a PKCS#1 v1.5 private key operation over the raw nonce bytes,
// with no digest and no DigestInfo encoding.
package signing

import (
	"crypto"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/jeremyhahn/go-platid/pkg/backend"
	"github.com/jeremyhahn/go-platid/pkg/metrics"
)

// PKCS1v15Overhead is the minimum padding length of a type 1 block
const PKCS1v15Overhead = 11

var (
	// ErrInvalidInput indicates a nil key or an empty nonce
	ErrInvalidInput = errors.New("signing: invalid input")

	// ErrCryptoFailure indicates the private key operation failed or the
	// nonce does not fit the key
	ErrCryptoFailure = errors.New("signing: private key operation failed")
)

// Service signs nonces and records signing metrics under a backend label
type Service struct {
	backend string
	rand    io.Reader
}

// NewService creates a signing service. backendLabel tags metrics.
func NewService(backendLabel string) *Service {
	return &Service{backend: backendLabel, rand: rand.Reader}
}

// MaxInputSize returns the largest nonce key can sign
func MaxInputSize(key backend.SigningKey) int {
	return key.Size() - PKCS1v15Overhead
}

// Sign returns the response block for input. The result is always exactly
// key.Size() bytes.
func (s *Service) Sign(key backend.SigningKey, input []byte) ([]byte, error) {
	if key == nil {
		return nil, fmt.Errorf("%w: no signing key", ErrInvalidInput)
	}
	if len(input) == 0 {
		return nil, fmt.Errorf("%w: empty nonce", ErrInvalidInput)
	}

	start := time.Now()
	sig, err := s.sign(key, input)
	status := metrics.StatusSuccess
	if err != nil {
		status = metrics.StatusError
	}
	metrics.RecordSignature(s.backend, status, time.Since(start).Seconds())
	return sig, err
}

func (s *Service) sign(key backend.SigningKey, input []byte) ([]byte, error) {
	size := key.Size()
	if len(input) > size-PKCS1v15Overhead {
		return nil, fmt.Errorf("%w: nonce of %d bytes exceeds the %d byte limit",
			ErrCryptoFailure, len(input), size-PKCS1v15Overhead)
	}
	sig, err := key.Sign(s.rand, input, crypto.Hash(0))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCryptoFailure, err)
	}
	if len(sig) != size {
		return nil, fmt.Errorf("%w: got %d bytes, want %d", ErrCryptoFailure, len(sig), size)
	}
	return sig, nil
}
