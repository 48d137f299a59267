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

package signing

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"errors"
	"testing"

	"github.com/jeremyhahn/go-platid/pkg/backend/mocks"
	"github.com/jeremyhahn/go-platid/pkg/backend/software"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newKey(t *testing.T, bits int) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, bits)
	require.NoError(t, err)
	return key
}

func TestSign_RoundTrip(t *testing.T) {
	priv := newKey(t, 1024)
	key := software.NewKey(priv)
	svc := NewService("software")

	for _, n := range []int{1, 2, 16, 20, 64, MaxInputSize(key)} {
		nonce := make([]byte, n)
		_, err := rand.Read(nonce)
		require.NoError(t, err)

		sig, err := svc.Sign(key, nonce)
		require.NoError(t, err, "nonce length %d", n)
		assert.Len(t, sig, key.Size())
		assert.NoError(t, rsa.VerifyPKCS1v15(&priv.PublicKey, crypto.Hash(0), nonce, sig))
	}
}

func TestSign_Deterministic(t *testing.T) {
	key := software.NewKey(newKey(t, 1024))
	nonce := []byte("attestation-nonce")

	svc := NewService("software")
	a, err := svc.Sign(key, nonce)
	require.NoError(t, err)
	b, err := svc.Sign(key, nonce)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestSign_InvalidInput(t *testing.T) {
	svc := NewService("software")

	_, err := svc.Sign(nil, []byte("nonce"))
	assert.ErrorIs(t, err, ErrInvalidInput)

	key := software.NewKey(newKey(t, 1024))
	_, err = svc.Sign(key, nil)
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = svc.Sign(key, []byte{})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestSign_TooLong(t *testing.T) {
	key := software.NewKey(newKey(t, 1024))

	_, err := NewService("software").Sign(key, make([]byte, MaxInputSize(key)+1))
	assert.ErrorIs(t, err, ErrCryptoFailure)
}

func TestSign_PrimitiveFailure(t *testing.T) {
	mock := mocks.NewMockSigningKey(newKey(t, 1024))
	mock.SignFunc = func([]byte, crypto.SignerOpts) ([]byte, error) {
		return nil, errors.New("device busy")
	}

	_, err := NewService("hardware").Sign(mock, []byte("nonce"))
	assert.ErrorIs(t, err, ErrCryptoFailure)
	sign, _ := mock.Calls()
	assert.Equal(t, 1, sign)
}

func TestSign_ShortOutputRejected(t *testing.T) {
	mock := mocks.NewMockSigningKey(newKey(t, 1024))
	mock.SignFunc = func([]byte, crypto.SignerOpts) ([]byte, error) {
		return make([]byte, 10), nil
	}

	_, err := NewService("hardware").Sign(mock, []byte("nonce"))
	assert.ErrorIs(t, err, ErrCryptoFailure)
}

func TestSign_PassesRawHash(t *testing.T) {
	mock := mocks.NewMockSigningKey(newKey(t, 1024))
	var got crypto.Hash = crypto.SHA256
	mock.SignFunc = func(input []byte, opts crypto.SignerOpts) ([]byte, error) {
		got = opts.HashFunc()
		return make([]byte, mock.Key.Size()), nil
	}

	_, err := NewService("hardware").Sign(mock, []byte("nonce"))
	require.NoError(t, err)
	assert.Equal(t, crypto.Hash(0), got)
}
