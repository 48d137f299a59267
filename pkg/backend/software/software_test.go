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

package software

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/youmark/pkcs8"
)

func generateRSA(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	return key
}

func TestLoadKey_PKCS1(t *testing.T) {
	key := generateRSA(t)
	fs := afero.NewMemMapFs()
	data := pem.EncodeToMemory(&pem.Block{Type: pemTypePKCS1, Bytes: x509.MarshalPKCS1PrivateKey(key)})
	require.NoError(t, afero.WriteFile(fs, "/keys/platid.pem", data, 0600))

	loaded, err := LoadKey(fs, "/keys/platid.pem")
	require.NoError(t, err)
	assert.Equal(t, 256, loaded.Size())
	assert.True(t, key.PublicKey.Equal(loaded.Public()))
}

func TestLoadKey_PKCS8(t *testing.T) {
	key := generateRSA(t)
	der, err := pkcs8.MarshalPrivateKey(key, nil, nil)
	require.NoError(t, err)

	fs := afero.NewMemMapFs()
	data := pem.EncodeToMemory(&pem.Block{Type: pemTypePKCS8, Bytes: der})
	require.NoError(t, afero.WriteFile(fs, "/keys/platid.pem", data, 0600))

	loaded, err := LoadKey(fs, "/keys/platid.pem")
	require.NoError(t, err)
	assert.True(t, key.PublicKey.Equal(loaded.Public()))
}

func TestLoadKey_MissingFile(t *testing.T) {
	_, err := LoadKey(afero.NewMemMapFs(), "/keys/missing.pem")
	assert.Error(t, err)
}

func TestParseKey_Errors(t *testing.T) {
	ecKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	ecDER, err := x509.MarshalPKCS8PrivateKey(ecKey)
	require.NoError(t, err)

	encrypted, err := pkcs8.MarshalPrivateKey(generateRSA(t), []byte("secret"), nil)
	require.NoError(t, err)

	tests := []struct {
		name string
		data []byte
		err  error
	}{
		{"not pem", []byte("garbage"), ErrNoPEMBlock},
		{"encrypted pkcs8", pem.EncodeToMemory(&pem.Block{Type: pemTypeEncrypted, Bytes: encrypted}), ErrEncryptedKey},
		{"legacy encrypted", pem.EncodeToMemory(&pem.Block{
			Type:    pemTypePKCS1,
			Headers: map[string]string{"Proc-Type": "4,ENCRYPTED", "DEK-Info": "AES-128-CBC,00"},
			Bytes:   []byte{0x00},
		}), ErrEncryptedKey},
		{"certificate", pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: []byte{0x00}}), ErrUnsupportedBlock},
		{"ecdsa", pem.EncodeToMemory(&pem.Block{Type: pemTypePKCS8, Bytes: ecDER}), ErrNotRSAKey},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseKey(tt.data)
			assert.ErrorIs(t, err, tt.err)
		})
	}
}

func TestKey_Sign(t *testing.T) {
	key := NewKey(generateRSA(t))
	pub := key.Public().(*rsa.PublicKey)

	nonce := []byte("0123456789abcdef0123")
	sig, err := key.Sign(nil, nonce, crypto.Hash(0))
	require.NoError(t, err)
	assert.Len(t, sig, key.Size())
	assert.NoError(t, rsa.VerifyPKCS1v15(pub, crypto.Hash(0), nonce, sig))

	_, err = key.Sign(nil, nonce, crypto.SHA256)
	assert.ErrorIs(t, err, ErrUnsupportedHash)

	_, err = key.Sign(nil, make([]byte, key.Size()-10), crypto.Hash(0))
	assert.Error(t, err)
}

func TestKey_Close(t *testing.T) {
	key := NewKey(generateRSA(t))
	require.NoError(t, key.Close())
	require.NoError(t, key.Close())

	_, err := key.Sign(nil, []byte("nonce"), crypto.Hash(0))
	assert.ErrorIs(t, err, ErrKeyClosed)
}
