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
	"bytes"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"testing"

	"github.com/google/go-tpm/tpm2"
	"github.com/jeremyhahn/go-platid/pkg/engine"
	"github.com/jeremyhahn/go-platid/pkg/logging"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPadPKCS1Type1(t *testing.T) {
	msg := []byte("nonce")
	em, err := padPKCS1Type1(msg, 64)
	require.NoError(t, err)
	require.Len(t, em, 64)

	assert.Equal(t, byte(0x00), em[0])
	assert.Equal(t, byte(0x01), em[1])
	psEnd := 64 - len(msg) - 1
	for i := 2; i < psEnd; i++ {
		assert.Equal(t, byte(0xff), em[i], "padding byte %d", i)
	}
	assert.Equal(t, byte(0x00), em[psEnd])
	assert.Equal(t, msg, em[psEnd+1:])
}

func TestPadPKCS1Type1_Limits(t *testing.T) {
	_, err := padPKCS1Type1(make([]byte, 53), 64)
	assert.NoError(t, err)

	_, err = padPKCS1Type1(make([]byte, 54), 64)
	assert.ErrorIs(t, err, ErrMessageTooLong)
}

func TestLeftPad(t *testing.T) {
	out, err := leftPad([]byte{0x01, 0x02}, 4)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x00, 0x00, 0x01, 0x02}, out)

	same := []byte{1, 2, 3, 4}
	out, err = leftPad(same, 4)
	require.NoError(t, err)
	assert.Equal(t, same, out)

	_, err = leftPad(make([]byte, 5), 4)
	assert.Error(t, err)
}

func TestParseHandle(t *testing.T) {
	tests := []struct {
		label  string
		handle tpm2.TPMHandle
		ok     bool
	}{
		{"0x81000002", 0x81000002, true},
		{"0X81010001", 0x81010001, true},
		{"/etc/platid/key.tpm", 0, false},
		{"0xzz", 0, false},
		{"81000002", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.label, func(t *testing.T) {
			handle, ok := parseHandle(tt.label)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.handle, handle)
		})
	}
}

func TestDecodeKeyFile_Invalid(t *testing.T) {
	_, _, err := DecodeKeyFile([]byte("not pem"))
	assert.ErrorIs(t, err, ErrInvalidKeyFile)

	onlyPublic := EncodeKeyFile(tpm2.New2B(tpm2.RSASRKTemplate), tpm2.TPM2BPrivate{Buffer: []byte{1, 2, 3}})
	idx := bytes.Index(onlyPublic, []byte("-----BEGIN "+PEMTypePrivate))
	require.Greater(t, idx, 0)
	_, _, err = DecodeKeyFile(onlyPublic[:idx])
	assert.ErrorIs(t, err, ErrInvalidKeyFile)
}

func TestEncodeDecodeKeyFile(t *testing.T) {
	public := tpm2.New2B(tpm2.RSASRKTemplate)
	private := tpm2.TPM2BPrivate{Buffer: []byte{0xde, 0xad, 0xbe, 0xef}}

	pub, priv, err := DecodeKeyFile(EncodeKeyFile(public, private))
	require.NoError(t, err)
	assert.Equal(t, private.Buffer, priv.Buffer)

	contents, err := pub.Contents()
	require.NoError(t, err)
	assert.Equal(t, tpm2.TPMAlgRSA, contents.Type)
}

func TestRSAPublic_NotRSA(t *testing.T) {
	_, err := rsaPublic(tpm2.New2B(tpm2.ECCSRKTemplate))
	assert.ErrorIs(t, err, ErrNotRSAKey)
}

func newTestEngine() *Engine {
	return NewEngine(&Config{
		Device: "/nonexistent/tpm0",
		Fs:     afero.NewMemMapFs(),
		Logger: logging.Discard(),
	})
}

func TestEngine_Defaults(t *testing.T) {
	e := NewEngine(nil)
	assert.Equal(t, EngineID, e.ID())
	assert.Equal(t, DefaultDevice, e.config.Device)
	assert.Equal(t, DefaultParentHandle, e.config.ParentHandle)
	assert.Nil(t, e.Transport())
}

func TestEngine_InitMissingDevice(t *testing.T) {
	e := newTestEngine()
	err := e.Init()
	assert.ErrorIs(t, err, ErrOpeningDevice)
	assert.Nil(t, e.Transport())
}

func TestEngine_NotInitialized(t *testing.T) {
	e := newTestEngine()

	assert.ErrorIs(t, e.SupportsRSA(), ErrNotInitialized)

	_, err := e.LoadPrivateKey("0x81000002")
	assert.ErrorIs(t, err, ErrNotInitialized)

	assert.NoError(t, e.Finish())
}

func TestEngine_Ctrl(t *testing.T) {
	e := newTestEngine()

	require.NoError(t, e.Ctrl(engine.CmdUseWellKnownSecret, 0))
	assert.Equal(t, WellKnownSecret, e.parentAuth)

	err := e.Ctrl(engine.Command(99), 0)
	assert.ErrorIs(t, err, engine.ErrUnsupportedCommand)
}

func TestFactory_MissingDevice(t *testing.T) {
	registry := engine.NewRegistry()
	registry.Register("tpm-test", Factory(&Config{ID: "tpm-test", Device: "/nonexistent/tpm0", Logger: logging.Discard()}))

	_, err := registry.Acquire("tpm-test")
	assert.ErrorIs(t, err, engine.ErrEngineInit)
	assert.True(t, registry.Cleanup())
}

func TestKey_SignRejectsHash(t *testing.T) {
	e := newTestEngine()
	key := &Key{engine: e, public: testPublicKey(t)}

	_, err := key.Sign(nil, make([]byte, 32), crypto.SHA256)
	assert.ErrorIs(t, err, ErrUnsupportedHash)

	_, err = key.Sign(nil, make([]byte, key.Size()), crypto.Hash(0))
	assert.ErrorIs(t, err, ErrMessageTooLong)

	_, err = key.Sign(nil, []byte("nonce"), crypto.Hash(0))
	assert.ErrorIs(t, err, ErrNotInitialized)
}

func TestKey_CloseOnce(t *testing.T) {
	e := newTestEngine()
	key := &Key{engine: e, public: testPublicKey(t), transient: true}

	assert.NoError(t, key.Close())
	assert.NoError(t, key.Close())

	_, err := key.Sign(nil, []byte("nonce"), crypto.Hash(0))
	assert.ErrorIs(t, err, ErrKeyClosed)
}

func testPublicKey(t *testing.T) *rsa.PublicKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 1024)
	require.NoError(t, err)
	return &key.PublicKey
}
