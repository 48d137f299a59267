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

//go:build tpm_simulator

package tpm2

import (
	"crypto"
	"crypto/rsa"
	"testing"

	"github.com/google/go-tpm/tpm2"
	"github.com/jeremyhahn/go-platid/pkg/engine"
	"github.com/jeremyhahn/go-platid/pkg/logging"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const keyFilePath = "/etc/platid/identity.tpm"

func openSimulatorEngine(t *testing.T, fs afero.Fs) *Engine {
	t.Helper()
	e := NewEngine(&Config{
		Device: DeviceSimulator,
		Fs:     fs,
		Logger: logging.Discard(),
	})
	require.NoError(t, e.Init())
	t.Cleanup(func() { _ = e.Finish() })
	return e
}

// createKeyFile creates an RSA key under a transient SRK protected by the
// well-known secret and writes its blob to fs
func createKeyFile(t *testing.T, e *Engine, fs afero.Fs) {
	t.Helper()
	tpm := e.Transport()

	srk, err := tpm2.CreatePrimary{
		PrimaryHandle: tpm2.AuthHandle{
			Handle: tpm2.TPMRHOwner,
			Auth:   tpm2.PasswordAuth(nil),
		},
		InSensitive: tpm2.TPM2BSensitiveCreate{
			Sensitive: &tpm2.TPMSSensitiveCreate{
				UserAuth: tpm2.TPM2BAuth{Buffer: WellKnownSecret},
			},
		},
		InPublic: tpm2.New2B(tpm2.RSASRKTemplate),
	}.Execute(tpm)
	require.NoError(t, err)
	defer func() {
		_, _ = tpm2.FlushContext{FlushHandle: srk.ObjectHandle}.Execute(tpm)
	}()

	template := tpm2.TPMTPublic{
		Type:    tpm2.TPMAlgRSA,
		NameAlg: tpm2.TPMAlgSHA256,
		ObjectAttributes: tpm2.TPMAObject{
			FixedTPM:            true,
			FixedParent:         true,
			SensitiveDataOrigin: true,
			UserWithAuth:        true,
			Decrypt:             true,
			SignEncrypt:         true,
		},
		Parameters: tpm2.NewTPMUPublicParms(
			tpm2.TPMAlgRSA,
			&tpm2.TPMSRSAParms{
				Scheme:  tpm2.TPMTRSAScheme{Scheme: tpm2.TPMAlgNull},
				KeyBits: 2048,
			},
		),
		Unique: tpm2.NewTPMUPublicID(
			tpm2.TPMAlgRSA,
			&tpm2.TPM2BPublicKeyRSA{Buffer: make([]byte, 256)},
		),
	}

	created, err := tpm2.Create{
		ParentHandle: tpm2.AuthHandle{
			Handle: srk.ObjectHandle,
			Name:   srk.Name,
			Auth:   tpm2.PasswordAuth(WellKnownSecret),
		},
		InPublic: tpm2.New2B(template),
	}.Execute(tpm)
	require.NoError(t, err)

	require.NoError(t, afero.WriteFile(fs, keyFilePath, EncodeKeyFile(created.OutPublic, created.OutPrivate), 0600))
}

func TestEngine_Simulator_SupportsRSA(t *testing.T) {
	e := openSimulatorEngine(t, afero.NewMemMapFs())
	assert.NoError(t, e.SupportsRSA())
}

func TestEngine_Simulator_SignWithKeyFile(t *testing.T) {
	fs := afero.NewMemMapFs()
	e := openSimulatorEngine(t, fs)
	createKeyFile(t, e, fs)

	require.NoError(t, e.Ctrl(engine.CmdUseWellKnownSecret, 0))

	key, err := e.LoadPrivateKey(keyFilePath)
	require.NoError(t, err)
	defer func() { _ = key.Close() }()

	pub, ok := key.Public().(*rsa.PublicKey)
	require.True(t, ok)
	assert.Equal(t, 256, key.Size())

	for _, size := range []int{1, 20, 64, key.Size() - 11} {
		nonce := make([]byte, size)
		for i := range nonce {
			nonce[i] = byte(i + size)
		}
		sig, err := key.Sign(nil, nonce, crypto.Hash(0))
		require.NoError(t, err)
		assert.Len(t, sig, key.Size())
		assert.NoError(t, rsa.VerifyPKCS1v15(pub, crypto.Hash(0), nonce, sig))
	}
}

func TestEngine_Simulator_PersistentHandleMissing(t *testing.T) {
	e := openSimulatorEngine(t, afero.NewMemMapFs())
	_, err := e.LoadPrivateKey("0x81000099")
	assert.ErrorIs(t, err, ErrInvalidKeyLabel)
}
