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

package platid

import (
	"errors"
	"testing"

	"github.com/jeremyhahn/go-platid/pkg/backend"
	"github.com/jeremyhahn/go-platid/pkg/backend/mocks"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJoinCertificateLines(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"trailing newline", "A\nB\nC\n", "A\nB\nC"},
		{"no trailing newline", "A\nB\nC", "A\nB\n"},
		{"trailing blank line", "A\n\n", "A\n"},
		{"single line", "ABC\n", "ABC"},
		{"empty", "", "\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, joinCertificateLines(tt.content))
		})
	}
}

func TestLoadCertificate_Fixture(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/cert.pem",
		[]byte("-----BEGIN-----\nMIIB\n-----END-----\n"), 0644))

	cert, err := LoadCertificate(fs, "/cert.pem")
	require.NoError(t, err)
	assert.Equal(t, "-----BEGIN-----\nMIIB\n-----END-----", cert)
	assert.True(t, len(cert) > 0 && cert[len(cert)-1] != '\n')
}

func TestLoadCertificate_Missing(t *testing.T) {
	_, err := LoadCertificate(afero.NewMemMapFs(), "/missing.pem")
	assert.ErrorIs(t, err, ErrCertificateLoad)
}

func TestIdentityMaterial_CloseOnce(t *testing.T) {
	key := mocks.NewMockSigningKey(nil)
	m := NewIdentityMaterial("cert", key, nil)

	assert.Equal(t, "cert", m.Certificate())
	assert.Equal(t, backend.KindSoftware, m.Kind())

	require.NoError(t, m.Close())
	require.NoError(t, m.Close())
	_, closeCalls := key.Calls()
	assert.Equal(t, 1, closeCalls)
	assert.Nil(t, m.Key())
}

func TestIdentityMaterial_CloseError(t *testing.T) {
	key := mocks.NewMockSigningKey(nil)
	key.CloseFunc = func() error { return errors.New("flush failed") }

	m := NewIdentityMaterial("cert", key, nil)
	assert.Error(t, m.Close())
	assert.NoError(t, m.Close())
}
