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
	"fmt"
	"strings"
	"sync"

	"github.com/jeremyhahn/go-platid/pkg/backend"
	"github.com/spf13/afero"
)

// LoadCertificate reads the certificate file at path.
//
// Every line of the file is appended followed by a newline, counting the
// empty line after a final newline, and the last two bytes are dropped. For
// a file ending in a newline this removes the trailing blank line; for a
// file without one the last character of the final line is lost.
func LoadCertificate(fs afero.Fs, path string) (string, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrCertificateLoad, err)
	}
	return joinCertificateLines(string(data)), nil
}

func joinCertificateLines(content string) string {
	var sb strings.Builder
	for _, line := range strings.Split(content, "\n") {
		sb.WriteString(line)
		sb.WriteByte('\n')
	}
	text := sb.String()
	if len(text) < 2 {
		return text
	}
	return text[:len(text)-2]
}

// IdentityMaterial is the certificate and private key a responder proves
// possession of. It owns the key and the backend and releases both once.
type IdentityMaterial struct {
	certificate string
	key         backend.SigningKey
	backend     *backend.Backend
	kind        backend.Kind
	once        sync.Once
}

// NewIdentityMaterial takes ownership of key and b
func NewIdentityMaterial(certificate string, key backend.SigningKey, b *backend.Backend) *IdentityMaterial {
	m := &IdentityMaterial{
		certificate: certificate,
		key:         key,
		backend:     b,
	}
	if b != nil {
		m.kind = b.Kind()
	}
	return m
}

// Certificate returns the certificate text sent during the handshake
func (m *IdentityMaterial) Certificate() string {
	return m.certificate
}

// Key returns the signing key
func (m *IdentityMaterial) Key() backend.SigningKey {
	return m.key
}

// Kind returns the backend the key was loaded from
func (m *IdentityMaterial) Kind() backend.Kind {
	return m.kind
}

// Close releases the key and then the backend. Later calls do nothing.
func (m *IdentityMaterial) Close() error {
	var errs []error
	m.once.Do(func() {
		if m.key != nil {
			if err := m.key.Close(); err != nil {
				errs = append(errs, err)
			}
			m.key = nil
		}
		if m.backend != nil {
			if err := m.backend.Release(); err != nil {
				errs = append(errs, err)
			}
			m.backend = nil
		}
	})
	return errors.Join(errs...)
}
