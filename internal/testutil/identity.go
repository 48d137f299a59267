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

// Package testutil generates platform identity fixtures and TLS
// certificates for tests.
package testutil

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"math/big"
	"os"
	"path"
	"time"

	"github.com/spf13/afero"
)

// Identity is a generated platform identity written to a filesystem
type Identity struct {
	// Key is the RSA private key
	Key *rsa.PrivateKey
	// KeyPEM is the PKCS#1 PEM encoded private key
	KeyPEM []byte
	// CertPEM is the self-signed PEM encoded platform certificate
	CertPEM []byte
	// ConfigPath, KeyPath and CertPath locate the written files
	ConfigPath string
	KeyPath    string
	CertPath   string
}

// CertificateText returns the certificate as the responder sends it:
// the PEM with its final newline removed
func (id *Identity) CertificateText() string {
	text := string(id.CertPEM)
	return text[:len(text)-1]
}

// WriteIdentity generates a key and a certificate and writes them together
// with a responder configuration file under dir
//
// Example:
//
//	fs := afero.NewMemMapFs()
//	id, err := testutil.WriteIdentity(fs, "/etc/tnc", 1024)
//	if err != nil {
//	    t.Fatalf("Failed to write identity: %v", err)
//	}
func WriteIdentity(fs afero.Fs, dir string, bits int) (*Identity, error) {
	key, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		return nil, fmt.Errorf("failed to generate key: %w", err)
	}

	certDER, err := selfSigned(key, "platid test platform", x509.KeyUsageDigitalSignature, nil)
	if err != nil {
		return nil, err
	}

	id := &Identity{
		Key:        key,
		KeyPEM:     pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)}),
		CertPEM:    pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: certDER}),
		ConfigPath: path.Join(dir, "platid.conf"),
		KeyPath:    path.Join(dir, "platid", "key.pem"),
		CertPath:   path.Join(dir, "platid", "cert.pem"),
	}

	config := fmt.Sprintf("# generated\nprivate_key_file %s\ncertificate_file %s\n", id.KeyPath, id.CertPath)

	if err := fs.MkdirAll(path.Join(dir, "platid"), 0755); err != nil {
		return nil, err
	}
	for _, f := range []struct {
		path string
		data []byte
		mode os.FileMode
	}{
		{id.KeyPath, id.KeyPEM, 0600},
		{id.CertPath, id.CertPEM, 0644},
		{id.ConfigPath, []byte(config), 0644},
	} {
		if err := afero.WriteFile(fs, f.path, f.data, f.mode); err != nil {
			return nil, fmt.Errorf("failed to write %s: %w", f.path, err)
		}
	}
	return id, nil
}

// GenerateTLSCert generates a self-signed ECDSA server certificate
func GenerateTLSCert(dnsNames ...string) (certPEM, keyPEM []byte, cert tls.Certificate, err error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, nil, tls.Certificate{}, fmt.Errorf("failed to generate key: %w", err)
	}
	if len(dnsNames) == 0 {
		dnsNames = []string{"localhost"}
	}

	certDER, err := selfSigned(key, dnsNames[0], x509.KeyUsageDigitalSignature, dnsNames)
	if err != nil {
		return nil, nil, tls.Certificate{}, err
	}
	keyBytes, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		return nil, nil, tls.Certificate{}, fmt.Errorf("failed to marshal key: %w", err)
	}

	certPEM = pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: certDER})
	keyPEM = pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyBytes})
	cert, err = tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		return nil, nil, tls.Certificate{}, fmt.Errorf("failed to create TLS certificate: %w", err)
	}
	return certPEM, keyPEM, cert, nil
}

func selfSigned(key crypto.Signer, commonName string, usage x509.KeyUsage, dnsNames []string) ([]byte, error) {
	serialNumber, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, fmt.Errorf("failed to generate serial number: %w", err)
	}

	notBefore := time.Now()
	template := &x509.Certificate{
		SerialNumber: serialNumber,
		Subject: pkix.Name{
			Organization: []string{"go-platid"},
			CommonName:   commonName,
		},
		DNSNames:              dnsNames,
		NotBefore:             notBefore,
		NotAfter:              notBefore.Add(24 * time.Hour),
		KeyUsage:              usage,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
		BasicConstraintsValid: true,
	}

	der, err := x509.CreateCertificate(rand.Reader, template, template, key.Public(), key)
	if err != nil {
		return nil, fmt.Errorf("failed to create certificate: %w", err)
	}
	return der, nil
}
