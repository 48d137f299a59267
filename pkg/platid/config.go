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
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"

	"github.com/jeremyhahn/go-platid/pkg/logging"
	"github.com/jeremyhahn/go-platid/pkg/validation"
	"github.com/spf13/afero"
)

// Configuration keys
const (
	KeyUseWKS          = "use_wks"
	KeyPrivateKeyFile  = "private_key_file"
	KeyCertificateFile = "certificate_file"
	KeyEngine          = "engine"
	KeyTPMDevice       = "tpm_device"
	KeySRKHandle       = "srk_handle"
)

const (
	// DefaultConfigFile is the responder configuration path
	DefaultConfigFile = "/etc/tnc/platid.conf"

	// DefaultEngine is the hardware engine identifier
	DefaultEngine = "tpm2"

	// DefaultTPMDevice is the TPM resource manager device
	DefaultTPMDevice = "/dev/tpmrm0"

	// DefaultSRKHandle is the persistent parent handle for key blob files
	DefaultSRKHandle uint32 = 0x81000001
)

// Config is the responder configuration.
//
// The file holds one "key value" pair per line. Blank lines and lines
// starting with '#' are ignored. The value is the rest of the line after
// the first run of whitespace.
//
//	use_wks          yes
//	private_key_file /etc/tnc/platid/key.tpm
//	certificate_file /etc/tnc/platid/cert.pem
type Config struct {
	// UseWellKnownSecret authorizes the hardware parent key with the
	// manufacturer default secret. Any value starting with "yes" enables
	// it, so "use_wks yes # tpm" does too.
	UseWellKnownSecret bool

	// PrivateKeyFile is the software PEM key path or hardware key label
	PrivateKeyFile string

	// CertificateFile is the PEM certificate sent during the handshake
	CertificateFile string

	// Engine is the hardware engine identifier
	Engine string

	// TPMDevice is the TPM device the hardware engine opens
	TPMDevice string

	// SRKHandle is the parent handle the hardware engine loads key files under
	SRKHandle uint32
}

// DefaultConfig returns a configuration with defaults for the optional keys
func DefaultConfig() *Config {
	return &Config{
		Engine:    DefaultEngine,
		TPMDevice: DefaultTPMDevice,
		SRKHandle: DefaultSRKHandle,
	}
}

// LoadConfig reads and validates the configuration file at path
func LoadConfig(fs afero.Fs, path string, logger *logging.Logger) (*Config, error) {
	f, err := fs.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfig, err)
	}
	defer func() { _ = f.Close() }()

	cfg, err := ParseConfig(f, logger)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ParseConfig parses configuration lines. Unknown keys are logged and
// ignored. The result is not validated.
func ParseConfig(r io.Reader, logger *logging.Logger) (*Config, error) {
	if logger == nil {
		logger = logging.DefaultLogger()
	}
	cfg := DefaultConfig()

	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		key, value := line, ""
		if i := strings.IndexAny(line, " \t"); i >= 0 {
			key, value = line[:i], strings.TrimSpace(line[i:])
		}

		switch key {
		case KeyUseWKS:
			cfg.UseWellKnownSecret = strings.HasPrefix(value, "yes")
		case KeyPrivateKeyFile:
			cfg.PrivateKeyFile = value
		case KeyCertificateFile:
			cfg.CertificateFile = value
		case KeyEngine:
			if value != "" {
				cfg.Engine = value
			}
		case KeyTPMDevice:
			if value != "" {
				cfg.TPMDevice = value
			}
		case KeySRKHandle:
			handle, err := strconv.ParseUint(value, 0, 32)
			if err != nil {
				return nil, fmt.Errorf("%w: line %d: invalid %s %q", ErrConfig, lineNo, KeySRKHandle, value)
			}
			cfg.SRKHandle = uint32(handle)
		default:
			logger.Warn("Unknown configuration key",
				slog.String("key", validation.SanitizeForLog(key)),
				slog.Int("line", lineNo))
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfig, err)
	}
	return cfg, nil
}

// Validate checks that both required paths are present and that every
// path and the engine identifier is well formed
func (c *Config) Validate() error {
	if c.PrivateKeyFile == "" {
		return fmt.Errorf("%w: %s is required", ErrConfig, KeyPrivateKeyFile)
	}
	if c.CertificateFile == "" {
		return fmt.Errorf("%w: %s is required", ErrConfig, KeyCertificateFile)
	}
	for key, path := range map[string]string{
		KeyPrivateKeyFile:  c.PrivateKeyFile,
		KeyCertificateFile: c.CertificateFile,
		KeyTPMDevice:       c.TPMDevice,
	} {
		if err := validation.ValidatePath(path); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrConfig, key, err)
		}
	}
	if err := validation.ValidateEngineID(c.Engine); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrConfig, KeyEngine, err)
	}
	return nil
}
