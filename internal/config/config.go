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

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/jeremyhahn/go-platid/pkg/logging"
	"github.com/jeremyhahn/go-platid/pkg/platid"
	"github.com/jeremyhahn/go-platid/pkg/ratelimit"
	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"
)

const (
	DefaultListen       = ":9443"
	DefaultStatusListen = "127.0.0.1:9444"
	DefaultReadTimeout  = 30 * time.Second
	DefaultMaxConns     = 256
)

// Config represents the complete daemon configuration
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Status  StatusConfig  `yaml:"status"`
	Logging LoggingConfig `yaml:"logging"`
	TLS     TLSConfig     `yaml:"tls"`
	PlatID  PlatIDConfig  `yaml:"platid"`
}

// ServerConfig contains the attestation listener settings
type ServerConfig struct {
	Listen string `yaml:"listen"`

	// ReadTimeout bounds the wait for the next verifier frame. Zero
	// disables the deadline.
	ReadTimeout time.Duration `yaml:"read_timeout"`

	// MaxConnections limits concurrently served verifiers
	MaxConnections int `yaml:"max_connections"`

	// RateLimit bounds how often one verifier address may connect
	RateLimit ratelimit.Config `yaml:"rate_limit"`
}

// StatusConfig controls the HTTP status endpoint
type StatusConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
	Metrics bool   `yaml:"metrics"`
}

// LoggingConfig controls logging behavior
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// PlatIDConfig locates the responder configuration
type PlatIDConfig struct {
	ConfigFile string `yaml:"config_file"`

	// RequireHardware reports the readiness check as degraded when the
	// identity key is a software key
	RequireHardware bool `yaml:"require_hardware"`
}

// Default returns the configuration used when no file is given
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Listen:         DefaultListen,
			ReadTimeout:    DefaultReadTimeout,
			MaxConnections: DefaultMaxConns,
		},
		Status: StatusConfig{
			Enabled: true,
			Listen:  DefaultStatusListen,
			Metrics: true,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: logging.FormatText,
		},
		PlatID: PlatIDConfig{
			ConfigFile: platid.DefaultConfigFile,
		},
	}
}

// Load reads configuration from a YAML file and applies environment variable overrides
func Load(path string) (*Config, error) {
	return LoadFs(afero.NewOsFs(), path, nil)
}

// LoadFs reads the YAML file at path from fs. Values missing from the file
// keep their defaults. An empty path yields the defaults with environment
// overrides applied.
func LoadFs(fs afero.Fs, path string, logger *logging.Logger) (*Config, error) {
	if logger == nil {
		logger = logging.DefaultLogger()
	}

	cfg := Default()
	if path != "" {
		data, err := afero.ReadFile(fs, path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(cfg, logger)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides to the configuration
func applyEnvOverrides(cfg *Config, logger *logging.Logger) {
	if listen := os.Getenv("PLATID_LISTEN"); listen != "" {
		cfg.Server.Listen = listen
	}
	if listen := os.Getenv("PLATID_STATUS_LISTEN"); listen != "" {
		cfg.Status.Listen = listen
	}
	if enabled := os.Getenv("PLATID_STATUS_ENABLED"); enabled != "" {
		v, err := strconv.ParseBool(enabled)
		if err != nil {
			logger.Warnf("Invalid PLATID_STATUS_ENABLED value %q, using %t: %v",
				enabled, cfg.Status.Enabled, err)
		} else {
			cfg.Status.Enabled = v
		}
	}
	if timeout := os.Getenv("PLATID_READ_TIMEOUT"); timeout != "" {
		d, err := time.ParseDuration(timeout)
		if err != nil {
			logger.Warnf("Invalid PLATID_READ_TIMEOUT value %q, using %s: %v",
				timeout, cfg.Server.ReadTimeout, err)
		} else {
			cfg.Server.ReadTimeout = d
		}
	}

	// Logging
	if level := os.Getenv("PLATID_LOG_LEVEL"); level != "" {
		cfg.Logging.Level = level
	}
	if format := os.Getenv("PLATID_LOG_FORMAT"); format != "" {
		cfg.Logging.Format = format
	}

	if file := os.Getenv("PLATID_CONFIG_FILE"); file != "" {
		cfg.PlatID.ConfigFile = file
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Listen == "" {
		return fmt.Errorf("server listen address must be specified")
	}
	if c.Server.ReadTimeout < 0 {
		return fmt.Errorf("invalid read timeout: %s", c.Server.ReadTimeout)
	}
	if c.Server.MaxConnections < 0 {
		return fmt.Errorf("invalid max connections: %d", c.Server.MaxConnections)
	}
	if c.Server.RateLimit.Enabled && c.Server.RateLimit.ConnectionsPerMinute <= 0 {
		return fmt.Errorf("rate_limit connections_per_minute must be positive when enabled")
	}
	if c.Status.Enabled && c.Status.Listen == "" {
		return fmt.Errorf("status listen address is required when status is enabled")
	}

	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}

	switch strings.ToLower(c.Logging.Format) {
	case logging.FormatText, logging.FormatJSON:
	default:
		return fmt.Errorf("invalid log format: %s (must be json or text)", c.Logging.Format)
	}

	if c.TLS.Enabled {
		if c.TLS.CertFile == "" {
			return fmt.Errorf("TLS cert_file is required when TLS is enabled")
		}
		if c.TLS.KeyFile == "" {
			return fmt.Errorf("TLS key_file is required when TLS is enabled")
		}
	}

	if c.PlatID.ConfigFile == "" {
		return fmt.Errorf("platid config_file must be specified")
	}

	return nil
}

// Logger builds the logger described by the logging section
func (c *Config) Logger() *logging.Logger {
	return logging.New(&logging.Options{
		Level:  c.Logging.Level,
		Format: c.Logging.Format,
	})
}
