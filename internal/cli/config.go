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

package cli

import (
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable bound to a flag
const EnvPrefix = "PLATID"

// Flag and configuration keys
const (
	KeyConfig       = "config"
	KeyPlatIDConfig = "platid-config"
	KeyOutput       = "output"
	KeyVerbose      = "verbose"
	KeyLogLevel     = "log-level"
)

// Config holds global CLI configuration
type Config struct {
	// ConfigFile is the daemon YAML configuration
	ConfigFile string

	// PlatIDConfig is the responder line configuration file
	PlatIDConfig string

	// OutputFormat controls output formatting (json, text)
	OutputFormat string

	// Verbose enables debug logging
	Verbose bool

	// LogLevel overrides the daemon logging level
	LogLevel string
}

// NewConfig creates a new Config with default values
func NewConfig() *Config {
	return &Config{
		OutputFormat: string(OutputFormatText),
	}
}

// newViper binds flags to PLATID_ prefixed environment variables, so that
// --platid-config may be given as PLATID_PLATID_CONFIG
func newViper(flags *pflag.FlagSet) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if err := v.BindPFlags(flags); err != nil {
		return nil, err
	}
	return v, nil
}

// configFrom resolves the flag, environment and default values
func configFrom(v *viper.Viper) *Config {
	cfg := NewConfig()
	cfg.ConfigFile = v.GetString(KeyConfig)
	cfg.PlatIDConfig = v.GetString(KeyPlatIDConfig)
	if output := v.GetString(KeyOutput); output != "" {
		cfg.OutputFormat = output
	}
	cfg.Verbose = v.GetBool(KeyVerbose)
	cfg.LogLevel = v.GetString(KeyLogLevel)
	return cfg
}
