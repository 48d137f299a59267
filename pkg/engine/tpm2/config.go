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
	"github.com/google/go-tpm/tpm2/transport"
	"github.com/jeremyhahn/go-platid/pkg/logging"
	"github.com/spf13/afero"
)

const (
	// EngineID is the identifier the TPM engine registers under by default
	EngineID = "tpm2"

	// DefaultDevice is the kernel resource manager device
	DefaultDevice = "/dev/tpmrm0"

	// DeviceSimulator selects the in-process simulator (tpm_simulator build tag)
	DeviceSimulator = "simulator"

	// DefaultParentHandle is the persistent Storage Root Key handle
	DefaultParentHandle uint32 = 0x81000001
)

// WellKnownSecret is the manufacturer default authorization value: 20 zero bytes
var WellKnownSecret = make([]byte, 20)

// Config holds the configuration for the TPM engine
type Config struct {
	// ID is the registry identifier (default: "tpm2")
	ID string

	// Device is the TPM device path, a ".sock" resource manager socket,
	// or "simulator"
	Device string

	// ParentHandle is the persistent handle of the parent storage key used
	// to load key blob files. A transient primary is created from the
	// standard SRK template when the handle is not populated.
	ParentHandle uint32

	// Fs is the filesystem key blob files are read from
	Fs afero.Fs

	// Logger is the logger instance to use
	Logger *logging.Logger

	// Transport, when set, is used instead of opening Device and is never
	// closed by the engine
	Transport transport.TPM
}

// SetDefaults fills unset fields
func (c *Config) SetDefaults() {
	if c.ID == "" {
		c.ID = EngineID
	}
	if c.Device == "" {
		c.Device = DefaultDevice
	}
	if c.ParentHandle == 0 {
		c.ParentHandle = DefaultParentHandle
	}
	if c.Fs == nil {
		c.Fs = afero.NewOsFs()
	}
	if c.Logger == nil {
		c.Logger = logging.DefaultLogger()
	}
}
