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
	"github.com/jeremyhahn/go-platid/pkg/engine"
	"github.com/jeremyhahn/go-platid/pkg/engine/tpm2"
	"github.com/jeremyhahn/go-platid/pkg/logging"
	"github.com/spf13/afero"
)

// TPMEngineFactory returns an EngineFactory for the TPM 2.0 engine using
// the configured engine identifier, device and parent handle
func TPMEngineFactory(fs afero.Fs, logger *logging.Logger) EngineFactory {
	return func(cfg *Config) engine.Factory {
		return tpm2.Factory(&tpm2.Config{
			ID:           cfg.Engine,
			Device:       cfg.TPMDevice,
			ParentHandle: cfg.SRKHandle,
			Fs:           fs,
			Logger:       logger,
		})
	}
}
