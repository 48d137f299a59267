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

package health

import (
	"context"
	"fmt"

	"github.com/jeremyhahn/go-platid/pkg/backend"
	"github.com/jeremyhahn/go-platid/pkg/logging"
	"github.com/jeremyhahn/go-platid/pkg/platid"
	"github.com/spf13/afero"
)

// ConfigCheck reports whether the responder configuration file parses and
// names both the private key and the certificate
func ConfigCheck(fs afero.Fs, path string) CheckFunc {
	return func(ctx context.Context) CheckResult {
		if _, err := platid.LoadConfig(fs, path, logging.Discard()); err != nil {
			return CheckResult{
				Name:    "config",
				Status:  StatusUnhealthy,
				Message: "Responder configuration invalid",
				Error:   err.Error(),
			}
		}
		return CheckResult{
			Name:    "config",
			Status:  StatusHealthy,
			Message: path,
		}
	}
}

// IdentityCheck builds a responder without a transport and reports whether
// it reaches the ready state. A software key is reported as degraded when
// requireHardware is set. Probe responders are not counted in metrics.
func IdentityCheck(opts platid.Options, requireHardware bool) CheckFunc {
	return func(ctx context.Context) CheckResult {
		o := opts
		o.Transport = nil
		o.Unrecorded = true
		r := platid.NewResponder("health-check", &o)
		defer func() { _ = r.Destroy() }()

		if r.State() != platid.StateReady {
			result := CheckResult{
				Name:    "identity",
				Status:  StatusUnhealthy,
				Message: "Responder failed to initialize",
			}
			if err := r.Err(); err != nil {
				result.Error = err.Error()
			}
			return result
		}

		identity := r.Identity()
		kind := identity.Kind()
		status := StatusHealthy
		if requireHardware && kind != backend.KindHardware {
			status = StatusDegraded
		}
		return CheckResult{
			Name:    "identity",
			Status:  status,
			Message: fmt.Sprintf("%s key, %d bytes", kind, identity.Key().Size()),
		}
	}
}
