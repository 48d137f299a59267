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
	"fmt"

	"github.com/jeremyhahn/go-platid/internal/config"
	"github.com/jeremyhahn/go-platid/pkg/platid"
	"github.com/spf13/cobra"
)

func (a *App) configCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect configuration files",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "check",
		Short: "Parse and validate the responder configuration",
		Long: `Parse --platid-config and report its effective values. When --config
is given the daemon configuration is validated too.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cliCfg := a.config()
			logger := a.logger()

			if cliCfg.ConfigFile != "" {
				if _, err := config.LoadFs(a.Fs, cliCfg.ConfigFile, logger); err != nil {
					return err
				}
			}

			path := cliCfg.PlatIDConfig
			if path == "" {
				path = platid.DefaultConfigFile
			}
			cfg, err := platid.LoadConfig(a.Fs, path, logger)
			if err != nil {
				return fmt.Errorf("%s: %w", path, err)
			}
			return a.printer().PrintConfig(path, cfg)
		},
	})
	return cmd
}
