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
	"log/slog"

	"github.com/jeremyhahn/go-platid/internal/config"
	"github.com/jeremyhahn/go-platid/internal/server"
	"github.com/spf13/cobra"
)

func (a *App) serveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the platform identity daemon",
		Long: `Listen for verifier connections and answer each one with the
platform certificate and nonce signatures. SIGHUP rereads --config.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cliCfg := a.config()

			cfg, err := config.LoadFs(a.Fs, cliCfg.ConfigFile, a.logger())
			if err != nil {
				return err
			}
			if cliCfg.PlatIDConfig != "" {
				cfg.PlatID.ConfigFile = cliCfg.PlatIDConfig
			}
			if cliCfg.Verbose {
				cfg.Logging.Level = "debug"
			} else if cliCfg.LogLevel != "" {
				cfg.Logging.Level = cliCfg.LogLevel
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			logger := cfg.Logger()
			logger.Info("Starting platid",
				slog.String("config", cliCfg.ConfigFile),
				slog.String("platid_config", cfg.PlatID.ConfigFile),
				slog.String("version", Version))

			srv, err := server.New(cfg, &server.Options{
				Fs:            a.Fs,
				Registry:      a.Registry,
				EngineFactory: a.engineFactory(logger),
				Logger:        logger,
				ConfigPath:    cliCfg.ConfigFile,
			})
			if err != nil {
				return err
			}
			return srv.Run(cmd.Context())
		},
	}
}
