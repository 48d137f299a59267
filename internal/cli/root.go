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
	"io"
	"os"

	"github.com/jeremyhahn/go-platid/pkg/engine"
	"github.com/jeremyhahn/go-platid/pkg/logging"
	"github.com/jeremyhahn/go-platid/pkg/platid"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// App carries the collaborators shared by every command. Zero values
// select the OS filesystem, the process-wide engine registry, the TPM 2.0
// engine and the standard streams.
type App struct {
	Fs            afero.Fs
	Registry      *engine.Registry
	EngineFactory platid.EngineFactory
	Out           io.Writer
	Err           io.Writer

	viper *viper.Viper
}

// Execute runs the root command
func Execute() error {
	return (&App{}).RootCommand().Execute()
}

// RootCommand builds the command tree
func (a *App) RootCommand() *cobra.Command {
	if a.Fs == nil {
		a.Fs = afero.NewOsFs()
	}
	if a.Registry == nil {
		a.Registry = engine.Default()
	}
	if a.Out == nil {
		a.Out = os.Stdout
	}
	if a.Err == nil {
		a.Err = os.Stderr
	}

	rootCmd := &cobra.Command{
		Use:   "platid",
		Short: "Platform identity attestation responder",
		Long: `platid proves possession of the private key bound to a platform
certificate by signing the nonce a remote verifier sends. The key may live
in a TPM 2.0 or in a PEM file.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			v, err := newViper(cmd.Flags())
			if err != nil {
				return err
			}
			a.viper = v
			return nil
		},
	}
	rootCmd.SetOut(a.Out)
	rootCmd.SetErr(a.Err)

	flags := rootCmd.PersistentFlags()
	flags.String(KeyConfig, "", "daemon configuration file (YAML)")
	flags.String(KeyPlatIDConfig, "", "responder configuration file (default "+platid.DefaultConfigFile+")")
	flags.StringP(KeyOutput, "o", string(OutputFormatText), "output format (text, json)")
	flags.BoolP(KeyVerbose, "v", false, "verbose output")
	flags.String(KeyLogLevel, "", "log level (debug, info, warn, error)")

	rootCmd.AddCommand(a.versionCommand())
	rootCmd.AddCommand(a.serveCommand())
	rootCmd.AddCommand(a.signCommand())
	rootCmd.AddCommand(a.challengeCommand())
	rootCmd.AddCommand(a.configCommand())
	return rootCmd
}

// config returns the resolved global configuration
func (a *App) config() *Config {
	return configFrom(a.viper)
}

// printer returns a printer for the configured output format
func (a *App) printer() *Printer {
	return NewPrinter(a.config().OutputFormat, a.Out)
}

// logger builds the diagnostic logger, written to the error stream
func (a *App) logger() *logging.Logger {
	cfg := a.config()
	level := cfg.LogLevel
	if cfg.Verbose {
		level = "debug"
	}
	if level == "" {
		level = "warn"
	}
	return logging.New(&logging.Options{Level: level, Writer: a.Err})
}

func (a *App) engineFactory(logger *logging.Logger) platid.EngineFactory {
	if a.EngineFactory != nil {
		return a.EngineFactory
	}
	return platid.TPMEngineFactory(a.Fs, logger)
}
