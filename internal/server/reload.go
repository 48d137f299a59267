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

package server

import (
	"fmt"
	"log/slog"

	"github.com/jeremyhahn/go-platid/internal/config"
)

// Reload applies a new configuration without restarting. Logging, the
// responder configuration path, the read timeout and the hardware
// requirement take effect for new connections and probes. Listener, TLS,
// rate limit and connection limit changes require a restart.
func (s *Server) Reload(cfg *config.Config) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.logger.Info("Reloading daemon configuration...")

	if cfg.Server.Listen != s.config.Server.Listen || cfg.Status.Listen != s.config.Status.Listen {
		s.logger.Warn("Listener changes require a restart",
			slog.String("listen", s.config.Server.Listen),
			slog.String("status_listen", s.config.Status.Listen))
		cfg.Server.Listen = s.config.Server.Listen
		cfg.Status = s.config.Status
	}
	cfg.Server.MaxConnections = s.config.Server.MaxConnections
	cfg.Server.RateLimit = s.config.Server.RateLimit
	cfg.TLS = s.config.TLS

	s.reloadLogging(cfg)
	s.config = cfg

	s.logger.Info("Daemon configuration reloaded",
		slog.String("platid_config", cfg.PlatID.ConfigFile))
	return nil
}

// reloadLogging updates the logging configuration
func (s *Server) reloadLogging(cfg *config.Config) {
	if cfg.Logging.Level == s.config.Logging.Level &&
		cfg.Logging.Format == s.config.Logging.Format {
		return
	}

	s.logger.Info("Updating logging configuration",
		slog.String("old_level", s.config.Logging.Level),
		slog.String("new_level", cfg.Logging.Level),
		slog.String("old_format", s.config.Logging.Format),
		slog.String("new_format", cfg.Logging.Format))

	s.logger = cfg.Logger()
}
