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

// Package server runs the platform identity daemon: a TCP listener that
// answers each verifier connection with its own responder, and an HTTP
// status endpoint for metrics and health probes.
package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"sync"
	"syscall"
	"time"

	"github.com/jeremyhahn/go-platid/internal/config"
	"github.com/jeremyhahn/go-platid/pkg/engine"
	"github.com/jeremyhahn/go-platid/pkg/health"
	"github.com/jeremyhahn/go-platid/pkg/logging"
	"github.com/jeremyhahn/go-platid/pkg/metrics"
	"github.com/jeremyhahn/go-platid/pkg/platid"
	"github.com/jeremyhahn/go-platid/pkg/ratelimit"
	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// Options supplies the collaborators of a Server. Zero values select the
// OS filesystem, the process-wide engine registry and the TPM 2.0 engine.
type Options struct {
	Fs            afero.Fs
	Registry      *engine.Registry
	EngineFactory platid.EngineFactory
	Logger        *logging.Logger

	// ConfigPath is reread on SIGHUP. Empty disables reloading.
	ConfigPath string
}

// Server represents the platform identity daemon
type Server struct {
	mu            sync.RWMutex
	config        *config.Config
	configPath    string
	fs            afero.Fs
	registry      *engine.Registry
	engineFactory platid.EngineFactory
	logger        *logging.Logger
	tlsConfig     *tls.Config
	healthChecker *health.Checker
	sem           *semaphore.Weighted
	limiter       *ratelimit.Limiter

	listener     net.Listener
	statusLn     net.Listener
	statusServer *http.Server

	connMu  sync.Mutex
	conns   map[string]net.Conn
	closing bool
	wg      sync.WaitGroup
}

// New creates a new daemon instance. Listeners are bound by Listen.
func New(cfg *config.Config, opts *Options) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if opts == nil {
		opts = &Options{}
	}

	s := &Server{
		config:        cfg,
		configPath:    opts.ConfigPath,
		fs:            opts.Fs,
		registry:      opts.Registry,
		engineFactory: opts.EngineFactory,
		logger:        opts.Logger,
		conns:         make(map[string]net.Conn),
	}
	if s.fs == nil {
		s.fs = afero.NewOsFs()
	}
	if s.registry == nil {
		s.registry = engine.Default()
	}
	if s.logger == nil {
		s.logger = cfg.Logger()
	}
	if s.engineFactory == nil {
		s.engineFactory = platid.TPMEngineFactory(s.fs, s.logger)
	}
	if cfg.Server.MaxConnections > 0 {
		s.sem = semaphore.NewWeighted(int64(cfg.Server.MaxConnections))
	}

	tlsConfig, err := cfg.TLS.LoadTLSConfig(s.fs)
	if err != nil {
		return nil, fmt.Errorf("failed to load TLS configuration: %w", err)
	}
	s.tlsConfig = tlsConfig
	s.limiter = ratelimit.New(&cfg.Server.RateLimit)

	s.initializeHealth()
	return s, nil
}

// initializeHealth creates and configures the health checker
func (s *Server) initializeHealth() {
	s.healthChecker = health.NewChecker()
	s.healthChecker.RegisterCheck("config", func(ctx context.Context) health.CheckResult {
		return health.ConfigCheck(s.fs, s.responderConfigPath())(ctx)
	})
	s.healthChecker.RegisterCheck("identity", func(ctx context.Context) health.CheckResult {
		s.mu.RLock()
		requireHardware := s.config.PlatID.RequireHardware
		s.mu.RUnlock()
		return health.IdentityCheck(s.responderOptions(nil), requireHardware)(ctx)
	})
}

// HealthChecker returns the daemon's health checker
func (s *Server) HealthChecker() *health.Checker {
	return s.healthChecker
}

// settings returns a copy of the current configuration. Reload swaps
// s.config, so every read outside the lock goes through here.
func (s *Server) settings() config.Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return *s.config
}

func (s *Server) responderConfigPath() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.config.PlatID.ConfigFile
}

func (s *Server) currentLogger() *logging.Logger {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.logger
}

func (s *Server) responderOptions(sender platid.Sender) platid.Options {
	return platid.Options{
		ConfigPath:    s.responderConfigPath(),
		Fs:            s.fs,
		Registry:      s.registry,
		EngineFactory: s.engineFactory,
		Transport:     sender,
		Logger:        s.currentLogger(),
	}
}

// Listen binds the attestation listener and, when enabled, the status
// listener
func (s *Server) Listen() error {
	cfg := s.settings()

	ln, err := net.Listen("tcp", cfg.Server.Listen)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", cfg.Server.Listen, err)
	}
	if s.tlsConfig != nil {
		ln = tls.NewListener(ln, s.tlsConfig)
	}
	s.listener = ln

	if cfg.Status.Enabled {
		statusLn, err := net.Listen("tcp", cfg.Status.Listen)
		if err != nil {
			_ = ln.Close()
			return fmt.Errorf("failed to listen on %s: %w", cfg.Status.Listen, err)
		}
		s.statusLn = statusLn
		s.statusServer = &http.Server{
			Handler:           s.statusRouter(cfg.Status.Metrics),
			ReadHeaderTimeout: 10 * time.Second,
		}
	}
	return nil
}

// Addr returns the bound attestation address
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// StatusAddr returns the bound status address, or nil when disabled
func (s *Server) StatusAddr() net.Addr {
	if s.statusLn == nil {
		return nil
	}
	return s.statusLn.Addr()
}

// Serve accepts connections until ctx is cancelled, then closes the
// listeners and every open connection and waits for the handlers to
// return. Listen is called first when it has not been.
func (s *Server) Serve(ctx context.Context) error {
	if s.listener == nil {
		if err := s.Listen(); err != nil {
			return err
		}
	}

	metrics.SetEnabled(s.settings().Status.Metrics)
	defer s.limiter.Stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return s.acceptLoop(gctx)
	})
	g.Go(func() error {
		return metrics.NewCollector(metrics.DefaultCollectInterval).Run(gctx)
	})

	if s.statusServer != nil {
		g.Go(func() error {
			s.currentLogger().Info("Starting status server", slog.String("address", s.statusLn.Addr().String()))
			if err := s.statusServer.Serve(s.statusLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("status server: %w", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		s.shutdown()
		return nil
	})

	s.healthChecker.MarkStarted()
	s.currentLogger().Info("Platform identity daemon started",
		slog.String("address", s.listener.Addr().String()),
		slog.String("version", BuildVersion()),
		slog.Bool("tls", s.tlsConfig != nil))

	err := g.Wait()
	s.wg.Wait()
	s.healthChecker.MarkNotStarted()
	s.currentLogger().Info("Platform identity daemon stopped")
	return err
}

func (s *Server) acceptLoop(ctx context.Context) error {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				s.currentLogger().Warn("Temporary accept error", slog.Any("error", err))
				time.Sleep(50 * time.Millisecond)
				continue
			}
			return fmt.Errorf("accept: %w", err)
		}

		if !s.limiter.AllowAddr(conn.RemoteAddr()) {
			s.reject(conn, metrics.ReasonRateLimit)
			continue
		}
		if s.sem != nil && !s.sem.TryAcquire(1) {
			s.reject(conn, metrics.ReasonMaxConnections)
			continue
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			if s.sem != nil {
				defer s.sem.Release(1)
			}
			s.handleConn(conn)
		}()
	}
}

func (s *Server) reject(conn net.Conn, reason string) {
	metrics.RecordRejectedConnection(reason)
	s.currentLogger().Warn("Rejecting verifier connection",
		slog.String("remote", conn.RemoteAddr().String()),
		slog.String("reason", reason))
	_ = conn.Close()
}

func (s *Server) shutdown() {
	logger := s.currentLogger()
	logger.Info("Shutting down platform identity daemon")

	if err := s.listener.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		logger.Error(err)
	}

	if s.statusServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.statusServer.Shutdown(ctx); err != nil {
			logger.Error(err)
		}
	}

	s.connMu.Lock()
	s.closing = true
	for id, conn := range s.conns {
		_ = conn.Close()
		delete(s.conns, id)
	}
	s.connMu.Unlock()
}

// track registers conn for closing at shutdown. It reports false once
// shutdown has begun.
func (s *Server) track(id string, conn net.Conn) bool {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	if s.closing {
		return false
	}
	s.conns[id] = conn
	return true
}

func (s *Server) untrack(id string) {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	delete(s.conns, id)
}

// Run serves until ctx is cancelled or SIGINT/SIGTERM is received. SIGHUP
// reloads the configuration file given in Options.ConfigPath.
func (s *Server) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-hup:
				if s.configPath == "" {
					continue
				}
				cfg, err := config.LoadFs(s.fs, s.configPath, s.currentLogger())
				if err != nil {
					s.currentLogger().Error(err, slog.String("path", s.configPath))
					continue
				}
				if err := s.Reload(cfg); err != nil {
					s.currentLogger().Error(err)
				}
			}
		}
	}()

	return s.Serve(ctx)
}

// BuildVersion retrieves the version from build information
func BuildVersion() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return "dev"
	}

	for _, setting := range info.Settings {
		if setting.Key == "vcs.revision" && setting.Value != "" {
			if len(setting.Value) >= 7 {
				return setting.Value[:7]
			}
			return setting.Value
		}
	}

	if info.Main.Version != "" && info.Main.Version != "(devel)" {
		return info.Main.Version
	}

	return "dev"
}
