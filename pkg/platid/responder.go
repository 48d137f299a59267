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
	"fmt"
	"log/slog"
	"sync"

	"github.com/jeremyhahn/go-platid/pkg/backend"
	"github.com/jeremyhahn/go-platid/pkg/engine"
	"github.com/jeremyhahn/go-platid/pkg/logging"
	"github.com/jeremyhahn/go-platid/pkg/metrics"
	"github.com/jeremyhahn/go-platid/pkg/signing"
	"github.com/jeremyhahn/go-platid/pkg/transport"
	"github.com/spf13/afero"
)

// EngineFactory builds the hardware engine factory for a parsed configuration
type EngineFactory func(cfg *Config) engine.Factory

// Options configures a Responder
type Options struct {
	// ConfigPath is the line configuration file (default: DefaultConfigFile)
	ConfigPath string

	// Fs is the filesystem configuration, certificate and key files are
	// read from (default: OS filesystem)
	Fs afero.Fs

	// Registry holds the hardware engines (default: engine.Default())
	Registry *engine.Registry

	// EngineFactory, when set, registers the configured engine before
	// backend selection. When nil the registry is used as is.
	EngineFactory EngineFactory

	// Transport receives the certificate and signature payloads
	Transport Sender

	// Logger is the logger instance to use
	Logger *logging.Logger

	// Unrecorded keeps the responder out of the handshake, backend
	// selection and init failure metrics
	Unrecorded bool
}

// Responder answers one verifier connection. All methods are safe for
// concurrent use and are serialized by a single mutex.
type Responder struct {
	connID    string
	mu        sync.Mutex
	state     State
	err       error
	config    *Config
	identity  *IdentityMaterial
	signer    *signing.Service
	transport Sender
	logger    *logging.Logger
	destroyed bool

	unrecorded bool
}

// outcome is the result of a protocol operation together with whether a
// message was sent. The host only sees the Result.
type outcome struct {
	result Result
	sent   bool
}

// NewResponder creates and initializes a responder for connID. Initialization
// failures leave the responder in StateFailed; inspect Err for the cause.
func NewResponder(connID string, opts *Options) *Responder {
	if opts == nil {
		opts = &Options{}
	}
	if opts.ConfigPath == "" {
		opts.ConfigPath = DefaultConfigFile
	}
	if opts.Fs == nil {
		opts.Fs = afero.NewOsFs()
	}
	if opts.Registry == nil {
		opts.Registry = engine.Default()
	}
	if opts.Logger == nil {
		opts.Logger = logging.DefaultLogger()
	}

	r := &Responder{
		connID:    connID,
		state:     StateUninitialized,
		transport: opts.Transport,
		logger:    opts.Logger.With("connection_id", connID),

		unrecorded: opts.Unrecorded,
	}
	r.initialize(opts)
	return r
}

func (r *Responder) initialize(opts *Options) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.state = StateInitializing
	r.logger.Debug("Initializing responder", slog.String("config", opts.ConfigPath))

	cfg, err := LoadConfig(opts.Fs, opts.ConfigPath, r.logger)
	if err != nil {
		r.fail(metrics.StageConfig, err)
		return
	}
	r.config = cfg
	r.logger.Debug("Loaded configuration",
		slog.String("private_key_file", cfg.PrivateKeyFile),
		slog.String("certificate_file", cfg.CertificateFile),
		slog.Bool("use_wks", cfg.UseWellKnownSecret))

	if opts.EngineFactory != nil {
		opts.Registry.Register(cfg.Engine, opts.EngineFactory(cfg))
	}

	b, err := backend.Select(&backend.Options{
		Registry:           opts.Registry,
		EngineID:           cfg.Engine,
		UseWellKnownSecret: cfg.UseWellKnownSecret,
		Fs:                 opts.Fs,
		Logger:             r.logger,
		Unrecorded:         opts.Unrecorded,
	})
	if err != nil {
		r.fail(metrics.StageEngine, err)
		return
	}

	key, err := b.LoadKey(cfg.PrivateKeyFile)
	if err != nil {
		_ = b.Release()
		r.fail(metrics.StageKey, err)
		return
	}

	certificate, err := LoadCertificate(opts.Fs, cfg.CertificateFile)
	if err != nil {
		_ = key.Close()
		_ = b.Release()
		r.fail(metrics.StageCertificate, err)
		return
	}

	r.identity = NewIdentityMaterial(certificate, key, b)
	r.signer = signing.NewService(b.Kind().String())
	r.state = StateReady
	r.logger.Info("Responder ready",
		slog.String("backend", b.Kind().String()),
		slog.Int("key_size", key.Size()))
}

func (r *Responder) fail(stage string, err error) {
	r.state = StateFailed
	r.err = err
	if !r.unrecorded {
		metrics.RecordInitFailure(stage)
	}
	r.logger.Error(err, slog.String("stage", stage))
}

// ConnectionID returns the connection this responder serves
func (r *Responder) ConnectionID() string {
	return r.connID
}

// State returns the lifecycle state
func (r *Responder) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Err returns the initialization error of a failed responder
func (r *Responder) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// Config returns the parsed configuration, or nil if it failed to load
func (r *Responder) Config() *Config {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.config
}

// Identity returns the identity material of a ready responder
func (r *Responder) Identity() *IdentityMaterial {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.destroyed {
		return nil
	}
	return r.identity
}

func (r *Responder) ready() bool {
	return r.state == StateReady && !r.destroyed
}

// BeginHandshake sends the certificate. A responder that is not ready
// reports ResultFatal and sends nothing.
func (r *Responder) BeginHandshake() Result {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := r.beginHandshake()
	if !r.unrecorded {
		metrics.RecordHandshake(out.result.String())
	}
	return out.result
}

func (r *Responder) beginHandshake() outcome {
	if !r.ready() {
		r.logger.Warn("Handshake refused, responder not ready", slog.String("state", r.state.String()))
		return outcome{result: ResultFatal}
	}
	if err := r.send([]byte(r.identity.Certificate())); err != nil {
		r.logger.Error(err, slog.String("operation", "begin_handshake"))
		return outcome{result: ResultSuccess}
	}
	r.logger.Debug("Sent certificate", slog.Int("length", len(r.identity.Certificate())))
	return outcome{result: ResultSuccess, sent: true}
}

// ReceiveMessage signs payload as a nonce and sends the result. The
// message type is not inspected. The result is always ResultSuccess; when
// the responder is not ready or signing fails nothing is sent.
func (r *Responder) ReceiveMessage(payload []byte, messageType transport.MessageType) Result {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := r.receiveMessage(payload, messageType)
	if !out.sent && !r.unrecorded {
		metrics.RecordSuppressedResponse()
	}
	return out.result
}

func (r *Responder) receiveMessage(payload []byte, messageType transport.MessageType) outcome {
	if !r.ready() {
		r.logger.Debug("Ignoring message, responder not ready",
			slog.String("state", r.state.String()),
			slog.Bool("sent", false))
		return outcome{result: ResultSuccess}
	}

	r.logger.Debug("Received nonce",
		slog.String("message_type", messageType.String()),
		slog.Int("length", len(payload)))

	sig, err := r.signer.Sign(r.identity.Key(), payload)
	if err != nil {
		r.logger.Error(fmt.Errorf("failed to sign nonce: %w", err), slog.Bool("sent", false))
		return outcome{result: ResultSuccess}
	}
	if err := r.send(sig); err != nil {
		r.logger.Error(err, slog.String("operation", "receive_message"), slog.Bool("sent", false))
		return outcome{result: ResultSuccess}
	}
	r.logger.Debug("Sent signature", slog.Int("length", len(sig)))
	return outcome{result: ResultSuccess, sent: true}
}

func (r *Responder) send(payload []byte) error {
	if r.transport == nil {
		return ErrNoTransport
	}
	return r.transport.SendMessage(payload, MessageTypePlatID)
}

// BatchEnding is called by the host at the end of a message batch
func (r *Responder) BatchEnding() Result {
	return ResultSuccess
}

// NotifyConnectionChange is called by the host when the connection changes state
func (r *Responder) NotifyConnectionChange(state ConnectionState) Result {
	r.logger.Debug("Connection state changed", slog.String("state", state.String()))
	return ResultSuccess
}

// Destroy releases the key and then the engine. Later calls do nothing and
// every protocol operation afterwards behaves as on a failed responder.
func (r *Responder) Destroy() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.destroyed {
		return nil
	}
	r.destroyed = true

	if r.identity == nil {
		return nil
	}
	if err := r.identity.Close(); err != nil {
		r.logger.Error(err, slog.String("operation", "destroy"))
		return err
	}
	r.logger.Debug("Responder destroyed")
	return nil
}
