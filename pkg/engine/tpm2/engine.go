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

// Package tpm2 provides an engine.Engine backed by a TPM 2.0 module.
//
// Keys are RSA objects that are either persisted under a handle
// (label "0x81000002") or stored in a key blob file holding the marshalled
// public and private areas. Signing applies PKCS#1 v1.5 type 1 padding in
// software and performs the private key operation with TPM2_RSA_Decrypt
// using the null scheme, so the TPM never sees a digest structure.
//
// Thread Safety:
// All TPM commands are serialized by the engine mutex. The engine is shared
// by every holder of an engine.Handle.
package tpm2

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/google/go-tpm/tpm2"
	"github.com/google/go-tpm/tpm2/transport"
	"github.com/google/go-tpm/tpm2/transport/linuxudstpm"
	"github.com/jeremyhahn/go-platid/pkg/engine"
	"github.com/jeremyhahn/go-platid/pkg/logging"
	"github.com/spf13/afero"
)

// Engine implements engine.Engine for TPM 2.0
type Engine struct {
	config     *Config
	logger     *logging.Logger
	mu         sync.Mutex
	transport  transport.TPM
	closer     io.Closer
	parentAuth []byte
}

// NewEngine creates an uninitialized TPM engine. The device is opened by Init.
func NewEngine(config *Config) *Engine {
	if config == nil {
		config = &Config{}
	}
	config.SetDefaults()
	return &Engine{
		config: config,
		logger: config.Logger.With("engine", config.ID),
	}
}

// Factory returns an engine.Factory producing TPM engines for config
func Factory(config *Config) engine.Factory {
	return func() (engine.Engine, error) {
		return NewEngine(config), nil
	}
}

// ID returns the registry identifier
func (e *Engine) ID() string {
	return e.config.ID
}

// Transport returns the open transport, or nil before Init
func (e *Engine) Transport() transport.TPM {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.transport
}

// Init opens the TPM and verifies it answers a capability query
func (e *Engine) Init() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.transport != nil {
		return nil
	}

	t, closer, err := e.open()
	if err != nil {
		return err
	}

	_, err = tpm2.GetCapability{
		Capability:    tpm2.TPMCapTPMProperties,
		Property:      uint32(tpm2.TPMPTManufacturer),
		PropertyCount: 1,
	}.Execute(t)
	if err != nil {
		if closer != nil {
			_ = closer.Close()
		}
		return fmt.Errorf("tpm2: device %s did not respond: %w", e.config.Device, err)
	}

	e.transport = t
	e.closer = closer
	e.logger.Info("Initialized TPM engine", slog.String("device", e.config.Device))
	return nil
}

func (e *Engine) open() (transport.TPM, io.Closer, error) {
	if e.config.Transport != nil {
		e.logger.Debug("Using custom TPM transport")
		return e.config.Transport, nil, nil
	}

	device := e.config.Device
	switch {
	case device == DeviceSimulator:
		e.logger.Debug("Opening TPM simulator")
		return openSimulator()
	case strings.HasSuffix(device, ".sock"):
		e.logger.Debug("Opening TPM socket", slog.String("device", device))
		t, err := linuxudstpm.Open(device)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: %s: %v", ErrOpeningDevice, device, err)
		}
		return t, t, nil
	default:
		e.logger.Debug("Opening TPM device", slog.String("device", device))
		f, err := os.OpenFile(device, os.O_RDWR, 0)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: %s: %v", ErrOpeningDevice, device, err)
		}
		return transport.FromReadWriter(f), f, nil
	}
}

// Finish closes the transport opened by Init
func (e *Engine) Finish() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.transport == nil {
		return nil
	}
	e.transport = nil
	e.parentAuth = nil
	if e.closer == nil {
		return nil
	}
	err := e.closer.Close()
	e.closer = nil
	e.logger.Debug("Finished TPM engine")
	return err
}

// SupportsRSA queries the TPM algorithm list for RSA
func (e *Engine) SupportsRSA() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.transport == nil {
		return ErrNotInitialized
	}
	rsp, err := tpm2.GetCapability{
		Capability:    tpm2.TPMCapAlgs,
		Property:      uint32(tpm2.TPMAlgRSA),
		PropertyCount: 1,
	}.Execute(e.transport)
	if err != nil {
		return err
	}
	algs, err := rsp.CapabilityData.Data.Algorithms()
	if err != nil {
		return err
	}
	for _, alg := range algs.AlgProperties {
		if alg.Alg == tpm2.TPMAlgRSA {
			return nil
		}
	}
	return ErrRSANotSupported
}

// Ctrl executes a control command
func (e *Engine) Ctrl(cmd engine.Command, arg int64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch cmd {
	case engine.CmdUseWellKnownSecret:
		e.parentAuth = WellKnownSecret
		e.logger.Warn("Parent key authorization set to the well-known secret")
		return nil
	default:
		return fmt.Errorf("%w: %d", engine.ErrUnsupportedCommand, cmd)
	}
}

// LoadPrivateKey loads an RSA key by persistent handle ("0x8...") or key blob file path
func (e *Engine) LoadPrivateKey(label string) (engine.PrivateKey, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.transport == nil {
		return nil, ErrNotInitialized
	}
	if label == "" {
		return nil, ErrInvalidKeyLabel
	}

	e.logger.Info("Loading private key", slog.String("label", label))

	if handle, ok := parseHandle(label); ok {
		return e.loadPersistent(handle)
	}
	return e.loadKeyFile(label)
}

func parseHandle(label string) (tpm2.TPMHandle, bool) {
	if !strings.HasPrefix(label, "0x") && !strings.HasPrefix(label, "0X") {
		return 0, false
	}
	v, err := strconv.ParseUint(label[2:], 16, 32)
	if err != nil {
		return 0, false
	}
	return tpm2.TPMHandle(v), true
}

func (e *Engine) loadPersistent(handle tpm2.TPMHandle) (engine.PrivateKey, error) {
	rsp, err := tpm2.ReadPublic{ObjectHandle: handle}.Execute(e.transport)
	if err != nil {
		return nil, fmt.Errorf("%w: handle 0x%x: %v", ErrInvalidKeyLabel, uint32(handle), err)
	}
	pub, err := rsaPublic(rsp.OutPublic)
	if err != nil {
		return nil, err
	}
	return &Key{
		engine: e,
		handle: handle,
		name:   rsp.Name,
		public: pub,
	}, nil
}

func (e *Engine) loadKeyFile(path string) (engine.PrivateKey, error) {
	data, err := afero.ReadFile(e.config.Fs, path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKeyLabel, err)
	}
	public, private, err := DecodeKeyFile(data)
	if err != nil {
		return nil, err
	}
	pub, err := rsaPublic(*public)
	if err != nil {
		return nil, err
	}

	parent, flushParent, err := e.parent()
	if err != nil {
		return nil, err
	}
	defer flushParent()

	rsp, err := tpm2.Load{
		ParentHandle: tpm2.AuthHandle{
			Handle: parent.Handle,
			Name:   parent.Name,
			Auth:   tpm2.PasswordAuth(e.parentAuth),
		},
		InPrivate: *private,
		InPublic:  *public,
	}.Execute(e.transport)
	if err != nil {
		return nil, fmt.Errorf("tpm2: failed to load key %s: %w", path, err)
	}

	return &Key{
		engine:    e,
		handle:    rsp.ObjectHandle,
		name:      rsp.Name,
		public:    pub,
		transient: true,
	}, nil
}

// parent resolves the storage parent: the persistent SRK if present,
// otherwise a transient primary created from the standard RSA SRK template.
func (e *Engine) parent() (tpm2.NamedHandle, func(), error) {
	handle := tpm2.TPMHandle(e.config.ParentHandle)
	if rsp, err := (tpm2.ReadPublic{ObjectHandle: handle}).Execute(e.transport); err == nil {
		return tpm2.NamedHandle{Handle: handle, Name: rsp.Name}, func() {}, nil
	}

	e.logger.Debug("Persistent parent not found, creating transient SRK",
		slog.String("handle", fmt.Sprintf("0x%x", e.config.ParentHandle)))

	rsp, err := tpm2.CreatePrimary{
		PrimaryHandle: tpm2.AuthHandle{
			Handle: tpm2.TPMRHOwner,
			Auth:   tpm2.PasswordAuth(nil),
		},
		InSensitive: tpm2.TPM2BSensitiveCreate{
			Sensitive: &tpm2.TPMSSensitiveCreate{
				UserAuth: tpm2.TPM2BAuth{Buffer: e.parentAuth},
			},
		},
		InPublic: tpm2.New2B(tpm2.RSASRKTemplate),
	}.Execute(e.transport)
	if err != nil {
		return tpm2.NamedHandle{}, nil, fmt.Errorf("tpm2: failed to create SRK: %w", err)
	}
	flush := func() {
		_, _ = tpm2.FlushContext{FlushHandle: rsp.ObjectHandle}.Execute(e.transport)
	}
	return tpm2.NamedHandle{Handle: rsp.ObjectHandle, Name: rsp.Name}, flush, nil
}

// rsaDecrypt performs the raw RSA private key operation
func (e *Engine) rsaDecrypt(handle tpm2.TPMHandle, name tpm2.TPM2BName, block []byte) ([]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.transport == nil {
		return nil, ErrNotInitialized
	}
	rsp, err := tpm2.RSADecrypt{
		KeyHandle: tpm2.AuthHandle{
			Handle: handle,
			Name:   name,
			Auth:   tpm2.PasswordAuth(nil),
		},
		CipherText: tpm2.TPM2BPublicKeyRSA{Buffer: block},
		InScheme: tpm2.TPMTRSADecrypt{
			Scheme: tpm2.TPMAlgNull,
		},
	}.Execute(e.transport)
	if err != nil {
		return nil, err
	}
	return rsp.Message.Buffer, nil
}

func (e *Engine) flush(handle tpm2.TPMHandle) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.transport == nil {
		return nil
	}
	_, err := tpm2.FlushContext{FlushHandle: handle}.Execute(e.transport)
	return err
}
