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

package backend

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/jeremyhahn/go-platid/pkg/backend/software"
	"github.com/jeremyhahn/go-platid/pkg/engine"
	"github.com/jeremyhahn/go-platid/pkg/logging"
	"github.com/jeremyhahn/go-platid/pkg/metrics"
	"github.com/spf13/afero"
)

// DefaultEngineID is the engine consulted when Options.EngineID is empty
const DefaultEngineID = "tpm2"

// Options configures backend selection
type Options struct {
	// Registry holds the available engines (default: engine.Default())
	Registry *engine.Registry

	// EngineID is the hardware engine to try first
	EngineID string

	// UseWellKnownSecret issues engine.CmdUseWellKnownSecret once the
	// engine is the default RSA provider
	UseWellKnownSecret bool

	// Fs is the filesystem software keys are read from
	Fs afero.Fs

	// Logger is the logger instance to use
	Logger *logging.Logger

	// Unrecorded keeps the selection out of the backend and init failure
	// metrics. Health probes set it.
	Unrecorded bool
}

func (o *Options) setDefaults() {
	if o.Registry == nil {
		o.Registry = engine.Default()
	}
	if o.EngineID == "" {
		o.EngineID = DefaultEngineID
	}
	if o.Fs == nil {
		o.Fs = afero.NewOsFs()
	}
	if o.Logger == nil {
		o.Logger = logging.DefaultLogger()
	}
}

// Backend is the selected key backend. It holds the engine reference, if
// any, until Release.
type Backend struct {
	kind     Kind
	registry *engine.Registry
	handle   *engine.Handle
	fs       afero.Fs
	logger   *logging.Logger
	mu       sync.Mutex
	released bool
}

// Select chooses the key backend.
//
// The engine is acquired from the registry. If it is not registered or its
// Init fails, global engine state is cleaned up and the software backend is
// returned. If the engine initializes but cannot be set as the default RSA
// provider, or rejects the well-known secret command, ErrBackendSelection
// is returned and nothing is held.
func Select(opts *Options) (*Backend, error) {
	if opts == nil {
		opts = &Options{}
	}
	opts.setDefaults()

	logger := opts.Logger
	b := &Backend{
		kind:     KindSoftware,
		registry: opts.Registry,
		fs:       opts.Fs,
		logger:   logger,
	}

	handle, err := opts.Registry.Acquire(opts.EngineID)
	if err != nil {
		switch {
		case errors.Is(err, engine.ErrEngineNotFound):
			logger.Info("Hardware engine not available, using software key",
				slog.String("engine", opts.EngineID))
		default:
			logger.Warn("Hardware engine failed to initialize, using software key",
				slog.String("engine", opts.EngineID),
				slog.String("error", err.Error()))
		}
		opts.Registry.Cleanup()
		opts.recordSelection(KindSoftware)
		return b, nil
	}

	if err := handle.SetDefaultRSA(); err != nil {
		_ = handle.Release()
		opts.Registry.Cleanup()
		opts.recordFailure()
		return nil, fmt.Errorf("%w: %v", ErrBackendSelection, err)
	}

	if opts.UseWellKnownSecret {
		if err := handle.Ctrl(engine.CmdUseWellKnownSecret, 0); err != nil {
			_ = handle.Release()
			opts.Registry.Cleanup()
			opts.recordFailure()
			return nil, fmt.Errorf("%w: %v", ErrBackendSelection, err)
		}
		logger.Warn("Using the well-known secret for parent key authorization",
			slog.String("engine", opts.EngineID))
	}

	logger.Info("Using hardware engine", slog.String("engine", handle.ID()))
	b.kind = KindHardware
	b.handle = handle
	opts.recordSelection(KindHardware)
	return b, nil
}

func (o *Options) recordSelection(kind Kind) {
	if !o.Unrecorded {
		metrics.RecordBackendSelection(kind.String())
	}
}

func (o *Options) recordFailure() {
	if !o.Unrecorded {
		metrics.RecordInitFailure(metrics.StageEngine)
	}
}

// Kind returns the selected backend kind
func (b *Backend) Kind() Kind {
	return b.kind
}

// EngineID returns the hardware engine identifier, or an empty string for
// the software backend
func (b *Backend) EngineID() string {
	if b.handle == nil {
		return ""
	}
	return b.handle.ID()
}

// LoadKey loads the private key. For the hardware backend path is the
// engine key label; for the software backend it is a PEM file.
func (b *Backend) LoadKey(path string) (SigningKey, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.released {
		return nil, ErrReleased
	}

	var (
		key SigningKey
		err error
	)
	if b.kind == KindHardware {
		key, err = b.handle.LoadPrivateKey(path)
	} else {
		key, err = software.LoadKey(b.fs, path)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrKeyLoad, path, err)
	}

	b.logger.Debug("Loaded private key",
		slog.String("backend", b.kind.String()),
		slog.Int("size", key.Size()))
	return key, nil
}

// Release drops the engine reference and cleans up global engine state.
// Keys loaded from a hardware backend must be closed first. Release is
// idempotent.
func (b *Backend) Release() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.released {
		return nil
	}
	b.released = true
	if b.handle == nil {
		return nil
	}
	err := b.handle.Release()
	b.registry.Cleanup()
	return err
}
