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
	"context"
	"crypto"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/jeremyhahn/go-platid/internal/config"
	"github.com/jeremyhahn/go-platid/internal/testutil"
	"github.com/jeremyhahn/go-platid/pkg/backend"
	"github.com/jeremyhahn/go-platid/pkg/engine"
	"github.com/jeremyhahn/go-platid/pkg/engine/mocks"
	"github.com/jeremyhahn/go-platid/pkg/health"
	"github.com/jeremyhahn/go-platid/pkg/logging"
	"github.com/jeremyhahn/go-platid/pkg/platid"
	"github.com/jeremyhahn/go-platid/pkg/ratelimit"
	"github.com/jeremyhahn/go-platid/pkg/transport"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testDaemon struct {
	server   *Server
	identity *testutil.Identity
	engine   *mocks.MockEngine
	registry *engine.Registry
	cancel   context.CancelFunc
	done     chan error
}

// startDaemon runs a daemon on loopback ports. A nil modify keeps the
// defaults. The mock engine refuses to initialize unless hardware is set.
func startDaemon(t *testing.T, hardware bool, modify func(*config.Config)) *testDaemon {
	t.Helper()

	fs := afero.NewMemMapFs()
	id, err := testutil.WriteIdentity(fs, "/etc/tnc", 1024)
	require.NoError(t, err)

	mock := mocks.NewMockEngine(backend.DefaultEngineID, id.Key)
	if !hardware {
		mock.InitFunc = func() error { return errors.New("no tpm") }
	}

	cfg := config.Default()
	cfg.Server.Listen = "127.0.0.1:0"
	cfg.Status.Listen = "127.0.0.1:0"
	cfg.PlatID.ConfigFile = id.ConfigPath
	if modify != nil {
		modify(cfg)
	}

	registry := engine.NewRegistry()
	s, err := New(cfg, &Options{
		Fs:       fs,
		Registry: registry,
		EngineFactory: func(*platid.Config) engine.Factory {
			return mock.Factory()
		},
		Logger: logging.Discard(),
	})
	require.NoError(t, err)
	require.NoError(t, s.Listen())

	ctx, cancel := context.WithCancel(context.Background())
	d := &testDaemon{
		server:   s,
		identity: id,
		engine:   mock,
		registry: registry,
		cancel:   cancel,
		done:     make(chan error, 1),
	}
	go func() { d.done <- s.Serve(ctx) }()

	t.Cleanup(func() {
		d.stop(t)
	})
	return d
}

func (d *testDaemon) stop(t *testing.T) {
	t.Helper()
	d.cancel()
	select {
	case err := <-d.done:
		require.NoError(t, err)
		d.done <- nil
	case <-time.After(5 * time.Second):
		t.Fatal("daemon did not stop")
	}
}

func (d *testDaemon) dial(t *testing.T) (*transport.Conn, net.Conn) {
	t.Helper()
	nc, err := net.DialTimeout("tcp", d.server.Addr().String(), 2*time.Second)
	require.NoError(t, err)
	require.NoError(t, nc.SetDeadline(time.Now().Add(5*time.Second)))
	conn := transport.NewConn(nc)
	t.Cleanup(func() { _ = conn.Close() })
	return conn, nc
}

func (d *testDaemon) get(t *testing.T, path string) (int, HealthCheckResponse, string) {
	t.Helper()
	resp, err := http.Get("http://" + d.server.StatusAddr().String() + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	var hr HealthCheckResponse
	if strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(body, &hr))
	}
	return resp.StatusCode, hr, string(body)
}

func verify(t *testing.T, pub *rsa.PublicKey, nonce, sig []byte) {
	t.Helper()
	require.Len(t, sig, pub.Size())
	require.NoError(t, rsa.VerifyPKCS1v15(pub, crypto.Hash(0), nonce, sig))
}

func TestServer_ChallengeResponse(t *testing.T) {
	d := startDaemon(t, false, nil)
	conn, _ := d.dial(t)

	msg, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, platid.MessageTypePlatID, msg.Type)
	assert.Equal(t, d.identity.CertificateText(), string(msg.Payload))

	for _, nonce := range [][]byte{
		[]byte("first nonce"),
		{0x01},
		make([]byte, d.identity.Key.Size()-11),
	} {
		require.NoError(t, conn.SendMessage(nonce, platid.MessageTypePlatID))
		msg, err := conn.ReadMessage()
		require.NoError(t, err)
		assert.Equal(t, platid.MessageTypePlatID, msg.Type)
		verify(t, &d.identity.Key.PublicKey, nonce, msg.Payload)
	}
}

func TestServer_OversizedNonceIsNotAnswered(t *testing.T) {
	d := startDaemon(t, false, nil)
	conn, nc := d.dial(t)

	_, err := conn.ReadMessage()
	require.NoError(t, err)

	require.NoError(t, conn.SendMessage(make([]byte, d.identity.Key.Size()), platid.MessageTypePlatID))
	require.NoError(t, nc.SetReadDeadline(time.Now().Add(300*time.Millisecond)))
	_, err = conn.ReadMessage()
	var ne net.Error
	require.ErrorAs(t, err, &ne)
	assert.True(t, ne.Timeout(), "responder must stall instead of replying")

	// the connection stays usable
	require.NoError(t, nc.SetReadDeadline(time.Now().Add(5*time.Second)))
	require.NoError(t, conn.SendMessage([]byte("retry"), platid.MessageTypePlatID))
	msg, err := conn.ReadMessage()
	require.NoError(t, err)
	verify(t, &d.identity.Key.PublicKey, []byte("retry"), msg.Payload)
}

func TestServer_ResponderFailureClosesConnection(t *testing.T) {
	d := startDaemon(t, false, func(c *config.Config) {
		c.PlatID.ConfigFile = "/etc/tnc/missing.conf"
	})
	conn, _ := d.dial(t)

	_, err := conn.ReadMessage()
	assert.ErrorIs(t, err, io.EOF)
}

func TestServer_HardwareEngine(t *testing.T) {
	d := startDaemon(t, true, nil)
	conn, _ := d.dial(t)

	_, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, 1, d.registry.Refs(backend.DefaultEngineID))

	require.NoError(t, conn.SendMessage([]byte("nonce"), platid.MessageTypePlatID))
	msg, err := conn.ReadMessage()
	require.NoError(t, err)
	verify(t, &d.identity.Key.PublicKey, []byte("nonce"), msg.Payload)

	assert.Contains(t, d.engine.CallLog(), "load_private_key")

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool {
		return d.registry.Refs(backend.DefaultEngineID) == 0
	}, 5*time.Second, 10*time.Millisecond)

	calls := d.engine.CallLog()
	assert.Equal(t, "finish", calls[len(calls)-1])
}

func TestServer_ConcurrentConnections(t *testing.T) {
	d := startDaemon(t, false, nil)

	const n = 8
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		conn, _ := d.dial(t)
		go func(conn *transport.Conn, i int) {
			if _, err := conn.ReadMessage(); err != nil {
				errs <- err
				return
			}
			nonce := []byte{byte(i), 0xaa, byte(i)}
			if err := conn.SendMessage(nonce, platid.MessageTypePlatID); err != nil {
				errs <- err
				return
			}
			msg, err := conn.ReadMessage()
			if err != nil {
				errs <- err
				return
			}
			errs <- rsa.VerifyPKCS1v15(&d.identity.Key.PublicKey, crypto.Hash(0), nonce, msg.Payload)
		}(conn, i)
	}

	for i := 0; i < n; i++ {
		assert.NoError(t, <-errs)
	}
}

func TestServer_ConnectionLimit(t *testing.T) {
	d := startDaemon(t, false, func(c *config.Config) {
		c.Server.MaxConnections = 1
	})

	first, _ := d.dial(t)
	_, err := first.ReadMessage()
	require.NoError(t, err)

	second, _ := d.dial(t)
	_, err = second.ReadMessage()
	assert.ErrorIs(t, err, io.EOF)
}

func TestServer_RateLimit(t *testing.T) {
	d := startDaemon(t, false, func(c *config.Config) {
		c.Server.RateLimit = ratelimit.Config{
			Enabled:              true,
			ConnectionsPerMinute: 1,
			Burst:                1,
		}
	})

	first, _ := d.dial(t)
	_, err := first.ReadMessage()
	require.NoError(t, err)
	require.NoError(t, first.Close())

	second, _ := d.dial(t)
	_, err = second.ReadMessage()
	assert.ErrorIs(t, err, io.EOF)
}

func TestServer_ReadTimeoutClosesIdleConnection(t *testing.T) {
	d := startDaemon(t, false, func(c *config.Config) {
		c.Server.ReadTimeout = 100 * time.Millisecond
	})
	conn, _ := d.dial(t)

	_, err := conn.ReadMessage()
	require.NoError(t, err)

	_, err = conn.ReadMessage()
	assert.ErrorIs(t, err, io.EOF)
}

func TestServer_ShutdownClosesConnections(t *testing.T) {
	d := startDaemon(t, false, nil)
	conn, _ := d.dial(t)

	_, err := conn.ReadMessage()
	require.NoError(t, err)

	d.stop(t)

	_, err = conn.ReadMessage()
	assert.Error(t, err)
	assert.False(t, d.server.HealthChecker().IsStarted())
}

func TestServer_StatusEndpoints(t *testing.T) {
	d := startDaemon(t, false, nil)

	code, resp, _ := d.get(t, "/health/live")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, health.StatusHealthy, resp.Status)

	code, resp, _ = d.get(t, "/health/ready")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, health.StatusHealthy, resp.Status)
	assert.Len(t, resp.Checks, 2)

	code, _, body := d.get(t, "/metrics")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, "platid_backend_selections_total")
}

func TestServer_ReadinessDegradedWithSoftwareKey(t *testing.T) {
	d := startDaemon(t, false, func(c *config.Config) {
		c.PlatID.RequireHardware = true
	})

	code, resp, _ := d.get(t, "/health/ready")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, health.StatusDegraded, resp.Status)
}

func TestServer_ReadinessUnhealthy(t *testing.T) {
	d := startDaemon(t, false, func(c *config.Config) {
		c.PlatID.ConfigFile = "/etc/tnc/missing.conf"
	})

	code, resp, _ := d.get(t, "/health/ready")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, health.StatusUnhealthy, resp.Status)
}

func TestServer_MetricsDisabled(t *testing.T) {
	d := startDaemon(t, false, func(c *config.Config) {
		c.Status.Metrics = false
	})

	code, _, _ := d.get(t, "/metrics")
	assert.Equal(t, http.StatusNotFound, code)
}

func TestServer_Reload(t *testing.T) {
	d := startDaemon(t, false, nil)

	cfg := config.Default()
	cfg.Server.Listen = "127.0.0.1:1"
	cfg.PlatID.ConfigFile = "/etc/tnc/missing.conf"
	cfg.Logging.Level = "debug"
	require.NoError(t, d.server.Reload(cfg))

	assert.Equal(t, "/etc/tnc/missing.conf", d.server.responderConfigPath())
	assert.NotEqual(t, "127.0.0.1:1", d.server.settings().Server.Listen)

	// new connections use the reloaded responder configuration
	conn, _ := d.dial(t)
	_, err := conn.ReadMessage()
	assert.ErrorIs(t, err, io.EOF)

	bad := config.Default()
	bad.Logging.Level = "loud"
	assert.Error(t, d.server.Reload(bad))
}

func TestServer_ReloadWhileServing(t *testing.T) {
	fs := afero.NewMemMapFs()
	id, err := testutil.WriteIdentity(fs, "/etc/tnc", 1024)
	require.NoError(t, err)

	cfg := config.Default()
	cfg.Server.Listen = "127.0.0.1:0"
	cfg.Status.Listen = "127.0.0.1:0"
	cfg.PlatID.ConfigFile = id.ConfigPath

	mock := mocks.NewMockEngine(backend.DefaultEngineID, id.Key)
	mock.InitFunc = func() error { return errors.New("no tpm") }

	s, err := New(cfg, &Options{
		Fs:       fs,
		Registry: engine.NewRegistry(),
		EngineFactory: func(*platid.Config) engine.Factory {
			return mock.Factory()
		},
		Logger: logging.Discard(),
	})
	require.NoError(t, err)

	// Serve binds its own listeners here so startup overlaps the reloads
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx) }()

	for i := 0; i < 20; i++ {
		next := config.Default()
		next.Server.Listen = cfg.Server.Listen
		next.Status.Listen = cfg.Status.Listen
		next.PlatID.ConfigFile = id.ConfigPath
		if i%2 == 0 {
			next.Logging.Level = "debug"
		}
		require.NoError(t, s.Reload(next))
	}

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("daemon did not stop")
	}
	assert.Equal(t, id.ConfigPath, s.responderConfigPath())
}

func TestNew_InvalidConfig(t *testing.T) {
	_, err := New(nil, nil)
	assert.Error(t, err)

	cfg := config.Default()
	cfg.Server.Listen = ""
	_, err = New(cfg, nil)
	assert.Error(t, err)

	cfg = config.Default()
	cfg.TLS = config.TLSConfig{Enabled: true, CertFile: "/missing.pem", KeyFile: "/missing.key"}
	_, err = New(cfg, &Options{Fs: afero.NewMemMapFs(), Logger: logging.Discard()})
	assert.Error(t, err)
}

func TestBuildVersion(t *testing.T) {
	assert.NotEmpty(t, BuildVersion())
}
