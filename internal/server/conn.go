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
	"errors"
	"io"
	"log/slog"
	"net"
	"time"

	"github.com/google/uuid"
	"github.com/jeremyhahn/go-platid/pkg/metrics"
	"github.com/jeremyhahn/go-platid/pkg/platid"
	"github.com/jeremyhahn/go-platid/pkg/transport"
)

// handleConn runs one verifier connection: a fresh responder sends the
// certificate, then every inbound frame is delivered to it followed by a
// batch end. A responder that cannot initialize ends the connection.
func (s *Server) handleConn(nc net.Conn) {
	tracker := metrics.NewConnectionTracker(metrics.ProtocolTCP)
	defer tracker.Close()

	id := uuid.NewString()
	logger := s.currentLogger().With(
		slog.String("connection_id", id),
		slog.String("remote", nc.RemoteAddr().String()))

	conn := transport.NewConn(nc)
	defer func() { _ = conn.Close() }()

	if !s.track(id, nc) {
		return
	}
	defer s.untrack(id)

	opts := s.responderOptions(conn)
	responder := platid.NewResponder(id, &opts)
	defer func() {
		responder.NotifyConnectionChange(platid.ConnectionDelete)
		if err := responder.Destroy(); err != nil {
			logger.Error(err)
		}
		logger.Debug("Connection closed", slog.Duration("duration", tracker.Duration()))
	}()

	responder.NotifyConnectionChange(platid.ConnectionCreate)
	responder.NotifyConnectionChange(platid.ConnectionHandshake)

	if responder.BeginHandshake() == platid.ResultFatal {
		logger.Warn("Responder not ready, closing connection",
			slog.String("state", responder.State().String()))
		return
	}

	timeout := s.readTimeout()
	for {
		if timeout > 0 {
			_ = nc.SetReadDeadline(time.Now().Add(timeout))
		}
		msg, err := conn.ReadMessage()
		if err != nil {
			switch {
			case errors.Is(err, io.EOF), errors.Is(err, net.ErrClosed):
				logger.Debug("Verifier disconnected")
			default:
				logger.Warn("Failed to read message", slog.Any("error", err))
			}
			return
		}
		responder.ReceiveMessage(msg.Payload, msg.Type)
		responder.BatchEnding()
	}
}

func (s *Server) readTimeout() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.config.Server.ReadTimeout
}
