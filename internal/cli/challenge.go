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
	"context"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"encoding/hex"
	"fmt"
	"net"
	"time"

	"github.com/jeremyhahn/go-platid/pkg/platid"
	"github.com/jeremyhahn/go-platid/pkg/transport"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
)

// DefaultNonceSize is the length of a generated challenge nonce
const DefaultNonceSize = 20

type challengeOptions struct {
	addr       string
	nonceHex   string
	timeout    time.Duration
	useTLS     bool
	insecure   bool
	caFile     string
	serverName string
}

func (a *App) challengeCommand() *cobra.Command {
	opts := &challengeOptions{}

	cmd := &cobra.Command{
		Use:   "challenge",
		Short: "Challenge a responder as a verifier would",
		Long: `Connect to a platid daemon, read the platform certificate, send a
nonce and print the returned signature. Neither the certificate nor the
signature is verified.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.challenge(cmd.Context(), opts)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.addr, "addr", "", "responder address (host:port)")
	flags.StringVar(&opts.nonceHex, "nonce", "", "hex encoded nonce (default: random)")
	flags.DurationVar(&opts.timeout, "timeout", 10*time.Second, "overall exchange timeout")
	flags.BoolVar(&opts.useTLS, "tls", false, "connect with TLS")
	flags.BoolVar(&opts.insecure, "insecure", false, "skip TLS server verification")
	flags.StringVar(&opts.caFile, "ca", "", "CA certificate for TLS server verification")
	flags.StringVar(&opts.serverName, "server-name", "", "TLS server name")
	_ = cmd.MarkFlagRequired("addr")
	return cmd
}

func (a *App) challenge(ctx context.Context, opts *challengeOptions) error {
	if ctx == nil {
		ctx = context.Background()
	}

	var nonce []byte
	if opts.nonceHex != "" {
		var err error
		if nonce, err = hex.DecodeString(opts.nonceHex); err != nil {
			return fmt.Errorf("invalid nonce: %w", err)
		}
	} else {
		nonce = make([]byte, DefaultNonceSize)
		if _, err := rand.Read(nonce); err != nil {
			return fmt.Errorf("failed to generate nonce: %w", err)
		}
	}

	ctx, cancel := context.WithTimeout(ctx, opts.timeout)
	defer cancel()

	nc, err := a.dial(ctx, opts)
	if err != nil {
		return err
	}
	conn := transport.NewConn(nc)
	defer func() { _ = conn.Close() }()

	if deadline, ok := ctx.Deadline(); ok {
		_ = nc.SetDeadline(deadline)
	}

	certificate, err := readPlatID(conn)
	if err != nil {
		return fmt.Errorf("failed to read certificate: %w", err)
	}
	if err := conn.SendMessage(nonce, platid.MessageTypePlatID); err != nil {
		return fmt.Errorf("failed to send nonce: %w", err)
	}
	signature, err := readPlatID(conn)
	if err != nil {
		return fmt.Errorf("failed to read signature: %w", err)
	}

	return a.printer().PrintChallenge(string(certificate), nonce, signature)
}

func readPlatID(conn *transport.Conn) ([]byte, error) {
	msg, err := conn.ReadMessage()
	if err != nil {
		return nil, err
	}
	if msg.Type != platid.MessageTypePlatID {
		return nil, fmt.Errorf("unexpected message type %s", msg.Type)
	}
	return msg.Payload, nil
}

func (a *App) dial(ctx context.Context, opts *challengeOptions) (net.Conn, error) {
	dialer := &net.Dialer{}
	if !opts.useTLS {
		return dialer.DialContext(ctx, "tcp", opts.addr)
	}

	tlsConfig := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		ServerName:         opts.serverName,
		InsecureSkipVerify: opts.insecure, // #nosec G402 - operator opt-in diagnostic
	}
	if opts.caFile != "" {
		caPEM, err := afero.ReadFile(a.Fs, opts.caFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read CA file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caPEM) {
			return nil, fmt.Errorf("failed to parse CA certificate from %s", opts.caFile)
		}
		tlsConfig.RootCAs = pool
	}

	tlsDialer := &tls.Dialer{NetDialer: dialer, Config: tlsConfig}
	return tlsDialer.DialContext(ctx, "tcp", opts.addr)
}
