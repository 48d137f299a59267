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
	"encoding/hex"
	"fmt"
	"sync"

	"github.com/jeremyhahn/go-platid/pkg/platid"
	"github.com/jeremyhahn/go-platid/pkg/signing"
	"github.com/jeremyhahn/go-platid/pkg/transport"
	"github.com/spf13/cobra"
)

// captureSender keeps the payloads a responder sends
type captureSender struct {
	mu       sync.Mutex
	payloads [][]byte
}

func (c *captureSender) SendMessage(payload []byte, messageType transport.MessageType) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.payloads = append(c.payloads, append([]byte(nil), payload...))
	return nil
}

func (c *captureSender) last() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.payloads) == 0 {
		return nil
	}
	return c.payloads[len(c.payloads)-1]
}

func (a *App) signCommand() *cobra.Command {
	var nonceHex string

	cmd := &cobra.Command{
		Use:   "sign",
		Short: "Sign a nonce with the platform identity key",
		Long: `Load the identity described by --platid-config exactly as the daemon
does and print the PKCS#1 v1.5 signature of the hex encoded nonce.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			nonce, err := hex.DecodeString(nonceHex)
			if err != nil {
				return fmt.Errorf("invalid nonce: %w", err)
			}
			if len(nonce) == 0 {
				return fmt.Errorf("nonce is required")
			}

			logger := a.logger()
			sender := &captureSender{}
			responder := platid.NewResponder("cli", &platid.Options{
				ConfigPath:    a.config().PlatIDConfig,
				Fs:            a.Fs,
				Registry:      a.Registry,
				EngineFactory: a.engineFactory(logger),
				Transport:     sender,
				Logger:        logger,
			})
			defer func() { _ = responder.Destroy() }()

			if responder.State() != platid.StateReady {
				return fmt.Errorf("responder not ready: %w", responder.Err())
			}

			identity := responder.Identity()
			responder.ReceiveMessage(nonce, platid.MessageTypePlatID)
			signature := sender.last()
			if signature == nil {
				return fmt.Errorf("%w: no signature for %d byte nonce (maximum %d)",
					signing.ErrCryptoFailure, len(nonce), identity.Key().Size()-signing.PKCS1v15Overhead)
			}

			return a.printer().PrintSignature(identity.Kind().String(), nonce, signature)
		},
	}

	cmd.Flags().StringVar(&nonceHex, "nonce", "", "hex encoded nonce to sign")
	_ = cmd.MarkFlagRequired("nonce")
	return cmd
}
