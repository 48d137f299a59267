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

// Package platid implements the platform identity responder.
//
// A Responder is created per connection. Construction loads the line
// configuration, selects the key backend (hardware engine with software
// fallback), loads the private key and the certificate. BeginHandshake then
// sends the certificate and every received message is treated as a nonce
// whose PKCS#1 v1.5 private key transform is sent back. A signing failure
// sends nothing, so the verifier times out.
package platid

import (
	"errors"

	"github.com/jeremyhahn/go-platid/pkg/transport"
)

var (
	// ErrConfig indicates the configuration file is missing or incomplete
	ErrConfig = errors.New("platid: invalid configuration")

	// ErrCertificateLoad indicates the certificate file could not be read
	ErrCertificateLoad = errors.New("platid: failed to load certificate")

	// ErrNoTransport indicates the responder has nowhere to send messages
	ErrNoTransport = errors.New("platid: no transport")
)

const (
	// VendorIDFHH is the IANA private enterprise number of the TNC@FHH project
	VendorIDFHH uint32 = 0x0080ab

	// SubtypePlatID is the platform identity message subtype
	SubtypePlatID uint8 = 0x33
)

// MessageTypePlatID tags both the certificate and the signature payloads
var MessageTypePlatID = transport.NewMessageType(VendorIDFHH, SubtypePlatID)

// Sender delivers a payload to the verifier
type Sender interface {
	SendMessage(payload []byte, messageType transport.MessageType) error
}

// Result is the outcome reported to the host for a protocol operation
type Result int

const (
	ResultSuccess Result = iota
	ResultFatal
)

func (r Result) String() string {
	switch r {
	case ResultSuccess:
		return "success"
	case ResultFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// State is the responder lifecycle state
type State int

const (
	StateUninitialized State = iota
	StateInitializing
	StateReady
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitializing:
		return "initializing"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// ConnectionState is the host reported state of the connection
type ConnectionState int

const (
	ConnectionCreate ConnectionState = iota
	ConnectionHandshake
	ConnectionAccessAllowed
	ConnectionAccessIsolated
	ConnectionAccessNone
	ConnectionDelete
)

func (s ConnectionState) String() string {
	switch s {
	case ConnectionCreate:
		return "create"
	case ConnectionHandshake:
		return "handshake"
	case ConnectionAccessAllowed:
		return "access_allowed"
	case ConnectionAccessIsolated:
		return "access_isolated"
	case ConnectionAccessNone:
		return "access_none"
	case ConnectionDelete:
		return "delete"
	default:
		return "unknown"
	}
}
