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

// Package transport carries typed messages between the responder and a
// remote verifier over a stream connection.
//
// Each frame is a 4 byte big-endian message type, a 4 byte big-endian
// payload length and the payload:
//
//	+-----------+-----------+-----------------+
//	| type (4)  | length (4)| payload (length)|
//	+-----------+-----------+-----------------+
package transport

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"
)

const (
	// HeaderSize is the frame header length
	HeaderSize = 8

	// MaxPayloadSize is the largest accepted payload
	MaxPayloadSize = 64 * 1024
)

var (
	// ErrFrameTooLarge indicates a payload above MaxPayloadSize
	ErrFrameTooLarge = errors.New("transport: frame too large")

	// ErrClosed indicates the connection was closed
	ErrClosed = errors.New("transport: connection closed")
)

// MessageType tags a payload. The high 24 bits are an IANA vendor ID and
// the low 8 bits a vendor assigned subtype.
type MessageType uint32

// NewMessageType composes a message type from a vendor ID and subtype
func NewMessageType(vendorID uint32, subtype uint8) MessageType {
	return MessageType(vendorID<<8 | uint32(subtype))
}

// VendorID returns the vendor part of the message type
func (t MessageType) VendorID() uint32 {
	return uint32(t) >> 8
}

// Subtype returns the subtype part of the message type
func (t MessageType) Subtype() uint8 {
	return uint8(t)
}

func (t MessageType) String() string {
	return fmt.Sprintf("0x%06x/0x%02x", t.VendorID(), t.Subtype())
}

// Message is a received frame
type Message struct {
	Type    MessageType
	Payload []byte
}

// Conn frames messages over a stream. SendMessage and ReadMessage may be
// called from different goroutines; concurrent senders are serialized.
type Conn struct {
	rw     io.ReadWriteCloser
	wmu    sync.Mutex
	rmu    sync.Mutex
	once   sync.Once
	closed chan struct{}
}

// NewConn wraps a stream connection
func NewConn(rw io.ReadWriteCloser) *Conn {
	return &Conn{
		rw:     rw,
		closed: make(chan struct{}),
	}
}

// SendMessage writes one frame
func (c *Conn) SendMessage(payload []byte, messageType MessageType) error {
	if len(payload) > MaxPayloadSize {
		return fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(payload))
	}
	select {
	case <-c.closed:
		return ErrClosed
	default:
	}

	frame := make([]byte, HeaderSize+len(payload))
	binary.BigEndian.PutUint32(frame[0:4], uint32(messageType))
	binary.BigEndian.PutUint32(frame[4:8], uint32(len(payload)))
	copy(frame[HeaderSize:], payload)

	c.wmu.Lock()
	defer c.wmu.Unlock()
	_, err := c.rw.Write(frame)
	return err
}

// ReadMessage blocks until a complete frame is read. io.EOF is returned
// when the peer closes between frames.
func (c *Conn) ReadMessage() (*Message, error) {
	c.rmu.Lock()
	defer c.rmu.Unlock()

	var header [HeaderSize]byte
	if _, err := io.ReadFull(c.rw, header[:]); err != nil {
		return nil, err
	}
	length := binary.BigEndian.Uint32(header[4:8])
	if length > MaxPayloadSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, length)
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(c.rw, payload); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return nil, err
	}
	return &Message{
		Type:    MessageType(binary.BigEndian.Uint32(header[0:4])),
		Payload: payload,
	}, nil
}

// Close closes the underlying stream. It is safe to call more than once.
func (c *Conn) Close() error {
	var err error
	c.once.Do(func() {
		close(c.closed)
		err = c.rw.Close()
	})
	return err
}
