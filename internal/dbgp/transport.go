// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package dbgp

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"
)

// Upper bound for a single engine packet. Large arrays are paged by the engine, so real packets are far smaller.
const maxPacketSize = 64 * 1024 * 1024

// Longest length prefix accepted, enough for any int64.
const maxLengthPrefix = 20

// Transport provides an abstraction for DBGp message I/O with a single debugger engine.
// Engine-to-IDE packets are framed as "<length>\0<xml>\0", IDE-to-engine commands as "<command line>\0".
// ReadPacket may be called from one goroutine only; WritePacket is safe for concurrent use.
type Transport interface {
	// ReadPacket blocks until the next complete packet arrives from the engine.
	ReadPacket() (*Packet, error)

	// WriteCommand sends an already-encoded command line to the engine.
	WriteCommand(commandLine string) error

	// Close closes the transport. Blocked ReadPacket and WriteCommand calls return with an error.
	Close() error

	// RemoteAddr describes the engine endpoint, for logging.
	RemoteAddr() string
}

type netTransport struct {
	conn   net.Conn
	reader *bufio.Reader

	// writeMu protects concurrent writes to the connection
	writeMu sync.Mutex

	closeOnce sync.Once
	closeErr  error
}

// NewNetTransport creates a Transport backed by a network connection from a debugger engine.
func NewNetTransport(conn net.Conn) Transport {
	return &netTransport{
		conn:   conn,
		reader: bufio.NewReader(conn),
	}
}

func (t *netTransport) ReadPacket() (*Packet, error) {
	data, readErr := readFrame(t.reader)
	if readErr != nil {
		return nil, readErr
	}
	return ParsePacket(data)
}

func (t *netTransport) WriteCommand(commandLine string) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	buf := make([]byte, 0, len(commandLine)+1)
	buf = append(buf, commandLine...)
	buf = append(buf, 0)
	if _, writeErr := t.conn.Write(buf); writeErr != nil {
		return fmt.Errorf("failed to write DBGp command: %w", writeErr)
	}
	return nil
}

func (t *netTransport) Close() error {
	t.closeOnce.Do(func() {
		t.closeErr = t.conn.Close()
	})
	return t.closeErr
}

func (t *netTransport) RemoteAddr() string {
	return t.conn.RemoteAddr().String()
}

// readFrame reads one "<length>\0<payload>\0" frame and returns the payload.
// A clean end of stream before the first byte of a frame is reported as io.EOF.
func readFrame(r *bufio.Reader) ([]byte, error) {
	lengthStr, lengthErr := readLengthPrefix(r)
	if lengthErr != nil {
		return nil, lengthErr
	}

	length, parseErr := strconv.Atoi(lengthStr)
	if parseErr != nil || length < 0 || length > maxPacketSize {
		return nil, fmt.Errorf("%w: invalid packet length '%s'", ErrProtocolViolation, lengthStr)
	}

	payload := make([]byte, length+1)
	if _, readErr := io.ReadFull(r, payload); readErr != nil {
		return nil, fmt.Errorf("failed to read DBGp packet: %w", noEOF(readErr))
	}
	if payload[length] != 0 {
		return nil, fmt.Errorf("%w: packet is not NUL-terminated", ErrProtocolViolation)
	}

	return payload[:length], nil
}

// Reads the digits before the first NUL. The prefix is bounded, so a peer that never sends NUL cannot grow memory.
func readLengthPrefix(r *bufio.Reader) (string, error) {
	prefix := make([]byte, 0, maxLengthPrefix)
	for {
		b, readErr := r.ReadByte()
		if readErr != nil {
			if errors.Is(readErr, io.EOF) && len(prefix) == 0 {
				return "", io.EOF
			}
			return "", fmt.Errorf("failed to read DBGp packet length: %w", noEOF(readErr))
		}
		if b == 0 {
			return string(prefix), nil
		}
		if len(prefix) == maxLengthPrefix {
			return "", fmt.Errorf("%w: packet length prefix is longer than %d bytes", ErrProtocolViolation, maxLengthPrefix)
		}
		prefix = append(prefix, b)
	}
}

// A stream that ends in the middle of a frame is not a clean shutdown.
func noEOF(err error) error {
	if errors.Is(err, io.EOF) {
		return io.ErrUnexpectedEOF
	}
	return err
}

// WriteFrame writes a single engine packet. The IDE never sends framed packets;
// this exists for engine simulators used in tests and tools.
func WriteFrame(w io.Writer, payload []byte) error {
	frame := make([]byte, 0, len(payload)+16)
	frame = strconv.AppendInt(frame, int64(len(payload)), 10)
	frame = append(frame, 0)
	frame = append(frame, payload...)
	frame = append(frame, 0)
	_, err := w.Write(frame)
	return err
}
