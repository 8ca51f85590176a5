// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package modbus implements the Modbus-RTU master used by the offload
// controller to read holding registers from the motor controller.
package modbus

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Protocol constants
const (
	FuncReadHoldingRegisters uint8 = 0x03
	exceptionFlag            uint8 = 0x80

	MaxReadQuantity = 125 // registers per read request
	DefaultTimeout  = 100 * time.Millisecond
	requestLength   = 8
	exceptionLength = 5
)

// deadliner is implemented by transports that can bound a read in time
// (net.Conn, SerialPort).
type deadliner interface {
	SetReadDeadline(t time.Time) error
}

// flusher is implemented by transports that can drop pending input.
type flusher interface {
	ResetInputBuffer() error
}

// Client is a Modbus-RTU master on a half-duplex serial transport.
// One Client owns one bus; requests are serialized.
type Client struct {
	transport io.ReadWriter
	timeout   time.Duration
	logger    zerolog.Logger
	lock      sync.Mutex
}

// Option configures a Client
type Option func(*Client)

// WithTimeout sets the response timeout (default 100 ms)
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithLogger sets the client logger
func WithLogger(l zerolog.Logger) Option {
	return func(c *Client) {
		c.logger = l
	}
}

// NewClient creates a bus client on an already-open transport
func NewClient(transport io.ReadWriter, opts ...Option) *Client {
	c := &Client{
		transport: transport,
		timeout:   DefaultTimeout,
		logger:    zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Timeout returns the configured response timeout
func (c *Client) Timeout() time.Duration {
	return c.timeout
}

// BuildReadRequest builds the read-holding-registers ADU:
// slave | 0x03 | addr hi | addr lo | count hi | count lo | crc lo | crc hi
func BuildReadRequest(slave uint8, addr, count uint16) []byte {
	req := make([]byte, 6, requestLength)
	req[0] = slave
	req[1] = FuncReadHoldingRegisters
	binary.BigEndian.PutUint16(req[2:4], addr)
	binary.BigEndian.PutUint16(req[4:6], count)
	return appendCRC16(req)
}

// ResponseLength returns the exact length of a successful reply to a read of
// count registers.
func ResponseLength(count uint16) int {
	return 3 + 2*int(count) + 2
}

// ReadHoldingRegisters reads count consecutive holding registers from slave.
// The reply must arrive in full within the client timeout (or the context
// deadline, whichever is sooner). No retries are made.
func (c *Client) ReadHoldingRegisters(ctx context.Context, slave uint8, addr, count uint16) ([]uint16, error) {
	if count == 0 || count > MaxReadQuantity {
		return nil, fmt.Errorf("%w: %d", ErrInvalidQuantity, count)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.lock.Lock()
	defer c.lock.Unlock()

	deadline := time.Now().Add(c.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if dl, ok := c.transport.(deadliner); ok {
		if err := dl.SetReadDeadline(deadline); err != nil {
			return nil, fmt.Errorf("set read deadline: %w", err)
		}
	}

	req := BuildReadRequest(slave, addr, count)
	if _, err := c.transport.Write(req); err != nil {
		return nil, fmt.Errorf("write request: %w", err)
	}

	adu := make([]byte, ResponseLength(count))

	// Header first: an exception reply is shorter than a data reply
	if err := c.readFull(ctx, adu[:3], deadline); err != nil {
		return nil, err
	}
	if adu[1] == FuncReadHoldingRegisters|exceptionFlag {
		return nil, c.readException(ctx, adu[:exceptionLength], slave, deadline)
	}

	if err := c.readFull(ctx, adu[3:], deadline); err != nil {
		return nil, err
	}

	if !checkCRC16(adu) {
		c.discard("bad crc", adu)
		return nil, ErrBadCRC
	}
	if adu[0] != slave || adu[1] != FuncReadHoldingRegisters {
		c.discard("unexpected response", adu)
		return nil, fmt.Errorf("%w: got slave %d function 0x%02X", ErrUnexpectedResponse, adu[0], adu[1])
	}
	if int(adu[2]) != 2*int(count) {
		c.discard("bad byte count", adu)
		return nil, fmt.Errorf("%w: got %d, want %d", ErrBadByteCount, adu[2], 2*int(count))
	}

	values := make([]uint16, count)
	for i := range values {
		values[i] = binary.BigEndian.Uint16(adu[3+2*i : 5+2*i])
	}

	c.logger.Debug().
		Uint8("slave", slave).
		Uint16("addr", addr).
		Uint16("count", count).
		Msg("read holding registers")

	return values, nil
}

// readException completes and validates an exception reply whose 3-byte
// header is already in buf.
func (c *Client) readException(ctx context.Context, buf []byte, slave uint8, deadline time.Time) error {
	if err := c.readFull(ctx, buf[3:], deadline); err != nil {
		return err
	}
	if !checkCRC16(buf) {
		c.discard("bad crc", buf)
		return ErrBadCRC
	}
	if buf[0] != slave {
		c.discard("unexpected response", buf)
		return fmt.Errorf("%w: got slave %d", ErrUnexpectedResponse, buf[0])
	}
	return &ExceptionError{Slave: slave, Function: FuncReadHoldingRegisters, Code: buf[2]}
}

// readFull reads exactly len(buf) bytes before deadline
func (c *Client) readFull(ctx context.Context, buf []byte, deadline time.Time) error {
	got := 0
	for got < len(buf) {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !time.Now().Before(deadline) {
			return fmt.Errorf("%w: %d of %d bytes", ErrRequestTimedOut, got, len(buf))
		}

		n, err := c.transport.Read(buf[got:])
		got += n
		if err == nil {
			continue
		}
		if isTimeout(err) {
			if got >= len(buf) {
				return nil
			}
			return fmt.Errorf("%w: %d of %d bytes", ErrRequestTimedOut, got, len(buf))
		}
		if errors.Is(err, io.EOF) && got < len(buf) {
			return fmt.Errorf("%w: %d of %d bytes", ErrShortFrame, got, len(buf))
		}
		if got < len(buf) {
			return fmt.Errorf("read response: %w", err)
		}
	}
	return nil
}

// discard drops whatever else is pending on the line so the next request
// starts clean.
func (c *Client) discard(reason string, adu []byte) {
	c.logger.Warn().
		Str("reason", reason).
		Hex("adu", adu).
		Msg("discarding bus response")
	if f, ok := c.transport.(flusher); ok {
		if err := f.ResetInputBuffer(); err != nil {
			c.logger.Debug().Err(err).Msg("input flush failed")
		}
	}
}

func isTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) || errors.Is(err, ErrRequestTimedOut) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
