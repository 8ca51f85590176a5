// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package link

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/rs/zerolog"
)

// Handler receives frames decoded by an Endpoint.
type Handler interface {
	HandleFrame(ctx context.Context, f *Frame)
}

// HandlerFunc is a func implementing Handler.
type HandlerFunc func(ctx context.Context, f *Frame)

// HandleFrame implements Handler.
func (fn HandlerFunc) HandleFrame(ctx context.Context, f *Frame) {
	fn(ctx, f)
}

// ErrEndpointClosed is returned to pending requests when Run exits.
var ErrEndpointClosed = errors.New("link: endpoint closed")

// Endpoint owns one side of a link: the byte stream, its Parser and the
// outgoing sequence counter.
type Endpoint struct {
	rw     io.ReadWriter
	logger zerolog.Logger

	parserMu sync.Mutex
	parser   *Parser

	writeMu sync.Mutex
	seq     Sequence

	pendingMu sync.Mutex
	pending   map[uint8]chan *Response
}

// NewEndpoint wraps a duplex byte stream
func NewEndpoint(rw io.ReadWriter, logger zerolog.Logger) *Endpoint {
	return &Endpoint{
		rw:      rw,
		logger:  logger,
		parser:  NewParser(),
		pending: make(map[uint8]chan *Response),
	}
}

// Counters returns the parser's fault counters
func (e *Endpoint) Counters() Counters {
	e.parserMu.Lock()
	defer e.parserMu.Unlock()
	return e.parser.Counters()
}

// send assigns the next sequence number, builds a frame with it and writes
// the frame. before is called with the sequence number before writing.
func (e *Endpoint) send(build func(seq uint8) (*Frame, error), before func(seq uint8)) (uint8, error) {
	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	seq := e.seq.Next()
	f, err := build(seq)
	if err != nil {
		return seq, err
	}
	data, err := EncodeFrame(f)
	if err != nil {
		return seq, err
	}
	if before != nil {
		before(seq)
	}
	if _, err := e.rw.Write(data); err != nil {
		return seq, fmt.Errorf("link write: %w", err)
	}
	e.logger.Debug().
		Str("type", f.Type().String()).
		Uint8("seq", seq).
		Int("len", f.Length()).
		Msg("frame sent")
	return seq, nil
}

// Send writes a frame of the given type and returns its sequence number
func (e *Endpoint) Send(frameType FrameType, payload []byte) (uint8, error) {
	return e.send(func(seq uint8) (*Frame, error) {
		if len(payload) > MaxPayloadSize {
			return nil, fmt.Errorf("%w: %d bytes (max %d)", ErrPayloadTooLarge, len(payload), MaxPayloadSize)
		}
		return NewFrame(frameType, seq, payload), nil
	}, nil)
}

// SendCommand writes a Command frame without waiting for its response
func (e *Endpoint) SendCommand(id CommandID, args map[int]interface{}) (uint8, error) {
	return e.send(func(seq uint8) (*Frame, error) {
		return NewCommand(seq, id, args)
	}, nil)
}

// Respond answers a decoded command
func (e *Endpoint) Respond(cmd *Command, status Status, body map[int]interface{}) error {
	_, err := e.send(func(seq uint8) (*Frame, error) {
		return NewResponse(seq, cmd.ID, status, cmd.Seq, body)
	}, nil)
	return err
}

// Emit writes an Event frame
func (e *Endpoint) Emit(code EventCode, fields map[int]interface{}) error {
	_, err := e.send(func(seq uint8) (*Frame, error) {
		return NewEvent(seq, code, fields)
	}, nil)
	return err
}

// Request sends a command and waits for the response that echoes its
// sequence number. Run must be active on the same Endpoint.
func (e *Endpoint) Request(ctx context.Context, id CommandID, args map[int]interface{}) (*Response, error) {
	ch := make(chan *Response, 1)
	seq, err := e.send(func(seq uint8) (*Frame, error) {
		return NewCommand(seq, id, args)
	}, func(seq uint8) {
		e.pendingMu.Lock()
		e.pending[seq] = ch
		e.pendingMu.Unlock()
	})
	defer func() {
		e.pendingMu.Lock()
		if e.pending[seq] == ch {
			delete(e.pending, seq)
		}
		e.pendingMu.Unlock()
	}()
	if err != nil {
		return nil, err
	}

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("command %s (seq=%d): %w", id, seq, ctx.Err())
	case resp, ok := <-ch:
		if !ok {
			return nil, ErrEndpointClosed
		}
		return resp, nil
	}
}

// deliver completes a pending request. Returns false if nothing waited for it.
func (e *Endpoint) deliver(resp *Response) bool {
	e.pendingMu.Lock()
	ch, ok := e.pending[resp.ReplyTo]
	if ok {
		delete(e.pending, resp.ReplyTo)
	}
	e.pendingMu.Unlock()
	if ok {
		ch <- resp
	}
	return ok
}

// closePending fails every outstanding request
func (e *Endpoint) closePending() {
	e.pendingMu.Lock()
	defer e.pendingMu.Unlock()
	for seq, ch := range e.pending {
		close(ch)
		delete(e.pending, seq)
	}
}

// Run reads from the stream until it fails or ctx is done, handing every
// decoded frame to h (h may be nil). Responses matching a pending Request
// are delivered to it as well.
//
// Run relies on the stream's own read timeout to notice ctx cancellation; a
// reader that blocks forever only returns once it is closed.
func (e *Endpoint) Run(ctx context.Context, h Handler) error {
	defer e.closePending()

	buf := make([]byte, 256)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		n, err := e.rw.Read(buf)
		if n > 0 {
			e.parserMu.Lock()
			frames := e.parser.Feed(buf[:n])
			e.parserMu.Unlock()

			for _, f := range frames {
				e.logger.Debug().
					Str("type", f.Type().String()).
					Uint8("seq", f.Seq()).
					Int("len", f.Length()).
					Msg("frame received")
				if f.Type() == TypeResponse {
					if resp, perr := ParseResponse(f); perr == nil {
						e.deliver(resp)
					}
				}
				if h != nil {
					h.HandleFrame(ctx, f)
				}
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("link read: %w", err)
		}
	}
}
