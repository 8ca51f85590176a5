// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package link

import (
	"bytes"
	"time"
)

// Frame represents one decoded (or about to be encoded) link frame
type Frame struct {
	version   uint8
	frameType FrameType
	seq       uint8
	payload   []byte
	timestamp time.Time
}

// NewFrame creates a frame with the current protocol version.
// The payload is copied.
func NewFrame(frameType FrameType, seq uint8, payload []byte) *Frame {
	p := make([]byte, len(payload))
	copy(p, payload)
	return &Frame{
		version:   ProtocolVersion,
		frameType: frameType,
		seq:       seq,
		payload:   p,
		timestamp: time.Now(),
	}
}

// Version returns the protocol version byte
func (f *Frame) Version() uint8 {
	return f.version
}

// Type returns the frame type
func (f *Frame) Type() FrameType {
	return f.frameType
}

// Seq returns the sender-assigned sequence number
func (f *Frame) Seq() uint8 {
	return f.seq
}

// Payload returns the raw payload bytes
func (f *Frame) Payload() []byte {
	return f.payload
}

// Length returns the payload length
func (f *Frame) Length() int {
	return len(f.payload)
}

// Timestamp returns the time the frame was built or decoded
func (f *Frame) Timestamp() time.Time {
	return f.timestamp
}

// Equal reports whether two frames carry the same version, type, sequence
// and payload. Timestamps are ignored.
func (f *Frame) Equal(o *Frame) bool {
	if f == nil || o == nil {
		return f == o
	}
	return f.version == o.version &&
		f.frameType == o.frameType &&
		f.seq == o.seq &&
		bytes.Equal(f.payload, o.payload)
}

// Sequence is a per-sender frame counter that wraps from 255 to 0.
// The zero value starts at 0.
type Sequence struct {
	next uint8
}

// Next returns the current sequence number and advances the counter.
func (s *Sequence) Next() uint8 {
	n := s.next
	s.next++
	return n
}

// Peek returns the number the next call to Next will return.
func (s *Sequence) Peek() uint8 {
	return s.next
}
