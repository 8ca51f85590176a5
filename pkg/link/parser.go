// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package link

import "time"

// Counters holds the parser's integrity fault counters.
type Counters struct {
	Framing uint64 // END byte missing after checksum
	Length  uint64 // declared length above MaxPayloadSize
	CRC     uint64 // checksum mismatch
	Frames  uint64 // frames emitted
}

// Errors returns the sum of the three fault counters.
func (c Counters) Errors() uint64 {
	return c.Framing + c.Length + c.CRC
}

// Parser reassembles frames from a byte stream.
//
// Parser never blocks and never returns errors: every violation resets it to
// scanning for START and increments at most one counter. A Parser belongs to
// exactly one receiving side of one link and is not safe for concurrent use.
type Parser struct {
	state     int
	header    [HeaderSize]byte
	payload   []byte
	remaining int
	counters  Counters
}

// NewParser creates a new link parser
func NewParser() *Parser {
	return &Parser{
		state:   stateWait,
		payload: make([]byte, 0, MaxPayloadSize),
	}
}

// Reset returns the parser to scanning for START. Counters are kept.
func (p *Parser) Reset() {
	p.state = stateWait
	p.payload = p.payload[:0]
	p.remaining = 0
}

// Counters returns a copy of the fault counters
func (p *Parser) Counters() Counters {
	return p.counters
}

// ResetCounters zeroes the fault counters
func (p *Parser) ResetCounters() {
	p.counters = Counters{}
}

// Feed processes a batch of bytes and returns every frame they complete,
// in order. The result is empty when no frame completed.
func (p *Parser) Feed(data []byte) []*Frame {
	var frames []*Frame
	for _, b := range data {
		if f := p.FeedByte(b); f != nil {
			frames = append(frames, f)
		}
	}
	return frames
}

// FeedByte processes a single byte through the parser state machine.
// Returns a completed frame, or nil if no frame completed on this byte.
func (p *Parser) FeedByte(b byte) *Frame {
	switch p.state {
	case stateWait:
		// Anything other than START is line noise
		if b == StartByte {
			p.payload = p.payload[:0]
			p.state = stateVersion
		}
		return nil

	case stateVersion:
		// A repeated START begins a new frame
		if b == StartByte {
			p.payload = p.payload[:0]
			return nil
		}
		// Foreign or legacy senders are dropped without counting a fault
		if b != ProtocolVersion {
			p.Reset()
			return nil
		}
		p.header[0] = b
		p.state = stateType
		return nil

	case stateType:
		p.header[1] = b
		p.state = stateSeq
		return nil

	case stateSeq:
		p.header[2] = b
		p.state = stateLength
		return nil

	case stateLength:
		if b > MaxPayloadSize {
			p.counters.Length++
			p.Reset()
			return nil
		}
		p.header[3] = b
		p.remaining = int(b)
		if p.remaining == 0 {
			p.state = stateChecksum
		} else {
			p.state = statePayload
		}
		return nil

	case statePayload:
		p.payload = append(p.payload, b)
		p.remaining--
		if p.remaining == 0 {
			p.state = stateChecksum
		}
		return nil

	case stateChecksum:
		if b != p.checksum() {
			p.counters.CRC++
			p.Reset()
			return nil
		}
		p.state = stateEnd
		return nil

	case stateEnd:
		if b != EndByte {
			p.counters.Framing++
			p.Reset()
			return nil
		}
		f := p.frame()
		p.counters.Frames++
		p.Reset()
		return f

	default:
		p.Reset()
		return nil
	}
}

// checksum computes CRC8 over the collected header and payload
func (p *Parser) checksum() uint8 {
	data := make([]byte, 0, HeaderSize+len(p.payload))
	data = append(data, p.header[:]...)
	data = append(data, p.payload...)
	return CalculateCRC8(data)
}

// frame builds an immutable Frame from the collected fields
func (p *Parser) frame() *Frame {
	payload := make([]byte, len(p.payload))
	copy(payload, p.payload)
	return &Frame{
		version:   p.header[0],
		frameType: FrameType(p.header[1]),
		seq:       p.header[2],
		payload:   payload,
		timestamp: time.Now(),
	}
}
