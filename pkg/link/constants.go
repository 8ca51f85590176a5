// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package link implements the framed serial protocol spoken between the
// offload controller (motor bus side) and the main controller (display side).
//
// A frame on the wire is:
//
//	START(0xAA) | VERSION | TYPE | SEQ | LENGTH | PAYLOAD[LENGTH] | CRC8 | END(0x55)
//
// The CRC-8 checksum (polynomial 0x31) covers VERSION through the end of PAYLOAD. There is
// no byte stuffing; receivers resynchronize by scanning for START.
package link

// Protocol framing bytes
const (
	StartByte = 0xAA
	EndByte   = 0x55
)

// ProtocolVersion is the only version this package emits or accepts.
const ProtocolVersion = 0x01

// Size limits
const (
	MaxPayloadSize = 240
	HeaderSize     = 4                      // version, type, seq, length
	FrameOverhead  = 1 + HeaderSize + 1 + 1 // start + header + crc + end
	MaxFrameSize   = FrameOverhead + MaxPayloadSize
	MaxFields      = 32 // FieldMask is 32 bits wide
	FieldSize      = 4  // float32 per field
	MaskSize       = 4  // uint32 mask prefix in telemetry payloads
)

// CRC-8 configuration
const (
	crc8Polynomial = 0x31
	crc8Initial    = 0x00
)

// FrameType identifies the kind of payload a frame carries.
type FrameType uint8

// Frame types
const (
	TypeTelemetry FrameType = 0x01
	TypeCommand   FrameType = 0x02
	TypeResponse  FrameType = 0x03
	TypeEvent     FrameType = 0x04
)

// String returns the frame type name.
func (t FrameType) String() string {
	switch t {
	case TypeTelemetry:
		return "TELEMETRY"
	case TypeCommand:
		return "COMMAND"
	case TypeResponse:
		return "RESPONSE"
	case TypeEvent:
		return "EVENT"
	default:
		return "UNKNOWN"
	}
}

// Parser states (internal)
const (
	stateWait = iota
	stateVersion
	stateType
	stateSeq
	stateLength
	statePayload
	stateChecksum
	stateEnd
)

// EventCode identifies the kind of Event frame.
type EventCode uint8

// Event codes
const (
	EventLinkHealth   EventCode = 0x01
	EventBusFault     EventCode = 0x02
	EventBusRecovered EventCode = 0x03
)

// String returns the event name.
func (e EventCode) String() string {
	switch e {
	case EventLinkHealth:
		return "link_health"
	case EventBusFault:
		return "bus_fault"
	case EventBusRecovered:
		return "bus_recovered"
	default:
		return "unknown"
	}
}
