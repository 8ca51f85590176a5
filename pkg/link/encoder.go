// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package link

import (
	"errors"
	"fmt"
)

// ErrPayloadTooLarge is returned when a payload exceeds MaxPayloadSize.
var ErrPayloadTooLarge = errors.New("link: payload too large")

// BuildFrame creates a complete wire-formatted frame.
// Returns the frame bytes ready for transmission, including START/END framing.
func BuildFrame(frameType FrameType, seq uint8, payload []byte) ([]byte, error) {
	if len(payload) > MaxPayloadSize {
		return nil, fmt.Errorf("%w: %d bytes (max %d)", ErrPayloadTooLarge, len(payload), MaxPayloadSize)
	}

	frame := make([]byte, 0, FrameOverhead+len(payload))
	frame = append(frame, StartByte)

	// The checksummed section starts right after START
	frame = append(frame, ProtocolVersion, uint8(frameType), seq, uint8(len(payload)))
	frame = append(frame, payload...)

	crc := CalculateCRC8(frame[1:])
	frame = append(frame, crc, EndByte)

	return frame, nil
}

// EncodeFrame encodes an existing Frame to wire format.
func EncodeFrame(f *Frame) ([]byte, error) {
	return BuildFrame(f.frameType, f.seq, f.payload)
}

// MustEncodeFrame encodes a Frame and panics on error.
// Only for frames whose payload size is known to be valid.
func MustEncodeFrame(f *Frame) []byte {
	data, err := EncodeFrame(f)
	if err != nil {
		panic(fmt.Sprintf("link: encode error: %v", err))
	}
	return data
}
