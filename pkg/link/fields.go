// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package link

import (
	"encoding/binary"
	"fmt"
	"math"
	"math/bits"
)

// FieldMask selects fields of a FieldSet by position: bit i set means the
// i-th name of FieldSet.Names is present in a field block.
type FieldMask uint32

// Count returns the number of selected fields
func (m FieldMask) Count() int {
	return bits.OnesCount32(uint32(m))
}

// Has reports whether bit i is set
func (m FieldMask) Has(i int) bool {
	return i >= 0 && i < MaxFields && m&(1<<uint(i)) != 0
}

// FieldSet is an ordered list of register names split into a fast group
// (polled at the fast cadence) and a slow group. Fast names come first in
// the combined ordering.
type FieldSet struct {
	fast  []string
	slow  []string
	names []string
	index map[string]int
}

// NewFieldSet validates and builds a FieldSet.
// Names must be non-empty and unique, and there can be at most MaxFields.
func NewFieldSet(fast, slow []string) (*FieldSet, error) {
	total := len(fast) + len(slow)
	if total > MaxFields {
		return nil, fmt.Errorf("field set has %d names (max %d)", total, MaxFields)
	}

	fs := &FieldSet{
		fast:  append([]string(nil), fast...),
		slow:  append([]string(nil), slow...),
		names: make([]string, 0, total),
		index: make(map[string]int, total),
	}
	for _, name := range append(append([]string(nil), fast...), slow...) {
		if name == "" {
			return nil, fmt.Errorf("field set contains an empty name")
		}
		if _, dup := fs.index[name]; dup {
			return nil, fmt.Errorf("field %q listed twice", name)
		}
		fs.index[name] = len(fs.names)
		fs.names = append(fs.names, name)
	}
	return fs, nil
}

// Names returns the combined ordering (fast then slow)
func (fs *FieldSet) Names() []string {
	return append([]string(nil), fs.names...)
}

// Fast returns the fast group names
func (fs *FieldSet) Fast() []string {
	return append([]string(nil), fs.fast...)
}

// Slow returns the slow group names
func (fs *FieldSet) Slow() []string {
	return append([]string(nil), fs.slow...)
}

// Len returns the number of fields
func (fs *FieldSet) Len() int {
	return len(fs.names)
}

// Index returns the bit position of a name
func (fs *FieldSet) Index(name string) (int, bool) {
	i, ok := fs.index[name]
	return i, ok
}

// MaskOf returns the mask selecting the given names. Unknown names are ignored.
func (fs *FieldSet) MaskOf(names ...string) FieldMask {
	var m FieldMask
	for _, name := range names {
		if i, ok := fs.index[name]; ok {
			m |= 1 << uint(i)
		}
	}
	return m
}

// FastMask selects every fast field
func (fs *FieldSet) FastMask() FieldMask {
	return fs.MaskOf(fs.fast...)
}

// SlowMask selects every slow field
func (fs *FieldSet) SlowMask() FieldMask {
	return fs.MaskOf(fs.slow...)
}

// AllMask selects every field
func (fs *FieldSet) AllMask() FieldMask {
	return fs.MaskOf(fs.names...)
}

// validMask checks that no bit beyond the ordering is set
func validMask(names []string, mask FieldMask) error {
	if len(names) > MaxFields {
		return fmt.Errorf("%d field names (max %d)", len(names), MaxFields)
	}
	if len(names) < MaxFields && uint32(mask)>>uint(len(names)) != 0 {
		return fmt.Errorf("mask 0x%08X selects fields beyond %d names", uint32(mask), len(names))
	}
	return nil
}

// EncodeFieldBlock emits a little-endian float32 for each set bit of mask,
// in ascending bit order. Names missing from values are encoded as NaN.
// The block is exactly mask.Count()*FieldSize bytes.
func EncodeFieldBlock(names []string, mask FieldMask, values map[string]float64) ([]byte, error) {
	if err := validMask(names, mask); err != nil {
		return nil, err
	}

	block := make([]byte, 0, mask.Count()*FieldSize)
	for i, name := range names {
		if !mask.Has(i) {
			continue
		}
		v, ok := values[name]
		if !ok {
			v = math.NaN()
		}
		block = binary.LittleEndian.AppendUint32(block, math.Float32bits(float32(v)))
	}
	return block, nil
}

// DecodeFieldBlock is the inverse of EncodeFieldBlock. The returned map has
// one entry per set bit; NaN entries are kept so callers can tell "sent but
// unavailable" from "not sent".
func DecodeFieldBlock(names []string, mask FieldMask, block []byte) (map[string]float64, error) {
	if err := validMask(names, mask); err != nil {
		return nil, err
	}
	if want := mask.Count() * FieldSize; len(block) != want {
		return nil, fmt.Errorf("field block is %d bytes, mask needs %d", len(block), want)
	}

	values := make(map[string]float64, mask.Count())
	offset := 0
	for i, name := range names {
		if !mask.Has(i) {
			continue
		}
		bits := binary.LittleEndian.Uint32(block[offset : offset+FieldSize])
		values[name] = float64(math.Float32frombits(bits))
		offset += FieldSize
	}
	return values, nil
}

// EncodeTelemetry builds a Telemetry payload: the mask as a little-endian
// uint32 followed by the field block.
func EncodeTelemetry(names []string, mask FieldMask, values map[string]float64) ([]byte, error) {
	block, err := EncodeFieldBlock(names, mask, values)
	if err != nil {
		return nil, err
	}
	payload := make([]byte, MaskSize, MaskSize+len(block))
	binary.LittleEndian.PutUint32(payload, uint32(mask))
	return append(payload, block...), nil
}

// DecodeTelemetry splits a Telemetry payload into its mask and values.
func DecodeTelemetry(names []string, payload []byte) (FieldMask, map[string]float64, error) {
	if len(payload) < MaskSize {
		return 0, nil, fmt.Errorf("telemetry payload too short: %d bytes", len(payload))
	}
	mask := FieldMask(binary.LittleEndian.Uint32(payload[:MaskSize]))
	values, err := DecodeFieldBlock(names, mask, payload[MaskSize:])
	if err != nil {
		return 0, nil, err
	}
	return mask, values, nil
}
