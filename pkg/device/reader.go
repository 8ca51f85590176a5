// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package device

import (
	"context"
	"fmt"
	"math"
)

// RegisterSource reads raw holding registers from a bus slave.
// Implemented by modbus.Client and modbus.RemoteClient.
type RegisterSource interface {
	ReadHoldingRegisters(ctx context.Context, slave uint8, addr, count uint16) ([]uint16, error)
}

// Reading is the outcome of reading one register. Value is NaN when Err is set.
type Reading struct {
	Value float64
	Err   error
}

// OK reports whether the read succeeded
func (r Reading) OK() bool {
	return r.Err == nil
}

// Reader reads named physical values from one bus slave
type Reader struct {
	source RegisterSource
	regs   *RegisterMap
	slave  uint8
}

// NewReader binds a register source, a register table and a slave id
func NewReader(source RegisterSource, regs *RegisterMap, slave uint8) *Reader {
	return &Reader{source: source, regs: regs, slave: slave}
}

// Registers returns the register table
func (r *Reader) Registers() *RegisterMap {
	return r.regs
}

// ReadValue reads one register and converts it to its unit. Bus errors are
// returned unchanged.
func (r *Reader) ReadValue(ctx context.Context, name string) (float64, error) {
	spec, ok := r.regs.Lookup(name)
	if !ok {
		return 0, &UnknownRegisterError{Name: name}
	}
	raw, err := r.source.ReadHoldingRegisters(ctx, r.slave, spec.Address, 1)
	if err != nil {
		return 0, err
	}
	if len(raw) != 1 {
		return 0, fmt.Errorf("register %q: got %d words, want 1", name, len(raw))
	}
	return Convert(raw[0], spec), nil
}

// ReadValues reads each name independently; one failure does not stop the
// others.
func (r *Reader) ReadValues(ctx context.Context, names []string) map[string]Reading {
	out := make(map[string]Reading, len(names))
	for _, name := range names {
		v, err := r.ReadValue(ctx, name)
		if err != nil {
			out[name] = Reading{Value: math.NaN(), Err: err}
			continue
		}
		out[name] = Reading{Value: v}
	}
	return out
}

// GetAll reads every register in the table
func (r *Reader) GetAll(ctx context.Context) map[string]Reading {
	return r.ReadValues(ctx, r.regs.Names())
}
