// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package device maps named motor-controller registers to physical values.
package device

import (
	"fmt"
)

// RegisterSpec describes one holding register of the motor controller.
type RegisterSpec struct {
	Name    string
	Address uint16
	Scale   float64 // physical = raw / Scale
	Signed  bool    // raw is a two's-complement int16
	Unit    string
}

// RegisterMap is an immutable set of RegisterSpecs keyed by name
type RegisterMap struct {
	specs  []RegisterSpec
	byName map[string]int
}

// NewRegisterMap validates specs and builds a map. Names must be unique and
// scales positive; addresses may repeat.
func NewRegisterMap(specs ...RegisterSpec) (*RegisterMap, error) {
	m := &RegisterMap{
		specs:  make([]RegisterSpec, 0, len(specs)),
		byName: make(map[string]int, len(specs)),
	}
	for _, s := range specs {
		if s.Name == "" {
			return nil, fmt.Errorf("register at 0x%04X has no name", s.Address)
		}
		if _, dup := m.byName[s.Name]; dup {
			return nil, fmt.Errorf("register %q defined twice", s.Name)
		}
		if !(s.Scale > 0) {
			return nil, fmt.Errorf("register %q: scale must be positive, got %v", s.Name, s.Scale)
		}
		m.byName[s.Name] = len(m.specs)
		m.specs = append(m.specs, s)
	}
	return m, nil
}

// MustRegisterMap is NewRegisterMap for static tables; it panics on error.
func MustRegisterMap(specs ...RegisterSpec) *RegisterMap {
	m, err := NewRegisterMap(specs...)
	if err != nil {
		panic(err)
	}
	return m
}

// DefaultRegisterMap returns the stock motor controller register table
func DefaultRegisterMap() *RegisterMap {
	return MustRegisterMap(
		RegisterSpec{Name: "battery_voltage", Address: 0x0010, Scale: 100, Unit: "V"},
		RegisterSpec{Name: "battery_current", Address: 0x0011, Scale: 100, Signed: true, Unit: "A"},
		RegisterSpec{Name: "motor_rpm", Address: 0x0012, Scale: 1, Unit: "rpm"},
		RegisterSpec{Name: "speed", Address: 0x0013, Scale: 10, Unit: "km/h"},
		RegisterSpec{Name: "controller_temperature", Address: 0x0014, Scale: 10, Signed: true, Unit: "°C"},
		RegisterSpec{Name: "motor_temperature", Address: 0x0015, Scale: 10, Signed: true, Unit: "°C"},
		RegisterSpec{Name: "motor_power", Address: 0x0016, Scale: 1, Signed: true, Unit: "W"},
		RegisterSpec{Name: "throttle", Address: 0x0017, Scale: 10, Unit: "%"},
		RegisterSpec{Name: "assist_level", Address: 0x0018, Scale: 1, Unit: "level"},
		RegisterSpec{Name: "battery_soc", Address: 0x0019, Scale: 1, Unit: "%"},
		RegisterSpec{Name: "fault_code", Address: 0x001A, Scale: 1, Unit: "code"},
	)
}

// Lookup returns the spec for a name
func (m *RegisterMap) Lookup(name string) (RegisterSpec, bool) {
	i, ok := m.byName[name]
	if !ok {
		return RegisterSpec{}, false
	}
	return m.specs[i], true
}

// Names returns register names in definition order
func (m *RegisterMap) Names() []string {
	names := make([]string, len(m.specs))
	for i, s := range m.specs {
		names[i] = s.Name
	}
	return names
}

// Specs returns a copy of the table in definition order
func (m *RegisterMap) Specs() []RegisterSpec {
	return append([]RegisterSpec(nil), m.specs...)
}

// Len returns the number of registers
func (m *RegisterMap) Len() int {
	return len(m.specs)
}

// Convert turns a raw register word into its physical value
func Convert(raw uint16, spec RegisterSpec) float64 {
	if spec.Signed {
		return float64(int16(raw)) / spec.Scale
	}
	return float64(raw) / spec.Scale
}

// UnknownRegisterError reports a name missing from the RegisterMap.
type UnknownRegisterError struct {
	Name string
}

// Error implements the error interface
func (e *UnknownRegisterError) Error() string {
	return fmt.Sprintf("unknown register %q", e.Name)
}
