// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package modbus

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"go.bug.st/serial"
)

// pollInterval bounds a single blocking read on the port so callers can
// observe deadlines and cancellation.
const pollInterval = 20 * time.Millisecond

// SerialConfig describes a UART
type SerialConfig struct {
	Device   string
	Speed    int
	DataBits int
	Parity   string // "N", "E" or "O"
	StopBits int
}

// SerialPort wraps a serial.Port with read-deadline support. Reads without a
// deadline return (0, nil) after pollInterval when no data arrives.
type SerialPort struct {
	port serial.Port

	mu       sync.Mutex
	deadline time.Time
}

// OpenSerial opens and configures a UART
func OpenSerial(cfg SerialConfig) (*SerialPort, error) {
	mode, err := serialMode(cfg)
	if err != nil {
		return nil, err
	}
	port, err := serial.Open(cfg.Device, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", cfg.Device, err)
	}
	if err := port.SetReadTimeout(pollInterval); err != nil {
		port.Close()
		return nil, fmt.Errorf("failed to set read timeout: %w", err)
	}
	return &SerialPort{port: port}, nil
}

func serialMode(cfg SerialConfig) (*serial.Mode, error) {
	mode := &serial.Mode{
		BaudRate: cfg.Speed,
		DataBits: cfg.DataBits,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	if mode.BaudRate == 0 {
		mode.BaudRate = 9600
	}
	if mode.DataBits == 0 {
		mode.DataBits = 8
	}

	switch strings.ToUpper(cfg.Parity) {
	case "", "N", "NONE":
	case "E", "EVEN":
		mode.Parity = serial.EvenParity
	case "O", "ODD":
		mode.Parity = serial.OddParity
	default:
		return nil, fmt.Errorf("%w: parity %q", ErrConfigurationError, cfg.Parity)
	}

	switch cfg.StopBits {
	case 0, 1:
	case 2:
		mode.StopBits = serial.TwoStopBits
	default:
		return nil, fmt.Errorf("%w: %d stop bits", ErrConfigurationError, cfg.StopBits)
	}
	return mode, nil
}

// Read reads from the port. Once the deadline has passed it fails with
// os.ErrDeadlineExceeded without touching the port.
func (p *SerialPort) Read(buf []byte) (int, error) {
	p.mu.Lock()
	deadline := p.deadline
	p.mu.Unlock()

	if !deadline.IsZero() && !time.Now().Before(deadline) {
		return 0, os.ErrDeadlineExceeded
	}
	return p.port.Read(buf)
}

// Write writes to the port
func (p *SerialPort) Write(buf []byte) (int, error) {
	return p.port.Write(buf)
}

// SetReadDeadline sets the deadline for future reads. The zero time clears it.
func (p *SerialPort) SetReadDeadline(t time.Time) error {
	p.mu.Lock()
	p.deadline = t
	p.mu.Unlock()
	return nil
}

// ResetInputBuffer drops bytes received but not yet read
func (p *SerialPort) ResetInputBuffer() error {
	return p.port.ResetInputBuffer()
}

// Close closes the port
func (p *SerialPort) Close() error {
	return p.port.Close()
}
