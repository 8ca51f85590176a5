// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package modbus

import (
	"context"
	"errors"
	"io"
	"net"
	"os"
	"testing"
	"time"

	smodbus "github.com/simonvetter/modbus"
	"github.com/stretchr/testify/require"
)

// fakeBus replays a canned reply, chunk bytes at a time, then times out.
type fakeBus struct {
	written []byte
	reply   []byte
	chunk   int
	flushed int
}

func (f *fakeBus) Write(p []byte) (int, error) {
	f.written = append(f.written, p...)
	return len(p), nil
}

func (f *fakeBus) Read(p []byte) (int, error) {
	if len(f.reply) == 0 {
		return 0, os.ErrDeadlineExceeded
	}
	n := len(p)
	if f.chunk > 0 && n > f.chunk {
		n = f.chunk
	}
	n = copy(p[:n], f.reply)
	f.reply = f.reply[n:]
	return n, nil
}

func (f *fakeBus) ResetInputBuffer() error {
	f.flushed++
	f.reply = nil
	return nil
}

func TestCRC16(t *testing.T) {
	require.Equal(t, uint16(0x4B37), CRC16([]byte("123456789")))
	require.Equal(t, uint16(0xFFFF), CRC16(nil))
	require.True(t, checkCRC16([]byte{0x01, 0x03, 0x02, 0x10, 0x68, 0xB4, 0x6A}))
	require.False(t, checkCRC16([]byte{0x01, 0x03, 0x02, 0x10, 0x68, 0x6A, 0xB4}))
}

func TestBuildReadRequest(t *testing.T) {
	req := BuildReadRequest(1, 0x0010, 1)
	require.Equal(t, []byte{0x01, 0x03, 0x00, 0x10, 0x00, 0x01, 0x85, 0xCF}, req)

	req = BuildReadRequest(1, 0x0010, 2)
	require.Equal(t, []byte{0x01, 0x03, 0x00, 0x10, 0x00, 0x02, 0xC5, 0xCE}, req)
}

func TestReadHoldingRegisters(t *testing.T) {
	tests := []struct {
		name  string
		count uint16
		reply []byte
		want  []uint16
	}{
		{"single register", 1, []byte{0x01, 0x03, 0x02, 0x10, 0x68, 0xB4, 0x6A}, []uint16{4200}},
		{"high bit set", 1, []byte{0x01, 0x03, 0x02, 0x80, 0x00, 0xD9, 0x84}, []uint16{0x8000}},
		{"two registers", 2, []byte{0x01, 0x03, 0x04, 0x00, 0x2A, 0xFF, 0xFF, 0xDA, 0x4B}, []uint16{0x002A, 0xFFFF}},
	}

	for _, tt := range tests {
		for _, chunk := range []int{0, 1, 2} {
			t.Run(tt.name, func(t *testing.T) {
				bus := &fakeBus{reply: append([]byte(nil), tt.reply...), chunk: chunk}
				c := NewClient(bus)

				values, err := c.ReadHoldingRegisters(context.Background(), 1, 0x0010, tt.count)
				require.NoError(t, err)
				require.Equal(t, tt.want, values)
				require.Equal(t, BuildReadRequest(1, 0x0010, tt.count), bus.written)
				require.Zero(t, bus.flushed)
			})
		}
	}
}

func TestReadHoldingRegisters_Failures(t *testing.T) {
	tests := []struct {
		name    string
		reply   []byte
		wantErr error
		flushed bool
	}{
		{"bad crc", []byte{0x01, 0x03, 0x02, 0x10, 0x68, 0xB4, 0x6B}, ErrBadCRC, true},
		{"no reply", nil, ErrRequestTimedOut, false},
		{"partial reply", []byte{0x01, 0x03, 0x02, 0x10}, ErrRequestTimedOut, false},
		{"wrong slave", []byte{0x02, 0x03, 0x02, 0x10, 0x68, 0xF0, 0x6A}, ErrUnexpectedResponse, true},
		{"wrong byte count", []byte{0x01, 0x03, 0x04, 0x10, 0x68, 0x54, 0x6B}, ErrBadByteCount, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bus := &fakeBus{reply: tt.reply}
			c := NewClient(bus)

			values, err := c.ReadHoldingRegisters(context.Background(), 1, 0x0010, 1)
			require.ErrorIs(t, err, tt.wantErr)
			require.Nil(t, values)
			require.Equal(t, tt.flushed, bus.flushed > 0)
		})
	}
}

func TestReadHoldingRegisters_Exception(t *testing.T) {
	bus := &fakeBus{reply: []byte{0x01, 0x83, 0x02, 0xC0, 0xF1}}
	c := NewClient(bus)

	_, err := c.ReadHoldingRegisters(context.Background(), 1, 0x0010, 1)
	var exc *ExceptionError
	require.ErrorAs(t, err, &exc)
	require.Equal(t, ExceptionIllegalDataAddress, exc.Code)
	require.Equal(t, uint8(1), exc.Slave)
	require.Contains(t, exc.Error(), "illegal data address")
}

func TestReadHoldingRegisters_InvalidQuantity(t *testing.T) {
	bus := &fakeBus{}
	c := NewClient(bus)

	_, err := c.ReadHoldingRegisters(context.Background(), 1, 0, 0)
	require.ErrorIs(t, err, ErrInvalidQuantity)
	_, err = c.ReadHoldingRegisters(context.Background(), 1, 0, MaxReadQuantity+1)
	require.ErrorIs(t, err, ErrInvalidQuantity)
	require.Empty(t, bus.written, "nothing may be sent for an invalid request")
}

func TestReadHoldingRegisters_CanceledContext(t *testing.T) {
	bus := &fakeBus{reply: []byte{0x01, 0x03, 0x02, 0x10, 0x68, 0xB4, 0x6A}}
	c := NewClient(bus)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.ReadHoldingRegisters(ctx, 1, 0x0010, 1)
	require.ErrorIs(t, err, context.Canceled)
	require.Empty(t, bus.written)
}

// TestReadHoldingRegisters_Pipe runs the client against a simulated slave
// over a real duplex connection with read deadlines.
func TestReadHoldingRegisters_Pipe(t *testing.T) {
	master, slave := net.Pipe()
	defer master.Close()
	defer slave.Close()

	go func() {
		req := make([]byte, requestLength)
		if _, err := io.ReadFull(slave, req); err != nil {
			return
		}
		// Reply in two pieces to exercise reassembly
		slave.Write([]byte{0x01, 0x03})
		slave.Write([]byte{0x02, 0x10, 0x68, 0xB4, 0x6A})
	}()

	c := NewClient(master, WithTimeout(time.Second))
	values, err := c.ReadHoldingRegisters(context.Background(), 1, 0x0010, 1)
	require.NoError(t, err)
	require.Equal(t, []uint16{4200}, values)
}

func TestReadHoldingRegisters_PipeTimeout(t *testing.T) {
	master, slave := net.Pipe()
	defer master.Close()
	defer slave.Close()

	// Silent slave: consume the request, never answer
	go io.Copy(io.Discard, slave)

	c := NewClient(master, WithTimeout(30*time.Millisecond))
	start := time.Now()
	_, err := c.ReadHoldingRegisters(context.Background(), 1, 0x0010, 1)
	require.ErrorIs(t, err, ErrRequestTimedOut)
	require.Less(t, time.Since(start), time.Second)
}

func TestTranslateError(t *testing.T) {
	var exc *ExceptionError
	require.ErrorAs(t, translateError(smodbus.ErrIllegalDataAddress, 4), &exc)
	require.Equal(t, ExceptionIllegalDataAddress, exc.Code)
	require.Equal(t, uint8(4), exc.Slave)

	require.ErrorIs(t, translateError(smodbus.ErrRequestTimedOut, 1), ErrRequestTimedOut)
	require.ErrorIs(t, translateError(smodbus.ErrBadCRC, 1), ErrBadCRC)
	require.ErrorIs(t, translateError(smodbus.ErrBadUnitId, 1), ErrUnexpectedResponse)

	other := errors.New("connection refused")
	require.Equal(t, other, translateError(other, 1))

	require.Equal(t, "slave 3 exception on function 0x03: code 0x0B",
		(&ExceptionError{Slave: 3, Function: 0x03, Code: 0x0B}).Error())
}

func TestIsRemoteURL(t *testing.T) {
	require.True(t, IsRemoteURL("tcp://10.0.0.5:502"))
	require.True(t, IsRemoteURL("rtuovertcp://gateway:4001"))
	require.False(t, IsRemoteURL("/dev/ttyUSB0"))
}
