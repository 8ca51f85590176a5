// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package modbus

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	smodbus "github.com/simonvetter/modbus"
)

// RemoteClient reads holding registers through a networked gateway
// (tcp://, rtuovertcp://, udp://) or a host UART (rtu://) using the
// simonvetter/modbus stack. It is interchangeable with Client on a bench.
type RemoteClient struct {
	url    string
	client *smodbus.ModbusClient
	logger zerolog.Logger
	lock   sync.Mutex
}

// IsRemoteURL reports whether a bus address names a RemoteClient target
func IsRemoteURL(addr string) bool {
	for _, scheme := range []string{"tcp://", "rtuovertcp://", "rtuoverudp://", "udp://", "rtu://"} {
		if strings.HasPrefix(addr, scheme) {
			return true
		}
	}
	return false
}

// NewRemoteClient configures and opens a networked bus client
func NewRemoteClient(url string, speed int, timeout time.Duration, logger zerolog.Logger) (*RemoteClient, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	client, err := smodbus.NewClient(&smodbus.ClientConfiguration{
		URL:     url,
		Speed:   uint(speed),
		Timeout: timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to configure bus client %s: %w", url, err)
	}
	if err := client.Open(); err != nil {
		return nil, fmt.Errorf("failed to open bus client %s: %w", url, err)
	}
	return &RemoteClient{url: url, client: client, logger: logger}, nil
}

// ReadHoldingRegisters implements the same contract as Client
func (r *RemoteClient) ReadHoldingRegisters(ctx context.Context, slave uint8, addr, count uint16) ([]uint16, error) {
	if count == 0 || count > MaxReadQuantity {
		return nil, fmt.Errorf("%w: %d", ErrInvalidQuantity, count)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.lock.Lock()
	defer r.lock.Unlock()

	if err := r.client.SetUnitId(slave); err != nil {
		return nil, err
	}
	values, err := r.client.ReadRegisters(addr, count, smodbus.HOLDING_REGISTER)
	if err != nil {
		r.logger.Debug().Err(err).Str("url", r.url).Uint16("addr", addr).Msg("remote read failed")
		return nil, translateError(err, slave)
	}
	return values, nil
}

// Close closes the underlying connection
func (r *RemoteClient) Close() error {
	return r.client.Close()
}

// translateError maps simonvetter/modbus errors onto this package's errors
func translateError(err error, slave uint8) error {
	var se smodbus.Error
	if !errors.As(err, &se) {
		return err
	}
	exception := func(code uint8) error {
		return &ExceptionError{Slave: slave, Function: FuncReadHoldingRegisters, Code: code}
	}
	switch se {
	case smodbus.ErrRequestTimedOut:
		return ErrRequestTimedOut
	case smodbus.ErrBadCRC:
		return ErrBadCRC
	case smodbus.ErrShortFrame:
		return ErrShortFrame
	case smodbus.ErrBadUnitId, smodbus.ErrProtocolError:
		return fmt.Errorf("%w: %v", ErrUnexpectedResponse, se)
	case smodbus.ErrIllegalFunction:
		return exception(ExceptionIllegalFunction)
	case smodbus.ErrIllegalDataAddress:
		return exception(ExceptionIllegalDataAddress)
	case smodbus.ErrIllegalDataValue:
		return exception(ExceptionIllegalDataValue)
	case smodbus.ErrServerDeviceFailure:
		return exception(ExceptionServerDeviceFailure)
	case smodbus.ErrAcknowledge:
		return exception(ExceptionAcknowledge)
	case smodbus.ErrServerDeviceBusy:
		return exception(ExceptionServerDeviceBusy)
	default:
		return err
	}
}
