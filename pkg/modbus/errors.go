// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package modbus

import "fmt"

// Error is a transport or integrity fault reported by the bus client.
type Error string

// Error implements the error interface
func (e Error) Error() string {
	return string(e)
}

// Bus client errors
const (
	ErrRequestTimedOut    Error = "request timed out"
	ErrShortFrame         Error = "short frame"
	ErrBadCRC             Error = "bad crc"
	ErrUnexpectedResponse Error = "unexpected slave address or function code"
	ErrBadByteCount       Error = "bad byte count"
	ErrInvalidQuantity    Error = "invalid register quantity"
	ErrConfigurationError Error = "configuration error"
)

// Exception codes defined by the Modbus application protocol
const (
	ExceptionIllegalFunction     uint8 = 0x01
	ExceptionIllegalDataAddress  uint8 = 0x02
	ExceptionIllegalDataValue    uint8 = 0x03
	ExceptionServerDeviceFailure uint8 = 0x04
	ExceptionAcknowledge         uint8 = 0x05
	ExceptionServerDeviceBusy    uint8 = 0x06
)

// ExceptionError is an exception reply from the slave.
type ExceptionError struct {
	Slave    uint8
	Function uint8 // request function code (without the 0x80 flag)
	Code     uint8
}

// Error implements the error interface
func (e *ExceptionError) Error() string {
	return fmt.Sprintf("slave %d exception on function 0x%02X: %s", e.Slave, e.Function, exceptionName(e.Code))
}

func exceptionName(code uint8) string {
	switch code {
	case ExceptionIllegalFunction:
		return "illegal function"
	case ExceptionIllegalDataAddress:
		return "illegal data address"
	case ExceptionIllegalDataValue:
		return "illegal data value"
	case ExceptionServerDeviceFailure:
		return "server device failure"
	case ExceptionAcknowledge:
		return "acknowledge"
	case ExceptionServerDeviceBusy:
		return "server device busy"
	default:
		return fmt.Sprintf("code 0x%02X", code)
	}
}
