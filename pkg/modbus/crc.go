// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package modbus

// CRC16 computes the Modbus RTU checksum (initial 0xFFFF, reflected
// polynomial 0xA001). On the wire the low byte is sent first.
func CRC16(data []byte) uint16 {
	crc := uint16(0xFFFF)
	for _, b := range data {
		crc ^= uint16(b)
		for i := 0; i < 8; i++ {
			if crc&0x0001 != 0 {
				crc = (crc >> 1) ^ 0xA001
			} else {
				crc >>= 1
			}
		}
	}
	return crc
}

// appendCRC16 appends the checksum of frame, low byte first
func appendCRC16(frame []byte) []byte {
	crc := CRC16(frame)
	return append(frame, byte(crc), byte(crc>>8))
}

// checkCRC16 verifies the trailing two checksum bytes of a complete ADU
func checkCRC16(adu []byte) bool {
	if len(adu) < 3 {
		return false
	}
	n := len(adu) - 2
	crc := CRC16(adu[:n])
	return adu[n] == byte(crc) && adu[n+1] == byte(crc>>8)
}
