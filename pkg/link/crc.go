// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package link

// CalculateCRC8 computes the CRC-8 checksum (polynomial 0x31, MSB first,
// initial value 0x00, no final XOR) for the given data
func CalculateCRC8(data []byte) uint8 {
	crc := uint8(crc8Initial)
	for _, b := range data {
		crc ^= b
		for i := 0; i < 8; i++ {
			if crc&0x80 != 0 {
				crc = (crc << 1) ^ crc8Polynomial
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}
