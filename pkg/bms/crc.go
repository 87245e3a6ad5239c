// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package bms

import "github.com/sigurn/crc16"

// ChecksumFunc computes a frame checksum over the covered byte range
type ChecksumFunc func(data []byte) uint16

var (
	modbusTable = crc16.MakeTable(crc16.CRC16_MODBUS)
	xmodemTable = crc16.MakeTable(crc16.CRC16_XMODEM)
)

// CRCModbus computes CRC-16/MODBUS (poly 0x8005 reflected, init 0xFFFF)
func CRCModbus(data []byte) uint16 {
	return crc16.Checksum(data, modbusTable)
}

// CRCXmodem computes CRC-16/XMODEM (poly 0x1021, init 0x0000)
func CRCXmodem(data []byte) uint16 {
	return crc16.Checksum(data, xmodemTable)
}

// Sum8 returns the 8-bit additive checksum of data
func Sum8(data []byte) uint16 {
	var sum uint8
	for _, b := range data {
		sum += b
	}
	return uint16(sum)
}

// Sum16 returns the 16-bit additive checksum of data
func Sum16(data []byte) uint16 {
	var sum uint16
	for _, b := range data {
		sum += uint16(b)
	}
	return sum
}

// SumComplement16 returns 0x10000 minus the byte sum, truncated to 16 bits
func SumComplement16(data []byte) uint16 {
	return -Sum16(data)
}
