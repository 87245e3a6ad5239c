// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package eg4 supports EG4 LL batteries. The battery pushes a Modbus-style
// holding register dump on its own; nothing is ever written to it.
//
// Frame format:
//
//	01 03 len data[len] crcLo crcHi
package eg4

import (
	"github.com/Thermoquad/bmsstat/pkg/bms"
)

// ReadHolding is the Modbus function code of the pushed frame
const ReadHolding = 0x03

// Protocol is the EG4 frame layout
var Protocol = &bms.Protocol{
	Name:          "eg4",
	Framing:       bms.FramingLength,
	Header:        []byte{0x01, ReadHolding},
	LengthOffset:  2,
	LengthSize:    1,
	Overhead:      5,
	PayloadOffset: 3,
	TypeOffset:    1,
	Types:         []byte{ReadHolding},
	Checksum:      bms.ChecksumSpec{Func: bms.CRCModbus, Start: 0, Size: 2, LittleEndian: true},
	MaxFrameSize:  0xFF + 5,
}

// Vendor returns the EG4 vendor definition
func Vendor() *bms.Vendor {
	return &bms.Vendor{
		Key:          "eg4",
		Manufacturer: "EG4 electronics",
		Model:        "LL",
		Protocol:     Protocol,
		Matchers:     []bms.Matcher{{ServiceUUID: "1000"}},
		ServiceUUID:  "1000",
		NotifyUUID:   "1002",
		Queries: []bms.Query{
			{Name: "status", Response: ReadHolding, Decode: DecodeStatus},
		},
		Derive: bms.DeriveCharging | bms.DeriveCycleCapacity | bms.DeriveDeltaVoltage |
			bms.DerivePower | bms.DeriveRuntime,
	}
}
