// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package jbd supports JBD (Jiabaida) smart BMS boards and the Chins
// batteries built on them.
//
// Frame format:
//
//	DD type status len payload[len] crcHi crcLo 77
//
// The checksum is 0x10000 minus the byte sum of status, len and payload.
// Requests use DD A5 cmd 00 crcHi crcLo 77; the device sometimes echoes a
// request back before answering, which validation rejects by type.
package jbd

import (
	"github.com/Thermoquad/bmsstat/pkg/bms"
)

// Frame markers
const (
	StartByte = 0xDD
	EndByte   = 0x77
	readCmd   = 0xA5
)

// Register addresses, which double as response types
const (
	CmdInfo  = 0x03
	CmdCells = 0x04
	CmdHW    = 0x05
)

// Protocol is the JBD frame layout
var Protocol = &bms.Protocol{
	Name:          "jbd",
	Framing:       bms.FramingLength,
	Header:        []byte{StartByte},
	Tail:          []byte{EndByte},
	LengthOffset:  3,
	LengthSize:    1,
	Overhead:      7,
	PayloadOffset: 4,
	TypeOffset:    1,
	Types:         []byte{CmdInfo, CmdCells, CmdHW},
	Checksum:      bms.ChecksumSpec{Func: bms.SumComplement16, Start: 2, Size: 2},
	MaxFrameSize:  0xFF + 7,
}

// Command builds the read request for a register
func Command(register byte) []byte {
	return Protocol.Sign([]byte{StartByte, readCmd, register, 0x00, 0x00, 0x00, EndByte})
}

// Local name patterns seen on JBD boards and their rebrands
var localNames = []string{
	"SP0?S*", "SP1?S*", "SP2?S*", "AP2?S*", "GJ-*", "SX1*", "DP04S*",
	"ECO-LFP*", "121?0*", "12200*", "12300*", "LT-*", "PKT*", "xiaoxiang*",
}

// Vendor returns the JBD vendor definition
func Vendor() *bms.Vendor {
	matchers := make([]bms.Matcher, 0, len(localNames))
	for _, name := range localNames {
		matchers = append(matchers, bms.Matcher{LocalName: name, ServiceUUID: "ff00"})
	}

	return &bms.Vendor{
		Key:          "jbd",
		Manufacturer: "Jiabaida",
		Model:        "smart BMS",
		Protocol:     Protocol,
		Matchers:     matchers,
		ServiceUUID:  "ff00",
		NotifyUUID:   "ff01",
		WriteUUID:    "ff02",
		Queries: []bms.Query{
			{Name: "info", Command: Command(CmdInfo), Response: CmdInfo, Decode: DecodeInfo},
			{Name: "cells", Command: Command(CmdCells), Response: CmdCells, Decode: DecodeCells},
		},
		InfoQueries: []bms.InfoQuery{
			{Name: "hw", Command: Command(CmdHW), Response: CmdHW, Decode: DecodeHardwareInfo},
		},
		Derive: bms.DeriveCellCount | bms.DeriveDeltaVoltage | bms.DeriveCycleCapacity |
			bms.DerivePower | bms.DeriveCharging | bms.DeriveRuntime | bms.DeriveTemperature,
	}
}
