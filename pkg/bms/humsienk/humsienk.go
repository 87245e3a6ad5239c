// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package humsienk supports Humsienk BMC batteries.
//
// Frame format:
//
//	AA cmd len data[len] sumLo sumHi
//
// The checksum is the 16-bit little-endian sum of cmd, len and data. A
// request is a frame with an empty data block; responses carry the command
// byte of their request.
package humsienk

import (
	"github.com/Thermoquad/bmsstat/pkg/bms"
)

// StartByte opens every frame
const StartByte = 0xAA

// Read commands
const (
	CmdInit   = 0x00
	CmdStatus = 0x20
	CmdInfo   = 0x21
	CmdCells  = 0x22

	CmdModel   = 0x11
	CmdVersion = 0xF5
)

// Protocol is the Humsienk frame layout
var Protocol = &bms.Protocol{
	Name:          "humsienk",
	Framing:       bms.FramingLength,
	Header:        []byte{StartByte},
	LengthOffset:  2,
	LengthSize:    1,
	Overhead:      5,
	PayloadOffset: 3,
	TypeOffset:    1,
	Types:         []byte{CmdInit, CmdStatus, CmdInfo, CmdCells, CmdModel, CmdVersion},
	Checksum:      bms.ChecksumSpec{Func: bms.Sum16, Start: 1, Size: 2, LittleEndian: true},
	MaxFrameSize:  0xFF + 5,
}

// Command builds a read request
func Command(cmd byte) []byte {
	return Protocol.Sign([]byte{StartByte, cmd, 0x00, 0x00, 0x00})
}

// Vendor returns the Humsienk vendor definition
func Vendor() *bms.Vendor {
	return &bms.Vendor{
		Key:          "humsienk",
		Manufacturer: "Humsienk",
		Model:        "BMC",
		Protocol:     Protocol,
		Matchers:     []bms.Matcher{{LocalName: "HS*", ServiceUUID: "0001"}},
		ServiceUUID:  "0001",
		NotifyUUID:   "0003",
		WriteUUID:    "0002",
		Queries: []bms.Query{
			{Name: "init", Command: Command(CmdInit), Response: CmdInit},
			{Name: "status", Command: Command(CmdStatus), Response: CmdStatus, Decode: DecodeStatus, Optional: true},
			{Name: "info", Command: Command(CmdInfo), Response: CmdInfo, Decode: DecodeInfo},
			{Name: "cells", Command: Command(CmdCells), Response: CmdCells, Decode: DecodeCells},
		},
		InfoQueries: []bms.InfoQuery{
			{Name: "model", Command: Command(CmdModel), Response: CmdModel, Decode: DecodeModel},
			{Name: "version", Command: Command(CmdVersion), Response: CmdVersion, Decode: DecodeVersion},
		},
		Derive: bms.DeriveCellCount | bms.DeriveDeltaVoltage | bms.DeriveCycleCapacity |
			bms.DerivePower | bms.DeriveCharging | bms.DeriveRuntime | bms.DeriveTemperature,
		AllowPartial: true,
	}
}
