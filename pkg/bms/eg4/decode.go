// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package eg4

import (
	"encoding/binary"

	"github.com/Thermoquad/bmsstat/pkg/bms"
)

// Absolute frame offsets, big-endian
const (
	offVoltage     = 3
	offCurrent     = 5
	offCells       = 7
	offTemperature = 39
	offCycleCharge = 45
	offSOC         = 51
	offProblem     = 55
	problemSize    = 6
	offCycles      = 61
	offCellCount   = 75
	minFrameSize   = offCellCount + 2 + 2

	maxCells = 16
)

// DecodeStatus decodes the pushed register dump
func DecodeStatus(f *bms.Frame) (*bms.Sample, error) {
	if f.Size() < minFrameSize {
		return nil, bms.Decodingf(f, "frame too short: %d bytes, need %d", f.Size(), minFrameSize)
	}
	b := f.Bytes(0, f.Size())

	var problem uint64
	for _, v := range b[offProblem : offProblem+problemSize] {
		problem = problem<<8 | uint64(v)
	}

	// The register block has room for 16 cells; larger packs report more
	count := min(int(binary.BigEndian.Uint16(b[offCellCount:])), maxCells)
	cells := make([]float64, count)
	for i := range cells {
		cells[i] = float64(binary.BigEndian.Uint16(b[offCells+2*i:])) / 1000
	}

	return &bms.Sample{
		Voltage:      bms.Ptr(float64(binary.BigEndian.Uint16(b[offVoltage:])) / 100),
		Current:      bms.Ptr(float64(int16(binary.BigEndian.Uint16(b[offCurrent:]))) / 100),
		Temperature:  bms.Ptr(float64(int16(binary.BigEndian.Uint16(b[offTemperature:])))),
		CycleCharge:  bms.Ptr(float64(binary.BigEndian.Uint16(b[offCycleCharge:])) / 10),
		BatteryLevel: bms.Ptr(float64(binary.BigEndian.Uint16(b[offSOC:]))),
		ProblemCode:  bms.Ptr(problem),
		Cycles:       bms.Ptr(int(binary.BigEndian.Uint32(b[offCycles:]))),
		CellCount:    bms.Ptr(count),
		CellVoltages: cells,
	}, nil
}
