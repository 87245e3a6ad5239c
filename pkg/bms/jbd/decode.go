// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package jbd

import (
	"bytes"
	"encoding/binary"

	"github.com/Thermoquad/bmsstat/pkg/bms"
)

// Info payload offsets
const (
	offVoltage     = 0
	offCurrent     = 2
	offCycleCharge = 4
	offDesign      = 6
	offCycles      = 8
	offBalance     = 12
	offProtection  = 16
	offSOC         = 19
	offFET         = 20
	offCellCount   = 21
	offNTCCount    = 22
	offTemps       = 23

	// Chins extension block, following the temperatures
	extBalanceCurrent = 5
	extMinSize        = 7

	kelvinOffset = 2731 // 0.1 K
)

// DecodeInfo decodes the basic information register (0x03)
func DecodeInfo(f *bms.Frame) (*bms.Sample, error) {
	p := f.Payload()
	if len(p) < offTemps {
		return nil, bms.Decodingf(f, "info payload too short: %d bytes", len(p))
	}
	ntc := int(p[offNTCCount])
	extStart := offTemps + 2*ntc
	if len(p) < extStart {
		return nil, bms.Decodingf(f, "info payload holds %d bytes, %d temperature sensors need %d", len(p), ntc, extStart)
	}

	temps := make([]float64, ntc)
	for i := range temps {
		raw := int(binary.BigEndian.Uint16(p[offTemps+2*i:]))
		temps[i] = float64(raw-kelvinOffset) / 10
	}

	s := &bms.Sample{
		Voltage:        bms.Ptr(float64(binary.BigEndian.Uint16(p[offVoltage:])) / 100),
		Current:        bms.Ptr(float64(int16(binary.BigEndian.Uint16(p[offCurrent:]))) / 100),
		CycleCharge:    bms.Ptr(float64(binary.BigEndian.Uint16(p[offCycleCharge:])) / 100),
		DesignCapacity: bms.Ptr(float64(binary.BigEndian.Uint16(p[offDesign:])) / 100),
		Cycles:         bms.Ptr(int(binary.BigEndian.Uint16(p[offCycles:]))),
		Balancer:       bms.Ptr(binary.BigEndian.Uint32(p[offBalance:]) != 0),
		ProblemCode:    bms.Ptr(uint64(binary.BigEndian.Uint16(p[offProtection:]))),
		BatteryLevel:   bms.Ptr(float64(p[offSOC])),
		ChargeFET:      bms.Ptr(p[offFET]&0x01 != 0),
		DischargeFET:   bms.Ptr(p[offFET]&0x02 != 0),
		CellCount:      bms.Ptr(int(p[offCellCount])),
		TempSensors:    bms.Ptr(ntc),
		TempValues:     temps,
	}

	if ext := p[extStart:]; len(ext) >= extMinSize {
		balance := ext[extBalanceCurrent : extBalanceCurrent+2]
		if !echoesField(balance, p[offCycleCharge:offCycleCharge+2]) {
			s.BalanceCurrent = bms.Ptr(float64(int16(binary.BigEndian.Uint16(balance))) / 100)
		}
	}
	return s, nil
}

// echoesField reports whether an extension field repeats the raw bytes of a
// standard field. Some Chins firmware fills the extension block with copies
// of capacity registers instead of live readings.
func echoesField(ext, std []byte) bool {
	return bytes.Equal(ext, std)
}

// DecodeCells decodes the cell voltage register (0x04), u16 mV per cell
func DecodeCells(f *bms.Frame) (*bms.Sample, error) {
	p := f.Payload()
	if len(p)%2 != 0 {
		return nil, bms.Decodingf(f, "odd cell payload length %d", len(p))
	}
	cells := make([]float64, len(p)/2)
	for i := range cells {
		cells[i] = float64(binary.BigEndian.Uint16(p[2*i:])) / 1000
	}
	return &bms.Sample{CellVoltages: cells}, nil
}

// HardwareVersion returns the ASCII version string of a 0x05 frame
func HardwareVersion(f *bms.Frame) string {
	return string(bytes.TrimRight(f.Payload(), "\x00 "))
}

// DecodeHardwareInfo sets the hardware version from a 0x05 frame
func DecodeHardwareInfo(f *bms.Frame, info *bms.DeviceInfo) error {
	if v := HardwareVersion(f); v != "" {
		info.HWVersion = v
	}
	return nil
}
