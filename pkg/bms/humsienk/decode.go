// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package humsienk

import (
	"bytes"
	"encoding/binary"
	"math"

	"github.com/Thermoquad/bmsstat/pkg/bms"
)

// Offsets are absolute frame positions; data starts at 3.
const (
	// 0x21 battery info
	infoVoltage  = 3
	infoCurrent  = 7
	infoSOC      = 11
	infoSOH      = 12
	infoCharge   = 13
	infoDesign   = 17
	infoCycles   = 21
	infoTemps    = 23
	infoTempSize = 6
	infoSize     = infoTemps + infoTempSize

	// 0x20 operating status
	statusFlags      = 7
	statusChargeFET  = 7
	statusBalancer   = 8
	statusDischarge  = 9
	statusDisconnect = 14
	statusSize       = 17
	flagBit          = 0x80
	alarmMask        = 0xFF7F7F7F // operation status without FET and balance bits

	// 0x22 cell voltages
	cellSlots = 24
)

// DecodeInfo decodes the battery info response (0x21)
func DecodeInfo(f *bms.Frame) (*bms.Sample, error) {
	if f.Size() < infoSize+2 {
		return nil, bms.Decodingf(f, "info frame too short: %d bytes", f.Size())
	}
	b := f.Bytes(0, f.Size())

	temps := make([]float64, infoTempSize)
	for i := range temps {
		temps[i] = float64(int8(b[infoTemps+i]))
	}

	return &bms.Sample{
		Voltage:        bms.Ptr(float64(binary.LittleEndian.Uint32(b[infoVoltage:])) / 1000),
		Current:        bms.Ptr(float64(int32(binary.LittleEndian.Uint32(b[infoCurrent:]))) / 1000),
		BatteryLevel:   bms.Ptr(float64(b[infoSOC])),
		BatteryHealth:  bms.Ptr(float64(b[infoSOH])),
		CycleCharge:    bms.Ptr(float64(binary.LittleEndian.Uint32(b[infoCharge:])) / 1000),
		DesignCapacity: bms.Ptr(math.Round(float64(binary.LittleEndian.Uint32(b[infoDesign:])) / 1000)),
		Cycles:         bms.Ptr(int(binary.LittleEndian.Uint16(b[infoCycles:]))),
		TempValues:     temps,
	}, nil
}

// DecodeStatus decodes the operating status response (0x20). A non-zero
// cell disconnect bitmap raises the problem flag.
func DecodeStatus(f *bms.Frame) (*bms.Sample, error) {
	if f.Size() < statusDischarge+1+2 {
		return nil, bms.Decodingf(f, "status frame too short: %d bytes", f.Size())
	}
	b := f.Bytes(0, f.Size())

	s := &bms.Sample{
		ChargeFET:    bms.Ptr(b[statusChargeFET]&flagBit != 0),
		Balancer:     bms.Ptr(b[statusBalancer]&flagBit != 0),
		DischargeFET: bms.Ptr(b[statusDischarge]&flagBit != 0),
	}
	if len(b) >= statusFlags+4+2 {
		s.ProblemCode = bms.Ptr(uint64(binary.LittleEndian.Uint32(b[statusFlags:]) & alarmMask))
	}
	if len(b) >= statusSize+2 {
		disconnect := b[statusDisconnect : statusDisconnect+3]
		if disconnect[0]|disconnect[1]|disconnect[2] != 0 {
			s.Problem = bms.Ptr(true)
		}
	}
	return s, nil
}

// DecodeCells decodes the cell voltage response (0x22). Unused slots read
// zero and are skipped.
func DecodeCells(f *bms.Frame) (*bms.Sample, error) {
	data := f.Payload()
	var cells []float64
	for i := 0; i < cellSlots && 2*i+1 < len(data); i++ {
		mv := binary.LittleEndian.Uint16(data[2*i:])
		if mv == 0 {
			continue
		}
		cells = append(cells, float64(mv)/1000)
	}
	return &bms.Sample{CellVoltages: cells}, nil
}

// DecodeModel sets the model name from a 0x11 frame
func DecodeModel(f *bms.Frame, info *bms.DeviceInfo) error {
	if v := infoString(f); v != "" {
		info.Model = v
	}
	return nil
}

// DecodeVersion sets the hardware version from a 0xF5 frame
func DecodeVersion(f *bms.Frame, info *bms.DeviceInfo) error {
	if v := infoString(f); v != "" {
		info.HWVersion = v
	}
	return nil
}

// infoString reads a NUL-padded ASCII payload
func infoString(f *bms.Frame) string {
	p := f.Payload()
	if i := bytes.IndexByte(p, 0); i >= 0 {
		p = p[:i]
	}
	return string(bytes.TrimSpace(p))
}
