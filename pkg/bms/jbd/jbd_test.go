// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package jbd

import (
	"errors"
	"math"
	"testing"

	"github.com/Thermoquad/bmsstat/pkg/bms"
)

// ============================================================
// Captured Frames
// ============================================================

var (
	jbdInfo  = mustHex("dd 03 00 1d 06 18 fe e1 01 f2 01 f4 00 2a 2c 7c 00 00 00 00 00 00 80 64 03 04 03 0b 8b 0b 8a 0b 84 f8 84 77")
	jbdCells = mustHex("dd 04 00 08 0d 66 0d 61 0d 68 0d 59 fe 3c 77")
	jbdHW    = mustHex("dd 05 00 0a 30 31 32 33 34 35 36 37 38 39 fd e9 77")

	chinsInfo  = mustHex("dd 03 00 22 05 32 00 00 4c ae 75 30 00 1b 31 2c 00 00 00 00 00 00 29 41 03 04 01 0b 3d 00 00 00 75 30 4c ae 00 00 fb 37 77")
	chinsCells = mustHex("dd 04 00 08 0c fd 0c fd 0d 02 0c fb fc d0 77")
)

func mustHex(s string) []byte {
	b, err := bms.ParseHex(s)
	if err != nil {
		panic(err)
	}
	return b
}

// patch returns a re-signed copy of frame with the given bytes replaced
func patch(frame []byte, at map[int]byte) []byte {
	out := append([]byte(nil), frame...)
	for i, b := range at {
		out[i] = b
	}
	return Protocol.Sign(out)
}

// normalize validates and decodes frames the way a refresh cycle does
func normalize(t *testing.T, frames ...[]byte) (*bms.Sample, error) {
	t.Helper()
	v := Vendor()
	n := bms.NewNormalizer(v.Derive)
	for _, raw := range frames {
		f, err := v.Protocol.Validate(raw)
		if err != nil {
			t.Fatalf("frame rejected: %v", err)
		}
		for _, q := range v.Queries {
			if q.Response != f.Type() || q.Decode == nil {
				continue
			}
			part, err := q.Decode(f)
			if err != nil {
				t.Fatalf("decode %s: %v", q.Name, err)
			}
			n.Add(part)
		}
	}
	return n.Finish()
}

func assertFloat(t *testing.T, name string, got *float64, want float64) {
	t.Helper()
	if got == nil {
		t.Errorf("%s: absent, want %v", name, want)
		return
	}
	if math.Abs(*got-want) > 1e-6 {
		t.Errorf("%s: got %v, want %v", name, *got, want)
	}
}

func assertFloats(t *testing.T, name string, got, want []float64) {
	t.Helper()
	if len(got) != len(want) {
		t.Errorf("%s: got %v, want %v", name, got, want)
		return
	}
	for i := range want {
		if math.Abs(got[i]-want[i]) > 1e-6 {
			t.Errorf("%s[%d]: got %v, want %v", name, i, got[i], want[i])
		}
	}
}

// ============================================================
// Request Tests
// ============================================================

func TestCommand(t *testing.T) {
	tests := []struct {
		register byte
		want     string
	}{
		{CmdInfo, "DD A5 03 00 FF FD 77"},
		{CmdCells, "DD A5 04 00 FF FC 77"},
		{CmdHW, "DD A5 05 00 FF FB 77"},
	}
	for _, tt := range tests {
		if got := bms.FormatHex(Command(tt.register)); got != tt.want {
			t.Errorf("Command(0x%02X): got %s, want %s", tt.register, got, tt.want)
		}
	}
}

func TestVendor_Registers(t *testing.T) {
	if err := bms.NewRegistry().Register(Vendor()); err != nil {
		t.Fatalf("vendor rejected: %v", err)
	}
}

// ============================================================
// Decoder Tests
// ============================================================

func TestDecode_JBD(t *testing.T) {
	s, err := normalize(t, jbdInfo, jbdCells)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	assertFloat(t, "voltage", s.Voltage, 15.6)
	assertFloat(t, "current", s.Current, -2.87)
	assertFloat(t, "battery_level", s.BatteryLevel, 100)
	assertFloat(t, "cycle_charge", s.CycleCharge, 4.98)
	assertFloat(t, "design_capacity", s.DesignCapacity, 5)
	assertFloat(t, "temperature", s.Temperature, 22.133)
	assertFloat(t, "cycle_capacity", s.CycleCapacity, 77.688)
	assertFloat(t, "power", s.Power, -44.772)
	assertFloat(t, "delta_voltage", s.DeltaVoltage, 0.015)
	assertFloats(t, "cell_voltages", s.CellVoltages, []float64{3.43, 3.425, 3.432, 3.417})
	assertFloats(t, "temp_values", s.TempValues, []float64{22.4, 22.3, 21.7})

	if s.Cycles == nil || *s.Cycles != 42 {
		t.Errorf("cycles: got %v", s.Cycles)
	}
	if s.Runtime == nil || *s.Runtime != 6246 {
		t.Errorf("runtime: got %v, want 6246", s.Runtime)
	}
	if s.CellCount == nil || *s.CellCount != 4 || s.TempSensors == nil || *s.TempSensors != 3 {
		t.Errorf("counts: cells %v sensors %v", s.CellCount, s.TempSensors)
	}
	if *s.Charging || !*s.ChargeFET || !*s.DischargeFET || *s.Balancer || *s.Problem || *s.ProblemCode != 0 {
		t.Errorf("flags: %+v", s.Map())
	}
	if s.BalanceCurrent != nil {
		t.Error("plain JBD frames have no balance current")
	}
}

func TestDecode_Chins(t *testing.T) {
	s, err := normalize(t, chinsInfo, chinsCells)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	assertFloat(t, "voltage", s.Voltage, 13.3)
	assertFloat(t, "current", s.Current, 0.0)
	assertFloat(t, "battery_level", s.BatteryLevel, 65)
	assertFloat(t, "cycle_charge", s.CycleCharge, 196.3)
	assertFloat(t, "design_capacity", s.DesignCapacity, 300)
	assertFloat(t, "temperature", s.Temperature, 14.6)
	assertFloat(t, "cycle_capacity", s.CycleCapacity, 2610.79)
	assertFloat(t, "power", s.Power, 0.0)
	assertFloat(t, "delta_voltage", s.DeltaVoltage, 0.007)
	assertFloats(t, "cell_voltages", s.CellVoltages, []float64{3.325, 3.325, 3.33, 3.323})

	if s.Cycles == nil || *s.Cycles != 27 {
		t.Errorf("cycles: got %v", s.Cycles)
	}
	if s.Runtime != nil {
		t.Error("runtime must be absent at zero current")
	}
	if s.BalanceCurrent != nil {
		t.Errorf("balance current echoes cycle charge and must be dropped, got %v", *s.BalanceCurrent)
	}
}

func TestDecode_ChinsBalanceCurrent(t *testing.T) {
	info := patch(chinsInfo, map[int]byte{34: 0x00, 35: 0x64})
	s, err := normalize(t, info, chinsCells)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	assertFloat(t, "balance_current", s.BalanceCurrent, 1.00)
}

func TestDecode_ChinsBalanceCurrentMatchesOwnBytes(t *testing.T) {
	// balance current keeps its raw 0x4CAE while cycle charge moves away
	info := patch(chinsInfo, map[int]byte{9: 0xAD})
	s, err := normalize(t, info, chinsCells)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	assertFloat(t, "cycle_charge", s.CycleCharge, 196.29)
	assertFloat(t, "balance_current", s.BalanceCurrent, 196.30)
}

func TestDecode_ProblemCode(t *testing.T) {
	tests := []struct {
		name string
		at   map[int]byte
		want uint64
	}{
		{"first bit", map[int]byte{21: 0x01}, 1},
		{"last bit", map[int]byte{20: 0x80}, 1 << 15},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := normalize(t, patch(jbdInfo, tt.at), jbdCells)
			if err != nil {
				t.Fatal(err)
			}
			if *s.ProblemCode != tt.want || !*s.Problem {
				t.Errorf("problem_code: got %d (problem %v), want %d", *s.ProblemCode, *s.Problem, tt.want)
			}
		})
	}
}

func TestDecode_CellCountMismatch(t *testing.T) {
	cells := Protocol.Sign(mustHex("dd 04 00 06 0d 66 0d 61 0d 68 00 00 77"))
	_, err := normalize(t, jbdInfo, cells)
	if !errors.Is(err, bms.ErrCellCount) {
		t.Fatalf("expected cell count mismatch, got %v", err)
	}
}

func TestDecode_ShortInfo(t *testing.T) {
	f, err := Protocol.Validate(Protocol.Sign(mustHex("dd 03 00 04 06 18 fe e1 00 00 77")))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := DecodeInfo(f); !errors.Is(err, bms.ErrDecoding) {
		t.Errorf("expected decoding error, got %v", err)
	}
}

func TestDecode_TruncatedTemperatures(t *testing.T) {
	// Declares three sensors but carries only one
	info := append([]byte(nil), jbdInfo[:4+23+2]...)
	info[3] = 25
	info = Protocol.Sign(append(info, 0x00, 0x00, EndByte))
	f, err := Protocol.Validate(info)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := DecodeInfo(f); !errors.Is(err, bms.ErrDecoding) {
		t.Errorf("expected decoding error, got %v", err)
	}
}

func TestHardwareVersion(t *testing.T) {
	f, err := Protocol.Validate(jbdHW)
	if err != nil {
		t.Fatal(err)
	}
	if got := HardwareVersion(f); got != "0123456789" {
		t.Errorf("got %q", got)
	}
}

func TestVendor_HardwareIsInfoQuery(t *testing.T) {
	v := Vendor()
	for _, q := range v.Queries {
		if q.Response == CmdHW {
			t.Error("hardware version is read on every refresh cycle")
		}
	}
	if len(v.InfoQueries) != 1 || v.InfoQueries[0].Response != CmdHW {
		t.Fatalf("info queries: %+v", v.InfoQueries)
	}

	f, err := Protocol.Validate(jbdHW)
	if err != nil {
		t.Fatal(err)
	}
	info := bms.DeviceInfo{Manufacturer: v.Manufacturer}
	if err := v.InfoQueries[0].Decode(f, &info); err != nil {
		t.Fatal(err)
	}
	if info.HWVersion != "0123456789" || info.Manufacturer != "Jiabaida" {
		t.Errorf("device info: %+v", info)
	}
}

// ============================================================
// Validation Tests
// ============================================================

func TestValidate_RejectsBadFrames(t *testing.T) {
	wrongEnd := append([]byte(nil), jbdInfo...)
	wrongEnd[len(wrongEnd)-1] = StartByte

	wrongCRC := append([]byte{0xDD, 0x04, 0x00, 0x1D}, make([]byte, 31)...)
	wrongCRC = append(wrongCRC, EndByte)

	tests := []struct {
		name string
		raw  []byte
		want error
	}{
		{"request echo", Command(CmdInfo), bms.ErrType},
		{"wrong end", wrongEnd, bms.ErrMarker},
		{"wrong crc", wrongCRC, bms.ErrChecksum},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Protocol.Validate(tt.raw); !errors.Is(err, tt.want) {
				t.Errorf("got %v, want %v", err, tt.want)
			}
		})
	}
}

func TestAssembler_OversizedNotification(t *testing.T) {
	// Trailing padding after a frame is dropped as noise
	a := bms.NewAssembler(Protocol)
	stream := append(append([]byte(nil), jbdCells...), make([]byte, 12)...)
	var frames [][]byte
	for i := 0; i < len(stream); i += 20 {
		end := i + 20
		if end > len(stream) {
			end = len(stream)
		}
		got, err := a.Push(stream[i:end])
		if err != nil {
			t.Fatal(err)
		}
		frames = append(frames, got...)
	}
	if len(frames) != 1 {
		t.Fatalf("expected one frame, got %d", len(frames))
	}
}
