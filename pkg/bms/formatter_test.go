// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package bms

import (
	"strings"
	"testing"
)

func TestParseHex(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"dd 03 00", "DD 03 00", false},
		{"DD:A5:03", "DD A5 03", false},
		{"0xdda503", "DD A5 03", false},
		{"dd-a5\n03", "DD A5 03", false},
		{"dd a", "", true},
		{"zz", "", true},
	}
	for _, tt := range tests {
		got, err := ParseHex(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseHex(%q): err %v", tt.in, err)
			continue
		}
		if !tt.wantErr && FormatHex(got) != tt.want {
			t.Errorf("ParseHex(%q): got %s, want %s", tt.in, FormatHex(got), tt.want)
		}
	}
}

func TestFormatFrame(t *testing.T) {
	f, err := testProtocol().Validate(cellFrame)
	if err != nil {
		t.Fatal(err)
	}
	out := FormatFrame(f, testVendor())
	if !strings.Contains(out, "CELLS (0x04)") || !strings.Contains(out, "DD 04 00 08") {
		t.Errorf("unexpected output: %s", out)
	}
	if !strings.Contains(FormatFrame(f, nil), "UNKNOWN (0x04)") {
		t.Error("frame without vendor should be UNKNOWN")
	}
}

func TestFormatSample(t *testing.T) {
	s := &Sample{
		Voltage:      Ptr(13.3),
		Runtime:      Ptr(3725),
		ProblemCode:  Ptr(uint64(0x8000)),
		Charging:     Ptr(true),
		CellVoltages: []float64{3.325, 3.33},
	}
	out := FormatSample(s)
	for _, want := range []string{
		"voltage:", "13.300 V",
		"1h 2m 5s",
		"0x8000",
		"battery_charging: Yes",
		"[3.325, 3.330] V",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %q in:\n%s", want, out)
		}
	}
	if FormatSample(&Sample{}) != "  (no fields)\n" {
		t.Error("empty sample output")
	}
}
