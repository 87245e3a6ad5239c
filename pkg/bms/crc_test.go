// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package bms

import "testing"

// ============================================================
// Checksum Tests
// ============================================================

func TestChecksums_KnownValues(t *testing.T) {
	check := []byte("123456789")
	tests := []struct {
		name     string
		fn       ChecksumFunc
		data     []byte
		expected uint16
	}{
		{"CRC-16/MODBUS check value", CRCModbus, check, 0x4B37},
		{"CRC-16/XMODEM check value", CRCXmodem, check, 0x31C3},
		{"CRC-16/MODBUS empty", CRCModbus, nil, 0xFFFF},
		{"CRC-16/XMODEM empty", CRCXmodem, nil, 0x0000},
		{"sum8 wraps", Sum8, []byte{0xFF, 0x02}, 0x01},
		{"sum16", Sum16, []byte{0xFF, 0xFF, 0x02}, 0x0200},
		{"sum16 empty", Sum16, nil, 0},
		{"complement of JBD info request", SumComplement16, []byte{0x03, 0x00}, 0xFFFD},
		{"complement of zero", SumComplement16, []byte{0x00}, 0x0000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.fn(tt.data); got != tt.expected {
				t.Errorf("got 0x%04X, want 0x%04X", got, tt.expected)
			}
		})
	}
}

func TestSign_MatchesKnownRequests(t *testing.T) {
	p := testProtocol()
	tests := []struct {
		name     string
		unsigned []byte
		expected []byte
	}{
		{"info request", []byte{0xDD, 0xA5, 0x03, 0x00, 0, 0, 0x77}, infoRequest},
		{"cells request", []byte{0xDD, 0xA5, 0x04, 0x00, 0, 0, 0x77}, cellRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := p.Sign(tt.unsigned)
			if FormatHex(got) != FormatHex(tt.expected) {
				t.Errorf("got %s, want %s", FormatHex(got), FormatHex(tt.expected))
			}
			if tt.unsigned[4] != 0 {
				t.Error("Sign modified its input")
			}
		})
	}
}
