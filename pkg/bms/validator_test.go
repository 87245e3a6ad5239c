// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package bms

import (
	"errors"
	"testing"
)

// ============================================================
// Validator Tests
// ============================================================

func TestValidate_CapturedFrames(t *testing.T) {
	p := testProtocol()
	tests := []struct {
		name    string
		raw     []byte
		msgType byte
		length  int
	}{
		{"info", infoFrame, 0x03, 0x22},
		{"cells", cellFrame, 0x04, 0x08},
		{"built", buildFrame(0x05, []byte("0123456789")), 0x05, 10},
		{"empty payload", buildFrame(0x05, nil), 0x05, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := p.Validate(tt.raw)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if f.Type() != tt.msgType {
				t.Errorf("type: got 0x%02X, want 0x%02X", f.Type(), tt.msgType)
			}
			if f.Length() != tt.length || len(f.Payload()) != tt.length {
				t.Errorf("length: got %d (payload %d), want %d", f.Length(), len(f.Payload()), tt.length)
			}
			if f.Size() != len(tt.raw) {
				t.Errorf("size: got %d, want %d", f.Size(), len(tt.raw))
			}
		})
	}
}

func TestValidate_Anomalies(t *testing.T) {
	p := testProtocol()

	badSum := append([]byte(nil), cellFrame...)
	badSum[len(badSum)-2] ^= 0x01

	badEnd := append([]byte(nil), infoFrame...)
	badEnd[len(badEnd)-1] = 0xDD

	badStart := append([]byte(nil), cellFrame...)
	badStart[0] = 0xDE

	truncated := cellFrame[:len(cellFrame)-1]

	zeroed := append([]byte{0xDD, 0x04, 0x00, 0x1D}, make([]byte, 31)...)
	zeroed = append(zeroed, 0x77)

	longer := append([]byte(nil), cellFrame...)
	longer[3] = 0x09

	tests := []struct {
		name     string
		raw      []byte
		anomaly  AnomalyType
		sentinel error
	}{
		{"checksum bit flip", badSum, AnomalyChecksumMismatch, ErrChecksum},
		{"wrong end marker", badEnd, AnomalyMarkerMismatch, ErrMarker},
		{"wrong start marker", badStart, AnomalyMarkerMismatch, ErrMarker},
		{"request echo", infoRequest, AnomalyTypeMismatch, ErrType},
		{"truncated", truncated, AnomalyMarkerMismatch, ErrMarker},
		{"zeroed payload", zeroed, AnomalyChecksumMismatch, ErrChecksum},
		{"length field disagrees", longer, AnomalyLengthMismatch, ErrLength},
		{"too short", []byte{0xDD, 0x03, 0x77}, AnomalyLengthMismatch, ErrLength},
		{"empty", nil, AnomalyLengthMismatch, ErrLength},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := p.Validate(tt.raw)
			if f != nil {
				t.Fatal("expected no frame")
			}
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("expected *ValidationError, got %T: %v", err, err)
			}
			if verr.Type != tt.anomaly {
				t.Errorf("anomaly: got %s, want %s", verr.Type, tt.anomaly)
			}
			if !errors.Is(err, tt.sentinel) || !errors.Is(err, ErrValidation) {
				t.Errorf("errors.Is failed for %v", tt.sentinel)
			}
		})
	}
}

func TestValidate_LengthCheckedBeforeChecksum(t *testing.T) {
	p := testProtocol()
	// Declared length one past the payload: wrong length and wrong sum
	raw := append([]byte(nil), cellFrame...)
	raw[3] = 0x09
	_, err := p.Validate(raw)
	if !errors.Is(err, ErrLength) {
		t.Errorf("expected length mismatch first, got %v", err)
	}
}

func TestValidate_FrameIsIndependentCopy(t *testing.T) {
	p := testProtocol()
	raw := append([]byte(nil), cellFrame...)
	f, err := p.Validate(raw)
	if err != nil {
		t.Fatal(err)
	}
	raw[4] = 0xFF
	if f.Payload()[0] != 0x0C {
		t.Error("frame shares memory with the input buffer")
	}
	payload := f.Payload()
	payload[0] = 0xFF
	if f.Payload()[0] != 0x0C {
		t.Error("Payload did not return a copy")
	}
}

func TestValidate_SingleByteChecksum(t *testing.T) {
	p := &Protocol{
		Name:          "sentinel",
		Framing:       FramingSentinel,
		Header:        []byte{0x7E},
		Tail:          []byte{0x0D},
		TypeOffset:    1,
		PayloadOffset: 2,
		Checksum:      ChecksumSpec{Func: Sum8, Start: 1, Size: 1},
	}
	frame := p.Sign([]byte{0x7E, 0x01, 0xF0, 0x20, 0x00, 0x0D})
	if frame[4] != 0x11 {
		t.Fatalf("sum8: got 0x%02X, want 0x11", frame[4])
	}
	f, err := p.Validate(frame)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := f.Payload(); len(got) != 2 || got[0] != 0xF0 {
		t.Errorf("payload: got % X", got)
	}
}

func TestFrame_BytesClamps(t *testing.T) {
	f, err := testProtocol().Validate(cellFrame)
	if err != nil {
		t.Fatal(err)
	}
	if got := f.Bytes(4, 6); len(got) != 2 || got[0] != 0x0C || got[1] != 0xFD {
		t.Errorf("Bytes(4, 6): got % X", got)
	}
	if got := f.Bytes(10, 100); len(got) != len(cellFrame)-10 {
		t.Errorf("Bytes(10, 100): got %d bytes", len(got))
	}
	if got := f.Bytes(20, 30); got != nil {
		t.Errorf("Bytes past end: got % X", got)
	}
}
