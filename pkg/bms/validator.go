// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package bms

import (
	"bytes"
	"fmt"
	"time"
)

// Validate checks a raw frame against the protocol and returns an immutable
// Frame. Checks run in a fixed order: structure and declared length, then the
// type byte, then the checksum. The first failure is returned as a
// *ValidationError and no Frame is produced.
func (p *Protocol) Validate(raw []byte) (*Frame, error) {
	if err := p.validateStructure(raw); err != nil {
		return nil, err
	}

	msgType := raw[p.TypeOffset]
	if !p.AllowsType(msgType) {
		return nil, &ValidationError{
			Type:    AnomalyTypeMismatch,
			Message: fmt.Sprintf("%s: unexpected frame type 0x%02X", p.Name, msgType),
			Details: map[string]interface{}{"type": msgType, "allowed": p.Types},
		}
	}

	sumPos := len(raw) - len(p.Tail) - p.Checksum.Size
	var carried uint16
	if p.Checksum.Size > 0 {
		carried = readChecksum(raw[sumPos:sumPos+p.Checksum.Size], p.Checksum.LittleEndian)
	}
	if p.Checksum.Func != nil {
		calculated := p.Checksum.Func(raw[p.Checksum.Start:sumPos])
		if p.Checksum.Size == 1 {
			calculated &= 0xFF
		}
		if calculated != carried {
			return nil, &ValidationError{
				Type:    AnomalyChecksumMismatch,
				Message: fmt.Sprintf("%s: checksum mismatch: expected 0x%04X, got 0x%04X", p.Name, calculated, carried),
				Details: map[string]interface{}{"expected": calculated, "received": carried},
			}
		}
	}

	frame := &Frame{
		raw:       append([]byte(nil), raw...),
		msgType:   msgType,
		checksum:  carried,
		timestamp: time.Now(),
	}
	payloadEnd := sumPos
	if payloadEnd < p.PayloadOffset {
		payloadEnd = p.PayloadOffset
	}
	frame.payload = frame.raw[p.PayloadOffset:payloadEnd:payloadEnd]
	frame.length = len(frame.payload)
	if p.Framing == FramingLength {
		frame.length, _ = p.declaredLength(raw)
	}
	return frame, nil
}

// validateStructure covers minimum size, framing markers and the declared
// length
func (p *Protocol) validateStructure(raw []byte) error {
	if minimum := p.minSize(); len(raw) < minimum || len(raw) < p.PayloadOffset+len(p.Tail)+p.Checksum.Size {
		return &ValidationError{
			Type:    AnomalyLengthMismatch,
			Message: fmt.Sprintf("%s: frame too short (%d bytes, min %d)", p.Name, len(raw), minimum),
			Details: map[string]interface{}{"received": len(raw), "expected": minimum},
		}
	}
	if !bytes.HasPrefix(raw, p.Header) {
		return &ValidationError{
			Type:    AnomalyMarkerMismatch,
			Message: fmt.Sprintf("%s: invalid start of frame % X", p.Name, raw[:len(p.Header)]),
			Details: map[string]interface{}{"received": raw[:len(p.Header)], "expected": p.Header},
		}
	}
	if len(p.Tail) > 0 && !bytes.HasSuffix(raw, p.Tail) {
		return &ValidationError{
			Type:    AnomalyMarkerMismatch,
			Message: fmt.Sprintf("%s: invalid end of frame % X", p.Name, raw[len(raw)-len(p.Tail):]),
			Details: map[string]interface{}{"received": raw[len(raw)-len(p.Tail):], "expected": p.Tail},
		}
	}
	if p.Framing == FramingLength {
		declared, _ := p.declaredLength(raw)
		if expected := declared + p.Overhead; expected != len(raw) {
			return &ValidationError{
				Type:    AnomalyLengthMismatch,
				Message: fmt.Sprintf("%s: frame length %d does not match declared %d", p.Name, len(raw), expected),
				Details: map[string]interface{}{"received": len(raw), "expected": expected},
			}
		}
	}
	return nil
}
