// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package bms

import "time"

// Frame is one validated protocol unit. Frames are only produced by
// Protocol.Validate, so every Frame a decoder sees has passed the vendor's
// structural, type and checksum checks.
type Frame struct {
	raw       []byte
	msgType   byte
	length    int
	payload   []byte
	checksum  uint16
	timestamp time.Time
}

// Type returns the frame's discriminator byte
func (f *Frame) Type() byte {
	return f.msgType
}

// Length returns the declared payload length
func (f *Frame) Length() int {
	return f.length
}

// Raw returns a copy of the complete frame bytes
func (f *Frame) Raw() []byte {
	return append([]byte(nil), f.raw...)
}

// Payload returns a copy of the payload region
func (f *Frame) Payload() []byte {
	return append([]byte(nil), f.payload...)
}

// Bytes returns raw frame bytes from start to end without copying.
// Out of range bounds are clamped; decoders use this for offset-based layouts.
func (f *Frame) Bytes(start, end int) []byte {
	if start < 0 {
		start = 0
	}
	if end > len(f.raw) {
		end = len(f.raw)
	}
	if start >= end {
		return nil
	}
	return f.raw[start:end:end]
}

// Size returns the total frame size in bytes
func (f *Frame) Size() int {
	return len(f.raw)
}

// Checksum returns the checksum carried by the frame
func (f *Frame) Checksum() uint16 {
	return f.checksum
}

// Timestamp returns the validation time
func (f *Frame) Timestamp() time.Time {
	return f.timestamp
}
