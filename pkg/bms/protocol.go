// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package bms

import "bytes"

// Framing selects how the assembler finds frame boundaries
type Framing int

const (
	// FramingLength frames start with Header and carry a length field
	FramingLength Framing = iota
	// FramingSentinel frames run from Header to the first Tail
	FramingSentinel
)

// ChecksumSpec locates and computes a frame checksum. The checksum bytes sit
// immediately before the tail; the covered range runs from Start up to them.
type ChecksumSpec struct {
	Func         ChecksumFunc
	Start        int
	Size         int // 1 or 2
	LittleEndian bool
}

// Protocol describes a vendor's frame layout. It is read-only once built and
// safe to share between sessions.
type Protocol struct {
	Name    string
	Framing Framing
	Header  []byte
	Tail    []byte

	// Length field (FramingLength only)
	LengthOffset       int
	LengthSize         int // 1 or 2
	LengthLittleEndian bool
	Overhead           int // total frame size = declared length + Overhead

	PayloadOffset int
	TypeOffset    int
	Types         []byte // allowed response discriminators

	Checksum ChecksumSpec

	MaxFrameSize int
	MaxBuffer    int
}

// minSize returns the smallest frame the layout can describe
func (p *Protocol) minSize() int {
	n := len(p.Header) + len(p.Tail) + p.Checksum.Size
	if p.Framing == FramingLength && p.Overhead > n {
		n = p.Overhead
	}
	if p.TypeOffset+1 > n {
		n = p.TypeOffset + 1
	}
	return n
}

func (p *Protocol) maxFrameSize() int {
	if p.MaxFrameSize > 0 {
		return p.MaxFrameSize
	}
	return DefaultMaxFrameSize
}

func (p *Protocol) maxBuffer() int {
	if p.MaxBuffer > 0 {
		return p.MaxBuffer
	}
	return DefaultMaxBuffer
}

// declaredLength reads the length field from a buffer holding at least the
// field. ok is false if the buffer is still too short.
func (p *Protocol) declaredLength(buf []byte) (n int, ok bool) {
	end := p.LengthOffset + p.LengthSize
	if len(buf) < end {
		return 0, false
	}
	field := buf[p.LengthOffset:end]
	if p.LengthSize == 1 {
		return int(field[0]), true
	}
	if p.LengthLittleEndian {
		return int(field[0]) | int(field[1])<<8, true
	}
	return int(field[0])<<8 | int(field[1]), true
}

// AllowsType reports whether t is a response discriminator of this protocol
func (p *Protocol) AllowsType(t byte) bool {
	if len(p.Types) == 0 {
		return true
	}
	return bytes.IndexByte(p.Types, t) >= 0
}

// Sign computes the checksum of a frame whose checksum bytes are present but
// not yet filled in, and writes it. Used to build request frames and fixtures.
func (p *Protocol) Sign(frame []byte) []byte {
	out := append([]byte(nil), frame...)
	pos := len(out) - len(p.Tail) - p.Checksum.Size
	if pos < p.Checksum.Start || p.Checksum.Func == nil {
		return out
	}
	putChecksum(out[pos:pos+p.Checksum.Size], p.Checksum.Func(out[p.Checksum.Start:pos]), p.Checksum.LittleEndian)
	return out
}

func putChecksum(dst []byte, sum uint16, littleEndian bool) {
	if len(dst) == 1 {
		dst[0] = byte(sum)
		return
	}
	if littleEndian {
		dst[0], dst[1] = byte(sum), byte(sum>>8)
		return
	}
	dst[0], dst[1] = byte(sum>>8), byte(sum)
}

func readChecksum(src []byte, littleEndian bool) uint16 {
	if len(src) == 1 {
		return uint16(src[0])
	}
	if littleEndian {
		return uint16(src[0]) | uint16(src[1])<<8
	}
	return uint16(src[0])<<8 | uint16(src[1])
}
