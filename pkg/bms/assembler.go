// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package bms

import "bytes"

// Assembler reconstructs frames from transport chunks. It owns a per-session
// buffer and never blocks; each Push returns every frame completed by the
// chunk, in arrival order.
type Assembler struct {
	proto     *Protocol
	buffer    []byte
	unsynced  int // bytes discarded since the last extracted frame
	discarded int // bytes discarded since creation or Reset
}

// NewAssembler creates an assembler for the given protocol
func NewAssembler(p *Protocol) *Assembler {
	return &Assembler{
		proto:  p,
		buffer: make([]byte, 0, p.maxFrameSize()),
	}
}

// Reset drops all buffered bytes and counters
func (a *Assembler) Reset() {
	a.buffer = a.buffer[:0]
	a.unsynced = 0
	a.discarded = 0
}

// Buffered returns the number of bytes waiting for a frame boundary
func (a *Assembler) Buffered() int {
	return len(a.buffer)
}

// Discarded returns the number of bytes dropped while resynchronizing
func (a *Assembler) Discarded() int {
	return a.discarded
}

// Push appends a chunk and extracts complete frames. Frames are returned as
// independent copies. A *FramingError is returned when the stream stays
// unsynchronized beyond the protocol's buffer guard; the buffer is cleared
// and frames completed earlier in the same chunk are still returned.
func (a *Assembler) Push(chunk []byte) ([][]byte, error) {
	a.buffer = append(a.buffer, chunk...)

	var frames [][]byte
	for {
		a.sync()
		if len(a.buffer) == 0 {
			break
		}

		total, complete := a.frameSize()
		if total < 0 {
			// Implausible header; drop it and look for the next one
			a.drop(1)
			continue
		}
		if !complete {
			break
		}

		frame := append([]byte(nil), a.buffer[:total]...)
		a.buffer = append(a.buffer[:0], a.buffer[total:]...)
		a.unsynced = 0
		frames = append(frames, frame)
	}

	if limit := a.proto.maxBuffer(); a.unsynced+len(a.buffer) > limit {
		err := &FramingError{
			Protocol:  a.proto.Name,
			Buffered:  len(a.buffer),
			Discarded: a.unsynced,
			Limit:     limit,
		}
		a.discarded += len(a.buffer)
		a.buffer = a.buffer[:0]
		a.unsynced = 0
		return frames, err
	}
	return frames, nil
}

// sync discards leading bytes until the buffer starts with the header. A
// trailing partial header is kept so a header split across chunks survives.
func (a *Assembler) sync() {
	header := a.proto.Header
	if len(header) == 0 || bytes.HasPrefix(a.buffer, header) {
		return
	}
	if i := bytes.Index(a.buffer, header); i > 0 {
		a.drop(i)
		return
	}
	keep := 0
	for n := len(header) - 1; n > 0; n-- {
		if n <= len(a.buffer) && bytes.HasSuffix(a.buffer, header[:n]) {
			keep = n
			break
		}
	}
	a.drop(len(a.buffer) - keep)
}

// frameSize returns the total size of the frame at the buffer head and
// whether it is fully buffered. A negative size marks an implausible header.
func (a *Assembler) frameSize() (int, bool) {
	p := a.proto
	if len(a.buffer) < len(p.Header) {
		return 0, false
	}

	if p.Framing == FramingSentinel {
		end := bytes.Index(a.buffer[len(p.Header):], p.Tail)
		if end < 0 {
			return 0, false
		}
		total := len(p.Header) + end + len(p.Tail)
		if total < p.minSize() {
			return -1, false
		}
		return total, true
	}

	declared, ok := p.declaredLength(a.buffer)
	if !ok {
		return 0, false
	}
	total := declared + p.Overhead
	if total > p.maxFrameSize() || total < p.minSize() {
		return -1, false
	}
	if len(a.buffer) < total {
		return total, false
	}
	// A header byte inside noise can declare a length that lands on a
	// non-tail byte; the real frame may start right after it
	if len(p.Tail) > 0 && !bytes.Equal(a.buffer[total-len(p.Tail):total], p.Tail) {
		return -1, false
	}
	return total, true
}

func (a *Assembler) drop(n int) {
	if n <= 0 {
		return
	}
	a.buffer = append(a.buffer[:0], a.buffer[n:]...)
	a.unsynced += n
	a.discarded += n
}
