// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package bms

import (
	"context"
	"encoding/binary"
	"errors"
	"math"
	"sync"
	"testing"
)

// ============================================================
// Test Protocol
// ============================================================

// testProtocol is a length-framed layout: DD type status len payload sum sum 77
func testProtocol() *Protocol {
	return &Protocol{
		Name:          "test",
		Framing:       FramingLength,
		Header:        []byte{0xDD},
		Tail:          []byte{0x77},
		LengthOffset:  3,
		LengthSize:    1,
		Overhead:      7,
		PayloadOffset: 4,
		TypeOffset:    1,
		Types:         []byte{0x03, 0x04, 0x05},
		Checksum:      ChecksumSpec{Func: SumComplement16, Start: 2, Size: 2},
	}
}

// buildFrame wraps a payload in the test layout with a valid checksum
func buildFrame(msgType byte, payload []byte) []byte {
	raw := []byte{0xDD, msgType, 0x00, byte(len(payload))}
	raw = append(raw, payload...)
	raw = append(raw, 0x00, 0x00, 0x77)
	return testProtocol().Sign(raw)
}

// Real device captures in the test layout
var (
	infoFrame = mustHex("dd 03 00 22 05 32 00 00 4c ae 75 30 00 1b 31 2c 00 00 00 00 00 00 29 41 03 04 01 0b 3d 00 00 00 75 30 4c ae 00 00 fb 37 77")
	cellFrame = mustHex("dd 04 00 08 0c fd 0c fd 0d 02 0c fb fc d0 77")
)

func mustHex(s string) []byte {
	b, err := ParseHex(s)
	if err != nil {
		panic(err)
	}
	return b
}

// infoPayload builds an info payload carrying voltage, current and SOC
func infoPayload(voltage, current float64, soc byte) []byte {
	p := make([]byte, 23)
	binary.BigEndian.PutUint16(p[0:], uint16(math.Round(voltage*100)))
	binary.BigEndian.PutUint16(p[2:], uint16(int16(math.Round(current*100))))
	p[19] = soc
	return p
}

func decodeTestInfo(f *Frame) (*Sample, error) {
	p := f.Payload()
	if len(p) < 20 {
		return nil, Decodingf(f, "payload too short: %d bytes", len(p))
	}
	return &Sample{
		Voltage:      Ptr(float64(binary.BigEndian.Uint16(p[0:])) / 100),
		Current:      Ptr(float64(int16(binary.BigEndian.Uint16(p[2:]))) / 100),
		BatteryLevel: Ptr(float64(p[19])),
	}, nil
}

func decodeTestCells(f *Frame) (*Sample, error) {
	p := f.Payload()
	cells := make([]float64, 0, len(p)/2)
	for i := 0; i+1 < len(p); i += 2 {
		cells = append(cells, float64(binary.BigEndian.Uint16(p[i:]))/1000)
	}
	return &Sample{CellVoltages: cells}, nil
}

var (
	infoRequest = []byte{0xDD, 0xA5, 0x03, 0x00, 0xFF, 0xFD, 0x77}
	cellRequest = []byte{0xDD, 0xA5, 0x04, 0x00, 0xFF, 0xFC, 0x77}
)

func testVendor() *Vendor {
	return &Vendor{
		Key:      "test",
		Protocol: testProtocol(),
		Queries: []Query{
			{Name: "info", Command: infoRequest, Response: 0x03, Decode: decodeTestInfo},
			{Name: "cells", Command: cellRequest, Response: 0x04, Decode: decodeTestCells},
		},
		Derive: DeriveAll,
	}
}

// ============================================================
// Fake Transport
// ============================================================

// fakeTransport answers writes through a responder. Chunks returned by the
// responder are queued before Write returns.
type fakeTransport struct {
	mu          sync.Mutex
	connected   bool
	chunks      chan []byte
	writes      [][]byte
	connects    int
	disconnects int
	connectErr  error
	writeErr    error
	respond     func(req []byte, n int) [][]byte
}

func newFakeTransport(respond func(req []byte, n int) [][]byte) *fakeTransport {
	return &fakeTransport{respond: respond}
}

// replyByType answers each request with the frames registered for its
// command byte
func replyByType(frames map[byte][][]byte) func([]byte, int) [][]byte {
	return func(req []byte, _ int) [][]byte {
		if len(req) < 3 {
			return nil
		}
		return frames[req[2]]
	}
}

func (f *fakeTransport) Connect(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connects++
	if f.connectErr != nil {
		return f.connectErr
	}
	f.chunks = make(chan []byte, 64)
	f.connected = true
	return nil
}

func (f *fakeTransport) Disconnect() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnects++
	if f.connected {
		close(f.chunks)
		f.connected = false
	}
	return nil
}

func (f *fakeTransport) Write(ctx context.Context, p []byte) error {
	f.mu.Lock()
	if f.writeErr != nil {
		f.mu.Unlock()
		return f.writeErr
	}
	f.writes = append(f.writes, append([]byte(nil), p...))
	n := len(f.writes)
	respond := f.respond
	f.mu.Unlock()

	if respond != nil {
		for _, chunk := range respond(p, n) {
			f.push(chunk)
		}
	}
	return nil
}

func (f *fakeTransport) Chunks() <-chan []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.chunks
}

func (f *fakeTransport) Connected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

// push injects a notification as if the device sent it
func (f *fakeTransport) push(chunk []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.connected {
		f.chunks <- append([]byte(nil), chunk...)
	}
}

func (f *fakeTransport) writeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.writes)
}

// split cuts b into chunks at the given offsets
func split(b []byte, at ...int) [][]byte {
	var out [][]byte
	prev := 0
	for _, i := range at {
		out = append(out, b[prev:i])
		prev = i
	}
	return append(out, b[prev:])
}

func approx(a, b float64) bool {
	return math.Abs(a-b) < 1e-6
}

func assertFloat(t *testing.T, name string, got *float64, want float64) {
	t.Helper()
	if got == nil {
		t.Errorf("%s: absent, want %v", name, want)
		return
	}
	if !approx(*got, want) {
		t.Errorf("%s: got %v, want %v", name, *got, want)
	}
}

var errLinkDown = errors.New("link down")
