// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package transport

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"github.com/Thermoquad/bmsstat/pkg/bms"
)

// pipeDialer returns a DialFunc handing out the client end of a net.Pipe
// and a channel yielding the device end of each connection
func pipeDialer() (DialFunc, <-chan net.Conn) {
	devices := make(chan net.Conn, 4)
	dial := func(ctx context.Context) (io.ReadWriteCloser, error) {
		client, device := net.Pipe()
		devices <- device
		return client, nil
	}
	return dial, devices
}

func recvChunk(t *testing.T, chunks <-chan []byte) []byte {
	t.Helper()
	select {
	case c, ok := <-chunks:
		if !ok {
			t.Fatal("chunk channel closed")
		}
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for chunk")
	}
	return nil
}

func waitClosed(t *testing.T, chunks <-chan []byte) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-chunks:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("chunk channel not closed")
		}
	}
}

// ============================================================================
// Stream Tests
// ============================================================================

func TestStreamDeliversReads(t *testing.T) {
	dial, devices := pipeDialer()
	s := NewStream("pipe", dial, nil)

	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer s.Disconnect()

	if !s.Connected() {
		t.Fatal("expected connected")
	}

	device := <-devices
	want := []byte{0xDD, 0x03, 0x00, 0x1B}
	go device.Write(want)

	got := recvChunk(t, s.Chunks())
	if !bytes.Equal(got, want) {
		t.Errorf("chunk = % X, want % X", got, want)
	}
}

func TestStreamWrite(t *testing.T) {
	dial, devices := pipeDialer()
	s := NewStream("pipe", dial, nil)

	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer s.Disconnect()

	device := <-devices
	req := []byte{0xDD, 0xA5, 0x03, 0x00, 0xFF, 0xFD, 0x77}

	got := make(chan []byte, 1)
	go func() {
		buf := make([]byte, 32)
		n, _ := device.Read(buf)
		got <- buf[:n]
	}()

	if err := s.Write(context.Background(), req); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	select {
	case b := <-got:
		if !bytes.Equal(b, req) {
			t.Errorf("device read % X, want % X", b, req)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("device never received request")
	}
}

func TestStreamWriteNotConnected(t *testing.T) {
	dial, _ := pipeDialer()
	s := NewStream("pipe", dial, nil)

	err := s.Write(context.Background(), []byte{0x01})
	if !errors.Is(err, bms.ErrTransport) {
		t.Fatalf("expected transport error, got %v", err)
	}
	if !errors.Is(err, ErrNotConnected) {
		t.Errorf("expected ErrNotConnected, got %v", err)
	}
}

func TestStreamDisconnectClosesChunks(t *testing.T) {
	dial, _ := pipeDialer()
	s := NewStream("pipe", dial, nil)

	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	chunks := s.Chunks()

	if err := s.Disconnect(); err != nil {
		t.Fatalf("Disconnect failed: %v", err)
	}
	if s.Connected() {
		t.Error("expected disconnected")
	}
	waitClosed(t, chunks)

	// Second disconnect is a no-op
	if err := s.Disconnect(); err != nil {
		t.Errorf("second Disconnect failed: %v", err)
	}
}

func TestStreamRemoteClose(t *testing.T) {
	dial, devices := pipeDialer()
	s := NewStream("pipe", dial, nil)

	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	chunks := s.Chunks()

	device := <-devices
	device.Close()

	waitClosed(t, chunks)
	if s.Connected() {
		t.Error("expected disconnected after remote close")
	}
}

func TestStreamReconnect(t *testing.T) {
	dial, devices := pipeDialer()
	s := NewStream("pipe", dial, nil)

	for i := 0; i < 2; i++ {
		if err := s.Connect(context.Background()); err != nil {
			t.Fatalf("Connect %d failed: %v", i, err)
		}
		device := <-devices
		go device.Write([]byte{byte(i)})

		got := recvChunk(t, s.Chunks())
		if len(got) != 1 || got[0] != byte(i) {
			t.Errorf("connection %d: chunk = % X", i, got)
		}
		if err := s.Disconnect(); err != nil {
			t.Fatalf("Disconnect %d failed: %v", i, err)
		}
		device.Close()
	}
}

func TestStreamDialFailure(t *testing.T) {
	dialErr := errors.New("no such port")
	s := NewStream("broken", func(ctx context.Context) (io.ReadWriteCloser, error) {
		return nil, dialErr
	}, nil)

	err := s.Connect(context.Background())
	if !errors.Is(err, dialErr) {
		t.Fatalf("expected dial error, got %v", err)
	}
	var terr *bms.TransportError
	if !errors.As(err, &terr) || terr.Op != "connect" {
		t.Errorf("expected connect TransportError, got %v", err)
	}
	if s.Connected() {
		t.Error("expected disconnected")
	}
}

// ============================================================================
// Session Over Stream
// ============================================================================

// A scripted device that answers a one-query vendor through the stream
// transport, splitting every response in two writes
func TestStreamCarriesRefreshCycle(t *testing.T) {
	const respType = 0x01
	proto := &bms.Protocol{
		Name:          "echo",
		Framing:       bms.FramingLength,
		Header:        []byte{0xAA},
		Types:         []byte{respType},
		TypeOffset:    1,
		LengthOffset:  2,
		LengthSize:    1,
		Overhead:      3,
		PayloadOffset: 3,
		MaxFrameSize:  64,
	}
	v := &bms.Vendor{
		Key:      "echo",
		Protocol: proto,
		Queries: []bms.Query{{
			Name:     "status",
			Command:  []byte{0x55},
			Response: respType,
			Decode: func(f *bms.Frame) (*bms.Sample, error) {
				p := f.Payload()
				return &bms.Sample{
					Voltage:      bms.Ptr(float64(p[0]) / 10),
					Current:      bms.Ptr(0.0),
					BatteryLevel: bms.Ptr(float64(p[1])),
				}, nil
			},
		}},
		Timeout: time.Second,
	}

	dial, devices := pipeDialer()
	s := NewStream("pipe", dial, nil)

	go func() {
		device := <-devices
		buf := make([]byte, 16)
		if _, err := device.Read(buf); err != nil {
			return
		}
		device.Write([]byte{0xAA, respType})
		device.Write([]byte{0x02, 0x85, 0x4B})
	}()

	session := bms.NewSession(v, s)
	sample, err := session.Refresh(context.Background())
	if err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
	if sample.BatteryLevel == nil || *sample.BatteryLevel != 75 {
		t.Errorf("battery_level = %v, want 75", sample.BatteryLevel)
	}
	if sample.Voltage == nil || *sample.Voltage != 13.3 {
		t.Errorf("voltage = %v, want 13.3", sample.Voltage)
	}
	if s.Connected() {
		t.Error("expected link released after cycle")
	}
}
