// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package transport provides bms.Transport implementations for BLE GATT
// links and for byte streams (serial ports and websocket bridges).
package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/Thermoquad/bmsstat/pkg/bms"
)

const (
	// chunkBuffer is the depth of the notification channel
	chunkBuffer = 64
	// readSize is the largest chunk a stream read produces
	readSize = 256
)

// ErrNotConnected is returned by Write before Connect or after the link dropped
var ErrNotConnected = errors.New("not connected")

// DialFunc opens the underlying byte stream
type DialFunc func(ctx context.Context) (io.ReadWriteCloser, error)

// Stream adapts a byte stream to bms.Transport. Every Read result becomes
// one chunk, so the assembler sees the stream split the way the OS
// delivered it.
type Stream struct {
	name string
	dial DialFunc
	log  logrus.FieldLogger

	mu     sync.Mutex
	conn   io.ReadWriteCloser
	chunks chan []byte
	done   chan struct{}
}

// NewStream creates a stream transport. The dial function runs on every
// Connect.
func NewStream(name string, dial DialFunc, log logrus.FieldLogger) *Stream {
	if log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		log = l
	}
	return &Stream{
		name: name,
		dial: dial,
		log:  log.WithField("transport", name),
	}
}

// String returns the connection description
func (s *Stream) String() string {
	return s.name
}

// Connect opens the stream and starts the reader
func (s *Stream) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn != nil {
		return nil
	}

	conn, err := s.dial(ctx)
	if err != nil {
		return &bms.TransportError{Op: "connect", Err: err}
	}

	s.conn = conn
	s.chunks = make(chan []byte, chunkBuffer)
	s.done = make(chan struct{})
	go s.readLoop(conn, s.chunks, s.done)

	s.log.Debug("stream connected")
	return nil
}

func (s *Stream) readLoop(conn io.Reader, chunks chan<- []byte, done chan<- struct{}) {
	defer close(done)
	defer close(chunks)

	buf := make([]byte, readSize)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			chunks <- chunk
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				s.log.WithError(err).Debug("stream read ended")
			}
			s.mu.Lock()
			if s.conn == conn {
				s.conn.Close()
				s.conn = nil
			}
			s.mu.Unlock()
			return
		}
	}
}

// Disconnect closes the stream and waits for the reader to exit
func (s *Stream) Disconnect() error {
	s.mu.Lock()
	conn := s.conn
	done := s.done
	chunks := s.chunks
	s.conn = nil
	s.mu.Unlock()

	var err error
	if conn != nil {
		err = conn.Close()
	}
	if done != nil {
		// Drain so a reader blocked on a full channel can finish
		go func() {
			for range chunks {
			}
		}()
		<-done
	}
	if err != nil {
		return &bms.TransportError{Op: "disconnect", Err: err}
	}
	return nil
}

// Write sends one request
func (s *Stream) Write(ctx context.Context, p []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return &bms.TransportError{Op: "write", Err: ErrNotConnected}
	}

	n, err := conn.Write(p)
	if err != nil {
		return &bms.TransportError{Op: "write", Err: err}
	}
	if n != len(p) {
		return &bms.TransportError{Op: "write", Err: fmt.Errorf("short write: %d of %d bytes", n, len(p))}
	}
	return nil
}

// Chunks returns the chunk channel of the current connection
func (s *Stream) Chunks() <-chan []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.chunks
}

// Connected reports whether the stream is open
func (s *Stream) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn != nil
}
