// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package bms

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Sentinel errors for errors.Is. Every typed error below matches its class
// sentinel; ValidationError additionally matches the sentinel of its anomaly.
var (
	ErrTransport     = errors.New("transport error")
	ErrFraming       = errors.New("framing error")
	ErrValidation    = errors.New("validation error")
	ErrTimeout       = errors.New("timeout")
	ErrDecoding      = errors.New("decoding error")
	ErrPartialResult = errors.New("partial result")

	ErrLength    = errors.New("length mismatch")
	ErrMarker    = errors.New("marker mismatch")
	ErrType      = errors.New("type mismatch")
	ErrChecksum  = errors.New("checksum mismatch")
	ErrCellCount = errors.New("cell count mismatch")
)

// TransportError reports a failed connect, write or a lost connection.
// It is always fatal to the current refresh cycle.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("transport %s failed", e.Op)
	}
	return fmt.Sprintf("transport %s failed: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

func (e *TransportError) Is(target error) bool { return target == ErrTransport }

// FramingError reports an unsynchronized byte stream that exceeded the
// assembler's buffer guard
type FramingError struct {
	Protocol  string
	Buffered  int
	Discarded int
	Limit     int
}

func (e *FramingError) Error() string {
	return fmt.Sprintf("%s: no frame boundary within %d bytes (buffered=%d discarded=%d)",
		e.Protocol, e.Limit, e.Buffered, e.Discarded)
}

func (e *FramingError) Is(target error) bool { return target == ErrFraming }

// AnomalyType discriminates validation failures
type AnomalyType int

const (
	AnomalyLengthMismatch AnomalyType = iota
	AnomalyMarkerMismatch
	AnomalyTypeMismatch
	AnomalyChecksumMismatch
	AnomalyCellCount
)

// String returns the anomaly name
func (a AnomalyType) String() string {
	switch a {
	case AnomalyLengthMismatch:
		return "LENGTH_MISMATCH"
	case AnomalyMarkerMismatch:
		return "MARKER_MISMATCH"
	case AnomalyTypeMismatch:
		return "TYPE_MISMATCH"
	case AnomalyChecksumMismatch:
		return "CHECKSUM_MISMATCH"
	case AnomalyCellCount:
		return "CELL_COUNT_MISMATCH"
	default:
		return fmt.Sprintf("ANOMALY_%d", int(a))
	}
}

// ValidationError represents a frame or sample validation failure
type ValidationError struct {
	Type    AnomalyType
	Message string
	Details map[string]interface{}
}

// Error implements the error interface
func (v *ValidationError) Error() string {
	return v.Message
}

func (v *ValidationError) Is(target error) bool {
	switch target {
	case ErrValidation:
		return true
	case ErrLength:
		return v.Type == AnomalyLengthMismatch
	case ErrMarker:
		return v.Type == AnomalyMarkerMismatch
	case ErrType:
		return v.Type == AnomalyTypeMismatch
	case ErrChecksum:
		return v.Type == AnomalyChecksumMismatch
	case ErrCellCount:
		return v.Type == AnomalyCellCount
	}
	return false
}

// TimeoutError reports a query that received no matching response within
// its deadline on every attempt
type TimeoutError struct {
	Query      string
	Attempts   int
	PerAttempt time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("query %s: no response after %d attempts (%v each)", e.Query, e.Attempts, e.PerAttempt)
}

func (e *TimeoutError) Is(target error) bool { return target == ErrTimeout }

// Timeout reports true, matching net.Error
func (e *TimeoutError) Timeout() bool { return true }

// DecodingError reports a validated frame that violated a decoder's layout
// assumptions
type DecodingError struct {
	Query   string
	Type    byte
	Message string
}

func (e *DecodingError) Error() string {
	return fmt.Sprintf("decode %s (0x%02X): %s", e.Query, e.Type, e.Message)
}

func (e *DecodingError) Is(target error) bool { return target == ErrDecoding }

// Decodingf builds a DecodingError for a frame
func Decodingf(f *Frame, format string, args ...interface{}) *DecodingError {
	return &DecodingError{Type: f.Type(), Message: fmt.Sprintf(format, args...)}
}

// PartialResultError reports a finished cycle lacking mandatory fields
type PartialResultError struct {
	Missing []string
}

func (e *PartialResultError) Error() string {
	return fmt.Sprintf("sample incomplete: missing %s", strings.Join(e.Missing, ", "))
}

func (e *PartialResultError) Is(target error) bool { return target == ErrPartialResult }
