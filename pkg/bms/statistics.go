// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package bms

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// Counters is a point-in-time copy of session statistics
type Counters struct {
	StartTime      time.Time
	LastUpdateTime time.Time

	TotalFrames    uint64
	ValidFrames    uint64
	LengthErrors   uint64
	MarkerErrors   uint64
	TypeErrors     uint64
	ChecksumErrors uint64
	Unsolicited    uint64 // valid frames not matching the pending request
	DiscardedBytes uint64
	DecodeErrors   uint64
	Retries        uint64
	Timeouts       uint64
	FramingErrors  uint64
	CyclesOK       uint64
	CyclesFailed   uint64

	// Rates (calculated)
	FrameRate float64 // frames/sec
	ErrorRate float64 // errors/sec
}

// RejectedFrames returns the number of frames dropped by validation
func (c Counters) RejectedFrames() uint64 {
	return c.LengthErrors + c.MarkerErrors + c.TypeErrors + c.ChecksumErrors
}

// Statistics tracks frame and cycle counters for one or more sessions.
// It is safe for concurrent use.
type Statistics struct {
	mu sync.Mutex
	c  Counters
}

// NewStatistics creates a new statistics tracker
func NewStatistics() *Statistics {
	now := time.Now()
	return &Statistics{c: Counters{StartTime: now, LastUpdateTime: now}}
}

func (s *Statistics) update(fn func(c *Counters)) {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.c)
	s.c.LastUpdateTime = time.Now()
}

// RecordFrame counts an assembled frame and the outcome of its validation
func (s *Statistics) RecordFrame(validationErr error) {
	s.update(func(c *Counters) {
		c.TotalFrames++
		var verr *ValidationError
		if !errors.As(validationErr, &verr) {
			c.ValidFrames++
			return
		}
		switch verr.Type {
		case AnomalyLengthMismatch:
			c.LengthErrors++
		case AnomalyMarkerMismatch:
			c.MarkerErrors++
		case AnomalyTypeMismatch:
			c.TypeErrors++
		case AnomalyChecksumMismatch:
			c.ChecksumErrors++
		}
	})
}

// RecordUnsolicited counts a valid frame nobody asked for
func (s *Statistics) RecordUnsolicited() {
	s.update(func(c *Counters) { c.Unsolicited++ })
}

// RecordDiscarded counts bytes dropped while resynchronizing
func (s *Statistics) RecordDiscarded(n int) {
	if n <= 0 {
		return
	}
	s.update(func(c *Counters) { c.DiscardedBytes += uint64(n) })
}

// RecordDecodeError counts a frame rejected by its decoder
func (s *Statistics) RecordDecodeError() {
	s.update(func(c *Counters) { c.DecodeErrors++ })
}

// RecordRetry counts a retransmission
func (s *Statistics) RecordRetry() {
	s.update(func(c *Counters) { c.Retries++ })
}

// RecordTimeout counts a query that exhausted its retries
func (s *Statistics) RecordTimeout() {
	s.update(func(c *Counters) { c.Timeouts++ })
}

// RecordFramingError counts an assembler guard trip
func (s *Statistics) RecordFramingError() {
	s.update(func(c *Counters) { c.FramingErrors++ })
}

// RecordCycle counts a finished refresh cycle
func (s *Statistics) RecordCycle(ok bool) {
	s.update(func(c *Counters) {
		if ok {
			c.CyclesOK++
		} else {
			c.CyclesFailed++
		}
	})
}

// Snapshot returns a copy of the counters with rates calculated
func (s *Statistics) Snapshot() Counters {
	if s == nil {
		return Counters{}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.c
	elapsed := time.Since(c.StartTime).Seconds()
	if elapsed > 0 {
		c.FrameRate = float64(c.TotalFrames) / elapsed
		errorCount := c.RejectedFrames() + c.DecodeErrors + c.FramingErrors + c.Timeouts
		c.ErrorRate = float64(errorCount) / elapsed
	}
	return c
}

// String returns a formatted statistics summary
func (s *Statistics) String() string {
	c := s.Snapshot()

	var validPercent, rejectedPercent float64
	if c.TotalFrames > 0 {
		validPercent = float64(c.ValidFrames) * 100.0 / float64(c.TotalFrames)
		rejectedPercent = float64(c.RejectedFrames()) * 100.0 / float64(c.TotalFrames)
	}

	elapsed := time.Since(c.StartTime)

	result := fmt.Sprintf("=== Statistics (%.0f seconds) ===\n", elapsed.Seconds())
	result += fmt.Sprintf("Total Frames:    %8d\n", c.TotalFrames)
	result += fmt.Sprintf("Valid Frames:    %8d (%.1f%%)\n", c.ValidFrames, validPercent)

	if c.RejectedFrames() > 0 {
		result += fmt.Sprintf("Rejected Frames: %8d (%.1f%%)\n", c.RejectedFrames(), rejectedPercent)
		if c.LengthErrors > 0 {
			result += fmt.Sprintf("  Length:           %5d\n", c.LengthErrors)
		}
		if c.MarkerErrors > 0 {
			result += fmt.Sprintf("  Marker:           %5d\n", c.MarkerErrors)
		}
		if c.TypeErrors > 0 {
			result += fmt.Sprintf("  Type:             %5d\n", c.TypeErrors)
		}
		if c.ChecksumErrors > 0 {
			result += fmt.Sprintf("  Checksum:         %5d\n", c.ChecksumErrors)
		}
	}
	if c.Unsolicited > 0 {
		result += fmt.Sprintf("Unsolicited:     %8d\n", c.Unsolicited)
	}
	if c.DiscardedBytes > 0 {
		result += fmt.Sprintf("Discarded Bytes: %8d\n", c.DiscardedBytes)
	}
	if c.DecodeErrors > 0 {
		result += fmt.Sprintf("Decode Errors:   %8d\n", c.DecodeErrors)
	}
	if c.Retries > 0 || c.Timeouts > 0 {
		result += fmt.Sprintf("Retries:         %8d (timeouts %d)\n", c.Retries, c.Timeouts)
	}
	if c.FramingErrors > 0 {
		result += fmt.Sprintf("Framing Errors:  %8d\n", c.FramingErrors)
	}
	result += fmt.Sprintf("Cycles:          %8d ok, %d failed\n", c.CyclesOK, c.CyclesFailed)
	result += fmt.Sprintf("Frame Rate:      %8.1f frames/sec\n", c.FrameRate)
	result += fmt.Sprintf("Error Rate:      %8.1f errors/sec\n", c.ErrorRate)
	result += "================================\n"

	return result
}

// Reset resets all statistics counters
func (s *Statistics) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	s.c = Counters{StartTime: now, LastUpdateTime: now}
}
