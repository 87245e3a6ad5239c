// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package bms

import "time"

// DecodeFunc maps one validated frame to a partial field set. Decoders are
// pure: no I/O and no state kept between calls.
type DecodeFunc func(f *Frame) (*Sample, error)

// Query is one step of a refresh cycle
type Query struct {
	Name string
	// Command is written to the device. A nil Command makes the query
	// passive: the dispatcher only waits for a frame the device pushes.
	Command []byte
	// Response is the discriminator of the frame answering this query
	Response byte
	Decode   DecodeFunc
	// Optional queries may time out without failing the cycle
	Optional bool
}

// Passive reports whether the query writes nothing
func (q Query) Passive() bool {
	return q.Command == nil
}

// Vendor ties a protocol to the queries and decoders of one device family
type Vendor struct {
	Key          string
	Manufacturer string
	Model        string

	Protocol *Protocol
	Matchers []Matcher

	// GATT service and characteristics, as 16-bit or 128-bit UUID strings
	ServiceUUID string
	NotifyUUID  string
	WriteUUID   string

	Queries []Query
	Derive  Derived

	// InfoQueries read identity data once per session
	InfoQueries []InfoQuery

	// AllowPartial lets a cycle continue after any query times out. When
	// false only queries marked Optional may fail.
	AllowPartial bool

	Timeout    time.Duration // zero selects DefaultTimeout
	MaxRetries int           // zero selects DefaultMaxRetries
}

func (v *Vendor) timeout() time.Duration {
	if v.Timeout > 0 {
		return v.Timeout
	}
	return DefaultTimeout
}

func (v *Vendor) maxRetries() int {
	if v.MaxRetries <= 0 {
		return DefaultMaxRetries
	}
	return v.MaxRetries
}
