// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package bms

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// Samples are encoded with Core Deterministic Encoding so equal samples
// always produce identical bytes
var sampleEncMode = func() cbor.EncMode {
	em, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	return em
}()

// EncodeSample encodes a sample as a deterministic CBOR map keyed by
// canonical field name. Absent fields are omitted.
func EncodeSample(s *Sample) ([]byte, error) {
	if s == nil {
		return nil, fmt.Errorf("nil sample")
	}
	data, err := sampleEncMode.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("failed to encode CBOR: %w", err)
	}
	return data, nil
}

// DecodeSample decodes a CBOR map produced by EncodeSample
func DecodeSample(data []byte) (*Sample, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty CBOR payload")
	}
	s := &Sample{}
	if err := cbor.Unmarshal(data, s); err != nil {
		return nil, fmt.Errorf("failed to decode CBOR: %w", err)
	}
	return s, nil
}
