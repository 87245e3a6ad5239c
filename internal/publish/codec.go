// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package publish

import (
	"encoding/json"
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/Thermoquad/bmsstat/pkg/bms"
)

// Message is the published envelope of one sample
type Message struct {
	Device    string      `json:"device"`
	Vendor    string      `json:"vendor"`
	Timestamp int64       `json:"ts"` // unix milliseconds
	Sample    *bms.Sample `json:"sample"`
}

// Codec serializes messages for the wire
type Codec interface {
	Name() string
	Encode(m *Message) ([]byte, error)
	Decode(data []byte) (*Message, error)
}

// CodecFor returns the codec registered under name
func CodecFor(name string) (Codec, error) {
	switch name {
	case "", "json":
		return JSONCodec{}, nil
	case "cbor":
		return newCBORCodec()
	}
	return nil, fmt.Errorf("unknown codec %q", name)
}

// JSONCodec writes one JSON object per message
type JSONCodec struct{}

func (JSONCodec) Name() string { return "json" }

func (JSONCodec) Encode(m *Message) ([]byte, error) {
	return json.Marshal(m)
}

func (JSONCodec) Decode(data []byte) (*Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// CBORCodec writes deterministic CBOR, keyed like the JSON form
type CBORCodec struct {
	em cbor.EncMode
}

func newCBORCodec() (CBORCodec, error) {
	em, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		return CBORCodec{}, err
	}
	return CBORCodec{em: em}, nil
}

func (CBORCodec) Name() string { return "cbor" }

func (c CBORCodec) Encode(m *Message) ([]byte, error) {
	return c.em.Marshal(m)
}

func (CBORCodec) Decode(data []byte) (*Message, error) {
	var m Message
	if err := cbor.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return &m, nil
}
