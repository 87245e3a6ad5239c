// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package bms

import "context"

// DeviceInfo identifies the hardware behind a session. Empty fields were not
// reported.
type DeviceInfo struct {
	Manufacturer string `json:"manufacturer,omitempty"`
	Model        string `json:"model,omitempty"`
	HWVersion    string `json:"hw_version,omitempty"`
	SWVersion    string `json:"sw_version,omitempty"`
	Serial       string `json:"serial_number,omitempty"`
}

// InfoDecodeFunc copies the identity fields of one frame into info
type InfoDecodeFunc func(f *Frame, info *DeviceInfo) error

// InfoQuery is a request answered with identity data. Info queries run once
// per session rather than on every refresh cycle; a timeout leaves the
// corresponding fields empty.
type InfoQuery struct {
	Name     string
	Command  []byte
	Response byte
	Decode   InfoDecodeFunc
}

func (q InfoQuery) query() Query {
	return Query{Name: q.Name, Command: q.Command, Response: q.Response, Optional: true}
}

// InfoReader is implemented by transports that can read identity data
// outside the protocol, such as the GATT Device Information service
type InfoReader interface {
	ReadInfo(ctx context.Context) (DeviceInfo, error)
}

// Merge copies the non-empty fields of src into i
func (i *DeviceInfo) Merge(src DeviceInfo) {
	set := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	set(&i.Manufacturer, src.Manufacturer)
	set(&i.Model, src.Model)
	set(&i.HWVersion, src.HWVersion)
	set(&i.SWVersion, src.SWVersion)
	set(&i.Serial, src.Serial)
}

// Map returns the reported fields keyed by name
func (i DeviceInfo) Map() map[string]string {
	m := make(map[string]string)
	for k, v := range map[string]string{
		"manufacturer":  i.Manufacturer,
		"model":         i.Model,
		"hw_version":    i.HWVersion,
		"sw_version":    i.SWVersion,
		"serial_number": i.Serial,
	} {
		if v != "" {
			m[k] = v
		}
	}
	return m
}
