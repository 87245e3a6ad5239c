// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package bms

import (
	"bytes"
	"path"
	"strings"
)

// bluetoothBaseUUID completes 16 and 32-bit UUIDs
const bluetoothBaseUUID = "-0000-1000-8000-00805f9b34fb"

// Advertisement is the subset of a BLE advertisement used to select a vendor
type Advertisement struct {
	Address          string
	LocalName        string
	ServiceUUIDs     []string
	ManufacturerData map[uint16][]byte
	RSSI             int16
}

// Matcher is one advertisement pattern. Empty fields match anything; all
// set fields must match.
type Matcher struct {
	LocalName             string // shell glob, e.g. "SP??S*"
	ServiceUUID           string
	ManufacturerID        *uint16
	ManufacturerDataStart []byte
}

// Matches reports whether adv satisfies the pattern
func (m Matcher) Matches(adv Advertisement) bool {
	if m.ServiceUUID != "" {
		want := NormalizeUUID(m.ServiceUUID)
		found := false
		for _, u := range adv.ServiceUUIDs {
			if NormalizeUUID(u) == want {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}

	if m.ManufacturerID != nil {
		data, ok := adv.ManufacturerData[*m.ManufacturerID]
		if !ok || !bytes.HasPrefix(data, m.ManufacturerDataStart) {
			return false
		}
	}

	if m.LocalName != "" {
		ok, err := path.Match(m.LocalName, adv.LocalName)
		if err != nil || !ok {
			return false
		}
	}
	return true
}

// NormalizeUUID expands 16 and 32-bit UUIDs onto the Bluetooth base UUID and
// lower-cases the result
func NormalizeUUID(u string) string {
	u = strings.ToLower(strings.TrimPrefix(strings.ToLower(u), "0x"))
	switch len(u) {
	case 4:
		return "0000" + u + bluetoothBaseUUID
	case 8:
		return u + bluetoothBaseUUID
	}
	return u
}
