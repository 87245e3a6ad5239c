// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package bms

import "testing"

// ============================================================
// Registry Tests
// ============================================================

func TestRegistry_Register(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(testVendor()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := r.Register(testVendor()); err == nil {
		t.Error("duplicate key accepted")
	}
	if v, ok := r.Lookup("test"); !ok || v.Key != "test" {
		t.Error("lookup failed")
	}
	if _, ok := r.Lookup("missing"); ok {
		t.Error("lookup of unknown key succeeded")
	}
}

func TestRegistry_RejectsInvalidVendors(t *testing.T) {
	tests := []struct {
		name   string
		modify func(v *Vendor)
	}{
		{"empty key", func(v *Vendor) { v.Key = "" }},
		{"no protocol", func(v *Vendor) { v.Protocol = nil }},
		{"no queries", func(v *Vendor) { v.Queries = nil }},
		{"response type outside protocol", func(v *Vendor) { v.Queries[0].Response = 0x99 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := testVendor()
			tt.modify(v)
			if err := NewRegistry().Register(v); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestRegistry_KeysSorted(t *testing.T) {
	r := NewRegistry()
	for _, key := range []string{"zeta", "alpha", "mid"} {
		v := testVendor()
		v.Key = key
		r.MustRegister(v)
	}
	keys := r.Keys()
	if len(keys) != 3 || keys[0] != "alpha" || keys[2] != "zeta" {
		t.Errorf("keys: got %v", keys)
	}
}

func TestRegistry_Match(t *testing.T) {
	r := NewRegistry()
	byName := testVendor()
	byName.Key = "by-name"
	byName.Matchers = []Matcher{{LocalName: "SP??S*"}}
	byService := testVendor()
	byService.Key = "by-service"
	byService.Matchers = []Matcher{{ServiceUUID: "ff00"}}
	r.MustRegister(byName)
	r.MustRegister(byService)

	tests := []struct {
		name string
		adv  Advertisement
		want []string
	}{
		{"name glob", Advertisement{LocalName: "SP04S020"}, []string{"by-name"}},
		{"service uuid", Advertisement{ServiceUUIDs: []string{"0000FF00-0000-1000-8000-00805F9B34FB"}}, []string{"by-service"}},
		{"both", Advertisement{LocalName: "SP17S001", ServiceUUIDs: []string{"ff00"}}, []string{"by-name", "by-service"}},
		{"none", Advertisement{LocalName: "xiaoxiang"}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := r.Match(tt.adv)
			if len(got) != len(tt.want) {
				t.Fatalf("got %d vendors, want %d", len(got), len(tt.want))
			}
			for i := range got {
				if got[i].Key != tt.want[i] {
					t.Errorf("vendor %d: got %s, want %s", i, got[i].Key, tt.want[i])
				}
			}
		})
	}
}

// ============================================================
// Matcher Tests
// ============================================================

func TestMatcher_ManufacturerData(t *testing.T) {
	id := uint16(0x0B6A)
	m := Matcher{ManufacturerID: &id, ManufacturerDataStart: []byte{0x01}}

	if !m.Matches(Advertisement{ManufacturerData: map[uint16][]byte{0x0B6A: {0x01, 0x02}}}) {
		t.Error("expected match")
	}
	if m.Matches(Advertisement{ManufacturerData: map[uint16][]byte{0x0B6A: {0x02}}}) {
		t.Error("data prefix ignored")
	}
	if m.Matches(Advertisement{ManufacturerData: map[uint16][]byte{0x0001: {0x01}}}) {
		t.Error("company id ignored")
	}
}

func TestMatcher_AllFieldsRequired(t *testing.T) {
	m := Matcher{LocalName: "HS*", ServiceUUID: "0001"}
	if m.Matches(Advertisement{LocalName: "HS123"}) {
		t.Error("matched without service uuid")
	}
	if !m.Matches(Advertisement{LocalName: "HS123", ServiceUUIDs: []string{"00000001-0000-1000-8000-00805f9b34fb"}}) {
		t.Error("expected match")
	}
	if !(Matcher{}).Matches(Advertisement{}) {
		t.Error("empty matcher should match anything")
	}
}

func TestNormalizeUUID(t *testing.T) {
	tests := []struct{ in, want string }{
		{"ff00", "0000ff00-0000-1000-8000-00805f9b34fb"},
		{"0xFF01", "0000ff01-0000-1000-8000-00805f9b34fb"},
		{"0000FF02", "0000ff02-0000-1000-8000-00805f9b34fb"},
		{"6E400001-B5A3-F393-E0A9-E50E24DCCA9E", "6e400001-b5a3-f393-e0a9-e50e24dcca9e"},
	}
	for _, tt := range tests {
		if got := NormalizeUUID(tt.in); got != tt.want {
			t.Errorf("NormalizeUUID(%q): got %q, want %q", tt.in, got, tt.want)
		}
	}
}
