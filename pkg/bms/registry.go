// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package bms

import (
	"fmt"
	"sort"
)

// Registry maps vendor keys to vendors. It is filled once at startup and
// read concurrently afterwards.
type Registry struct {
	vendors map[string]*Vendor
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{vendors: make(map[string]*Vendor)}
}

// Register adds a vendor. Keys must be unique and every vendor needs a
// protocol and at least one query.
func (r *Registry) Register(v *Vendor) error {
	if v == nil || v.Key == "" {
		return fmt.Errorf("vendor key is required")
	}
	if _, exists := r.vendors[v.Key]; exists {
		return fmt.Errorf("vendor %q already registered", v.Key)
	}
	if v.Protocol == nil {
		return fmt.Errorf("vendor %q has no protocol", v.Key)
	}
	if len(v.Queries) == 0 {
		return fmt.Errorf("vendor %q has no queries", v.Key)
	}
	for _, q := range v.Queries {
		if !v.Protocol.AllowsType(q.Response) {
			return fmt.Errorf("vendor %q: query %s expects type 0x%02X outside the protocol's types", v.Key, q.Name, q.Response)
		}
	}
	for _, q := range v.InfoQueries {
		if !v.Protocol.AllowsType(q.Response) {
			return fmt.Errorf("vendor %q: info query %s expects type 0x%02X outside the protocol's types", v.Key, q.Name, q.Response)
		}
	}
	r.vendors[v.Key] = v
	return nil
}

// MustRegister is like Register but panics on error
func (r *Registry) MustRegister(v *Vendor) {
	if err := r.Register(v); err != nil {
		panic(err)
	}
}

// Lookup returns the vendor registered under key
func (r *Registry) Lookup(key string) (*Vendor, bool) {
	v, ok := r.vendors[key]
	return v, ok
}

// Keys returns the registered keys in sorted order
func (r *Registry) Keys() []string {
	keys := make([]string, 0, len(r.vendors))
	for k := range r.vendors {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Match returns every vendor with a matcher accepting adv, ordered by key
func (r *Registry) Match(adv Advertisement) []*Vendor {
	var out []*Vendor
	for _, key := range r.Keys() {
		v := r.vendors[key]
		for _, m := range v.Matchers {
			if m.Matches(adv) {
				out = append(out, v)
				break
			}
		}
	}
	return out
}
