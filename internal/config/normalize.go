// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package config

import (
	"fmt"
	"strings"
)

const defaultBaud = 9600

// Normalize fills per-device gaps from the defaults section.
// It MUST be called only after Validate().
func Normalize(cfg *Config) {
	if cfg == nil {
		return
	}

	for i := range cfg.Devices {
		d := &cfg.Devices[i]

		d.Vendor = strings.ToLower(d.Vendor)
		d.Transport = strings.ToLower(d.Transport)
		if d.Transport == "" {
			d.Transport = TransportBLE
		}
		if d.Name == "" {
			d.Name = fmt.Sprintf("%s-%d", d.Vendor, i)
		}
		if d.Transport == TransportSerial && d.Baud == 0 {
			d.Baud = defaultBaud
		}

		if d.Poll.Interval == 0 {
			d.Poll.Interval = cfg.Defaults.Interval
		}
		if d.Poll.Timeout == 0 {
			d.Poll.Timeout = cfg.Defaults.Timeout
		}
		if d.Poll.Retries == 0 {
			d.Poll.Retries = cfg.Defaults.Retries
		}
		if d.Poll.KeepAlive == nil {
			keep := cfg.Defaults.KeepAlive != nil && *cfg.Defaults.KeepAlive
			d.Poll.KeepAlive = &keep
		}
	}
}
