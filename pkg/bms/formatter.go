// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package bms

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// FormatFrame formats a validated frame into a human-readable string. When a
// vendor is given the query name answered by the frame type is included.
func FormatFrame(f *Frame, v *Vendor) string {
	timestamp := f.Timestamp().Format("15:04:05.000")
	name := "UNKNOWN"
	if v != nil {
		name = FormatQueryName(v, f.Type())
	}
	return fmt.Sprintf("[%s] %s (0x%02X) len=%d crc=0x%04X\n  %s\n",
		timestamp, name, f.Type(), f.Length(), f.Checksum(), FormatHex(f.Raw()))
}

// FormatQueryName returns the upper-case name of the query answered by
// frames of type t
func FormatQueryName(v *Vendor, t byte) string {
	for _, q := range v.Queries {
		if q.Response == t {
			return strings.ToUpper(q.Name)
		}
	}
	return "UNKNOWN"
}

// FormatHex renders bytes as space separated upper-case hex pairs
func FormatHex(b []byte) string {
	return fmt.Sprintf("% X", b)
}

// ParseHex accepts hex with or without separators ("dd 03 00", "dd:03:00",
// "dd0300") and returns the bytes
func ParseHex(s string) ([]byte, error) {
	clean := strings.Map(func(r rune) rune {
		switch r {
		case ' ', ':', '-', ',', '\t', '\n', '\r':
			return -1
		}
		return r
	}, s)
	clean = strings.TrimPrefix(strings.TrimPrefix(clean, "0x"), "0X")
	b, err := hex.DecodeString(clean)
	if err != nil {
		return nil, fmt.Errorf("invalid hex: %w", err)
	}
	return b, nil
}

// FormatSample formats the present fields of a sample, one per line
func FormatSample(s *Sample) string {
	var sb strings.Builder
	for _, name := range FieldNames() {
		v := s.Get(name)
		if v == nil {
			continue
		}
		fmt.Fprintf(&sb, "  %-16s %s\n", name+":", formatValue(name, v))
	}
	if sb.Len() == 0 {
		return "  (no fields)\n"
	}
	return sb.String()
}

var units = map[string]string{
	"voltage":         "V",
	"current":         "A",
	"battery_level":   "%",
	"battery_health":  "%",
	"cycle_charge":    "Ah",
	"design_capacity": "Ah",
	"cycle_capacity":  "Wh",
	"power":           "W",
	"temperature":     "°C",
	"delta_voltage":   "V",
	"balance_current": "A",
	"cell_voltages":   "V",
	"temp_values":     "°C",
}

func formatValue(name string, v interface{}) string {
	unit := units[name]
	switch val := v.(type) {
	case float64:
		return strings.TrimSpace(fmt.Sprintf("%.3f %s", val, unit))
	case []float64:
		parts := make([]string, len(val))
		for i, f := range val {
			parts[i] = fmt.Sprintf("%.3f", f)
		}
		return strings.TrimSpace(fmt.Sprintf("[%s] %s", strings.Join(parts, ", "), unit))
	case uint64:
		if name == "problem_code" {
			return fmt.Sprintf("0x%X", val)
		}
		return fmt.Sprintf("%d", val)
	case int:
		if name == "runtime" {
			return formatDuration(val)
		}
		return fmt.Sprintf("%d", val)
	case bool:
		if val {
			return "Yes"
		}
		return "No"
	default:
		return fmt.Sprintf("%v", val)
	}
}

// formatDuration converts seconds to a compact h/m/s duration
func formatDuration(seconds int) string {
	if seconds <= 0 {
		return "0s"
	}
	h := seconds / 3600
	m := seconds % 3600 / 60
	s := seconds % 60
	switch {
	case h > 0:
		return fmt.Sprintf("%dh %dm %ds", h, m, s)
	case m > 0:
		return fmt.Sprintf("%dm %ds", m, s)
	default:
		return fmt.Sprintf("%ds", s)
	}
}
