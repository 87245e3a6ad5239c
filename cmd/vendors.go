// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var vendorsCmd = &cobra.Command{
	Use:   "vendors",
	Short: "List supported BMS vendors",
	RunE:  runVendors,
}

func init() {
	rootCmd.AddCommand(vendorsCmd)
}

func runVendors(cmd *cobra.Command, args []string) error {
	for _, key := range registry.Keys() {
		v, _ := registry.Lookup(key)

		fmt.Printf("%s\n", key)
		fmt.Printf("  Device:   %s %s\n", v.Manufacturer, v.Model)
		fmt.Printf("  Protocol: %s\n", v.Protocol.Name)
		fmt.Printf("  GATT:     service %s, notify %s", v.ServiceUUID, v.NotifyUUID)
		if v.WriteUUID != "" {
			fmt.Printf(", write %s", v.WriteUUID)
		}
		fmt.Println()

		names := make([]string, 0, len(v.Queries))
		for _, q := range v.Queries {
			name := q.Name
			if q.Passive() {
				name += " (passive)"
			} else if q.Optional {
				name += " (optional)"
			}
			names = append(names, name)
		}
		fmt.Printf("  Queries:  %s\n", strings.Join(names, ", "))
		if len(v.InfoQueries) > 0 {
			info := make([]string, 0, len(v.InfoQueries))
			for _, q := range v.InfoQueries {
				info = append(info, q.Name)
			}
			fmt.Printf("  Info:     %s\n", strings.Join(info, ", "))
		}

		var patterns []string
		for _, m := range v.Matchers {
			var parts []string
			if m.LocalName != "" {
				parts = append(parts, "name="+m.LocalName)
			}
			if m.ServiceUUID != "" {
				parts = append(parts, "service="+m.ServiceUUID)
			}
			if m.ManufacturerID != nil {
				parts = append(parts, fmt.Sprintf("manufacturer=0x%04X", *m.ManufacturerID))
			}
			patterns = append(patterns, strings.Join(parts, " "))
		}
		if len(patterns) > 0 {
			fmt.Printf("  Matches:  %s\n", strings.Join(patterns, " | "))
		}
		fmt.Println()
	}
	return nil
}
