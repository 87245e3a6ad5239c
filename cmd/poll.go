// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/bmsstat/pkg/bms"
)

var (
	pollFormat string
	pollStats  bool
	pollRaw    bool
)

var pollCmd = &cobra.Command{
	Use:   "poll",
	Short: "Read one normalized sample from a BMS",
	Long: `Run one refresh cycle against a BMS and print the normalized sample.

The cycle connects, issues every query of the vendor, validates and decodes
the responses, derives missing fields and disconnects. In text mode the
device identity (model, hardware version) is read first over the same link.

With --raw the sample holds only what the device reported: nothing is
derived, the problem flag is not evaluated and no field is mandatory.

Output formats:
  text - human-readable field list (default)
  json - one JSON object, absent fields omitted
  cbor - deterministic CBOR, hex encoded

Exit codes:
  0 - Sample read
  1 - Refresh failed
  2 - Connection error`,
	RunE: runPoll,
}

func init() {
	rootCmd.AddCommand(pollCmd)
	pollCmd.Flags().StringVarP(&pollFormat, "format", "f", "text", "Output format (text, json, cbor)")
	pollCmd.Flags().BoolVar(&pollStats, "stats", false, "Print protocol statistics after the sample")
	pollCmd.Flags().BoolVar(&pollRaw, "raw", false, "Print decoded fields only, without derived fields")
}

func runPoll(cmd *cobra.Command, args []string) error {
	v, err := resolveVendor()
	if err != nil {
		return err
	}
	t, connInfo, err := OpenTransport(v)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	stats := bms.NewStatistics()
	opts := append(sessionOptions(deviceLabel(), stats), bms.WithKeepAlive(true), bms.WithRaw(pollRaw))
	session := bms.NewSession(v, t, opts...)
	defer session.Close()

	if pollFormat == "text" {
		fmt.Printf("bmsstat - %s %s\n", v.Manufacturer, v.Model)
		fmt.Printf("Connection: %s\n", connInfo)
		info, err := session.DeviceInfo(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
			os.Exit(2)
		}
		fmt.Print(formatDeviceInfo(info))
		fmt.Println()
	}

	start := time.Now()
	sample, err := session.Refresh(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Refresh failed: %v\n", err)
		if pollStats {
			fmt.Fprint(os.Stderr, stats.String())
		}
		os.Exit(1)
	}

	switch pollFormat {
	case "json":
		data, err := json.Marshal(sample)
		if err != nil {
			return err
		}
		fmt.Println(string(data))
	case "cbor":
		data, err := bms.EncodeSample(sample)
		if err != nil {
			return err
		}
		fmt.Println(bms.FormatHex(data))
	default:
		fmt.Print(bms.FormatSample(sample))
		fmt.Printf("\nRefreshed in %v\n", time.Since(start).Round(time.Millisecond))
	}

	if pollStats {
		fmt.Println()
		fmt.Print(stats.String())
	}
	return nil
}

// formatDeviceInfo renders the reported identity fields, one per line
func formatDeviceInfo(info *bms.DeviceInfo) string {
	var b strings.Builder
	for _, f := range []struct{ label, value string }{
		{"Manufacturer", info.Manufacturer},
		{"Model", info.Model},
		{"Hardware", info.HWVersion},
		{"Software", info.SWVersion},
		{"Serial", info.Serial},
	} {
		if f.value != "" {
			fmt.Fprintf(&b, "%s: %s\n", f.label, f.value)
		}
	}
	return b.String()
}
