// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/bmsstat/internal/transport"
	"github.com/Thermoquad/bmsstat/pkg/bms"
)

var (
	scanDuration int
	scanAll      bool
	scanSerial   bool
	scanInfo     bool
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Discover BMS devices over BLE",
	Long: `Scan for BLE advertisements and match them against every supported vendor.

Each matching device is printed once with its address, advertised name,
signal strength and the vendors whose patterns it satisfies. Use the
address and vendor key with the other commands:

  bmsstat poll --vendor jbd --address A4:C1:38:00:00:01

With --info every supported device is connected after the scan and its
identity (model, hardware and firmware versions) is read.

With --serial the serial ports present on the host are listed instead.

Exit codes:
  0 - At least one supported device found
  1 - No supported device found
  2 - Bluetooth error`,
	RunE: runScan,
}

func init() {
	rootCmd.AddCommand(scanCmd)
	scanCmd.Flags().IntVar(&scanDuration, "wait", 10, "Scan duration in seconds")
	scanCmd.Flags().BoolVar(&scanAll, "all", false, "Also list devices no vendor matches")
	scanCmd.Flags().BoolVar(&scanSerial, "serial", false, "List serial ports instead of scanning BLE")
	scanCmd.Flags().BoolVar(&scanInfo, "info", false, "Read device information from supported devices")
}

func listSerialPorts() error {
	ports, err := transport.SerialPorts()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to list serial ports: %v\n", err)
		os.Exit(2)
	}
	if len(ports) == 0 {
		fmt.Printf("No serial ports found\n")
		os.Exit(1)
	}
	fmt.Printf("Serial ports:\n")
	for _, p := range ports {
		fmt.Printf("  %s\n", p)
	}
	return nil
}

type scanEntry struct {
	adv     bms.Advertisement
	vendors []string
}

func runScan(cmd *cobra.Command, args []string) error {
	if scanSerial {
		return listSerialPorts()
	}

	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx, cancel := context.WithTimeout(sigCtx, time.Duration(scanDuration)*time.Second)
	defer cancel()

	fmt.Printf("bmsstat - Device Scan\n")
	fmt.Printf("Vendors: %s\n", strings.Join(registry.Keys(), ", "))
	fmt.Printf("Duration: %d seconds\n\n", scanDuration)

	var (
		mu    sync.Mutex
		found = make(map[string]*scanEntry)
	)

	err := transport.Scan(ctx, advertisedServices(), func(adv bms.Advertisement) {
		var keys []string
		for _, v := range registry.Match(adv) {
			keys = append(keys, v.Key)
		}
		if len(keys) == 0 && !scanAll {
			return
		}

		mu.Lock()
		defer mu.Unlock()
		if e, seen := found[adv.Address]; seen {
			e.adv.RSSI = adv.RSSI
			return
		}
		found[adv.Address] = &scanEntry{adv: adv, vendors: keys}

		fmt.Printf("Device found:\n")
		fmt.Printf("  Address: %s\n", adv.Address)
		fmt.Printf("  Name: %s\n", adv.LocalName)
		fmt.Printf("  RSSI: %d dBm\n", adv.RSSI)
		if len(keys) > 0 {
			fmt.Printf("  Vendors: %s\n", strings.Join(keys, ", "))
		} else {
			fmt.Printf("  Vendors: (none)\n")
		}
		fmt.Println()
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Scan failed: %v\n", err)
		os.Exit(2)
	}

	mu.Lock()
	defer mu.Unlock()

	matched := 0
	for _, e := range found {
		if len(e.vendors) > 0 {
			matched++
		}
	}

	if scanInfo {
		readScanInfo(sigCtx, found)
	}

	fmt.Printf("--- Scan summary ---\n")
	fmt.Printf("Devices found: %d (%d supported)\n", len(found), matched)
	if matched == 0 {
		fmt.Printf("No supported devices discovered. Check that the BMS is powered and not connected elsewhere.\n")
		os.Exit(1)
	}
	return nil
}

// readScanInfo connects to each supported device in turn and prints its
// identity using the first matching vendor
func readScanInfo(ctx context.Context, found map[string]*scanEntry) {
	addrs := make([]string, 0, len(found))
	for addr, e := range found {
		if len(e.vendors) > 0 {
			addrs = append(addrs, addr)
		}
	}
	sort.Strings(addrs)

	for _, addr := range addrs {
		if ctx.Err() != nil {
			return
		}
		v, _ := registry.Lookup(found[addr].vendors[0])
		t := transport.NewBLE(addr, v, log.WithField("device", addr))
		session := bms.NewSession(v, t, sessionOptions(addr, bms.NewStatistics())...)

		fmt.Printf("Device info: %s (%s)\n", addr, v.Key)
		info, err := session.DeviceInfo(ctx)
		if err != nil {
			fmt.Printf("  unavailable: %v\n\n", err)
			continue
		}
		for _, line := range strings.Split(strings.TrimRight(formatDeviceInfo(info), "\n"), "\n") {
			fmt.Printf("  %s\n", line)
		}
		fmt.Println()
	}
}

// advertisedServices collects every service UUID a vendor matcher or GATT
// layout refers to
func advertisedServices() []string {
	seen := make(map[string]bool)
	var out []string
	add := func(u string) {
		if u == "" {
			return
		}
		n := bms.NormalizeUUID(u)
		if !seen[n] {
			seen[n] = true
			out = append(out, n)
		}
	}
	for _, key := range registry.Keys() {
		v, _ := registry.Lookup(key)
		add(v.ServiceUUID)
		for _, m := range v.Matchers {
			add(m.ServiceUUID)
		}
	}
	sort.Strings(out)
	return out
}
