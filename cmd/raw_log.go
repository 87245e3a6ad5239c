// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/bmsstat/pkg/bms"
)

var (
	rawInterval time.Duration
	rawListen   bool
)

var rawLogCmd = &cobra.Command{
	Use:   "raw_log",
	Short: "Display raw frame log in human-readable format",
	Long: `Continuously assemble, validate and display BMS frames as they arrive.

Each frame is shown with timestamp, query name, declared length, checksum and
a hex dump. Frames failing validation are shown with the failed check.

Unless --listen is given, the vendor's query commands are sent every
--interval so that request/response devices keep producing frames.

Supports BLE, serial and WebSocket connections.`,
	RunE: runRawLog,
}

func init() {
	rootCmd.AddCommand(rawLogCmd)
	rawLogCmd.Flags().DurationVar(&rawInterval, "interval", 5*time.Second, "Interval between query rounds")
	rawLogCmd.Flags().BoolVar(&rawListen, "listen", false, "Only listen, never send queries")
}

func runRawLog(cmd *cobra.Command, args []string) error {
	v, err := resolveVendor()
	if err != nil {
		return err
	}
	t, connInfo, err := OpenTransport(v)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := t.Connect(ctx); err != nil {
		return err
	}
	defer t.Disconnect()

	fmt.Printf("bmsstat - Raw Frame Log\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Protocol: %s\n", v.Protocol.Name)
	fmt.Printf("Press Ctrl+C to exit\n\n")

	if !rawListen {
		go sendQueries(ctx, t, v, rawInterval)
	}

	asm := bms.NewAssembler(v.Protocol)
	chunks := t.Chunks()
	for {
		select {
		case <-ctx.Done():
			return nil
		case chunk, ok := <-chunks:
			if !ok {
				fmt.Println("Connection closed")
				return nil
			}
			frames, ferr := asm.Push(chunk)
			for _, raw := range frames {
				frame, verr := v.Protocol.Validate(raw)
				if verr != nil {
					fmt.Printf("[ERROR] %v\n  %s\n", verr, bms.FormatHex(raw))
					continue
				}
				fmt.Print(bms.FormatFrame(frame, v))
			}
			if ferr != nil {
				fmt.Printf("[ERROR] %v\n", ferr)
			}
		}
	}
}

// sendQueries writes every active query command once per interval
func sendQueries(ctx context.Context, t bms.Transport, v *bms.Vendor, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		for _, q := range v.Queries {
			if q.Passive() {
				continue
			}
			if err := t.Write(ctx, q.Command); err != nil {
				log.WithError(err).WithField("query", q.Name).Warn("query write failed")
				return
			}
			// Leave the device time to answer before the next request
			select {
			case <-ctx.Done():
				return
			case <-time.After(200 * time.Millisecond):
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
