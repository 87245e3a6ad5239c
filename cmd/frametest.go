// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/bmsstat/pkg/bms"
)

var (
	frameTestTimeout int
)

var frameTestCmd = &cobra.Command{
	Use:   "frame_test",
	Short: "Test connection by waiting for a valid vendor frame",
	Long: `Wait for a valid frame of the selected vendor until timeout.

This command connects to the device, sends the vendor's first query (passive
vendors are only listened to) and waits for any frame that passes length,
marker, type and checksum validation. Invalid bytes are skipped.

Exit codes:
  0 - Frame received before timeout
  1 - Timeout reached without receiving a valid frame
  2 - Connection error

Useful for testing connectivity and choosing the right --vendor.`,
	RunE: runFrameTest,
}

func init() {
	rootCmd.AddCommand(frameTestCmd)
	frameTestCmd.Flags().IntVar(&frameTestTimeout, "wait", 10, "Timeout in seconds to wait for a frame")
}

func runFrameTest(cmd *cobra.Command, args []string) error {
	v, err := resolveVendor()
	if err != nil {
		return err
	}
	t, connInfo, err := OpenTransport(v)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(frameTestTimeout)*time.Second)
	defer cancel()

	if err := t.Connect(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}
	defer t.Disconnect()

	fmt.Printf("bmsstat - Frame Test\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Timeout: %d seconds\n", frameTestTimeout)
	fmt.Printf("Waiting for valid %s frame...\n\n", v.Protocol.Name)

	for _, q := range v.Queries {
		if q.Passive() {
			continue
		}
		if err := t.Write(ctx, q.Command); err != nil {
			fmt.Fprintf(os.Stderr, "Write error: %v\n", err)
			os.Exit(2)
		}
		break
	}

	frame, skipped, err := waitFrame(ctx, t, v.Protocol)
	switch {
	case err == nil:
		if skipped > 0 {
			fmt.Printf("(skipped %d invalid bytes before sync)\n", skipped)
		}
		fmt.Printf("SUCCESS: Received valid frame\n")
		fmt.Printf("  Type: %s (0x%02X)\n", bms.FormatQueryName(v, frame.Type()), frame.Type())
		fmt.Printf("  Length: %d bytes\n", frame.Length())
		fmt.Printf("  Checksum: 0x%04X\n", frame.Checksum())
		os.Exit(0)

	case errors.Is(err, context.DeadlineExceeded):
		fmt.Fprintf(os.Stderr, "TIMEOUT: No valid frame received within %d seconds\n", frameTestTimeout)
		os.Exit(1)

	default:
		fmt.Fprintf(os.Stderr, "Read error: %v\n", err)
		os.Exit(2)
	}
	return nil
}

// waitFrame returns the first frame on t that validates under p, and the
// number of bytes skipped before it
func waitFrame(ctx context.Context, t bms.Transport, p *bms.Protocol) (*bms.Frame, int, error) {
	asm := bms.NewAssembler(p)
	rejected := 0
	chunks := t.Chunks()

	for {
		select {
		case <-ctx.Done():
			return nil, 0, ctx.Err()
		case chunk, ok := <-chunks:
			if !ok {
				return nil, 0, errors.New("connection closed")
			}
			frames, _ := asm.Push(chunk)
			for _, raw := range frames {
				frame, err := p.Validate(raw)
				if err != nil {
					rejected += len(raw)
					continue
				}
				return frame, asm.Discarded() + rejected, nil
			}
		}
	}
}
