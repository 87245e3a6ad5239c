// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/bmsstat/pkg/bms"
)

var decodeCmd = &cobra.Command{
	Use:   "decode [hex frame...]",
	Short: "Validate and decode captured frames offline",
	Long: `Validate and decode hex-encoded frames without a device.

Frames are taken from the arguments, or one per line from stdin when no
arguments are given. Separators (spaces, colons, dashes, commas) and a 0x
prefix are accepted. Every frame is validated against the vendor protocol and
decoded by the query answering its type; the decoded fields of all frames
are then merged and normalized like a refresh cycle.

Example:
  bmsstat decode --vendor jbd "dd 04 00 08 0c fd 0c fe 0c fc 0c fd fb d4 77"`,
	RunE: runDecode,
}

func init() {
	rootCmd.AddCommand(decodeCmd)
}

func runDecode(cmd *cobra.Command, args []string) error {
	v, err := resolveVendor()
	if err != nil {
		return err
	}

	inputs := args
	if len(inputs) == 0 {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			if line := strings.TrimSpace(scanner.Text()); line != "" {
				inputs = append(inputs, line)
			}
		}
		if err := scanner.Err(); err != nil {
			return fmt.Errorf("failed to read stdin: %w", err)
		}
	}
	if len(inputs) == 0 {
		return fmt.Errorf("no frames given")
	}

	norm := bms.NewNormalizer(v.Derive)
	for i, in := range inputs {
		raw, err := bms.ParseHex(in)
		if err != nil {
			fmt.Printf("Frame %d: %v\n", i+1, err)
			continue
		}

		frame, err := v.Protocol.Validate(raw)
		if err != nil {
			fmt.Printf("Frame %d: REJECTED: %v\n", i+1, err)
			continue
		}
		fmt.Printf("Frame %d: ", i+1)
		fmt.Print(bms.FormatFrame(frame, v))

		q, ok := queryFor(v, frame.Type())
		if !ok || q.Decode == nil {
			fmt.Printf("  (no decoder for type 0x%02X)\n", frame.Type())
			continue
		}
		part, err := q.Decode(frame)
		if err != nil {
			fmt.Printf("  DECODE ERROR: %v\n", err)
			continue
		}
		fmt.Print(bms.FormatSample(part))
		norm.Add(part)
	}

	if norm.Parts() == 0 {
		return fmt.Errorf("no frame decoded")
	}

	fmt.Printf("\nNormalized sample:\n")
	sample, err := norm.Finish()
	if err != nil {
		fmt.Printf("  %v\n", err)
		return nil
	}
	fmt.Print(bms.FormatSample(sample))
	return nil
}

// queryFor returns the first decoding query answered by frames of type t
func queryFor(v *bms.Vendor, t byte) (bms.Query, bool) {
	for _, q := range v.Queries {
		if q.Response == t && q.Decode != nil {
			return q, true
		}
	}
	for _, q := range v.Queries {
		if q.Response == t {
			return q, true
		}
	}
	return bms.Query{}, false
}
