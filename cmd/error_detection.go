// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/bmsstat/pkg/bms"
)

var (
	showAll       bool
	statsInterval int
	cycleInterval time.Duration
	keepAlive     bool
)

var errorDetectionCmd = &cobra.Command{
	Use:   "error_detection",
	Short: "Run repeated refresh cycles and analyze failures",
	Long: `Run refresh cycles back to back and track protocol errors with statistics.

Every cycle is checked for:
  - Frames failing length, marker, type or checksum validation
  - Unsolicited frames and discarded noise bytes
  - Retransmissions and queries that never got an answer
  - Decoder rejections and cell count mismatches
  - Samples flagged with a problem

By default, only failures are displayed. Use --show-all to display every
sample too.

Periodic statistics summaries are displayed at configurable intervals.`,
	RunE: runErrorDetection,
}

func init() {
	rootCmd.AddCommand(errorDetectionCmd)
	errorDetectionCmd.Flags().BoolVar(&showAll, "show-all", false, "Show all samples (not just errors)")
	errorDetectionCmd.Flags().IntVar(&statsInterval, "stats-interval", 10, "Statistics update interval (seconds)")
	errorDetectionCmd.Flags().DurationVar(&cycleInterval, "interval", time.Second, "Pause between refresh cycles")
	errorDetectionCmd.Flags().BoolVar(&keepAlive, "keep-alive", true, "Keep the link open between cycles")
}

func runErrorDetection(cmd *cobra.Command, args []string) error {
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

	stats := bms.NewStatistics()
	opts := append(sessionOptions(deviceLabel(), stats), bms.WithKeepAlive(keepAlive))
	session := bms.NewSession(v, t, opts...)
	defer session.Close()

	fmt.Printf("bmsstat - Error Detection Mode\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Vendor: %s (%s)\n", v.Key, v.Protocol.Name)
	fmt.Printf("Statistics interval: %d seconds\n", statsInterval)
	if showAll {
		fmt.Printf("Mode: All samples\n")
	} else {
		fmt.Printf("Mode: Errors only\n")
	}
	fmt.Printf("Press Ctrl+C to exit\n\n")

	statsTicker := time.NewTicker(time.Duration(statsInterval) * time.Second)
	defer statsTicker.Stop()

	for {
		sample, err := session.Refresh(ctx)
		if ctx.Err() != nil {
			break
		}

		switch {
		case err != nil:
			printCycleError(err)
		case sample.Problem != nil && *sample.Problem:
			printProblemSample(sample)
		case showAll:
			fmt.Printf("[%s] SAMPLE\n", time.Now().Format("15:04:05.000"))
			fmt.Print(bms.FormatSample(sample))
			fmt.Println()
		}

		select {
		case <-ctx.Done():
		case <-statsTicker.C:
			fmt.Println()
			fmt.Print(stats.String())
			fmt.Println()
		case <-time.After(cycleInterval):
		}
		if ctx.Err() != nil {
			break
		}
	}

	fmt.Println()
	fmt.Print(stats.String())
	return nil
}

// printCycleError prints a failed cycle in highlighted format
func printCycleError(err error) {
	timestamp := time.Now().Format("15:04:05.000")

	var (
		verr *bms.ValidationError
		terr *bms.TimeoutError
		ferr *bms.FramingError
		perr *bms.PartialResultError
		xerr *bms.TransportError
	)

	switch {
	case errors.As(err, &verr):
		fmt.Printf("[%s] \033[1;33mVALIDATION ERROR:\033[0m %s\n", timestamp, verr.Type)
		fmt.Printf("  Issue: \033[1;31m%s\033[0m\n", verr.Message)
		if count, ok := verr.Details["cell_count"].(int); ok {
			if voltages, ok := verr.Details["cell_voltages"].(int); ok {
				fmt.Printf("    cell_count=%d, cell voltages=%d\n", count, voltages)
			}
		}

	case errors.As(err, &terr):
		fmt.Printf("[%s] \033[1;31mTIMEOUT:\033[0m query %s\n", timestamp, terr.Query)
		fmt.Printf("    attempts=%d, timeout=%v each\n", terr.Attempts, terr.PerAttempt)

	case errors.As(err, &ferr):
		fmt.Printf("[%s] \033[1;31mFRAMING ERROR:\033[0m %s\n", timestamp, ferr.Protocol)
		fmt.Printf("    buffered=%d, discarded=%d, limit=%d\n", ferr.Buffered, ferr.Discarded, ferr.Limit)

	case errors.As(err, &perr):
		fmt.Printf("[%s] \033[1;33mPARTIAL SAMPLE:\033[0m %v\n", timestamp, perr.Missing)

	case errors.As(err, &xerr):
		fmt.Printf("[%s] \033[1;31mTRANSPORT ERROR:\033[0m %s\n", timestamp, xerr.Op)
		if xerr.Err != nil {
			fmt.Printf("    %v\n", xerr.Err)
		}

	default:
		fmt.Printf("[%s] \033[1;31mERROR:\033[0m %v\n", timestamp, err)
	}

	fmt.Printf("  >>> CYCLE FAILED <<<\n\n")
}

// printProblemSample prints a sample flagged by the problem checks
func printProblemSample(s *bms.Sample) {
	timestamp := time.Now().Format("15:04:05.000")
	fmt.Printf("[%s] \033[1;33mPROBLEM:\033[0m", timestamp)
	if s.ProblemCode != nil && *s.ProblemCode != 0 {
		fmt.Printf(" code=0x%X", *s.ProblemCode)
	}
	fmt.Println()
	fmt.Print(bms.FormatSample(s))
	fmt.Println()
}
