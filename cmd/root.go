// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"io"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/Thermoquad/bmsstat/internal/config"
	"github.com/Thermoquad/bmsstat/internal/logging"
	"github.com/Thermoquad/bmsstat/pkg/bms"
	"github.com/Thermoquad/bmsstat/pkg/bms/vendors"
)

var (
	// Device selection
	vendorKey string

	// BLE connection flags
	bleAddress string

	// Serial connection flags
	portName string
	baudRate int

	// WebSocket connection flags
	wsURL         string
	wsUsername    string
	wsNoSSLVerify bool

	// Session flags
	queryTimeout time.Duration
	maxRetries   int

	// Logging flags
	logLevel  string
	logFormat string

	log       *logrus.Logger
	logCloser io.Closer = io.NopCloser(nil)
	registry  *bms.Registry
)

var rootCmd = &cobra.Command{
	Use:   "bmsstat",
	Short: "Battery Management System Protocol Analyzer",
	Long: `bmsstat - A CLI tool for reading and analyzing BMS protocols.

Queries battery management systems over BLE, serial or a websocket bridge,
validates every frame and reports a normalized battery sample. Provides
commands for one-shot reads, raw frame logging, error detection and a
config-driven monitor with metrics and Redis publishing.

Connection modes:
  BLE:       --vendor jbd --address A4:C1:38:00:00:01
  Serial:    --vendor jbd --port /dev/ttyUSB0 [--baud 9600]
  WebSocket: --vendor jbd --url ws://host/path [--username user]

For WebSocket authentication, the password is read from the BMSSTAT_PASSWORD
environment variable, or prompted interactively if not set. The --password
flag is intentionally not provided to avoid leaking credentials in shell history.`,
	Version:           "0.3.0",
	SilenceUsage:      true,
	PersistentPreRunE: setup,
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logCloser.Close()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&vendorKey, "vendor", "V", "", "BMS vendor (see 'bmsstat vendors')")

	// BLE connection flags
	rootCmd.PersistentFlags().StringVarP(&bleAddress, "address", "a", "", "BLE device address")

	// Serial connection flags
	rootCmd.PersistentFlags().StringVarP(&portName, "port", "p", "", "Serial port device")
	rootCmd.PersistentFlags().IntVarP(&baudRate, "baud", "b", 9600, "Baud rate (serial only)")

	// WebSocket connection flags
	rootCmd.PersistentFlags().StringVarP(&wsURL, "url", "u", "", "WebSocket URL (ws:// or wss://)")
	rootCmd.PersistentFlags().StringVar(&wsUsername, "username", "", "Username for HTTP Basic auth")
	rootCmd.PersistentFlags().BoolVar(&wsNoSSLVerify, "no-ssl-verify", false, "Skip TLS certificate verification (wss:// only)")

	// Session flags
	rootCmd.PersistentFlags().DurationVar(&queryTimeout, "timeout", bms.DefaultTimeout, "Response timeout per query attempt")
	rootCmd.PersistentFlags().IntVar(&maxRetries, "retries", bms.DefaultMaxRetries, "Retransmissions per query")

	// Logging flags
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "Log format (text, json)")
}

func setup(cmd *cobra.Command, args []string) error {
	registry = vendors.Default()

	l, closer, err := logging.Setup(config.LogConfig{Level: logLevel, Format: logFormat})
	if err != nil {
		return err
	}
	log, logCloser = l, closer
	return nil
}

// sessionOptions returns the session options selected on the command line.
// Vendor defaults apply unless --timeout or --retries was given.
func sessionOptions(device string, stats *bms.Statistics) []bms.Option {
	opts := []bms.Option{
		bms.WithLogger(log.WithField("device", device)),
		bms.WithStatistics(stats),
	}
	if rootCmd.PersistentFlags().Changed("timeout") {
		opts = append(opts, bms.WithTimeout(queryTimeout))
	}
	if rootCmd.PersistentFlags().Changed("retries") {
		opts = append(opts, bms.WithRetries(maxRetries))
	}
	return opts
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}
