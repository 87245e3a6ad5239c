// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad
//
// Bmsstat - Battery Management System Protocol Analyzer
//
// A CLI tool for polling, decoding and monitoring BLE and serial battery
// management systems.

package main

import (
	"os"

	"github.com/Thermoquad/bmsstat/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
