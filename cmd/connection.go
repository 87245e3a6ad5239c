// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"syscall"

	"golang.org/x/term"

	"github.com/Thermoquad/bmsstat/internal/config"
	"github.com/Thermoquad/bmsstat/internal/transport"
	"github.com/Thermoquad/bmsstat/pkg/bms"
)

// GetPassword retrieves password from environment or prompts user
func GetPassword() (string, error) {
	if pw := os.Getenv("BMSSTAT_PASSWORD"); pw != "" {
		return pw, nil
	}

	fmt.Fprint(os.Stderr, "Password: ")

	passwordBytes, err := term.ReadPassword(int(syscall.Stdin))
	if err != nil {
		// Fallback to regular input if terminal functions fail
		reader := bufio.NewReader(os.Stdin)
		password, err := reader.ReadString('\n')
		if err != nil {
			return "", fmt.Errorf("failed to read password: %w", err)
		}
		fmt.Fprintln(os.Stderr)
		return strings.TrimSpace(password), nil
	}

	fmt.Fprintln(os.Stderr)
	return string(passwordBytes), nil
}

// resolveVendor looks up the --vendor flag
func resolveVendor() (*bms.Vendor, error) {
	return lookupVendor(vendorKey)
}

func lookupVendor(key string) (*bms.Vendor, error) {
	if key == "" {
		return nil, fmt.Errorf("--vendor is required (one of: %s)", strings.Join(registry.Keys(), ", "))
	}
	v, ok := registry.Lookup(strings.ToLower(key))
	if !ok {
		return nil, fmt.Errorf("unknown vendor %q (one of: %s)", key, strings.Join(registry.Keys(), ", "))
	}
	return v, nil
}

// OpenTransport builds the transport selected by the connection flags. The
// transport is returned unconnected; sessions connect it per cycle.
func OpenTransport(v *bms.Vendor) (bms.Transport, string, error) {
	d := config.DeviceConfig{
		Vendor:        v.Key,
		Address:       bleAddress,
		Port:          portName,
		Baud:          baudRate,
		URL:           wsURL,
		Username:      wsUsername,
		SkipSSLVerify: wsNoSSLVerify,
	}

	switch {
	case wsURL != "":
		d.Transport = config.TransportWebSocket
		if wsUsername != "" {
			password, err := GetPassword()
			if err != nil {
				return nil, "", err
			}
			d.Password = password
		}
	case portName != "":
		d.Transport = config.TransportSerial
	case bleAddress != "":
		d.Transport = config.TransportBLE
	default:
		return nil, "", fmt.Errorf("one of --address, --port or --url must be specified")
	}

	return transportFor(d, v)
}

// transportFor builds the transport a device entry describes
func transportFor(d config.DeviceConfig, v *bms.Vendor) (bms.Transport, string, error) {
	switch d.Transport {
	case config.TransportWebSocket:
		t := transport.NewWebSocket(transport.WebSocketConfig{
			URL:           d.URL,
			Username:      d.Username,
			Password:      d.Password,
			SkipSSLVerify: d.SkipSSLVerify,
		}, log)
		return t, t.String(), nil

	case config.TransportSerial:
		t := transport.NewSerial(d.Port, d.Baud, log)
		return t, t.String(), nil

	case config.TransportBLE, "":
		t := transport.NewBLE(d.Address, v, log)
		return t, t.String(), nil
	}
	return nil, "", fmt.Errorf("unsupported transport %q", d.Transport)
}

// deviceLabel names the device selected on the command line
func deviceLabel() string {
	switch {
	case wsURL != "":
		return wsURL
	case portName != "":
		return portName
	}
	return bleAddress
}
