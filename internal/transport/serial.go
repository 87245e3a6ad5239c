// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package transport

import (
	"context"
	"fmt"
	"io"

	"github.com/sirupsen/logrus"
	"go.bug.st/serial"
)

// DefaultBaudRate matches the UART bridges shipped with most BMS boards
const DefaultBaudRate = 9600

// DialSerial returns a DialFunc opening portName at 8N1
func DialSerial(portName string, baudRate int) DialFunc {
	if baudRate <= 0 {
		baudRate = DefaultBaudRate
	}
	return func(ctx context.Context) (io.ReadWriteCloser, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		mode := &serial.Mode{
			BaudRate: baudRate,
			DataBits: 8,
			Parity:   serial.NoParity,
			StopBits: serial.OneStopBit,
		}

		port, err := serial.Open(portName, mode)
		if err != nil {
			return nil, fmt.Errorf("failed to open serial port %s: %w", portName, err)
		}
		return port, nil
	}
}

// NewSerial creates a transport for a BMS wired to a UART
func NewSerial(portName string, baudRate int, log logrus.FieldLogger) *Stream {
	if baudRate <= 0 {
		baudRate = DefaultBaudRate
	}
	name := fmt.Sprintf("Serial: %s @ %d baud", portName, baudRate)
	return NewStream(name, DialSerial(portName, baudRate), log)
}

// SerialPorts lists the serial ports present on the host
func SerialPorts() ([]string, error) {
	return serial.GetPortsList()
}
