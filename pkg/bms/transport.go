// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package bms

import "context"

// Transport is the link to one device. It knows nothing about framing: writes
// carry whole request frames and Chunks delivers notification payloads in
// arrival order, however the link happens to split them.
type Transport interface {
	// Connect opens the link and subscribes to notifications
	Connect(ctx context.Context) error
	// Disconnect closes the link; the Chunks channel is closed afterwards
	Disconnect() error
	// Write sends one request
	Write(ctx context.Context, p []byte) error
	// Chunks returns the notification stream of the current connection
	Chunks() <-chan []byte
	// Connected reports whether the link is up
	Connected() bool
}
