// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package bms implements a vendor-agnostic request/response engine for
// battery management systems reached over notification-based links.
//
// A Vendor describes a device family: its frame layout (Protocol), the
// ordered queries of one refresh cycle and the pure decoders for each
// response. A Session runs refresh cycles against a Transport and folds the
// decoded fields into one canonical Sample.
package bms

import "time"

// Dispatch defaults
const (
	DefaultTimeout    = 5 * time.Second
	DefaultMaxRetries = 2
)

// Buffer limits applied when a Protocol leaves them unset
const (
	DefaultMaxFrameSize = 512
	DefaultMaxBuffer    = 2048
)

// Plausibility limits used by the normalizer
const (
	MaxCellVoltage = 5.906 // V, upper bound for any lithium chemistry
	hoursToSeconds = 3600
)

// Dispatcher states
const (
	StateIdle             = "idle"
	StateAwaitingResponse = "awaiting_response"
	StateRetrying         = "retrying"
	StateFailed           = "failed"
)

// Dispatcher events
const (
	eventIssue   = "issue"
	eventResolve = "resolve"
	eventExpire  = "expire"
	eventRetry   = "retry"
	eventExhaust = "exhaust"
	eventReset   = "reset"
)
