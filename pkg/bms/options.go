// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package bms

import (
	"io"
	"time"

	"github.com/sirupsen/logrus"
)

// Option configures a Session or Dispatcher
type Option func(*options)

type options struct {
	log        logrus.FieldLogger
	timeout    time.Duration
	maxRetries int
	stats      *Statistics
	keepAlive  bool
	raw        bool
}

func newOptions(v *Vendor, opts []Option) options {
	o := options{log: discardLogger()}
	if v != nil {
		o.timeout = v.timeout()
		o.maxRetries = v.maxRetries()
	} else {
		o.timeout = DefaultTimeout
		o.maxRetries = DefaultMaxRetries
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithLogger sets the logger. Sessions add vendor and device fields.
func WithLogger(l logrus.FieldLogger) Option {
	return func(o *options) {
		if l != nil {
			o.log = l
		}
	}
}

// WithTimeout overrides the per-attempt response deadline
func WithTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.timeout = d
		}
	}
}

// WithRetries overrides the retransmission bound; zero disables retries
func WithRetries(n int) Option {
	return func(o *options) {
		if n >= 0 {
			o.maxRetries = n
		}
	}
}

// WithStatistics records frame and cycle counters into s
func WithStatistics(s *Statistics) Option {
	return func(o *options) {
		o.stats = s
	}
}

// WithKeepAlive keeps the link open between successful cycles
func WithKeepAlive(keep bool) Option {
	return func(o *options) {
		o.keepAlive = keep
	}
}

// WithRaw makes refresh cycles return decoded fields only, skipping
// derivation and the problem evaluation
func WithRaw(raw bool) Option {
	return func(o *options) {
		o.raw = raw
	}
}

func discardLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}
