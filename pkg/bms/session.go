// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package bms

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
)

// Session runs refresh cycles against one device. A cycle connects, runs the
// vendor's queries in order and disconnects on every exit path; with
// keep-alive the link stays open after a successful cycle. Sessions for
// different devices share nothing but the read-only Vendor.
type Session struct {
	vendor    *Vendor
	transport Transport
	opts      options
	log       logrus.FieldLogger

	mu   sync.Mutex // serializes cycles
	last *Sample
	info *DeviceInfo
}

// NewSession creates a session for one device
func NewSession(v *Vendor, t Transport, opts ...Option) *Session {
	o := newOptions(v, opts)
	return &Session{
		vendor:    v,
		transport: t,
		opts:      o,
		log:       o.log.WithField("vendor", v.Key),
	}
}

// Vendor returns the session's vendor
func (s *Session) Vendor() *Vendor {
	return s.vendor
}

// Last returns a copy of the most recent successful sample, or nil
func (s *Session) Last() *Sample {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last == nil {
		return nil
	}
	return s.last.Clone()
}

// Refresh runs one refresh cycle and returns the normalized sample. A failed
// cycle leaves Last unchanged.
func (s *Session) Refresh(ctx context.Context) (*Sample, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sample, err := s.cycle(ctx)
	s.opts.stats.RecordCycle(err == nil)
	if err != nil {
		s.log.WithError(err).Warn("refresh failed")
		return nil, err
	}
	s.last = sample
	return sample.Clone(), nil
}

// Close releases a kept-alive connection
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.transport.Connected() {
		return nil
	}
	return s.transport.Disconnect()
}

// DeviceInfo reads the identity of the device: vendor defaults, then what
// the transport reports, then the vendor's info queries. The first
// successful read is kept for the lifetime of the session.
func (s *Session) DeviceInfo(ctx context.Context) (*DeviceInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.info == nil {
		info, err := s.readInfo(ctx)
		if err != nil {
			s.log.WithError(err).Warn("device info failed")
			return nil, err
		}
		s.info = info
	}
	info := *s.info
	return &info, nil
}

func (s *Session) readInfo(ctx context.Context) (info *DeviceInfo, err error) {
	if err := s.connect(ctx); err != nil {
		return nil, err
	}
	defer func() { s.release(err) }()

	info = &DeviceInfo{Manufacturer: s.vendor.Manufacturer, Model: s.vendor.Model}
	if r, ok := s.transport.(InfoReader); ok {
		reported, rerr := r.ReadInfo(ctx)
		if rerr != nil {
			s.log.WithError(rerr).Debug("transport info unavailable")
		} else {
			info.Merge(reported)
		}
	}

	d := s.dispatcher()
	for _, q := range s.vendor.InfoQueries {
		frame, qerr := d.Issue(ctx, q.query())
		if qerr != nil {
			var terr *TimeoutError
			if errors.As(qerr, &terr) {
				s.log.WithError(qerr).Info("info query skipped")
				continue
			}
			return nil, qerr
		}
		if q.Decode == nil {
			continue
		}
		if derr := q.Decode(frame, info); derr != nil {
			s.opts.stats.RecordDecodeError()
			s.log.WithError(derr).WithField("query", q.Name).Warn("decoder rejected frame")
		}
	}
	return info, nil
}

func (s *Session) connect(ctx context.Context) error {
	if s.transport.Connected() {
		return nil
	}
	s.log.Debug("connecting")
	if cerr := s.transport.Connect(ctx); cerr != nil {
		var terr *TransportError
		if errors.As(cerr, &terr) {
			return cerr
		}
		return &TransportError{Op: "connect", Err: cerr}
	}
	return nil
}

// release disconnects unless keep-alive holds a healthy link open
func (s *Session) release(err error) {
	if err == nil && s.opts.keepAlive {
		return
	}
	if derr := s.transport.Disconnect(); derr != nil {
		s.log.WithError(derr).Warn("disconnect failed")
	}
}

func (s *Session) dispatcher() *Dispatcher {
	return NewDispatcher(s.vendor.Protocol, s.transport,
		WithLogger(s.log),
		WithTimeout(s.opts.timeout),
		WithRetries(s.opts.maxRetries),
		WithStatistics(s.opts.stats),
	)
}

func (s *Session) cycle(ctx context.Context) (sample *Sample, err error) {
	if err := s.connect(ctx); err != nil {
		return nil, err
	}
	defer func() { s.release(err) }()

	d := s.dispatcher()
	norm := NewNormalizer(s.vendor.Derive)

	for _, q := range s.vendor.Queries {
		frame, qerr := d.Issue(ctx, q)
		if qerr != nil {
			var terr *TimeoutError
			if errors.As(qerr, &terr) && (q.Optional || s.vendor.AllowPartial) {
				s.log.WithError(qerr).Info("query skipped")
				continue
			}
			return nil, qerr
		}
		if q.Decode == nil {
			continue
		}
		part, derr := q.Decode(frame)
		if derr != nil {
			s.opts.stats.RecordDecodeError()
			var decErr *DecodingError
			if errors.As(derr, &decErr) && decErr.Query == "" {
				decErr.Query = q.Name
			}
			s.log.WithError(derr).Warn("decoder rejected frame")
			continue
		}
		norm.Add(part)
	}

	if s.opts.raw {
		sample = norm.Raw()
		if sample.Empty() {
			return nil, fmt.Errorf("%s: %w", s.vendor.Key, &PartialResultError{Missing: mandatoryFields})
		}
		return sample, nil
	}

	sample, err = norm.Finish()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", s.vendor.Key, err)
	}
	return sample, nil
}
