// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package poller drives refresh cycles on a fixed interval
package poller

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/Thermoquad/bmsstat/pkg/bms"
)

// Refresher runs one refresh cycle. *bms.Session satisfies it.
type Refresher interface {
	Refresh(ctx context.Context) (*bms.Sample, error)
}

// Config is the minimal runtime config the poller needs
type Config struct {
	Device   string
	Vendor   string
	Interval time.Duration
}

// Result is the outcome of one poll
type Result struct {
	Device   string
	Vendor   string
	At       time.Time
	Duration time.Duration

	Sample *bms.Sample
	Err    error // non-nil means the cycle failed and Sample is nil
}

// Poller is a clock-driven refresher for one device
type Poller struct {
	cfg     Config
	session Refresher
}

// New creates a poller with immutable config
func New(cfg Config, session Refresher) (*Poller, error) {
	if cfg.Device == "" {
		return nil, errors.New("poller: device name required")
	}
	if cfg.Interval <= 0 {
		return nil, errors.New("poller: interval must be > 0")
	}
	if session == nil {
		return nil, errors.New("poller: session required")
	}
	return &Poller{cfg: cfg, session: session}, nil
}

// Device returns the polled device's name
func (p *Poller) Device() string {
	return p.cfg.Device
}

// PollOnce performs exactly one refresh cycle
func (p *Poller) PollOnce(ctx context.Context) Result {
	start := time.Now()
	sample, err := p.session.Refresh(ctx)
	return Result{
		Device:   p.cfg.Device,
		Vendor:   p.cfg.Vendor,
		At:       start,
		Duration: time.Since(start),
		Sample:   sample,
		Err:      err,
	}
}

// Run polls once immediately, then on every tick, emitting each Result on
// out. Cycles never overlap: a cycle longer than the interval delays the
// next tick.
func (p *Poller) Run(ctx context.Context, out chan<- Result) {
	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	for {
		res := p.PollOnce(ctx)
		if ctx.Err() != nil {
			return
		}
		select {
		case out <- res:
		case <-ctx.Done():
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// RunAll runs every poller in its own goroutine and closes out once all
// of them have returned
func RunAll(ctx context.Context, pollers []*Poller, out chan<- Result) {
	var wg sync.WaitGroup
	for _, p := range pollers {
		wg.Add(1)
		go func(p *Poller) {
			defer wg.Done()
			p.Run(ctx, out)
		}(p)
	}
	wg.Wait()
	close(out)
}
