// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package poller

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Thermoquad/bmsstat/pkg/bms"
)

type fakeRefresher struct {
	calls atomic.Int32
	err   error
	delay time.Duration
}

func (f *fakeRefresher) Refresh(ctx context.Context) (*bms.Sample, error) {
	n := f.calls.Add(1)
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return &bms.Sample{BatteryLevel: bms.Ptr(float64(n))}, nil
}

// ============================================================================
// Construction
// ============================================================================

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		session Refresher
		wantErr bool
	}{
		{"valid", Config{Device: "d", Interval: time.Second}, &fakeRefresher{}, false},
		{"no device", Config{Interval: time.Second}, &fakeRefresher{}, true},
		{"zero interval", Config{Device: "d"}, &fakeRefresher{}, true},
		{"no session", Config{Device: "d", Interval: time.Second}, nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.cfg, tt.session)
			if (err != nil) != tt.wantErr {
				t.Errorf("New() err=%v, wantErr=%v", err, tt.wantErr)
			}
		})
	}
}

// ============================================================================
// PollOnce
// ============================================================================

func TestPollOnce_Success(t *testing.T) {
	p, err := New(Config{Device: "house", Vendor: "jbd", Interval: time.Second}, &fakeRefresher{})
	if err != nil {
		t.Fatalf("New() err=%v", err)
	}

	res := p.PollOnce(context.Background())
	if res.Err != nil {
		t.Fatalf("PollOnce err=%v", res.Err)
	}
	if res.Device != "house" || res.Vendor != "jbd" {
		t.Errorf("result labels = %s/%s", res.Device, res.Vendor)
	}
	if res.Sample == nil || *res.Sample.BatteryLevel != 1 {
		t.Errorf("sample = %+v", res.Sample)
	}
	if res.At.IsZero() {
		t.Error("timestamp not set")
	}
}

func TestPollOnce_Failure(t *testing.T) {
	want := &bms.TimeoutError{Query: "cells", Attempts: 3}
	p, err := New(Config{Device: "house", Interval: time.Second}, &fakeRefresher{err: want})
	if err != nil {
		t.Fatalf("New() err=%v", err)
	}

	res := p.PollOnce(context.Background())
	if !errors.Is(res.Err, bms.ErrTimeout) {
		t.Fatalf("expected timeout, got %v", res.Err)
	}
	if res.Sample != nil {
		t.Error("failed poll carried a sample")
	}
}

// ============================================================================
// Run
// ============================================================================

func TestRun_PollsImmediatelyAndOnTicks(t *testing.T) {
	r := &fakeRefresher{}
	p, _ := New(Config{Device: "house", Interval: 20 * time.Millisecond}, r)

	ctx, cancel := context.WithCancel(context.Background())
	out := make(chan Result)
	done := make(chan struct{})
	go func() {
		p.Run(ctx, out)
		close(done)
	}()

	for i := 1; i <= 3; i++ {
		select {
		case res := <-out:
			if *res.Sample.BatteryLevel != float64(i) {
				t.Errorf("poll %d: battery_level = %v", i, *res.Sample.BatteryLevel)
			}
		case <-time.After(time.Second):
			t.Fatalf("poll %d never arrived", i)
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestRun_StopsWhileBlockedOnOutput(t *testing.T) {
	p, _ := New(Config{Device: "house", Interval: time.Millisecond}, &fakeRefresher{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx, make(chan Result)) // never read
		close(done)
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run blocked on a full output channel")
	}
}

func TestRun_NoOverlap(t *testing.T) {
	r := &fakeRefresher{delay: 30 * time.Millisecond}
	p, _ := New(Config{Device: "house", Interval: time.Millisecond}, r)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	out := make(chan Result, 16)
	p.Run(ctx, out)

	// 100ms of 30ms cycles allows at most 4 started refreshes
	if n := r.calls.Load(); n > 4 {
		t.Errorf("refresh ran %d times, cycles overlapped", n)
	}
}

func TestRunAll(t *testing.T) {
	a, _ := New(Config{Device: "a", Interval: time.Hour}, &fakeRefresher{})
	b, _ := New(Config{Device: "b", Interval: time.Hour}, &fakeRefresher{})

	ctx, cancel := context.WithCancel(context.Background())
	out := make(chan Result, 4)
	go RunAll(ctx, []*Poller{a, b}, out)

	seen := make(map[string]bool)
	for len(seen) < 2 {
		select {
		case res := <-out:
			seen[res.Device] = true
		case <-time.After(time.Second):
			t.Fatalf("only saw %v", seen)
		}
	}

	cancel()
	select {
	case _, ok := <-out:
		for ok {
			_, ok = <-out
		}
	case <-time.After(time.Second):
		t.Fatal("output not closed after cancel")
	}
}
