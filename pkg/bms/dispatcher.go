// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package bms

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/looplab/fsm"
	"github.com/sirupsen/logrus"
)

var errConnectionLost = errors.New("notification stream closed")

// PendingRequest is the single in-flight query of a dispatcher
type PendingRequest struct {
	Query    Query
	Expected byte
	Deadline time.Time
	Attempt  int // retransmissions so far
	IssuedAt time.Time
}

// Dispatcher runs one query at a time over a transport. A query moves
// idle -> awaiting_response and resolves back to idle on the first validated
// frame carrying its discriminator. A deadline expiry moves it to retrying,
// which re-sends the command until the retry bound is reached and the query
// ends in failed.
type Dispatcher struct {
	proto      *Protocol
	transport  Transport
	assembler  *Assembler
	machine    *fsm.FSM
	timeout    time.Duration
	maxRetries int
	log        logrus.FieldLogger
	stats      *Statistics
	pending    *PendingRequest
	history    []string
}

// NewDispatcher creates a dispatcher in the idle state
func NewDispatcher(p *Protocol, t Transport, opts ...Option) *Dispatcher {
	o := newOptions(nil, opts)
	d := &Dispatcher{
		proto:      p,
		transport:  t,
		assembler:  NewAssembler(p),
		timeout:    o.timeout,
		maxRetries: o.maxRetries,
		log:        o.log,
		stats:      o.stats,
		history:    []string{StateIdle},
	}
	d.machine = fsm.NewFSM(
		StateIdle,
		fsm.Events{
			{Name: eventIssue, Src: []string{StateIdle}, Dst: StateAwaitingResponse},
			{Name: eventResolve, Src: []string{StateAwaitingResponse}, Dst: StateIdle},
			{Name: eventExpire, Src: []string{StateAwaitingResponse}, Dst: StateRetrying},
			{Name: eventRetry, Src: []string{StateRetrying}, Dst: StateAwaitingResponse},
			{Name: eventExhaust, Src: []string{StateRetrying}, Dst: StateFailed},
			{Name: eventReset, Src: []string{StateAwaitingResponse, StateRetrying, StateFailed}, Dst: StateIdle},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				d.history = append(d.history, e.Dst)
				d.log.WithFields(logrus.Fields{"event": e.Event, "from": e.Src, "to": e.Dst}).Trace("dispatcher transition")
			},
		},
	)
	return d
}

// State returns the current state name
func (d *Dispatcher) State() string {
	return d.machine.Current()
}

// History returns every state entered since creation, starting with idle
func (d *Dispatcher) History() []string {
	return append([]string(nil), d.history...)
}

// Pending returns a copy of the in-flight request, or nil when idle
func (d *Dispatcher) Pending() *PendingRequest {
	if d.pending == nil {
		return nil
	}
	p := *d.pending
	return &p
}

// Assembler exposes the dispatcher's frame buffer for diagnostics
func (d *Dispatcher) Assembler() *Assembler {
	return d.assembler
}

// Issue sends q and blocks until the matching frame arrives, the retries are
// exhausted (*TimeoutError), the link fails (*TransportError), the stream
// cannot be synchronized (*FramingError) or ctx is cancelled.
func (d *Dispatcher) Issue(ctx context.Context, q Query) (*Frame, error) {
	if !d.machine.Is(StateIdle) {
		d.event(eventReset)
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("query %s: %w", q.Name, err)
	}

	chunks := d.transport.Chunks()
	if chunks == nil {
		return nil, &TransportError{Op: "receive", Err: errConnectionLost}
	}
	// Anything queued before the request goes out answers an older query.
	// Passive queries keep it: the device pushes without being asked.
	if !q.Passive() {
		d.flush(chunks)
	}

	now := time.Now()
	d.pending = &PendingRequest{
		Query:    q,
		Expected: q.Response,
		Deadline: now.Add(d.timeout),
		IssuedAt: now,
	}
	d.event(eventIssue)
	log := d.log.WithField("query", q.Name)

	if err := d.send(ctx, q); err != nil {
		d.abort()
		return nil, err
	}

	timer := time.NewTimer(d.timeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			d.abort()
			return nil, fmt.Errorf("query %s: %w", q.Name, ctx.Err())

		case chunk, ok := <-chunks:
			if !ok {
				d.abort()
				return nil, &TransportError{Op: "receive", Err: errConnectionLost}
			}
			frame, err := d.consume(chunk, log)
			if frame != nil {
				d.event(eventResolve)
				d.pending = nil
				return frame, nil
			}
			if err != nil {
				d.abort()
				return nil, err
			}

		case <-timer.C:
			d.event(eventExpire)
			if d.pending.Attempt >= d.maxRetries {
				d.event(eventExhaust)
				d.stats.RecordTimeout()
				err := &TimeoutError{Query: q.Name, Attempts: d.pending.Attempt + 1, PerAttempt: d.timeout}
				d.pending = nil
				log.WithError(err).Debug("query failed")
				return nil, err
			}
			d.pending.Attempt++
			d.pending.Deadline = time.Now().Add(d.timeout)
			d.stats.RecordRetry()
			log.WithField("attempt", d.pending.Attempt).Debug("no response, retrying")
			d.event(eventRetry)
			if err := d.send(ctx, q); err != nil {
				d.abort()
				return nil, err
			}
			timer.Reset(d.timeout)
		}
	}
}

// consume feeds one chunk through the assembler and validator and returns
// the frame answering the pending request, if the chunk completed one
func (d *Dispatcher) consume(chunk []byte, log logrus.FieldLogger) (*Frame, error) {
	before := d.assembler.Discarded()
	raws, ferr := d.assembler.Push(chunk)
	d.stats.RecordDiscarded(d.assembler.Discarded() - before)

	for i, raw := range raws {
		frame, err := d.proto.Validate(raw)
		d.stats.RecordFrame(err)
		if err != nil {
			log.WithError(err).Debug("frame rejected")
			continue
		}
		if frame.Type() != d.pending.Expected {
			d.stats.RecordUnsolicited()
			log.WithField("type", fmt.Sprintf("0x%02X", frame.Type())).Debug("ignoring unsolicited frame")
			continue
		}
		if rest := len(raws) - i - 1; rest > 0 {
			log.WithField("frames", rest).Debug("dropping frames queued behind the response")
		}
		return frame, nil
	}

	if ferr != nil {
		d.stats.RecordFramingError()
		return nil, ferr
	}
	return nil, nil
}

func (d *Dispatcher) send(ctx context.Context, q Query) error {
	if q.Passive() {
		return nil
	}
	d.log.WithField("query", q.Name).Debugf("TX % X", q.Command)
	if err := d.transport.Write(ctx, q.Command); err != nil {
		var terr *TransportError
		if errors.As(err, &terr) {
			return err
		}
		return &TransportError{Op: "write", Err: err}
	}
	return nil
}

// flush drops chunks already queued and any partial frame
func (d *Dispatcher) flush(chunks <-chan []byte) {
	for {
		select {
		case _, ok := <-chunks:
			if !ok {
				d.assembler.Reset()
				return
			}
		default:
			d.assembler.Reset()
			return
		}
	}
}

func (d *Dispatcher) abort() {
	d.pending = nil
	if !d.machine.Is(StateIdle) {
		d.event(eventReset)
	}
}

func (d *Dispatcher) event(name string) {
	if err := d.machine.Event(context.Background(), name); err != nil {
		d.log.WithError(err).WithField("event", name).Error("dispatcher transition rejected")
	}
}
