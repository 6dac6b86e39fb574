// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package publish

import (
	"context"
	"log/slog"
	"time"

	"github.com/Thermoquad/mielestat/pkg/sniffer"
	"github.com/Thermoquad/mielestat/pkg/washer"
)

// Output topic names
const (
	TopicTime      = "time"
	TopicStatus    = "status"
	TopicRegisters = "registers"
)

// Result is the outcome of one decode-and-publish step
type Result struct {
	Snapshot sniffer.Snapshot
	State    washer.State
	Time     string
	Status   string
	Changed  bool // time or status was published
}

// Publisher decodes the monitor's registers and publishes time and status
type Publisher struct {
	monitor *sniffer.Monitor
	logger  *slog.Logger

	time      *Topic
	status    *Topic
	registers *Topic // nil unless enabled
}

// Option configures a Publisher
type Option func(*Publisher)

// WithRegisters also publishes the raw registers of both channels as CBOR
func WithRegisters() Option {
	return func(p *Publisher) {
		p.registers = NewTopic(TopicRegisters, p.time.sink)
	}
}

// WithLogger sets the logger used for sink failures
func WithLogger(logger *slog.Logger) Option {
	return func(p *Publisher) {
		p.logger = logger
	}
}

// NewPublisher creates a publisher for m writing to sink
func NewPublisher(m *sniffer.Monitor, sink Sink, opts ...Option) *Publisher {
	p := &Publisher{
		monitor: m,
		logger:  slog.Default(),
		time:    NewTopic(TopicTime, sink),
		status:  NewTopic(TopicStatus, sink),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Step recomputes time and status from one snapshot of the monitor and
// publishes what changed. Sink failures are logged; the topic retries on
// the next step.
func (p *Publisher) Step(ctx context.Context) Result {
	snap := p.monitor.Snapshot()
	left, right := snap.Left.Registers(), snap.Right.Registers()
	r := Result{
		Snapshot: snap,
		Time:     washer.FormatTime(left),
		Status:   washer.FormatState(left, right),
		State:    washer.DecodeState(left),
	}

	r.Changed = p.update(ctx, p.time, []byte(r.Time))
	if p.update(ctx, p.status, []byte(r.Status)) {
		r.Changed = true
	}

	if p.registers != nil {
		data, err := r.Snapshot.MarshalRegisters()
		if err != nil {
			p.logger.Error("registers:encode-failed", slog.String("err", err.Error()))
		} else {
			p.update(ctx, p.registers, data)
		}
	}

	return r
}

func (p *Publisher) update(ctx context.Context, t *Topic, value []byte) bool {
	changed, err := t.Update(ctx, value)
	if err != nil {
		p.logger.Error("publish-failed", slog.String("topic", t.Name()), slog.String("err", err.Error()))
	}
	return changed
}

// Run steps every interval until ctx is cancelled. onStep, if not nil, is
// called with every result.
func (p *Publisher) Run(ctx context.Context, interval time.Duration, onStep func(Result)) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		r := p.Step(ctx)
		if onStep != nil {
			onStep(r)
		}
		if ctx.Err() != nil {
			return nil
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
