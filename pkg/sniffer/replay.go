// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package sniffer

import (
	"context"
	"errors"
	"io"
	"sync/atomic"

	"periph.io/x/conn/v3/gpio"
)

// Sample bit layout of a logic capture byte. Levels are electrical, so a
// select bit is 0 while its chip is selected. Bits 4-7 are ignored.
const (
	SampleClock       = 0x01
	SampleData        = 0x02
	SampleSelectLeft  = 0x04
	SampleSelectRight = 0x08
)

// Levels are the electrical levels of the four bus lines
type Levels struct {
	Data        bool
	Clock       bool
	SelectLeft  bool
	SelectRight bool
}

// ParseSample splits a capture byte into line levels
func ParseSample(b byte) Levels {
	return Levels{
		Clock:       b&SampleClock != 0,
		Data:        b&SampleData != 0,
		SelectLeft:  b&SampleSelectLeft != 0,
		SelectRight: b&SampleSelectRight != 0,
	}
}

// Sample packs the levels into a capture byte
func (l Levels) Sample() byte {
	var b byte
	if l.Clock {
		b |= SampleClock
	}
	if l.Data {
		b |= SampleData
	}
	if l.SelectLeft {
		b |= SampleSelectLeft
	}
	if l.SelectRight {
		b |= SampleSelectRight
	}
	return b
}

// sampleLine is a bus line driven by capture samples
type sampleLine struct {
	level atomic.Bool
}

func (l *sampleLine) Read() gpio.Level {
	return gpio.Level(l.level.Load())
}

func (l *sampleLine) set(level bool) {
	l.level.Store(level)
}

// Replay detects edges in a stream of logic samples and feeds them to a
// Monitor. Every bus source ends up here: polled GPIO pins, a serial or
// WebSocket sample bridge, or a capture file.
//
// The first sample only primes the line levels. In every later sample,
// select line changes are dispatched before a clock rising edge, and a
// clock edge samples the data level of the same sample.
type Replay struct {
	monitor *Monitor

	data        sampleLine
	clock       sampleLine
	selectLeft  sampleLine
	selectRight sampleLine

	prev   Levels
	primed bool

	samples atomic.Uint64
	edges   atomic.Uint64
}

// NewReplay creates a replay with its own Monitor over sample-driven lines
func NewReplay() *Replay {
	r := &Replay{}
	r.monitor = New(Lines{
		Data:        &r.data,
		Clock:       &r.clock,
		SelectLeft:  &r.selectLeft,
		SelectRight: &r.selectRight,
	})
	return r
}

// Monitor returns the monitor fed by this replay
func (r *Replay) Monitor() *Monitor {
	return r.monitor
}

// Samples returns the number of samples processed
func (r *Replay) Samples() uint64 {
	return r.samples.Load()
}

// Edges returns the number of edges dispatched to the monitor
func (r *Replay) Edges() uint64 {
	return r.edges.Load()
}

// Feed processes a single capture sample
func (r *Replay) Feed(sample byte) {
	l := ParseSample(sample)
	r.samples.Add(1)

	r.data.set(l.Data)
	r.clock.set(l.Clock)

	if !r.primed {
		r.selectLeft.set(l.SelectLeft)
		r.selectRight.set(l.SelectRight)
		r.prev = l
		r.primed = true
		return
	}

	if l.SelectLeft != r.prev.SelectLeft {
		r.selectLeft.set(l.SelectLeft)
		r.edges.Add(1)
		r.monitor.OnSelectEdge(Left)
	}
	if l.SelectRight != r.prev.SelectRight {
		r.selectRight.set(l.SelectRight)
		r.edges.Add(1)
		r.monitor.OnSelectEdge(Right)
	}
	if l.Clock && !r.prev.Clock {
		r.edges.Add(1)
		r.monitor.OnClockEdge()
	}

	r.prev = l
}

// Write feeds every byte of p as a sample. It never fails.
func (r *Replay) Write(p []byte) (int, error) {
	for _, b := range p {
		r.Feed(b)
	}
	return len(p), nil
}

// Consume feeds samples read from src until EOF, a read error or ctx is
// cancelled. EOF is not an error. Close src to interrupt a blocked read.
func (r *Replay) Consume(ctx context.Context, src io.Reader) error {
	buf := make([]byte, 128)
	for {
		if err := ctx.Err(); err != nil {
			return nil
		}

		n, err := src.Read(buf)
		r.Write(buf[:n])
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
	}
}
