// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package sniffer

import (
	"context"
	"fmt"

	"periph.io/x/conn/v3/gpio"
)

// Pins are the host GPIO inputs wired to the bus
type Pins struct {
	Data        gpio.PinIn
	Clock       gpio.PinIn
	SelectLeft  gpio.PinIn
	SelectRight gpio.PinIn
}

// Levels reads the four pins, in field order
func (p Pins) Levels() Levels {
	var l Levels
	l.Data = bool(p.Data.Read())
	l.Clock = bool(p.Clock.Read())
	l.SelectLeft = bool(p.SelectLeft.Read())
	l.SelectRight = bool(p.SelectRight.Read())
	return l
}

// configure sets every pin as a plain input without edge detection
func (p Pins) configure() error {
	for _, line := range []struct {
		role string
		pin  gpio.PinIn
	}{
		{"data", p.Data},
		{"clock", p.Clock},
		{"left select", p.SelectLeft},
		{"right select", p.SelectRight},
	} {
		if err := line.pin.In(gpio.PullNoChange, gpio.NoEdge); err != nil {
			return fmt.Errorf("failed to configure %s line %s: %w", line.role, line.pin, err)
		}
	}
	return nil
}

// WatchGPIO polls the pins from a single goroutine and feeds every change
// of levels to r as one sample, until ctx is cancelled. Edges therefore
// reach r's monitor in the order they were sampled, with the same ordering
// rules as a capture. A pulse shorter than one pass over the pins is lost.
func WatchGPIO(ctx context.Context, r *Replay, pins Pins) error {
	if err := pins.configure(); err != nil {
		return err
	}

	last := -1
	for ctx.Err() == nil {
		sample := pins.Levels().Sample()
		if int(sample) == last {
			continue
		}
		r.Feed(sample)
		last = int(sample)
	}
	return nil
}
