// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package sniffer watches the shared serial bus of the appliance control
// board. A Monitor owns one mc14489.Channel per driver chip and routes the
// hardware edges of the shared clock line and the per-chip select lines to
// them. Edges are found by a Replay, in polled GPIO levels (WatchGPIO) or
// in a recorded or streamed logic sample capture.
package sniffer

import (
	"time"

	"github.com/Thermoquad/mielestat/pkg/mc14489"
)

// Driver chip addresses on the bus
const (
	AddressLeft  = 4
	AddressRight = 5
)

// Side identifies one of the two driver chips
type Side int

const (
	Left Side = iota
	Right
)

func (s Side) String() string {
	switch s {
	case Left:
		return "left"
	case Right:
		return "right"
	default:
		return "unknown"
	}
}

// Lines are the four bus signals as seen by the sniffer.
// Select lines are given at their electrical level (active-low).
type Lines struct {
	Data        mc14489.Line
	Clock       mc14489.Line
	SelectLeft  mc14489.Line
	SelectRight mc14489.Line
}

// Monitor owns both channel decoders for the lifetime of the process
type Monitor struct {
	Left  *mc14489.Channel
	Right *mc14489.Channel

	lines Lines
}

// New creates a monitor over the given lines
func New(lines Lines) *Monitor {
	return &Monitor{
		Left:  mc14489.NewChannel(AddressLeft, mc14489.Inverted(lines.SelectLeft), lines.Data),
		Right: mc14489.NewChannel(AddressRight, mc14489.Inverted(lines.SelectRight), lines.Data),
		lines: lines,
	}
}

// Levels samples the electrical level of all four lines
func (m *Monitor) Levels() Levels {
	return Levels{
		Data:        bool(m.lines.Data.Read()),
		Clock:       bool(m.lines.Clock.Read()),
		SelectLeft:  bool(m.lines.SelectLeft.Read()),
		SelectRight: bool(m.lines.SelectRight.Read()),
	}
}

// OnClockEdge dispatches a rising clock edge to both channels, left first
func (m *Monitor) OnClockEdge() {
	m.Left.OnClockEdge()
	m.Right.OnClockEdge()
}

// OnSelectEdge dispatches a select line edge to the channel on side
func (m *Monitor) OnSelectEdge(side Side) {
	if ch := m.Channel(side); ch != nil {
		ch.OnChipSelectEdge()
	}
}

// Channel returns the decoder for side
func (m *Monitor) Channel(side Side) *mc14489.Channel {
	switch side {
	case Left:
		return m.Left
	case Right:
		return m.Right
	default:
		return nil
	}
}

// Snapshot reads both channels. Each channel's register pair is read
// together; the two channels are read independently.
func (m *Monitor) Snapshot() Snapshot {
	return Snapshot{
		Time:  time.Now(),
		Left:  snapshotChannel(m.Left),
		Right: snapshotChannel(m.Right),
	}
}
