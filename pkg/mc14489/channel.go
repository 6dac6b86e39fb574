// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package mc14489

import (
	"sync/atomic"
)

// Channel implements the shift-register sampler for one driver chip.
//
// OnChipSelectEdge and OnClockEdge are edge handlers: they never block,
// never allocate and take no locks. Every field they touch is an
// independent atomic so readers on other goroutines can poll at any time.
type Channel struct {
	address uint8
	cs      Line // reads High while the chip is selected
	data    Line

	selected atomic.Bool
	buffer   atomic.Uint32
	bits     atomic.Uint32

	// seq is odd while a commit is in progress
	seq     atomic.Uint32
	control atomic.Uint32
	display atomic.Uint32

	controlUpdates atomic.Uint64
	displayUpdates atomic.Uint64
	glitches       atomic.Uint64
	glitchBits     atomic.Uint32
}

// NewChannel creates a channel decoder for the driver at address.
// cs must read High while the chip is selected; wrap an active-low
// select line with Inverted.
func NewChannel(address uint8, cs, data Line) *Channel {
	return &Channel{
		address: address,
		cs:      cs,
		data:    data,
	}
}

// Address returns the physical address of the driver chip
func (c *Channel) Address() uint8 {
	return c.address
}

// OnChipSelectEdge handles any transition of the select line.
// Selecting the chip starts a new transaction; deselecting it commits the
// shifted bits if their count matches a register width and drops them
// otherwise.
func (c *Channel) OnChipSelectEdge() {
	if c.cs.Read() {
		c.buffer.Store(0)
		c.bits.Store(0)
		c.selected.Store(true)
		return
	}

	c.selected.Store(false)

	switch bits := c.bits.Load(); bits {
	case ControlBits:
		c.commit(&c.control, c.buffer.Load()&ControlMask)
		c.controlUpdates.Add(1)
	case DisplayBits:
		c.commit(&c.display, c.buffer.Load()&DisplayMask)
		c.displayUpdates.Add(1)
	default:
		// glitch
		c.glitches.Add(1)
		c.glitchBits.Store(bits)
	}
}

// OnClockEdge handles a rising edge of the shared clock line. Edge
// handlers of one channel must run on the same goroutine.
func (c *Channel) OnClockEdge() {
	if !c.selected.Load() {
		return
	}
	var bit uint32
	if c.data.Read() {
		bit = 1
	}
	c.buffer.Store(c.buffer.Load()<<1 | bit)
	c.bits.Add(1)
}

func (c *Channel) commit(reg *atomic.Uint32, value uint32) {
	c.seq.Add(1)
	reg.Store(value)
	c.seq.Add(1)
}

// Registers returns the control and display registers read together.
// A pair torn by a concurrent commit is retried a few times and then
// returned as is; the next poll sees the settled values.
func (c *Channel) Registers() Registers {
	var r Registers
	for i := 0; i < registerReadAttempts; i++ {
		seq := c.seq.Load()
		r.Control = uint8(c.control.Load())
		r.Display = c.display.Load()
		if seq&1 == 0 && c.seq.Load() == seq {
			break
		}
	}
	return r
}

// ControlRegister returns the last committed control register
func (c *Channel) ControlRegister() uint8 {
	return uint8(c.control.Load())
}

// DisplayRegister returns the last committed display register
func (c *Channel) DisplayRegister() uint32 {
	return c.display.Load()
}

// Selected reports whether a transaction is in progress
func (c *Channel) Selected() bool {
	return c.selected.Load()
}

// ControlUpdates returns the number of committed control transactions
func (c *Channel) ControlUpdates() uint64 {
	return c.controlUpdates.Load()
}

// DisplayUpdates returns the number of committed display transactions
func (c *Channel) DisplayUpdates() uint64 {
	return c.displayUpdates.Load()
}

// Glitches returns the number of discarded transactions
func (c *Channel) Glitches() uint64 {
	return c.glitches.Load()
}

// LastGlitchBits returns the bit count of the most recent discarded transaction
func (c *Channel) LastGlitchBits() uint32 {
	return c.glitchBits.Load()
}
