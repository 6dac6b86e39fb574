// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package sniffer

import (
	"fmt"
	"time"

	"github.com/Thermoquad/mielestat/pkg/mc14489"
	"github.com/fxamacker/cbor/v2"
)

// ChannelSnapshot holds one channel's registers and diagnostic counters
type ChannelSnapshot struct {
	Address        uint8
	Control        uint8
	Display        uint32
	ControlUpdates uint64
	DisplayUpdates uint64
	Glitches       uint64
}

// Registers returns the register pair of the snapshot
func (c ChannelSnapshot) Registers() mc14489.Registers {
	return mc14489.Registers{Control: c.Control, Display: c.Display}
}

// Commits returns the number of committed transactions
func (c ChannelSnapshot) Commits() uint64 {
	return c.ControlUpdates + c.DisplayUpdates
}

// Snapshot is the state of both channels at one poll
type Snapshot struct {
	Time  time.Time
	Left  ChannelSnapshot
	Right ChannelSnapshot
}

// Channel returns the snapshot of side
func (s Snapshot) Channel(side Side) ChannelSnapshot {
	if side == Right {
		return s.Right
	}
	return s.Left
}

func snapshotChannel(ch *mc14489.Channel) ChannelSnapshot {
	regs := ch.Registers()
	return ChannelSnapshot{
		Address:        ch.Address(),
		Control:        regs.Control,
		Display:        regs.Display,
		ControlUpdates: ch.ControlUpdates(),
		DisplayUpdates: ch.DisplayUpdates(),
		Glitches:       ch.Glitches(),
	}
}

// snapshotEncMode encodes deterministically so equal registers give equal bytes
var snapshotEncMode cbor.EncMode

func init() {
	var err error
	encOpts := cbor.EncOptions{
		Sort:        cbor.SortCanonical,
		IndefLength: cbor.IndefLengthForbidden,
	}
	snapshotEncMode, err = encOpts.EncMode()
	if err != nil {
		panic(fmt.Sprintf("failed to create snapshot CBOR encoder mode: %v", err))
	}
}

// MarshalRegisters encodes the registers of both channels as
// [[left control, left display], [right control, right display]].
// Poll time and counters are left out so the encoding only changes when a
// register does.
func (s Snapshot) MarshalRegisters() ([]byte, error) {
	regs := [2][2]uint32{
		{uint32(s.Left.Control), s.Left.Display},
		{uint32(s.Right.Control), s.Right.Display},
	}
	return snapshotEncMode.Marshal(regs)
}

// DecodeRegisters decodes a payload produced by MarshalRegisters
func DecodeRegisters(data []byte) (left, right mc14489.Registers, err error) {
	if len(data) == 0 {
		return left, right, fmt.Errorf("empty CBOR payload")
	}
	var regs [2][2]uint32
	if err := cbor.Unmarshal(data, &regs); err != nil {
		return left, right, fmt.Errorf("failed to decode registers CBOR: %w", err)
	}
	if regs[0][0] > mc14489.ControlMask || regs[1][0] > mc14489.ControlMask {
		return left, right, fmt.Errorf("control register out of range")
	}
	left = mc14489.Registers{Control: uint8(regs[0][0]), Display: regs[0][1]}
	right = mc14489.Registers{Control: uint8(regs[1][0]), Display: regs[1][1]}
	return left, right, nil
}
