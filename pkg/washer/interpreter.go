// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package washer turns the registers of the two panel driver chips into the
// appliance state: remaining time from the left chip's three-digit display,
// and program phase, spin speed and option lamps from the right chip.
package washer

import (
	"strings"

	"github.com/Thermoquad/mielestat/pkg/mc14489"
)

// State is the appliance state as read from the left display
type State int

const (
	Normal State = iota
	DoorOpen
	Fault
)

func (s State) String() string {
	switch s {
	case Normal:
		return "normal"
	case DoorOpen:
		return "door open"
	case Fault:
		return "fault"
	default:
		return "unknown"
	}
}

// Source provides a channel's current register pair
type Source interface {
	Registers() mc14489.Registers
}

// Interpreter reads the left (time) and right (program) channels
type Interpreter struct {
	left  Source
	right Source
}

// New creates an interpreter over the two channels
func New(left, right Source) *Interpreter {
	return &Interpreter{left: left, right: right}
}

// IsDisplayOff reports whether the time display is blanked, which the
// panel does while the door is open
func (in *Interpreter) IsDisplayOff() bool {
	return IsDisplayOff(in.left.Registers())
}

// DecodeState classifies the left display
func (in *Interpreter) DecodeState() State {
	return DecodeState(in.left.Registers())
}

// FormatTime formats the remaining time
func (in *Interpreter) FormatTime() string {
	return FormatTime(in.left.Registers())
}

// FormatState formats the comma separated status line
func (in *Interpreter) FormatState() string {
	return FormatState(in.left.Registers(), in.right.Registers())
}

// IsDisplayOff reports whether left's display is blanked
func IsDisplayOff(left mc14489.Registers) bool {
	return !left.DisplayOn()
}

// DecodeState classifies the left display registers
func DecodeState(left mc14489.Registers) State {
	if IsDisplayOff(left) {
		return DoorOpen
	}
	if left.Glyph(0) == mc14489.GlyphDash {
		return Fault
	}
	return Normal
}

// FormatTime renders the left display as remaining time: "1h 30m",
// "45 min", "---" on a fault, or a single space when nothing is shown.
// Glyph 0 holds the hours, glyphs 1 and 2 the minutes.
func FormatTime(left mc14489.Registers) string {
	if IsDisplayOff(left) {
		return timeNone
	}

	g := left.Glyphs()
	if g[0] == mc14489.GlyphDash {
		return timeFault
	}
	if g[2] == mc14489.GlyphBlank {
		return timeNone
	}

	var b strings.Builder
	hours := g[0] != mc14489.GlyphBlank
	if hours {
		b.WriteByte(g[0])
		b.WriteString("h ")
	}
	if g[1] != mc14489.GlyphBlank {
		b.WriteByte(g[1])
	}
	b.WriteByte(g[2])
	if hours {
		b.WriteString("m")
	} else {
		b.WriteString(" min")
	}
	return b.String()
}

// Progress extracts the 5-bit progress code from the right display
func Progress(right mc14489.Registers) uint8 {
	return uint8((right.Display&progressHighMask)>>8) | uint8(right.Display&progressLowMask)
}

// Centrifuge extracts the spin speed setting from the right display
func Centrifuge(right mc14489.Registers) uint8 {
	return uint8((right.Display & centrifugeMask) >> centrifugeShift)
}

// ProgressLabel returns the label of the current program phase, if known
func ProgressLabel(left, right mc14489.Registers) (string, bool) {
	code := Progress(right)
	if code == ProgressEnd {
		if left.Glyphs() == finishedGlyphs {
			return labelFinished, true
		}
		return labelIdle, true
	}
	label, ok := progressLabels[code]
	return label, ok
}

// CentrifugeLabel returns the label of the spin speed setting, if known
func CentrifugeLabel(right mc14489.Registers) (string, bool) {
	label, ok := centrifugeLabels[Centrifuge(right)]
	return label, ok
}

// Labels lists the status labels in display order. A blanked display
// (door open) or a fault replaces the phase and spin speed labels;
// option lamps are always listed.
func Labels(left, right mc14489.Registers) []string {
	var labels []string

	switch DecodeState(left) {
	case DoorOpen:
		labels = append(labels, labelDoorOpen)
	case Fault:
		labels = append(labels, labelFault)
	default:
		if label, ok := ProgressLabel(left, right); ok {
			labels = append(labels, label)
		}
		if label, ok := CentrifugeLabel(right); ok {
			labels = append(labels, label)
		}
	}

	for _, opt := range options {
		if right.Display&opt.bit != 0 {
			labels = append(labels, opt.label)
		}
	}
	return labels
}

// FormatState joins the status labels with ", "
func FormatState(left, right mc14489.Registers) string {
	return strings.Join(Labels(left, right), ", ")
}
