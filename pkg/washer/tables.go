// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package washer

// The bit layout below was worked out by watching one appliance model's
// panel; treat it as protocol data to be checked against captured traces.

// Right display register fields
const (
	progressHighMask = 0xF000 // phase lamps, shifted down to 0x10-0x80
	progressLowMask  = 0x0007 // pump, spin and end lamps
	centrifugeMask   = 0x7E0000
	centrifugeShift  = 16
)

// Progress codes
const (
	ProgressReady       = 0x00
	ProgressPumping     = 0x01
	ProgressSpinning    = 0x02
	ProgressEnd         = 0x04
	ProgressPreWashing  = 0x10
	ProgressWashing     = 0x20
	ProgressRinsing     = 0x40
	ProgressPausedRinse = 0x80
)

var progressLabels = map[uint8]string{
	ProgressPreWashing:  "Pre-washing",
	ProgressWashing:     "Washing",
	ProgressRinsing:     "Rinsing",
	ProgressPausedRinse: "Paused Rinse",
	ProgressPumping:     "Pumping",
	ProgressSpinning:    "Spinning",
	ProgressReady:       "Ready",
}

// ProgressEnd is labelled from the left display
const (
	labelFinished = "Finished"
	labelIdle     = "Idle"
)

// finishedGlyphs is what the time display shows once a program has run out
var finishedGlyphs = [3]byte{' ', ' ', '0'}

var centrifugeLabels = map[uint8]string{
	0x02: "Ø 1600",
	0x04: "Ø 1400",
	0x08: "Ø 1200",
	0x50: "Ø 900",
	0x40: "Ø 600",
	0x30: "Ø 400",
	0x20: "Ø Rinse-pause",
	0x10: "Ø No",
}

// option is an independent program option lamp on the right display
type option struct {
	bit   uint32
	label string
}

// options are listed in this order when set.
// Delayed start (0x800) and soak (0x200) blink and are not decoded.
var options = []option{
	{0x000100, "Pre-wash"},
	{0x000040, "Short"},
	{0x000080, "Wasser Plus"},
	{0x010000, "Summer"},
}

// Override labels
const (
	labelDoorOpen = "Door open"
	labelFault    = "Fault"
)

// Time strings
const (
	timeNone  = " "
	timeFault = "---"
)
