// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package mc14489 reconstructs the registers of an MC14489-style LED driver
// by passively sampling its three-wire serial bus (data, clock, chip-select).
//
// The driver latches either an 8-bit control register or a 24-bit display
// register per transaction. Which one is decided purely by the number of
// clock pulses seen while the chip was selected.
package mc14489

// Transaction widths
const (
	ControlBits = 8
	DisplayBits = 24
)

// Register masks
const (
	ControlMask = 0xFF
	DisplayMask = 0xFFFFFF
)

// Control register bits
const (
	// ControlDisplayOn is clear while the display is blanked.
	ControlDisplayOn = 0x01

	// Special decode selection, one mask per display nibble.
	ControlSpecialLow  = 0x42
	ControlSpecialMid  = 0x44
	ControlSpecialHigh = 0x48
)

// GlyphCount is the number of decoded display nibbles.
const GlyphCount = 3

// Glyphs with a fixed meaning to the interpreter
const (
	GlyphBlank = ' '
	GlyphDash  = '-'
)

// registerReadAttempts bounds the retries of a consistent register pair read
const registerReadAttempts = 4
