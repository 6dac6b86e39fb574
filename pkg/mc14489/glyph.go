// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package mc14489

import "fmt"

// specialGlyphs is the driver's special decode character set.
// 0xF is a degree sign on the display and reads as 'o', like 0x7.
var specialGlyphs = [16]byte{
	' ', 'c', 'H', 'h', 'J', 'L', 'n', 'o',
	'P', 'r', 'U', 'u', 'y', '-', '=', 'o',
}

// hexGlyphs is the driver's hexadecimal decode character set
const hexGlyphs = "0123456789ABCDEF"

// specialMasks selects the decode mode of each display nibble, low nibble first
var specialMasks = [GlyphCount]uint8{ControlSpecialLow, ControlSpecialMid, ControlSpecialHigh}

// DecodeGlyph maps a 4-bit nibble to the character the driver renders.
// Only the low four bits of nibble are used.
func DecodeGlyph(nibble uint8, special bool) byte {
	nibble &= 0x0F
	if special {
		return specialGlyphs[nibble]
	}
	return hexGlyphs[nibble]
}

// Registers is a snapshot of one channel's committed registers
type Registers struct {
	Control uint8
	Display uint32
}

// DisplayOn reports whether the display is lit
func (r Registers) DisplayOn() bool {
	return r.Control&ControlDisplayOn != 0
}

// Special reports whether glyph i is decoded with the special character set
func (r Registers) Special(i int) bool {
	mask := specialMasks[i]
	return r.Control&mask == mask
}

// Nibble returns the raw 4-bit value behind glyph i
func (r Registers) Nibble(i int) uint8 {
	return uint8(r.Display>>(4*uint(i))) & 0x0F
}

// Glyph decodes glyph i, 0 being the low-order nibble
func (r Registers) Glyph(i int) byte {
	return DecodeGlyph(r.Nibble(i), r.Special(i))
}

// Glyphs decodes all three display glyphs, low-order nibble first
func (r Registers) Glyphs() [GlyphCount]byte {
	var g [GlyphCount]byte
	for i := range g {
		g[i] = r.Glyph(i)
	}
	return g
}

// String renders the registers for diagnostics
func (r Registers) String() string {
	g := r.Glyphs()
	return fmt.Sprintf("ctrl=0x%02X disp=0x%06X [%s]", r.Control, r.Display, g[:])
}
