// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package mc14489

import "periph.io/x/conn/v3/gpio"

// Line is a digital input that can be sampled at any time.
// Any periph gpio.PinIn satisfies it.
type Line interface {
	Read() gpio.Level
}

type invertedLine struct {
	line Line
}

func (l invertedLine) Read() gpio.Level {
	return !l.line.Read()
}

// Inverted returns a Line reading the opposite level of line.
// Chip-select is active-low, so channels read it inverted.
func Inverted(line Line) Line {
	return invertedLine{line: line}
}
