// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package sniffer

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/Thermoquad/mielestat/pkg/mc14489"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpiotest"
)

// ============================================================
// GPIO Helpers
// ============================================================

// pinScript plays a trace on four pins, one sample per pass over them.
// The pass ends when the right select pin is read; after the last sample
// done is called and the levels hold.
type pinScript struct {
	samples []byte
	pos     int
	done    func()
}

type scriptPin struct {
	*gpiotest.Pin
	script *pinScript
	mask   byte
	last   bool
}

func (p *scriptPin) Read() gpio.Level {
	s := p.script
	level := gpio.Level(s.samples[s.pos]&p.mask != 0)
	if p.last {
		if s.pos < len(s.samples)-1 {
			s.pos++
		} else if s.done != nil {
			s.done()
		}
	}
	return level
}

func scriptPins(s *pinScript) Pins {
	pin := func(name string, mask byte, last bool) *scriptPin {
		return &scriptPin{Pin: &gpiotest.Pin{N: name}, script: s, mask: mask, last: last}
	}
	return Pins{
		Data:        pin("GPIO17", SampleData, false),
		Clock:       pin("GPIO27", SampleClock, false),
		SelectLeft:  pin("GPIO22", SampleSelectLeft, false),
		SelectRight: pin("GPIO23", SampleSelectRight, true),
	}
}

// watchTrace runs WatchGPIO over pins playing tr and returns its replay
func watchTrace(t *testing.T, tr *trace) *Replay {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	r := NewReplay()
	pins := scriptPins(&pinScript{samples: tr.bytes(), done: cancel})
	if err := WatchGPIO(ctx, r, pins); err != nil {
		t.Fatalf("WatchGPIO: %v", err)
	}
	return r
}

type failingPin struct {
	*gpiotest.Pin
}

var errPinBusy = errors.New("pin busy")

func (p *failingPin) In(pull gpio.Pull, edge gpio.Edge) error {
	return errPinBusy
}

// ============================================================
// WatchGPIO Tests
// ============================================================

func TestWatchGPIO_CleanTransactions(t *testing.T) {
	const rounds = 500
	tr := newTrace()
	for i := 0; i < rounds; i++ {
		tr.transaction(Left, uint64(i)&0xFF, mc14489.ControlBits)
		tr.transaction(Right, uint64(i)*0x10101&0xFFFFFF, mc14489.DisplayBits)
	}
	r := watchTrace(t, tr)

	snap := r.Monitor().Snapshot()
	if snap.Left.ControlUpdates != rounds || snap.Left.Glitches != 0 {
		t.Errorf("left: %d control commits, %d glitches", snap.Left.ControlUpdates, snap.Left.Glitches)
	}
	if snap.Right.DisplayUpdates != rounds || snap.Right.Glitches != 0 {
		t.Errorf("right: %d display commits, %d glitches", snap.Right.DisplayUpdates, snap.Right.Glitches)
	}
	if snap.Left.Control != (rounds-1)&0xFF {
		t.Errorf("left: %s", snap.Left.Registers())
	}
	if want := uint32((rounds - 1) * 0x10101 & 0xFFFFFF); snap.Right.Display != want {
		t.Errorf("right: expected display 0x%06X, got %s", want, snap.Right.Registers())
	}
}

func TestWatchGPIO_GlitchedTransaction(t *testing.T) {
	tr := newTrace().
		transaction(Left, 0x43, mc14489.ControlBits).
		transaction(Left, 0x1F, 5).
		transaction(Right, 0x540, mc14489.DisplayBits)
	r := watchTrace(t, tr)

	m := r.Monitor()
	if m.Left.Glitches() != 1 || m.Left.LastGlitchBits() != 5 {
		t.Errorf("left: %d glitches, last %d bits", m.Left.Glitches(), m.Left.LastGlitchBits())
	}
	if m.Left.ControlRegister() != 0x43 {
		t.Errorf("glitch changed left control to 0x%02X", m.Left.ControlRegister())
	}
	if m.Right.DisplayRegister() != 0x540 || m.Right.Glitches() != 0 {
		t.Errorf("right: %s, %d glitches", m.Right.Registers(), m.Right.Glitches())
	}
}

func TestWatchGPIO_ConfigureError(t *testing.T) {
	pins := Pins{
		Data:        &gpiotest.Pin{N: "GPIO17"},
		Clock:       &gpiotest.Pin{N: "GPIO27"},
		SelectLeft:  &gpiotest.Pin{N: "GPIO22"},
		SelectRight: &failingPin{Pin: &gpiotest.Pin{N: "GPIO23"}},
	}

	err := WatchGPIO(context.Background(), NewReplay(), pins)
	if !errors.Is(err, errPinBusy) {
		t.Fatalf("expected pin error, got %v", err)
	}
	if !strings.Contains(err.Error(), "right select line GPIO23") {
		t.Errorf("error should name the line: %v", err)
	}
}

func TestWatchGPIO_Cancelled(t *testing.T) {
	pins := Pins{
		Data:        &gpiotest.Pin{N: "GPIO17"},
		Clock:       &gpiotest.Pin{N: "GPIO27"},
		SelectLeft:  &gpiotest.Pin{N: "GPIO22", L: gpio.High},
		SelectRight: &gpiotest.Pin{N: "GPIO23", L: gpio.High},
	}
	r := NewReplay()

	ctx, cancel := context.WithCancel(context.Background())
	errChan := make(chan error, 1)
	go func() {
		errChan <- WatchGPIO(ctx, r, pins)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-errChan:
		if err != nil {
			t.Errorf("expected nil after cancel, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("WatchGPIO did not return after cancel")
	}

	// Idle levels never change, so only the priming sample was fed
	if r.Samples() != 1 || r.Edges() != 0 {
		t.Errorf("expected 1 sample and no edges, got %d and %d", r.Samples(), r.Edges())
	}
}

func TestPins_Levels(t *testing.T) {
	pins := Pins{
		Data:        &gpiotest.Pin{N: "GPIO17", L: gpio.High},
		Clock:       &gpiotest.Pin{N: "GPIO27"},
		SelectLeft:  &gpiotest.Pin{N: "GPIO22"},
		SelectRight: &gpiotest.Pin{N: "GPIO23", L: gpio.High},
	}

	if got := pins.Levels().Sample(); got != SampleData|SampleSelectRight {
		t.Errorf("expected 0x%02X, got 0x%02X", SampleData|SampleSelectRight, got)
	}
}
