// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package mc14489

import (
	"math/rand"
	"os"
	"strconv"
	"testing"
	"time"
)

// getFuzzRounds returns the number of fuzz rounds from FUZZ_ROUNDS env var, default 1000
func getFuzzRounds() int {
	if envRounds := os.Getenv("FUZZ_ROUNDS"); envRounds != "" {
		if rounds, err := strconv.Atoi(envRounds); err == nil && rounds > 0 {
			return rounds
		}
	}
	return 1000
}

// getFuzzSeed returns the seed from FUZZ_SEED env var, or generates one from current time
func getFuzzSeed() int64 {
	if envSeed := os.Getenv("FUZZ_SEED"); envSeed != "" {
		if seed, err := strconv.ParseInt(envSeed, 10, 64); err == nil {
			return seed
		}
	}
	return time.Now().UnixNano()
}

// newFuzzRng creates a new random number generator and logs the seed for reproducibility
func newFuzzRng(t *testing.T) *rand.Rand {
	seed := getFuzzSeed()
	t.Logf("Seed: %d (reproduce with FUZZ_SEED=%d)", seed, seed)
	return rand.New(rand.NewSource(seed))
}

// randomWidth favours the two valid widths so commits actually happen
func randomWidth(rng *rand.Rand) int {
	switch rng.Intn(4) {
	case 0:
		return ControlBits
	case 1:
		return DisplayBits
	default:
		return rng.Intn(40)
	}
}

func TestFuzz_RandomTransactions(t *testing.T) {
	rng := newFuzzRng(t)
	rounds := getFuzzRounds()

	b := newTestBus()
	var want Registers
	var controls, displays, glitches uint64

	for i := 0; i < rounds; i++ {
		value := rng.Uint64()
		n := randomWidth(rng)
		b.transact(value, n)

		switch n {
		case ControlBits:
			want.Control = uint8(value)
			controls++
		case DisplayBits:
			want.Display = uint32(value) & DisplayMask
			displays++
		default:
			glitches++
		}

		if got := b.ch.Registers(); got != want {
			t.Fatalf("round %d (%d bits of 0x%X): expected %s, got %s", i, n, value, want, got)
		}
	}

	if b.ch.ControlUpdates() != controls || b.ch.DisplayUpdates() != displays || b.ch.Glitches() != glitches {
		t.Errorf("counters: control %d/%d display %d/%d glitches %d/%d",
			b.ch.ControlUpdates(), controls, b.ch.DisplayUpdates(), displays, b.ch.Glitches(), glitches)
	}
}

func TestFuzz_RandomEdges(t *testing.T) {
	// Arbitrary edge sequences must never panic and only ever commit
	// complete transactions
	rng := newFuzzRng(t)
	rounds := getFuzzRounds()

	b := newTestBus()
	for i := 0; i < rounds*10; i++ {
		switch rng.Intn(3) {
		case 0:
			b.cs.level = !b.cs.level
			b.ch.OnChipSelectEdge()
		default:
			b.data.level = rng.Intn(2) == 1
			b.ch.OnClockEdge()
		}
	}

	if b.ch.DisplayRegister()&^DisplayMask != 0 {
		t.Errorf("display register exceeds 24 bits: 0x%X", b.ch.DisplayRegister())
	}
}

func FuzzChannel(f *testing.F) {
	f.Add(uint64(0xA5), uint8(8))
	f.Add(uint64(0x123456), uint8(24))
	f.Add(uint64(0), uint8(0))
	f.Add(uint64(0xFFFFFFFF), uint8(32))

	f.Fuzz(func(t *testing.T, value uint64, n uint8) {
		b := newTestBus()
		b.transact(value, int(n))

		regs := b.ch.Registers()
		switch n {
		case ControlBits:
			if regs.Control != uint8(value) {
				t.Errorf("control: expected 0x%02X, got 0x%02X", uint8(value), regs.Control)
			}
		case DisplayBits:
			if regs.Display != uint32(value)&DisplayMask {
				t.Errorf("display: expected 0x%06X, got 0x%06X", uint32(value)&DisplayMask, regs.Display)
			}
		default:
			if regs != (Registers{}) {
				t.Errorf("%d bits committed %s", n, regs)
			}
		}
	})
}
