// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package sniffer

import (
	"fmt"
	"time"
)

// ChannelStatistics tracks one channel's transactions since the statistics started
type ChannelStatistics struct {
	ControlUpdates uint64
	DisplayUpdates uint64
	Glitches       uint64
}

// Transactions returns committed plus discarded transactions
func (c ChannelStatistics) Transactions() uint64 {
	return c.ControlUpdates + c.DisplayUpdates + c.Glitches
}

// Statistics tracks bus transaction counts and glitch rates
type Statistics struct {
	StartTime      time.Time
	LastUpdateTime time.Time

	// Counters
	Left    ChannelStatistics
	Right   ChannelStatistics
	Samples uint64
	Edges   uint64

	// Rates (calculated)
	CommitRate float64 // commits/sec
	GlitchRate float64 // glitches/sec

	// counter values when the statistics were (re)started
	base        Snapshot
	baseSet     bool
	lastSnap    Snapshot
	sampleBase  uint64
	edgeBase    uint64
	replayBased bool
}

// NewStatistics creates a new statistics tracker
func NewStatistics() *Statistics {
	now := time.Now()
	return &Statistics{
		StartTime:      now,
		LastUpdateTime: now,
	}
}

// Update recomputes the counters from a monitor snapshot. The channel
// counters only grow, so the statistics are the difference to the first
// snapshot seen after NewStatistics or Reset.
func (s *Statistics) Update(snap Snapshot) {
	if !s.baseSet {
		s.base = snap
		s.baseSet = true
	}
	s.lastSnap = snap

	s.Left = channelDelta(snap.Left, s.base.Left)
	s.Right = channelDelta(snap.Right, s.base.Right)

	s.LastUpdateTime = time.Now()
}

// UpdateReplay records the sample and edge counts of a replay source
func (s *Statistics) UpdateReplay(r *Replay) {
	samples, edges := r.Samples(), r.Edges()
	if !s.replayBased {
		s.sampleBase, s.edgeBase = samples, edges
		s.replayBased = true
	}
	s.Samples = samples - s.sampleBase
	s.Edges = edges - s.edgeBase
}

func channelDelta(now, base ChannelSnapshot) ChannelStatistics {
	return ChannelStatistics{
		ControlUpdates: now.ControlUpdates - base.ControlUpdates,
		DisplayUpdates: now.DisplayUpdates - base.DisplayUpdates,
		Glitches:       now.Glitches - base.Glitches,
	}
}

// Commits returns committed transactions on both channels
func (s *Statistics) Commits() uint64 {
	return s.Left.ControlUpdates + s.Left.DisplayUpdates + s.Right.ControlUpdates + s.Right.DisplayUpdates
}

// Glitches returns discarded transactions on both channels
func (s *Statistics) Glitches() uint64 {
	return s.Left.Glitches + s.Right.Glitches
}

// CalculateRates calculates commit and glitch rates
func (s *Statistics) CalculateRates() {
	elapsed := time.Since(s.StartTime).Seconds()
	if elapsed > 0 {
		s.CommitRate = float64(s.Commits()) / elapsed
		s.GlitchRate = float64(s.Glitches()) / elapsed
	}
}

// GlitchPercent returns the share of discarded transactions
func (s *Statistics) GlitchPercent() float64 {
	total := s.Left.Transactions() + s.Right.Transactions()
	if total == 0 {
		return 0
	}
	return float64(s.Glitches()) * 100.0 / float64(total)
}

// String returns a formatted statistics summary
func (s *Statistics) String() string {
	s.CalculateRates()

	elapsed := time.Since(s.StartTime)

	result := fmt.Sprintf("=== Statistics (%.0f seconds) ===\n", elapsed.Seconds())
	for _, side := range []Side{Left, Right} {
		c := s.Left
		if side == Right {
			c = s.Right
		}
		result += fmt.Sprintf("%-5s ctrl: %8d  disp: %8d  glitches: %6d\n",
			side, c.ControlUpdates, c.DisplayUpdates, c.Glitches)
		if c.Glitches > 0 {
			if g := s.lastSnap.Channel(side); g.Address != 0 {
				result += fmt.Sprintf("  registers: ctrl=0x%02X disp=0x%06X\n", g.Control, g.Display)
			}
		}
	}

	if s.Samples > 0 {
		result += fmt.Sprintf("Samples:         %8d\n", s.Samples)
		result += fmt.Sprintf("Edges:           %8d\n", s.Edges)
	}

	result += fmt.Sprintf("Glitches:        %8d (%.1f%%)\n", s.Glitches(), s.GlitchPercent())
	result += fmt.Sprintf("Commit Rate:     %8.1f commits/sec\n", s.CommitRate)
	result += fmt.Sprintf("Glitch Rate:     %8.1f glitches/sec\n", s.GlitchRate)
	result += "================================\n"

	return result
}

// Reset restarts the statistics from the next snapshot
func (s *Statistics) Reset() {
	now := time.Now()
	s.StartTime = now
	s.LastUpdateTime = now
	s.Left = ChannelStatistics{}
	s.Right = ChannelStatistics{}
	s.Samples = 0
	s.Edges = 0
	s.CommitRate = 0
	s.GlitchRate = 0
	s.baseSet = false
	s.replayBased = false
}
