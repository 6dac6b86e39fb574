// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/Thermoquad/mielestat/pkg/sniffer"
	"github.com/Thermoquad/mielestat/pkg/washer"
	"github.com/spf13/cobra"
)

var (
	showAll       bool
	statsInterval int
)

var glitchDetectionCmd = &cobra.Command{
	Use:   "glitch_detection",
	Short: "Detect glitched bus transactions and unclassified register patterns",
	Long: `Track discarded bus transactions and unclassified register values with statistics.

This command watches both driver chips and reports:
  - Glitched transactions (chip deselected after a bit count other than 8 or 24)
  - Progress codes and spin speed settings the decoder has no label for
  - Statistics and trends (commit rate, glitch rate, glitch share)

By default, only glitches and observations are displayed. Use --show-all to
display every register change too.

Glitches are reported as they are seen, with periodic statistics summaries
displayed at configurable intervals.`,
	RunE: runGlitchDetection,
}

func init() {
	rootCmd.AddCommand(glitchDetectionCmd)
	glitchDetectionCmd.Flags().BoolVar(&showAll, "show-all", false, "Show all register changes (not just glitches)")
	glitchDetectionCmd.Flags().IntVar(&statsInterval, "stats-interval", 10, "Statistics update interval (seconds)")
}

// printGlitch prints glitched transactions in highlighted format
func printGlitch(t time.Time, side sniffer.Side, count uint64, bits uint32, c sniffer.ChannelSnapshot) {
	timestamp := t.Format("15:04:05.000")
	fmt.Printf("[%s] \033[1;31mGLITCH:\033[0m %s chip, %d transaction(s) discarded\n", timestamp, side, count)
	fmt.Printf("  Last glitch: %d bits\n", bits)
	fmt.Printf("  Kept: %s\n", c.Registers())
	fmt.Printf("  >>> TRANSACTION DISCARDED <<<\n\n")
}

// printObservations prints register patterns without a label
func printObservations(t time.Time, observations []washer.Observation) {
	timestamp := t.Format("15:04:05.000")

	fmt.Printf("[%s] \033[1;33mUNCLASSIFIED:\033[0m\n", timestamp)
	for i, obs := range observations {
		fmt.Printf("  Issue %d: \033[1;33m%s\033[0m\n", i+1, obs.Message)
		switch obs.Type {
		case washer.OBSERVATION_UNKNOWN_PROGRESS:
			if code, ok := obs.Details["progress"].(uint8); ok {
				fmt.Printf("    progress=0x%02X\n", code)
			}
		case washer.OBSERVATION_UNKNOWN_CENTRIFUGE:
			if code, ok := obs.Details["centrifuge"].(uint8); ok {
				fmt.Printf("    centrifuge=0x%02X\n", code)
			}
		}
		if display, ok := obs.Details["display"].(uint32); ok {
			fmt.Printf("    right display=0x%06X\n", display)
		}
	}
	fmt.Println()
}

// observationKey identifies a set of observations so repeats are printed once
func observationKey(observations []washer.Observation) string {
	messages := make([]string, len(observations))
	for i, obs := range observations {
		messages[i] = obs.Message
	}
	return strings.Join(messages, "\n")
}

func runGlitchDetection(cmd *cobra.Command, args []string) error {
	bus, err := OpenBus()
	if err != nil {
		return err
	}
	defer bus.Close()

	fmt.Printf("Mielestat - Glitch Detection Mode\n")
	fmt.Printf("Source: %s\n", bus.Info)
	fmt.Printf("Statistics interval: %d seconds\n", statsInterval)
	if showAll {
		fmt.Printf("Mode: All register changes\n")
	} else {
		fmt.Printf("Mode: Glitches only\n")
	}
	fmt.Printf("Press Ctrl+C to exit\n\n")

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	done := make(chan error, 1)
	go func() {
		done <- bus.Run(ctx)
	}()

	stats := sniffer.NewStatistics()
	var prev sniffer.Snapshot
	lastObservations := ""

	poll := func() {
		snap := bus.Monitor.Snapshot()
		stats.Update(snap)
		if bus.Replay != nil {
			stats.UpdateReplay(bus.Replay)
		}

		for _, side := range []sniffer.Side{sniffer.Left, sniffer.Right} {
			before, cur := prev.Channel(side), snap.Channel(side)
			if cur.Glitches > before.Glitches {
				bits := bus.Monitor.Channel(side).LastGlitchBits()
				printGlitch(snap.Time, side, cur.Glitches-before.Glitches, bits, cur)
			} else if showAll && changed(before, cur) {
				fmt.Print(formatChannel(snap.Time, side, cur))
			}
		}

		observations := washer.Inspect(snap.Left.Registers(), snap.Right.Registers())
		if key := observationKey(observations); key != lastObservations {
			if len(observations) > 0 {
				printObservations(snap.Time, observations)
			}
			lastObservations = key
		}

		prev = snap
	}

	pollTicker := time.NewTicker(pollInterval)
	defer pollTicker.Stop()

	statsTicker := time.NewTicker(time.Duration(statsInterval) * time.Second)
	defer statsTicker.Stop()

	for {
		select {
		case <-pollTicker.C:
			poll()

		case <-statsTicker.C:
			fmt.Println()
			fmt.Print(stats.String())
			fmt.Println()

		case err := <-done:
			poll()
			fmt.Println()
			fmt.Print(stats.String())
			if err != nil && ctx.Err() == nil {
				return fmt.Errorf("bus source: %w", err)
			}
			return nil
		}
	}
}
