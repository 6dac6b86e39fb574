// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"time"

	"github.com/Thermoquad/mielestat/pkg/sniffer"
	"github.com/spf13/cobra"
)

var rawLogCmd = &cobra.Command{
	Use:   "raw_log",
	Short: "Display register changes of both driver chips",
	Long: `Continuously display the registers of both MC14489 chips as they change.

Each line shows the chip, its control and display registers in hex, the
decoded glyphs and the commit and glitch counters. Registers are polled at
--interval, so changes faster than the interval are reported once.

Supports GPIO, serial, WebSocket and capture sources.`,
	RunE: runRawLog,
}

func init() {
	rootCmd.AddCommand(rawLogCmd)
}

// formatChannel renders one channel line of the raw log
func formatChannel(t time.Time, side sniffer.Side, c sniffer.ChannelSnapshot) string {
	return fmt.Sprintf("[%s] %-5s %s ctrl#=%d disp#=%d glitches=%d\n",
		t.Format("15:04:05.000"), side, c.Registers(),
		c.ControlUpdates, c.DisplayUpdates, c.Glitches)
}

// changed reports whether a channel committed or glitched since prev
func changed(prev, cur sniffer.ChannelSnapshot) bool {
	return prev.ControlUpdates != cur.ControlUpdates ||
		prev.DisplayUpdates != cur.DisplayUpdates ||
		prev.Glitches != cur.Glitches
}

func runRawLog(cmd *cobra.Command, args []string) error {
	bus, err := OpenBus()
	if err != nil {
		return err
	}
	defer bus.Close()

	fmt.Printf("Mielestat - Raw Register Log\n")
	fmt.Printf("Source: %s\n", bus.Info)
	fmt.Printf("Press Ctrl+C to exit\n\n")

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	done := make(chan error, 1)
	go func() {
		done <- bus.Run(ctx)
	}()

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	var prev sniffer.Snapshot
	logChanges := func() {
		snap := bus.Monitor.Snapshot()
		for _, side := range []sniffer.Side{sniffer.Left, sniffer.Right} {
			if cur := snap.Channel(side); changed(prev.Channel(side), cur) {
				fmt.Print(formatChannel(snap.Time, side, cur))
			}
		}
		prev = snap
	}

	for {
		select {
		case <-ticker.C:
			logChanges()

		case err := <-done:
			logChanges()
			if err != nil && ctx.Err() == nil {
				log.Printf("Source error: %v", err)
				return err
			}
			return nil
		}
	}
}

