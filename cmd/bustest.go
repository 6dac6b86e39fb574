// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/Thermoquad/mielestat/pkg/sniffer"
	"github.com/spf13/cobra"
)

var (
	busTestTimeout int
)

var busTestCmd = &cobra.Command{
	Use:   "bus_test",
	Short: "Test the bus source by waiting for a committed transaction",
	Long: `Wait for a committed transaction on either driver chip until timeout.

This command opens the bus source and waits until one of the chips commits
a control (8 bit) or display (24 bit) transaction. Glitched transactions are
counted but do not end the test.

Exit codes:
  0 - Transaction committed before timeout
  1 - Timeout reached without a committed transaction
  2 - Connection error

Useful for checking the wiring of the GPIO pins or a sample bridge.`,
	RunE: runBusTest,
}

func init() {
	rootCmd.AddCommand(busTestCmd)
	busTestCmd.Flags().IntVar(&busTestTimeout, "timeout", 10, "Timeout in seconds to wait for a transaction")
}

// firstCommit returns the first side with a committed transaction
func firstCommit(snap sniffer.Snapshot) (sniffer.Side, bool) {
	for _, side := range []sniffer.Side{sniffer.Left, sniffer.Right} {
		if snap.Channel(side).Commits() > 0 {
			return side, true
		}
	}
	return sniffer.Left, false
}

func runBusTest(cmd *cobra.Command, args []string) error {
	bus, err := OpenBus()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}
	defer bus.Close()

	fmt.Printf("Mielestat - Bus Test\n")
	fmt.Printf("Source: %s\n", bus.Info)
	fmt.Printf("Timeout: %d seconds\n", busTestTimeout)
	if bus.Pins != nil {
		// Idle bus: both selects high, clock level depends on the board
		l := bus.Pins.Levels()
		fmt.Printf("Line levels: data=%t clock=%t left=%t right=%t\n", l.Data, l.Clock, l.SelectLeft, l.SelectRight)
	}
	fmt.Printf("Waiting for a committed transaction...\n\n")

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	errChan := make(chan error, 1)
	go func() {
		errChan <- bus.Run(ctx)
	}()

	poll := time.NewTicker(10 * time.Millisecond)
	defer poll.Stop()
	timeout := time.After(time.Duration(busTestTimeout) * time.Second)

	for {
		select {
		case <-poll.C:
			if reportCommit(bus.Monitor.Snapshot()) {
				os.Exit(0)
			}

		case err := <-errChan:
			if err != nil {
				fmt.Fprintf(os.Stderr, "Read error: %v\n", err)
				os.Exit(2)
			}
			if reportCommit(bus.Monitor.Snapshot()) {
				os.Exit(0)
			}
			fmt.Fprintf(os.Stderr, "FAILED: Source ended without a committed transaction\n")
			os.Exit(1)

		case <-timeout:
			fmt.Fprintf(os.Stderr, "TIMEOUT: No committed transaction within %d seconds\n", busTestTimeout)
			os.Exit(1)
		}
	}
}

// reportCommit prints the first committed transaction, if any
func reportCommit(snap sniffer.Snapshot) bool {
	side, ok := firstCommit(snap)
	if !ok {
		return false
	}

	c := snap.Channel(side)
	fmt.Printf("SUCCESS: Transaction committed\n")
	fmt.Printf("  Chip: %s (address %d)\n", side, c.Address)
	fmt.Printf("  Registers: %s\n", c.Registers())
	fmt.Printf("  Commits: control=%d display=%d\n", c.ControlUpdates, c.DisplayUpdates)
	if glitches := snap.Left.Glitches + snap.Right.Glitches; glitches > 0 {
		fmt.Printf("  (%d glitched transactions seen)\n", glitches)
	}
	return true
}
