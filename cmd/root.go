// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"time"

	"github.com/spf13/cobra"
)

var (
	// Serial sample stream flags
	portName string
	baudRate int

	// WebSocket sample stream flags
	wsURL         string
	wsUsername    string
	wsNoSSLVerify bool

	// Recorded sample file
	captureFile string

	// Host GPIO flags
	useGPIO      bool
	pinData      string
	pinClock     string
	pinLeft      string
	pinRight     string
	pollInterval time.Duration
)

var rootCmd = &cobra.Command{
	Use:   "mielestat",
	Short: "Washing machine panel bus monitor",
	Long: `Mielestat - Passive monitor for the display bus of a washing machine panel.

Listens to the 3-wire bus between the panel controller and its two MC14489
display drivers, reconstructs both chips' registers and decodes them into
the remaining program time and the program status.

Bus sources:
  GPIO:      --gpio [--pin-data GPIO14 --pin-clock GPIO12 --pin-left GPIO4 --pin-right GPIO5]
  Serial:    --port /dev/ttyUSB0 [--baud 115200]
  WebSocket: --url ws://host/path [--username user]
  Capture:   --capture trace.bin

Serial, WebSocket and capture sources deliver one sample byte per bus
change: bit 0 clock, bit 1 data, bit 2 left select, bit 3 right select.

For WebSocket authentication, the password is read from the MIELESTAT_PASSWORD
environment variable, or prompted interactively if not set. The --password
flag is intentionally not provided to avoid leaking credentials in shell history.`,
	Version: "1.0.0",
}

func init() {
	// Serial sample stream flags
	rootCmd.PersistentFlags().StringVarP(&portName, "port", "p", "", "Serial port device")
	rootCmd.PersistentFlags().IntVarP(&baudRate, "baud", "b", 115200, "Baud rate (serial only)")

	// WebSocket sample stream flags
	rootCmd.PersistentFlags().StringVarP(&wsURL, "url", "u", "", "WebSocket URL (ws:// or wss://)")
	rootCmd.PersistentFlags().StringVar(&wsUsername, "username", "", "Username for HTTP Basic auth")
	rootCmd.PersistentFlags().BoolVar(&wsNoSSLVerify, "no-ssl-verify", false, "Skip TLS certificate verification (wss:// only)")

	rootCmd.PersistentFlags().StringVar(&captureFile, "capture", "", "Replay a recorded sample file")

	// Host GPIO flags
	rootCmd.PersistentFlags().BoolVar(&useGPIO, "gpio", false, "Read the bus from host GPIO pins")
	rootCmd.PersistentFlags().StringVar(&pinData, "pin-data", "GPIO14", "GPIO pin wired to the data line")
	rootCmd.PersistentFlags().StringVar(&pinClock, "pin-clock", "GPIO12", "GPIO pin wired to the clock line")
	rootCmd.PersistentFlags().StringVar(&pinLeft, "pin-left", "GPIO4", "GPIO pin wired to the left chip select")
	rootCmd.PersistentFlags().StringVar(&pinRight, "pin-right", "GPIO5", "GPIO pin wired to the right chip select")

	rootCmd.PersistentFlags().DurationVar(&pollInterval, "interval", time.Second, "Register poll interval")
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}
