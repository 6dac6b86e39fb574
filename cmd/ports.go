// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.bug.st/serial/enumerator"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"
)

var portsCmd = &cobra.Command{
	Use:   "ports",
	Short: "List serial ports and GPIO pins usable as bus sources",
	Long: `List the serial ports and host GPIO pins available on this machine.

Serial ports can carry a sample stream from a bus bridge (--port). GPIO pins
can be wired to the bus directly (--gpio with --pin-data, --pin-clock,
--pin-left and --pin-right).

Exit codes:
  0 - At least one serial port or GPIO pin found
  1 - Nothing found`,
	RunE: runPorts,
}

func init() {
	rootCmd.AddCommand(portsCmd)
}

func runPorts(cmd *cobra.Command, args []string) error {
	fmt.Printf("Mielestat - Ports\n\n")
	found := 0

	ports, err := enumerator.GetDetailedPortsList()
	if err != nil {
		fmt.Printf("Serial ports: unavailable (%v)\n", err)
	} else {
		fmt.Printf("Serial ports: %d\n", len(ports))
		for _, port := range ports {
			if port.IsUSB {
				fmt.Printf("  %s  USB %s:%s serial=%q %s\n", port.Name, port.VID, port.PID, port.SerialNumber, port.Product)
			} else {
				fmt.Printf("  %s\n", port.Name)
			}
		}
		found += len(ports)
	}
	fmt.Println()

	if _, err := host.Init(); err != nil {
		fmt.Printf("GPIO pins: unavailable (%v)\n", err)
	} else {
		pins := gpioreg.All()
		fmt.Printf("GPIO pins: %d\n", len(pins))
		for _, pin := range pins {
			fmt.Printf("  %-10s %s\n", pin.Name(), pin.Function())
		}
		found += len(pins)
	}

	if found == 0 {
		fmt.Printf("\nNo bus sources found.\n")
		os.Exit(1)
	}
	return nil
}
