// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/Thermoquad/mielestat/pkg/sniffer"
	"github.com/spf13/cobra"
)

var wsTestCmd = &cobra.Command{
	Use:   "ws_test",
	Short: "Test WebSocket sample stream stability",
	Long: `Test the WebSocket connection to a bus bridge.

This command connects to the WebSocket and replays the received samples,
logging the data rate, the bus edges and transactions they produce, and any
errors encountered. Useful for debugging connection stability issues.

Exit codes:
  0 - Test completed normally
  1 - Test failed
  2 - Connection error`,
	RunE: runWsTest,
}

var wsTestDuration int

func init() {
	rootCmd.AddCommand(wsTestCmd)
	wsTestCmd.Flags().IntVar(&wsTestDuration, "duration", 30, "Test duration in seconds")
}

func runWsTest(cmd *cobra.Command, args []string) error {
	if wsURL == "" {
		fmt.Fprintf(os.Stderr, "Connection error: --url is required\n")
		os.Exit(2)
	}

	conn, connInfo, err := OpenConnection()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}
	defer conn.Close()

	fmt.Printf("WebSocket Sample Stream Stability Test\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Duration: %d seconds\n\n", wsTestDuration)

	readChan := make(chan []byte, 100)
	errChan := make(chan error, 1)

	go func() {
		buf := make([]byte, 256)
		for {
			n, err := conn.Read(buf)
			if err != nil {
				errChan <- err
				return
			}
			if n > 0 {
				data := make([]byte, n)
				copy(data, buf[:n])
				readChan <- data
			}
		}
	}()

	replay := sniffer.NewReplay()
	stats := sniffer.NewStatistics()
	start := time.Now()
	endTime := start.Add(time.Duration(wsTestDuration) * time.Second)
	messagesReceived := 0

	printResults := func(result string) {
		stats.Update(replay.Monitor().Snapshot())
		stats.UpdateReplay(replay)
		fmt.Printf("\n--- Test Results ---\n")
		fmt.Printf("Duration: %v\n", time.Since(start).Round(time.Millisecond))
		fmt.Printf("Messages received: %d\n", messagesReceived)
		fmt.Printf("Samples received: %d\n", replay.Samples())
		fmt.Printf("Bus edges: %d\n", replay.Edges())
		fmt.Printf("Transactions: %d committed, %d glitched\n", stats.Commits(), stats.Glitches())
		fmt.Printf("Result: %s\n", result)
	}

	fmt.Printf("Listening for samples...\n\n")

	for time.Now().Before(endTime) {
		select {
		case data := <-readChan:
			messagesReceived++
			replay.Write(data)

		case err := <-errChan:
			fmt.Printf("\n[%s] Connection error: %v\n",
				time.Now().Format("15:04:05.000"), err)
			printResults("FAILED (connection error)")
			os.Exit(1)

		case <-time.After(1 * time.Second):
			remaining := time.Until(endTime).Seconds()
			fmt.Printf("[%s] Still connected... %d samples, %d edges (%.0fs remaining)\n",
				time.Now().Format("15:04:05.000"), replay.Samples(), replay.Edges(), remaining)
		}
	}

	printResults("PASSED (connection stable)")
	return nil
}
