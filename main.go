// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad
//
// Mielestat - Washing Machine Panel Bus Monitor
//
// A CLI tool for sniffing the display bus of a washing machine panel and
// publishing the remaining program time and status.

package main

import (
	"os"

	"github.com/Thermoquad/mielestat/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
