// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad
//
// Spikelink - SPIKE Prime Hub Protocol Client
//
// A CLI tool for connecting to LEGO SPIKE Prime hubs over BLE, serial or a
// WebSocket relay: upload and run programs, monitor telemetry and decode
// protocol traffic.

package main

import (
	"os"

	"github.com/Thermoquad/spikelink/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
