// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/Thermoquad/spikelink/pkg/transport"
	"github.com/spf13/cobra"
)

var (
	scanDuration time.Duration
	scanSerial   bool
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Discover hubs over BLE or list serial ports",
	Long: `Scan for hubs advertising the SPIKE Prime service.

Modes:
  BLE (default): Listen for advertisements for --duration and list every hub
                 found with its address, name and signal strength. --name
                 filters by advertised name.

  Serial (--serial): List serial ports that may carry a USB-connected hub.

Examples:
  spikelink scan
  spikelink scan --name "Team 7" --duration 5s
  spikelink scan --serial

Exit codes:
  0 - At least one hub or port found
  1 - Nothing found
  2 - Adapter error`,
	RunE: runScan,
}

func init() {
	rootCmd.AddCommand(scanCmd)
	scanCmd.Flags().DurationVar(&scanDuration, "duration", 5*time.Second, "How long to listen for advertisements")
	scanCmd.Flags().BoolVar(&scanSerial, "serial", false, "List serial ports instead of scanning BLE")
}

func runScan(cmd *cobra.Command, args []string) error {
	if scanSerial {
		return runSerialScan()
	}

	fmt.Printf("Spikelink - Hub Discovery\n")
	fmt.Printf("Duration: %s\n\n", scanDuration)

	ctx, cancel := signalContext()
	defer cancel()
	ctx, cancelScan := context.WithTimeout(ctx, scanDuration)
	defer cancelScan()

	d := transport.BLEDialer{Name: bleName}
	ads, err := d.Scan(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Scan error: %v\n", err)
		os.Exit(2)
	}

	if len(ads) == 0 {
		fmt.Println("No hubs found")
		os.Exit(1)
	}

	sort.Slice(ads, func(i, j int) bool { return ads[i].RSSI > ads[j].RSSI })
	fmt.Printf("%-20s %-24s %s\n", "ADDRESS", "NAME", "RSSI")
	for _, ad := range ads {
		name := ad.Name
		if name == "" {
			name = "(unnamed)"
		}
		fmt.Printf("%-20s %-24s %d dBm\n", ad.Address, name, ad.RSSI)
	}
	fmt.Printf("\n%d hub(s) found\n", len(ads))
	return nil
}

func runSerialScan() error {
	ports, err := transport.ListSerialPorts()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Port enumeration error: %v\n", err)
		os.Exit(2)
	}
	if len(ports) == 0 {
		fmt.Println("No serial ports found")
		os.Exit(1)
	}
	for _, p := range ports {
		fmt.Println(p)
	}
	return nil
}
