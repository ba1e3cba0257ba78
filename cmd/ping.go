// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var (
	pingCount int
	pingWait  time.Duration
)

var pingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Measure request round trips to the hub",
	Long: `Connect to the hub and send INFO_REQUEST messages, timing each
INFO_RESPONSE.

This is useful for verifying:
  - The link is established and the handshake completes
  - Frames are split into packets and reassembled correctly both ways
  - Request latency over BLE, serial or a WebSocket relay

Exit codes:
  0 - All pings successful
  1 - One or more pings failed/timed out
  2 - Connection error`,
	Args: cobra.NoArgs,
	RunE: runPing,
}

func init() {
	rootCmd.AddCommand(pingCmd)
	pingCmd.Flags().IntVarP(&pingCount, "count", "c", 3, "Number of pings to send")
	pingCmd.Flags().DurationVar(&pingWait, "wait", 100*time.Millisecond, "Delay between pings")
}

func runPing(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	client, connInfo, err := OpenHub(ctx, nil, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}
	defer client.Disconnect()

	fmt.Printf("Spikelink - Ping Test\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Timeout: %s per ping\n", requestTimeout)
	fmt.Printf("Count: %d pings\n\n", pingCount)

	successCount := 0
	var minRTT, maxRTT, totalRTT time.Duration

	for i := 1; i <= pingCount && ctx.Err() == nil; i++ {
		fmt.Printf("Ping %d/%d: ", i, pingCount)

		start := time.Now()
		info, err := client.Info(ctx)
		rtt := time.Since(start)

		if err != nil {
			fmt.Printf("FAILED: %v\n", err)
		} else {
			fmt.Printf("INFO_RESPONSE firmware=%s, rtt=%v\n", info.FirmwareVersion, rtt.Round(time.Millisecond))
			successCount++
			totalRTT += rtt
			if minRTT == 0 || rtt < minRTT {
				minRTT = rtt
			}
			if rtt > maxRTT {
				maxRTT = rtt
			}
		}

		if i < pingCount {
			select {
			case <-time.After(pingWait):
			case <-ctx.Done():
			}
		}
	}

	failCount := pingCount - successCount
	fmt.Printf("\n--- Ping statistics ---\n")
	fmt.Printf("%d pings sent, %d responses received, %.0f%% loss\n",
		pingCount, successCount, float64(failCount)/float64(pingCount)*100)
	if successCount > 0 {
		fmt.Printf("rtt min/avg/max = %v/%v/%v\n",
			minRTT.Round(time.Millisecond),
			(totalRTT / time.Duration(successCount)).Round(time.Millisecond),
			maxRTT.Round(time.Millisecond))
	}

	if failCount > 0 {
		client.Disconnect()
		os.Exit(1)
	}
	return nil
}
