// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/Thermoquad/spikelink/pkg/bridge"
	"github.com/Thermoquad/spikelink/pkg/hub"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	bridgeListen  string
	bridgeConnect bool
)

var bridgeCmd = &cobra.Command{
	Use:   "bridge",
	Short: "Serve the hub over HTTP for a browser front end",
	Long: `Run an HTTP server that drives the hub on behalf of a web front end.

Endpoints:
  GET  /status       connection state, hub capabilities, upload progress
  POST /connect      connect to the hub selected by the connection flags
  POST /disconnect   disconnect
  POST /run-code     {"pyCode": "...", "slot": 0, "fileName": "program.py"}
                     clear the slot, upload and start the program
  POST /start        {"slot": 0}
  POST /stop         {"slot": 0}
  POST /clear        {"slot": 0}
  GET  /telemetry    WebSocket stream of JSON events: telemetry, console,
                     program, state and upload

Errors are returned as {"error": "..."} with 409 when the hub is not ready,
502 when the hub rejects an operation and 504 on timeout.`,
	Args: cobra.NoArgs,
	RunE: runBridge,
}

func init() {
	rootCmd.AddCommand(bridgeCmd)
	bridgeCmd.Flags().StringVarP(&bridgeListen, "listen", "l", ":8000", "HTTP listen address")
	bridgeCmd.Flags().BoolVar(&bridgeConnect, "connect", false, "Connect to the hub at startup")
}

func runBridge(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	dialer, err := NewDialer()
	if err != nil {
		return err
	}
	client := hub.New(dialer, clientConfig(nil))
	defer client.Disconnect()

	srv := bridge.New(client, bridge.Config{Addr: bridgeListen, Logger: logger})

	fmt.Printf("Spikelink - HTTP Bridge\n")
	fmt.Printf("Hub:    %s\n", dialer)
	fmt.Printf("Listen: %s\n", bridgeListen)
	fmt.Printf("Press Ctrl+C to exit\n\n")

	if bridgeConnect {
		connectCtx, cancelConnect := context.WithTimeout(ctx, connectTimeout)
		err := client.Connect(connectCtx)
		cancelConnect()
		if err != nil {
			// The front end can retry through POST /connect
			logger.Warn("initial connect failed", zap.Error(err))
		}
	}

	start := time.Now()
	err = srv.ListenAndServe(ctx)
	fmt.Printf("\nBridge stopped after %s\n", time.Since(start).Round(time.Second))
	return err
}
