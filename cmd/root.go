// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	// BLE connection flags
	bleAddress     string
	bleName        string
	bleScanTimeout time.Duration

	// Serial connection flags
	portName string
	baudRate int

	// WebSocket connection flags
	wsURL         string
	wsUsername    string
	wsNoSSLVerify bool

	// Simulated hub
	simulate bool

	// Client flags
	requestTimeout       time.Duration
	notificationInterval uint16
	reconnectAttempts    int

	// Logging flags
	verbose bool
	logJSON bool

	logger = zap.NewNop()
)

var rootCmd = &cobra.Command{
	Use:   "spikelink",
	Short: "SPIKE Prime hub protocol client",
	Long: `Spikelink - A CLI tool for talking to LEGO SPIKE Prime class hubs.

Uploads and runs programs, streams device telemetry and console output, and
decodes the framed binary protocol for debugging.

Connection modes:
  BLE:       [--address AA:BB:CC:DD:EE:FF | --name "SPIKE Hub"] (default)
  Serial:    --port /dev/ttyACM0 [--baud 115200]
  WebSocket: --url ws://host/path [--username user]
  Simulator: --simulate

Without --address or --name, the first hub advertising the SPIKE service is
used. For WebSocket authentication, the password is read from the
SPIKELINK_PASSWORD environment variable, or prompted interactively if not
set. The --password flag is intentionally not provided to avoid leaking
credentials in shell history.`,
	Version:           "0.3.0",
	SilenceUsage:      true,
	PersistentPreRunE: setupLogging,
}

func init() {
	// BLE connection flags
	rootCmd.PersistentFlags().StringVarP(&bleAddress, "address", "a", "", "Hub BLE address")
	rootCmd.PersistentFlags().StringVarP(&bleName, "name", "n", "", "Hub advertised name")
	rootCmd.PersistentFlags().DurationVar(&bleScanTimeout, "scan-timeout", 10*time.Second, "BLE scan timeout")

	// Serial connection flags
	rootCmd.PersistentFlags().StringVarP(&portName, "port", "p", "", "Serial port device")
	rootCmd.PersistentFlags().IntVarP(&baudRate, "baud", "b", 115200, "Baud rate (serial only)")

	// WebSocket connection flags
	rootCmd.PersistentFlags().StringVarP(&wsURL, "url", "u", "", "WebSocket URL (ws:// or wss://)")
	rootCmd.PersistentFlags().StringVar(&wsUsername, "username", "", "Username for HTTP Basic auth")
	rootCmd.PersistentFlags().BoolVar(&wsNoSSLVerify, "no-ssl-verify", false, "Skip TLS certificate verification (wss:// only)")

	rootCmd.PersistentFlags().BoolVar(&simulate, "simulate", false, "Use an in-process simulated hub")

	// Client flags
	rootCmd.PersistentFlags().DurationVar(&requestTimeout, "timeout", 5*time.Second, "Response timeout per request")
	rootCmd.PersistentFlags().Uint16Var(&notificationInterval, "interval", 5000, "Device notification interval (ms)")
	rootCmd.PersistentFlags().IntVar(&reconnectAttempts, "reconnect", 0, "Reconnect attempts after link loss (0 disables)")

	// Logging flags
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&logJSON, "log-json", false, "Log in JSON format")
}

func setupLogging(cmd *cobra.Command, args []string) error {
	l, err := newLogger(verbose, logJSON)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	logger = l
	return nil
}

// newLogger builds the CLI logger. Logs go to stderr so command output on
// stdout stays clean.
func newLogger(debug, json bool) (*zap.Logger, error) {
	var cfg zap.Config
	if json {
		cfg = zap.NewProductionConfig()
	} else {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		cfg.EncoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05.000")
		cfg.DisableStacktrace = true
	}
	level := zapcore.WarnLevel
	if debug {
		level = zapcore.DebugLevel
	}
	cfg.Level = zap.NewAtomicLevelAt(level)
	cfg.OutputPaths = []string{"stderr"}
	cfg.ErrorOutputPaths = []string{"stderr"}
	return cfg.Build()
}

// Execute runs the root command
func Execute() error {
	defer func() { _ = logger.Sync() }()
	return rootCmd.Execute()
}
