// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/Thermoquad/spikelink/pkg/hub"
	"github.com/Thermoquad/spikelink/pkg/spike"
	"github.com/Thermoquad/spikelink/pkg/transport"
	"golang.org/x/term"
)

// connectTimeout bounds scanning, dialing and the initialization handshake.
const connectTimeout = 30 * time.Second

// GetPassword retrieves password from environment or prompts user
func GetPassword() (string, error) {
	// First check environment variable
	if pw := os.Getenv("SPIKELINK_PASSWORD"); pw != "" {
		return pw, nil
	}

	// Prompt user for password (hide input)
	fmt.Fprint(os.Stderr, "Password: ")

	// Read password without echo
	passwordBytes, err := term.ReadPassword(int(syscall.Stdin))
	if err != nil {
		// Fallback to regular input if terminal functions fail
		reader := bufio.NewReader(os.Stdin)
		password, err := reader.ReadString('\n')
		if err != nil {
			return "", fmt.Errorf("failed to read password: %w", err)
		}
		fmt.Fprintln(os.Stderr) // newline after password
		return strings.TrimSpace(password), nil
	}

	fmt.Fprintln(os.Stderr) // newline after password
	return string(passwordBytes), nil
}

// NewDialer selects the link from the connection flags. BLE is the default.
func NewDialer() (transport.Dialer, error) {
	switch {
	case simulate:
		return transport.NewSimulator(), nil

	case wsURL != "":
		password := ""
		if wsUsername != "" {
			var err error
			password, err = GetPassword()
			if err != nil {
				return nil, err
			}
		}
		return transport.WebSocketDialer{
			URL:           wsURL,
			Username:      wsUsername,
			Password:      password,
			SkipSSLVerify: wsNoSSLVerify,
		}, nil

	case portName != "":
		return transport.SerialDialer{PortName: portName, BaudRate: baudRate}, nil

	default:
		return transport.BLEDialer{
			Address:     bleAddress,
			Name:        bleName,
			ScanTimeout: bleScanTimeout,
		}, nil
	}
}

// clientConfig builds the hub client settings from the client flags.
func clientConfig(tap func(spike.Direction, []byte)) hub.Config {
	cfg := hub.DefaultConfig()
	cfg.RequestTimeout = requestTimeout
	cfg.NotificationInterval = notificationInterval
	cfg.Reconnect.MaxAttempts = reconnectAttempts
	cfg.Logger = logger
	cfg.Tap = tap
	return cfg
}

// OpenHub dials the hub selected by the flags and waits for it to become
// ready. Handlers registered through setup are installed before connecting
// so no early notification is missed.
func OpenHub(ctx context.Context, tap func(spike.Direction, []byte), setup func(*hub.Client)) (*hub.Client, string, error) {
	dialer, err := NewDialer()
	if err != nil {
		return nil, "", err
	}

	client := hub.New(dialer, clientConfig(tap))
	if setup != nil {
		setup(client)
	}

	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	if err := client.Connect(ctx); err != nil {
		return nil, "", err
	}
	return client, dialer.String(), nil
}

// signalContext is cancelled on Ctrl+C or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// printCapabilities prints the hub limits learned during initialization.
func printCapabilities(caps hub.Capabilities) {
	fmt.Printf("RPC Version:      %s\n", caps.RPCVersion)
	fmt.Printf("Firmware Version: %s\n", caps.FirmwareVersion)
	fmt.Printf("Max Packet Size:  %d bytes\n", caps.MaxPacketSize)
	fmt.Printf("Max Message Size: %d bytes\n", caps.MaxMessageSize)
	fmt.Printf("Max Chunk Size:   %d bytes\n", caps.MaxChunkSize)
	fmt.Printf("Product Group:    0x%04X\n", caps.ProductGroupDevice)
}
