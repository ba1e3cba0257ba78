// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Thermoquad/spikelink/pkg/hub"
	"github.com/Thermoquad/spikelink/pkg/spike"
	"github.com/spf13/cobra"
)

var (
	slot       uint8
	uploadName string
	uploadRun  bool
	followRun  bool
)

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Connect and print the hub capabilities",
	Long: `Connect to the hub, run the initialization handshake and print the
limits it reports: protocol and firmware versions, packet, message and chunk
sizes.`,
	Args: cobra.NoArgs,
	RunE: runInfo,
}

var uploadCmd = &cobra.Command{
	Use:   "upload <file>",
	Short: "Upload a program to a slot",
	Long: `Upload a program file to a hub slot.

The file is sent in chunks no larger than the hub allows, each carrying the
running CRC of the data so far. The hub checks the whole-file CRC announced
at the start. Any failed chunk abandons the upload.

With --run the slot is cleared first and the program started after the
upload; console output is then printed until Ctrl+C or the program stops.

Examples:
  spikelink upload main.py --slot 0
  spikelink upload main.py --slot 3 --name program.py --run`,
	Args: cobra.ExactArgs(1),
	RunE: runUpload,
}

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the program in a slot",
	Args:  cobra.NoArgs,
	RunE:  runStart,
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running program",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withHub(nil, func(ctx context.Context, c *hub.Client) error {
			if err := c.StopProgram(ctx, slot); err != nil {
				return err
			}
			fmt.Println("Program stopped")
			return nil
		})
	},
}

var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Erase a slot",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withHub(nil, func(ctx context.Context, c *hub.Client) error {
			cleared, err := c.ClearSlot(ctx, slot)
			if err != nil {
				return err
			}
			if cleared {
				fmt.Printf("Slot %d cleared\n", slot)
			} else {
				fmt.Printf("Slot %d was already empty\n", slot)
			}
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(infoCmd, uploadCmd, startCmd, stopCmd, clearCmd)

	for _, c := range []*cobra.Command{uploadCmd, startCmd, stopCmd, clearCmd} {
		c.Flags().Uint8VarP(&slot, "slot", "s", 0, "Program slot (0-19)")
	}
	uploadCmd.Flags().StringVar(&uploadName, "name", "", "File name on the hub (default: base name of <file>)")
	uploadCmd.Flags().BoolVar(&uploadRun, "run", false, "Clear the slot first and start the program after upload")
	startCmd.Flags().BoolVarP(&followRun, "follow", "f", false, "Print console output until the program stops")
}

// withHub connects, runs fn and disconnects. Ctrl+C cancels fn.
func withHub(setup func(*hub.Client), fn func(context.Context, *hub.Client) error) error {
	ctx, cancel := signalContext()
	defer cancel()

	client, _, err := OpenHub(ctx, nil, setup)
	if err != nil {
		return err
	}
	defer client.Disconnect()

	return fn(ctx, client)
}

func runInfo(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	start := time.Now()
	client, connInfo, err := OpenHub(ctx, nil, nil)
	if err != nil {
		return err
	}
	defer client.Disconnect()

	caps, _ := client.Capabilities()
	fmt.Printf("Spikelink - Hub Info\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Ready in:   %s\n\n", time.Since(start).Round(time.Millisecond))
	printCapabilities(caps)
	return nil
}

func runUpload(cmd *cobra.Command, args []string) error {
	path := args[0]
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}
	name := uploadName
	if name == "" {
		name = filepath.Base(path)
	}
	if slot > 19 {
		return fmt.Errorf("slot %d out of range 0-19", slot)
	}

	var follow *programFollower
	setup := func(c *hub.Client) {
		c.OnUploadProgress(func(p hub.UploadProgress) {
			pct := float64(p.Sent) * 100 / float64(p.Size)
			fmt.Printf("\rUploading %s: chunk %d/%d, %d/%d bytes (%.0f%%)", p.FileName, p.Chunk, p.Chunks, p.Sent, p.Size, pct)
			if p.Chunk == p.Chunks {
				fmt.Println()
			}
		})
		if uploadRun {
			follow = newProgramFollower(c)
		}
	}

	return withHub(setup, func(ctx context.Context, c *hub.Client) error {
		fmt.Printf("File: %s (%d bytes, CRC 0x%08X) -> slot %d as %q\n",
			path, len(data), spike.ChecksumCRC(data), slot, name)

		if !uploadRun {
			return c.UploadFile(ctx, name, slot, data)
		}
		if err := c.RunProgram(ctx, name, slot, data); err != nil {
			return err
		}
		fmt.Printf("Program started (Ctrl+C to stop following)\n\n")
		return follow.wait(ctx)
	})
}

func runStart(cmd *cobra.Command, args []string) error {
	var follow *programFollower
	setup := func(c *hub.Client) {
		if followRun {
			follow = newProgramFollower(c)
		}
	}
	return withHub(setup, func(ctx context.Context, c *hub.Client) error {
		if err := c.StartProgram(ctx, slot); err != nil {
			return err
		}
		fmt.Printf("Program in slot %d started\n", slot)
		if follow == nil {
			return nil
		}
		return follow.wait(ctx)
	})
}

// programFollower prints console output until the program stops or the link
// is lost.
type programFollower struct {
	stopped chan struct{}
	lost    chan struct{}
}

func newProgramFollower(c *hub.Client) *programFollower {
	f := &programFollower{stopped: make(chan struct{}, 1), lost: make(chan struct{}, 1)}
	c.OnConsoleText(func(text string) {
		fmt.Print(text)
		if !strings.HasSuffix(text, "\n") {
			fmt.Println()
		}
	})
	c.OnProgramFlow(func(stopped bool) {
		if stopped {
			select {
			case f.stopped <- struct{}{}:
			default:
			}
		}
	})
	c.OnStateChange(func(s hub.State) {
		if s == hub.StateDisconnected {
			select {
			case f.lost <- struct{}{}:
			default:
			}
		}
	})
	return f
}

func (f *programFollower) wait(ctx context.Context) error {
	select {
	case <-f.stopped:
		fmt.Println("\nProgram stopped")
		return nil
	case <-f.lost:
		return hub.ErrDisconnected
	case <-ctx.Done():
		return nil
	}
}
