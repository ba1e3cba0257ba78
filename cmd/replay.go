// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/Thermoquad/spikelink/pkg/capture"
	"github.com/Thermoquad/spikelink/pkg/spike"
	"github.com/spf13/cobra"
)

var (
	replayErrorsOnly bool
	replayShowHex    bool
	replayKind       string
)

var replayCmd = &cobra.Command{
	Use:   "replay <capture>",
	Short: "Decode a capture file written with --record",
	Long: `Decode every frame of a capture written by raw_log or monitor with
--record and print it the way raw_log does, followed by statistics for the
hub-to-client direction.

Use --errors to show only frames that fail to decode, and --kind to show only
one message kind (by name, e.g. DEVICE_NOTIFICATION).`,
	Args: cobra.ExactArgs(1),
	RunE: runReplay,
}

func init() {
	rootCmd.AddCommand(replayCmd)
	replayCmd.Flags().BoolVar(&replayErrorsOnly, "errors", false, "Show only frames that fail to decode")
	replayCmd.Flags().BoolVar(&replayShowHex, "hex", false, "Also print the raw frame bytes")
	replayCmd.Flags().StringVar(&replayKind, "kind", "", "Show only this message kind")
}

func runReplay(cmd *cobra.Command, args []string) error {
	f, err := os.Open(args[0])
	if err != nil {
		return err
	}
	defer f.Close()

	r, err := capture.NewReader(f)
	if err != nil {
		return err
	}
	h := r.Header()
	fmt.Printf("Spikelink - Capture Replay\n")
	fmt.Printf("Capture: %s (recorded %s", args[0], h.Started.Local().Format("2006-01-02 15:04:05"))
	if h.Link != "" {
		fmt.Printf(" by %s", h.Link)
	}
	fmt.Printf(")\n\n")

	stats := spike.NewStatistics()
	var first, last *capture.Record
	count := 0
	for {
		rec, err := r.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}
		count++
		if first == nil {
			first = &rec
		}
		last = &rec

		m, decodeErr := spike.DecodeFrame(rec.Frame)
		if rec.Direction == spike.DirRX {
			stats.Update(m, decodeErr)
		}
		if !showInReplay(m, decodeErr) {
			continue
		}
		fmt.Print(formatFrame(rec.Direction, rec.Time, rec.Frame, m, decodeErr, replayShowHex))
	}

	fmt.Printf("\n%d frames", count)
	if first != nil {
		fmt.Printf(" over %s", last.Time.Sub(first.Time).Round(time.Millisecond))
	}
	fmt.Printf("\n\n")
	fmt.Print(stats)
	return nil
}

func showInReplay(m spike.Message, err error) bool {
	if replayErrorsOnly {
		return err != nil
	}
	if replayKind != "" {
		return err == nil && spike.MessageName(m.ID()) == replayKind
	}
	return true
}
