// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/Thermoquad/spikelink/pkg/capture"
	"github.com/Thermoquad/spikelink/pkg/spike"
	"github.com/spf13/cobra"
)

var (
	rawRecordPath string
	rawShowHex    bool
)

var rawLogCmd = &cobra.Command{
	Use:   "raw_log",
	Short: "Display the decoded frame log in human-readable format",
	Long: `Connect to the hub and continuously decode and display every frame
exchanged, both directions, as it happens.

Each frame is shown with timestamp, direction, message kind and decoded
fields. Frames that fail to decode are shown as errors. A statistics summary
is printed on exit.

With --record the frames are also written to a capture file that the replay
command can decode later.`,
	Args: cobra.NoArgs,
	RunE: runRawLog,
}

func init() {
	rootCmd.AddCommand(rawLogCmd)
	rawLogCmd.Flags().StringVar(&rawRecordPath, "record", "", "Write a capture file")
	rawLogCmd.Flags().BoolVar(&rawShowHex, "hex", false, "Also print the raw frame bytes")
}

// frameLogger prints frames as they pass through the client tap.
type frameLogger struct {
	mu    sync.Mutex
	stats *spike.Statistics
	rec   *capture.Recorder
}

func (l *frameLogger) tap(dir spike.Direction, frame []byte) {
	if l.rec != nil {
		l.rec.Record(dir, frame)
	}

	m, err := spike.DecodeFrame(frame)

	l.mu.Lock()
	defer l.mu.Unlock()
	if dir == spike.DirRX {
		l.stats.Update(m, err)
	}
	fmt.Print(formatFrame(dir, time.Now(), frame, m, err, rawShowHex))
}

// formatFrame renders one captured or live frame.
func formatFrame(dir spike.Direction, ts time.Time, frame []byte, m spike.Message, err error, showHex bool) string {
	var sb strings.Builder
	if err != nil {
		fmt.Fprintf(&sb, "%s [%s] [ERROR] %v\n", dir, ts.Format("15:04:05.000"), err)
	} else {
		sb.WriteString(dir.String())
		sb.WriteString(" ")
		sb.WriteString(spike.FormatMessage(m, ts))
	}
	if showHex {
		fmt.Fprintf(&sb, "  raw: % X\n", frame)
	}
	return sb.String()
}

func runRawLog(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	l := &frameLogger{stats: spike.NewStatistics()}
	if rawRecordPath != "" {
		f, err := os.Create(rawRecordPath)
		if err != nil {
			return fmt.Errorf("failed to create capture: %w", err)
		}
		rec, err := capture.NewRecorder(f, "raw_log")
		if err != nil {
			f.Close()
			return err
		}
		l.rec = rec
		defer func() {
			if err := rec.Close(); err != nil {
				fmt.Fprintf(os.Stderr, "Capture error: %v\n", err)
				return
			}
			fmt.Printf("Wrote %d frames to %s\n", rec.Count(), rawRecordPath)
		}()
	}

	fmt.Printf("Spikelink - Raw Frame Log\n")
	fmt.Printf("Press Ctrl+C to exit\n\n")

	client, connInfo, err := OpenHub(ctx, l.tap, nil)
	if err != nil {
		return err
	}
	defer client.Disconnect()
	fmt.Printf("Connection: %s\n\n", connInfo)

	<-ctx.Done()

	l.mu.Lock()
	fmt.Printf("\n%s", l.stats)
	l.mu.Unlock()
	return nil
}
