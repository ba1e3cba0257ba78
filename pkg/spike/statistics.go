// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package spike

import (
	"errors"
	"fmt"
	"time"
)

// Statistics tracks frame counts and decode failures on a link.
type Statistics struct {
	StartTime      time.Time
	LastUpdateTime time.Time

	// Counters
	TotalFrames      uint64
	ValidFrames      uint64
	FramingErrors    uint64
	TruncatedFrames  uint64
	UnknownKinds     uint64
	DeviceWarnings   uint64
	Notifications    uint64
	ConsoleLines     uint64
	AssemblerDropped uint64

	// Rates (calculated)
	FrameRate float64 // frames/sec
	ErrorRate float64 // errors/sec
}

// NewStatistics creates a new statistics tracker
func NewStatistics() *Statistics {
	now := time.Now()
	return &Statistics{
		StartTime:      now,
		LastUpdateTime: now,
	}
}

// Update records one frame and the result of decoding it.
func (s *Statistics) Update(m Message, decodeErr error) {
	s.TotalFrames++
	s.LastUpdateTime = time.Now()

	switch {
	case decodeErr == nil:
	case errors.Is(decodeErr, ErrFraming):
		s.FramingErrors++
		return
	case errors.Is(decodeErr, ErrUnknownMessageKind):
		s.UnknownKinds++
		return
	case errors.Is(decodeErr, ErrTruncatedMessage):
		s.TruncatedFrames++
		return
	default:
		s.FramingErrors++
		return
	}

	s.ValidFrames++
	switch v := m.(type) {
	case DeviceNotification:
		s.Notifications++
		if _, err := v.Messages(); err != nil {
			s.DeviceWarnings++
		}
	case ConsoleNotification:
		s.ConsoleLines++
	}
}

// Errors returns the number of frames that failed to decode.
func (s *Statistics) Errors() uint64 {
	return s.FramingErrors + s.TruncatedFrames + s.UnknownKinds
}

// CalculateRates calculates frame and error rates
func (s *Statistics) CalculateRates() {
	elapsed := time.Since(s.StartTime).Seconds()
	if elapsed > 0 {
		s.FrameRate = float64(s.TotalFrames) / elapsed
		s.ErrorRate = float64(s.Errors()) / elapsed
	}
}

// String returns a formatted statistics summary
func (s *Statistics) String() string {
	s.CalculateRates()

	var validPercent float64
	if s.TotalFrames > 0 {
		validPercent = float64(s.ValidFrames) * 100.0 / float64(s.TotalFrames)
	}

	elapsed := time.Since(s.StartTime)

	result := fmt.Sprintf("=== Statistics (%.0f seconds) ===\n", elapsed.Seconds())
	result += fmt.Sprintf("Total Frames:    %8d\n", s.TotalFrames)
	result += fmt.Sprintf("Valid Frames:    %8d (%.1f%%)\n", s.ValidFrames, validPercent)

	if s.FramingErrors > 0 {
		result += fmt.Sprintf("Framing Errors:  %8d\n", s.FramingErrors)
	}
	if s.TruncatedFrames > 0 {
		result += fmt.Sprintf("Truncated:       %8d\n", s.TruncatedFrames)
	}
	if s.UnknownKinds > 0 {
		result += fmt.Sprintf("Unknown Kinds:   %8d\n", s.UnknownKinds)
	}
	if s.DeviceWarnings > 0 {
		result += fmt.Sprintf("Device Warnings: %8d\n", s.DeviceWarnings)
	}
	if s.AssemblerDropped > 0 {
		result += fmt.Sprintf("Dropped Partial: %8d\n", s.AssemblerDropped)
	}

	result += fmt.Sprintf("Notifications:   %8d\n", s.Notifications)
	result += fmt.Sprintf("Console Lines:   %8d\n", s.ConsoleLines)
	result += fmt.Sprintf("Frame Rate:      %8.1f frames/sec\n", s.FrameRate)
	result += fmt.Sprintf("Error Rate:      %8.1f errors/sec\n", s.ErrorRate)
	result += "================================\n"

	return result
}

// Reset resets all statistics counters
func (s *Statistics) Reset() {
	*s = *NewStatistics()
}
