// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package spike

import "testing"

// ============================================================
// CRC Tests
// ============================================================

func TestUpdateCRC_KnownValues(t *testing.T) {
	tests := []struct {
		name     string
		data     []byte
		expected uint32
	}{
		{"empty", []byte{}, 0x00000000},
		{"ASCII '123456789'", []byte("123456789"), 0xCBF43926}, // standard CRC-32 check value
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			crc := UpdateCRC(0, tt.data)
			if crc != tt.expected {
				t.Errorf("CRC mismatch: expected 0x%08X, got 0x%08X", tt.expected, crc)
			}
		})
	}
}

func TestAlignedCRC_Padding(t *testing.T) {
	// "123456789" padded with three zero bytes
	if crc := ChecksumCRC([]byte("123456789")); crc != 0x77D55834 {
		t.Errorf("expected 0x77D55834, got 0x%08X", crc)
	}

	aligned := []byte("12345678")
	if AlignedCRC(0, aligned) != UpdateCRC(0, aligned) {
		t.Errorf("aligned input must not be padded")
	}
}

func TestUpdateCRC_Partition(t *testing.T) {
	data := make([]byte, 257)
	for i := range data {
		data[i] = byte(i * 7)
	}
	whole := UpdateCRC(0, data)

	partitions := [][]int{
		{257},
		{1, 256},
		{100, 100, 57},
		{3, 5, 7, 11, 13, 218},
		{0, 257, 0},
	}

	for _, sizes := range partitions {
		var crc uint32
		off := 0
		for _, n := range sizes {
			crc = UpdateCRC(crc, data[off:off+n])
			off += n
		}
		if crc != whole {
			t.Errorf("partition %v: got 0x%08X, want 0x%08X", sizes, crc, whole)
		}
	}
}

func TestAlignedCRC_RunningMatchesPrefix(t *testing.T) {
	data := make([]byte, 250)
	for i := range data {
		data[i] = byte(i)
	}

	// Chunks of a multiple of four compose into the checksum of each prefix
	var running uint32
	for off := 0; off < len(data); off += 100 {
		end := off + 100
		if end > len(data) {
			end = len(data)
		}
		running = AlignedCRC(running, data[off:end])
		if want := ChecksumCRC(data[:end]); running != want {
			t.Errorf("prefix %d: running 0x%08X, want 0x%08X", end, running, want)
		}
	}
}
