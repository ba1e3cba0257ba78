// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package spike

import (
	"bytes"
	"errors"
	"testing"
)

// ============================================================
// Pack / Unpack Tests
// ============================================================

func TestPack_KnownVectors(t *testing.T) {
	tests := []struct {
		name     string
		payload  []byte
		expected []byte
	}{
		{"empty", []byte{}, []byte{0x00, 0x02}},
		{"single zero", []byte{0x00}, []byte{0x00, 0x00, 0x02}},
		{"low bytes", []byte{0x01, 0x02, 0x03}, []byte{0x54, 0xA8, 0x07, 0x00, 0x02}},
		{"clear slot", []byte{0x00, 0x0C}, []byte{0x00, 0x07, 0x0F, 0x02}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Pack(tt.payload)
			if !bytes.Equal(got, tt.expected) {
				t.Errorf("Pack(% X) = % X, want % X", tt.payload, got, tt.expected)
			}
		})
	}
}

func TestPack_NoDelimiterInBody(t *testing.T) {
	payload := make([]byte, 512)
	for i := range payload {
		payload[i] = byte(i)
	}
	frame := Pack(payload)

	if frame[len(frame)-1] != Delimiter {
		t.Fatalf("frame must end with delimiter, got 0x%02X", frame[len(frame)-1])
	}
	for i, b := range frame[:len(frame)-1] {
		if b == Delimiter || b == PriorityByte {
			t.Fatalf("reserved byte 0x%02X in body at offset %d", b, i)
		}
	}
}

func TestPackUnpack_RoundTrip(t *testing.T) {
	long := bytes.Repeat([]byte{0x05}, MaxBlockSize)
	tests := []struct {
		name    string
		payload []byte
	}{
		{"empty", []byte{}},
		{"all zero", []byte{0x00, 0x00, 0x00}},
		{"delimiters", []byte{0x02, 0x02, 0x01, 0x02}},
		{"full block", long},
		{"full block plus one", append(append([]byte{}, long...), 0x06)},
		{"block then zero", append(append([]byte{}, long...), 0x00)},
		{"text", []byte("import runloop\nprint('hi')\n")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Unpack(Pack(tt.payload))
			if err != nil {
				t.Fatalf("Unpack failed: %v", err)
			}
			if !bytes.Equal(got, tt.payload) {
				t.Errorf("round trip mismatch:\n got % X\nwant % X", got, tt.payload)
			}
		})
	}
}

func TestUnpack_PriorityByte(t *testing.T) {
	payload := []byte{0x21, 'h', 'i', 0x00}
	frame := append([]byte{PriorityByte}, Pack(payload)...)

	got, err := Unpack(frame)
	if err != nil {
		t.Fatalf("Unpack failed: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Errorf("got % X, want % X", got, payload)
	}
}

func TestUnpack_Errors(t *testing.T) {
	tests := []struct {
		name  string
		frame []byte
	}{
		{"nil", nil},
		{"no delimiter", []byte{0x00, 0x07}},
		{"only delimiter", []byte{0x02}},
		{"priority only", []byte{0x01, 0x02}},
		{"invalid code word", []byte{0x00 ^ FrameXor, 0x02}},
		{"truncated block", Pack([]byte{0x10, 0x11, 0x12})[1:]},
		{"missing block bytes", []byte{0x06 ^ FrameXor, 0x10 ^ FrameXor, 0x02}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Unpack(tt.frame)
			if !errors.Is(err, ErrFraming) {
				t.Errorf("expected ErrFraming, got %v", err)
			}
		})
	}
}

// ============================================================
// Assembler Tests
// ============================================================

func TestAssembler_FragmentedFrame(t *testing.T) {
	frame := Pack([]byte("a longer message split across packets"))
	a := NewAssembler()

	var frames [][]byte
	for i := 0; i < len(frame); i += 5 {
		end := i + 5
		if end > len(frame) {
			end = len(frame)
		}
		frames = append(frames, a.Feed(frame[i:end])...)
	}

	if len(frames) != 1 {
		t.Fatalf("expected 1 frame, got %d", len(frames))
	}
	if !bytes.Equal(frames[0], frame) {
		t.Errorf("reassembled frame mismatch")
	}
	if a.Pending() != 0 {
		t.Errorf("expected empty buffer, %d bytes pending", a.Pending())
	}
}

func TestAssembler_MultipleFramesPerPacket(t *testing.T) {
	f1 := Pack([]byte{0x01})
	f2 := Pack([]byte{0x29, 0x00})
	f3 := Pack([]byte{0x11, 0x00})

	packet := append(append(append([]byte{}, f1...), f2...), f3[:2]...)
	a := NewAssembler()

	frames := a.Feed(packet)
	if len(frames) != 2 {
		t.Fatalf("expected 2 frames, got %d", len(frames))
	}
	if !bytes.Equal(frames[0], f1) || !bytes.Equal(frames[1], f2) {
		t.Errorf("frames out of order or corrupted")
	}

	frames = a.Feed(f3[2:])
	if len(frames) != 1 || !bytes.Equal(frames[0], f3) {
		t.Errorf("expected trailing frame to complete, got %d frames", len(frames))
	}
}

func TestAssembler_Overflow(t *testing.T) {
	a := NewAssembler()
	a.limit = 16

	a.Feed(bytes.Repeat([]byte{0x10}, 20))
	if a.Dropped() != 1 {
		t.Errorf("expected 1 dropped partial frame, got %d", a.Dropped())
	}
	if a.Pending() != 0 {
		t.Errorf("expected buffer cleared after overflow")
	}

	frame := Pack([]byte{0x00})
	if frames := a.Feed(frame); len(frames) != 1 {
		t.Errorf("assembler should recover after overflow")
	}
}
