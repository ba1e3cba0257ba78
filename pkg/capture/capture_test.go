// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package capture

import (
	"bytes"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/Thermoquad/spikelink/pkg/spike"
)

// ============================================================
// Round Trip Tests
// ============================================================

func TestRecordAndRead(t *testing.T) {
	var buf bytes.Buffer
	rec, err := NewRecorder(&buf, "Simulator")
	if err != nil {
		t.Fatalf("NewRecorder failed: %v", err)
	}
	base := time.Date(2025, 3, 1, 12, 0, 0, 123456789, time.UTC)
	tick := 0
	rec.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Millisecond)
	}

	frames := []struct {
		dir spike.Direction
		msg spike.Message
	}{
		{spike.DirTX, spike.InfoRequest{}},
		{spike.DirRX, spike.InfoResponse{MaxPacketSize: 20, MaxMessageSize: 1000, MaxChunkSize: 444}},
		{spike.DirRX, spike.ConsoleNotification{Text: "hello\n"}},
	}
	for _, f := range frames {
		frame, err := spike.EncodeFrame(f.msg)
		if err != nil {
			t.Fatalf("EncodeFrame failed: %v", err)
		}
		rec.Record(f.dir, frame)
	}
	if rec.Count() != len(frames) {
		t.Errorf("Count = %d, want %d", rec.Count(), len(frames))
	}
	if err := rec.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	r, err := NewReader(&buf)
	if err != nil {
		t.Fatalf("NewReader failed: %v", err)
	}
	if h := r.Header(); h.Link != "Simulator" || h.Version != Version {
		t.Errorf("header = %+v", h)
	}

	records, err := r.ReadAll()
	if err != nil {
		t.Fatalf("ReadAll failed: %v", err)
	}
	if len(records) != len(frames) {
		t.Fatalf("read %d records, want %d", len(records), len(frames))
	}
	for i, got := range records {
		if got.Direction != frames[i].dir {
			t.Errorf("record %d: direction %s, want %s", i, got.Direction, frames[i].dir)
		}
		m, err := spike.DecodeFrame(got.Frame)
		if err != nil {
			t.Fatalf("record %d: DecodeFrame failed: %v", i, err)
		}
		if m.ID() != frames[i].msg.ID() {
			t.Errorf("record %d: kind 0x%02X, want 0x%02X", i, m.ID(), frames[i].msg.ID())
		}
		want := base.Add(time.Duration(i+1) * time.Millisecond)
		if !got.Time.Equal(want) {
			t.Errorf("record %d: time %v, want %v", i, got.Time, want)
		}
	}

	if _, err := r.Next(); !errors.Is(err, io.EOF) {
		t.Errorf("expected io.EOF after last record, got %v", err)
	}
}

func TestRecorder_ConcurrentTaps(t *testing.T) {
	var buf bytes.Buffer
	rec, err := NewRecorder(&buf, "")
	if err != nil {
		t.Fatalf("NewRecorder failed: %v", err)
	}
	frame := spike.MustEncode(spike.InfoRequest{})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(dir spike.Direction) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				rec.Record(dir, spike.Pack(frame))
			}
		}(spike.Direction(i % 2))
	}
	wg.Wait()
	if err := rec.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	r, err := NewReader(&buf)
	if err != nil {
		t.Fatalf("NewReader failed: %v", err)
	}
	records, err := r.ReadAll()
	if err != nil {
		t.Fatalf("ReadAll failed: %v", err)
	}
	if len(records) != 400 {
		t.Errorf("read %d records, want 400", len(records))
	}
}

func TestRecorder_DiscardsAfterClose(t *testing.T) {
	var buf bytes.Buffer
	rec, err := NewRecorder(&buf, "")
	if err != nil {
		t.Fatalf("NewRecorder failed: %v", err)
	}
	if err := rec.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	rec.Record(spike.DirTX, []byte{0x02})
	if rec.Count() != 0 {
		t.Errorf("Count = %d after close", rec.Count())
	}
}

// ============================================================
// Error Tests
// ============================================================

func TestReader_BadHeader(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"not cbor header", []byte{0x01, 0x02, 0x03}},
		{"wrong format", mustCBOR(t, Header{Format: "other", Version: Version})},
		{"wrong version", mustCBOR(t, Header{Format: Format, Version: 99})},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewReader(bytes.NewReader(tt.data)); !errors.Is(err, ErrBadHeader) {
				t.Errorf("expected ErrBadHeader, got %v", err)
			}
		})
	}
}

func TestReader_TruncatedRecord(t *testing.T) {
	var buf bytes.Buffer
	rec, err := NewRecorder(&buf, "")
	if err != nil {
		t.Fatalf("NewRecorder failed: %v", err)
	}
	rec.Record(spike.DirRX, spike.Pack([]byte{0x21, 'h', 'i', 0x00}))
	if err := rec.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	data := buf.Bytes()[:buf.Len()-2]
	r, err := NewReader(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("NewReader failed: %v", err)
	}
	if _, err := r.Next(); err == nil || errors.Is(err, io.EOF) {
		t.Errorf("expected a read error for a truncated record, got %v", err)
	}
}

func mustCBOR(t *testing.T, v any) []byte {
	t.Helper()
	b, err := encMode.Marshal(v)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	return b
}
