// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package transport

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Thermoquad/spikelink/pkg/spike"
	"github.com/gorilla/websocket"
)

// ============================================================
// Test Helpers
// ============================================================

// roundTrip writes m as packets of at most size bytes and waits for the
// first decoded message from the link.
func roundTrip(t *testing.T, c Conn, m spike.Message, size int) spike.Message {
	t.Helper()
	frame, err := spike.EncodeFrame(m)
	if err != nil {
		t.Fatalf("EncodeFrame failed: %v", err)
	}
	for i := 0; i < len(frame); i += size {
		end := i + size
		if end > len(frame) {
			end = len(frame)
		}
		if err := c.WritePacket(frame[i:end]); err != nil {
			t.Fatalf("WritePacket failed: %v", err)
		}
	}
	return readMessage(t, c)
}

func readMessage(t *testing.T, c Conn) spike.Message {
	t.Helper()
	asm := spike.NewAssembler()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case p := <-c.Packets():
			for _, f := range asm.Feed(p) {
				m, err := spike.DecodeFrame(f)
				if err != nil {
					t.Fatalf("DecodeFrame failed: %v", err)
				}
				return m
			}
		case <-c.Done():
			t.Fatalf("link closed: %v", c.Err())
		case <-timeout:
			t.Fatalf("timed out waiting for message")
		}
	}
}

// ============================================================
// Simulator Tests
// ============================================================

func TestSimulator_InfoRoundTrip(t *testing.T) {
	sim := NewSimulator()
	c, err := sim.Dial(context.Background())
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer c.Close()

	m := roundTrip(t, c, spike.InfoRequest{}, 20)
	info, ok := m.(spike.InfoResponse)
	if !ok {
		t.Fatalf("expected InfoResponse, got %T", m)
	}
	if info != DefaultSimulatorInfo {
		t.Errorf("unexpected info %+v", info)
	}
}

func TestSimulator_DialFaults(t *testing.T) {
	tests := []struct {
		name   string
		faults SimulatorFaults
		want   error
	}{
		{"missing characteristic", SimulatorFaults{MissingCharacteristic: true}, ErrCharacteristicMissing},
		{"notify unsupported", SimulatorFaults{NotifyUnsupported: true}, ErrNotifyUnsupported},
		{"unreachable", SimulatorFaults{FailDials: 1}, ErrDeviceNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sim := NewSimulator()
			sim.SetFaults(tt.faults)
			_, err := sim.Dial(context.Background())
			if !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestSimulator_FailDialsRecovers(t *testing.T) {
	sim := NewSimulator()
	sim.SetFaults(SimulatorFaults{FailDials: 2})

	for i := 0; i < 2; i++ {
		if _, err := sim.Dial(context.Background()); err == nil {
			t.Fatalf("dial %d should fail", i+1)
		}
	}
	c, err := sim.Dial(context.Background())
	if err != nil {
		t.Fatalf("third dial should succeed: %v", err)
	}
	c.Close()
	if sim.Dials() != 3 {
		t.Errorf("expected 3 dials, got %d", sim.Dials())
	}
}

func TestSimulator_Drop(t *testing.T) {
	sim := NewSimulator()
	c, err := sim.Dial(context.Background())
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}

	sim.Drop()
	select {
	case <-c.Done():
	case <-time.After(time.Second):
		t.Fatal("Done not closed after Drop")
	}
	if !errors.Is(c.Err(), ErrSimulatedLinkLoss) {
		t.Errorf("expected ErrSimulatedLinkLoss, got %v", c.Err())
	}
	if err := c.WritePacket([]byte{0x00}); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed writing after drop, got %v", err)
	}
}

func TestSimulator_PriorityFrames(t *testing.T) {
	sim := NewSimulator()
	sim.SetFaults(SimulatorFaults{PriorityFrames: true})
	c, err := sim.Dial(context.Background())
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer c.Close()

	m := roundTrip(t, c, spike.ClearSlotRequest{Slot: 4}, 20)
	resp, ok := m.(spike.ClearSlotResponse)
	if !ok || resp.Success() {
		t.Errorf("expected NACK for empty slot, got %#v", m)
	}
}

func TestSimulator_OversizePackets(t *testing.T) {
	sim := NewSimulator()
	c, err := sim.Dial(context.Background())
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer c.Close()

	roundTrip(t, c, spike.StartFileUploadRequest{FileName: "a-rather-long-name.py", Slot: 0, CRC: 1}, 64)
	if sim.Oversize() == 0 {
		t.Errorf("expected oversize packets to be counted")
	}
}

// ============================================================
// WebSocket Tests
// ============================================================

func TestWebSocket_BinaryRelay(t *testing.T) {
	var gotAuth string
	upgrader := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()
		// Text messages are ignored by the client
		_ = ws.WriteMessage(websocket.TextMessage, []byte("hello"))
		for {
			mt, data, err := ws.ReadMessage()
			if err != nil {
				return
			}
			if err := ws.WriteMessage(mt, data); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	d := WebSocketDialer{
		URL:      "ws" + strings.TrimPrefix(srv.URL, "http"),
		Username: "admin",
		Password: "secret",
	}
	c, err := d.Dial(context.Background())
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer c.Close()

	m := roundTrip(t, c, spike.ConsoleNotification{Text: "echo"}, 1000)
	if cn, ok := m.(spike.ConsoleNotification); !ok || cn.Text != "echo" {
		t.Errorf("unexpected echo %#v", m)
	}
	if !strings.HasPrefix(gotAuth, "Basic ") {
		t.Errorf("expected Basic auth header, got %q", gotAuth)
	}
}

func TestWebSocket_InvalidScheme(t *testing.T) {
	_, err := WebSocketDialer{URL: "http://example.com"}.Dial(context.Background())
	if err == nil || !strings.Contains(err.Error(), "unsupported URL scheme") {
		t.Errorf("expected scheme error, got %v", err)
	}
}

func TestWebSocket_ServerClose(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		ws.Close()
	}))
	defer srv.Close()

	c, err := WebSocketDialer{URL: "ws" + strings.TrimPrefix(srv.URL, "http")}.Dial(context.Background())
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	select {
	case <-c.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("Done not closed after server hung up")
	}
	if c.Err() == nil {
		t.Errorf("expected a link error")
	}
}
