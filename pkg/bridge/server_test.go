// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Thermoquad/spikelink/pkg/hub"
	"github.com/Thermoquad/spikelink/pkg/spike"
	"github.com/Thermoquad/spikelink/pkg/transport"
	"github.com/gorilla/websocket"
)

// ============================================================
// Test Helpers
// ============================================================

type fixture struct {
	sim    *transport.Simulator
	client *hub.Client
	server *httptest.Server
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	sim := transport.NewSimulator()
	cfg := hub.DefaultConfig()
	cfg.RequestTimeout = 2 * time.Second
	client := hub.New(sim, cfg)
	s := New(client, Config{OperationTimeout: 5 * time.Second})
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		ts.Close()
		_ = client.Disconnect()
	})
	return &fixture{sim: sim, client: client, server: ts}
}

func (f *fixture) post(t *testing.T, path string, body any) (int, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	resp, err := http.Post(f.server.URL+path, "application/json", &buf)
	if err != nil {
		t.Fatalf("POST %s failed: %v", path, err)
	}
	defer resp.Body.Close()
	var out map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp.StatusCode, out
}

func (f *fixture) status(t *testing.T) StatusResponse {
	t.Helper()
	resp, err := http.Get(f.server.URL + "/status")
	if err != nil {
		t.Fatalf("GET /status failed: %v", err)
	}
	defer resp.Body.Close()
	var st StatusResponse
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	return st
}

// wireEvent is the client view of an Event.
type wireEvent struct {
	Type    string `json:"type"`
	State   string `json:"state"`
	Text    string `json:"text"`
	Stopped *bool  `json:"stopped"`
	Ports   *struct {
		Battery *spike.DeviceBattery       `json:"battery"`
		Ports   map[string]json.RawMessage `json:"ports"`
	} `json:"ports"`
}

func readEvent(t *testing.T, ws *websocket.Conn) wireEvent {
	t.Helper()
	_ = ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ev wireEvent
	if err := ws.ReadJSON(&ev); err != nil {
		t.Fatalf("ReadJSON failed: %v", err)
	}
	return ev
}

// ============================================================
// Control Endpoint Tests
// ============================================================

func TestBridge_ConnectAndStatus(t *testing.T) {
	f := newFixture(t)

	if st := f.status(t); st.State != "DISCONNECTED" || st.Capabilities != nil {
		t.Fatalf("initial status = %+v", st)
	}

	code, body := f.post(t, "/connect", nil)
	if code != http.StatusOK {
		t.Fatalf("connect: status %d, body %v", code, body)
	}
	st := f.status(t)
	if st.State != "READY" {
		t.Errorf("state = %s, want READY", st.State)
	}
	if st.Capabilities == nil || st.Capabilities.MaxChunkSize != transport.DefaultSimulatorInfo.MaxChunkSize {
		t.Errorf("capabilities = %+v", st.Capabilities)
	}

	if code, _ := f.post(t, "/connect", nil); code != http.StatusConflict {
		t.Errorf("second connect: status %d, want 409", code)
	}

	if code, _ := f.post(t, "/disconnect", nil); code != http.StatusOK {
		t.Errorf("disconnect: status %d", code)
	}
	if st := f.status(t); st.State != "DISCONNECTED" {
		t.Errorf("state after disconnect = %s", st.State)
	}
}

func TestBridge_RunCode(t *testing.T) {
	f := newFixture(t)

	code, body := f.post(t, "/run-code", RunCodeRequest{PyCode: `print("hi")`})
	if code != http.StatusConflict {
		t.Fatalf("run-code before connect: status %d, want 409 (%v)", code, body)
	}
	if !strings.Contains(fmt.Sprint(body["error"]), "not ready") {
		t.Errorf("error body = %v", body)
	}

	if code, _ := f.post(t, "/connect", nil); code != http.StatusOK {
		t.Fatalf("connect: status %d", code)
	}

	program := `print("hi")`
	code, body = f.post(t, "/run-code", RunCodeRequest{PyCode: program, Slot: 2})
	if code != http.StatusOK {
		t.Fatalf("run-code: status %d, body %v", code, body)
	}
	if body["fileName"] != DefaultFileName {
		t.Errorf("fileName = %v", body["fileName"])
	}
	stored, ok := f.sim.Slot(2)
	if !ok || string(stored) != program {
		t.Errorf("slot 2 = %q, %v", stored, ok)
	}
	if !f.sim.Running() {
		t.Error("program should be running")
	}

	if code, _ := f.post(t, "/stop", SlotRequest{Slot: 2}); code != http.StatusOK {
		t.Errorf("stop: status %d", code)
	}
	if f.sim.Running() {
		t.Error("program should be stopped")
	}

	code, body = f.post(t, "/clear", SlotRequest{Slot: 2})
	if code != http.StatusOK || body["cleared"] != true {
		t.Errorf("clear: status %d, body %v", code, body)
	}
}

func TestBridge_BadRequests(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name string
		path string
		body string
	}{
		{"invalid json", "/run-code", "{"},
		{"missing code", "/run-code", `{"slot": 0}`},
		{"slot out of range", "/run-code", `{"pyCode": "x", "slot": 20}`},
		{"start slot out of range", "/start", `{"slot": 25}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := http.Post(f.server.URL+tt.path, "application/json", strings.NewReader(tt.body))
			if err != nil {
				t.Fatalf("POST failed: %v", err)
			}
			resp.Body.Close()
			if resp.StatusCode != http.StatusBadRequest {
				t.Errorf("status %d, want 400", resp.StatusCode)
			}
		})
	}
}

func TestBridge_StartEmptySlot(t *testing.T) {
	f := newFixture(t)
	if code, _ := f.post(t, "/connect", nil); code != http.StatusOK {
		t.Fatalf("connect: status %d", code)
	}
	if code, _ := f.post(t, "/start", SlotRequest{Slot: 4}); code != http.StatusBadGateway {
		t.Errorf("start empty slot: status %d, want 502", code)
	}
}

func TestBridge_CORSPreflight(t *testing.T) {
	f := newFixture(t)
	req, _ := http.NewRequest(http.MethodOptions, f.server.URL+"/run-code", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("OPTIONS failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status %d, want 200", resp.StatusCode)
	}
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("Access-Control-Allow-Origin = %q", got)
	}
}

func TestStatusCode(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{hub.ErrNotReady, http.StatusConflict},
		{fmt.Errorf("wrapped: %w", hub.ErrAlreadyConnected), http.StatusConflict},
		{hub.ErrRequestTimeout, http.StatusGatewayTimeout},
		{context.DeadlineExceeded, http.StatusGatewayTimeout},
		{hub.ErrUploadRejected, http.StatusBadGateway},
		{&hub.ChunkError{Index: 1, Err: errors.New("nack")}, http.StatusBadGateway},
		{hub.ErrProgramControl, http.StatusBadGateway},
		{hub.ErrDisconnected, http.StatusBadGateway},
		{spike.ErrEncoding, http.StatusBadRequest},
		{errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		if got := StatusCode(tt.err); got != tt.want {
			t.Errorf("StatusCode(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

// ============================================================
// Telemetry WebSocket Tests
// ============================================================

func TestBridge_TelemetryStream(t *testing.T) {
	f := newFixture(t)

	wsURL := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/telemetry"
	ws, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer ws.Close()

	if ev := readEvent(t, ws); ev.Type != EventState || ev.State != "DISCONNECTED" {
		t.Fatalf("first event = %+v", ev)
	}

	if code, _ := f.post(t, "/connect", nil); code != http.StatusOK {
		t.Fatalf("connect: status %d", code)
	}
	if code, _ := f.post(t, "/run-code", RunCodeRequest{PyCode: `print("from hub")`}); code != http.StatusOK {
		t.Fatalf("run-code: status %d", code)
	}

	var sawReady, sawTelemetry, sawProgram, sawConsole bool
	deadline := time.Now().Add(3 * time.Second)
	for !(sawReady && sawTelemetry && sawProgram && sawConsole) && time.Now().Before(deadline) {
		ev := readEvent(t, ws)
		switch ev.Type {
		case EventState:
			sawReady = sawReady || ev.State == "READY"
		case EventTelemetry:
			if ev.Ports == nil || ev.Ports.Battery == nil || len(ev.Ports.Ports) != spike.NumPorts {
				t.Errorf("telemetry event without battery: %+v", ev)
			}
			sawTelemetry = true
		case EventProgram:
			sawProgram = ev.Stopped != nil && !*ev.Stopped
		case EventConsole:
			if ev.Text != "from hub\n" {
				t.Errorf("console text = %q", ev.Text)
			}
			sawConsole = true
		}
	}
	if !sawReady || !sawTelemetry || !sawProgram || !sawConsole {
		t.Errorf("missing events: ready=%v telemetry=%v program=%v console=%v",
			sawReady, sawTelemetry, sawProgram, sawConsole)
	}
}
