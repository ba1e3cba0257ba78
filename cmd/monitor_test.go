// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/Thermoquad/spikelink/pkg/hub"
	"github.com/Thermoquad/spikelink/pkg/spike"
	"github.com/Thermoquad/spikelink/pkg/transport"
)

func newTestMonitor() *monitorModel {
	client := hub.New(transport.NewSimulator(), hub.DefaultConfig())
	return initialMonitorModel(client, "simulator", hub.Capabilities{}, 0)
}

func lastLog(m *monitorModel) string {
	if len(m.errorLog) == 0 {
		return ""
	}
	return m.errorLog[len(m.errorLog)-1].message
}

func TestMonitor_ConsoleLines(t *testing.T) {
	m := newTestMonitor()
	start := len(m.errorLog)
	now := time.Now()

	m.processEvent(monitorEvent{kind: eventConsole, at: now, text: "hel"})
	if len(m.errorLog) != start {
		t.Fatalf("partial line logged early: %q", lastLog(m))
	}
	m.processEvent(monitorEvent{kind: eventConsole, at: now, text: "lo\nworld\r\n"})
	if got := len(m.errorLog) - start; got != 2 {
		t.Fatalf("logged %d lines, want 2", got)
	}
	if m.errorLog[start].message != "> hello" || lastLog(m) != "> world" {
		t.Errorf("lines = %q, %q", m.errorLog[start].message, lastLog(m))
	}

	m.processEvent(monitorEvent{kind: eventConsole, at: now, text: "tail"})
	m.processEvent(monitorEvent{kind: eventFlow, at: now, stopped: true})
	if m.errorLog[len(m.errorLog)-2].message != "> tail" {
		t.Errorf("partial line not flushed on stop: %q", m.errorLog[len(m.errorLog)-2].message)
	}
	if lastLog(m) != "Program stopped" || m.running {
		t.Errorf("flow stop: last=%q running=%v", lastLog(m), m.running)
	}
}

func TestMonitor_TelemetryUpdatesTable(t *testing.T) {
	m := newTestMonitor()
	state := spike.ProjectPortState([]spike.DeviceMessage{
		spike.DeviceBattery{Level: 80},
		spike.DeviceDistanceSensor{Port: spike.PortC, Distance: 120},
	})
	m.processEvent(monitorEvent{kind: eventTelemetry, ports: state})

	if !m.hasTelemetry {
		t.Fatal("hasTelemetry not set")
	}
	rows := m.portTable.Rows()
	if len(rows) != spike.NumPorts {
		t.Fatalf("rows = %d", len(rows))
	}
	if rows[2][0] != "C" || rows[2][2] != "120 mm" {
		t.Errorf("port C row = %v", rows[2])
	}
	if rows[0][1] != "-" {
		t.Errorf("empty port A row = %v", rows[0])
	}
	if !strings.Contains(m.renderHubPanel(), "80%") {
		t.Error("battery level missing from hub panel")
	}
}

func TestMonitor_FrameStatistics(t *testing.T) {
	m := newTestMonitor()
	m.processEvent(monitorEvent{kind: eventFrame, msg: spike.ConsoleNotification{Text: "x"}})
	m.processEvent(monitorEvent{kind: eventFrame, err: spike.ErrFraming})

	if m.stats.TotalFrames != 2 || m.stats.ValidFrames != 1 {
		t.Errorf("total=%d valid=%d", m.stats.TotalFrames, m.stats.ValidFrames)
	}
	if !m.errorLog[len(m.errorLog)-1].isError {
		t.Error("decode error not logged as error")
	}
}

func TestMonitor_StateChange(t *testing.T) {
	m := newTestMonitor()
	m.processEvent(monitorEvent{kind: eventState, state: hub.StateDisconnected})
	if m.state != hub.StateDisconnected {
		t.Fatalf("state = %s", m.state)
	}
	if !strings.Contains(lastLog(m), "READY -> DISCONNECTED") || !m.errorLog[len(m.errorLog)-1].isError {
		t.Errorf("log = %q", lastLog(m))
	}

	m.Update(commandResultMsg{action: "Stop program", err: errors.New("boom")})
	if lastLog(m) != "Stop program failed: boom" {
		t.Errorf("log = %q", lastLog(m))
	}
}

func TestFormatUptime(t *testing.T) {
	tests := []struct {
		ms   uint64
		want string
	}{
		{0, "0 seconds"},
		{1000, "1 second"},
		{61000, "1 minute and 1 second"},
		{3600000, "1 hour"},
		{90061000, "1 day, 1 hour, 1 minute and 1 second"},
		{7322000, "2 hours, 2 minutes and 2 seconds"},
	}
	for _, tt := range tests {
		if got := formatUptime(tt.ms); got != tt.want {
			t.Errorf("formatUptime(%d) = %q, want %q", tt.ms, got, tt.want)
		}
	}
}
