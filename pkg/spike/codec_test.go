// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package spike

import (
	"bytes"
	"errors"
	"reflect"
	"strings"
	"testing"
)

// ============================================================
// Encoder Tests
// ============================================================

func TestEncode_StartFileUploadRequest(t *testing.T) {
	got, err := Encode(StartFileUploadRequest{FileName: "test.txt", Slot: 1, CRC: 12345})
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	expected := []byte{0x0C, 't', 'e', 's', 't', '.', 't', 'x', 't', 0x00, 0x01, 0x39, 0x30, 0x00, 0x00}
	if !bytes.Equal(got, expected) {
		t.Errorf("got % X, want % X", got, expected)
	}
}

func TestEncode_FixedLayouts(t *testing.T) {
	tests := []struct {
		name     string
		msg      Message
		expected []byte
	}{
		{"info request", InfoRequest{}, []byte{0x00}},
		{"clear slot", ClearSlotRequest{Slot: 3}, []byte{0x46, 0x03}},
		{"start program", ProgramFlowRequest{Stop: false, Slot: 0}, []byte{0x1E, 0x00, 0x00}},
		{"stop program", ProgramFlowRequest{Stop: true, Slot: 2}, []byte{0x1E, 0x01, 0x02}},
		{"notifications", DeviceNotificationRequest{IntervalMS: 5000}, []byte{0x28, 0x88, 0x13}},
		{
			"chunk",
			TransferChunkRequest{RunningCRC: 0xAABBCCDD, Payload: []byte{0x01, 0x02}},
			[]byte{0x10, 0xDD, 0xCC, 0xBB, 0xAA, 0x02, 0x00, 0x01, 0x02},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MustEncode(tt.msg)
			if !bytes.Equal(got, tt.expected) {
				t.Errorf("got % X, want % X", got, tt.expected)
			}
		})
	}
}

func TestEncode_FileNameTooLong(t *testing.T) {
	name := strings.Repeat("a", MaxFileNameSize+1)
	_, err := Encode(StartFileUploadRequest{FileName: name})
	if !errors.Is(err, ErrEncoding) {
		t.Errorf("expected ErrEncoding, got %v", err)
	}

	if _, err := Encode(StartFileUploadRequest{FileName: strings.Repeat("a", MaxFileNameSize)}); err != nil {
		t.Errorf("31-byte name should encode: %v", err)
	}
}

func TestEncode_FileNameWithNUL(t *testing.T) {
	_, err := Encode(StartFileUploadRequest{FileName: "a\x00b"})
	if !errors.Is(err, ErrEncoding) {
		t.Errorf("expected ErrEncoding, got %v", err)
	}
}

func TestEncode_OversizedPayload(t *testing.T) {
	_, err := Encode(TunnelMessage{Payload: make([]byte, 0x10000)})
	if !errors.Is(err, ErrEncoding) {
		t.Errorf("expected ErrEncoding, got %v", err)
	}
}

// ============================================================
// Decoder Tests
// ============================================================

func TestDecode_RoundTrip(t *testing.T) {
	msgs := []Message{
		InfoRequest{},
		InfoResponse{
			RPCVersion:         Version{1, 0, 12},
			FirmwareVersion:    Version{1, 4, 116},
			MaxPacketSize:      20,
			MaxMessageSize:     1000,
			MaxChunkSize:       444,
			ProductGroupDevice: 0x0081,
		},
		StartFileUploadRequest{FileName: "program.py", Slot: 19, CRC: 0xDEADBEEF},
		StartFileUploadResponse{StatusAck},
		TransferChunkRequest{RunningCRC: 42, Payload: []byte("print('hi')")},
		TransferChunkResponse{StatusNack},
		ProgramFlowRequest{Stop: true, Slot: 5},
		ProgramFlowResponse{StatusAck},
		ProgramFlowNotification{Stop: true},
		ConsoleNotification{Text: "Console message from hub."},
		DeviceNotificationRequest{IntervalMS: 250},
		DeviceNotificationResponse{StatusAck},
		TunnelMessage{Payload: []byte{0xDE, 0xAD}},
		NewDeviceNotification(DeviceBattery{Level: 88}, DeviceMotor{Port: PortC, Position: -90}),
		ClearSlotRequest{Slot: 0},
		ClearSlotResponse{StatusNack},
	}

	for _, m := range msgs {
		t.Run(MessageName(m.ID()), func(t *testing.T) {
			frame, err := EncodeFrame(m)
			if err != nil {
				t.Fatalf("EncodeFrame failed: %v", err)
			}
			got, err := DecodeFrame(frame)
			if err != nil {
				t.Fatalf("DecodeFrame failed: %v", err)
			}
			if !reflect.DeepEqual(got, m) {
				t.Errorf("round trip mismatch:\n got %#v\nwant %#v", got, m)
			}
		})
	}
}

func TestDecode_InfoResponseFields(t *testing.T) {
	raw := []byte{
		0x01,
		0x01, 0x00, 0x0C, 0x00, // rpc 1.0.12
		0x01, 0x04, 0x74, 0x00, // firmware 1.4.116
		0x14, 0x00, // packet 20
		0xE8, 0x03, // message 1000
		0xBC, 0x01, // chunk 444
		0x81, 0x00,
	}
	m, err := Decode(raw)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	info, ok := m.(InfoResponse)
	if !ok {
		t.Fatalf("expected InfoResponse, got %T", m)
	}
	if info.MaxPacketSize != 20 || info.MaxMessageSize != 1000 || info.MaxChunkSize != 444 {
		t.Errorf("unexpected limits: %+v", info)
	}
	if info.FirmwareVersion.String() != "1.4.116" {
		t.Errorf("unexpected firmware version %s", info.FirmwareVersion)
	}
}

func TestDecode_Truncated(t *testing.T) {
	tests := []struct {
		name string
		raw  []byte
	}{
		{"empty", []byte{}},
		{"info response", []byte{0x01, 0x01, 0x00}},
		{"start upload", []byte{0x0C, 'a', 0x00, 0x01}},
		{"start upload no NUL", []byte{0x0C, 'a', 'b', 'c', 'd', 'e', 'f', 'g'}},
		{"chunk size past end", []byte{0x10, 0, 0, 0, 0, 0x05, 0x00, 0x01}},
		{"response without status", []byte{0x11}},
		{"device notification", []byte{0x3C, 0x04, 0x00, 0x00}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(tt.raw)
			if !errors.Is(err, ErrTruncatedMessage) {
				t.Errorf("expected ErrTruncatedMessage, got %v", err)
			}
		})
	}
}

func TestDecode_UnknownKind(t *testing.T) {
	_, err := Decode([]byte{0x99, 0x00})
	if !errors.Is(err, ErrUnknownMessageKind) {
		t.Errorf("expected ErrUnknownMessageKind, got %v", err)
	}
}

func TestDecode_ConsoleWithoutNUL(t *testing.T) {
	m, err := Decode([]byte{0x21, 'o', 'k'})
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if c := m.(ConsoleNotification); c.Text != "ok" {
		t.Errorf("expected text %q, got %q", "ok", c.Text)
	}
}

func TestMessageName(t *testing.T) {
	if MessageName(MsgClearSlotResponse) != "CLEAR_SLOT_RESPONSE" {
		t.Errorf("unexpected name %s", MessageName(MsgClearSlotResponse))
	}
	if MessageName(0x99) != "UNKNOWN_0x99" {
		t.Errorf("unexpected name %s", MessageName(0x99))
	}
}
