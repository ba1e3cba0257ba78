// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package spike

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// layout describes how to decode one message kind. minSize excludes the
// identifier byte.
type layout struct {
	name    string
	minSize int
	decode  func(p []byte) (Message, error)
}

var layouts = map[MessageID]layout{
	MsgInfoRequest: {"INFO_REQUEST", 0, func(p []byte) (Message, error) {
		return InfoRequest{}, nil
	}},
	MsgInfoResponse: {"INFO_RESPONSE", 16, func(p []byte) (Message, error) {
		return InfoResponse{
			RPCVersion:         readVersion(p[0:4]),
			FirmwareVersion:    readVersion(p[4:8]),
			MaxPacketSize:      binary.LittleEndian.Uint16(p[8:10]),
			MaxMessageSize:     binary.LittleEndian.Uint16(p[10:12]),
			MaxChunkSize:       binary.LittleEndian.Uint16(p[12:14]),
			ProductGroupDevice: binary.LittleEndian.Uint16(p[14:16]),
		}, nil
	}},
	MsgStartFileUploadRequest: {"START_FILE_UPLOAD_REQUEST", 6, decodeStartFileUpload},
	MsgStartFileUploadResponse: {"START_FILE_UPLOAD_RESPONSE", 1, func(p []byte) (Message, error) {
		return StartFileUploadResponse{Status(p[0])}, nil
	}},
	MsgTransferChunkRequest: {"TRANSFER_CHUNK_REQUEST", 6, func(p []byte) (Message, error) {
		payload, err := readSized(p[4:])
		if err != nil {
			return nil, err
		}
		return TransferChunkRequest{RunningCRC: binary.LittleEndian.Uint32(p[0:4]), Payload: payload}, nil
	}},
	MsgTransferChunkResponse: {"TRANSFER_CHUNK_RESPONSE", 1, func(p []byte) (Message, error) {
		return TransferChunkResponse{Status(p[0])}, nil
	}},
	MsgProgramFlowRequest: {"PROGRAM_FLOW_REQUEST", 2, func(p []byte) (Message, error) {
		return ProgramFlowRequest{Stop: p[0] != 0, Slot: p[1]}, nil
	}},
	MsgProgramFlowResponse: {"PROGRAM_FLOW_RESPONSE", 1, func(p []byte) (Message, error) {
		return ProgramFlowResponse{Status(p[0])}, nil
	}},
	MsgProgramFlowNotification: {"PROGRAM_FLOW_NOTIFICATION", 1, func(p []byte) (Message, error) {
		return ProgramFlowNotification{Stop: p[0] != 0}, nil
	}},
	MsgConsoleNotification: {"CONSOLE_NOTIFICATION", 0, func(p []byte) (Message, error) {
		if i := bytes.IndexByte(p, 0x00); i >= 0 {
			p = p[:i]
		}
		return ConsoleNotification{Text: string(p)}, nil
	}},
	MsgDeviceNotificationRequest: {"DEVICE_NOTIFICATION_REQUEST", 2, func(p []byte) (Message, error) {
		return DeviceNotificationRequest{IntervalMS: binary.LittleEndian.Uint16(p)}, nil
	}},
	MsgDeviceNotificationResponse: {"DEVICE_NOTIFICATION_RESPONSE", 1, func(p []byte) (Message, error) {
		return DeviceNotificationResponse{Status(p[0])}, nil
	}},
	MsgTunnelMessage: {"TUNNEL_MESSAGE", 2, func(p []byte) (Message, error) {
		payload, err := readSized(p)
		if err != nil {
			return nil, err
		}
		return TunnelMessage{Payload: payload}, nil
	}},
	MsgDeviceNotification: {"DEVICE_NOTIFICATION", 2, func(p []byte) (Message, error) {
		payload, err := readSized(p)
		if err != nil {
			return nil, err
		}
		return DeviceNotification{Payload: payload}, nil
	}},
	MsgClearSlotRequest: {"CLEAR_SLOT_REQUEST", 1, func(p []byte) (Message, error) {
		return ClearSlotRequest{Slot: p[0]}, nil
	}},
	MsgClearSlotResponse: {"CLEAR_SLOT_RESPONSE", 1, func(p []byte) (Message, error) {
		return ClearSlotResponse{Status(p[0])}, nil
	}},
}

// Encode serializes a message: identifier byte followed by its layout.
func Encode(m Message) ([]byte, error) {
	b, err := m.appendPayload([]byte{byte(m.ID())})
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s: %w", MessageName(m.ID()), err)
	}
	return b, nil
}

// MustEncode is like Encode but panics on error. Intended for tests and
// messages built from constants.
func MustEncode(m Message) []byte {
	b, err := Encode(m)
	if err != nil {
		panic(err)
	}
	return b
}

// Decode parses one unpacked message. Trailing bytes beyond the layout are
// ignored.
func Decode(b []byte) (Message, error) {
	if len(b) == 0 {
		return nil, fmt.Errorf("%w: empty message", ErrTruncatedMessage)
	}
	id := MessageID(b[0])
	l, ok := layouts[id]
	if !ok {
		return nil, fmt.Errorf("%w: 0x%02X", ErrUnknownMessageKind, b[0])
	}
	p := b[1:]
	if len(p) < l.minSize {
		return nil, fmt.Errorf("%w: %s needs %d bytes, got %d", ErrTruncatedMessage, l.name, l.minSize, len(p))
	}
	m, err := l.decode(p)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", l.name, err)
	}
	return m, nil
}

// DecodeFrame unpacks and decodes one wire frame.
func DecodeFrame(frame []byte) (Message, error) {
	payload, err := Unpack(frame)
	if err != nil {
		return nil, err
	}
	return Decode(payload)
}

// EncodeFrame encodes and packs a message into one wire frame.
func EncodeFrame(m Message) ([]byte, error) {
	payload, err := Encode(m)
	if err != nil {
		return nil, err
	}
	return Pack(payload), nil
}

// MessageName returns the display name of a message kind.
func MessageName(id MessageID) string {
	if l, ok := layouts[id]; ok {
		return l.name
	}
	return fmt.Sprintf("UNKNOWN_0x%02X", uint8(id))
}

// IsKnown reports whether id has a registered layout.
func IsKnown(id MessageID) bool {
	_, ok := layouts[id]
	return ok
}

func decodeStartFileUpload(p []byte) (Message, error) {
	n := bytes.IndexByte(p, 0x00)
	if n < 0 {
		return nil, fmt.Errorf("%w: unterminated file name", ErrTruncatedMessage)
	}
	rest := p[n+1:]
	if len(rest) < 5 {
		return nil, fmt.Errorf("%w: need slot and crc after file name, got %d bytes", ErrTruncatedMessage, len(rest))
	}
	return StartFileUploadRequest{
		FileName: string(p[:n]),
		Slot:     rest[0],
		CRC:      binary.LittleEndian.Uint32(rest[1:5]),
	}, nil
}

// readSized reads a u16 length prefix and that many bytes.
func readSized(p []byte) ([]byte, error) {
	size := int(binary.LittleEndian.Uint16(p))
	if len(p)-2 < size {
		return nil, fmt.Errorf("%w: declared %d bytes, have %d", ErrTruncatedMessage, size, len(p)-2)
	}
	out := make([]byte, size)
	copy(out, p[2:2+size])
	return out, nil
}
