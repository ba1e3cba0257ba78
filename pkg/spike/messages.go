// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package spike

import (
	"encoding/binary"
	"fmt"
	"strings"
	"unicode/utf8"
)

// Message is one protocol message. Every concrete message type in this
// package implements it.
type Message interface {
	ID() MessageID
	appendPayload(b []byte) ([]byte, error)
}

// Status is the result byte carried by every response.
type Status uint8

// Success reports whether the hub acknowledged the request.
func (s Status) Success() bool {
	return s == StatusAck
}

func (s Status) String() string {
	if s.Success() {
		return "ACK"
	}
	return fmt.Sprintf("NACK(0x%02X)", uint8(s))
}

// Version is a major.minor.build triple.
type Version struct {
	Major uint8
	Minor uint8
	Build uint16
}

func (v Version) String() string {
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Build)
}

///////////////////////////////////////////////////////////////////////////////
// Capabilities
///////////////////////////////////////////////////////////////////////////////

// InfoRequest asks the hub for its versions and transfer limits.
type InfoRequest struct{}

func (InfoRequest) ID() MessageID { return MsgInfoRequest }

func (InfoRequest) appendPayload(b []byte) ([]byte, error) { return b, nil }

// InfoResponse carries the hub's versions and transfer limits.
type InfoResponse struct {
	RPCVersion         Version
	FirmwareVersion    Version
	MaxPacketSize      uint16
	MaxMessageSize     uint16
	MaxChunkSize       uint16
	ProductGroupDevice uint16
}

func (InfoResponse) ID() MessageID { return MsgInfoResponse }

func (m InfoResponse) appendPayload(b []byte) ([]byte, error) {
	b = appendVersion(b, m.RPCVersion)
	b = appendVersion(b, m.FirmwareVersion)
	b = binary.LittleEndian.AppendUint16(b, m.MaxPacketSize)
	b = binary.LittleEndian.AppendUint16(b, m.MaxMessageSize)
	b = binary.LittleEndian.AppendUint16(b, m.MaxChunkSize)
	b = binary.LittleEndian.AppendUint16(b, m.ProductGroupDevice)
	return b, nil
}

///////////////////////////////////////////////////////////////////////////////
// File transfer
///////////////////////////////////////////////////////////////////////////////

// StartFileUploadRequest opens a transfer of a file into a program slot.
// CRC is the aligned checksum of the complete file.
type StartFileUploadRequest struct {
	FileName string
	Slot     uint8
	CRC      uint32
}

func (StartFileUploadRequest) ID() MessageID { return MsgStartFileUploadRequest }

func (m StartFileUploadRequest) appendPayload(b []byte) ([]byte, error) {
	if len(m.FileName) > MaxFileNameSize {
		return nil, fmt.Errorf("%w: file name %q is %d bytes (max %d)", ErrEncoding, m.FileName, len(m.FileName), MaxFileNameSize)
	}
	if strings.IndexByte(m.FileName, 0x00) >= 0 || !utf8.ValidString(m.FileName) {
		return nil, fmt.Errorf("%w: file name %q is not valid UTF-8 without NUL", ErrEncoding, m.FileName)
	}
	b = append(b, m.FileName...)
	b = append(b, 0x00, m.Slot)
	b = binary.LittleEndian.AppendUint32(b, m.CRC)
	return b, nil
}

// StartFileUploadResponse acknowledges or rejects an upload.
type StartFileUploadResponse struct{ Status }

func (StartFileUploadResponse) ID() MessageID { return MsgStartFileUploadResponse }

func (m StartFileUploadResponse) appendPayload(b []byte) ([]byte, error) {
	return append(b, byte(m.Status)), nil
}

// TransferChunkRequest carries one chunk of the file being uploaded.
// RunningCRC is the aligned checksum of all bytes sent so far, this chunk
// included.
type TransferChunkRequest struct {
	RunningCRC uint32
	Payload    []byte
}

func (TransferChunkRequest) ID() MessageID { return MsgTransferChunkRequest }

func (m TransferChunkRequest) appendPayload(b []byte) ([]byte, error) {
	b = binary.LittleEndian.AppendUint32(b, m.RunningCRC)
	return appendSized(b, m.Payload)
}

// TransferChunkResponse acknowledges or rejects a chunk.
type TransferChunkResponse struct{ Status }

func (TransferChunkResponse) ID() MessageID { return MsgTransferChunkResponse }

func (m TransferChunkResponse) appendPayload(b []byte) ([]byte, error) {
	return append(b, byte(m.Status)), nil
}

///////////////////////////////////////////////////////////////////////////////
// Program flow
///////////////////////////////////////////////////////////////////////////////

// ProgramFlowRequest starts (Stop=false) or stops the program in a slot.
type ProgramFlowRequest struct {
	Stop bool
	Slot uint8
}

func (ProgramFlowRequest) ID() MessageID { return MsgProgramFlowRequest }

func (m ProgramFlowRequest) appendPayload(b []byte) ([]byte, error) {
	return append(b, boolByte(m.Stop), m.Slot), nil
}

// ProgramFlowResponse acknowledges or rejects a program flow request.
type ProgramFlowResponse struct{ Status }

func (ProgramFlowResponse) ID() MessageID { return MsgProgramFlowResponse }

func (m ProgramFlowResponse) appendPayload(b []byte) ([]byte, error) {
	return append(b, byte(m.Status)), nil
}

// ProgramFlowNotification reports that a program started or stopped on the
// hub, whoever requested it.
type ProgramFlowNotification struct {
	Stop bool
}

func (ProgramFlowNotification) ID() MessageID { return MsgProgramFlowNotification }

func (m ProgramFlowNotification) appendPayload(b []byte) ([]byte, error) {
	return append(b, boolByte(m.Stop)), nil
}

// ConsoleNotification carries text printed by the running program.
type ConsoleNotification struct {
	Text string
}

func (ConsoleNotification) ID() MessageID { return MsgConsoleNotification }

func (m ConsoleNotification) appendPayload(b []byte) ([]byte, error) {
	b = append(b, m.Text...)
	return append(b, 0x00), nil
}

///////////////////////////////////////////////////////////////////////////////
// Telemetry
///////////////////////////////////////////////////////////////////////////////

// DeviceNotificationRequest enables periodic device notifications.
// An interval of zero disables them.
type DeviceNotificationRequest struct {
	IntervalMS uint16
}

func (DeviceNotificationRequest) ID() MessageID { return MsgDeviceNotificationRequest }

func (m DeviceNotificationRequest) appendPayload(b []byte) ([]byte, error) {
	return binary.LittleEndian.AppendUint16(b, m.IntervalMS), nil
}

// DeviceNotificationResponse acknowledges or rejects the enable request.
type DeviceNotificationResponse struct{ Status }

func (DeviceNotificationResponse) ID() MessageID { return MsgDeviceNotificationResponse }

func (m DeviceNotificationResponse) appendPayload(b []byte) ([]byte, error) {
	return append(b, byte(m.Status)), nil
}

// DeviceNotification bundles device records for the hub and every port.
type DeviceNotification struct {
	Payload []byte
}

func (DeviceNotification) ID() MessageID { return MsgDeviceNotification }

func (m DeviceNotification) appendPayload(b []byte) ([]byte, error) {
	return appendSized(b, m.Payload)
}

// Messages decodes the bundled device records.
// See DecodeDeviceMessages for the partial-result contract.
func (m DeviceNotification) Messages() ([]DeviceMessage, error) {
	return DecodeDeviceMessages(m.Payload)
}

// TunnelMessage carries opaque bytes between the client and the running
// program.
type TunnelMessage struct {
	Payload []byte
}

func (TunnelMessage) ID() MessageID { return MsgTunnelMessage }

func (m TunnelMessage) appendPayload(b []byte) ([]byte, error) {
	return appendSized(b, m.Payload)
}

///////////////////////////////////////////////////////////////////////////////
// Slots
///////////////////////////////////////////////////////////////////////////////

// ClearSlotRequest erases the program stored in a slot.
type ClearSlotRequest struct {
	Slot uint8
}

func (ClearSlotRequest) ID() MessageID { return MsgClearSlotRequest }

func (m ClearSlotRequest) appendPayload(b []byte) ([]byte, error) {
	return append(b, m.Slot), nil
}

// ClearSlotResponse acknowledges the erase. Hubs NACK an already empty slot.
type ClearSlotResponse struct{ Status }

func (ClearSlotResponse) ID() MessageID { return MsgClearSlotResponse }

func (m ClearSlotResponse) appendPayload(b []byte) ([]byte, error) {
	return append(b, byte(m.Status)), nil
}

///////////////////////////////////////////////////////////////////////////////
// Helpers
///////////////////////////////////////////////////////////////////////////////

func appendVersion(b []byte, v Version) []byte {
	b = append(b, v.Major, v.Minor)
	return binary.LittleEndian.AppendUint16(b, v.Build)
}

func readVersion(p []byte) Version {
	return Version{Major: p[0], Minor: p[1], Build: binary.LittleEndian.Uint16(p[2:4])}
}

// appendSized appends a u16 length prefix and data.
func appendSized(b, data []byte) ([]byte, error) {
	if len(data) > 0xFFFF {
		return nil, fmt.Errorf("%w: payload of %d bytes exceeds u16 length", ErrEncoding, len(data))
	}
	b = binary.LittleEndian.AppendUint16(b, uint16(len(data)))
	return append(b, data...), nil
}

func boolByte(v bool) byte {
	if v {
		return 1
	}
	return 0
}
