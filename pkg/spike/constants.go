// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package spike implements the wire layer of the SPIKE Prime hub protocol.
//
// Messages are little-endian binary records identified by a one-byte kind.
// Each message is COBS-style stuffed so the frame delimiter never appears
// inside it, XOR-masked and terminated with the delimiter byte. This package
// provides framing, frame reassembly, the CRC-32 used for file transfers,
// the message codec and the device notification decoder.
package spike

// MessageID is the one-byte kind identifier that leads every message.
type MessageID uint8

// Framing bytes
const (
	Delimiter    = 0x02 // end of frame
	NoDelimiter  = 0xFF // code word: block carries no escaped byte
	PriorityByte = 0x01 // optional first byte of a received frame
	CodeOffset   = Delimiter
	MaxBlockSize = 84 // including the code word
	FrameXor     = 0x03
)

// Frame buffer limits
const (
	// MaxFrameSize bounds how many bytes an Assembler buffers while waiting
	// for a delimiter.
	MaxFrameSize = 64 * 1024

	// MaxFileNameSize is the largest encoded file name, excluding the NUL.
	MaxFileNameSize = 31
)

// GATT identifiers
const (
	ServiceUUID     = "0000fd02-0000-1000-8000-00805f9b34fb"
	RxCharUUID      = "0000fd02-0001-1000-8000-00805f9b34fb" // hub receives, client writes
	TxCharUUID      = "0000fd02-0002-1000-8000-00805f9b34fb" // hub transmits, client subscribes
	DefaultInterval = 5000                                   // device notification interval (ms)
)

// Message kinds - capabilities exchange
const (
	MsgInfoRequest  MessageID = 0x00
	MsgInfoResponse MessageID = 0x01
)

// Message kinds - file transfer
const (
	MsgStartFileUploadRequest  MessageID = 0x0C
	MsgStartFileUploadResponse MessageID = 0x0D
	MsgTransferChunkRequest    MessageID = 0x10
	MsgTransferChunkResponse   MessageID = 0x11
)

// Message kinds - program flow and console
const (
	MsgProgramFlowRequest      MessageID = 0x1E
	MsgProgramFlowResponse     MessageID = 0x1F
	MsgProgramFlowNotification MessageID = 0x20
	MsgConsoleNotification     MessageID = 0x21
)

// Message kinds - telemetry and tunnel
const (
	MsgDeviceNotificationRequest  MessageID = 0x28
	MsgDeviceNotificationResponse MessageID = 0x29
	MsgTunnelMessage              MessageID = 0x32
	MsgDeviceNotification         MessageID = 0x3C
)

// Message kinds - slot management
const (
	MsgClearSlotRequest  MessageID = 0x46
	MsgClearSlotResponse MessageID = 0x47
)

// Response status
const (
	StatusAck  = 0x00
	StatusNack = 0x01
)

// DeviceKind identifies one record inside a device notification.
type DeviceKind uint8

// Device notification records
const (
	DeviceBatteryKind        DeviceKind = 0x00
	DeviceIMUKind            DeviceKind = 0x01
	Device5x5MatrixKind      DeviceKind = 0x02
	DeviceMotorKind          DeviceKind = 0x0A
	DeviceForceSensorKind    DeviceKind = 0x0B
	DeviceColorSensorKind    DeviceKind = 0x0C
	DeviceDistanceSensorKind DeviceKind = 0x0D
	Device3x3ColorMatrixKind DeviceKind = 0x0E
)

// Device record body sizes, excluding the kind byte
const (
	deviceBatterySize        = 1
	deviceIMUSize            = 20
	device5x5MatrixSize      = 25
	deviceMotorSize          = 11
	deviceForceSensorSize    = 3
	deviceColorSensorSize    = 8
	deviceDistanceSensorSize = 3
	device3x3ColorMatrixSize = 10
)

// NumPorts is the number of external device ports (A-F).
const NumPorts = 6

// Direction tells which way a frame travelled.
type Direction uint8

// Frame directions
const (
	DirTX Direction = iota // client to hub
	DirRX                  // hub to client
)

func (d Direction) String() string {
	if d == DirTX {
		return "TX"
	}
	return "RX"
}
