// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package spike

import (
	"fmt"
	"strings"
	"time"
)

// FormatMessage formats a message into a human-readable block: a header line
// with timestamp, kind name and identifier, followed by indented fields.
func FormatMessage(m Message, ts time.Time) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "[%s] %s (0x%02X)\n", ts.Format("15:04:05.000"), MessageName(m.ID()), uint8(m.ID()))
	sb.WriteString(FormatFields(m))
	return sb.String()
}

// FormatFields returns the indented field lines of a message.
func FormatFields(m Message) string {
	var sb strings.Builder
	line := func(format string, args ...interface{}) {
		sb.WriteString("  ")
		fmt.Fprintf(&sb, format, args...)
		sb.WriteString("\n")
	}

	switch v := m.(type) {
	case InfoResponse:
		line("RPC: %s, Firmware: %s", v.RPCVersion, v.FirmwareVersion)
		line("Max Packet: %d, Max Message: %d, Max Chunk: %d", v.MaxPacketSize, v.MaxMessageSize, v.MaxChunkSize)
		line("Product Group Device: 0x%04X", v.ProductGroupDevice)
	case StartFileUploadRequest:
		line("File: %q, Slot: %d, CRC: 0x%08X", v.FileName, v.Slot, v.CRC)
	case TransferChunkRequest:
		line("Running CRC: 0x%08X, Size: %d", v.RunningCRC, len(v.Payload))
	case ProgramFlowRequest:
		line("Action: %s, Slot: %d", flowAction(v.Stop), v.Slot)
	case ProgramFlowNotification:
		line("Program: %s", flowState(v.Stop))
	case ConsoleNotification:
		line("Text: %q", v.Text)
	case DeviceNotificationRequest:
		line("Interval: %d ms", v.IntervalMS)
	case TunnelMessage:
		line("Size: %d", len(v.Payload))
	case DeviceNotification:
		msgs, err := v.Messages()
		for _, dm := range msgs {
			line("%s", FormatDeviceMessage(dm))
		}
		if err != nil {
			line("Warning: %v", err)
		}
	case ClearSlotRequest:
		line("Slot: %d", v.Slot)
	case interface{ Success() bool }:
		line("Status: %v", v)
	}
	return sb.String()
}

// FormatDeviceMessage formats one device record on a single line.
func FormatDeviceMessage(m DeviceMessage) string {
	switch v := m.(type) {
	case DeviceBattery:
		return fmt.Sprintf("Battery: %d%%", v.Level)
	case DeviceIMU:
		return fmt.Sprintf("IMU: face=%d yaw=%d pitch=%d roll=%d accel=(%d,%d,%d) gyro=(%d,%d,%d)",
			v.FaceUp, v.Yaw, v.Pitch, v.Roll, v.AccelX, v.AccelY, v.AccelZ, v.GyroX, v.GyroY, v.GyroZ)
	case Device5x5Matrix:
		return fmt.Sprintf("Display: %v", v.Pixels)
	case DeviceMotor:
		return fmt.Sprintf("Port %s Motor: type=%d pos=%d abs=%d speed=%d power=%d",
			v.Port, v.DeviceType, v.Position, v.AbsolutePosition, v.Speed, v.Power)
	case DeviceForceSensor:
		return fmt.Sprintf("Port %s Force: value=%d pressed=%t", v.Port, v.Value, v.Pressed)
	case DeviceColorSensor:
		return fmt.Sprintf("Port %s Color: color=%d rgb=(%d,%d,%d)", v.Port, v.Color, v.Red, v.Green, v.Blue)
	case DeviceDistanceSensor:
		if v.Distance < 0 {
			return fmt.Sprintf("Port %s Distance: out of range", v.Port)
		}
		return fmt.Sprintf("Port %s Distance: %d mm", v.Port, v.Distance)
	case Device3x3ColorMatrix:
		return fmt.Sprintf("Port %s Color Matrix: %v", v.Port, v.Pixels)
	default:
		return fmt.Sprintf("%s: %+v", DeviceKindName(m.Kind()), m)
	}
}

// FormatDeviceSummary is the compact form used in table cells.
func FormatDeviceSummary(m DeviceMessage) string {
	switch v := m.(type) {
	case nil:
		return "-"
	case DeviceMotor:
		return fmt.Sprintf("pos %d, speed %d", v.Position, v.Speed)
	case DeviceForceSensor:
		if v.Pressed {
			return fmt.Sprintf("%d (pressed)", v.Value)
		}
		return fmt.Sprintf("%d", v.Value)
	case DeviceColorSensor:
		return fmt.Sprintf("color %d", v.Color)
	case DeviceDistanceSensor:
		if v.Distance < 0 {
			return "out of range"
		}
		return fmt.Sprintf("%d mm", v.Distance)
	case Device3x3ColorMatrix:
		return fmt.Sprintf("%v", v.Pixels)
	default:
		return FormatDeviceMessage(m)
	}
}

func flowAction(stop bool) string {
	if stop {
		return "stop"
	}
	return "start"
}

func flowState(stop bool) string {
	if stop {
		return "stopped"
	}
	return "running"
}
