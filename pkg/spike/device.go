// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package spike

import (
	"encoding/binary"
	"fmt"
)

// DeviceMessage is one record inside a device notification.
type DeviceMessage interface {
	Kind() DeviceKind
	appendTo(b []byte) []byte
}

// portBound is implemented by records that describe a device on a port.
type portBound interface {
	port() Port
}

// PortOf returns the port a record describes. Hub-level records (battery,
// IMU, display) report false.
func PortOf(m DeviceMessage) (Port, bool) {
	if pb, ok := m.(portBound); ok {
		return pb.port(), true
	}
	return 0, false
}

// DeviceBattery reports the hub battery charge in percent.
type DeviceBattery struct {
	Level uint8 `json:"level"`
}

// DeviceIMU reports the hub orientation and motion sensors.
type DeviceIMU struct {
	FaceUp  uint8 `json:"faceUp"`
	YawFace uint8 `json:"yawFace"`
	Yaw     int16 `json:"yaw"`
	Pitch   int16 `json:"pitch"`
	Roll    int16 `json:"roll"`
	AccelX  int16 `json:"accelX"`
	AccelY  int16 `json:"accelY"`
	AccelZ  int16 `json:"accelZ"`
	GyroX   int16 `json:"gyroX"`
	GyroY   int16 `json:"gyroY"`
	GyroZ   int16 `json:"gyroZ"`
}

// Device5x5Matrix reports the hub's 5x5 light matrix brightness values.
type Device5x5Matrix struct {
	Pixels [25]uint8 `json:"pixels"`
}

// DeviceMotor reports a motor attached to a port.
type DeviceMotor struct {
	Port             Port  `json:"port"`
	DeviceType       uint8 `json:"deviceType"`
	AbsolutePosition int16 `json:"absolutePosition"`
	Power            int16 `json:"power"`
	Speed            int8  `json:"speed"`
	Position         int32 `json:"position"`
}

// DeviceForceSensor reports a force sensor attached to a port.
type DeviceForceSensor struct {
	Port    Port  `json:"port"`
	Value   uint8 `json:"value"`
	Pressed bool  `json:"pressed"`
}

// DeviceColorSensor reports a color sensor attached to a port.
// Color is -1 when no color is detected.
type DeviceColorSensor struct {
	Port  Port   `json:"port"`
	Color int8   `json:"color"`
	Red   uint16 `json:"red"`
	Green uint16 `json:"green"`
	Blue  uint16 `json:"blue"`
}

// DeviceDistanceSensor reports a distance sensor attached to a port.
// Distance is in millimetres, -1 when nothing is in range.
type DeviceDistanceSensor struct {
	Port     Port  `json:"port"`
	Distance int16 `json:"distance"`
}

// Device3x3ColorMatrix reports a 3x3 color light matrix attached to a port.
type Device3x3ColorMatrix struct {
	Port   Port     `json:"port"`
	Pixels [9]uint8 `json:"pixels"`
}

func (DeviceBattery) Kind() DeviceKind        { return DeviceBatteryKind }
func (DeviceIMU) Kind() DeviceKind            { return DeviceIMUKind }
func (Device5x5Matrix) Kind() DeviceKind      { return Device5x5MatrixKind }
func (DeviceMotor) Kind() DeviceKind          { return DeviceMotorKind }
func (DeviceForceSensor) Kind() DeviceKind    { return DeviceForceSensorKind }
func (DeviceColorSensor) Kind() DeviceKind    { return DeviceColorSensorKind }
func (DeviceDistanceSensor) Kind() DeviceKind { return DeviceDistanceSensorKind }
func (Device3x3ColorMatrix) Kind() DeviceKind { return Device3x3ColorMatrixKind }

func (m DeviceMotor) port() Port          { return m.Port }
func (m DeviceForceSensor) port() Port    { return m.Port }
func (m DeviceColorSensor) port() Port    { return m.Port }
func (m DeviceDistanceSensor) port() Port { return m.Port }
func (m Device3x3ColorMatrix) port() Port { return m.Port }

func (m DeviceBattery) appendTo(b []byte) []byte {
	return append(b, byte(DeviceBatteryKind), m.Level)
}

func (m DeviceIMU) appendTo(b []byte) []byte {
	b = append(b, byte(DeviceIMUKind), m.FaceUp, m.YawFace)
	for _, v := range []int16{m.Yaw, m.Pitch, m.Roll, m.AccelX, m.AccelY, m.AccelZ, m.GyroX, m.GyroY, m.GyroZ} {
		b = binary.LittleEndian.AppendUint16(b, uint16(v))
	}
	return b
}

func (m Device5x5Matrix) appendTo(b []byte) []byte {
	b = append(b, byte(Device5x5MatrixKind))
	return append(b, m.Pixels[:]...)
}

func (m DeviceMotor) appendTo(b []byte) []byte {
	b = append(b, byte(DeviceMotorKind), byte(m.Port), m.DeviceType)
	b = binary.LittleEndian.AppendUint16(b, uint16(m.AbsolutePosition))
	b = binary.LittleEndian.AppendUint16(b, uint16(m.Power))
	b = append(b, byte(m.Speed))
	return binary.LittleEndian.AppendUint32(b, uint32(m.Position))
}

func (m DeviceForceSensor) appendTo(b []byte) []byte {
	return append(b, byte(DeviceForceSensorKind), byte(m.Port), m.Value, boolByte(m.Pressed))
}

func (m DeviceColorSensor) appendTo(b []byte) []byte {
	b = append(b, byte(DeviceColorSensorKind), byte(m.Port), byte(m.Color))
	b = binary.LittleEndian.AppendUint16(b, m.Red)
	b = binary.LittleEndian.AppendUint16(b, m.Green)
	return binary.LittleEndian.AppendUint16(b, m.Blue)
}

func (m DeviceDistanceSensor) appendTo(b []byte) []byte {
	b = append(b, byte(DeviceDistanceSensorKind), byte(m.Port))
	return binary.LittleEndian.AppendUint16(b, uint16(m.Distance))
}

func (m Device3x3ColorMatrix) appendTo(b []byte) []byte {
	b = append(b, byte(Device3x3ColorMatrixKind), byte(m.Port))
	return append(b, m.Pixels[:]...)
}

type deviceLayout struct {
	name   string
	size   int
	decode func(p []byte) DeviceMessage
}

var deviceLayouts = map[DeviceKind]deviceLayout{
	DeviceBatteryKind: {"battery", deviceBatterySize, func(p []byte) DeviceMessage {
		return DeviceBattery{Level: p[0]}
	}},
	DeviceIMUKind: {"imu", deviceIMUSize, func(p []byte) DeviceMessage {
		s := func(i int) int16 { return int16(binary.LittleEndian.Uint16(p[2+2*i:])) }
		return DeviceIMU{
			FaceUp: p[0], YawFace: p[1],
			Yaw: s(0), Pitch: s(1), Roll: s(2),
			AccelX: s(3), AccelY: s(4), AccelZ: s(5),
			GyroX: s(6), GyroY: s(7), GyroZ: s(8),
		}
	}},
	Device5x5MatrixKind: {"matrix5x5", device5x5MatrixSize, func(p []byte) DeviceMessage {
		var m Device5x5Matrix
		copy(m.Pixels[:], p)
		return m
	}},
	DeviceMotorKind: {"motor", deviceMotorSize, func(p []byte) DeviceMessage {
		return DeviceMotor{
			Port:             Port(p[0]),
			DeviceType:       p[1],
			AbsolutePosition: int16(binary.LittleEndian.Uint16(p[2:4])),
			Power:            int16(binary.LittleEndian.Uint16(p[4:6])),
			Speed:            int8(p[6]),
			Position:         int32(binary.LittleEndian.Uint32(p[7:11])),
		}
	}},
	DeviceForceSensorKind: {"force", deviceForceSensorSize, func(p []byte) DeviceMessage {
		return DeviceForceSensor{Port: Port(p[0]), Value: p[1], Pressed: p[2] != 0}
	}},
	DeviceColorSensorKind: {"color", deviceColorSensorSize, func(p []byte) DeviceMessage {
		return DeviceColorSensor{
			Port:  Port(p[0]),
			Color: int8(p[1]),
			Red:   binary.LittleEndian.Uint16(p[2:4]),
			Green: binary.LittleEndian.Uint16(p[4:6]),
			Blue:  binary.LittleEndian.Uint16(p[6:8]),
		}
	}},
	DeviceDistanceSensorKind: {"distance", deviceDistanceSensorSize, func(p []byte) DeviceMessage {
		return DeviceDistanceSensor{Port: Port(p[0]), Distance: int16(binary.LittleEndian.Uint16(p[1:3]))}
	}},
	Device3x3ColorMatrixKind: {"matrix3x3", device3x3ColorMatrixSize, func(p []byte) DeviceMessage {
		m := Device3x3ColorMatrix{Port: Port(p[0])}
		copy(m.Pixels[:], p[1:])
		return m
	}},
}

// DeviceKindName returns the short display name of a device record kind.
func DeviceKindName(k DeviceKind) string {
	if l, ok := deviceLayouts[k]; ok {
		return l.name
	}
	return fmt.Sprintf("unknown_0x%02X", uint8(k))
}

// DecodeDeviceMessages walks the records of a device notification payload.
// Decoding stops at the first unknown kind or short record; the records
// decoded before that point are returned together with ErrUnknownDeviceMessage
// or ErrTruncatedMessage. Callers may use the partial result.
func DecodeDeviceMessages(payload []byte) ([]DeviceMessage, error) {
	var msgs []DeviceMessage
	for off := 0; off < len(payload); {
		kind := DeviceKind(payload[off])
		l, ok := deviceLayouts[kind]
		if !ok {
			return msgs, fmt.Errorf("%w: kind 0x%02X at offset %d", ErrUnknownDeviceMessage, uint8(kind), off)
		}
		body := payload[off+1:]
		if len(body) < l.size {
			return msgs, fmt.Errorf("%w: %s record needs %d bytes, got %d", ErrTruncatedMessage, l.name, l.size, len(body))
		}
		msgs = append(msgs, l.decode(body[:l.size]))
		off += 1 + l.size
	}
	return msgs, nil
}

// EncodeDeviceMessages serializes records into a device notification payload.
func EncodeDeviceMessages(msgs ...DeviceMessage) []byte {
	var b []byte
	for _, m := range msgs {
		b = m.appendTo(b)
	}
	return b
}

// NewDeviceNotification builds a device notification from records.
func NewDeviceNotification(msgs ...DeviceMessage) DeviceNotification {
	return DeviceNotification{Payload: EncodeDeviceMessages(msgs...)}
}
