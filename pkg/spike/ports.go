// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package spike

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Port is an external device port, 0-5, labelled A-F on the hub.
type Port uint8

// Hub ports
const (
	PortA Port = iota
	PortB
	PortC
	PortD
	PortE
	PortF
)

// Valid reports whether p names a physical port.
func (p Port) Valid() bool {
	return p < NumPorts
}

func (p Port) String() string {
	if !p.Valid() {
		return fmt.Sprintf("Port(%d)", uint8(p))
	}
	return string(rune('A' + p))
}

// MarshalText encodes the port as its letter.
func (p Port) MarshalText() ([]byte, error) {
	if !p.Valid() {
		return nil, fmt.Errorf("invalid port %d", uint8(p))
	}
	return []byte(p.String()), nil
}

// UnmarshalText parses a port letter.
func (p *Port) UnmarshalText(text []byte) error {
	parsed, err := ParsePort(string(text))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// ParsePort parses a port letter (case-insensitive) or index.
func ParsePort(s string) (Port, error) {
	s = strings.TrimSpace(strings.ToUpper(s))
	if len(s) == 1 {
		switch c := s[0]; {
		case c >= 'A' && c < 'A'+NumPorts:
			return Port(c - 'A'), nil
		case c >= '0' && c < '0'+NumPorts:
			return Port(c - '0'), nil
		}
	}
	return 0, fmt.Errorf("invalid port %q (want A-F)", s)
}

// PortState is a snapshot of every port and the hub-level sensors, built
// from a single device notification. A nil entry means no device reported.
type PortState struct {
	Ports   [NumPorts]DeviceMessage
	Battery *DeviceBattery
	IMU     *DeviceIMU
	Display *Device5x5Matrix
}

// ProjectPortState builds a fresh snapshot from the records of one
// notification. Earlier snapshots are never merged in: a port absent from
// msgs is reported empty. Records naming a port outside A-F are ignored.
func ProjectPortState(msgs []DeviceMessage) PortState {
	var s PortState
	for _, m := range msgs {
		switch v := m.(type) {
		case DeviceBattery:
			s.Battery = &v
		case DeviceIMU:
			s.IMU = &v
		case Device5x5Matrix:
			s.Display = &v
		default:
			if p, ok := PortOf(m); ok && p.Valid() {
				s.Ports[p] = m
			}
		}
	}
	return s
}

// Port returns the record for a port, or nil.
func (s PortState) Port(p Port) DeviceMessage {
	if !p.Valid() {
		return nil
	}
	return s.Ports[p]
}

// Attached returns the ports that have a device, in port order.
func (s PortState) Attached() []Port {
	var ports []Port
	for i, m := range s.Ports {
		if m != nil {
			ports = append(ports, Port(i))
		}
	}
	return ports
}

type portJSON struct {
	Kind string        `json:"kind"`
	Data DeviceMessage `json:"data"`
}

// MarshalJSON encodes the snapshot with ports keyed by letter.
func (s PortState) MarshalJSON() ([]byte, error) {
	ports := make(map[Port]*portJSON, NumPorts)
	for i, m := range s.Ports {
		if m == nil {
			ports[Port(i)] = nil
			continue
		}
		ports[Port(i)] = &portJSON{Kind: DeviceKindName(m.Kind()), Data: m}
	}
	return json.Marshal(struct {
		Battery *DeviceBattery     `json:"battery,omitempty"`
		IMU     *DeviceIMU         `json:"imu,omitempty"`
		Display *Device5x5Matrix   `json:"display,omitempty"`
		Ports   map[Port]*portJSON `json:"ports"`
	}{s.Battery, s.IMU, s.Display, ports})
}
