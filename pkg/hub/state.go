// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package hub

import "github.com/Thermoquad/spikelink/pkg/spike"

// State is the connection lifecycle state of a Client.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateInitializing
	StateReady
	StateDisconnecting
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "DISCONNECTED"
	case StateConnecting:
		return "CONNECTING"
	case StateInitializing:
		return "INITIALIZING"
	case StateReady:
		return "READY"
	case StateDisconnecting:
		return "DISCONNECTING"
	default:
		return "UNKNOWN"
	}
}

// Capabilities are the hub limits learned during initialization. They are
// valid only while the link that produced them is up.
type Capabilities struct {
	RPCVersion         spike.Version `json:"rpcVersion"`
	FirmwareVersion    spike.Version `json:"firmwareVersion"`
	MaxPacketSize      uint16        `json:"maxPacketSize"`
	MaxMessageSize     uint16        `json:"maxMessageSize"`
	MaxChunkSize       uint16        `json:"maxChunkSize"`
	ProductGroupDevice uint16        `json:"productGroupDevice"`
}

func capabilitiesFrom(info spike.InfoResponse) Capabilities {
	return Capabilities{
		RPCVersion:         info.RPCVersion,
		FirmwareVersion:    info.FirmwareVersion,
		MaxPacketSize:      info.MaxPacketSize,
		MaxMessageSize:     info.MaxMessageSize,
		MaxChunkSize:       info.MaxChunkSize,
		ProductGroupDevice: info.ProductGroupDevice,
	}
}
