// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package hub

import (
	"time"

	"github.com/Thermoquad/spikelink/pkg/spike"
	"go.uber.org/zap"
)

// Config holds client settings. Zero fields take the DefaultConfig value.
type Config struct {
	// RequestTimeout bounds the wait for each response.
	RequestTimeout time.Duration

	// NotificationInterval is the device notification period in
	// milliseconds requested during initialization.
	NotificationInterval uint16

	Reconnect ReconnectConfig

	Logger *zap.Logger

	// Tap, if set, receives every frame sent or received, before
	// decoding. It runs on the I/O path and must not block.
	Tap func(dir spike.Direction, frame []byte)
}

// ReconnectConfig bounds automatic reconnection after an unexpected link
// loss. MaxAttempts of zero disables it. An explicit Disconnect never
// triggers it.
type ReconnectConfig struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// DefaultConfig returns the default client settings.
func DefaultConfig() Config {
	return Config{
		RequestTimeout:       5 * time.Second,
		NotificationInterval: spike.DefaultInterval,
		Reconnect: ReconnectConfig{
			MaxAttempts:    0,
			InitialBackoff: time.Second,
			MaxBackoff:     30 * time.Second,
		},
		Logger: zap.NewNop(),
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = d.RequestTimeout
	}
	if c.NotificationInterval == 0 {
		c.NotificationInterval = d.NotificationInterval
	}
	if c.Reconnect.InitialBackoff <= 0 {
		c.Reconnect.InitialBackoff = d.Reconnect.InitialBackoff
	}
	if c.Reconnect.MaxBackoff <= 0 {
		c.Reconnect.MaxBackoff = d.Reconnect.MaxBackoff
	}
	if c.Logger == nil {
		c.Logger = d.Logger
	}
	return c
}
