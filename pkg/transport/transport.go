// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package transport provides the packet links a hub client runs over: BLE,
// USB serial, a WebSocket bridge and an in-process simulated hub.
//
// A link moves opaque packets. Framing, reassembly and packet sizing are the
// caller's concern.
package transport

import (
	"context"
	"errors"
	"sync"
)

var (
	// ErrDeviceNotFound is returned when no hub answers a scan in time.
	ErrDeviceNotFound = errors.New("no hub found")

	// ErrServiceNotFound is returned when the hub lacks the protocol service.
	ErrServiceNotFound = errors.New("protocol service not found")

	// ErrCharacteristicMissing is returned when the write or notify
	// characteristic cannot be resolved.
	ErrCharacteristicMissing = errors.New("required characteristic missing")

	// ErrNotifyUnsupported is returned when notifications cannot be enabled.
	ErrNotifyUnsupported = errors.New("notifications not supported")

	// ErrClosed is reported by Err after Close.
	ErrClosed = errors.New("link closed")
)

// Dialer opens a link to a hub.
type Dialer interface {
	// Dial connects, resolves both data characteristics and subscribes to
	// notifications. The returned Conn is ready for traffic.
	Dial(ctx context.Context) (Conn, error)

	// String describes the target for logs and status output.
	String() string
}

// Conn is an open packet link.
type Conn interface {
	// WritePacket sends one packet. The caller bounds its size.
	WritePacket(p []byte) error

	// Packets delivers incoming packets in arrival order. It is never
	// closed; select on Done to detect link loss.
	Packets() <-chan []byte

	// Done is closed when the link is lost or closed.
	Done() <-chan struct{}

	// Err returns the reason Done was closed, or nil while open.
	Err() error

	Close() error
}

// packetQueue is the inbound half shared by every link implementation.
type packetQueue struct {
	packets chan []byte
	done    chan struct{}
	once    sync.Once

	mu  sync.Mutex
	err error
}

func newPacketQueue() *packetQueue {
	return &packetQueue{
		packets: make(chan []byte, 64),
		done:    make(chan struct{}),
	}
}

// deliver copies p and queues it. Packets arriving after shutdown are dropped.
func (q *packetQueue) deliver(p []byte) {
	cp := make([]byte, len(p))
	copy(cp, p)
	select {
	case q.packets <- cp:
	case <-q.done:
	}
}

// fail records the first shutdown cause and releases Done.
func (q *packetQueue) fail(err error) {
	q.once.Do(func() {
		q.mu.Lock()
		q.err = err
		q.mu.Unlock()
		close(q.done)
	})
}

func (q *packetQueue) Packets() <-chan []byte { return q.packets }

func (q *packetQueue) Done() <-chan struct{} { return q.done }

func (q *packetQueue) Err() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.err
}

func (q *packetQueue) closed() bool {
	select {
	case <-q.done:
		return true
	default:
		return false
	}
}
