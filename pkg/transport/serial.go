// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package transport

import (
	"context"
	"fmt"

	"go.bug.st/serial"
)

// SerialDialer opens the hub's USB CDC port. The hub speaks the same framed
// protocol there as over BLE.
type SerialDialer struct {
	PortName string
	BaudRate int
}

func (d SerialDialer) String() string {
	return fmt.Sprintf("Serial: %s @ %d baud", d.PortName, d.BaudRate)
}

// Dial opens the port and starts the read loop.
func (d SerialDialer) Dial(ctx context.Context) (Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	mode := &serial.Mode{
		BaudRate: d.BaudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	port, err := serial.Open(d.PortName, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", d.PortName, err)
	}

	c := &serialConn{packetQueue: newPacketQueue(), port: port}
	go c.readLoop()
	return c, nil
}

// ListSerialPorts returns the serial ports present on this machine.
func ListSerialPorts() ([]string, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return nil, fmt.Errorf("failed to list serial ports: %w", err)
	}
	return ports, nil
}

type serialConn struct {
	*packetQueue
	port serial.Port
}

func (c *serialConn) readLoop() {
	buf := make([]byte, 256)
	for {
		n, err := c.port.Read(buf)
		if err != nil {
			c.fail(fmt.Errorf("serial read failed: %w", err))
			return
		}
		if n > 0 {
			c.deliver(buf[:n])
		}
	}
}

func (c *serialConn) WritePacket(p []byte) error {
	if c.closed() {
		return ErrClosed
	}
	if _, err := c.port.Write(p); err != nil {
		return fmt.Errorf("serial write failed: %w", err)
	}
	return nil
}

func (c *serialConn) Close() error {
	c.fail(ErrClosed)
	return c.port.Close()
}
