// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package hub

import (
	"context"
	"fmt"

	"github.com/Thermoquad/spikelink/pkg/spike"
	"go.uber.org/zap"
)

// StartProgram runs the program stored in slot.
func (c *Client) StartProgram(ctx context.Context, slot uint8) error {
	return c.programFlow(ctx, false, slot)
}

// StopProgram stops the running program.
func (c *Client) StopProgram(ctx context.Context, slot uint8) error {
	return c.programFlow(ctx, true, slot)
}

func (c *Client) programFlow(ctx context.Context, stop bool, slot uint8) error {
	m, err := c.SendRequest(ctx, spike.ProgramFlowRequest{Stop: stop, Slot: slot}, spike.MsgProgramFlowResponse)
	if err != nil {
		return err
	}
	resp, ok := m.(spike.ProgramFlowResponse)
	if !ok {
		return ErrUnexpectedResponse
	}
	if !resp.Success() {
		action := "start"
		if stop {
			action = "stop"
		}
		return fmt.Errorf("%w: %s slot %d: hub replied %s", ErrProgramControl, action, slot, resp.Status)
	}
	return nil
}

// ClearSlot erases slot. The hub NACKs an empty slot, which is reported as
// false rather than an error.
func (c *Client) ClearSlot(ctx context.Context, slot uint8) (bool, error) {
	m, err := c.SendRequest(ctx, spike.ClearSlotRequest{Slot: slot}, spike.MsgClearSlotResponse)
	if err != nil {
		return false, err
	}
	resp, ok := m.(spike.ClearSlotResponse)
	if !ok {
		return false, ErrUnexpectedResponse
	}
	return resp.Success(), nil
}

// RunProgram clears slot, uploads data as fileName and starts it.
func (c *Client) RunProgram(ctx context.Context, fileName string, slot uint8, data []byte) error {
	cleared, err := c.ClearSlot(ctx, slot)
	if err != nil {
		return fmt.Errorf("clear slot %d: %w", slot, err)
	}
	c.log.Debug("slot cleared", zap.Uint8("slot", slot), zap.Bool("was_occupied", cleared))

	if err := c.UploadFile(ctx, fileName, slot, data); err != nil {
		return err
	}
	return c.StartProgram(ctx, slot)
}

// SendTunnel writes a tunnel message to the running program. No response
// is expected.
func (c *Client) SendTunnel(ctx context.Context, payload []byte) error {
	conn, err := c.ready()
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	b, err := spike.Encode(spike.TunnelMessage{Payload: payload})
	if err != nil {
		return err
	}
	return c.writeFrame(conn, b)
}

// SetNotificationInterval changes the device notification period.
func (c *Client) SetNotificationInterval(ctx context.Context, intervalMS uint16) error {
	m, err := c.SendRequest(ctx, spike.DeviceNotificationRequest{IntervalMS: intervalMS}, spike.MsgDeviceNotificationResponse)
	if err != nil {
		return err
	}
	resp, ok := m.(spike.DeviceNotificationResponse)
	if !ok {
		return ErrUnexpectedResponse
	}
	if !resp.Success() {
		return fmt.Errorf("set notification interval: hub replied %s", resp.Status)
	}
	return nil
}

// Info re-reads the hub capabilities record.
func (c *Client) Info(ctx context.Context) (spike.InfoResponse, error) {
	m, err := c.SendRequest(ctx, spike.InfoRequest{}, spike.MsgInfoResponse)
	if err != nil {
		return spike.InfoResponse{}, err
	}
	info, ok := m.(spike.InfoResponse)
	if !ok {
		return spike.InfoResponse{}, ErrUnexpectedResponse
	}
	return info, nil
}
