// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package hub

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Thermoquad/spikelink/pkg/spike"
	"github.com/Thermoquad/spikelink/pkg/transport"
	"go.uber.org/zap"
)

type result struct {
	msg spike.Message
	err error
}

// pendingOp is one outstanding request. done is buffered so the resolver
// never blocks on a waiter that already gave up.
type pendingOp struct {
	token  uint64
	expect spike.MessageID
	done   chan result
}

// SendRequest sends msg and waits for a response of kind expect. It is the
// general form behind the typed operations.
func (c *Client) SendRequest(ctx context.Context, msg spike.Message, expect spike.MessageID) (spike.Message, error) {
	conn, err := c.ready()
	if err != nil {
		return nil, err
	}
	return c.request(ctx, conn, msg, expect)
}

// ready returns the live link, or ErrNotReady.
func (c *Client) ready() (transport.Conn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateReady || c.conn == nil {
		return nil, fmt.Errorf("%w: client is %s", ErrNotReady, c.state)
	}
	return c.conn, nil
}

// request writes msg on conn and waits for the matching response. Only one
// request per response kind is in flight; others of the same kind queue.
func (c *Client) request(ctx context.Context, conn transport.Conn, msg spike.Message, expect spike.MessageID) (spike.Message, error) {
	payload, err := spike.Encode(msg)
	if err != nil {
		return nil, err
	}

	release, err := c.acquireKind(ctx, expect)
	if err != nil {
		return nil, err
	}
	defer release()

	op := &pendingOp{expect: expect, done: make(chan result, 1)}
	c.mu.Lock()
	if c.conn != conn {
		c.mu.Unlock()
		return nil, ErrDisconnected
	}
	c.nextToken++
	op.token = c.nextToken
	c.pending[op.token] = op
	c.byKind[expect] = op.token
	c.mu.Unlock()

	c.log.Debug("request",
		zap.String("kind", spike.MessageName(msg.ID())),
		zap.String("expect", spike.MessageName(expect)),
		zap.Uint64("token", op.token))

	if err := c.writeFrame(conn, payload); err != nil {
		c.removePending(op)
		return nil, err
	}

	timer := time.NewTimer(c.cfg.RequestTimeout)
	defer timer.Stop()

	select {
	case r := <-op.done:
		return r.msg, r.err
	case <-timer.C:
		c.removePending(op)
		return nil, fmt.Errorf("%w: %s after %s", ErrRequestTimeout, spike.MessageName(msg.ID()), c.cfg.RequestTimeout)
	case <-ctx.Done():
		c.removePending(op)
		return nil, ctx.Err()
	}
}

// acquireKind takes the per-kind slot for expect.
func (c *Client) acquireKind(ctx context.Context, expect spike.MessageID) (func(), error) {
	c.mu.Lock()
	sem, ok := c.kindLocks[expect]
	if !ok {
		sem = make(chan struct{}, 1)
		c.kindLocks[expect] = sem
	}
	c.mu.Unlock()

	select {
	case sem <- struct{}{}:
		return func() { <-sem }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Client) removePending(op *pendingOp) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.pending, op.token)
	if c.byKind[op.expect] == op.token {
		delete(c.byKind, op.expect)
	}
}

// resolve completes the pending request waiting for m's kind. It reports
// false when nothing was waiting.
func (c *Client) resolve(m spike.Message) bool {
	c.mu.Lock()
	token, ok := c.byKind[m.ID()]
	if !ok {
		c.mu.Unlock()
		return false
	}
	op := c.pending[token]
	delete(c.byKind, m.ID())
	delete(c.pending, token)
	c.mu.Unlock()

	if op == nil {
		return false
	}
	op.done <- result{msg: m}
	return true
}

// writeFrame packs payload and writes it in packets no larger than the hub's
// max packet size. Before capabilities are known the frame goes in one write.
func (c *Client) writeFrame(conn transport.Conn, payload []byte) error {
	c.mu.Lock()
	caps := c.caps
	c.mu.Unlock()

	if caps != nil && caps.MaxMessageSize > 0 && len(payload) > int(caps.MaxMessageSize) {
		return fmt.Errorf("%w: message of %d bytes exceeds hub limit of %d",
			spike.ErrEncoding, len(payload), caps.MaxMessageSize)
	}

	frame := spike.Pack(payload)
	if c.cfg.Tap != nil {
		c.cfg.Tap(spike.DirTX, frame)
	}

	size := len(frame)
	if caps != nil && caps.MaxPacketSize > 0 {
		size = int(caps.MaxPacketSize)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	for off := 0; off < len(frame); off += size {
		end := min(off+size, len(frame))
		if err := conn.WritePacket(frame[off:end]); err != nil {
			if errors.Is(err, transport.ErrClosed) {
				return fmt.Errorf("%w: %w", ErrDisconnected, err)
			}
			return fmt.Errorf("write failed: %w", err)
		}
	}
	return nil
}
