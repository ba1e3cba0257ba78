// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package hub implements the protocol client for a SPIKE Prime class hub.
//
// A Client owns one link at a time. It performs the capabilities and
// notification handshake, correlates responses with requests, transfers
// program files and dispatches console, program flow and telemetry
// notifications to registered handlers.
package hub

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Thermoquad/spikelink/pkg/spike"
	"github.com/Thermoquad/spikelink/pkg/transport"
	"go.uber.org/zap"
)

// Client is a hub protocol client. All methods are safe for concurrent use.
// Handlers run on the client's read goroutine and must not block.
type Client struct {
	dialer transport.Dialer
	cfg    Config
	log    *zap.Logger

	// connectMu serializes link establishment (Connect and reconnect).
	connectMu sync.Mutex
	// writeMu makes the packets of one frame contiguous on the link.
	writeMu sync.Mutex
	// uploadMu serializes file transfers.
	uploadMu sync.Mutex

	mu              sync.Mutex
	state           State
	conn            transport.Conn
	linkDone        chan struct{}
	caps            *Capabilities
	session         *UploadSession
	pending         map[uint64]*pendingOp
	byKind          map[spike.MessageID]uint64
	kindLocks       map[spike.MessageID]chan struct{}
	nextToken       uint64
	explicit        bool
	cancelReconnect context.CancelFunc

	hmu      sync.RWMutex
	handlers handlers
}

type handlers struct {
	telemetry func(spike.PortState)
	console   func(string)
	flow      func(stopped bool)
	tunnel    func([]byte)
	state     func(State)
	progress  func(UploadProgress)
}

// New creates a disconnected client for the hub reached through dialer.
func New(dialer transport.Dialer, cfg Config) *Client {
	cfg = cfg.withDefaults()
	return &Client{
		dialer:    dialer,
		cfg:       cfg,
		log:       cfg.Logger.With(zap.Stringer("link", dialer)),
		pending:   make(map[uint64]*pendingOp),
		byKind:    make(map[spike.MessageID]uint64),
		kindLocks: make(map[spike.MessageID]chan struct{}),
	}
}

// State returns the current connection state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Capabilities returns the hub limits once initialization has received them.
func (c *Client) Capabilities() (Capabilities, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.caps == nil {
		return Capabilities{}, false
	}
	return *c.caps, true
}

// Session returns a copy of the upload in progress, if any.
func (c *Client) Session() (UploadSession, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return UploadSession{}, false
	}
	return *c.session, true
}

///////////////////////////////////////////////////////////////////////////////
// Handlers
///////////////////////////////////////////////////////////////////////////////

// OnTelemetry registers the handler for device notifications. It receives a
// fresh snapshot per notification.
func (c *Client) OnTelemetry(fn func(spike.PortState)) {
	c.hmu.Lock()
	c.handlers.telemetry = fn
	c.hmu.Unlock()
}

// OnConsoleText registers the handler for program console output.
func (c *Client) OnConsoleText(fn func(string)) {
	c.hmu.Lock()
	c.handlers.console = fn
	c.hmu.Unlock()
}

// OnProgramFlow registers the handler for program start/stop notifications.
func (c *Client) OnProgramFlow(fn func(stopped bool)) {
	c.hmu.Lock()
	c.handlers.flow = fn
	c.hmu.Unlock()
}

// OnTunnel registers the handler for tunnel messages from the program.
func (c *Client) OnTunnel(fn func([]byte)) {
	c.hmu.Lock()
	c.handlers.tunnel = fn
	c.hmu.Unlock()
}

// OnStateChange registers the handler for state transitions.
func (c *Client) OnStateChange(fn func(State)) {
	c.hmu.Lock()
	c.handlers.state = fn
	c.hmu.Unlock()
}

// OnUploadProgress registers the handler called after each accepted chunk.
func (c *Client) OnUploadProgress(fn func(UploadProgress)) {
	c.hmu.Lock()
	c.handlers.progress = fn
	c.hmu.Unlock()
}

func (c *Client) handler() handlers {
	c.hmu.RLock()
	defer c.hmu.RUnlock()
	return c.handlers
}

///////////////////////////////////////////////////////////////////////////////
// Lifecycle
///////////////////////////////////////////////////////////////////////////////

// Connect opens the link and runs the initialization handshake. It returns
// once the client is Ready, or with ErrInitialization.
func (c *Client) Connect(ctx context.Context) error {
	c.connectMu.Lock()
	defer c.connectMu.Unlock()

	c.mu.Lock()
	if c.state != StateDisconnected {
		state := c.state
		c.mu.Unlock()
		return fmt.Errorf("%w: client is %s", ErrAlreadyConnected, state)
	}
	c.explicit = false
	c.stopReconnectLocked()
	c.mu.Unlock()

	return c.establish(ctx)
}

// Disconnect closes the link. Pending operations fail with ErrDisconnected.
// No reconnect follows.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	c.explicit = true
	c.stopReconnectLocked()
	conn, done := c.conn, c.linkDone
	c.mu.Unlock()

	if conn == nil {
		return nil
	}

	c.setState(StateDisconnecting)
	err := conn.Close()
	<-done
	return err
}

func (c *Client) stopReconnectLocked() {
	if c.cancelReconnect != nil {
		c.cancelReconnect()
		c.cancelReconnect = nil
	}
}

// establish dials and initializes. Caller holds connectMu.
func (c *Client) establish(ctx context.Context) error {
	c.setState(StateConnecting)
	c.log.Info("connecting")

	conn, err := c.dialer.Dial(ctx)
	if err != nil {
		c.setState(StateDisconnected)
		if errors.Is(err, transport.ErrCharacteristicMissing) ||
			errors.Is(err, transport.ErrNotifyUnsupported) ||
			errors.Is(err, transport.ErrServiceNotFound) {
			return fmt.Errorf("%w: %w", ErrInitialization, err)
		}
		return fmt.Errorf("failed to connect to %s: %w", c.dialer, err)
	}

	done := make(chan struct{})
	c.mu.Lock()
	c.conn = conn
	c.linkDone = done
	c.caps = nil
	c.mu.Unlock()

	c.setState(StateInitializing)
	go c.readLoop(conn, done)

	if err := c.initialize(ctx, conn); err != nil {
		c.log.Warn("initialization failed", zap.Error(err))
		_ = conn.Close()
		<-done
		c.setState(StateDisconnected)
		return fmt.Errorf("%w: %w", ErrInitialization, err)
	}

	c.setState(StateReady)
	return nil
}

// initialize reads the hub capabilities and enables device notifications.
func (c *Client) initialize(ctx context.Context, conn transport.Conn) error {
	m, err := c.request(ctx, conn, spike.InfoRequest{}, spike.MsgInfoResponse)
	if err != nil {
		return fmt.Errorf("info request: %w", err)
	}
	info := m.(spike.InfoResponse)
	caps := capabilitiesFrom(info)

	c.mu.Lock()
	c.caps = &caps
	c.mu.Unlock()

	c.log.Info("hub capabilities",
		zap.Stringer("rpc", info.RPCVersion),
		zap.Stringer("firmware", info.FirmwareVersion),
		zap.Uint16("max_packet", info.MaxPacketSize),
		zap.Uint16("max_message", info.MaxMessageSize),
		zap.Uint16("max_chunk", info.MaxChunkSize))

	m, err = c.request(ctx, conn, spike.DeviceNotificationRequest{IntervalMS: c.cfg.NotificationInterval}, spike.MsgDeviceNotificationResponse)
	if err != nil {
		return fmt.Errorf("enable notifications: %w", err)
	}
	if resp := m.(spike.DeviceNotificationResponse); !resp.Success() {
		return fmt.Errorf("enable notifications: hub replied %s", resp.Status)
	}
	return nil
}

func (c *Client) setState(s State) {
	c.mu.Lock()
	prev := c.state
	c.state = s
	c.mu.Unlock()
	if prev == s {
		return
	}

	c.log.Info("state change", zap.Stringer("from", prev), zap.Stringer("to", s))
	if fn := c.handler().state; fn != nil {
		fn(s)
	}
}

///////////////////////////////////////////////////////////////////////////////
// Inbound path
///////////////////////////////////////////////////////////////////////////////

// readLoop reassembles and dispatches frames until the link ends.
func (c *Client) readLoop(conn transport.Conn, done chan struct{}) {
	defer close(done)
	asm := spike.NewAssembler()
	var dropped uint64

	for {
		select {
		case p := <-conn.Packets():
			for _, frame := range asm.Feed(p) {
				c.handleFrame(frame)
			}
			if n := asm.Dropped(); n != dropped {
				dropped = n
				c.log.Warn("discarded oversized partial frame", zap.Uint64("total_dropped", n))
			}
		case <-conn.Done():
			c.linkLost(conn, conn.Err())
			return
		}
	}
}

func (c *Client) handleFrame(frame []byte) {
	if c.cfg.Tap != nil {
		c.cfg.Tap(spike.DirRX, frame)
	}

	m, err := spike.DecodeFrame(frame)
	if err != nil {
		// Malformed input is dropped; the link stays up
		c.log.Warn("dropping inbound frame", zap.Error(err), zap.Int("len", len(frame)))
		return
	}
	c.log.Debug("received", zap.String("kind", spike.MessageName(m.ID())))

	if c.resolve(m) {
		return
	}

	h := c.handler()
	switch v := m.(type) {
	case spike.DeviceNotification:
		msgs, err := v.Messages()
		if err != nil {
			c.log.Warn("partial device notification", zap.Error(err), zap.Int("decoded", len(msgs)))
		}
		if h.telemetry != nil {
			h.telemetry(spike.ProjectPortState(msgs))
		}
	case spike.ConsoleNotification:
		if h.console != nil {
			h.console(v.Text)
		}
	case spike.ProgramFlowNotification:
		if h.flow != nil {
			h.flow(v.Stop)
		}
	case spike.TunnelMessage:
		if h.tunnel != nil {
			h.tunnel(v.Payload)
		}
	default:
		c.log.Debug("unsolicited message dropped", zap.String("kind", spike.MessageName(m.ID())))
	}
}

// linkLost tears down state for a link that ended. Stale links are ignored.
func (c *Client) linkLost(conn transport.Conn, cause error) {
	c.mu.Lock()
	if c.conn != conn {
		c.mu.Unlock()
		return
	}
	prev := c.state
	explicit := c.explicit
	c.conn = nil
	c.caps = nil
	c.session = nil
	pending := c.pending
	c.pending = make(map[uint64]*pendingOp)
	c.byKind = make(map[spike.MessageID]uint64)
	c.mu.Unlock()

	err := ErrDisconnected
	if cause != nil && !errors.Is(cause, transport.ErrClosed) {
		err = fmt.Errorf("%w: %w", ErrDisconnected, cause)
	}
	for _, op := range pending {
		op.done <- result{err: err}
	}

	if explicit {
		c.log.Info("disconnected", zap.Int("rejected", len(pending)))
	} else {
		c.log.Warn("link lost", zap.Error(cause), zap.Int("rejected", len(pending)))
	}
	c.setState(StateDisconnected)

	if !explicit && prev == StateReady && c.cfg.Reconnect.MaxAttempts > 0 {
		ctx, cancel := context.WithCancel(context.Background())
		c.mu.Lock()
		c.stopReconnectLocked()
		c.cancelReconnect = cancel
		c.mu.Unlock()
		go c.reconnect(ctx)
	}
}

// reconnect retries establish with exponential backoff until it succeeds,
// attempts run out, or ctx is cancelled by Connect or Disconnect.
func (c *Client) reconnect(ctx context.Context) {
	rc := c.cfg.Reconnect
	backoff := rc.InitialBackoff

	for attempt := 1; attempt <= rc.MaxAttempts; attempt++ {
		c.log.Info("reconnecting", zap.Int("attempt", attempt), zap.Duration("backoff", backoff))
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return
		}

		c.connectMu.Lock()
		c.mu.Lock()
		skip := c.explicit || c.state != StateDisconnected || ctx.Err() != nil
		c.mu.Unlock()
		if skip {
			c.connectMu.Unlock()
			return
		}
		err := c.establish(ctx)
		c.connectMu.Unlock()

		if err == nil {
			c.log.Info("reconnected", zap.Int("attempt", attempt))
			return
		}
		c.log.Warn("reconnect failed", zap.Int("attempt", attempt), zap.Error(err))

		backoff *= 2
		if backoff > rc.MaxBackoff {
			backoff = rc.MaxBackoff
		}
	}
	c.log.Error("giving up reconnecting", zap.Int("attempts", rc.MaxAttempts))
}
