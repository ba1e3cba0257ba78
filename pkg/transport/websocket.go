// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package transport

import (
	"context"
	"crypto/tls"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// WebSocketDialer connects to a remote bridge that relays hub packets as
// binary WebSocket messages, one packet per message.
type WebSocketDialer struct {
	URL           string
	Username      string
	Password      string
	SkipSSLVerify bool

	// HandshakeTimeout defaults to 10s.
	HandshakeTimeout time.Duration
}

func (d WebSocketDialer) String() string {
	return fmt.Sprintf("WebSocket: %s", d.URL)
}

// Dial opens the WebSocket with HTTP Basic auth and starts the read loop.
func (d WebSocketDialer) Dial(ctx context.Context) (Conn, error) {
	u, err := url.Parse(d.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}

	switch u.Scheme {
	case "ws", "wss":
	default:
		return nil, fmt.Errorf("unsupported URL scheme: %s (use ws:// or wss://)", u.Scheme)
	}

	timeout := d.HandshakeTimeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	dialer := websocket.Dialer{
		HandshakeTimeout: timeout,
	}
	if u.Scheme == "wss" {
		dialer.TLSClientConfig = &tls.Config{
			InsecureSkipVerify: d.SkipSSLVerify,
		}
	}

	headers := http.Header{}
	if d.Username != "" && d.Password != "" {
		credentials := base64.StdEncoding.EncodeToString([]byte(d.Username + ":" + d.Password))
		headers.Set("Authorization", "Basic "+credentials)
	}

	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	ws, resp, err := dialer.DialContext(ctx, d.URL, headers)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("WebSocket connection failed (HTTP %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("WebSocket connection failed: %w", err)
	}

	c := &wsConn{packetQueue: newPacketQueue(), ws: ws}
	go c.readLoop()
	return c, nil
}

type wsConn struct {
	*packetQueue
	ws *websocket.Conn

	writeMu sync.Mutex
}

func (c *wsConn) readLoop() {
	for {
		messageType, data, err := c.ws.ReadMessage()
		if err != nil {
			c.fail(fmt.Errorf("websocket read failed: %w", err))
			return
		}
		// Only binary messages carry packets
		if messageType != websocket.BinaryMessage {
			continue
		}
		c.deliver(data)
	}
}

func (c *wsConn) WritePacket(p []byte) error {
	if c.closed() {
		return ErrClosed
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.ws.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return fmt.Errorf("websocket write failed: %w", err)
	}
	return nil
}

func (c *wsConn) Close() error {
	c.fail(ErrClosed)
	c.writeMu.Lock()
	_ = c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	c.writeMu.Unlock()
	return c.ws.Close()
}
