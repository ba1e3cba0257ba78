// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package bridge

import (
	"net/http"
	"sync"
	"time"

	"github.com/Thermoquad/spikelink/pkg/hub"
	"github.com/Thermoquad/spikelink/pkg/spike"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Event types pushed on /telemetry
const (
	EventTelemetry = "telemetry"
	EventConsole   = "console"
	EventProgram   = "program"
	EventState     = "state"
	EventUpload    = "upload"
)

// Event is one message on the /telemetry WebSocket.
type Event struct {
	Type    string              `json:"type"`
	Time    time.Time           `json:"time"`
	State   string              `json:"state,omitempty"`
	Ports   *spike.PortState    `json:"ports,omitempty"`
	Text    string              `json:"text,omitempty"`
	Stopped *bool               `json:"stopped,omitempty"`
	Upload  *hub.UploadProgress `json:"upload,omitempty"`
}

const (
	sendBuffer   = 64
	writeTimeout = 10 * time.Second
	pongTimeout  = 60 * time.Second
	pingInterval = 30 * time.Second
)

type wsClient struct {
	id     int64
	conn   *websocket.Conn
	server *Server
	sendCh chan Event
	done   chan struct{}
	once   sync.Once
}

func (s *Server) handleTelemetry(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	c := &wsClient{
		id:     s.nextID.Add(1),
		conn:   conn,
		server: s,
		sendCh: make(chan Event, sendBuffer),
		done:   make(chan struct{}),
	}
	s.clientMu.Lock()
	s.clients[c.id] = c
	s.clientMu.Unlock()
	s.log.Info("telemetry client connected", zap.Int64("client", c.id), zap.String("remote", r.RemoteAddr))

	go c.writePump()
	c.send(Event{Type: EventState, Time: time.Now(), State: s.client.State().String()})
	c.readPump()
}

func (s *Server) broadcast(ev Event) {
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	s.clientMu.RLock()
	defer s.clientMu.RUnlock()
	for _, c := range s.clients {
		c.send(ev)
	}
}

func (s *Server) removeClient(c *wsClient) {
	s.clientMu.Lock()
	delete(s.clients, c.id)
	s.clientMu.Unlock()
	s.log.Info("telemetry client disconnected", zap.Int64("client", c.id))
}

func (s *Server) closeClients() {
	s.clientMu.Lock()
	clients := s.clients
	s.clients = make(map[int64]*wsClient)
	s.clientMu.Unlock()
	for _, c := range clients {
		c.close()
	}
}

// send queues ev, dropping it if the client is not keeping up.
func (c *wsClient) send(ev Event) {
	select {
	case c.sendCh <- ev:
	case <-c.done:
	default:
		c.server.log.Warn("dropping event for slow client", zap.Int64("client", c.id), zap.String("type", ev.Type))
	}
}

func (c *wsClient) close() {
	c.once.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
}

// readPump discards inbound messages and keeps the read deadline fresh.
func (c *wsClient) readPump() {
	defer func() {
		c.server.removeClient(c)
		c.close()
	}()

	c.conn.SetReadLimit(4096)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongTimeout))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongTimeout))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.server.log.Debug("telemetry client read error", zap.Int64("client", c.id), zap.Error(err))
			}
			return
		}
	}
}

func (c *wsClient) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case ev := <-c.sendCh:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteJSON(ev); err != nil {
				c.server.log.Debug("telemetry write failed", zap.Int64("client", c.id), zap.Error(err))
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}
