// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package bridge exposes a hub client over HTTP for browser front ends.
//
// Control operations are plain JSON POSTs. Telemetry, console output,
// program flow and state changes are pushed to every client connected to
// the /telemetry WebSocket.
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Thermoquad/spikelink/pkg/hub"
	"github.com/Thermoquad/spikelink/pkg/spike"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Defaults for the run-code endpoint
const (
	DefaultFileName = "program.py"
	MaxSlot         = 19
	maxBodySize     = 1 << 20
)

// Config holds bridge settings.
type Config struct {
	// Addr is the listen address, e.g. ":8000".
	Addr string

	// OperationTimeout bounds each control operation. Zero means 30s.
	OperationTimeout time.Duration

	Logger *zap.Logger
}

// Server serves one hub client. It installs its own telemetry, console,
// program flow and state handlers on the client.
type Server struct {
	client  *hub.Client
	cfg     Config
	log     *zap.Logger
	started time.Time

	upgrader websocket.Upgrader
	clientMu sync.RWMutex
	clients  map[int64]*wsClient
	nextID   atomic.Int64

	httpServer *http.Server
}

// New creates a bridge for client.
func New(client *hub.Client, cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.OperationTimeout <= 0 {
		cfg.OperationTimeout = 30 * time.Second
	}
	s := &Server{
		client:  client,
		cfg:     cfg,
		log:     cfg.Logger.Named("bridge"),
		started: time.Now(),
		clients: make(map[int64]*wsClient),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}

	client.OnTelemetry(func(p spike.PortState) {
		s.broadcast(Event{Type: EventTelemetry, Ports: &p})
	})
	client.OnConsoleText(func(text string) {
		s.broadcast(Event{Type: EventConsole, Text: text})
	})
	client.OnProgramFlow(func(stopped bool) {
		s.broadcast(Event{Type: EventProgram, Stopped: &stopped})
	})
	client.OnStateChange(func(st hub.State) {
		s.broadcast(Event{Type: EventState, State: st.String()})
	})
	client.OnUploadProgress(func(p hub.UploadProgress) {
		s.broadcast(Event{Type: EventUpload, Upload: &p})
	})
	return s
}

// Handler returns the bridge routes wrapped in CORS handling.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleIndex)
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.HandleFunc("POST /connect", s.handleConnect)
	mux.HandleFunc("POST /disconnect", s.handleDisconnect)
	mux.HandleFunc("POST /run-code", s.handleRunCode)
	mux.HandleFunc("POST /start", s.handleStart)
	mux.HandleFunc("POST /stop", s.handleStop)
	mux.HandleFunc("POST /clear", s.handleClear)
	mux.HandleFunc("GET /telemetry", s.handleTelemetry)
	return corsMiddleware(mux)
}

// ListenAndServe serves until ctx is cancelled, then closes every
// WebSocket client and shuts the listener down.
func (s *Server) ListenAndServe(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		s.log.Info("bridge listening", zap.String("addr", s.cfg.Addr))
		errc <- s.httpServer.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	s.closeClients()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

///////////////////////////////////////////////////////////////////////////////
// Control endpoints
///////////////////////////////////////////////////////////////////////////////

// StatusResponse is the body of GET /status.
type StatusResponse struct {
	State        string             `json:"state"`
	Capabilities *hub.Capabilities  `json:"capabilities,omitempty"`
	Upload       *hub.UploadSession `json:"upload,omitempty"`
	Clients      int                `json:"clients"`
	Uptime       string             `json:"uptime"`
}

// RunCodeRequest is the body of POST /run-code.
type RunCodeRequest struct {
	PyCode   string `json:"pyCode"`
	Slot     uint8  `json:"slot"`
	FileName string `json:"fileName"`
}

// SlotRequest is the body of POST /start, /stop and /clear.
type SlotRequest struct {
	Slot uint8 `json:"slot"`
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"service": "spikelink bridge"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := StatusResponse{
		State:  s.client.State().String(),
		Uptime: time.Since(s.started).Round(time.Second).String(),
	}
	if caps, ok := s.client.Capabilities(); ok {
		resp.Capabilities = &caps
	}
	if session, ok := s.client.Session(); ok {
		resp.Upload = &session
	}
	s.clientMu.RLock()
	resp.Clients = len(s.clients)
	s.clientMu.RUnlock()
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.operationContext(r)
	defer cancel()
	if err := s.client.Connect(ctx); err != nil {
		s.writeError(w, "connect", err)
		return
	}
	caps, _ := s.client.Capabilities()
	writeJSON(w, http.StatusOK, map[string]any{"state": s.client.State().String(), "capabilities": caps})
}

func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	if err := s.client.Disconnect(); err != nil {
		s.writeError(w, "disconnect", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"state": s.client.State().String()})
}

func (s *Server) handleRunCode(w http.ResponseWriter, r *http.Request) {
	var req RunCodeRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.PyCode == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("pyCode is required"))
		return
	}
	if req.FileName == "" {
		req.FileName = DefaultFileName
	}
	if !s.validSlot(w, req.Slot) {
		return
	}

	ctx, cancel := s.operationContext(r)
	defer cancel()
	if err := s.client.RunProgram(ctx, req.FileName, req.Slot, []byte(req.PyCode)); err != nil {
		s.writeError(w, "run-code", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"fileName": req.FileName,
		"slot":     req.Slot,
		"size":     len(req.PyCode),
		"crc":      fmt.Sprintf("0x%08X", spike.ChecksumCRC([]byte(req.PyCode))),
	})
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	s.slotOperation(w, r, "start", func(ctx context.Context, slot uint8) (any, error) {
		return map[string]any{"slot": slot, "running": true}, s.client.StartProgram(ctx, slot)
	})
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	s.slotOperation(w, r, "stop", func(ctx context.Context, slot uint8) (any, error) {
		return map[string]any{"slot": slot, "running": false}, s.client.StopProgram(ctx, slot)
	})
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	s.slotOperation(w, r, "clear", func(ctx context.Context, slot uint8) (any, error) {
		cleared, err := s.client.ClearSlot(ctx, slot)
		return map[string]any{"slot": slot, "cleared": cleared}, err
	})
}

func (s *Server) slotOperation(w http.ResponseWriter, r *http.Request, name string, op func(context.Context, uint8) (any, error)) {
	var req SlotRequest
	if !s.decode(w, r, &req) || !s.validSlot(w, req.Slot) {
		return
	}
	ctx, cancel := s.operationContext(r)
	defer cancel()
	body, err := op(ctx, req.Slot)
	if err != nil {
		s.writeError(w, name, err)
		return
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) operationContext(r *http.Request) (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.Context(), s.cfg.OperationTimeout)
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid request body: "+err.Error()))
		return false
	}
	return true
}

func (s *Server) validSlot(w http.ResponseWriter, slot uint8) bool {
	if slot > MaxSlot {
		writeJSON(w, http.StatusBadRequest, errorBody(fmt.Sprintf("slot %d out of range 0-%d", slot, MaxSlot)))
		return false
	}
	return true
}

///////////////////////////////////////////////////////////////////////////////
// Responses
///////////////////////////////////////////////////////////////////////////////

// StatusCode maps a client error to an HTTP status.
func StatusCode(err error) int {
	switch {
	case errors.Is(err, hub.ErrNotReady), errors.Is(err, hub.ErrAlreadyConnected):
		return http.StatusConflict
	case errors.Is(err, hub.ErrRequestTimeout), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, hub.ErrEmptyFile), errors.Is(err, spike.ErrEncoding):
		return http.StatusBadRequest
	case errors.Is(err, hub.ErrUploadRejected),
		errors.Is(err, hub.ErrChunkTransferFailed),
		errors.Is(err, hub.ErrProgramControl),
		errors.Is(err, hub.ErrInitialization),
		errors.Is(err, hub.ErrDisconnected),
		errors.Is(err, hub.ErrUnexpectedResponse):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, op string, err error) {
	code := StatusCode(err)
	s.log.Warn("operation failed", zap.String("op", op), zap.Int("status", code), zap.Error(err))
	writeJSON(w, code, errorBody(err.Error()))
}

func errorBody(msg string) map[string]string {
	return map[string]string{"error": msg}
}

func writeJSON(w http.ResponseWriter, code int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(data)
}
