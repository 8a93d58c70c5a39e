// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package gateway exposes the host's typed operations to the UI over a
// localhost WebSocket. Every handler fails soft: a handler returns a result
// object describing the failure and the connection survives.
package gateway

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/deepcontext/shell/internal/log"
)

var (
	// ErrServerClosed is returned when operations are attempted on a closed server.
	ErrServerClosed = errors.New("gateway: server closed")

	// ErrShutdownTimeout is returned when graceful shutdown exceeds the timeout.
	ErrShutdownTimeout = errors.New("gateway: shutdown timeout exceeded")
)

const (
	defaultShutdownTimeout = 5 * time.Second

	// Per-connection request budget. The UI issues bursts when a window
	// regains focus, so allow a generous burst over a modest steady rate.
	requestsPerSecond = 20
	requestBurst      = 40

	readDeadline = 60 * time.Second
	pingInterval = 30 * time.Second
)

// Config configures the gateway server.
type Config struct {
	// Addr is the listen address. Must resolve to a loopback interface.
	Addr string

	// Token is the required X-Auth-Token for WebSocket connections.
	// If empty, authentication is disabled.
	Token string

	// ShutdownTimeout bounds graceful shutdown. Defaults to 5 seconds.
	ShutdownTimeout time.Duration
}

// Handler handles a single gateway request.
type Handler func(ctx context.Context, req *Message) (*Message, error)

// Server accepts UI connections and dispatches typed operations.
type Server struct {
	cfg      Config
	logger   *slog.Logger
	upgrader websocket.Upgrader

	mu         sync.RWMutex
	handlers   map[string]Handler
	httpServer *http.Server
	listener   net.Listener
	closed     bool

	connMu      sync.Mutex
	connections map[*wsConn]struct{}

	shutdownOnce sync.Once
	shutdownCh   chan struct{}
}

// wsConn pairs a connection with its write lock and request limiter.
type wsConn struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
	limiter *rate.Limiter
}

func (c *wsConn) writeJSON(v interface{}) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteJSON(v)
}

// NewServer creates a gateway server. Handlers are registered with Register
// before Start.
func NewServer(cfg Config, logger *slog.Logger) *Server {
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = defaultShutdownTimeout
	}

	return &Server{
		cfg:    cfg,
		logger: log.WithComponent(logger, "gateway"),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				// The listener is loopback-only; origin checks add nothing.
				return true
			},
		},
		handlers:    make(map[string]Handler),
		connections: make(map[*wsConn]struct{}),
		shutdownCh:  make(chan struct{}),
	}
}

// Register registers a handler for the given method.
func (s *Server) Register(method string, handler Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[method] = handler
}

// Start begins serving on the configured address.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrServerClosed
	}
	if s.httpServer != nil {
		return nil // Already started
	}

	listener, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	s.listener = listener

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/ws", s.handleWebSocket)

	s.httpServer = &http.Server{
		Handler:     mux,
		ReadTimeout: 10 * time.Second,
		// WriteTimeout intentionally omitted to support long-lived WebSocket connections
	}

	go func() {
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("gateway server error", log.Error(err))
		}
	}()

	s.logger.Info("gateway listening", "addr", listener.Addr().String())
	return nil
}

// Addr returns the bound address, or "" if not started.
func (s *Server) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Publish broadcasts an event to every connected client. Write failures on
// individual connections are logged and skipped.
func (s *Server) Publish(name string, payload interface{}) {
	msg, err := NewEvent(name, payload)
	if err != nil {
		s.logger.Warn("failed to build event", log.EventKey, name, log.Error(err))
		return
	}

	s.connMu.Lock()
	conns := make([]*wsConn, 0, len(s.connections))
	for c := range s.connections {
		conns = append(conns, c)
	}
	s.connMu.Unlock()

	for _, c := range conns {
		if err := c.writeJSON(msg); err != nil {
			s.logger.Debug("event write failed", log.EventKey, name, log.Error(err))
		}
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	closed := s.closed
	s.mu.RUnlock()

	status := "ready"
	httpStatus := http.StatusOK
	if closed {
		status = "stopping"
		httpStatus = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpStatus)
	json.NewEncoder(w).Encode(map[string]string{"status": status})
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	closed := s.closed
	s.mu.RUnlock()

	if closed {
		http.Error(w, "Server shutting down", http.StatusServiceUnavailable)
		return
	}

	if s.cfg.Token != "" {
		token := r.Header.Get("X-Auth-Token")
		if subtle.ConstantTimeCompare([]byte(token), []byte(s.cfg.Token)) != 1 {
			s.logger.Warn("authentication failed",
				"remote", r.RemoteAddr,
				"hasToken", token != "")
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", log.Error(err), "remote", r.RemoteAddr)
		return
	}

	c := &wsConn{
		conn:    conn,
		limiter: rate.NewLimiter(rate.Limit(requestsPerSecond), requestBurst),
	}

	s.connMu.Lock()
	s.connections[c] = struct{}{}
	s.connMu.Unlock()

	s.logger.Info("ui connected", "remote", r.RemoteAddr)
	go s.serveConn(c)
}

func (s *Server) serveConn(c *wsConn) {
	defer func() {
		s.connMu.Lock()
		delete(s.connections, c)
		s.connMu.Unlock()

		c.conn.Close()
		s.logger.Info("ui disconnected", "remote", c.conn.RemoteAddr())
	}()

	c.conn.SetReadDeadline(time.Now().Add(readDeadline))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(readDeadline))
		return nil
	})

	stopPing := make(chan struct{})
	defer close(stopPing)
	go s.pingLoop(c, stopPing)

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Debug("websocket read error", log.Error(err))
			}
			return
		}

		resp := s.dispatch(c, data)
		if resp == nil {
			continue
		}
		if err := c.writeJSON(resp); err != nil {
			s.logger.Debug("response write failed", log.Error(err))
			return
		}
	}
}

func (s *Server) pingLoop(c *wsConn, stop <-chan struct{}) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-s.shutdownCh:
			return
		case <-ticker.C:
			deadline := time.Now().Add(10 * time.Second)
			if err := c.conn.WriteControl(websocket.PingMessage, []byte{}, deadline); err != nil {
				return
			}
		}
	}
}

// dispatch parses and routes one inbound frame. A nil return means no
// response should be written.
func (s *Server) dispatch(c *wsConn, data []byte) *Message {
	req, err := ParseMessage(data)
	if err != nil {
		s.logger.Debug("rejected malformed message", log.Error(err))
		return NewErrorResponse("", "invalid_message", err.Error())
	}

	if req.Type != MessageTypeRequest {
		return nil
	}

	if !c.limiter.Allow() {
		requestsTotal.WithLabelValues(req.Method, "throttled").Inc()
		return NewErrorResponse(req.CorrelationID, "rate_limited", "too many requests")
	}

	s.mu.RLock()
	handler, ok := s.handlers[req.Method]
	s.mu.RUnlock()

	if !ok {
		requestsTotal.WithLabelValues(req.Method, "not_found").Inc()
		return NewErrorResponse(req.CorrelationID, "method_not_found", req.Method)
	}

	resp, err := handler(context.Background(), req)
	if err != nil {
		// Handlers fail soft; an error here is a host-side defect.
		s.logger.Error("handler failed", "method", req.Method, log.Error(err))
		requestsTotal.WithLabelValues(req.Method, "error").Inc()
		return NewErrorResponse(req.CorrelationID, "internal", err.Error())
	}

	requestsTotal.WithLabelValues(req.Method, "ok").Inc()
	return resp
}

// Shutdown gracefully closes all connections and stops the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrServerClosed
	}
	s.closed = true
	s.mu.Unlock()

	var shutdownErr error
	s.shutdownOnce.Do(func() {
		close(s.shutdownCh)
		s.logger.Info("gateway shutting down")

		shutdownCtx, cancel := context.WithTimeout(ctx, s.cfg.ShutdownTimeout)
		defer cancel()

		s.connMu.Lock()
		for c := range s.connections {
			c.conn.WriteControl(
				websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "host shutdown"),
				time.Now().Add(time.Second),
			)
			c.conn.Close()
		}
		s.connMu.Unlock()

		if s.httpServer != nil {
			if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
				if errors.Is(err, context.DeadlineExceeded) {
					shutdownErr = ErrShutdownTimeout
				} else {
					shutdownErr = err
				}
			}
		}
	})

	return shutdownErr
}
