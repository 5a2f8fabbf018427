// Package api implements the HTTP ops surface: health and status
// endpoints, a simple chat endpoint for testing, context injection, and
// a WebSocket stream of runtime events.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/skaldbot/skald/internal/acp"
	"github.com/skaldbot/skald/internal/buildinfo"
	"github.com/skaldbot/skald/internal/bridge"
	"github.com/skaldbot/skald/internal/deliver"
	"github.com/skaldbot/skald/internal/events"
	"github.com/skaldbot/skald/internal/msgqueue"
)

// writeJSON encodes v as JSON to w, logging any errors at debug level.
// Errors here typically mean the client disconnected mid-response.
func writeJSON(w http.ResponseWriter, v any, logger *slog.Logger) {
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Debug("failed to write JSON response", "error", err)
	}
}

// Runtime is the slice of the session runtime the API needs.
type Runtime interface {
	Status() acp.Status
	EnsureSession(ctx context.Context) error
	Cancel(ctx context.Context) error
}

// Bridge is the slice of the message bridge the API needs.
type Bridge interface {
	HandleMessage(ctx context.Context, chat bridge.ChatContext) *msgqueue.Item
	QueueContext(source, text string) error
	QueueDepth() int
}

// Server is the HTTP ops server.
type Server struct {
	address string
	port    int
	runtime Runtime
	bridge  Bridge
	bus     *events.Bus
	logger  *slog.Logger
	server  *http.Server
}

// NewServer creates an ops server.
func NewServer(address string, port int, runtime Runtime, br Bridge, bus *events.Bus, logger *slog.Logger) *Server {
	return &Server{
		address: address,
		port:    port,
		runtime: runtime,
		bridge:  br,
		bus:     bus,
		logger:  logger,
	}
}

// Handler builds the route table. Exposed for tests.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /", s.handleRoot)
	mux.HandleFunc("GET /v1/version", s.handleVersion)
	mux.HandleFunc("GET /v1/status", s.handleStatus)

	mux.HandleFunc("POST /v1/chat", s.handleChat)
	mux.HandleFunc("POST /v1/context", s.handleContext)
	mux.HandleFunc("POST /v1/cancel", s.handleCancel)
	mux.HandleFunc("POST /v1/session/ensure", s.handleEnsureSession)

	mux.HandleFunc("GET /v1/events", s.handleEvents)

	return s.withLogging(mux)
}

// Start begins serving HTTP requests. Blocks until the listener fails
// or Shutdown is called.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", s.address, s.port),
		Handler:      s.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // long-lived event streams
	}

	addr := s.address
	if addr == "" {
		addr = "0.0.0.0"
	}
	s.logger.Info("starting API server", "address", addr, "port", s.port)
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"duration", time.Since(start),
		)
	})
}

func (s *Server) errorResponse(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	writeJSON(w, map[string]string{"error": message}, s.logger)
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]string{
		"name":    "Skald",
		"version": buildinfo.Version,
		"status":  "ok",
	}, s.logger)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]string{"status": "healthy"}, s.logger)
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, buildinfo.Info(), s.logger)
}

// StatusResponse is the /v1/status payload.
type StatusResponse struct {
	Session    acp.Status `json:"session"`
	QueueDepth int        `json:"queue_depth"`
	Uptime     string     `json:"uptime"`
	Version    string     `json:"version"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, StatusResponse{
		Session:    s.runtime.Status(),
		QueueDepth: s.bridge.QueueDepth(),
		Uptime:     buildinfo.Uptime().Truncate(time.Second).String(),
		Version:    buildinfo.Version,
	}, s.logger)
}

// ChatRequest is the /v1/chat request body.
type ChatRequest struct {
	Text string `json:"text"`
}

// ChatResponse is the /v1/chat response body. Messages holds the reply
// exactly as it would be sent to a chat platform, already split into
// delivery-safe chunks.
type ChatResponse struct {
	Messages []string `json:"messages"`
	HTML     []string `json:"html,omitempty"`
}

// httpChat adapts one HTTP chat request to the bridge's chat contract.
// Replies are collected instead of sent anywhere.
type httpChat struct {
	text string

	mu       sync.Mutex
	messages []string
}

func (c *httpChat) Text() string { return c.text }

func (c *httpChat) StartTyping() func() { return func() {} }

func (c *httpChat) SendText(ctx context.Context, text string) error {
	c.mu.Lock()
	c.messages = append(c.messages, text)
	c.mu.Unlock()
	return nil
}

func (c *httpChat) collected() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.messages...)
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		s.errorResponse(w, http.StatusBadRequest, "text is required")
		return
	}

	chat := &httpChat{text: req.Text}
	item := s.bridge.HandleMessage(r.Context(), chat)
	if err := item.Wait(r.Context()); err != nil {
		// The bridge already rendered a user-facing failure message
		// into the chat; surface both to the API caller.
		s.logger.Warn("chat request failed", "error", err)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadGateway)
		writeJSON(w, map[string]any{
			"error":    err.Error(),
			"messages": chat.collected(),
		}, s.logger)
		return
	}

	resp := ChatResponse{Messages: chat.collected()}
	if r.URL.Query().Get("format") == "html" {
		for _, m := range resp.Messages {
			html, err := deliver.RenderHTML(m)
			if err != nil {
				s.logger.Debug("markdown render failed", "error", err)
				continue
			}
			resp.HTML = append(resp.HTML, html)
		}
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, resp, s.logger)
}

// ContextRequest is the /v1/context request body.
type ContextRequest struct {
	Source string `json:"source"`
	Text   string `json:"text"`
}

func (s *Server) handleContext(w http.ResponseWriter, r *http.Request) {
	var req ContextRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		s.errorResponse(w, http.StatusBadRequest, "text is required")
		return
	}
	source := req.Source
	if source == "" {
		source = "api"
	}

	if err := s.bridge.QueueContext(source, req.Text); err != nil {
		s.errorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]string{"status": "accepted"}, s.logger)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	if err := s.runtime.Cancel(r.Context()); err != nil {
		s.errorResponse(w, http.StatusConflict, err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]string{"status": "cancel requested"}, s.logger)
}

func (s *Server) handleEnsureSession(w http.ResponseWriter, r *http.Request) {
	if err := s.runtime.EnsureSession(r.Context()); err != nil {
		s.errorResponse(w, http.StatusBadGateway, err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]string{"status": "ready"}, s.logger)
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4 * 1024,
	WriteBufferSize: 64 * 1024,
}

// handleEvents streams runtime events over a WebSocket, one JSON object
// per message, until the client disconnects.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.bus == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "event bus not available")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	sub := s.bus.Subscribe(64)
	defer s.bus.Unsubscribe(sub)

	s.logger.Info("event stream client connected", "remote", r.RemoteAddr)

	// Reader goroutine: only to observe the close.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-done:
			s.logger.Info("event stream client disconnected", "remote", r.RemoteAddr)
			return
		case <-r.Context().Done():
			return
		case evt, ok := <-sub:
			if !ok {
				return
			}
			if err := conn.WriteJSON(evt); err != nil {
				s.logger.Debug("event stream write failed", "error", err)
				return
			}
		}
	}
}
