// Package server exposes the agent runtime over HTTP, SSE, and WebSocket.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/nextlevelbuilder/agentd/internal/agent"
	"github.com/nextlevelbuilder/agentd/internal/config"
	"github.com/nextlevelbuilder/agentd/internal/events"
	"github.com/nextlevelbuilder/agentd/pkg/protocol"
)

// Server routes HTTP and WebSocket traffic to the agent runtime.
type Server struct {
	cfg   *config.Config
	agent *agent.ChatAgent
	hub   *events.Hub

	upgrader   websocket.Upgrader
	limiter    *rate.Limiter
	httpServer *http.Server
	mux        *http.ServeMux

	dispatch       *chatDispatcher
	dispatchCancel context.CancelFunc
}

func NewServer(cfg *config.Config, chatAgent *agent.ChatAgent, hub *events.Hub) *Server {
	s := &Server{
		cfg:   cfg,
		agent: chatAgent,
		hub:   hub,
	}

	dispatchCtx, cancel := context.WithCancel(context.Background())
	s.dispatchCancel = cancel
	s.dispatch = newChatDispatcher(chatAgent, cfg.Snapshot().Queue)
	s.dispatch.start(dispatchCtx)
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}

	// rate_limit_rpm > 0 enables the global limiter; anything else disables.
	if rpm := cfg.Snapshot().Server.RateLimitRPM; rpm > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(float64(rpm)/60.0), 5)
	}
	return s
}

// checkOrigin validates the WebSocket Origin header against the allow-list.
// No configured origins allows everything; an empty Origin header
// (non-browser clients) is always allowed.
func (s *Server) checkOrigin(r *http.Request) bool {
	allowed := s.cfg.Snapshot().Server.AllowedOrigins
	if len(allowed) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, a := range allowed {
		if origin == a || a == "*" {
			return true
		}
	}
	slog.Warn("websocket origin rejected", "origin", origin)
	return false
}

// BuildMux registers all routes. Health stays unauthenticated; everything
// else goes through the auth + rate-limit wrapper.
func (s *Server) BuildMux() *http.ServeMux {
	if s.mux != nil {
		return s.mux
	}
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /ws", s.guard(s.handleWebSocket))

	mux.HandleFunc("POST /chat", s.guard(s.handleChat))
	mux.HandleFunc("POST /chat/stream", s.guard(s.handleChatStream))
	mux.HandleFunc("POST /chat/title", s.guard(s.handleTitle))
	mux.HandleFunc("POST /chat/interrupt/{session_id}", s.guard(s.handleInterrupt))
	mux.HandleFunc("GET /chat/stats", s.guard(s.handleStats))

	mux.HandleFunc("GET /sessions", s.guard(s.handleListSessions))
	mux.HandleFunc("GET /sessions/{id}", s.guard(s.handleGetSession))
	mux.HandleFunc("DELETE /sessions/{id}", s.guard(s.handleDeleteSession))
	mux.HandleFunc("GET /sessions/{id}/todo", s.guard(s.handleGetTodo))

	s.mux = mux
	return mux
}

// Start serves until the context is cancelled.
func (s *Server) Start(ctx context.Context) error {
	mux := s.BuildMux()
	snap := s.cfg.Snapshot()

	addr := fmt.Sprintf("%s:%d", snap.Server.Host, snap.Server.Port)
	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	slog.Info("server starting", "addr", addr)

	go func() {
		<-ctx.Done()
		s.hub.Broadcast(protocol.Event{Name: protocol.EventShutdown})
		s.dispatch.waitDrain(5 * time.Second)
		s.dispatchCancel()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.httpServer.Shutdown(shutdownCtx)
	}()

	if err := s.httpServer.ListenAndServe(); err != http.ErrServerClosed {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Close stops the dispatcher workers. Start handles this on context
// cancellation; Close is for embedders that never call Start.
func (s *Server) Close() {
	s.dispatchCancel()
}

// guard wraps a handler with bearer auth and the global rate limiter.
func (s *Server) guard(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if token := s.cfg.Snapshot().Server.Token; token != "" {
			header := r.Header.Get("Authorization")
			got, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || got != token {
				writeError(w, http.StatusUnauthorized, "invalid or missing token")
				return
			}
		}
		if s.limiter != nil && !s.limiter.Allow() {
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next(w, r)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":   "ok",
		"protocol": protocol.ProtocolVersion,
	})
}

// handleWebSocket upgrades the connection and forwards hub events until
// the client goes away.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	client := newWSClient(conn)
	s.hub.Subscribe(client.id, client.enqueue)
	defer s.hub.Unsubscribe(client.id)

	slog.Info("websocket client connected", "id", client.id)
	client.run(r.Context())
	slog.Info("websocket client disconnected", "id", client.id)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("write response failed", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
