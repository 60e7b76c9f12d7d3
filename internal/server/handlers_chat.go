package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/agentd/internal/queue"
	"github.com/nextlevelbuilder/agentd/pkg/protocol"
)

type chatRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"session_id,omitempty"`
	Priority  int    `json:"priority,omitempty"`
}

func (s *Server) parseChatRequest(w http.ResponseWriter, r *http.Request) (chatRequest, uuid.UUID, bool) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return req, uuid.Nil, false
	}
	req.Message = strings.TrimSpace(req.Message)
	if req.Message == "" {
		writeError(w, http.StatusBadRequest, "message is required")
		return req, uuid.Nil, false
	}
	if max := s.cfg.Snapshot().Server.MaxMessageChars; max > 0 && utf8.RuneCountInString(req.Message) > max {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("message exceeds %d characters", max))
		return req, uuid.Nil, false
	}
	if req.Priority == 0 {
		req.Priority = queue.PriorityNormal
	}

	sessionID := uuid.Nil
	if req.SessionID != "" {
		id, err := uuid.Parse(req.SessionID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid session_id")
			return req, uuid.Nil, false
		}
		sessionID = id
	}
	return req, sessionID, true
}

// handleChat runs one buffered turn through the admission queue and
// returns the full result.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	req, sessionID, ok := s.parseChatRequest(w, r)
	if !ok {
		return
	}

	result, err := s.dispatch.submit(r.Context(), sessionID, req.Message, req.Priority)
	if err != nil {
		if errors.Is(err, queue.ErrQueueFull) {
			writeError(w, http.StatusServiceUnavailable, "server busy, try again later")
			return
		}
		slog.Error("chat run failed", "session_id", sessionID, "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleChatStream runs one turn streaming chunks as SSE frames. Every
// chunk also fans out to WebSocket subscribers through the hub. Streaming
// bypasses the admission queue: the connection must be open before the
// first chunk.
func (s *Server) handleChatStream(w http.ResponseWriter, r *http.Request) {
	req, sessionID, ok := s.parseChatRequest(w, r)
	if !ok {
		return
	}

	flusher, canFlush := w.(http.Flusher)
	if !canFlush {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	emit := func(chunk protocol.StreamChunk) {
		data, err := json.Marshal(chunk)
		if err != nil {
			slog.Error("marshal chunk failed", "error", err)
			return
		}
		fmt.Fprintf(w, "data: %s\n\n", data)
		flusher.Flush()

		s.hub.Broadcast(protocol.Event{Name: protocol.EventChunk, Payload: chunk})
	}

	if err := s.agent.RunStream(r.Context(), sessionID, req.Message, emit); err != nil {
		// The terminal error chunk already went out; log for the operator.
		slog.Error("chat stream failed", "session_id", sessionID, "error", err)
	}
}

type titleRequest struct {
	SessionID string `json:"session_id"`
}

func (s *Server) handleTitle(w http.ResponseWriter, r *http.Request) {
	var req titleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	sessionID, err := uuid.Parse(req.SessionID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid session_id")
		return
	}

	title, err := s.agent.GenerateTitle(r.Context(), sessionID)
	if err != nil {
		if strings.Contains(err.Error(), "not found") {
			writeError(w, http.StatusNotFound, err.Error())
		} else {
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"session_id": sessionID.String(),
		"title":      title,
	})
}

func (s *Server) handleInterrupt(w http.ResponseWriter, r *http.Request) {
	sessionID, err := uuid.Parse(r.PathValue("session_id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid session_id")
		return
	}

	if !s.agent.Interrupt(sessionID) {
		writeError(w, http.StatusNotFound, "no active run for session")
		return
	}
	slog.Info("run interrupted", "session_id", sessionID)
	writeJSON(w, http.StatusOK, map[string]string{
		"session_id": sessionID.String(),
		"status":     "interrupted",
	})
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"agent":  s.agent.Stats(),
		"memory": s.agent.Memory().StatsGlobal(),
		"queue":  s.dispatch.stats(),
	})
}
