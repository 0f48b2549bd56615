// Package httpapi is the HTTP surface: task CRUD, chat, conversation
// history and the websocket event feed. Callers identify themselves with the
// X-User-Id header; this layer trusts it and scopes every operation to it.
package httpapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"taskflow/server/internal/chat"
	"taskflow/server/internal/chatstore"
	"taskflow/server/internal/taskstore"
)

type TaskService interface {
	Create(ownerID uuid.UUID, title, description string) (taskstore.Task, error)
	List(ownerID uuid.UUID, filter taskstore.StatusFilter) ([]taskstore.Task, error)
	UpdateText(ownerID, taskID uuid.UUID, title, description string) (taskstore.Task, bool, error)
	ToggleCompletion(ownerID, taskID uuid.UUID) (taskstore.Task, bool, error)
	Delete(ownerID, taskID uuid.UUID) (bool, error)
}

type ConversationService interface {
	ListConversations(ownerID uuid.UUID, limit, offset int) ([]chatstore.ConversationSummary, int64, error)
	GetMessages(conversationID int64, ownerID uuid.UUID, limit, offset int) ([]chatstore.Message, int64, bool, error)
	DeleteConversation(conversationID int64, ownerID uuid.UUID) (bool, error)
}

type ChatHandler interface {
	HandleMessage(ctx context.Context, ownerID uuid.UUID, conversationID *int64, text string) (*chat.Result, error)
}

type Deps struct {
	Tasks         TaskService
	Conversations ConversationService
	Chat          ChatHandler
	Logger        *slog.Logger
}

type Server struct {
	deps   Deps
	mux    *http.ServeMux
	hub    *WSHub
	logger *slog.Logger
}

func NewServer(deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{deps: deps, mux: http.NewServeMux(), hub: NewWSHub(), logger: logger}
	s.registerTaskRoutes()
	s.registerChatRoutes()
	s.mux.HandleFunc("/healthz", s.handleHealth)
	s.mux.HandleFunc("/ws", s.hub.HandleWS)
	return s
}

func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondOK(w, map[string]any{"status": "ok"})
}

// requireOwner extracts the calling user from X-User-Id. It writes the error
// response itself; callers bail out when ok is false.
func (s *Server) requireOwner(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	raw := strings.TrimSpace(r.Header.Get("X-User-Id"))
	if raw == "" {
		respondError(w, http.StatusUnauthorized, "UNAUTHORIZED", "X-User-Id header is required")
		return uuid.Nil, false
	}
	owner, err := uuid.Parse(raw)
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_USER", "X-User-Id must be a UUID")
		return uuid.Nil, false
	}
	return owner, true
}

func respondOK(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "data": data})
}

func respondCreated(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusCreated, map[string]any{"ok": true, "data": data})
}

func respondError(w http.ResponseWriter, code int, errCode string, msg string) {
	writeJSON(w, code, map[string]any{"ok": false, "error": map[string]any{"code": errCode, "message": msg}})
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}

func (s *Server) publishEvent(topic string, ownerID uuid.UUID, payload map[string]any) {
	if s.hub == nil {
		return
	}
	s.hub.Publish(topic, ownerID, payload)
}
