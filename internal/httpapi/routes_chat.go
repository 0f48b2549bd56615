package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"taskflow/server/internal/chat"
	"taskflow/server/internal/chatstore"
)

// maxChatMessageLength bounds one chat turn; longer input is rejected before
// anything is persisted.
const maxChatMessageLength = 2000

func (s *Server) registerChatRoutes() {
	s.mux.HandleFunc("/api/chat", s.handleChat)
	s.mux.HandleFunc("/api/conversations", s.handleConversationsCollection)
	s.mux.HandleFunc("/api/conversations/", s.handleConversationItem)
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	owner, ok := s.requireOwner(w, r)
	if !ok {
		return
	}
	if r.Method != http.MethodPost {
		respondError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed")
		return
	}
	var body struct {
		Message        string `json:"message"`
		ConversationID *int64 `json:"conversation_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", "request body must be a JSON object")
		return
	}
	message := strings.TrimSpace(body.Message)
	if message == "" {
		respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", "message is required")
		return
	}
	if utf8.RuneCountInString(message) > maxChatMessageLength {
		respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", "message must be at most 2000 characters")
		return
	}

	result, err := s.deps.Chat.HandleMessage(r.Context(), owner, body.ConversationID, message)
	if err != nil {
		if errors.Is(err, chat.ErrConversationNotFound) {
			respondError(w, http.StatusNotFound, "NOT_FOUND", "conversation not found")
			return
		}
		s.logger.Error("chat turn failed", "error", err)
		respondError(w, http.StatusBadGateway, "AGENT_FAILED", "assistant is unavailable, your message was saved")
		return
	}
	s.publishEvent("chat.message", owner, map[string]any{
		"conversation_id": result.ConversationID,
		"message":         messageJSON(result.Reply),
	})
	respondOK(w, map[string]any{
		"conversation_id": result.ConversationID,
		"user_message":    messageJSON(result.UserMessage),
		"reply":           messageJSON(result.Reply),
	})
}

func (s *Server) handleConversationsCollection(w http.ResponseWriter, r *http.Request) {
	owner, ok := s.requireOwner(w, r)
	if !ok {
		return
	}
	if r.Method != http.MethodGet {
		respondError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed")
		return
	}
	limit := queryInt(r, "limit", 0)
	offset := queryInt(r, "offset", 0)
	summaries, total, err := s.deps.Conversations.ListConversations(owner, limit, offset)
	if err != nil {
		s.logger.Error("list conversations failed", "error", err)
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "list conversations failed")
		return
	}
	out := make([]map[string]any, 0, len(summaries))
	for _, summary := range summaries {
		out = append(out, map[string]any{
			"id":                   summary.ID,
			"created_at":           summary.CreatedAt.Format(time.RFC3339),
			"updated_at":           summary.UpdatedAt.Format(time.RFC3339),
			"message_count":        summary.MessageCount,
			"last_message_preview": summary.LastMessagePreview,
		})
	}
	respondOK(w, map[string]any{"conversations": out, "total": total})
}

func (s *Server) handleConversationItem(w http.ResponseWriter, r *http.Request) {
	owner, ok := s.requireOwner(w, r)
	if !ok {
		return
	}
	parts := strings.Split(strings.TrimPrefix(r.URL.Path, "/api/conversations/"), "/")
	if len(parts) == 0 || parts[0] == "" {
		respondError(w, http.StatusNotFound, "NOT_FOUND", "route not found")
		return
	}
	conversationID, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", "conversation id must be an integer")
		return
	}
	switch {
	case len(parts) == 2 && parts[1] == "messages" && r.Method == http.MethodGet:
		s.handleConversationMessages(w, r, owner, conversationID)
	case len(parts) == 1 && r.Method == http.MethodDelete:
		s.handleDeleteConversation(w, owner, conversationID)
	default:
		respondError(w, http.StatusNotFound, "NOT_FOUND", "route not found")
	}
}

func (s *Server) handleConversationMessages(w http.ResponseWriter, r *http.Request, owner uuid.UUID, conversationID int64) {
	limit := queryInt(r, "limit", 0)
	offset := queryInt(r, "offset", 0)
	messages, total, hasMore, err := s.deps.Conversations.GetMessages(conversationID, owner, limit, offset)
	if err != nil {
		s.logger.Error("get messages failed", "conversation_id", conversationID, "error", err)
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "get messages failed")
		return
	}
	if total == 0 && messages == nil {
		// GetMessages reports nothing for a missing or foreign conversation
		respondError(w, http.StatusNotFound, "NOT_FOUND", "conversation not found")
		return
	}
	out := make([]map[string]any, 0, len(messages))
	for _, msg := range messages {
		out = append(out, messageJSON(msg))
	}
	respondOK(w, map[string]any{"messages": out, "total": total, "has_more": hasMore})
}

func (s *Server) handleDeleteConversation(w http.ResponseWriter, owner uuid.UUID, conversationID int64) {
	deleted, err := s.deps.Conversations.DeleteConversation(conversationID, owner)
	if err != nil {
		s.logger.Error("delete conversation failed", "conversation_id", conversationID, "error", err)
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "delete conversation failed")
		return
	}
	if !deleted {
		respondError(w, http.StatusNotFound, "NOT_FOUND", "conversation not found")
		return
	}
	respondOK(w, map[string]any{"deleted": true, "conversation_id": conversationID})
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}

func messageJSON(msg chatstore.Message) map[string]any {
	out := map[string]any{
		"id":              msg.ID,
		"conversation_id": msg.ConversationID,
		"role":            string(msg.Role),
		"content":         msg.Content,
		"created_at":      msg.CreatedAt.Format(time.RFC3339),
	}
	if len(msg.ToolCalls) > 0 {
		calls := make([]map[string]any, 0, len(msg.ToolCalls))
		for _, call := range msg.ToolCalls {
			calls = append(calls, map[string]any{
				"tool":   call.Tool,
				"input":  call.Input,
				"output": call.Output,
			})
		}
		out["tool_calls"] = calls
	}
	return out
}
