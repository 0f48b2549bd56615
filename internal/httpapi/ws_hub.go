package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
)

// WSHub fans task and chat events out to connected clients. A client
// subscribes to one owner's events by passing ?user_id on the upgrade
// request; events for other owners are not delivered to it.
type WSHub struct {
	mu      sync.RWMutex
	clients map[*websocket.Conn]uuid.UUID
	seq     atomic.Uint64
}

func NewWSHub() *WSHub {
	return &WSHub{clients: map[*websocket.Conn]uuid.UUID{}}
}

func (h *WSHub) HandleWS(w http.ResponseWriter, r *http.Request) {
	owner, err := uuid.Parse(r.URL.Query().Get("user_id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_USER", "user_id query parameter must be a UUID")
		return
	}
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}
	h.mu.Lock()
	h.clients[conn] = owner
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		delete(h.clients, conn)
		h.mu.Unlock()
		_ = conn.Close(websocket.StatusNormalClosure, "")
	}()

	ctx := r.Context()
	for {
		if _, _, err := conn.Read(ctx); err != nil {
			return
		}
	}
}

func (h *WSHub) Publish(topic string, ownerID uuid.UUID, payload map[string]any) {
	evt := map[string]any{
		"id":      fmt.Sprintf("evt_%d", h.seq.Add(1)),
		"type":    "event",
		"topic":   topic,
		"payload": payload,
	}
	msg, err := json.Marshal(evt)
	if err != nil {
		return
	}

	h.mu.RLock()
	conns := make([]*websocket.Conn, 0, len(h.clients))
	for conn, owner := range h.clients {
		if owner == ownerID {
			conns = append(conns, conn)
		}
	}
	h.mu.RUnlock()

	for _, conn := range conns {
		ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
		_ = conn.Write(ctx, websocket.MessageText, msg)
		cancel()
	}
}
