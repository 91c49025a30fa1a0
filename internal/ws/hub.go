package ws

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"messaging-service/internal/models"
	"messaging-service/internal/observability"
)

// Hub is the realtime event channel for conversations. It fans message
// events out to the websocket connections attached to a conversation and to
// in-process subscribers (live views) registered through Subscribe.
type Hub struct {
	mu          sync.RWMutex
	rooms       map[string]map[*websocket.Conn]ConnInfo
	subscribers map[string]map[int64]func(models.MessageEvent)
	nextSubID   int64
	log         *zap.Logger
}

// NewHub creates an empty hub.
func NewHub(log *zap.Logger) *Hub {
	if log == nil {
		log = zap.NewNop()
	}
	return &Hub{
		rooms:       make(map[string]map[*websocket.Conn]ConnInfo),
		subscribers: make(map[string]map[int64]func(models.MessageEvent)),
		log:         log,
	}
}

// AddClient registers a websocket connection to a conversation room.
func (h *Hub) AddClient(conversationID string, conn *websocket.Conn, info ConnInfo) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.rooms[conversationID]; !ok {
		h.rooms[conversationID] = make(map[*websocket.Conn]ConnInfo)
	}
	h.rooms[conversationID][conn] = info
}

// RemoveClient removes a websocket connection from a conversation room.
func (h *Hub) RemoveClient(conversationID string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if conns, ok := h.rooms[conversationID]; ok {
		delete(conns, conn)
		if len(conns) == 0 {
			delete(h.rooms, conversationID)
		}
	}
}

// Subscribe attaches an in-process handler to a conversation's event stream
// and returns its disposer. The disposer is idempotent.
func (h *Hub) Subscribe(conversationID string, handler func(models.MessageEvent)) func() {
	h.mu.Lock()
	id := h.nextSubID
	h.nextSubID++
	if _, ok := h.subscribers[conversationID]; !ok {
		h.subscribers[conversationID] = make(map[int64]func(models.MessageEvent))
	}
	h.subscribers[conversationID][id] = handler
	h.mu.Unlock()

	return func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if subs, ok := h.subscribers[conversationID]; ok {
			delete(subs, id)
			if len(subs) == 0 {
				delete(h.subscribers, conversationID)
			}
		}
	}
}

// BroadcastMessageCreated notifies the conversation of a new message.
func (h *Hub) BroadcastMessageCreated(conversationID string, msg models.Message) {
	h.broadcast(conversationID, models.MessageEvent{Type: models.EventMessageCreated, Message: &msg})
}

// BroadcastMessageUpdated notifies the conversation of a status change.
func (h *Hub) BroadcastMessageUpdated(conversationID string, msg models.Message) {
	h.broadcast(conversationID, models.MessageEvent{Type: models.EventMessageUpdated, Message: &msg})
}

// broadcast snapshots the room under the read lock and delivers with the
// lock released, so a subscriber may unsubscribe (or a view may close) from
// inside its handler without deadlocking.
func (h *Hub) broadcast(conversationID string, event models.MessageEvent) {
	h.mu.RLock()
	conns := make(map[*websocket.Conn]ConnInfo, len(h.rooms[conversationID]))
	for conn, info := range h.rooms[conversationID] {
		conns[conn] = info
	}
	handlers := make([]func(models.MessageEvent), 0, len(h.subscribers[conversationID]))
	for _, fn := range h.subscribers[conversationID] {
		handlers = append(handlers, fn)
	}
	h.mu.RUnlock()

	payload, err := json.Marshal(event)
	if err != nil {
		h.log.Error("marshal message event", zap.Error(err))
		return
	}

	for conn, info := range conns {
		if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			h.log.Warn("websocket write failed",
				zap.String("conversation_id", conversationID),
				zap.String("conn_id", info.ConnID),
				zap.Error(err))
			conn.Close()
			h.RemoveClient(conversationID, conn)
			h.publishConnError(conversationID, info, err)
		}
	}

	for _, fn := range handlers {
		fn(event)
	}
}

func (h *Hub) publishConnError(conversationID string, info ConnInfo, err error) {
	observability.IncWSEvent("ws_error")
	headers := observability.BuildHeaders(info.RequestID, info.TraceID)
	_ = observability.PublishEvent(context.Background(), "ws_events.conversations", observability.EventEnvelope{
		EventType: "ws_events",
		EventName: "ws_error",
		Payload: connEventPayload(conversationID, info, "ws_error", err.Error(), time.Since(info.ConnectedAt)),
	}, headers)
}
