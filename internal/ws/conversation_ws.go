package ws

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"messaging-service/internal/middleware"
	"messaging-service/internal/observability"
	"messaging-service/internal/presence"
	"messaging-service/internal/repositories"
)

// ConversationWebSocketHandler attaches clients to a conversation's event
// stream.
type ConversationWebSocketHandler struct {
	hub              *Hub
	conversationRepo repositories.ConversationRepository
	presence         presence.Tracker
	jwtSecret        []byte
	log              *zap.Logger
}

// NewConversationWebSocketHandler constructs the handler.
func NewConversationWebSocketHandler(hub *Hub, conversationRepo repositories.ConversationRepository, tracker presence.Tracker, jwtSecret []byte, log *zap.Logger) *ConversationWebSocketHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &ConversationWebSocketHandler{
		hub:              hub,
		conversationRepo: conversationRepo,
		presence:         tracker,
		jwtSecret:        jwtSecret,
		log:              log,
	}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Handle authenticates the caller, verifies membership and upgrades the
// connection. Teardown is owned by the read loop: whatever ends the
// connection, the client leaves the room and a disconnect event goes out.
func (h *ConversationWebSocketHandler) Handle(c *gin.Context) {
	conversationID := c.Param("conversation_id")

	ctx, span := otel.Tracer("messaging-service/ws").Start(c.Request.Context(), "ws.handshake")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	token := bearerToken(c)
	if token == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing token"})
		return
	}
	userID, err := middleware.ParseToken(h.jwtSecret, token)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}

	member, err := h.conversationRepo.IsParticipant(c.Request.Context(), conversationID, userID)
	if err != nil || !member {
		c.JSON(http.StatusForbidden, gin.H{"error": "not a conversation participant"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}

	info := ConnInfo{
		ConnID:      newConnID(),
		UserID:      userID,
		DeviceID:    observability.DeviceIDFromRequest(c.Request),
		IP:          observability.IPFromRequest(c.Request),
		RequestID:   observability.RequestIDFromRequest(c.Request),
		TraceID:     span.SpanContext().TraceID().String(),
		ConnectedAt: time.Now(),
	}
	h.hub.AddClient(conversationID, conn, info)

	if err := h.presence.MarkOnline(c.Request.Context(), userID); err != nil {
		h.log.Warn("presence refresh failed", zap.String("user_id", userID), zap.Error(err))
	}

	observability.IncWSActive()
	h.emitConnEvent(ctx, conversationID, info, "ws_connect", "")

	go h.readLoop(ctx, conversationID, conn, info)
}

func (h *ConversationWebSocketHandler) readLoop(ctx context.Context, conversationID string, conn *websocket.Conn, info ConnInfo) {
	var closeReason string
	defer func() {
		h.hub.RemoveClient(conversationID, conn)
		observability.DecWSActive()
		h.emitConnEvent(ctx, conversationID, info, "ws_disconnect", closeReason)
		conn.Close()
	}()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			closeReason = err.Error()
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.emitConnEvent(ctx, conversationID, info, "ws_error", closeReason)
			}
			return
		}
		// Any client frame counts as a liveness signal.
		if err := h.presence.MarkOnline(ctx, info.UserID); err != nil {
			h.log.Warn("presence refresh failed", zap.String("user_id", info.UserID), zap.Error(err))
		}
	}
}

func (h *ConversationWebSocketHandler) emitConnEvent(ctx context.Context, conversationID string, info ConnInfo, event, reason string) {
	observability.IncWSEvent(event)
	elapsed := time.Duration(0)
	if event != "ws_connect" {
		elapsed = time.Since(info.ConnectedAt)
	}
	headers := observability.BuildHeaders(info.RequestID, info.TraceID)
	if err := observability.PublishEvent(ctx, "ws_events.conversations", observability.EventEnvelope{
		EventType: "ws_events",
		EventName: event,
		Payload:   connEventPayload(conversationID, info, event, reason, elapsed),
	}, headers); err != nil {
		h.log.Warn("ws event publish failed", zap.String("event", event), zap.Error(err))
	}
}

func bearerToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	if header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
			return parts[1]
		}
		return ""
	}
	return c.Query("token")
}
