package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"messaging-service/internal/middleware"
	"messaging-service/internal/models"
	"messaging-service/internal/observability"
	"messaging-service/internal/repositories"
	"messaging-service/internal/telemetry"
	"messaging-service/internal/ws"
)

// MessageHandler serves the message log endpoints.
type MessageHandler struct {
	conversationRepo repositories.ConversationRepository
	messageRepo      repositories.MessageRepository
	userRepo         repositories.UserRepository
	hub              *ws.Hub
	emitter          *telemetry.AuditEmitter
	log              *zap.Logger
}

// NewMessageHandler builds a MessageHandler.
func NewMessageHandler(conversationRepo repositories.ConversationRepository, messageRepo repositories.MessageRepository, userRepo repositories.UserRepository, hub *ws.Hub, emitter *telemetry.AuditEmitter, log *zap.Logger) *MessageHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &MessageHandler{
		conversationRepo: conversationRepo,
		messageRepo:      messageRepo,
		userRepo:         userRepo,
		hub:              hub,
		emitter:          emitter,
		log:              log,
	}
}

// ListMessages returns a conversation's messages in chronological order.
// An optional ?since=<seq> cursor restricts the read to newer messages,
// which is how clients catch up after a dropped stream.
func (h *MessageHandler) ListMessages(c *gin.Context) {
	conversationID := c.Param("conversation_id")

	var sinceSeq int64
	if raw := c.Query("since"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || parsed < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid since cursor"})
			return
		}
		sinceSeq = parsed
	}

	userID := c.GetString(middleware.UserIDContextKey)
	conv, err := h.conversationRepo.GetConversation(c.Request.Context(), conversationID)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, repositories.ErrConversationNotFound) {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"error": "conversation not found"})
		return
	}
	if !conv.HasParticipant(userID) {
		c.JSON(http.StatusForbidden, gin.H{"error": "not a conversation participant"})
		return
	}

	msgs, err := h.messageRepo.ListMessages(c.Request.Context(), conversationID, sinceSeq)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load messages"})
		return
	}

	senderIDs := make([]string, 0, 2)
	seen := map[string]struct{}{}
	for _, m := range msgs {
		if _, ok := seen[m.SenderID]; !ok {
			seen[m.SenderID] = struct{}{}
			senderIDs = append(senderIDs, m.SenderID)
		}
	}

	profiles, err := h.userRepo.BulkProfiles(c.Request.Context(), senderIDs)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load senders"})
		return
	}
	names := make(map[string]string, len(profiles))
	for _, p := range profiles {
		names[p.ID] = p.DisplayName
	}

	type messageResponse struct {
		models.Message
		SenderDisplayName string `json:"sender_display_name,omitempty"`
	}

	resp := make([]messageResponse, 0, len(msgs))
	for _, m := range msgs {
		resp = append(resp, messageResponse{Message: m, SenderDisplayName: names[m.SenderID]})
	}

	c.JSON(http.StatusOK, gin.H{"messages": resp})
}

// PostMessage appends a message to the conversation and broadcasts it. The
// message insert is the source of truth; refreshing the conversation's
// preview is a follow-up best-effort write that never fails the send.
func (h *MessageHandler) PostMessage(c *gin.Context) {
	conversationID := c.Param("conversation_id")

	userID := c.GetString(middleware.UserIDContextKey)
	conv, err := h.conversationRepo.GetConversation(c.Request.Context(), conversationID)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, repositories.ErrConversationNotFound) {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"error": "conversation not found"})
		return
	}
	if !conv.HasParticipant(userID) {
		c.JSON(http.StatusForbidden, gin.H{"error": "not a conversation participant"})
		return
	}

	var req struct {
		Content string `json:"content" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	content := strings.TrimSpace(req.Content)
	if content == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "content must not be empty"})
		return
	}
	if len(content) > models.MaxContentLength {
		c.JSON(http.StatusBadRequest, gin.H{"error": "content too long"})
		return
	}

	msg, err := h.messageRepo.AppendMessage(c.Request.Context(), conversationID, userID, conv.OtherParticipant(userID), content)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store message"})
		return
	}

	if err := h.conversationRepo.TouchLastMessage(c.Request.Context(), conversationID, msg.Content, msg.CreatedAt); err != nil {
		h.log.Warn("conversation preview refresh failed",
			zap.String("conversation_id", conversationID), zap.Error(err))
	}

	h.hub.BroadcastMessageCreated(conversationID, msg)
	observability.IncMessageSent()
	h.emitter.Emit(c.Request.Context(), "INFO", "message sent", requestIDFromContext(c), userID)

	c.JSON(http.StatusCreated, msg)
}

// MarkRead marks everything the viewer received in the conversation as read
// and broadcasts the status changes as read receipts.
func (h *MessageHandler) MarkRead(c *gin.Context) {
	conversationID := c.Param("conversation_id")

	userID := c.GetString(middleware.UserIDContextKey)
	conv, err := h.conversationRepo.GetConversation(c.Request.Context(), conversationID)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, repositories.ErrConversationNotFound) {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"error": "conversation not found"})
		return
	}
	if !conv.HasParticipant(userID) {
		c.JSON(http.StatusForbidden, gin.H{"error": "not a conversation participant"})
		return
	}

	updated, err := h.messageRepo.MarkConversationRead(c.Request.Context(), conversationID, userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to mark conversation read"})
		return
	}

	for _, msg := range updated {
		h.hub.BroadcastMessageUpdated(conversationID, msg)
	}

	c.Status(http.StatusNoContent)
}
