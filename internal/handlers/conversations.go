package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"messaging-service/internal/middleware"
	"messaging-service/internal/models"
	"messaging-service/internal/observability"
	"messaging-service/internal/presence"
	"messaging-service/internal/repositories"
	"messaging-service/internal/telemetry"
)

// ConversationHandler serves the conversation directory endpoints.
type ConversationHandler struct {
	conversationRepo repositories.ConversationRepository
	userRepo         repositories.UserRepository
	presence         presence.Tracker
	emitter          *telemetry.AuditEmitter
}

// NewConversationHandler builds a ConversationHandler.
func NewConversationHandler(conversationRepo repositories.ConversationRepository, userRepo repositories.UserRepository, tracker presence.Tracker, emitter *telemetry.AuditEmitter) *ConversationHandler {
	return &ConversationHandler{
		conversationRepo: conversationRepo,
		userRepo:         userRepo,
		presence:         tracker,
		emitter:          emitter,
	}
}

type participantResponse struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name,omitempty"`
	Role        string `json:"role,omitempty"`
}

type conversationResponse struct {
	ConversationID string              `json:"conversation_id"`
	Participant    participantResponse `json:"participant"`
	Status         string              `json:"status"`
	LastMessage    string              `json:"last_message"`
	UnreadCount    int                 `json:"unread_count"`
	UpdatedAt      time.Time           `json:"updated_at"`
}

// ListConversations returns the viewer's conversations, most recent first,
// annotated with the other participant's profile, presence and the unread
// count.
func (h *ConversationHandler) ListConversations(c *gin.Context) {
	userID := c.GetString(middleware.UserIDContextKey)

	summaries, err := h.conversationRepo.ListConversationsForUser(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load conversations"})
		return
	}

	participantIDs := make([]string, 0, len(summaries))
	for _, summary := range summaries {
		participantIDs = append(participantIDs, summary.ParticipantID)
	}

	profiles, err := h.userRepo.BulkProfiles(c.Request.Context(), participantIDs)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load participants"})
		return
	}
	profileByID := make(map[string]models.UserProfile, len(profiles))
	for _, p := range profiles {
		profileByID[p.ID] = p
	}

	// Presence is a display hint; if the tracker is down everyone just
	// shows offline.
	statuses, err := h.presence.BulkStatus(c.Request.Context(), participantIDs)
	if err != nil {
		statuses = map[string]bool{}
	}

	responses := make([]conversationResponse, 0, len(summaries))
	for _, summary := range summaries {
		status := models.PresenceOffline
		if statuses[summary.ParticipantID] {
			status = models.PresenceOnline
		}
		profile := profileByID[summary.ParticipantID]
		responses = append(responses, conversationResponse{
			ConversationID: summary.ConversationID,
			Participant: participantResponse{
				ID:          summary.ParticipantID,
				DisplayName: profile.DisplayName,
				Role:        profile.Role,
			},
			Status:      status,
			LastMessage: summary.LastMessage,
			UnreadCount: summary.UnreadCount,
			UpdatedAt:   summary.UpdatedAt,
		})
	}

	c.JSON(http.StatusOK, gin.H{"conversations": responses})
}

// StartConversation resolves the conversation with another user, creating it
// on first contact. Calling it again for the same pair, in either direction,
// returns the existing conversation.
func (h *ConversationHandler) StartConversation(c *gin.Context) {
	var req struct {
		ParticipantID string `json:"participant_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	userID := c.GetString(middleware.UserIDContextKey)
	if userID == req.ParticipantID {
		c.JSON(http.StatusBadRequest, gin.H{"error": "cannot start a conversation with yourself"})
		return
	}

	// Both sides must resolve in the directory before a conversation can
	// reference them.
	if _, err := h.userRepo.GetProfile(c.Request.Context(), req.ParticipantID); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, repositories.ErrUserNotFound) {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"error": "participant not found"})
		return
	}
	if _, err := h.userRepo.GetProfile(c.Request.Context(), userID); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, repositories.ErrUserNotFound) {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"error": "profile not found"})
		return
	}

	conv, created, err := h.conversationRepo.GetOrCreateConversation(c.Request.Context(), userID, req.ParticipantID)
	if err != nil {
		if errors.Is(err, repositories.ErrSelfConversation) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not start conversation"})
		return
	}

	if created {
		observability.IncConversationStarted()
		h.emitter.Emit(c.Request.Context(), "INFO", "conversation created", requestIDFromContext(c), userID)
	}

	c.JSON(http.StatusOK, gin.H{"conversation": conv, "created": created})
}
