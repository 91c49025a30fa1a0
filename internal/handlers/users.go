package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"messaging-service/internal/middleware"
	"messaging-service/internal/models"
	"messaging-service/internal/repositories"
)

// UserHandler serves the user directory endpoints. Profiles mirror the
// identity provider's records; users sync their own entry and read others.
type UserHandler struct {
	userRepo repositories.UserRepository
}

// NewUserHandler builds a UserHandler.
func NewUserHandler(userRepo repositories.UserRepository) *UserHandler {
	return &UserHandler{userRepo: userRepo}
}

// SyncProfile creates or refreshes the caller's directory record.
func (h *UserHandler) SyncProfile(c *gin.Context) {
	var req struct {
		DisplayName string `json:"display_name" binding:"required"`
		Role        string `json:"role" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Role != models.RoleClient && req.Role != models.RoleFreelancer {
		c.JSON(http.StatusBadRequest, gin.H{"error": "role must be client or freelancer"})
		return
	}

	userID := c.GetString(middleware.UserIDContextKey)
	profile, err := h.userRepo.UpsertProfile(c.Request.Context(), models.UserProfile{
		ID:          userID,
		DisplayName: req.DisplayName,
		Role:        req.Role,
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to save profile"})
		return
	}

	c.JSON(http.StatusOK, profile)
}

// GetProfile resolves any user's directory record.
func (h *UserHandler) GetProfile(c *gin.Context) {
	profile, err := h.userRepo.GetProfile(c.Request.Context(), c.Param("user_id"))
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, repositories.ErrUserNotFound) {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"error": "user not found"})
		return
	}

	c.JSON(http.StatusOK, profile)
}
