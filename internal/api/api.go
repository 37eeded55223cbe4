// Package api exposes the read-only operations HTTP API: conversation and
// message lookups for support tooling, presence queries, and a health probe.
// The WebSocket plane stays the only write path.
package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/DEcyberhawk/whisspra-backend/internal/chat"
)

// defaultMessageLimit bounds a message page when the client does not ask.
const defaultMessageLimit = 50

// Presence reads a user's current presence status.
type Presence interface {
	Status(ctx context.Context, userID string) (string, error)
}

type Handler struct {
	Store    chat.Store
	Presence Presence
}

// NewRouter builds the gin engine with all operations routes registered.
func NewRouter(h *Handler) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", h.Health)
	r.GET("/conversations/:id", h.GetConversation)
	r.GET("/conversations/:id/messages", h.GetMessages)
	r.GET("/users/:id/conversations", h.GetUserConversations)
	r.GET("/presence/:id", h.GetPresence)

	return r
}

func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *Handler) GetConversation(c *gin.Context) {
	conv, err := h.Store.Conversation(c.Request.Context(), c.Param("id"))
	if errors.Is(err, chat.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "conversation not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, conv)
}

func (h *Handler) GetMessages(c *gin.Context) {
	limit := defaultMessageLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = n
	}

	msgs, err := h.Store.RecentMessages(c.Request.Context(), c.Param("id"), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, msgs)
}

func (h *Handler) GetUserConversations(c *gin.Context) {
	convs, err := h.Store.ConversationsFor(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, convs)
}

func (h *Handler) GetPresence(c *gin.Context) {
	userID := c.Param("id")
	status, err := h.Presence.Status(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"userId": userID, "status": status})
}
