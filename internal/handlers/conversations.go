package handlers

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"messaging-service/internal/messaging"
)

// ConversationHandler serves the REST companion of the websocket API.
type ConversationHandler struct {
	engine *messaging.Engine
	logger *slog.Logger
}

// NewConversationHandler builds a ConversationHandler.
func NewConversationHandler(engine *messaging.Engine, logger *slog.Logger) *ConversationHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ConversationHandler{engine: engine, logger: logger.With("component", "rest")}
}

// Register mounts the conversation routes on group.
func (h *ConversationHandler) Register(group gin.IRoutes) {
	group.GET("/conversations", h.ListConversations)
	group.POST("/conversations/start", h.StartConversation)
	group.GET("/conversations/:conversation_id/messages", h.GetMessages)
	group.POST("/conversations/:conversation_id/archive", h.setFlag(archive, true))
	group.POST("/conversations/:conversation_id/unarchive", h.setFlag(archive, false))
	group.POST("/conversations/:conversation_id/block", h.setFlag(block, true))
	group.POST("/conversations/:conversation_id/unblock", h.setFlag(block, false))
}

// ListConversations returns the caller's conversations, hiding archived ones
// unless ?archived=true.
func (h *ConversationHandler) ListConversations(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	includeArchived, _ := strconv.ParseBool(c.DefaultQuery("archived", "false"))

	list, err := h.engine.Conversations(c.Request.Context(), actor, includeArchived)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"conversations": list})
}

// StartConversation gets or creates a conversation and posts the first message.
func (h *ConversationHandler) StartConversation(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	var req struct {
		RecipientID int64   `json:"recipient_id" binding:"required"`
		SubjectID   *string `json:"subject_id"`
		Content     string  `json:"content" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "recipient_id and content are required"})
		return
	}

	conv, msg, err := h.engine.StartConversation(c.Request.Context(), actor, req.RecipientID, req.SubjectID, req.Content, "")
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"conversation": conv, "message": msg.View()})
}

// GetMessages returns the latest messages of a conversation.
func (h *ConversationHandler) GetMessages(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		limit = parsed
	}

	views, err := h.engine.History(c.Request.Context(), actor, c.Param("conversation_id"), limit)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": views})
}

type flagKind int

const (
	archive flagKind = iota
	block
)

func (h *ConversationHandler) setFlag(kind flagKind, value bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, ok := actorFromContext(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		conversationID := c.Param("conversation_id")

		var err error
		if kind == archive {
			err = h.engine.SetArchived(c.Request.Context(), actor, conversationID, value)
		} else {
			err = h.engine.SetBlocked(c.Request.Context(), actor, conversationID, value)
		}
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"conversation_id": conversationID, "status": "ok"})
	}
}
