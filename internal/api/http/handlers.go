// Package http exposes the REST control surface: service info, health,
// presence introspection, and the endpoints other services call to push
// events into the realtime layer.
package http

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/threadhub/realtime/internal/api/ws"
	"github.com/threadhub/realtime/internal/domain/presence"
	"github.com/threadhub/realtime/internal/infrastructure/logging"
)

// Handlers bundles the REST endpoints and their dependencies.
type Handlers struct {
	groups  *presence.GroupRegistry
	direct  *presence.DirectRegistry
	logger  *logging.Logger
	started time.Time
}

// NewHandlers creates the REST handler set.
func NewHandlers(groups *presence.GroupRegistry, direct *presence.DirectRegistry, logger *logging.Logger) *Handlers {
	return &Handlers{
		groups:  groups,
		direct:  direct,
		logger:  logger.Component("http-handlers"),
		started: time.Now(),
	}
}

// Root serves service identification.
func (h *Handlers) Root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"service": "threadhub-realtime",
		"status":  "running",
		"version": "1.0.0",
	})
}

// Health serves the liveness probe.
func (h *Handlers) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":         "healthy",
		"uptime_seconds": int(time.Since(h.started).Seconds()),
	})
}

// groupInfo is one row of the presence report.
type groupInfo struct {
	GroupID string `json:"group_id"`
	Members int    `json:"members"`
}

// Presence reports current group membership and active chat users.
func (h *Handlers) Presence(c *gin.Context) {
	groupIDs := h.groups.Groups()
	groups := make([]groupInfo, 0, len(groupIDs))
	for _, groupID := range groupIDs {
		groups = append(groups, groupInfo{
			GroupID: groupID,
			Members: h.groups.GroupUserCount(groupID),
		})
	}

	c.JSON(http.StatusOK, gin.H{
		"total_users":  h.groups.TotalUsers(),
		"active_chats": h.direct.ActiveUsers(),
		"groups":       groups,
	})
}

// broadcastRequest is the body of POST /broadcast. An empty group targets
// every connected user.
type broadcastRequest struct {
	GroupID string      `json:"group_id"`
	Type    string      `json:"type" binding:"required"`
	Payload interface{} `json:"payload"`
}

// Broadcast fans an event out to a group, or to everyone when no group is
// given. This is how the forum backend announces new posts and comments.
func (h *Handlers) Broadcast(c *gin.Context) {
	var req broadcastRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	groupID := req.GroupID
	if groupID == "" {
		groupID = presence.GroupAll
	}

	h.groups.Broadcast(groupID, ws.Event{Type: req.Type, Payload: req.Payload})
	h.logger.Debug("broadcast accepted",
		zap.String("group_id", groupID),
		zap.String("type", req.Type),
	)

	c.JSON(http.StatusOK, gin.H{
		"status":   "ok",
		"group_id": groupID,
	})
}

// sendChatRequest is the body of POST /chats/send.
type sendChatRequest struct {
	From    string `json:"from" binding:"required"`
	To      string `json:"to" binding:"required"`
	Message string `json:"message" binding:"required"`
}

// SendChat relays a direct message. Delivery happens only when both ends
// are live; the caller learns the outcome and can fall back to durable
// storage for offline recipients.
func (h *Handlers) SendChat(c *gin.Context) {
	var req sendChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	delivered := h.direct.SendToUser(req.From, req.To, req.Message)
	c.JSON(http.StatusOK, gin.H{"delivered": delivered})
}
