// Package handlers provides HTTP API request handlers.
package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/agent-relay/backend/internal/ws"
)

// WebSocketHandler exposes the two WebSocket upgrade endpoints.
type WebSocketHandler struct {
	wsHandler *ws.Handler
}

// NewWebSocketHandler creates a new WebSocketHandler.
func NewWebSocketHandler(wsHandler *ws.Handler) *WebSocketHandler {
	return &WebSocketHandler{wsHandler: wsHandler}
}

// Chat handles WS /ws/chat/:id - streams a conversation transcript.
func (h *WebSocketHandler) Chat(c *gin.Context) {
	sessionID := c.Param("id")
	if sessionID == "" {
		sendError(c, 400, "VALIDATION_ERROR", "Session ID is required")
		return
	}
	h.wsHandler.HandleChat(c.Writer, c.Request, sessionID)
}

// Terminal handles WS /ws/terminal - interactive PTY sessions.
func (h *WebSocketHandler) Terminal(c *gin.Context) {
	h.wsHandler.HandleTerminal(c.Writer, c.Request)
}

// RegisterRoutes registers the WebSocket upgrade routes.
func (h *WebSocketHandler) RegisterRoutes(r *gin.Engine) {
	r.GET("/ws/chat/:id", h.Chat)
	r.GET("/ws/terminal", h.Terminal)
}
