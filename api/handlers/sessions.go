package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/agent-relay/backend/internal/auth"
	"github.com/agent-relay/backend/internal/model"
	"github.com/agent-relay/backend/internal/repository"
	"github.com/agent-relay/backend/internal/transcript"
)

// defaultPageSize caps one page of transcript history.
const defaultPageSize = 50

// SessionHandler serves transcript history pages and terminal session
// records over plain HTTP, for clients that want backfill without
// holding a WebSocket open.
type SessionHandler struct {
	store transcript.Adapter
	repo  *repository.TerminalRepository
}

// NewSessionHandler creates a new SessionHandler.
func NewSessionHandler(store transcript.Adapter, repo *repository.TerminalRepository) *SessionHandler {
	return &SessionHandler{store: store, repo: repo}
}

// Messages handles GET /api/sessions/:id/messages - a backward page of
// transcript history. "before" is an exclusive upper index bound;
// omitted means the newest page.
func (h *SessionHandler) Messages(c *gin.Context) {
	sessionID := c.Param("id")
	if sessionID == "" {
		sendError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Session ID is required")
		return
	}

	before := -1
	if v := c.Query("before"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			sendError(c, http.StatusBadRequest, "VALIDATION_ERROR", "before must be a non-negative integer")
			return
		}
		before = n
	}

	limit := defaultPageSize
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			sendError(c, http.StatusBadRequest, "VALIDATION_ERROR", "limit must be a positive integer")
			return
		}
		limit = n
	}

	page, err := h.store.Messages(sessionID, before, limit)
	if err != nil {
		if errors.Is(err, model.ErrSessionNotFound) {
			sendError(c, http.StatusNotFound, "SESSION_NOT_FOUND", "Session "+sessionID+" not found")
			return
		}
		sendError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to read messages: "+err.Error())
		return
	}

	c.JSON(http.StatusOK, page)
}

// ListTerminals handles GET /api/terminals - all terminal session
// records, newest first.
func (h *SessionHandler) ListTerminals(c *gin.Context) {
	sessions, err := h.repo.List(c.Request.Context())
	if err != nil {
		sendError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to list terminals: "+err.Error())
		return
	}
	if sessions == nil {
		sessions = []*model.TerminalSession{}
	}
	c.JSON(http.StatusOK, gin.H{"terminals": sessions})
}

// GetTerminal handles GET /api/terminals/:id - one terminal session record.
func (h *SessionHandler) GetTerminal(c *gin.Context) {
	id := c.Param("id")
	sess, err := h.repo.GetByID(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, model.ErrSessionNotFound) {
			sendError(c, http.StatusNotFound, "SESSION_NOT_FOUND", "Terminal session "+id+" not found")
			return
		}
		sendError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to get terminal: "+err.Error())
		return
	}
	c.JSON(http.StatusOK, sess)
}

// RegisterRoutes registers the REST routes on a Gin router group.
func (h *SessionHandler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/sessions/:id/messages", h.Messages)
	rg.GET("/terminals", h.ListTerminals)
	rg.GET("/terminals/:id", h.GetTerminal)
}

// RequireAuth returns middleware that enforces the bearer token on REST
// routes. WebSocket routes authenticate in-band instead.
func RequireAuth(a *auth.Authenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		switch a.AuthenticateRequest(c.Request) {
		case auth.ResultOK:
			c.Next()
		case auth.ResultRateLimited:
			sendError(c, http.StatusTooManyRequests, "RATE_LIMITED", "Too many failed attempts, try again later")
			c.Abort()
		default:
			sendError(c, http.StatusUnauthorized, "UNAUTHORIZED", "Invalid or missing token")
			c.Abort()
		}
	}
}

// sendError writes a structured error response.
func sendError(c *gin.Context, status int, code, message string) {
	c.JSON(status, gin.H{
		"error": gin.H{
			"code":    code,
			"message": message,
		},
	})
}
