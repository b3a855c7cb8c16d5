package handler

import (
	"errors"
	"net/http"

	"chatsync/backend/internal/chathub"
	"chatsync/backend/internal/errs"
	"chatsync/backend/internal/storage"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Handler містить посилання на ChatHub, сховище та видавця токенів
type Handler struct {
	Hub    *chathub.ManagerService
	Store  storage.Storage
	Tokens *TokenIssuer
	log    *zap.Logger
}

func NewHandler(hub *chathub.ManagerService, store storage.Storage, tokens *TokenIssuer, log *zap.Logger) *Handler {
	return &Handler{Hub: hub, Store: store, Tokens: tokens, log: log}
}

// Register mounts every route on r. The dev token endpoint exists only when
// allowDevTokens is set.
func (h *Handler) Register(r gin.IRouter, allowDevTokens bool) {
	r.GET("/healthz", h.Healthz)
	r.GET("/ws", h.ServeWebSocket)

	if allowDevTokens {
		r.POST("/api/token", h.IssueToken)
	}

	api := r.Group("/api", h.RequireAuth())
	{
		api.GET("/rooms", h.ListRooms)
		api.GET("/rooms/:roomId/messages", h.RoomHistory)
		api.POST("/rooms/:roomId/read", h.MarkRoomRead)
		api.GET("/private/:peerId/messages", h.DirectHistory)
		api.POST("/private/:peerId/read", h.MarkDirectRead)
		api.GET("/online", h.OnlineUsers)
	}
}

func (h *Handler) Healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "clients": h.Hub.ClientCount()})
}

// respondError maps sentinel errors onto HTTP statuses.
func (h *Handler) respondError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, errs.ErrUnauthorized):
		status = http.StatusUnauthorized
	case errors.Is(err, errs.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, errs.ErrInvalidMessage):
		status = http.StatusBadRequest
	}

	if status == http.StatusInternalServerError {
		h.log.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
		c.AbortWithStatusJSON(status, gin.H{"error": "internal error"})
		return
	}
	c.AbortWithStatusJSON(status, gin.H{"error": err.Error()})
}
