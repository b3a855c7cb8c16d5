package handler

import (
	"net/http"
	"strconv"
	"time"

	"chatsync/backend/internal/config"
	"chatsync/backend/internal/errs"

	"github.com/gin-gonic/gin"
)

func parseLimit(c *gin.Context) (int, bool) {
	raw := c.Query("limit")
	if raw == "" {
		return config.DefaultHistoryLimit, true
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
		return 0, false
	}
	return min(limit, config.MaxHistoryLimit), true
}

func (h *Handler) ListRooms(c *gin.Context) {
	rooms, err := h.Store.ListRooms(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, nonNil(rooms))
}

// RoomHistory повертає останні повідомлення кімнати, від старих до нових.
func (h *Handler) RoomHistory(c *gin.Context) {
	limit, ok := parseLimit(c)
	if !ok {
		return
	}
	history, err := h.Store.GetRoomHistory(c.Request.Context(), c.Param("roomId"), limit)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, nonNil(history))
}

// DirectHistory повертає листування поточного користувача з peerId.
func (h *Handler) DirectHistory(c *gin.Context) {
	limit, ok := parseLimit(c)
	if !ok {
		return
	}
	user := currentUser(c)
	history, err := h.Store.GetDirectHistory(c.Request.Context(), user.ID, c.Param("peerId"), limit)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, nonNil(history))
}

// MarkRoomRead moves the caller's watermark to now and pushes fresh counts.
func (h *Handler) MarkRoomRead(c *gin.Context) {
	user := currentUser(c)
	roomID := c.Param("roomId")
	if roomID == "" {
		h.respondError(c, errs.ErrNotFound)
		return
	}
	if err := h.Store.MarkRoomRead(c.Request.Context(), roomID, user.ID, time.Now()); err != nil {
		h.respondError(c, err)
		return
	}
	h.Hub.Unread.Refresh(c.Request.Context(), user.ID)
	c.Status(http.StatusNoContent)
}

// MarkDirectRead flags every message from peerId to the caller as read.
func (h *Handler) MarkDirectRead(c *gin.Context) {
	user := currentUser(c)
	if err := h.Store.MarkDirectRead(c.Request.Context(), user.ID, c.Param("peerId")); err != nil {
		h.respondError(c, err)
		return
	}
	h.Hub.Unread.Refresh(c.Request.Context(), user.ID)
	c.Status(http.StatusNoContent)
}

func (h *Handler) OnlineUsers(c *gin.Context) {
	c.JSON(http.StatusOK, nonNil(h.Hub.Presence.OnlineUsers()))
}

func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}

