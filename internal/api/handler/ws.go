package handler

import (
	"net/http"

	"chatsync/backend/internal/chathub"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Дозволяє з'єднання з будь-якого домену. У продакшені налаштувати!
	CheckOrigin: func(r *http.Request) bool { return true },
}

// ServeWebSocket оновлює HTTP-з'єднання до WebSocket
func (h *Handler) ServeWebSocket(c *gin.Context) {
	// 1. Перевірка токена до апгрейду
	user, err := h.authenticate(c)
	if err != nil {
		h.respondError(c, err)
		return
	}

	// Upgrade сам пише відповідь з помилкою
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", zap.String("user_id", user.ID), zap.Error(err))
		return
	}

	// 2. Реєстрація клієнта до запуску pumps
	client := chathub.NewWebSocketClient(h.Hub, conn, user)
	h.Hub.Register(client)

	// 3. Запуск клієнта
	client.Run()
}
