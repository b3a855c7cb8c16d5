package chathub

import (
	"encoding/json"
	"io"
	"sync"
	"time"

	"chatsync/backend/internal/config"
	"chatsync/backend/internal/models"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// WebSocketClient реалізує інтерфейс chathub.Client
type WebSocketClient struct {
	ConnID   string
	Identity models.User
	Conn     *websocket.Conn
	Hub      *ManagerService

	PingInterval time.Duration
	PongWait     time.Duration

	send      chan models.Event
	done      chan struct{}
	closeOnce sync.Once
}

func NewWebSocketClient(hub *ManagerService, conn *websocket.Conn, identity models.User) *WebSocketClient {
	return &WebSocketClient{
		ConnID:       uuid.NewString(),
		Identity:     identity,
		Conn:         conn,
		Hub:          hub,
		PingInterval: hub.opts.PingInterval,
		PongWait:     hub.opts.PongWait,
		send:         make(chan models.Event, config.ClientSendBuffer),
		done:         make(chan struct{}),
	}
}

func (c *WebSocketClient) GetConnID() string        { return c.ConnID }
func (c *WebSocketClient) GetIdentity() models.User { return c.Identity }

func (c *WebSocketClient) Send(evt models.Event) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- evt:
		return true
	default:
		return false
	}
}

func (c *WebSocketClient) Closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// Run запускає 'pumps' для WebSocket
func (c *WebSocketClient) Run() {
	go c.writePump()
	go c.readPump()
}

// Close сигналізує writePump закрити з'єднання. Канал send не закривається,
// тож паралельний Send ніколи не панікує.
func (c *WebSocketClient) Close() {
	c.closeOnce.Do(func() { close(c.done) })
}

func (c *WebSocketClient) readPump() {
	defer func() {
		c.Hub.Unregister(c) // Надсилаємо команду на Unregister
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(config.MaxInboundFrameSize)
	c.Conn.SetReadDeadline(time.Now().Add(c.PongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(c.PongWait))
		return nil
	})

	for {
		_, frame, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.Hub.log.Info("websocket read failed", zap.String("conn_id", c.ConnID), zap.Error(err))
			}
			return
		}

		events, err := models.DecodeFrame(frame)
		if err != nil {
			c.Hub.log.Warn("bad frame from client", zap.String("conn_id", c.ConnID), zap.Error(err))
		}

		for _, evt := range events {
			if evt.Type == models.EventPong {
				c.Conn.SetReadDeadline(time.Now().Add(c.PongWait))
				continue
			}
			c.Hub.HandleEvent(c.Hub.Context(), c, evt)
		}
	}
}

// writePump читає події з каналу send і записує їх у WebSocket.
func (c *WebSocketClient) writePump() {
	ticker := time.NewTicker(c.PingInterval)
	ping, _ := json.Marshal(models.MustEvent(models.EventPing, nil))

	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case <-c.done:
			// Клієнта закрито хабом, закриваємо з'єднання WS
			c.Conn.SetWriteDeadline(time.Now().Add(config.DefaultWriteWait))
			c.Conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return

		case evt := <-c.send:
			c.Conn.SetWriteDeadline(time.Now().Add(config.DefaultWriteWait))
			if err := c.writeBatch(evt); err != nil {
				return
			}

		case <-ticker.C:
			// Надсилаємо Ping для підтримки з'єднання активним
			c.Conn.SetWriteDeadline(time.Now().Add(config.DefaultWriteWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
			// Application-level ping feeds the client's heartbeat check.
			if err := c.Conn.WriteMessage(websocket.TextMessage, ping); err != nil {
				return
			}
		}
	}
}

// writeBatch writes first and then whatever is already queued into one text
// frame, until the frame reaches MaxOutboundBatchSize bytes.
func (c *WebSocketClient) writeBatch(first models.Event) error {
	w, err := c.Conn.NextWriter(websocket.TextMessage)
	if err != nil {
		return err
	}
	written := c.writeEvent(w, first)
	// writePump is the only receiver, so a non-empty queue never blocks.
	for written < config.MaxOutboundBatchSize && len(c.send) > 0 {
		written += c.writeEvent(w, <-c.send)
	}
	return w.Close()
}

// writeEvent appends one newline-terminated envelope. Write errors surface
// from the writer's Close.
func (c *WebSocketClient) writeEvent(w io.Writer, evt models.Event) int {
	data, err := json.Marshal(evt)
	if err != nil {
		c.Hub.log.Warn("encode event failed", zap.String("conn_id", c.ConnID), zap.String("type", evt.Type), zap.Error(err))
		return 0
	}
	n, _ := w.Write(append(data, '\n'))
	return n
}
