package chatclient

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"chatsync/backend/internal/config"
	"chatsync/backend/internal/models"

	"github.com/gorilla/websocket"
)

// Conn is one established transport connection. ReadEvents blocks until the
// next frame arrives; a frame may carry several events.
type Conn interface {
	ReadEvents() ([]models.Event, error)
	WriteEvent(evt models.Event) error
	Close() error
}

// Dialer opens a new Conn. The Session calls it once per attempt.
type Dialer interface {
	Dial(ctx context.Context) (Conn, error)
}

// WSDialer dials the server's /ws endpoint with gorilla/websocket. The token
// travels in the query string, the same way a browser would send it.
type WSDialer struct {
	ServerURL string
	Token     string
	Dialer    *websocket.Dialer
}

func NewWSDialer(serverURL, token string) *WSDialer {
	return &WSDialer{
		ServerURL: serverURL,
		Token:     token,
		Dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: config.DialTimeout,
		},
	}
}

// WebSocketURL turns http(s)://host into ws(s)://host/ws?token=...
func WebSocketURL(serverURL, token string) (string, error) {
	u, err := url.Parse(strings.TrimRight(serverURL, "/"))
	if err != nil {
		return "", fmt.Errorf("parse server url: %w", err)
	}
	switch u.Scheme {
	case "https", "wss":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws"
	q := u.Query()
	if token != "" {
		q.Set("token", token)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (d *WSDialer) Dial(ctx context.Context) (Conn, error) {
	target, err := WebSocketURL(d.ServerURL, d.Token)
	if err != nil {
		return nil, err
	}
	dialer := d.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}

	conn, resp, err := dialer.DialContext(ctx, target, nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (status %d)", d.ServerURL, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s: %w", d.ServerURL, err)
	}
	conn.SetReadLimit(config.ClientMaxFrameSize)
	return &wsConn{conn: conn}, nil
}

type wsConn struct {
	conn      *websocket.Conn
	closeOnce sync.Once
}

func (c *wsConn) ReadEvents() ([]models.Event, error) {
	_, frame, err := c.conn.ReadMessage()
	if err != nil {
		return nil, err
	}
	return models.DecodeFrame(frame)
}

func (c *wsConn) WriteEvent(evt models.Event) error {
	c.conn.SetWriteDeadline(time.Now().Add(config.DefaultWriteWait))
	return c.conn.WriteJSON(evt)
}

func (c *wsConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.conn.SetWriteDeadline(time.Now().Add(time.Second))
		_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		err = c.conn.Close()
	})
	return err
}
