package config

import "time"

const (
	// Transport
	DefaultWriteWait      = 10 * time.Second
	DefaultPongWait       = 60 * time.Second
	DefaultPingInterval   = 10 * time.Second
	ClientSendBuffer      = 256
	MaxMessageContentSize = 5000

	// MaxInboundFrameSize bounds one client frame. JSON may spend up to six
	// bytes per rune (\u003c), plus the envelope, user and ids.
	MaxInboundFrameSize = 6*MaxMessageContentSize + 8*1024
	// MaxOutboundBatchSize stops the write pump from appending queued events
	// to a frame. A single larger event is still written alone.
	MaxOutboundBatchSize = 64 * 1024
	// ClientMaxFrameSize bounds frames read by the client. It must hold a full
	// online_users snapshot, which grows with the number of users.
	ClientMaxFrameSize = 32 * 1024 * 1024

	// Persistence
	DefaultPersistTimeout = 5 * time.Second

	// Typing
	DefaultServerTypingTTL = 5 * time.Second
	ClientTypingTimeout    = 3 * time.Second

	// Unread
	DefaultUnreadSweepInterval = 60 * time.Second
	DefaultHistoryLimit        = 50
	MaxHistoryLimit            = 500

	// Reconnect (client)
	ReconnectInitialDelay = 2 * time.Second
	ReconnectMaxDelay     = 30 * time.Second
	ReconnectMultiplier   = 1.5
	ReconnectMaxAttempts  = 10
	ReconnectMinSpacing   = 2 * time.Second
	DialTimeout           = 10 * time.Second
	SendReadyTimeout      = 30 * time.Second
	SendAckTimeout        = 30 * time.Second

	// Heartbeat (client)
	HeartbeatCheckInterval = 10 * time.Second
	HeartbeatTimeout       = 30 * time.Second

	// Auth
	DefaultTokenTTL = 72 * time.Hour
	TokenIssuer     = "chatsync-service"
)

// DefaultRooms are created on startup if missing.
var DefaultRooms = map[string]string{
	"general": "General discussion",
	"random":  "Off-topic chatter",
	"tech":    "Technology talk",
}
