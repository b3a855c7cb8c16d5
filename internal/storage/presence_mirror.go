package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"chatsync/backend/internal/models"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	// PresenceKey is the Redis hash holding userID -> User JSON for every online user.
	PresenceKey = "presence:online"
	// PresenceChannel receives the full snapshot JSON after every change.
	PresenceChannel = "presence:snapshot"
)

// RedisPresenceMirror copies presence snapshots into Redis so other processes
// can read who is online. The in-process registry stays authoritative; the
// mirror is latest-wins and may skip intermediate snapshots.
type RedisPresenceMirror struct {
	Redis *redis.Client

	log     *zap.Logger
	pending chan []models.User
}

func NewRedisPresenceMirror(rdb *redis.Client, log *zap.Logger) *RedisPresenceMirror {
	return &RedisPresenceMirror{
		Redis:   rdb,
		log:     log,
		pending: make(chan []models.User, 1),
	}
}

// Publish queues snapshot for writing, replacing any snapshot not yet written.
// It never blocks.
func (m *RedisPresenceMirror) Publish(snapshot []models.User) {
	for {
		select {
		case m.pending <- snapshot:
			return
		default:
		}
		// Викидаємо застарілий знімок і пробуємо ще раз
		select {
		case <-m.pending:
		default:
		}
	}
}

// Run writes queued snapshots until ctx is done. It clears whatever a
// previous process left behind before accepting snapshots.
func (m *RedisPresenceMirror) Run(ctx context.Context) {
	if err := m.Write(ctx, nil); err != nil {
		m.log.Warn("presence mirror reset failed", zap.Error(err))
	}
	for {
		select {
		case <-ctx.Done():
			return
		case snapshot := <-m.pending:
			if err := m.Write(ctx, snapshot); err != nil {
				m.log.Warn("presence mirror write failed", zap.Int("users", len(snapshot)), zap.Error(err))
			}
		}
	}
}

// Write replaces the stored snapshot and announces it on PresenceChannel.
func (m *RedisPresenceMirror) Write(ctx context.Context, snapshot []models.User) error {
	payload, err := json.Marshal(snapshotOrEmpty(snapshot))
	if err != nil {
		return fmt.Errorf("encode presence snapshot: %w", err)
	}

	fields := make([]any, 0, len(snapshot)*2)
	for _, u := range snapshot {
		userJSON, err := json.Marshal(u)
		if err != nil {
			return fmt.Errorf("encode user %s: %w", u.ID, err)
		}
		fields = append(fields, u.ID, string(userJSON))
	}

	_, err = m.Redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, PresenceKey)
		if len(fields) > 0 {
			pipe.HSet(ctx, PresenceKey, fields...)
		}
		pipe.Publish(ctx, PresenceChannel, string(payload))
		return nil
	})
	if err != nil {
		return fmt.Errorf("write presence snapshot: %w", err)
	}
	return nil
}

func snapshotOrEmpty(snapshot []models.User) []models.User {
	if snapshot == nil {
		return []models.User{}
	}
	return snapshot
}
