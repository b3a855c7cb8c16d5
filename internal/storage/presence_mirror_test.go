package storage_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"chatsync/backend/internal/models"
	"chatsync/backend/internal/storage"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func setupMirror(t *testing.T) (*storage.RedisPresenceMirror, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return storage.NewRedisPresenceMirror(rdb, zap.NewNop()), rdb
}

func TestRedisPresenceMirror_WriteReplacesSnapshot(t *testing.T) {
	mirror, rdb := setupMirror(t)
	ctx := context.Background()

	require.NoError(t, mirror.Write(ctx, []models.User{
		{ID: "1", Username: "alice"},
		{ID: "2", Username: "bob"},
	}))
	require.NoError(t, mirror.Write(ctx, []models.User{{ID: "2", Username: "bob"}}))

	stored, err := rdb.HGetAll(ctx, storage.PresenceKey).Result()
	require.NoError(t, err)
	require.Len(t, stored, 1)

	var bob models.User
	require.NoError(t, json.Unmarshal([]byte(stored["2"]), &bob))
	assert.Equal(t, "bob", bob.Username)
}

func TestRedisPresenceMirror_WriteEmptyClears(t *testing.T) {
	mirror, rdb := setupMirror(t)
	ctx := context.Background()

	require.NoError(t, mirror.Write(ctx, []models.User{{ID: "1", Username: "alice"}}))
	require.NoError(t, mirror.Write(ctx, nil))

	n, err := rdb.Exists(ctx, storage.PresenceKey).Result()
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRedisPresenceMirror_RunPublishesLatest(t *testing.T) {
	mirror, rdb := setupMirror(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sub := rdb.Subscribe(ctx, storage.PresenceChannel)
	defer sub.Close()
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	go mirror.Run(ctx)
	mirror.Publish([]models.User{{ID: "1", Username: "alice"}})

	// Перший знімок - порожній (скидання при старті), далі чекаємо на alice
	deadline := time.After(2 * time.Second)
	for {
		select {
		case msg := <-sub.Channel():
			var users []models.User
			require.NoError(t, json.Unmarshal([]byte(msg.Payload), &users))
			if len(users) == 1 {
				assert.Equal(t, "alice", users[0].Username)
				return
			}
		case <-deadline:
			t.Fatal("snapshot was not published")
		}
	}
}

func TestRedisPresenceMirror_PublishNeverBlocks(t *testing.T) {
	mirror, _ := setupMirror(t)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			mirror.Publish([]models.User{{ID: "1", Username: "alice"}})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked without a running writer")
	}
}
