package chathub

import (
	"context"
	"fmt"
	"time"

	"chatsync/backend/internal/config"
	"chatsync/backend/internal/models"
	"chatsync/backend/internal/storage"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// UnreadService recomputes unread counts from the persisted backlog and
// pushes them to the user's live connections. Clients keep their own
// counters; these recounts correct them.
type UnreadService struct {
	store    storage.Storage
	presence *PresenceRegistry
	deliver  Deliverer
	timeout  time.Duration
	log      *zap.Logger

	sfGroup singleflight.Group // collapses concurrent recounts of one user
}

func NewUnreadService(store storage.Storage, presence *PresenceRegistry, deliver Deliverer, timeout time.Duration, log *zap.Logger) *UnreadService {
	if timeout <= 0 {
		timeout = config.DefaultPersistTimeout
	}
	return &UnreadService{
		store:    store,
		presence: presence,
		deliver:  deliver,
		timeout:  timeout,
		log:      log,
	}
}

type unreadCounts struct {
	rooms  []models.RoomUnreadCount
	direct []models.DirectUnreadCount
}

// Recount sends room_unread_counts and private_unread_counts to every
// connection of userID. Offline users are skipped.
func (u *UnreadService) Recount(ctx context.Context, userID string) error {
	if !u.presence.IsOnline(userID) {
		return nil
	}

	v, err, _ := u.sfGroup.Do(userID, func() (any, error) {
		qctx, cancel := context.WithTimeout(ctx, u.timeout)
		defer cancel()

		rooms, err := u.store.RoomUnreadCounts(qctx, userID)
		if err != nil {
			return nil, err
		}
		direct, err := u.store.DirectUnreadCounts(qctx, userID)
		if err != nil {
			return nil, err
		}
		return unreadCounts{rooms: rooms, direct: direct}, nil
	})
	if err != nil {
		return fmt.Errorf("recount unread for %s: %w", userID, err)
	}

	counts := v.(unreadCounts)
	conns := u.presence.ConnectionsForUser(userID)
	u.deliver.SendTo(conns, models.MustEvent(models.EventRoomUnreadCounts, nonNil(counts.rooms)))
	u.deliver.SendTo(conns, models.MustEvent(models.EventPrivateUnreadCounts, nonNil(counts.direct)))
	return nil
}

// Refresh is Recount for callers that just changed the backlog: an
// in-flight recount may have read the backlog before the write, so it is
// not joined.
func (u *UnreadService) Refresh(ctx context.Context, userID string) {
	u.sfGroup.Forget(userID)
	if err := u.Recount(ctx, userID); err != nil {
		u.log.Warn("unread recount failed", zap.String("user_id", userID), zap.Error(err))
	}
}

// NotifyRoom recounts for every online member of roomID except the sender.
func (u *UnreadService) NotifyRoom(ctx context.Context, roomID, senderID string) {
	qctx, cancel := context.WithTimeout(ctx, u.timeout)
	members, err := u.store.ListRoomMembers(qctx, roomID)
	cancel()
	if err != nil {
		u.log.Warn("list room members failed", zap.String("room_id", roomID), zap.Error(err))
		return
	}
	for _, memberID := range members {
		if memberID == senderID {
			continue
		}
		u.Refresh(ctx, memberID)
	}
}

// NotifyDirect recounts for the receiver of a private message.
func (u *UnreadService) NotifyDirect(ctx context.Context, receiverID string) {
	u.Refresh(ctx, receiverID)
}

// Sweep recounts for every online user.
func (u *UnreadService) Sweep(ctx context.Context) {
	for _, userID := range u.presence.OnlineUserIDs() {
		if ctx.Err() != nil {
			return
		}
		if err := u.Recount(ctx, userID); err != nil {
			u.log.Warn("unread sweep failed", zap.String("user_id", userID), zap.Error(err))
		}
	}
}

// Run sweeps on every tick until ctx is done.
func (u *UnreadService) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = config.DefaultUnreadSweepInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			u.Sweep(ctx)
		}
	}
}

func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
