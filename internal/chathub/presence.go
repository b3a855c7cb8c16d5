package chathub

import (
	"sort"
	"sync"
	"time"

	"chatsync/backend/internal/models"

	"go.uber.org/zap"
)

// Broadcaster delivers an event to every registered connection.
type Broadcaster interface {
	BroadcastAll(evt models.Event)
}

// PresenceMirror receives every snapshot after it is broadcast. Implementations
// must not block.
type PresenceMirror interface {
	Publish(snapshot []models.User)
}

type connection struct {
	user          models.User
	establishedAt time.Time
}

// PresenceRegistry is the authoritative connection -> user map.
// Every change broadcasts the full online_users snapshot while the lock is
// held, so all connections receive snapshots in the same order.
type PresenceRegistry struct {
	mu    sync.Mutex
	conns map[string]connection

	broadcaster Broadcaster
	mirror      PresenceMirror
	log         *zap.Logger
}

func NewPresenceRegistry(b Broadcaster, log *zap.Logger) *PresenceRegistry {
	return &PresenceRegistry{
		conns:       make(map[string]connection),
		broadcaster: b,
		log:         log,
	}
}

// SetMirror must be called before the registry is in use.
func (p *PresenceRegistry) SetMirror(m PresenceMirror) {
	p.mirror = m
}

// Join binds connID to user, overwriting a previous binding, and broadcasts
// the new snapshot.
func (p *PresenceRegistry) Join(connID string, user models.User) []models.User {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.conns[connID] = connection{user: user, establishedAt: time.Now()}
	snapshot := p.snapshotLocked()
	p.publishLocked(snapshot)

	p.log.Debug("presence join",
		zap.String("conn_id", connID),
		zap.String("user_id", user.ID),
		zap.Int("online", len(snapshot)),
	)
	return snapshot
}

// Leave removes connID. Unknown connections are ignored and broadcast nothing.
func (p *PresenceRegistry) Leave(connID string) (models.User, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	c, ok := p.conns[connID]
	if !ok {
		return models.User{}, false
	}
	delete(p.conns, connID)
	snapshot := p.snapshotLocked()
	p.publishLocked(snapshot)

	p.log.Debug("presence leave",
		zap.String("conn_id", connID),
		zap.String("user_id", c.user.ID),
		zap.Duration("connected_for", time.Since(c.establishedAt)),
	)
	return c.user, true
}

// UserOf returns the user bound to connID by a previous Join.
func (p *PresenceRegistry) UserOf(connID string) (models.User, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	c, ok := p.conns[connID]
	return c.user, ok
}

// ConnectionsForUser returns every live connection owned by userID.
func (p *PresenceRegistry) ConnectionsForUser(userID string) []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	var ids []string
	for id, c := range p.conns {
		if c.user.ID == userID {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

func (p *PresenceRegistry) IsOnline(userID string) bool {
	return len(p.ConnectionsForUser(userID)) > 0
}

// OnlineUsers returns the current snapshot without broadcasting it.
func (p *PresenceRegistry) OnlineUsers() []models.User {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.snapshotLocked()
}

func (p *PresenceRegistry) OnlineUserIDs() []string {
	users := p.OnlineUsers()
	ids := make([]string, len(users))
	for i, u := range users {
		ids[i] = u.ID
	}
	return ids
}

// snapshotLocked collapses connections into distinct users ordered by name.
func (p *PresenceRegistry) snapshotLocked() []models.User {
	seen := make(map[string]models.User, len(p.conns))
	for _, c := range p.conns {
		seen[c.user.ID] = c.user
	}
	users := make([]models.User, 0, len(seen))
	for _, u := range seen {
		users = append(users, u)
	}
	sort.Slice(users, func(i, j int) bool {
		if users[i].Username != users[j].Username {
			return users[i].Username < users[j].Username
		}
		return users[i].ID < users[j].ID
	})
	return users
}

func (p *PresenceRegistry) publishLocked(snapshot []models.User) {
	if p.broadcaster != nil {
		p.broadcaster.BroadcastAll(models.MustEvent(models.EventOnlineUsers, snapshot))
	}
	if p.mirror != nil {
		p.mirror.Publish(snapshot)
	}
}
