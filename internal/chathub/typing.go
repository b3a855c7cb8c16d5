package chathub

import (
	"sort"
	"sync"
	"time"

	"chatsync/backend/internal/config"
	"chatsync/backend/internal/models"
)

// TypingScope is either a room or a directional private pair (From typing to To).
type TypingScope struct {
	RoomID string
	From   string
	To     string
}

func RoomTyping(roomID string) TypingScope     { return TypingScope{RoomID: roomID} }
func DirectTyping(from, to string) TypingScope { return TypingScope{From: from, To: to} }

func (s TypingScope) IsRoom() bool { return s.RoomID != "" }

// TypingChange describes a user that stopped typing in a scope.
type TypingChange struct {
	Scope TypingScope
	User  models.User
}

type typingEntry struct {
	user   models.User
	connID string
	timer  *time.Timer
	gen    uint64
}

// TypingTracker keeps the set of typing users per scope. Callers broadcast
// only when Start or Stop report a transition; entries expire after ttl and
// the expire callback is invoked for them.
type TypingTracker struct {
	mu     sync.Mutex
	sets   map[TypingScope]map[string]*typingEntry
	ttl    time.Duration
	gen    uint64
	expire func(TypingChange)
}

func NewTypingTracker(ttl time.Duration, expire func(TypingChange)) *TypingTracker {
	if ttl <= 0 {
		ttl = config.DefaultServerTypingTTL
	}
	return &TypingTracker{
		sets:   make(map[TypingScope]map[string]*typingEntry),
		ttl:    ttl,
		expire: expire,
	}
}

// Start marks user as typing in scope. It returns true only when the user
// was not already typing there; otherwise it just refreshes the TTL.
func (t *TypingTracker) Start(scope TypingScope, user models.User, connID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	set, ok := t.sets[scope]
	if !ok {
		set = make(map[string]*typingEntry)
		t.sets[scope] = set
	}

	t.gen++
	gen := t.gen
	if entry, exists := set[user.ID]; exists {
		entry.timer.Stop()
		entry.gen = gen
		entry.connID = connID
		entry.timer = t.armLocked(scope, user.ID, gen)
		return false
	}

	set[user.ID] = &typingEntry{
		user:   user,
		connID: connID,
		gen:    gen,
		timer:  t.armLocked(scope, user.ID, gen),
	}
	return true
}

// Stop removes user from scope. It returns true only if the user was typing.
func (t *TypingTracker) Stop(scope TypingScope, userID string) (models.User, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.removeLocked(scope, userID)
}

// DropConnection removes every entry started from connID and returns them.
func (t *TypingTracker) DropConnection(connID string) []TypingChange {
	t.mu.Lock()
	defer t.mu.Unlock()

	var changes []TypingChange
	for scope, set := range t.sets {
		for userID, entry := range set {
			if entry.connID != connID {
				continue
			}
			if user, ok := t.removeLocked(scope, userID); ok {
				changes = append(changes, TypingChange{Scope: scope, User: user})
			}
		}
	}
	return changes
}

// Typing lists the user ids currently typing in scope.
func (t *TypingTracker) Typing(scope TypingScope) []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	ids := make([]string, 0, len(t.sets[scope]))
	for id := range t.sets[scope] {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Len returns the number of live entries across all scopes.
func (t *TypingTracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, set := range t.sets {
		n += len(set)
	}
	return n
}

// Close stops every timer without invoking the expire callback.
func (t *TypingTracker) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, set := range t.sets {
		for _, entry := range set {
			entry.timer.Stop()
		}
	}
	t.sets = make(map[TypingScope]map[string]*typingEntry)
}

func (t *TypingTracker) armLocked(scope TypingScope, userID string, gen uint64) *time.Timer {
	return time.AfterFunc(t.ttl, func() { t.onTimeout(scope, userID, gen) })
}

func (t *TypingTracker) onTimeout(scope TypingScope, userID string, gen uint64) {
	t.mu.Lock()
	entry, ok := t.sets[scope][userID]
	// A newer Start or a Stop superseded this timer.
	if !ok || entry.gen != gen {
		t.mu.Unlock()
		return
	}
	user, _ := t.removeLocked(scope, userID)
	t.mu.Unlock()

	if t.expire != nil {
		t.expire(TypingChange{Scope: scope, User: user})
	}
}

func (t *TypingTracker) removeLocked(scope TypingScope, userID string) (models.User, bool) {
	set, ok := t.sets[scope]
	if !ok {
		return models.User{}, false
	}
	entry, ok := set[userID]
	if !ok {
		return models.User{}, false
	}
	entry.timer.Stop()
	delete(set, userID)
	if len(set) == 0 {
		delete(t.sets, scope)
	}
	return entry.user, true
}
