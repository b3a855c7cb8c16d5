package chatclient

import (
	"sync"

	"chatsync/backend/internal/models"
)

// UnreadCounter counts inbound messages per scope while the scope is not
// focused. Counts only grow; Focus and server recounts reset them.
type UnreadCounter struct {
	mu      sync.Mutex
	self    string
	focused models.Scope
	counts  map[models.Scope]int
}

func NewUnreadCounter(selfID string) *UnreadCounter {
	return &UnreadCounter{self: selfID, counts: make(map[models.Scope]int)}
}

// Inbound records one message from senderID. It reports whether the count
// changed.
func (u *UnreadCounter) Inbound(scope models.Scope, senderID string) bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	if senderID == u.self || scope == u.focused {
		return false
	}
	u.counts[scope]++
	return true
}

// Focus resets scope and keeps it at zero until another scope is focused.
// A zero Scope clears the focus.
func (u *UnreadCounter) Focus(scope models.Scope) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.focused = scope
	delete(u.counts, scope)
}

func (u *UnreadCounter) Focused() models.Scope {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.focused
}

// Replace installs a server recount for every scope of kind.
func (u *UnreadCounter) Replace(kind models.ScopeKind, counts map[string]int) {
	u.mu.Lock()
	defer u.mu.Unlock()

	for scope := range u.counts {
		if scope.Kind == kind {
			delete(u.counts, scope)
		}
	}
	for id, n := range counts {
		scope := models.Scope{Kind: kind, ID: id}
		if n <= 0 || scope == u.focused {
			continue
		}
		u.counts[scope] = n
	}
}

func (u *UnreadCounter) Count(scope models.Scope) int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.counts[scope]
}

func (u *UnreadCounter) Counts() map[models.Scope]int {
	u.mu.Lock()
	defer u.mu.Unlock()
	out := make(map[models.Scope]int, len(u.counts))
	for k, v := range u.counts {
		out[k] = v
	}
	return out
}

func (u *UnreadCounter) Total() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	total := 0
	for _, n := range u.counts {
		total += n
	}
	return total
}
