package chatclient

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"chatsync/backend/internal/models"

	"github.com/google/uuid"
)

// Entry is one message in a local conversation. Pending entries carry a
// provisional "temp-" id until the durable record replaces them.
type Entry struct {
	ID           string
	ClientID     string
	Scope        models.Scope
	SenderID     string
	SenderName   string
	SenderAvatar string
	Content      string
	CreatedAt    time.Time
	Pending      bool
}

func RoomEntry(m models.RoomMessage) Entry {
	return Entry{
		ID:           m.ID,
		ClientID:     m.ClientID,
		Scope:        models.RoomScope(m.RoomID),
		SenderID:     m.SenderID,
		SenderName:   m.SenderName,
		SenderAvatar: m.SenderAvatar,
		Content:      m.Content,
		CreatedAt:    m.CreatedAt,
	}
}

// DirectEntry files a private message under the peer of localUserID.
func DirectEntry(m models.DirectMessage, localUserID string) Entry {
	return Entry{
		ID:           m.ID,
		ClientID:     m.ClientID,
		Scope:        models.DirectScope(m.PeerOf(localUserID)),
		SenderID:     m.SenderID,
		SenderName:   m.SenderName,
		SenderAvatar: m.SenderAvatar,
		Content:      m.Content,
		CreatedAt:    m.CreatedAt,
	}
}

type thread struct {
	entries []Entry
	ids     map[string]struct{}
}

// Conversations holds the local message list of every scope and reconciles
// optimistic entries with the durable records the server echoes back.
type Conversations struct {
	mu      sync.Mutex
	threads map[models.Scope]*thread
	seq     uint64
	now     func() time.Time
}

func NewConversations() *Conversations {
	return &Conversations{
		threads: make(map[models.Scope]*thread),
		now:     time.Now,
	}
}

func (c *Conversations) threadLocked(scope models.Scope) *thread {
	t, ok := c.threads[scope]
	if !ok {
		t = &thread{ids: make(map[string]struct{})}
		c.threads[scope] = t
	}
	return t
}

// AddProvisional inserts a pending entry with a provisional id and a fresh
// correlation id. It must run before the send is attempted.
func (c *Conversations) AddProvisional(scope models.Scope, sender models.User, content string) Entry {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.seq++
	now := c.now()
	entry := Entry{
		ID:           fmt.Sprintf("temp-%d-%d", now.UnixNano(), c.seq),
		ClientID:     uuid.NewString(),
		Scope:        scope,
		SenderID:     sender.ID,
		SenderName:   sender.Username,
		SenderAvatar: sender.Avatar,
		Content:      content,
		CreatedAt:    now,
		Pending:      true,
	}
	t := c.threadLocked(scope)
	t.entries = append(t.entries, entry)
	t.ids[entry.ID] = struct{}{}
	return entry
}

// Confirm applies a durable record. When the local user sent it, the matching
// pending entry is removed first: by ClientID when the record carries one,
// otherwise the oldest pending entry with the same content. The record is
// then inserted unless its id is already present. Confirm reports whether
// it was inserted.
func (c *Conversations) Confirm(scope models.Scope, durable Entry, localUserID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	t := c.threadLocked(scope)
	if durable.SenderID == localUserID {
		if i := t.pendingIndex(durable); i >= 0 {
			t.removeAt(i)
		}
	}

	durable.Scope = scope
	durable.Pending = false
	return t.insert(durable)
}

func (t *thread) pendingIndex(durable Entry) int {
	if durable.ClientID != "" {
		for i, e := range t.entries {
			if e.Pending && e.ClientID == durable.ClientID {
				return i
			}
		}
		return -1
	}
	// Entries are in insertion order, so the first hit is the oldest.
	for i, e := range t.entries {
		if e.Pending && e.Content == durable.Content {
			return i
		}
	}
	return -1
}

func (t *thread) removeAt(i int) Entry {
	e := t.entries[i]
	t.entries = append(t.entries[:i:i], t.entries[i+1:]...)
	delete(t.ids, e.ID)
	return e
}

func (t *thread) insert(e Entry) bool {
	if _, dup := t.ids[e.ID]; dup {
		return false
	}
	t.entries = append(t.entries, e)
	t.ids[e.ID] = struct{}{}
	return true
}

// Rollback removes a pending entry after a failed send.
func (c *Conversations) Rollback(scope models.Scope, provisionalID string) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	t, ok := c.threads[scope]
	if !ok {
		return Entry{}, false
	}
	for i, e := range t.entries {
		if e.Pending && e.ID == provisionalID {
			return t.removeAt(i), true
		}
	}
	return Entry{}, false
}

// RollbackClientID is Rollback keyed by correlation id, as reported in a
// message_error.
func (c *Conversations) RollbackClientID(scope models.Scope, clientID string) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	t, ok := c.threads[scope]
	if !ok || clientID == "" {
		return Entry{}, false
	}
	for i, e := range t.entries {
		if e.Pending && e.ClientID == clientID {
			return t.removeAt(i), true
		}
	}
	return Entry{}, false
}

// Merge adds durable entries from a history fetch, skipping ids already
// present, and keeps the thread ordered by creation time. It returns the
// number of entries added.
func (c *Conversations) Merge(scope models.Scope, history []Entry) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	t := c.threadLocked(scope)
	added := 0
	for _, e := range history {
		e.Scope = scope
		e.Pending = false
		if t.insert(e) {
			added++
		}
	}
	if added > 0 {
		sort.SliceStable(t.entries, func(i, j int) bool {
			return t.entries[i].CreatedAt.Before(t.entries[j].CreatedAt)
		})
	}
	return added
}

func (c *Conversations) Messages(scope models.Scope) []Entry {
	c.mu.Lock()
	defer c.mu.Unlock()

	t, ok := c.threads[scope]
	if !ok {
		return nil
	}
	return append([]Entry(nil), t.entries...)
}

func (c *Conversations) Pending(scope models.Scope) []Entry {
	c.mu.Lock()
	defer c.mu.Unlock()

	t, ok := c.threads[scope]
	if !ok {
		return nil
	}
	var pending []Entry
	for _, e := range t.entries {
		if e.Pending {
			pending = append(pending, e)
		}
	}
	return pending
}
