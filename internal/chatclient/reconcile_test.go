package chatclient_test

import (
	"strings"
	"testing"
	"time"

	"chatsync/backend/internal/chatclient"
	"chatsync/backend/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var general = models.RoomScope("general")

func TestConversations_AddProvisional(t *testing.T) {
	c := chatclient.NewConversations()

	first := c.AddProvisional(general, alice, "hi")
	second := c.AddProvisional(general, alice, "hi")

	assert.True(t, strings.HasPrefix(first.ID, "temp-"))
	assert.NotEqual(t, first.ID, second.ID)
	assert.NotEqual(t, first.ClientID, second.ClientID)
	assert.True(t, first.Pending)
	assert.Len(t, c.Pending(general), 2)
}

func TestConversations_ConfirmByClientID(t *testing.T) {
	c := chatclient.NewConversations()
	first := c.AddProvisional(general, alice, "same")
	second := c.AddProvisional(general, alice, "same")

	inserted := c.Confirm(general, chatclient.Entry{ID: "m-2", ClientID: second.ClientID, SenderID: alice.ID, Content: "same"}, alice.ID)

	require.True(t, inserted)
	pending := c.Pending(general)
	require.Len(t, pending, 1)
	assert.Equal(t, first.ID, pending[0].ID, "the entry with the matching correlation id is replaced")
}

func TestConversations_ConfirmFallsBackToOldestSameContent(t *testing.T) {
	c := chatclient.NewConversations()
	oldest := c.AddProvisional(general, alice, "dup")
	newer := c.AddProvisional(general, alice, "dup")

	c.Confirm(general, chatclient.Entry{ID: "m-1", SenderID: alice.ID, Content: "dup"}, alice.ID)

	pending := c.Pending(general)
	require.Len(t, pending, 1)
	assert.Equal(t, newer.ID, pending[0].ID)
	assert.NotEqual(t, oldest.ID, pending[0].ID)
}

func TestConversations_ConfirmIsIdempotent(t *testing.T) {
	c := chatclient.NewConversations()
	durable := chatclient.Entry{ID: "m-1", SenderID: bob.ID, Content: "hello"}

	assert.True(t, c.Confirm(general, durable, alice.ID))
	assert.False(t, c.Confirm(general, durable, alice.ID))
	assert.Len(t, c.Messages(general), 1)
}

func TestConversations_ForeignMessageKeepsPending(t *testing.T) {
	c := chatclient.NewConversations()
	mine := c.AddProvisional(general, alice, "hello")

	c.Confirm(general, chatclient.Entry{ID: "m-1", SenderID: bob.ID, Content: "hello"}, alice.ID)

	pending := c.Pending(general)
	require.Len(t, pending, 1)
	assert.Equal(t, mine.ID, pending[0].ID)
	assert.Len(t, c.Messages(general), 2)
}

func TestConversations_UnknownClientIDRemovesNothing(t *testing.T) {
	c := chatclient.NewConversations()
	c.AddProvisional(general, alice, "hello")

	// Same user, other device: the correlation id is not ours.
	c.Confirm(general, chatclient.Entry{ID: "m-1", ClientID: "elsewhere", SenderID: alice.ID, Content: "hello"}, alice.ID)

	assert.Len(t, c.Pending(general), 1)
}

func TestConversations_Rollback(t *testing.T) {
	c := chatclient.NewConversations()
	entry := c.AddProvisional(general, alice, "oops")

	removed, ok := c.Rollback(general, entry.ID)
	require.True(t, ok)
	assert.Equal(t, entry.ClientID, removed.ClientID)
	assert.Empty(t, c.Messages(general))

	_, ok = c.Rollback(general, entry.ID)
	assert.False(t, ok)
}

func TestConversations_RollbackClientID(t *testing.T) {
	c := chatclient.NewConversations()
	scope := models.DirectScope(bob.ID)
	entry := c.AddProvisional(scope, alice, "psst")

	_, ok := c.RollbackClientID(general, entry.ClientID)
	assert.False(t, ok, "scope must match")

	removed, ok := c.RollbackClientID(scope, entry.ClientID)
	require.True(t, ok)
	assert.Equal(t, entry.ID, removed.ID)
}

func TestConversations_MergeDedupesAndOrders(t *testing.T) {
	c := chatclient.NewConversations()
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	c.Confirm(general, chatclient.Entry{ID: "m-3", SenderID: bob.ID, CreatedAt: base.Add(3 * time.Minute)}, alice.ID)

	added := c.Merge(general, []chatclient.Entry{
		{ID: "m-1", SenderID: bob.ID, CreatedAt: base.Add(time.Minute)},
		{ID: "m-2", SenderID: alice.ID, CreatedAt: base.Add(2 * time.Minute)},
		{ID: "m-3", SenderID: bob.ID, CreatedAt: base.Add(3 * time.Minute)},
	})

	assert.Equal(t, 2, added)
	var ids []string
	for _, e := range c.Messages(general) {
		ids = append(ids, e.ID)
	}
	assert.Equal(t, []string{"m-1", "m-2", "m-3"}, ids)
}

func TestDirectEntry_FiledUnderPeer(t *testing.T) {
	msg := models.DirectMessage{ID: "d-1", SenderID: alice.ID, ReceiverID: bob.ID, Content: "hey"}

	assert.Equal(t, models.DirectScope(bob.ID), chatclient.DirectEntry(msg, alice.ID).Scope)
	assert.Equal(t, models.DirectScope(alice.ID), chatclient.DirectEntry(msg, bob.ID).Scope)
}
