package chatclient_test

import (
	"testing"

	"chatsync/backend/internal/chatclient"
	"chatsync/backend/internal/models"

	"github.com/stretchr/testify/assert"
)

func TestUnreadCounter_Inbound(t *testing.T) {
	u := chatclient.NewUnreadCounter(alice.ID)
	dm := models.DirectScope(bob.ID)

	assert.True(t, u.Inbound(general, bob.ID))
	assert.True(t, u.Inbound(general, bob.ID))
	assert.False(t, u.Inbound(general, alice.ID), "own messages never count")
	assert.True(t, u.Inbound(dm, bob.ID))

	assert.Equal(t, 2, u.Count(general))
	assert.Equal(t, 1, u.Count(dm))
	assert.Equal(t, 3, u.Total())
}

func TestUnreadCounter_FocusResetsAndHolds(t *testing.T) {
	u := chatclient.NewUnreadCounter(alice.ID)
	u.Inbound(general, bob.ID)

	u.Focus(general)
	assert.Zero(t, u.Count(general))
	assert.False(t, u.Inbound(general, bob.ID))
	assert.Zero(t, u.Count(general))

	u.Focus(models.Scope{})
	assert.True(t, u.Inbound(general, bob.ID))
	assert.Equal(t, 1, u.Count(general))
}

func TestUnreadCounter_ReplaceKeepsFocusedAtZero(t *testing.T) {
	u := chatclient.NewUnreadCounter(alice.ID)
	u.Inbound(models.RoomScope("random"), bob.ID)
	u.Inbound(models.DirectScope(bob.ID), bob.ID)
	u.Focus(models.RoomScope("tech"))

	u.Replace(models.ScopeRoom, map[string]int{"general": 4, "tech": 2})

	assert.Equal(t, map[models.Scope]int{
		models.RoomScope("general"): 4,
		models.DirectScope(bob.ID):  1,
	}, u.Counts())
}
