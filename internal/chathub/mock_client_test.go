package chathub_test

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"chatsync/backend/internal/models"

	"github.com/stretchr/testify/require"
)

type MockClient struct {
	connID      string
	identity    models.User
	RecvChannel chan models.Event

	mu     sync.Mutex
	closed bool
}

func newMockClient(connID string, identity models.User) *MockClient {
	return &MockClient{
		connID:      connID,
		identity:    identity,
		RecvChannel: make(chan models.Event, 64),
	}
}

func (c *MockClient) GetConnID() string        { return c.connID }
func (c *MockClient) GetIdentity() models.User { return c.identity }

func (c *MockClient) Send(evt models.Event) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.RecvChannel <- evt:
		return true
	default:
		return false
	}
}

func (c *MockClient) Run() {
	// Not needed for testing
}

func (c *MockClient) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
}

func (c *MockClient) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// expectEvent skips other event types until one of eventType arrives.
func expectEvent(t *testing.T, c *MockClient, eventType string) models.Event {
	t.Helper()
	deadline := time.After(time.Second)
	for {
		select {
		case evt := <-c.RecvChannel:
			if evt.Type == eventType {
				return evt
			}
		case <-deadline:
			t.Fatalf("%s: no %s event received", c.connID, eventType)
			return models.Event{}
		}
	}
}

// assertNoEvent fails if an event of eventType arrives within wait.
func assertNoEvent(t *testing.T, c *MockClient, eventType string, wait time.Duration) {
	t.Helper()
	deadline := time.After(wait)
	for {
		select {
		case evt := <-c.RecvChannel:
			if evt.Type == eventType {
				t.Fatalf("%s: unexpected %s event: %s", c.connID, eventType, string(evt.Data))
			}
		case <-deadline:
			return
		}
	}
}

func drain(c *MockClient) {
	for {
		select {
		case <-c.RecvChannel:
		default:
			return
		}
	}
}

func decodeAs[T any](t *testing.T, evt models.Event) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(evt.Data, &v))
	return v
}

func mustEvent(t *testing.T, eventType string, payload any) models.Event {
	t.Helper()
	evt, err := models.NewEvent(eventType, payload)
	require.NoError(t, err)
	return evt
}
