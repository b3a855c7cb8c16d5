package chathub

import "chatsync/backend/internal/models"

// Client is the interface for one live connection to the hub.
// It abstracts the underlying transport so the hub and its tests can manage
// connections uniformly.
type Client interface {
	// GetConnID returns the unique id of this connection (not of the user).
	GetConnID() string
	// GetIdentity returns the user verified during the handshake. A zero User
	// means the connection is bound by its first user_join.
	GetIdentity() models.User

	// Send enqueues evt without blocking. It returns false when the client is
	// closed or its buffer is full.
	Send(evt models.Event) bool

	// Closed reports whether Close has been called.
	Closed() bool

	// Run starts the client's read and write pumps.
	Run()
	// Close shuts the connection down. It is safe to call more than once.
	Close()
}
