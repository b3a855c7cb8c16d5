// Package errs contains sentinel errors shared by the hub, the HTTP layer and
// the client session.
package errs

import "errors"

var (
	// ErrNotConnected is returned when an event is emitted without a live connection.
	ErrNotConnected = errors.New("not connected")

	// ErrSendTimeout indicates the connection did not become ready before the send deadline.
	ErrSendTimeout = errors.New("send timed out waiting for connection")

	// ErrSendFailed indicates the server rejected or could not store a message.
	ErrSendFailed = errors.New("send failed")

	// ErrNotAcknowledged indicates a written message got no echo before the
	// connection dropped or the acknowledgement deadline passed.
	ErrNotAcknowledged = errors.New("message not acknowledged")

	// ErrPersistFailed indicates the store did not acknowledge a message in time.
	ErrPersistFailed = errors.New("persist failed")

	// ErrInvalidMessage indicates empty or oversized message content.
	ErrInvalidMessage = errors.New("invalid message")

	// ErrUnauthorized indicates a missing, expired or forged token.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrIdentityMismatch indicates user_join named a different user than the token.
	ErrIdentityMismatch = errors.New("identity mismatch")

	// ErrNotFound indicates the requested entity does not exist.
	ErrNotFound = errors.New("not found")
)
