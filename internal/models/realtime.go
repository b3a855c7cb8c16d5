package models

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// Event types carried over the socket. Directions are noted where a name is
// only valid one way.
const (
	EventUserJoin           = "user_join"  // C→S
	EventJoinRoom           = "join_room"  // C→S
	EventLeaveRoom          = "leave_room" // C→S
	EventSendMessage        = "send_message"
	EventSendPrivateMessage = "send_private_message"
	EventTyping             = "typing"
	EventStopTyping         = "stop_typing"
	EventPrivateTyping      = "private_typing"
	EventPrivateStopTyping  = "private_stop_typing"
	EventPong               = "pong" // C→S

	EventOnlineUsers         = "online_users"
	EventNewMessage          = "new_message"
	EventNewPrivateMessage   = "new_private_message"
	EventMessageError        = "message_error"
	EventRoomUnreadCounts    = "room_unread_counts"
	EventPrivateUnreadCounts = "private_unread_counts"
	EventPing                = "ping"
	EventError               = "error"
)

// Event is the envelope of every frame: one tag plus a JSON payload.
type Event struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// NewEvent marshals payload into an envelope. A nil payload yields an event
// without data.
func NewEvent(eventType string, payload any) (Event, error) {
	if payload == nil {
		return Event{Type: eventType}, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("encode %s payload: %w", eventType, err)
	}
	return Event{Type: eventType, Data: data}, nil
}

// MustEvent is NewEvent for payloads that cannot fail to encode.
func MustEvent(eventType string, payload any) Event {
	evt, err := NewEvent(eventType, payload)
	if err != nil {
		panic(err)
	}
	return evt
}

// Decode unmarshals the payload into v.
func (e Event) Decode(v any) error {
	if len(e.Data) == 0 {
		return fmt.Errorf("%s: empty payload", e.Type)
	}
	if err := json.Unmarshal(e.Data, v); err != nil {
		return fmt.Errorf("%s: decode payload: %w", e.Type, err)
	}
	return nil
}

// DecodeFrame splits one socket frame into events. The writer may batch
// several envelopes back to back in a single frame.
func DecodeFrame(frame []byte) ([]Event, error) {
	dec := json.NewDecoder(bytes.NewReader(frame))
	var events []Event
	for {
		var evt Event
		if err := dec.Decode(&evt); err != nil {
			if errors.Is(err, io.EOF) {
				return events, nil
			}
			return events, fmt.Errorf("decode frame: %w", err)
		}
		events = append(events, evt)
	}
}

// SendMessageRequest is the send_message payload.
type SendMessageRequest struct {
	User     User   `json:"user"`
	Message  string `json:"message"`
	RoomID   string `json:"room_id"`
	ClientID string `json:"client_id,omitempty"`
}

// SendPrivateMessageRequest is the send_private_message payload.
type SendPrivateMessageRequest struct {
	Sender   User   `json:"sender"`
	Receiver string `json:"receiver"`
	Message  string `json:"message"`
	ClientID string `json:"client_id,omitempty"`
}

// TypingPayload is shared by typing, stop_typing and their private variants.
// RoomID is set for room scope, ReceiverID for private scope.
type TypingPayload struct {
	User       User   `json:"user"`
	RoomID     string `json:"room_id,omitempty"`
	ReceiverID string `json:"receiver_id,omitempty"`
}

// MessageError is sent only to the connection whose publish failed.
type MessageError struct {
	ClientID   string `json:"client_id,omitempty"`
	RoomID     string `json:"room_id,omitempty"`
	ReceiverID string `json:"receiver_id,omitempty"`
	Reason     string `json:"reason"`
}

// ErrorPayload reports a rejected event that is not a publish.
type ErrorPayload struct {
	Reason string `json:"reason"`
}
