package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// RoomMessage is a durable message broadcast to a room.
// ID is server assigned; ClientID echoes the sender's correlation id so the
// sender can reconcile its provisional copy by key.
type RoomMessage struct {
	ID           string    `gorm:"primaryKey;type:varchar(36)" json:"id"`
	RoomID       string    `gorm:"type:varchar(64);not null;index:idx_room_created" json:"room_id"`
	SenderID     string    `gorm:"type:varchar(64);not null;index" json:"sender_id"`
	SenderName   string    `gorm:"type:text" json:"sender_name"`
	SenderAvatar string    `gorm:"type:text" json:"sender_avatar,omitempty"`
	Content      string    `gorm:"type:text;not null" json:"content"`
	ClientID     string    `gorm:"type:varchar(64)" json:"client_id,omitempty"`
	CreatedAt    time.Time `gorm:"index:idx_room_created" json:"created_at"`
}

// BeforeCreate generates a UUID for the message if none was set.
func (m *RoomMessage) BeforeCreate(tx *gorm.DB) (err error) {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	return
}

// DirectMessage is a durable private message between two users.
type DirectMessage struct {
	ID           string    `gorm:"primaryKey;type:varchar(36)" json:"id"`
	SenderID     string    `gorm:"type:varchar(64);not null;index:idx_dm_pair" json:"sender_id"`
	ReceiverID   string    `gorm:"type:varchar(64);not null;index:idx_dm_pair;index" json:"receiver_id"`
	SenderName   string    `gorm:"type:text" json:"sender_name"`
	SenderAvatar string    `gorm:"type:text" json:"sender_avatar,omitempty"`
	Content      string    `gorm:"type:text;not null" json:"content"`
	ClientID     string    `gorm:"type:varchar(64)" json:"client_id,omitempty"`
	IsRead       bool      `gorm:"not null;default:false" json:"is_read"`
	CreatedAt    time.Time `gorm:"index" json:"created_at"`
}

// BeforeCreate generates a UUID for the message if none was set.
func (m *DirectMessage) BeforeCreate(tx *gorm.DB) (err error) {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	return
}

// PeerOf returns the other participant of the conversation as seen by userID.
func (m *DirectMessage) PeerOf(userID string) string {
	if m.SenderID == userID {
		return m.ReceiverID
	}
	return m.SenderID
}
