package models

import "time"

// Room is a named broadcast channel.
type Room struct {
	ID          string    `gorm:"primaryKey;type:varchar(64)" json:"id"`
	Name        string    `gorm:"type:text;not null" json:"name"`
	Description string    `gorm:"type:text" json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// RoomMember records that a user has joined a room at least once.
// LastReadAt is the read watermark: room unread count = messages from others
// created after it.
type RoomMember struct {
	RoomID     string    `gorm:"primaryKey;type:varchar(64)" json:"room_id"`
	UserID     string    `gorm:"primaryKey;type:varchar(64);index" json:"user_id"`
	JoinedAt   time.Time `json:"joined_at"`
	LastReadAt time.Time `json:"last_read_at"`
}

// RoomUnreadCount is one row of the room_unread_counts event.
type RoomUnreadCount struct {
	RoomID string `json:"room_id"`
	Count  int    `json:"count"`
}

// DirectUnreadCount is one row of the private_unread_counts event.
// UserID is the sender whose messages are unread.
type DirectUnreadCount struct {
	UserID string `json:"user_id"`
	Count  int    `json:"count"`
}
