package storage

import (
	"context"
	"fmt"
	"time"

	"chatsync/backend/internal/config"
	"chatsync/backend/internal/errs"
	"chatsync/backend/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Storage is the persistence collaborator consumed by the hub and the HTTP
// handlers. Every call is individually atomic; callers never rely on a
// transaction spanning two calls.
type Storage interface {
	CreateRoomMessage(ctx context.Context, msg *models.RoomMessage) error
	CreateDirectMessage(ctx context.Context, msg *models.DirectMessage) error

	ListRooms(ctx context.Context) ([]models.Room, error)
	ListRoomMembers(ctx context.Context, roomID string) ([]string, error)
	AddRoomMember(ctx context.Context, roomID, userID string) error

	GetRoomHistory(ctx context.Context, roomID string, limit int) ([]models.RoomMessage, error)
	GetDirectHistory(ctx context.Context, userID, peerID string, limit int) ([]models.DirectMessage, error)

	MarkRoomRead(ctx context.Context, roomID, userID string, at time.Time) error
	MarkDirectRead(ctx context.Context, receiverID, senderID string) error
	RoomUnreadCounts(ctx context.Context, userID string) ([]models.RoomUnreadCount, error)
	DirectUnreadCounts(ctx context.Context, userID string) ([]models.DirectUnreadCount, error)
}

// Service implements Storage on top of gorm (PostgreSQL in production,
// SQLite in tests).
type Service struct {
	DB *gorm.DB

	// UnreadWindow bounds how far back room messages count as unread.
	UnreadWindow time.Duration
	now          func() time.Time
}

// NewStorageService Constructor
func NewStorageService(db *gorm.DB) *Service {
	return &Service{
		DB:           db,
		UnreadWindow: 7 * 24 * time.Hour,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// Migrate створює таблиці для всіх моделей.
func (s *Service) Migrate() error {
	return s.DB.AutoMigrate(
		&models.Room{},
		&models.RoomMember{},
		&models.RoomMessage{},
		&models.DirectMessage{},
	)
}

// EnsureDefaultRooms creates the built-in rooms if they do not exist yet.
func (s *Service) EnsureDefaultRooms(ctx context.Context) error {
	for id, description := range config.DefaultRooms {
		room := models.Room{ID: id}
		err := s.DB.WithContext(ctx).
			Where(models.Room{ID: id}).
			Attrs(models.Room{Name: id, Description: description, CreatedAt: s.now()}).
			FirstOrCreate(&room).Error
		if err != nil {
			return fmt.Errorf("ensure room %s: %w", id, err)
		}
	}
	return nil
}

// CreateRoomMessage зберігає повідомлення кімнати; ID заповнюється хуком BeforeCreate.
func (s *Service) CreateRoomMessage(ctx context.Context, msg *models.RoomMessage) error {
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = s.now()
	}
	if err := s.DB.WithContext(ctx).Create(msg).Error; err != nil {
		return fmt.Errorf("create room message in %s: %w", msg.RoomID, err)
	}
	return nil
}

// CreateDirectMessage зберігає приватне повідомлення.
func (s *Service) CreateDirectMessage(ctx context.Context, msg *models.DirectMessage) error {
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = s.now()
	}
	if err := s.DB.WithContext(ctx).Create(msg).Error; err != nil {
		return fmt.Errorf("create direct message to %s: %w", msg.ReceiverID, err)
	}
	return nil
}

func (s *Service) ListRooms(ctx context.Context) ([]models.Room, error) {
	var rooms []models.Room
	if err := s.DB.WithContext(ctx).Order("id asc").Find(&rooms).Error; err != nil {
		return nil, fmt.Errorf("list rooms: %w", err)
	}
	return rooms, nil
}

// CreateRoom adds a room; the id must be unused.
func (s *Service) CreateRoom(ctx context.Context, room *models.Room) error {
	if room.ID == "" {
		return fmt.Errorf("create room: empty id")
	}
	if room.Name == "" {
		room.Name = room.ID
	}
	if room.CreatedAt.IsZero() {
		room.CreatedAt = s.now()
	}
	res := s.DB.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(room)
	if res.Error != nil {
		return fmt.Errorf("create room %s: %w", room.ID, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("create room %s: already exists", room.ID)
	}
	return nil
}

// RemoveRoomMember drops a membership together with its read watermark.
func (s *Service) RemoveRoomMember(ctx context.Context, roomID, userID string) error {
	res := s.DB.WithContext(ctx).
		Where("room_id = ? AND user_id = ?", roomID, userID).
		Delete(&models.RoomMember{})
	if res.Error != nil {
		return fmt.Errorf("remove member %s from %s: %w", userID, roomID, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("remove member %s from %s: %w", userID, roomID, errs.ErrNotFound)
	}
	return nil
}

// ListRoomMembers повертає ID всіх користувачів, які колись приєднувались до кімнати.
func (s *Service) ListRoomMembers(ctx context.Context, roomID string) ([]string, error) {
	var userIDs []string
	if err := s.DB.WithContext(ctx).Model(&models.RoomMember{}).
		Where("room_id = ?", roomID).
		Order("user_id asc").
		Pluck("user_id", &userIDs).Error; err != nil {
		return nil, fmt.Errorf("list members of %s: %w", roomID, err)
	}
	return userIDs, nil
}

// AddRoomMember is idempotent; an existing membership keeps its read watermark.
func (s *Service) AddRoomMember(ctx context.Context, roomID, userID string) error {
	now := s.now()
	member := models.RoomMember{}
	err := s.DB.WithContext(ctx).
		Where(models.RoomMember{RoomID: roomID, UserID: userID}).
		Attrs(models.RoomMember{JoinedAt: now, LastReadAt: now}).
		FirstOrCreate(&member).Error
	if err != nil {
		return fmt.Errorf("add member %s to %s: %w", userID, roomID, err)
	}
	return nil
}

// GetRoomHistory returns the newest limit messages of a room, oldest first.
func (s *Service) GetRoomHistory(ctx context.Context, roomID string, limit int) ([]models.RoomMessage, error) {
	var history []models.RoomMessage
	if err := s.DB.WithContext(ctx).
		Where("room_id = ?", roomID).
		Order("created_at desc").
		Limit(clampLimit(limit)).
		Find(&history).Error; err != nil {
		return nil, fmt.Errorf("room history %s: %w", roomID, err)
	}
	reverse(history)
	return history, nil
}

// GetDirectHistory returns the newest limit messages exchanged between two users, oldest first.
func (s *Service) GetDirectHistory(ctx context.Context, userID, peerID string, limit int) ([]models.DirectMessage, error) {
	var history []models.DirectMessage
	if err := s.DB.WithContext(ctx).
		Where("(sender_id = ? AND receiver_id = ?) OR (sender_id = ? AND receiver_id = ?)", userID, peerID, peerID, userID).
		Order("created_at desc").
		Limit(clampLimit(limit)).
		Find(&history).Error; err != nil {
		return nil, fmt.Errorf("direct history %s/%s: %w", userID, peerID, err)
	}
	reverse(history)
	return history, nil
}

// MarkRoomRead moves the member's read watermark, creating the membership if needed.
func (s *Service) MarkRoomRead(ctx context.Context, roomID, userID string, at time.Time) error {
	at = at.UTC()
	member := models.RoomMember{}
	err := s.DB.WithContext(ctx).
		Where(models.RoomMember{RoomID: roomID, UserID: userID}).
		Attrs(models.RoomMember{JoinedAt: at}).
		Assign(models.RoomMember{LastReadAt: at}).
		FirstOrCreate(&member).Error
	if err != nil {
		return fmt.Errorf("mark room %s read for %s: %w", roomID, userID, err)
	}
	return nil
}

// MarkDirectRead flags every unread message from senderID to receiverID as read.
func (s *Service) MarkDirectRead(ctx context.Context, receiverID, senderID string) error {
	err := s.DB.WithContext(ctx).Model(&models.DirectMessage{}).
		Where("receiver_id = ? AND sender_id = ? AND is_read = ?", receiverID, senderID, false).
		Update("is_read", true).Error
	if err != nil {
		return fmt.Errorf("mark direct read %s<-%s: %w", receiverID, senderID, err)
	}
	return nil
}

// RoomUnreadCounts рахує повідомлення інших користувачів після last_read_at
// для кожної кімнати, де користувач є учасником.
func (s *Service) RoomUnreadCounts(ctx context.Context, userID string) ([]models.RoomUnreadCount, error) {
	var counts []models.RoomUnreadCount
	since := s.now().Add(-s.UnreadWindow)
	err := s.DB.WithContext(ctx).
		Table("room_messages AS m").
		Select("m.room_id AS room_id, COUNT(*) AS count").
		Joins("JOIN room_members AS rm ON rm.room_id = m.room_id AND rm.user_id = ?", userID).
		Where("m.sender_id <> ?", userID).
		Where("m.created_at > rm.last_read_at").
		Where("m.created_at > ?", since).
		Group("m.room_id").
		Order("m.room_id").
		Scan(&counts).Error
	if err != nil {
		return nil, fmt.Errorf("room unread counts for %s: %w", userID, err)
	}
	return counts, nil
}

// DirectUnreadCounts groups unread private messages addressed to userID by sender.
func (s *Service) DirectUnreadCounts(ctx context.Context, userID string) ([]models.DirectUnreadCount, error) {
	var counts []models.DirectUnreadCount
	err := s.DB.WithContext(ctx).
		Model(&models.DirectMessage{}).
		Select("sender_id AS user_id, COUNT(*) AS count").
		Where("receiver_id = ? AND is_read = ?", userID, false).
		Group("sender_id").
		Order("sender_id").
		Scan(&counts).Error
	if err != nil {
		return nil, fmt.Errorf("direct unread counts for %s: %w", userID, err)
	}
	return counts, nil
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return config.DefaultHistoryLimit
	}
	if limit > config.MaxHistoryLimit {
		return config.MaxHistoryLimit
	}
	return limit
}

func reverse[T any](items []T) {
	for i, j := 0, len(items)-1; i < j; i, j = i+1, j-1 {
		items[i], items[j] = items[j], items[i]
	}
}
