package chathub_test

import (
	"context"
	"time"

	"chatsync/backend/internal/models"

	"github.com/stretchr/testify/mock"
)

// MockStorage is a mock implementation of the storage.Storage interface.
type MockStorage struct {
	mock.Mock
}

func (m *MockStorage) CreateRoomMessage(ctx context.Context, msg *models.RoomMessage) error {
	args := m.Called(ctx, msg)
	return args.Error(0)
}

func (m *MockStorage) CreateDirectMessage(ctx context.Context, msg *models.DirectMessage) error {
	args := m.Called(ctx, msg)
	return args.Error(0)
}

func (m *MockStorage) ListRooms(ctx context.Context) ([]models.Room, error) {
	args := m.Called(ctx)
	return args.Get(0).([]models.Room), args.Error(1)
}

func (m *MockStorage) ListRoomMembers(ctx context.Context, roomID string) ([]string, error) {
	args := m.Called(ctx, roomID)
	return args.Get(0).([]string), args.Error(1)
}

func (m *MockStorage) AddRoomMember(ctx context.Context, roomID, userID string) error {
	args := m.Called(ctx, roomID, userID)
	return args.Error(0)
}

func (m *MockStorage) GetRoomHistory(ctx context.Context, roomID string, limit int) ([]models.RoomMessage, error) {
	args := m.Called(ctx, roomID, limit)
	return args.Get(0).([]models.RoomMessage), args.Error(1)
}

func (m *MockStorage) GetDirectHistory(ctx context.Context, userID, peerID string, limit int) ([]models.DirectMessage, error) {
	args := m.Called(ctx, userID, peerID, limit)
	return args.Get(0).([]models.DirectMessage), args.Error(1)
}

func (m *MockStorage) MarkRoomRead(ctx context.Context, roomID, userID string, at time.Time) error {
	args := m.Called(ctx, roomID, userID, at)
	return args.Error(0)
}

func (m *MockStorage) MarkDirectRead(ctx context.Context, receiverID, senderID string) error {
	args := m.Called(ctx, receiverID, senderID)
	return args.Error(0)
}

func (m *MockStorage) RoomUnreadCounts(ctx context.Context, userID string) ([]models.RoomUnreadCount, error) {
	args := m.Called(ctx, userID)
	return args.Get(0).([]models.RoomUnreadCount), args.Error(1)
}

func (m *MockStorage) DirectUnreadCounts(ctx context.Context, userID string) ([]models.DirectUnreadCount, error) {
	args := m.Called(ctx, userID)
	return args.Get(0).([]models.DirectUnreadCount), args.Error(1)
}

// allowBackground registers catch-all expectations for the calls the hub
// makes from background goroutines. Register specific expectations first.
func allowBackground(m *MockStorage) {
	m.On("AddRoomMember", mock.Anything, mock.Anything, mock.Anything).Return(nil).Maybe()
	m.On("ListRoomMembers", mock.Anything, mock.Anything).Return([]string{}, nil).Maybe()
	m.On("RoomUnreadCounts", mock.Anything, mock.Anything).Return([]models.RoomUnreadCount{}, nil).Maybe()
	m.On("DirectUnreadCounts", mock.Anything, mock.Anything).Return([]models.DirectUnreadCount{}, nil).Maybe()
}
