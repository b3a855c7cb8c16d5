package chathub

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"chatsync/backend/internal/config"
	"chatsync/backend/internal/errs"
	"chatsync/backend/internal/models"
	"chatsync/backend/internal/storage"

	"go.uber.org/zap"
)

// Deliverer enqueues an event on specific connections.
type Deliverer interface {
	SendTo(connIDs []string, evt models.Event)
}

// ConnectionLocator finds the live connections of a user.
type ConnectionLocator interface {
	ConnectionsForUser(userID string) []string
}

// Router keeps room subscriptions and publishes messages: persist first,
// then fan out. A message that failed to persist is never delivered; the
// failure goes back to the origin connection only.
type Router struct {
	mu        sync.RWMutex
	rooms     map[string]map[string]struct{} // roomID -> connIDs
	joined    map[string]map[string]struct{} // connID -> roomIDs
	roomLocks map[string]*sync.Mutex

	store   storage.Storage
	deliver Deliverer
	locator ConnectionLocator
	timeout time.Duration
	log     *zap.Logger
}

func NewRouter(store storage.Storage, deliver Deliverer, locator ConnectionLocator, persistTimeout time.Duration, log *zap.Logger) *Router {
	if persistTimeout <= 0 {
		persistTimeout = config.DefaultPersistTimeout
	}
	return &Router{
		rooms:     make(map[string]map[string]struct{}),
		joined:    make(map[string]map[string]struct{}),
		roomLocks: make(map[string]*sync.Mutex),
		store:     store,
		deliver:   deliver,
		locator:   locator,
		timeout:   persistTimeout,
		log:       log,
	}
}

// Subscribe adds connID to roomID. It reports false if already subscribed.
func (r *Router) Subscribe(connID, roomID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	subs, ok := r.rooms[roomID]
	if !ok {
		subs = make(map[string]struct{})
		r.rooms[roomID] = subs
	}
	if _, exists := subs[connID]; exists {
		return false
	}
	subs[connID] = struct{}{}

	rooms, ok := r.joined[connID]
	if !ok {
		rooms = make(map[string]struct{})
		r.joined[connID] = rooms
	}
	rooms[roomID] = struct{}{}
	return true
}

// Unsubscribe removes connID from roomID. It reports false if it was not subscribed.
func (r *Router) Unsubscribe(connID, roomID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.unsubscribeLocked(connID, roomID)
}

func (r *Router) unsubscribeLocked(connID, roomID string) bool {
	subs, ok := r.rooms[roomID]
	if !ok {
		return false
	}
	if _, exists := subs[connID]; !exists {
		return false
	}
	delete(subs, connID)
	if len(subs) == 0 {
		delete(r.rooms, roomID)
	}
	if rooms, ok := r.joined[connID]; ok {
		delete(rooms, roomID)
		if len(rooms) == 0 {
			delete(r.joined, connID)
		}
	}
	return true
}

// DropConnection removes every subscription of connID and returns the rooms it left.
func (r *Router) DropConnection(connID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var left []string
	for roomID := range r.joined[connID] {
		left = append(left, roomID)
	}
	for _, roomID := range left {
		r.unsubscribeLocked(connID, roomID)
	}
	sort.Strings(left)
	return left
}

func (r *Router) Subscribers(roomID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.rooms[roomID]))
	for id := range r.rooms[roomID] {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (r *Router) RoomsOf(connID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.joined[connID]))
	for id := range r.joined[connID] {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// roomLock serializes publishes per room so every subscriber sees the
// persistence order.
func (r *Router) roomLock(roomID string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.roomLocks[roomID]
	if !ok {
		l = &sync.Mutex{}
		r.roomLocks[roomID] = l
	}
	return l
}

// PublishRoom persists the message and delivers new_message to every
// subscriber of the room plus the origin connection.
func (r *Router) PublishRoom(ctx context.Context, originConnID string, sender models.User, req models.SendMessageRequest) (*models.RoomMessage, error) {
	fail := func(err error) (*models.RoomMessage, error) {
		r.reportFailure(originConnID, models.MessageError{ClientID: req.ClientID, RoomID: req.RoomID, Reason: reasonFor(err)})
		return nil, err
	}

	if strings.TrimSpace(req.RoomID) == "" {
		return fail(fmt.Errorf("%w: missing room", errs.ErrInvalidMessage))
	}
	if err := validateContent(req.Message); err != nil {
		return fail(err)
	}

	msg := &models.RoomMessage{
		RoomID:       req.RoomID,
		SenderID:     sender.ID,
		SenderName:   sender.Username,
		SenderAvatar: sender.Avatar,
		Content:      req.Message,
		ClientID:     req.ClientID,
	}

	lock := r.roomLock(req.RoomID)
	lock.Lock()
	defer lock.Unlock()

	msg.CreatedAt = time.Now().UTC()
	if err := r.persist(ctx, func(ctx context.Context) error { return r.store.CreateRoomMessage(ctx, msg) }); err != nil {
		r.log.Warn("room message not persisted",
			zap.String("room_id", req.RoomID),
			zap.String("user_id", sender.ID),
			zap.Error(err),
		)
		return fail(err)
	}

	targets := appendUnique(r.Subscribers(req.RoomID), originConnID)
	r.deliver.SendTo(targets, models.MustEvent(models.EventNewMessage, msg))
	return msg, nil
}

// PublishDirect persists the message and delivers new_private_message to all
// connections of the sender and of the receiver. An offline receiver gets it
// from history later.
func (r *Router) PublishDirect(ctx context.Context, originConnID string, sender models.User, req models.SendPrivateMessageRequest) (*models.DirectMessage, error) {
	fail := func(err error) (*models.DirectMessage, error) {
		r.reportFailure(originConnID, models.MessageError{ClientID: req.ClientID, ReceiverID: req.Receiver, Reason: reasonFor(err)})
		return nil, err
	}

	if strings.TrimSpace(req.Receiver) == "" {
		return fail(fmt.Errorf("%w: missing receiver", errs.ErrInvalidMessage))
	}
	if err := validateContent(req.Message); err != nil {
		return fail(err)
	}

	msg := &models.DirectMessage{
		SenderID:     sender.ID,
		ReceiverID:   req.Receiver,
		SenderName:   sender.Username,
		SenderAvatar: sender.Avatar,
		Content:      req.Message,
		ClientID:     req.ClientID,
		CreatedAt:    time.Now().UTC(),
	}
	if err := r.persist(ctx, func(ctx context.Context) error { return r.store.CreateDirectMessage(ctx, msg) }); err != nil {
		r.log.Warn("direct message not persisted",
			zap.String("user_id", sender.ID),
			zap.String("receiver_id", req.Receiver),
			zap.Error(err),
		)
		return fail(err)
	}

	targets := appendUnique(r.locator.ConnectionsForUser(sender.ID), originConnID)
	targets = appendUnique(targets, r.locator.ConnectionsForUser(req.Receiver)...)
	r.deliver.SendTo(targets, models.MustEvent(models.EventNewPrivateMessage, msg))
	return msg, nil
}

// persist runs write with the persist timeout. A store that ignores its
// context still cannot hold the publish past the deadline.
func (r *Router) persist(ctx context.Context, write func(context.Context) error) error {
	pctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- write(pctx) }()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("%w: %w", errs.ErrPersistFailed, err)
		}
		return nil
	case <-pctx.Done():
		return fmt.Errorf("%w: %w", errs.ErrPersistFailed, pctx.Err())
	}
}

func (r *Router) reportFailure(connID string, payload models.MessageError) {
	if connID == "" {
		return
	}
	r.deliver.SendTo([]string{connID}, models.MustEvent(models.EventMessageError, payload))
}

func validateContent(content string) error {
	if strings.TrimSpace(content) == "" {
		return fmt.Errorf("%w: empty content", errs.ErrInvalidMessage)
	}
	if utf8.RuneCountInString(content) > config.MaxMessageContentSize {
		return fmt.Errorf("%w: content exceeds %d characters", errs.ErrInvalidMessage, config.MaxMessageContentSize)
	}
	return nil
}

func reasonFor(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "message could not be stored in time"
	case errors.Is(err, errs.ErrPersistFailed):
		return "message could not be stored"
	default:
		return err.Error()
	}
}

func appendUnique(ids []string, more ...string) []string {
	seen := make(map[string]struct{}, len(ids)+len(more))
	out := make([]string, 0, len(ids)+len(more))
	add := func(id string) {
		if id == "" {
			return
		}
		if _, ok := seen[id]; ok {
			return
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	for _, id := range ids {
		add(id)
	}
	for _, id := range more {
		add(id)
	}
	return out
}
