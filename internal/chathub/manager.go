package chathub

import (
	"context"
	"fmt"
	"sync"
	"time"

	"chatsync/backend/internal/config"
	"chatsync/backend/internal/errs"
	"chatsync/backend/internal/models"
	"chatsync/backend/internal/storage"

	"go.uber.org/zap"
)

// Options tune the hub. Zero values fall back to the config defaults.
type Options struct {
	PersistTimeout      time.Duration
	TypingTTL           time.Duration
	UnreadSweepInterval time.Duration
	PingInterval        time.Duration
	PongWait            time.Duration
}

func (o Options) withDefaults() Options {
	if o.PersistTimeout <= 0 {
		o.PersistTimeout = config.DefaultPersistTimeout
	}
	if o.TypingTTL <= 0 {
		o.TypingTTL = config.DefaultServerTypingTTL
	}
	if o.UnreadSweepInterval <= 0 {
		o.UnreadSweepInterval = config.DefaultUnreadSweepInterval
	}
	if o.PingInterval <= 0 {
		o.PingInterval = config.DefaultPingInterval
	}
	if o.PongWait <= 0 {
		o.PongWait = config.DefaultPongWait
	}
	return o
}

// ManagerService is the hub: it owns the live clients and the three shared
// registries (presence, room subscriptions, typing) and dispatches every
// inbound event.
type ManagerService struct {
	mu      sync.RWMutex
	clients map[string]Client

	UnregisterCh chan Client

	Storage  storage.Storage
	Presence *PresenceRegistry
	Router   *Router
	Typing   *TypingTracker
	Unread   *UnreadService

	opts   Options
	log    *zap.Logger
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

func NewManagerService(s storage.Storage, log *zap.Logger, opts Options) *ManagerService {
	if log == nil {
		log = zap.NewNop()
	}
	opts = opts.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())

	m := &ManagerService{
		clients:      make(map[string]Client),
		UnregisterCh: make(chan Client, 64),
		Storage:      s,
		opts:         opts,
		log:          log,
		ctx:          ctx,
		cancel:       cancel,
		done:         make(chan struct{}),
	}
	m.Presence = NewPresenceRegistry(m, log.Named("presence"))
	m.Router = NewRouter(s, m, m.Presence, opts.PersistTimeout, log.Named("router"))
	m.Typing = NewTypingTracker(opts.TypingTTL, func(change TypingChange) {
		m.broadcastTyping(change.Scope, change.User, false)
	})
	m.Unread = NewUnreadService(s, m.Presence, m, opts.PersistTimeout, log.Named("unread"))
	return m
}

// Context is cancelled when Run returns.
func (m *ManagerService) Context() context.Context { return m.ctx }

// Run processes unregistrations and the unread sweep until ctx is done, then
// closes every client.
func (m *ManagerService) Run(ctx context.Context) {
	defer func() {
		m.cancel()
		close(m.done)
		m.shutdown()
	}()

	go m.Unread.Run(ctx, m.opts.UnreadSweepInterval)

	for {
		select {
		case <-ctx.Done():
			return
		case client := <-m.UnregisterCh:
			m.unregister(client)
		}
	}
}

// Register adds client to the hub. It must be called before client.Run so
// the client's first events already find it registered.
func (m *ManagerService) Register(client Client) {
	m.mu.Lock()
	m.clients[client.GetConnID()] = client
	total := len(m.clients)
	m.mu.Unlock()

	m.log.Info("client registered",
		zap.String("conn_id", client.GetConnID()),
		zap.String("user_id", client.GetIdentity().ID),
		zap.Int("clients", total),
	)
}

// Unregister queues client for removal. It does not block once Run has exited.
func (m *ManagerService) Unregister(client Client) {
	select {
	case m.UnregisterCh <- client:
	case <-m.done:
	}
}

func (m *ManagerService) unregister(client Client) {
	connID := client.GetConnID()

	m.mu.Lock()
	_, ok := m.clients[connID]
	delete(m.clients, connID)
	m.mu.Unlock()
	if !ok {
		return
	}

	// 1. Прибираємо стан набору тексту, щоб інші не бачили "друкує..."
	for _, change := range m.Typing.DropConnection(connID) {
		m.broadcastTyping(change.Scope, change.User, false)
	}
	// 2. Відписуємо від кімнат
	m.Router.DropConnection(connID)
	// 3. Оновлюємо присутність (розсилає новий знімок)
	user, joined := m.Presence.Leave(connID)

	client.Close()
	m.log.Info("client unregistered",
		zap.String("conn_id", connID),
		zap.String("user_id", user.ID),
		zap.Bool("joined", joined),
	)
}

func (m *ManagerService) shutdown() {
	m.mu.Lock()
	clients := make([]Client, 0, len(m.clients))
	for _, c := range m.clients {
		clients = append(clients, c)
	}
	m.clients = make(map[string]Client)
	m.mu.Unlock()

	for _, c := range clients {
		c.Close()
	}
	m.Typing.Close()
	m.log.Info("hub stopped", zap.Int("closed_clients", len(clients)))
}

// ClientCount returns the number of registered connections.
func (m *ManagerService) ClientCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.clients)
}

// HasClient reports whether connID is registered.
func (m *ManagerService) HasClient(connID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.clients[connID]
	return ok
}

// BroadcastAll implements Broadcaster.
func (m *ManagerService) BroadcastAll(evt models.Event) {
	m.mu.RLock()
	var slow []Client
	for _, c := range m.clients {
		if !c.Send(evt) && !c.Closed() {
			slow = append(slow, c)
		}
	}
	m.mu.RUnlock()
	m.dropSlow(slow)
}

// SendTo implements Deliverer. Unknown connection ids are skipped.
func (m *ManagerService) SendTo(connIDs []string, evt models.Event) {
	m.mu.RLock()
	var slow []Client
	for _, id := range connIDs {
		c, ok := m.clients[id]
		if !ok {
			continue
		}
		if !c.Send(evt) && !c.Closed() {
			slow = append(slow, c)
		}
	}
	m.mu.RUnlock()
	m.dropSlow(slow)
}

// dropSlow disconnects clients whose buffer is full. Closed clients are
// excluded by the callers: their read pump unregisters them. Registry locks may be
// held by the caller, so the unregister happens on another goroutine.
func (m *ManagerService) dropSlow(clients []Client) {
	for _, c := range clients {
		m.log.Warn("dropping slow client", zap.String("conn_id", c.GetConnID()))
		go m.Unregister(c)
	}
}

func (m *ManagerService) sendError(c Client, err error) {
	c.Send(models.MustEvent(models.EventError, models.ErrorPayload{Reason: err.Error()}))
}

// HandleEvent dispatches one inbound event from c. It is called from the
// client's read goroutine.
func (m *ManagerService) HandleEvent(ctx context.Context, c Client, evt models.Event) {
	connID := c.GetConnID()

	if evt.Type == models.EventUserJoin {
		m.handleUserJoin(ctx, c, evt)
		return
	}

	user, ok := m.Presence.UserOf(connID)
	if !ok {
		m.sendError(c, fmt.Errorf("%w: user_join required before %s", errs.ErrUnauthorized, evt.Type))
		return
	}

	var err error
	switch evt.Type {
	case models.EventJoinRoom:
		err = m.handleJoinRoom(ctx, connID, user, evt)
	case models.EventLeaveRoom:
		err = m.handleLeaveRoom(connID, user, evt)
	case models.EventSendMessage:
		err = m.handleSendMessage(ctx, connID, user, evt)
	case models.EventSendPrivateMessage:
		err = m.handleSendPrivateMessage(ctx, connID, user, evt)
	case models.EventTyping, models.EventStopTyping:
		err = m.handleRoomTyping(connID, user, evt)
	case models.EventPrivateTyping, models.EventPrivateStopTyping:
		err = m.handlePrivateTyping(connID, user, evt)
	default:
		m.log.Debug("unknown event", zap.String("conn_id", connID), zap.String("type", evt.Type))
		return
	}

	if err != nil {
		m.log.Debug("event rejected", zap.String("conn_id", connID), zap.String("type", evt.Type), zap.Error(err))
		m.sendError(c, err)
	}
}

func (m *ManagerService) handleUserJoin(ctx context.Context, c Client, evt models.Event) {
	var user models.User
	if err := evt.Decode(&user); err != nil {
		m.sendError(c, err)
		return
	}

	if identity := c.GetIdentity(); identity.ID != "" {
		if user.ID != identity.ID {
			m.log.Warn("user_join identity mismatch",
				zap.String("conn_id", c.GetConnID()),
				zap.String("token_user", identity.ID),
				zap.String("claimed_user", user.ID),
			)
			m.sendError(c, errs.ErrIdentityMismatch)
			return
		}
		user = identity
	}
	if !user.Valid() {
		m.sendError(c, fmt.Errorf("%w: user id and username are required", errs.ErrUnauthorized))
		return
	}

	m.Presence.Join(c.GetConnID(), user)
	go m.recount(ctx, user.ID)
}

func (m *ManagerService) handleJoinRoom(ctx context.Context, connID string, user models.User, evt models.Event) error {
	var roomID string
	if err := evt.Decode(&roomID); err != nil {
		return err
	}
	if roomID == "" {
		return fmt.Errorf("%w: empty room id", errs.ErrInvalidMessage)
	}

	if m.Router.Subscribe(connID, roomID) {
		m.log.Debug("joined room", zap.String("conn_id", connID), zap.String("room_id", roomID))
	}

	// Членство потрібне лише для підрахунку непрочитаних; помилку тільки логуємо.
	pctx, cancel := context.WithTimeout(ctx, m.opts.PersistTimeout)
	defer cancel()
	if err := m.Storage.AddRoomMember(pctx, roomID, user.ID); err != nil {
		m.log.Warn("add room member failed", zap.String("room_id", roomID), zap.String("user_id", user.ID), zap.Error(err))
	}
	return nil
}

func (m *ManagerService) handleLeaveRoom(connID string, user models.User, evt models.Event) error {
	var roomID string
	if err := evt.Decode(&roomID); err != nil {
		return err
	}
	m.Router.Unsubscribe(connID, roomID)

	scope := RoomTyping(roomID)
	if stopped, ok := m.Typing.Stop(scope, user.ID); ok {
		m.broadcastTyping(scope, stopped, false)
	}
	return nil
}

func (m *ManagerService) handleSendMessage(ctx context.Context, connID string, user models.User, evt models.Event) error {
	var req models.SendMessageRequest
	if err := evt.Decode(&req); err != nil {
		return err
	}

	msg, err := m.Router.PublishRoom(ctx, connID, user, req)
	if err != nil {
		// Вже повідомлено відправнику через message_error
		return nil
	}

	// Повідомлення надіслано - користувач більше не друкує
	scope := RoomTyping(msg.RoomID)
	if stopped, ok := m.Typing.Stop(scope, user.ID); ok {
		m.broadcastTyping(scope, stopped, false)
	}
	go m.Unread.NotifyRoom(ctx, msg.RoomID, user.ID)
	return nil
}

func (m *ManagerService) handleSendPrivateMessage(ctx context.Context, connID string, user models.User, evt models.Event) error {
	var req models.SendPrivateMessageRequest
	if err := evt.Decode(&req); err != nil {
		return err
	}

	msg, err := m.Router.PublishDirect(ctx, connID, user, req)
	if err != nil {
		return nil
	}

	scope := DirectTyping(user.ID, msg.ReceiverID)
	if stopped, ok := m.Typing.Stop(scope, user.ID); ok {
		m.broadcastTyping(scope, stopped, false)
	}
	go m.Unread.NotifyDirect(ctx, msg.ReceiverID)
	return nil
}

func (m *ManagerService) handleRoomTyping(connID string, user models.User, evt models.Event) error {
	var p models.TypingPayload
	if err := evt.Decode(&p); err != nil {
		return err
	}
	if p.RoomID == "" {
		return fmt.Errorf("%w: typing without room", errs.ErrInvalidMessage)
	}

	scope := RoomTyping(p.RoomID)
	if evt.Type == models.EventTyping {
		if m.Typing.Start(scope, user, connID) {
			m.broadcastTyping(scope, user, true)
		}
		return nil
	}
	if stopped, ok := m.Typing.Stop(scope, user.ID); ok {
		m.broadcastTyping(scope, stopped, false)
	}
	return nil
}

func (m *ManagerService) handlePrivateTyping(connID string, user models.User, evt models.Event) error {
	var p models.TypingPayload
	if err := evt.Decode(&p); err != nil {
		return err
	}
	if p.ReceiverID == "" {
		return fmt.Errorf("%w: private typing without receiver", errs.ErrInvalidMessage)
	}

	scope := DirectTyping(user.ID, p.ReceiverID)
	if evt.Type == models.EventPrivateTyping {
		if m.Typing.Start(scope, user, connID) {
			m.broadcastTyping(scope, user, true)
		}
		return nil
	}
	if stopped, ok := m.Typing.Stop(scope, user.ID); ok {
		m.broadcastTyping(scope, stopped, false)
	}
	return nil
}

// broadcastTyping fans a typing transition out to the other participants of
// the scope. The typing user's own connections never receive it.
func (m *ManagerService) broadcastTyping(scope TypingScope, user models.User, typing bool) {
	if scope.IsRoom() {
		eventType := models.EventStopTyping
		if typing {
			eventType = models.EventTyping
		}
		own := make(map[string]struct{})
		for _, id := range m.Presence.ConnectionsForUser(user.ID) {
			own[id] = struct{}{}
		}
		var targets []string
		for _, id := range m.Router.Subscribers(scope.RoomID) {
			if _, mine := own[id]; !mine {
				targets = append(targets, id)
			}
		}
		m.SendTo(targets, models.MustEvent(eventType, models.TypingPayload{User: user, RoomID: scope.RoomID}))
		return
	}

	eventType := models.EventPrivateStopTyping
	if typing {
		eventType = models.EventPrivateTyping
	}
	m.SendTo(m.Presence.ConnectionsForUser(scope.To), models.MustEvent(eventType, models.TypingPayload{User: user, ReceiverID: scope.To}))
}

func (m *ManagerService) recount(ctx context.Context, userID string) {
	if err := m.Unread.Recount(ctx, userID); err != nil {
		m.log.Warn("unread recount failed", zap.String("user_id", userID), zap.Error(err))
	}
}
