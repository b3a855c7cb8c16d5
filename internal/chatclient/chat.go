package chatclient

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"chatsync/backend/internal/config"
	"chatsync/backend/internal/errs"
	"chatsync/backend/internal/models"

	"go.uber.org/zap"
)

// ReadMarker persists "scope read up to now" on the server.
type ReadMarker interface {
	MarkRead(ctx context.Context, scope models.Scope) error
}

// HistoryFetcher loads a scope's backlog.
type HistoryFetcher interface {
	History(ctx context.Context, scope models.Scope, limit int, localUserID string) ([]Entry, error)
}

// SendFailure describes an optimistic message that was rolled back.
type SendFailure struct {
	Entry Entry
	Err   error
}

type ClientOptions struct {
	Reads         ReadMarker
	History       HistoryFetcher
	SendTimeout   time.Duration
	AckTimeout    time.Duration
	TypingTimeout time.Duration
	Logger        *zap.Logger
}

// inflight is a written message still waiting for its echo.
type inflight struct {
	scope models.Scope
	timer *time.Timer
}

// Client glues a Session to the local conversation state: optimistic sends,
// reconciliation of echoes, typing signals, unread counts and presence.
type Client struct {
	Session       *Session
	User          models.User
	Conversations *Conversations
	Typing        *TypingNotifier
	TypingView    *TypingView
	Unread        *UnreadCounter

	reads       ReadMarker
	history     HistoryFetcher
	sendTimeout time.Duration
	ackTimeout  time.Duration
	log         *zap.Logger

	mu        sync.Mutex
	online    []models.User
	failures  []func(SendFailure)
	onMessage []func(Entry)
	inflight  map[string]*inflight // by ClientID
}

func NewClient(session *Session, user models.User, opts ClientOptions) *Client {
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = config.SendReadyTimeout
	}
	if opts.AckTimeout <= 0 {
		opts.AckTimeout = config.SendAckTimeout
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	c := &Client{
		Session:       session,
		User:          user,
		Conversations: NewConversations(),
		TypingView:    NewTypingView(),
		Unread:        NewUnreadCounter(user.ID),
		reads:         opts.Reads,
		history:       opts.History,
		sendTimeout:   opts.SendTimeout,
		ackTimeout:    opts.AckTimeout,
		log:           opts.Logger,
		inflight:      make(map[string]*inflight),
	}
	c.Typing = NewTypingNotifier(user, session.Send, opts.TypingTimeout, opts.Logger)

	session.On(models.EventNewMessage, c.handleNewMessage)
	session.On(models.EventNewPrivateMessage, c.handleNewPrivateMessage)
	session.On(models.EventMessageError, c.handleMessageError)
	session.On(models.EventOnlineUsers, c.handleOnlineUsers)
	session.On(models.EventRoomUnreadCounts, c.handleRoomUnread)
	session.On(models.EventPrivateUnreadCounts, c.handlePrivateUnread)
	for _, t := range []string{models.EventTyping, models.EventStopTyping, models.EventPrivateTyping, models.EventPrivateStopTyping} {
		session.On(t, c.handleTyping)
	}
	session.On(models.EventError, func(evt models.Event) {
		var p models.ErrorPayload
		if err := evt.Decode(&p); err == nil {
			c.log.Warn("server rejected event", zap.String("reason", p.Reason))
		}
	})
	session.OnConnectionChange(ListenerFunc(func(s Status) {
		if !s.Connected {
			c.TypingView.Reset()
			c.abandonInflight()
		}
	}))

	session.SetUser(user)
	return c
}

// OnSendFailure registers a callback for rolled back messages.
func (c *Client) OnSendFailure(fn func(SendFailure)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures = append(c.failures, fn)
}

// OnMessage registers a callback for every newly inserted durable message.
func (c *Client) OnMessage(fn func(Entry)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onMessage = append(c.onMessage, fn)
}

func (c *Client) Connect() { c.Session.Connect() }

func (c *Client) JoinRoom(roomID string) { c.Session.JoinRoom(roomID) }

func (c *Client) LeaveRoom(roomID string) {
	c.Session.LeaveRoom(roomID)
	c.Typing.Clear(models.RoomScope(roomID))
}

// Close stops typing timers and disconnects. Messages still waiting for an
// echo are rolled back and reported.
func (c *Client) Close() {
	c.Typing.Close()
	c.Session.Disconnect()
	c.abandonInflight()
}

func (c *Client) SendRoomMessage(ctx context.Context, roomID, content string) (Entry, error) {
	return c.send(ctx, models.RoomScope(roomID), content, func(e Entry) (string, any) {
		return models.EventSendMessage, models.SendMessageRequest{
			User: c.User, Message: content, RoomID: roomID, ClientID: e.ClientID,
		}
	})
}

func (c *Client) SendDirectMessage(ctx context.Context, peerID, content string) (Entry, error) {
	return c.send(ctx, models.DirectScope(peerID), content, func(e Entry) (string, any) {
		return models.EventSendPrivateMessage, models.SendPrivateMessageRequest{
			Sender: c.User, Receiver: peerID, Message: content, ClientID: e.ClientID,
		}
	})
}

// send inserts the optimistic entry, waits for the connection and emits.
// Any failure rolls the entry back.
func (c *Client) send(ctx context.Context, scope models.Scope, content string, build func(Entry) (string, any)) (Entry, error) {
	if strings.TrimSpace(content) == "" || utf8.RuneCountInString(content) > config.MaxMessageContentSize {
		return Entry{}, fmt.Errorf("send to %s: %w", scope, errs.ErrInvalidMessage)
	}

	entry := c.Conversations.AddProvisional(scope, c.User, content)
	c.Typing.Clear(scope)

	wctx, cancel := context.WithTimeout(ctx, c.sendTimeout)
	defer cancel()
	if err := c.Session.WaitConnected(wctx); err != nil {
		return entry, c.fail(entry, fmt.Errorf("send to %s: %w: %v", scope, errs.ErrSendTimeout, err))
	}

	eventType, payload := build(entry)
	c.track(entry)
	if err := c.Session.Send(eventType, payload); err != nil {
		c.untrack(entry.ClientID)
		return entry, c.fail(entry, fmt.Errorf("send to %s: %w: %v", scope, errs.ErrSendFailed, err))
	}
	return entry, nil
}

// track arms the acknowledgement deadline of a message about to be written.
func (c *Client) track(entry Entry) {
	id := entry.ClientID
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inflight[id] = &inflight{
		scope: entry.Scope,
		timer: time.AfterFunc(c.ackTimeout, func() {
			c.expire(id, fmt.Errorf("send to %s: %w: no echo within %s", entry.Scope, errs.ErrNotAcknowledged, c.ackTimeout))
		}),
	}
}

func (c *Client) untrack(clientID string) (*inflight, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	f, ok := c.inflight[clientID]
	if !ok {
		return nil, false
	}
	f.timer.Stop()
	delete(c.inflight, clientID)
	return f, true
}

// expire rolls back a written message that will never be confirmed.
func (c *Client) expire(clientID string, err error) {
	f, ok := c.untrack(clientID)
	if !ok {
		return
	}
	entry, ok := c.Conversations.RollbackClientID(f.scope, clientID)
	if !ok {
		return
	}
	c.reportFailure(SendFailure{Entry: entry, Err: err})
}

// abandonInflight fails every written message: after the connection is gone
// its echo can no longer arrive.
func (c *Client) abandonInflight() {
	c.mu.Lock()
	ids := make([]string, 0, len(c.inflight))
	for id := range c.inflight {
		ids = append(ids, id)
	}
	c.mu.Unlock()

	for _, id := range ids {
		c.expire(id, fmt.Errorf("%w: connection lost", errs.ErrNotAcknowledged))
	}
}

func (c *Client) fail(entry Entry, err error) error {
	if _, ok := c.Conversations.Rollback(entry.Scope, entry.ID); !ok {
		// Already confirmed or rolled back.
		return err
	}
	c.reportFailure(SendFailure{Entry: entry, Err: err})
	return err
}

func (c *Client) reportFailure(f SendFailure) {
	c.mu.Lock()
	callbacks := append([]func(SendFailure){}, c.failures...)
	c.mu.Unlock()
	for _, fn := range callbacks {
		fn(f)
	}
}

// Focus makes scope the visible conversation: its unread count drops to
// zero and the server read state is updated in the background.
func (c *Client) Focus(scope models.Scope) {
	c.Unread.Focus(scope)
	if !scope.IsZero() {
		c.markRead(scope)
	}
}

func (c *Client) markRead(scope models.Scope) {
	if c.reads == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), config.DefaultPersistTimeout)
		defer cancel()
		if err := c.reads.MarkRead(ctx, scope); err != nil {
			c.log.Debug("mark read failed", zap.Stringer("scope", scope), zap.Error(err))
		}
	}()
}

// LoadHistory merges scope's backlog into the local conversation.
func (c *Client) LoadHistory(ctx context.Context, scope models.Scope, limit int) (int, error) {
	if c.history == nil {
		return 0, errors.New("no history source configured")
	}
	entries, err := c.history.History(ctx, scope, limit, c.User.ID)
	if err != nil {
		return 0, fmt.Errorf("load history of %s: %w", scope, err)
	}
	return c.Conversations.Merge(scope, entries), nil
}

func (c *Client) OnlineUsers() []models.User {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]models.User(nil), c.online...)
}

func (c *Client) handleNewMessage(evt models.Event) {
	var msg models.RoomMessage
	if err := evt.Decode(&msg); err != nil {
		c.log.Warn("bad new_message", zap.Error(err))
		return
	}
	c.receive(RoomEntry(msg))
}

func (c *Client) handleNewPrivateMessage(evt models.Event) {
	var msg models.DirectMessage
	if err := evt.Decode(&msg); err != nil {
		c.log.Warn("bad new_private_message", zap.Error(err))
		return
	}
	c.receive(DirectEntry(msg, c.User.ID))
}

func (c *Client) receive(entry Entry) {
	if entry.SenderID == c.User.ID && entry.ClientID != "" {
		c.untrack(entry.ClientID)
	}
	if !c.Conversations.Confirm(entry.Scope, entry, c.User.ID) {
		return // duplicate delivery
	}
	c.TypingView.Stopped(entry.Scope, entry.SenderID)

	if entry.SenderID != c.User.ID {
		if !c.Unread.Inbound(entry.Scope, entry.SenderID) && c.Unread.Focused() == entry.Scope {
			c.markRead(entry.Scope)
		}
	}

	c.mu.Lock()
	callbacks := append([]func(Entry){}, c.onMessage...)
	c.mu.Unlock()
	for _, fn := range callbacks {
		fn(entry)
	}
}

func (c *Client) handleMessageError(evt models.Event) {
	var p models.MessageError
	if err := evt.Decode(&p); err != nil {
		c.log.Warn("bad message_error", zap.Error(err))
		return
	}
	scope := models.RoomScope(p.RoomID)
	if p.ReceiverID != "" {
		scope = models.DirectScope(p.ReceiverID)
	}

	c.untrack(p.ClientID)
	entry, ok := c.Conversations.RollbackClientID(scope, p.ClientID)
	if !ok {
		c.log.Debug("message_error for unknown entry", zap.String("client_id", p.ClientID))
		return
	}
	c.reportFailure(SendFailure{Entry: entry, Err: fmt.Errorf("%w: %s", errs.ErrSendFailed, p.Reason)})
}

func (c *Client) handleOnlineUsers(evt models.Event) {
	var users []models.User
	if err := evt.Decode(&users); err != nil {
		c.log.Warn("bad online_users", zap.Error(err))
		return
	}
	c.mu.Lock()
	c.online = users
	c.mu.Unlock()
}

func (c *Client) handleRoomUnread(evt models.Event) {
	var rows []models.RoomUnreadCount
	if err := evt.Decode(&rows); err != nil {
		c.log.Warn("bad room_unread_counts", zap.Error(err))
		return
	}
	counts := make(map[string]int, len(rows))
	for _, r := range rows {
		counts[r.RoomID] = r.Count
	}
	c.Unread.Replace(models.ScopeRoom, counts)
}

func (c *Client) handlePrivateUnread(evt models.Event) {
	var rows []models.DirectUnreadCount
	if err := evt.Decode(&rows); err != nil {
		c.log.Warn("bad private_unread_counts", zap.Error(err))
		return
	}
	counts := make(map[string]int, len(rows))
	for _, r := range rows {
		counts[r.UserID] = r.Count
	}
	c.Unread.Replace(models.ScopeDirect, counts)
}

func (c *Client) handleTyping(evt models.Event) {
	var p models.TypingPayload
	if err := evt.Decode(&p); err != nil {
		return
	}
	if p.User.ID == c.User.ID {
		return
	}

	// Private signals are addressed to us, so the scope is the typer.
	scope := models.RoomScope(p.RoomID)
	if evt.Type == models.EventPrivateTyping || evt.Type == models.EventPrivateStopTyping {
		scope = models.DirectScope(p.User.ID)
	}

	switch evt.Type {
	case models.EventTyping, models.EventPrivateTyping:
		c.TypingView.Started(scope, p.User)
	default:
		c.TypingView.Stopped(scope, p.User.ID)
	}
}
