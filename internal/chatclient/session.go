package chatclient

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"sync"
	"time"

	"chatsync/backend/internal/config"
	"chatsync/backend/internal/errs"
	"chatsync/backend/internal/models"

	"go.uber.org/zap"
)

// State of the Session connection.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	default:
		return "disconnected"
	}
}

// Status is what connection listeners receive. Permanent is set once the
// reconnect attempts are exhausted; only Connect leaves that state.
type Status struct {
	Connected bool
	State     State
	Attempt   int
	Permanent bool
}

// ConnectionListener is notified on every connection state transition and
// once right after it registers.
type ConnectionListener interface {
	OnConnectionChange(Status)
}

// ListenerFunc adapts a function. Function values are not comparable, so
// registering the same func twice yields two subscriptions.
type ListenerFunc func(Status)

func (f ListenerFunc) OnConnectionChange(s Status) { f(s) }

// EventHandler receives inbound events on the session's read goroutine.
type EventHandler func(models.Event)

type SessionOptions struct {
	Backoff           Backoff
	DialTimeout       time.Duration
	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration
	Logger            *zap.Logger
}

func (o SessionOptions) withDefaults() SessionOptions {
	if o.Backoff == (Backoff{}) {
		o.Backoff = DefaultBackoff()
	}
	if o.DialTimeout <= 0 {
		o.DialTimeout = config.DialTimeout
	}
	if o.HeartbeatInterval <= 0 {
		o.HeartbeatInterval = config.HeartbeatCheckInterval
	}
	if o.HeartbeatTimeout <= 0 {
		o.HeartbeatTimeout = config.HeartbeatTimeout
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	return o
}

type listenerEntry struct {
	id uint64
	l  ConnectionListener
}

// notification is a queued status; target 0 addresses every listener.
type notification struct {
	status Status
	target uint64
}

type handlerEntry struct {
	id uint64
	h  EventHandler
}

// Session owns one transport connection at a time and keeps it alive:
// reconnect with bounded backoff, heartbeat supervision, and replay of
// user_join and room joins after every reconnect.
type Session struct {
	dialer Dialer
	opts   SessionOptions
	log    *zap.Logger

	mu          sync.Mutex
	state       State
	token       uint64 // bumped on every attempt and teardown
	attempts    int    // reconnect attempts since the last success
	permanent   bool
	conn        Conn
	connCancel  context.CancelFunc
	retryTimer  *time.Timer
	lastBeat    time.Time
	lastAttempt time.Time
	connected   chan struct{} // closed once a connection is announced

	user  *models.User
	rooms map[string]struct{}

	nextID     uint64
	listeners  []listenerEntry
	handlers   map[string][]handlerEntry
	outbox     []notification
	delivering bool

	writeMu sync.Mutex
}

func NewSession(dialer Dialer, opts SessionOptions) *Session {
	opts = opts.withDefaults()
	return &Session{
		dialer:    dialer,
		opts:      opts,
		log:       opts.Logger,
		connected: make(chan struct{}),
		rooms:     make(map[string]struct{}),
		handlers:  make(map[string][]handlerEntry),
	}
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.statusLocked()
}

func (s *Session) statusLocked() Status {
	return Status{
		Connected: s.state == StateConnected,
		State:     s.state,
		Attempt:   s.attempts,
		Permanent: s.permanent,
	}
}

// Connect starts a connection attempt. It is a no-op while a connection
// exists or an attempt is in flight. From Disconnected it re-arms the
// attempt counter, including after a permanent failure.
func (s *Session) Connect() {
	s.mu.Lock()
	if s.state != StateDisconnected {
		s.mu.Unlock()
		return
	}
	s.attempts = 0
	s.permanent = false
	s.state = StateConnecting
	s.token++
	token := s.token
	s.lastAttempt = time.Now()
	s.queueLocked(s.statusLocked(), 0)
	s.mu.Unlock()

	s.flush()
	go s.dial(token)
}

func (s *Session) dial(token uint64) {
	ctx, cancel := context.WithTimeout(context.Background(), s.opts.DialTimeout)
	conn, err := s.dialer.Dial(ctx)
	cancel()

	s.mu.Lock()
	if token != s.token {
		// Superseded by Disconnect or a newer attempt.
		s.mu.Unlock()
		if conn != nil {
			conn.Close()
		}
		return
	}
	if err != nil {
		s.log.Warn("connect attempt failed", zap.Int("attempt", s.attempts), zap.Error(err))
		s.queueLocked(s.scheduleRetryLocked(false), 0)
		s.mu.Unlock()
		s.flush()
		return
	}

	connCtx, connCancel := context.WithCancel(context.Background())
	s.conn = conn
	s.connCancel = connCancel
	s.state = StateConnected
	s.attempts = 0
	s.permanent = false
	s.lastBeat = time.Now()
	user := s.user
	rooms := s.roomsLocked()
	s.mu.Unlock()

	s.log.Info("connected")
	go s.readLoop(connCtx, token, conn)
	go s.heartbeatLoop(connCtx, token)

	if user != nil {
		if err := s.Send(models.EventUserJoin, *user); err != nil {
			s.log.Warn("user_join failed", zap.Error(err))
		}
	}
	for _, roomID := range rooms {
		if err := s.Send(models.EventJoinRoom, roomID); err != nil {
			s.log.Warn("rejoin failed", zap.String("room_id", roomID), zap.Error(err))
		}
	}

	// Announce only if the connection survived the replay.
	s.mu.Lock()
	if token != s.token || s.state != StateConnected {
		s.mu.Unlock()
		return
	}
	close(s.connected)
	s.queueLocked(s.statusLocked(), 0)
	s.mu.Unlock()
	s.flush()
}

// scheduleRetryLocked tears the current connection down and arms the next
// attempt, or gives up once the attempts are exhausted. immediate skips the
// backoff but still honours the minimum spacing.
func (s *Session) scheduleRetryLocked(immediate bool) Status {
	s.teardownLocked()
	s.token++
	token := s.token

	next := s.attempts + 1
	if s.opts.Backoff.Exhausted(next) {
		s.state = StateDisconnected
		s.permanent = true
		s.log.Warn("giving up reconnecting", zap.Int("attempts", s.attempts))
		return s.statusLocked()
	}
	s.attempts = next
	s.state = StateReconnecting

	delay := s.opts.Backoff.Delay(next)
	if immediate {
		delay = 0
	}
	if spacing := s.opts.Backoff.MinSpacing - time.Since(s.lastAttempt); delay < spacing {
		delay = spacing
	}

	s.log.Debug("reconnect scheduled", zap.Int("attempt", next), zap.Duration("delay", delay))
	s.retryTimer = time.AfterFunc(delay, func() { s.retry(token) })
	return s.statusLocked()
}

func (s *Session) retry(token uint64) {
	s.mu.Lock()
	if token != s.token {
		s.mu.Unlock()
		return
	}
	s.retryTimer = nil
	s.lastAttempt = time.Now()
	s.mu.Unlock()

	s.dial(token)
}

// teardownLocked closes the live connection, if any, and stops its
// goroutines and pending timers.
func (s *Session) teardownLocked() {
	if s.retryTimer != nil {
		s.retryTimer.Stop()
		s.retryTimer = nil
	}
	if s.connCancel != nil {
		s.connCancel()
		s.connCancel = nil
	}
	if s.conn != nil {
		go s.conn.Close()
		s.conn = nil
	}
	select {
	case <-s.connected:
		s.connected = make(chan struct{})
	default:
	}
}

func (s *Session) readLoop(ctx context.Context, token uint64, conn Conn) {
	for {
		events, err := conn.ReadEvents()
		if err != nil {
			if ctx.Err() == nil {
				s.log.Info("connection lost", zap.Error(err))
			}
			s.connectionLost(token)
			return
		}

		s.beat(token)
		for _, evt := range events {
			if evt.Type == models.EventPing {
				if err := s.Send(models.EventPong, nil); err != nil {
					s.log.Debug("pong failed", zap.Error(err))
				}
			}
			s.dispatch(evt)
		}
	}
}

func (s *Session) connectionLost(token uint64) {
	s.mu.Lock()
	if token != s.token || s.state != StateConnected {
		s.mu.Unlock()
		return
	}
	s.queueLocked(s.scheduleRetryLocked(false), 0)
	s.mu.Unlock()
	s.flush()
}

func (s *Session) beat(token uint64) {
	s.mu.Lock()
	if token == s.token {
		s.lastBeat = time.Now()
	}
	s.mu.Unlock()
}

func (s *Session) heartbeatLoop(ctx context.Context, token uint64) {
	ticker := time.NewTicker(s.opts.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.mu.Lock()
			if token != s.token || s.state != StateConnected {
				s.mu.Unlock()
				return
			}
			silent := time.Since(s.lastBeat)
			if silent <= s.opts.HeartbeatTimeout {
				s.mu.Unlock()
				continue
			}
			s.log.Warn("heartbeat timeout, reconnecting", zap.Duration("silent", silent))
			s.queueLocked(s.scheduleRetryLocked(true), 0)
			s.mu.Unlock()
			s.flush()
			return
		}
	}
}

// Disconnect closes the connection and cancels every pending attempt.
// The session stays disconnected until Connect is called again.
func (s *Session) Disconnect() {
	s.mu.Lock()
	changed := s.state != StateDisconnected || s.permanent
	s.token++
	s.teardownLocked()
	s.state = StateDisconnected
	s.attempts = 0
	s.permanent = false
	if changed {
		s.queueLocked(s.statusLocked(), 0)
	}
	s.mu.Unlock()
	s.flush()
}

// Emit writes evt to the live connection. Writes are serialized.
func (s *Session) Emit(evt models.Event) error {
	s.mu.Lock()
	conn := s.conn
	connected := s.state == StateConnected
	s.mu.Unlock()

	if !connected || conn == nil {
		return fmt.Errorf("emit %s: %w", evt.Type, errs.ErrNotConnected)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := conn.WriteEvent(evt); err != nil {
		return fmt.Errorf("emit %s: %w", evt.Type, err)
	}
	return nil
}

// Send encodes payload and emits it.
func (s *Session) Send(eventType string, payload any) error {
	evt, err := models.NewEvent(eventType, payload)
	if err != nil {
		return err
	}
	return s.Emit(evt)
}

// WaitConnected blocks until a connection is announced, which is after
// user_join and the room joins were written, or until ctx is done. A
// disconnected session is asked to connect first.
func (s *Session) WaitConnected(ctx context.Context) error {
	s.mu.Lock()
	ch := s.connected
	idle := s.state == StateDisconnected
	s.mu.Unlock()

	if idle {
		s.Connect()
	}
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SetUser records the identity announced with user_join, now and after
// every reconnect.
func (s *Session) SetUser(user models.User) {
	s.mu.Lock()
	s.user = &user
	connected := s.state == StateConnected
	s.mu.Unlock()

	if connected {
		if err := s.Send(models.EventUserJoin, user); err != nil {
			s.log.Warn("user_join failed", zap.Error(err))
		}
	}
}

// JoinRoom subscribes to roomID now if connected and on every reconnect.
func (s *Session) JoinRoom(roomID string) {
	s.mu.Lock()
	s.rooms[roomID] = struct{}{}
	connected := s.state == StateConnected
	s.mu.Unlock()

	if connected {
		if err := s.Send(models.EventJoinRoom, roomID); err != nil {
			s.log.Warn("join room failed", zap.String("room_id", roomID), zap.Error(err))
		}
	}
}

func (s *Session) LeaveRoom(roomID string) {
	s.mu.Lock()
	delete(s.rooms, roomID)
	connected := s.state == StateConnected
	s.mu.Unlock()

	if connected {
		if err := s.Send(models.EventLeaveRoom, roomID); err != nil {
			s.log.Warn("leave room failed", zap.String("room_id", roomID), zap.Error(err))
		}
	}
}

func (s *Session) Rooms() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.roomsLocked()
}

func (s *Session) roomsLocked() []string {
	rooms := make([]string, 0, len(s.rooms))
	for id := range s.rooms {
		rooms = append(rooms, id)
	}
	sort.Strings(rooms)
	return rooms
}

// OnConnectionChange registers l and immediately reports the current status
// to it. Registering an equal comparable listener again is a no-op.
func (s *Session) OnConnectionChange(l ConnectionListener) (unsubscribe func()) {
	if l == nil {
		return func() {}
	}
	s.mu.Lock()
	if reflect.TypeOf(l).Comparable() {
		for _, e := range s.listeners {
			if e.l == l {
				s.mu.Unlock()
				return func() { s.removeListener(e.id) }
			}
		}
	}
	s.nextID++
	id := s.nextID
	s.listeners = append(s.listeners, listenerEntry{id: id, l: l})
	s.queueLocked(s.statusLocked(), id)
	s.mu.Unlock()

	s.flush()
	return func() { s.removeListener(id) }
}

func (s *Session) removeListener(id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, e := range s.listeners {
		if e.id == id {
			s.listeners = append(s.listeners[:i:i], s.listeners[i+1:]...)
			return
		}
	}
}

// queueLocked records a status in transition order. flush delivers it.
func (s *Session) queueLocked(status Status, target uint64) {
	s.outbox = append(s.outbox, notification{status: status, target: target})
}

// flush delivers queued statuses. Only one goroutine delivers at a time, so
// listeners see transitions in the order they happened. A listener that
// triggers a new transition gets it queued behind the current one.
func (s *Session) flush() {
	s.mu.Lock()
	if s.delivering {
		s.mu.Unlock()
		return
	}
	s.delivering = true
	for len(s.outbox) > 0 {
		n := s.outbox[0]
		s.outbox = s.outbox[1:]
		var listeners []ConnectionListener
		for _, e := range s.listeners {
			if n.target == 0 || n.target == e.id {
				listeners = append(listeners, e.l)
			}
		}
		s.mu.Unlock()

		for _, l := range listeners {
			l.OnConnectionChange(n.status)
		}
		s.mu.Lock()
	}
	s.delivering = false
	s.mu.Unlock()
}

// On registers a handler for inbound events of eventType.
func (s *Session) On(eventType string, h EventHandler) (unsubscribe func()) {
	s.mu.Lock()
	s.nextID++
	id := s.nextID
	s.handlers[eventType] = append(s.handlers[eventType], handlerEntry{id: id, h: h})
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		entries := s.handlers[eventType]
		for i, e := range entries {
			if e.id == id {
				s.handlers[eventType] = append(entries[:i:i], entries[i+1:]...)
				return
			}
		}
	}
}

func (s *Session) dispatch(evt models.Event) {
	s.mu.Lock()
	entries := s.handlers[evt.Type]
	handlers := make([]EventHandler, len(entries))
	for i, e := range entries {
		handlers[i] = e.h
	}
	s.mu.Unlock()

	for _, h := range handlers {
		h(evt)
	}
}
