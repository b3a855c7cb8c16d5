package chatclient

import (
	"sort"
	"sync"
	"time"

	"chatsync/backend/internal/config"
	"chatsync/backend/internal/models"

	"go.uber.org/zap"
)

// EmitFunc sends one event; Session.Send satisfies it.
type EmitFunc func(eventType string, payload any) error

type typingTimer struct {
	timer *time.Timer
	gen   uint64
}

// TypingNotifier turns local keystrokes into typing signals: one start per
// burst and exactly one stop, either explicit or after the inactivity
// timeout.
type TypingNotifier struct {
	mu      sync.Mutex
	emit    EmitFunc
	self    models.User
	timeout time.Duration
	active  map[models.Scope]*typingTimer
	gen     uint64
	log     *zap.Logger
}

func NewTypingNotifier(self models.User, emit EmitFunc, timeout time.Duration, log *zap.Logger) *TypingNotifier {
	if timeout <= 0 {
		timeout = config.ClientTypingTimeout
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &TypingNotifier{
		emit:    emit,
		self:    self,
		timeout: timeout,
		active:  make(map[models.Scope]*typingTimer),
		log:     log,
	}
}

// Keystroke emits a start signal if scope is idle and re-arms its timer.
func (n *TypingNotifier) Keystroke(scope models.Scope) {
	n.mu.Lock()
	n.gen++
	gen := n.gen
	if t, ok := n.active[scope]; ok {
		t.timer.Stop()
		t.gen = gen
		t.timer = n.armLocked(scope, gen)
		n.mu.Unlock()
		return
	}
	n.active[scope] = &typingTimer{gen: gen, timer: n.armLocked(scope, gen)}
	n.mu.Unlock()

	if n.send(scope, true) {
		return
	}
	// The start never left, so the next keystroke must send it again.
	n.mu.Lock()
	if t, ok := n.active[scope]; ok && t.gen == gen {
		t.timer.Stop()
		delete(n.active, scope)
	}
	n.mu.Unlock()
}

// Stop emits the stop signal now if scope is active.
func (n *TypingNotifier) Stop(scope models.Scope) {
	if n.clear(scope) {
		n.send(scope, false)
	}
}

// Clear forgets scope without emitting; the server already drops the typing
// state of a user who sends a message.
func (n *TypingNotifier) Clear(scope models.Scope) {
	n.clear(scope)
}

func (n *TypingNotifier) Active(scope models.Scope) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	_, ok := n.active[scope]
	return ok
}

// Close cancels every timer without emitting.
func (n *TypingNotifier) Close() {
	n.mu.Lock()
	defer n.mu.Unlock()
	for scope, t := range n.active {
		t.timer.Stop()
		delete(n.active, scope)
	}
}

func (n *TypingNotifier) clear(scope models.Scope) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	t, ok := n.active[scope]
	if !ok {
		return false
	}
	t.timer.Stop()
	delete(n.active, scope)
	return true
}

func (n *TypingNotifier) armLocked(scope models.Scope, gen uint64) *time.Timer {
	return time.AfterFunc(n.timeout, func() {
		n.mu.Lock()
		t, ok := n.active[scope]
		if !ok || t.gen != gen {
			n.mu.Unlock()
			return
		}
		delete(n.active, scope)
		n.mu.Unlock()

		n.send(scope, false)
	})
}

func (n *TypingNotifier) send(scope models.Scope, typing bool) bool {
	var eventType string
	payload := models.TypingPayload{User: n.self}
	switch scope.Kind {
	case models.ScopeDirect:
		payload.ReceiverID = scope.ID
		eventType = models.EventPrivateStopTyping
		if typing {
			eventType = models.EventPrivateTyping
		}
	default:
		payload.RoomID = scope.ID
		eventType = models.EventStopTyping
		if typing {
			eventType = models.EventTyping
		}
	}

	if err := n.emit(eventType, payload); err != nil {
		n.log.Debug("typing signal not sent", zap.String("type", eventType), zap.Error(err))
		return false
	}
	return true
}

// TypingView mirrors remote typing signals per scope.
type TypingView struct {
	mu   sync.Mutex
	sets map[models.Scope]map[string]models.User
}

func NewTypingView() *TypingView {
	return &TypingView{sets: make(map[models.Scope]map[string]models.User)}
}

func (v *TypingView) Started(scope models.Scope, user models.User) {
	v.mu.Lock()
	defer v.mu.Unlock()
	set, ok := v.sets[scope]
	if !ok {
		set = make(map[string]models.User)
		v.sets[scope] = set
	}
	set[user.ID] = user
}

func (v *TypingView) Stopped(scope models.Scope, userID string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if set, ok := v.sets[scope]; ok {
		delete(set, userID)
		if len(set) == 0 {
			delete(v.sets, scope)
		}
	}
}

// Typing returns who is typing in scope, ordered by username.
func (v *TypingView) Typing(scope models.Scope) []models.User {
	v.mu.Lock()
	defer v.mu.Unlock()
	users := make([]models.User, 0, len(v.sets[scope]))
	for _, u := range v.sets[scope] {
		users = append(users, u)
	}
	sort.Slice(users, func(i, j int) bool {
		if users[i].Username != users[j].Username {
			return users[i].Username < users[j].Username
		}
		return users[i].ID < users[j].ID
	})
	return users
}

// Reset drops everything; remote state is unknown after a reconnect.
func (v *TypingView) Reset() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.sets = make(map[models.Scope]map[string]models.User)
}
