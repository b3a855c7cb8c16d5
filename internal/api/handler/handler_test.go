package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
	"unicode/utf8"

	"chatsync/backend/internal/api/handler"
	"chatsync/backend/internal/chatclient"
	"chatsync/backend/internal/chathub"
	"chatsync/backend/internal/config"
	"chatsync/backend/internal/models"
	"chatsync/backend/internal/storage"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const testSecret = "test-secret"

var (
	alice = models.User{ID: "u-alice", Username: "alice"}
	bob   = models.User{ID: "u-bob", Username: "bob"}
)

type testEnv struct {
	srv    *httptest.Server
	hub    *chathub.ManagerService
	store  *storage.Service
	tokens *handler.TokenIssuer
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	store := storage.NewStorageService(db)
	require.NoError(t, store.Migrate())
	require.NoError(t, store.EnsureDefaultRooms(context.Background()))

	hub := chathub.NewManagerService(store, zap.NewNop(), chathub.Options{})
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	tokens := handler.NewTokenIssuer(testSecret, time.Hour)
	r := gin.New()
	handler.NewHandler(hub, store, tokens, zap.NewNop()).Register(r, true)
	srv := httptest.NewServer(r)

	t.Cleanup(func() {
		srv.Close()
		cancel()
		_ = sqlDB.Close()
	})
	return &testEnv{srv: srv, hub: hub, store: store, tokens: tokens}
}

func (e *testEnv) token(t *testing.T, user models.User) string {
	t.Helper()
	token, err := e.tokens.Issue(user)
	require.NoError(t, err)
	return token
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, e.srv.URL+path, &buf)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

// wsPeer reads frames in the background so tests can wait for one event type.
type wsPeer struct {
	conn   *websocket.Conn
	events chan models.Event
}

func (e *testEnv) dial(t *testing.T, user models.User) *wsPeer {
	t.Helper()
	url := "ws" + strings.TrimPrefix(e.srv.URL, "http") + "/ws?token=" + e.token(t, user)
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	p := &wsPeer{conn: conn, events: make(chan models.Event, 256)}
	go func() {
		defer close(p.events)
		for {
			_, frame, err := conn.ReadMessage()
			if err != nil {
				return
			}
			events, _ := models.DecodeFrame(frame)
			for _, evt := range events {
				p.events <- evt
			}
		}
	}()
	return p
}

func (p *wsPeer) emit(t *testing.T, eventType string, payload any) {
	t.Helper()
	evt, err := models.NewEvent(eventType, payload)
	require.NoError(t, err)
	require.NoError(t, p.conn.WriteJSON(evt))
}

// await skips other events until one of eventType arrives.
func (p *wsPeer) await(t *testing.T, eventType string) models.Event {
	t.Helper()
	timeout := time.After(3 * time.Second)
	for {
		select {
		case evt, ok := <-p.events:
			require.True(t, ok, "connection closed while waiting for %s", eventType)
			if evt.Type == eventType {
				return evt
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %s", eventType)
		}
	}
}

func decode[T any](t *testing.T, evt models.Event) T {
	t.Helper()
	var v T
	require.NoError(t, evt.Decode(&v))
	return v
}

func TestTokenIssuer_RoundTrip(t *testing.T) {
	issuer := handler.NewTokenIssuer(testSecret, time.Hour)
	user := models.User{ID: "u-1", Username: "carol", Avatar: "https://a/c.png"}

	token, err := issuer.Issue(user)
	require.NoError(t, err)

	got, err := issuer.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, user, got)
}

func TestTokenIssuer_RejectsForeignAndExpired(t *testing.T) {
	issuer := handler.NewTokenIssuer(testSecret, time.Hour)

	foreign, err := handler.NewTokenIssuer("other-secret", time.Hour).Issue(alice)
	require.NoError(t, err)
	_, err = issuer.Verify(foreign)
	assert.Error(t, err)

	expired, err := handler.NewTokenIssuer(testSecret, time.Nanosecond).Issue(alice)
	require.NoError(t, err)
	time.Sleep(1100 * time.Millisecond)
	_, err = issuer.Verify(expired)
	assert.Error(t, err)

	_, err = issuer.Verify("not-a-jwt")
	assert.Error(t, err)
}

func TestIssueToken_DevEndpoint(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, http.MethodPost, "/api/token", "", map[string]string{"username": "dave"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Token string      `json:"token"`
		User  models.User `json:"user"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.NotEmpty(t, body.User.ID, "id generated when omitted")

	user, err := env.tokens.Verify(body.Token)
	require.NoError(t, err)
	assert.Equal(t, body.User, user)

	resp = env.do(t, http.MethodPost, "/api/token", "", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAPI_RequiresToken(t *testing.T) {
	env := newTestEnv(t)

	assert.Equal(t, http.StatusUnauthorized, env.do(t, http.MethodGet, "/api/rooms", "", nil).StatusCode)
	assert.Equal(t, http.StatusUnauthorized, env.do(t, http.MethodGet, "/api/rooms", "garbage", nil).StatusCode)
	assert.Equal(t, http.StatusUnauthorized, env.do(t, http.MethodGet, "/ws", "", nil).StatusCode)
	assert.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/healthz", "", nil).StatusCode)
}

func TestAPI_ListRooms(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, http.MethodGet, "/api/rooms", env.token(t, alice), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var rooms []models.Room
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&rooms))
	ids := make([]string, len(rooms))
	for i, r := range rooms {
		ids[i] = r.ID
	}
	assert.Equal(t, []string{"general", "random", "tech"}, ids)
}

func TestAPI_HistoryRejectsBadLimit(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, http.MethodGet, "/api/rooms/general/messages?limit=abc", env.token(t, alice), nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = env.do(t, http.MethodGet, "/api/rooms/general/messages", env.token(t, alice), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var history []models.RoomMessage
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&history))
	assert.Empty(t, history)
}

func TestWebSocket_RoomMessageReachesBothMembers(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	a := env.dial(t, alice)
	b := env.dial(t, bob)
	a.emit(t, models.EventUserJoin, alice)
	b.emit(t, models.EventUserJoin, bob)
	a.emit(t, models.EventJoinRoom, "general")
	b.emit(t, models.EventJoinRoom, "general")

	require.Eventually(t, func() bool {
		members, err := env.store.ListRoomMembers(ctx, "general")
		return err == nil && len(members) == 2
	}, 3*time.Second, 10*time.Millisecond)

	a.emit(t, models.EventSendMessage, models.SendMessageRequest{
		User: alice, Message: "hello", RoomID: "general", ClientID: "cid-1",
	})

	atA := decode[models.RoomMessage](t, a.await(t, models.EventNewMessage))
	atB := decode[models.RoomMessage](t, b.await(t, models.EventNewMessage))
	assert.Equal(t, atA.ID, atB.ID)
	assert.Equal(t, "hello", atB.Content)
	assert.Equal(t, alice.ID, atB.SenderID)
	assert.Equal(t, "cid-1", atA.ClientID)

	history, err := env.store.GetRoomHistory(ctx, "general", 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, atA.ID, history[0].ID)
}

func TestWebSocket_IdentityMismatchRejected(t *testing.T) {
	env := newTestEnv(t)

	a := env.dial(t, alice)
	a.emit(t, models.EventUserJoin, bob)

	payload := decode[models.ErrorPayload](t, a.await(t, models.EventError))
	assert.Contains(t, payload.Reason, "identity mismatch")
	assert.False(t, env.hub.Presence.IsOnline(bob.ID))
}

func TestWebSocket_OfflineDirectMessageKeptInHistory(t *testing.T) {
	env := newTestEnv(t)

	a := env.dial(t, alice)
	a.emit(t, models.EventUserJoin, alice)
	a.emit(t, models.EventSendPrivateMessage, models.SendPrivateMessageRequest{
		Sender: alice, Receiver: bob.ID, Message: "are you there?", ClientID: "cid-dm",
	})
	echo := decode[models.DirectMessage](t, a.await(t, models.EventNewPrivateMessage))
	assert.Equal(t, bob.ID, echo.ReceiverID)

	// Bob comes online later and sees the unread count, then the history.
	b := env.dial(t, bob)
	b.emit(t, models.EventUserJoin, bob)
	counts := decode[[]models.DirectUnreadCount](t, b.await(t, models.EventPrivateUnreadCounts))
	assert.Equal(t, []models.DirectUnreadCount{{UserID: alice.ID, Count: 1}}, counts)

	resp := env.do(t, http.MethodGet, "/api/private/"+alice.ID+"/messages", env.token(t, bob), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var history []models.DirectMessage
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&history))
	require.Len(t, history, 1)
	assert.Equal(t, echo.ID, history[0].ID)

	resp = env.do(t, http.MethodPost, "/api/private/"+alice.ID+"/read", env.token(t, bob), nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	counts = decode[[]models.DirectUnreadCount](t, b.await(t, models.EventPrivateUnreadCounts))
	assert.Empty(t, counts)
}

func TestAPI_OnlineUsers(t *testing.T) {
	env := newTestEnv(t)

	a := env.dial(t, alice)
	a.emit(t, models.EventUserJoin, alice)
	a.await(t, models.EventOnlineUsers)

	resp := env.do(t, http.MethodGet, "/api/online", env.token(t, bob), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var users []models.User
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&users))
	assert.Equal(t, []models.User{alice}, users)
}

// connectClient opens a chatclient session against the test server and
// records whether it ever had to reconnect.
func (e *testEnv) connectClient(t *testing.T, user models.User, rooms ...string) (*chatclient.Client, *atomic.Bool) {
	t.Helper()
	session := chatclient.NewSession(chatclient.NewWSDialer(e.srv.URL, e.token(t, user)), chatclient.SessionOptions{})
	c := chatclient.NewClient(session, user, chatclient.ClientOptions{})
	t.Cleanup(c.Close)

	reconnected := &atomic.Bool{}
	session.OnConnectionChange(chatclient.ListenerFunc(func(s chatclient.Status) {
		if s.State == chatclient.StateReconnecting {
			reconnected.Store(true)
		}
	}))
	for _, room := range rooms {
		c.JoinRoom(room)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	require.NoError(t, session.WaitConnected(ctx))
	return c, reconnected
}

// sinkClient is a registered connection that accepts and discards events.
type sinkClient struct {
	id   string
	user models.User
}

func (c *sinkClient) GetConnID() string        { return c.id }
func (c *sinkClient) GetIdentity() models.User { return c.user }
func (c *sinkClient) Send(models.Event) bool   { return true }
func (c *sinkClient) Closed() bool             { return false }
func (c *sinkClient) Run()                     {}
func (c *sinkClient) Close()                   {}

func TestClient_MaxLengthMultibyteMessageConfirmed(t *testing.T) {
	env := newTestEnv(t)
	c, reconnected := env.connectClient(t, alice, "general")
	general := models.RoomScope("general")

	// Every "<" is escaped to six bytes on the wire.
	content := strings.Repeat("😀<", config.MaxMessageContentSize/2)
	require.Equal(t, config.MaxMessageContentSize, utf8.RuneCountInString(content))

	entry, err := c.SendRoomMessage(context.Background(), "general", content)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return len(c.Conversations.Pending(general)) == 0 && len(c.Conversations.Messages(general)) == 1
	}, 3*time.Second, 10*time.Millisecond)
	msg := c.Conversations.Messages(general)[0]
	assert.Equal(t, content, msg.Content)
	assert.Equal(t, entry.ClientID, msg.ClientID)
	assert.False(t, reconnected.Load())

	history, err := env.store.GetRoomHistory(context.Background(), "general", 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, content, history[0].Content)
}

func TestClient_ReceivesLargePresenceSnapshot(t *testing.T) {
	env := newTestEnv(t)

	const others = 300
	avatar := "https://cdn.example.org/avatars/" + strings.Repeat("a", 256) + ".png"
	for i := 0; i < others; i++ {
		u := models.User{ID: fmt.Sprintf("u-%03d", i), Username: fmt.Sprintf("user%03d", i), Avatar: avatar}
		sink := &sinkClient{id: "sink-" + u.ID, user: u}
		env.hub.Register(sink)
		env.hub.HandleEvent(context.Background(), sink, models.MustEvent(models.EventUserJoin, u))
	}

	c, reconnected := env.connectClient(t, alice)

	require.Eventually(t, func() bool { return len(c.OnlineUsers()) == others+1 }, 5*time.Second, 10*time.Millisecond)
	snapshot, err := json.Marshal(c.OnlineUsers())
	require.NoError(t, err)
	assert.Greater(t, len(snapshot), config.MaxOutboundBatchSize, "snapshot is written as one oversized frame")
	assert.False(t, reconnected.Load())
}
