package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"

	"chatsync/backend/internal/chatclient"
	"chatsync/backend/internal/errs"
	"chatsync/backend/internal/models"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var chatRoom string

func init() {
	chatCmd.Flags().StringVarP(&chatRoom, "room", "r", "", "room to open first (default from config)")
	rootCmd.AddCommand(chatCmd)
}

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Open an interactive chat session",
	Long: `Open an interactive chat session.

Plain lines are sent to the current conversation. Commands:
  /room <id>          switch to a room
  /dm <peer> [text]   switch to a private conversation, optionally sending text
  /unread             show unread counts
  /online             show online users
  /typing             announce that you are typing
  /quit               leave`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := requireLogin()
		if err != nil {
			return err
		}
		room := chatRoom
		if room == "" {
			room = cfg.Session.DefaultRoom
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		t := newTerminal(cfg, cmd.OutOrStdout(), newLogger())
		defer t.client.Close()
		return t.run(ctx, os.Stdin, models.RoomScope(room))
	},
}

// terminal is a line-oriented front end over chatclient.Client.
type terminal struct {
	cfg    *Config
	client *chatclient.Client
	log    *zap.Logger

	outMu sync.Mutex
	out   io.Writer

	mu      sync.Mutex
	current models.Scope
}

func newTerminal(cfg *Config, out io.Writer, log *zap.Logger) *terminal {
	user := models.User{ID: cfg.Auth.UserID, Username: cfg.Auth.Username, Avatar: cfg.Auth.Avatar}
	api := chatclient.NewAPIClient(cfg.Server.URL, cfg.Auth.Token)
	session := chatclient.NewSession(chatclient.NewWSDialer(cfg.Server.URL, cfg.Auth.Token), chatclient.SessionOptions{Logger: log})

	t := &terminal{cfg: cfg, out: out, log: log}
	t.client = chatclient.NewClient(session, user, chatclient.ClientOptions{Reads: api, History: api, Logger: log})

	t.client.OnMessage(func(e chatclient.Entry) {
		if e.SenderID == user.ID {
			return
		}
		if e.Scope == t.scope() {
			t.println(formatEntry(e))
			return
		}
		t.printf("* new message in %s from %s (%d unread)\n", e.Scope, e.SenderName, t.client.Unread.Count(e.Scope))
	})
	t.client.OnSendFailure(func(f chatclient.SendFailure) {
		t.printf("! not delivered to %s: %q (%v)\n", f.Entry.Scope, f.Entry.Content, f.Err)
	})
	session.OnConnectionChange(chatclient.ListenerFunc(func(s chatclient.Status) {
		switch {
		case s.Permanent:
			t.println("! connection lost, giving up")
		case s.State == chatclient.StateReconnecting:
			t.printf("* reconnecting (attempt %d)\n", s.Attempt)
		case s.Connected:
			t.println("* connected")
		}
	}))
	for _, evt := range []string{models.EventTyping, models.EventPrivateTyping} {
		session.On(evt, func(models.Event) { t.showTyping() })
	}
	return t
}

func (t *terminal) scope() models.Scope {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.current
}

func (t *terminal) printf(format string, args ...any) {
	t.outMu.Lock()
	defer t.outMu.Unlock()
	fmt.Fprintf(t.out, format, args...)
}

func (t *terminal) println(line string) {
	t.printf("%s\n", line)
}

func (t *terminal) run(ctx context.Context, in io.Reader, first models.Scope) error {
	t.client.Connect()
	t.open(ctx, first)

	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			lines <- sc.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if quit := t.handleLine(ctx, strings.TrimSpace(line)); quit {
				return nil
			}
		}
	}
}

func (t *terminal) handleLine(ctx context.Context, line string) bool {
	if line == "" {
		return false
	}
	if !strings.HasPrefix(line, "/") {
		t.send(ctx, t.scope(), line)
		return false
	}

	name, rest, _ := strings.Cut(line[1:], " ")
	rest = strings.TrimSpace(rest)
	switch name {
	case "quit", "exit":
		return true
	case "room":
		if rest == "" {
			t.println("usage: /room <id>")
			return false
		}
		t.open(ctx, models.RoomScope(rest))
	case "dm":
		peer, text, _ := strings.Cut(rest, " ")
		if peer == "" {
			t.println("usage: /dm <peer> [text]")
			return false
		}
		t.open(ctx, models.DirectScope(peer))
		if text = strings.TrimSpace(text); text != "" {
			t.send(ctx, models.DirectScope(peer), text)
		}
	case "unread":
		t.showUnread()
	case "online":
		for _, u := range t.client.OnlineUsers() {
			t.printf("  %s (%s)\n", u.Username, u.ID)
		}
	case "typing":
		t.client.Typing.Keystroke(t.scope())
	default:
		t.printf("unknown command /%s\n", name)
	}
	return false
}

// open focuses scope, joins it when it is a room and prints its backlog.
func (t *terminal) open(ctx context.Context, scope models.Scope) {
	if t.scope() == scope {
		return
	}
	// Rooms stay joined after switching away.
	if scope.Kind == models.ScopeRoom {
		t.client.JoinRoom(scope.ID)
	}

	t.mu.Lock()
	t.current = scope
	t.mu.Unlock()
	t.client.Focus(scope)

	hctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if _, err := t.client.LoadHistory(hctx, scope, t.cfg.Session.HistoryLimit); err != nil {
		t.log.Warn("history unavailable", zap.Stringer("scope", scope), zap.Error(err))
	}
	t.printf("-- %s --\n", scope)
	for _, e := range t.client.Conversations.Messages(scope) {
		t.println(formatEntry(e))
	}
}

func (t *terminal) send(ctx context.Context, scope models.Scope, text string) {
	var err error
	if scope.Kind == models.ScopeDirect {
		_, err = t.client.SendDirectMessage(ctx, scope.ID, text)
	} else {
		_, err = t.client.SendRoomMessage(ctx, scope.ID, text)
	}
	switch {
	case err == nil, errors.Is(err, context.Canceled):
	case errors.Is(err, errs.ErrInvalidMessage):
		t.println("! message is empty or too long")
	default:
		// Rolled back entries are already reported by OnSendFailure.
		t.log.Debug("send failed", zap.Error(err))
	}
}

func (t *terminal) showUnread() {
	counts := t.client.Unread.Counts()
	if len(counts) == 0 {
		t.println("no unread messages")
		return
	}
	keys := make([]models.Scope, 0, len(counts))
	for s := range counts {
		keys = append(keys, s)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Key() < keys[j].Key() })
	for _, s := range keys {
		t.printf("  %-24s %d\n", s, counts[s])
	}
}

func (t *terminal) showTyping() {
	scope := t.scope()
	users := t.client.TypingView.Typing(scope)
	if len(users) == 0 {
		return
	}
	names := make([]string, len(users))
	for i, u := range users {
		names[i] = u.Username
	}
	t.printf("* %s typing...\n", strings.Join(names, ", "))
}
