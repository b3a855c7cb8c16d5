package chatclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"chatsync/backend/internal/errs"
	"chatsync/backend/internal/models"
)

// APIClient talks to the REST side of the server: dev tokens, history and
// read markers.
type APIClient struct {
	BaseURL string
	Token   string
	HTTP    *http.Client
}

func NewAPIClient(baseURL, token string) *APIClient {
	return &APIClient{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Token:   token,
		HTTP:    &http.Client{Timeout: 15 * time.Second},
	}
}

type loginRequest struct {
	UserID   string `json:"user_id,omitempty"`
	Username string `json:"username"`
	Avatar   string `json:"avatar,omitempty"`
}

type loginResponse struct {
	Token string      `json:"token"`
	User  models.User `json:"user"`
}

// Login asks the dev token endpoint for a token. An empty userID lets the
// server generate one.
func (a *APIClient) Login(ctx context.Context, userID, username, avatar string) (string, models.User, error) {
	var resp loginResponse
	err := a.do(ctx, http.MethodPost, "/api/token", loginRequest{UserID: userID, Username: username, Avatar: avatar}, &resp)
	if err != nil {
		return "", models.User{}, err
	}
	return resp.Token, resp.User, nil
}

func (a *APIClient) Rooms(ctx context.Context) ([]models.Room, error) {
	var rooms []models.Room
	return rooms, a.do(ctx, http.MethodGet, "/api/rooms", nil, &rooms)
}

func (a *APIClient) RoomHistory(ctx context.Context, roomID string, limit int) ([]models.RoomMessage, error) {
	var history []models.RoomMessage
	path := "/api/rooms/" + url.PathEscape(roomID) + "/messages" + limitQuery(limit)
	return history, a.do(ctx, http.MethodGet, path, nil, &history)
}

func (a *APIClient) DirectHistory(ctx context.Context, peerID string, limit int) ([]models.DirectMessage, error) {
	var history []models.DirectMessage
	path := "/api/private/" + url.PathEscape(peerID) + "/messages" + limitQuery(limit)
	return history, a.do(ctx, http.MethodGet, path, nil, &history)
}

func (a *APIClient) Online(ctx context.Context) ([]models.User, error) {
	var users []models.User
	return users, a.do(ctx, http.MethodGet, "/api/online", nil, &users)
}

// MarkRead moves the server-side read state of scope.
func (a *APIClient) MarkRead(ctx context.Context, scope models.Scope) error {
	switch scope.Kind {
	case models.ScopeDirect:
		return a.do(ctx, http.MethodPost, "/api/private/"+url.PathEscape(scope.ID)+"/read", nil, nil)
	default:
		return a.do(ctx, http.MethodPost, "/api/rooms/"+url.PathEscape(scope.ID)+"/read", nil, nil)
	}
}

// History fetches scope's backlog as durable entries, oldest first.
func (a *APIClient) History(ctx context.Context, scope models.Scope, limit int, localUserID string) ([]Entry, error) {
	if scope.Kind == models.ScopeDirect {
		msgs, err := a.DirectHistory(ctx, scope.ID, limit)
		if err != nil {
			return nil, err
		}
		entries := make([]Entry, len(msgs))
		for i, m := range msgs {
			entries[i] = DirectEntry(m, localUserID)
		}
		return entries, nil
	}

	msgs, err := a.RoomHistory(ctx, scope.ID, limit)
	if err != nil {
		return nil, err
	}
	entries := make([]Entry, len(msgs))
	for i, m := range msgs {
		entries[i] = RoomEntry(m)
	}
	return entries, nil
}

func limitQuery(limit int) string {
	if limit <= 0 {
		return ""
	}
	return "?limit=" + strconv.Itoa(limit)
}

func (a *APIClient) do(ctx context.Context, method, path string, body, out any) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, a.BaseURL+path, &buf)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if a.Token != "" {
		req.Header.Set("Authorization", "Bearer "+a.Token)
	}

	resp, err := a.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		var apiErr struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		switch resp.StatusCode {
		case http.StatusUnauthorized:
			return fmt.Errorf("%s %s: %w: %s", method, path, errs.ErrUnauthorized, apiErr.Error)
		case http.StatusNotFound:
			return fmt.Errorf("%s %s: %w", method, path, errs.ErrNotFound)
		default:
			return fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, apiErr.Error)
		}
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}
