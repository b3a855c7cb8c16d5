package handler

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"chatsync/backend/internal/config"
	"chatsync/backend/internal/errs"
	"chatsync/backend/internal/models"

	"github.com/gin-gonic/gin"
	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const userContextKey = "chatsync.user"

// TokenIssuer підписує та перевіряє HS256 токени, що несуть User.
type TokenIssuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewTokenIssuer(secret string, ttl time.Duration) *TokenIssuer {
	if ttl <= 0 {
		ttl = config.DefaultTokenTTL
	}
	return &TokenIssuer{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// Issue генерує JWT для користувача
func (t *TokenIssuer) Issue(user models.User) (string, error) {
	if !user.Valid() {
		return "", fmt.Errorf("issue token: %w", errs.ErrInvalidMessage)
	}
	claims := jwt.MapClaims{
		"sub":      user.ID,
		"username": user.Username,
		"exp":      t.now().Add(t.ttl).Unix(),
		"iss":      config.TokenIssuer,
	}
	if user.Avatar != "" {
		claims["avatar"] = user.Avatar
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(t.secret)
}

// Verify returns the User carried by a valid token. Any failure is reported
// as errs.ErrUnauthorized.
func (t *TokenIssuer) Verify(tokenString string) (models.User, error) {
	token, err := jwt.Parse(tokenString,
		func(*jwt.Token) (any, error) { return t.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(config.TokenIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(t.now),
	)
	if err != nil {
		return models.User{}, fmt.Errorf("%w: %v", errs.ErrUnauthorized, err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return models.User{}, errs.ErrUnauthorized
	}
	sub, err := claims.GetSubject()
	if err != nil {
		return models.User{}, fmt.Errorf("%w: %v", errs.ErrUnauthorized, err)
	}
	username, _ := claims["username"].(string)
	avatar, _ := claims["avatar"].(string)

	user := models.User{ID: sub, Username: username, Avatar: avatar}
	if !user.Valid() {
		return models.User{}, fmt.Errorf("%w: token carries no user", errs.ErrUnauthorized)
	}
	return user, nil
}

// tokenFromRequest accepts "Authorization: Bearer <jwt>" or "?token=<jwt>".
// Browsers cannot set headers on a WebSocket handshake, hence the query form.
func tokenFromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimSpace(h[len("Bearer "):])
	}
	return r.URL.Query().Get("token")
}

func (h *Handler) authenticate(c *gin.Context) (models.User, error) {
	raw := tokenFromRequest(c.Request)
	if raw == "" {
		return models.User{}, fmt.Errorf("%w: token missing", errs.ErrUnauthorized)
	}
	return h.Tokens.Verify(raw)
}

// RequireAuth кладе перевіреного користувача в контекст gin.
func (h *Handler) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		user, err := h.authenticate(c)
		if err != nil {
			h.respondError(c, err)
			return
		}
		c.Set(userContextKey, user)
		c.Next()
	}
}

func currentUser(c *gin.Context) models.User {
	user, _ := c.MustGet(userContextKey).(models.User)
	return user
}

type tokenRequest struct {
	UserID   string `json:"user_id"`
	Username string `json:"username" binding:"required"`
	Avatar   string `json:"avatar"`
}

// IssueToken видає токен для розробки; без user_id генерується новий UUID.
func (h *Handler) IssueToken(c *gin.Context) {
	var req tokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "username is required"})
		return
	}
	if req.UserID == "" {
		req.UserID = uuid.NewString()
	}

	user := models.User{ID: req.UserID, Username: strings.TrimSpace(req.Username), Avatar: req.Avatar}
	token, err := h.Tokens.Issue(user)
	if err != nil {
		if errors.Is(err, errs.ErrInvalidMessage) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create token"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"token": token, "user": user})
}
