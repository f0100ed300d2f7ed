// Package auth resolves bearer tokens to user identities. Tokens live in
// the auth_tokens table; an expired or unknown token is rejected with
// ErrInvalidToken.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/xfrllc/frank/internal/store"
)

// ErrInvalidToken indicates the presented credential is unknown or expired.
var ErrInvalidToken = errors.New("invalid token")

// Service authenticates bearer tokens against the durable store.
type Service struct {
	db *gorm.DB
}

// NewService creates an auth service.
func NewService(db *gorm.DB) *Service {
	return &Service{db: db}
}

// Authenticate resolves a token to its user id.
func (s *Service) Authenticate(ctx context.Context, token string) (string, error) {
	if token == "" {
		return "", ErrInvalidToken
	}

	var row store.AuthTokenRow
	err := s.db.WithContext(ctx).First(&row, "token = ?", token).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", ErrInvalidToken
		}
		return "", fmt.Errorf("auth: lookup token: %w", err)
	}

	if row.ExpiresAt != nil && row.ExpiresAt.Before(time.Now().UTC()) {
		return "", ErrInvalidToken
	}

	return row.UserID, nil
}

// TokenFromRequest extracts the bearer token from the Authorization header
// or, for WebSocket clients that cannot set headers, the token query
// parameter.
func TokenFromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if after, ok := strings.CutPrefix(h, "Bearer "); ok {
			return after
		}
	}
	return r.URL.Query().Get("token")
}

type contextKey struct{}

// WithUserID returns a context carrying the authenticated user id.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, contextKey{}, userID)
}

// UserID returns the authenticated user id from the context, if any.
func UserID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(contextKey{}).(string)
	return id, ok
}

// Middleware rejects unauthenticated requests with 401 and stores the user
// id on the request context otherwise.
func (s *Service) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, err := s.Authenticate(r.Context(), TokenFromRequest(r))
		if err != nil {
			if errors.Is(err, ErrInvalidToken) {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), userID)))
	})
}
