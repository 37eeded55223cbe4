// Package auth resolves bearer tokens presented on the WebSocket handshake
// to user IDs. Tokens live in Redis with a sliding TTL so that a session
// issued by the account service stays valid while the user keeps connecting.
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	// KeyPrefix is the Redis key prefix for auth tokens.
	KeyPrefix = "auth:token:"

	// TTL is the token time-to-live, refreshed on every successful lookup.
	TTL = 24 * time.Hour
)

// ErrInvalidToken is returned when a token does not resolve to a user.
var ErrInvalidToken = errors.New("auth: invalid or expired token")

// TokenStore validates and issues connection tokens backed by Redis.
type TokenStore struct {
	client *redis.Client
}

// NewTokenStore creates a token store on an existing Redis client.
func NewTokenStore(client *redis.Client) *TokenStore {
	return &TokenStore{client: client}
}

// Authenticate resolves token to the user ID it was issued for. A hit
// refreshes the token's TTL.
func (s *TokenStore) Authenticate(ctx context.Context, token string) (string, error) {
	userID, err := s.client.Get(ctx, KeyPrefix+token).Result()
	if err == redis.Nil {
		return "", ErrInvalidToken
	}
	if err != nil {
		return "", fmt.Errorf("auth: token lookup: %w", err)
	}

	// Best effort refresh; an expiry miss only shortens the session.
	_ = s.client.Expire(ctx, KeyPrefix+token, TTL).Err()

	return userID, nil
}

// Issue creates and stores a fresh token for userID.
func (s *TokenStore) Issue(ctx context.Context, userID string) (string, error) {
	token := uuid.NewString()
	if err := s.client.Set(ctx, KeyPrefix+token, userID, TTL).Err(); err != nil {
		return "", fmt.Errorf("auth: store token: %w", err)
	}
	return token, nil
}

// Revoke deletes a token. Revoking an unknown token is not an error.
func (s *TokenStore) Revoke(ctx context.Context, token string) error {
	if err := s.client.Del(ctx, KeyPrefix+token).Err(); err != nil {
		return fmt.Errorf("auth: revoke token: %w", err)
	}
	return nil
}
