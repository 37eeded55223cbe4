// Package presence manages per-user presence state backed by Redis: the
// user-selected status, which server instance owns the connection, and the
// last activity timestamp. Entries expire on their own so a crashed server
// never leaves users permanently "online".
package presence

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// KeyPrefix is the Redis key prefix for all presence hashes.
	KeyPrefix = "presence:"

	// TTL is the time-to-live for presence keys in Redis.
	TTL = 1 * time.Hour

	// Presence status values.
	StatusOnline   = "online"
	StatusAway     = "away"
	StatusBusy     = "busy"
	StatusDriving  = "driving"
	StatusSleeping = "sleeping"
)

// ValidStatus reports whether s is one of the presence statuses.
func ValidStatus(s string) bool {
	switch s {
	case StatusOnline, StatusAway, StatusBusy, StatusDriving, StatusSleeping:
		return true
	}
	return false
}

// Entry represents a user's presence state stored in Redis.
type Entry struct {
	UserID     string `redis:"user_id"`
	Status     string `redis:"status"`      // online | away | busy | driving | sleeping
	Server     string `redis:"server"`      // which chat server instance owns the user
	Online     int    `redis:"online"`      // 1 if at least one live connection
	LastActive int64  `redis:"last_active"` // unix timestamp
}

// Store manages presence state in Redis.
type Store struct {
	client     *redis.Client
	serverName string // identifier for this chat server instance
}

// NewStore creates a presence store connected to Redis and verifies the
// connection before returning.
func NewStore(redisAddr string, serverName string) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr: redisAddr,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("presence: redis connection failed: %w", err)
	}

	return &Store{client: client, serverName: serverName}, nil
}

// NewStoreWithClient wraps an existing Redis client. Used by tests and by
// processes that share one client across stores.
func NewStoreWithClient(client *redis.Client, serverName string) *Store {
	return &Store{client: client, serverName: serverName}
}

// SetOnline marks the user online, claiming ownership for this server
// instance. Called whenever a connection registers. The user-selected status
// is left alone: only a user with no presence entry at all gets the default.
// A reconnect or a second device must not flip an away user back to online.
func (s *Store) SetOnline(ctx context.Context, userID string) error {
	key := KeyPrefix + userID
	now := time.Now().Unix()

	pipe := s.client.Pipeline()
	pipe.HSet(ctx, key, map[string]interface{}{
		"user_id":     userID,
		"server":      s.serverName,
		"online":      1,
		"last_active": now,
	})
	pipe.HSetNX(ctx, key, "status", StatusOnline)
	pipe.Expire(ctx, key, TTL)
	_, err := pipe.Exec(ctx)
	return err
}

// SetOffline marks the user offline, keeping the entry around (with TTL) so
// peers can read the last activity timestamp.
func (s *Store) SetOffline(ctx context.Context, userID string, lastSeen time.Time) error {
	key := KeyPrefix + userID
	pipe := s.client.Pipeline()
	pipe.HSet(ctx, key, "online", 0, "last_active", lastSeen.Unix())
	pipe.Expire(ctx, key, TTL)
	_, err := pipe.Exec(ctx)
	return err
}

// SetStatus updates the user-selected presence status and refreshes the TTL.
func (s *Store) SetStatus(ctx context.Context, userID string, status string) error {
	if !ValidStatus(status) {
		return fmt.Errorf("presence: invalid status %q", status)
	}
	key := KeyPrefix + userID
	pipe := s.client.Pipeline()
	pipe.HSet(ctx, key, "status", status, "last_active", time.Now().Unix())
	pipe.Expire(ctx, key, TTL)
	_, err := pipe.Exec(ctx)
	return err
}

// Get retrieves a user's presence entry. Returns nil if not found.
func (s *Store) Get(ctx context.Context, userID string) (*Entry, error) {
	key := KeyPrefix + userID
	var e Entry
	err := s.client.HGetAll(ctx, key).Scan(&e)
	if err != nil {
		return nil, err
	}
	if e.UserID == "" {
		return nil, nil // not found
	}
	return &e, nil
}

// Status returns the user's presence status, defaulting to online when no
// entry exists. The auto-reply trigger reads through this.
func (s *Store) Status(ctx context.Context, userID string) (string, error) {
	e, err := s.Get(ctx, userID)
	if err != nil {
		return "", err
	}
	if e == nil {
		return StatusOnline, nil
	}
	return e.Status, nil
}

// Touch refreshes the presence TTL and last-active timestamp.
func (s *Store) Touch(ctx context.Context, userID string) error {
	key := KeyPrefix + userID
	pipe := s.client.Pipeline()
	pipe.HSet(ctx, key, "last_active", time.Now().Unix())
	pipe.Expire(ctx, key, TTL)
	_, err := pipe.Exec(ctx)
	return err
}

// Close closes the Redis connection.
func (s *Store) Close() error {
	return s.client.Close()
}

// Client returns the underlying Redis client for use by other packages.
func (s *Store) Client() *redis.Client {
	return s.client
}
