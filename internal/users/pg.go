package users

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned when no user row matches the given ID.
var ErrNotFound = errors.New("users: not found")

// PGDirectory is the PostgreSQL-backed Directory.
type PGDirectory struct {
	db *sql.DB
}

// NewPGDirectory creates a directory backed by the given database handle.
func NewPGDirectory(db *sql.DB) *PGDirectory {
	return &PGDirectory{db: db}
}

// ByID loads the core-relevant user fields.
func (d *PGDirectory) ByID(ctx context.Context, id string) (*User, error) {
	const query = `
		SELECT id, name, COALESCE(avatar, ''), auto_reply_enabled, COALESCE(style_profile, '')
		FROM users
		WHERE id = $1`

	var u User
	err := d.db.QueryRowContext(ctx, query, id).Scan(
		&u.ID, &u.Name, &u.Avatar, &u.AutoReplyEnabled, &u.StyleProfile,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("users: query %s: %w", id, err)
	}
	return &u, nil
}

// SetLastSeen records the disconnect timestamp captured by the registry.
func (d *PGDirectory) SetLastSeen(ctx context.Context, id string, lastSeen int64) error {
	const query = `UPDATE users SET last_seen = $2 WHERE id = $1`

	_, err := d.db.ExecContext(ctx, query, id, time.Unix(lastSeen, 0).UTC())
	if err != nil {
		return fmt.Errorf("users: set last_seen %s: %w", id, err)
	}
	return nil
}
