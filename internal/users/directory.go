// Package users exposes the slice of the user account that the chat core
// needs: display identity for sender enrichment, the auto-reply opt-in and
// trained style profile, and the last-seen timestamp. Account management
// itself is external.
package users

import "context"

// User is the core-relevant projection of a user account.
type User struct {
	ID               string
	Name             string
	Avatar           string
	AutoReplyEnabled bool
	StyleProfile     string // opaque trained style blob; empty if untrained
}

// HasStyleProfile reports whether the user's style twin has been trained.
func (u *User) HasStyleProfile() bool {
	return u.StyleProfile != ""
}

// Directory looks up users and records their last-seen time. Implemented
// over Postgres in this package; tests use MemDirectory.
type Directory interface {
	// ByID returns the user, or chat-core's notion of absence via error.
	ByID(ctx context.Context, id string) (*User, error)

	// SetLastSeen records when the user's last connection went away.
	SetLastSeen(ctx context.Context, id string, lastSeen int64) error
}
