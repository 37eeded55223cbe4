package users

import (
	"context"
	"sync"
)

// MemDirectory is an in-memory Directory for tests and local development.
type MemDirectory struct {
	mu       sync.RWMutex
	users    map[string]*User
	lastSeen map[string]int64
}

// NewMemDirectory returns an empty MemDirectory.
func NewMemDirectory() *MemDirectory {
	return &MemDirectory{
		users:    make(map[string]*User),
		lastSeen: make(map[string]int64),
	}
}

// Put seeds or replaces a user.
func (d *MemDirectory) Put(u *User) {
	d.mu.Lock()
	cp := *u
	d.users[u.ID] = &cp
	d.mu.Unlock()
}

// ByID returns a copy of the stored user.
func (d *MemDirectory) ByID(_ context.Context, id string) (*User, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	u, ok := d.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *u
	return &cp, nil
}

// SetLastSeen records the disconnect timestamp.
func (d *MemDirectory) SetLastSeen(_ context.Context, id string, lastSeen int64) error {
	d.mu.Lock()
	d.lastSeen[id] = lastSeen
	d.mu.Unlock()
	return nil
}

// LastSeen returns the recorded last-seen timestamp, for test assertions.
func (d *MemDirectory) LastSeen(id string) int64 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.lastSeen[id]
}
