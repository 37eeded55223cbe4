package hub

import "sync"

// roomLocks is a keyed mutual-exclusion set: one mutex per conversation,
// created on demand and released when the last holder leaves. Membership
// changes and lifecycle hook delivery happen under the conversation's
// mutex, so a room's first-join hook always lands before its last-leave
// hook even when joins and leaves race.
type roomLocks struct {
	mu    sync.Mutex
	locks map[string]*roomLockEntry
}

type roomLockEntry struct {
	mu   sync.Mutex
	refs int
}

func newRoomLocks() *roomLocks {
	return &roomLocks{locks: make(map[string]*roomLockEntry)}
}

func (l *roomLocks) lock(conversationID string) {
	l.mu.Lock()
	e, ok := l.locks[conversationID]
	if !ok {
		e = &roomLockEntry{}
		l.locks[conversationID] = e
	}
	e.refs++
	l.mu.Unlock()

	e.mu.Lock()
}

func (l *roomLocks) unlock(conversationID string) {
	l.mu.Lock()
	e := l.locks[conversationID]
	e.refs--
	if e.refs == 0 {
		delete(l.locks, conversationID)
	}
	l.mu.Unlock()

	e.mu.Unlock()
}
