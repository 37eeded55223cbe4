package dispatch

import "sync"

// convLocks is a keyed mutual-exclusion set: one mutex per conversation,
// created on demand and released when the last holder leaves. Serializing
// persist+broadcast per conversation keeps broadcast order equal to
// persistence order without coupling unrelated conversations.
type convLocks struct {
	mu    sync.Mutex
	locks map[string]*lockEntry
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

func newConvLocks() *convLocks {
	return &convLocks{locks: make(map[string]*lockEntry)}
}

// lock acquires the conversation's mutex, creating it if needed.
func (c *convLocks) lock(conversationID string) {
	c.mu.Lock()
	e, ok := c.locks[conversationID]
	if !ok {
		e = &lockEntry{}
		c.locks[conversationID] = e
	}
	e.refs++
	c.mu.Unlock()

	e.mu.Lock()
}

// unlock releases the conversation's mutex and drops the entry once no
// goroutine is waiting on it.
func (c *convLocks) unlock(conversationID string) {
	c.mu.Lock()
	e := c.locks[conversationID]
	e.refs--
	if e.refs == 0 {
		delete(c.locks, conversationID)
	}
	c.mu.Unlock()

	e.mu.Unlock()
}
