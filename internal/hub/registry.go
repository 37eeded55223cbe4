// Package hub holds the two process-wide mutable structures of the core: the
// connection registry (user -> live connections) and the room membership
// (conversation -> subscribed connections). All mutation goes through their
// narrow methods so join/leave/broadcast races stay confined here.
package hub

import (
	"sync"
	"time"
)

// Conn is the narrow connection handle the hub needs. The ws package's
// Connection satisfies it; tests use in-memory fakes.
type Conn interface {
	// SessionID uniquely identifies this transport session.
	SessionID() string
	// Owner is the authenticated user that owns the session.
	Owner() string
	// Send writes one serialized event to the client.
	Send(data []byte) error
}

// Broadcaster delivers an event to every connection currently subscribed to
// a conversation. The dispatcher and both coordinators emit through this
// interface only, so each can be tested against a fake sink.
type Broadcaster interface {
	Broadcast(conversationID string, data []byte)
}

// Registry maps user IDs to their live connections. A user may hold several
// simultaneous connections (multi-device); the registry is safe for
// concurrent use from many read workers.
type Registry struct {
	mu    sync.RWMutex
	byUser map[string]map[string]Conn // userID -> sessionID -> conn
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{byUser: make(map[string]map[string]Conn)}
}

// Register records conn under its owning user. Returns true when this is the
// user's first live connection, i.e. the user just came online.
func (r *Registry) Register(conn Conn) (wentOnline bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	user := conn.Owner()
	set, ok := r.byUser[user]
	if !ok {
		set = make(map[string]Conn)
		r.byUser[user] = set
	}
	wentOnline = len(set) == 0
	set[conn.SessionID()] = conn
	return wentOnline
}

// Unregister removes exactly this connection handle. When the user's last
// connection goes away it returns wentOffline=true together with a last-seen
// timestamp captured at the moment of removal. A redundant Unregister for a
// connection that is already gone reports (false, zero) so the offline
// signal fires at most once per disconnect.
func (r *Registry) Unregister(conn Conn) (wentOffline bool, lastSeen time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	user := conn.Owner()
	set, ok := r.byUser[user]
	if !ok {
		return false, time.Time{}
	}
	if _, ok := set[conn.SessionID()]; !ok {
		return false, time.Time{}
	}
	delete(set, conn.SessionID())
	if len(set) > 0 {
		return false, time.Time{}
	}
	delete(r.byUser, user)
	return true, time.Now()
}

// ConnectionsFor returns a snapshot of the user's current connections. The
// slice may be empty but is never nil.
func (r *Registry) ConnectionsFor(userID string) []Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Conn, 0, len(r.byUser[userID]))
	for _, c := range r.byUser[userID] {
		out = append(out, c)
	}
	return out
}

// Online reports whether the user has at least one live connection.
func (r *Registry) Online(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser[userID]) > 0
}

// All returns a snapshot of every registered connection, for process-wide
// pushes such as presence change events.
func (r *Registry) All() []Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Conn
	for _, set := range r.byUser {
		for _, c := range set {
			out = append(out, c)
		}
	}
	return out
}

// Count returns the number of live connections across all users.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, set := range r.byUser {
		n += len(set)
	}
	return n
}
