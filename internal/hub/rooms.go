package hub

import (
	"sync"

	"github.com/DEcyberhawk/whisspra-backend/internal/metrics"
)

// Rooms maps conversation IDs to the connections subscribed to them. Join
// and Leave are idempotent; Broadcast delivers to a snapshot of the room
// taken at call time, so connections joining mid-broadcast do not receive
// the event and connections leaving mid-broadcast are skipped without error.
type Rooms struct {
	mu    sync.RWMutex
	rooms map[string]map[string]Conn // conversationID -> sessionID -> conn

	// ordering serializes membership changes and hook delivery per
	// conversation, so onFirst and onEmpty always arrive in the order the
	// transitions happened.
	ordering *roomLocks

	// onEmpty, onFirst fire when a room gains its first subscriber or loses
	// its last one. The relay uses them to manage per-conversation NATS
	// subscriptions. Both may be nil.
	onFirst func(conversationID string)
	onEmpty func(conversationID string)
}

// NewRooms returns an empty room set.
func NewRooms() *Rooms {
	return &Rooms{
		rooms:    make(map[string]map[string]Conn),
		ordering: newRoomLocks(),
	}
}

// SetLifecycleHooks installs callbacks for the first-join and last-leave
// transitions of a room. Must be called before connections start joining.
func (r *Rooms) SetLifecycleHooks(onFirst, onEmpty func(conversationID string)) {
	r.onFirst = onFirst
	r.onEmpty = onEmpty
}

// Join subscribes conn to the conversation's room. Joining a room the
// connection is already in is a no-op.
func (r *Rooms) Join(conn Conn, conversationID string) {
	r.ordering.lock(conversationID)
	defer r.ordering.unlock(conversationID)

	r.mu.Lock()
	room, ok := r.rooms[conversationID]
	if !ok {
		room = make(map[string]Conn)
		r.rooms[conversationID] = room
	}
	first := len(room) == 0
	_, present := room[conn.SessionID()]
	room[conn.SessionID()] = conn
	r.mu.Unlock()

	if first && !present && r.onFirst != nil {
		r.onFirst(conversationID)
	}
}

// Leave removes conn from the conversation's room. Leaving a room the
// connection is not in is a no-op.
func (r *Rooms) Leave(conn Conn, conversationID string) {
	r.ordering.lock(conversationID)
	defer r.ordering.unlock(conversationID)

	r.leaveLocked(conn, conversationID)
}

// leaveLocked removes conn from the room and fires onEmpty if it was the
// last subscriber. Caller holds the conversation's ordering lock.
func (r *Rooms) leaveLocked(conn Conn, conversationID string) bool {
	r.mu.Lock()
	room, ok := r.rooms[conversationID]
	if !ok {
		r.mu.Unlock()
		return false
	}
	if _, present := room[conn.SessionID()]; !present {
		r.mu.Unlock()
		return false
	}
	delete(room, conn.SessionID())
	empty := len(room) == 0
	if empty {
		delete(r.rooms, conversationID)
	}
	r.mu.Unlock()

	if empty && r.onEmpty != nil {
		r.onEmpty(conversationID)
	}
	return true
}

// LeaveAll removes conn from every room it is in, returning the IDs of the
// conversations it left. Called on disconnect.
func (r *Rooms) LeaveAll(conn Conn) []string {
	r.mu.RLock()
	var member []string
	for id, room := range r.rooms {
		if _, ok := room[conn.SessionID()]; ok {
			member = append(member, id)
		}
	}
	r.mu.RUnlock()

	var left []string
	for _, id := range member {
		r.ordering.lock(id)
		if r.leaveLocked(conn, id) {
			left = append(left, id)
		}
		r.ordering.unlock(id)
	}
	return left
}

// SubscribersOf returns a snapshot of the connections currently in the room.
func (r *Rooms) SubscribersOf(conversationID string) []Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Conn, 0, len(r.rooms[conversationID]))
	for _, c := range r.rooms[conversationID] {
		out = append(out, c)
	}
	return out
}

// Broadcast sends data to every connection in the room at the time of the
// call. Send errors are ignored: a connection that died mid-broadcast is
// cleaned up by the transport layer's read path, not here.
func (r *Rooms) Broadcast(conversationID string, data []byte) {
	subs := r.SubscribersOf(conversationID)
	for _, c := range subs {
		_ = c.Send(data)
	}
	metrics.BroadcastFanout.Observe(float64(len(subs)))
}

// BroadcastExcept behaves like Broadcast but skips the named session. Used
// for typing passthrough, which must not echo to the originator.
func (r *Rooms) BroadcastExcept(conversationID, exceptSessionID string, data []byte) {
	for _, c := range r.SubscribersOf(conversationID) {
		if c.SessionID() == exceptSessionID {
			continue
		}
		_ = c.Send(data)
	}
}
