package hub

import (
	"fmt"
	"sync"
	"testing"
)

// fakeConn is an in-memory Conn that records everything sent to it.
type fakeConn struct {
	id   string
	user string

	mu   sync.Mutex
	sent [][]byte
}

func newFakeConn(id, user string) *fakeConn {
	return &fakeConn{id: id, user: user}
}

func (f *fakeConn) SessionID() string { return f.id }
func (f *fakeConn) Owner() string     { return f.user }

func (f *fakeConn) Send(data []byte) error {
	f.mu.Lock()
	f.sent = append(f.sent, data)
	f.mu.Unlock()
	return nil
}

func (f *fakeConn) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func TestRegistryMultiDevice(t *testing.T) {
	r := NewRegistry()
	phone := newFakeConn("s1", "alice")
	laptop := newFakeConn("s2", "alice")

	if online := r.Register(phone); !online {
		t.Error("first connection should report went-online")
	}
	if online := r.Register(laptop); online {
		t.Error("second device should not report went-online again")
	}

	conns := r.ConnectionsFor("alice")
	if len(conns) != 2 {
		t.Fatalf("expected 2 connections, got %d", len(conns))
	}

	// Removing one device keeps the user online.
	offline, _ := r.Unregister(phone)
	if offline {
		t.Error("user still has a live connection, should not be offline")
	}
	if !r.Online("alice") {
		t.Error("user should still be online")
	}

	// Removing the last device emits the offline signal with a timestamp.
	offline, lastSeen := r.Unregister(laptop)
	if !offline {
		t.Fatal("removing the last connection should report went-offline")
	}
	if lastSeen.IsZero() {
		t.Error("offline signal should carry a captured last-seen time")
	}
	if r.Online("alice") {
		t.Error("user should be offline")
	}
}

func TestRegistryUnregisterIdempotent(t *testing.T) {
	r := NewRegistry()
	c := newFakeConn("s1", "alice")
	r.Register(c)

	offline, _ := r.Unregister(c)
	if !offline {
		t.Fatal("first unregister should report offline")
	}

	// Redundant unregister must not fire the signal again.
	offline, lastSeen := r.Unregister(c)
	if offline {
		t.Error("redundant unregister reported offline twice")
	}
	if !lastSeen.IsZero() {
		t.Error("redundant unregister returned a last-seen time")
	}

	if got := len(r.ConnectionsFor("alice")); got != 0 {
		t.Errorf("expected empty set, got %d", got)
	}
}

func TestRegistryConnectionsForUnknownUser(t *testing.T) {
	r := NewRegistry()
	conns := r.ConnectionsFor("nobody")
	if conns == nil {
		t.Fatal("expected non-nil empty slice")
	}
	if len(conns) != 0 {
		t.Fatalf("expected 0 connections, got %d", len(conns))
	}
}

func TestRoomsJoinLeaveIdempotent(t *testing.T) {
	rooms := NewRooms()
	c := newFakeConn("s1", "alice")

	rooms.Join(c, "conv1")
	rooms.Join(c, "conv1") // duplicate join

	if got := len(rooms.SubscribersOf("conv1")); got != 1 {
		t.Fatalf("expected 1 subscriber after duplicate join, got %d", got)
	}

	rooms.Leave(c, "conv1")
	rooms.Leave(c, "conv1") // duplicate leave

	if got := len(rooms.SubscribersOf("conv1")); got != 0 {
		t.Fatalf("expected 0 subscribers after leave, got %d", got)
	}
}

func TestRoomsBroadcastSnapshot(t *testing.T) {
	rooms := NewRooms()
	a := newFakeConn("s1", "alice")
	b := newFakeConn("s2", "bob")
	late := newFakeConn("s3", "carol")
	gone := newFakeConn("s4", "dave")

	rooms.Join(a, "conv1")
	rooms.Join(b, "conv1")
	rooms.Join(gone, "conv1")
	rooms.Leave(gone, "conv1") // disconnected before broadcast

	rooms.Broadcast("conv1", []byte(`{"type":"newMessage"}`))
	rooms.Join(late, "conv1") // joined after broadcast

	if a.sentCount() != 1 || b.sentCount() != 1 {
		t.Errorf("current members should receive exactly one event: a=%d b=%d",
			a.sentCount(), b.sentCount())
	}
	if gone.sentCount() != 0 {
		t.Error("departed connection received the broadcast")
	}
	if late.sentCount() != 0 {
		t.Error("late joiner received a broadcast from before its join")
	}
}

func TestRoomsBroadcastExcept(t *testing.T) {
	rooms := NewRooms()
	a := newFakeConn("s1", "alice")
	b := newFakeConn("s2", "bob")
	rooms.Join(a, "conv1")
	rooms.Join(b, "conv1")

	rooms.BroadcastExcept("conv1", "s1", []byte(`{"type":"typing"}`))

	if a.sentCount() != 0 {
		t.Error("originator should not receive its own typing event")
	}
	if b.sentCount() != 1 {
		t.Errorf("peer should receive the event, got %d", b.sentCount())
	}
}

func TestRoomsLifecycleHooks(t *testing.T) {
	rooms := NewRooms()
	var firsts, empties []string
	rooms.SetLifecycleHooks(
		func(id string) { firsts = append(firsts, id) },
		func(id string) { empties = append(empties, id) },
	)

	a := newFakeConn("s1", "alice")
	b := newFakeConn("s2", "bob")

	rooms.Join(a, "conv1")
	rooms.Join(b, "conv1")
	if len(firsts) != 1 || firsts[0] != "conv1" {
		t.Fatalf("onFirst = %v, want one conv1", firsts)
	}

	rooms.Leave(a, "conv1")
	if len(empties) != 0 {
		t.Fatal("onEmpty fired while the room still has members")
	}
	rooms.Leave(b, "conv1")
	if len(empties) != 1 || empties[0] != "conv1" {
		t.Fatalf("onEmpty = %v, want one conv1", empties)
	}
}

func TestRoomsLeaveAll(t *testing.T) {
	rooms := NewRooms()
	c := newFakeConn("s1", "alice")
	other := newFakeConn("s2", "bob")
	rooms.Join(c, "conv1")
	rooms.Join(c, "conv2")
	rooms.Join(other, "conv2")

	left := rooms.LeaveAll(c)
	if len(left) != 2 {
		t.Fatalf("expected to leave 2 rooms, left %v", left)
	}
	if got := len(rooms.SubscribersOf("conv2")); got != 1 {
		t.Errorf("conv2 should keep its other member, got %d", got)
	}
	if got := len(rooms.SubscribersOf("conv1")); got != 0 {
		t.Errorf("conv1 should be empty, got %d", got)
	}
}

func TestRoomsLifecycleHooksAlternateUnderChurn(t *testing.T) {
	rooms := NewRooms()

	// Hooks record the transition sequence; the relay depends on every
	// first-join landing before the matching last-leave.
	var mu sync.Mutex
	var events []string
	rooms.SetLifecycleHooks(
		func(id string) {
			mu.Lock()
			events = append(events, "first")
			mu.Unlock()
		},
		func(id string) {
			mu.Lock()
			events = append(events, "empty")
			mu.Unlock()
		},
	)

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			c := newFakeConn(fmt.Sprintf("s%d", n), "user")
			rooms.Join(c, "conv1")
			rooms.Leave(c, "conv1")
		}(i)
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	if len(events) == 0 || len(events)%2 != 0 {
		t.Fatalf("expected paired transitions, got %v", events)
	}
	for i, e := range events {
		want := "first"
		if i%2 == 1 {
			want = "empty"
		}
		if e != want {
			t.Fatalf("event %d = %q, want %q (sequence %v)", i, e, want, events)
		}
	}
	if got := len(rooms.SubscribersOf("conv1")); got != 0 {
		t.Fatalf("room should end empty, got %d subscribers", got)
	}
}

func TestRegistryConcurrentAccess(t *testing.T) {
	r := NewRegistry()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			c := newFakeConn(string(rune('a'+n%26))+"-conn", "user")
			r.Register(c)
			r.ConnectionsFor("user")
			r.Unregister(c)
		}(i)
	}
	wg.Wait()
}
