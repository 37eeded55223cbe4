package safety

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/DEcyberhawk/whisspra-backend/internal/chat"
	"github.com/DEcyberhawk/whisspra-backend/internal/protocol"
)

// fakeClassifier returns a scripted result, optionally blocking until
// released so tests can hold a scan in flight.
type fakeClassifier struct {
	result  Result
	err     error
	started chan struct{} // closed once, on first call, if non-nil
	release chan struct{} // call blocks until closed, if non-nil
	calls   int64
}

func (f *fakeClassifier) Classify(ctx context.Context, req Request) (Result, error) {
	if atomic.AddInt64(&f.calls, 1) == 1 && f.started != nil {
		close(f.started)
	}
	if f.release != nil {
		select {
		case <-f.release:
		case <-ctx.Done():
			return Result{}, ctx.Err()
		}
	}
	return f.result, f.err
}

func (f *fakeClassifier) callCount() int64 { return atomic.LoadInt64(&f.calls) }

// fakeSink records broadcasts per conversation.
type fakeSink struct {
	mu     sync.Mutex
	events map[string][][]byte
}

func newFakeSink() *fakeSink {
	return &fakeSink{events: make(map[string][][]byte)}
}

func (f *fakeSink) Broadcast(conversationID string, data []byte) {
	f.mu.Lock()
	f.events[conversationID] = append(f.events[conversationID], data)
	f.mu.Unlock()
}

func (f *fakeSink) eventCount(conversationID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.events[conversationID])
}

func pendingMessage(t *testing.T, store *chat.MemStore) *chat.Message {
	t.Helper()
	msg := &chat.Message{
		ID:             "m1",
		ConversationID: "c1",
		SenderID:       "bob",
		Content:        "check http://evil.example",
		Type:           chat.TypeText,
		DeliveryStatus: chat.StatusSent,
		SafetyAnalysis: chat.SafetyAnalysis{Status: chat.SafetyPending},
		CreatedAt:      time.Now(),
	}
	if err := store.CreateMessage(context.Background(), msg); err != nil {
		t.Fatalf("CreateMessage: %v", err)
	}
	return msg
}

func TestScanFlaggedProducesWarning(t *testing.T) {
	store := chat.NewMemStore()
	sink := newFakeSink()
	cl := &fakeClassifier{result: Result{Flagged: true, Category: "scam_link", Reason: "suspicious url"}}
	co := NewCoordinator(store, cl, sink, time.Second)

	msg := pendingMessage(t, store)
	co.Scan(msg)

	got, _ := store.Message(context.Background(), msg.ID)
	want := chat.SafetyAnalysis{Status: chat.SafetyWarning, Type: "scam_link", Reason: "suspicious url"}
	if got.SafetyAnalysis != want {
		t.Errorf("safety analysis = %+v, want %+v", got.SafetyAnalysis, want)
	}

	if sink.eventCount("c1") != 1 {
		t.Fatalf("expected 1 safety update event, got %d", sink.eventCount("c1"))
	}
	var decoded map[string]interface{}
	sink.mu.Lock()
	raw := sink.events["c1"][0]
	sink.mu.Unlock()
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("unmarshal event: %v", err)
	}
	if decoded["type"] != protocol.TypeMessageSafetyUpdate {
		t.Errorf("event type = %v, want %q", decoded["type"], protocol.TypeMessageSafetyUpdate)
	}
}

func TestScanCleanProducesSafeAndEvent(t *testing.T) {
	store := chat.NewMemStore()
	sink := newFakeSink()
	cl := &fakeClassifier{result: Result{Flagged: false}}
	co := NewCoordinator(store, cl, sink, time.Second)

	msg := pendingMessage(t, store)
	co.Scan(msg)

	got, _ := store.Message(context.Background(), msg.ID)
	if got.SafetyAnalysis.Status != chat.SafetySafe {
		t.Errorf("status = %q, want safe", got.SafetyAnalysis.Status)
	}
	if sink.eventCount("c1") != 1 {
		t.Errorf("clean scan should still emit an update event, got %d", sink.eventCount("c1"))
	}
}

func TestScanFailureFailsOpen(t *testing.T) {
	store := chat.NewMemStore()
	sink := newFakeSink()
	cl := &fakeClassifier{err: errors.New("classifier unreachable")}
	co := NewCoordinator(store, cl, sink, time.Second)

	msg := pendingMessage(t, store)
	co.Scan(msg)

	got, _ := store.Message(context.Background(), msg.ID)
	if got.SafetyAnalysis.Status != chat.SafetySafe {
		t.Errorf("failed scan should default to safe, got %q", got.SafetyAnalysis.Status)
	}
	if sink.eventCount("c1") != 0 {
		t.Errorf("failed scan must not emit a client-visible event, got %d", sink.eventCount("c1"))
	}
}

func TestScanExactlyOnceUnderConcurrentTriggers(t *testing.T) {
	store := chat.NewMemStore()
	sink := newFakeSink()
	cl := &fakeClassifier{
		result:  Result{Flagged: true, Category: "scam_link", Reason: "suspicious url"},
		started: make(chan struct{}),
		release: make(chan struct{}),
	}
	co := NewCoordinator(store, cl, sink, time.Second)

	msg := pendingMessage(t, store)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		co.Scan(msg)
	}()

	// Wait for the first scan to be in flight, then fire duplicate triggers.
	<-cl.started
	for i := 0; i < 8; i++ {
		co.Scan(msg) // returns immediately: scan already in flight
	}
	close(cl.release)
	wg.Wait()

	if n := cl.callCount(); n != 1 {
		t.Errorf("classifier invoked %d times, want 1 (at-most-one-in-flight)", n)
	}
	if sink.eventCount("c1") != 1 {
		t.Errorf("expected exactly 1 update event, got %d", sink.eventCount("c1"))
	}

	got, _ := store.Message(context.Background(), msg.ID)
	if got.SafetyAnalysis.Status != chat.SafetyWarning {
		t.Errorf("status = %q, want warning", got.SafetyAnalysis.Status)
	}
}

func TestScanRetryAfterVerdictIsNoop(t *testing.T) {
	store := chat.NewMemStore()
	sink := newFakeSink()
	cl := &fakeClassifier{result: Result{Flagged: false}}
	co := NewCoordinator(store, cl, sink, time.Second)

	msg := pendingMessage(t, store)
	co.Scan(msg)
	co.Scan(msg) // retried trigger after the verdict landed

	if sink.eventCount("c1") != 1 {
		t.Errorf("retry emitted another event: got %d, want 1", sink.eventCount("c1"))
	}
	got, _ := store.Message(context.Background(), msg.ID)
	if got.SafetyAnalysis.Status != chat.SafetySafe {
		t.Errorf("status = %q, want safe", got.SafetyAnalysis.Status)
	}
}
