package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/DEcyberhawk/whisspra-backend/internal/autoreply"
	"github.com/DEcyberhawk/whisspra-backend/internal/chat"
	"github.com/DEcyberhawk/whisspra-backend/internal/safety"
	"github.com/DEcyberhawk/whisspra-backend/internal/users"
)

type fakeBroadcaster struct {
	mu     sync.Mutex
	frames []broadcastFrame
}

type broadcastFrame struct {
	conversationID string
	data           []byte
}

func (f *fakeBroadcaster) Broadcast(conversationID string, data []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := make([]byte, len(data))
	copy(cp, data)
	f.frames = append(f.frames, broadcastFrame{conversationID: conversationID, data: cp})
}

func (f *fakeBroadcaster) decoded(t *testing.T) []map[string]interface{} {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]map[string]interface{}, 0, len(f.frames))
	for _, fr := range f.frames {
		var m map[string]interface{}
		if err := json.Unmarshal(fr.data, &m); err != nil {
			t.Fatalf("broadcast frame is not JSON: %v", err)
		}
		out = append(out, m)
	}
	return out
}

func (f *fakeBroadcaster) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.frames)
}

type fakeScanner struct {
	scans chan *chat.Message
}

func (f *fakeScanner) Scan(msg *chat.Message) { f.scans <- msg }

type fakeReplier struct {
	triggers chan *chat.Message
}

func (f *fakeReplier) Maybe(_ *chat.Conversation, trigger *chat.Message) {
	f.triggers <- trigger
}

func fixture() (*Dispatcher, *chat.MemStore, *users.MemDirectory, *fakeBroadcaster) {
	store := chat.NewMemStore()
	store.PutConversation(&chat.Conversation{
		ID:           "c1",
		Participants: []string{"alice", "bob"},
	})
	dir := users.NewMemDirectory()
	dir.Put(&users.User{ID: "alice", Name: "Alice", Avatar: "/a/alice.png"})
	dir.Put(&users.User{ID: "bob", Name: "Bob"})
	bcast := &fakeBroadcaster{}
	return New(store, dir, bcast), store, dir, bcast
}

func TestSendPersistsAndBroadcasts(t *testing.T) {
	d, store, _, bcast := fixture()

	m, err := d.Send(context.Background(), Intent{
		ConversationID: "c1",
		SenderID:       "alice",
		Content:        "hey bob",
		Type:           chat.TypeText,
	})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if m.ID == "" {
		t.Fatal("message has no ID")
	}
	if m.DeliveryStatus != chat.StatusSent {
		t.Fatalf("delivery status = %q, want sent", m.DeliveryStatus)
	}
	if m.SafetyAnalysis.Status != chat.SafetySafe {
		t.Fatalf("plain text should be created safe, got %q", m.SafetyAnalysis.Status)
	}

	stored, err := store.Message(context.Background(), m.ID)
	if err != nil {
		t.Fatalf("message not persisted: %v", err)
	}
	if stored.Content != "hey bob" {
		t.Fatalf("stored content = %q", stored.Content)
	}
	conv, _ := store.Conversation(context.Background(), "c1")
	if conv.LastMessageID != m.ID {
		t.Fatalf("last message pointer = %q, want %q", conv.LastMessageID, m.ID)
	}

	events := bcast.decoded(t)
	if len(events) != 1 {
		t.Fatalf("broadcasts = %d, want 1", len(events))
	}
	if events[0]["type"] != "newMessage" {
		t.Fatalf("broadcast type = %v", events[0]["type"])
	}
	sender := events[0]["sender"].(map[string]interface{})
	if sender["name"] != "Alice" {
		t.Fatalf("sender name = %v, want Alice", sender["name"])
	}
}

func TestSendRejections(t *testing.T) {
	d, store, _, bcast := fixture()

	tests := []struct {
		name   string
		intent Intent
	}{
		{"non-participant", Intent{ConversationID: "c1", SenderID: "mallory", Content: "hi", Type: chat.TypeText}},
		{"unknown conversation", Intent{ConversationID: "nope", SenderID: "alice", Content: "hi", Type: chat.TypeText}},
		{"invalid type", Intent{ConversationID: "c1", SenderID: "alice", Content: "hi", Type: "video"}},
		{"empty content", Intent{ConversationID: "c1", SenderID: "alice", Content: "", Type: chat.TypeText}},
		{"oversized text", Intent{ConversationID: "c1", SenderID: "alice", Content: strings.Repeat("a", 4001), Type: chat.TypeText}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := d.Send(context.Background(), tt.intent); err == nil {
				t.Fatal("expected error")
			}
		})
	}

	if bcast.count() != 0 {
		t.Fatalf("rejected intents must not broadcast, got %d frames", bcast.count())
	}
	msgs, _ := store.RecentMessages(context.Background(), "c1", 10)
	if len(msgs) != 0 {
		t.Fatalf("rejected intents must not persist, got %d messages", len(msgs))
	}
}

func TestSendNotParticipantError(t *testing.T) {
	d, _, _, _ := fixture()
	_, err := d.Send(context.Background(), Intent{
		ConversationID: "c1", SenderID: "mallory", Content: "hi", Type: chat.TypeText,
	})
	if !errors.Is(err, ErrNotParticipant) {
		t.Fatalf("err = %v, want ErrNotParticipant", err)
	}
}

func TestSendSchedulesScanOnlyWhenPending(t *testing.T) {
	d, _, _, _ := fixture()
	scanner := &fakeScanner{scans: make(chan *chat.Message, 4)}
	d.SetSafety(scanner)

	if _, err := d.Send(context.Background(), Intent{
		ConversationID: "c1", SenderID: "alice", Content: "no links here", Type: chat.TypeText,
	}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	m, err := d.Send(context.Background(), Intent{
		ConversationID: "c1", SenderID: "alice", Content: "check https://deals.example/win", Type: chat.TypeText,
	})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if m.SafetyAnalysis.Status != chat.SafetyPending {
		t.Fatalf("URL text should be pending, got %q", m.SafetyAnalysis.Status)
	}

	select {
	case scanned := <-scanner.scans:
		if scanned.ID != m.ID {
			t.Fatalf("scanned message %q, want %q (the URL-bearing one)", scanned.ID, m.ID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("scan was not scheduled")
	}
	select {
	case scanned := <-scanner.scans:
		t.Fatalf("unexpected extra scan for %q", scanned.ID)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSendSchedulesAutoReply(t *testing.T) {
	d, _, _, _ := fixture()
	replier := &fakeReplier{triggers: make(chan *chat.Message, 1)}
	d.SetAutoReply(replier)

	m, err := d.Send(context.Background(), Intent{
		ConversationID: "c1", SenderID: "bob", Content: "you around?", Type: chat.TypeText,
	})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}

	select {
	case trigger := <-replier.triggers:
		if trigger.ID != m.ID {
			t.Fatalf("trigger = %q, want %q", trigger.ID, m.ID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("auto-reply was not scheduled")
	}
}

func TestSendAsCreatesTwinMessage(t *testing.T) {
	d, store, _, bcast := fixture()
	scanner := &fakeScanner{scans: make(chan *chat.Message, 1)}
	replier := &fakeReplier{triggers: make(chan *chat.Message, 1)}
	d.SetSafety(scanner)
	d.SetAutoReply(replier)

	if err := d.SendAs(context.Background(), "c1", "alice", "on my way! see https://maps.example/r/42"); err != nil {
		t.Fatalf("SendAs: %v", err)
	}

	msgs, _ := store.RecentMessages(context.Background(), "c1", 10)
	if len(msgs) != 1 {
		t.Fatalf("messages = %d, want 1", len(msgs))
	}
	m := msgs[0]
	if !m.IsTwinMessage {
		t.Fatal("message not flagged as twin")
	}
	if m.SafetyAnalysis.Status != chat.SafetySafe {
		t.Fatalf("twin message safety = %q, want safe", m.SafetyAnalysis.Status)
	}
	if bcast.count() != 1 {
		t.Fatalf("broadcasts = %d, want 1", bcast.count())
	}

	// Twin output is trusted: no scan even with a URL, and no re-trigger.
	select {
	case <-scanner.scans:
		t.Fatal("twin message must not be scanned")
	case <-time.After(50 * time.Millisecond):
	}
	select {
	case <-replier.triggers:
		t.Fatal("twin message must not trigger auto-reply")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestAdvanceBroadcastsOnce(t *testing.T) {
	d, _, _, bcast := fixture()

	for i := 0; i < 3; i++ {
		if _, err := d.Send(context.Background(), Intent{
			ConversationID: "c1", SenderID: "bob", Content: fmt.Sprintf("msg %d", i), Type: chat.TypeText,
		}); err != nil {
			t.Fatalf("Send: %v", err)
		}
	}

	n, err := d.Advance(context.Background(), "c1", "alice", chat.StatusRead)
	if err != nil {
		t.Fatalf("Advance: %v", err)
	}
	if n != 3 {
		t.Fatalf("advanced = %d, want 3", n)
	}

	events := bcast.decoded(t)
	last := events[len(events)-1]
	if last["type"] != "messageStatusUpdate" {
		t.Fatalf("last broadcast type = %v", last["type"])
	}
	if last["status"] != "read" {
		t.Fatalf("status = %v, want read", last["status"])
	}
	if ids := last["messageIds"].([]interface{}); len(ids) != 3 {
		t.Fatalf("messageIds = %d, want 3", len(ids))
	}

	// Re-acknowledging advances nothing and stays silent.
	before := bcast.count()
	n, err = d.Advance(context.Background(), "c1", "alice", chat.StatusRead)
	if err != nil {
		t.Fatalf("Advance again: %v", err)
	}
	if n != 0 {
		t.Fatalf("re-advance moved %d messages, want 0", n)
	}
	if bcast.count() != before {
		t.Fatal("re-advance must not broadcast")
	}
}

func TestAdvanceRejections(t *testing.T) {
	d, _, _, _ := fixture()

	if _, err := d.Advance(context.Background(), "c1", "alice", chat.StatusSent); !errors.Is(err, ErrInvalidStatus) {
		t.Fatalf("err = %v, want ErrInvalidStatus", err)
	}
	if _, err := d.Advance(context.Background(), "c1", "mallory", chat.StatusRead); !errors.Is(err, ErrNotParticipant) {
		t.Fatalf("err = %v, want ErrNotParticipant", err)
	}
}

func TestBroadcastOrderMatchesPersistenceOrder(t *testing.T) {
	d, store, _, bcast := fixture()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sender := "alice"
			if i%2 == 0 {
				sender = "bob"
			}
			if _, err := d.Send(context.Background(), Intent{
				ConversationID: "c1", SenderID: sender,
				Content: fmt.Sprintf("concurrent %d", i), Type: chat.TypeText,
			}); err != nil {
				t.Errorf("Send: %v", err)
			}
		}(i)
	}
	wg.Wait()

	msgs, err := store.RecentMessages(context.Background(), "c1", 50)
	if err != nil {
		t.Fatalf("RecentMessages: %v", err)
	}
	events := bcast.decoded(t)
	if len(events) != len(msgs) {
		t.Fatalf("broadcasts = %d, messages = %d", len(events), len(msgs))
	}
	for i, ev := range events {
		msg := ev["message"].(map[string]interface{})
		if msg["id"] != msgs[i].ID {
			t.Fatalf("broadcast %d carries %v, persistence order says %s", i, msg["id"], msgs[i].ID)
		}
	}
}

// ---------------------------------------------------------------------------
// End-to-end scenarios with the real coordinators wired in.
// ---------------------------------------------------------------------------

type scriptedClassifier struct {
	result safety.Result
	err    error
}

func (s *scriptedClassifier) Classify(context.Context, safety.Request) (safety.Result, error) {
	return s.result, s.err
}

type scriptedPresence struct{ status string }

func (s *scriptedPresence) Status(context.Context, string) (string, error) {
	return s.status, nil
}

type scriptedGenerator struct{ text string }

func (s *scriptedGenerator) Generate(context.Context, string, []autoreply.HistoryEntry) (string, error) {
	return s.text, nil
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestScamLinkFlaggedEndToEnd(t *testing.T) {
	d, store, _, bcast := fixture()
	d.SetSafety(safety.NewCoordinator(store, &scriptedClassifier{
		result: safety.Result{Flagged: true, Category: "scam_link", Reason: "suspicious TLD"},
	}, bcast, time.Second))

	m, err := d.Send(context.Background(), Intent{
		ConversationID: "c1", SenderID: "bob",
		Content: "claim your prize https://free-crypto.example/now", Type: chat.TypeText,
	})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}

	waitFor(t, "terminal safety verdict", func() bool {
		stored, err := store.Message(context.Background(), m.ID)
		return err == nil && stored.SafetyAnalysis.Terminal()
	})

	stored, _ := store.Message(context.Background(), m.ID)
	if stored.SafetyAnalysis.Status != chat.SafetyWarning {
		t.Fatalf("safety status = %q, want warning", stored.SafetyAnalysis.Status)
	}
	if stored.SafetyAnalysis.Type != "scam_link" {
		t.Fatalf("safety type = %q", stored.SafetyAnalysis.Type)
	}

	waitFor(t, "messageSafetyUpdate broadcast", func() bool {
		for _, ev := range bcast.decoded(t) {
			if ev["type"] == "messageSafetyUpdate" {
				return true
			}
		}
		return false
	})
}

func TestAutoReplyEndToEnd(t *testing.T) {
	d, store, dir, bcast := fixture()
	dir.Put(&users.User{
		ID: "alice", Name: "Alice",
		AutoReplyEnabled: true,
		StyleProfile:     "casual, warm",
	})

	ar := autoreply.NewCoordinator(store, dir, &scriptedPresence{status: "away"},
		&scriptedGenerator{text: "hey! driving rn, talk later"}, time.Second)
	ar.SetSender(d)
	d.SetAutoReply(ar)

	if _, err := d.Send(context.Background(), Intent{
		ConversationID: "c1", SenderID: "bob", Content: "are you free tonight?", Type: chat.TypeText,
	}); err != nil {
		t.Fatalf("Send: %v", err)
	}

	waitFor(t, "twin reply", func() bool {
		msgs, _ := store.RecentMessages(context.Background(), "c1", 10)
		return len(msgs) == 2
	})

	msgs, _ := store.RecentMessages(context.Background(), "c1", 10)
	reply := msgs[1]
	if reply.SenderID != "alice" {
		t.Fatalf("reply author = %q, want alice", reply.SenderID)
	}
	if !reply.IsTwinMessage {
		t.Fatal("reply not flagged as twin")
	}
	if reply.Content != "hey! driving rn, talk later" {
		t.Fatalf("reply content = %q", reply.Content)
	}
	if bcast.count() != 2 {
		t.Fatalf("broadcasts = %d, want 2 (original plus twin reply)", bcast.count())
	}
}
