package chat

import (
	"context"
	"sort"
	"sync"
)

// MemStore is an in-memory Store implementation. It backs unit tests and
// local development without a database; all methods are goroutine-safe.
type MemStore struct {
	mu            sync.RWMutex
	messages      map[string]*Message
	conversations map[string]*Conversation
}

// NewMemStore returns an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{
		messages:      make(map[string]*Message),
		conversations: make(map[string]*Conversation),
	}
}

// PutConversation seeds or replaces a conversation. Conversations are
// created by external account management, so this is the only way in.
func (s *MemStore) PutConversation(c *Conversation) {
	s.mu.Lock()
	cp := *c
	cp.Participants = append([]string(nil), c.Participants...)
	s.conversations[c.ID] = &cp
	s.mu.Unlock()
}

// CreateMessage stores a copy of m.
func (s *MemStore) CreateMessage(_ context.Context, m *Message) error {
	s.mu.Lock()
	cp := *m
	s.messages[m.ID] = &cp
	s.mu.Unlock()
	return nil
}

// Message returns a copy of the stored message.
func (s *MemStore) Message(_ context.Context, id string) (*Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.messages[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *m
	return &cp, nil
}

// RecentMessages returns the newest limit messages of a conversation in
// chronological order.
func (s *MemStore) RecentMessages(_ context.Context, conversationID string, limit int) ([]*Message, error) {
	s.mu.RLock()
	var out []*Message
	for _, m := range s.messages {
		if m.ConversationID == conversationID {
			cp := *m
			out = append(out, &cp)
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

// AdvanceStatus applies the forward-only bulk transition.
func (s *MemStore) AdvanceStatus(_ context.Context, conversationID, userID string, target DeliveryStatus) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var advanced []string
	for _, m := range s.messages {
		if m.ConversationID != conversationID || m.SenderID == userID {
			continue
		}
		if m.DeliveryStatus.CanAdvanceTo(target) {
			m.DeliveryStatus = target
			advanced = append(advanced, m.ID)
		}
	}
	sort.Strings(advanced)
	return advanced, nil
}

// SetSafetyAnalysis writes the verdict only while the message is pending.
func (s *MemStore) SetSafetyAnalysis(_ context.Context, messageID string, a SafetyAnalysis) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.messages[messageID]
	if !ok {
		return false, ErrNotFound
	}
	if m.SafetyAnalysis.Status != SafetyPending {
		return false, nil
	}
	m.SafetyAnalysis = a
	return true, nil
}

// Conversation returns a copy of the stored conversation.
func (s *MemStore) Conversation(_ context.Context, id string) (*Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.conversations[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *c
	cp.Participants = append([]string(nil), c.Participants...)
	return &cp, nil
}

// ConversationsFor returns every conversation userID participates in,
// ordered by ID for deterministic iteration.
func (s *MemStore) ConversationsFor(_ context.Context, userID string) ([]*Conversation, error) {
	s.mu.RLock()
	var out []*Conversation
	for _, c := range s.conversations {
		if c.HasParticipant(userID) {
			cp := *c
			cp.Participants = append([]string(nil), c.Participants...)
			out = append(out, &cp)
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// SetLastMessage updates the last-message pointer.
func (s *MemStore) SetLastMessage(_ context.Context, conversationID, messageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conversations[conversationID]
	if !ok {
		return ErrNotFound
	}
	c.LastMessageID = messageID
	return nil
}
