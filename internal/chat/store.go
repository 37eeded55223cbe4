package chat

import (
	"context"
	"errors"
)

// ErrNotFound is returned by store lookups when the entity does not exist.
var ErrNotFound = errors.New("chat: not found")

// Store is the document-store contract the core depends on. The production
// implementation lives in the pgstore package; tests use the in-memory store
// in this package. All mutating operations are single-document updates so
// that concurrent writers never interleave partial state.
type Store interface {
	// CreateMessage persists a new message exactly as given.
	CreateMessage(ctx context.Context, m *Message) error

	// Message returns a message by ID, or ErrNotFound.
	Message(ctx context.Context, id string) (*Message, error)

	// RecentMessages returns up to limit most recent messages of a
	// conversation in chronological order (oldest first).
	RecentMessages(ctx context.Context, conversationID string, limit int) ([]*Message, error)

	// AdvanceStatus moves every message in the conversation that was not
	// sent by userID and whose delivery status is behind target forward to
	// target. It returns the IDs of the messages that actually advanced;
	// re-applying an already-reached status advances nothing and is not an
	// error.
	AdvanceStatus(ctx context.Context, conversationID, userID string, target DeliveryStatus) ([]string, error)

	// SetSafetyAnalysis writes the terminal safety verdict for a message,
	// but only while the message is still pending. It returns false when the
	// transition had already happened, making the pending->terminal step
	// exactly-once under concurrent scans.
	SetSafetyAnalysis(ctx context.Context, messageID string, a SafetyAnalysis) (bool, error)

	// Conversation returns a conversation by ID, or ErrNotFound.
	Conversation(ctx context.Context, id string) (*Conversation, error)

	// ConversationsFor returns every conversation userID participates in.
	ConversationsFor(ctx context.Context, userID string) ([]*Conversation, error)

	// SetLastMessage updates the conversation's last-message pointer.
	SetLastMessage(ctx context.Context, conversationID, messageID string) error
}
