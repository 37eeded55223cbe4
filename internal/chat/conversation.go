package chat

import "time"

// Conversation is a persisted conversation between two or more participants.
// The participant set is owned by external group management; the core only
// reads it and maintains the last-message pointer.
type Conversation struct {
	ID              string    `json:"id"`
	Name            string    `json:"name,omitempty"`
	IsGroup         bool      `json:"isGroup"`
	Participants    []string  `json:"participants"`
	LastMessageID   string    `json:"lastMessageId,omitempty"`
	IsCognitive     bool      `json:"isCognitive,omitempty"`
	IsRoleplayRoom  bool      `json:"isRoleplayRoom,omitempty"`
	IsWhisperThread bool      `json:"isWhisperThread,omitempty"`
	IsCommunityChat bool      `json:"isCommunityChat,omitempty"`
	CreatedAt       time.Time `json:"createdAt"`
}

// IsDirect reports whether this is a two-party, non-group conversation.
// Only direct conversations can trigger an auto-reply.
func (c *Conversation) IsDirect() bool {
	return !c.IsGroup && len(c.Participants) == 2
}

// HasParticipant reports whether userID belongs to the conversation.
func (c *Conversation) HasParticipant(userID string) bool {
	for _, p := range c.Participants {
		if p == userID {
			return true
		}
	}
	return false
}

// Recipient returns the participant that is not senderID. It is only
// meaningful for direct conversations; for anything else it returns "".
func (c *Conversation) Recipient(senderID string) string {
	if !c.IsDirect() {
		return ""
	}
	for _, p := range c.Participants {
		if p != senderID {
			return p
		}
	}
	return ""
}
