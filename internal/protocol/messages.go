// Package protocol defines the WebSocket message types and structures used
// for communication between the client and server. All messages are
// serialized as JSON and follow a consistent envelope format with a type
// discriminator.
package protocol

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/DEcyberhawk/whisspra-backend/internal/chat"
)

// ---------------------------------------------------------------------------
// Message type constants
// ---------------------------------------------------------------------------

// Client -> Server message types.
const (
	TypeSendMessage     = "sendMessage"
	TypeGlimpseMessages = "glimpseMessages"
	TypeReadMessages    = "readMessages"
	TypeTyping          = "typing"
	TypeStopTyping      = "stopTyping"
	TypeUpdatePresence  = "updatePresence"
	TypePing            = "ping"
)

// Server -> Client message types.
const (
	TypeReady               = "ready"
	TypeNewMessage          = "newMessage"
	TypeMessageSafetyUpdate = "messageSafetyUpdate"
	TypeMessageStatusUpdate = "messageStatusUpdate"
	TypeUserStatus          = "userStatus"
	TypeRateLimited         = "rateLimited"
	TypeError               = "error"
	TypePong                = "pong"
)

// ---------------------------------------------------------------------------
// Envelope — used for initial JSON parsing to extract the type discriminator.
// ---------------------------------------------------------------------------

// Envelope holds the message type and the raw JSON payload for deferred
// parsing into a concrete struct.
type Envelope struct {
	Type string          `json:"type"`
	Raw  json.RawMessage `json:"-"`
}

// UnmarshalJSON implements the json.Unmarshaler interface. It captures the
// full raw bytes and extracts only the "type" field so that the rest of the
// payload can be decoded later into the appropriate concrete struct.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	e.Raw = make(json.RawMessage, len(data))
	copy(e.Raw, data)

	var partial struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &partial); err != nil {
		return fmt.Errorf("protocol: failed to unmarshal envelope: %w", err)
	}
	if partial.Type == "" {
		return fmt.Errorf("protocol: missing or empty \"type\" field")
	}
	e.Type = partial.Type
	return nil
}

// ---------------------------------------------------------------------------
// Client -> Server message structs
// ---------------------------------------------------------------------------

// SendMessageMsg is a send intent for a new message in a conversation.
type SendMessageMsg struct {
	Type           string     `json:"type"`
	ConversationID string     `json:"conversationId"`
	Content        string     `json:"content"`
	MessageType    string     `json:"messageType"`
	Duration       int        `json:"duration,omitempty"`
	FileName       string     `json:"fileName,omitempty"`
	FileSize       int64      `json:"fileSize,omitempty"`
	ReleaseAt      *time.Time `json:"releaseAt,omitempty"`
}

// GlimpseMessagesMsg asks the server to advance all of the caller's
// un-acknowledged messages in a conversation to glimpsed.
type GlimpseMessagesMsg struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversationId"`
}

// ReadMessagesMsg asks the server to advance all of the caller's
// un-acknowledged messages in a conversation to read.
type ReadMessagesMsg struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversationId"`
}

// TypingMsg signals that the client started typing in a conversation.
type TypingMsg struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversationId"`
}

// StopTypingMsg signals that the client stopped typing in a conversation.
type StopTypingMsg struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversationId"`
}

// UpdatePresenceMsg sets the client's presence status.
type UpdatePresenceMsg struct {
	Type   string `json:"type"`
	Status string `json:"status"` // online | away | busy | driving | sleeping
}

// PingMsg is a client-initiated keepalive ping.
type PingMsg struct {
	Type string `json:"type"`
}

// ---------------------------------------------------------------------------
// Server -> Client message structs
// ---------------------------------------------------------------------------

// ReadyMsg is sent once after a successful authenticated handshake.
type ReadyMsg struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId"`
	UserID    string `json:"userId"`
}

// Sender carries the resolved display identity of a message's author, for
// client convenience.
type Sender struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Avatar string `json:"avatar,omitempty"`
}

// NewMessageMsg pushes a freshly persisted message to a conversation room.
type NewMessageMsg struct {
	Type    string       `json:"type"`
	Message chat.Message `json:"message"`
	Sender  Sender       `json:"sender"`
}

// MessageSafetyUpdateMsg pushes a message's terminal safety verdict.
type MessageSafetyUpdateMsg struct {
	Type           string              `json:"type"`
	MessageID      string              `json:"messageId"`
	ConversationID string              `json:"conversationId"`
	SafetyAnalysis chat.SafetyAnalysis `json:"safetyAnalysis"`
}

// MessageStatusUpdateMsg pushes a bulk delivery-status advance.
type MessageStatusUpdateMsg struct {
	Type           string   `json:"type"`
	ConversationID string   `json:"conversationId"`
	Status         string   `json:"status"`
	MessageIDs     []string `json:"messageIds"`
	UserID         string   `json:"userId"` // the acknowledging user
}

// UserStatusMsg announces a user's presence change to all clients.
type UserStatusMsg struct {
	Type     string     `json:"type"`
	UserID   string     `json:"userId"`
	IsOnline bool       `json:"isOnline"`
	Status   string     `json:"status,omitempty"`
	LastSeen *time.Time `json:"lastSeen,omitempty"`
}

// ServerTypingMsg relays a typing indicator to the rest of the room.
type ServerTypingMsg struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId"`
	UserName       string `json:"userName,omitempty"`
}

// RateLimitedMsg is sent when the client exceeded a send rate limit.
type RateLimitedMsg struct {
	Type       string `json:"type"`
	RetryAfter int    `json:"retryAfter"`
}

// ErrorMsg is sent by the server to communicate an error condition. It is
// addressed only to the originating connection, never to the room.
type ErrorMsg struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// PongMsg is the server's response to a client ping.
type PongMsg struct {
	Type string `json:"type"`
}

// ---------------------------------------------------------------------------
// Helper functions
// ---------------------------------------------------------------------------

// ParseClientMessage parses raw WebSocket bytes into a typed client message.
// It returns the message type string, the decoded struct, and any error
// encountered during parsing. An error is returned for unknown or
// server-only message types.
func ParseClientMessage(data []byte) (string, interface{}, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", nil, fmt.Errorf("protocol: failed to parse message: %w", err)
	}

	var (
		msg interface{}
		err error
	)

	switch env.Type {
	case TypeSendMessage:
		var m SendMessageMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeGlimpseMessages:
		var m GlimpseMessagesMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeReadMessages:
		var m ReadMessagesMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeTyping:
		var m TypingMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeStopTyping:
		var m StopTypingMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeUpdatePresence:
		var m UpdatePresenceMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypePing:
		var m PingMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	default:
		return env.Type, nil, fmt.Errorf("protocol: unknown client message type: %q", env.Type)
	}

	if err != nil {
		return env.Type, nil, fmt.Errorf("protocol: failed to decode %q payload: %w", env.Type, err)
	}
	return env.Type, msg, nil
}

// NewServerMessage creates a JSON-encoded byte slice for a server message.
// The msgType is injected into the payload under the "type" key. The payload
// should be one of the server message structs; this function marshals it to
// JSON, injects the type field, and returns the final bytes.
func NewServerMessage(msgType string, payload interface{}) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal payload: %w", err)
	}

	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("protocol: failed to unmarshal payload into map: %w", err)
	}

	m["type"] = msgType

	out, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal server message: %w", err)
	}
	return out, nil
}
