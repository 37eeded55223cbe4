// Package chat defines the domain model for the real-time conversation core:
// messages, conversations, the delivery-status state machine, and the safety
// analysis sub-state. Persistence is behind the Store interface so the
// document store stays an external collaborator.
package chat

import (
	"regexp"
	"time"
)

// MessageType enumerates the supported message payload kinds.
type MessageType string

const (
	TypeText     MessageType = "text"
	TypeImage    MessageType = "image"
	TypeAudio    MessageType = "audio"
	TypeDocument MessageType = "document"
	TypeCapsule  MessageType = "capsule"
	TypeSystem   MessageType = "system"
)

// DeliveryStatus is the client-visible delivery state of a message.
// Transitions only ever advance: sent -> delivered -> glimpsed -> read.
type DeliveryStatus string

const (
	StatusSent      DeliveryStatus = "sent"
	StatusDelivered DeliveryStatus = "delivered"
	StatusGlimpsed  DeliveryStatus = "glimpsed"
	StatusRead      DeliveryStatus = "read"
)

// statusRank orders delivery statuses for the forward-only rule.
var statusRank = map[DeliveryStatus]int{
	StatusSent:      0,
	StatusDelivered: 1,
	StatusGlimpsed:  2,
	StatusRead:      3,
}

// Rank returns the position of s in the delivery order, or -1 for an
// unknown status.
func (s DeliveryStatus) Rank() int {
	r, ok := statusRank[s]
	if !ok {
		return -1
	}
	return r
}

// Valid reports whether s is one of the known delivery statuses.
func (s DeliveryStatus) Valid() bool {
	_, ok := statusRank[s]
	return ok
}

// CanAdvanceTo reports whether a message currently at status s may move to
// target. A request for a status already passed or reached is not an error,
// it is simply not an advance — callers treat it as a no-op so that retries
// and out-of-order updates from multiple devices are harmless.
func (s DeliveryStatus) CanAdvanceTo(target DeliveryStatus) bool {
	if !s.Valid() || !target.Valid() {
		return false
	}
	return target.Rank() > s.Rank()
}

// Safety analysis verdicts.
const (
	SafetyPending = "pending"
	SafetySafe    = "safe"
	SafetyWarning = "warning"
)

// SafetyAnalysis is the orthogonal content-safety sub-state of a message.
// Status moves from pending to exactly one terminal value (safe or warning).
// Type and Reason are set only for warnings.
type SafetyAnalysis struct {
	Status string `json:"status"`
	Type   string `json:"type,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// Terminal reports whether the analysis has reached a final verdict.
func (a SafetyAnalysis) Terminal() bool {
	return a.Status == SafetySafe || a.Status == SafetyWarning
}

// Message is one persisted chat message. ConversationID and SenderID are
// immutable after creation; DeliveryStatus and SafetyAnalysis are the only
// mutable fields.
type Message struct {
	ID             string         `json:"id"`
	ConversationID string         `json:"conversationId"`
	SenderID       string         `json:"senderId"`
	Content        string         `json:"content"`
	Type           MessageType    `json:"messageType"`
	Duration       int            `json:"duration,omitempty"` // seconds, audio only
	FileName       string         `json:"fileName,omitempty"` // document only
	FileSize       int64          `json:"fileSize,omitempty"` // bytes, document only
	ReleaseAt      *time.Time     `json:"releaseAt,omitempty"` // capsule only
	DeliveryStatus DeliveryStatus `json:"deliveryStatus"`
	SafetyAnalysis SafetyAnalysis `json:"safetyAnalysis"`
	IsTwinMessage  bool           `json:"isTwinMessage,omitempty"`
	CreatedAt      time.Time      `json:"createdAt"`
}

// urlPattern matches the http/https prefixes that qualify a text message for
// a safety scan.
var urlPattern = regexp.MustCompile(`https?://`)

// NeedsSafetyScan reports whether a message of the given type and content
// must start in the pending safety state: every image, and any text that
// carries a URL. All other messages are created already safe.
func NeedsSafetyScan(msgType MessageType, content string) bool {
	switch msgType {
	case TypeImage:
		return true
	case TypeText:
		return urlPattern.MatchString(content)
	default:
		return false
	}
}

// InitialSafety returns the safety analysis a new message is created with.
func InitialSafety(msgType MessageType, content string) SafetyAnalysis {
	if NeedsSafetyScan(msgType, content) {
		return SafetyAnalysis{Status: SafetyPending}
	}
	return SafetyAnalysis{Status: SafetySafe}
}
