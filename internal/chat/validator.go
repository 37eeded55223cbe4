package chat

import (
	"fmt"
	"unicode/utf8"
)

const (
	MaxContentBytes = 8192 // max payload size for text and references
	MaxTextChars    = 4000 // max character count for text messages
)

// ValidateContent checks that a message payload meets content requirements
// before it is persisted. Image, audio, and document contents are references
// (upload paths), so only size and encoding are enforced for them.
func ValidateContent(msgType MessageType, content string) error {
	if len(content) == 0 {
		return fmt.Errorf("chat: message content is empty")
	}
	if len(content) > MaxContentBytes {
		return fmt.Errorf("chat: content exceeds %d byte limit", MaxContentBytes)
	}
	if !utf8.ValidString(content) {
		return fmt.Errorf("chat: content contains invalid UTF-8")
	}
	if msgType == TypeText && utf8.RuneCountInString(content) > MaxTextChars {
		return fmt.Errorf("chat: text exceeds %d character limit", MaxTextChars)
	}
	return nil
}

// ValidType reports whether t is one of the supported message types.
func ValidType(t MessageType) bool {
	switch t {
	case TypeText, TypeImage, TypeAudio, TypeDocument, TypeCapsule, TypeSystem:
		return true
	}
	return false
}
