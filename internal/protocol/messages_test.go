package protocol

import (
	"encoding/json"
	"testing"
)

func TestParseClientMessage_SendMessage(t *testing.T) {
	data := []byte(`{"type":"sendMessage","conversationId":"c1","content":"hello","messageType":"text"}`)

	msgType, msg, err := ParseClientMessage(data)
	if err != nil {
		t.Fatalf("ParseClientMessage: %v", err)
	}
	if msgType != TypeSendMessage {
		t.Errorf("type = %q, want %q", msgType, TypeSendMessage)
	}

	m, ok := msg.(SendMessageMsg)
	if !ok {
		t.Fatalf("expected SendMessageMsg, got %T", msg)
	}
	if m.ConversationID != "c1" || m.Content != "hello" || m.MessageType != "text" {
		t.Errorf("unexpected fields: %+v", m)
	}
}

func TestParseClientMessage_AllTypes(t *testing.T) {
	tests := []struct {
		name string
		data string
		want string
	}{
		{"glimpse", `{"type":"glimpseMessages","conversationId":"c1"}`, TypeGlimpseMessages},
		{"read", `{"type":"readMessages","conversationId":"c1"}`, TypeReadMessages},
		{"typing", `{"type":"typing","conversationId":"c1"}`, TypeTyping},
		{"stop typing", `{"type":"stopTyping","conversationId":"c1"}`, TypeStopTyping},
		{"presence", `{"type":"updatePresence","status":"away"}`, TypeUpdatePresence},
		{"ping", `{"type":"ping"}`, TypePing},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msgType, msg, err := ParseClientMessage([]byte(tt.data))
			if err != nil {
				t.Fatalf("ParseClientMessage(%s): %v", tt.data, err)
			}
			if msgType != tt.want {
				t.Errorf("type = %q, want %q", msgType, tt.want)
			}
			if msg == nil {
				t.Error("decoded message is nil")
			}
		})
	}
}

func TestParseClientMessage_Errors(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"invalid json", `{not json`},
		{"missing type", `{"conversationId":"c1"}`},
		{"empty type", `{"type":""}`},
		{"unknown type", `{"type":"watchParty"}`},
		{"server-only type", `{"type":"newMessage"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, _, err := ParseClientMessage([]byte(tt.data)); err == nil {
				t.Errorf("ParseClientMessage(%s) should fail", tt.data)
			}
		})
	}
}

func TestNewServerMessage_InjectsType(t *testing.T) {
	data, err := NewServerMessage(TypeUserStatus, UserStatusMsg{
		UserID:   "u1",
		IsOnline: true,
	})
	if err != nil {
		t.Fatalf("NewServerMessage: %v", err)
	}

	var decoded map[string]interface{}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
	if decoded["type"] != TypeUserStatus {
		t.Errorf("type = %v, want %q", decoded["type"], TypeUserStatus)
	}
	if decoded["userId"] != "u1" {
		t.Errorf("userId = %v, want u1", decoded["userId"])
	}
	if decoded["isOnline"] != true {
		t.Errorf("isOnline = %v, want true", decoded["isOnline"])
	}
}

func TestNewServerMessage_UpdatePresenceRoundTrip(t *testing.T) {
	// Presence update pushed for an offline user carries a lastSeen value.
	data, err := NewServerMessage(TypeUserStatus, UserStatusMsg{UserID: "u1"})
	if err != nil {
		t.Fatalf("NewServerMessage: %v", err)
	}
	var decoded map[string]interface{}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if _, has := decoded["lastSeen"]; has {
		t.Error("nil lastSeen should be omitted from the payload")
	}
}
