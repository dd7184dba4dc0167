package protocol

import (
	"encoding/json"
	"testing"
)

// ---------------------------------------------------------------------------
// Test: Parsing a valid open_conversation message
// ---------------------------------------------------------------------------

func TestParseClientMessage_OpenConversation(t *testing.T) {
	input := []byte(`{"type":"open_conversation","peer_id":"seller-42","context_id":"prod-7"}`)

	msgType, msg, err := ParseClientMessage(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msgType != TypeOpenConversation {
		t.Fatalf("expected type %q, got %q", TypeOpenConversation, msgType)
	}

	om, ok := msg.(OpenConversationMsg)
	if !ok {
		t.Fatalf("expected OpenConversationMsg, got %T", msg)
	}
	if om.PeerID != "seller-42" {
		t.Errorf("expected peer_id %q, got %q", "seller-42", om.PeerID)
	}
	if om.ContextID != "prod-7" {
		t.Errorf("expected context_id %q, got %q", "prod-7", om.ContextID)
	}
}

// The product context is optional; its absence must not fail parsing.
func TestParseClientMessage_OpenConversationNoContext(t *testing.T) {
	input := []byte(`{"type":"open_conversation","peer_id":"seller-42"}`)

	_, msg, err := ParseClientMessage(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	om := msg.(OpenConversationMsg)
	if om.ContextID != "" {
		t.Errorf("expected empty context_id, got %q", om.ContextID)
	}
}

// ---------------------------------------------------------------------------
// Test: Parsing a valid send_message
// ---------------------------------------------------------------------------

func TestParseClientMessage_SendMessage(t *testing.T) {
	input := []byte(`{"type":"send_message","body":"is this still available?"}`)

	msgType, msg, err := ParseClientMessage(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msgType != TypeSendMessage {
		t.Fatalf("expected type %q, got %q", TypeSendMessage, msgType)
	}

	sm, ok := msg.(SendMessageMsg)
	if !ok {
		t.Fatalf("expected SendMessageMsg, got %T", msg)
	}
	if sm.Body != "is this still available?" {
		t.Errorf("unexpected body: %q", sm.Body)
	}
}

// ---------------------------------------------------------------------------
// Test: Creating a messages server message
// ---------------------------------------------------------------------------

func TestNewServerMessage_Messages(t *testing.T) {
	payload := MessagesMsg{
		ConversationID: "conv-abc",
		Messages: []MessagePayload{
			{
				ID:        "msg-1",
				SenderID:  "buyer-1",
				Kind:      "text",
				Body:      "hello",
				CreatedAt: 1700000000000,
				ReadBy:    []string{"buyer-1"},
			},
		},
	}

	data, err := NewServerMessage(TypeMessages, payload)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Decode back and verify structure.
	var result map[string]interface{}
	if err := json.Unmarshal(data, &result); err != nil {
		t.Fatalf("failed to unmarshal result: %v", err)
	}

	if result["type"] != TypeMessages {
		t.Errorf("expected type %q, got %v", TypeMessages, result["type"])
	}
	if result["conversation_id"] != "conv-abc" {
		t.Errorf("expected conversation_id %q, got %v", "conv-abc", result["conversation_id"])
	}

	msgs, ok := result["messages"].([]interface{})
	if !ok {
		t.Fatalf("expected messages to be an array, got %T", result["messages"])
	}
	if len(msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(msgs))
	}

	first, ok := msgs[0].(map[string]interface{})
	if !ok {
		t.Fatalf("expected message object, got %T", msgs[0])
	}
	if first["id"] != "msg-1" {
		t.Errorf("expected message id %q, got %v", "msg-1", first["id"])
	}
	if first["sender_id"] != "buyer-1" {
		t.Errorf("expected sender_id %q, got %v", "buyer-1", first["sender_id"])
	}

	readBy, ok := first["read_by"].([]interface{})
	if !ok {
		t.Fatalf("expected read_by to be an array, got %T", first["read_by"])
	}
	if len(readBy) != 1 || readBy[0] != "buyer-1" {
		t.Errorf("unexpected read_by: %v", readBy)
	}
}

func TestNewServerMessage_InjectsType(t *testing.T) {
	data, err := NewServerMessage(TypePeerTyping, PeerTypingMsg{IsTyping: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var result map[string]interface{}
	if err := json.Unmarshal(data, &result); err != nil {
		t.Fatalf("failed to unmarshal result: %v", err)
	}
	if result["type"] != TypePeerTyping {
		t.Errorf("expected type %q, got %v", TypePeerTyping, result["type"])
	}
	if result["is_typing"] != true {
		t.Errorf("expected is_typing true, got %v", result["is_typing"])
	}
}

// ---------------------------------------------------------------------------
// Test: Parsing an unknown message type returns an error
// ---------------------------------------------------------------------------

func TestParseClientMessage_UnknownType(t *testing.T) {
	input := []byte(`{"type":"unknown_type","data":"something"}`)

	msgType, msg, err := ParseClientMessage(input)
	if err == nil {
		t.Fatal("expected an error for unknown message type, got nil")
	}
	if msg != nil {
		t.Errorf("expected nil message for unknown type, got %v", msg)
	}
	if msgType != "unknown_type" {
		t.Errorf("expected returned type %q, got %q", "unknown_type", msgType)
	}
}

// Server-only types must not be accepted from clients.
func TestParseClientMessage_ServerOnlyType(t *testing.T) {
	input := []byte(`{"type":"messages","conversation_id":"c1","messages":[]}`)

	_, _, err := ParseClientMessage(input)
	if err == nil {
		t.Fatal("expected an error for server-only message type, got nil")
	}
}

// ---------------------------------------------------------------------------
// Test: Envelope UnmarshalJSON edge cases
// ---------------------------------------------------------------------------

func TestEnvelope_MissingType(t *testing.T) {
	input := []byte(`{"data":"no type field"}`)
	var env Envelope
	if err := json.Unmarshal(input, &env); err == nil {
		t.Fatal("expected error for missing type field, got nil")
	}
}

func TestEnvelope_InvalidJSON(t *testing.T) {
	input := []byte(`{invalid json}`)
	var env Envelope
	if err := json.Unmarshal(input, &env); err == nil {
		t.Fatal("expected error for invalid JSON, got nil")
	}
}

// ---------------------------------------------------------------------------
// Test: Parsing all client message types succeeds
// ---------------------------------------------------------------------------

func TestParseClientMessage_AllTypes(t *testing.T) {
	cases := []struct {
		name     string
		input    string
		wantType string
	}{
		{"open_conversation", `{"type":"open_conversation","peer_id":"u2"}`, TypeOpenConversation},
		{"close_conversation", `{"type":"close_conversation"}`, TypeCloseConversation},
		{"send_message", `{"type":"send_message","body":"hi"}`, TypeSendMessage},
		{"send_media", `{"type":"send_media","data":"aGVsbG8=","media_kind":"image"}`, TypeSendMedia},
		{"typing", `{"type":"typing","is_typing":true}`, TypeTyping},
		{"mark_read", `{"type":"mark_read","up_to_id":"msg-9"}`, TypeMarkRead},
		{"ping", `{"type":"ping"}`, TypePing},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			msgType, msg, err := ParseClientMessage([]byte(tc.input))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if msgType != tc.wantType {
				t.Errorf("expected type %q, got %q", tc.wantType, msgType)
			}
			if msg == nil {
				t.Error("expected non-nil message")
			}
		})
	}
}
