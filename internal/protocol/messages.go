// Package protocol defines the WebSocket message types and structures used
// for communication between the client and server. All messages are
// serialized as JSON and follow a consistent envelope format with a type
// discriminator.
package protocol

import (
	"encoding/json"
	"fmt"
)

// ---------------------------------------------------------------------------
// Message type constants
// ---------------------------------------------------------------------------

// Client -> Server message types.
const (
	TypeOpenConversation  = "open_conversation"
	TypeCloseConversation = "close_conversation"
	TypeSendMessage       = "send_message"
	TypeSendMedia         = "send_media"
	TypeTyping            = "typing"
	TypeMarkRead          = "mark_read"
	TypePing              = "ping"
)

// Server -> Client message types.
const (
	TypeConversationOpened = "conversation_opened"
	TypeMessages           = "messages"
	TypePeerTyping         = "peer_typing"
	TypeMessageSent        = "message_sent"
	TypeRateLimited        = "rate_limited"
	TypeError              = "error"
	TypePong               = "pong"
)

// Error codes carried in ErrorMsg.Code, mirroring the service error
// taxonomy.
const (
	CodeInvalidParticipants = "invalid_participants"
	CodeValidation          = "invalid_message"
	CodeNotAParticipant     = "not_a_participant"
	CodeUploadFailed        = "upload_failed"
	CodeSessionClosed       = "session_closed"
	CodeTransientStore      = "store_unavailable"
	CodeNoConversation      = "no_conversation"
	CodeParse               = "parse_error"
	CodeUnsupported         = "unsupported_type"
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
	// Capture the full raw message for deferred parsing.
	e.Raw = make(json.RawMessage, len(data))
	copy(e.Raw, data)

	// Extract only the type field.
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

// OpenConversationMsg opens (or re-joins) the conversation with a peer,
// optionally scoped to a product. The server resolves the canonical
// conversation id from the authenticated user, the peer, and the context.
type OpenConversationMsg struct {
	Type      string `json:"type"`
	PeerID    string `json:"peer_id"`
	ContextID string `json:"context_id,omitempty"`
}

// CloseConversationMsg releases the connection's current conversation
// session.
type CloseConversationMsg struct {
	Type string `json:"type"`
}

// SendMessageMsg is a text message sent within the open conversation.
type SendMessageMsg struct {
	Type string `json:"type"`
	Body string `json:"body"`
}

// SendMediaMsg is a media message: the raw file travels base64-encoded and
// is handed to the upload service; only the returned reference is persisted.
type SendMediaMsg struct {
	Type      string `json:"type"`
	Data      string `json:"data"` // base64-encoded file bytes
	MediaKind string `json:"media_kind"`
}

// TypingMsg indicates whether the client is currently typing.
type TypingMsg struct {
	Type     string `json:"type"`
	IsTyping bool   `json:"is_typing"`
}

// MarkReadMsg records that the client has observed every message up to and
// including the given id.
type MarkReadMsg struct {
	Type   string `json:"type"`
	UpToID string `json:"up_to_id"`
}

// PingMsg is a client-initiated keepalive ping.
type PingMsg struct {
	Type string `json:"type"`
}

// ---------------------------------------------------------------------------
// Server -> Client message structs
// ---------------------------------------------------------------------------

// ConversationOpenedMsg confirms the session is live and reports the
// canonical conversation id.
type ConversationOpenedMsg struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversation_id"`
}

// MessagePayload is one message as rendered on the wire.
type MessagePayload struct {
	ID        string   `json:"id"`
	SenderID  string   `json:"sender_id"`
	Kind      string   `json:"kind"`
	Body      string   `json:"body,omitempty"`
	MediaRef  string   `json:"media_ref,omitempty"`
	MediaKind string   `json:"media_kind,omitempty"`
	CreatedAt int64    `json:"created_at"` // unix milliseconds
	ReadBy    []string `json:"read_by"`
}

// MessagesMsg delivers the full ordered conversation state. It is sent on
// every change; clients replace, not merge, their rendered state.
type MessagesMsg struct {
	Type           string           `json:"type"`
	ConversationID string           `json:"conversation_id"`
	Messages       []MessagePayload `json:"messages"`
}

// PeerTypingMsg relays the peer's effective typing indicator.
type PeerTypingMsg struct {
	Type     string `json:"type"`
	IsTyping bool   `json:"is_typing"`
}

// MessageSentMsg acknowledges a send with the id the store assigned, so the
// client can reconcile the echo in the next MessagesMsg.
type MessageSentMsg struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

// RateLimitedMsg is sent when the client exceeded a send rate limit.
type RateLimitedMsg struct {
	Type       string `json:"type"`
	RetryAfter int    `json:"retry_after"`
}

// ErrorMsg communicates an error condition for a single operation. The
// conversation session stays open; the client keeps its compose state and
// may retry.
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
	case TypeOpenConversation:
		var m OpenConversationMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeCloseConversation:
		var m CloseConversationMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeSendMessage:
		var m SendMessageMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeSendMedia:
		var m SendMediaMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeTyping:
		var m TypingMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeMarkRead:
		var m MarkReadMsg
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
	// Marshal the payload struct to a generic map so we can ensure the "type"
	// field is present and correct.
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
