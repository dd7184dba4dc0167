// Package message implements the append-only, per-conversation message log:
// durable storage in PostgreSQL, content validation, and live full-state
// subscriptions fed by NATS change events.
package message

import (
	"context"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"
)

// Message kinds.
const (
	KindText  = "text"
	KindMedia = "media"
)

const (
	MaxTextBytes = 4096 // max encoded size of a text body
	MaxTextChars = 2000 // max character count of a text body
)

// Error taxonomy for log operations. Callers test with errors.Is.
var (
	// ErrValidation marks malformed message content.
	ErrValidation = errors.New("message: invalid content")

	// ErrNotAParticipant marks a sender (or reader) that is not a member of
	// the conversation.
	ErrNotAParticipant = errors.New("message: not a participant")

	// ErrTransientStore marks store or network unavailability. Writes
	// wrapped with it are safe to retry; the subscription layer retries
	// them internally.
	ErrTransientStore = errors.New("message: transient store error")
)

// Message is a single record in a conversation's log. Records are never
// mutated after creation except to grow ReadBy, and never deleted.
type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	SenderID       string    `json:"sender_id"`
	Kind           string    `json:"kind"`
	Text           string    `json:"text,omitempty"`
	MediaRef       string    `json:"media_ref,omitempty"`
	MediaKind      string    `json:"media_kind,omitempty"`
	CreatedAt      time.Time `json:"created_at"` // assigned by the store at write time
	ReadBy         []string  `json:"read_by"`    // always contains at least SenderID
}

// IsReadBy reports whether userID has observed this message.
func (m *Message) IsReadBy(userID string) bool {
	for _, id := range m.ReadBy {
		if id == userID {
			return true
		}
	}
	return false
}

// Content is the caller-supplied part of a message. Exactly one of Text or
// MediaRef (with MediaKind) must be populated.
type Content struct {
	Text      string
	MediaRef  string
	MediaKind string
}

// Validate checks the content and returns the resulting message kind.
func (c Content) Validate() (string, error) {
	hasText := c.Text != ""
	hasMedia := c.MediaRef != ""

	switch {
	case hasText && hasMedia:
		return "", fmt.Errorf("%w: both text and media set", ErrValidation)
	case hasText:
		if len(c.Text) > MaxTextBytes {
			return "", fmt.Errorf("%w: text exceeds %d byte limit", ErrValidation, MaxTextBytes)
		}
		if utf8.RuneCountInString(c.Text) > MaxTextChars {
			return "", fmt.Errorf("%w: text exceeds %d character limit", ErrValidation, MaxTextChars)
		}
		if !utf8.ValidString(c.Text) {
			return "", fmt.Errorf("%w: text contains invalid UTF-8", ErrValidation)
		}
		return KindText, nil
	case hasMedia:
		if c.MediaKind == "" {
			return "", fmt.Errorf("%w: media reference without kind", ErrValidation)
		}
		return KindMedia, nil
	default:
		return "", fmt.Errorf("%w: empty content", ErrValidation)
	}
}

// ParticipantChecker authorizes conversation membership. Implementations
// delegate to the account service; the WebSocket edge supplies one scoped to
// the two participants it resolved the conversation for.
type ParticipantChecker interface {
	IsParticipant(ctx context.Context, conversationID, userID string) (bool, error)
}

// ParticipantCheckerFunc adapts a function to the ParticipantChecker
// interface.
type ParticipantCheckerFunc func(ctx context.Context, conversationID, userID string) (bool, error)

// IsParticipant calls f.
func (f ParticipantCheckerFunc) IsParticipant(ctx context.Context, conversationID, userID string) (bool, error) {
	return f(ctx, conversationID, userID)
}
