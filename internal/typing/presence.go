// Package typing manages the ephemeral per-conversation typing indicator.
// State lives in Redis under a short TTL so a crashed client can never leave
// a permanently stuck indicator, and updates fan out over NATS. Everything
// here is best-effort: losing presence history is fine, losing a message is
// not, which is why this store is entirely separate from the message log.
package typing

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// KeyPrefix is the Redis key prefix for typing state hashes. Full key:
	// typing:<conversation_id>:<user_id>.
	KeyPrefix = "typing:"

	// DefaultFreshnessWindow is how long an unrefreshed typing flag stays
	// effective. Readers must treat anything older as not typing.
	DefaultFreshnessWindow = 8 * time.Second
)

// State is one participant's typing flag in one conversation. One record per
// (conversation, user) pair with upsert semantics.
type State struct {
	ConversationID string    `json:"conversation_id"`
	UserID         string    `json:"user_id"`
	IsTyping       bool      `json:"is_typing"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// EffectiveAt derives the observable typing value: the raw flag gated by the
// freshness window.
func (s State) EffectiveAt(now time.Time, window time.Duration) bool {
	return s.IsTyping && now.Sub(s.UpdatedAt) < window
}

// Bus is the slice of the messaging client presence needs.
type Bus interface {
	PublishTyping(conversationID string, data []byte) error
	SubscribeTyping(conversationID, subID string, handler func(data []byte)) error
	UnsubscribeTyping(subID string) error
}

// Presence stores typing state in Redis and fans updates out over NATS.
type Presence struct {
	rdb    *redis.Client
	bus    Bus
	window time.Duration
}

// NewPresence creates a Presence over the given Redis client and event bus.
// A window of 0 selects DefaultFreshnessWindow.
func NewPresence(rdb *redis.Client, bus Bus, window time.Duration) *Presence {
	if window <= 0 {
		window = DefaultFreshnessWindow
	}
	return &Presence{rdb: rdb, bus: bus, window: window}
}

// Window returns the freshness window in effect.
func (p *Presence) Window() time.Duration {
	return p.window
}

// Set upserts the typing state for (conversationID, userID) with a fresh
// updated_at and re-arms the TTL, then publishes the update. Errors are
// returned for logging but callers treat them as non-fatal: typing presence
// never blocks messaging.
func (p *Presence) Set(ctx context.Context, conversationID, userID string, isTyping bool) error {
	now := time.Now()
	key := stateKey(conversationID, userID)

	pipe := p.rdb.Pipeline()
	pipe.HSet(ctx, key, map[string]interface{}{
		"is_typing":  isTyping,
		"updated_at": now.UnixMilli(),
	})
	pipe.Expire(ctx, key, p.window)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("typing: set %s: %w", key, err)
	}

	event := State{
		ConversationID: conversationID,
		UserID:         userID,
		IsTyping:       isTyping,
		UpdatedAt:      now,
	}
	data, _ := json.Marshal(event)
	if err := p.bus.PublishTyping(conversationID, data); err != nil {
		return fmt.Errorf("typing: publish %s: %w", key, err)
	}
	return nil
}

// Get reads the stored state for (conversationID, userID). Returns nil when
// no fresh record exists (never written, or TTL expired).
func (p *Presence) Get(ctx context.Context, conversationID, userID string) (*State, error) {
	key := stateKey(conversationID, userID)
	result, err := p.rdb.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("typing: get %s: %w", key, err)
	}
	if len(result) == 0 {
		return nil, nil
	}

	var updatedAt int64
	fmt.Sscanf(result["updated_at"], "%d", &updatedAt)

	return &State{
		ConversationID: conversationID,
		UserID:         userID,
		IsTyping:       result["is_typing"] == "1" || result["is_typing"] == "true",
		UpdatedAt:      time.UnixMilli(updatedAt),
	}, nil
}

func stateKey(conversationID, userID string) string {
	return KeyPrefix + conversationID + ":" + userID
}
