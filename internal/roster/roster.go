// Package roster records which users belong to which conversation. The
// authoritative membership decision belongs to the account service; this
// Redis set mirrors it per conversation so the message log and receipt
// tracker can authorize writers without a network hop per append.
package roster

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// KeyPrefix is the Redis key prefix for conversation member sets. Full key:
// conv:members:<conversation_id>.
const KeyPrefix = "conv:members:"

// Roster tracks conversation membership in Redis sets.
type Roster struct {
	rdb *redis.Client
}

// New creates a Roster over the given Redis client.
func New(rdb *redis.Client) *Roster {
	return &Roster{rdb: rdb}
}

// Register records both participants of a conversation. Idempotent: SADD on
// existing members is a no-op.
func (r *Roster) Register(ctx context.Context, conversationID, userA, userB string) error {
	if err := r.rdb.SAdd(ctx, KeyPrefix+conversationID, userA, userB).Err(); err != nil {
		return fmt.Errorf("roster: register %s: %w", conversationID, err)
	}
	return nil
}

// IsParticipant reports whether userID belongs to the conversation. It
// satisfies the message.ParticipantChecker interface.
func (r *Roster) IsParticipant(ctx context.Context, conversationID, userID string) (bool, error) {
	ok, err := r.rdb.SIsMember(ctx, KeyPrefix+conversationID, userID).Result()
	if err != nil {
		return false, fmt.Errorf("roster: membership %s: %w", conversationID, err)
	}
	return ok, nil
}

// Participants returns the member set of a conversation.
func (r *Roster) Participants(ctx context.Context, conversationID string) ([]string, error) {
	members, err := r.rdb.SMembers(ctx, KeyPrefix+conversationID).Result()
	if err != nil {
		return nil, fmt.Errorf("roster: members %s: %w", conversationID, err)
	}
	return members, nil
}
