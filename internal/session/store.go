package session

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// SessionPrefix is the Redis key prefix for all session hashes.
	SessionPrefix = "session:"

	// SessionTTL is the time-to-live for session keys in Redis. Connected
	// clients refresh it on activity; a vanished client's entry ages out.
	SessionTTL = 1 * time.Hour

	// Status constants for the connection state machine.
	StatusIdle     = "idle"     // connected, no conversation open
	StatusChatting = "chatting" // a conversation session is live
)

// Session represents one connected client's state stored in Redis: which
// authenticated user it belongs to, which conversation it has open, and
// which server instance terminates the socket.
type Session struct {
	ID             string `redis:"id"`
	UserID         string `redis:"user_id"`
	Status         string `redis:"status"`          // idle | chatting
	ConversationID string `redis:"conversation_id"` // empty if none open
	Server         string `redis:"server"`          // which WS server instance
	CreatedAt      int64  `redis:"created_at"`      // unix timestamp
	LastActive     int64  `redis:"last_active"`     // unix timestamp
}

// Store manages connected-client session state in Redis.
type Store struct {
	client     *redis.Client
	serverName string // identifier for this WS server instance
}

// NewStore creates a new session store connected to Redis.
func NewStore(redisAddr string, serverName string) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr: redisAddr,
	})

	// Verify connection.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("session: redis connection failed: %w", err)
	}

	return &Store{client: client, serverName: serverName}, nil
}

// Create stores a new session for an authenticated user with idle status.
func (s *Store) Create(ctx context.Context, sessionID, userID string) error {
	key := SessionPrefix + sessionID
	now := time.Now().Unix()

	session := map[string]interface{}{
		"id":              sessionID,
		"user_id":         userID,
		"status":          StatusIdle,
		"conversation_id": "",
		"server":          s.serverName,
		"created_at":      now,
		"last_active":     now,
	}

	pipe := s.client.Pipeline()
	pipe.HSet(ctx, key, session)
	pipe.Expire(ctx, key, SessionTTL)
	_, err := pipe.Exec(ctx)
	return err
}

// Get retrieves a session from Redis. Returns nil if not found.
func (s *Store) Get(ctx context.Context, sessionID string) (*Session, error) {
	key := SessionPrefix + sessionID
	var session Session
	err := s.client.HGetAll(ctx, key).Scan(&session)
	if err != nil {
		return nil, err
	}
	if session.ID == "" {
		return nil, nil // not found
	}
	return &session, nil
}

// SetConversation records the open conversation for the session and marks
// it chatting.
func (s *Store) SetConversation(ctx context.Context, sessionID, conversationID string) error {
	key := SessionPrefix + sessionID
	return s.client.HSet(ctx, key,
		"conversation_id", conversationID,
		"status", StatusChatting,
		"last_active", time.Now().Unix(),
	).Err()
}

// ClearConversation removes the open conversation and resets status to idle.
func (s *Store) ClearConversation(ctx context.Context, sessionID string) error {
	key := SessionPrefix + sessionID
	return s.client.HSet(ctx, key,
		"conversation_id", "",
		"status", StatusIdle,
		"last_active", time.Now().Unix(),
	).Err()
}

// RefreshTTL extends the session's TTL.
func (s *Store) RefreshTTL(ctx context.Context, sessionID string) error {
	key := SessionPrefix + sessionID
	return s.client.Expire(ctx, key, SessionTTL).Err()
}

// Delete removes a session from Redis.
func (s *Store) Delete(ctx context.Context, sessionID string) error {
	key := SessionPrefix + sessionID
	return s.client.Del(ctx, key).Err()
}

// Close closes the Redis connection.
func (s *Store) Close() error {
	return s.client.Close()
}

// Client returns the underlying Redis client for use by other packages.
func (s *Store) Client() *redis.Client {
	return s.client
}
