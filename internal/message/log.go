package message

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// Bus is the slice of the messaging client the log needs: change-event
// fan-out for live subscriptions.
type Bus interface {
	PublishConversationChanged(conversationID string) error
	SubscribeConversation(conversationID, subID string, handler func(data []byte)) error
	UnsubscribeConversation(subID string) error
}

// Log is the PostgreSQL-backed message log for all conversations. Appends
// and read-receipt growth publish a change event so every subscriber
// re-reads and re-renders the conversation.
type Log struct {
	db      *sql.DB
	bus     Bus
	checker ParticipantChecker
}

// NewLog creates a Log over the given database handle, event bus, and
// participant authorizer.
func NewLog(db *sql.DB, bus Bus, checker ParticipantChecker) *Log {
	return &Log{db: db, bus: bus, checker: checker}
}

// Append validates and stores a new message. The store assigns created_at,
// and the sender's own read row is written in the same transaction, so a
// message is born with read_by = {sender}. On success a change event is
// published for the conversation.
func (l *Log) Append(ctx context.Context, conversationID, senderID string, content Content) (*Message, error) {
	kind, err := content.Validate()
	if err != nil {
		return nil, err
	}

	ok, err := l.checker.IsParticipant(ctx, conversationID, senderID)
	if err != nil {
		return nil, fmt.Errorf("%w: participant check: %v", ErrTransientStore, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: sender %s in conversation %s", ErrNotAParticipant, senderID, conversationID)
	}

	msg := &Message{
		ID:             uuid.New().String(),
		ConversationID: conversationID,
		SenderID:       senderID,
		Kind:           kind,
		Text:           content.Text,
		MediaRef:       content.MediaRef,
		MediaKind:      content.MediaKind,
		ReadBy:         []string{senderID},
	}

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: begin: %v", ErrTransientStore, err)
	}
	defer tx.Rollback()

	const insertMsg = `
		INSERT INTO messages (id, conversation_id, sender_id, kind, body, media_ref, media_kind)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), NULLIF($6, ''), NULLIF($7, ''))
		RETURNING created_at`

	err = tx.QueryRowContext(ctx, insertMsg,
		msg.ID, msg.ConversationID, msg.SenderID, msg.Kind,
		msg.Text, msg.MediaRef, msg.MediaKind,
	).Scan(&msg.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("%w: insert message: %v", ErrTransientStore, err)
	}

	const insertRead = `INSERT INTO message_reads (message_id, user_id) VALUES ($1, $2)`
	if _, err := tx.ExecContext(ctx, insertRead, msg.ID, senderID); err != nil {
		return nil, fmt.Errorf("%w: insert sender read: %v", ErrTransientStore, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("%w: commit: %v", ErrTransientStore, err)
	}

	if err := l.bus.PublishConversationChanged(conversationID); err != nil {
		// The message is durable; subscribers will converge on the next
		// event or reconnect. Not worth failing the append over.
		logPublishError(conversationID, err)
	}

	return msg, nil
}

// List returns the full ordered state of a conversation: ascending
// created_at, ties broken by id, with read_by aggregated per message.
func (l *Log) List(ctx context.Context, conversationID string) ([]Message, error) {
	const query = `
		SELECT m.id, m.sender_id, m.kind,
		       COALESCE(m.body, ''), COALESCE(m.media_ref, ''), COALESCE(m.media_kind, ''),
		       m.created_at,
		       ARRAY(SELECT r.user_id FROM message_reads r WHERE r.message_id = m.id ORDER BY r.user_id)
		FROM messages m
		WHERE m.conversation_id = $1
		ORDER BY m.created_at, m.id`

	rows, err := l.db.QueryContext(ctx, query, conversationID)
	if err != nil {
		return nil, fmt.Errorf("%w: list messages: %v", ErrTransientStore, err)
	}
	defer rows.Close()

	msgs := []Message{}
	for rows.Next() {
		m := Message{ConversationID: conversationID}
		var readBy pq.StringArray
		err := rows.Scan(&m.ID, &m.SenderID, &m.Kind,
			&m.Text, &m.MediaRef, &m.MediaKind,
			&m.CreatedAt, &readBy)
		if err != nil {
			return nil, fmt.Errorf("%w: scan message: %v", ErrTransientStore, err)
		}
		m.ReadBy = []string(readBy)
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: list messages: %v", ErrTransientStore, err)
	}
	return msgs, nil
}
