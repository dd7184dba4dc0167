// Package receipt tracks which participants have observed which messages.
// Read state is stored per message in the message_reads table; marking a
// conversation read up to a watermark message grows the read sets of every
// earlier message in one statement.
package receipt

import (
	"context"
	"database/sql"
	"fmt"
	"log"

	"github.com/tradepost/chat-service/internal/message"
)

// Notifier publishes a change event after read sets grow, so subscribers
// re-render delivery state.
type Notifier interface {
	PublishConversationChanged(conversationID string) error
}

// Tracker augments the message log with read receipts.
type Tracker struct {
	db       *sql.DB
	notifier Notifier
	checker  message.ParticipantChecker
}

// NewTracker creates a Tracker over the given database handle, notifier,
// and participant authorizer.
func NewTracker(db *sql.DB, notifier Notifier, checker message.ParticipantChecker) *Tracker {
	return &Tracker{db: db, notifier: notifier, checker: checker}
}

// MarkRead records that userID has observed every message in the
// conversation up to and including upToMessageID, in (created_at, id) order.
// Messages the user already read are skipped, so the call is idempotent.
// A change event is published only when at least one read set grew.
func (t *Tracker) MarkRead(ctx context.Context, conversationID, userID, upToMessageID string) error {
	ok, err := t.checker.IsParticipant(ctx, conversationID, userID)
	if err != nil {
		return fmt.Errorf("%w: participant check: %v", message.ErrTransientStore, err)
	}
	if !ok {
		return fmt.Errorf("%w: reader %s in conversation %s", message.ErrNotAParticipant, userID, conversationID)
	}

	const exists = `SELECT EXISTS(SELECT 1 FROM messages WHERE id = $1 AND conversation_id = $2)`
	var found bool
	if err := t.db.QueryRowContext(ctx, exists, upToMessageID, conversationID).Scan(&found); err != nil {
		return fmt.Errorf("%w: watermark lookup: %v", message.ErrTransientStore, err)
	}
	if !found {
		return fmt.Errorf("%w: unknown watermark message %s", message.ErrValidation, upToMessageID)
	}

	// Row comparison matches the display order (created_at, id), so the
	// watermark covers exactly the messages rendered at or above it.
	const markRead = `
		INSERT INTO message_reads (message_id, user_id)
		SELECT m.id, $3
		FROM messages m
		WHERE m.conversation_id = $1
		  AND (m.created_at, m.id) <= (SELECT created_at, id FROM messages WHERE id = $2)
		ON CONFLICT DO NOTHING`

	res, err := t.db.ExecContext(ctx, markRead, conversationID, upToMessageID, userID)
	if err != nil {
		return fmt.Errorf("%w: mark read: %v", message.ErrTransientStore, err)
	}

	if n, err := res.RowsAffected(); err == nil && n > 0 {
		if err := t.notifier.PublishConversationChanged(conversationID); err != nil {
			log.Printf("[receipt] publish change conv=%s: %v", conversationID, err)
		}
	}
	return nil
}

// IsReadByAll reports whether every given participant has observed the
// message. Senders use it to render delivery state (sent vs. seen).
func IsReadByAll(msg *message.Message, participants []string) bool {
	for _, p := range participants {
		if !msg.IsReadBy(p) {
			return false
		}
	}
	return true
}
