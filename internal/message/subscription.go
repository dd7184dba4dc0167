package message

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Backoff schedule for snapshot re-fetches after a store error. The last
// known good snapshot stays visible to the subscriber while the retry loop
// runs; a subscription is never torn down over a transient failure.
const (
	retryBaseDelay = 500 * time.Millisecond
	retryMaxDelay  = 5 * time.Second
)

// Subscription is a live full-state feed over one conversation. Every change
// event (and once at start) triggers a re-fetch of the ordered message
// sequence, delivered to the onChange callback from a single goroutine so
// deliveries never reorder. Payloads are idempotent full-state: the same
// snapshot may be delivered more than once.
type Subscription struct {
	id        string
	log       *Log
	convID    string
	onChange  func([]Message)
	cancel    context.CancelFunc
	refresh   chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// Subscribe establishes a live feed for the conversation. onChange is
// invoked with the full ordered message sequence on every observed change.
// The returned Subscription must be closed on every exit path of the owner;
// Close is safe to call multiple times. The feed also stops when ctx is
// cancelled.
func (l *Log) Subscribe(ctx context.Context, conversationID string, onChange func([]Message)) (*Subscription, error) {
	subCtx, cancel := context.WithCancel(ctx)

	s := &Subscription{
		id:       uuid.New().String(),
		log:      l,
		convID:   conversationID,
		onChange: onChange,
		cancel:   cancel,
		refresh:  make(chan struct{}, 1),
		done:     make(chan struct{}),
	}

	err := l.bus.SubscribeConversation(conversationID, s.id, func([]byte) {
		// Coalesce bursts: one pending refresh is enough, the re-fetch
		// reads the latest state anyway.
		select {
		case s.refresh <- struct{}{}:
		default:
		}
	})
	if err != nil {
		cancel()
		return nil, err
	}

	go s.run(subCtx)
	return s, nil
}

// Close releases the feed and waits for the delivery goroutine to stop, so
// no onChange call happens after Close returns. Idempotent. Must not be
// called from inside the onChange callback.
func (s *Subscription) Close() {
	s.closeOnce.Do(func() {
		s.cancel()
		if err := s.log.bus.UnsubscribeConversation(s.id); err != nil {
			log.Printf("[message] unsubscribe conv=%s: %v", s.convID, err)
		}
		<-s.done
	})
}

// run is the single delivery goroutine: initial snapshot, then one re-fetch
// per coalesced change event.
func (s *Subscription) run(ctx context.Context) {
	defer close(s.done)

	s.fetchAndDeliver(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.refresh:
			s.fetchAndDeliver(ctx)
		}
	}
}

// fetchAndDeliver reads the full conversation state and hands it to the
// callback, retrying with backoff on store errors until the fetch succeeds
// or the subscription is closed.
func (s *Subscription) fetchAndDeliver(ctx context.Context) {
	delay := retryBaseDelay
	for {
		msgs, err := s.log.List(ctx, s.convID)
		if err == nil {
			if ctx.Err() == nil {
				s.onChange(msgs)
			}
			return
		}
		if ctx.Err() != nil {
			return
		}

		log.Printf("[message] fetch conv=%s failed, retrying in %s: %v", s.convID, delay, err)
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
		if delay *= 2; delay > retryMaxDelay {
			delay = retryMaxDelay
		}
	}
}

// logPublishError reports a failed change-event publish after a durable
// write succeeded.
func logPublishError(conversationID string, err error) {
	log.Printf("[message] publish change conv=%s: %v", conversationID, err)
}
