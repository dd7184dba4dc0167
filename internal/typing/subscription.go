package typing

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Subscription is a live feed of one peer's effective typing state within a
// conversation. Raw events are gated by the freshness window; when a typing
// flag goes unrefreshed past the window a synthetic "not typing" delivery
// fires, so an indicator can never stick after the peer's client dies.
type Subscription struct {
	id        string
	presence  *Presence
	convID    string
	peerID    string
	onChange  func(isTyping bool)
	cancel    context.CancelFunc
	closeOnce sync.Once

	mu      sync.Mutex
	last    bool        // last delivered effective value
	expiry  *time.Timer // fires the stale->false transition
	closed  bool
	started bool // at least one delivery happened
}

// Subscribe establishes a feed of the peer's typing state. onChange fires
// only on transitions of the effective value, starting from "not typing".
// The current stored state is folded in at subscribe time, best-effort.
// Close is safe to call multiple times; the feed also stops when ctx is
// cancelled.
func (p *Presence) Subscribe(ctx context.Context, conversationID, peerUserID string, onChange func(isTyping bool)) (*Subscription, error) {
	subCtx, cancel := context.WithCancel(ctx)

	s := &Subscription{
		id:       uuid.New().String(),
		presence: p,
		convID:   conversationID,
		peerID:   peerUserID,
		onChange: onChange,
		cancel:   cancel,
	}

	err := p.bus.SubscribeTyping(conversationID, s.id, func(data []byte) {
		var event State
		if err := json.Unmarshal(data, &event); err != nil {
			log.Printf("[typing] unmarshal event conv=%s: %v", conversationID, err)
			return
		}
		if event.UserID != peerUserID {
			return // the local user's own flag is not peer typing
		}
		s.apply(event)
	})
	if err != nil {
		cancel()
		return nil, err
	}

	go func() {
		<-subCtx.Done()
		s.shutdown()
	}()

	// Fold in state written before we subscribed. Best-effort: a miss here
	// only delays the indicator until the peer's next update.
	if state, err := p.Get(ctx, conversationID, peerUserID); err == nil && state != nil {
		s.apply(*state)
	}

	return s, nil
}

// Close releases the feed. Idempotent; no onChange call is dispatched after
// Close returns.
func (s *Subscription) Close() {
	s.closeOnce.Do(s.cancel)
	s.shutdown()
}

// apply folds one raw state event into the effective value and delivers a
// transition if it changed. For a fresh typing=true it arms the expiry timer
// for the remaining freshness; each refresh re-arms it.
func (s *Subscription) apply(event State) {
	now := time.Now()
	effective := event.EffectiveAt(now, s.presence.window)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}

	if s.expiry != nil {
		s.expiry.Stop()
		s.expiry = nil
	}
	if effective {
		remaining := s.presence.window - now.Sub(event.UpdatedAt)
		s.expiry = time.AfterFunc(remaining, s.expire)
	}

	changed := effective != s.last || !s.started
	s.last = effective
	s.started = true
	cb := s.onChange
	s.mu.Unlock()

	if changed {
		cb(effective)
	}
}

// expire delivers the stale->false transition when the window elapses
// without a refresh.
func (s *Subscription) expire() {
	s.mu.Lock()
	if s.closed || !s.last {
		s.mu.Unlock()
		return
	}
	s.last = false
	s.expiry = nil
	cb := s.onChange
	s.mu.Unlock()

	cb(false)
}

func (s *Subscription) shutdown() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	if s.expiry != nil {
		s.expiry.Stop()
		s.expiry = nil
	}
	s.mu.Unlock()

	if err := s.presence.bus.UnsubscribeTyping(s.id); err != nil {
		log.Printf("[typing] unsubscribe conv=%s: %v", s.convID, err)
	}
}
