// Package convo provides the per-client conversation session: it resolves
// the conversation identity for a pair of users, owns the live message and
// typing subscriptions, and is the single write path for send, mark-read,
// and typing operations. State reaches the caller only through callbacks;
// there is no polling surface.
package convo

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/tradepost/chat-service/internal/identity"
	"github.com/tradepost/chat-service/internal/message"
	"github.com/tradepost/chat-service/internal/receipt"
	"github.com/tradepost/chat-service/internal/typing"
)

// Session lifecycle states.
const (
	stateInitializing int32 = iota
	stateActive
	stateClosed
)

var (
	// ErrSessionClosed is returned by every operation after Close.
	ErrSessionClosed = errors.New("convo: session closed")

	// ErrUploadFailed marks a media upload that did not produce a stable
	// reference; no message record is created in that case.
	ErrUploadFailed = errors.New("convo: media upload failed")
)

// Uploader is the external media service collaborator: it accepts raw bytes
// and returns a stable reference URL.
type Uploader interface {
	Upload(ctx context.Context, data []byte, kind string) (string, error)
}

// Config wires a Session to its collaborators and callbacks.
type Config struct {
	LocalUserID string
	PeerUserID  string
	ContextID   string // optional product context

	Log      *message.Log
	Typing   *typing.Presence
	Receipts *receipt.Tracker
	Uploader Uploader // required only for SendMedia

	// OnMessages receives the full ordered conversation state on every
	// change. OnPeerTyping receives transitions of the peer's effective
	// typing flag. Both are invoked from session-owned goroutines and stop
	// synchronously at Close.
	OnMessages   func([]message.Message)
	OnPeerTyping func(isTyping bool)
}

// Session is one client's handle on one conversation.
type Session struct {
	id     string
	convID string
	cfg    Config

	state  atomic.Int32
	cancel context.CancelFunc

	// dispatchMu is the callback gate: deliveries hold the read side,
	// Close takes the write side as a barrier. State checks themselves are
	// atomic so operations invoked from inside a callback cannot deadlock.
	dispatchMu sync.RWMutex

	msgSub *message.Subscription
	typSub *typing.Subscription

	snapMu   sync.Mutex
	snapshot []message.Message // last delivered full state
}

// Open resolves the conversation identity for (LocalUserID, PeerUserID,
// ContextID), establishes both live subscriptions, and returns an Active
// session. On any setup failure every partially acquired subscription is
// released before returning.
func Open(ctx context.Context, cfg Config) (*Session, error) {
	convID, err := identity.Resolve(cfg.LocalUserID, cfg.PeerUserID, cfg.ContextID)
	if err != nil {
		return nil, err
	}

	sessCtx, cancel := context.WithCancel(context.Background())
	s := &Session{
		id:     uuid.New().String(),
		convID: convID,
		cfg:    cfg,
		cancel: cancel,
	}
	s.state.Store(stateInitializing)

	s.msgSub, err = cfg.Log.Subscribe(sessCtx, convID, s.deliverMessages)
	if err != nil {
		s.teardown()
		return nil, fmt.Errorf("convo: subscribe messages: %w", err)
	}

	s.typSub, err = cfg.Typing.Subscribe(sessCtx, convID, cfg.PeerUserID, s.deliverPeerTyping)
	if err != nil {
		s.teardown()
		return nil, fmt.Errorf("convo: subscribe typing: %w", err)
	}

	s.state.Store(stateActive)
	return s, nil
}

// ConversationID returns the resolved canonical conversation id.
func (s *Session) ConversationID() string {
	return s.convID
}

// Messages returns the last delivered snapshot. Callers reconcile their own
// pending sends against it by message id, not by call ordering: the echo of
// a local send may arrive before or after the send call returns.
func (s *Session) Messages() []message.Message {
	s.snapMu.Lock()
	defer s.snapMu.Unlock()
	out := make([]message.Message, len(s.snapshot))
	copy(out, s.snapshot)
	return out
}

// SendText appends a text message and clears the local typing flag (sending
// implies no longer typing). On failure nothing is appended, so the caller
// can retry with the same body.
func (s *Session) SendText(ctx context.Context, body string) (*message.Message, error) {
	if s.state.Load() == stateClosed {
		return nil, ErrSessionClosed
	}

	msg, err := s.cfg.Log.Append(ctx, s.convID, s.cfg.LocalUserID, message.Content{Text: body})
	if err != nil {
		return nil, err
	}

	s.clearTyping(ctx)
	return msg, nil
}

// SendMedia uploads the raw bytes through the media collaborator and appends
// a media message with the returned reference. An upload failure aborts the
// send with ErrUploadFailed and no message record.
func (s *Session) SendMedia(ctx context.Context, data []byte, kind string) (*message.Message, error) {
	if s.state.Load() == stateClosed {
		return nil, ErrSessionClosed
	}
	if s.cfg.Uploader == nil {
		return nil, fmt.Errorf("%w: no uploader configured", ErrUploadFailed)
	}

	ref, err := s.cfg.Uploader.Upload(ctx, data, kind)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUploadFailed, err)
	}

	msg, err := s.cfg.Log.Append(ctx, s.convID, s.cfg.LocalUserID, message.Content{
		MediaRef:  ref,
		MediaKind: kind,
	})
	if err != nil {
		return nil, err
	}

	s.clearTyping(ctx)
	return msg, nil
}

// MarkRead records that the local user has observed every message up to and
// including upToMessageID.
func (s *Session) MarkRead(ctx context.Context, upToMessageID string) error {
	if s.state.Load() == stateClosed {
		return ErrSessionClosed
	}
	return s.cfg.Receipts.MarkRead(ctx, s.convID, s.cfg.LocalUserID, upToMessageID)
}

// SetTyping upserts the local typing flag. Best-effort: failures are logged
// and swallowed, typing presence never blocks messaging.
func (s *Session) SetTyping(ctx context.Context, isTyping bool) error {
	if s.state.Load() == stateClosed {
		return ErrSessionClosed
	}
	if err := s.cfg.Typing.Set(ctx, s.convID, s.cfg.LocalUserID, isTyping); err != nil {
		log.Printf("[convo] set typing conv=%s: %v", s.convID, err)
	}
	return nil
}

// Close transitions the session to its terminal state and releases both
// subscriptions. After Close returns no callback is dispatched; completions
// of still in-flight store operations are dropped, not delivered. Safe to
// call multiple times and on every exit path.
func (s *Session) Close() {
	if !s.state.CompareAndSwap(stateActive, stateClosed) &&
		!s.state.CompareAndSwap(stateInitializing, stateClosed) {
		return // already closed
	}

	// Barrier: wait out any delivery that passed the state check before we
	// flipped it.
	s.dispatchMu.Lock()
	s.dispatchMu.Unlock() //nolint:staticcheck // empty critical section is the barrier

	s.teardown()
}

func (s *Session) teardown() {
	s.cancel()
	if s.typSub != nil {
		s.typSub.Close()
	}
	if s.msgSub != nil {
		s.msgSub.Close()
	}
}

// clearTyping drops the local typing flag after a send, best-effort.
func (s *Session) clearTyping(ctx context.Context) {
	if err := s.cfg.Typing.Set(ctx, s.convID, s.cfg.LocalUserID, false); err != nil {
		log.Printf("[convo] clear typing conv=%s: %v", s.convID, err)
	}
}

// deliverMessages is the message subscription callback: it stores the
// snapshot and forwards it through the dispatch gate.
func (s *Session) deliverMessages(msgs []message.Message) {
	s.dispatchMu.RLock()
	defer s.dispatchMu.RUnlock()
	if s.state.Load() == stateClosed {
		return
	}

	s.snapMu.Lock()
	s.snapshot = msgs
	s.snapMu.Unlock()

	if s.cfg.OnMessages != nil {
		s.cfg.OnMessages(msgs)
	}
}

// deliverPeerTyping forwards peer typing transitions through the dispatch
// gate.
func (s *Session) deliverPeerTyping(isTyping bool) {
	s.dispatchMu.RLock()
	defer s.dispatchMu.RUnlock()
	if s.state.Load() == stateClosed {
		return
	}
	if s.cfg.OnPeerTyping != nil {
		s.cfg.OnPeerTyping(isTyping)
	}
}
