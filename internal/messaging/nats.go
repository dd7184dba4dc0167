// Package messaging provides a NATS client wrapper for pub/sub fan-out of
// conversation change events and typing indicators. It handles connection
// lifecycle, keyed subscriptions so several local subscribers can share one
// subject, and convenience methods for the conversation subjects.
package messaging

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

// NATS subject patterns used by the conversation service.
//
// Change events carry no payload worth trusting: a subscriber re-reads the
// authoritative store on every event, so delivery only has to be
// at-least-once.
const (
	SubjectConversation = "conv"   // + .<conversation_id>
	SubjectTyping       = "typing" // + .<conversation_id>
)

// Client wraps the NATS connection with helper methods for the conversation
// and typing subjects.
type Client struct {
	conn *nats.Conn
	mu   sync.Mutex
	subs map[string]*nats.Subscription
}

// Config holds NATS connection settings.
type Config struct {
	URL           string        // nats://localhost:4222
	Name          string        // client name for identification
	ReconnectWait time.Duration // time between reconnect attempts
	MaxReconnects int           // max reconnect attempts (-1 for infinite)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		URL:           "nats://localhost:4222",
		Name:          "chat-service",
		ReconnectWait: 2 * time.Second,
		MaxReconnects: -1, // infinite reconnects
	}
}

// NewClient connects to NATS with the given config and returns a ready
// client. It returns an error if the initial connection fails; transient
// drops after that are handled by the reconnect loop.
func NewClient(config Config) (*Client, error) {
	opts := []nats.Option{
		nats.Name(config.Name),
		nats.ReconnectWait(config.ReconnectWait),
		nats.MaxReconnects(config.MaxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Printf("[nats] disconnected: %v", err)
			} else {
				log.Printf("[nats] disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Printf("[nats] reconnected to %s", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			log.Printf("[nats] connection closed")
		}),
	}

	nc, err := nats.Connect(config.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	log.Printf("[nats] connected to %s", nc.ConnectedUrl())

	return &Client{
		conn: nc,
		subs: make(map[string]*nats.Subscription),
	}, nil
}

// PublishConversationChanged signals that the message state of a
// conversation changed (append or read-receipt growth). Subscribers are
// expected to re-read the store rather than interpret the payload.
func (c *Client) PublishConversationChanged(conversationID string) error {
	return c.conn.Publish(SubjectConversation+"."+conversationID, nil)
}

// SubscribeConversation subscribes to change events for a conversation. The
// subscription is keyed by subID so that multiple local subscribers (one per
// open session) can watch the same conversation without overwriting each
// other.
func (c *Client) SubscribeConversation(conversationID, subID string, handler func(data []byte)) error {
	subject := SubjectConversation + "." + conversationID
	return c.subscribe(subject, "convsub:"+subID, handler)
}

// UnsubscribeConversation releases a conversation subscription. Unknown sub
// ids are reported as errors; callers treat repeated release as a no-op.
func (c *Client) UnsubscribeConversation(subID string) error {
	return c.unsubscribe("convsub:" + subID)
}

// PublishTyping publishes a typing state event for a conversation.
func (c *Client) PublishTyping(conversationID string, data []byte) error {
	return c.conn.Publish(SubjectTyping+"."+conversationID, data)
}

// SubscribeTyping subscribes to typing events for a conversation, keyed by
// subID like SubscribeConversation.
func (c *Client) SubscribeTyping(conversationID, subID string, handler func(data []byte)) error {
	subject := SubjectTyping + "." + conversationID
	return c.subscribe(subject, "typingsub:"+subID, handler)
}

// UnsubscribeTyping releases a typing subscription.
func (c *Client) UnsubscribeTyping(subID string) error {
	return c.unsubscribe("typingsub:" + subID)
}

// Close drains all active subscriptions and closes the NATS connection.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for key, sub := range c.subs {
		if err := sub.Drain(); err != nil {
			log.Printf("[nats] drain %s: %v", key, err)
		}
	}
	c.subs = make(map[string]*nats.Subscription)

	if err := c.conn.Drain(); err != nil {
		log.Printf("[nats] connection drain: %v", err)
	}

	log.Printf("[nats] client closed")
}

// subscribe registers a handler for the subject under the given registry key.
func (c *Client) subscribe(subject, key string, handler func(data []byte)) error {
	sub, err := c.conn.Subscribe(subject, func(msg *nats.Msg) {
		handler(msg.Data)
	})
	if err != nil {
		return fmt.Errorf("nats subscribe %s: %w", subject, err)
	}

	c.mu.Lock()
	c.subs[key] = sub
	c.mu.Unlock()
	return nil
}

// unsubscribe removes and unsubscribes the registration under key.
func (c *Client) unsubscribe(key string) error {
	c.mu.Lock()
	sub, ok := c.subs[key]
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("nats: no subscription for %s", key)
	}
	delete(c.subs, key)
	c.mu.Unlock()

	if err := sub.Unsubscribe(); err != nil {
		return fmt.Errorf("nats unsubscribe %s: %w", key, err)
	}
	return nil
}
