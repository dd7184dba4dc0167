package messaging

import (
	"testing"
	"time"
)

// newTestClient connects to a local NATS server, skipping the test when one
// is not available.
func newTestClient(t *testing.T) *Client {
	t.Helper()
	config := DefaultConfig()
	config.Name = "chat-service-test"
	config.MaxReconnects = 0
	client, err := NewClient(config)
	if err != nil {
		t.Skipf("nats not available: %v", err)
	}
	t.Cleanup(client.Close)
	return client
}

func TestPublishConversationChanged(t *testing.T) {
	client := newTestClient(t)

	received := make(chan []byte, 4)
	if err := client.SubscribeConversation("test-conv-1", "sub1", func(data []byte) {
		received <- data
	}); err != nil {
		t.Fatalf("SubscribeConversation() error: %v", err)
	}

	if err := client.PublishConversationChanged("test-conv-1"); err != nil {
		t.Fatalf("PublishConversationChanged() error: %v", err)
	}

	select {
	case data := <-received:
		// Change events are payloadless signals.
		if len(data) != 0 {
			t.Errorf("expected empty payload, got %d bytes", len(data))
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for change event")
	}
}

// Two sessions watching the same conversation have independent, keyed
// subscriptions; both receive every event.
func TestSubscribeConversationKeyed(t *testing.T) {
	client := newTestClient(t)

	a := make(chan struct{}, 4)
	b := make(chan struct{}, 4)
	if err := client.SubscribeConversation("test-conv-2", "subA", func([]byte) {
		a <- struct{}{}
	}); err != nil {
		t.Fatalf("SubscribeConversation(subA) error: %v", err)
	}
	if err := client.SubscribeConversation("test-conv-2", "subB", func([]byte) {
		b <- struct{}{}
	}); err != nil {
		t.Fatalf("SubscribeConversation(subB) error: %v", err)
	}

	if err := client.PublishConversationChanged("test-conv-2"); err != nil {
		t.Fatalf("PublishConversationChanged() error: %v", err)
	}

	for name, ch := range map[string]chan struct{}{"subA": a, "subB": b} {
		select {
		case <-ch:
		case <-time.After(5 * time.Second):
			t.Fatalf("timed out waiting for %s delivery", name)
		}
	}

	// Releasing one subscription leaves the other live.
	if err := client.UnsubscribeConversation("subA"); err != nil {
		t.Fatalf("UnsubscribeConversation() error: %v", err)
	}
	if err := client.PublishConversationChanged("test-conv-2"); err != nil {
		t.Fatalf("PublishConversationChanged() error: %v", err)
	}

	select {
	case <-b:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for subB after subA release")
	}
	select {
	case <-a:
		t.Fatal("released subscription still received an event")
	case <-time.After(200 * time.Millisecond):
	}
}

func TestPublishTyping(t *testing.T) {
	client := newTestClient(t)

	received := make(chan []byte, 4)
	if err := client.SubscribeTyping("test-conv-3", "sub1", func(data []byte) {
		received <- data
	}); err != nil {
		t.Fatalf("SubscribeTyping() error: %v", err)
	}

	payload := []byte(`{"user_id":"u1","is_typing":true}`)
	if err := client.PublishTyping("test-conv-3", payload); err != nil {
		t.Fatalf("PublishTyping() error: %v", err)
	}

	select {
	case data := <-received:
		if string(data) != string(payload) {
			t.Errorf("unexpected payload: %s", data)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for typing event")
	}
}

func TestUnsubscribeUnknown(t *testing.T) {
	client := newTestClient(t)

	if err := client.UnsubscribeConversation("never-registered"); err == nil {
		t.Error("expected error for unknown subscription id")
	}
}

// Conversation and typing subscriptions with the same sub id must not
// collide in the registry.
func TestSubjectNamespacesIndependent(t *testing.T) {
	client := newTestClient(t)

	conv := make(chan struct{}, 4)
	typ := make(chan struct{}, 4)
	if err := client.SubscribeConversation("test-conv-4", "shared", func([]byte) {
		conv <- struct{}{}
	}); err != nil {
		t.Fatalf("SubscribeConversation() error: %v", err)
	}
	if err := client.SubscribeTyping("test-conv-4", "shared", func([]byte) {
		typ <- struct{}{}
	}); err != nil {
		t.Fatalf("SubscribeTyping() error: %v", err)
	}

	if err := client.UnsubscribeConversation("shared"); err != nil {
		t.Fatalf("UnsubscribeConversation() error: %v", err)
	}

	// The typing subscription survives the conversation release.
	if err := client.PublishTyping("test-conv-4", []byte(`{}`)); err != nil {
		t.Fatalf("PublishTyping() error: %v", err)
	}
	select {
	case <-typ:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for typing delivery")
	}
}
