package hub

import (
	"encoding/json"
	"testing"

	"optiq/internal/store"
)

func newTestClient(id, userID, role string, buffer int) *Client {
	return &Client{
		ID:     id,
		UserID: userID,
		Role:   role,
		Send:   make(chan []byte, buffer),
	}
}

func TestPublishScopeFiltering(t *testing.T) {
	h := New()

	cashier := newTestClient("c1", "user-1", "cashier", 4)
	admin := newTestClient("c2", "user-2", "admin", 4)
	h.Register(cashier)
	h.Register(admin)

	h.Publish(store.Event{
		EventID: "ev-1",
		Type:    store.EventNotificationCreated,
		Scope:   store.Scope{Role: "cashier"},
	})

	if len(cashier.Send) != 1 {
		t.Fatalf("cashier expected 1 message, got %d", len(cashier.Send))
	}
	if len(admin.Send) != 0 {
		t.Fatalf("admin expected 0 messages, got %d", len(admin.Send))
	}
}

func TestPublishUserScope(t *testing.T) {
	h := New()

	target := newTestClient("c1", "user-1", "cashier", 4)
	other := newTestClient("c2", "user-2", "cashier", 4)
	h.Register(target)
	h.Register(other)

	h.Publish(store.Event{
		EventID: "ev-1",
		Type:    store.EventNotificationCreated,
		Scope:   store.Scope{UserID: "user-1"},
	})

	if len(target.Send) != 1 || len(other.Send) != 0 {
		t.Fatalf("user scope: target=%d other=%d", len(target.Send), len(other.Send))
	}
}

func TestPublishCounterSubscription(t *testing.T) {
	h := New()

	subscribed := newTestClient("c1", "user-1", "cashier", 4)
	elsewhere := newTestClient("c2", "user-2", "cashier", 4)
	everything := newTestClient("c3", "user-3", "cashier", 4)
	h.Register(subscribed)
	h.Register(elsewhere)
	h.Register(everything)

	h.UpdateSubscription(subscribed, Subscription{CounterID: "counter-1"})
	h.UpdateSubscription(elsewhere, Subscription{CounterID: "counter-2"})

	h.Publish(store.Event{
		EventID: "ev-1",
		Type:    store.EventQueueChanged,
		Scope:   store.Scope{CounterID: "counter-1"},
	})

	if len(subscribed.Send) != 1 {
		t.Fatalf("subscribed client expected 1 message, got %d", len(subscribed.Send))
	}
	if len(elsewhere.Send) != 0 {
		t.Fatalf("other-counter client expected 0 messages, got %d", len(elsewhere.Send))
	}
	if len(everything.Send) != 1 {
		t.Fatalf("unsubscribed client expected 1 message, got %d", len(everything.Send))
	}
}

func TestPublishDropsOnFullBuffer(t *testing.T) {
	h := New()

	slow := newTestClient("c1", "user-1", "cashier", 1)
	h.Register(slow)

	publishedBefore := eventsPublished.Value()
	droppedBefore := eventsDropped.Value()

	event := store.Event{EventID: "ev-1", Type: store.EventQueueChanged}
	h.Publish(event)
	h.Publish(event)

	// buffer holds one message, second publish is dropped, not blocked
	if len(slow.Send) != 1 {
		t.Fatalf("expected 1 buffered message, got %d", len(slow.Send))
	}
	if got := eventsPublished.Value() - publishedBefore; got != 2 {
		t.Fatalf("events_published_total delta = %d, want 2", got)
	}
	if got := eventsDropped.Value() - droppedBefore; got != 1 {
		t.Fatalf("events_dropped_total delta = %d, want 1", got)
	}
}

func TestPublishEnvelope(t *testing.T) {
	h := New()

	client := newTestClient("c1", "user-1", "admin", 1)
	h.Register(client)

	h.Publish(store.Event{
		EventID: "ev-1",
		Type:    store.EventQueueChanged,
		Payload: store.QueueChangedPayload{CustomerID: "cust-1", NewStatus: "serving"},
	})

	raw := <-client.Send
	var envelope struct {
		EventID string `json:"event_id"`
		Type    string `json:"type"`
		Payload struct {
			CustomerID string `json:"customer_id"`
			NewStatus  string `json:"new_status"`
		} `json:"payload"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		t.Fatalf("unmarshal envelope: %v", err)
	}
	if envelope.EventID != "ev-1" || envelope.Type != store.EventQueueChanged {
		t.Fatalf("unexpected envelope: %+v", envelope)
	}
	if envelope.Payload.CustomerID != "cust-1" || envelope.Payload.NewStatus != "serving" {
		t.Fatalf("unexpected payload: %+v", envelope.Payload)
	}
}

func TestParseSubscribe(t *testing.T) {
	msg, ok := ParseSubscribe([]byte(`{"action":"subscribe","counter_id":"counter-1"}`))
	if !ok || msg.CounterID != "counter-1" {
		t.Fatalf("subscribe parse failed: ok=%v msg=%+v", ok, msg)
	}

	if _, ok := ParseSubscribe([]byte(`{"action":"ping"}`)); ok {
		t.Fatal("unknown action should not parse")
	}
	if _, ok := ParseSubscribe([]byte(`not json`)); ok {
		t.Fatal("invalid JSON should not parse")
	}
}

func TestUnregisterTwice(t *testing.T) {
	h := New()
	client := newTestClient("c1", "user-1", "admin", 1)
	h.Register(client)
	h.Unregister(client)
	h.Unregister(client)
}
