package hub

import (
	"encoding/json"
	"expvar"
	"log"
	"sync"

	"optiq/internal/store"
)

var (
	eventsPublished = expvar.NewInt("events_published_total")
	eventsDropped   = expvar.NewInt("events_dropped_total")
)

// Subscription narrows the events a client receives. Empty fields match
// everything on that dimension; the client's role and user id always apply.
type Subscription struct {
	CounterID     string
	TransactionID string
}

type Client struct {
	ID           string
	UserID       string
	Role         string
	Send         chan []byte
	Subscription Subscription
}

type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client
}

type SubscribeMessage struct {
	Action        string `json:"action"`
	CounterID     string `json:"counter_id"`
	TransactionID string `json:"transaction_id"`
}

func New() *Hub {
	return &Hub{clients: make(map[string]*Client)}
}

func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[client.ID] = client
}

func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[client.ID]; !ok {
		return
	}
	delete(h.clients, client.ID)
	close(client.Send)
}

func (h *Hub) UpdateSubscription(client *Client, sub Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	client.Subscription = sub
}

// Publish fans a committed event out to every matching client. Delivery is
// at-most-once: a client with a full send buffer loses the message and is
// expected to refresh over HTTP.
func (h *Hub) Publish(event store.Event) {
	payload, err := json.Marshal(event)
	if err != nil {
		log.Printf("event=hub_marshal_failed type=%s err=%v", event.Type, err)
		return
	}
	eventsPublished.Add(1)

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, client := range h.clients {
		if !match(client, event.Scope) {
			continue
		}
		select {
		case client.Send <- payload:
		default:
			eventsDropped.Add(1)
			log.Printf("event=hub_drop client=%s type=%s", client.ID, event.Type)
		}
	}
}

func match(client *Client, scope store.Scope) bool {
	if scope.Role != "" && client.Role != scope.Role {
		return false
	}
	if scope.UserID != "" && client.UserID != scope.UserID {
		return false
	}
	if scope.CounterID != "" && client.Subscription.CounterID != "" &&
		client.Subscription.CounterID != scope.CounterID {
		return false
	}
	if scope.TransactionID != "" && client.Subscription.TransactionID != "" &&
		client.Subscription.TransactionID != scope.TransactionID {
		return false
	}
	return true
}

func ParseSubscribe(data []byte) (SubscribeMessage, bool) {
	var msg SubscribeMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return SubscribeMessage{}, false
	}
	if msg.Action != "subscribe" && msg.Action != "unsubscribe" {
		return SubscribeMessage{}, false
	}
	return msg, true
}
