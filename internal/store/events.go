package store

import (
	"time"

	"optiq/internal/models"

	"github.com/google/uuid"
)

// Event types published after a committed state change.
const (
	EventQueueChanged        = "queue.changed"
	EventQueueReordered      = "queue.reordered"
	EventTransactionUpdated  = "transaction.updated"
	EventSettlementCreated   = "settlement.created"
	EventNotificationCreated = "notification.created"
)

// Scope carries the subscription dimensions an event is addressed to.
// Empty fields mean "not scoped on this dimension".
type Scope struct {
	Role          string `json:"role,omitempty"`
	UserID        string `json:"user_id,omitempty"`
	CounterID     string `json:"counter_id,omitempty"`
	TransactionID string `json:"transaction_id,omitempty"`
}

type Event struct {
	EventID   string      `json:"event_id"`
	Type      string      `json:"type"`
	Payload   interface{} `json:"payload"`
	Scope     Scope       `json:"-"`
	CreatedAt time.Time   `json:"created_at"`
}

// Publisher receives events strictly after the producing transaction has
// committed. Implementations must not block the caller indefinitely; delivery
// is at-most-once per observer and lost deliveries are recovered by
// pull-based refresh, not redelivery.
type Publisher interface {
	Publish(event Event)
}

type QueueChangedPayload struct {
	CustomerID string           `json:"customer_id"`
	OldStatus  string           `json:"old_status"`
	NewStatus  string           `json:"new_status"`
	CounterID  *string          `json:"counter_id,omitempty"`
	OccurredAt time.Time        `json:"occurred_at"`
	Customer   *models.Customer `json:"customer,omitempty"`
}

type QueueReorderedPayload struct {
	OrderedIDs []string  `json:"ordered_ids"`
	OccurredAt time.Time `json:"occurred_at"`
}

type TransactionUpdatedPayload struct {
	Transaction models.Transaction `json:"transaction"`
}

type SettlementCreatedPayload struct {
	Settlement  models.Settlement  `json:"settlement"`
	Transaction models.Transaction `json:"transaction"`
}

type NotificationCreatedPayload struct {
	Notification models.Notification `json:"notification"`
}

func newEvent(eventType string, payload interface{}, scope Scope) Event {
	return Event{
		EventID:   uuid.NewString(),
		Type:      eventType,
		Payload:   payload,
		Scope:     scope,
		CreatedAt: time.Now().UTC(),
	}
}

func NewQueueChanged(customer models.Customer, oldStatus string, occurredAt time.Time) Event {
	counterID := ""
	if customer.CounterID != nil {
		counterID = *customer.CounterID
	}
	c := customer
	return newEvent(EventQueueChanged, QueueChangedPayload{
		CustomerID: customer.CustomerID,
		OldStatus:  oldStatus,
		NewStatus:  customer.Status,
		CounterID:  customer.CounterID,
		OccurredAt: occurredAt,
		Customer:   &c,
	}, Scope{CounterID: counterID})
}

func NewQueueReordered(orderedIDs []string, occurredAt time.Time) Event {
	return newEvent(EventQueueReordered, QueueReorderedPayload{
		OrderedIDs: orderedIDs,
		OccurredAt: occurredAt,
	}, Scope{})
}

func NewTransactionUpdated(transaction models.Transaction) Event {
	return newEvent(EventTransactionUpdated, TransactionUpdatedPayload{Transaction: transaction},
		Scope{TransactionID: transaction.TransactionID})
}

func NewSettlementCreated(settlement models.Settlement, transaction models.Transaction) Event {
	return newEvent(EventSettlementCreated, SettlementCreatedPayload{
		Settlement:  settlement,
		Transaction: transaction,
	}, Scope{TransactionID: transaction.TransactionID})
}

func NewNotificationCreated(notification models.Notification) Event {
	return newEvent(EventNotificationCreated, NotificationCreatedPayload{Notification: notification},
		Scope{Role: notification.TargetRole, UserID: notification.TargetUser})
}
