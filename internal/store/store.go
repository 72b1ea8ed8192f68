package store

import (
	"context"
	"encoding/json"
	"time"

	"optiq/internal/models"

	"github.com/shopspring/decimal"
)

type EnqueueInput struct {
	Name      string
	Phone     string
	Priority  bool
	CreatedBy string
	Role      string
	TTL       time.Duration
	CreatedAt time.Time
}

type CallInput struct {
	CustomerID string
	CounterID  string
	Force      bool
	CalledAt   time.Time
}

// CallResult carries the called entry and, when force displaced a serving
// entry back to waiting, that entry as well.
type CallResult struct {
	Customer  models.Customer
	Displaced *models.Customer
}

type ResetInput struct {
	Reason      string
	ToCompleted bool
	OccurredAt  time.Time
}

type ResetResult struct {
	Cancelled int `json:"cancelled"`
	Completed int `json:"completed"`
}

type CreateTransactionInput struct {
	CustomerID string
	Amount     decimal.Decimal
}

type CreateSettlementInput struct {
	TransactionID string
	Amount        decimal.Decimal
	Mode          string
	CashierID     string
	Note          string
}

type CreateNotificationInput struct {
	Type        string
	Title       string
	Message     string
	Snapshot    json.RawMessage
	CreatedBy   string
	CreatorRole string
	TargetRole  string
	TargetUser  string
	Actions     []models.NotificationAction
	TTL         time.Duration
}

type ListNotificationsInput struct {
	Role        string
	UserID      string
	IncludeRead bool
	Limit       int
	Offset      int
}

type Session struct {
	SessionID string
	UserID    string
	Role      string
	ExpiresAt time.Time
}

type QueueStore interface {
	Enqueue(ctx context.Context, input EnqueueInput) (models.Customer, error)
	CallNext(ctx context.Context, input CallInput) (CallResult, error)
	CallSpecific(ctx context.Context, input CallInput) (CallResult, error)
	CompleteService(ctx context.Context, customerID string, occurredAt time.Time) (models.Customer, error)
	CancelService(ctx context.Context, customerID, reason string, occurredAt time.Time) (models.Customer, error)
	ReorderQueue(ctx context.Context, orderedIDs []string) error
	ResetQueue(ctx context.Context, input ResetInput) (ResetResult, error)
	GetCustomer(ctx context.Context, customerID string) (models.Customer, error)
	ListQueue(ctx context.Context, status string) ([]models.Customer, error)
	ActiveByCounter(ctx context.Context, counterID string) (models.Customer, bool, error)
}

type LedgerStore interface {
	CreateTransaction(ctx context.Context, input CreateTransactionInput) (models.Transaction, error)
	GetTransaction(ctx context.Context, transactionID string) (models.Transaction, error)
	CreateSettlement(ctx context.Context, input CreateSettlementInput) (models.Transaction, models.Settlement, error)
	ListSettlements(ctx context.Context, transactionID string) ([]models.Settlement, error)
}

type NotificationStore interface {
	CreateNotification(ctx context.Context, input CreateNotificationInput) (models.Notification, error)
	MarkRead(ctx context.Context, publicID, readerID string) (models.Notification, error)
	ListNotifications(ctx context.Context, input ListNotificationsInput) ([]models.Notification, error)
	SweepExpired(ctx context.Context, now time.Time) (int, error)
}

type SessionStore interface {
	GetSession(ctx context.Context, sessionID string) (Session, error)
}

type Store interface {
	QueueStore
	LedgerStore
	NotificationStore
	SessionStore
}
