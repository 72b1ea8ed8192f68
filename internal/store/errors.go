package store

import "errors"

var (
	ErrCustomerNotFound     = errors.New("customer not found")
	ErrTransactionNotFound  = errors.New("transaction not found")
	ErrNotificationNotFound = errors.New("notification not found")
	ErrSessionNotFound      = errors.New("session not found")
	ErrQueueEmpty           = errors.New("queue empty")
	ErrCounterBusy          = errors.New("counter busy")
	ErrInvalidTransition    = errors.New("invalid status transition")
	ErrInvalidAmount        = errors.New("invalid amount")
	ErrAmountExceedsBalance = errors.New("amount exceeds balance")
	ErrInvalidTarget        = errors.New("notification target must be a role or a user, not both")
	ErrInvalidActionKind    = errors.New("invalid notification action kind")
	ErrConcurrencyConflict  = errors.New("concurrent update conflict")
)
