package models

import "time"

type Customer struct {
	CustomerID   string     `json:"customer_id"`
	Name         string     `json:"name"`
	Phone        string     `json:"phone,omitempty"`
	Priority     bool       `json:"priority"`
	TokenNumber  int        `json:"token_number"`
	Status       string     `json:"status"`
	CounterID    *string    `json:"counter_id,omitempty"`
	QueueOrder   int        `json:"queue_order"`
	CreatedAt    time.Time  `json:"created_at"`
	ServingAt    *time.Time `json:"serving_at,omitempty"`
	ServedAt     *time.Time `json:"served_at,omitempty"`
	CancelReason string     `json:"cancel_reason,omitempty"`
}

const (
	StatusWaiting   = "waiting"
	StatusServing   = "serving"
	StatusCompleted = "completed"
	StatusCancelled = "cancelled"
)

// Terminal reports whether no further status writes are permitted.
func Terminal(status string) bool {
	return status == StatusCompleted || status == StatusCancelled
}
