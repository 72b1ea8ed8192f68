package models

import (
	"encoding/json"
	"time"
)

// Notification is an ephemeral staff notice. PublicID is the externally
// visible token; the internal row id never leaves the store layer.
type Notification struct {
	PublicID    string          `json:"notification_id"`
	Type        string          `json:"type"`
	Title       string          `json:"title"`
	Message     string          `json:"message"`
	Snapshot    json.RawMessage `json:"snapshot,omitempty"`
	CreatedBy   string          `json:"created_by"`
	CreatorRole string          `json:"creator_role"`
	TargetRole  string          `json:"target_role,omitempty"`
	TargetUser  string          `json:"target_user,omitempty"`
	Read        bool            `json:"read"`
	ReadBy      *string         `json:"read_by,omitempty"`
	ReadAt      *time.Time      `json:"read_at,omitempty"`
	ExpiresAt   time.Time       `json:"expires_at"`
	CreatedAt   time.Time       `json:"created_at"`
	Actions     []NotificationAction `json:"actions,omitempty"`
}

type NotificationAction struct {
	Label   string `json:"label"`
	Kind    string `json:"kind"`
	Primary bool   `json:"primary"`
}

const (
	ActionViewCustomer    = "view_customer"
	ActionViewTransaction = "view_transaction"
	ActionOpenQueue       = "open_queue"
	ActionDismiss         = "dismiss"
)

func ValidActionKind(kind string) bool {
	switch kind {
	case ActionViewCustomer, ActionViewTransaction, ActionOpenQueue, ActionDismiss:
		return true
	default:
		return false
	}
}

const (
	RoleAdmin      = "admin"
	RoleSalesAgent = "sales_agent"
	RoleCashier    = "cashier"
)

func ValidRole(role string) bool {
	switch role {
	case RoleAdmin, RoleSalesAgent, RoleCashier:
		return true
	default:
		return false
	}
}
