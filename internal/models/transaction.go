package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type Transaction struct {
	TransactionID string          `json:"transaction_id"`
	CustomerID    string          `json:"customer_id"`
	Amount        decimal.Decimal `json:"amount"`
	PaidAmount    decimal.Decimal `json:"paid_amount"`
	PaymentStatus string          `json:"payment_status"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// Balance is the remaining amount owed on the transaction.
func (t Transaction) Balance() decimal.Decimal {
	return t.Amount.Sub(t.PaidAmount)
}

const (
	PaymentUnpaid  = "unpaid"
	PaymentPartial = "partial"
	PaymentPaid    = "paid"
)

type Settlement struct {
	SettlementID  string          `json:"settlement_id"`
	TransactionID string          `json:"transaction_id"`
	Amount        decimal.Decimal `json:"amount"`
	Mode          string          `json:"mode"`
	CashierID     string          `json:"cashier_id"`
	Note          string          `json:"note,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

const (
	ModeCash         = "cash"
	ModeEwalletDana  = "ewallet_dana"
	ModeEwalletGopay = "ewallet_gopay"
	ModeCreditCard   = "credit_card"
	ModeBankTransfer = "bank_transfer"
)

func ValidPaymentMode(mode string) bool {
	switch mode {
	case ModeCash, ModeEwalletDana, ModeEwalletGopay, ModeCreditCard, ModeBankTransfer:
		return true
	default:
		return false
	}
}
