// Package money computes payment status and balances. All arithmetic is
// decimal; currency never passes through binary floating point.
package money

import (
	"errors"

	"optiq/internal/models"

	"github.com/shopspring/decimal"
)

var ErrNegativeAmount = errors.New("negative amount")

// ComputeStatus returns the payment status implied by amount and paidAmount:
// unpaid iff paidAmount == 0, paid iff paidAmount >= amount, else partial.
func ComputeStatus(amount, paidAmount decimal.Decimal) (string, error) {
	if amount.IsNegative() || paidAmount.IsNegative() {
		return "", ErrNegativeAmount
	}
	if paidAmount.IsZero() {
		return models.PaymentUnpaid, nil
	}
	if paidAmount.GreaterThanOrEqual(amount) {
		return models.PaymentPaid, nil
	}
	return models.PaymentPartial, nil
}

// Balance returns amount - paidAmount.
func Balance(amount, paidAmount decimal.Decimal) decimal.Decimal {
	return amount.Sub(paidAmount)
}
