package postgres

import (
	"context"
	"errors"
	"time"

	"optiq/internal/models"
	"optiq/internal/money"
	"optiq/internal/store"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

func (s *Store) CreateTransaction(ctx context.Context, input store.CreateTransactionInput) (models.Transaction, error) {
	if input.Amount.IsNegative() {
		return models.Transaction{}, store.ErrInvalidAmount
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Transaction{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	var exists bool
	row := tx.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM customers WHERE customer_id = $1)
	`, input.CustomerID)
	if err = row.Scan(&exists); err != nil {
		return models.Transaction{}, err
	}
	if !exists {
		err = store.ErrCustomerNotFound
		return models.Transaction{}, err
	}

	status, err := money.ComputeStatus(input.Amount, decimal.Zero)
	if err != nil {
		return models.Transaction{}, store.ErrInvalidAmount
	}

	now := time.Now().UTC()
	var transaction models.Transaction
	row = tx.QueryRow(ctx, `
		INSERT INTO transactions (transaction_id, customer_id, amount, paid_amount, payment_status, created_at, updated_at)
		VALUES ($1, $2, $3, 0, $4, $5, $5)
		RETURNING transaction_id, customer_id, amount, paid_amount, payment_status, created_at, updated_at
	`, uuid.NewString(), input.CustomerID, input.Amount, status, now)
	if err = row.Scan(&transaction.TransactionID, &transaction.CustomerID, &transaction.Amount,
		&transaction.PaidAmount, &transaction.PaymentStatus, &transaction.CreatedAt, &transaction.UpdatedAt); err != nil {
		return models.Transaction{}, err
	}

	if err = tx.Commit(ctx); err != nil {
		return models.Transaction{}, err
	}

	s.publish(store.NewTransactionUpdated(transaction))
	return transaction, nil
}

func (s *Store) GetTransaction(ctx context.Context, transactionID string) (models.Transaction, error) {
	var transaction models.Transaction
	row := s.pool.QueryRow(ctx, `
		SELECT transaction_id, customer_id, amount, paid_amount, payment_status, created_at, updated_at
		FROM transactions
		WHERE transaction_id = $1
	`, transactionID)
	if err := row.Scan(&transaction.TransactionID, &transaction.CustomerID, &transaction.Amount,
		&transaction.PaidAmount, &transaction.PaymentStatus, &transaction.CreatedAt, &transaction.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Transaction{}, store.ErrTransactionNotFound
		}
		return models.Transaction{}, err
	}
	return transaction, nil
}

// CreateSettlement applies one payment inside one transaction: lock the
// transaction row, validate against the open balance, append the settlement,
// recompute paid amount and status, commit, then publish exactly one
// TransactionUpdated and one SettlementCreated event. Identical repeated
// requests are not deduplicated here; callers needing idempotency supply an
// external request key.
func (s *Store) CreateSettlement(ctx context.Context, input store.CreateSettlementInput) (models.Transaction, models.Settlement, error) {
	if !input.Amount.IsPositive() {
		return models.Transaction{}, models.Settlement{}, store.ErrInvalidAmount
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Transaction{}, models.Settlement{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	var transaction models.Transaction
	row := tx.QueryRow(ctx, `
		SELECT transaction_id, customer_id, amount, paid_amount, payment_status, created_at, updated_at
		FROM transactions
		WHERE transaction_id = $1
		FOR UPDATE
	`, input.TransactionID)
	if err = row.Scan(&transaction.TransactionID, &transaction.CustomerID, &transaction.Amount,
		&transaction.PaidAmount, &transaction.PaymentStatus, &transaction.CreatedAt, &transaction.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			err = store.ErrTransactionNotFound
		}
		return models.Transaction{}, models.Settlement{}, err
	}

	if input.Amount.GreaterThan(transaction.Balance()) {
		err = store.ErrAmountExceedsBalance
		return models.Transaction{}, models.Settlement{}, err
	}

	now := time.Now().UTC()
	settlement := models.Settlement{
		SettlementID:  uuid.NewString(),
		TransactionID: transaction.TransactionID,
		Amount:        input.Amount,
		Mode:          input.Mode,
		CashierID:     input.CashierID,
		Note:          input.Note,
		CreatedAt:     now,
	}
	if _, err = tx.Exec(ctx, `
		INSERT INTO settlements (settlement_id, transaction_id, amount, mode, cashier_id, note, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, settlement.SettlementID, settlement.TransactionID, settlement.Amount, settlement.Mode,
		settlement.CashierID, nullIfEmpty(settlement.Note), settlement.CreatedAt); err != nil {
		return models.Transaction{}, models.Settlement{}, err
	}

	newPaid := transaction.PaidAmount.Add(input.Amount)
	status, err := money.ComputeStatus(transaction.Amount, newPaid)
	if err != nil {
		return models.Transaction{}, models.Settlement{}, err
	}

	row = tx.QueryRow(ctx, `
		UPDATE transactions
		SET paid_amount = $2,
			payment_status = $3,
			updated_at = $4
		WHERE transaction_id = $1
		RETURNING transaction_id, customer_id, amount, paid_amount, payment_status, created_at, updated_at
	`, transaction.TransactionID, newPaid, status, now)
	if err = row.Scan(&transaction.TransactionID, &transaction.CustomerID, &transaction.Amount,
		&transaction.PaidAmount, &transaction.PaymentStatus, &transaction.CreatedAt, &transaction.UpdatedAt); err != nil {
		return models.Transaction{}, models.Settlement{}, err
	}

	if err = tx.Commit(ctx); err != nil {
		return models.Transaction{}, models.Settlement{}, err
	}

	s.publish(
		store.NewTransactionUpdated(transaction),
		store.NewSettlementCreated(settlement, transaction),
	)
	return transaction, settlement, nil
}

func (s *Store) ListSettlements(ctx context.Context, transactionID string) ([]models.Settlement, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT settlement_id, transaction_id, amount, mode, cashier_id, COALESCE(note, ''), created_at
		FROM settlements
		WHERE transaction_id = $1
		ORDER BY created_at ASC
	`, transactionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var settlements []models.Settlement
	for rows.Next() {
		var settlement models.Settlement
		if err := rows.Scan(&settlement.SettlementID, &settlement.TransactionID, &settlement.Amount,
			&settlement.Mode, &settlement.CashierID, &settlement.Note, &settlement.CreatedAt); err != nil {
			return nil, err
		}
		settlements = append(settlements, settlement)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return settlements, nil
}
