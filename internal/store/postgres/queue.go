package postgres

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"time"

	"optiq/internal/models"
	"optiq/internal/store"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const customerColumns = `customer_id, name, phone, priority, token_number, status, counter_id, queue_order, created_at, serving_at, served_at, cancel_reason`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanCustomer(row rowScanner) (models.Customer, error) {
	var customer models.Customer
	var phoneNull sql.NullString
	var counterIDNull sql.NullString
	var servingAtNull sql.NullTime
	var servedAtNull sql.NullTime
	var cancelReasonNull sql.NullString
	if err := row.Scan(
		&customer.CustomerID, &customer.Name, &phoneNull, &customer.Priority,
		&customer.TokenNumber, &customer.Status, &counterIDNull, &customer.QueueOrder,
		&customer.CreatedAt, &servingAtNull, &servedAtNull, &cancelReasonNull,
	); err != nil {
		return models.Customer{}, err
	}
	if phoneNull.Valid {
		customer.Phone = phoneNull.String
	}
	customer.CounterID = nullStringPtr(counterIDNull)
	customer.ServingAt = nullTimePtr(servingAtNull)
	customer.ServedAt = nullTimePtr(servedAtNull)
	if cancelReasonNull.Valid {
		customer.CancelReason = cancelReasonNull.String
	}
	return customer, nil
}

func (s *Store) Enqueue(ctx context.Context, input store.EnqueueInput) (models.Customer, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Customer{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	createdAt := input.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	token, err := nextTokenNumber(ctx, tx, createdAt)
	if err != nil {
		return models.Customer{}, err
	}

	customerID := uuid.NewString()
	var customer models.Customer
	row := tx.QueryRow(ctx, `
		INSERT INTO customers (customer_id, name, phone, priority, token_number, status, queue_order, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $5, $7)
		RETURNING `+customerColumns+`
	`, customerID, input.Name, nullIfEmpty(input.Phone), input.Priority, token, models.StatusWaiting, createdAt)
	customer, err = scanCustomer(row)
	if err != nil {
		return models.Customer{}, err
	}

	notification, err := insertNotification(ctx, tx, store.CreateNotificationInput{
		Type:        "customer_registered",
		Title:       "New customer in queue",
		Message:     input.Name + " joined the waiting queue",
		Snapshot:    customerSnapshot(customer),
		CreatedBy:   input.CreatedBy,
		CreatorRole: input.Role,
		TargetRole:  models.RoleCashier,
		Actions: []models.NotificationAction{
			{Label: "View customer", Kind: models.ActionViewCustomer, Primary: true},
		},
		TTL: input.TTL,
	}, createdAt, s.ttl)
	if err != nil {
		return models.Customer{}, err
	}
	if _, err = sweepExpired(ctx, tx, createdAt, s.retention); err != nil {
		return models.Customer{}, err
	}

	if err = tx.Commit(ctx); err != nil {
		return models.Customer{}, err
	}

	s.publish(
		store.NewQueueChanged(customer, "", createdAt),
		store.NewNotificationCreated(notification),
	)
	return customer, nil
}

func (s *Store) CallNext(ctx context.Context, input store.CallInput) (store.CallResult, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return store.CallResult{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	calledAt := input.CalledAt
	if calledAt.IsZero() {
		calledAt = time.Now().UTC()
	}

	displaced, err := clearCounter(ctx, tx, input.CounterID, input.Force)
	if err != nil {
		return store.CallResult{}, err
	}

	// The displaced entry is back in waiting inside this same transaction,
	// usually at the head of the order. SKIP LOCKED does not skip rows this
	// transaction locked itself, so it must be excluded explicitly or a
	// forced call would re-select the customer it just displaced.
	var excludedID interface{}
	if displaced != nil {
		excludedID = displaced.CustomerID
	}

	var customer models.Customer
	row := tx.QueryRow(ctx, `
		WITH next_customer AS (
			SELECT customer_id
			FROM customers
			WHERE status = 'waiting'
				AND ($3::uuid IS NULL OR customer_id <> $3::uuid)
			ORDER BY priority DESC, queue_order ASC, created_at ASC
			FOR UPDATE SKIP LOCKED
			LIMIT 1
		)
		UPDATE customers
		SET status = 'serving',
			counter_id = $1,
			serving_at = $2
		FROM next_customer
		WHERE customers.customer_id = next_customer.customer_id
		RETURNING `+qualifiedCustomerColumns("customers"),
		input.CounterID, calledAt, excludedID)
	customer, err = scanCustomer(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			err = store.ErrQueueEmpty
		}
		if isUniqueViolation(err) {
			err = store.ErrCounterBusy
		}
		return store.CallResult{}, err
	}

	if err = tx.Commit(ctx); err != nil {
		return store.CallResult{}, err
	}

	events := []store.Event{store.NewQueueChanged(customer, models.StatusWaiting, calledAt)}
	if displaced != nil {
		events = append(events, store.NewQueueChanged(*displaced, models.StatusServing, calledAt))
	}
	s.publish(events...)

	return store.CallResult{Customer: customer, Displaced: displaced}, nil
}

func (s *Store) CallSpecific(ctx context.Context, input store.CallInput) (store.CallResult, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return store.CallResult{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	calledAt := input.CalledAt
	if calledAt.IsZero() {
		calledAt = time.Now().UTC()
	}

	displaced, err := clearCounter(ctx, tx, input.CounterID, input.Force)
	if err != nil {
		return store.CallResult{}, err
	}

	var customer models.Customer
	row := tx.QueryRow(ctx, `
		UPDATE customers
		SET status = 'serving',
			counter_id = $2,
			serving_at = $3
		WHERE customer_id = $1 AND status = 'waiting'
		RETURNING `+customerColumns,
		input.CustomerID, input.CounterID, calledAt)
	customer, err = scanCustomer(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			err = classifyMissedUpdate(ctx, tx, input.CustomerID)
		}
		if isUniqueViolation(err) {
			err = store.ErrCounterBusy
		}
		return store.CallResult{}, err
	}

	if err = tx.Commit(ctx); err != nil {
		return store.CallResult{}, err
	}

	events := []store.Event{store.NewQueueChanged(customer, models.StatusWaiting, calledAt)}
	if displaced != nil {
		events = append(events, store.NewQueueChanged(*displaced, models.StatusServing, calledAt))
	}
	s.publish(events...)

	return store.CallResult{Customer: customer, Displaced: displaced}, nil
}

// clearCounter enforces one serving entry per counter. Without force it
// fails with ErrCounterBusy; with force the serving entry returns to waiting
// and is reported so the caller can publish its transition.
func clearCounter(ctx context.Context, tx pgx.Tx, counterID string, force bool) (*models.Customer, error) {
	var activeID string
	row := tx.QueryRow(ctx, `
		SELECT customer_id
		FROM customers
		WHERE counter_id = $1 AND status = 'serving'
		FOR UPDATE
	`, counterID)
	if err := row.Scan(&activeID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if !force {
		return nil, store.ErrCounterBusy
	}

	row = tx.QueryRow(ctx, `
		UPDATE customers
		SET status = 'waiting',
			counter_id = NULL,
			serving_at = NULL
		WHERE customer_id = $1
		RETURNING `+customerColumns, activeID)
	displaced, err := scanCustomer(row)
	if err != nil {
		return nil, err
	}
	return &displaced, nil
}

func (s *Store) CompleteService(ctx context.Context, customerID string, occurredAt time.Time) (models.Customer, error) {
	return s.updateStatus(ctx, customerID, "complete", models.StatusCompleted, "", occurredAt)
}

func (s *Store) CancelService(ctx context.Context, customerID, reason string, occurredAt time.Time) (models.Customer, error) {
	return s.updateStatus(ctx, customerID, "cancel", models.StatusCancelled, reason, occurredAt)
}

func (s *Store) updateStatus(ctx context.Context, customerID, action, toStatus, reason string, occurredAt time.Time) (models.Customer, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Customer{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	if occurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}

	var oldStatus string
	row := tx.QueryRow(ctx, `
		SELECT status
		FROM customers
		WHERE customer_id = $1
		FOR UPDATE
	`, customerID)
	if err = row.Scan(&oldStatus); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			err = store.ErrCustomerNotFound
		}
		return models.Customer{}, err
	}
	if !store.ValidTransition(action, oldStatus) {
		err = store.ErrInvalidTransition
		return models.Customer{}, err
	}

	var customer models.Customer
	row = tx.QueryRow(ctx, `
		UPDATE customers
		SET status = $2,
			served_at = $3,
			cancel_reason = $4,
			counter_id = CASE WHEN $2 = 'cancelled' THEN NULL ELSE counter_id END
		WHERE customer_id = $1
		RETURNING `+customerColumns,
		customerID, toStatus, occurredAt, nullIfEmpty(reason))
	customer, err = scanCustomer(row)
	if err != nil {
		return models.Customer{}, err
	}

	if err = tx.Commit(ctx); err != nil {
		return models.Customer{}, err
	}

	s.publish(store.NewQueueChanged(customer, oldStatus, occurredAt))
	return customer, nil
}

// classifyMissedUpdate distinguishes a missing row from a state-machine
// violation after a guarded UPDATE matched nothing.
func classifyMissedUpdate(ctx context.Context, tx pgx.Tx, customerID string) error {
	var status string
	row := tx.QueryRow(ctx, `
		SELECT status
		FROM customers
		WHERE customer_id = $1
	`, customerID)
	if err := row.Scan(&status); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.ErrCustomerNotFound
		}
		return err
	}
	return store.ErrInvalidTransition
}

func (s *Store) ReorderQueue(ctx context.Context, orderedIDs []string) error {
	if len(orderedIDs) == 0 {
		return nil
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	// Lock the whole waiting set, not just the supplied ids: positions are
	// rewritten 1..N across every waiting entry so a partial list cannot
	// collide with the queue_order of entries it does not name.
	rows, err := tx.Query(ctx, `
		SELECT customer_id, queue_order
		FROM customers
		WHERE status = 'waiting'
		ORDER BY customer_id
		FOR UPDATE
	`)
	if err != nil {
		return err
	}
	type waitingEntry struct {
		id    string
		order int
	}
	var waiting []waitingEntry
	waitingByID := make(map[string]bool)
	for rows.Next() {
		var entry waitingEntry
		if err = rows.Scan(&entry.id, &entry.order); err != nil {
			rows.Close()
			return err
		}
		waiting = append(waiting, entry)
		waitingByID[entry.id] = true
	}
	rows.Close()
	if err = rows.Err(); err != nil {
		return err
	}

	supplied := make(map[string]bool, len(orderedIDs))
	for _, id := range orderedIDs {
		if supplied[id] {
			err = store.ErrInvalidTransition
			return err
		}
		if !waitingByID[id] {
			err = classifyMissedUpdate(ctx, tx, id)
			return err
		}
		supplied[id] = true
	}

	// supplied ids take the front in the given order; the rest keep their
	// current relative order behind them
	final := make([]string, 0, len(waiting))
	final = append(final, orderedIDs...)
	var untouched []waitingEntry
	for _, entry := range waiting {
		if !supplied[entry.id] {
			untouched = append(untouched, entry)
		}
	}
	sort.Slice(untouched, func(i, j int) bool { return untouched[i].order < untouched[j].order })
	for _, entry := range untouched {
		final = append(final, entry.id)
	}

	for position, id := range final {
		if _, err = tx.Exec(ctx, `
			UPDATE customers
			SET queue_order = $2
			WHERE customer_id = $1
		`, id, position+1); err != nil {
			return err
		}
	}

	if err = tx.Commit(ctx); err != nil {
		return err
	}

	s.publish(store.NewQueueReordered(final, time.Now().UTC()))
	return nil
}

func (s *Store) ResetQueue(ctx context.Context, input store.ResetInput) (store.ResetResult, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return store.ResetResult{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	occurredAt := input.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}

	rows, err := tx.Query(ctx, `
		SELECT `+customerColumns+`
		FROM customers
		WHERE status IN ('waiting', 'serving')
		ORDER BY queue_order ASC, created_at ASC
		FOR UPDATE
	`)
	if err != nil {
		return store.ResetResult{}, err
	}
	var affected []models.Customer
	for rows.Next() {
		var customer models.Customer
		customer, err = scanCustomer(rows)
		if err != nil {
			rows.Close()
			return store.ResetResult{}, err
		}
		affected = append(affected, customer)
	}
	rows.Close()
	if err = rows.Err(); err != nil {
		return store.ResetResult{}, err
	}

	toStatus := models.StatusCancelled
	if input.ToCompleted {
		toStatus = models.StatusCompleted
	}

	if len(affected) > 0 {
		if _, err = tx.Exec(ctx, `
			UPDATE customers
			SET status = $1,
				served_at = $2,
				cancel_reason = $3,
				counter_id = NULL
			WHERE status IN ('waiting', 'serving')
		`, toStatus, occurredAt, nullIfEmpty(input.Reason)); err != nil {
			return store.ResetResult{}, err
		}
	}

	if err = tx.Commit(ctx); err != nil {
		return store.ResetResult{}, err
	}

	var result store.ResetResult
	resolvedAt := occurredAt
	events := make([]store.Event, 0, len(affected))
	for _, customer := range affected {
		oldStatus := customer.Status
		customer.Status = toStatus
		customer.CounterID = nil
		customer.CancelReason = input.Reason
		customer.ServedAt = &resolvedAt
		events = append(events, store.NewQueueChanged(customer, oldStatus, occurredAt))
		if input.ToCompleted {
			result.Completed++
		} else {
			result.Cancelled++
		}
	}
	s.publish(events...)

	return result, nil
}

func (s *Store) GetCustomer(ctx context.Context, customerID string) (models.Customer, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+customerColumns+`
		FROM customers
		WHERE customer_id = $1
	`, customerID)
	customer, err := scanCustomer(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Customer{}, store.ErrCustomerNotFound
		}
		return models.Customer{}, err
	}
	return customer, nil
}

func (s *Store) ListQueue(ctx context.Context, status string) ([]models.Customer, error) {
	query := `
		SELECT ` + customerColumns + `
		FROM customers
		WHERE status IN ('waiting', 'serving')
		ORDER BY priority DESC, queue_order ASC, created_at ASC
	`
	args := []interface{}{}
	if status != "" {
		query = `
		SELECT ` + customerColumns + `
		FROM customers
		WHERE status = $1
		ORDER BY priority DESC, queue_order ASC, created_at ASC
	`
		args = append(args, status)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var customers []models.Customer
	for rows.Next() {
		customer, err := scanCustomer(rows)
		if err != nil {
			return nil, err
		}
		customers = append(customers, customer)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return customers, nil
}

func (s *Store) ActiveByCounter(ctx context.Context, counterID string) (models.Customer, bool, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+customerColumns+`
		FROM customers
		WHERE counter_id = $1 AND status = 'serving'
		LIMIT 1
	`, counterID)
	customer, err := scanCustomer(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Customer{}, false, nil
		}
		return models.Customer{}, false, err
	}
	return customer, true, nil
}

func nextTokenNumber(ctx context.Context, tx pgx.Tx, createdAt time.Time) (int, error) {
	var next int
	row := tx.QueryRow(ctx, `
		INSERT INTO token_sequences (day, next_number)
		VALUES ($1, 1)
		ON CONFLICT (day)
		DO UPDATE SET next_number = token_sequences.next_number + 1
		RETURNING next_number
	`, createdAt.Format("2006-01-02"))
	if err := row.Scan(&next); err != nil {
		return 0, err
	}
	return next, nil
}

func qualifiedCustomerColumns(table string) string {
	return table + ".customer_id, " + table + ".name, " + table + ".phone, " +
		table + ".priority, " + table + ".token_number, " + table + ".status, " +
		table + ".counter_id, " + table + ".queue_order, " + table + ".created_at, " +
		table + ".serving_at, " + table + ".served_at, " + table + ".cancel_reason"
}
