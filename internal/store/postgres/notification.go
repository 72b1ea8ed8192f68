package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"optiq/internal/models"
	"optiq/internal/store"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// customerSnapshot freezes the customer's state at notification time so the
// notice still renders after the queue entry moves on.
func customerSnapshot(customer models.Customer) json.RawMessage {
	raw, err := json.Marshal(customer)
	if err != nil {
		return json.RawMessage(`{}`)
	}
	return raw
}

// insertNotification writes the notification and its actions inside the
// caller's transaction. Validation of target and action kinds happens here so
// queue-triggered notices and the standalone endpoint share one path.
func insertNotification(ctx context.Context, tx pgx.Tx, input store.CreateNotificationInput, now time.Time, defaultTTL time.Duration) (models.Notification, error) {
	hasRole := input.TargetRole != ""
	hasUser := input.TargetUser != ""
	if hasRole == hasUser {
		return models.Notification{}, store.ErrInvalidTarget
	}
	if hasRole && !models.ValidRole(input.TargetRole) {
		return models.Notification{}, store.ErrInvalidTarget
	}
	for _, action := range input.Actions {
		if !models.ValidActionKind(action.Kind) {
			return models.Notification{}, store.ErrInvalidActionKind
		}
	}

	ttl := input.TTL
	if ttl <= 0 {
		ttl = defaultTTL
	}

	notification := models.Notification{
		PublicID:    uuid.NewString(),
		Type:        input.Type,
		Title:       input.Title,
		Message:     input.Message,
		Snapshot:    input.Snapshot,
		CreatedBy:   input.CreatedBy,
		CreatorRole: input.CreatorRole,
		TargetRole:  input.TargetRole,
		TargetUser:  input.TargetUser,
		ExpiresAt:   now.Add(ttl),
		CreatedAt:   now,
		Actions:     input.Actions,
	}

	var rowID int64
	row := tx.QueryRow(ctx, `
		INSERT INTO notifications
			(public_id, type, title, message, snapshot, created_by, creator_role,
			 target_role, target_user, read, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, FALSE, $10, $11)
		RETURNING id
	`, notification.PublicID, notification.Type, notification.Title, notification.Message,
		nullRaw(notification.Snapshot), notification.CreatedBy, notification.CreatorRole,
		nullIfEmpty(notification.TargetRole), nullIfEmpty(notification.TargetUser),
		notification.ExpiresAt, notification.CreatedAt)
	if err := row.Scan(&rowID); err != nil {
		return models.Notification{}, err
	}

	for position, action := range notification.Actions {
		if _, err := tx.Exec(ctx, `
			INSERT INTO notification_actions (notification_id, position, label, kind, is_primary)
			VALUES ($1, $2, $3, $4, $5)
		`, rowID, position, action.Label, action.Kind, action.Primary); err != nil {
			return models.Notification{}, err
		}
	}
	return notification, nil
}

// sweepExpired deletes notifications a full retention period past expiry.
// Actions go with them via ON DELETE CASCADE.
func sweepExpired(ctx context.Context, tx pgx.Tx, now time.Time, retention time.Duration) (int, error) {
	tag, err := tx.Exec(ctx, `
		DELETE FROM notifications
		WHERE expires_at < $1
	`, now.Add(-retention))
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func (s *Store) CreateNotification(ctx context.Context, input store.CreateNotificationInput) (models.Notification, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Notification{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	now := time.Now().UTC()
	notification, err := insertNotification(ctx, tx, input, now, s.ttl)
	if err != nil {
		return models.Notification{}, err
	}
	if _, err = sweepExpired(ctx, tx, now, s.retention); err != nil {
		return models.Notification{}, err
	}

	if err = tx.Commit(ctx); err != nil {
		return models.Notification{}, err
	}

	s.publish(store.NewNotificationCreated(notification))
	return notification, nil
}

// MarkRead records the first reader and read time. Marking an already read
// notification is a no-op that returns the current state.
func (s *Store) MarkRead(ctx context.Context, publicID, readerID string) (models.Notification, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Notification{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	var rowID int64
	var notification models.Notification
	row := tx.QueryRow(ctx, `
		SELECT id, public_id, type, title, message, COALESCE(snapshot, 'null'::jsonb),
			created_by, creator_role, COALESCE(target_role, ''), COALESCE(target_user, ''),
			read, read_by, read_at, expires_at, created_at
		FROM notifications
		WHERE public_id = $1
		FOR UPDATE
	`, publicID)
	if err = scanNotification(row, &rowID, &notification); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			err = store.ErrNotificationNotFound
		}
		return models.Notification{}, err
	}

	if !notification.Read {
		now := time.Now().UTC()
		if _, err = tx.Exec(ctx, `
			UPDATE notifications
			SET read = TRUE, read_by = $2, read_at = $3
			WHERE id = $1
		`, rowID, readerID, now); err != nil {
			return models.Notification{}, err
		}
		notification.Read = true
		notification.ReadBy = &readerID
		notification.ReadAt = &now
	}

	if notification.Actions, err = loadActions(ctx, tx, rowID); err != nil {
		return models.Notification{}, err
	}

	if err = tx.Commit(ctx); err != nil {
		return models.Notification{}, err
	}
	return notification, nil
}

func (s *Store) ListNotifications(ctx context.Context, input store.ListNotificationsInput) ([]models.Notification, error) {
	limit := input.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id, public_id, type, title, message, COALESCE(snapshot, 'null'::jsonb),
			created_by, creator_role, COALESCE(target_role, ''), COALESCE(target_user, ''),
			read, read_by, read_at, expires_at, created_at
		FROM notifications
		WHERE expires_at > NOW()
			AND (target_role = $1 OR target_user = $2)
			AND ($3 OR read = FALSE)
		ORDER BY created_at DESC
		LIMIT $4 OFFSET $5
	`, input.Role, input.UserID, input.IncludeRead, limit, input.Offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var notifications []models.Notification
	var rowIDs []int64
	for rows.Next() {
		var rowID int64
		var notification models.Notification
		if err := scanNotification(rows, &rowID, &notification); err != nil {
			return nil, err
		}
		rowIDs = append(rowIDs, rowID)
		notifications = append(notifications, notification)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i, rowID := range rowIDs {
		actions, err := loadActions(ctx, s.pool, rowID)
		if err != nil {
			return nil, err
		}
		notifications[i].Actions = actions
	}
	return notifications, nil
}

func (s *Store) SweepExpired(ctx context.Context, now time.Time) (int, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return 0, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	swept, err := sweepExpired(ctx, tx, now, s.retention)
	if err != nil {
		return 0, err
	}
	if err = tx.Commit(ctx); err != nil {
		return 0, err
	}
	return swept, nil
}

func scanNotification(row pgx.Row, rowID *int64, notification *models.Notification) error {
	var snapshot []byte
	if err := row.Scan(rowID, &notification.PublicID, &notification.Type, &notification.Title,
		&notification.Message, &snapshot, &notification.CreatedBy, &notification.CreatorRole,
		&notification.TargetRole, &notification.TargetUser, &notification.Read,
		&notification.ReadBy, &notification.ReadAt, &notification.ExpiresAt, &notification.CreatedAt); err != nil {
		return err
	}
	if len(snapshot) > 0 && string(snapshot) != "null" {
		notification.Snapshot = json.RawMessage(snapshot)
	}
	return nil
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func loadActions(ctx context.Context, q querier, rowID int64) ([]models.NotificationAction, error) {
	rows, err := q.Query(ctx, `
		SELECT label, kind, is_primary
		FROM notification_actions
		WHERE notification_id = $1
		ORDER BY position ASC
	`, rowID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var actions []models.NotificationAction
	for rows.Next() {
		var action models.NotificationAction
		if err := rows.Scan(&action.Label, &action.Kind, &action.Primary); err != nil {
			return nil, err
		}
		actions = append(actions, action)
	}
	return actions, rows.Err()
}

func nullRaw(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}
