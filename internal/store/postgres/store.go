// Package postgres implements the ledger-backed store. Every mutating
// operation runs inside one transaction: validate, write, commit, then hand
// the resulting events to the publisher. Rollback on any error exit is
// guaranteed by the deferred rollback; no event leaves the store before
// COMMIT has returned.
package postgres

import (
	"database/sql"
	"errors"
	"time"

	"optiq/internal/store"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const defaultNotificationRetention = 24 * time.Hour

type Store struct {
	pool      *pgxpool.Pool
	publisher store.Publisher
	retention time.Duration
	ttl       time.Duration
}

type Options struct {
	Publisher             store.Publisher
	NotificationRetention time.Duration
	NotificationTTL       time.Duration
}

func NewStore(pool *pgxpool.Pool, options Options) *Store {
	retention := options.NotificationRetention
	if retention <= 0 {
		retention = defaultNotificationRetention
	}
	ttl := options.NotificationTTL
	if ttl <= 0 {
		ttl = defaultNotificationRetention
	}
	return &Store{
		pool:      pool,
		publisher: options.Publisher,
		retention: retention,
		ttl:       ttl,
	}
}

// publish runs synchronously after a successful COMMIT, inside the same
// request. A crash between commit and publish is the documented bounded
// inconsistency window; observers recover via pull-based refresh.
func (s *Store) publish(events ...store.Event) {
	if s.publisher == nil {
		return
	}
	for _, event := range events {
		s.publisher.Publish(event)
	}
}

// isUniqueViolation reports a Postgres unique constraint error. The partial
// unique index on (counter_id) WHERE status = 'serving' backs the
// one-serving-entry-per-counter invariant under concurrent calls.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func nullTimePtr(value sql.NullTime) *time.Time {
	if !value.Valid {
		return nil
	}
	return &value.Time
}

func nullStringPtr(value sql.NullString) *string {
	if !value.Valid {
		return nil
	}
	return &value.String
}

func nullIfEmpty(value string) interface{} {
	if value == "" {
		return nil
	}
	return value
}
