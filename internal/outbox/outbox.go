// Package outbox implements the Outbox Store (C3) and Outbox Publisher (C4):
// the transactional-outbox pattern that makes "update the tracker" and "send
// the next stage message" atomic (spec §4.3). A stage worker writes an
// OutboxRecord inside the same database transaction as its tracker update;
// a separate background publisher drains NEW/FAILED rows to the bus.
package outbox

import (
	"context"
	"database/sql"
	"math"
	"math/rand"
	"time"

	"github.com/jmoiron/sqlx"

	apperrors "github.com/priorauth/pagw/internal/errors"
)

// Status is an OutboxRecord's delivery state (spec §3, I7).
type Status string

const (
	StatusNew    Status = "NEW"
	StatusSent   Status = "SENT"
	StatusFailed Status = "FAILED"
	StatusDead   Status = "DEAD"
)

// Record is one outbox row: a message staged for delivery to destination.
type Record struct {
	ID          int64      `db:"id"`
	Tenant      string     `db:"tenant"`
	AggregateID string     `db:"aggregate_id"`
	EventType   string     `db:"event_type"`
	Destination string     `db:"destination"`
	Payload     []byte     `db:"payload"`
	Status      Status     `db:"status"`
	RetryCount  int        `db:"retry_count"`
	MaxRetries  int        `db:"max_retries"`
	NextRetryAt time.Time  `db:"next_retry_at"`
	LastError   *string    `db:"last_error"`
	CreatedAt   time.Time  `db:"created_at"`
	ProcessedAt *time.Time `db:"processed_at"`
}

// DefaultMaxRetries matches spec §4.3's default backoff schedule (base 1s,
// cap 5min); at that schedule the backoffs between the first nine failures
// add up to roughly 8.5 minutes (up to about 10 with jitter) before the
// tenth failure moves the record to DEAD for operator escalation.
const DefaultMaxRetries = 10

// Store is the Postgres-backed Outbox Store.
type Store struct {
	db *sqlx.DB
}

func NewStore(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// Write inserts a new NEW-status outbox row inside tx — the caller is
// responsible for running this in the same transaction as the stage's
// tracker update so both commit atomically (I6).
func (s *Store) Write(ctx context.Context, tx *sqlx.Tx, tenant, aggregateID, eventType, destination string, payload []byte) error {
	const query = `
		INSERT INTO outbox (
			tenant, aggregate_id, event_type, destination, payload,
			status, retry_count, max_retries, next_retry_at, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, 0, $7, $8, $8)`

	now := time.Now().UTC()
	_, err := tx.ExecContext(ctx, query, tenant, aggregateID, eventType, destination, payload, StatusNew, DefaultMaxRetries, now)
	if err != nil {
		return apperrors.NewDatabaseError("write outbox record", err)
	}
	return nil
}

// Lease selects up to limit rows eligible for publishing (status NEW or
// FAILED, nextRetryAt <= now), using FOR UPDATE SKIP LOCKED so concurrent
// publisher instances never double-send the same row (spec §4.3 step 1).
// The caller must commit or roll back tx to release the row locks.
func (s *Store) Lease(ctx context.Context, tx *sqlx.Tx, limit int) ([]Record, error) {
	const query = `
		SELECT * FROM outbox
		WHERE status IN ('NEW', 'FAILED') AND next_retry_at <= $1
		ORDER BY created_at ASC
		LIMIT $2
		FOR UPDATE SKIP LOCKED`

	var records []Record
	if err := tx.SelectContext(ctx, &records, query, time.Now().UTC(), limit); err != nil {
		return nil, apperrors.NewDatabaseError("lease outbox records", err)
	}
	return records, nil
}

// MarkSent transitions a leased record to SENT.
func (s *Store) MarkSent(ctx context.Context, tx *sqlx.Tx, id int64) error {
	const query = `UPDATE outbox SET status = $1, processed_at = $2 WHERE id = $3`
	now := time.Now().UTC()
	if _, err := tx.ExecContext(ctx, query, StatusSent, now, id); err != nil {
		return apperrors.NewDatabaseError("mark outbox record sent", err)
	}
	return nil
}

// MarkFailed increments retryCount and either schedules the next attempt
// (status FAILED, nextRetryAt = now + backoff) or moves the record to DEAD
// once maxRetries is exceeded (spec §4.3 step 4).
func (s *Store) MarkFailed(ctx context.Context, tx *sqlx.Tx, rec Record, lastError string) error {
	retryCount := rec.RetryCount + 1
	status := StatusFailed
	nextRetryAt := time.Now().UTC().Add(Backoff(retryCount))
	if retryCount >= rec.MaxRetries {
		status = StatusDead
	}

	const query = `
		UPDATE outbox
		SET status = $1, retry_count = $2, next_retry_at = $3, last_error = $4
		WHERE id = $5`

	if _, err := tx.ExecContext(ctx, query, status, retryCount, nextRetryAt, lastError, rec.ID); err != nil {
		return apperrors.NewDatabaseError("mark outbox record failed", err)
	}
	return nil
}

// ListByDestination returns up to limit rows currently staged at
// destination, newest last, for the DLQ replay CLI's listing view (spec §4.5
// "DLQ messages require operator action").
func (s *Store) ListByDestination(ctx context.Context, destination string, limit int) ([]Record, error) {
	const query = `
		SELECT * FROM outbox
		WHERE destination = $1
		ORDER BY created_at ASC
		LIMIT $2`

	var records []Record
	if err := s.db.SelectContext(ctx, &records, query, destination, limit); err != nil {
		return nil, apperrors.NewDatabaseError("list outbox records by destination", err)
	}
	return records, nil
}

// Requeue moves a DLQ row back to destination with a reset retry budget, the
// operator-confirmed action the DLQ replay CLI performs (spec §4.5). It does
// not inspect the payload: the caller is responsible for having decoded it
// (or not) before deciding destination.
func (s *Store) Requeue(ctx context.Context, id int64, destination string) error {
	const query = `
		UPDATE outbox
		SET destination = $1, status = $2, retry_count = 0, next_retry_at = $3, last_error = NULL
		WHERE id = $4`

	now := time.Now().UTC()
	if _, err := s.db.ExecContext(ctx, query, destination, StatusNew, now, id); err != nil {
		return apperrors.NewDatabaseError("requeue outbox record", err)
	}
	return nil
}

// Backoff computes the exponential-with-jitter delay before retryCount's
// attempt: base 1s doubling each attempt, capped at 5 minutes, with up to
// 20% jitter to avoid synchronized retry storms across instances.
func Backoff(retryCount int) time.Duration {
	const base = time.Second
	const cap = 5 * time.Minute

	backoff := base * time.Duration(math.Pow(2, float64(retryCount-1)))
	if backoff > cap || backoff <= 0 {
		backoff = cap
	}
	jitter := time.Duration(rand.Int63n(int64(backoff) / 5))
	return backoff + jitter
}

// WithTx runs fn inside a new transaction, committing on success and
// rolling back on error or panic.
func (s *Store) WithTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return apperrors.NewDatabaseError("begin outbox transaction", err)
	}
	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && rbErr != sql.ErrTxDone {
			return apperrors.NewDatabaseError("rollback outbox transaction", rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return apperrors.NewDatabaseError("commit outbox transaction", err)
	}
	return nil
}
