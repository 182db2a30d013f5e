// Package idempotency implements the Idempotency Store (C5): a TTL-bounded
// mapping from a caller-supplied idempotency key to the submission it first
// created, so retries of the same logical request never replay side effects
// (spec §4.4, I8/I9, P5). Postgres holds the durable record via a unique
// constraint on (tenant, idempotency_key); Redis fronts it with a cache whose
// entries expire together with the record, so a hot retry burst does not
// round-trip Postgres every time.
package idempotency

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"

	apperrors "github.com/priorauth/pagw/internal/errors"
)

// Record is one idempotency row: the caller-supplied key's mapping to the
// submission it first accepted.
type Record struct {
	IdempotencyKey string     `db:"idempotency_key" json:"idempotencyKey"`
	Tenant         string     `db:"tenant" json:"tenant"`
	SubmissionID   string     `db:"submission_id" json:"submissionId"`
	RequestHash    string     `db:"request_hash" json:"requestHash"`
	ResponseRef    *string    `db:"response_ref" json:"responseRef,omitempty"`
	CreatedAt      time.Time  `db:"created_at" json:"createdAt"`
	ExpiresAt      time.Time  `db:"expires_at" json:"expiresAt"`
}

// DefaultTTL matches a typical prior-auth retry window: long enough to
// absorb client-side retry storms, short enough that the table does not
// grow unbounded.
const DefaultTTL = 24 * time.Hour

// Store is the Postgres-backed idempotency store, fronted by an optional
// Redis cache.
type Store struct {
	db    *sqlx.DB
	redis *redis.Client
	ttl   time.Duration
}

func NewStore(db *sqlx.DB, redisClient *redis.Client, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Store{db: db, redis: redisClient, ttl: ttl}
}

// CheckAndSet implements I8: it returns true and records the key iff no
// live record exists for (tenant, key); otherwise it returns false and the
// caller must treat the submission as a duplicate (spec §4.4 policy). It is
// atomic via the table's unique constraint rather than a read-then-write.
func (s *Store) CheckAndSet(ctx context.Context, tenant, key, submissionID, requestHash string) (bool, error) {
	now := time.Now().UTC()
	expiresAt := now.Add(s.ttl)

	const query = `
		INSERT INTO idempotency (idempotency_key, tenant, submission_id, request_hash, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (tenant, idempotency_key) DO NOTHING`

	result, err := s.db.ExecContext(ctx, query, key, tenant, submissionID, requestHash, now, expiresAt)
	if err != nil {
		return false, apperrors.NewDatabaseError("check and set idempotency record", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, apperrors.NewDatabaseError("read rows affected for idempotency insert", err)
	}

	won := rows == 1
	if won && s.redis != nil {
		s.cacheSet(ctx, tenant, key, &Record{
			IdempotencyKey: key,
			Tenant:         tenant,
			SubmissionID:   submissionID,
			RequestHash:    requestHash,
			CreatedAt:      now,
			ExpiresAt:      expiresAt,
		})
	}
	return won, nil
}

// Get returns the live record for (tenant, key), checking Redis first and
// falling back to Postgres. I9: an expired record behaves as absent.
func (s *Store) Get(ctx context.Context, tenant, key string) (*Record, error) {
	if s.redis != nil {
		if rec, ok := s.cacheGet(ctx, tenant, key); ok {
			if rec.ExpiresAt.After(time.Now().UTC()) {
				return rec, nil
			}
			return nil, apperrors.NewNotFoundError("idempotency key " + key)
		}
	}

	const query = `
		SELECT * FROM idempotency
		WHERE tenant = $1 AND idempotency_key = $2 AND expires_at > $3`

	var rec Record
	err := s.db.GetContext(ctx, &rec, query, tenant, key, time.Now().UTC())
	if err == sql.ErrNoRows {
		return nil, apperrors.NewNotFoundError("idempotency key " + key)
	}
	if err != nil {
		return nil, apperrors.NewDatabaseError("get idempotency record", err)
	}

	if s.redis != nil {
		s.cacheSet(ctx, tenant, key, &rec)
	}
	return &rec, nil
}

// RecordResponse attaches the eventual response pointer so a duplicate
// caller can retrieve the prior outcome.
func (s *Store) RecordResponse(ctx context.Context, tenant, key, responseRef string) error {
	const query = `
		UPDATE idempotency SET response_ref = $1
		WHERE tenant = $2 AND idempotency_key = $3`

	if _, err := s.db.ExecContext(ctx, query, responseRef, tenant, key); err != nil {
		return apperrors.NewDatabaseError("record idempotency response", err)
	}
	if s.redis != nil {
		s.invalidateCache(ctx, tenant, key)
	}
	return nil
}

func cacheKey(tenant, key string) string {
	return "pagw:idempotency:" + tenant + ":" + key
}

func (s *Store) cacheSet(ctx context.Context, tenant, key string, rec *Record) {
	data, err := json.Marshal(rec)
	if err != nil {
		return
	}
	ttl := time.Until(rec.ExpiresAt)
	if ttl <= 0 {
		return
	}
	s.redis.Set(ctx, cacheKey(tenant, key), data, ttl)
}

func (s *Store) cacheGet(ctx context.Context, tenant, key string) (*Record, bool) {
	data, err := s.redis.Get(ctx, cacheKey(tenant, key)).Bytes()
	if err != nil {
		return nil, false
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, false
	}
	return &rec, true
}

func (s *Store) invalidateCache(ctx context.Context, tenant, key string) {
	s.redis.Del(ctx, cacheKey(tenant, key))
}
