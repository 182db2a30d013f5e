package tracker

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"

	apperrors "github.com/priorauth/pagw/internal/errors"
)

// Store is the Postgres-backed Request Tracker Store.
type Store struct {
	db *sqlx.DB
}

func NewStore(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// Create inserts a new tracker row in status RECEIVED (I1: fails on a
// duplicate submissionId via the table's primary key).
func (s *Store) Create(ctx context.Context, t *Tracker) error {
	const query = `
		INSERT INTO request_tracker (
			submission_id, tenant, source_system, request_type, idempotency_key,
			correlation_id, status, last_stage, next_stage, raw_ref, received_at,
			contains_phi, phi_encrypted, created_at, updated_at
		) VALUES (
			:submission_id, :tenant, :source_system, :request_type, :idempotency_key,
			:correlation_id, :status, :last_stage, :next_stage, :raw_ref, :received_at,
			:contains_phi, :phi_encrypted, :created_at, :updated_at
		)`

	if t.Status == "" {
		t.Status = StatusReceived
	}
	_, err := s.db.NamedExecContext(ctx, query, t)
	if err != nil {
		return apperrors.NewDatabaseError("create tracker", err)
	}
	return nil
}

// Get returns the tracker row for submissionID, or a NotFound AppError.
func (s *Store) Get(ctx context.Context, submissionID string) (*Tracker, error) {
	const query = `SELECT * FROM request_tracker WHERE submission_id = $1`

	var t Tracker
	err := s.db.GetContext(ctx, &t, query, submissionID)
	if err == sql.ErrNoRows {
		return nil, apperrors.NewNotFoundError("submission " + submissionID)
	}
	if err != nil {
		return nil, apperrors.NewDatabaseError("get tracker", err)
	}
	return &t, nil
}

// UpdateStatus patches status/lastStage for submissionID. Per spec §4.2 this
// is last-writer-wins: the FIFO-per-submission in-flight message is the true
// progress token, so ordering anomalies on this table are harmless.
func (s *Store) UpdateStatus(ctx context.Context, submissionID string, status Status, stage string) error {
	const query = `
		UPDATE request_tracker
		SET status = $1, last_stage = $2, updated_at = $3
		WHERE submission_id = $4`

	_, err := s.db.ExecContext(ctx, query, status, stage, nowUTC(), submissionID)
	if err != nil {
		return apperrors.NewDatabaseError("update tracker status", err)
	}
	return nil
}

// UpdateStatusTx is UpdateStatus run inside tx, so an Advance/FanOut result's
// tracker mutation commits in the same transaction as the outbox row it
// produced (I6, P3): the caller runs this and outbox.Store.Write under one
// outbox.Store.WithTx.
func (s *Store) UpdateStatusTx(ctx context.Context, tx *sqlx.Tx, submissionID string, status Status, stage string) error {
	const query = `
		UPDATE request_tracker
		SET status = $1, last_stage = $2, updated_at = $3
		WHERE submission_id = $4`

	_, err := tx.ExecContext(ctx, query, status, stage, nowUTC(), submissionID)
	if err != nil {
		return apperrors.NewDatabaseError("update tracker status", err)
	}
	return nil
}

// ArtifactField names one of the per-stage artifact pointer columns (spec §3:
// parsedRef/enrichedRef/canonicalRef/payerReplyRef) a stage's Advance/FanOut
// result writes after producing a new object-store artifact.
type ArtifactField string

const (
	ArtifactParsed     ArtifactField = "parsed_ref"
	ArtifactEnriched   ArtifactField = "enriched_ref"
	ArtifactCanonical  ArtifactField = "canonical_ref"
	ArtifactPayerReply ArtifactField = "payer_reply_ref"
)

// UpdateArtifactRefTx sets field to key inside tx, the same transaction as
// the stage's outbox write and UpdateStatusTx call, per I6/P3.
func (s *Store) UpdateArtifactRefTx(ctx context.Context, tx *sqlx.Tx, submissionID string, field ArtifactField, key string) error {
	var query string
	switch field {
	case ArtifactParsed:
		query = `UPDATE request_tracker SET parsed_ref = $1, updated_at = $2 WHERE submission_id = $3`
	case ArtifactEnriched:
		query = `UPDATE request_tracker SET enriched_ref = $1, updated_at = $2 WHERE submission_id = $3`
	case ArtifactCanonical:
		query = `UPDATE request_tracker SET canonical_ref = $1, updated_at = $2 WHERE submission_id = $3`
	case ArtifactPayerReply:
		query = `UPDATE request_tracker SET payer_reply_ref = $1, updated_at = $2 WHERE submission_id = $3`
	default:
		return apperrors.New(apperrors.ErrorTypeInternal, "unknown tracker artifact field "+string(field))
	}

	_, err := tx.ExecContext(ctx, query, key, nowUTC(), submissionID)
	if err != nil {
		return apperrors.NewDatabaseError("update tracker artifact ref", err)
	}
	return nil
}

// UpdateError records an error snapshot on the tracker without necessarily
// terminalizing it (the caller decides status separately via UpdateStatus).
func (s *Store) UpdateError(ctx context.Context, submissionID, code, message, stage string) error {
	const query = `
		UPDATE request_tracker
		SET last_error_code = $1, last_error_message = $2, last_stage = $3,
		    retry_count = retry_count + 1, updated_at = $4
		WHERE submission_id = $5`

	_, err := s.db.ExecContext(ctx, query, code, message, stage, nowUTC(), submissionID)
	if err != nil {
		return apperrors.NewDatabaseError("update tracker error", err)
	}
	return nil
}

// UpdateFinalStatus marks submissionID terminal with status at stage and
// records finalResponseRef (bucket/key).
func (s *Store) UpdateFinalStatus(ctx context.Context, submissionID string, status Status, stage, finalResponseRef string) error {
	const query = `
		UPDATE request_tracker
		SET status = $1, last_stage = $2, final_response_ref = $3,
		    completed_at = $4, updated_at = $4
		WHERE submission_id = $5`

	now := nowUTC()
	_, err := s.db.ExecContext(ctx, query, status, stage, finalResponseRef, now, submissionID)
	if err != nil {
		return apperrors.NewDatabaseError("update tracker final status", err)
	}
	return nil
}

// UpdateExternalReference records the payer-assigned handle for submissionID.
func (s *Store) UpdateExternalReference(ctx context.Context, submissionID, externalReferenceID string) error {
	const query = `
		UPDATE request_tracker
		SET external_reference_id = $1, updated_at = $2
		WHERE submission_id = $3`

	_, err := s.db.ExecContext(ctx, query, externalReferenceID, nowUTC(), submissionID)
	if err != nil {
		return apperrors.NewDatabaseError("update tracker external reference", err)
	}
	return nil
}

// TryMarkAsyncQueued is the single-winner latch (I2, P4): it flips
// asyncQueued false→true for submissionID and reports whether this caller
// was the one who flipped it, via a conditional UPDATE guarded on the
// current value rather than a read-then-write race.
func (s *Store) TryMarkAsyncQueued(ctx context.Context, submissionID string) (bool, error) {
	const query = `
		UPDATE request_tracker
		SET async_queued = true, async_queued_at = $1
		WHERE submission_id = $2 AND async_queued = false`

	result, err := s.db.ExecContext(ctx, query, nowUTC(), submissionID)
	if err != nil {
		return false, apperrors.NewDatabaseError("try mark async queued", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, apperrors.NewDatabaseError("read rows affected for async queued latch", err)
	}
	return rows == 1, nil
}

var nowUTC = func() time.Time { return time.Now().UTC() }
