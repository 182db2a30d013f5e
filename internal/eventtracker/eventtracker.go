// Package eventtracker implements the event_tracker append log: the
// per-submission, monotonically-sequenced record of stage start/ok/fail
// events that backs P2 (monotonic events), P7 (DLQ isolation), P9
// (attachment convergence), and the read-only SLA views named in spec §9.
package eventtracker

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	apperrors "github.com/priorauth/pagw/internal/errors"
)

// EventType is one of the three events a stage invocation can record.
type EventType string

const (
	EventStageStart EventType = "STAGE_START"
	EventStageOK    EventType = "STAGE_OK"
	EventStageFail  EventType = "STAGE_FAIL"
)

// Event is one event_tracker row.
type Event struct {
	ID           int64     `db:"id"`
	SubmissionID string    `db:"submission_id"`
	SequenceNo   int64     `db:"sequence_no"`
	Stage        string    `db:"stage"`
	EventType    EventType `db:"event_type"`
	DurationMs   *int64    `db:"duration_ms"`
	Retryable    *bool     `db:"retryable"`
	ErrorCode    *string   `db:"error_code"`
	ErrorMessage *string   `db:"error_message"`
	OccurredAt   time.Time `db:"occurred_at"`
}

// Store is the Postgres-backed event tracker.
type Store struct {
	db *sqlx.DB
}

func NewStore(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// RecordStart writes a STAGE_START event, assigning the next sequenceNo for
// submissionID from a per-submission counter subquery so sequence numbers
// stay strictly increasing (P2) even with concurrent stage workers across
// different submissions.
func (s *Store) RecordStart(ctx context.Context, submissionID, stage string) error {
	const query = `
		INSERT INTO event_tracker (submission_id, sequence_no, stage, event_type, occurred_at)
		VALUES ($1, (SELECT COALESCE(MAX(sequence_no), 0) + 1 FROM event_tracker WHERE submission_id = $1), $2, $3, $4)`

	_, err := s.db.ExecContext(ctx, query, submissionID, stage, EventStageStart, time.Now().UTC())
	if err != nil {
		return apperrors.NewDatabaseError("record stage start event", err)
	}
	return nil
}

// RecordOK writes a STAGE_OK event with the stage's processing duration.
func (s *Store) RecordOK(ctx context.Context, submissionID, stage string, duration time.Duration) error {
	const query = `
		INSERT INTO event_tracker (submission_id, sequence_no, stage, event_type, duration_ms, occurred_at)
		VALUES ($1, (SELECT COALESCE(MAX(sequence_no), 0) + 1 FROM event_tracker WHERE submission_id = $1), $2, $3, $4, $5)`

	durationMs := duration.Milliseconds()
	_, err := s.db.ExecContext(ctx, query, submissionID, stage, EventStageOK, durationMs, time.Now().UTC())
	if err != nil {
		return apperrors.NewDatabaseError("record stage ok event", err)
	}
	return nil
}

// RecordOKTx is RecordOK run inside tx, so a stage's STAGE_OK event commits
// in the same transaction as the outbox row and tracker update it reports on
// (I6, P3).
func (s *Store) RecordOKTx(ctx context.Context, tx *sqlx.Tx, submissionID, stage string, duration time.Duration) error {
	const query = `
		INSERT INTO event_tracker (submission_id, sequence_no, stage, event_type, duration_ms, occurred_at)
		VALUES ($1, (SELECT COALESCE(MAX(sequence_no), 0) + 1 FROM event_tracker WHERE submission_id = $1), $2, $3, $4, $5)`

	durationMs := duration.Milliseconds()
	_, err := tx.ExecContext(ctx, query, submissionID, stage, EventStageOK, durationMs, time.Now().UTC())
	if err != nil {
		return apperrors.NewDatabaseError("record stage ok event", err)
	}
	return nil
}

// RecordFail writes a STAGE_FAIL event. retryable distinguishes a
// TransientFailure (bus will redeliver) from a terminal ValidationFailure.
func (s *Store) RecordFail(ctx context.Context, submissionID, stage string, retryable bool, errorCode, errorMessage string) error {
	const query = `
		INSERT INTO event_tracker (submission_id, sequence_no, stage, event_type, retryable, error_code, error_message, occurred_at)
		VALUES ($1, (SELECT COALESCE(MAX(sequence_no), 0) + 1 FROM event_tracker WHERE submission_id = $1), $2, $3, $4, $5, $6, $7)`

	_, err := s.db.ExecContext(ctx, query, submissionID, stage, EventStageFail, retryable, errorCode, errorMessage, time.Now().UTC())
	if err != nil {
		return apperrors.NewDatabaseError("record stage fail event", err)
	}
	return nil
}

// Timeline returns every event for submissionID ordered by sequenceNo,
// backing the GET /status/{submissionId}/events read API.
func (s *Store) Timeline(ctx context.Context, submissionID string) ([]Event, error) {
	const query = `SELECT * FROM event_tracker WHERE submission_id = $1 ORDER BY sequence_no ASC`

	var events []Event
	if err := s.db.SelectContext(ctx, &events, query, submissionID); err != nil {
		return nil, apperrors.NewDatabaseError("select event tracker timeline", err)
	}
	return events, nil
}
