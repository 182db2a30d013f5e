package tracker

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/priorauth/pagw/internal/errors"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	sqlxDB := sqlx.NewDb(db, "sqlmock")
	return NewStore(sqlxDB), mock
}

func TestStore_Create(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO request_tracker")).
		WillReturnResult(sqlmock.NewResult(1, 1))

	tr := &Tracker{
		SubmissionID: "20260305-000001-abcdef",
		Tenant:       "acme-health",
		SourceSystem: "provider-portal",
		RequestType:  "initial",
		LastStage:    "front-door",
		NextStage:    "parse",
		ReceivedAt:   time.Now(),
		CreatedAt:    time.Now(),
		UpdatedAt:    time.Now(),
	}

	err := store.Create(context.Background(), tr)
	require.NoError(t, err)
	assert.Equal(t, StatusReceived, tr.Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_Get_NotFound(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM request_tracker WHERE submission_id = $1")).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows(nil))

	_, err := store.Get(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeNotFound))
}

func TestStore_TryMarkAsyncQueued_SingleWinner(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE request_tracker")).
		WithArgs(sqlmock.AnyArg(), "sub-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	won, err := store.TryMarkAsyncQueued(context.Background(), "sub-1")
	require.NoError(t, err)
	assert.True(t, won)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_TryMarkAsyncQueued_AlreadyQueued(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE request_tracker")).
		WithArgs(sqlmock.AnyArg(), "sub-1").
		WillReturnResult(sqlmock.NewResult(0, 0))

	won, err := store.TryMarkAsyncQueued(context.Background(), "sub-1")
	require.NoError(t, err)
	assert.False(t, won)
}

func TestStore_UpdateFinalStatus(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE request_tracker")).
		WithArgs(StatusCompleted, "notify-subscribers", "202603/sub-1/response/final.json", sqlmock.AnyArg(), "sub-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := store.UpdateFinalStatus(context.Background(), "sub-1", StatusCompleted, "notify-subscribers", "202603/sub-1/response/final.json")
	require.NoError(t, err)
}

func TestStore_UpdateStatusTx(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE request_tracker")).
		WithArgs(StatusEnriched, "enrich", sqlmock.AnyArg(), "sub-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	tx, err := store.db.Beginx()
	require.NoError(t, err)
	require.NoError(t, store.UpdateStatusTx(context.Background(), tx, "sub-1", StatusEnriched, "enrich"))
	require.NoError(t, tx.Commit())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_UpdateArtifactRefTx(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE request_tracker SET enriched_ref")).
		WithArgs("202603/sub-1/request/enriched.json", sqlmock.AnyArg(), "sub-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	tx, err := store.db.Beginx()
	require.NoError(t, err)
	require.NoError(t, store.UpdateArtifactRefTx(context.Background(), tx, "sub-1", ArtifactEnriched, "202603/sub-1/request/enriched.json"))
	require.NoError(t, tx.Commit())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_UpdateArtifactRefTx_UnknownField(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectRollback()

	tx, err := store.db.Beginx()
	require.NoError(t, err)

	err = store.UpdateArtifactRefTx(context.Background(), tx, "sub-1", ArtifactField("bogus"), "key")
	require.Error(t, err)
	require.NoError(t, tx.Rollback())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStatus_IsTerminal(t *testing.T) {
	assert.True(t, StatusCompleted.IsTerminal())
	assert.True(t, StatusFailed.IsTerminal())
	assert.False(t, StatusParsing.IsTerminal())
}

func TestErrorStatus(t *testing.T) {
	assert.Equal(t, Status("ENRICH_ERROR"), ErrorStatus("ENRICH"))
}
