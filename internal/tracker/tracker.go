// Package tracker implements the Request Tracker Store (C2): the durable,
// per-submission state record that is the authoritative lifecycle record for
// a Prior Authorization submission (spec §4.2). Every stage worker reads and
// patches exactly one row per submissionId here; the in-flight FIFO message
// is the true progress token, this store is a shadow of it.
package tracker

import "time"

// Status is the request tracker's finite state set (spec §4.2).
type Status string

const (
	StatusReceived           Status = "RECEIVED"
	StatusParsing            Status = "PARSING"
	StatusParsed             Status = "PARSED"
	StatusValidating         Status = "VALIDATING"
	StatusValidated          Status = "VALIDATED"
	StatusEnriching          Status = "ENRICHING"
	StatusEnriched           Status = "ENRICHED"
	StatusConverting         Status = "CONVERTING"
	StatusConverted          Status = "CONVERTED"
	StatusSubmitting         Status = "SUBMITTING"
	StatusAwaitingCallback   Status = "AWAITING_CALLBACK"
	StatusSubmitted          Status = "SUBMITTED"
	StatusBuildingResponse   Status = "BUILDING_RESPONSE"
	StatusCompleted          Status = "COMPLETED"
	StatusCompletedWithError Status = "COMPLETED_WITH_ERRORS"
	StatusFailed             Status = "FAILED"
	StatusCancelled          Status = "CANCELLED"
	StatusExpired            Status = "EXPIRED"
)

// ErrorStatus returns the "{stage}_ERROR" status for a given stage name.
func ErrorStatus(stage string) Status {
	return Status(stage + "_ERROR")
}

// IsTerminal reports whether status is one after which I3 forbids any
// further non-audit mutation.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusCompletedWithError, StatusFailed, StatusCancelled, StatusExpired:
		return true
	default:
		return false
	}
}

// Tracker is the Request Tracker Store's row shape (spec §3).
type Tracker struct {
	SubmissionID   string  `db:"submission_id"`
	Tenant         string  `db:"tenant"`
	SourceSystem   string  `db:"source_system"`
	RequestType    string  `db:"request_type"`
	IdempotencyKey *string `db:"idempotency_key"`
	CorrelationID  *string `db:"correlation_id"`

	Status    Status `db:"status"`
	LastStage string `db:"last_stage"`
	NextStage string `db:"next_stage"`

	RawRef           *string `db:"raw_ref"`
	ParsedRef        *string `db:"parsed_ref"`
	EnrichedRef      *string `db:"enriched_ref"`
	CanonicalRef     *string `db:"canonical_ref"`
	PayerReplyRef    *string `db:"payer_reply_ref"`
	FinalResponseRef *string `db:"final_response_ref"`

	LastErrorCode    *string `db:"last_error_code"`
	LastErrorMessage *string `db:"last_error_message"`
	RetryCount       int     `db:"retry_count"`

	ReceivedAt      time.Time  `db:"received_at"`
	SyncProcessedAt *time.Time `db:"sync_processed_at"`
	AsyncQueuedAt   *time.Time `db:"async_queued_at"`
	CompletedAt     *time.Time `db:"completed_at"`
	ExpiresAt       *time.Time `db:"expires_at"`

	ContainsPHI   bool `db:"contains_phi"`
	PHIEncrypted  bool `db:"phi_encrypted"`
	SyncProcessed bool `db:"sync_processed"`
	AsyncQueued   bool `db:"async_queued"`

	ExternalReferenceID *string `db:"external_reference_id"`
	PayerID             *string `db:"payer_id"`

	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}
