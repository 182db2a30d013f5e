// Package frontdoor implements the Orchestrator Front-Door (C7): the HTTP
// submission surface, the idempotency check ahead of everything else, the
// single-winner async-queued latch, and the bounded sync runner that
// invokes the early stages in-process before falling back to async
// tracking (spec §4.7).
package frontdoor

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/priorauth/pagw/internal/bus"
	apperrors "github.com/priorauth/pagw/internal/errors"
	"github.com/priorauth/pagw/internal/eventtracker"
	"github.com/priorauth/pagw/internal/idgen"
	"github.com/priorauth/pagw/internal/idempotency"
	"github.com/priorauth/pagw/internal/objectstore"
	"github.com/priorauth/pagw/internal/outbox"
	"github.com/priorauth/pagw/internal/pipeline"
	"github.com/priorauth/pagw/internal/stage"
	"github.com/priorauth/pagw/internal/tracker"
)

// objectStore is the subset of objectstore.Store the front door needs.
type objectStore interface {
	Get(ctx context.Context, bucket, key string) ([]byte, error)
	Put(ctx context.Context, bucket, key string, data []byte) error
}

// Deps are the front door's collaborators.
type Deps struct {
	TrackerStore     *tracker.Store
	EventStore       *eventtracker.Store
	OutboxStore      *outbox.Store
	IdempotencyStore *idempotency.Store
	Store            objectStore
	Bucket           string
	DefaultTenant    string

	SyncEnabled   bool
	SyncDeadline  time.Duration
	StageDeadline time.Duration

	// ParseHandler/ValidateHandler are the in-process invocations the bounded
	// sync runner drives (spec §4.7.1): the same handlers the parse/validate
	// Runtimes use, just called directly instead of through the bus.
	ParseHandler    stage.Handler
	ValidateHandler stage.Handler

	Logger *zap.Logger
}

// Handler is the front door's HTTP surface.
type Handler struct {
	deps   Deps
	router chi.Router
}

// NewHandler builds the front door's chi router.
func NewHandler(deps Deps) *Handler {
	if deps.SyncDeadline <= 0 {
		deps.SyncDeadline = 13 * time.Second
	}
	if deps.StageDeadline <= 0 {
		deps.StageDeadline = 5 * time.Second
	}

	h := &Handler{deps: deps}

	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST"},
		AllowedHeaders: []string{"X-Correlation-ID", "X-Tenant-ID", "X-Idempotency-Key", "Content-Type"},
	}))

	r.Get("/healthz", h.healthz)
	r.Post("/submit", h.submit)
	r.Get("/status/{submissionId}", h.status)
	r.Get("/status/{submissionId}/events", h.events)
	r.Post("/callback/payer/{submissionId}", h.payerCallback)

	h.router = r
	return h
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.router.ServeHTTP(w, r)
}

func (h *Handler) healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

// ValidationError is one structured rejection reason returned to the
// submitter (spec §7 ValidationError, S2).
type ValidationError struct {
	Code     string `json:"code"`
	Severity string `json:"severity"`
	Location string `json:"location"`
	Message  string `json:"message"`
}

type submitResponse struct {
	SubmissionID     string            `json:"submissionId"`
	Status           string            `json:"status"`
	ClaimResponse    json.RawMessage   `json:"claimResponseBundle,omitempty"`
	ValidationErrors []ValidationError `json:"validationErrors,omitempty"`
}

func (h *Handler) submit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	body, err := readBody(w, r)
	if err != nil {
		writeError(w, apperrors.NewValidationError("failed to read request body"))
		return
	}

	correlationID := r.Header.Get("X-Correlation-ID")
	if correlationID == "" {
		writeError(w, apperrors.NewValidationError("X-Correlation-ID header is required"))
		return
	}
	tenant := r.Header.Get("X-Tenant-ID")
	if tenant == "" {
		tenant = h.deps.DefaultTenant
	}

	now := time.Now()
	submissionID := idgen.SubmissionID(now)

	idempotencyKey := r.Header.Get("X-Idempotency-Key")
	if idempotencyKey == "" {
		idempotencyKey = submissionID
	}

	requestHash := hashBody(body)
	won, err := h.deps.IdempotencyStore.CheckAndSet(ctx, tenant, idempotencyKey, submissionID, requestHash)
	if err != nil {
		writeError(w, err)
		return
	}
	if !won {
		existing, err := h.deps.IdempotencyStore.Get(ctx, tenant, idempotencyKey)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, submitResponse{SubmissionID: existing.SubmissionID, Status: "duplicate"})
		return
	}

	rawKey := objectstore.RequestKey(now, submissionID, objectstore.RequestRaw)
	if err := h.deps.Store.Put(ctx, h.deps.Bucket, rawKey, body); err != nil {
		writeError(w, err)
		return
	}

	requestType := extractRequestType(body)
	if err := h.deps.TrackerStore.Create(ctx, &tracker.Tracker{
		SubmissionID:   submissionID,
		Tenant:         tenant,
		SourceSystem:   "front-door",
		RequestType:    requestType,
		IdempotencyKey: &idempotencyKey,
		CorrelationID:  &correlationID,
		Status:         tracker.StatusReceived,
		RawRef:         &rawKey,
		ReceivedAt:     now,
		ContainsPHI:    true,
		PHIEncrypted:   true,
		CreatedAt:      now,
		UpdatedAt:      now,
	}); err != nil {
		writeError(w, err)
		return
	}

	syncMode := r.URL.Query().Get("syncMode") == "true"
	if syncMode && h.deps.SyncEnabled {
		outcome := h.runSync(ctx, submissionID, tenant, rawKey)
		switch outcome.kind {
		case syncOutcomeApproved:
			h.stageAsyncFallback(ctx, submissionID)
			writeJSON(w, http.StatusOK, submitResponse{SubmissionID: submissionID, Status: "approved"})
			return
		case syncOutcomeInvalid:
			writeJSON(w, http.StatusOK, submitResponse{SubmissionID: submissionID, Status: "error", ValidationErrors: outcome.errors})
			return
		case syncOutcomeTimedOut:
			// fall through to the async arm below
		}
	}

	won, err = h.deps.TrackerStore.TryMarkAsyncQueued(ctx, submissionID)
	if err != nil {
		writeError(w, err)
		return
	}
	if won {
		h.stageParseMessage(ctx, submissionID, tenant, rawKey)
	}

	writeJSON(w, http.StatusAccepted, submitResponse{SubmissionID: submissionID, Status: "accepted"})
}

// stageAsyncFallback activates the async arm for a submission the sync
// runner already approved, so the full pipeline still records completion
// (spec §4.7.1). The latch still applies: a concurrent async activation from
// a retry wins exactly once.
func (h *Handler) stageAsyncFallback(ctx context.Context, submissionID string) {
	won, err := h.deps.TrackerStore.TryMarkAsyncQueued(ctx, submissionID)
	if err != nil {
		h.deps.Logger.Warn("async fallback latch failed", zap.Error(err))
		return
	}
	_ = won // the sync runner already staged the next-stage outbox message; nothing further to enqueue here
}

func (h *Handler) stageParseMessage(ctx context.Context, submissionID, tenant, rawKey string) {
	envelope := &bus.Envelope{
		SubmissionID:  submissionID,
		MessageID:     idgen.MessageID(),
		Stage:         pipeline.StageParse,
		Tenant:        tenant,
		PayloadBucket: h.deps.Bucket,
		PayloadKey:    rawKey,
		CreatedAt:     time.Now(),
	}
	payload, err := envelope.Marshal()
	if err != nil {
		h.deps.Logger.Error("failed to marshal parse envelope", zap.Error(err))
		return
	}
	err = h.deps.OutboxStore.WithTx(ctx, func(tx *sqlx.Tx) error {
		return h.deps.OutboxStore.Write(ctx, tx, tenant, submissionID, "submission.received", pipeline.StageParse, payload)
	})
	if err != nil {
		h.deps.Logger.Error("failed to stage parse message", zap.Error(err))
	}
}

type statusResponse struct {
	SubmissionID        string     `json:"submissionId"`
	Status              string     `json:"status"`
	LastStage           string     `json:"lastStage"`
	ExternalReferenceID *string    `json:"externalReferenceId,omitempty"`
	ReceivedAt          time.Time  `json:"receivedAt"`
	CompletedAt         *time.Time `json:"completedAt,omitempty"`
}

func (h *Handler) status(w http.ResponseWriter, r *http.Request) {
	submissionID := chi.URLParam(r, "submissionId")
	t, err := h.deps.TrackerStore.Get(r.Context(), submissionID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{
		SubmissionID:        t.SubmissionID,
		Status:              string(t.Status),
		LastStage:           t.LastStage,
		ExternalReferenceID: t.ExternalReferenceID,
		ReceivedAt:          t.ReceivedAt,
		CompletedAt:         t.CompletedAt,
	})
}

func (h *Handler) events(w http.ResponseWriter, r *http.Request) {
	submissionID := chi.URLParam(r, "submissionId")
	timeline, err := h.deps.EventStore.Timeline(r.Context(), submissionID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, timeline)
}

// payerCallback resumes a submission left AWAITING_CALLBACK by the
// payer-call stage's async path: it re-injects a message at build-response
// carrying the payer's reply (spec §4.6, §4.7.2 boundary adapter).
func (h *Handler) payerCallback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	submissionID := chi.URLParam(r, "submissionId")

	t, err := h.deps.TrackerStore.Get(ctx, submissionID)
	if err != nil {
		writeError(w, err)
		return
	}
	if t.Status != tracker.StatusAwaitingCallback {
		writeError(w, apperrors.NewBusinessRuleError("submission is not awaiting a payer callback"))
		return
	}

	body, err := readBody(w, r)
	if err != nil {
		writeError(w, apperrors.NewValidationError("failed to read callback body"))
		return
	}

	now := time.Now()
	replyKey := objectstore.RequestKey(now, submissionID, objectstore.ResponsePayerRaw)
	if err := h.deps.Store.Put(ctx, h.deps.Bucket, replyKey, body); err != nil {
		writeError(w, err)
		return
	}

	envelope := &bus.Envelope{
		SubmissionID:  submissionID,
		MessageID:     idgen.MessageID(),
		Stage:         pipeline.StageBuildResponse,
		Tenant:        t.Tenant,
		PayloadBucket: h.deps.Bucket,
		PayloadKey:    replyKey,
		CreatedAt:     now,
	}
	payload, err := envelope.Marshal()
	if err != nil {
		writeError(w, err)
		return
	}

	err = h.deps.OutboxStore.WithTx(ctx, func(tx *sqlx.Tx) error {
		return h.deps.OutboxStore.Write(ctx, tx, t.Tenant, submissionID, "payer.callback", pipeline.StageBuildResponse, payload)
	})
	if err != nil {
		writeError(w, err)
		return
	}

	if err := h.deps.TrackerStore.UpdateStatus(ctx, submissionID, tracker.StatusSubmitted, "payer-call"); err != nil {
		h.deps.Logger.Warn("tracker status update failed after payer callback", zap.Error(err))
	}

	w.WriteHeader(http.StatusAccepted)
}

func extractRequestType(body []byte) string {
	var envelope struct {
		RequestType string `json:"requestType"`
	}
	_ = json.Unmarshal(body, &envelope)
	return envelope.RequestType
}

func hashBody(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}

func readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	defer r.Body.Close()
	limited := http.MaxBytesReader(w, r.Body, bus.MaxEnvelopeBytes*4)
	return io.ReadAll(limited)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, apperrors.GetStatusCode(err), map[string]string{
		"error": apperrors.SafeErrorMessage(err),
	})
}
