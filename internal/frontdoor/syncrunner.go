package frontdoor

import (
	"context"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/priorauth/pagw/internal/bus"
	"github.com/priorauth/pagw/internal/idgen"
	"github.com/priorauth/pagw/internal/pipeline"
	"github.com/priorauth/pagw/internal/stage"
	"github.com/priorauth/pagw/internal/tracker"
)

// syncOutcomeKind tags how the bounded sync runner resolved (spec §4.7.1).
type syncOutcomeKind string

const (
	// syncOutcomeApproved means parse+validate both completed within the
	// deadline and the submission cleared validation; the caller gets an
	// immediate disposition and the async arm merely continues the pipeline.
	syncOutcomeApproved syncOutcomeKind = "approved"
	// syncOutcomeInvalid means validate rejected the submission before the
	// deadline elapsed; the caller gets the validation errors directly and
	// the submission terminalizes — no async continuation.
	syncOutcomeInvalid syncOutcomeKind = "invalid"
	// syncOutcomeTimedOut means no definitive outcome arrived before
	// SyncDeadline; the caller falls back to the plain async accepted
	// response and the async parse message (staged by the caller) is authoritative.
	syncOutcomeTimedOut syncOutcomeKind = "timed_out"
)

type syncOutcome struct {
	kind   syncOutcomeKind
	errors []ValidationError
}

// runSync drives parse and validate in-process, bounded by deps.SyncDeadline
// (spec §4.7.1). It must not perform any side effect the async arm would
// duplicate: on a timeout it writes nothing and returns immediately, leaving
// the async parse message staged by the caller as the sole source of truth.
// Only a definitive APPROVED outcome writes the outbox row(s) the async
// Runtime would have written for validate's advance target, so the async
// continuation resumes from enrich (and attachments, if parse fanned out)
// instead of re-running parse and validate a second time.
func (h *Handler) runSync(ctx context.Context, submissionID, tenant, rawKey string) syncOutcome {
	syncCtx, cancel := context.WithTimeout(ctx, h.deps.SyncDeadline)
	defer cancel()

	parseEnvelope := &bus.Envelope{
		SubmissionID:  submissionID,
		MessageID:     idgen.MessageID(),
		Stage:         pipeline.StageParse,
		Tenant:        tenant,
		PayloadBucket: h.deps.Bucket,
		PayloadKey:    rawKey,
		CreatedAt:     time.Now(),
	}

	parseResult, err := h.invokeStage(syncCtx, h.deps.ParseHandler, parseEnvelope)
	if err != nil {
		return syncOutcome{kind: syncOutcomeTimedOut}
	}
	if parseResult.Kind == stage.KindValidationFailure {
		if updErr := h.deps.TrackerStore.UpdateStatus(ctx, submissionID, tracker.StatusFailed, pipeline.StageParse); updErr != nil {
			h.deps.Logger.Warn("tracker status update failed after sync parse failure", zap.Error(updErr))
		}
		return syncOutcome{kind: syncOutcomeInvalid, errors: []ValidationError{
			{Code: parseResult.ErrorCode, Severity: "ERROR", Location: pipeline.StageParse, Message: parseResult.ErrorMessage},
		}}
	}
	if parseResult.Kind != stage.KindFanOut {
		// parse should only ever fan out; anything else is not an outcome
		// the sync runner knows how to finish early, so fall back to async.
		return syncOutcome{kind: syncOutcomeTimedOut}
	}

	var attachmentsEnvelope *bus.Envelope
	for _, dest := range parseResult.NextStages {
		if dest == pipeline.StageAttachments {
			attachmentsEnvelope = cloneForStage(parseResult.Envelope, pipeline.StageAttachments)
		}
	}
	validateEnvelope := cloneForStage(parseResult.Envelope, pipeline.StageValidate)

	validateResult, err := h.invokeStage(syncCtx, h.deps.ValidateHandler, validateEnvelope)
	if err != nil {
		return syncOutcome{kind: syncOutcomeTimedOut}
	}
	if validateResult.Kind == stage.KindValidationFailure {
		if updErr := h.deps.TrackerStore.UpdateStatus(ctx, submissionID, validateResult.Status, "validate"); updErr != nil {
			h.deps.Logger.Warn("tracker status update failed after sync validation failure", zap.Error(updErr))
		}
		if updErr := h.deps.TrackerStore.UpdateStatus(ctx, submissionID, tracker.StatusFailed, "validate"); updErr != nil {
			h.deps.Logger.Warn("tracker status update failed after sync validation failure", zap.Error(updErr))
		}
		return syncOutcome{kind: syncOutcomeInvalid, errors: []ValidationError{
			{Code: validateResult.ErrorCode, Severity: "ERROR", Location: pipeline.StageValidate, Message: validateResult.ErrorMessage},
		}}
	}
	if validateResult.Kind != stage.KindAdvance {
		return syncOutcome{kind: syncOutcomeTimedOut}
	}

	if err := h.stageSyncContinuation(ctx, tenant, submissionID, validateResult, attachmentsEnvelope); err != nil {
		h.deps.Logger.Error("failed to stage sync continuation", zap.Error(err))
		return syncOutcome{kind: syncOutcomeTimedOut}
	}

	return syncOutcome{kind: syncOutcomeApproved}
}

// invokeStage runs a single stage handler and reclassifies a context
// deadline as an error the caller folds into syncOutcomeTimedOut, rather
// than letting it surface as an ordinary handler error.
func (h *Handler) invokeStage(ctx context.Context, handler stage.Handler, envelope *bus.Envelope) (stage.Result, error) {
	result, err := handler(ctx, envelope)
	if err != nil {
		return stage.Result{}, err
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return stage.Result{}, ctx.Err()
	}
	return result, nil
}

func cloneForStage(envelope *bus.Envelope, next string) *bus.Envelope {
	clone := *envelope
	clone.Stage = next
	clone.MessageID = idgen.MessageID()
	return &clone
}

// stageSyncContinuation writes the exact outbox row(s) the async validate
// Runtime would have written for its advance target, plus the attachments
// branch if parse fanned out to it, in a single transaction (spec §4.7.1).
func (h *Handler) stageSyncContinuation(ctx context.Context, tenant, submissionID string, validateResult stage.Result, attachmentsEnvelope *bus.Envelope) error {
	enrichEnvelope := cloneForStage(validateResult.Envelope, validateResult.NextStage)
	enrichPayload, err := enrichEnvelope.Marshal()
	if err != nil {
		return err
	}

	var attachmentsPayload []byte
	if attachmentsEnvelope != nil {
		attachmentsPayload, err = attachmentsEnvelope.Marshal()
		if err != nil {
			return err
		}
	}

	err = h.deps.OutboxStore.WithTx(ctx, func(tx *sqlx.Tx) error {
		if err := h.deps.OutboxStore.Write(ctx, tx, tenant, submissionID, "stage.advance", validateResult.NextStage, enrichPayload); err != nil {
			return err
		}
		if attachmentsPayload != nil {
			if err := h.deps.OutboxStore.Write(ctx, tx, tenant, submissionID, "stage.fan_out", pipeline.StageAttachments, attachmentsPayload); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	if err := h.deps.TrackerStore.UpdateStatus(ctx, submissionID, tracker.StatusValidated, "validate"); err != nil {
		h.deps.Logger.Warn("tracker status update failed after sync continuation commit", zap.Error(err))
	}
	return nil
}
