package stage

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/priorauth/pagw/internal/bus"
	"github.com/priorauth/pagw/internal/eventtracker"
	"github.com/priorauth/pagw/internal/idgen"
	"github.com/priorauth/pagw/internal/metrics"
	"github.com/priorauth/pagw/internal/obslog"
	"github.com/priorauth/pagw/internal/outbox"
	"github.com/priorauth/pagw/internal/tracker"
	"github.com/priorauth/pagw/pkg/shared/logging"
)

// Receiver is the inbound half of a bus a Runtime polls; bus.Bus satisfies
// it, and tests substitute a fake.
type Receiver interface {
	Receive(ctx context.Context, destination string) (*bus.InboundMessage, error)
	Ack(ctx context.Context, destination string, msg *bus.InboundMessage) error
}

// DestinationDLQ is the outbox destination a poisoned or retry-exhausted
// message is written to instead of its normal next stage (spec §7
// PoisonMessage, P7).
const DestinationDLQ = "dlq"

// DefaultMaxReceives bounds how many times the Runtime will let the bus
// redeliver a message before it gives up and dead-letters it itself, on top
// of whatever redrive policy the queue's own infrastructure enforces.
const DefaultMaxReceives = 5

// Config configures a Runtime.
type Config struct {
	StageName   string
	MaxReceives int
	Deadline    time.Duration
}

// Runtime is the generic Stage Worker Runtime (C6): it owns message receipt,
// tracker/event_tracker bookkeeping, transactional outbox writes, and bus
// acknowledgement uniformly for every stage; only the Handler varies.
type Runtime struct {
	cfg          Config
	receiver     Receiver
	trackerStore *tracker.Store
	eventStore   *eventtracker.Store
	outboxStore  *outbox.Store
	handler      Handler
	logger       *zap.Logger
	metrics      *metrics.Registry
}

// WithMetrics attaches a metrics.Registry the Runtime reports stage duration
// and outcome counts to. Optional: a Runtime built without one simply skips
// instrumentation.
func (r *Runtime) WithMetrics(m *metrics.Registry) *Runtime {
	r.metrics = m
	return r
}

// NewRuntime builds a Runtime for one stage.
func NewRuntime(cfg Config, receiver Receiver, trackerStore *tracker.Store, eventStore *eventtracker.Store, outboxStore *outbox.Store, handler Handler, logger *zap.Logger) *Runtime {
	if cfg.MaxReceives <= 0 {
		cfg.MaxReceives = DefaultMaxReceives
	}
	if cfg.Deadline <= 0 {
		cfg.Deadline = 30 * time.Second
	}
	return &Runtime{
		cfg:          cfg,
		receiver:     receiver,
		trackerStore: trackerStore,
		eventStore:   eventStore,
		outboxStore:  outboxStore,
		handler:      handler,
		logger:       logger,
	}
}

// Run polls the stage's queue until ctx is cancelled, processing one message
// at a time. A real deployment runs several Runtimes per stage concurrently
// for throughput; this loop itself is single-threaded and relies on the
// bus's own concurrency (multiple consumer goroutines/processes) to scale.
func (r *Runtime) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		msg, err := r.receiver.Receive(ctx, r.cfg.StageName)
		if err != nil {
			r.logger.Warn("stage receive failed", obslog.ToZapFields(logging.StageFields(r.cfg.StageName, "").Error(err))...)
			continue
		}
		if msg == nil {
			continue
		}

		if procErr := r.process(ctx, msg); procErr != nil {
			r.logger.Error("stage processing failed", obslog.ToZapFields(logging.StageFields(r.cfg.StageName, "").Error(procErr))...)
		}
	}
}

// process handles exactly one inbound message per spec §4.5's ordered flow:
// deserialize, STAGE_START, invoke handler, apply the result, STAGE_OK/FAIL,
// commit, and finally ack — only once the commit has succeeded.
func (r *Runtime) process(ctx context.Context, msg *bus.InboundMessage) error {
	envelope, err := bus.Unmarshal(msg.Body)
	if err != nil {
		return r.deadLetterPoison(ctx, msg, err)
	}

	if msg.ReceiveCount > r.cfg.MaxReceives {
		return r.deadLetterExhausted(ctx, msg, envelope)
	}

	stageCtx, cancel := context.WithTimeout(ctx, r.cfg.Deadline)
	defer cancel()

	if err := r.eventStore.RecordStart(stageCtx, envelope.SubmissionID, r.cfg.StageName); err != nil {
		return err
	}

	start := time.Now()
	result, handlerErr := r.handler(stageCtx, envelope)
	duration := time.Since(start)

	if handlerErr != nil {
		r.observe(string(KindTransientFailure), duration)
		return r.applyTransientFailure(stageCtx, envelope, "handler_error", handlerErr.Error())
	}

	r.observe(string(result.Kind), duration)

	switch result.Kind {
	case KindAdvance:
		return r.applyAdvance(stageCtx, msg, envelope, result, duration)
	case KindFanOut:
		return r.applyFanOut(stageCtx, msg, envelope, result, duration)
	case KindTerminalSuccess:
		return r.applyTerminalSuccess(stageCtx, msg, envelope, result, duration)
	case KindValidationFailure:
		return r.applyValidationFailure(stageCtx, msg, envelope, result)
	case KindTransientFailure:
		return r.applyTransientFailure(stageCtx, envelope, result.ErrorCode, result.ErrorMessage)
	case KindBranchComplete:
		return r.applyBranchComplete(stageCtx, msg, envelope, result, duration)
	default:
		return r.applyTransientFailure(stageCtx, envelope, "unknown_result_kind", "handler returned an unrecognized result kind")
	}
}

func (r *Runtime) observe(outcome string, duration time.Duration) {
	if r.metrics == nil {
		return
	}
	r.metrics.StageDuration.WithLabelValues(r.cfg.StageName, outcome).Observe(duration.Seconds())
	r.metrics.StageOutcomes.WithLabelValues(r.cfg.StageName, outcome).Inc()
}

func (r *Runtime) nextEnvelope(envelope *bus.Envelope, override *bus.Envelope, stage string) *bus.Envelope {
	next := envelope
	if override != nil {
		next = override
	}
	clone := *next
	clone.Stage = stage
	clone.MessageID = idgen.MessageID()
	return &clone
}

func (r *Runtime) applyAdvance(ctx context.Context, msg *bus.InboundMessage, envelope *bus.Envelope, result Result, duration time.Duration) error {
	outEnvelope := r.nextEnvelope(envelope, result.Envelope, result.NextStage)
	payload, err := outEnvelope.Marshal()
	if err != nil {
		return err
	}

	if err := r.outboxStore.WithTx(ctx, func(tx *sqlx.Tx) error {
		if err := r.outboxStore.Write(ctx, tx, envelope.Tenant, envelope.SubmissionID, "stage.advance", result.NextStage, payload); err != nil {
			return err
		}
		return r.commitStageTx(ctx, tx, envelope, result, duration)
	}); err != nil {
		return err
	}

	return r.receiver.Ack(ctx, r.cfg.StageName, msg)
}

func (r *Runtime) applyFanOut(ctx context.Context, msg *bus.InboundMessage, envelope *bus.Envelope, result Result, duration time.Duration) error {
	if err := r.outboxStore.WithTx(ctx, func(tx *sqlx.Tx) error {
		for _, dest := range result.NextStages {
			outEnvelope := r.nextEnvelope(envelope, result.Envelope, dest)
			payload, err := outEnvelope.Marshal()
			if err != nil {
				return err
			}
			if err := r.outboxStore.Write(ctx, tx, envelope.Tenant, envelope.SubmissionID, "stage.fan_out", dest, payload); err != nil {
				return err
			}
		}
		return r.commitStageTx(ctx, tx, envelope, result, duration)
	}); err != nil {
		return err
	}

	return r.receiver.Ack(ctx, r.cfg.StageName, msg)
}

// commitStageTx writes the tracker status update, the per-stage artifact ref
// (if the handler produced one), and the STAGE_OK event, all inside tx, so
// they commit atomically with the outbox row(s) already written in the same
// transaction (I6, P3, §4.3, §4.5 step 6, §9).
func (r *Runtime) commitStageTx(ctx context.Context, tx *sqlx.Tx, envelope *bus.Envelope, result Result, duration time.Duration) error {
	if result.Status != "" {
		if err := r.trackerStore.UpdateStatusTx(ctx, tx, envelope.SubmissionID, result.Status, r.cfg.StageName); err != nil {
			return err
		}
	}
	if result.Artifact != nil {
		if err := r.trackerStore.UpdateArtifactRefTx(ctx, tx, envelope.SubmissionID, result.Artifact.Field, result.Artifact.Key); err != nil {
			return err
		}
	}
	return r.eventStore.RecordOKTx(ctx, tx, envelope.SubmissionID, r.cfg.StageName, duration)
}

func (r *Runtime) applyBranchComplete(ctx context.Context, msg *bus.InboundMessage, envelope *bus.Envelope, result Result, duration time.Duration) error {
	if result.Status != "" {
		if err := r.trackerStore.UpdateStatus(ctx, envelope.SubmissionID, result.Status, r.cfg.StageName); err != nil {
			r.logger.Warn("tracker status update failed", zap.Error(err))
		}
	}
	if result.ExternalReferenceID != "" {
		if err := r.trackerStore.UpdateExternalReference(ctx, envelope.SubmissionID, result.ExternalReferenceID); err != nil {
			r.logger.Warn("tracker external reference update failed", zap.Error(err))
		}
	}
	if err := r.eventStore.RecordOK(ctx, envelope.SubmissionID, r.cfg.StageName, duration); err != nil {
		r.logger.Warn("event ok record failed", zap.Error(err))
	}
	return r.receiver.Ack(ctx, r.cfg.StageName, msg)
}

func (r *Runtime) applyTerminalSuccess(ctx context.Context, msg *bus.InboundMessage, envelope *bus.Envelope, result Result, duration time.Duration) error {
	if err := r.trackerStore.UpdateFinalStatus(ctx, envelope.SubmissionID, result.Status, r.cfg.StageName, result.FinalResponseRef); err != nil {
		return err
	}
	if err := r.eventStore.RecordOK(ctx, envelope.SubmissionID, r.cfg.StageName, duration); err != nil {
		r.logger.Warn("event ok record failed", zap.Error(err))
	}
	return r.receiver.Ack(ctx, r.cfg.StageName, msg)
}

func (r *Runtime) applyValidationFailure(ctx context.Context, msg *bus.InboundMessage, envelope *bus.Envelope, result Result) error {
	if err := r.trackerStore.UpdateError(ctx, envelope.SubmissionID, result.ErrorCode, result.ErrorMessage, r.cfg.StageName); err != nil {
		r.logger.Warn("tracker error update failed", zap.Error(err))
	}
	if result.Status != "" {
		if err := r.trackerStore.UpdateStatus(ctx, envelope.SubmissionID, result.Status, r.cfg.StageName); err != nil {
			r.logger.Warn("tracker status update failed", zap.Error(err))
		}
	}
	if err := r.trackerStore.UpdateStatus(ctx, envelope.SubmissionID, tracker.StatusFailed, r.cfg.StageName); err != nil {
		r.logger.Warn("tracker status update failed", zap.Error(err))
	}
	if err := r.eventStore.RecordFail(ctx, envelope.SubmissionID, r.cfg.StageName, false, result.ErrorCode, result.ErrorMessage); err != nil {
		r.logger.Warn("event fail record failed", zap.Error(err))
	}
	return r.receiver.Ack(ctx, r.cfg.StageName, msg)
}

// applyTransientFailure records the failure but deliberately does not ack
// the bus message: leaving it unacked lets the queue's visibility timeout
// expire and redeliver it, which is how retry happens for this class of
// error (spec §7 TransientInfrastructureError).
func (r *Runtime) applyTransientFailure(ctx context.Context, envelope *bus.Envelope, errorCode, errorMessage string) error {
	if err := r.trackerStore.UpdateError(ctx, envelope.SubmissionID, errorCode, errorMessage, r.cfg.StageName); err != nil {
		r.logger.Warn("tracker error update failed", zap.Error(err))
	}
	if err := r.eventStore.RecordFail(ctx, envelope.SubmissionID, r.cfg.StageName, true, errorCode, errorMessage); err != nil {
		r.logger.Warn("event fail record failed", zap.Error(err))
	}
	return nil
}

func (r *Runtime) deadLetterPoison(ctx context.Context, msg *bus.InboundMessage, parseErr error) error {
	err := r.outboxStore.WithTx(ctx, func(tx *sqlx.Tx) error {
		return r.outboxStore.Write(ctx, tx, "unknown", "unknown", "stage.poison", DestinationDLQ, msg.Body)
	})
	if err != nil {
		return err
	}
	r.logger.Error("poison message dead-lettered", zap.String("stage", r.cfg.StageName), zap.Error(parseErr))
	if r.metrics != nil {
		r.metrics.DeadLetterCount.WithLabelValues("poison").Inc()
	}
	return r.receiver.Ack(ctx, r.cfg.StageName, msg)
}

func (r *Runtime) deadLetterExhausted(ctx context.Context, msg *bus.InboundMessage, envelope *bus.Envelope) error {
	err := r.outboxStore.WithTx(ctx, func(tx *sqlx.Tx) error {
		return r.outboxStore.Write(ctx, tx, envelope.Tenant, envelope.SubmissionID, "stage.exhausted", DestinationDLQ, msg.Body)
	})
	if err != nil {
		return err
	}
	if uerr := r.trackerStore.UpdateError(ctx, envelope.SubmissionID, "retries_exhausted", "stage exceeded maximum redelivery attempts", r.cfg.StageName); uerr != nil {
		r.logger.Warn("tracker error update failed for exhausted message", zap.Error(uerr))
	}
	r.logger.Error("message exhausted retries, dead-lettered", zap.String("stage", r.cfg.StageName), zap.String("submission_id", envelope.SubmissionID))
	if r.metrics != nil {
		r.metrics.DeadLetterCount.WithLabelValues("retries_exhausted").Inc()
	}
	return r.receiver.Ack(ctx, r.cfg.StageName, msg)
}
