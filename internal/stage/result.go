// Package stage implements the generic Stage Worker Runtime (C6, spec §4.5):
// every pipeline stage is a Handler plugged into the same Runtime loop, which
// owns message receipt, tracker/event bookkeeping, outbox fan-out, and
// acknowledgement. Stages differ only in business logic, never in plumbing.
package stage

import (
	"context"

	"github.com/priorauth/pagw/internal/bus"
	"github.com/priorauth/pagw/internal/tracker"
)

// Kind tags which of the five shapes a stage's outcome took (spec §4.5
// step 4). Exactly one of the Result's payload fields is meaningful per Kind.
type Kind string

const (
	// KindAdvance moves the submission to exactly one next stage.
	KindAdvance Kind = "advance"
	// KindFanOut moves the submission to more than one next stage
	// concurrently (e.g. parse fanning out to validate and attachments).
	KindFanOut Kind = "fan_out"
	// KindTerminalSuccess ends the pipeline successfully; there is no next
	// stage.
	KindTerminalSuccess Kind = "terminal_success"
	// KindValidationFailure is a permanent business rejection: no retry,
	// the submission terminalizes in an error state.
	KindValidationFailure Kind = "validation_failure"
	// KindTransientFailure is a recoverable infrastructure error: the
	// runtime lets the bus redeliver the message rather than acking it.
	KindTransientFailure Kind = "transient_failure"
	// KindBranchComplete ends one fan-out branch (e.g. the attachments
	// side-path) without terminalizing the whole submission: no outbox
	// write, no tracker completion, just an event log entry and an ack.
	KindBranchComplete Kind = "branch_complete"
)

// Result is what a stage Handler returns to the Runtime. Only the Handler
// knows which tracker.Status its outcome corresponds to, so it sets Status
// explicitly rather than the Runtime inferring one from the stage name.
type Result struct {
	Kind   Kind
	Status tracker.Status

	// NextStage is the single destination for KindAdvance.
	NextStage string
	// NextStages are the destinations for KindFanOut.
	NextStages []string
	// Envelope carries the updated references (parsed/enriched/canonical
	// refs, external reference id, etc.) forward to the next stage(s). If
	// nil, the Runtime forwards the inbound envelope unchanged.
	Envelope *bus.Envelope

	// FinalResponseRef is the object-store key of the terminal response,
	// set for KindTerminalSuccess.
	FinalResponseRef string

	// ErrorCode/ErrorMessage describe KindValidationFailure and
	// KindTransientFailure outcomes for the tracker's error snapshot.
	ErrorCode    string
	ErrorMessage string

	// ExternalReferenceID is the payer-assigned handle recorded on the
	// tracker for KindBranchComplete outcomes that leave the submission
	// awaiting an async callback (spec §4.7.2).
	ExternalReferenceID string

	// Artifact, if set, is the per-stage artifact pointer (parsedRef,
	// enrichedRef, canonicalRef, payerReplyRef) the Runtime persists to the
	// tracker in the same transaction as the outbox write (spec §3, §4.5).
	Artifact *ArtifactRef
}

// ArtifactRef names one object-store artifact a stage produced and the
// tracker column it belongs in.
type ArtifactRef struct {
	Field tracker.ArtifactField
	Key   string
}

// Advance builds a KindAdvance result.
func Advance(nextStage string, status tracker.Status, envelope *bus.Envelope) Result {
	return Result{Kind: KindAdvance, NextStage: nextStage, Status: status, Envelope: envelope}
}

// FanOut builds a KindFanOut result.
func FanOut(nextStages []string, status tracker.Status, envelope *bus.Envelope) Result {
	return Result{Kind: KindFanOut, NextStages: nextStages, Status: status, Envelope: envelope}
}

// TerminalSuccess builds a KindTerminalSuccess result.
func TerminalSuccess(status tracker.Status, finalResponseRef string) Result {
	return Result{Kind: KindTerminalSuccess, Status: status, FinalResponseRef: finalResponseRef}
}

// ValidationFailure builds a KindValidationFailure result.
func ValidationFailure(status tracker.Status, code, message string) Result {
	return Result{Kind: KindValidationFailure, Status: status, ErrorCode: code, ErrorMessage: message}
}

// TransientFailure builds a KindTransientFailure result: the tracker's
// status is left unchanged since redelivery retries the same stage.
func TransientFailure(code, message string) Result {
	return Result{Kind: KindTransientFailure, ErrorCode: code, ErrorMessage: message}
}

// BranchComplete builds a KindBranchComplete result for a fan-out branch
// that has nothing further to do (spec P9: the attachments side-path
// converges on its own, it does not gate the main validate→...→notify
// chain).
func BranchComplete(status tracker.Status) Result {
	return Result{Kind: KindBranchComplete, Status: status}
}

// AwaitingCallback builds a KindBranchComplete result for the payer-call
// stage's async path: the submission stays AWAITING_CALLBACK until the
// payer's out-of-band callback resumes it (spec §4.7.2).
func AwaitingCallback(externalReferenceID string) Result {
	return Result{Kind: KindBranchComplete, Status: tracker.StatusAwaitingCallback, ExternalReferenceID: externalReferenceID}
}

// Handler is the business logic for one pipeline stage. It must not touch
// the tracker, event tracker, or outbox directly; the Runtime owns all of
// that bookkeeping so every stage gets it uniformly.
type Handler func(ctx context.Context, envelope *bus.Envelope) (Result, error)
