// Package pipeline declares the Prior Authorization pipeline's stage graph
// (C8, spec §2, §4.1): the fixed set of stages a submission moves through
// and which stage(s) follow each one. The graph is data, not control flow —
// internal/stage's Runtime and the internal/stages/* handlers are what
// actually move a submission from one stage to the next; this package only
// answers "what comes after X" and "what queues must exist."
package pipeline

// Stage names double as outbox/bus destination names (spec §6 Queues).
const (
	StageParse             = "parse"
	StageValidate          = "validate"
	StageAttachments       = "attachments"
	StageEnrich            = "enrich"
	StageConvert           = "convert"
	StagePayerCall         = "payer-call"
	StageBuildResponse     = "build-response"
	StageNotifySubscribers = "notify-subscribers"
)

// DestinationDLQ is the shared dead-letter destination every stage can route
// a poisoned or retry-exhausted message to (spec §7 PoisonMessage).
const DestinationDLQ = "dlq"

// edges is the DAG: parse fans out to validate and attachments (spec §4.1
// step 1 — the raw submission is validated and its attachments processed
// concurrently); validate through notify-subscribers is a linear chain;
// payer-call's sync/async split is a runtime behavior (spec §4.7), not a
// graph fork — both paths land on build-response.
var edges = map[string][]string{
	StageParse:            {StageValidate, StageAttachments},
	StageValidate:         {StageEnrich},
	StageAttachments:      {},
	StageEnrich:           {StageConvert},
	StageConvert:          {StagePayerCall},
	StagePayerCall:        {StageBuildResponse},
	StageBuildResponse:    {StageNotifySubscribers},
	StageNotifySubscribers: {},
}

// Stages lists every stage in the graph, in the fixed declaration order
// above, for iteration (e.g. provisioning one queue per stage at startup).
var Stages = []string{
	StageParse,
	StageValidate,
	StageAttachments,
	StageEnrich,
	StageConvert,
	StagePayerCall,
	StageBuildResponse,
	StageNotifySubscribers,
}

// NextStages returns the stage(s) that follow stage, an empty slice if stage
// is terminal (attachments rejoins the submission via its own convergence
// check rather than a graph edge — spec P9), or nil if stage is unknown.
func NextStages(stage string) []string {
	next, ok := edges[stage]
	if !ok {
		return nil
	}
	return next
}

// IsTerminal reports whether stage has no outgoing edge in the graph.
func IsTerminal(stage string) bool {
	next, ok := edges[stage]
	return ok && len(next) == 0
}

// QueueDestinations lists every bus destination name the gateway must
// provision a queue for: one per stage plus the shared DLQ (spec §6).
func QueueDestinations() []string {
	destinations := make([]string, 0, len(Stages)+1)
	destinations = append(destinations, Stages...)
	destinations = append(destinations, DestinationDLQ)
	return destinations
}
