// Package attachments implements the attachments side-path stage: it runs
// in parallel with the main validate→...→notify chain, fetching and
// confirming every attachment the submission referenced, then converges on
// its own without ever advancing the main path's lastStage (spec §4.1 step
// 1 fan-out, P9 attachment convergence).
package attachments

import (
	"context"
	"strings"

	"github.com/priorauth/pagw/internal/bus"
	"github.com/priorauth/pagw/internal/stage"
)

// objectStore is the subset of objectstore.Store the attachments stage
// needs, narrowed so tests can supply a fake.
type objectStore interface {
	Get(ctx context.Context, bucket, key string) ([]byte, error)
}

// Deps are the attachments stage's collaborators.
type Deps struct {
	Store  objectStore
	Bucket string
	// AttachmentKey builds the object-store key for a given attachment ID,
	// normally objectstore.AttachmentKey bound to the current time.
	AttachmentKey func(submissionID, attachmentID string) string
}

// New builds the attachments stage's Handler. It never reports a tracker
// Status: per I4, side-path progress must not advance the main path's
// lastStage.
func New(deps Deps) stage.Handler {
	return func(ctx context.Context, envelope *bus.Envelope) (stage.Result, error) {
		ids := attachmentIDs(envelope)
		if len(ids) == 0 {
			return stage.BranchComplete(""), nil
		}

		for _, id := range ids {
			key := deps.AttachmentKey(envelope.SubmissionID, id)
			if _, err := deps.Store.Get(ctx, deps.Bucket, key); err != nil {
				return stage.TransientFailure("attachment_unavailable", err.Error()), nil
			}
		}

		return stage.BranchComplete(""), nil
	}
}

func attachmentIDs(envelope *bus.Envelope) []string {
	raw, ok := envelope.Metadata["attachmentIds"]
	if !ok || raw == "" {
		return nil
	}
	return strings.Split(raw, ",")
}
