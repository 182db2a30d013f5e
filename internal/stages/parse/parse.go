// Package parse implements the parse stage: it reads the raw submission
// bytes from the object store, establishes that they are well-formed, and
// fans the submission out to the validate and attachments stages in
// parallel, attachments only when the submission has any (spec §4.1 step 1).
package parse

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/priorauth/pagw/internal/bus"
	"github.com/priorauth/pagw/internal/objectstore"
	"github.com/priorauth/pagw/internal/pipeline"
	"github.com/priorauth/pagw/internal/stage"
	"github.com/priorauth/pagw/internal/tracker"
)

// objectStore is the subset of objectstore.Store the parse stage needs,
// narrowed so tests can supply a fake.
type objectStore interface {
	Get(ctx context.Context, bucket, key string) ([]byte, error)
	Put(ctx context.Context, bucket, key string, data []byte) error
}

// Deps are the parse stage's collaborators.
type Deps struct {
	Store  objectStore
	Bucket string
}

// envelopeBody is the minimal shape the parse stage checks for: a
// well-formed JSON document carrying at least the fields every downstream
// stage needs to identify the request. Anything more specific (request
// type's own schema) is the validate stage's job.
type envelopeBody struct {
	RequestType string `json:"requestType"`
	Provider    struct {
		NPI string `json:"npi"`
	} `json:"provider"`
	HasAttachments bool `json:"hasAttachments"`
	Attachments    []struct {
		ID string `json:"id"`
	} `json:"attachments"`
}

// New builds the parse stage's Handler: it fetches the raw submission,
// confirms it parses as JSON, writes the parsed artifact, and fans out to
// validate, plus attachments when the body sets hasAttachments.
func New(deps Deps) stage.Handler {
	return func(ctx context.Context, envelope *bus.Envelope) (stage.Result, error) {
		raw, err := deps.Store.Get(ctx, envelope.PayloadBucket, envelope.PayloadKey)
		if err != nil {
			return stage.TransientFailure("object_store_unavailable", err.Error()), nil
		}

		var body envelopeBody
		if err := json.Unmarshal(raw, &body); err != nil {
			return stage.ValidationFailure(tracker.ErrorStatus("parsing"), "malformed_request", "request body is not valid JSON"), nil
		}

		parsedKey := objectstore.RequestKey(time.Now(), envelope.SubmissionID, objectstore.RequestParsed)
		if err := deps.Store.Put(ctx, deps.Bucket, parsedKey, raw); err != nil {
			return stage.TransientFailure("object_store_unavailable", err.Error()), nil
		}

		next := *envelope
		next.PayloadBucket = deps.Bucket
		next.PayloadKey = parsedKey
		next.HasAttachments = body.HasAttachments
		next.AttachmentCount = len(body.Attachments)

		destinations := []string{pipeline.StageValidate}
		if body.HasAttachments {
			ids := make([]string, 0, len(body.Attachments))
			for _, a := range body.Attachments {
				ids = append(ids, a.ID)
			}
			next.Metadata = mergeMetadata(next.Metadata, "attachmentIds", strings.Join(ids, ","))
			destinations = append(destinations, pipeline.StageAttachments)
		}

		result := stage.FanOut(destinations, tracker.StatusParsed, &next)
		result.Artifact = &stage.ArtifactRef{Field: tracker.ArtifactParsed, Key: parsedKey}
		return result, nil
	}
}

func mergeMetadata(metadata map[string]string, key, value string) map[string]string {
	if metadata == nil {
		metadata = map[string]string{}
	}
	metadata[key] = value
	return metadata
}
