// Package enrich implements the enrich stage: it attaches provider-registry
// and payer-configuration lookups to the validated submission so the
// convert stage never has to reach outside the envelope for routing
// information (spec §4.1 step 3).
package enrich

import (
	"context"
	"encoding/json"
	"time"

	"github.com/priorauth/pagw/internal/bus"
	"github.com/priorauth/pagw/internal/objectstore"
	"github.com/priorauth/pagw/internal/pipeline"
	"github.com/priorauth/pagw/internal/stage"
	"github.com/priorauth/pagw/internal/tracker"
)

type objectStore interface {
	Get(ctx context.Context, bucket, key string) ([]byte, error)
	Put(ctx context.Context, bucket, key string, data []byte) error
}

// PayerDirectory resolves which payer (and endpoint) should handle a
// submission's provider/request-type pair, backing the provider-registry
// and payer-configuration lookups spec §6 names as supplemental gateway
// state.
type PayerDirectory interface {
	ResolvePayer(ctx context.Context, tenant, npi string) (payerID string, err error)
}

// Deps are the enrich stage's collaborators.
type Deps struct {
	Store    objectStore
	Bucket   string
	Directory PayerDirectory
}

type submissionBody map[string]interface{}

// New builds the enrich stage's Handler.
func New(deps Deps) stage.Handler {
	return func(ctx context.Context, envelope *bus.Envelope) (stage.Result, error) {
		data, err := deps.Store.Get(ctx, envelope.PayloadBucket, envelope.PayloadKey)
		if err != nil {
			return stage.TransientFailure("object_store_unavailable", err.Error()), nil
		}

		var body submissionBody
		if err := json.Unmarshal(data, &body); err != nil {
			return stage.ValidationFailure(tracker.ErrorStatus("enriching"), "malformed_request", "validated request body is not valid JSON"), nil
		}

		npi, _ := extractNPI(body)
		payerID, err := deps.Directory.ResolvePayer(ctx, envelope.Tenant, npi)
		if err != nil {
			return stage.TransientFailure("payer_directory_unavailable", err.Error()), nil
		}
		body["payerId"] = payerID

		enriched, err := json.Marshal(body)
		if err != nil {
			return stage.TransientFailure("marshal_failed", err.Error()), nil
		}

		enrichedKey := objectstore.RequestKey(time.Now(), envelope.SubmissionID, objectstore.RequestEnriched)
		if err := deps.Store.Put(ctx, deps.Bucket, enrichedKey, enriched); err != nil {
			return stage.TransientFailure("object_store_unavailable", err.Error()), nil
		}

		next := *envelope
		next.PayloadBucket = deps.Bucket
		next.PayloadKey = enrichedKey
		next.Metadata = mergeMetadata(next.Metadata, "payerId", payerID)

		result := stage.Advance(pipeline.StageConvert, tracker.StatusEnriched, &next)
		result.Artifact = &stage.ArtifactRef{Field: tracker.ArtifactEnriched, Key: enrichedKey}
		return result, nil
	}
}

func extractNPI(body submissionBody) (string, bool) {
	provider, ok := body["provider"].(map[string]interface{})
	if !ok {
		return "", false
	}
	npi, ok := provider["npi"].(string)
	return npi, ok
}

func mergeMetadata(metadata map[string]string, key, value string) map[string]string {
	if metadata == nil {
		metadata = map[string]string{}
	}
	metadata[key] = value
	return metadata
}
