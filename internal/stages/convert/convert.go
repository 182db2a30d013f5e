// Package convert implements the convert stage: it transforms the enriched
// submission into the payer's canonical wire format (spec §4.1 step 4). The
// transformation itself is payer-specific; this stage only owns looking up
// which Converter to run and persisting its output.
package convert

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

// Converter transforms an enriched submission body into the wire bytes a
// specific payer integration expects (e.g. X12 278, payer-specific JSON).
type Converter interface {
	Convert(ctx context.Context, enriched map[string]interface{}) ([]byte, error)
}

// ConverterRegistry resolves a payer id to its Converter.
type ConverterRegistry interface {
	ConverterFor(payerID string) (Converter, bool)
}

// Deps are the convert stage's collaborators.
type Deps struct {
	Store      objectStore
	Bucket     string
	Converters ConverterRegistry
}

// New builds the convert stage's Handler.
func New(deps Deps) stage.Handler {
	return func(ctx context.Context, envelope *bus.Envelope) (stage.Result, error) {
		data, err := deps.Store.Get(ctx, envelope.PayloadBucket, envelope.PayloadKey)
		if err != nil {
			return stage.TransientFailure("object_store_unavailable", err.Error()), nil
		}

		var body map[string]interface{}
		if err := json.Unmarshal(data, &body); err != nil {
			return stage.ValidationFailure(tracker.ErrorStatus("converting"), "malformed_request", "enriched request body is not valid JSON"), nil
		}

		payerID := envelope.Metadata["payerId"]
		converter, ok := deps.Converters.ConverterFor(payerID)
		if !ok {
			return stage.ValidationFailure(tracker.ErrorStatus("converting"), "unsupported_payer", "no converter registered for payer "+payerID), nil
		}

		canonical, err := converter.Convert(ctx, body)
		if err != nil {
			return stage.ValidationFailure(tracker.ErrorStatus("converting"), "conversion_failed", err.Error()), nil
		}

		canonicalKey := objectstore.RequestKey(time.Now(), envelope.SubmissionID, objectstore.RequestCanonical)
		if err := deps.Store.Put(ctx, deps.Bucket, canonicalKey, canonical); err != nil {
			return stage.TransientFailure("object_store_unavailable", err.Error()), nil
		}

		next := *envelope
		next.PayloadBucket = deps.Bucket
		next.PayloadKey = canonicalKey

		result := stage.Advance(pipeline.StagePayerCall, tracker.StatusConverted, &next)
		result.Artifact = &stage.ArtifactRef{Field: tracker.ArtifactCanonical, Key: canonicalKey}
		return result, nil
	}
}
