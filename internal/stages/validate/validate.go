// Package validate implements the validate stage: it applies the business
// rules in internal/validation to the parsed submission and either advances
// to enrich or terminalizes the submission with a permanent rejection
// (spec §4.1 step 2, I-family business-rule checks).
package validate

import (
	"context"
	"encoding/json"
	"time"

	"github.com/priorauth/pagw/internal/bus"
	"github.com/priorauth/pagw/internal/objectstore"
	"github.com/priorauth/pagw/internal/pipeline"
	"github.com/priorauth/pagw/internal/stage"
	"github.com/priorauth/pagw/internal/tracker"
	"github.com/priorauth/pagw/internal/validation"
)

type objectStore interface {
	Get(ctx context.Context, bucket, key string) ([]byte, error)
	Put(ctx context.Context, bucket, key string, data []byte) error
}

// Deps are the validate stage's collaborators.
type Deps struct {
	Store  objectStore
	Bucket string
}

type submissionBody struct {
	RequestType string `json:"requestType"`
	Tenant      string `json:"tenant"`
	Provider    struct {
		NPI  string `json:"npi"`
		Name string `json:"name"`
	} `json:"provider"`
}

// New builds the validate stage's Handler.
func New(deps Deps) stage.Handler {
	return func(ctx context.Context, envelope *bus.Envelope) (stage.Result, error) {
		data, err := deps.Store.Get(ctx, envelope.PayloadBucket, envelope.PayloadKey)
		if err != nil {
			return stage.TransientFailure("object_store_unavailable", err.Error()), nil
		}

		var body submissionBody
		if err := json.Unmarshal(data, &body); err != nil {
			return stage.ValidationFailure(tracker.ErrorStatus("validating"), "malformed_request", "parsed request body is not valid JSON"), nil
		}

		if err := validation.ValidateRequestType(body.RequestType); err != nil {
			return stage.ValidationFailure(tracker.ErrorStatus("validating"), "invalid_request_type", err.Error()), nil
		}

		providerRef := validation.ProviderReference{
			Tenant: envelope.Tenant,
			NPI:    body.Provider.NPI,
			Name:   body.Provider.Name,
		}
		if err := validation.ValidateProviderReference(providerRef); err != nil {
			return stage.ValidationFailure(tracker.ErrorStatus("validating"), "invalid_provider", err.Error()), nil
		}

		validatedKey := objectstore.RequestKey(time.Now(), envelope.SubmissionID, "request/validated.json")
		if err := deps.Store.Put(ctx, deps.Bucket, validatedKey, data); err != nil {
			return stage.TransientFailure("object_store_unavailable", err.Error()), nil
		}

		next := *envelope
		next.PayloadBucket = deps.Bucket
		next.PayloadKey = validatedKey

		return stage.Advance(pipeline.StageEnrich, tracker.StatusValidated, &next), nil
	}
}
