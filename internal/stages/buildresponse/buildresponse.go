// Package buildresponse implements the build-response stage: it maps the
// payer's raw reply into the gateway's external response shape and hands
// off to notify-subscribers (spec §4.1 step 6).
package buildresponse

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

// Deps are the build-response stage's collaborators.
type Deps struct {
	Store  objectStore
	Bucket string
}

type payerReply struct {
	Status               string `json:"status"`
	Determination        string `json:"determination,omitempty"`
	AuthorizationNumber  string `json:"authorizationNumber,omitempty"`
}

type finalResponse struct {
	SubmissionID        string `json:"submissionId"`
	Status              string `json:"status"`
	Determination       string `json:"determination,omitempty"`
	AuthorizationNumber string `json:"authorizationNumber,omitempty"`
	ExternalReferenceID string `json:"externalReferenceId,omitempty"`
	ErrorCode           string `json:"errorCode,omitempty"`
	ErrorMessage        string `json:"errorMessage,omitempty"`
}

// New builds the build-response stage's Handler.
func New(deps Deps) stage.Handler {
	return func(ctx context.Context, envelope *bus.Envelope) (stage.Result, error) {
		data, err := deps.Store.Get(ctx, envelope.PayloadBucket, envelope.PayloadKey)
		if err != nil {
			return stage.TransientFailure("object_store_unavailable", err.Error()), nil
		}

		var response finalResponse
		if envelope.ErrorCode != "" {
			// The payer rejected the submission (4xx): the raw reply is
			// already persisted by payer-call, build an error response
			// instead of parsing it as a determination.
			response = finalResponse{
				SubmissionID: envelope.SubmissionID,
				Status:       "REJECTED",
				ErrorCode:    envelope.ErrorCode,
				ErrorMessage: envelope.ErrorMessage,
			}
		} else {
			var reply payerReply
			if err := json.Unmarshal(data, &reply); err != nil {
				return stage.ValidationFailure(tracker.ErrorStatus("building_response"), "malformed_payer_reply", "payer reply is not valid JSON"), nil
			}
			response = finalResponse{
				SubmissionID:        envelope.SubmissionID,
				Status:              reply.Status,
				Determination:       reply.Determination,
				AuthorizationNumber: reply.AuthorizationNumber,
				ExternalReferenceID: envelope.ExternalReferenceID,
			}
		}
		body, err := json.Marshal(response)
		if err != nil {
			return stage.TransientFailure("marshal_failed", err.Error()), nil
		}

		finalKey := objectstore.RequestKey(time.Now(), envelope.SubmissionID, objectstore.ResponseFinal)
		if err := deps.Store.Put(ctx, deps.Bucket, finalKey, body); err != nil {
			return stage.TransientFailure("object_store_unavailable", err.Error()), nil
		}

		next := *envelope
		next.PayloadBucket = deps.Bucket
		next.PayloadKey = finalKey

		return stage.Advance(pipeline.StageNotifySubscribers, tracker.StatusBuildingResponse, &next), nil
	}
}
