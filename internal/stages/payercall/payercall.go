// Package payercall implements the payer-call stage: it submits the
// canonical bundle to the payer over HTTP behind a circuit breaker and
// routes the result down one of two paths — a synchronous payer reply
// advances straight to build-response, while a 202 Accepted leaves the
// submission AWAITING_CALLBACK until the payer's async callback arrives
// out-of-band (spec §4.1 step 5, §4.7).
package payercall

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/sony/gobreaker"

	"github.com/priorauth/pagw/internal/bus"
	apperrors "github.com/priorauth/pagw/internal/errors"
	"github.com/priorauth/pagw/internal/objectstore"
	"github.com/priorauth/pagw/internal/pipeline"
	"github.com/priorauth/pagw/internal/stage"
	"github.com/priorauth/pagw/internal/tracker"
)

type objectStore interface {
	Get(ctx context.Context, bucket, key string) ([]byte, error)
	Put(ctx context.Context, bucket, key string, data []byte) error
}

// httpDoer is the subset of *http.Client the stage calls, so tests can
// substitute a fake transport.
type httpDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Deps are the payer-call stage's collaborators.
type Deps struct {
	Store    objectStore
	Bucket   string
	Client   httpDoer
	Breaker  *gobreaker.CircuitBreaker
	Endpoint string
}

// NewBreaker builds the circuit breaker the payer-call stage trips through
// every request, isolating the gateway from a payer that is down or
// degraded (spec §6 circuit breaker).
func NewBreaker(name string, maxRequests uint32, timeout time.Duration) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: maxRequests,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
	})
}

type payerResponse struct {
	statusCode int
	body       []byte
}

// New builds the payer-call stage's Handler.
func New(deps Deps) stage.Handler {
	return func(ctx context.Context, envelope *bus.Envelope) (stage.Result, error) {
		canonical, err := deps.Store.Get(ctx, envelope.PayloadBucket, envelope.PayloadKey)
		if err != nil {
			return stage.TransientFailure("object_store_unavailable", err.Error()), nil
		}

		result, err := deps.Breaker.Execute(func() (interface{}, error) {
			return callPayer(ctx, deps.Client, deps.Endpoint, canonical)
		})
		if err != nil {
			if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
				return stage.TransientFailure("circuit_open", "payer circuit breaker is open"), nil
			}
			return stage.TransientFailure("payer_call_failed", err.Error()), nil
		}

		resp := result.(payerResponse)
		if resp.statusCode >= 500 {
			return stage.TransientFailure("payer_error", "payer responded with a server error"), nil
		}

		replyKey := objectstore.RequestKey(time.Now(), envelope.SubmissionID, objectstore.ResponsePayerRaw)
		if err := deps.Store.Put(ctx, deps.Bucket, replyKey, resp.body); err != nil {
			return stage.TransientFailure("object_store_unavailable", err.Error()), nil
		}

		next := *envelope
		next.PayloadBucket = deps.Bucket
		next.PayloadKey = replyKey
		next.APIResponseStatus = resp.statusCode

		// A payer 4xx is a non-retryable business outcome, not a pipeline
		// failure: it advances to build-response carrying the rejection so
		// the submitter still gets a delivered (error) response.
		if resp.statusCode >= 400 {
			next.ErrorCode = "payer_rejected"
			next.ErrorMessage = "payer rejected the submission"
			advanced := stage.Advance(pipeline.StageBuildResponse, tracker.StatusSubmitted, &next)
			advanced.Artifact = &stage.ArtifactRef{Field: tracker.ArtifactPayerReply, Key: replyKey}
			return advanced, nil
		}

		if resp.statusCode == http.StatusAccepted {
			var accepted struct {
				ExternalReferenceID string `json:"externalReferenceId"`
			}
			_ = json.Unmarshal(resp.body, &accepted)
			return stage.AwaitingCallback(accepted.ExternalReferenceID), nil
		}

		advanced := stage.Advance(pipeline.StageBuildResponse, tracker.StatusSubmitted, &next)
		advanced.Artifact = &stage.ArtifactRef{Field: tracker.ArtifactPayerReply, Key: replyKey}
		return advanced, nil
	}
}

func callPayer(ctx context.Context, client httpDoer, endpoint string, canonical []byte) (payerResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(canonical))
	if err != nil {
		return payerResponse{}, apperrors.NewPayerError(0, "failed to build payer request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return payerResponse{}, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return payerResponse{}, err
	}

	return payerResponse{statusCode: resp.StatusCode, body: body}, nil
}
