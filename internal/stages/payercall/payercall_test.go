package payercall

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/require"

	"github.com/priorauth/pagw/internal/bus"
	"github.com/priorauth/pagw/internal/pipeline"
	"github.com/priorauth/pagw/internal/stage"
	"github.com/priorauth/pagw/internal/tracker"
)

type fakeStore struct {
	objects map[string][]byte
}

func newFakeStore() *fakeStore { return &fakeStore{objects: map[string][]byte{}} }

func (f *fakeStore) Get(ctx context.Context, bucket, key string) ([]byte, error) {
	data, ok := f.objects[bucket+"/"+key]
	if !ok {
		return nil, errNotFound{}
	}
	return data, nil
}

func (f *fakeStore) Put(ctx context.Context, bucket, key string, data []byte) error {
	f.objects[bucket+"/"+key] = data
	return nil
}

type errNotFound struct{}

func (errNotFound) Error() string { return "not found" }

type fakeDoer struct {
	statusCode int
	body       string
	err        error
}

func (f *fakeDoer) Do(req *http.Request) (*http.Response, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &http.Response{
		StatusCode: f.statusCode,
		Body:       io.NopCloser(bytes.NewReader([]byte(f.body))),
	}, nil
}

func testEnvelope() *bus.Envelope {
	return &bus.Envelope{
		SubmissionID:  "sub-1",
		Tenant:        "acme-health",
		PayloadBucket: "canonical-bucket",
		PayloadKey:    "canonical/key.json",
	}
}

func newTestBreaker() *gobreaker.CircuitBreaker {
	return NewBreaker("test-payer", 1, 5*time.Second)
}

func TestPayerCall_SyncSuccessAdvancesToBuildResponse(t *testing.T) {
	store := newFakeStore()
	store.objects["canonical-bucket/canonical/key.json"] = []byte(`<x12/>`)

	handler := New(Deps{
		Store:    store,
		Bucket:   "reply-bucket",
		Client:   &fakeDoer{statusCode: http.StatusOK, body: `{"status":"approved"}`},
		Breaker:  newTestBreaker(),
		Endpoint: "https://payer.example/submit",
	})

	result, err := handler(context.Background(), testEnvelope())
	require.NoError(t, err)
	require.Equal(t, stage.KindAdvance, result.Kind)
	require.Equal(t, pipeline.StageBuildResponse, result.NextStage)
}

func TestPayerCall_AsyncAcceptedAwaitsCallback(t *testing.T) {
	store := newFakeStore()
	store.objects["canonical-bucket/canonical/key.json"] = []byte(`<x12/>`)

	handler := New(Deps{
		Store:    store,
		Bucket:   "reply-bucket",
		Client:   &fakeDoer{statusCode: http.StatusAccepted, body: `{"externalReferenceId":"payer-ref-1"}`},
		Breaker:  newTestBreaker(),
		Endpoint: "https://payer.example/submit",
	})

	result, err := handler(context.Background(), testEnvelope())
	require.NoError(t, err)
	require.Equal(t, stage.KindBranchComplete, result.Kind)
	require.Equal(t, "payer-ref-1", result.ExternalReferenceID)
}

func TestPayerCall_PayerServerErrorIsTransientFailure(t *testing.T) {
	store := newFakeStore()
	store.objects["canonical-bucket/canonical/key.json"] = []byte(`<x12/>`)

	handler := New(Deps{
		Store:    store,
		Bucket:   "reply-bucket",
		Client:   &fakeDoer{statusCode: http.StatusInternalServerError, body: ``},
		Breaker:  newTestBreaker(),
		Endpoint: "https://payer.example/submit",
	})

	result, err := handler(context.Background(), testEnvelope())
	require.NoError(t, err)
	require.Equal(t, stage.KindTransientFailure, result.Kind)
}

func TestPayerCall_PayerRejectionAdvancesToBuildResponseWithError(t *testing.T) {
	store := newFakeStore()
	store.objects["canonical-bucket/canonical/key.json"] = []byte(`<x12/>`)

	handler := New(Deps{
		Store:    store,
		Bucket:   "reply-bucket",
		Client:   &fakeDoer{statusCode: http.StatusBadRequest, body: `{"reason":"invalid NPI"}`},
		Breaker:  newTestBreaker(),
		Endpoint: "https://payer.example/submit",
	})

	result, err := handler(context.Background(), testEnvelope())
	require.NoError(t, err)
	require.Equal(t, stage.KindAdvance, result.Kind)
	require.Equal(t, pipeline.StageBuildResponse, result.NextStage)
	require.NotNil(t, result.Envelope)
	require.Equal(t, "payer_rejected", result.Envelope.ErrorCode)
	require.NotEmpty(t, result.Envelope.ErrorMessage)
	require.NotNil(t, result.Artifact)
	require.Equal(t, tracker.ArtifactPayerReply, result.Artifact.Field)
}
