package enrich

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/priorauth/pagw/internal/bus"
	"github.com/priorauth/pagw/internal/pipeline"
	"github.com/priorauth/pagw/internal/stage"
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

type fakeDirectory struct {
	payerID string
	err     error
}

func (f *fakeDirectory) ResolvePayer(ctx context.Context, tenant, npi string) (string, error) {
	return f.payerID, f.err
}

func testEnvelope() *bus.Envelope {
	return &bus.Envelope{
		SubmissionID:  "sub-1",
		Tenant:        "acme-health",
		PayloadBucket: "validated-bucket",
		PayloadKey:    "validated/key.json",
	}
}

func TestEnrich_AdvancesWithResolvedPayer(t *testing.T) {
	store := newFakeStore()
	store.objects["validated-bucket/validated/key.json"] = []byte(`{"provider":{"npi":"1234567890"}}`)

	handler := New(Deps{Store: store, Bucket: "enriched-bucket", Directory: &fakeDirectory{payerID: "availity"}})
	result, err := handler(context.Background(), testEnvelope())
	require.NoError(t, err)
	require.Equal(t, stage.KindAdvance, result.Kind)
	require.Equal(t, pipeline.StageConvert, result.NextStage)
	require.Equal(t, "availity", result.Envelope.Metadata["payerId"])
}

func TestEnrich_DirectoryErrorIsTransientFailure(t *testing.T) {
	store := newFakeStore()
	store.objects["validated-bucket/validated/key.json"] = []byte(`{"provider":{"npi":"1234567890"}}`)

	handler := New(Deps{Store: store, Bucket: "enriched-bucket", Directory: &fakeDirectory{err: errNotFound{}}})
	result, err := handler(context.Background(), testEnvelope())
	require.NoError(t, err)
	require.Equal(t, stage.KindTransientFailure, result.Kind)
}
