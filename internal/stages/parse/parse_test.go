package parse

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

func newFakeStore() *fakeStore {
	return &fakeStore{objects: map[string][]byte{}}
}

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

func testEnvelope() *bus.Envelope {
	return &bus.Envelope{
		SubmissionID:  "sub-1",
		Tenant:        "acme-health",
		PayloadBucket: "raw-bucket",
		PayloadKey:    "raw/key.json",
	}
}

func TestParse_FansOutWhenAttachmentsPresent(t *testing.T) {
	store := newFakeStore()
	store.objects["raw-bucket/raw/key.json"] = []byte(`{"requestType":"initial","provider":{"npi":"1234567890"},"hasAttachments":true,"attachments":[{"id":"att-1"},{"id":"att-2"}]}`)

	handler := New(Deps{Store: store, Bucket: "parsed-bucket"})
	result, err := handler(context.Background(), testEnvelope())
	require.NoError(t, err)
	require.Equal(t, stage.KindFanOut, result.Kind)
	require.ElementsMatch(t, []string{pipeline.StageValidate, pipeline.StageAttachments}, result.NextStages)
	require.True(t, result.Envelope.HasAttachments)
	require.Equal(t, 2, result.Envelope.AttachmentCount)
	require.Equal(t, "att-1,att-2", result.Envelope.Metadata["attachmentIds"])
}

func TestParse_AdvancesOnlyToValidateWithoutAttachments(t *testing.T) {
	store := newFakeStore()
	store.objects["raw-bucket/raw/key.json"] = []byte(`{"requestType":"initial","provider":{"npi":"1234567890"},"hasAttachments":false}`)

	handler := New(Deps{Store: store, Bucket: "parsed-bucket"})
	result, err := handler(context.Background(), testEnvelope())
	require.NoError(t, err)
	require.Equal(t, []string{pipeline.StageValidate}, result.NextStages)
}

func TestParse_MalformedJSONIsValidationFailure(t *testing.T) {
	store := newFakeStore()
	store.objects["raw-bucket/raw/key.json"] = []byte(`{not json`)

	handler := New(Deps{Store: store, Bucket: "parsed-bucket"})
	result, err := handler(context.Background(), testEnvelope())
	require.NoError(t, err)
	require.Equal(t, stage.KindValidationFailure, result.Kind)
}

func TestParse_ObjectStoreUnavailableIsTransientFailure(t *testing.T) {
	store := newFakeStore()

	handler := New(Deps{Store: store, Bucket: "parsed-bucket"})
	result, err := handler(context.Background(), testEnvelope())
	require.NoError(t, err)
	require.Equal(t, stage.KindTransientFailure, result.Kind)
}
