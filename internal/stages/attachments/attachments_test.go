package attachments

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/priorauth/pagw/internal/bus"
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

type errNotFound struct{}

func (errNotFound) Error() string { return "not found" }

func keyFn(submissionID, attachmentID string) string {
	return submissionID + "/attachments/" + attachmentID
}

func TestAttachments_AllPresentBranchCompletesWithEmptyStatus(t *testing.T) {
	store := newFakeStore()
	store.objects["att-bucket/sub-1/attachments/att-1"] = []byte("pdf-bytes")
	store.objects["att-bucket/sub-1/attachments/att-2"] = []byte("pdf-bytes")

	handler := New(Deps{Store: store, Bucket: "att-bucket", AttachmentKey: keyFn})

	envelope := &bus.Envelope{
		SubmissionID: "sub-1",
		Metadata:     map[string]string{"attachmentIds": "att-1,att-2"},
	}

	result, err := handler(context.Background(), envelope)
	require.NoError(t, err)
	require.Equal(t, stage.KindBranchComplete, result.Kind)
	require.Empty(t, result.Status)
}

func TestAttachments_NoAttachmentIDsBranchCompletesImmediately(t *testing.T) {
	store := newFakeStore()
	handler := New(Deps{Store: store, Bucket: "att-bucket", AttachmentKey: keyFn})

	envelope := &bus.Envelope{SubmissionID: "sub-1"}

	result, err := handler(context.Background(), envelope)
	require.NoError(t, err)
	require.Equal(t, stage.KindBranchComplete, result.Kind)
}

func TestAttachments_MissingAttachmentIsTransientFailure(t *testing.T) {
	store := newFakeStore()
	store.objects["att-bucket/sub-1/attachments/att-1"] = []byte("pdf-bytes")

	handler := New(Deps{Store: store, Bucket: "att-bucket", AttachmentKey: keyFn})

	envelope := &bus.Envelope{
		SubmissionID: "sub-1",
		Metadata:     map[string]string{"attachmentIds": "att-1,att-2"},
	}

	result, err := handler(context.Background(), envelope)
	require.NoError(t, err)
	require.Equal(t, stage.KindTransientFailure, result.Kind)
}
