// Package objectstore implements the Object Store Gateway (C1): the only
// component allowed to read or write the large payloads (raw/parsed/
// enriched/canonical bundles, payer replies, attachments) that flow through
// the pipeline. Every other component addresses a payload by (bucket, key)
// only; the bytes never travel inline through the tracker, the outbox, or
// the bus envelope.
package objectstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	smithyhttp "github.com/aws/smithy-go/transport/http"

	apperrors "github.com/priorauth/pagw/internal/errors"
	sharederrors "github.com/priorauth/pagw/pkg/shared/errors"
)

// Key layout constants, fixed by the external contract (spec §6).
const (
	RequestRaw       = "request/raw.json"
	RequestParsed    = "request/parsed.json"
	RequestEnriched  = "request/enriched.json"
	RequestCanonical = "request/canonical.json"
	ResponsePayerRaw = "response/payer-raw.json"
	ResponseFinal    = "response/final.json"
)

// s3API is the subset of the S3 client the gateway uses, narrowed so tests
// can supply a fake without standing up a real bucket.
type s3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// Config configures the Object Store Gateway's S3 client.
type Config struct {
	Region         string
	Endpoint       string // non-empty to target a local S3-compatible store
	ForcePathStyle bool
	KMSEnabled     bool
}

// Store is the Object Store Gateway.
type Store struct {
	client     s3API
	kmsEnabled bool
}

// NewStore builds a Store, loading AWS credentials the standard way (env,
// shared config, IRSA) and overriding the endpoint when cfg.Endpoint is set
// for local development against MinIO/LocalStack.
func NewStore(ctx context.Context, cfg Config) (*Store, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.ForcePathStyle
	})

	return &Store{client: client, kmsEnabled: cfg.KMSEnabled}, nil
}

// newWithClient builds a Store around an already-constructed s3API,
// exclusively for tests.
func newWithClient(client s3API, kmsEnabled bool) *Store {
	return &Store{client: client, kmsEnabled: kmsEnabled}
}

// Put stores bytes at (bucket, key), overwriting any existing object.
func (s *Store) Put(ctx context.Context, bucket, key string, data []byte) error {
	input := &s3.PutObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(data),
	}
	if s.kmsEnabled {
		input.ServerSideEncryption = "aws:kms"
	}
	if _, err := s.client.PutObject(ctx, input); err != nil {
		return sharederrors.FailedToWithDetails("put object", "object_store", bucket+"/"+key, err)
	}
	return nil
}

// Get returns the object at (bucket, key), or a NotFound-classified error if
// it does not exist.
func (s *Store) Get(ctx context.Context, bucket, key string) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var notFound *smithyhttp.ResponseError
		if isNotFound(err, &notFound) {
			return nil, apperrors.NewNotFoundError(bucket + "/" + key)
		}
		return nil, sharederrors.FailedToWithDetails("get object", "object_store", bucket+"/"+key, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, sharederrors.FailedToWithDetails("read object body", "object_store", bucket+"/"+key, err)
	}
	return data, nil
}

// isNotFound inspects err for S3's NoSuchKey/404 shape. The concrete error
// type differs across SDK versions and LocalStack fidelity, so this checks
// the HTTP status rather than the typed NoSuchKey error alone.
func isNotFound(err error, target **smithyhttp.ResponseError) bool {
	var respErr *smithyhttp.ResponseError
	ok := asResponseError(err, &respErr)
	if ok {
		*target = respErr
		return respErr.HTTPStatusCode() == 404
	}
	return false
}

func asResponseError(err error, target **smithyhttp.ResponseError) bool {
	type responseErrorer interface{ HTTPStatusCode() int }
	for err != nil {
		if re, ok := err.(*smithyhttp.ResponseError); ok {
			*target = re
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// PutParsed writes data to the canonical parsed-data path and returns the
// key: parsed-data/{tenant}/{submissionId}-parsed.json.
func (s *Store) PutParsed(ctx context.Context, bucket, tenant, submissionID string, data []byte) (string, error) {
	key := ParsedDataKey(tenant, submissionID)
	if err := s.Put(ctx, bucket, key, data); err != nil {
		return "", err
	}
	return key, nil
}

// ParsedDataKey builds the canonical parsed-data key for a tenant and
// submission.
func ParsedDataKey(tenant, submissionID string) string {
	return fmt.Sprintf("parsed-data/%s/%s-parsed.json", tenant, submissionID)
}

// RequestKey builds "{YYYYMM}/{submissionId}/{suffix}" for the request/
// response artifact keys (suffix is one of the Request*/Response* constants
// above).
func RequestKey(now time.Time, submissionID, suffix string) string {
	return fmt.Sprintf("%s/%s/%s", now.UTC().Format("200601"), submissionID, suffix)
}

// AttachmentKey builds the key for a single attachment under a submission.
func AttachmentKey(now time.Time, submissionID, attachmentID string) string {
	return fmt.Sprintf("%s/%s/attachments/%s", now.UTC().Format("200601"), submissionID, attachmentID)
}
