package bus

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"

	apperrors "github.com/priorauth/pagw/internal/errors"
)

// sqsAPI is the subset of the SQS client the bus uses, narrowed so tests can
// supply a fake instead of a real queue.
type sqsAPI interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

// Config configures the bus's SQS client and the logical destination → queue
// URL resolution (spec §6: "Queues (logical names, concrete URLs resolved
// from config)").
type Config struct {
	Region            string
	Endpoint          string // non-empty to target LocalStack/a local broker
	VisibilityTimeout int32
	WaitTimeSeconds   int32
	// QueueURLs maps a logical destination name (parse, validate, enrich, ...)
	// to its concrete FIFO queue URL.
	QueueURLs map[string]string
}

// Bus is the stage-to-stage messaging fabric: an SQS FIFO client that
// resolves logical destination names to queue URLs and always sets
// messageGroupId = submissionId so per-submission ordering holds (spec §5).
type Bus struct {
	client    sqsAPI
	queueURLs map[string]string
}

// NewBus builds a Bus, loading AWS credentials the standard way and
// overriding the endpoint for local development when cfg.Endpoint is set.
func NewBus(ctx context.Context, cfg Config) (*Bus, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := sqs.NewFromConfig(awsCfg, func(o *sqs.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})

	return &Bus{client: client, queueURLs: cfg.QueueURLs}, nil
}

func newWithClient(client sqsAPI, queueURLs map[string]string) *Bus {
	return &Bus{client: client, queueURLs: queueURLs}
}

// Send implements outbox.Sender: it delivers payload to destination's queue
// with messageGroupId=groupID (the submissionId) and
// messageDeduplicationId=dedupID, satisfying spec §4.3 step 2.
func (b *Bus) Send(ctx context.Context, destination, groupID, dedupID string, payload []byte) error {
	queueURL, ok := b.queueURLs[destination]
	if !ok {
		return apperrors.NewValidationError("no queue URL configured for destination " + destination)
	}

	_, err := b.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:               aws.String(queueURL),
		MessageBody:            aws.String(string(payload)),
		MessageGroupId:         aws.String(groupID),
		MessageDeduplicationId: aws.String(dedupID),
	})
	if err != nil {
		return apperrors.NewTransientError(err, "failed to send message to "+destination)
	}
	return nil
}

// InboundMessage is one received SQS message, carrying the receipt handle
// needed to ack it once the stage runtime commits.
type InboundMessage struct {
	Body          []byte
	ReceiptHandle string
	ReceiveCount  int
}

// Receive long-polls destination's queue for up to one message, returning
// (nil, nil) on an empty poll rather than blocking forever, so the caller's
// worker-pool loop can check ctx between polls.
func (b *Bus) Receive(ctx context.Context, destination string) (*InboundMessage, error) {
	queueURL, ok := b.queueURLs[destination]
	if !ok {
		return nil, apperrors.NewValidationError("no queue URL configured for destination " + destination)
	}

	resp, err := b.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:              aws.String(queueURL),
		MaxNumberOfMessages:   1,
		WaitTimeSeconds:       20,
		VisibilityTimeout:     300,
		MessageAttributeNames: []string{"All"},
		AttributeNames:        []sqstypes.QueueAttributeName{sqstypes.QueueAttributeNameApproximateReceiveCount},
	})
	if err != nil {
		return nil, apperrors.NewTransientError(err, "failed to receive message from "+destination)
	}
	if len(resp.Messages) == 0 {
		return nil, nil
	}

	msg := resp.Messages[0]
	receiveCount := 0
	if v, ok := msg.Attributes[string(sqstypes.QueueAttributeNameApproximateReceiveCount)]; ok {
		fmt.Sscanf(v, "%d", &receiveCount)
	}

	return &InboundMessage{
		Body:          []byte(aws.ToString(msg.Body)),
		ReceiptHandle: aws.ToString(msg.ReceiptHandle),
		ReceiveCount:  receiveCount,
	}, nil
}

// Ack deletes the message from destination's queue, the stage runtime's
// final step after a successful commit (spec §4.5 step 6: only after commit
// does the runtime acknowledge the bus message).
func (b *Bus) Ack(ctx context.Context, destination string, msg *InboundMessage) error {
	queueURL, ok := b.queueURLs[destination]
	if !ok {
		return apperrors.NewValidationError("no queue URL configured for destination " + destination)
	}

	_, err := b.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(queueURL),
		ReceiptHandle: aws.String(msg.ReceiptHandle),
	})
	if err != nil {
		return apperrors.NewTransientError(err, "failed to ack message from "+destination)
	}
	return nil
}
