// Package bus implements stage-to-stage messaging over durable FIFO queues
// (spec §3 PipelineMessage, §4.3, §6). Every queue is an SQS FIFO queue
// keyed by submissionId, so per-submission ordering (spec §5) comes from the
// bus's own group-key guarantee rather than any in-process lock.
package bus

import (
	"encoding/json"
	"strconv"
	"time"
)

// Envelope is the on-bus message passed between stages (spec §3, §6). It
// carries references to artifacts in the object store, never payload bytes.
type Envelope struct {
	SubmissionID  string            `json:"submissionId"`
	MessageID     string            `json:"messageId"`
	SchemaVersion int               `json:"schemaVersion"`
	Stage         string            `json:"stage"`
	Tenant        string            `json:"tenant"`
	PayloadBucket string            `json:"payloadBucket"`
	PayloadKey    string            `json:"payloadKey"`
	ParsedDataRef string            `json:"parsedDataS3Path,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`

	HasAttachments  bool `json:"hasAttachments"`
	AttachmentCount int  `json:"attachmentCount"`

	ExternalReferenceID string `json:"externalReferenceId,omitempty"`
	APIResponseStatus   int    `json:"apiResponseStatus,omitempty"`
	ErrorCode           string `json:"errorCode,omitempty"`
	ErrorMessage        string `json:"errorMessage,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
}

// CurrentSchemaVersion is bumped whenever the envelope's wire shape changes
// in a way a consumer must branch on.
const CurrentSchemaVersion = 1

// MaxEnvelopeBytes enforces spec §9's "≤256 KiB typical for FIFO" ceiling so
// a stage handler can never accidentally inline a large payload instead of
// writing it to the object store and referencing it.
const MaxEnvelopeBytes = 256 * 1024

// Marshal serializes e and rejects envelopes that exceed MaxEnvelopeBytes.
func (e *Envelope) Marshal() ([]byte, error) {
	if e.SchemaVersion == 0 {
		e.SchemaVersion = CurrentSchemaVersion
	}
	data, err := json.Marshal(e)
	if err != nil {
		return nil, err
	}
	if len(data) > MaxEnvelopeBytes {
		return nil, errEnvelopeTooLarge(len(data))
	}
	return data, nil
}

// Unmarshal deserializes an Envelope from data. A malformed envelope should
// be treated by the caller as a poison message (spec §7 PoisonMessage): DLQ
// immediately, no retry.
func Unmarshal(data []byte) (*Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

type envelopeTooLargeError struct{ size int }

func errEnvelopeTooLarge(size int) error { return &envelopeTooLargeError{size: size} }

func (e *envelopeTooLargeError) Error() string {
	return "envelope of " + strconv.Itoa(e.size) + " bytes exceeds the FIFO size limit of " + strconv.Itoa(MaxEnvelopeBytes) + " bytes"
}
