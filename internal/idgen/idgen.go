// Package idgen generates the sortable identifiers the gateway hands out at
// ingress: submissionId (date + in-process sequence + random suffix, so a
// lexicographic sort of submissionIds orders them by day, and within a day
// only the IDs issued by one process are in issue order) and
// messageId (a plain UUID, used as the bus's deduplication id).
package idgen

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

var sequence uint64

// SubmissionID returns a new sortable submission identifier of the form
// "{YYYYMMDD}-{sequence}-{random6}". The date component makes submissions
// roughly sortable by day, the in-process sequence keeps same-instant IDs
// ordered, and the random suffix prevents collisions across instances.
func SubmissionID(now time.Time) string {
	seq := atomic.AddUint64(&sequence, 1)
	suffix := uuid.New().String()[:6]
	return fmt.Sprintf("%s-%06d-%s", now.UTC().Format("20060102"), seq%1000000, suffix)
}

// MessageID returns a new unique bus message identifier, used as the FIFO
// queue's messageDeduplicationId.
func MessageID() string {
	return uuid.New().String()
}

// IdempotencyRecordID returns a new unique identifier for an idempotency
// record row, independent of the caller-supplied idempotency key.
func IdempotencyRecordID() string {
	return uuid.New().String()
}
