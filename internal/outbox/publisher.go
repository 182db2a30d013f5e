package outbox

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
)

// Sender delivers a leased outbox record's payload to its logical
// destination. internal/bus.Bus satisfies this; kept as a narrow interface
// here so the publisher has no import-time dependency on the SQS wiring.
type Sender interface {
	Send(ctx context.Context, destination, groupID, dedupID string, payload []byte) error
}

// PublisherConfig controls the drain loop's cadence and batch size.
type PublisherConfig struct {
	PollInterval time.Duration
	BatchSize    int
}

// DefaultPublisherConfig matches spec §4.3's "periodically (default ~1s)"
// and a conservative batch size comfortably under typical SQS/Postgres
// round-trip budgets.
func DefaultPublisherConfig() PublisherConfig {
	return PublisherConfig{
		PollInterval: time.Second,
		BatchSize:    25,
	}
}

// Publisher is the Outbox Publisher (C4): a background task that drains
// leased outbox rows to the bus with retry/backoff/DLQ semantics.
type Publisher struct {
	store  *Store
	sender Sender
	cfg    PublisherConfig
	logger *zap.Logger
}

func NewPublisher(store *Store, sender Sender, cfg PublisherConfig, logger *zap.Logger) *Publisher {
	return &Publisher{store: store, sender: sender, cfg: cfg, logger: logger}
}

// Run drains the outbox every PollInterval until ctx is cancelled. Safe to
// run concurrently across multiple publisher instances: leasing uses
// FOR UPDATE SKIP LOCKED so instances never race on the same row.
func (p *Publisher) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := p.drainOnce(ctx); err != nil {
				p.logger.Error("outbox drain cycle failed", zap.Error(err))
			}
		}
	}
}

// drainOnce leases up to BatchSize rows and attempts to send each, inside
// one transaction per batch so the lease locks are held for the shortest
// time that still lets a single commit cover every row's new state.
func (p *Publisher) drainOnce(ctx context.Context) error {
	return p.store.WithTx(ctx, func(tx *sqlx.Tx) error {
		records, err := p.store.Lease(ctx, tx, p.cfg.BatchSize)
		if err != nil {
			return err
		}

		for _, rec := range records {
			sendErr := p.sender.Send(ctx, rec.Destination, rec.AggregateID, messageDedupID(rec), rec.Payload)
			if sendErr != nil {
				p.logger.Warn("outbox send failed",
					zap.Int64("outbox_id", rec.ID),
					zap.String("destination", rec.Destination),
					zap.String("aggregate_id", rec.AggregateID),
					zap.Int("retry_count", rec.RetryCount),
					zap.Error(sendErr),
				)
				if markErr := p.store.MarkFailed(ctx, tx, rec, sendErr.Error()); markErr != nil {
					return markErr
				}
				continue
			}
			if err := p.store.MarkSent(ctx, tx, rec.ID); err != nil {
				return err
			}
		}
		return nil
	})
}

// messageDedupID returns the envelope's messageId from the payload, used as
// the bus's messageDeduplicationId. A payload that does not decode as an
// envelope with a messageId falls back to the outbox row's identity. Both
// are stable across retries of the same row, so the bus's own dedup window
// cannot double-deliver a resend of the same attempt.
func messageDedupID(rec Record) string {
	var env struct {
		MessageID string `json:"messageId"`
	}
	if err := json.Unmarshal(rec.Payload, &env); err == nil && env.MessageID != "" {
		return env.MessageID
	}
	return rec.AggregateID + ":" + rec.Destination + ":" + strconv.FormatInt(rec.ID, 10)
}
