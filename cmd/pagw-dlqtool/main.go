// Command pagw-dlqtool lists and replays dead-lettered outbox messages.
// Spec §4.5 leaves DLQ messages for operator action rather than automatic
// retry; this tool supplies that action without making replay automatic —
// requeue only happens when --confirm is passed.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/priorauth/pagw/internal/bus"
	"github.com/priorauth/pagw/internal/config"
	"github.com/priorauth/pagw/internal/database"
	"github.com/priorauth/pagw/internal/outbox"
	"github.com/priorauth/pagw/internal/pipeline"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "config.yaml", "path to the gateway configuration file")
	limit := flag.Int("limit", 50, "maximum number of DLQ rows to list")
	requeueID := flag.Int64("requeue", 0, "outbox record id to requeue to its original stage")
	confirm := flag.Bool("confirm", false, "actually perform the requeue instead of just printing intent")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	sqlLogger := logrus.New()
	dbCfg := &database.Config{
		Host: cfg.Database.Host, Port: cfg.Database.Port, User: cfg.Database.User,
		Password: cfg.Database.Password, Database: cfg.Database.Name, SSLMode: cfg.Database.SSLMode,
		MaxOpenConns: 5, MaxIdleConns: 2, ConnMaxLifetime: 5 * time.Minute, ConnMaxIdleTime: 5 * time.Minute,
	}
	dbCfg.LoadFromEnv()
	db, err := database.Connect(dbCfg, sqlLogger)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer db.Close()

	ctx := context.Background()
	outboxStore := outbox.NewStore(db)

	if *requeueID != 0 {
		return requeue(ctx, outboxStore, *requeueID, *confirm)
	}

	records, err := outboxStore.ListByDestination(ctx, pipeline.DestinationDLQ, *limit)
	if err != nil {
		return fmt.Errorf("list DLQ records: %w", err)
	}
	if len(records) == 0 {
		fmt.Println("DLQ is empty")
		return nil
	}

	fmt.Printf("%-6s %-10s %-24s %-16s %-8s %s\n", "ID", "TENANT", "SUBMISSION", "EVENT", "RETRIES", "LAST ERROR")
	for _, rec := range records {
		lastError := ""
		if rec.LastError != nil {
			lastError = *rec.LastError
		}
		fmt.Printf("%-6d %-10s %-24s %-16s %-8d %s\n", rec.ID, rec.Tenant, rec.AggregateID, rec.EventType, rec.RetryCount, lastError)
	}
	return nil
}

// requeue decodes id's original stage from its payload envelope and, when
// confirm is set, moves the row back onto that stage's queue with a reset
// retry budget. A message whose payload never parsed as an Envelope in the
// first place (the poison case) has no recoverable destination and is
// reported rather than requeued.
func requeue(ctx context.Context, outboxStore *outbox.Store, id int64, confirm bool) error {
	records, err := outboxStore.ListByDestination(ctx, pipeline.DestinationDLQ, 1000)
	if err != nil {
		return fmt.Errorf("list DLQ records: %w", err)
	}

	var target *outbox.Record
	for i := range records {
		if records[i].ID == id {
			target = &records[i]
			break
		}
	}
	if target == nil {
		return fmt.Errorf("outbox record %d is not currently in the DLQ", id)
	}

	envelope, err := bus.Unmarshal(target.Payload)
	if err != nil || envelope.Stage == "" {
		return fmt.Errorf("outbox record %d has no recoverable stage (poison payload): %w", id, err)
	}

	if !confirm {
		fmt.Printf("would requeue record %d to stage %q (pass --confirm to apply)\n", id, envelope.Stage)
		return nil
	}

	if err := outboxStore.Requeue(ctx, id, envelope.Stage); err != nil {
		return fmt.Errorf("requeue record %d: %w", id, err)
	}
	fmt.Printf("requeued record %d to stage %q\n", id, envelope.Stage)
	return nil
}
