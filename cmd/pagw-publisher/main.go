// Command pagw-publisher runs the Outbox Publisher (C4): the background
// drain loop that leases NEW/FAILED outbox rows and delivers them to the
// bus, with the retry/backoff/DLQ semantics of spec §4.3. Safe to run as
// several replicas: leasing uses FOR UPDATE SKIP LOCKED so instances never
// double-send a row.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/priorauth/pagw/internal/bus"
	"github.com/priorauth/pagw/internal/config"
	"github.com/priorauth/pagw/internal/database"
	"github.com/priorauth/pagw/internal/metrics"
	"github.com/priorauth/pagw/internal/obslog"
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
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := obslog.New(obslog.Config{Level: cfg.Logging.Level})
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck

	sqlLogger := logrus.New()
	dbCfg := &database.Config{
		Host: cfg.Database.Host, Port: cfg.Database.Port, User: cfg.Database.User,
		Password: cfg.Database.Password, Database: cfg.Database.Name, SSLMode: cfg.Database.SSLMode,
		MaxOpenConns: 10, MaxIdleConns: 2, ConnMaxLifetime: 5 * time.Minute, ConnMaxIdleTime: 5 * time.Minute,
	}
	dbCfg.LoadFromEnv()
	db, err := database.Connect(dbCfg, sqlLogger)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer db.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	queueURLs := make(map[string]string, len(cfg.Bus.QueueURLs))
	for dest, url := range cfg.Bus.QueueURLs {
		queueURLs[dest] = url
	}
	if len(queueURLs) == 0 {
		for _, dest := range pipeline.QueueDestinations() {
			queueURLs[dest] = dest
		}
	}
	messageBus, err := bus.NewBus(ctx, bus.Config{
		Region: cfg.Bus.Region, Endpoint: cfg.Bus.Endpoint, QueueURLs: queueURLs,
		VisibilityTimeout: cfg.Bus.VisibilityTimeout, WaitTimeSeconds: cfg.Bus.WaitTimeSeconds,
	})
	if err != nil {
		return fmt.Errorf("build bus: %w", err)
	}

	registry := metrics.NewRegistry()
	outboxStore := outbox.NewStore(db)
	publisherCfg := outbox.DefaultPublisherConfig()
	if cfg.Publisher.CooldownPeriod > 0 {
		publisherCfg.PollInterval = cfg.Publisher.CooldownPeriod
	}
	publisher := outbox.NewPublisher(outboxStore, dryRunSender{sender: messageBus, dryRun: cfg.Publisher.DryRun, logger: logger}, publisherCfg, logger)

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.HandlerFor(registry.Gatherer(), promhttp.HandlerOpts{}))
	metricsServer := &http.Server{Addr: ":" + cfg.Server.MetricsPort, Handler: metricsMux}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error { return publisher.Run(groupCtx) })
	group.Go(func() error {
		logger.Info("metrics listening", zap.String("addr", metricsServer.Addr))
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		_ = metricsServer.Shutdown(shutdownCtx)
		return nil
	})

	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		select {
		case sig := <-signalCh:
			logger.Info("caught signal, shutting down", zap.String("signal", sig.String()))
			cancel()
		case <-groupCtx.Done():
		}
	}()

	if err := group.Wait(); err != nil && err != context.Canceled {
		return fmt.Errorf("publisher terminated: %w", err)
	}
	logger.Info("publisher stopped")
	return nil
}

// dryRunSender wraps outbox.Sender so the publisher can be pointed at a
// production outbox table without delivering anything, the config surface
// Publisher.DryRun controls.
type dryRunSender struct {
	sender outbox.Sender
	dryRun bool
	logger *zap.Logger
}

func (d dryRunSender) Send(ctx context.Context, destination, groupID, dedupID string, payload []byte) error {
	if d.dryRun {
		d.logger.Info("dry run: would send outbox record",
			zap.String("destination", destination), zap.String("group_id", groupID), zap.String("dedup_id", dedupID))
		return nil
	}
	return d.sender.Send(ctx, destination, groupID, dedupID, payload)
}
