// Command pagw-worker runs the Stage Worker Runtime (C6) for one or more of
// the pipeline's eight stages (internal/pipeline). Each stage gets its own
// internal/stage.Runtime polling its own queue; --stages selects which
// stages this process instance serves, so operators can scale a slow stage
// (payer-call) independently of a cheap one (parse).
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/priorauth/pagw/internal/bus"
	"github.com/priorauth/pagw/internal/config"
	"github.com/priorauth/pagw/internal/database"
	"github.com/priorauth/pagw/internal/directory"
	apperrors "github.com/priorauth/pagw/internal/errors"
	"github.com/priorauth/pagw/internal/eventtracker"
	"github.com/priorauth/pagw/internal/metrics"
	"github.com/priorauth/pagw/internal/objectstore"
	"github.com/priorauth/pagw/internal/obslog"
	"github.com/priorauth/pagw/internal/outbox"
	"github.com/priorauth/pagw/internal/pipeline"
	"github.com/priorauth/pagw/internal/stage"
	"github.com/priorauth/pagw/internal/stages/attachments"
	"github.com/priorauth/pagw/internal/stages/buildresponse"
	"github.com/priorauth/pagw/internal/stages/convert"
	"github.com/priorauth/pagw/internal/stages/enrich"
	"github.com/priorauth/pagw/internal/stages/notifysubscribers"
	"github.com/priorauth/pagw/internal/stages/parse"
	"github.com/priorauth/pagw/internal/stages/payercall"
	"github.com/priorauth/pagw/internal/stages/validate"
	"github.com/priorauth/pagw/internal/tracker"
	sharedhttp "github.com/priorauth/pagw/pkg/shared/http"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "config.yaml", "path to the gateway configuration file")
	stagesFlag := flag.String("stages", "all", "comma-separated stages to run, or \"all\"")
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
		MaxOpenConns: 25, MaxIdleConns: 5, ConnMaxLifetime: 5 * time.Minute, ConnMaxIdleTime: 5 * time.Minute,
	}
	dbCfg.LoadFromEnv()
	db, err := database.Connect(dbCfg, sqlLogger)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer db.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	objStore, err := objectstore.NewStore(ctx, objectstore.Config{
		Region: cfg.ObjectStore.Region, Endpoint: cfg.ObjectStore.Endpoint,
		ForcePathStyle: cfg.ObjectStore.ForcePathStyle, KMSEnabled: cfg.ObjectStore.KMSEnabled,
	})
	if err != nil {
		return fmt.Errorf("build object store: %w", err)
	}

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

	trackerStore := tracker.NewStore(db)
	eventStore := eventtracker.NewStore(db)
	outboxStore := outbox.NewStore(db)
	payerDirectory := directory.NewDirectory(db)
	converterRegistry := directory.NewRegistry(payerDirectory)
	registry := metrics.NewRegistry()

	handlers, err := buildHandlers(cfg, objStore, payerDirectory, converterRegistry)
	if err != nil {
		return fmt.Errorf("build stage handlers: %w", err)
	}

	selected, err := selectStages(*stagesFlag, handlers)
	if err != nil {
		return err
	}

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.HandlerFor(registry.Gatherer(), promhttp.HandlerOpts{}))
	metricsServer := &http.Server{Addr: ":" + cfg.Server.MetricsPort, Handler: metricsMux}

	group, groupCtx := errgroup.WithContext(ctx)
	for _, stageName := range selected {
		stageName := stageName
		runtime := stage.NewRuntime(
			stage.Config{StageName: stageName, Deadline: 30 * time.Second},
			messageBus, trackerStore, eventStore, outboxStore, handlers[stageName], logger,
		).WithMetrics(registry)
		group.Go(func() error { return runtime.Run(groupCtx) })
	}
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
		return fmt.Errorf("worker terminated: %w", err)
	}
	logger.Info("worker stopped")
	return nil
}

// buildHandlers wires one stage.Handler per pipeline stage, grouping the
// collaborators each concrete stage package needs.
func buildHandlers(cfg *config.Config, objStore *objectstore.Store, payerDirectory *directory.Directory, converterRegistry *directory.Registry) (map[string]stage.Handler, error) {
	bucket := cfg.ObjectStore.Bucket

	breaker := payercall.NewBreaker("payer-"+cfg.Payer.Provider, cfg.Payer.CircuitBreakerMaxReqs, cfg.Payer.Timeout)
	payerClient := sharedhttp.NewClient(sharedhttp.PayerClientConfig(cfg.Payer.Timeout))

	attributesFromEnvelope := func(envelope *bus.Envelope) map[string]string {
		attrs := map[string]string{}
		if payer, ok := envelope.Metadata["payerId"]; ok {
			attrs["payer"] = payer
		}
		return attrs
	}

	return map[string]stage.Handler{
		pipeline.StageParse:    parse.New(parse.Deps{Store: objStore, Bucket: bucket}),
		pipeline.StageValidate: validate.New(validate.Deps{Store: objStore, Bucket: bucket}),
		pipeline.StageAttachments: attachments.New(attachments.Deps{
			Store: objStore, Bucket: bucket,
			AttachmentKey: func(submissionID, attachmentID string) string {
				return objectstore.AttachmentKey(time.Now(), submissionID, attachmentID)
			},
		}),
		pipeline.StageEnrich:  enrich.New(enrich.Deps{Store: objStore, Bucket: bucket, Directory: payerDirectory}),
		pipeline.StageConvert: convert.New(convert.Deps{Store: objStore, Bucket: bucket, Converters: converterRegistry}),
		pipeline.StagePayerCall: payercall.New(payercall.Deps{
			Store: objStore, Bucket: bucket, Client: payerClient, Breaker: breaker, Endpoint: cfg.Payer.Endpoint,
		}),
		pipeline.StageBuildResponse: buildresponse.New(buildresponse.Deps{Store: objStore, Bucket: bucket}),
		pipeline.StageNotifySubscribers: notifysubscribers.New(notifysubscribers.Deps{
			Poster: notifysubscribers.NewSlackPoster(), WebhookURL: cfg.Notification.SlackWebhookURL,
			Subscribers: cfg.Subscribers, Attributes: attributesFromEnvelope,
		}),
	}, nil
}

func selectStages(flagValue string, handlers map[string]stage.Handler) ([]string, error) {
	if flagValue == "all" || flagValue == "" {
		return pipeline.Stages, nil
	}

	var selected []string
	for _, name := range strings.Split(flagValue, ",") {
		name = strings.TrimSpace(name)
		if _, ok := handlers[name]; !ok {
			return nil, apperrors.NewValidationError("unknown stage " + name)
		}
		selected = append(selected, name)
	}
	return selected, nil
}
