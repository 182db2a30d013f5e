// Command pagw-gateway runs the Orchestrator Front-Door (C7): the HTTP
// submission surface, the bounded sync runner, and the /metrics endpoint.
// It owns no background drain loops of its own — those are pagw-worker and
// pagw-publisher's job — so it can scale independently of pipeline
// throughput.
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
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/priorauth/pagw/internal/config"
	"github.com/priorauth/pagw/internal/database"
	"github.com/priorauth/pagw/internal/frontdoor"
	"github.com/priorauth/pagw/internal/idempotency"
	"github.com/priorauth/pagw/internal/metrics"
	"github.com/priorauth/pagw/internal/objectstore"
	"github.com/priorauth/pagw/internal/obslog"
	"github.com/priorauth/pagw/internal/outbox"
	"github.com/priorauth/pagw/internal/stages/parse"
	"github.com/priorauth/pagw/internal/stages/validate"
	"github.com/priorauth/pagw/internal/tracker"
	trackerevents "github.com/priorauth/pagw/internal/eventtracker"
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

	store, err := objectstore.NewStore(ctx, objectstore.Config{
		Region: cfg.ObjectStore.Region, Endpoint: cfg.ObjectStore.Endpoint,
		ForcePathStyle: cfg.ObjectStore.ForcePathStyle, KMSEnabled: cfg.ObjectStore.KMSEnabled,
	})
	if err != nil {
		return fmt.Errorf("build object store: %w", err)
	}

	var redisClient *redis.Client
	if cfg.Idempotency.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr: cfg.Idempotency.Redis.Addr, Password: cfg.Idempotency.Redis.Password, DB: cfg.Idempotency.Redis.DB,
		})
		defer redisClient.Close()
	}

	trackerStore := tracker.NewStore(db)
	eventStore := trackerevents.NewStore(db)
	outboxStore := outbox.NewStore(db)
	idempotencyStore := idempotency.NewStore(db, redisClient, cfg.Idempotency.TTL)

	parseHandler := parse.New(parse.Deps{Store: store, Bucket: cfg.ObjectStore.Bucket})
	validateHandler := validate.New(validate.Deps{Store: store, Bucket: cfg.ObjectStore.Bucket})

	frontDoor := frontdoor.NewHandler(frontdoor.Deps{
		TrackerStore:     trackerStore,
		EventStore:       eventStore,
		OutboxStore:      outboxStore,
		IdempotencyStore: idempotencyStore,
		Store:            store,
		Bucket:           cfg.ObjectStore.Bucket,
		DefaultTenant:    cfg.Tenancy.DefaultTenant,
		SyncEnabled:      true,
		SyncDeadline:     cfg.SyncRunner.TotalDeadline,
		StageDeadline:    cfg.SyncRunner.StageDeadline,
		ParseHandler:     parseHandler,
		ValidateHandler:  validateHandler,
		Logger:           logger,
	})

	registry := metrics.NewRegistry()

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.HandlerFor(registry.Gatherer(), promhttp.HandlerOpts{}))
	metricsMux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })

	httpServer := &http.Server{Addr: ":" + cfg.Server.HTTPPort, Handler: frontDoor}
	metricsServer := &http.Server{Addr: ":" + cfg.Server.MetricsPort, Handler: metricsMux}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		logger.Info("front door listening", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
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
		_ = httpServer.Shutdown(shutdownCtx)
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

	if err := group.Wait(); err != nil {
		return fmt.Errorf("gateway terminated: %w", err)
	}
	logger.Info("gateway stopped")
	return nil
}
