package main

import (
	"context"
	"fmt"
	"net/http"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/marketmypractice/correlation-service/internal/attribution"
	"github.com/marketmypractice/correlation-service/internal/config"
	"github.com/marketmypractice/correlation-service/internal/correlation"
	"github.com/marketmypractice/correlation-service/internal/handler"
	"github.com/marketmypractice/correlation-service/internal/identity"
	"github.com/marketmypractice/correlation-service/internal/logger"
	"github.com/marketmypractice/correlation-service/internal/pubsub"
	"github.com/marketmypractice/correlation-service/internal/queue"
	"github.com/marketmypractice/correlation-service/internal/queue/sqs"
	"github.com/marketmypractice/correlation-service/internal/registry"
	"github.com/marketmypractice/correlation-service/internal/repository/clickhouse"
	"github.com/marketmypractice/correlation-service/internal/repository/sqlite"
	"github.com/marketmypractice/correlation-service/internal/service"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	// Initialize logger
	log, err := logger.New(cfg.Service.Environment)
	if err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}
	defer func(log *zap.Logger) {
		err := log.Sync()
		if err != nil {
			log.Error("Failed to sync logger", zap.Error(err))
		}
	}(log)

	log.Info("Starting API service",
		zap.String("environment", cfg.Service.Environment),
		zap.String("port", cfg.Service.APIPort))

	ctx := context.Background()
	clock := clockwork.NewRealClock()

	// Initialize SQLite primary store
	store, err := sqlite.NewClient(ctx, cfg.Store, log)
	if err != nil {
		log.Fatal("Failed to open store", zap.Error(err))
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Error("Failed to close store", zap.Error(err))
		}
	}()

	identityRepo := sqlite.NewIdentityRepository(store, log)
	sessionRepo := sqlite.NewSessionRepository(store, log)
	heartbeatRepo := sqlite.NewHeartbeatRepository(store, log)

	// Initialize ClickHouse analytics mirror
	clickhouseClient, err := clickhouse.NewClient(ctx, &cfg.ClickHouse, log)
	if err != nil {
		log.Fatal("Failed to create ClickHouse client", zap.Error(err))
	}
	defer func(clickhouseClient *clickhouse.Client) {
		if err := clickhouseClient.Close(); err != nil {
			log.Error("Failed to close ClickHouse client", zap.Error(err))
		}
	}(clickhouseClient)
	analyticsRepo := clickhouse.NewRepository(clickhouseClient, log)

	// Initialize event publisher, forwarding to SQS when enabled
	var sink queue.TopicPublisher
	if cfg.Publisher.SQSEnabled {
		sqsClient, err := sqs.NewClient(ctx, cfg.SQS, log)
		if err != nil {
			log.Fatal("Failed to create SQS client", zap.Error(err))
		}
		sink = sqsClient
	}
	bus := pubsub.NewBus(cfg.Publisher, sink, log)

	// Initialize core components
	resolver := identity.NewResolver(identityRepo, cfg.Resolver, clock, log)
	correlator := correlation.NewCorrelator(sessionRepo, identityRepo, cfg.Correlator, clock, log)
	engine := attribution.NewEngine(identityRepo, sessionRepo, analyticsRepo, log)
	reg := registry.NewRegistry(heartbeatRepo, cfg.Registry, clock, bus, log)

	// Initialize services
	ingestService := service.NewIngestService(resolver, correlator, bus, cfg.Store.OpTimeout(), clock, log)
	registryService := service.NewRegistryService(reg, cfg.Store.OpTimeout(), log)
	queryService := service.NewQueryService(engine, cfg.Store.OpTimeout(), log)

	// Initialize handler
	h := handler.NewHandler(ingestService, registryService, queryService, log)

	addr := fmt.Sprintf(":%s", cfg.Service.APIPort)
	log.Info("API server starting", zap.String("address", addr))

	if err := http.ListenAndServe(addr, h); err != nil {
		log.Fatal("Failed to start API server", zap.Error(err))
	}
}
