package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/marketmypractice/correlation-service/internal/config"
	"github.com/marketmypractice/correlation-service/internal/consumer"
	"github.com/marketmypractice/correlation-service/internal/domain"
	"github.com/marketmypractice/correlation-service/internal/logger"
	"github.com/marketmypractice/correlation-service/internal/pubsub"
	"github.com/marketmypractice/correlation-service/internal/queue"
	"github.com/marketmypractice/correlation-service/internal/queue/sqs"
	"github.com/marketmypractice/correlation-service/internal/registry"
	"github.com/marketmypractice/correlation-service/internal/repository/clickhouse"
	"github.com/marketmypractice/correlation-service/internal/repository/sqlite"
)

// mirroredTopics are the change feeds drained into the analytics mirror.
var mirroredTopics = []domain.Topic{domain.TopicSessions, domain.TopicLeads}

func main() {
	// Load configuration
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

	log.Info("Starting worker service",
		zap.String("environment", cfg.Service.Environment))

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
	heartbeatRepo := sqlite.NewHeartbeatRepository(store, log)
	identityRepo := sqlite.NewIdentityRepository(store, log)

	// Initialize ClickHouse analytics mirror
	chClient, err := clickhouse.NewClient(ctx, &cfg.ClickHouse, log)
	if err != nil {
		log.Fatal("Failed to create ClickHouse client", zap.Error(err))
	}
	defer func() {
		if err := chClient.Close(); err != nil {
			log.Error("Failed to close ClickHouse client", zap.Error(err))
		}
	}()
	analyticsRepo := clickhouse.NewRepository(chClient, log)

	if err := analyticsRepo.InitSchema(ctx); err != nil {
		log.Fatal("Failed to initialize mirror schema", zap.Error(err))
	}
	log.Info("Analytics mirror schema initialized")

	// Initialize SQS client
	var sink queue.TopicPublisher
	sqsClient, err := sqs.NewClient(ctx, cfg.SQS, log)
	if err != nil {
		log.Fatal("Failed to create SQS client", zap.Error(err))
	}
	if cfg.Publisher.SQSEnabled {
		sink = sqsClient
	}
	bus := pubsub.NewBus(cfg.Publisher, sink, log)

	// Initialize registry and elector
	reg := registry.NewRegistry(heartbeatRepo, cfg.Registry, clock, bus, log)
	elector := registry.NewElector(heartbeatRepo, reg, cfg.Registry, clock, bus, log)

	// Start health check endpoint
	go func() {
		http.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
			if err := store.Ping(r.Context()); err != nil {
				log.Warn("Health check failed", zap.Error(err))
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
			w.WriteHeader(http.StatusOK)
		})

		addr := ":" + cfg.Consumer.HealthCheckPort
		log.Info("Health check server starting", zap.String("address", addr))
		if err := http.ListenAndServe(addr, nil); err != nil {
			log.Error("Health check server error", zap.Error(err))
		}
	}()

	workerCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup

	// Start the election loop
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := elector.Run(workerCtx); err != nil {
			log.Error("Elector error", zap.Error(err))
		}
	}()

	// Archive long-inactive users once a day. Archived users stay
	// readable; they just drop out of merge candidate scans.
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := clock.NewTicker(24 * time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-workerCtx.Done():
				return
			case <-ticker.Chan():
				cutoff := clock.Now().UTC().Add(-cfg.Resolver.ArchiveHorizon())
				archived, err := identityRepo.ArchiveUsersBefore(workerCtx, cutoff)
				if err != nil {
					log.Error("Failed to archive inactive users", zap.Error(err))
					continue
				}
				if archived > 0 {
					log.Info("Archived inactive users", zap.Int("archived", archived))
				}
			}
		}
	}()

	// Start one mirror pipeline per topic
	for _, topic := range mirroredTopics {
		c := consumer.NewConsumer(cfg, sqsClient.Consumer(topic), analyticsRepo, log)
		wg.Add(1)
		go func(topic domain.Topic) {
			defer wg.Done()
			log.Info("Mirror consumer starting", zap.String("topic", string(topic)))
			if err := c.Start(workerCtx); err != nil {
				log.Error("Mirror consumer error",
					zap.String("topic", string(topic)),
					zap.Error(err))
			}
		}(topic)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Info("Shutting down worker gracefully")
	cancel()
	wg.Wait()
}
