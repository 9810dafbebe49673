package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Service holds process-level settings shared by both binaries.
type Service struct {
	Environment string `envconfig:"SERVICE_ENVIRONMENT" required:"true"`
	APIPort     string `envconfig:"SERVICE_API_PORT" default:"8080"`
}

// Store configures the primary SQLite store.
type Store struct {
	Path             string `envconfig:"STORE_PATH" default:"correlation.db"`
	OpTimeoutSec     int    `envconfig:"STORE_OP_TIMEOUT_SEC" default:"5"`
	BusyTimeoutMilli int    `envconfig:"STORE_BUSY_TIMEOUT_MS" default:"5000"`
}

// OpTimeout returns the per-call store timeout.
func (s Store) OpTimeout() time.Duration {
	return time.Duration(s.OpTimeoutSec) * time.Second
}

// ClickHouse configures the analytics mirror connection.
type ClickHouse struct {
	Host            string `envconfig:"CLICKHOUSE_HOST" required:"true"`
	Port            string `envconfig:"CLICKHOUSE_PORT" required:"true"`
	Database        string `envconfig:"CLICKHOUSE_DB" required:"true"`
	User            string `envconfig:"CLICKHOUSE_USER" default:""`
	Password        string `envconfig:"CLICKHOUSE_PASSWORD" default:""`
	UseTLS          bool   `envconfig:"CLICKHOUSE_USE_TLS" default:"false"`
	MaxOpenConns    int    `envconfig:"CLICKHOUSE_MAX_OPEN_CONNS" default:"5"`
	MaxIdleConns    int    `envconfig:"CLICKHOUSE_MAX_IDLE_CONNS" default:"2"`
	ConnMaxLifetime int    `envconfig:"CLICKHOUSE_CONN_MAX_LIFETIME_SEC" default:"3600"`
}

// SQS configures the queue transport used by the event publisher and the
// mirror consumer. QueueURLPrefix is joined with the topic name, so one
// queue exists per topic.
type SQS struct {
	Endpoint       string `envconfig:"SQS_ENDPOINT"`
	Region         string `envconfig:"SQS_REGION" required:"true"`
	QueueURLPrefix string `envconfig:"SQS_QUEUE_URL_PREFIX" required:"true"`
}

// Resolver configures identity resolution.
type Resolver struct {
	SimilarityThreshold float64 `envconfig:"RESOLVER_SIMILARITY_THRESHOLD" default:"0.85"`
	MaxAttempts         int     `envconfig:"RESOLVER_MAX_ATTEMPTS" default:"3"`
	ArchiveAfterDays    int     `envconfig:"RESOLVER_ARCHIVE_AFTER_DAYS" default:"365"`
}

// ArchiveHorizon returns how long inactive users stay unarchived.
func (r Resolver) ArchiveHorizon() time.Duration {
	return time.Duration(r.ArchiveAfterDays) * 24 * time.Hour
}

// Correlator configures session correlation.
type Correlator struct {
	IdleTimeoutMin int `envconfig:"CORRELATOR_IDLE_TIMEOUT_MIN" default:"30"`
	LookbackMin    int `envconfig:"CORRELATOR_LOOKBACK_MIN" default:"60"`
	MaxAttempts    int `envconfig:"CORRELATOR_MAX_ATTEMPTS" default:"3"`
}

// IdleTimeout returns the idle-session closing timeout.
func (c Correlator) IdleTimeout() time.Duration {
	return time.Duration(c.IdleTimeoutMin) * time.Minute
}

// Lookback returns the lead-attribution lookback window.
func (c Correlator) Lookback() time.Duration {
	return time.Duration(c.LookbackMin) * time.Minute
}

// Registry configures heartbeat retention and leader election.
type Registry struct {
	HeartbeatIntervalSec int `envconfig:"REGISTRY_HEARTBEAT_INTERVAL_SEC" default:"30"`
	RetentionSec         int `envconfig:"REGISTRY_RETENTION_SEC" default:"300"`
	ElectionTickSec      int `envconfig:"REGISTRY_ELECTION_TICK_SEC" default:"60"`
}

// StaleThreshold is twice the expected heartbeat interval.
func (r Registry) StaleThreshold() time.Duration {
	return 2 * time.Duration(r.HeartbeatIntervalSec) * time.Second
}

// Retention returns how long non-leader heartbeat rows are kept.
func (r Registry) Retention() time.Duration {
	return time.Duration(r.RetentionSec) * time.Second
}

// ElectionTick returns the fixed election interval.
func (r Registry) ElectionTick() time.Duration {
	return time.Duration(r.ElectionTickSec) * time.Second
}

// Publisher configures the in-process event bus.
type Publisher struct {
	SubscriberBuffer int  `envconfig:"PUBLISHER_SUBSCRIBER_BUFFER" default:"256"`
	SQSEnabled       bool `envconfig:"PUBLISHER_SQS_ENABLED" default:"true"`
}

// Consumer configures the analytics-mirror pipeline.
type Consumer struct {
	BatchSizeMax    int    `envconfig:"CONSUMER_BATCH_SIZE_MAX" default:"2000"`
	BatchTimeoutSec int    `envconfig:"CONSUMER_BATCH_TIMEOUT_SEC" default:"10"`
	HealthCheckPort string `envconfig:"CONSUMER_HEALTH_CHECK_PORT" default:"8081"`
}

// Config aggregates all component configuration.
type Config struct {
	Service    Service
	Store      Store
	ClickHouse ClickHouse
	SQS        SQS
	Resolver   Resolver
	Correlator Correlator
	Registry   Registry
	Publisher  Publisher
	Consumer   Consumer
}

// Load reads configuration from the environment.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process config: %w", err)
	}

	return &cfg, nil
}
