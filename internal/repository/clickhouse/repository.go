package clickhouse

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/marketmypractice/correlation-service/internal/domain"
	"github.com/marketmypractice/correlation-service/internal/repository"
)

// Repository implements repository.AnalyticsRepository for ClickHouse.
// The mirror is filled from the sessions change feed and is eventually
// consistent with the primary store.
type Repository struct {
	client *Client
	log    *zap.Logger
}

// NewRepository creates a new ClickHouse analytics repository.
func NewRepository(client *Client, log *zap.Logger) *Repository {
	return &Repository{
		client: client,
		log:    log,
	}
}

// InitSchema creates the mirror table with a ReplacingMergeTree engine so
// at-least-once delivery collapses to one row per event id.
func (r *Repository) InitSchema(ctx context.Context) error {
	query := `
	CREATE TABLE IF NOT EXISTS session_events_mirror (
		event_id String,
		session_id String,
		user_id String,
		kind LowCardinality(String),
		event_type LowCardinality(String),
		timestamp Int64,
		url String,
		campaign String,
		converted UInt8,
		processed_at DateTime64(3) DEFAULT now64(3),
		version UInt64
	) ENGINE = ReplacingMergeTree(version)
	PRIMARY KEY (event_id)
	ORDER BY (event_id, timestamp)
	PARTITION BY toYYYYMM(toDateTime(timestamp))
	SETTINGS index_granularity = 8192
	`

	if err := r.client.Conn().Exec(ctx, query); err != nil {
		return fmt.Errorf("failed to create session_events_mirror table: %w", err)
	}

	r.log.Info("ClickHouse schema initialized successfully")
	return nil
}

// InsertBatch appends a batch of mirrored events.
func (r *Repository) InsertBatch(ctx context.Context, events []*domain.AnalyticsEvent) (int, error) {
	if len(events) == 0 {
		return 0, nil
	}

	batch, err := r.client.Conn().PrepareBatch(ctx, "INSERT INTO session_events_mirror")
	if err != nil {
		return 0, fmt.Errorf("failed to prepare batch: %w", err)
	}

	insertedCount := 0
	for _, event := range events {
		if event.Version == 0 {
			event.Version = uint64(time.Now().UnixNano())
		}

		converted := uint8(0)
		if event.Converted {
			converted = 1
		}

		err := batch.Append(
			event.EventID,
			event.SessionID,
			event.UserID,
			event.Kind,
			event.EventType,
			event.Timestamp,
			event.URL,
			event.Campaign,
			converted,
			event.ProcessedAt,
			event.Version,
		)
		if err != nil {
			return 0, fmt.Errorf("failed to append event to batch: %w", err)
		}
		insertedCount++
	}

	if err := batch.Send(); err != nil {
		return 0, fmt.Errorf("failed to send batch: %w", err)
	}

	return insertedCount, nil
}

// GetConversionFunnel aggregates the visit -> engaged -> lead -> converted
// funnel over the mirror for the given time range.
func (r *Repository) GetConversionFunnel(ctx context.Context, query repository.FunnelQuery) (*repository.FunnelResult, error) {
	from := query.From.Unix()
	to := query.To.Unix()

	funnelQuery := `
		SELECT
			uniq(session_id) AS sessions,
			uniq(user_id) AS users,
			uniqIf(session_id, engaged) AS engaged_sessions,
			uniqIf(user_id, engaged) AS engaged_users,
			uniqIf(session_id, has_lead) AS lead_sessions,
			uniqIf(user_id, has_lead) AS lead_users,
			uniqIf(session_id, has_conversion) AS converted_sessions,
			uniqIf(user_id, has_conversion) AS converted_users
		FROM (
			SELECT
				session_id,
				any(user_id) AS user_id,
				count() > 1 AS engaged,
				countIf(kind = 'lead') > 0 AS has_lead,
				max(converted) > 0 AS has_conversion
			FROM session_events_mirror FINAL
			WHERE timestamp >= ? AND timestamp <= ?
			GROUP BY session_id
		)
	`

	var sessions, users, engagedSessions, engagedUsers,
		leadSessions, leadUsers, convertedSessions, convertedUsers uint64

	row := r.client.Conn().QueryRow(ctx, funnelQuery, from, to)
	if err := row.Scan(&sessions, &users, &engagedSessions, &engagedUsers,
		&leadSessions, &leadUsers, &convertedSessions, &convertedUsers); err != nil {
		return nil, fmt.Errorf("failed to query conversion funnel: %w", err)
	}

	result := &repository.FunnelResult{
		Stages: []repository.FunnelStage{
			{Stage: "sessions", Sessions: sessions, Users: users},
			{Stage: "engaged", Sessions: engagedSessions, Users: engagedUsers},
			{Stage: "leads", Sessions: leadSessions, Users: leadUsers},
			{Stage: "converted", Sessions: convertedSessions, Users: convertedUsers},
		},
	}
	if sessions > 0 {
		result.ConversionRate = float64(convertedSessions) / float64(sessions)
	}

	return result, nil
}

// Ping checks if the ClickHouse connection is alive.
func (r *Repository) Ping(ctx context.Context) error {
	return r.client.Conn().Ping(ctx)
}

// Close closes the ClickHouse connection.
func (r *Repository) Close() error {
	return r.client.Close()
}
