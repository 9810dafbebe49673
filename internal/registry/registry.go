package registry

import (
	"context"
	"errors"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/marketmypractice/correlation-service/internal/config"
	"github.com/marketmypractice/correlation-service/internal/domain"
	"github.com/marketmypractice/correlation-service/internal/pubsub"
	"github.com/marketmypractice/correlation-service/internal/repository"
)

// Registry accepts liveness signals from distributed workers. Heartbeat
// publication is fire-and-forget: it never blocks on election state.
type Registry struct {
	repo      repository.HeartbeatRepository
	cfg       config.Registry
	clock     clockwork.Clock
	publisher pubsub.Publisher
	log       *zap.Logger
}

// NewRegistry creates a new heartbeat registry.
func NewRegistry(repo repository.HeartbeatRepository, cfg config.Registry, clock clockwork.Clock,
	publisher pubsub.Publisher, log *zap.Logger) *Registry {
	return &Registry{
		repo:      repo,
		cfg:       cfg,
		clock:     clock,
		publisher: publisher,
		log:       log,
	}
}

// PublishHeartbeat upserts the single row keyed (type, id), stamping it
// with server arrival time so client clock skew never affects staleness.
// It returns the current leader id for the type, or "" when none is set.
func (r *Registry) PublishHeartbeat(ctx context.Context, componentType, componentID string,
	status domain.ComponentStatus, metrics map[string]float64) (string, error) {
	if componentType == "" {
		return "", &domain.ValidationError{Field: "component_type", Reason: "must not be empty"}
	}
	if componentID == "" {
		return "", &domain.ValidationError{Field: "component_id", Reason: "must not be empty"}
	}
	if !status.Valid() {
		return "", &domain.ValidationError{Field: "status", Reason: "unknown status " + string(status)}
	}

	now := r.clock.Now().UTC()
	hb := &domain.Heartbeat{
		ComponentType: componentType,
		ComponentID:   componentID,
		Timestamp:     now,
		FirstSeen:     now,
		Status:        status,
		Metrics:       metrics,
	}
	if err := r.repo.Upsert(ctx, hb); err != nil {
		return "", err
	}

	if status != domain.StatusHealthy {
		r.publisher.Publish(ctx, domain.TopicHealth, domain.Event{
			Kind:       domain.EventHealthDegraded,
			OccurredAt: now,
			Payload: map[string]interface{}{
				"component_type": componentType,
				"component_id":   componentID,
				"status":         string(status),
			},
		})
	}

	leader, err := r.repo.CurrentLeader(ctx, componentType)
	if errors.Is(err, domain.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return leader.ComponentID, nil
}

// CleanupOldHeartbeats deletes rows older than the retention window,
// keeping the current leader until a successor is elected.
func (r *Registry) CleanupOldHeartbeats(ctx context.Context) (int, error) {
	cutoff := r.clock.Now().UTC().Add(-r.cfg.Retention())
	deleted, err := r.repo.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if deleted > 0 {
		r.log.Info("Pruned old heartbeats", zap.Int("deleted", deleted))
	}
	return deleted, nil
}
