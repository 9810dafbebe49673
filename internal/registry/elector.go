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

// Elector derives at most one leader per component type from the
// heartbeat table. The clear-then-set election relies on the store's
// native transaction atomicity; it is not a lease or fencing protocol.
// Under a partition two processes can transiently both act as leader
// until the next heartbeat/election cycle converges, which is the
// documented trade-off of this design.
type Elector struct {
	repo      repository.HeartbeatRepository
	registry  *Registry
	cfg       config.Registry
	clock     clockwork.Clock
	publisher pubsub.Publisher
	log       *zap.Logger
}

// NewElector creates a new leader elector.
func NewElector(repo repository.HeartbeatRepository, registry *Registry, cfg config.Registry,
	clock clockwork.Clock, publisher pubsub.Publisher, log *zap.Logger) *Elector {
	return &Elector{
		repo:      repo,
		registry:  registry,
		cfg:       cfg,
		clock:     clock,
		publisher: publisher,
		log:       log,
	}
}

// ElectLeader runs one election for a component type. The longest
// continuously alive healthy instance wins; ErrNoLeader is returned when
// no healthy, non-stale heartbeat exists, never a stale previous leader.
func (e *Elector) ElectLeader(ctx context.Context, componentType string) (*domain.Heartbeat, error) {
	now := e.clock.Now().UTC()
	staleBefore := now.Add(-e.cfg.StaleThreshold())

	previous, err := e.repo.CurrentLeader(ctx, componentType)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}

	leader, err := e.repo.ElectLeader(ctx, componentType, staleBefore)
	if errors.Is(err, domain.ErrNoLeader) {
		if previous != nil {
			e.publishChange(ctx, componentType, previous.ComponentID, "")
		}
		return nil, err
	}
	if err != nil {
		return nil, err
	}

	if previous == nil || previous.ComponentID != leader.ComponentID {
		previousID := ""
		if previous != nil {
			previousID = previous.ComponentID
		}
		e.log.Info("Leadership changed",
			zap.String("component_type", componentType),
			zap.String("previous", previousID),
			zap.String("leader", leader.ComponentID))
		e.publishChange(ctx, componentType, previousID, leader.ComponentID)
	}
	return leader, nil
}

// ElectAll runs elections for every known component type. Elections for
// different types are independent: one failing does not stop the rest.
func (e *Elector) ElectAll(ctx context.Context) error {
	types, err := e.repo.ListComponentTypes(ctx)
	if err != nil {
		return err
	}

	var lastErr error
	for _, componentType := range types {
		if _, err := e.ElectLeader(ctx, componentType); err != nil {
			if errors.Is(err, domain.ErrNoLeader) {
				e.log.Info("No electable leader", zap.String("component_type", componentType))
				continue
			}
			e.log.Error("Election failed",
				zap.String("component_type", componentType),
				zap.Error(err))
			lastErr = err
		}
	}
	return lastErr
}

// checkStaleLeaders re-elects reactively for any type whose current
// leader has gone stale, without waiting for the fixed tick.
func (e *Elector) checkStaleLeaders(ctx context.Context) {
	types, err := e.repo.ListComponentTypes(ctx)
	if err != nil {
		e.log.Error("Failed to list component types", zap.Error(err))
		return
	}

	now := e.clock.Now().UTC()
	for _, componentType := range types {
		leader, err := e.repo.CurrentLeader(ctx, componentType)
		if errors.Is(err, domain.ErrNotFound) {
			continue
		}
		if err != nil {
			e.log.Error("Failed to read current leader", zap.Error(err))
			continue
		}
		if leader.Stale(now, e.cfg.StaleThreshold()) {
			e.log.Warn("Current leader went stale, re-electing",
				zap.String("component_type", componentType),
				zap.String("leader", leader.ComponentID))
			if _, err := e.ElectLeader(ctx, componentType); err != nil && !errors.Is(err, domain.ErrNoLeader) {
				e.log.Error("Reactive election failed", zap.Error(err))
			}
		}
	}
}

// Run drives the election loop: a full election pass on the fixed tick,
// a stale-leader check every heartbeat interval, and heartbeat cleanup
// alongside the tick.
func (e *Elector) Run(ctx context.Context) error {
	electionTicker := e.clock.NewTicker(e.cfg.ElectionTick())
	defer electionTicker.Stop()
	staleTicker := e.clock.NewTicker(e.cfg.StaleThreshold() / 2)
	defer staleTicker.Stop()

	e.log.Info("Leader elector starting",
		zap.Duration("election_tick", e.cfg.ElectionTick()),
		zap.Duration("stale_threshold", e.cfg.StaleThreshold()))

	for {
		select {
		case <-ctx.Done():
			e.log.Info("Leader elector shutting down")
			return nil
		case <-electionTicker.Chan():
			if err := e.ElectAll(ctx); err != nil {
				e.log.Error("Election pass failed", zap.Error(err))
			}
			if _, err := e.registry.CleanupOldHeartbeats(ctx); err != nil {
				e.log.Error("Heartbeat cleanup failed", zap.Error(err))
			}
		case <-staleTicker.Chan():
			e.checkStaleLeaders(ctx)
		}
	}
}

func (e *Elector) publishChange(ctx context.Context, componentType, previousID, leaderID string) {
	e.publisher.Publish(ctx, domain.TopicHealth, domain.Event{
		Kind:       domain.EventLeaderChanged,
		OccurredAt: e.clock.Now().UTC(),
		Payload: map[string]interface{}{
			"component_type": componentType,
			"previous":       previousID,
			"leader":         leaderID,
		},
	})
}
