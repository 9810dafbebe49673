package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/marketmypractice/correlation-service/internal/domain"
	"github.com/marketmypractice/correlation-service/internal/dto"
)

// RegistryService fronts the heartbeat registry for the HTTP layer.
type RegistryService struct {
	registry  HeartbeatRegistrar
	opTimeout time.Duration
	log       *zap.Logger
}

// NewRegistryService creates a new registry service.
func NewRegistryService(registry HeartbeatRegistrar, opTimeout time.Duration, log *zap.Logger) *RegistryService {
	return &RegistryService{
		registry:  registry,
		opTimeout: opTimeout,
		log:       log,
	}
}

// Heartbeat records one liveness signal and reports the current leader
// for the component's type, "none" when no leader is set.
func (s *RegistryService) Heartbeat(ctx context.Context, req *dto.HeartbeatRequest) (*dto.HeartbeatResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	leaderID, err := s.registry.PublishHeartbeat(ctx, req.ComponentType, req.ComponentID,
		domain.ComponentStatus(req.Status), req.Metrics)
	if err != nil {
		return nil, err
	}

	if leaderID == "" {
		leaderID = "none"
	}
	return &dto.HeartbeatResponse{
		LeaderID: leaderID,
		Status:   "accepted",
	}, nil
}
