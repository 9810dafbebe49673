package service

import (
	"context"
	"time"

	"github.com/marketmypractice/correlation-service/internal/attribution"
	"github.com/marketmypractice/correlation-service/internal/correlation"
	"github.com/marketmypractice/correlation-service/internal/domain"
	"github.com/marketmypractice/correlation-service/internal/dto"
	"github.com/marketmypractice/correlation-service/internal/repository"
)

// IngestServicer defines the interface for ingest service operations
type IngestServicer interface {
	ProcessRecord(ctx context.Context, req *dto.IngestRecordRequest) (*dto.IngestRecordResponse, error)
	ProcessBatch(ctx context.Context, req *dto.IngestBatchRequest) (*dto.IngestBatchResponse, error)
}

// RegistryServicer defines the interface for heartbeat operations
type RegistryServicer interface {
	Heartbeat(ctx context.Context, req *dto.HeartbeatRequest) (*dto.HeartbeatResponse, error)
}

// QueryServicer defines the interface for attribution query operations
type QueryServicer interface {
	UserJourney(ctx context.Context, userID string) (*dto.JourneyResponse, error)
	UserCredit(ctx context.Context, userID string, model string) ([]attribution.SessionCredit, error)
	SimilarUsers(ctx context.Context, userID string, req *dto.SimilarUsersRequest) (*dto.SimilarUsersResponse, error)
	ConversionFunnel(ctx context.Context, req *dto.FunnelRequest) (*dto.FunnelResponse, error)
}

// IdentityResolver maps raw session fingerprints to canonical user ids.
type IdentityResolver interface {
	ResolveOrCreate(ctx context.Context, fp domain.Fingerprint, rawSessionID string) (string, error)
}

// SessionCorrelator maintains unified sessions and lead attribution.
type SessionCorrelator interface {
	CreateOrUpdateSession(ctx context.Context, userID string, ev correlation.RawEvent) (*domain.UnifiedSession, bool, error)
	CorrelateLead(ctx context.Context, userID string, in correlation.LeadInput) (*domain.LeadSubmission, error)
	RecordAdSpend(ctx context.Context, userID string, in correlation.AdSpendInput) (*domain.AdSpendSession, error)
}

// AttributionQuerier answers read-only journey and funnel queries.
type AttributionQuerier interface {
	GetUserJourney(ctx context.Context, userID string) (*attribution.Journey, error)
	ComputeCredit(ctx context.Context, userID string, model attribution.CreditModel, halfLife time.Duration) ([]attribution.SessionCredit, error)
	FindSimilarUsers(ctx context.Context, userID string, threshold float64, limit int) ([]attribution.SimilarUser, error)
	GetConversionFunnel(ctx context.Context, from, to time.Time) (*repository.FunnelResult, error)
}

// HeartbeatRegistrar accepts worker liveness signals.
type HeartbeatRegistrar interface {
	PublishHeartbeat(ctx context.Context, componentType, componentID string,
		status domain.ComponentStatus, metrics map[string]float64) (string, error)
}
