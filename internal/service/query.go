package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/marketmypractice/correlation-service/internal/attribution"
	"github.com/marketmypractice/correlation-service/internal/dto"
)

// Default similarity-search parameters applied when the request omits
// them.
const (
	defaultSimilarityThreshold = 0.7
	defaultSimilarLimit        = 10
)

// creditHalfLife is the decay half-life for the time-decay credit model.
const creditHalfLife = 7 * 24 * time.Hour

// QueryService answers journey, similarity and funnel queries.
type QueryService struct {
	engine    AttributionQuerier
	opTimeout time.Duration
	log       *zap.Logger
}

// NewQueryService creates a new query service.
func NewQueryService(engine AttributionQuerier, opTimeout time.Duration, log *zap.Logger) *QueryService {
	return &QueryService{
		engine:    engine,
		opTimeout: opTimeout,
		log:       log,
	}
}

// UserJourney returns the user's full ordered history. Unknown users
// yield an empty journey.
func (s *QueryService) UserJourney(ctx context.Context, userID string) (*dto.JourneyResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	journey, err := s.engine.GetUserJourney(ctx, userID)
	if err != nil {
		return nil, err
	}
	return dto.NewJourneyResponse(journey), nil
}

// UserCredit distributes conversion credit over the user's sessions.
func (s *QueryService) UserCredit(ctx context.Context, userID string, model string) ([]attribution.SessionCredit, error) {
	if model == "" {
		model = string(attribution.ModelLinear)
	}
	creditModel, err := attribution.ParseCreditModel(model)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()
	return s.engine.ComputeCredit(ctx, userID, creditModel, creditHalfLife)
}

// SimilarUsers runs a similarity search around the given user.
func (s *QueryService) SimilarUsers(ctx context.Context, userID string, req *dto.SimilarUsersRequest) (*dto.SimilarUsersResponse, error) {
	threshold := req.Threshold
	if threshold <= 0 {
		threshold = defaultSimilarityThreshold
	}
	limit := req.Limit
	if limit <= 0 {
		limit = defaultSimilarLimit
	}

	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	matches, err := s.engine.FindSimilarUsers(ctx, userID, threshold, limit)
	if err != nil {
		return nil, err
	}
	if matches == nil {
		matches = []attribution.SimilarUser{}
	}
	return &dto.SimilarUsersResponse{UserID: userID, Matches: matches}, nil
}

// ConversionFunnel aggregates the funnel over [from, to).
func (s *QueryService) ConversionFunnel(ctx context.Context, req *dto.FunnelRequest) (*dto.FunnelResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	result, err := s.engine.GetConversionFunnel(ctx,
		time.Unix(req.From, 0).UTC(), time.Unix(req.To, 0).UTC())
	if err != nil {
		return nil, err
	}
	return dto.NewFunnelResponse(req.From, req.To, result), nil
}
