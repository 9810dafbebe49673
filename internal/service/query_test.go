package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"go.uber.org/zap"

	"github.com/marketmypractice/correlation-service/internal/attribution"
	"github.com/marketmypractice/correlation-service/internal/domain"
	"github.com/marketmypractice/correlation-service/internal/dto"
	"github.com/marketmypractice/correlation-service/internal/repository"
)

// MockAttributionQuerier is a mock implementation of service.AttributionQuerier
type MockAttributionQuerier struct {
	mock.Mock
}

func (m *MockAttributionQuerier) GetUserJourney(ctx context.Context, userID string) (*attribution.Journey, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*attribution.Journey), args.Error(1)
}

func (m *MockAttributionQuerier) ComputeCredit(ctx context.Context, userID string, model attribution.CreditModel, halfLife time.Duration) ([]attribution.SessionCredit, error) {
	args := m.Called(ctx, userID, model, halfLife)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]attribution.SessionCredit), args.Error(1)
}

func (m *MockAttributionQuerier) FindSimilarUsers(ctx context.Context, userID string, threshold float64, limit int) ([]attribution.SimilarUser, error) {
	args := m.Called(ctx, userID, threshold, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]attribution.SimilarUser), args.Error(1)
}

func (m *MockAttributionQuerier) GetConversionFunnel(ctx context.Context, from, to time.Time) (*repository.FunnelResult, error) {
	args := m.Called(ctx, from, to)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*repository.FunnelResult), args.Error(1)
}

func testQueryService(engine *MockAttributionQuerier) *QueryService {
	return NewQueryService(engine, 5*time.Second, zap.NewNop())
}

func TestQueryService_UserJourney(t *testing.T) {
	engine := new(MockAttributionQuerier)
	svc := testQueryService(engine)

	journey := &attribution.Journey{UserID: "user-1"}
	engine.On("GetUserJourney", mock.Anything, "user-1").Return(journey, nil)

	resp, err := svc.UserJourney(context.Background(), "user-1")

	assert.NoError(t, err)
	assert.Equal(t, "user-1", resp.UserID)
	assert.NotNil(t, resp.Sessions)
}

func TestQueryService_UserCredit_DefaultsToLinear(t *testing.T) {
	engine := new(MockAttributionQuerier)
	svc := testQueryService(engine)

	engine.On("ComputeCredit", mock.Anything, "user-1", attribution.ModelLinear, creditHalfLife).
		Return([]attribution.SessionCredit{{SessionID: "s1", Credit: 1}}, nil)

	credits, err := svc.UserCredit(context.Background(), "user-1", "")

	assert.NoError(t, err)
	assert.Len(t, credits, 1)
	engine.AssertExpectations(t)
}

func TestQueryService_UserCredit_RejectsUnknownModel(t *testing.T) {
	engine := new(MockAttributionQuerier)
	svc := testQueryService(engine)

	_, err := svc.UserCredit(context.Background(), "user-1", "u_shaped")

	var validation *domain.ValidationError
	assert.ErrorAs(t, err, &validation)
	engine.AssertNotCalled(t, "ComputeCredit")
}

func TestQueryService_SimilarUsers_AppliesDefaults(t *testing.T) {
	engine := new(MockAttributionQuerier)
	svc := testQueryService(engine)

	engine.On("FindSimilarUsers", mock.Anything, "user-1", defaultSimilarityThreshold, defaultSimilarLimit).
		Return(nil, nil)

	resp, err := svc.SimilarUsers(context.Background(), "user-1", &dto.SimilarUsersRequest{})

	assert.NoError(t, err)
	assert.Equal(t, "user-1", resp.UserID)
	assert.NotNil(t, resp.Matches)
	assert.Empty(t, resp.Matches)
}

func TestQueryService_SimilarUsers_PassesExplicitParams(t *testing.T) {
	engine := new(MockAttributionQuerier)
	svc := testQueryService(engine)

	matches := []attribution.SimilarUser{{UserID: "user-2", Score: 0.9}}
	engine.On("FindSimilarUsers", mock.Anything, "user-1", 0.85, 5).Return(matches, nil)

	resp, err := svc.SimilarUsers(context.Background(), "user-1", &dto.SimilarUsersRequest{Threshold: 0.85, Limit: 5})

	assert.NoError(t, err)
	assert.Equal(t, matches, resp.Matches)
}

func TestQueryService_ConversionFunnel(t *testing.T) {
	engine := new(MockAttributionQuerier)
	svc := testQueryService(engine)

	from := time.Date(2025, 8, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2025, 8, 12, 0, 0, 0, 0, time.UTC)
	result := &repository.FunnelResult{
		Stages: []repository.FunnelStage{
			{Stage: "visitors", Sessions: 120, Users: 100},
			{Stage: "leads", Sessions: 6, Users: 5},
		},
		ConversionRate: 0.05,
	}
	engine.On("GetConversionFunnel", mock.Anything, from, to).Return(result, nil)

	resp, err := svc.ConversionFunnel(context.Background(), &dto.FunnelRequest{From: from.Unix(), To: to.Unix()})

	assert.NoError(t, err)
	assert.Equal(t, from.Unix(), resp.From)
	assert.Equal(t, to.Unix(), resp.To)
}
