package attribution

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"go.uber.org/zap"

	"github.com/marketmypractice/correlation-service/internal/domain"
	"github.com/marketmypractice/correlation-service/internal/repository"
)

// MockIdentityReader mocks the identity-side reads the engine makes.
type MockIdentityReader struct {
	mock.Mock
	repository.IdentityRepository
}

func (m *MockIdentityReader) GetUser(ctx context.Context, id string) (*domain.CanonicalUser, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.CanonicalUser), args.Error(1)
}

func (m *MockIdentityReader) ListUserProfiles(ctx context.Context, excludeUserID string, limit int) ([]repository.UserProfile, error) {
	args := m.Called(ctx, excludeUserID, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]repository.UserProfile), args.Error(1)
}

// MockSessionReader mocks the session-side reads the engine makes.
type MockSessionReader struct {
	mock.Mock
	repository.SessionRepository
}

func (m *MockSessionReader) ListSessionsByUser(ctx context.Context, userID string) ([]*domain.UnifiedSession, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.UnifiedSession), args.Error(1)
}

func (m *MockSessionReader) ListEventsBySession(ctx context.Context, sessionID string) ([]*domain.SessionEvent, error) {
	args := m.Called(ctx, sessionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.SessionEvent), args.Error(1)
}

func (m *MockSessionReader) ListLeadsByUser(ctx context.Context, userID string) ([]*domain.LeadSubmission, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.LeadSubmission), args.Error(1)
}

func (m *MockSessionReader) ListAdSpendByUser(ctx context.Context, userID string) ([]*domain.AdSpendSession, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.AdSpendSession), args.Error(1)
}

// MockAnalyticsRepository is a mock implementation of repository.AnalyticsRepository
type MockAnalyticsRepository struct {
	mock.Mock
}

func (m *MockAnalyticsRepository) InitSchema(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockAnalyticsRepository) InsertBatch(ctx context.Context, events []*domain.AnalyticsEvent) (int, error) {
	args := m.Called(ctx, events)
	return args.Int(0), args.Error(1)
}

func (m *MockAnalyticsRepository) GetConversionFunnel(ctx context.Context, query repository.FunnelQuery) (*repository.FunnelResult, error) {
	args := m.Called(ctx, query)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*repository.FunnelResult), args.Error(1)
}

func (m *MockAnalyticsRepository) Ping(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockAnalyticsRepository) Close() error {
	args := m.Called()
	return args.Error(0)
}

func testEngine(users *MockIdentityReader, sessions *MockSessionReader, analytics *MockAnalyticsRepository) *Engine {
	return NewEngine(users, sessions, analytics, zap.NewNop())
}

func TestEngine_GetUserJourney_UnknownUserIsEmpty(t *testing.T) {
	mockUsers := new(MockIdentityReader)
	mockSessions := new(MockSessionReader)
	engine := testEngine(mockUsers, mockSessions, new(MockAnalyticsRepository))

	mockUsers.On("GetUser", mock.Anything, "ghost").Return(nil, domain.ErrNotFound)

	journey, err := engine.GetUserJourney(context.Background(), "ghost")

	assert.NoError(t, err)
	assert.Equal(t, "ghost", journey.UserID)
	assert.Nil(t, journey.User)
	assert.Empty(t, journey.Sessions)
	assert.Zero(t, journey.Summary.SessionCount)
	mockSessions.AssertNotCalled(t, "ListSessionsByUser")
}

func TestEngine_GetUserJourney_AggregatesSummary(t *testing.T) {
	mockUsers := new(MockIdentityReader)
	mockSessions := new(MockSessionReader)
	engine := testEngine(mockUsers, mockSessions, new(MockAnalyticsRepository))

	user := &domain.CanonicalUser{ID: "user-1", Converted: true}
	sessions := []*domain.UnifiedSession{
		{CanonicalID: "s1"},
		{CanonicalID: "s2"},
	}
	mockUsers.On("GetUser", mock.Anything, "user-1").Return(user, nil)
	mockSessions.On("ListSessionsByUser", mock.Anything, "user-1").Return(sessions, nil)
	mockSessions.On("ListEventsBySession", mock.Anything, "s1").Return([]*domain.SessionEvent{{ID: "e1"}, {ID: "e2"}}, nil)
	mockSessions.On("ListEventsBySession", mock.Anything, "s2").Return([]*domain.SessionEvent{{ID: "e3"}}, nil)
	mockSessions.On("ListLeadsByUser", mock.Anything, "user-1").Return([]*domain.LeadSubmission{{LeadID: "lead_42"}}, nil)
	mockSessions.On("ListAdSpendByUser", mock.Anything, "user-1").Return([]*domain.AdSpendSession{
		{SessionID: "s1", Cost: 12.5},
		{SessionID: "s2", Cost: 7.5},
	}, nil)

	journey, err := engine.GetUserJourney(context.Background(), "user-1")

	assert.NoError(t, err)
	assert.Equal(t, 2, journey.Summary.SessionCount)
	assert.Equal(t, 3, journey.Summary.EventCount)
	assert.Equal(t, 1, journey.Summary.LeadCount)
	assert.Equal(t, 20.0, journey.Summary.TotalAdSpend)
	assert.True(t, journey.Summary.Converted)
	assert.Len(t, journey.Events["s1"], 2)
}

func TestEngine_FindSimilarUsers_OrderedAndCapped(t *testing.T) {
	mockUsers := new(MockIdentityReader)
	mockSessions := new(MockSessionReader)
	engine := testEngine(mockUsers, mockSessions, new(MockAnalyticsRepository))

	base := &domain.CanonicalUser{
		ID: "user-1",
		Fingerprint: domain.Fingerprint{
			BrowserFamily: "chrome", OS: "windows", DeviceClass: "desktop",
		},
	}
	mockUsers.On("GetUser", mock.Anything, "user-1").Return(base, nil)
	mockSessions.On("ListSessionsByUser", mock.Anything, "user-1").
		Return([]*domain.UnifiedSession{{CanonicalID: "s1", Geo: "US-OH"}}, nil)
	mockUsers.On("ListUserProfiles", mock.Anything, "user-1", candidateScanLimit).Return([]repository.UserProfile{
		{UserID: "exact", BrowserFamily: "chrome", OS: "windows", DeviceClass: "desktop", Geo: "US-OH"},
		{UserID: "close", BrowserFamily: "chrome", OS: "windows", DeviceClass: "mobile", Geo: "US-OH"},
		{UserID: "far", BrowserFamily: "safari", OS: "macos", DeviceClass: "mobile", Geo: "DE-BE"},
	}, nil)

	hits, err := engine.FindSimilarUsers(context.Background(), "user-1", 0.5, 10)

	assert.NoError(t, err)
	assert.Len(t, hits, 2)
	assert.Equal(t, "exact", hits[0].UserID)
	assert.InDelta(t, 1.0, hits[0].Score, 1e-9)
	assert.Equal(t, "close", hits[1].UserID)

	// A limit of one keeps only the best hit.
	capped, err := engine.FindSimilarUsers(context.Background(), "user-1", 0.5, 1)
	assert.NoError(t, err)
	assert.Len(t, capped, 1)
	assert.Equal(t, "exact", capped[0].UserID)
}

func TestEngine_FindSimilarUsers_UnknownUser(t *testing.T) {
	mockUsers := new(MockIdentityReader)
	engine := testEngine(mockUsers, new(MockSessionReader), new(MockAnalyticsRepository))

	mockUsers.On("GetUser", mock.Anything, "ghost").Return(nil, domain.ErrNotFound)

	hits, err := engine.FindSimilarUsers(context.Background(), "ghost", 0.5, 10)

	assert.NoError(t, err)
	assert.Empty(t, hits)
}

func TestEngine_FindSimilarUsers_InvalidLimit(t *testing.T) {
	engine := testEngine(new(MockIdentityReader), new(MockSessionReader), new(MockAnalyticsRepository))

	_, err := engine.FindSimilarUsers(context.Background(), "user-1", 0.5, 0)

	var validation *domain.ValidationError
	assert.ErrorAs(t, err, &validation)
}

func TestEngine_GetConversionFunnel_InvalidRange(t *testing.T) {
	engine := testEngine(new(MockIdentityReader), new(MockSessionReader), new(MockAnalyticsRepository))

	at := time.Date(2025, 8, 12, 0, 0, 0, 0, time.UTC)
	_, err := engine.GetConversionFunnel(context.Background(), at, at)

	var validation *domain.ValidationError
	assert.ErrorAs(t, err, &validation)
}
