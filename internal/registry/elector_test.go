package registry

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"go.uber.org/zap"

	"github.com/marketmypractice/correlation-service/internal/domain"
)

func testElector(repo *MockHeartbeatRepository, clock clockwork.Clock, pub *recordingPublisher) *Elector {
	cfg := testRegistryConfig()
	registry := NewRegistry(repo, cfg, clock, pub, zap.NewNop())
	return NewElector(repo, registry, cfg, clock, pub, zap.NewNop())
}

func TestElector_ElectLeader_PublishesChange(t *testing.T) {
	mockRepo := new(MockHeartbeatRepository)
	pub := &recordingPublisher{}
	clock := clockwork.NewFakeClockAt(time.Date(2025, 8, 12, 14, 0, 0, 0, time.UTC))
	elector := testElector(mockRepo, clock, pub)

	staleBefore := clock.Now().UTC().Add(-60 * time.Second)
	winner := &domain.Heartbeat{ComponentType: "etl_worker", ComponentID: "w-old"}

	mockRepo.On("CurrentLeader", mock.Anything, "etl_worker").Return(nil, domain.ErrNotFound)
	mockRepo.On("ElectLeader", mock.Anything, "etl_worker", staleBefore).Return(winner, nil)

	leader, err := elector.ElectLeader(context.Background(), "etl_worker")

	assert.NoError(t, err)
	assert.Equal(t, "w-old", leader.ComponentID)
	assert.Len(t, pub.events, 1)
	assert.Equal(t, domain.TopicHealth, pub.events[0].topic)
	assert.Equal(t, domain.EventLeaderChanged, pub.events[0].event.Kind)
	assert.Equal(t, "", pub.events[0].event.Payload["previous"])
	assert.Equal(t, "w-old", pub.events[0].event.Payload["leader"])
}

func TestElector_ElectLeader_UnchangedLeaderIsQuiet(t *testing.T) {
	mockRepo := new(MockHeartbeatRepository)
	pub := &recordingPublisher{}
	elector := testElector(mockRepo, clockwork.NewFakeClock(), pub)

	incumbent := &domain.Heartbeat{ComponentType: "etl_worker", ComponentID: "w1", IsLeader: true}
	mockRepo.On("CurrentLeader", mock.Anything, "etl_worker").Return(incumbent, nil)
	mockRepo.On("ElectLeader", mock.Anything, "etl_worker", mock.Anything).Return(incumbent, nil)

	leader, err := elector.ElectLeader(context.Background(), "etl_worker")

	assert.NoError(t, err)
	assert.Equal(t, "w1", leader.ComponentID)
	assert.Empty(t, pub.events)
}

func TestElector_ElectLeader_NoCandidates(t *testing.T) {
	mockRepo := new(MockHeartbeatRepository)
	pub := &recordingPublisher{}
	elector := testElector(mockRepo, clockwork.NewFakeClock(), pub)

	previous := &domain.Heartbeat{ComponentType: "etl_worker", ComponentID: "w1", IsLeader: true}
	mockRepo.On("CurrentLeader", mock.Anything, "etl_worker").Return(previous, nil)
	mockRepo.On("ElectLeader", mock.Anything, "etl_worker", mock.Anything).Return(nil, domain.ErrNoLeader)

	leader, err := elector.ElectLeader(context.Background(), "etl_worker")

	assert.ErrorIs(t, err, domain.ErrNoLeader)
	assert.Nil(t, leader)
	// Demotion is announced so subscribers learn there is no leader.
	assert.Len(t, pub.events, 1)
	assert.Equal(t, domain.EventLeaderChanged, pub.events[0].event.Kind)
	assert.Equal(t, "w1", pub.events[0].event.Payload["previous"])
	assert.Equal(t, "", pub.events[0].event.Payload["leader"])
}

func TestElector_ElectLeader_NoCandidatesAndNoPrevious(t *testing.T) {
	mockRepo := new(MockHeartbeatRepository)
	pub := &recordingPublisher{}
	elector := testElector(mockRepo, clockwork.NewFakeClock(), pub)

	mockRepo.On("CurrentLeader", mock.Anything, "etl_worker").Return(nil, domain.ErrNotFound)
	mockRepo.On("ElectLeader", mock.Anything, "etl_worker", mock.Anything).Return(nil, domain.ErrNoLeader)

	_, err := elector.ElectLeader(context.Background(), "etl_worker")

	assert.ErrorIs(t, err, domain.ErrNoLeader)
	assert.Empty(t, pub.events)
}

func TestElector_ElectAll_TypesAreIndependent(t *testing.T) {
	mockRepo := new(MockHeartbeatRepository)
	pub := &recordingPublisher{}
	elector := testElector(mockRepo, clockwork.NewFakeClock(), pub)

	mockRepo.On("ListComponentTypes", mock.Anything).Return([]string{"etl_worker", "scheduler"}, nil)
	mockRepo.On("CurrentLeader", mock.Anything, "etl_worker").Return(nil, domain.ErrNotFound)
	mockRepo.On("ElectLeader", mock.Anything, "etl_worker", mock.Anything).Return(nil, domain.ErrNoLeader)
	mockRepo.On("CurrentLeader", mock.Anything, "scheduler").Return(nil, domain.ErrNotFound)
	mockRepo.On("ElectLeader", mock.Anything, "scheduler", mock.Anything).
		Return(&domain.Heartbeat{ComponentType: "scheduler", ComponentID: "s1"}, nil)

	err := elector.ElectAll(context.Background())

	// An empty etl_worker pool does not stop the scheduler election.
	assert.NoError(t, err)
	mockRepo.AssertCalled(t, "ElectLeader", mock.Anything, "scheduler", mock.Anything)
}

func TestElector_ElectAll_ReturnsStoreError(t *testing.T) {
	mockRepo := new(MockHeartbeatRepository)
	elector := testElector(mockRepo, clockwork.NewFakeClock(), &recordingPublisher{})

	mockRepo.On("ListComponentTypes", mock.Anything).Return([]string{"etl_worker"}, nil)
	mockRepo.On("CurrentLeader", mock.Anything, "etl_worker").
		Return(nil, &domain.StoreUnavailableError{Op: "current_leader", Err: context.DeadlineExceeded})

	err := elector.ElectAll(context.Background())

	var unavailable *domain.StoreUnavailableError
	assert.ErrorAs(t, err, &unavailable)
}

func TestElector_CheckStaleLeaders_ReElectsReactively(t *testing.T) {
	mockRepo := new(MockHeartbeatRepository)
	pub := &recordingPublisher{}
	clock := clockwork.NewFakeClockAt(time.Date(2025, 8, 12, 14, 0, 0, 0, time.UTC))
	elector := testElector(mockRepo, clock, pub)

	// Last beat 2 minutes ago; the 60 second stale threshold is blown.
	stale := &domain.Heartbeat{
		ComponentType: "etl_worker",
		ComponentID:   "w-dead",
		Timestamp:     clock.Now().UTC().Add(-2 * time.Minute),
		IsLeader:      true,
	}
	successor := &domain.Heartbeat{ComponentType: "etl_worker", ComponentID: "w-live"}

	mockRepo.On("ListComponentTypes", mock.Anything).Return([]string{"etl_worker"}, nil)
	mockRepo.On("CurrentLeader", mock.Anything, "etl_worker").Return(stale, nil)
	mockRepo.On("ElectLeader", mock.Anything, "etl_worker", mock.Anything).Return(successor, nil)

	elector.checkStaleLeaders(context.Background())

	mockRepo.AssertCalled(t, "ElectLeader", mock.Anything, "etl_worker", mock.Anything)
	assert.Len(t, pub.events, 1)
	assert.Equal(t, "w-live", pub.events[0].event.Payload["leader"])
}

func TestElector_CheckStaleLeaders_FreshLeaderLeftAlone(t *testing.T) {
	mockRepo := new(MockHeartbeatRepository)
	clock := clockwork.NewFakeClockAt(time.Date(2025, 8, 12, 14, 0, 0, 0, time.UTC))
	elector := testElector(mockRepo, clock, &recordingPublisher{})

	fresh := &domain.Heartbeat{
		ComponentType: "etl_worker",
		ComponentID:   "w1",
		Timestamp:     clock.Now().UTC().Add(-10 * time.Second),
		IsLeader:      true,
	}
	mockRepo.On("ListComponentTypes", mock.Anything).Return([]string{"etl_worker"}, nil)
	mockRepo.On("CurrentLeader", mock.Anything, "etl_worker").Return(fresh, nil)

	elector.checkStaleLeaders(context.Background())

	mockRepo.AssertNotCalled(t, "ElectLeader", mock.Anything, mock.Anything, mock.Anything)
}

func TestElector_Run_ElectsOnTick(t *testing.T) {
	mockRepo := new(MockHeartbeatRepository)
	clock := clockwork.NewFakeClockAt(time.Date(2025, 8, 12, 14, 0, 0, 0, time.UTC))
	elector := testElector(mockRepo, clock, &recordingPublisher{})

	elected := make(chan struct{})
	mockRepo.On("ListComponentTypes", mock.Anything).
		Return([]string{"etl_worker"}, nil).
		Run(func(mock.Arguments) {
			select {
			case elected <- struct{}{}:
			default:
			}
		})
	mockRepo.On("CurrentLeader", mock.Anything, "etl_worker").Return(nil, domain.ErrNotFound)
	mockRepo.On("ElectLeader", mock.Anything, "etl_worker", mock.Anything).Return(nil, domain.ErrNoLeader)
	mockRepo.On("DeleteOlderThan", mock.Anything, mock.Anything).Return(0, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- elector.Run(ctx) }()

	// Wait for both tickers to register, then fire the election tick.
	clock.BlockUntil(2)
	clock.Advance(61 * time.Second)

	select {
	case <-elected:
	case <-time.After(2 * time.Second):
		t.Fatal("election pass did not run on tick")
	}

	cancel()
	assert.NoError(t, <-done)
}
