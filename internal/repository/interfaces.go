package repository

import (
	"context"
	"time"

	"github.com/marketmypractice/correlation-service/internal/domain"
)

// UserProfile is the attribute slice used for user similarity scoring.
// Geo comes from the user's most recent session.
type UserProfile struct {
	UserID        string
	BrowserFamily string
	OS            string
	DeviceClass   string
	Geo           string
}

// FunnelQuery bounds a conversion-funnel aggregation.
type FunnelQuery struct {
	From time.Time
	To   time.Time
}

// FunnelStage is one aggregated step of the conversion funnel.
type FunnelStage struct {
	Stage    string
	Sessions uint64
	Users    uint64
}

// FunnelResult is the ordered funnel with its overall conversion rate.
type FunnelResult struct {
	Stages         []FunnelStage
	ConversionRate float64
}

// IdentityRepository persists canonical users and the permanent
// raw-session-id to canonical-user mapping.
type IdentityRepository interface {
	// GetUser fetches a canonical user by id.
	GetUser(ctx context.Context, id string) (*domain.CanonicalUser, error)

	// GetUserByRawID returns the canonical user owning a raw session id.
	GetUserByRawID(ctx context.Context, rawSessionID string) (*domain.CanonicalUser, error)

	// GetUserByFingerprintHash returns the user with an exact digest match.
	GetUserByFingerprintHash(ctx context.Context, hash string) (*domain.CanonicalUser, error)

	// CandidatesBySubnet returns non-archived users sharing an IP subnet,
	// the bounded candidate set for similarity scoring.
	CandidatesBySubnet(ctx context.Context, subnet string) ([]*domain.CanonicalUser, error)

	// CreateUserWithRawID inserts the user plus its raw-id mapping in one
	// transaction. Returns ConflictError when another writer owns either key.
	CreateUserWithRawID(ctx context.Context, user *domain.CanonicalUser, rawSessionID string) error

	// MergeRawID attaches a raw session id to an existing user and updates
	// its counters in one transaction. Idempotent for an already-mapped id
	// owned by the same user; ConflictError when owned by another.
	MergeRawID(ctx context.Context, userID, rawSessionID string, seenAt time.Time) error

	// MarkConverted flags the user converted and records its lead id.
	MarkConverted(ctx context.Context, userID, leadID string) error

	// RecordActivity bumps the user's action counter and last-seen time.
	RecordActivity(ctx context.Context, userID string, at time.Time) error

	// ListUserProfiles returns up to limit profiles for similarity search,
	// excluding the given user.
	ListUserProfiles(ctx context.Context, excludeUserID string, limit int) ([]UserProfile, error)

	// ArchiveUsersBefore archives users last seen before the cutoff.
	ArchiveUsersBefore(ctx context.Context, cutoff time.Time) (int, error)
}

// SessionRepository persists unified sessions, their events, leads and
// ad-spend rows.
type SessionRepository interface {
	// GetSession fetches a unified session by canonical id.
	GetSession(ctx context.Context, canonicalID string) (*domain.UnifiedSession, error)

	// GetSessionByRawID returns the most recent unified session for a raw
	// session id.
	GetSessionByRawID(ctx context.Context, rawSessionID string) (*domain.UnifiedSession, error)

	// InsertSession inserts a new unified session together with its first
	// event. Returns ConflictError on a duplicate canonical id.
	InsertSession(ctx context.Context, s *domain.UnifiedSession, first *domain.SessionEvent) error

	// UpdateSession persists session counters and appends the new event in
	// one transaction.
	UpdateSession(ctx context.Context, s *domain.UnifiedSession, ev *domain.SessionEvent) error

	// ListSessionsByUser returns the user's sessions ordered by start time
	// ascending.
	ListSessionsByUser(ctx context.Context, userID string) ([]*domain.UnifiedSession, error)

	// ListEventsBySession returns the session's events in timestamp order.
	ListEventsBySession(ctx context.Context, sessionID string) ([]*domain.SessionEvent, error)

	// MostRecentActiveSession returns the user's most recent session whose
	// last activity falls inside [from, until].
	MostRecentActiveSession(ctx context.Context, userID string, from, until time.Time) (*domain.UnifiedSession, error)

	// InsertLead persists a lead submission; written once, never mutated.
	InsertLead(ctx context.Context, lead *domain.LeadSubmission) error

	// ListLeadsByUser returns the user's leads ordered by submission time.
	ListLeadsByUser(ctx context.Context, userID string) ([]*domain.LeadSubmission, error)

	// InsertAdSpend persists an ad-spend row with its computed ROI.
	InsertAdSpend(ctx context.Context, spend *domain.AdSpendSession) error

	// ListAdSpendByUser returns the user's ad-spend rows.
	ListAdSpendByUser(ctx context.Context, userID string) ([]*domain.AdSpendSession, error)
}

// HeartbeatRepository persists worker liveness rows and runs elections.
type HeartbeatRepository interface {
	// Upsert overwrites the row keyed (type, id), preserving first_seen.
	Upsert(ctx context.Context, hb *domain.Heartbeat) error

	// Get fetches one heartbeat row.
	Get(ctx context.Context, componentType, componentID string) (*domain.Heartbeat, error)

	// ListByType returns all heartbeats of a component type.
	ListByType(ctx context.Context, componentType string) ([]*domain.Heartbeat, error)

	// ListComponentTypes returns the distinct component types present.
	ListComponentTypes(ctx context.Context) ([]string, error)

	// CurrentLeader returns the row flagged leader for the type, or
	// ErrNotFound when none is set.
	CurrentLeader(ctx context.Context, componentType string) (*domain.Heartbeat, error)

	// ElectLeader clears is_leader on every row of the type and sets it on
	// the oldest non-stale healthy row, all in one transaction. Returns
	// ErrNoLeader when no such row exists.
	ElectLeader(ctx context.Context, componentType string, staleBefore time.Time) (*domain.Heartbeat, error)

	// DeleteOlderThan prunes rows last updated before the cutoff, never
	// deleting a row currently flagged leader.
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int, error)
}

// AnalyticsRepository is the append-only mirror backing funnel queries.
type AnalyticsRepository interface {
	// InitSchema creates the mirror table if it does not exist.
	InitSchema(ctx context.Context) error

	// InsertBatch appends a batch of mirrored events.
	InsertBatch(ctx context.Context, events []*domain.AnalyticsEvent) (int, error)

	// GetConversionFunnel aggregates the funnel over a time range.
	GetConversionFunnel(ctx context.Context, query FunnelQuery) (*FunnelResult, error)

	// Ping checks if the connection is alive.
	Ping(ctx context.Context) error

	// Close closes the repository and releases resources.
	Close() error
}
