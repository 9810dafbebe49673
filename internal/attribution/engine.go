package attribution

import (
	"context"
	"errors"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/marketmypractice/correlation-service/internal/domain"
	"github.com/marketmypractice/correlation-service/internal/repository"
)

// Similarity weights over the categorical profile attributes. Geo and
// browser dominate; device class is the weakest signal.
const (
	simWeightBrowser = 0.30
	simWeightGeo     = 0.30
	simWeightOS      = 0.20
	simWeightDevice  = 0.20
)

// candidateScanLimit bounds how many profiles one similarity search scores.
const candidateScanLimit = 500

// Engine answers read-only attribution queries over correlated data.
// Every operation is side-effect-free and safe to retry.
type Engine struct {
	users     repository.IdentityRepository
	sessions  repository.SessionRepository
	analytics repository.AnalyticsRepository
	log       *zap.Logger
}

// NewEngine creates a new attribution engine.
func NewEngine(users repository.IdentityRepository, sessions repository.SessionRepository,
	analytics repository.AnalyticsRepository, log *zap.Logger) *Engine {
	return &Engine{
		users:     users,
		sessions:  sessions,
		analytics: analytics,
		log:       log,
	}
}

// JourneySummary aggregates a user's journey.
type JourneySummary struct {
	SessionCount int     `json:"session_count"`
	EventCount   int     `json:"event_count"`
	LeadCount    int     `json:"lead_count"`
	TotalAdSpend float64 `json:"total_ad_spend"`
	Converted    bool    `json:"converted"`
}

// Journey is the ordered history of one canonical user. Events are keyed
// by canonical session id.
type Journey struct {
	UserID   string
	User     *domain.CanonicalUser
	Sessions []*domain.UnifiedSession
	Events   map[string][]*domain.SessionEvent
	Leads    []*domain.LeadSubmission
	AdSpend  []*domain.AdSpendSession
	Summary  JourneySummary
}

// SimilarUser is one similarity-search hit.
type SimilarUser struct {
	UserID string  `json:"user_id"`
	Score  float64 `json:"score"`
}

// GetUserJourney returns the user's ordered sessions, events, leads and
// ad spend with a derived summary. An unknown user yields an empty
// journey, not an error.
func (e *Engine) GetUserJourney(ctx context.Context, userID string) (*Journey, error) {
	journey := &Journey{
		UserID: userID,
		Events: make(map[string][]*domain.SessionEvent),
	}

	user, err := e.users.GetUser(ctx, userID)
	if errors.Is(err, domain.ErrNotFound) {
		return journey, nil
	}
	if err != nil {
		return nil, err
	}
	journey.User = user

	journey.Sessions, err = e.sessions.ListSessionsByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	for _, s := range journey.Sessions {
		events, err := e.sessions.ListEventsBySession(ctx, s.CanonicalID)
		if err != nil {
			return nil, err
		}
		journey.Events[s.CanonicalID] = events
		journey.Summary.EventCount += len(events)
	}

	journey.Leads, err = e.sessions.ListLeadsByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	journey.AdSpend, err = e.sessions.ListAdSpendByUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	journey.Summary.SessionCount = len(journey.Sessions)
	journey.Summary.LeadCount = len(journey.Leads)
	journey.Summary.Converted = user.Converted
	for _, spend := range journey.AdSpend {
		journey.Summary.TotalAdSpend += spend.Cost
	}
	return journey, nil
}

// ComputeCredit distributes conversion credit over the user's sessions
// under the given model. An unknown user or empty journey yields an
// empty slice.
func (e *Engine) ComputeCredit(ctx context.Context, userID string, model CreditModel, halfLife time.Duration) ([]SessionCredit, error) {
	sessions, err := e.sessions.ListSessionsByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	return creditShares(sessions, model, halfLife), nil
}

// FindSimilarUsers returns up to limit users whose categorical profile
// (browser, OS, device, geo) scores at or above the threshold, most
// similar first. Ties break on user id for determinism.
func (e *Engine) FindSimilarUsers(ctx context.Context, userID string, threshold float64, limit int) ([]SimilarUser, error) {
	if limit <= 0 {
		return nil, &domain.ValidationError{Field: "limit", Reason: "must be positive"}
	}

	base, err := e.userProfile(ctx, userID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	candidates, err := e.users.ListUserProfiles(ctx, userID, candidateScanLimit)
	if err != nil {
		return nil, err
	}

	var hits []SimilarUser
	for _, candidate := range candidates {
		score := profileSimilarity(base, candidate)
		if score >= threshold {
			hits = append(hits, SimilarUser{UserID: candidate.UserID, Score: score})
		}
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].UserID < hits[j].UserID
	})
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

// GetConversionFunnel aggregates the funnel over the analytics mirror.
func (e *Engine) GetConversionFunnel(ctx context.Context, from, to time.Time) (*repository.FunnelResult, error) {
	if !from.Before(to) {
		return nil, &domain.ValidationError{Field: "from", Reason: "must be before to"}
	}
	return e.analytics.GetConversionFunnel(ctx, repository.FunnelQuery{From: from, To: to})
}

func (e *Engine) userProfile(ctx context.Context, userID string) (repository.UserProfile, error) {
	user, err := e.users.GetUser(ctx, userID)
	if err != nil {
		return repository.UserProfile{}, err
	}

	profile := repository.UserProfile{
		UserID:        user.ID,
		BrowserFamily: user.Fingerprint.BrowserFamily,
		OS:            user.Fingerprint.OS,
		DeviceClass:   user.Fingerprint.DeviceClass,
	}

	sessions, err := e.sessions.ListSessionsByUser(ctx, userID)
	if err != nil {
		return repository.UserProfile{}, err
	}
	if len(sessions) > 0 {
		profile.Geo = sessions[len(sessions)-1].Geo
	}
	return profile, nil
}

// profileSimilarity is a weighted Jaccard-style overlap over the profile
// attributes present on both sides.
func profileSimilarity(a, b repository.UserProfile) float64 {
	type attrPair struct {
		left, right string
		weight      float64
	}
	pairs := []attrPair{
		{a.BrowserFamily, b.BrowserFamily, simWeightBrowser},
		{a.Geo, b.Geo, simWeightGeo},
		{a.OS, b.OS, simWeightOS},
		{a.DeviceClass, b.DeviceClass, simWeightDevice},
	}

	var matched, comparable float64
	for _, p := range pairs {
		if p.left == "" || p.right == "" {
			continue
		}
		comparable += p.weight
		if p.left == p.right {
			matched += p.weight
		}
	}
	if comparable == 0 {
		return 0
	}
	return matched / comparable
}
