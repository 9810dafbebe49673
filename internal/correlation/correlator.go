package correlation

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/marketmypractice/correlation-service/internal/config"
	"github.com/marketmypractice/correlation-service/internal/domain"
	"github.com/marketmypractice/correlation-service/internal/repository"
)

// Correlator creates and updates unified sessions under a canonical user
// and attributes leads and ad spend within a lookback window. Concurrent
// calls for one raw session id never create duplicate sessions: the
// canonical-id uniqueness constraint breaks ties and the loser re-reads
// and updates.
type Correlator struct {
	sessions repository.SessionRepository
	users    repository.IdentityRepository
	cfg      config.Correlator
	clock    clockwork.Clock
	log      *zap.Logger
}

// NewCorrelator creates a new session correlator.
func NewCorrelator(sessions repository.SessionRepository, users repository.IdentityRepository,
	cfg config.Correlator, clock clockwork.Clock, log *zap.Logger) *Correlator {
	return &Correlator{
		sessions: sessions,
		users:    users,
		cfg:      cfg,
		clock:    clock,
		log:      log,
	}
}

// CreateOrUpdateSession applies one raw event to the user's unified
// session, opening a new session when none exists or when the previous
// one has idled out. The returned bool reports whether a session was
// opened.
func (c *Correlator) CreateOrUpdateSession(ctx context.Context, userID string, ev RawEvent) (*domain.UnifiedSession, bool, error) {
	if ev.RawSessionID == "" {
		return nil, false, &domain.ValidationError{Field: "raw_session_id", Reason: "must not be empty"}
	}
	if ev.Timestamp.IsZero() {
		return nil, false, &domain.ValidationError{Field: "timestamp", Reason: "must not be zero"}
	}

	var (
		session *domain.UnifiedSession
		opened  bool
	)
	operation := func() error {
		s, op, err := c.applyEvent(ctx, userID, ev)
		if err != nil {
			if domain.IsRetryable(err) {
				return err
			}
			return backoff.Permanent(err)
		}
		session, opened = s, op
		return nil
	}

	if err := backoff.Retry(operation, c.retryPolicy(ctx)); err != nil {
		return nil, false, err
	}

	if err := c.users.RecordActivity(ctx, userID, ev.Timestamp); err != nil {
		c.log.Warn("Failed to record user activity",
			zap.String("user_id", userID),
			zap.Error(err))
	}
	return session, opened, nil
}

// applyEvent runs one optimistic pass of the read/insert/update loop.
func (c *Correlator) applyEvent(ctx context.Context, userID string, ev RawEvent) (*domain.UnifiedSession, bool, error) {
	existing, err := c.sessions.GetSessionByRawID(ctx, ev.RawSessionID)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return nil, false, err
	}

	// Session time, not wall time, drives idle closing so backfilled
	// history segments the same way live traffic does.
	if existing != nil && !existing.ClosedAt(ev.Timestamp, c.cfg.IdleTimeout()) {
		c.updateFromEvent(existing, ev)
		if err := c.sessions.UpdateSession(ctx, existing, c.sessionEvent(existing.CanonicalID, ev)); err != nil {
			return nil, false, err
		}
		return existing, false, nil
	}

	session := c.newSession(userID, ev)
	if err := c.sessions.InsertSession(ctx, session, c.sessionEvent(session.CanonicalID, ev)); err != nil {
		return nil, false, err
	}
	return session, true, nil
}

func (c *Correlator) newSession(userID string, ev RawEvent) *domain.UnifiedSession {
	s := &domain.UnifiedSession{
		CanonicalID:    domain.CanonicalSessionID(ev.RawSessionID, ev.Timestamp),
		UserID:         userID,
		RawSessionID:   ev.RawSessionID,
		StartedAt:      ev.Timestamp,
		LastActivityAt: ev.Timestamp,
		Actions:        1,
		IsBounce:       true,
		LandingPage:    ev.URL,
		ExitPage:       ev.URL,
		ReferrerType:   ev.ReferrerType,
		ReferrerDomain: ev.ReferrerDomain,
		Geo:            ev.Geo,
		DeviceClass:    ev.DeviceClass,
		BrowserFamily:  ev.BrowserFamily,
		OS:             ev.OS,
		Campaign:       ev.Campaign,
		Source:         ev.Source,
	}
	if ev.IsPageView {
		s.PageViews = 1
	}
	if ev.IsConversion {
		s.Converted = true
		s.ConversionValue = ev.ConversionValue
	}
	return s
}

func (c *Correlator) updateFromEvent(s *domain.UnifiedSession, ev RawEvent) {
	if ev.Timestamp.After(s.LastActivityAt) {
		s.LastActivityAt = ev.Timestamp
		s.ExitPage = ev.URL
	}
	s.DurationSec = int64(s.LastActivityAt.Sub(s.StartedAt) / time.Second)
	s.Actions++
	if ev.IsPageView {
		s.PageViews++
	}
	s.IsBounce = s.Actions <= 1 && s.PageViews <= 1
	if ev.IsConversion {
		s.Converted = true
		s.ConversionValue += ev.ConversionValue
	}
}

func (c *Correlator) sessionEvent(sessionID string, ev RawEvent) *domain.SessionEvent {
	payload := ev.Payload
	if payload == "" {
		payload = "{}"
	}
	return &domain.SessionEvent{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Type:      ev.Type,
		Timestamp: ev.Timestamp,
		URL:       ev.URL,
		Payload:   payload,
	}
}

// CorrelateLead attaches a lead to the user's most recent session whose
// last activity falls inside the lookback window before the submission
// time. When no session qualifies the lead persists with empty
// attribution; the lead is never dropped.
func (c *Correlator) CorrelateLead(ctx context.Context, userID string, in LeadInput) (*domain.LeadSubmission, error) {
	if in.LeadID == "" {
		return nil, &domain.ValidationError{Field: "lead_id", Reason: "must not be empty"}
	}
	if in.SubmittedAt.IsZero() {
		return nil, &domain.ValidationError{Field: "submitted_at", Reason: "must not be zero"}
	}

	lead := &domain.LeadSubmission{
		LeadID:      in.LeadID,
		SessionID:   in.SessionID,
		UserID:      userID,
		SubmittedAt: in.SubmittedAt,
		Campaign:    in.Campaign,
		Source:      in.Source,
	}

	if lead.SessionID == "" {
		// Bounded above by the submission time so a backfilled session
		// with later activity cannot claim a lead it postdates.
		cutoff := in.SubmittedAt.Add(-c.cfg.Lookback())
		session, err := c.sessions.MostRecentActiveSession(ctx, userID, cutoff, in.SubmittedAt)
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			return nil, err
		}
		if session != nil {
			lead.SessionID = session.CanonicalID
			lead.Campaign = session.Campaign
			lead.Source = session.Source
		} else {
			c.log.Info("Lead outside lookback window, persisting with null attribution",
				zap.String("lead_id", in.LeadID),
				zap.String("user_id", userID))
		}
	}

	if err := c.sessions.InsertLead(ctx, lead); err != nil {
		var conflict *domain.ConflictError
		if errors.As(err, &conflict) {
			// Leads are written once; a duplicate id means this submission
			// was already recorded.
			return lead, nil
		}
		return nil, err
	}

	if err := c.users.MarkConverted(ctx, userID, lead.LeadID); err != nil {
		return nil, err
	}
	return lead, nil
}

// RecordAdSpend persists an ad-spend row against a session, resolving a
// raw session id to its canonical session when needed.
func (c *Correlator) RecordAdSpend(ctx context.Context, userID string, in AdSpendInput) (*domain.AdSpendSession, error) {
	if in.Platform == "" {
		return nil, &domain.ValidationError{Field: "platform", Reason: "must not be empty"}
	}

	sessionID := in.SessionID
	if sessionID == "" {
		if in.RawSessionID == "" {
			return nil, &domain.ValidationError{Field: "session_id", Reason: "session_id or raw_session_id required"}
		}
		session, err := c.sessions.GetSessionByRawID(ctx, in.RawSessionID)
		if errors.Is(err, domain.ErrNotFound) {
			// A spend row referencing a session we never saw is a caller
			// mistake, not a server fault.
			return nil, &domain.ValidationError{Field: "raw_session_id", Reason: "no session recorded for this raw id"}
		}
		if err != nil {
			return nil, err
		}
		sessionID = session.CanonicalID
	}

	spend := &domain.AdSpendSession{
		SessionID:       sessionID,
		UserID:          userID,
		Platform:        in.Platform,
		Campaign:        in.Campaign,
		Cost:            in.Cost,
		Converted:       in.Converted,
		ConversionValue: in.ConversionValue,
	}
	spend.ROI = spend.ComputeROI()

	if err := c.sessions.InsertAdSpend(ctx, spend); err != nil {
		return nil, err
	}
	return spend, nil
}

func (c *Correlator) retryPolicy(ctx context.Context) backoff.BackOffContext {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 10 * time.Millisecond
	policy.MaxInterval = 250 * time.Millisecond

	attempts := c.cfg.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	return backoff.WithContext(backoff.WithMaxRetries(policy, uint64(attempts-1)), ctx)
}
