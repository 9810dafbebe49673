package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/marketmypractice/correlation-service/internal/domain"
)

const sessionColumns = `canonical_id, user_id, raw_session_id, started_at, last_activity_at,
	duration_sec, page_views, actions, is_bounce, landing_page, exit_page,
	referrer_type, referrer_domain, geo, device_class, browser_family, os,
	converted, conversion_value, campaign, source`

// SessionRepository implements repository.SessionRepository on SQLite.
type SessionRepository struct {
	client *Client
	log    *zap.Logger
}

// NewSessionRepository creates a new session repository.
func NewSessionRepository(client *Client, log *zap.Logger) *SessionRepository {
	return &SessionRepository{client: client, log: log}
}

func scanSession(row interface{ Scan(...any) error }) (*domain.UnifiedSession, error) {
	var s domain.UnifiedSession
	var startedAt, lastActivity int64
	var isBounce, converted int
	err := row.Scan(&s.CanonicalID, &s.UserID, &s.RawSessionID, &startedAt, &lastActivity,
		&s.DurationSec, &s.PageViews, &s.Actions, &isBounce, &s.LandingPage, &s.ExitPage,
		&s.ReferrerType, &s.ReferrerDomain, &s.Geo, &s.DeviceClass, &s.BrowserFamily, &s.OS,
		&converted, &s.ConversionValue, &s.Campaign, &s.Source)
	if err != nil {
		return nil, err
	}
	s.StartedAt = time.Unix(0, startedAt).UTC()
	s.LastActivityAt = time.Unix(0, lastActivity).UTC()
	s.IsBounce = isBounce != 0
	s.Converted = converted != 0
	return &s, nil
}

func (r *SessionRepository) getSessionWhere(ctx context.Context, where string, args ...any) (*domain.UnifiedSession, error) {
	row := r.client.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM unified_sessions `+where, args...)
	s, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, wrapStoreErr("get session", err)
	}
	return s, nil
}

// GetSession fetches a unified session by canonical id.
func (r *SessionRepository) GetSession(ctx context.Context, canonicalID string) (*domain.UnifiedSession, error) {
	return r.getSessionWhere(ctx, `WHERE canonical_id = ?`, canonicalID)
}

// GetSessionByRawID returns the most recent unified session for a raw id.
func (r *SessionRepository) GetSessionByRawID(ctx context.Context, rawSessionID string) (*domain.UnifiedSession, error) {
	return r.getSessionWhere(ctx,
		`WHERE raw_session_id = ? ORDER BY started_at DESC LIMIT 1`, rawSessionID)
}

func insertEvent(ctx context.Context, tx *sql.Tx, ev *domain.SessionEvent) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO session_events (id, session_id, type, timestamp, url, payload) VALUES (?, ?, ?, ?, ?, ?)`,
		ev.ID, ev.SessionID, ev.Type, ev.Timestamp.UnixNano(), ev.URL, ev.Payload)
	if isConstraintErr(err) {
		return &domain.ConflictError{Entity: "session_event", Key: ev.ID}
	}
	return wrapStoreErr("insert event", err)
}

// InsertSession inserts a new unified session with its first event in one
// transaction. A duplicate canonical id surfaces as ConflictError so the
// correlator can re-read and update instead.
func (r *SessionRepository) InsertSession(ctx context.Context, s *domain.UnifiedSession, first *domain.SessionEvent) error {
	return r.client.inTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO unified_sessions (`+sessionColumns+`)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			s.CanonicalID, s.UserID, s.RawSessionID, s.StartedAt.UnixNano(), s.LastActivityAt.UnixNano(),
			s.DurationSec, s.PageViews, s.Actions, boolToInt(s.IsBounce), s.LandingPage, s.ExitPage,
			s.ReferrerType, s.ReferrerDomain, s.Geo, s.DeviceClass, s.BrowserFamily, s.OS,
			boolToInt(s.Converted), s.ConversionValue, s.Campaign, s.Source)
		if isConstraintErr(err) {
			return &domain.ConflictError{Entity: "unified_session", Key: s.CanonicalID}
		}
		if err != nil {
			return wrapStoreErr("insert session", err)
		}

		if first != nil {
			return insertEvent(ctx, tx, first)
		}
		return nil
	})
}

// UpdateSession persists session counters and appends the new event in
// one transaction.
func (r *SessionRepository) UpdateSession(ctx context.Context, s *domain.UnifiedSession, ev *domain.SessionEvent) error {
	return r.client.inTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`UPDATE unified_sessions SET
				last_activity_at = ?, duration_sec = ?, page_views = ?, actions = ?,
				is_bounce = ?, exit_page = ?, converted = ?, conversion_value = ?
			 WHERE canonical_id = ?`,
			s.LastActivityAt.UnixNano(), s.DurationSec, s.PageViews, s.Actions,
			boolToInt(s.IsBounce), s.ExitPage, boolToInt(s.Converted), s.ConversionValue,
			s.CanonicalID)
		if err != nil {
			return wrapStoreErr("update session", err)
		}

		if ev != nil {
			return insertEvent(ctx, tx, ev)
		}
		return nil
	})
}

// ListSessionsByUser returns the user's sessions ordered by start time.
func (r *SessionRepository) ListSessionsByUser(ctx context.Context, userID string) ([]*domain.UnifiedSession, error) {
	rows, err := r.client.db.QueryContext(ctx,
		`SELECT `+sessionColumns+` FROM unified_sessions WHERE user_id = ? ORDER BY started_at`, userID)
	if err != nil {
		return nil, wrapStoreErr("list sessions", err)
	}
	defer rows.Close()

	var sessions []*domain.UnifiedSession
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, wrapStoreErr("scan session", err)
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

// ListEventsBySession returns the session's events in timestamp order.
func (r *SessionRepository) ListEventsBySession(ctx context.Context, sessionID string) ([]*domain.SessionEvent, error) {
	rows, err := r.client.db.QueryContext(ctx,
		`SELECT id, session_id, type, timestamp, url, payload
		 FROM session_events WHERE session_id = ? ORDER BY timestamp`, sessionID)
	if err != nil {
		return nil, wrapStoreErr("list events", err)
	}
	defer rows.Close()

	var events []*domain.SessionEvent
	for rows.Next() {
		var ev domain.SessionEvent
		var ts int64
		if err := rows.Scan(&ev.ID, &ev.SessionID, &ev.Type, &ts, &ev.URL, &ev.Payload); err != nil {
			return nil, wrapStoreErr("scan event", err)
		}
		ev.Timestamp = time.Unix(0, ts).UTC()
		events = append(events, &ev)
	}
	return events, rows.Err()
}

// MostRecentActiveSession returns the user's most recent session whose
// last activity falls inside [from, until]. The upper bound keeps
// backfilled sessions with later activity from capturing a lead that
// predates them.
func (r *SessionRepository) MostRecentActiveSession(ctx context.Context, userID string, from, until time.Time) (*domain.UnifiedSession, error) {
	return r.getSessionWhere(ctx,
		`WHERE user_id = ? AND last_activity_at >= ? AND last_activity_at <= ?
		 ORDER BY last_activity_at DESC LIMIT 1`,
		userID, from.UnixNano(), until.UnixNano())
}

// InsertLead persists a lead submission; written once, never mutated.
func (r *SessionRepository) InsertLead(ctx context.Context, lead *domain.LeadSubmission) error {
	_, err := r.client.db.ExecContext(ctx,
		`INSERT INTO lead_submissions (lead_id, session_id, user_id, submitted_at, campaign, source)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		lead.LeadID, lead.SessionID, lead.UserID, lead.SubmittedAt.UnixNano(), lead.Campaign, lead.Source)
	if isConstraintErr(err) {
		return &domain.ConflictError{Entity: "lead_submission", Key: lead.LeadID}
	}
	return wrapStoreErr("insert lead", err)
}

// ListLeadsByUser returns the user's leads ordered by submission time.
func (r *SessionRepository) ListLeadsByUser(ctx context.Context, userID string) ([]*domain.LeadSubmission, error) {
	rows, err := r.client.db.QueryContext(ctx,
		`SELECT lead_id, session_id, user_id, submitted_at, campaign, source
		 FROM lead_submissions WHERE user_id = ? ORDER BY submitted_at`, userID)
	if err != nil {
		return nil, wrapStoreErr("list leads", err)
	}
	defer rows.Close()

	var leads []*domain.LeadSubmission
	for rows.Next() {
		var lead domain.LeadSubmission
		var submittedAt int64
		if err := rows.Scan(&lead.LeadID, &lead.SessionID, &lead.UserID, &submittedAt, &lead.Campaign, &lead.Source); err != nil {
			return nil, wrapStoreErr("scan lead", err)
		}
		lead.SubmittedAt = time.Unix(0, submittedAt).UTC()
		leads = append(leads, &lead)
	}
	return leads, rows.Err()
}

// InsertAdSpend persists an ad-spend row with its computed ROI.
func (r *SessionRepository) InsertAdSpend(ctx context.Context, spend *domain.AdSpendSession) error {
	_, err := r.client.db.ExecContext(ctx,
		`INSERT INTO ad_spend_sessions (session_id, user_id, platform, campaign, cost, converted, conversion_value, roi)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		spend.SessionID, spend.UserID, spend.Platform, spend.Campaign, spend.Cost,
		boolToInt(spend.Converted), spend.ConversionValue, spend.ROI)
	if isConstraintErr(err) {
		return &domain.ConflictError{Entity: "ad_spend_session", Key: spend.SessionID}
	}
	return wrapStoreErr("insert ad spend", err)
}

// ListAdSpendByUser returns the user's ad-spend rows.
func (r *SessionRepository) ListAdSpendByUser(ctx context.Context, userID string) ([]*domain.AdSpendSession, error) {
	rows, err := r.client.db.QueryContext(ctx,
		`SELECT session_id, user_id, platform, campaign, cost, converted, conversion_value, roi
		 FROM ad_spend_sessions WHERE user_id = ?`, userID)
	if err != nil {
		return nil, wrapStoreErr("list ad spend", err)
	}
	defer rows.Close()

	var spends []*domain.AdSpendSession
	for rows.Next() {
		var spend domain.AdSpendSession
		var converted int
		if err := rows.Scan(&spend.SessionID, &spend.UserID, &spend.Platform, &spend.Campaign,
			&spend.Cost, &converted, &spend.ConversionValue, &spend.ROI); err != nil {
			return nil, wrapStoreErr("scan ad spend", err)
		}
		spend.Converted = converted != 0
		spends = append(spends, &spend)
	}
	return spends, rows.Err()
}
