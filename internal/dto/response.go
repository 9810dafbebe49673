package dto

import (
	"github.com/marketmypractice/correlation-service/internal/attribution"
	"github.com/marketmypractice/correlation-service/internal/domain"
	"github.com/marketmypractice/correlation-service/internal/repository"
)

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error   string `json:"error" example:"validation_error"`
	Message string `json:"message,omitempty" example:"raw_session_id is required"`
}

// IngestRecordResponse is a successful ingest result.
type IngestRecordResponse struct {
	CanonicalUserID    string `json:"canonical_user_id"`
	CanonicalSessionID string `json:"canonical_session_id,omitempty"`
	LeadID             string `json:"lead_id,omitempty"`
	Status             string `json:"status" example:"processed"`
}

// IngestBatchResponse reports per-batch success/failure counts.
type IngestBatchResponse struct {
	Accepted int      `json:"accepted" example:"997"`
	Rejected int      `json:"rejected" example:"3"`
	Errors   []string `json:"errors,omitempty"`
}

// HeartbeatResponse acknowledges a heartbeat and reports the current
// leader for the component type, "none" when no leader is set.
type HeartbeatResponse struct {
	LeaderID string `json:"leader_id" example:"etl_worker-3f2a"`
	Status   string `json:"status" example:"accepted"`
}

// SessionData is the wire shape of one unified session.
type SessionData struct {
	CanonicalID     string  `json:"canonical_id"`
	RawSessionID    string  `json:"raw_session_id"`
	StartedAt       int64   `json:"started_at"`
	LastActivityAt  int64   `json:"last_activity_at"`
	DurationSec     int64   `json:"duration_sec"`
	PageViews       int     `json:"page_views"`
	Actions         int     `json:"actions"`
	IsBounce        bool    `json:"is_bounce"`
	LandingPage     string  `json:"landing_page,omitempty"`
	ExitPage        string  `json:"exit_page,omitempty"`
	Geo             string  `json:"geo,omitempty"`
	Campaign        string  `json:"campaign,omitempty"`
	Source          string  `json:"source,omitempty"`
	Converted       bool    `json:"converted"`
	ConversionValue float64 `json:"conversion_value,omitempty"`
}

// EventData is the wire shape of one session event.
type EventData struct {
	ID        string `json:"id"`
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp"`
	URL       string `json:"url,omitempty"`
}

// LeadData is the wire shape of one lead submission.
type LeadData struct {
	LeadID      string `json:"lead_id"`
	SessionID   string `json:"session_id,omitempty"`
	SubmittedAt int64  `json:"submitted_at"`
	Campaign    string `json:"campaign,omitempty"`
	Source      string `json:"source,omitempty"`
}

// AdSpendData is the wire shape of one ad-spend row.
type AdSpendData struct {
	SessionID       string  `json:"session_id"`
	Platform        string  `json:"platform"`
	Campaign        string  `json:"campaign,omitempty"`
	Cost            float64 `json:"cost"`
	Converted       bool    `json:"converted"`
	ConversionValue float64 `json:"conversion_value,omitempty"`
	ROI             float64 `json:"roi"`
}

// JourneySummaryData aggregates a journey.
type JourneySummaryData struct {
	SessionCount int     `json:"session_count"`
	EventCount   int     `json:"event_count"`
	LeadCount    int     `json:"lead_count"`
	TotalAdSpend float64 `json:"total_ad_spend"`
	Converted    bool    `json:"converted"`
}

// JourneyResponse is the full user-journey query result. An unknown
// user returns the zero journey, not an error.
type JourneyResponse struct {
	UserID   string                 `json:"user_id"`
	Sessions []SessionData          `json:"sessions"`
	Events   map[string][]EventData `json:"events,omitempty"`
	Leads    []LeadData             `json:"leads,omitempty"`
	AdSpend  []AdSpendData          `json:"ad_spend,omitempty"`
	Summary  JourneySummaryData     `json:"summary"`
}

// SimilarUsersResponse lists similarity-search hits, most similar first.
type SimilarUsersResponse struct {
	UserID  string                    `json:"user_id"`
	Matches []attribution.SimilarUser `json:"matches"`
}

// FunnelStageData is one aggregated funnel step.
type FunnelStageData struct {
	Stage    string `json:"stage"`
	Sessions uint64 `json:"sessions"`
	Users    uint64 `json:"users"`
}

// FunnelResponse is the conversion-funnel query result.
type FunnelResponse struct {
	From           int64             `json:"from"`
	To             int64             `json:"to"`
	Stages         []FunnelStageData `json:"stages"`
	ConversionRate float64           `json:"conversion_rate"`
}

// NewJourneyResponse maps an attribution journey onto the wire.
func NewJourneyResponse(journey *attribution.Journey) *JourneyResponse {
	resp := &JourneyResponse{
		UserID:   journey.UserID,
		Sessions: make([]SessionData, 0, len(journey.Sessions)),
		Summary: JourneySummaryData{
			SessionCount: journey.Summary.SessionCount,
			EventCount:   journey.Summary.EventCount,
			LeadCount:    journey.Summary.LeadCount,
			TotalAdSpend: journey.Summary.TotalAdSpend,
			Converted:    journey.Summary.Converted,
		},
	}

	for _, s := range journey.Sessions {
		resp.Sessions = append(resp.Sessions, newSessionData(s))
	}
	if len(journey.Events) > 0 {
		resp.Events = make(map[string][]EventData, len(journey.Events))
		for sessionID, events := range journey.Events {
			out := make([]EventData, 0, len(events))
			for _, ev := range events {
				out = append(out, EventData{
					ID:        ev.ID,
					Type:      ev.Type,
					Timestamp: ev.Timestamp.Unix(),
					URL:       ev.URL,
				})
			}
			resp.Events[sessionID] = out
		}
	}
	for _, lead := range journey.Leads {
		resp.Leads = append(resp.Leads, LeadData{
			LeadID:      lead.LeadID,
			SessionID:   lead.SessionID,
			SubmittedAt: lead.SubmittedAt.Unix(),
			Campaign:    lead.Campaign,
			Source:      lead.Source,
		})
	}
	for _, spend := range journey.AdSpend {
		resp.AdSpend = append(resp.AdSpend, AdSpendData{
			SessionID:       spend.SessionID,
			Platform:        spend.Platform,
			Campaign:        spend.Campaign,
			Cost:            spend.Cost,
			Converted:       spend.Converted,
			ConversionValue: spend.ConversionValue,
			ROI:             spend.ROI,
		})
	}
	return resp
}

func newSessionData(s *domain.UnifiedSession) SessionData {
	return SessionData{
		CanonicalID:     s.CanonicalID,
		RawSessionID:    s.RawSessionID,
		StartedAt:       s.StartedAt.Unix(),
		LastActivityAt:  s.LastActivityAt.Unix(),
		DurationSec:     s.DurationSec,
		PageViews:       s.PageViews,
		Actions:         s.Actions,
		IsBounce:        s.IsBounce,
		LandingPage:     s.LandingPage,
		ExitPage:        s.ExitPage,
		Geo:             s.Geo,
		Campaign:        s.Campaign,
		Source:          s.Source,
		Converted:       s.Converted,
		ConversionValue: s.ConversionValue,
	}
}

// NewFunnelResponse maps a funnel result onto the wire.
func NewFunnelResponse(from, to int64, result *repository.FunnelResult) *FunnelResponse {
	resp := &FunnelResponse{
		From:           from,
		To:             to,
		Stages:         make([]FunnelStageData, 0, len(result.Stages)),
		ConversionRate: result.ConversionRate,
	}
	for _, stage := range result.Stages {
		resp.Stages = append(resp.Stages, FunnelStageData{
			Stage:    stage.Stage,
			Sessions: stage.Sessions,
			Users:    stage.Users,
		})
	}
	return resp
}
