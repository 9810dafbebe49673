package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/marketmypractice/correlation-service/internal/correlation"
	"github.com/marketmypractice/correlation-service/internal/domain"
	"github.com/marketmypractice/correlation-service/internal/dto"
	"github.com/marketmypractice/correlation-service/internal/identity"
	"github.com/marketmypractice/correlation-service/internal/pubsub"
)

// recordHandler transforms one raw record of a single kind and upserts
// it through the resolver/correlator pipeline.
type recordHandler func(ctx context.Context, userID string, req *dto.IngestRecordRequest) (*dto.IngestRecordResponse, error)

// IngestService represents the ingest service. Record kinds dispatch
// through a typed handler registry resolved once at construction, so an
// unknown kind fails validation instead of hitting a default branch.
type IngestService struct {
	resolver   IdentityResolver
	correlator SessionCorrelator
	publisher  pubsub.Publisher
	handlers   map[domain.RecordKind]recordHandler
	opTimeout  time.Duration
	clock      clockwork.Clock
	log        *zap.Logger
}

// NewIngestService creates a new ingest service.
func NewIngestService(resolver IdentityResolver, correlator SessionCorrelator,
	publisher pubsub.Publisher, opTimeout time.Duration, clock clockwork.Clock, log *zap.Logger) *IngestService {
	s := &IngestService{
		resolver:   resolver,
		correlator: correlator,
		publisher:  publisher,
		opTimeout:  opTimeout,
		clock:      clock,
		log:        log,
	}
	s.handlers = map[domain.RecordKind]recordHandler{
		domain.RecordVisit:   s.processVisit,
		domain.RecordAction:  s.processVisit,
		domain.RecordLead:    s.processLead,
		domain.RecordAdSpend: s.processAdSpend,
	}
	return s
}

// ProcessRecord resolves the record's canonical user and dispatches on
// the record kind.
func (s *IngestService) ProcessRecord(ctx context.Context, req *dto.IngestRecordRequest) (*dto.IngestRecordResponse, error) {
	kind, err := domain.ParseRecordKind(req.Kind)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	if req.Timestamp > now.Unix()+1 {
		return nil, &domain.ValidationError{
			Field:  "timestamp",
			Reason: fmt.Sprintf("cannot be in the future: %d > %d", req.Timestamp, now.Unix()),
		}
	}

	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	fp := identity.NewFingerprint(req.IP, req.BrowserFamily, req.OS, req.DeviceClass)
	userID, err := s.resolver.ResolveOrCreate(ctx, fp, req.RawSessionID)
	if err != nil {
		return nil, err
	}

	return s.handlers[kind](ctx, userID, req)
}

// ProcessBatch applies records one at a time, collecting per-record
// failures instead of aborting the batch.
func (s *IngestService) ProcessBatch(ctx context.Context, req *dto.IngestBatchRequest) (*dto.IngestBatchResponse, error) {
	resp := &dto.IngestBatchResponse{}
	for i := range req.Records {
		if _, err := s.ProcessRecord(ctx, &req.Records[i]); err != nil {
			resp.Rejected++
			resp.Errors = append(resp.Errors, fmt.Sprintf("record %d: %s", i, err.Error()))
			s.log.Warn("Failed to process record in batch",
				zap.Int("index", i),
				zap.String("kind", req.Records[i].Kind),
				zap.Error(err))
			continue
		}
		resp.Accepted++
	}
	return resp, nil
}

func (s *IngestService) processVisit(ctx context.Context, userID string, req *dto.IngestRecordRequest) (*dto.IngestRecordResponse, error) {
	session, opened, err := s.correlator.CreateOrUpdateSession(ctx, userID, s.rawEvent(req))
	if err != nil {
		return nil, err
	}

	kind := domain.EventSessionUpdated
	if opened {
		kind = domain.EventSessionOpened
	}
	s.publisher.Publish(ctx, domain.TopicSessions, domain.Event{
		Kind:       kind,
		OccurredAt: s.clock.Now().UTC(),
		Payload: map[string]interface{}{
			"session_id": session.CanonicalID,
			"user_id":    userID,
			"event_type": req.EventType,
			"timestamp":  req.Timestamp,
			"url":        req.URL,
			"campaign":   session.Campaign,
			"converted":  session.Converted,
		},
	})

	return &dto.IngestRecordResponse{
		CanonicalUserID:    userID,
		CanonicalSessionID: session.CanonicalID,
		Status:             "processed",
	}, nil
}

func (s *IngestService) processLead(ctx context.Context, userID string, req *dto.IngestRecordRequest) (*dto.IngestRecordResponse, error) {
	lead, err := s.correlator.CorrelateLead(ctx, userID, correlation.LeadInput{
		LeadID:      req.LeadID,
		SubmittedAt: s.eventTime(req),
		Campaign:    req.Campaign,
		Source:      req.Source,
	})
	if err != nil {
		return nil, err
	}

	s.publisher.Publish(ctx, domain.TopicLeads, domain.Event{
		Kind:       domain.EventLeadCreated,
		OccurredAt: s.clock.Now().UTC(),
		Payload: map[string]interface{}{
			"lead_id":    lead.LeadID,
			"user_id":    userID,
			"session_id": lead.SessionID,
			"campaign":   lead.Campaign,
		},
	})

	return &dto.IngestRecordResponse{
		CanonicalUserID:    userID,
		CanonicalSessionID: lead.SessionID,
		LeadID:             lead.LeadID,
		Status:             "processed",
	}, nil
}

func (s *IngestService) processAdSpend(ctx context.Context, userID string, req *dto.IngestRecordRequest) (*dto.IngestRecordResponse, error) {
	spend, err := s.correlator.RecordAdSpend(ctx, userID, correlation.AdSpendInput{
		RawSessionID:    req.RawSessionID,
		Platform:        req.Platform,
		Campaign:        req.Campaign,
		Cost:            req.Cost,
		Converted:       req.Conversion,
		ConversionValue: req.ConversionValue,
	})
	if err != nil {
		return nil, err
	}
	return &dto.IngestRecordResponse{
		CanonicalUserID:    userID,
		CanonicalSessionID: spend.SessionID,
		Status:             "processed",
	}, nil
}

func (s *IngestService) rawEvent(req *dto.IngestRecordRequest) correlation.RawEvent {
	return correlation.RawEvent{
		RawSessionID:    req.RawSessionID,
		Type:            req.EventType,
		Timestamp:       s.eventTime(req),
		URL:             req.URL,
		Payload:         encodePayload(req.Payload),
		ReferrerType:    req.ReferrerType,
		ReferrerDomain:  req.ReferrerDomain,
		Geo:             req.Geo,
		DeviceClass:     req.DeviceClass,
		BrowserFamily:   req.BrowserFamily,
		OS:              req.OS,
		Campaign:        req.Campaign,
		Source:          req.Source,
		IsPageView:      req.PageView,
		IsConversion:    req.Conversion,
		ConversionValue: req.ConversionValue,
	}
}

// eventTime falls back to server time for records without a timestamp.
func (s *IngestService) eventTime(req *dto.IngestRecordRequest) time.Time {
	if req.Timestamp == 0 {
		return s.clock.Now().UTC()
	}
	return time.Unix(req.Timestamp, 0).UTC()
}

func encodePayload(payload map[string]interface{}) string {
	if len(payload) == 0 {
		return ""
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return ""
	}
	return string(data)
}
