package consumer

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/marketmypractice/correlation-service/internal/domain"
)

// MirrorEventParser parses pubsub event envelopes into analytics mirror
// rows. Session events mirror as visits, lead events as leads, so the
// funnel query can tell the stages apart.
type MirrorEventParser struct{}

// NewMirrorEventParser creates a new mirror event parser
func NewMirrorEventParser() *MirrorEventParser {
	return &MirrorEventParser{}
}

// Parse parses a JSON event envelope into an AnalyticsEvent
func (p *MirrorEventParser) Parse(body []byte) (*domain.AnalyticsEvent, error) {
	var event domain.Event
	if err := json.Unmarshal(body, &event); err != nil {
		return nil, fmt.Errorf("failed to unmarshal event envelope: %w", err)
	}
	if event.ID == "" {
		return nil, fmt.Errorf("event envelope is missing event_id")
	}

	row := &domain.AnalyticsEvent{
		EventID:     event.ID,
		SessionID:   getStringField(event.Payload, "session_id"),
		UserID:      getStringField(event.Payload, "user_id"),
		EventType:   getStringField(event.Payload, "event_type"),
		Timestamp:   getInt64Field(event.Payload, "timestamp"),
		URL:         getStringField(event.Payload, "url"),
		Campaign:    getStringField(event.Payload, "campaign"),
		Converted:   getBoolField(event.Payload, "converted"),
		ProcessedAt: time.Now(),
		Version:     uint64(time.Now().UnixNano()),
	}

	switch event.Kind {
	case domain.EventSessionOpened, domain.EventSessionUpdated:
		row.Kind = string(domain.RecordVisit)
	case domain.EventLeadCreated:
		row.Kind = string(domain.RecordLead)
		row.Converted = true
	default:
		return nil, fmt.Errorf("event kind %q is not mirrored", event.Kind)
	}

	if row.Timestamp == 0 {
		row.Timestamp = event.OccurredAt.Unix()
	}
	return row, nil
}

// Helper functions for extracting fields from parsed JSON
func getStringField(m map[string]interface{}, key string) string {
	if val, ok := m[key].(string); ok {
		return val
	}
	return ""
}

func getInt64Field(m map[string]interface{}, key string) int64 {
	if val, ok := m[key].(float64); ok {
		return int64(val)
	}
	return 0
}

func getBoolField(m map[string]interface{}, key string) bool {
	if val, ok := m[key].(bool); ok {
		return val
	}
	return false
}
