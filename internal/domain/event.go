package domain

import (
	"fmt"
	"time"
)

// Topic names a change-notification stream exposed to subscribers.
type Topic string

const (
	TopicSessions Topic = "sessions"
	TopicLeads    Topic = "leads"
	TopicHealth   Topic = "health"
)

// Topics lists every topic the publisher resolves at initialization.
func Topics() []Topic {
	return []Topic{TopicSessions, TopicLeads, TopicHealth}
}

// EventKind classifies a domain event within its topic.
type EventKind string

const (
	EventSessionOpened  EventKind = "session_opened"
	EventSessionUpdated EventKind = "session_updated"
	EventLeadCreated    EventKind = "lead_created"
	EventLeaderChanged  EventKind = "leader_changed"
	EventHealthDegraded EventKind = "health_degraded"
)

// Event is the envelope broadcast for every state change. Delivery is
// at-least-once; consumers deduplicate on ID.
type Event struct {
	ID         string                 `json:"event_id"`
	Kind       EventKind              `json:"kind"`
	OccurredAt time.Time              `json:"occurred_at"`
	Payload    map[string]interface{} `json:"payload"`
}

// RecordKind enumerates the raw record types accepted by ingest and
// backfill. Dispatch on the enum replaces per-call string matching
// against source table names.
type RecordKind string

const (
	RecordVisit   RecordKind = "visit"
	RecordAction  RecordKind = "action"
	RecordLead    RecordKind = "lead"
	RecordAdSpend RecordKind = "ad_spend"
)

// ParseRecordKind validates a wire-level kind string.
func ParseRecordKind(s string) (RecordKind, error) {
	switch RecordKind(s) {
	case RecordVisit, RecordAction, RecordLead, RecordAdSpend:
		return RecordKind(s), nil
	}
	return "", &ValidationError{Field: "kind", Reason: fmt.Sprintf("unknown record kind %q", s)}
}
