package domain

import "time"

// AnalyticsEvent is a session event mirrored into ClickHouse for
// aggregate queries. The mirror is eventually consistent with the
// primary store; the change feed that fills it is at-least-once, so the
// table deduplicates on event_id.
type AnalyticsEvent struct {
	EventID     string    `ch:"event_id"`
	SessionID   string    `ch:"session_id"`
	UserID      string    `ch:"user_id"`
	Kind        string    `ch:"kind"`
	EventType   string    `ch:"event_type"`
	Timestamp   int64     `ch:"timestamp"`
	URL         string    `ch:"url"`
	Campaign    string    `ch:"campaign"`
	Converted   bool      `ch:"converted"`
	ProcessedAt time.Time `ch:"processed_at"`
	Version     uint64    `ch:"version"`
}
