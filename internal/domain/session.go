package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// SessionBucket is the coarse time bucket folded into canonical session
// ids. Near-simultaneous first events land in the same bucket and
// collide on the id, deduplicating concurrent writers. The bucket must
// not exceed the idle timeout: a session opened after an idle gap then
// always starts in a later bucket and gets a fresh id.
const SessionBucket = 30 * time.Minute

// CanonicalSessionID derives the stable id of a unified session from the
// raw session id and the time bucket of its first event.
func CanonicalSessionID(rawSessionID string, at time.Time) string {
	bucket := at.UTC().Truncate(SessionBucket).Unix()
	data := fmt.Sprintf("%s|%d", rawSessionID, bucket)
	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])
}

// UnifiedSession is one normalized visit record correlated to a canonical
// user. It is created at the first event of a raw session and updated on
// subsequent events until the idle timeout closes it.
type UnifiedSession struct {
	CanonicalID     string
	UserID          string
	RawSessionID    string
	StartedAt       time.Time
	LastActivityAt  time.Time
	DurationSec     int64
	PageViews       int
	Actions         int
	IsBounce        bool
	LandingPage     string
	ExitPage        string
	ReferrerType    string
	ReferrerDomain  string
	Geo             string
	DeviceClass     string
	BrowserFamily   string
	OS              string
	Converted       bool
	ConversionValue float64
	Campaign        string
	Source          string
}

// ClosedAt reports whether the session is considered closed given the
// idle timeout: no event has arrived within the timeout as of now.
func (s *UnifiedSession) ClosedAt(now time.Time, idleTimeout time.Duration) bool {
	return now.Sub(s.LastActivityAt) > idleTimeout
}

// SessionEvent is a single raw action inside a unified session.
// Rows are append-only and immutable once written.
type SessionEvent struct {
	ID        string
	SessionID string
	Type      string
	Timestamp time.Time
	URL       string
	Payload   string
}

// LeadSubmission records one lead form submission. SessionID is empty
// when no session fell inside the attribution lookback window.
type LeadSubmission struct {
	LeadID      string
	SessionID   string
	UserID      string
	SubmittedAt time.Time
	Campaign    string
	Source      string
}

// AdSpendSession ties paid-traffic cost to a unified session.
type AdSpendSession struct {
	SessionID       string
	UserID          string
	Platform        string
	Campaign        string
	Cost            float64
	Converted       bool
	ConversionValue float64
	ROI             float64
}

// ComputeROI returns the return on ad spend for the row; zero cost or an
// unconverted session yields zero.
func (a *AdSpendSession) ComputeROI() float64 {
	if a.Cost <= 0 || !a.Converted {
		return 0
	}
	return (a.ConversionValue - a.Cost) / a.Cost
}
