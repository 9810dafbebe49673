package correlation

import "time"

// RawEvent is one incoming visit or action event for a raw session,
// already resolved to a canonical user by the identity resolver.
type RawEvent struct {
	RawSessionID    string
	Type            string
	Timestamp       time.Time
	URL             string
	Payload         string
	ReferrerType    string
	ReferrerDomain  string
	Geo             string
	DeviceClass     string
	BrowserFamily   string
	OS              string
	Campaign        string
	Source          string
	IsPageView      bool
	IsConversion    bool
	ConversionValue float64
}

// LeadInput is one lead form submission awaiting session attribution.
type LeadInput struct {
	LeadID      string
	SessionID   string
	SubmittedAt time.Time
	Campaign    string
	Source      string
}

// AdSpendInput ties ad-platform cost to a session, by canonical or raw id.
type AdSpendInput struct {
	SessionID       string
	RawSessionID    string
	Platform        string
	Campaign        string
	Cost            float64
	Converted       bool
	ConversionValue float64
}
