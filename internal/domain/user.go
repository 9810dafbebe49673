package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// Fingerprint holds the coarse, stable attributes used to cluster raw
// sessions belonging to one physical visitor. It is intentionally lossy:
// near-duplicates are resolved by similarity scoring, not by the digest.
type Fingerprint struct {
	IPSubnet      string `json:"ip_subnet"`
	BrowserFamily string `json:"browser_family"`
	OS            string `json:"os"`
	DeviceClass   string `json:"device_class"`
}

// IsZero reports whether no attribute of the fingerprint is populated.
func (f Fingerprint) IsZero() bool {
	return f.IPSubnet == "" && f.BrowserFamily == "" && f.OS == "" && f.DeviceClass == ""
}

// Digest returns a deterministic SHA-256 digest over the fingerprint
// attributes. Uses the same content-hash scheme as canonical session ids.
func (f Fingerprint) Digest() (string, error) {
	if f.IsZero() {
		return "", fmt.Errorf("fingerprint has no attributes")
	}
	data := fmt.Sprintf("%s|%s|%s|%s", f.IPSubnet, f.BrowserFamily, f.OS, f.DeviceClass)
	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:]), nil
}

// CanonicalUser is the deduplicated identity representing one physical
// visitor across raw sessions and devices. It is created on the first
// unseen fingerprint, updated on every merge, and never hard-deleted.
type CanonicalUser struct {
	ID              string
	MergedRawIDs    []string
	FirstSeen       time.Time
	LastSeen        time.Time
	SessionCount    int
	ActionCount     int
	IsReturning     bool
	Converted       bool
	LeadID          string
	Fingerprint     Fingerprint
	FingerprintHash string
	Archived        bool
}
