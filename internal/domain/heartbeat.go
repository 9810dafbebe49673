package domain

import "time"

// ComponentStatus is the self-reported health of a worker instance.
type ComponentStatus string

const (
	StatusHealthy  ComponentStatus = "healthy"
	StatusDegraded ComponentStatus = "degraded"
	StatusDraining ComponentStatus = "draining"
)

// Valid reports whether the status is one of the known values.
func (s ComponentStatus) Valid() bool {
	switch s {
	case StatusHealthy, StatusDegraded, StatusDraining:
		return true
	}
	return false
}

// Heartbeat is the liveness record of one worker instance. There is one
// row per (ComponentType, ComponentID), overwritten on every beat; the
// timestamp is set at server arrival time to avoid client clock skew.
type Heartbeat struct {
	ComponentType string
	ComponentID   string
	Timestamp     time.Time
	FirstSeen     time.Time
	Status        ComponentStatus
	Metrics       map[string]float64
	IsLeader      bool
	QuorumSize    int
	QuorumMembers []string
}

// Stale reports whether the heartbeat is older than the stale threshold.
func (h *Heartbeat) Stale(now time.Time, threshold time.Duration) bool {
	return now.Sub(h.Timestamp) > threshold
}
