package attribution

import (
	"math"
	"time"

	"github.com/marketmypractice/correlation-service/internal/domain"
)

// CreditModel selects how conversion credit spreads across the sessions
// of a journey. Credit is computed on demand and never persisted.
type CreditModel string

const (
	ModelFirstTouch CreditModel = "first_touch"
	ModelLastTouch  CreditModel = "last_touch"
	ModelLinear     CreditModel = "linear"
	ModelTimeDecay  CreditModel = "time_decay"
)

// ParseCreditModel validates a wire-level model name.
func ParseCreditModel(s string) (CreditModel, error) {
	switch CreditModel(s) {
	case ModelFirstTouch, ModelLastTouch, ModelLinear, ModelTimeDecay:
		return CreditModel(s), nil
	}
	return "", &domain.ValidationError{Field: "model", Reason: "unknown credit model " + s}
}

// SessionCredit is one session's share of conversion credit; shares over
// a journey sum to 1.
type SessionCredit struct {
	SessionID string  `json:"session_id"`
	Credit    float64 `json:"credit"`
}

// creditShares distributes credit over sessions ordered by start time.
// halfLife only applies to the time-decay model: a session's weight
// halves for every halfLife it sits behind the journey's latest session.
func creditShares(sessions []*domain.UnifiedSession, model CreditModel, halfLife time.Duration) []SessionCredit {
	n := len(sessions)
	if n == 0 {
		return nil
	}

	credits := make([]SessionCredit, n)
	for i, s := range sessions {
		credits[i].SessionID = s.CanonicalID
	}

	switch model {
	case ModelFirstTouch:
		credits[0].Credit = 1
	case ModelLastTouch:
		credits[n-1].Credit = 1
	case ModelLinear:
		share := 1.0 / float64(n)
		for i := range credits {
			credits[i].Credit = share
		}
	case ModelTimeDecay:
		if halfLife <= 0 {
			halfLife = 7 * 24 * time.Hour
		}
		latest := sessions[n-1].LastActivityAt
		var total float64
		weights := make([]float64, n)
		for i, s := range sessions {
			age := latest.Sub(s.LastActivityAt)
			weights[i] = math.Pow(0.5, age.Hours()/halfLife.Hours())
			total += weights[i]
		}
		for i := range credits {
			credits[i].Credit = weights[i] / total
		}
	}
	return credits
}
