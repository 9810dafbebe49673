package consumer

import (
	"github.com/marketmypractice/correlation-service/internal/domain"
)

// MessageParser defines the interface for parsing raw message bytes
// into mirror rows
type MessageParser interface {
	Parse(body []byte) (*domain.AnalyticsEvent, error)
}
