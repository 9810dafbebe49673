package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/marketmypractice/correlation-service/internal/config"
	"github.com/marketmypractice/correlation-service/internal/domain"
)

func newTestClient(t *testing.T) *Client {
	t.Helper()

	cfg := config.Store{Path: ":memory:", OpTimeoutSec: 5, BusyTimeoutMilli: 5000}
	client, err := NewClient(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = client.Close()
	})
	return client
}

func testUser(id, subnet string) *domain.CanonicalUser {
	now := time.Date(2025, 8, 12, 14, 0, 0, 0, time.UTC)
	fp := domain.Fingerprint{IPSubnet: subnet, BrowserFamily: "chrome", OS: "windows", DeviceClass: "desktop"}
	hash, _ := fp.Digest()
	return &domain.CanonicalUser{
		ID:              id,
		FirstSeen:       now,
		LastSeen:        now,
		SessionCount:    1,
		Fingerprint:     fp,
		FingerprintHash: hash,
	}
}
