package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/marketmypractice/correlation-service/internal/domain"
)

func TestIdentityRepository_CreateAndGet(t *testing.T) {
	repo := NewIdentityRepository(newTestClient(t), zap.NewNop())
	ctx := context.Background()

	user := testUser("user-1", "72.241.11.0")
	require.NoError(t, repo.CreateUserWithRawID(ctx, user, "raw-1"))

	got, err := repo.GetUser(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, "user-1", got.ID)
	assert.Equal(t, user.FingerprintHash, got.FingerprintHash)
	assert.Equal(t, "72.241.11.0", got.Fingerprint.IPSubnet)
	assert.Equal(t, []string{"raw-1"}, got.MergedRawIDs)
	assert.Equal(t, user.FirstSeen, got.FirstSeen)

	byRaw, err := repo.GetUserByRawID(ctx, "raw-1")
	require.NoError(t, err)
	assert.Equal(t, "user-1", byRaw.ID)

	byHash, err := repo.GetUserByFingerprintHash(ctx, user.FingerprintHash)
	require.NoError(t, err)
	assert.Equal(t, "user-1", byHash.ID)
}

func TestIdentityRepository_GetUnknownReturnsNotFound(t *testing.T) {
	repo := NewIdentityRepository(newTestClient(t), zap.NewNop())
	ctx := context.Background()

	_, err := repo.GetUser(ctx, "ghost")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = repo.GetUserByRawID(ctx, "ghost")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = repo.GetUserByFingerprintHash(ctx, "deadbeef")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestIdentityRepository_DuplicateRawIDConflicts(t *testing.T) {
	repo := NewIdentityRepository(newTestClient(t), zap.NewNop())
	ctx := context.Background()

	require.NoError(t, repo.CreateUserWithRawID(ctx, testUser("user-1", "72.241.11.0"), "raw-1"))

	err := repo.CreateUserWithRawID(ctx, testUser("user-2", "10.0.0.0"), "raw-1")
	var conflict *domain.ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, "raw_session_map", conflict.Entity)

	// The losing transaction must not leave a half-written user behind.
	_, err = repo.GetUser(ctx, "user-2")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestIdentityRepository_DuplicateUserIDConflicts(t *testing.T) {
	repo := NewIdentityRepository(newTestClient(t), zap.NewNop())
	ctx := context.Background()

	require.NoError(t, repo.CreateUserWithRawID(ctx, testUser("user-1", "72.241.11.0"), "raw-1"))

	err := repo.CreateUserWithRawID(ctx, testUser("user-1", "72.241.11.0"), "raw-2")
	var conflict *domain.ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, "canonical_user", conflict.Entity)
}

func TestIdentityRepository_DuplicateFingerprintDigestConflicts(t *testing.T) {
	repo := NewIdentityRepository(newTestClient(t), zap.NewNop())
	ctx := context.Background()

	require.NoError(t, repo.CreateUserWithRawID(ctx, testUser("user-1", "72.241.11.0"), "raw-1"))

	// Same fingerprint, different user and raw ids: the live-digest key
	// is unique, so the second insert must conflict instead of splitting
	// one person across two users.
	err := repo.CreateUserWithRawID(ctx, testUser("user-2", "72.241.11.0"), "raw-2")
	var conflict *domain.ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, "canonical_user", conflict.Entity)

	_, err = repo.GetUser(ctx, "user-2")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestIdentityRepository_ArchivedDigestDoesNotBlockInsert(t *testing.T) {
	repo := NewIdentityRepository(newTestClient(t), zap.NewNop())
	ctx := context.Background()

	old := testUser("user-old", "72.241.11.0")
	require.NoError(t, repo.CreateUserWithRawID(ctx, old, "raw-old"))

	_, err := repo.ArchiveUsersBefore(ctx, old.LastSeen.Add(time.Hour))
	require.NoError(t, err)

	// A returning visitor whose old identity was archived starts over
	// with a fresh user under the same digest.
	require.NoError(t, repo.CreateUserWithRawID(ctx, testUser("user-new", "72.241.11.0"), "raw-new"))
}

func TestIdentityRepository_EmptyDigestsDoNotCollide(t *testing.T) {
	repo := NewIdentityRepository(newTestClient(t), zap.NewNop())
	ctx := context.Background()

	degradedA := &domain.CanonicalUser{ID: "raw-a", FirstSeen: time.Now().UTC(), LastSeen: time.Now().UTC(), SessionCount: 1}
	degradedB := &domain.CanonicalUser{ID: "raw-b", FirstSeen: time.Now().UTC(), LastSeen: time.Now().UTC(), SessionCount: 1}

	require.NoError(t, repo.CreateUserWithRawID(ctx, degradedA, "raw-a"))
	require.NoError(t, repo.CreateUserWithRawID(ctx, degradedB, "raw-b"))
}

func TestIdentityRepository_MergeRawID(t *testing.T) {
	repo := NewIdentityRepository(newTestClient(t), zap.NewNop())
	ctx := context.Background()

	user := testUser("user-1", "72.241.11.0")
	require.NoError(t, repo.CreateUserWithRawID(ctx, user, "raw-1"))

	seenAt := user.LastSeen.Add(time.Hour)
	require.NoError(t, repo.MergeRawID(ctx, "user-1", "raw-2", seenAt))

	got, err := repo.GetUser(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"raw-1", "raw-2"}, got.MergedRawIDs)
	assert.Equal(t, 2, got.SessionCount)
	assert.True(t, got.IsReturning)
	assert.Equal(t, seenAt, got.LastSeen)
}

func TestIdentityRepository_MergeRawID_IdempotentForSameUser(t *testing.T) {
	repo := NewIdentityRepository(newTestClient(t), zap.NewNop())
	ctx := context.Background()

	user := testUser("user-1", "72.241.11.0")
	require.NoError(t, repo.CreateUserWithRawID(ctx, user, "raw-1"))
	require.NoError(t, repo.MergeRawID(ctx, "user-1", "raw-1", user.LastSeen))

	got, err := repo.GetUser(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, 1, got.SessionCount)
	assert.False(t, got.IsReturning)
}

func TestIdentityRepository_MergeRawID_ConflictAcrossUsers(t *testing.T) {
	repo := NewIdentityRepository(newTestClient(t), zap.NewNop())
	ctx := context.Background()

	require.NoError(t, repo.CreateUserWithRawID(ctx, testUser("user-1", "72.241.11.0"), "raw-1"))
	require.NoError(t, repo.CreateUserWithRawID(ctx, testUser("user-2", "10.0.0.0"), "raw-2"))

	err := repo.MergeRawID(ctx, "user-2", "raw-1", time.Now())
	var conflict *domain.ConflictError
	assert.ErrorAs(t, err, &conflict)
}

func TestIdentityRepository_CandidatesBySubnet(t *testing.T) {
	repo := NewIdentityRepository(newTestClient(t), zap.NewNop())
	ctx := context.Background()

	a := testUser("user-a", "72.241.11.0")
	b := testUser("user-b", "72.241.11.0")
	b.Fingerprint.BrowserFamily = "firefox"
	b.FingerprintHash, _ = b.Fingerprint.Digest()
	b.FirstSeen = a.FirstSeen.Add(time.Minute)
	other := testUser("user-c", "10.0.0.0")

	require.NoError(t, repo.CreateUserWithRawID(ctx, a, "raw-a"))
	require.NoError(t, repo.CreateUserWithRawID(ctx, b, "raw-b"))
	require.NoError(t, repo.CreateUserWithRawID(ctx, other, "raw-c"))

	candidates, err := repo.CandidatesBySubnet(ctx, "72.241.11.0")
	require.NoError(t, err)
	require.Len(t, candidates, 2)
	assert.Equal(t, "user-a", candidates[0].ID)
	assert.Equal(t, "user-b", candidates[1].ID)
}

func TestIdentityRepository_MarkConvertedAndRecordActivity(t *testing.T) {
	repo := NewIdentityRepository(newTestClient(t), zap.NewNop())
	ctx := context.Background()

	user := testUser("user-1", "72.241.11.0")
	require.NoError(t, repo.CreateUserWithRawID(ctx, user, "raw-1"))

	require.NoError(t, repo.MarkConverted(ctx, "user-1", "lead_42"))
	at := user.LastSeen.Add(time.Hour)
	require.NoError(t, repo.RecordActivity(ctx, "user-1", at))

	got, err := repo.GetUser(ctx, "user-1")
	require.NoError(t, err)
	assert.True(t, got.Converted)
	assert.Equal(t, "lead_42", got.LeadID)
	assert.Equal(t, 1, got.ActionCount)
	assert.Equal(t, at, got.LastSeen)
}

func TestIdentityRepository_ArchiveUsersBefore(t *testing.T) {
	repo := NewIdentityRepository(newTestClient(t), zap.NewNop())
	ctx := context.Background()

	old := testUser("user-old", "72.241.11.0")
	fresh := testUser("user-fresh", "72.241.11.0")
	fresh.Fingerprint.BrowserFamily = "firefox"
	fresh.FingerprintHash, _ = fresh.Fingerprint.Digest()
	fresh.LastSeen = old.LastSeen.Add(48 * time.Hour)

	require.NoError(t, repo.CreateUserWithRawID(ctx, old, "raw-old"))
	require.NoError(t, repo.CreateUserWithRawID(ctx, fresh, "raw-fresh"))

	archived, err := repo.ArchiveUsersBefore(ctx, old.LastSeen.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, archived)

	// Archived users drop out of the candidate set but stay readable.
	candidates, err := repo.CandidatesBySubnet(ctx, "72.241.11.0")
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	assert.Equal(t, "user-fresh", candidates[0].ID)

	got, err := repo.GetUser(ctx, "user-old")
	require.NoError(t, err)
	assert.True(t, got.Archived)
}
