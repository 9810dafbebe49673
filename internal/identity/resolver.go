package identity

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/marketmypractice/correlation-service/internal/config"
	"github.com/marketmypractice/correlation-service/internal/domain"
	"github.com/marketmypractice/correlation-service/internal/repository"
)

// Resolver maps raw visit fingerprints to canonical users, merging
// duplicate raw session ids under one identity. It holds no state across
// calls; correctness under concurrent writers comes from the store's
// uniqueness constraints plus a bounded, jittered retry loop.
type Resolver struct {
	repo  repository.IdentityRepository
	cfg   config.Resolver
	clock clockwork.Clock
	log   *zap.Logger
}

// NewResolver creates a new identity resolver.
func NewResolver(repo repository.IdentityRepository, cfg config.Resolver, clock clockwork.Clock, log *zap.Logger) *Resolver {
	return &Resolver{
		repo:  repo,
		cfg:   cfg,
		clock: clock,
		log:   log,
	}
}

// ResolveOrCreate returns the canonical user id for a raw session id,
// creating a new canonical user when the fingerprint matches nobody.
// Resolving the same raw session id any number of times returns the same
// user. A fingerprint with no usable attributes degrades to the raw
// session id as the canonical id rather than failing the call.
func (r *Resolver) ResolveOrCreate(ctx context.Context, fp domain.Fingerprint, rawSessionID string) (string, error) {
	if rawSessionID == "" {
		return "", &domain.ValidationError{Field: "raw_session_id", Reason: "must not be empty"}
	}

	// Idempotence fast path: the raw id already has a permanent owner.
	if user, err := r.repo.GetUserByRawID(ctx, rawSessionID); err == nil {
		return user.ID, nil
	} else if !errors.Is(err, domain.ErrNotFound) {
		return "", err
	}

	digest, err := fp.Digest()
	if err != nil {
		r.log.Warn("Fingerprint computation failed, degrading to raw session id",
			zap.String("raw_session_id", rawSessionID),
			zap.Error(err))
		return r.resolveDegraded(ctx, rawSessionID)
	}

	var userID string
	operation := func() error {
		id, err := r.resolveOnce(ctx, fp, digest, rawSessionID)
		if err != nil {
			if domain.IsRetryable(err) {
				return err
			}
			return backoff.Permanent(err)
		}
		userID = id
		return nil
	}

	if err := backoff.Retry(operation, r.retryPolicy(ctx)); err != nil {
		return "", err
	}
	return userID, nil
}

// resolveOnce runs one optimistic pass: exact digest match, then
// similarity over the subnet candidate set, then a fresh user.
func (r *Resolver) resolveOnce(ctx context.Context, fp domain.Fingerprint, digest, rawSessionID string) (string, error) {
	now := r.clock.Now().UTC()

	// A previous pass may have lost the raw-id race; the winner's mapping
	// is the answer.
	if user, err := r.repo.GetUserByRawID(ctx, rawSessionID); err == nil {
		return user.ID, nil
	} else if !errors.Is(err, domain.ErrNotFound) {
		return "", err
	}

	match, err := r.repo.GetUserByFingerprintHash(ctx, digest)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return "", err
	}

	if match == nil {
		match, err = r.closestCandidate(ctx, fp)
		if err != nil {
			return "", err
		}
	}

	if match != nil {
		// Losing the raw-id race here is retryable; the next pass takes
		// the GetUserByRawID path and returns the winner's user.
		if err := r.repo.MergeRawID(ctx, match.ID, rawSessionID, now); err != nil {
			return "", err
		}
		return match.ID, nil
	}

	user := &domain.CanonicalUser{
		ID:              uuid.NewString(),
		FirstSeen:       now,
		LastSeen:        now,
		SessionCount:    1,
		Fingerprint:     fp,
		FingerprintHash: digest,
	}
	// Losing the digest race surfaces as a conflict on the unique
	// fingerprint index; the next pass finds the winner by exact digest
	// and merges into it.
	if err := r.repo.CreateUserWithRawID(ctx, user, rawSessionID); err != nil {
		return "", err
	}
	return user.ID, nil
}

// closestCandidate scores users sharing the IP subnet and returns the
// best match at or above the similarity threshold.
func (r *Resolver) closestCandidate(ctx context.Context, fp domain.Fingerprint) (*domain.CanonicalUser, error) {
	if fp.IPSubnet == "" {
		return nil, nil
	}

	candidates, err := r.repo.CandidatesBySubnet(ctx, fp.IPSubnet)
	if err != nil {
		return nil, err
	}

	var best *domain.CanonicalUser
	bestScore := 0.0
	for _, candidate := range candidates {
		score := Similarity(fp, candidate.Fingerprint)
		if score >= r.cfg.SimilarityThreshold && score > bestScore {
			best = candidate
			bestScore = score
		}
	}
	return best, nil
}

// resolveDegraded uses the raw session id itself as the canonical id.
func (r *Resolver) resolveDegraded(ctx context.Context, rawSessionID string) (string, error) {
	now := r.clock.Now().UTC()
	user := &domain.CanonicalUser{
		ID:           rawSessionID,
		FirstSeen:    now,
		LastSeen:     now,
		SessionCount: 1,
	}

	err := r.repo.CreateUserWithRawID(ctx, user, rawSessionID)
	var conflict *domain.ConflictError
	if errors.As(err, &conflict) {
		// Another writer already degraded this id the same way.
		if existing, lookupErr := r.repo.GetUserByRawID(ctx, rawSessionID); lookupErr == nil {
			return existing.ID, nil
		}
		return "", err
	}
	if err != nil {
		return "", err
	}
	return rawSessionID, nil
}

func (r *Resolver) retryPolicy(ctx context.Context) backoff.BackOffContext {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 10 * time.Millisecond
	policy.MaxInterval = 250 * time.Millisecond

	attempts := r.cfg.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	return backoff.WithContext(backoff.WithMaxRetries(policy, uint64(attempts-1)), ctx)
}
