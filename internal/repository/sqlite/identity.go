package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/marketmypractice/correlation-service/internal/domain"
	"github.com/marketmypractice/correlation-service/internal/repository"
)

const userColumns = `id, fingerprint_hash, ip_subnet, browser_family, os, device_class,
	first_seen, last_seen, session_count, action_count, is_returning, converted, lead_id, archived`

// IdentityRepository implements repository.IdentityRepository on SQLite.
type IdentityRepository struct {
	client *Client
	log    *zap.Logger
}

// NewIdentityRepository creates a new identity repository.
func NewIdentityRepository(client *Client, log *zap.Logger) *IdentityRepository {
	return &IdentityRepository{client: client, log: log}
}

func scanUser(row interface{ Scan(...any) error }) (*domain.CanonicalUser, error) {
	var u domain.CanonicalUser
	var firstSeen, lastSeen int64
	var isReturning, converted, archived int
	err := row.Scan(&u.ID, &u.FingerprintHash, &u.Fingerprint.IPSubnet, &u.Fingerprint.BrowserFamily,
		&u.Fingerprint.OS, &u.Fingerprint.DeviceClass, &firstSeen, &lastSeen,
		&u.SessionCount, &u.ActionCount, &isReturning, &converted, &u.LeadID, &archived)
	if err != nil {
		return nil, err
	}
	u.FirstSeen = time.Unix(0, firstSeen).UTC()
	u.LastSeen = time.Unix(0, lastSeen).UTC()
	u.IsReturning = isReturning != 0
	u.Converted = converted != 0
	u.Archived = archived != 0
	return &u, nil
}

func (r *IdentityRepository) loadMergedRawIDs(ctx context.Context, q interface {
	QueryContext(context.Context, string, ...any) (*sql.Rows, error)
}, userID string) ([]string, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT raw_session_id FROM raw_session_map WHERE canonical_user_id = ? ORDER BY mapped_at`, userID)
	if err != nil {
		return nil, wrapStoreErr("load merged raw ids", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, wrapStoreErr("scan raw id", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *IdentityRepository) getUserWhere(ctx context.Context, where string, args ...any) (*domain.CanonicalUser, error) {
	row := r.client.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM canonical_users `+where, args...)
	user, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, wrapStoreErr("get user", err)
	}

	user.MergedRawIDs, err = r.loadMergedRawIDs(ctx, r.client.db, user.ID)
	if err != nil {
		return nil, err
	}
	return user, nil
}

// GetUser fetches a canonical user by id.
func (r *IdentityRepository) GetUser(ctx context.Context, id string) (*domain.CanonicalUser, error) {
	return r.getUserWhere(ctx, `WHERE id = ?`, id)
}

// GetUserByRawID returns the canonical user owning a raw session id.
func (r *IdentityRepository) GetUserByRawID(ctx context.Context, rawSessionID string) (*domain.CanonicalUser, error) {
	return r.getUserWhere(ctx,
		`WHERE id = (SELECT canonical_user_id FROM raw_session_map WHERE raw_session_id = ?)`, rawSessionID)
}

// GetUserByFingerprintHash returns the oldest user with an exact digest match.
func (r *IdentityRepository) GetUserByFingerprintHash(ctx context.Context, hash string) (*domain.CanonicalUser, error) {
	return r.getUserWhere(ctx,
		`WHERE fingerprint_hash = ? AND archived = 0 ORDER BY first_seen LIMIT 1`, hash)
}

// CandidatesBySubnet returns non-archived users sharing an IP subnet.
func (r *IdentityRepository) CandidatesBySubnet(ctx context.Context, subnet string) ([]*domain.CanonicalUser, error) {
	rows, err := r.client.db.QueryContext(ctx,
		`SELECT `+userColumns+` FROM canonical_users WHERE ip_subnet = ? AND archived = 0 ORDER BY first_seen`, subnet)
	if err != nil {
		return nil, wrapStoreErr("candidates by subnet", err)
	}
	defer rows.Close()

	var users []*domain.CanonicalUser
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, wrapStoreErr("scan candidate", err)
		}
		users = append(users, user)
	}
	return users, rows.Err()
}

// CreateUserWithRawID inserts the user plus its raw-id mapping in one transaction.
func (r *IdentityRepository) CreateUserWithRawID(ctx context.Context, user *domain.CanonicalUser, rawSessionID string) error {
	return r.client.inTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO canonical_users (`+userColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			user.ID, user.FingerprintHash, user.Fingerprint.IPSubnet, user.Fingerprint.BrowserFamily,
			user.Fingerprint.OS, user.Fingerprint.DeviceClass,
			user.FirstSeen.UnixNano(), user.LastSeen.UnixNano(),
			user.SessionCount, user.ActionCount, boolToInt(user.IsReturning), boolToInt(user.Converted),
			user.LeadID, boolToInt(user.Archived))
		if isConstraintErr(err) {
			return &domain.ConflictError{Entity: "canonical_user", Key: user.ID}
		}
		if err != nil {
			return wrapStoreErr("insert user", err)
		}

		_, err = tx.ExecContext(ctx,
			`INSERT INTO raw_session_map (raw_session_id, canonical_user_id, mapped_at) VALUES (?, ?, ?)`,
			rawSessionID, user.ID, user.FirstSeen.UnixNano())
		if isConstraintErr(err) {
			return &domain.ConflictError{Entity: "raw_session_map", Key: rawSessionID}
		}
		if err != nil {
			return wrapStoreErr("insert raw session map", err)
		}
		return nil
	})
}

// MergeRawID attaches a raw session id to an existing user. Re-mapping an
// id already owned by the same user is a no-op; an id owned by another
// user is a conflict.
func (r *IdentityRepository) MergeRawID(ctx context.Context, userID, rawSessionID string, seenAt time.Time) error {
	return r.client.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO raw_session_map (raw_session_id, canonical_user_id, mapped_at) VALUES (?, ?, ?)`,
			rawSessionID, userID, seenAt.UnixNano())
		if err != nil {
			return wrapStoreErr("merge raw session map", err)
		}

		inserted, err := res.RowsAffected()
		if err != nil {
			return wrapStoreErr("merge rows affected", err)
		}
		if inserted == 0 {
			var owner string
			err := tx.QueryRowContext(ctx,
				`SELECT canonical_user_id FROM raw_session_map WHERE raw_session_id = ?`, rawSessionID).Scan(&owner)
			if err != nil {
				return wrapStoreErr("merge owner lookup", err)
			}
			if owner != userID {
				return &domain.ConflictError{Entity: "raw_session_map", Key: rawSessionID}
			}
			// Already merged into this user; nothing to count.
			return nil
		}

		_, err = tx.ExecContext(ctx,
			`UPDATE canonical_users
			 SET session_count = session_count + 1,
			     is_returning = 1,
			     last_seen = MAX(last_seen, ?)
			 WHERE id = ?`,
			seenAt.UnixNano(), userID)
		if err != nil {
			return wrapStoreErr("merge user counters", err)
		}
		return nil
	})
}

// MarkConverted flags the user converted and records its lead id.
func (r *IdentityRepository) MarkConverted(ctx context.Context, userID, leadID string) error {
	_, err := r.client.db.ExecContext(ctx,
		`UPDATE canonical_users SET converted = 1, lead_id = ? WHERE id = ?`, leadID, userID)
	return wrapStoreErr("mark converted", err)
}

// RecordActivity bumps the user's action counter and last-seen time.
func (r *IdentityRepository) RecordActivity(ctx context.Context, userID string, at time.Time) error {
	_, err := r.client.db.ExecContext(ctx,
		`UPDATE canonical_users
		 SET action_count = action_count + 1, last_seen = MAX(last_seen, ?)
		 WHERE id = ?`,
		at.UnixNano(), userID)
	return wrapStoreErr("record activity", err)
}

// ListUserProfiles returns profiles for similarity search, most recently
// seen first, with geo taken from the user's latest session.
func (r *IdentityRepository) ListUserProfiles(ctx context.Context, excludeUserID string, limit int) ([]repository.UserProfile, error) {
	rows, err := r.client.db.QueryContext(ctx,
		`SELECT u.id, u.browser_family, u.os, u.device_class,
			COALESCE((SELECT s.geo FROM unified_sessions s
				WHERE s.user_id = u.id ORDER BY s.last_activity_at DESC LIMIT 1), '')
		 FROM canonical_users u
		 WHERE u.archived = 0 AND u.id != ?
		 ORDER BY u.last_seen DESC
		 LIMIT ?`, excludeUserID, limit)
	if err != nil {
		return nil, wrapStoreErr("list user profiles", err)
	}
	defer rows.Close()

	var profiles []repository.UserProfile
	for rows.Next() {
		var p repository.UserProfile
		if err := rows.Scan(&p.UserID, &p.BrowserFamily, &p.OS, &p.DeviceClass, &p.Geo); err != nil {
			return nil, wrapStoreErr("scan user profile", err)
		}
		profiles = append(profiles, p)
	}
	return profiles, rows.Err()
}

// ArchiveUsersBefore archives users last seen before the cutoff. Users
// are never hard-deleted.
func (r *IdentityRepository) ArchiveUsersBefore(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := r.client.db.ExecContext(ctx,
		`UPDATE canonical_users SET archived = 1 WHERE archived = 0 AND last_seen < ?`, cutoff.UnixNano())
	if err != nil {
		return 0, wrapStoreErr("archive users", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, wrapStoreErr("archive rows affected", err)
	}
	return int(n), nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
