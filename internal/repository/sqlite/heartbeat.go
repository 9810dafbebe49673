package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/marketmypractice/correlation-service/internal/domain"
)

const heartbeatColumns = `component_type, component_id, timestamp, first_seen, status,
	metrics, is_leader, quorum_size, quorum_members`

// HeartbeatRepository implements repository.HeartbeatRepository on SQLite.
type HeartbeatRepository struct {
	client *Client
	log    *zap.Logger
}

// NewHeartbeatRepository creates a new heartbeat repository.
func NewHeartbeatRepository(client *Client, log *zap.Logger) *HeartbeatRepository {
	return &HeartbeatRepository{client: client, log: log}
}

func scanHeartbeat(row interface{ Scan(...any) error }) (*domain.Heartbeat, error) {
	var hb domain.Heartbeat
	var ts, firstSeen int64
	var status, metricsJSON, membersJSON string
	var isLeader int
	err := row.Scan(&hb.ComponentType, &hb.ComponentID, &ts, &firstSeen, &status,
		&metricsJSON, &isLeader, &hb.QuorumSize, &membersJSON)
	if err != nil {
		return nil, err
	}
	hb.Timestamp = time.Unix(0, ts).UTC()
	hb.FirstSeen = time.Unix(0, firstSeen).UTC()
	hb.Status = domain.ComponentStatus(status)
	hb.IsLeader = isLeader != 0
	if err := json.Unmarshal([]byte(metricsJSON), &hb.Metrics); err != nil {
		hb.Metrics = nil
	}
	if err := json.Unmarshal([]byte(membersJSON), &hb.QuorumMembers); err != nil {
		hb.QuorumMembers = nil
	}
	return &hb, nil
}

// Upsert overwrites the row keyed (type, id). The first_seen and
// is_leader columns survive the overwrite so election stability and the
// leader flag are not reset by routine beats.
func (r *HeartbeatRepository) Upsert(ctx context.Context, hb *domain.Heartbeat) error {
	metricsJSON, err := json.Marshal(hb.Metrics)
	if err != nil {
		return &domain.ValidationError{Field: "metrics", Reason: err.Error()}
	}

	_, err = r.client.db.ExecContext(ctx,
		`INSERT INTO heartbeats (component_type, component_id, timestamp, first_seen, status, metrics)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(component_type, component_id) DO UPDATE SET
			timestamp = excluded.timestamp,
			status = excluded.status,
			metrics = excluded.metrics`,
		hb.ComponentType, hb.ComponentID, hb.Timestamp.UnixNano(), hb.Timestamp.UnixNano(),
		string(hb.Status), string(metricsJSON))
	return wrapStoreErr("upsert heartbeat", err)
}

// Get fetches one heartbeat row.
func (r *HeartbeatRepository) Get(ctx context.Context, componentType, componentID string) (*domain.Heartbeat, error) {
	row := r.client.db.QueryRowContext(ctx,
		`SELECT `+heartbeatColumns+` FROM heartbeats WHERE component_type = ? AND component_id = ?`,
		componentType, componentID)
	hb, err := scanHeartbeat(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, wrapStoreErr("get heartbeat", err)
	}
	return hb, nil
}

// ListByType returns all heartbeats of a component type.
func (r *HeartbeatRepository) ListByType(ctx context.Context, componentType string) ([]*domain.Heartbeat, error) {
	rows, err := r.client.db.QueryContext(ctx,
		`SELECT `+heartbeatColumns+` FROM heartbeats WHERE component_type = ? ORDER BY first_seen, component_id`,
		componentType)
	if err != nil {
		return nil, wrapStoreErr("list heartbeats", err)
	}
	defer rows.Close()

	var beats []*domain.Heartbeat
	for rows.Next() {
		hb, err := scanHeartbeat(rows)
		if err != nil {
			return nil, wrapStoreErr("scan heartbeat", err)
		}
		beats = append(beats, hb)
	}
	return beats, rows.Err()
}

// ListComponentTypes returns the distinct component types present.
func (r *HeartbeatRepository) ListComponentTypes(ctx context.Context) ([]string, error) {
	rows, err := r.client.db.QueryContext(ctx,
		`SELECT DISTINCT component_type FROM heartbeats ORDER BY component_type`)
	if err != nil {
		return nil, wrapStoreErr("list component types", err)
	}
	defer rows.Close()

	var types []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, wrapStoreErr("scan component type", err)
		}
		types = append(types, t)
	}
	return types, rows.Err()
}

// CurrentLeader returns the row flagged leader for the type.
func (r *HeartbeatRepository) CurrentLeader(ctx context.Context, componentType string) (*domain.Heartbeat, error) {
	row := r.client.db.QueryRowContext(ctx,
		`SELECT `+heartbeatColumns+` FROM heartbeats WHERE component_type = ? AND is_leader = 1 LIMIT 1`,
		componentType)
	hb, err := scanHeartbeat(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, wrapStoreErr("current leader", err)
	}
	return hb, nil
}

// ElectLeader clears is_leader on every row of the type, then sets it on
// the oldest non-stale healthy row, all inside one transaction. The
// clear commits even when no candidate exists, so a stale leader is
// never left standing. This is store-native mutual exclusion, not a
// fencing or lease protocol: under a partition two processes can
// transiently both believe themselves leader until the next cycle.
func (r *HeartbeatRepository) ElectLeader(ctx context.Context, componentType string, staleBefore time.Time) (*domain.Heartbeat, error) {
	var leader *domain.Heartbeat

	err := r.client.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`UPDATE heartbeats SET is_leader = 0 WHERE component_type = ?`, componentType); err != nil {
			return wrapStoreErr("clear leaders", err)
		}

		rows, err := tx.QueryContext(ctx,
			`SELECT component_id FROM heartbeats
			 WHERE component_type = ? AND status = ? AND timestamp >= ?
			 ORDER BY first_seen, component_id`,
			componentType, string(domain.StatusHealthy), staleBefore.UnixNano())
		if err != nil {
			return wrapStoreErr("list candidates", err)
		}
		var members []string
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return wrapStoreErr("scan candidate", err)
			}
			members = append(members, id)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return wrapStoreErr("iterate candidates", err)
		}

		if len(members) == 0 {
			// Commit the clear; the caller reports no leader.
			return nil
		}

		membersJSON, err := json.Marshal(members)
		if err != nil {
			return wrapStoreErr("marshal quorum", err)
		}

		if _, err := tx.ExecContext(ctx,
			`UPDATE heartbeats SET is_leader = 1, quorum_size = ?, quorum_members = ?
			 WHERE component_type = ? AND component_id = ?`,
			len(members), string(membersJSON), componentType, members[0]); err != nil {
			return wrapStoreErr("set leader", err)
		}

		row := tx.QueryRowContext(ctx,
			`SELECT `+heartbeatColumns+` FROM heartbeats WHERE component_type = ? AND component_id = ?`,
			componentType, members[0])
		leader, err = scanHeartbeat(row)
		if err != nil {
			return wrapStoreErr("read leader", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if leader == nil {
		return nil, domain.ErrNoLeader
	}
	return leader, nil
}

// DeleteOlderThan prunes rows last updated before the cutoff. The row
// currently flagged leader is kept until a successor is elected, so
// cleanup never opens a leaderless gap.
func (r *HeartbeatRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := r.client.db.ExecContext(ctx,
		`DELETE FROM heartbeats WHERE timestamp < ? AND is_leader = 0`, cutoff.UnixNano())
	if err != nil {
		return 0, wrapStoreErr("cleanup heartbeats", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, wrapStoreErr("cleanup rows affected", err)
	}
	return int(n), nil
}
