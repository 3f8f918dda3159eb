package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/diamondlog/syncd/internal/schema"
)

// SaveSnapshot stores the recomputed statistics of a scope.
//
// The snapshot is marked dirty only when its counters or play count differ
// from what is stored, so an unchanged recomputation does not cause an upload.
// It reports whether the stored numbers changed.
func (s *Store) SaveSnapshot(ctx context.Context, snap *schema.StatisticsSnapshot) (bool, error) {
	if err := snap.Validate(); err != nil {
		return false, fmt.Errorf("invalid snapshot: %w", err)
	}
	device, err := s.DeviceID(ctx)
	if err != nil {
		return false, err
	}

	m := snap.SyncMeta()
	changed := false
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		existing, err := scanEntity(tx.QueryRowContext(ctx,
			`SELECT `+entityColumns+` FROM entities WHERE kind = ? AND local_id = ?`,
			string(schema.KindStatistics), m.LocalID))
		switch {
		case errors.Is(err, sql.ErrNoRows):
			changed = true
		case err != nil:
			return fmt.Errorf("failed to load snapshot %s: %w", m.LocalID, err)
		default:
			prev := existing.(*schema.StatisticsSnapshot)
			pm := prev.SyncMeta()
			m.RemoteID = pm.RemoteID
			m.PendingRemoteID = pm.PendingRemoteID
			m.Version = pm.Version
			m.LastSyncedAt = pm.LastSyncedAt
			m.RetryCount = pm.RetryCount
			m.Dirty = pm.Dirty
			m.ModifiedAt = pm.ModifiedAt
			m.Origin = pm.Origin
			changed = prev.Counters != snap.Counters || prev.PlayCount != snap.PlayCount || !pm.Visible()
		}

		m.Deleted = false
		m.DeletedRemotely = false
		if changed {
			m.Dirty = true
			m.ModifiedAt = s.now().UTC()
			m.Origin = device
		}
		return upsert(ctx, tx, snap)
	})
	if err != nil {
		return false, err
	}

	if changed {
		s.notify(schema.KindStatistics, m.LocalID)
	}
	return changed, nil
}

// Snapshot returns the stored statistics of a scope.
func (s *Store) Snapshot(ctx context.Context, scopeKind schema.Kind, scopeLocalID string) (*schema.StatisticsSnapshot, error) {
	e, err := s.Get(ctx, schema.KindStatistics, schema.SnapshotLocalID(scopeKind, scopeLocalID))
	if err != nil {
		return nil, err
	}
	return e.(*schema.StatisticsSnapshot), nil
}

// LatestPlayMutation returns the time of the most recent write to any record
// that feeds statistics for the account: plays, clips, games and practices,
// including deletes.
func (s *Store) LatestPlayMutation(ctx context.Context, accountID string) (time.Time, error) {
	var latest sql.NullInt64
	err := s.conn.QueryRowContext(ctx,
		`SELECT MAX(modified_at) FROM entities
		WHERE account_id = ? AND kind IN (`+placeholders(4)+`)`,
		accountID,
		string(schema.KindPlayResult), string(schema.KindVideoClip),
		string(schema.KindGame), string(schema.KindPractice),
	).Scan(&latest)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to read latest play mutation: %w", err)
	}
	if !latest.Valid {
		return time.Time{}, nil
	}
	return time.Unix(0, latest.Int64).UTC(), nil
}
