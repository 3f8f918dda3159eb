package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/diamondlog/syncd/internal/schema"
)

// ErrStale is returned by ApplyRemote when the local record changed after the
// caller read it. The caller should leave the record for the next pass.
var ErrStale = errors.New("local record changed concurrently")

// ListDirty returns the records of a kind awaiting upload, including local
// deletes whose tombstone has not been acknowledged.
func (s *Store) ListDirty(ctx context.Context, accountID string, kind schema.Kind) ([]schema.Entity, error) {
	return s.query(ctx,
		`SELECT `+entityColumns+` FROM entities
		WHERE account_id = ? AND kind = ? AND dirty = 1 AND deleted_remotely = 0
		ORDER BY modified_at ASC, local_id ASC`,
		accountID, string(kind))
}

// RemoteIDOf returns the remote id of a record, or "" if it was never uploaded.
func (s *Store) RemoteIDOf(ctx context.Context, kind schema.Kind, localID string) (string, error) {
	var remoteID sql.NullString
	err := s.conn.QueryRowContext(ctx,
		`SELECT remote_id FROM entities WHERE kind = ? AND local_id = ?`,
		string(kind), localID).Scan(&remoteID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("%s %s: %w", kind, localID, ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("failed to read remote id of %s %s: %w", kind, localID, err)
	}
	return remoteID.String, nil
}

// LocalIDByRemote maps a remote id to the local id of the record holding it,
// including records whose create is still pending acknowledgement.
func (s *Store) LocalIDByRemote(ctx context.Context, kind schema.Kind, remoteID string) (string, error) {
	var localID string
	err := s.conn.QueryRowContext(ctx,
		`SELECT local_id FROM entities WHERE kind = ? AND (remote_id = ? OR pending_remote_id = ?)`,
		string(kind), remoteID, remoteID).Scan(&localID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("%s remote %s: %w", kind, remoteID, ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("failed to map remote id %s: %w", remoteID, err)
	}
	return localID, nil
}

// ReservePendingRemoteID stores proposed as the id a first create will use.
// If an id is already reserved (or assigned) it is returned instead, so a
// retried create after a lost acknowledgement targets the same document.
func (s *Store) ReservePendingRemoteID(ctx context.Context, kind schema.Kind, localID, proposed string) (string, error) {
	var reserved string
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var remoteID, pendingID sql.NullString
		err := tx.QueryRowContext(ctx,
			`SELECT remote_id, pending_remote_id FROM entities WHERE kind = ? AND local_id = ?`,
			string(kind), localID).Scan(&remoteID, &pendingID)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%s %s: %w", kind, localID, ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("failed to load %s %s: %w", kind, localID, err)
		}

		switch {
		case remoteID.Valid:
			reserved = remoteID.String
			return nil
		case pendingID.Valid:
			reserved = pendingID.String
			return nil
		}

		if _, err := tx.ExecContext(ctx,
			`UPDATE entities SET pending_remote_id = ? WHERE kind = ? AND local_id = ?`,
			proposed, string(kind), localID); err != nil {
			return fmt.Errorf("failed to reserve remote id for %s %s: %w", kind, localID, err)
		}
		reserved = proposed
		return nil
	})
	return reserved, err
}

// Ack describes a write acknowledged by the remote store.
type Ack struct {
	RemoteID string
	Version  int64
	// ModifiedAt is the local modification time of the uploaded state.
	ModifiedAt time.Time
	SyncedAt   time.Time
}

// MarkUploaded records a successful upload.
//
// The remote id and version are always stored. The dirty flag is cleared only
// if the record was not modified while the upload was in flight; otherwise the
// newer edit stays dirty and is uploaded on the next pass with the new version.
// An acknowledged tombstone becomes DeletedRemotely and its children are
// orphaned in the same transaction.
func (s *Store) MarkUploaded(ctx context.Context, kind schema.Kind, localID string, ack Ack) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		var (
			modifiedAt int64
			deleted    bool
		)
		err := tx.QueryRowContext(ctx,
			`SELECT modified_at, deleted FROM entities WHERE kind = ? AND local_id = ?`,
			string(kind), localID).Scan(&modifiedAt, &deleted)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%s %s: %w", kind, localID, ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("failed to load %s %s: %w", kind, localID, err)
		}

		unchanged := modifiedAt == ack.ModifiedAt.UnixNano()
		_, err = tx.ExecContext(ctx,
			`UPDATE entities SET
				remote_id = ?,
				pending_remote_id = NULL,
				version = ?,
				last_synced_at = ?,
				retry_count = 0,
				dirty = CASE WHEN ? THEN 0 ELSE dirty END,
				deleted_remotely = CASE WHEN ? AND deleted = 1 THEN 1 ELSE deleted_remotely END
			WHERE kind = ? AND local_id = ?`,
			ack.RemoteID, ack.Version, ack.SyncedAt.UnixNano(),
			unchanged, unchanged,
			string(kind), localID)
		if err != nil {
			return fmt.Errorf("failed to mark %s %s uploaded: %w", kind, localID, err)
		}

		if unchanged && deleted {
			if _, err := orphanChildren(ctx, tx, kind, localID); err != nil {
				return err
			}
		}
		return nil
	})
}

// MarkRetry records a transient upload failure. The record stays dirty.
func (s *Store) MarkRetry(ctx context.Context, kind schema.Kind, localID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.conn.ExecContext(ctx,
		`UPDATE entities SET retry_count = retry_count + 1 WHERE kind = ? AND local_id = ?`,
		string(kind), localID)
	if err != nil {
		return fmt.Errorf("failed to mark %s %s for retry: %w", kind, localID, err)
	}
	return nil
}

// ApplyRemote materializes remote state into the local store.
//
// base is the local record the caller resolved against, or nil if there was
// none. If the stored record no longer matches base, ErrStale is returned and
// nothing is written. The caller is responsible for e's sync metadata.
func (s *Store) ApplyRemote(ctx context.Context, e schema.Entity, base *schema.Meta) error {
	m := e.SyncMeta()
	return s.withTx(ctx, func(tx *sql.Tx) error {
		var modifiedAt int64
		err := tx.QueryRowContext(ctx,
			`SELECT modified_at FROM entities WHERE kind = ? AND local_id = ?`,
			string(m.Kind), m.LocalID).Scan(&modifiedAt)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			if base != nil {
				return fmt.Errorf("%s %s: %w", m.Kind, m.LocalID, ErrStale)
			}
		case err != nil:
			return fmt.Errorf("failed to load %s %s: %w", m.Kind, m.LocalID, err)
		default:
			if base == nil || modifiedAt != base.ModifiedAt.UnixNano() {
				return fmt.Errorf("%s %s: %w", m.Kind, m.LocalID, ErrStale)
			}
		}
		return upsert(ctx, tx, e)
	})
}

// Tombstone describes a remote delete.
type Tombstone struct {
	Version    int64
	ModifiedAt time.Time
	Origin     string
	SyncedAt   time.Time
}

// MarkDeletedRemotely applies a remote tombstone to a local record and orphans
// its direct children. It returns the number of orphaned children.
func (s *Store) MarkDeletedRemotely(ctx context.Context, kind schema.Kind, localID string, ts Tombstone) (int64, error) {
	var orphaned int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE entities SET
				deleted_remotely = 1,
				dirty = 0,
				pending_remote_id = NULL,
				version = ?,
				modified_at = ?,
				origin = ?,
				last_synced_at = ?
			WHERE kind = ? AND local_id = ?`,
			ts.Version, ts.ModifiedAt.UnixNano(), ts.Origin, ts.SyncedAt.UnixNano(),
			string(kind), localID)
		if err != nil {
			return fmt.Errorf("failed to tombstone %s %s: %w", kind, localID, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("%s %s: %w", kind, localID, ErrNotFound)
		}

		orphaned, err = orphanChildren(ctx, tx, kind, localID)
		return err
	})
	return orphaned, err
}

// Purge removes acknowledged tombstones that no record references any more.
func (s *Store) Purge(ctx context.Context, accountID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.conn.ExecContext(ctx,
		`DELETE FROM entities
		WHERE account_id = ? AND deleted_remotely = 1 AND dirty = 0
		AND NOT EXISTS (
			SELECT 1 FROM entities c
			WHERE c.parent_kind = entities.kind AND c.parent_local_id = entities.local_id
		)`,
		accountID)
	if err != nil {
		return 0, fmt.Errorf("failed to purge tombstones: %w", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		s.logger.Debug().Str("account", accountID).Int64("purged", n).Msg("purged tombstones")
	}
	return n, nil
}

// Watermark returns the server timestamp through which kind has been
// downloaded for the account. The zero time means never.
func (s *Store) Watermark(ctx context.Context, accountID string, kind schema.Kind) (time.Time, error) {
	var through int64
	err := s.conn.QueryRowContext(ctx,
		`SELECT synced_through FROM watermarks WHERE account_id = ? AND kind = ?`,
		accountID, string(kind)).Scan(&through)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to read %s watermark: %w", kind, err)
	}
	return time.Unix(0, through).UTC(), nil
}

// SetWatermark records the download watermark of a kind. Watermarks never move
// backwards through this method; use RewindWatermarks for that.
func (s *Store) SetWatermark(ctx context.Context, accountID string, kind schema.Kind, through time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.conn.ExecContext(ctx,
		`INSERT INTO watermarks (account_id, kind, synced_through, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(account_id, kind) DO UPDATE SET
			synced_through = MAX(watermarks.synced_through, excluded.synced_through),
			updated_at = excluded.updated_at`,
		accountID, string(kind), through.UnixNano(), s.now().UnixNano())
	if err != nil {
		return fmt.Errorf("failed to set %s watermark: %w", kind, err)
	}
	return nil
}

// RewindWatermarks moves every watermark of the account back to at most to,
// forcing the next pass to download again from that point.
func (s *Store) RewindWatermarks(ctx context.Context, accountID string, to time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.conn.ExecContext(ctx,
		`UPDATE watermarks SET synced_through = ?, updated_at = ?
		WHERE account_id = ? AND synced_through > ?`,
		to.UnixNano(), s.now().UnixNano(), accountID, to.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("failed to rewind watermarks: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// ResetSyncState clears the account's watermarks and retry counters.
func (s *Store) ResetSyncState(ctx context.Context, accountID string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM watermarks WHERE account_id = ?`, accountID); err != nil {
			return fmt.Errorf("failed to clear watermarks: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE entities SET retry_count = 0 WHERE account_id = ?`, accountID); err != nil {
			return fmt.Errorf("failed to clear retry counters: %w", err)
		}
		return nil
	})
}

// Rebase moves a dirty record onto a newer remote version after the local
// state won a conflict, so its next upload is accepted. It is a no-op if the
// record changed since modifiedAt.
func (s *Store) Rebase(ctx context.Context, kind schema.Kind, localID string, version int64, modifiedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.conn.ExecContext(ctx,
		`UPDATE entities SET version = ?
		WHERE kind = ? AND local_id = ? AND modified_at = ? AND version < ?`,
		version, string(kind), localID, modifiedAt.UnixNano(), version)
	if err != nil {
		return fmt.Errorf("failed to rebase %s %s: %w", kind, localID, err)
	}
	return nil
}
