package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/diamondlog/syncd/internal/schema"
)

const entityColumns = `kind, local_id, account_id, remote_id, pending_remote_id,
	parent_kind, parent_local_id, version, dirty, deleted, deleted_remotely,
	orphaned, modified_at, origin, last_synced_at, retry_count, payload`

// visibleClause filters out local deletes and remote tombstones.
const visibleClause = `deleted = 0 AND deleted_remotely = 0`

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntity(row rowScanner) (schema.Entity, error) {
	var (
		kind, localID, accountID        string
		remoteID, pendingID             sql.NullString
		parentKind, parentLocalID       sql.NullString
		version                         int64
		dirty, deleted, deletedRemotely bool
		orphaned                        bool
		modifiedAt                      int64
		origin                          string
		lastSyncedAt                    sql.NullInt64
		retryCount                      int
		payload                         string
	)

	err := row.Scan(
		&kind, &localID, &accountID, &remoteID, &pendingID,
		&parentKind, &parentLocalID, &version, &dirty, &deleted, &deletedRemotely,
		&orphaned, &modifiedAt, &origin, &lastSyncedAt, &retryCount, &payload,
	)
	if err != nil {
		return nil, err
	}

	e, err := schema.New(schema.Kind(kind))
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(payload), e); err != nil {
		return nil, fmt.Errorf("failed to decode %s %s payload: %w", kind, localID, err)
	}

	m := e.SyncMeta()
	m.LocalID = localID
	m.AccountID = accountID
	m.RemoteID = remoteID.String
	m.PendingRemoteID = pendingID.String
	m.ParentKind = schema.Kind(parentKind.String)
	m.ParentLocalID = parentLocalID.String
	m.Version = version
	m.Dirty = dirty
	m.Deleted = deleted
	m.DeletedRemotely = deletedRemotely
	m.Orphaned = orphaned
	m.ModifiedAt = time.Unix(0, modifiedAt).UTC()
	m.Origin = origin
	m.RetryCount = retryCount
	if lastSyncedAt.Valid {
		t := time.Unix(0, lastSyncedAt.Int64).UTC()
		m.LastSyncedAt = &t
	}
	return e, nil
}

func scanEntities(rows *sql.Rows) ([]schema.Entity, error) {
	var out []schema.Entity
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan entity: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating entities: %w", err)
	}
	return out, nil
}

// execer is satisfied by *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// upsert writes every column of e. Callers hold s.mu.
func upsert(ctx context.Context, ex execer, e schema.Entity) error {
	m := e.SyncMeta()
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to encode %s payload: %w", m.Kind, err)
	}

	var lastSynced sql.NullInt64
	if m.LastSyncedAt != nil {
		lastSynced = sql.NullInt64{Int64: m.LastSyncedAt.UnixNano(), Valid: true}
	}

	query := `
	INSERT INTO entities (` + entityColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(kind, local_id) DO UPDATE SET
		account_id = excluded.account_id,
		remote_id = excluded.remote_id,
		pending_remote_id = excluded.pending_remote_id,
		parent_kind = excluded.parent_kind,
		parent_local_id = excluded.parent_local_id,
		version = excluded.version,
		dirty = excluded.dirty,
		deleted = excluded.deleted,
		deleted_remotely = excluded.deleted_remotely,
		orphaned = excluded.orphaned,
		modified_at = excluded.modified_at,
		origin = excluded.origin,
		last_synced_at = excluded.last_synced_at,
		retry_count = excluded.retry_count,
		payload = excluded.payload
	`

	_, err = ex.ExecContext(ctx, query,
		string(m.Kind), m.LocalID, m.AccountID,
		nullString(m.RemoteID), nullString(m.PendingRemoteID),
		nullString(string(m.ParentKind)), nullString(m.ParentLocalID),
		m.Version, m.Dirty, m.Deleted, m.DeletedRemotely, m.Orphaned,
		m.ModifiedAt.UnixNano(), m.Origin, lastSynced, m.RetryCount, string(payload),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert %s %s: %w", m.Kind, m.LocalID, err)
	}
	return nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// Save records a local edit made by the user.
//
// The entity is validated, marked dirty and stamped with the current wall
// clock and this device as origin. Sync columns already stored for the entity
// (remote id, version) are preserved. The registered ChangeNotifier is told
// after the write commits.
func (s *Store) Save(ctx context.Context, e schema.Entity) error {
	if err := e.Validate(); err != nil {
		return fmt.Errorf("invalid %s: %w", e.SyncMeta().Kind, err)
	}

	device, err := s.DeviceID(ctx)
	if err != nil {
		return err
	}

	m := e.SyncMeta()
	if err := s.withTx(ctx, func(tx *sql.Tx) error {
		existing, err := scanEntity(tx.QueryRowContext(ctx,
			`SELECT `+entityColumns+` FROM entities WHERE kind = ? AND local_id = ?`,
			string(m.Kind), m.LocalID))
		switch {
		case errors.Is(err, sql.ErrNoRows):
			m.RemoteID = ""
			m.PendingRemoteID = ""
			m.Version = 0
			m.LastSyncedAt = nil
		case err != nil:
			return fmt.Errorf("failed to load %s %s: %w", m.Kind, m.LocalID, err)
		default:
			em := existing.SyncMeta()
			if em.DeletedRemotely || em.Deleted {
				return fmt.Errorf("%s %s: %w", m.Kind, m.LocalID, ErrNotFound)
			}
			m.RemoteID = em.RemoteID
			m.PendingRemoteID = em.PendingRemoteID
			m.Version = em.Version
			m.LastSyncedAt = em.LastSyncedAt
			m.RetryCount = em.RetryCount
		}

		m.Dirty = true
		m.Deleted = false
		m.DeletedRemotely = false
		m.ModifiedAt = s.now().UTC()
		m.Origin = device
		return upsert(ctx, tx, e)
	}); err != nil {
		return err
	}

	s.notify(m.Kind, m.LocalID)
	return nil
}

// Delete removes an entity on behalf of the user.
//
// An entity the remote store has never seen is removed immediately and its
// children are orphaned. Otherwise it is marked deleted and dirty so the next
// pass uploads a tombstone.
func (s *Store) Delete(ctx context.Context, kind schema.Kind, localID string) error {
	device, err := s.DeviceID(ctx)
	if err != nil {
		return err
	}

	if err := s.withTx(ctx, func(tx *sql.Tx) error {
		e, err := scanEntity(tx.QueryRowContext(ctx,
			`SELECT `+entityColumns+` FROM entities WHERE kind = ? AND local_id = ? AND `+visibleClause,
			string(kind), localID))
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%s %s: %w", kind, localID, ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("failed to load %s %s: %w", kind, localID, err)
		}

		m := e.SyncMeta()
		if m.RemoteID == "" && m.PendingRemoteID == "" {
			if _, err := tx.ExecContext(ctx,
				`DELETE FROM entities WHERE kind = ? AND local_id = ?`, string(kind), localID); err != nil {
				return fmt.Errorf("failed to delete %s %s: %w", kind, localID, err)
			}
			_, err := orphanChildren(ctx, tx, kind, localID)
			return err
		}

		m.Deleted = true
		m.Dirty = true
		m.ModifiedAt = s.now().UTC()
		m.Origin = device
		return upsert(ctx, tx, e)
	}); err != nil {
		return err
	}

	s.notify(kind, localID)
	return nil
}

// Get returns a visible entity by local id.
func (s *Store) Get(ctx context.Context, kind schema.Kind, localID string) (schema.Entity, error) {
	e, err := scanEntity(s.conn.QueryRowContext(ctx,
		`SELECT `+entityColumns+` FROM entities WHERE kind = ? AND local_id = ? AND `+visibleClause,
		string(kind), localID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s %s: %w", kind, localID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get %s %s: %w", kind, localID, err)
	}
	return e, nil
}

// GetAny returns an entity by local id regardless of its deletion state.
// It is meant for the sync engine, not for presentation code.
func (s *Store) GetAny(ctx context.Context, kind schema.Kind, localID string) (schema.Entity, error) {
	e, err := scanEntity(s.conn.QueryRowContext(ctx,
		`SELECT `+entityColumns+` FROM entities WHERE kind = ? AND local_id = ?`,
		string(kind), localID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s %s: %w", kind, localID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get %s %s: %w", kind, localID, err)
	}
	return e, nil
}

// GetByRemoteID returns an entity by remote id regardless of its deletion state.
func (s *Store) GetByRemoteID(ctx context.Context, kind schema.Kind, remoteID string) (schema.Entity, error) {
	e, err := scanEntity(s.conn.QueryRowContext(ctx,
		`SELECT `+entityColumns+` FROM entities WHERE kind = ? AND (remote_id = ? OR pending_remote_id = ?)`,
		string(kind), remoteID, remoteID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s remote %s: %w", kind, remoteID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get %s by remote id %s: %w", kind, remoteID, err)
	}
	return e, nil
}

// List returns the visible entities of a kind for an account, oldest first.
func (s *Store) List(ctx context.Context, accountID string, kind schema.Kind) ([]schema.Entity, error) {
	return s.query(ctx,
		`SELECT `+entityColumns+` FROM entities
		WHERE account_id = ? AND kind = ? AND `+visibleClause+`
		ORDER BY modified_at ASC, local_id ASC`,
		accountID, string(kind))
}

// ListAll returns every entity of a kind for an account, including deleted ones.
func (s *Store) ListAll(ctx context.Context, accountID string, kind schema.Kind) ([]schema.Entity, error) {
	return s.query(ctx,
		`SELECT `+entityColumns+` FROM entities
		WHERE account_id = ? AND kind = ?
		ORDER BY modified_at ASC, local_id ASC`,
		accountID, string(kind))
}

// Children returns the visible children of kind childKind under a parent.
func (s *Store) Children(ctx context.Context, parentKind schema.Kind, parentLocalID string, childKind schema.Kind) ([]schema.Entity, error) {
	return s.query(ctx,
		`SELECT `+entityColumns+` FROM entities
		WHERE parent_kind = ? AND parent_local_id = ? AND kind = ? AND `+visibleClause+`
		ORDER BY modified_at ASC, local_id ASC`,
		string(parentKind), parentLocalID, string(childKind))
}

// Count returns the number of visible entities of a kind for an account.
func (s *Store) Count(ctx context.Context, accountID string, kind schema.Kind) (int, error) {
	var n int
	err := s.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM entities WHERE account_id = ? AND kind = ? AND `+visibleClause,
		accountID, string(kind)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count %s: %w", kind, err)
	}
	return n, nil
}

func (s *Store) query(ctx context.Context, query string, args ...any) ([]schema.Entity, error) {
	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query entities: %w", err)
	}
	defer rows.Close()
	return scanEntities(rows)
}

// withTx runs fn in a transaction under the writer lock.
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// orphanChildren detaches the direct children of a parent and flags them as
// orphaned. Children are kept so historical records survive.
func orphanChildren(ctx context.Context, ex execer, parentKind schema.Kind, parentLocalID string) (int64, error) {
	res, err := ex.ExecContext(ctx,
		`UPDATE entities SET parent_local_id = NULL, orphaned = 1
		WHERE parent_kind = ? AND parent_local_id = ?`,
		string(parentKind), parentLocalID)
	if err != nil {
		return 0, fmt.Errorf("failed to orphan children of %s %s: %w", parentKind, parentLocalID, err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
