package remote

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
	"github.com/rs/zerolog"
	_ "github.com/tursodatabase/go-libsql"

	"github.com/diamondlog/syncd/internal/schema"
)

const documentsSchema = `
CREATE TABLE IF NOT EXISTS documents (
    path TEXT PRIMARY KEY,
    id TEXT NOT NULL,
    account_id TEXT NOT NULL,
    kind TEXT NOT NULL,
    parent_id TEXT NOT NULL DEFAULT '',
    parent_kind TEXT NOT NULL DEFAULT '',
    schema TEXT NOT NULL DEFAULT '',
    version INTEGER NOT NULL,
    updated_at INTEGER NOT NULL,
    modified_at INTEGER NOT NULL,
    origin TEXT NOT NULL DEFAULT '',
    is_deleted INTEGER NOT NULL DEFAULT 0,
    fields TEXT NOT NULL DEFAULT '{}'
);

CREATE INDEX IF NOT EXISTS idx_documents_since
    ON documents(account_id, kind, updated_at);
`

const documentColumns = `path, id, account_id, kind, parent_id, parent_kind, schema,
	version, updated_at, modified_at, origin, is_deleted, fields`

// SQLStore keeps remote documents in a SQL database. With a libsql:// URL it
// talks to a Turso database; with a file path it uses a local SQLite file,
// which is how tests and single-host setups run it.
type SQLStore struct {
	conn   *sql.DB
	mu     sync.Mutex // serializes writers so server timestamps stay ordered
	now    func() time.Time
	logger zerolog.Logger
}

// OpenSQL opens the document database described by cfg and creates its schema.
func OpenSQL(ctx context.Context, cfg Config, logger zerolog.Logger) (*SQLStore, error) {
	driver, dsn := cfg.driver()
	conn, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open remote database: %w", err)
	}

	if err := conn.PingContext(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to reach remote database: %v: %w", err, ErrUnavailable)
	}

	if _, err := conn.ExecContext(ctx, documentsSchema); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to create documents schema: %w", err)
	}

	logger.Debug().Str("driver", driver).Msg("opened remote document store")
	return &SQLStore{conn: conn, now: time.Now, logger: logger}, nil
}

// Ping implements Store.
func (s *SQLStore) Ping(ctx context.Context) error {
	if err := s.conn.PingContext(ctx); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("%v: %w", err, ErrUnavailable)
	}
	return nil
}

// Get implements Store.
func (s *SQLStore) Get(ctx context.Context, path string) (*Document, error) {
	d, err := scanDocument(s.conn.QueryRowContext(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE path = ?`, path))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", path, ErrNotFound)
	}
	if err != nil {
		return nil, s.wrap(ctx, "get "+path, err)
	}
	return d, nil
}

// Put implements Store.
func (s *SQLStore) Put(ctx context.Context, doc *Document, expectedVersion int64) (*Document, error) {
	if err := validatePut(doc, expectedVersion); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, s.wrap(ctx, "begin put", err)
	}
	defer tx.Rollback()

	current, err := scanDocument(tx.QueryRowContext(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE path = ?`, doc.Path))
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if expectedVersion != 0 {
			return nil, &ConflictError{Path: doc.Path, Expected: expectedVersion}
		}
	case err != nil:
		return nil, s.wrap(ctx, "read "+doc.Path, err)
	default:
		if current.Version != expectedVersion {
			return nil, &ConflictError{Path: doc.Path, Expected: expectedVersion, Current: current}
		}
	}

	var last sql.NullInt64
	if err := tx.QueryRowContext(ctx, `SELECT MAX(updated_at) FROM documents`).Scan(&last); err != nil {
		return nil, s.wrap(ctx, "read clock", err)
	}
	updated := s.now().UTC()
	if last.Valid && updated.UnixNano() <= last.Int64 {
		updated = time.Unix(0, last.Int64+int64(time.Microsecond)).UTC()
	}

	stored := doc.Clone()
	stored.Version = expectedVersion + 1
	stored.UpdatedAt = updated
	fields := string(stored.Fields)
	if fields == "" {
		fields = "{}"
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO documents (`+documentColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
			parent_id = excluded.parent_id,
			parent_kind = excluded.parent_kind,
			schema = excluded.schema,
			version = excluded.version,
			updated_at = excluded.updated_at,
			modified_at = excluded.modified_at,
			origin = excluded.origin,
			is_deleted = excluded.is_deleted,
			fields = excluded.fields`,
		stored.Path, stored.ID, stored.AccountID, string(stored.Kind),
		stored.ParentID, string(stored.ParentKind), stored.Schema,
		stored.Version, stored.UpdatedAt.UnixNano(), stored.ModifiedAt.UnixNano(),
		stored.Origin, stored.IsDeleted, fields)
	if err != nil {
		return nil, s.wrap(ctx, "write "+doc.Path, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, s.wrap(ctx, "commit "+doc.Path, err)
	}
	return stored, nil
}

// ListSince implements Store.
func (s *SQLStore) ListSince(ctx context.Context, accountID string, kind schema.Kind, since time.Time) ([]*Document, error) {
	rows, err := s.conn.QueryContext(ctx,
		`SELECT `+documentColumns+` FROM documents
		WHERE account_id = ? AND kind = ? AND updated_at > ?
		ORDER BY updated_at ASC`,
		accountID, string(kind), since.UnixNano())
	if err != nil {
		return nil, s.wrap(ctx, "list "+string(kind), err)
	}
	defer rows.Close()

	var out []*Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan document: %w", err)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, s.wrap(ctx, "list "+string(kind), err)
	}
	return out, nil
}

// Close implements Store.
func (s *SQLStore) Close() error {
	return s.conn.Close()
}

// wrap classifies a driver error. Connection failures become ErrUnavailable.
func (s *SQLStore) wrap(ctx context.Context, op string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%s: %w", op, ctxErr)
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{"connection refused", "no such host", "connection reset", "broken pipe", "database is closed"} {
		if strings.Contains(msg, marker) {
			s.logger.Warn().Err(err).Str("op", op).Msg("remote database unreachable")
			return fmt.Errorf("%s: %v: %w", op, err, ErrUnavailable)
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (*Document, error) {
	var (
		d                     Document
		kind, parentKind      string
		updatedAt, modifiedAt int64
		fields                string
	)
	err := row.Scan(&d.Path, &d.ID, &d.AccountID, &kind, &d.ParentID, &parentKind, &d.Schema,
		&d.Version, &updatedAt, &modifiedAt, &d.Origin, &d.IsDeleted, &fields)
	if err != nil {
		return nil, err
	}
	d.Kind = schema.Kind(kind)
	d.ParentKind = schema.Kind(parentKind)
	d.UpdatedAt = time.Unix(0, updatedAt).UTC()
	d.ModifiedAt = time.Unix(0, modifiedAt).UTC()
	d.Fields = []byte(fields)
	return &d, nil
}
