package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
	"github.com/pressly/goose/v3"
	"github.com/rs/zerolog"

	"github.com/diamondlog/syncd/internal/schema"
)

//go:embed migrations/*.sql
var migrations embed.FS

// ErrNotFound is returned when an entity does not exist or is not visible.
var ErrNotFound = errors.New("entity not found")

// ChangeNotifier is told about every local write so a sync pass can be scheduled.
type ChangeNotifier interface {
	EntityChanged(kind schema.Kind, localID string)
}

// Store wraps the SQLite connection holding synchronized entities.
type Store struct {
	conn *sql.DB
	path string

	// mu is the single writer lock.
	mu sync.Mutex

	notifierMu sync.RWMutex
	notifier   ChangeNotifier

	deviceOnce sync.Once
	deviceID   string
	deviceErr  error

	now    func() time.Time
	logger zerolog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the store logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// WithClock replaces the wall clock used to stamp local writes.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// Open creates a new store at the specified path.
//
// The database is opened in WAL mode with foreign keys and a busy timeout set
// on every pooled connection. Call Migrate before first use and Close when done.
//
// Example:
//
//	st, err := store.Open(".syncd/syncd.db")
//	if err != nil {
//	    return err
//	}
//	defer st.Close()
func Open(path string, opts ...Option) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)&_pragma=journal_mode(wal)", path)
	conn, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	conn.SetMaxOpenConns(8)
	conn.SetMaxIdleConns(4)
	conn.SetConnMaxLifetime(5 * time.Minute)

	s := &Store{
		conn:   conn,
		path:   path,
		now:    time.Now,
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// RawDB returns the underlying sql.DB connection.
func (s *Store) RawDB() *sql.DB {
	return s.conn
}

// Close closes the database connection after checkpointing the WAL.
func (s *Store) Close() error {
	if s.conn == nil {
		return nil
	}

	if _, err := s.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		s.logger.Warn().Err(err).Msg("failed to checkpoint WAL")
	}

	if err := s.conn.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	s.conn = nil
	return nil
}

// Migrate applies pending schema migrations.
func (s *Store) Migrate() error {
	return s.MigrateContext(context.Background())
}

// MigrateContext applies pending schema migrations with context support.
// It is idempotent.
func (s *Store) MigrateContext(ctx context.Context) error {
	fsys, err := fs.Sub(migrations, "migrations")
	if err != nil {
		return fmt.Errorf("failed to open migrations: %w", err)
	}

	provider, err := goose.NewProvider(goose.DialectSQLite3, s.conn, fsys)
	if err != nil {
		return fmt.Errorf("failed to create migration provider: %w", err)
	}

	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}
	for _, r := range results {
		s.logger.Debug().Str("migration", r.Source.Path).Dur("took", r.Duration).Msg("applied migration")
	}
	return nil
}

// SetNotifier registers the receiver of local change signals.
func (s *Store) SetNotifier(n ChangeNotifier) {
	s.notifierMu.Lock()
	defer s.notifierMu.Unlock()
	s.notifier = n
}

func (s *Store) notify(kind schema.Kind, localID string) {
	s.notifierMu.RLock()
	n := s.notifier
	s.notifierMu.RUnlock()
	if n != nil {
		n.EntityChanged(kind, localID)
	}
}

// DeviceID returns the stable id of this device, creating it on first use.
func (s *Store) DeviceID(ctx context.Context) (string, error) {
	s.deviceOnce.Do(func() {
		s.deviceID, s.deviceErr = s.loadDeviceID(ctx)
	})
	return s.deviceID, s.deviceErr
}

func (s *Store) loadDeviceID(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var id string
	err := s.conn.QueryRowContext(ctx, `SELECT device_id FROM device WHERE id = 1`).Scan(&id)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("failed to read device id: %w", err)
	}

	id, err = gonanoid.New()
	if err != nil {
		return "", fmt.Errorf("failed to generate device id: %w", err)
	}
	if _, err := s.conn.ExecContext(ctx,
		`INSERT INTO device (id, device_id, created_at) VALUES (1, ?, ?)`,
		id, s.now().UnixNano(),
	); err != nil {
		return "", fmt.Errorf("failed to store device id: %w", err)
	}
	return id, nil
}
