package store

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"log/slog"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 0 - Legacy unversioned layout (jails keyed by name, global log set, no ban time/count)
// 1 - Jail identity column, per-jail log positions
// 2 - Ban time, ban count and event id columns; lookup indexes
const CurrentSchemaVersion = 2

// Store provides durable storage for jails, log positions and ban events.
// Uses SQLite with WAL mode for concurrent read access.
type Store struct {
	db   *sql.DB
	path string

	// mu serializes writers against each other and against readers.
	mu sync.RWMutex

	version    int
	backupPath string

	cache *mergeCache
	now   func() time.Time
}

// Option configures Open.
type Option func(*options)

type options struct {
	schemaVersion int
	now           func() time.Time
}

// WithSchemaVersion stops the upgrade pipeline at version instead of
// CurrentSchemaVersion. The remaining steps can be applied later with
// Migrate. Ledger operations refuse to run until the store is current.
func WithSchemaVersion(version int) Option {
	return func(o *options) { o.schemaVersion = version }
}

// WithClock overrides the wall clock used to resolve relative time windows.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// Open creates or opens a SQLite database at the given path.
// Applies pending migrations and required pragmas.
//
// Fails with ErrCodeStorageUnavailable if the file cannot be opened or
// created, or if it was written by a newer schema than this build knows.
//
// This function is idempotent - safe to call multiple times.
func Open(path string, opts ...Option) (*Store, error) {
	o := options{schemaVersion: CurrentSchemaVersion, now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}

	// Open database (creates file if doesn't exist)
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, unavailable(path, "failed to open database", err)
	}

	// Verify connection works
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, unavailable(path, "failed to connect to database", err)
	}

	// SQLite only supports one writer at a time, so limit connections.
	// Connection-scoped pragmas below then hold for every statement.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, unavailable(path, "failed to set busy timeout", err)
	}

	s := &Store{
		db:    db,
		path:  path,
		cache: newMergeCache(),
		now:   o.now,
	}

	// Schema first: a pending upgrade must back up the file before
	// journal_mode=WAL rewrites its header.
	if err := s.prepareSchema(context.Background(), o.schemaVersion); err != nil {
		db.Close()
		if IsStorageUnavailable(err) {
			return nil, err
		}
		return nil, unavailable(path, "failed to apply schema", err)
	}

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, unavailable(path, "failed to apply pragmas", err)
	}

	return s, nil
}

// Close closes the database connection.
// Should be called when the store is no longer needed.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Path returns the database filename.
func (s *Store) Path() string {
	return s.path
}

// BackupPath returns the file written by the most recent migration of this
// store, or "" if no migration ran.
func (s *Store) BackupPath() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.backupPath
}

// SchemaVersion returns the schema version the store currently runs at.
func (s *Store) SchemaVersion() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

// nowUnix returns the store clock in Unix seconds.
func (s *Store) nowUnix() int64 {
	return s.now().Unix()
}

// ready reports whether ledger operations may run. Callers hold s.mu.
func (s *Store) ready() error {
	if s.version != CurrentSchemaVersion {
		return unavailable(s.path,
			fmt.Sprintf("schema version %d is behind %d, migrate first", s.version, CurrentSchemaVersion), nil)
	}
	return nil
}

// applyPragmas sets required SQLite configuration.
func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	return nil
}

// prepareSchema creates a fresh schema, or upgrades an existing file up to
// target.
func (s *Store) prepareSchema(ctx context.Context, target int) error {
	if target < 0 || target > CurrentSchemaVersion {
		return unsupportedMigration("target version %d outside supported range 0..%d", target, CurrentSchemaVersion)
	}

	version, err := readUserVersion(ctx, s.db)
	if err != nil {
		return err
	}

	if version > CurrentSchemaVersion {
		return unavailable(s.path, "unrecognized schema",
			unsupportedMigration("schema version %d is newer than supported version %d", version, CurrentSchemaVersion))
	}

	legacy, err := tableExists(ctx, s.db, "jails")
	if err != nil {
		return err
	}

	if version == 0 && !legacy {
		if target != CurrentSchemaVersion {
			return unsupportedMigration("new stores are created at version %d, not %d", CurrentSchemaVersion, target)
		}
		if err := createSchema(ctx, s.db); err != nil {
			return err
		}
		s.version = CurrentSchemaVersion
		return nil
	}

	s.version = version
	if version < target {
		return s.upgrade(ctx, target)
	}
	return nil
}

// createSchema creates all tables at CurrentSchemaVersion in one transaction.
func createSchema(ctx context.Context, db *sql.DB) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("create schema: begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}
	if err := setUserVersion(ctx, tx, CurrentSchemaVersion); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("create schema: commit: %w", err)
	}

	slog.Debug("created ledger schema", "version", CurrentSchemaVersion)
	return nil
}

func readUserVersion(ctx context.Context, db *sql.DB) (int, error) {
	var version int
	if err := db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return 0, fmt.Errorf("get user_version: %w", err)
	}
	return version, nil
}

func setUserVersion(ctx context.Context, tx *sql.Tx, version int) error {
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", version)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}
	return nil
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func tableExists(ctx context.Context, q queryer, name string) (bool, error) {
	var count int
	err := q.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?", name,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("check table %s: %w", name, err)
	}
	return count > 0, nil
}

// verifyPragma checks that a pragma is set to the expected value.
// Used for testing.
func (s *Store) verifyPragma(name, expected string) error {
	var value string
	query := fmt.Sprintf("PRAGMA %s", name)
	if err := s.db.QueryRow(query).Scan(&value); err != nil {
		return fmt.Errorf("failed to query %s: %w", name, err)
	}
	if value != expected {
		return fmt.Errorf("%s = %q, expected %q", name, value, expected)
	}
	return nil
}
