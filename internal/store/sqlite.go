package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 0 - Initial schema (pre-migration)
// 1 - kv table with version and expires_at
const currentSchemaVersion = 1

// SQLite is the durable Backend. WAL mode allows concurrent reads while
// the single writer connection avoids SQLITE_BUSY storms.
type SQLite struct {
	db  *sql.DB
	now func() time.Time
}

// SQLiteOption adjusts an opened backend.
type SQLiteOption func(*SQLite)

// WithSQLiteClock overrides the expiry clock. Tests use this to step
// time past TTLs without sleeping.
func WithSQLiteClock(now func() time.Time) SQLiteOption {
	return func(s *SQLite) { s.now = now }
}

// OpenSQLite creates or opens the database at path and applies pragmas
// and migrations. Idempotent: safe to call on an existing database.
func OpenSQLite(path string, opts ...SQLiteOption) (*SQLite, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite supports one writer at a time; a single pooled connection
	// sidesteps SQLITE_BUSY instead of retrying around it.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}

	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	s := &SQLite{db: db, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}
	return nil
}

func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}

	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}
	if version < currentSchemaVersion {
		if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
			return fmt.Errorf("set user_version: %w", err)
		}
	}
	return nil
}

func (s *SQLite) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Get reads a live row. Expired rows are reclaimed on the way out and
// reported as missing.
func (s *SQLite) Get(ctx context.Context, key string) ([]byte, int64, bool, error) {
	var (
		value     []byte
		version   int64
		expiresAt sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT value, version, expires_at FROM kv WHERE key = ?
	`, key).Scan(&value, &version, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, 0, false, nil
	}
	if err != nil {
		return nil, 0, false, fmt.Errorf("get %q: %w", key, err)
	}

	if expiresAt.Valid && expiresAt.Int64 <= s.now().UnixMilli() {
		// Lazy expiry. Best effort: a failed delete still reports the
		// key as gone.
		_, _ = s.db.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, key)
		return nil, 0, false, nil
	}

	return value, version, true, nil
}

func (s *SQLite) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO kv (key, value, version, expires_at)
		VALUES (?, ?, 1, ?)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			version = kv.version + 1,
			expires_at = excluded.expires_at
	`, key, value, s.expiresAt(ttl))
	if err != nil {
		return fmt.Errorf("put %q: %w", key, err)
	}
	return nil
}

// PutIfVersion is the compare-and-set primitive. The transaction first
// reclaims the row if it expired, so a create (expect 0) can take over
// a dead key, then claims the slot and checks RowsAffected to learn
// whether the version guard held.
func (s *SQLite) PutIfVersion(ctx context.Context, key string, value []byte, ttl time.Duration, expect int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("put-if-version %q: begin tx: %w", key, err)
	}
	defer tx.Rollback() // No-op if committed

	_, err = tx.ExecContext(ctx, `
		DELETE FROM kv WHERE key = ? AND expires_at IS NOT NULL AND expires_at <= ?
	`, key, s.now().UnixMilli())
	if err != nil {
		return fmt.Errorf("put-if-version %q: expire: %w", key, err)
	}

	var result sql.Result
	if expect == 0 {
		result, err = tx.ExecContext(ctx, `
			INSERT INTO kv (key, value, version, expires_at)
			VALUES (?, ?, 1, ?)
			ON CONFLICT(key) DO NOTHING
		`, key, value, s.expiresAt(ttl))
	} else {
		result, err = tx.ExecContext(ctx, `
			UPDATE kv SET value = ?, version = version + 1, expires_at = ?
			WHERE key = ? AND version = ?
		`, value, s.expiresAt(ttl), key, expect)
	}
	if err != nil {
		return fmt.Errorf("put-if-version %q: %w", key, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("put-if-version %q: rows affected: %w", key, err)
	}
	if affected == 0 {
		return fmt.Errorf("put-if-version %q at %d: %w", key, expect, ErrVersionConflict)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("put-if-version %q: commit: %w", key, err)
	}
	return nil
}

func (s *SQLite) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, key); err != nil {
		return fmt.Errorf("delete %q: %w", key, err)
	}
	return nil
}

func (s *SQLite) Sweep(ctx context.Context) (int, error) {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM kv WHERE expires_at IS NOT NULL AND expires_at <= ?
	`, s.now().UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("sweep: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("sweep: rows affected: %w", err)
	}
	return int(affected), nil
}

func (s *SQLite) Usage(ctx context.Context) (int64, error) {
	var total int64
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(LENGTH(key) + LENGTH(value)), 0) FROM kv
	`).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("usage: %w", err)
	}
	return total, nil
}

// expiresAt converts a TTL to an absolute unix-milli deadline, or NULL
// for no expiry.
func (s *SQLite) expiresAt(ttl time.Duration) sql.NullInt64 {
	if ttl <= 0 {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: s.now().Add(ttl).UnixMilli(), Valid: true}
}
