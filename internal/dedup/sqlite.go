package dedup

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteBackend stores records in a local SQLite file. WAL mode and a busy
// timeout let several processes on one host share the file.
type SQLiteBackend struct {
	db *sql.DB
}

// NewSQLiteBackend opens (and migrates) the database at dbPath.
func NewSQLiteBackend(dbPath string) (*SQLiteBackend, error) {
	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, err
	}

	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", dbPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}

	b := &SQLiteBackend{db: db}
	if err := b.migrate(); err != nil {
		db.Close()
		return nil, err
	}

	return b, nil
}

// migrate creates the database schema
func (b *SQLiteBackend) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS handled_threads (
		key TEXT PRIMARY KEY,
		handled_at_ms INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS thread_leases (
		key TEXT PRIMARY KEY,
		owner TEXT NOT NULL,
		expires_at_ms INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_handled_threads_handled_at ON handled_threads(handled_at_ms);
	`

	_, err := b.db.Exec(schema)
	return err
}

func (b *SQLiteBackend) LoadRecords(ctx context.Context) ([]Record, error) {
	rows, err := b.db.QueryContext(ctx, `SELECT key, handled_at_ms FROM handled_threads`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var r Record
		if err := rows.Scan(&r.Key, &r.HandledAtMs); err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

func (b *SQLiteBackend) Append(ctx context.Context, r Record) error {
	_, err := b.db.ExecContext(ctx, `
		INSERT INTO handled_threads (key, handled_at_ms) VALUES (?, ?)
		ON CONFLICT(key) DO NOTHING
	`, r.Key, r.HandledAtMs)
	return err
}

func (b *SQLiteBackend) FindRecords(ctx context.Context, keys []string) ([]Record, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	args := make([]any, len(keys))
	for i, k := range keys {
		args[i] = k
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(keys)), ",")
	rows, err := b.db.QueryContext(ctx,
		`SELECT key, handled_at_ms FROM handled_threads WHERE key IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var r Record
		if err := rows.Scan(&r.Key, &r.HandledAtMs); err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

func (b *SQLiteBackend) Prune(ctx context.Context, cutoffMs int64) (int, error) {
	res, err := b.db.ExecContext(ctx, `DELETE FROM handled_threads WHERE handled_at_ms < ?`, cutoffMs)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// TryLock takes the lease when it is free, expired or already ours.
func (b *SQLiteBackend) TryLock(ctx context.Context, key, owner string, ttl time.Duration) (bool, error) {
	now := time.Now()
	res, err := b.db.ExecContext(ctx, `
		INSERT INTO thread_leases (key, owner, expires_at_ms) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			owner = excluded.owner,
			expires_at_ms = excluded.expires_at_ms
		WHERE thread_leases.expires_at_ms <= ? OR thread_leases.owner = excluded.owner
	`, key, owner, now.Add(ttl).UnixMilli(), now.UnixMilli())
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (b *SQLiteBackend) Unlock(ctx context.Context, key, owner string) error {
	_, err := b.db.ExecContext(ctx, `DELETE FROM thread_leases WHERE key = ? AND owner = ?`, key, owner)
	return err
}

// Close closes the database connection
func (b *SQLiteBackend) Close() error {
	return b.db.Close()
}

var (
	_ Backend = (*SQLiteBackend)(nil)
	_ Finder  = (*SQLiteBackend)(nil)
	_ Locker  = (*SQLiteBackend)(nil)
)
