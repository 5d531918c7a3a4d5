package dedup

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresBackend stores records in a shared table, for invocations that do
// not share a disk (e.g. separate serverless instances).
type PostgresBackend struct {
	pool *pgxpool.Pool
}

// NewPostgresBackend connects and creates the schema if needed.
func NewPostgresBackend(ctx context.Context, connStr string) (*PostgresBackend, error) {
	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to database: %w", err)
	}

	b := &PostgresBackend{pool: pool}
	if err := b.initSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return b, nil
}

func (b *PostgresBackend) initSchema(ctx context.Context) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS handled_threads (key TEXT PRIMARY KEY, handled_at_ms BIGINT NOT NULL)`,
		`CREATE INDEX IF NOT EXISTS idx_handled_threads_handled_at ON handled_threads(handled_at_ms)`,
		`CREATE TABLE IF NOT EXISTS thread_leases (key TEXT PRIMARY KEY, owner TEXT NOT NULL, expires_at_ms BIGINT NOT NULL)`,
	}

	for _, q := range queries {
		if _, err := b.pool.Exec(ctx, q); err != nil {
			return fmt.Errorf("failed to init schema: %w", err)
		}
	}
	return nil
}

func (b *PostgresBackend) LoadRecords(ctx context.Context) ([]Record, error) {
	rows, err := b.pool.Query(ctx, `SELECT key, handled_at_ms FROM handled_threads`)
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

func (b *PostgresBackend) Append(ctx context.Context, r Record) error {
	_, err := b.pool.Exec(ctx,
		`INSERT INTO handled_threads (key, handled_at_ms) VALUES ($1, $2) ON CONFLICT (key) DO NOTHING`,
		r.Key, r.HandledAtMs)
	return err
}

func (b *PostgresBackend) FindRecords(ctx context.Context, keys []string) ([]Record, error) {
	rows, err := b.pool.Query(ctx,
		`SELECT key, handled_at_ms FROM handled_threads WHERE key = ANY($1)`, keys)
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

func (b *PostgresBackend) Prune(ctx context.Context, cutoffMs int64) (int, error) {
	tag, err := b.pool.Exec(ctx, `DELETE FROM handled_threads WHERE handled_at_ms < $1`, cutoffMs)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func (b *PostgresBackend) TryLock(ctx context.Context, key, owner string, ttl time.Duration) (bool, error) {
	now := time.Now()
	tag, err := b.pool.Exec(ctx, `
		INSERT INTO thread_leases (key, owner, expires_at_ms) VALUES ($1, $2, $3)
		ON CONFLICT (key) DO UPDATE SET owner = EXCLUDED.owner, expires_at_ms = EXCLUDED.expires_at_ms
		WHERE thread_leases.expires_at_ms <= $4 OR thread_leases.owner = EXCLUDED.owner`,
		key, owner, now.Add(ttl).UnixMilli(), now.UnixMilli())
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (b *PostgresBackend) Unlock(ctx context.Context, key, owner string) error {
	_, err := b.pool.Exec(ctx, `DELETE FROM thread_leases WHERE key = $1 AND owner = $2`, key, owner)
	return err
}

func (b *PostgresBackend) Close() error {
	b.pool.Close()
	return nil
}

var (
	_ Backend = (*PostgresBackend)(nil)
	_ Finder  = (*PostgresBackend)(nil)
	_ Locker  = (*PostgresBackend)(nil)
)
