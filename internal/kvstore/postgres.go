package kvstore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const defaultPostgresTable = "session_store"

// PostgresConfig captures configuration for a PostgreSQL-backed store.
type PostgresConfig struct {
	DSN    string
	Schema string
	Table  string
}

// PostgresStore persists values in PostgreSQL. Beyond plain key/value
// storage it exposes session-scoped advisory locks, which give the
// cross-context mutex a native blocking path instead of the polled lease
// fallback.
type PostgresStore struct {
	pool  *pgxpool.Pool
	table string
}

// NewPostgresStore establishes a connection pool and creates the backing
// table when it does not exist yet.
func NewPostgresStore(ctx context.Context, cfg PostgresConfig) (*PostgresStore, error) {
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, fmt.Errorf("kvstore: postgres DSN is required")
	}
	table := strings.TrimSpace(cfg.Table)
	if table == "" {
		table = defaultPostgresTable
	}
	if schema := strings.TrimSpace(cfg.Schema); schema != "" {
		table = quoteIdentifier(schema) + "." + quoteIdentifier(table)
	} else {
		table = quoteIdentifier(table)
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("kvstore: open postgres pool: %w", err)
	}
	if err = pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("kvstore: ping postgres: %w", err)
	}

	store := &PostgresStore{pool: pool, table: table}
	if err = store.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return store, nil
}

// Close releases the underlying connection pool.
func (s *PostgresStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

func (s *PostgresStore) ensureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`, s.table))
	if err != nil {
		return fmt.Errorf("kvstore: create table: %w", err)
	}
	return nil
}

// Read returns the value stored under key.
func (s *PostgresStore) Read(ctx context.Context, key string) (string, bool, error) {
	var value string
	query := fmt.Sprintf("SELECT value FROM %s WHERE key = $1", s.table)
	if err := s.pool.QueryRow(ctx, query, key).Scan(&value); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("kvstore: postgres select %s: %w", key, err)
	}
	return value, true, nil
}

// Write stores value under key.
func (s *PostgresStore) Write(ctx context.Context, key, value string) error {
	query := fmt.Sprintf(`
		INSERT INTO %s (key, value, updated_at) VALUES ($1, $2, NOW())
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()
	`, s.table)
	if _, err := s.pool.Exec(ctx, query, key, value); err != nil {
		return fmt.Errorf("kvstore: postgres upsert %s: %w", key, err)
	}
	return nil
}

// Remove deletes the value stored under key.
func (s *PostgresStore) Remove(ctx context.Context, key string) error {
	query := fmt.Sprintf("DELETE FROM %s WHERE key = $1", s.table)
	if _, err := s.pool.Exec(ctx, query, key); err != nil {
		return fmt.Errorf("kvstore: postgres delete %s: %w", key, err)
	}
	return nil
}

// WithLock runs fn while holding a PostgreSQL advisory lock derived from
// key. The lock queues callers instead of polling and is released when fn
// returns or the backing session ends, so a crashed holder cannot wedge it.
func (s *PostgresStore) WithLock(ctx context.Context, key string, fn func(context.Context) error) error {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("kvstore: acquire connection: %w", err)
	}
	defer conn.Release()

	if _, err = conn.Exec(ctx, "SELECT pg_advisory_lock(hashtext($1))", key); err != nil {
		return fmt.Errorf("kvstore: advisory lock %s: %w", key, err)
	}
	defer func() {
		// Unlock on the same session; ignore failure since releasing the
		// connection ends the session and drops the lock anyway.
		_, _ = conn.Exec(context.Background(), "SELECT pg_advisory_unlock(hashtext($1))", key)
	}()
	return fn(ctx)
}

func quoteIdentifier(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
