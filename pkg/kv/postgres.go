package kv

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var tableName = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// PostgresStore keeps keys in a single table. Compare-and-swap is done with
// conditional statements so concurrent writers in different processes never
// lose updates.
type PostgresStore struct {
	pool  *pgxpool.Pool
	table string
}

var _ Store = (*PostgresStore)(nil)

// NewPostgres connects to dsn and makes sure table exists.
func NewPostgres(ctx context.Context, dsn, table string) (*PostgresStore, error) {
	if table == "" {
		table = "oracle_kv"
	}
	if !tableName.MatchString(table) {
		return nil, fmt.Errorf("kv: invalid table name %q", table)
	}

	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("kv: parse postgres dsn: %w", err)
	}
	poolConfig.MaxConns = 4

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("kv: connect postgres: %w", err)
	}

	_, err = pool.Exec(ctx, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		key TEXT PRIMARY KEY,
		value BYTEA NOT NULL,
		expires_at TIMESTAMPTZ
	)`, table))
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("kv: create table %s: %w", table, err)
	}

	return &PostgresStore{pool: pool, table: table}, nil
}

// Get returns the value for key.
func (s *PostgresStore) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := s.pool.QueryRow(ctx,
		fmt.Sprintf(`SELECT value FROM %s WHERE key = $1 AND (expires_at IS NULL OR expires_at > now())`, s.table),
		key,
	).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("kv: get %s: %w", key, err)
	}
	return value, nil
}

// Set upserts value under key.
func (s *PostgresStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	_, err := s.pool.Exec(ctx,
		fmt.Sprintf(`INSERT INTO %s (key, value, expires_at) VALUES ($1, $2, $3)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, expires_at = EXCLUDED.expires_at`, s.table),
		key, value, expiry(ttl),
	)
	if err != nil {
		return fmt.Errorf("kv: set %s: %w", key, err)
	}
	return nil
}

// CompareAndSwap writes value only if the current value equals old.
func (s *PostgresStore) CompareAndSwap(ctx context.Context, key string, old, value []byte, ttl time.Duration) (bool, error) {
	var (
		sql  string
		args []interface{}
	)
	if old == nil {
		// An expired row counts as absent.
		sql = fmt.Sprintf(`INSERT INTO %[1]s (key, value, expires_at) VALUES ($1, $2, $3)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, expires_at = EXCLUDED.expires_at
		WHERE %[1]s.expires_at IS NOT NULL AND %[1]s.expires_at <= now()`, s.table)
		args = []interface{}{key, value, expiry(ttl)}
	} else {
		sql = fmt.Sprintf(`UPDATE %s SET value = $2, expires_at = $3
		WHERE key = $1 AND value = $4 AND (expires_at IS NULL OR expires_at > now())`, s.table)
		args = []interface{}{key, value, expiry(ttl), old}
	}

	tag, err := s.pool.Exec(ctx, sql, args...)
	if err != nil {
		return false, fmt.Errorf("kv: compare-and-swap %s: %w", key, err)
	}
	return tag.RowsAffected() == 1, nil
}

// Delete removes key.
func (s *PostgresStore) Delete(ctx context.Context, key string) error {
	if _, err := s.pool.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE key = $1`, s.table), key); err != nil {
		return fmt.Errorf("kv: delete %s: %w", key, err)
	}
	return nil
}

// Close releases the connection pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func expiry(ttl time.Duration) *time.Time {
	if ttl <= 0 {
		return nil
	}
	t := time.Now().Add(ttl).UTC()
	return &t
}
