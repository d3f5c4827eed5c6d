// Package postgres provides a PostgreSQL implementation of storage.KVStore
// using pgx/v5 connection pooling.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rhuss/toolgate/pkg/debug"
	"github.com/rhuss/toolgate/pkg/storage"
)

// Pool defaults.
const (
	DefaultMaxConns        = 25
	DefaultMinConns        = 2
	DefaultMaxConnLifetime = 30 * time.Minute
)

// Config configures the connection pool.
type Config struct {
	// DSN is a pgx connection string, e.g.
	// "postgres://toolgate:secret@db:5432/toolgate?sslmode=require".
	DSN string

	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration

	// MigrateOnStart creates the kv_store table when it is missing.
	MigrateOnStart bool
}

func (c Config) withDefaults() Config {
	if c.MaxConns <= 0 {
		c.MaxConns = DefaultMaxConns
	}
	if c.MinConns <= 0 {
		c.MinConns = min(DefaultMinConns, c.MaxConns)
	}
	if c.MaxConnLifetime <= 0 {
		c.MaxConnLifetime = DefaultMaxConnLifetime
	}
	return c
}

// Store is a PostgreSQL-backed KVStore.
type Store struct {
	pool *pgxpool.Pool
}

// Ensure Store implements storage.KVStore at compile time.
var _ storage.KVStore = (*Store)(nil)

// New creates a new PostgreSQL store with the given configuration.
// If MigrateOnStart is true, schema migrations are applied automatically.
func New(ctx context.Context, cfg Config) (*Store, error) {
	cfg = cfg.withDefaults()

	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parsing DSN: %w", err)
	}

	poolCfg.MaxConns = cfg.MaxConns
	poolCfg.MinConns = cfg.MinConns
	poolCfg.MaxConnLifetime = cfg.MaxConnLifetime

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	s := &Store{pool: pool}

	if cfg.MigrateOnStart {
		if err := s.migrate(ctx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("running migrations: %w", err)
		}
	}

	return s, nil
}

// Get returns the value stored under key for the context tenant.
func (s *Store) Get(ctx context.Context, key string, scope storage.Scope) (string, bool, error) {
	var value string
	err := s.pool.QueryRow(ctx,
		"SELECT value FROM kv_store WHERE tenant_id = $1 AND scope = $2 AND key = $3",
		storage.TenantFrom(ctx), string(scope), key,
	).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("querying key %s: %w", key, err)
	}
	return value, true, nil
}

// Set upserts value under key for the context tenant.
func (s *Store) Set(ctx context.Context, key, value string, scope storage.Scope, target storage.Target) error {
	if err := storage.Validate(scope, target); err != nil {
		return err
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO kv_store (tenant_id, scope, key, value, target, updated_at)
		VALUES ($1, $2, $3, $4, $5, now())
		ON CONFLICT (tenant_id, scope, key)
		DO UPDATE SET value = EXCLUDED.value, target = EXCLUDED.target, updated_at = now()
	`, storage.TenantFrom(ctx), string(scope), key, value, string(target))
	if err != nil {
		return fmt.Errorf("storing key %s: %w", key, err)
	}
	debug.Log("storage", "key stored", "key", key, "scope", scope, "target", target)
	return nil
}

// Delete removes key for the context tenant.
func (s *Store) Delete(ctx context.Context, key string, scope storage.Scope) error {
	result, err := s.pool.Exec(ctx,
		"DELETE FROM kv_store WHERE tenant_id = $1 AND scope = $2 AND key = $3",
		storage.TenantFrom(ctx), string(scope), key,
	)
	if err != nil {
		return fmt.Errorf("deleting key %s: %w", key, err)
	}
	if result.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// HealthCheck verifies the database connection.
func (s *Store) HealthCheck(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases the connection pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}
