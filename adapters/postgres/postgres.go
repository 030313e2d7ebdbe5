// Package postgres provides the networked storage engine, backed by a
// pgx connection pool. Multiple server processes may share one database;
// counter admission relies on the row lock taken by a single conditional
// upsert, not on application-level coordination.
package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/artpar/fitgate/ports"
)

//go:embed schema.sql
var schema string

// DB wraps a pgx connection pool.
type DB struct {
	pool *pgxpool.Pool
}

// Open creates a connection pool for the given DSN and verifies the
// database is reachable. Unreachable storage at startup is fatal for the
// caller, never silently degraded.
func Open(ctx context.Context, dsn string) (*DB, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse database config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &DB{pool: pool}, nil
}

// Migrate executes the embedded DDL schema. Statements are idempotent
// (CREATE ... IF NOT EXISTS), so re-running is safe.
func (db *DB) Migrate(ctx context.Context) error {
	if _, err := db.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

// Close closes the connection pool.
func (db *DB) Close() {
	db.pool.Close()
}

// Truncate empties all tables. Test helper; never called in production.
func (db *DB) Truncate(ctx context.Context) error {
	_, err := db.pool.Exec(ctx, `TRUNCATE api_keys, usage_counters, usage_events RESTART IDENTITY`)
	if err != nil {
		return fmt.Errorf("truncate tables: %w", err)
	}
	return nil
}

// uniqueViolation is the Postgres error code for unique constraint failures.
const uniqueViolation = "23505"

// mapErr converts driver-level errors to shared sentinel errors.
func mapErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return ports.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return ports.ErrDuplicate
	}
	return err
}
