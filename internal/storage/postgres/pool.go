// Package postgres provides Postgres-backed persistence for crawl state.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/webgraph/linkcrawler/internal/crawler"
)

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// dbPool is the slice of pgxpool.Pool the stores use, kept narrow so
// tests can substitute a pgxmock pool.
type dbPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
	Close()
}

// Connect builds a pgx connection pool from cfg and verifies it with a ping.
func Connect(ctx context.Context, cfg Config) (*pgxpool.Pool, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return pool, nil
}

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS found_urls (
		id     BIGSERIAL PRIMARY KEY,
		url    TEXT NOT NULL CHECK (length(url) <= 4096),
		status BOOLEAN NULL,
		error  BOOLEAN NOT NULL DEFAULT FALSE
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS found_urls_url_key ON found_urls (url)`,
	`CREATE INDEX IF NOT EXISTS found_urls_url_hash_idx ON found_urls USING hash (url)`,
	`CREATE TABLE IF NOT EXISTS url_relations (
		referencing_url BIGINT NOT NULL REFERENCES found_urls (id) ON DELETE CASCADE,
		referenced_url  BIGINT NOT NULL REFERENCES found_urls (id) ON DELETE CASCADE,
		PRIMARY KEY (referencing_url, referenced_url)
	)`,
}

// EnsureSchema creates the crawl tables and indexes if they do not exist.
// Mirrors db/schema.sql.
func EnsureSchema(ctx context.Context, pool dbPool) error {
	for _, stmt := range schemaStatements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return classify("ensure schema", err)
		}
	}
	return nil
}

// classify separates backend-unavailability from query-level failures.
// A PgError means the server answered; anything else (dial failures,
// closed pools, timeouts) counts as the store being unreachable, which
// the worker treats as a requeue-and-retry condition.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return err
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return &crawler.StoreUnavailableError{Op: op, Err: err}
}
