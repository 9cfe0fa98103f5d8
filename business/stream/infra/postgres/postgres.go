// Package postgres persists the token catalog.
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Pool wraps pgxpool.Pool for dependency injection.
type Pool struct {
	*pgxpool.Pool
}

// NewPool creates a connection pool and verifies it with a ping.
func NewPool(ctx context.Context, dsn string) (*Pool, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return &Pool{Pool: pool}, nil
}

const schema = `
CREATE TABLE IF NOT EXISTS tracked_tokens (
	address     TEXT PRIMARY KEY,
	symbol      TEXT NOT NULL DEFAULT '',
	name        TEXT NOT NULL DEFAULT '',
	decimals    SMALLINT NOT NULL DEFAULT 0,
	prices      JSONB NOT NULL DEFAULT '{}'::jsonb,
	initialized BOOLEAN NOT NULL DEFAULT FALSE,
	updated_at  TIMESTAMPTZ,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`

// Migrate creates the catalog table if it does not exist.
func (p *Pool) Migrate(ctx context.Context) error {
	if _, err := p.Exec(ctx, schema); err != nil {
		return fmt.Errorf("migrate tracked_tokens: %w", err)
	}
	return nil
}
