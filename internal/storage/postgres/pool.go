// Package postgres provides the Postgres-backed feed and entry stores.
//
// Expected schema:
//
//	CREATE TABLE feeds (
//	    id            TEXT PRIMARY KEY,
//	    title         TEXT NOT NULL,
//	    url           TEXT NOT NULL,
//	    fetch_content BOOLEAN NOT NULL DEFAULT FALSE,
//	    active        BOOLEAN NOT NULL DEFAULT TRUE,
//	    etag          TEXT NOT NULL DEFAULT '',
//	    last_modified TEXT NOT NULL DEFAULT '',
//	    checked_at    TIMESTAMPTZ,
//	    fetch_limit   INTEGER NOT NULL DEFAULT 0,
//	    rules         JSONB
//	);
//
//	CREATE TABLE entries (
//	    id             TEXT PRIMARY KEY,
//	    feed_id        TEXT NOT NULL REFERENCES feeds (id),
//	    title          TEXT NOT NULL,
//	    url            TEXT NOT NULL,
//	    guid           TEXT NOT NULL,
//	    media          TEXT NOT NULL,
//	    published_at   TIMESTAMPTZ,
//	    inline_content TEXT NOT NULL DEFAULT '',
//	    content        TEXT NOT NULL DEFAULT '',
//	    raw_uri        TEXT NOT NULL DEFAULT '',
//	    thumbnail      TEXT NOT NULL DEFAULT '',
//	    summary        TEXT NOT NULL DEFAULT '',
//	    created_at     TIMESTAMPTZ NOT NULL,
//	    fetched_at     TIMESTAMPTZ,
//	    distilled_at   TIMESTAMPTZ,
//	    UNIQUE (feed_id, guid)
//	);
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Config controls the connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// dbPool is the subset of pgxpool.Pool the stores use. pgxmock satisfies it
// in tests.
type dbPool interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// Connect builds a pgx pool from cfg and verifies connectivity before
// returning it.
func Connect(ctx context.Context, cfg Config) (*pgxpool.Pool, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("store dsn is required")
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
