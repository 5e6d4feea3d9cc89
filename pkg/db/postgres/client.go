// Package postgres provides a thin wrapper around pgxpool used by
// every storage-owning component of the indexer (event store, computation
// cache, state repository).
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// PoolConfig configures a new connection pool.
type PoolConfig struct {
	URL       string
	Schema    string // sets search_path on every pooled connection; "" leaves it at the server default
	MinConns  int32
	MaxConns  int32
	Component string // labels the pool's owning component; New does not read it
}

// Client wraps a pgxpool.Pool with the batch/tx helpers the storage
// packages build on and carries a Logger; the helpers themselves do not log.
type Client struct {
	Pool   *pgxpool.Pool
	Logger *zap.Logger
}

// New parses cfg.URL, opens a pool, and verifies connectivity with Ping.
func New(ctx context.Context, logger *zap.Logger, name string, cfg *PoolConfig) (*Client, error) {
	parsed, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if cfg.MinConns > 0 {
		parsed.MinConns = cfg.MinConns
	} else {
		parsed.MinConns = 2
	}
	if cfg.MaxConns > 0 {
		parsed.MaxConns = cfg.MaxConns
	} else {
		parsed.MaxConns = 20
	}

	if cfg.Schema != "" {
		schema := SanitizeName(cfg.Schema)
		parsed.ConnConfig.RuntimeParams["search_path"] = schema
	}

	pool, err := pgxpool.NewWithConfig(ctx, parsed)
	if err != nil {
		return nil, fmt.Errorf("create pool %s: %w", name, err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping %s: %w", name, err)
	}

	if logger == nil {
		logger = zap.NewNop()
	}

	return &Client{Pool: pool, Logger: logger}, nil
}

// Close releases all pooled connections.
func (c *Client) Close() {
	c.Pool.Close()
}

// Exec runs a statement expecting no rows back.
func (c *Client) Exec(ctx context.Context, sql string, args ...any) error {
	_, err := c.Pool.Exec(ctx, sql, args...)
	return err
}

// Query runs a query returning rows.
func (c *Client) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return c.Pool.Query(ctx, sql, args...)
}

// QueryRow runs a query expecting at most one row.
func (c *Client) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return c.Pool.QueryRow(ctx, sql, args...)
}

// BeginFunc runs fn inside a transaction, committing on nil error and
// rolling back otherwise.
func (c *Client) BeginFunc(ctx context.Context, fn func(pgx.Tx) error) error {
	return pgx.BeginFunc(ctx, c.Pool, fn)
}

// PrepareBatch returns an empty batch for the caller to Queue statements onto.
func (c *Client) PrepareBatch(ctx context.Context) *pgx.Batch {
	return &pgx.Batch{}
}

// SendBatch submits a batch for execution.
func (c *Client) SendBatch(ctx context.Context, batch *pgx.Batch) pgx.BatchResults {
	return c.Pool.SendBatch(ctx, batch)
}

// IsNoRows reports whether err is pgx.ErrNoRows.
func IsNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

// SanitizeName replaces each character unsafe for use as an unquoted
// identifier with an underscore.
func SanitizeName(name string) string {
	out := make([]byte, 0, len(name))
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			out = append(out, byte(r))
		default:
			out = append(out, '_')
		}
	}
	return string(out)
}

// CreateSchemaIfNotExists creates a Postgres schema, sanitizing the name
// since CREATE SCHEMA cannot be parameterized.
func (c *Client) CreateSchemaIfNotExists(ctx context.Context, schema string) error {
	ident := pgx.Identifier{SanitizeName(schema)}.Sanitize()
	return c.Exec(ctx, fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", ident))
}

// IsTransientConflict reports whether err is a retryable Postgres
// serialization failure or deadlock.
func IsTransientConflict(err error) bool {
	var pgErr interface{ SQLState() string }
	if errors.As(err, &pgErr) {
		switch pgErr.SQLState() {
		case "40001", "40P01":
			return true
		}
	}
	return false
}
