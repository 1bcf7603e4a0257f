// Package store is the persistence layer: a pgx connection pool plus the
// observation history, location metadata, and object sync metadata tables.
//
// All writes that must be unique go through single-statement upserts
// (INSERT ... ON CONFLICT), never read-then-write, so concurrent writers of
// the same key are serialized by the database constraint and resolve to one
// final row.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrConnExhausted is returned when a connection could not be acquired
// within the configured acquire timeout. It is terminal for the request;
// callers surface it rather than blocking indefinitely.
var ErrConnExhausted = errors.New("store: connection pool exhausted")

// Store wraps a pgx connection pool with a fixed acquire timeout and a
// retry-once policy for transient connection failures.
type Store struct {
	pool           *pgxpool.Pool
	acquireTimeout time.Duration
}

// New connects a pool to the given DSN. maxConns fixes the pool size;
// acquireTimeout bounds how long any single operation waits for a
// connection before failing with ErrConnExhausted.
func New(ctx context.Context, dsn string, maxConns int32, acquireTimeout time.Duration) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("store: parse dsn: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("store: connect: %w", err)
	}
	if acquireTimeout <= 0 {
		acquireTimeout = 5 * time.Second
	}
	return &Store{pool: pool, acquireTimeout: acquireTimeout}, nil
}

// Ping verifies database reachability. Used for health checks.
func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.acquireTimeout)
	defer cancel()
	return s.pool.Ping(ctx)
}

// Close releases all pool connections. Call during shutdown.
func (s *Store) Close() {
	s.pool.Close()
}

// Truncate empties the named table. Test support; the table name must come
// from the caller's own constant set, never user input.
func (s *Store) Truncate(ctx context.Context, table string) error {
	return s.withConn(ctx, func(ctx context.Context, conn *pgxpool.Conn) error {
		_, err := conn.Exec(ctx, "TRUNCATE "+table)
		return err
	})
}

// acquire checks out a connection, waiting at most the acquire timeout.
// A timeout while waiting maps to ErrConnExhausted; it is the pool that is
// saturated, not the statement that failed.
func (s *Store) acquire(ctx context.Context) (*pgxpool.Conn, error) {
	acqCtx, cancel := context.WithTimeout(ctx, s.acquireTimeout)
	defer cancel()
	conn, err := s.pool.Acquire(acqCtx)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, fmt.Errorf("%w: %v", ErrConnExhausted, err)
		}
		return nil, err
	}
	return conn, nil
}

// withConn acquires a connection, runs fn, and releases. Transient
// connection failures (per pgconn, the statement never reached the server)
// are retried exactly once on a fresh connection. Pool exhaustion is not
// retried.
func (s *Store) withConn(ctx context.Context, fn func(ctx context.Context, conn *pgxpool.Conn) error) error {
	run := func() error {
		conn, err := s.acquire(ctx)
		if err != nil {
			return err
		}
		defer conn.Release()
		return fn(ctx, conn)
	}

	err := run()
	if err != nil && pgconn.SafeToRetry(err) && ctx.Err() == nil {
		err = run()
	}
	return err
}
