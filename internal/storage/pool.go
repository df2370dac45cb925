// Package storage provides the PostgreSQL storage layer for the acquisition
// pipeline: artifacts, heads, canonical sources, and the append-only event
// log. It manages connection pooling via pgxpool (through PgBouncer in
// production) and per-muniId commit locking so the Artifact-insert →
// Head-upsert → checksum-update → event-append sequence for one municipality
// is never interleaved with another commit for the same municipality.
package storage

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"
)

// DB wraps a pgxpool.Pool and the per-muniId commit locks the orchestrator's
// ordering guarantees require.
type DB struct {
	pool   *pgxpool.Pool
	logger *slog.Logger

	muniLocksMu sync.Mutex
	muniLocks   map[string]*sync.Mutex
}

// New creates a new DB with a connection pool. dsn should point to PgBouncer
// (or directly to Postgres in development).
func New(ctx context.Context, dsn string, logger *slog.Logger) (*DB, error) {
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("storage: parse pool DSN: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("storage: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("storage: ping pool: %w", err)
	}

	return &DB{
		pool:      pool,
		logger:    logger,
		muniLocks: make(map[string]*sync.Mutex),
	}, nil
}

// Pool returns the underlying connection pool for use by other packages.
func (db *DB) Pool() *pgxpool.Pool {
	return db.pool
}

// Ping checks connectivity to the database.
func (db *DB) Ping(ctx context.Context) error {
	return db.pool.Ping(ctx)
}

// Close shuts down the connection pool.
func (db *DB) Close() {
	db.pool.Close()
}

// lockFor returns the mutex serializing commits for muniId, creating it on
// first use. Never acquire this while holding a provenance shard lock.
func (db *DB) lockFor(muniID string) *sync.Mutex {
	db.muniLocksMu.Lock()
	defer db.muniLocksMu.Unlock()
	m, ok := db.muniLocks[muniID]
	if !ok {
		m = &sync.Mutex{}
		db.muniLocks[muniID] = m
	}
	return m
}
