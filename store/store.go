// Package store implements Component A, the Durable Store: a
// transactional local database exposing the offline_memos, offline_books
// and sync_queue tables with their secondary indexes (spec.md section
// 4.A), backed by github.com/mattn/go-sqlite3 the way the teacher's
// oversqlite.Client owns its *sql.DB.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"sync/atomic"

	_ "github.com/mattn/go-sqlite3"
)

// Store wraps a *sql.DB and guarantees the schema has been migrated
// before any read or write is served. All writes are serialized through
// single-table transactions (readwrite) per entity table; cross-table
// atomicity is not required (spec.md section 4.A) -- the engine
// compensates using idempotency and status reconciliation.
type Store struct {
	db          *sql.DB
	initialized int32
}

// Open opens (or creates) the SQLite file at path and returns a Store
// that has not yet run Init. Pass ":memory:" for an ephemeral database,
// exactly as the teacher's tests do.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open durable store: %w", err)
	}
	db.SetMaxOpenConns(1) // single-writer per user session (spec.md section 1)
	return &Store{db: db}, nil
}

// Init runs PRAGMAs and schema migration idempotently. Every dependent
// component must call Init before issuing any other Store call (spec.md
// section 4.A: "The store MUST NOT be used before initialization
// completes").
func (s *Store) Init(ctx context.Context) error {
	if atomic.LoadInt32(&s.initialized) == 1 {
		return nil
	}
	if _, err := s.db.ExecContext(ctx, `PRAGMA journal_mode=WAL`); err != nil {
		return fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `PRAGMA foreign_keys=ON`); err != nil {
		return fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	if err := s.migrate(); err != nil {
		return err
	}
	atomic.StoreInt32(&s.initialized, 1)
	return nil
}

// DB exposes the underlying connection for collaborators that need to
// share a transaction across Store operations (e.g. the Outbox Queue,
// which lives in the same physical database).
func (s *Store) DB() *sql.DB { return s.db }

// Close closes the underlying database connection.
func (s *Store) Close() error { return s.db.Close() }

const timeLayout = "2006-01-02T15:04:05.000Z"
