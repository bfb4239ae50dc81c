package store

import "fmt"

// schemaVersion is the current Durable Store schema version (spec.md
// section 6: database name "reading-tracker", current schema version 2).
const schemaVersion = 2

// ddlStatements creates the three tables and their secondary indexes,
// following the teacher's pattern in oversqlite/client.go
// (initializeDatabase): a flat slice of CREATE TABLE IF NOT EXISTS
// statements executed in order, each wrapped with fmt.Errorf on failure.
var ddlStatements = []string{
	`CREATE TABLE IF NOT EXISTS _sync_schema_meta (
		id      INTEGER PRIMARY KEY CHECK (id = 1),
		version INTEGER NOT NULL
	)`,

	// offline_memos: keyPath localId; indexes syncStatus, userBookId,
	// memoStartTime, serverId.
	`CREATE TABLE IF NOT EXISTS offline_memos (
		local_id        TEXT PRIMARY KEY,
		server_id       INTEGER,
		user_book_id    INTEGER NOT NULL,
		page_number     INTEGER NOT NULL DEFAULT 0,
		content         TEXT NOT NULL DEFAULT '',
		tags            TEXT NOT NULL DEFAULT '[]',
		memo_start_time TEXT NOT NULL,
		created_at      TEXT NOT NULL,
		updated_at      TEXT NOT NULL,
		sync_status     TEXT NOT NULL,
		sync_queue_id   TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS idx_offline_memos_sync_status ON offline_memos(sync_status)`,
	`CREATE INDEX IF NOT EXISTS idx_offline_memos_user_book_id ON offline_memos(user_book_id)`,
	`CREATE INDEX IF NOT EXISTS idx_offline_memos_memo_start_time ON offline_memos(memo_start_time)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_offline_memos_server_id ON offline_memos(server_id) WHERE server_id IS NOT NULL`,

	// offline_books: keyPath localId; indexes syncStatus, serverId, category.
	`CREATE TABLE IF NOT EXISTS offline_books (
		local_id              TEXT PRIMARY KEY,
		server_id             INTEGER,
		book_id               INTEGER NOT NULL,
		isbn                  TEXT NOT NULL DEFAULT '',
		title                 TEXT NOT NULL DEFAULT '',
		author                TEXT NOT NULL DEFAULT '',
		publisher             TEXT NOT NULL DEFAULT '',
		pub_date              TEXT NOT NULL DEFAULT '',
		description           TEXT NOT NULL DEFAULT '',
		cover_url             TEXT NOT NULL DEFAULT '',
		total_pages           INTEGER NOT NULL DEFAULT 0,
		main_genre            TEXT NOT NULL DEFAULT '',
		category              TEXT NOT NULL,
		expectation           TEXT NOT NULL DEFAULT '',
		last_read_page        INTEGER NOT NULL DEFAULT 0,
		last_read_at          TEXT,
		reading_finished_date TEXT,
		purchase_type         TEXT NOT NULL DEFAULT '',
		rating                INTEGER NOT NULL DEFAULT 0,
		review                TEXT NOT NULL DEFAULT '',
		sync_status           TEXT NOT NULL,
		sync_queue_id         TEXT,
		added_at              TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_offline_books_sync_status ON offline_books(sync_status)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_offline_books_server_id ON offline_books(server_id) WHERE server_id IS NOT NULL`,
	`CREATE INDEX IF NOT EXISTS idx_offline_books_category ON offline_books(category)`,

	// sync_queue: keyPath id; indexes status, and a composite
	// (entity_kind, local_ref) index that plays the role of the spec's
	// separate localMemoId/localBookId indexes -- the Go model already
	// disambiguates "which entity table" via entity_kind, so a single
	// composite index covers both lookups without duplicating columns.
	`CREATE TABLE IF NOT EXISTS sync_queue (
		id                TEXT PRIMARY KEY,
		kind              TEXT NOT NULL,
		entity_kind       TEXT NOT NULL,
		local_ref         TEXT NOT NULL,
		server_ref        INTEGER,
		payload           TEXT,
		idempotency_key   TEXT NOT NULL,
		status            TEXT NOT NULL,
		retry_count       INTEGER NOT NULL DEFAULT 0,
		last_error        TEXT NOT NULL DEFAULT '',
		original_queue_id TEXT,
		created_at        TEXT NOT NULL,
		updated_at        TEXT NOT NULL,
		last_retry_at     TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS idx_sync_queue_status ON sync_queue(status)`,
	`CREATE INDEX IF NOT EXISTS idx_sync_queue_local_ref ON sync_queue(entity_kind, local_ref)`,
}

// migrate runs the DDL and records the schema version, the way the
// teacher's initializeDatabase/onupgrade path runs idempotently on every
// startup. The store MUST NOT be used before this completes (spec.md
// section 4.A).
func (s *Store) migrate() error {
	for _, stmt := range ddlStatements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to apply schema statement: %w", err)
		}
	}
	if _, err := s.db.Exec(
		`INSERT INTO _sync_schema_meta (id, version) VALUES (1, ?)
		 ON CONFLICT(id) DO UPDATE SET version = excluded.version`,
		schemaVersion,
	); err != nil {
		return fmt.Errorf("failed to record schema version: %w", err)
	}
	return nil
}
