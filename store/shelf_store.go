package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/Park-Yena00/reading-tracker-web/model"
)

// PutShelfEntry inserts or replaces a ShelfEntry row, keyed by LocalID.
func (s *Store) PutShelfEntry(ctx context.Context, e *model.ShelfEntry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO offline_books (
			local_id, server_id, book_id, isbn, title, author, publisher, pub_date,
			description, cover_url, total_pages, main_genre, category, expectation,
			last_read_page, last_read_at, reading_finished_date, purchase_type,
			rating, review, sync_status, sync_queue_id, added_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(local_id) DO UPDATE SET
			server_id = excluded.server_id,
			category = excluded.category,
			expectation = excluded.expectation,
			last_read_page = excluded.last_read_page,
			last_read_at = excluded.last_read_at,
			reading_finished_date = excluded.reading_finished_date,
			purchase_type = excluded.purchase_type,
			rating = excluded.rating,
			review = excluded.review,
			sync_status = excluded.sync_status,
			sync_queue_id = excluded.sync_queue_id
	`,
		e.LocalID, nullableInt64(e.ServerID), e.BookID, e.ISBN, e.Title, e.Author, e.Publisher, e.PubDate,
		e.Description, e.CoverURL, e.TotalPages, e.MainGenre, string(e.Category), e.Expectation,
		e.LastReadPage, nullableTime(e.LastReadAt), nullableTime(e.ReadingFinishedDate), e.PurchaseType,
		e.Rating, e.Review, string(e.SyncStatus), nullableString(e.SyncQueueID), formatTime(e.AddedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to put shelf entry %s: %w", e.LocalID, err)
	}
	return nil
}

// GetShelfEntryByLocalID looks up a ShelfEntry by its local UUID.
func (s *Store) GetShelfEntryByLocalID(ctx context.Context, localID string) (*model.ShelfEntry, error) {
	row := s.db.QueryRowContext(ctx, shelfSelectColumns+` WHERE local_id = ?`, localID)
	return scanShelf(row)
}

// GetShelfEntryByServerID is nullable-safe, mirroring GetMemoByServerID.
func (s *Store) GetShelfEntryByServerID(ctx context.Context, serverID *int64) (*model.ShelfEntry, error) {
	if serverID == nil {
		return nil, nil
	}
	row := s.db.QueryRowContext(ctx, shelfSelectColumns+` WHERE server_id = ?`, *serverID)
	e, err := scanShelf(row)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	return e, err
}

// GetAllShelfEntriesByServerID mirrors GetAllMemosByServerID's cleanup role.
func (s *Store) GetAllShelfEntriesByServerID(ctx context.Context, serverID int64) ([]*model.ShelfEntry, error) {
	rows, err := s.db.QueryContext(ctx, shelfSelectColumns+` WHERE server_id = ?`, serverID)
	if err != nil {
		return nil, fmt.Errorf("failed to query shelf entries by server id: %w", err)
	}
	defer rows.Close()
	var out []*model.ShelfEntry
	for rows.Next() {
		e, err := scanShelfRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// DeleteShelfEntry removes a ShelfEntry row. Shelf entries are retained
// in full under normal operation (spec.md section 3: "Shelf entries are
// retained in full") -- this is only reachable via an acknowledged
// DELETE outbox item or a local-only draft cancellation.
func (s *Store) DeleteShelfEntry(ctx context.Context, localID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM offline_books WHERE local_id = ?`, localID); err != nil {
		return fmt.Errorf("failed to delete shelf entry %s: %w", localID, err)
	}
	return nil
}

// ListShelfEntriesByStatus performs an indexed range scan by sync_status.
func (s *Store) ListShelfEntriesByStatus(ctx context.Context, status model.SyncStatus) ([]*model.ShelfEntry, error) {
	rows, err := s.db.QueryContext(ctx, shelfSelectColumns+` WHERE sync_status = ? ORDER BY added_at`, string(status))
	if err != nil {
		return nil, fmt.Errorf("failed to list shelf entries by status: %w", err)
	}
	defer rows.Close()
	return scanShelves(rows)
}

// ListShelfEntriesByCategory performs an indexed range scan by category.
func (s *Store) ListShelfEntriesByCategory(ctx context.Context, category model.ReadingCategory) ([]*model.ShelfEntry, error) {
	rows, err := s.db.QueryContext(ctx, shelfSelectColumns+` WHERE category = ? ORDER BY added_at`, string(category))
	if err != nil {
		return nil, fmt.Errorf("failed to list shelf entries by category: %w", err)
	}
	defer rows.Close()
	return scanShelves(rows)
}

// ListAllShelfEntries returns the full shelf, used by the facade's
// store-first fallback read path.
func (s *Store) ListAllShelfEntries(ctx context.Context) ([]*model.ShelfEntry, error) {
	rows, err := s.db.QueryContext(ctx, shelfSelectColumns+` ORDER BY added_at`)
	if err != nil {
		return nil, fmt.Errorf("failed to list shelf entries: %w", err)
	}
	defer rows.Close()
	return scanShelves(rows)
}

const shelfSelectColumns = `SELECT
	local_id, server_id, book_id, isbn, title, author, publisher, pub_date,
	description, cover_url, total_pages, main_genre, category, expectation,
	last_read_page, last_read_at, reading_finished_date, purchase_type,
	rating, review, sync_status, sync_queue_id, added_at
	FROM offline_books`

func scanShelf(row rowScanner) (*model.ShelfEntry, error) {
	e, err := scanShelfRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return e, err
}

func scanShelfRow(row rowScanner) (*model.ShelfEntry, error) {
	var (
		e                                model.ShelfEntry
		serverID                         sql.NullInt64
		lastReadAt, readingFinishedDate  sql.NullString
		syncQueueID                      sql.NullString
		addedAt                          string
	)
	if err := row.Scan(
		&e.LocalID, &serverID, &e.BookID, &e.ISBN, &e.Title, &e.Author, &e.Publisher, &e.PubDate,
		&e.Description, &e.CoverURL, &e.TotalPages, &e.MainGenre, &e.Category, &e.Expectation,
		&e.LastReadPage, &lastReadAt, &readingFinishedDate, &e.PurchaseType,
		&e.Rating, &e.Review, &e.SyncStatus, &syncQueueID, &addedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan shelf entry row: %w", err)
	}
	if serverID.Valid {
		v := serverID.Int64
		e.ServerID = &v
	}
	if syncQueueID.Valid {
		v := syncQueueID.String
		e.SyncQueueID = &v
	}
	var err error
	if lastReadAt.Valid {
		t, perr := parseTime(lastReadAt.String)
		if perr != nil {
			return nil, perr
		}
		e.LastReadAt = &t
	}
	if readingFinishedDate.Valid {
		t, perr := parseTime(readingFinishedDate.String)
		if perr != nil {
			return nil, perr
		}
		e.ReadingFinishedDate = &t
	}
	if e.AddedAt, err = parseTime(addedAt); err != nil {
		return nil, err
	}
	return &e, nil
}

func scanShelves(rows *sql.Rows) ([]*model.ShelfEntry, error) {
	var out []*model.ShelfEntry
	for rows.Next() {
		e, err := scanShelfRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
