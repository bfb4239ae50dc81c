package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Park-Yena00/reading-tracker-web/model"
)

// ErrNotFound is returned by single-row lookups when no row matches.
var ErrNotFound = errors.New("store: not found")

// PutMemo inserts or replaces a Memo row, keyed by LocalID (spec.md
// section 4.A: put(entity)).
func (s *Store) PutMemo(ctx context.Context, m *model.Memo) error {
	tags, err := json.Marshal(m.Tags)
	if err != nil {
		return fmt.Errorf("failed to marshal memo tags: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO offline_memos (
			local_id, server_id, user_book_id, page_number, content, tags,
			memo_start_time, created_at, updated_at, sync_status, sync_queue_id
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(local_id) DO UPDATE SET
			server_id = excluded.server_id,
			user_book_id = excluded.user_book_id,
			page_number = excluded.page_number,
			content = excluded.content,
			tags = excluded.tags,
			memo_start_time = excluded.memo_start_time,
			updated_at = excluded.updated_at,
			sync_status = excluded.sync_status,
			sync_queue_id = excluded.sync_queue_id
	`,
		m.LocalID, nullableInt64(m.ServerID), m.UserBookID, m.PageNumber, m.Content, string(tags),
		formatTime(m.MemoStartTime), formatTime(m.CreatedAt), formatTime(m.UpdatedAt),
		string(m.SyncStatus), nullableString(m.SyncQueueID),
	)
	if err != nil {
		return fmt.Errorf("failed to put memo %s: %w", m.LocalID, err)
	}
	return nil
}

// GetMemoByLocalID looks up a Memo by its local UUID.
func (s *Store) GetMemoByLocalID(ctx context.Context, localID string) (*model.Memo, error) {
	row := s.db.QueryRowContext(ctx, memoSelectColumns+` WHERE local_id = ?`, localID)
	return scanMemo(row)
}

// GetMemoByServerID looks up a Memo by its server id. Nullable-safe: a
// nil serverID returns (nil, nil) rather than an error, matching
// spec.md section 4.A's "getByServerId (nullable-safe: returns null for
// null/empty inputs)".
func (s *Store) GetMemoByServerID(ctx context.Context, serverID *int64) (*model.Memo, error) {
	if serverID == nil {
		return nil, nil
	}
	row := s.db.QueryRowContext(ctx, memoSelectColumns+` WHERE server_id = ?`, *serverID)
	m, err := scanMemo(row)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	return m, err
}

// GetAllMemosByServerID returns every row sharing serverID. In correct
// operation this is exactly zero or one row; it exists for cleanup of
// duplicate rows accidentally written (spec.md section 4.A).
func (s *Store) GetAllMemosByServerID(ctx context.Context, serverID int64) ([]*model.Memo, error) {
	rows, err := s.db.QueryContext(ctx, memoSelectColumns+` WHERE server_id = ?`, serverID)
	if err != nil {
		return nil, fmt.Errorf("failed to query memos by server id: %w", err)
	}
	defer rows.Close()
	var out []*model.Memo
	for rows.Next() {
		m, err := scanMemoRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// DeleteMemo removes a Memo row. Deletion only happens after the
// terminal SUCCESS DELETE outbox item is acknowledged, or for a
// local-only draft being cancelled (spec.md section 3, invariant 5);
// callers, not the Store, enforce that precondition.
func (s *Store) DeleteMemo(ctx context.Context, localID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM offline_memos WHERE local_id = ?`, localID); err != nil {
		return fmt.Errorf("failed to delete memo %s: %w", localID, err)
	}
	return nil
}

// ListMemosByStatus performs an indexed range scan by sync_status.
func (s *Store) ListMemosByStatus(ctx context.Context, status model.SyncStatus) ([]*model.Memo, error) {
	rows, err := s.db.QueryContext(ctx, memoSelectColumns+` WHERE sync_status = ? ORDER BY created_at`, string(status))
	if err != nil {
		return nil, fmt.Errorf("failed to list memos by status: %w", err)
	}
	defer rows.Close()
	return scanMemos(rows)
}

// ListAllMemos returns every memo row, used by the Facade's store-only
// read fallback when no narrower index fits the query (spec.md section
// 4.G: "Read list ... if server call fails -> fall back to Store-only").
func (s *Store) ListAllMemos(ctx context.Context) ([]*model.Memo, error) {
	rows, err := s.db.QueryContext(ctx, memoSelectColumns+` ORDER BY memo_start_time`)
	if err != nil {
		return nil, fmt.Errorf("failed to list memos: %w", err)
	}
	defer rows.Close()
	return scanMemos(rows)
}

// ListMemosByUserBook performs an indexed range scan by user_book_id.
func (s *Store) ListMemosByUserBook(ctx context.Context, userBookID int64) ([]*model.Memo, error) {
	rows, err := s.db.QueryContext(ctx, memoSelectColumns+` WHERE user_book_id = ? ORDER BY memo_start_time`, userBookID)
	if err != nil {
		return nil, fmt.Errorf("failed to list memos by user book: %w", err)
	}
	defer rows.Close()
	return scanMemos(rows)
}

// ListMemosOlderThan performs an indexed range scan by memo_start_time,
// used by the hybrid-retention sweep (spec.md section 3).
func (s *Store) ListMemosOlderThan(ctx context.Context, cutoff time.Time, onlyStatus model.SyncStatus) ([]*model.Memo, error) {
	rows, err := s.db.QueryContext(ctx,
		memoSelectColumns+` WHERE memo_start_time < ? AND sync_status = ? ORDER BY memo_start_time`,
		formatTime(cutoff), string(onlyStatus),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list aged memos: %w", err)
	}
	defer rows.Close()
	return scanMemos(rows)
}

const memoSelectColumns = `SELECT
	local_id, server_id, user_book_id, page_number, content, tags,
	memo_start_time, created_at, updated_at, sync_status, sync_queue_id
	FROM offline_memos`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMemo(row rowScanner) (*model.Memo, error) {
	m, err := scanMemoRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return m, err
}

func scanMemoRow(row rowScanner) (*model.Memo, error) {
	var (
		m                                            model.Memo
		serverID                                     sql.NullInt64
		tags                                         string
		memoStartTime, createdAt, updatedAt          string
		syncQueueID                                  sql.NullString
	)
	if err := row.Scan(
		&m.LocalID, &serverID, &m.UserBookID, &m.PageNumber, &m.Content, &tags,
		&memoStartTime, &createdAt, &updatedAt, &m.SyncStatus, &syncQueueID,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan memo row: %w", err)
	}
	if serverID.Valid {
		v := serverID.Int64
		m.ServerID = &v
	}
	if syncQueueID.Valid {
		v := syncQueueID.String
		m.SyncQueueID = &v
	}
	if err := json.Unmarshal([]byte(tags), &m.Tags); err != nil {
		return nil, fmt.Errorf("failed to unmarshal memo tags: %w", err)
	}
	var err error
	if m.MemoStartTime, err = parseTime(memoStartTime); err != nil {
		return nil, err
	}
	if m.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if m.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &m, nil
}

func scanMemos(rows *sql.Rows) ([]*model.Memo, error) {
	var out []*model.Memo
	for rows.Next() {
		m, err := scanMemoRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse stored timestamp %q: %w", s, err)
	}
	return t, nil
}

func nullableInt64(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullableString(v *string) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullableTime(v *time.Time) any {
	if v == nil {
		return nil
	}
	return formatTime(*v)
}
