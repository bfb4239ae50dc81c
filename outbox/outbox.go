// Package outbox implements Component B, the Outbox Queue: the single
// source of truth for pending work (spec.md section 4.B), backed by the
// sync_queue table in the same SQLite database the Durable Store owns.
//
// The CAS claim primitive (tryUpdateStatus) mirrors the teacher's
// oversync admission model, where the only admitted race is the sync
// driver attempting to claim a row; everything else is single-writer.
package outbox

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Park-Yena00/reading-tracker-web/model"
)

// ErrNotFound is returned when an outbox item id does not exist.
var ErrNotFound = errors.New("outbox: not found")

// MaxRetries caps the number of times a FAILED item is automatically
// rearmed to PENDING before it is left FAILED for good (spec.md section
// 4.F's backoff policy). The Sync Engine checks the retry count against
// config.Config.MaxRetries, whose default is this same value, when
// deciding whether to schedule another attempt.
const MaxRetries = 3

// Queue wraps the sync_queue table.
type Queue struct {
	db *sql.DB
}

// New wraps db, which must already have had its schema migrated by
// store.Store.Init.
func New(db *sql.DB) *Queue {
	return &Queue{db: db}
}

// Enqueue assigns a fresh id, stamps createdAt/updatedAt, and inserts
// item. If item.Status is empty it defaults to PENDING; callers enqueue
// WAITING items explicitly (spec.md section 4.B).
func (q *Queue) Enqueue(ctx context.Context, item model.OutboxItem) (*model.OutboxItem, error) {
	now := time.Now().UTC()
	item.ID = uuid.NewString()
	if item.Status == "" {
		item.Status = model.OutboxPending
	}
	if item.IdempotencyKey == "" {
		item.IdempotencyKey = uuid.NewString()
	}
	item.CreatedAt = now
	item.UpdatedAt = now

	if err := q.insert(ctx, q.db, &item); err != nil {
		return nil, err
	}
	return &item, nil
}

func (q *Queue) insert(ctx context.Context, exec execer, item *model.OutboxItem) error {
	_, err := exec.ExecContext(ctx, `
		INSERT INTO sync_queue (
			id, kind, entity_kind, local_ref, server_ref, payload, idempotency_key,
			status, retry_count, last_error, original_queue_id, created_at, updated_at, last_retry_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		item.ID, string(item.Kind), string(item.EntityKind), item.LocalRef, nullableInt64(item.ServerRef),
		nullableRaw(item.Payload), item.IdempotencyKey, string(item.Status), item.RetryCount, item.LastError,
		nullableString(item.OriginalQueueID), formatTime(item.CreatedAt), formatTime(item.UpdatedAt),
		nullableTime(item.LastRetryAt),
	)
	if err != nil {
		return fmt.Errorf("failed to enqueue outbox item: %w", err)
	}
	return nil
}

// execer is satisfied by both *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Get returns a single item by id.
func (q *Queue) Get(ctx context.Context, id string) (*model.OutboxItem, error) {
	row := q.db.QueryRowContext(ctx, selectColumns+` WHERE id = ?`, id)
	item, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return item, err
}

// Update persists every mutable field of item (spec.md section 4.B).
func (q *Queue) Update(ctx context.Context, item *model.OutboxItem) error {
	item.UpdatedAt = time.Now().UTC()
	res, err := q.db.ExecContext(ctx, `
		UPDATE sync_queue SET
			kind = ?, entity_kind = ?, local_ref = ?, server_ref = ?, payload = ?,
			idempotency_key = ?, status = ?, retry_count = ?, last_error = ?,
			original_queue_id = ?, updated_at = ?, last_retry_at = ?
		WHERE id = ?
	`,
		string(item.Kind), string(item.EntityKind), item.LocalRef, nullableInt64(item.ServerRef),
		nullableRaw(item.Payload), item.IdempotencyKey, string(item.Status), item.RetryCount, item.LastError,
		nullableString(item.OriginalQueueID), formatTime(item.UpdatedAt), nullableTime(item.LastRetryAt),
		item.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update outbox item %s: %w", item.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateStatus sets status unconditionally.
func (q *Queue) UpdateStatus(ctx context.Context, id string, status model.OutboxStatus) error {
	res, err := q.db.ExecContext(ctx, `
		UPDATE sync_queue SET status = ?, updated_at = ? WHERE id = ?
	`, string(status), formatTime(time.Now().UTC()), id)
	if err != nil {
		return fmt.Errorf("failed to update outbox status for %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// TryUpdateStatus is the sole claim primitive: compare-and-set, true only
// if the stored status equaled expected (spec.md section 4.B). This is
// the only admitted racing pattern -- the Sync Engine's claim of a
// PENDING item -- matching the teacher's single-claim-primitive model.
func (q *Queue) TryUpdateStatus(ctx context.Context, id string, expected, next model.OutboxStatus) (bool, error) {
	res, err := q.db.ExecContext(ctx, `
		UPDATE sync_queue SET status = ?, updated_at = ? WHERE id = ? AND status = ?
	`, string(next), formatTime(time.Now().UTC()), id, string(expected))
	if err != nil {
		return false, fmt.Errorf("failed to CAS outbox status for %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read CAS result for %s: %w", id, err)
	}
	return n == 1, nil
}

// MarkSuccess transitions item to SUCCESS.
func (q *Queue) MarkSuccess(ctx context.Context, id string) error {
	return q.UpdateStatus(ctx, id, model.OutboxSuccess)
}

// Remove deletes item by id (spec.md section 4.B: remove(id)).
func (q *Queue) Remove(ctx context.Context, id string) error {
	if _, err := q.db.ExecContext(ctx, `DELETE FROM sync_queue WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to remove outbox item %s: %w", id, err)
	}
	return nil
}

// MarkFailed increments retry_count, records cause, stamps lastRetryAt,
// and leaves the item FAILED. It never rearms the item itself -- the
// Sync Engine decides, against its own backoff schedule and MaxRetries
// cap, when (and whether) to flip it back to PENDING with its retry count
// kept (spec.md section 4.F: "absorbed via outbox backoff"). Rearm, which
// clears the retry count, is the manual re-arm.
func (q *Queue) MarkFailed(ctx context.Context, id string, cause error) error {
	item, err := q.Get(ctx, id)
	if err != nil {
		return err
	}
	item.RetryCount++
	item.LastError = cause.Error()
	item.Status = model.OutboxFailed
	now := time.Now().UTC()
	item.LastRetryAt = &now
	return q.Update(ctx, item)
}

// Rearm resets a FAILED item back to PENDING with a clean retry slate,
// so it is claimed again on the next pass.
func (q *Queue) Rearm(ctx context.Context, id string) error {
	item, err := q.Get(ctx, id)
	if err != nil {
		return err
	}
	item.Status = model.OutboxPending
	item.RetryCount = 0
	item.LastError = ""
	item.LastRetryAt = nil
	return q.Update(ctx, item)
}

// GetFailed returns every FAILED item, used by the Sync Engine's retry
// sweep to find candidates whose backoff delay has elapsed.
func (q *Queue) GetFailed(ctx context.Context) ([]*model.OutboxItem, error) {
	return q.listByStatus(ctx, model.OutboxFailed)
}

// GetPending returns every PENDING item ordered by createdAt ascending,
// the strict arrival order the Sync Engine claims work in.
func (q *Queue) GetPending(ctx context.Context) ([]*model.OutboxItem, error) {
	return q.listByStatus(ctx, model.OutboxPending)
}

// GetWaiting returns every WAITING item.
func (q *Queue) GetWaiting(ctx context.Context) ([]*model.OutboxItem, error) {
	return q.listByStatus(ctx, model.OutboxWaiting)
}

func (q *Queue) listByStatus(ctx context.Context, status model.OutboxStatus) ([]*model.OutboxItem, error) {
	rows, err := q.db.QueryContext(ctx, selectColumns+` WHERE status = ? ORDER BY created_at ASC`, string(status))
	if err != nil {
		return nil, fmt.Errorf("failed to list outbox items by status %s: %w", status, err)
	}
	defer rows.Close()
	return scanItems(rows)
}

// GetByLocalRef returns every outbox item referencing localID, across
// entity kinds, ordered by createdAt. Used to enforce invariant 2 (at
// most one PENDING/SYNCING per entity) and to cascade a new serverRef
// into queued UPDATE/DELETE items after a CREATE succeeds.
func (q *Queue) GetByLocalRef(ctx context.Context, localID string) ([]*model.OutboxItem, error) {
	rows, err := q.db.QueryContext(ctx, selectColumns+` WHERE local_ref = ? ORDER BY created_at ASC`, localID)
	if err != nil {
		return nil, fmt.Errorf("failed to list outbox items for local ref %s: %w", localID, err)
	}
	defer rows.Close()
	return scanItems(rows)
}

const selectColumns = `SELECT
	id, kind, entity_kind, local_ref, server_ref, payload, idempotency_key,
	status, retry_count, last_error, original_queue_id, created_at, updated_at, last_retry_at
	FROM sync_queue`

func scanItem(row *sql.Row) (*model.OutboxItem, error) {
	return scanItemRow(row)
}

type scannerRow interface {
	Scan(dest ...any) error
}

func scanItemRow(row scannerRow) (*model.OutboxItem, error) {
	var (
		it                                   model.OutboxItem
		serverRef                            sql.NullInt64
		payload                              sql.NullString
		originalQueueID                      sql.NullString
		createdAt, updatedAt                 string
		lastRetryAt                          sql.NullString
	)
	if err := row.Scan(
		&it.ID, &it.Kind, &it.EntityKind, &it.LocalRef, &serverRef, &payload, &it.IdempotencyKey,
		&it.Status, &it.RetryCount, &it.LastError, &originalQueueID, &createdAt, &updatedAt, &lastRetryAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan outbox item: %w", err)
	}
	if serverRef.Valid {
		v := serverRef.Int64
		it.ServerRef = &v
	}
	if payload.Valid {
		it.Payload = json.RawMessage(payload.String)
	}
	if originalQueueID.Valid {
		v := originalQueueID.String
		it.OriginalQueueID = &v
	}
	var err error
	if it.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if it.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	if lastRetryAt.Valid {
		t, perr := parseTime(lastRetryAt.String)
		if perr != nil {
			return nil, perr
		}
		it.LastRetryAt = &t
	}
	return &it, nil
}

func scanItems(rows *sql.Rows) ([]*model.OutboxItem, error) {
	var out []*model.OutboxItem
	for rows.Next() {
		it, err := scanItemRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}
