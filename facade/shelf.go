package facade

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Park-Yena00/reading-tracker-web/model"
	"github.com/Park-Yena00/reading-tracker-web/remote"
)

// ShelfInput is the UI-facing shape for adding a book to the shelf.
type ShelfInput struct {
	BookID      int64
	ISBN        string
	Title       string
	Author      string
	Publisher   string
	PubDate     string
	Description string
	CoverURL    string
	TotalPages  int
	MainGenre   string
	Category    model.ReadingCategory
	Expectation string
}

// ShelfPatch is the UI-facing shape for updating a shelf entry's mutable
// reading state (spec.md section 3: everything under "mutable reading
// state").
type ShelfPatch struct {
	Category            model.ReadingCategory
	Expectation         string
	LastReadPage        int
	LastReadAt          *time.Time
	ReadingFinishedDate *time.Time
	PurchaseType        string
	Rating              int
	Review              string
}

func newShelfEntry(in ShelfInput) *model.ShelfEntry {
	return &model.ShelfEntry{
		LocalID:     uuid.NewString(),
		BookID:      in.BookID,
		ISBN:        in.ISBN,
		Title:       in.Title,
		Author:      in.Author,
		Publisher:   in.Publisher,
		PubDate:     in.PubDate,
		Description: in.Description,
		CoverURL:    in.CoverURL,
		TotalPages:  in.TotalPages,
		MainGenre:   in.MainGenre,
		Category:    in.Category,
		Expectation: in.Expectation,
		AddedAt:     time.Now().UTC(),
	}
}

func applyShelfPatch(e *model.ShelfEntry, patch ShelfPatch) {
	e.Category = patch.Category
	e.Expectation = patch.Expectation
	e.LastReadPage = patch.LastReadPage
	e.LastReadAt = patch.LastReadAt
	e.ReadingFinishedDate = patch.ReadingFinishedDate
	e.PurchaseType = patch.PurchaseType
	e.Rating = patch.Rating
	e.Review = patch.Review
}

// shelfPartialPayload builds the partial PUT body the remote UPDATE
// endpoint expects -- only the mutable reading-state fields, never the
// immutable bibliographic payload (spec.md section 3).
func shelfPartialPayload(e *model.ShelfEntry) map[string]any {
	return map[string]any{
		"category":            string(e.Category),
		"expectation":         e.Expectation,
		"lastReadPage":        e.LastReadPage,
		"lastReadAt":          e.LastReadAt,
		"readingFinishedDate": e.ReadingFinishedDate,
		"purchaseType":        e.PurchaseType,
		"rating":              e.Rating,
		"review":              e.Review,
	}
}

// CreateShelfEntry implements spec.md section 4.G's write policy for
// adding a book to the shelf.
func (f *Facade) CreateShelfEntry(ctx context.Context, in ShelfInput) (*model.ShelfEntry, error) {
	e := newShelfEntry(in)

	if !f.isOnline() {
		return f.storeFirstCreateShelf(ctx, e)
	}
	if f.isSyncing() {
		res, err := f.gate.Defer(ctx, func(ctx context.Context) (any, error) {
			return f.serverFirstCreateShelf(ctx, e)
		})
		if err != nil {
			return nil, err
		}
		return res.(*model.ShelfEntry), nil
	}
	return f.serverFirstCreateShelf(ctx, e)
}

func (f *Facade) serverFirstCreateShelf(ctx context.Context, e *model.ShelfEntry) (*model.ShelfEntry, error) {
	payload := remote.ShelfPayload{
		BookID: e.BookID, ISBN: e.ISBN, Title: e.Title, Author: e.Author, Publisher: e.Publisher,
		PubDate: e.PubDate, Description: e.Description, CoverURL: e.CoverURL, TotalPages: e.TotalPages,
		MainGenre: e.MainGenre, Category: string(e.Category), Expectation: e.Expectation,
	}
	resp, err := f.remote.CreateShelfEntry(ctx, payload, newIdempotencyKey())
	if err != nil {
		if networkClassFailure(err) {
			f.logger.Warn("server-first shelf create fell back to offline path", "localId", e.LocalID, "error", err)
			return f.storeFirstCreateShelf(ctx, e)
		}
		return nil, err
	}
	if resp.UserBookID != nil {
		e.ServerID = resp.UserBookID
	}
	e.SyncStatus = model.StatusSynced
	if err := f.store.PutShelfEntry(ctx, e); err != nil {
		return nil, fmt.Errorf("failed to reconcile store after server-first shelf create: %w", err)
	}
	return e, nil
}

func (f *Facade) storeFirstCreateShelf(ctx context.Context, e *model.ShelfEntry) (*model.ShelfEntry, error) {
	if _, err := f.engine.EnqueueCreateShelf(ctx, e); err != nil {
		return nil, err
	}
	f.triggerSyncIfIdle()
	return e, nil
}

// UpdateShelfEntry implements spec.md section 4.G's write policy and
// scenario S6's CREATE-before-UPDATE ordering for shelf entries.
func (f *Facade) UpdateShelfEntry(ctx context.Context, localID string, patch ShelfPatch) (*model.ShelfEntry, error) {
	e, err := f.store.GetShelfEntryByLocalID(ctx, localID)
	if err != nil {
		return nil, fmt.Errorf("failed to load shelf entry %s for update: %w", localID, err)
	}
	applyShelfPatch(e, patch)

	if e.ServerID == nil || !f.isOnline() {
		return f.storeFirstUpdateShelf(ctx, e)
	}
	if f.isSyncing() {
		res, err := f.gate.Defer(ctx, func(ctx context.Context) (any, error) {
			return f.serverFirstUpdateShelf(ctx, e)
		})
		if err != nil {
			return nil, err
		}
		return res.(*model.ShelfEntry), nil
	}
	return f.serverFirstUpdateShelf(ctx, e)
}

func (f *Facade) serverFirstUpdateShelf(ctx context.Context, e *model.ShelfEntry) (*model.ShelfEntry, error) {
	if err := f.remote.UpdateShelfEntry(ctx, *e.ServerID, shelfPartialPayload(e)); err != nil {
		if networkClassFailure(err) {
			f.logger.Warn("server-first shelf update fell back to offline path", "localId", e.LocalID, "error", err)
			return f.storeFirstUpdateShelf(ctx, e)
		}
		return nil, err
	}
	e.SyncStatus = model.StatusSynced
	if err := f.store.PutShelfEntry(ctx, e); err != nil {
		return nil, fmt.Errorf("failed to reconcile store after server-first shelf update: %w", err)
	}
	return e, nil
}

func (f *Facade) storeFirstUpdateShelf(ctx context.Context, e *model.ShelfEntry) (*model.ShelfEntry, error) {
	if _, err := f.engine.EnqueueUpdateShelf(ctx, e); err != nil {
		return nil, err
	}
	f.triggerSyncIfIdle()
	return e, nil
}

// DeleteShelfEntry implements spec.md section 4.G's write policy for
// removing a book from the shelf.
func (f *Facade) DeleteShelfEntry(ctx context.Context, localID string) error {
	e, err := f.store.GetShelfEntryByLocalID(ctx, localID)
	if err != nil {
		return fmt.Errorf("failed to load shelf entry %s for delete: %w", localID, err)
	}

	if e.ServerID == nil || !f.isOnline() {
		_, err := f.engine.EnqueueDeleteShelf(ctx, localID)
		f.triggerSyncIfIdle()
		return err
	}
	if f.isSyncing() {
		_, err := f.gate.Defer(ctx, func(ctx context.Context) (any, error) {
			return nil, f.serverFirstDeleteShelf(ctx, e)
		})
		return err
	}
	return f.serverFirstDeleteShelf(ctx, e)
}

func (f *Facade) serverFirstDeleteShelf(ctx context.Context, e *model.ShelfEntry) error {
	if err := f.remote.DeleteShelfEntry(ctx, *e.ServerID); err != nil {
		if networkClassFailure(err) {
			f.logger.Warn("server-first shelf delete fell back to offline path", "localId", e.LocalID, "error", err)
			_, err := f.engine.EnqueueDeleteShelf(ctx, e.LocalID)
			f.triggerSyncIfIdle()
			return err
		}
		if !isNotFound(err) {
			return err
		}
	}
	return f.store.DeleteShelfEntry(ctx, e.LocalID)
}

// StartReading calls the dedicated start-reading endpoint (spec.md
// section 6) when online; offline, it falls back to the generic UPDATE
// path with the equivalent reading-state fields, since there is no
// queueable outbox shape for this dedicated endpoint.
func (f *Facade) StartReading(ctx context.Context, localID string, readingStartDate time.Time, progress int) (*model.ShelfEntry, error) {
	e, err := f.store.GetShelfEntryByLocalID(ctx, localID)
	if err != nil {
		return nil, fmt.Errorf("failed to load shelf entry %s for start-reading: %w", localID, err)
	}
	fallback := ShelfPatch{
		Category: model.CategoryReading, Expectation: e.Expectation, LastReadPage: progress,
		LastReadAt: &readingStartDate, ReadingFinishedDate: e.ReadingFinishedDate,
		PurchaseType: e.PurchaseType, Rating: e.Rating, Review: e.Review,
	}
	if e.ServerID == nil || !f.isOnline() {
		return f.UpdateShelfEntry(ctx, localID, fallback)
	}
	if err := f.engine.StartReadingNow(ctx, e, readingStartDate, progress); err != nil {
		if networkClassFailure(err) {
			return f.UpdateShelfEntry(ctx, localID, fallback)
		}
		return nil, err
	}
	return e, nil
}
