package facade

import (
	"context"
	"fmt"

	"github.com/Park-Yena00/reading-tracker-web/model"
	"github.com/Park-Yena00/reading-tracker-web/remote"
)

// reconcileShelfFromRemote mirrors reconcileMemoFromRemote: it preserves
// the existing localId for a row already known by serverId.
func (f *Facade) reconcileShelfFromRemote(ctx context.Context, p remote.ShelfPayload) error {
	existing, err := f.store.GetShelfEntryByServerID(ctx, p.UserBookID)
	if err != nil {
		return err
	}
	e := &model.ShelfEntry{
		ServerID: p.UserBookID, BookID: p.BookID, ISBN: p.ISBN, Title: p.Title, Author: p.Author,
		Publisher: p.Publisher, PubDate: p.PubDate, Description: p.Description, CoverURL: p.CoverURL,
		TotalPages: p.TotalPages, MainGenre: p.MainGenre, Category: model.ReadingCategory(p.Category),
		Expectation: p.Expectation, LastReadPage: p.LastReadPage, LastReadAt: p.LastReadAt,
		ReadingFinishedDate: p.ReadingFinishedDate, PurchaseType: p.PurchaseType, Rating: p.Rating,
		Review: p.Review, SyncStatus: model.StatusSynced,
	}
	if existing != nil {
		e.LocalID = existing.LocalID
		e.AddedAt = existing.AddedAt
	} else {
		e.LocalID = newIdempotencyKey()
	}
	return f.store.PutShelfEntry(ctx, e)
}

// ListShelf implements spec.md section 4.G's "Read list" policy for
// GET /api/v1/user/books.
func (f *Facade) ListShelf(ctx context.Context) ([]*model.ShelfEntry, error) {
	if f.isOnline() {
		list, err := f.remote.ListShelf(ctx)
		if err == nil {
			f.cacheAsync(func(ctx context.Context) error {
				for _, p := range list {
					if err := f.reconcileShelfFromRemote(ctx, p); err != nil {
						return err
					}
				}
				return nil
			})
			return shelfEntriesFromPayloads(list), nil
		}
		f.logger.Warn("shelf list server read failed, falling back to store", "error", err)
	}

	local, err := f.store.ListAllShelfEntries(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read shelf from store: %w", err)
	}
	return local, nil
}

func shelfEntriesFromPayloads(list []remote.ShelfPayload) []*model.ShelfEntry {
	out := make([]*model.ShelfEntry, 0, len(list))
	for _, p := range list {
		out = append(out, &model.ShelfEntry{
			ServerID: p.UserBookID, BookID: p.BookID, ISBN: p.ISBN, Title: p.Title, Author: p.Author,
			Publisher: p.Publisher, PubDate: p.PubDate, Description: p.Description, CoverURL: p.CoverURL,
			TotalPages: p.TotalPages, MainGenre: p.MainGenre, Category: model.ReadingCategory(p.Category),
			Expectation: p.Expectation, LastReadPage: p.LastReadPage, LastReadAt: p.LastReadAt,
			ReadingFinishedDate: p.ReadingFinishedDate, PurchaseType: p.PurchaseType, Rating: p.Rating,
			Review: p.Review, SyncStatus: model.StatusSynced,
		})
	}
	return out
}

// ShelfDetail implements spec.md section 4.G's "Read detail" policy: a
// server lookup when online falling back to the Store's cached
// bibliographic and reading-state fields when offline or on failure.
// There is no dedicated single-entry remote endpoint, so the online path
// filters the full list the same way the UI would.
func (f *Facade) ShelfDetail(ctx context.Context, localID string) (*model.ShelfEntry, error) {
	local, err := f.store.GetShelfEntryByLocalID(ctx, localID)
	if err != nil {
		return nil, fmt.Errorf("failed to read shelf entry %s from store: %w", localID, err)
	}

	if f.isOnline() && local.ServerID != nil {
		list, err := f.remote.ListShelf(ctx)
		if err == nil {
			for _, p := range list {
				if p.UserBookID != nil && *p.UserBookID == *local.ServerID {
					f.cacheAsync(func(ctx context.Context) error { return f.reconcileShelfFromRemote(ctx, p) })
					merged := shelfEntriesFromPayloads([]remote.ShelfPayload{p})[0]
					merged.LocalID = local.LocalID
					return merged, nil
				}
			}
		} else {
			f.logger.Warn("shelf detail server read failed, falling back to store", "error", err)
		}
	}
	return local, nil
}
