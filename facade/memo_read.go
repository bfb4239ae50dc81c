package facade

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/Park-Yena00/reading-tracker-web/model"
	"github.com/Park-Yena00/reading-tracker-web/remote"
)

// TodayFlow implements spec.md section 4.G's "Read list" policy for
// GET /api/v1/memos/today-flow: server-first when online, caching the
// response into the Store asynchronously; falls back to a Store-only
// projection on failure or while offline.
func (f *Facade) TodayFlow(ctx context.Context, date, sortBy, tagCategory string) (*remote.TodayFlowResponse, error) {
	if f.isOnline() {
		resp, err := f.remote.TodayFlow(ctx, date, sortBy, tagCategory)
		if err == nil {
			f.cacheAsync(func(ctx context.Context) error { return f.cacheTodayFlow(ctx, resp) })
			return resp, nil
		}
		f.logger.Warn("today-flow server read failed, falling back to store", "error", err)
	}
	return f.todayFlowFromStore(ctx, date)
}

func (f *Facade) cacheTodayFlow(ctx context.Context, resp *remote.TodayFlowResponse) error {
	for _, byBook := range resp.MemosByBook {
		for _, p := range byBook {
			if err := f.reconcileMemoFromRemote(ctx, p); err != nil {
				return err
			}
		}
	}
	return nil
}

// reconcileMemoFromRemote writes a server-fetched memo into the Store,
// preserving the existing localId for a row already known by serverId
// rather than minting a fresh one on every cache write.
func (f *Facade) reconcileMemoFromRemote(ctx context.Context, p remote.MemoPayload) error {
	localID := uuid.NewString()
	if existing, err := f.store.GetMemoByServerID(ctx, p.ServerID); err != nil {
		return err
	} else if existing != nil {
		localID = existing.LocalID
	}
	return f.store.PutMemo(ctx, &model.Memo{
		LocalID:       localID,
		ServerID:      p.ServerID,
		UserBookID:    p.UserBookID,
		PageNumber:    p.PageNumber,
		Content:       p.Content,
		Tags:          p.Tags,
		MemoStartTime: p.MemoStartTime,
		CreatedAt:     p.MemoStartTime,
		UpdatedAt:     p.MemoStartTime,
		SyncStatus:    model.StatusSynced,
	})
}

func (f *Facade) todayFlowFromStore(ctx context.Context, date string) (*remote.TodayFlowResponse, error) {
	all, err := f.store.ListAllMemos(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read today-flow from store: %w", err)
	}
	resp := &remote.TodayFlowResponse{MemosByBook: map[string][]remote.MemoPayload{}, MemosByTag: map[string][]remote.MemoPayload{}}
	for _, m := range all {
		if date != "" && m.MemoStartTime.Format("2006-01-02") != date {
			continue
		}
		p := memoRemotePayload(m)
		p.ServerID = m.ServerID
		key := fmt.Sprintf("%d", m.UserBookID)
		resp.MemosByBook[key] = append(resp.MemosByBook[key], p)
		for _, tag := range m.Tags {
			resp.MemosByTag[tag] = append(resp.MemosByTag[tag], p)
		}
		resp.TotalMemoCount++
	}
	return resp, nil
}

// MemosByBook implements spec.md section 4.G's "Read list" policy for
// GET /api/v1/memos/books/{userBookId}.
func (f *Facade) MemosByBook(ctx context.Context, userBookID int64, date string) ([]remote.MemoPayload, error) {
	if f.isOnline() {
		list, err := f.remote.MemosByBook(ctx, userBookID, date)
		if err == nil {
			f.cacheAsync(func(ctx context.Context) error {
				for _, p := range list {
					if err := f.reconcileMemoFromRemote(ctx, p); err != nil {
						return err
					}
				}
				return nil
			})
			return list, nil
		}
		f.logger.Warn("memos-by-book server read failed, falling back to store", "error", err)
	}

	local, err := f.store.ListMemosByUserBook(ctx, userBookID)
	if err != nil {
		return nil, fmt.Errorf("failed to read memos by book from store: %w", err)
	}
	out := make([]remote.MemoPayload, 0, len(local))
	for _, m := range local {
		if date != "" && m.MemoStartTime.Format("2006-01-02") != date {
			continue
		}
		p := memoRemotePayload(m)
		p.ServerID = m.ServerID
		out = append(out, p)
	}
	return out, nil
}

// MemoDates implements spec.md section 4.G's "Read list" policy for
// GET /api/v1/memos/dates.
func (f *Facade) MemoDates(ctx context.Context, year, month int) ([]string, error) {
	if f.isOnline() {
		dates, err := f.remote.MemoDates(ctx, year, month)
		if err == nil {
			return dates, nil
		}
		f.logger.Warn("memo-dates server read failed, falling back to store", "error", err)
	}

	all, err := f.store.ListAllMemos(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read memo dates from store: %w", err)
	}
	seen := map[string]bool{}
	var out []string
	for _, m := range all {
		if int(m.MemoStartTime.Year()) != year || int(m.MemoStartTime.Month()) != month {
			continue
		}
		d := m.MemoStartTime.Format("2006-01-02")
		if !seen[d] {
			seen[d] = true
			out = append(out, d)
		}
	}
	return out, nil
}
