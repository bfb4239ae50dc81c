package model

import "time"

// ReadingCategory is the user's current relationship to a book on their shelf.
type ReadingCategory string

const (
	CategoryToRead         ReadingCategory = "ToRead"
	CategoryReading        ReadingCategory = "Reading"
	CategoryAlmostFinished ReadingCategory = "AlmostFinished"
	CategoryFinished       ReadingCategory = "Finished"
)

// ShelfEntry is a user's relationship to a book: the immutable bibliographic
// payload plus the mutable reading state.
type ShelfEntry struct {
	LocalID  string `json:"localId"`
	ServerID *int64 `json:"serverId,omitempty"` // server calls this userBookId
	BookID   int64  `json:"bookId"`
	ISBN     string `json:"isbn"`

	// Immutable bibliographic payload.
	Title       string `json:"title"`
	Author      string `json:"author"`
	Publisher   string `json:"publisher"`
	PubDate     string `json:"pubDate"`
	Description string `json:"description"`
	CoverURL    string `json:"coverUrl"`
	TotalPages  int    `json:"totalPages"`
	MainGenre   string `json:"mainGenre"`

	// Mutable reading state.
	Category            ReadingCategory `json:"category"`
	Expectation         string          `json:"expectation"`
	LastReadPage        int             `json:"lastReadPage"`
	LastReadAt          *time.Time      `json:"lastReadAt,omitempty"`
	ReadingFinishedDate *time.Time      `json:"readingFinishedDate,omitempty"`
	PurchaseType        string          `json:"purchaseType"`
	Rating              int             `json:"rating"`
	Review              string          `json:"review"`

	SyncStatus  SyncStatus `json:"syncStatus"`
	SyncQueueID *string    `json:"syncQueueId,omitempty"`
	AddedAt     time.Time  `json:"addedAt"`
}

// Clone returns a deep copy so callers can mutate a returned ShelfEntry
// without aliasing the copy held by the Durable Store.
func (s *ShelfEntry) Clone() *ShelfEntry {
	if s == nil {
		return nil
	}
	out := *s
	if s.ServerID != nil {
		id := *s.ServerID
		out.ServerID = &id
	}
	if s.SyncQueueID != nil {
		q := *s.SyncQueueID
		out.SyncQueueID = &q
	}
	if s.LastReadAt != nil {
		t := *s.LastReadAt
		out.LastReadAt = &t
	}
	if s.ReadingFinishedDate != nil {
		t := *s.ReadingFinishedDate
		out.ReadingFinishedDate = &t
	}
	return &out
}
