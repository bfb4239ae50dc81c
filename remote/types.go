// Package remote is the boundary the Sync Engine and Public Service
// Facade talk to: the HTTP API described in spec.md section 6, built
// the way the teacher's oversqlite.Client builds sendUploadRequest /
// sendDownloadRequest -- a plain net/http client, context-scoped
// requests, Bearer auth via a caller-supplied token func, and
// fmt.Errorf-wrapped failures classified by errkind.
package remote

import (
	"encoding/json"
	"time"
)

// MemoPayload is the wire shape for memo CREATE/UPDATE bodies and the
// memo object embedded in list responses.
type MemoPayload struct {
	ServerID      *int64    `json:"id,omitempty"`
	UserBookID    int64     `json:"userBookId"`
	PageNumber    int       `json:"pageNumber"`
	Content       string    `json:"content"`
	Tags          []string  `json:"tags"`
	MemoStartTime time.Time `json:"memoStartTime"`
}

// CreateMemoResponse is the body returned by POST /api/v1/memos.
type CreateMemoResponse struct {
	ID int64 `json:"id"`
}

// TodayFlowResponse is the body returned by GET /api/v1/memos/today-flow.
type TodayFlowResponse struct {
	MemosByBook    map[string][]MemoPayload `json:"memosByBook"`
	MemosByTag     map[string][]MemoPayload `json:"memosByTag"`
	TotalMemoCount int                      `json:"totalMemoCount"`
}

// ShelfPayload is the wire shape for shelf CREATE/UPDATE bodies and list entries.
type ShelfPayload struct {
	UserBookID          *int64     `json:"userBookId,omitempty"`
	BookID              int64      `json:"bookId"`
	ISBN                string     `json:"isbn"`
	Title               string     `json:"title"`
	Author              string     `json:"author"`
	Publisher           string     `json:"publisher"`
	PubDate             string     `json:"pubDate"`
	Description         string     `json:"description"`
	CoverURL            string     `json:"coverUrl"`
	TotalPages          int        `json:"totalPages"`
	MainGenre           string     `json:"mainGenre"`
	Category            string     `json:"category"`
	Expectation         string     `json:"expectation"`
	LastReadPage        int        `json:"lastReadPage"`
	LastReadAt          *time.Time `json:"lastReadAt,omitempty"`
	ReadingFinishedDate *time.Time `json:"readingFinishedDate,omitempty"`
	PurchaseType        string     `json:"purchaseType"`
	Rating              int        `json:"rating"`
	Review              string     `json:"review"`
}

// StartReadingRequest is the body for POST .../start-reading.
type StartReadingRequest struct {
	ReadingStartDate time.Time `json:"readingStartDate"`
	ReadingProgress  int       `json:"readingProgress"`
	PurchaseType     string    `json:"purchaseType,omitempty"`
}

// errorBody is the conventional JSON error envelope this module expects
// from the remote API on non-2xx responses.
type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func parseErrorBody(raw []byte) (code, message string) {
	var eb errorBody
	if err := json.Unmarshal(raw, &eb); err == nil {
		return eb.Code, eb.Message
	}
	return "", string(raw)
}
