package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/Park-Yena00/reading-tracker-web/errkind"
)

// Client is the HTTP boundary described in spec.md section 6.
type Client struct {
	BaseURL string
	Token   func(ctx context.Context) (string, error)
	HTTP    *http.Client
}

// New builds a Client with a sane default timeout, mirroring the
// teacher's oversqlite.Client default of a generous HTTP timeout.
func New(baseURL string, token func(ctx context.Context) (string, error), timeout time.Duration) *Client {
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		BaseURL: baseURL,
		Token:   token,
		HTTP:    &http.Client{Timeout: timeout},
	}
}

func (c *Client) authHeader(ctx context.Context, req *http.Request) error {
	if c.Token == nil {
		return nil
	}
	tok, err := c.Token(ctx)
	if err != nil {
		return fmt.Errorf("failed to obtain auth token: %w", err)
	}
	if tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	return nil
}

// do sends req, classifies transport/HTTP failures per spec.md section 7,
// and decodes a 2xx JSON body into out (skipped when out is nil).
func (c *Client) do(ctx context.Context, req *http.Request, out any) error {
	if err := c.authHeader(ctx, req); err != nil {
		return err
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return errkind.New(errkind.ClassifyTransportError(err), 0, fmt.Errorf("failed to send request: %w", err))
	}
	defer resp.Body.Close()

	body, readErr := io.ReadAll(resp.Body)
	if readErr != nil {
		return errkind.New(errkind.NetworkTransient, resp.StatusCode, fmt.Errorf("failed to read response body: %w", readErr))
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, message := parseErrorBody(body)
		kind := errkind.ClassifyHTTPStatus(resp.StatusCode, message)
		return errkind.New(kind, resp.StatusCode, fmt.Errorf("remote returned status %d: %s", resp.StatusCode, message))
	}

	if out == nil || len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return errkind.New(errkind.Validation, resp.StatusCode, fmt.Errorf("failed to decode response body: %w", err))
	}
	return nil
}

func (c *Client) newJSONRequest(ctx context.Context, method, path string, body any) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

// CreateMemo issues POST /api/v1/memos with the Idempotency-Key header
// spec.md section 6 requires on CREATE.
func (c *Client) CreateMemo(ctx context.Context, payload MemoPayload, idempotencyKey string) (*CreateMemoResponse, error) {
	req, err := c.newJSONRequest(ctx, http.MethodPost, "/api/v1/memos", payload)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Idempotency-Key", idempotencyKey)
	var out CreateMemoResponse
	if err := c.do(ctx, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// UpdateMemo issues PUT /api/v1/memos/{id}.
func (c *Client) UpdateMemo(ctx context.Context, serverID int64, payload MemoPayload) (*MemoPayload, error) {
	req, err := c.newJSONRequest(ctx, http.MethodPut, fmt.Sprintf("/api/v1/memos/%d", serverID), payload)
	if err != nil {
		return nil, err
	}
	var out MemoPayload
	if err := c.do(ctx, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DeleteMemo issues DELETE /api/v1/memos/{id}. not-found is treated as
// success by the caller (spec.md section 7), not by this client.
func (c *Client) DeleteMemo(ctx context.Context, serverID int64) error {
	req, err := c.newJSONRequest(ctx, http.MethodDelete, fmt.Sprintf("/api/v1/memos/%d", serverID), nil)
	if err != nil {
		return err
	}
	return c.do(ctx, req, nil)
}

// TodayFlow issues GET /api/v1/memos/today-flow.
func (c *Client) TodayFlow(ctx context.Context, date, sortBy, tagCategory string) (*TodayFlowResponse, error) {
	path := fmt.Sprintf("/api/v1/memos/today-flow?date=%s&sortBy=%s&tagCategory=%s", date, sortBy, tagCategory)
	req, err := c.newJSONRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	var out TodayFlowResponse
	if err := c.do(ctx, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// MemosByBook issues GET /api/v1/memos/books/{userBookId}.
func (c *Client) MemosByBook(ctx context.Context, userBookID int64, date string) ([]MemoPayload, error) {
	path := fmt.Sprintf("/api/v1/memos/books/%d", userBookID)
	if date != "" {
		path += "?date=" + date
	}
	req, err := c.newJSONRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	var out []MemoPayload
	if err := c.do(ctx, req, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// MemoDates issues GET /api/v1/memos/dates.
func (c *Client) MemoDates(ctx context.Context, year, month int) ([]string, error) {
	path := fmt.Sprintf("/api/v1/memos/dates?year=%d&month=%d", year, month)
	req, err := c.newJSONRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	var out []string
	if err := c.do(ctx, req, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ListShelf issues GET /api/v1/user/books.
func (c *Client) ListShelf(ctx context.Context) ([]ShelfPayload, error) {
	req, err := c.newJSONRequest(ctx, http.MethodGet, "/api/v1/user/books", nil)
	if err != nil {
		return nil, err
	}
	var out []ShelfPayload
	if err := c.do(ctx, req, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// CreateShelfEntry issues POST /api/v1/user/books with the
// Idempotency-Key header spec.md section 6 requires on CREATE.
func (c *Client) CreateShelfEntry(ctx context.Context, payload ShelfPayload, idempotencyKey string) (*ShelfPayload, error) {
	req, err := c.newJSONRequest(ctx, http.MethodPost, "/api/v1/user/books", payload)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Idempotency-Key", idempotencyKey)
	var out ShelfPayload
	if err := c.do(ctx, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// UpdateShelfEntry issues PUT /api/v1/user/books/{userBookId} with a
// partial payload.
func (c *Client) UpdateShelfEntry(ctx context.Context, userBookID int64, payload map[string]any) error {
	req, err := c.newJSONRequest(ctx, http.MethodPut, fmt.Sprintf("/api/v1/user/books/%d", userBookID), payload)
	if err != nil {
		return err
	}
	return c.do(ctx, req, nil)
}

// DeleteShelfEntry issues DELETE /api/v1/user/books/{userBookId}.
func (c *Client) DeleteShelfEntry(ctx context.Context, userBookID int64) error {
	req, err := c.newJSONRequest(ctx, http.MethodDelete, fmt.Sprintf("/api/v1/user/books/%d", userBookID), nil)
	if err != nil {
		return err
	}
	return c.do(ctx, req, nil)
}

// StartReading issues POST /api/v1/user/books/{userBookId}/start-reading.
func (c *Client) StartReading(ctx context.Context, userBookID int64, body StartReadingRequest) error {
	req, err := c.newJSONRequest(ctx, http.MethodPost, fmt.Sprintf("/api/v1/user/books/%d/start-reading", userBookID), body)
	if err != nil {
		return err
	}
	return c.do(ctx, req, nil)
}

// HealthLocal issues HEAD /api/v1/health.
func (c *Client) HealthLocal(ctx context.Context) error {
	req, err := c.newJSONRequest(ctx, http.MethodHead, "/api/v1/health", nil)
	if err != nil {
		return err
	}
	return c.do(ctx, req, nil)
}

// HealthExternal issues GET /api/v1/health/aladin.
func (c *Client) HealthExternal(ctx context.Context) error {
	req, err := c.newJSONRequest(ctx, http.MethodGet, "/api/v1/health/aladin", nil)
	if err != nil {
		return err
	}
	return c.do(ctx, req, nil)
}
