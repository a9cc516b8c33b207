package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"clinic-sync-service/internal/config"
	"clinic-sync-service/internal/logger"
)

// Client talks to the cloud data service: a table-oriented REST API with
// equality/range filters, ordering and limits (PostgREST dialect).
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

func NewClient(cfg config.RemoteConfig) *Client {
	return &Client{
		baseURL: strings.TrimSuffix(cfg.URL, "/"),
		apiKey:  cfg.APIKey,
		http:    &http.Client{Timeout: cfg.GetTimeout()},
	}
}

// APIError is a non-2xx response from the remote service.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("remote returned %d: %s", e.StatusCode, e.Message)
}

// FetchByID returns a single record, or nil when the record does not exist.
func (c *Client) FetchByID(ctx context.Context, table, id string) (map[string]interface{}, error) {
	params := url.Values{}
	params.Set("id", "eq."+id)
	params.Set("limit", "1")

	rows, err := c.fetch(ctx, table, params)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0], nil
}

// FetchUpdatedSince returns records with updated_at strictly greater than
// since, ascending, capped at limit. An empty since means a full pull.
func (c *Client) FetchUpdatedSince(ctx context.Context, table, since string, limit int) ([]map[string]interface{}, error) {
	params := url.Values{}
	params.Set("order", "updated_at.asc")
	params.Set("limit", strconv.Itoa(limit))
	if since != "" {
		params.Set("updated_at", "gt."+since)
	}

	return c.fetch(ctx, table, params)
}

func (c *Client) Insert(ctx context.Context, table string, record map[string]interface{}) error {
	body, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to encode insert body: %w", err)
	}

	_, err = c.do(ctx, http.MethodPost, table, nil, body)
	return err
}

func (c *Client) Update(ctx context.Context, table, id string, data map[string]interface{}) error {
	body, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to encode update body: %w", err)
	}

	params := url.Values{}
	params.Set("id", "eq."+id)

	_, err = c.do(ctx, http.MethodPatch, table, params, body)
	return err
}

// CountExact performs a head-only exact count, optionally filtered.
func (c *Client) CountExact(ctx context.Context, table string, filters map[string]string) (int, error) {
	params := url.Values{}
	for col, val := range filters {
		params.Set(col, "eq."+val)
	}

	req, err := c.newRequest(ctx, http.MethodHead, table, params, nil)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Prefer", "count=exact")

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return 0, &APIError{StatusCode: resp.StatusCode}
	}

	// Content-Range: 0-24/3573
	parts := strings.Split(resp.Header.Get("Content-Range"), "/")
	if len(parts) != 2 {
		return 0, fmt.Errorf("missing count in Content-Range header")
	}
	return strconv.Atoi(parts[1])
}

func (c *Client) fetch(ctx context.Context, table string, params url.Values) ([]map[string]interface{}, error) {
	body, err := c.do(ctx, http.MethodGet, table, params, nil)
	if err != nil {
		return nil, err
	}

	var rows []map[string]interface{}
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("failed to decode response from %s: %w", table, err)
	}
	return rows, nil
}

func (c *Client) do(ctx context.Context, method, table string, params url.Values, body []byte) ([]byte, error) {
	req, err := c.newRequest(ctx, method, table, params, body)
	if err != nil {
		return nil, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("remote request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read remote response: %w", err)
	}

	if resp.StatusCode >= 300 {
		logger.Log.Warn("Remote request rejected",
			zap.String("method", method),
			zap.String("table", table),
			zap.Int("status", resp.StatusCode),
		)
		return nil, &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(data))}
	}

	return data, nil
}

func (c *Client) newRequest(ctx context.Context, method, table string, params url.Values, body []byte) (*http.Request, error) {
	endpoint := c.baseURL + "/" + table
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, err
	}

	req.Header.Set("apikey", c.apiKey)
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("X-Request-ID", uuid.New().String())
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return req, nil
}
