// Package quoteclient talks to the quote API's public and admin endpoints.
package quoteclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const defaultTimeout = 15 * time.Second

// APIError is a non-2xx answer from the API.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("quote api responded with status %d: %s", e.StatusCode, e.Message)
}

type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// New builds a client for baseURL (for example http://localhost:8080). token
// is the admin bearer token and may be empty for public calls.
func New(baseURL, token string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: httpClient,
	}
}

type PendingEntry struct {
	CorrelationID string     `json:"correlationId"`
	QuoteID       string     `json:"quoteId"`
	Email         string     `json:"email"`
	ProductName   string     `json:"productName"`
	RetryCount    int        `json:"retryCount"`
	LastRetryAt   *time.Time `json:"lastRetryTimestamp"`
	EnqueuedAt    time.Time  `json:"timestamp"`
	LastError     string     `json:"lastError"`
	DeadLettered  bool       `json:"deadLettered"`
}

type PendingList struct {
	Entries    []PendingEntry `json:"entries"`
	Count      int            `json:"count"`
	MaxRetries int            `json:"maxRetries"`
}

type PassResult struct {
	Attempted    int `json:"attempted"`
	Delivered    int `json:"delivered"`
	Failed       int `json:"failed"`
	Skipped      int `json:"skipped"`
	DeadLettered int `json:"deadLettered"`
	Retryable    int `json:"retryable"`
}

type Image struct {
	PublicID  string `json:"publicId"`
	SecureURL string `json:"secureUrl"`
}

type Quote struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Email       string    `json:"email"`
	Phone       string    `json:"phone"`
	Zip         string    `json:"zip"`
	ProductID   string    `json:"productId"`
	ProductName string    `json:"productName"`
	SKU         string    `json:"sku"`
	Material    string    `json:"material"`
	Dimensions  string    `json:"dimensions"`
	Notes       string    `json:"notes"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"createdAt"`
	Images      []Image   `json:"images"`
}

func (c *Client) ListPending(ctx context.Context) (*PendingList, error) {
	var out PendingList
	if err := c.do(ctx, http.MethodGet, "/api/v1/admin/quotes/pending", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) ListDeadLetters(ctx context.Context) (*PendingList, error) {
	var out PendingList
	if err := c.do(ctx, http.MethodGet, "/api/v1/admin/quotes/dead-letters", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// RemovePending reports whether the entry was still queued.
func (c *Client) RemovePending(ctx context.Context, correlationID string) (bool, error) {
	var out struct {
		Removed bool `json:"removed"`
	}
	path := "/api/v1/admin/quotes/pending/" + url.PathEscape(correlationID)
	if err := c.do(ctx, http.MethodDelete, path, &out); err != nil {
		return false, err
	}
	return out.Removed, nil
}

func (c *Client) RunRetryPass(ctx context.Context) (*PassResult, error) {
	var out PassResult
	if err := c.do(ctx, http.MethodPost, "/api/v1/admin/quotes/retry", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) GetQuote(ctx context.Context, id, publicToken string) (*Quote, error) {
	var out Quote
	path := "/api/v1/quotes/" + url.PathEscape(id) + "?token=" + url.QueryEscape(publicToken)
	if err := c.do(ctx, http.MethodGet, path, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Error   string          `json:"error"`
	Data    json.RawMessage `json:"data"`
}

func (c *Client) do(ctx context.Context, method, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request to %s failed: %w", path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		if resp.StatusCode >= 300 {
			return &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(body))}
		}
		return fmt.Errorf("failed to decode response: %w", err)
	}

	if resp.StatusCode >= 300 || !env.Success {
		msg := env.Message
		if msg == "" {
			msg = env.Error
		}
		return &APIError{StatusCode: resp.StatusCode, Message: msg}
	}

	if out == nil || len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("failed to decode response data: %w", err)
	}
	return nil
}
