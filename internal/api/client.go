package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/prudhvinik1/offlinesync/internal/models"
	"github.com/prudhvinik1/offlinesync/internal/services"
)

// Client talks to a running server. syncctl is built on it.
type Client struct {
	baseURL  string
	adminKey string
	http     *http.Client
}

func NewClient(baseURL, adminKey string, timeout time.Duration) *Client {
	return &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		adminKey: adminKey,
		http:     &http.Client{Timeout: timeout},
	}
}

// StatusError is a non-2xx answer from the server.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("server answered %d: %s", e.StatusCode, e.Message)
}

func (c *Client) Status(ctx context.Context) (models.SyncStatus, error) {
	var out models.SyncStatus
	err := c.do(ctx, http.MethodGet, "/status", nil, &out)
	return out, err
}

func (c *Client) Pending(ctx context.Context) ([]*models.SyncOperation, error) {
	var out OperationsResponse
	err := c.do(ctx, http.MethodGet, "/operations/pending", nil, &out)
	return out.Operations, err
}

func (c *Client) Failed(ctx context.Context) ([]*models.SyncOperation, error) {
	var out OperationsResponse
	err := c.do(ctx, http.MethodGet, "/operations/failed", nil, &out)
	return out.Operations, err
}

func (c *Client) Enqueue(ctx context.Context, req EnqueueRequest) (string, error) {
	var out EnqueueResponse
	err := c.do(ctx, http.MethodPost, "/operations", req, &out)
	return out.ID, err
}

func (c *Client) Sync(ctx context.Context) (services.SyncResult, error) {
	var out services.SyncResult
	err := c.do(ctx, http.MethodPost, "/sync", nil, &out)
	return out, err
}

func (c *Client) RetryFailed(ctx context.Context) ([]string, error) {
	var out RetryResponse
	err := c.do(ctx, http.MethodPost, "/operations/failed/retry", nil, &out)
	return out.IDs, err
}

func (c *Client) DiscardFailed(ctx context.Context) (int, error) {
	var out DiscardResponse
	err := c.do(ctx, http.MethodDelete, "/operations/failed", nil, &out)
	return out.Discarded, err
}

func (c *Client) Remove(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/operations/"+url.PathEscape(id), nil, nil)
}

func (c *Client) Clear(ctx context.Context) error {
	return c.do(ctx, http.MethodDelete, "/operations", nil, nil)
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.adminKey != "" {
		req.Header.Set(AdminKeyHeader, c.adminKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to reach server: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var e errorResponse
		if err := json.NewDecoder(resp.Body).Decode(&e); err != nil || e.Error == "" {
			e.Error = http.StatusText(resp.StatusCode)
		}
		return &StatusError{StatusCode: resp.StatusCode, Message: e.Error}
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
