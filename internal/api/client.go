package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Client reads from a running scanrelay status server.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a client for the status server at baseURL.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// StatusError is a non-2xx answer from the status server. A 503 means the
// route's source (journal, probe) is not wired into the running watch.
type StatusError struct {
	Path    string
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("status server %s: %d %s", e.Path, e.Code, e.Message)
}

// Unavailable reports whether the route exists but has nothing to serve.
func (e *StatusError) Unavailable() bool {
	return e.Code == http.StatusServiceUnavailable
}

// Get fetches path and decodes the JSON body into result.
func (c *Client) Get(ctx context.Context, path string, result any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("build request for %s: %w", path, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("status server unreachable at %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	if resp.StatusCode >= 400 {
		msg := strings.TrimSpace(string(body))
		var errResp ErrorResponse
		if json.Unmarshal(body, &errResp) == nil && errResp.Error != "" {
			msg = errResp.Error
		}
		return &StatusError{Path: path, Code: resp.StatusCode, Message: msg}
	}
	if result == nil {
		return nil
	}
	if err := json.Unmarshal(body, result); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

// ErrorResponse is the status server's error body.
type ErrorResponse struct {
	Error string `json:"error"`
}
