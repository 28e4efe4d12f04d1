// Package qualer is an HTTP client for the record system's service-order
// API: order lookup, work items, document listing and document upload.
package qualer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
)

// ErrNamingConflict means the document name is taken or its version is
// locked. The caller should pick another name.
var ErrNamingConflict = errors.New("document naming conflict")

// ErrNotFound means the requested record does not exist.
var ErrNotFound = errors.New("not found")

const lockedMessage = "document version is locked"

// APIError is a non-2xx response from the record system.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("qualer error (%d): %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("qualer error (%d)", e.StatusCode)
}

// Temporary reports whether the request may succeed if repeated.
func (e *APIError) Temporary() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

// Config configures a Client.
type Config struct {
	BaseURL    string
	APIKey     string
	Timeout    time.Duration // per request, default 60s
	MaxRetries int           // attempts for transient failures, default 3
	RetryDelay time.Duration // default 1s
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Client talks to the record-system API. Transport errors and 5xx responses
// are retried.
type Client struct {
	baseURL    string
	apiKey     string
	attempts   uint
	retryDelay time.Duration
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a new API client.
func NewClient(cfg Config) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelay == 0 {
		cfg.RetryDelay = time.Second
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		attempts:   uint(cfg.MaxRetries),
		retryDelay: cfg.RetryDelay,
		httpClient: httpClient,
		logger:     logger,
	}
}

// BaseURL returns the API root.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// ServiceOrder is a record-system service order (work order).
type ServiceOrder struct {
	ServiceOrderID  int64     `json:"ServiceOrderId"`
	WorkOrderNumber string    `json:"CustomOrderNumber"`
	PONumber        string    `json:"PoNumber"`
	SecondaryPO     string    `json:"SecondaryPo"`
	Status          string    `json:"OrderStatus,omitempty"`
	LastModified    time.Time `json:"LastModifiedOnUtc,omitempty"`
}

// WorkItem is one line of work on a service order.
type WorkItem struct {
	WorkItemID       int64    `json:"WorkItemId"`
	SerialNumber     string   `json:"SerialNumber"`
	AssetName        string   `json:"AssetName"`
	AssetDescription string   `json:"AssetDescription"`
	ServiceCharge    *float64 `json:"ServiceCharge"`
	ServiceTotal     *float64 `json:"ServiceTotal"`
}

// Document is a file attached to a service order.
type Document struct {
	FileName   string `json:"FileName"`
	ReportType string `json:"ReportType,omitempty"`
}

// OrderQuery filters ServiceOrders. Zero fields are omitted.
type OrderQuery struct {
	WorkOrderNumber string
	PONumber        string
	From            time.Time
	To              time.Time
	ModifiedAfter   time.Time
}

const timeFormat = "2006-01-02T15:04:05"

func (q OrderQuery) values() url.Values {
	v := url.Values{}
	if q.WorkOrderNumber != "" {
		v.Set("workOrderNumber", q.WorkOrderNumber)
	}
	if q.PONumber != "" {
		v.Set("poNumber", q.PONumber)
	}
	if !q.From.IsZero() {
		v.Set("from", q.From.UTC().Format(timeFormat))
	}
	if !q.To.IsZero() {
		v.Set("to", q.To.UTC().Format(timeFormat))
	}
	if !q.ModifiedAfter.IsZero() {
		v.Set("modifiedAfter", q.ModifiedAfter.UTC().Format(timeFormat))
	}
	return v
}

// FetchOrder returns one service order by id.
func (c *Client) FetchOrder(ctx context.Context, orderID int64) (*ServiceOrder, error) {
	var so ServiceOrder
	if err := c.get(ctx, fmt.Sprintf("/service/workorders/%d", orderID), nil, &so); err != nil {
		return nil, err
	}
	return &so, nil
}

// ServiceOrders lists service orders matching q.
func (c *Client) ServiceOrders(ctx context.Context, q OrderQuery) ([]ServiceOrder, error) {
	var out []ServiceOrder
	if err := c.get(ctx, "/service/workorders", q.values(), &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ServiceOrderID resolves a work-order number to its service order id.
func (c *Client) ServiceOrderID(ctx context.Context, workOrderNumber string) (int64, error) {
	orders, err := c.ServiceOrders(ctx, OrderQuery{WorkOrderNumber: workOrderNumber})
	if err != nil {
		return 0, err
	}
	if len(orders) == 0 {
		return 0, fmt.Errorf("work order %s: %w", workOrderNumber, ErrNotFound)
	}
	return orders[0].ServiceOrderID, nil
}

// FetchWorkItems lists the work items of a service order.
func (c *Client) FetchWorkItems(ctx context.Context, orderID int64) ([]WorkItem, error) {
	var out []WorkItem
	if err := c.get(ctx, fmt.Sprintf("/service/workorders/%d/workitems", orderID), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// DocumentNames lists the file names attached to a service order.
func (c *Client) DocumentNames(ctx context.Context, orderID int64) ([]string, error) {
	var docs []Document
	if err := c.get(ctx, fmt.Sprintf("/service/workorders/%d/documents", orderID), nil, &docs); err != nil {
		return nil, err
	}
	names := make([]string, 0, len(docs))
	for _, d := range docs {
		names = append(names, d.FileName)
	}
	return names, nil
}

// UploadDocument attaches data to a service order under name. A taken or
// locked name returns ErrNamingConflict.
func (c *Client) UploadDocument(ctx context.Context, orderID int64, name string, data []byte, reportType string, private bool) error {
	q := url.Values{}
	q.Set("model.reportType", reportType)
	q.Set("model.isPrivate", strconv.FormatBool(private))
	path := fmt.Sprintf("/service/workorders/%d/documents", orderID)

	return c.do(ctx, "upload", func() (*http.Request, error) {
		var body bytes.Buffer
		mw := multipart.NewWriter(&body)
		fw, err := mw.CreateFormFile("file", name)
		if err != nil {
			return nil, err
		}
		if _, err := fw.Write(data); err != nil {
			return nil, err
		}
		if err := mw.Close(); err != nil {
			return nil, err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path+"?"+q.Encode(), &body)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", mw.FormDataContentType())
		return req, nil
	}, nil)
}

// Ping checks that the API answers with a valid key.
func (c *Client) Ping(ctx context.Context) error {
	q := url.Values{}
	q.Set("modifiedAfter", time.Now().UTC().Format(timeFormat))
	var out []ServiceOrder
	return c.get(ctx, "/service/workorders", q, &out)
}

func (c *Client) get(ctx context.Context, path string, q url.Values, result any) error {
	u := c.baseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	return c.do(ctx, path, func() (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	}, result)
}

// do sends the request built by newReq, retrying transport errors and
// temporary API errors.
func (c *Client) do(ctx context.Context, op string, newReq func() (*http.Request, error), result any) error {
	return retry.Do(
		func() error {
			req, err := newReq()
			if err != nil {
				return retry.Unrecoverable(fmt.Errorf("failed to create request: %w", err))
			}
			req.Header.Set("Authorization", "Api-Token "+c.apiKey)
			req.Header.Set("Accept", "application/json")

			resp, err := c.httpClient.Do(req)
			if err != nil {
				return fmt.Errorf("request failed: %w", err)
			}
			defer resp.Body.Close()
			return handleResponse(resp, result)
		},
		retry.Context(ctx),
		retry.Attempts(c.attempts),
		retry.Delay(c.retryDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(retryable),
		retry.OnRetry(func(n uint, err error) {
			c.logger.Debug("retrying qualer request", "op", op, "attempt", n+1, "error", err)
		}),
	)
}

func retryable(err error) bool {
	if !retry.IsRecoverable(err) {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Temporary()
	}
	return !errors.Is(err, ErrNamingConflict)
}

func handleResponse(resp *http.Response, result any) error {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		apiErr := &APIError{StatusCode: resp.StatusCode, Message: errorMessage(body)}
		if resp.StatusCode == http.StatusConflict ||
			(resp.StatusCode == http.StatusBadRequest && strings.Contains(strings.ToLower(apiErr.Message), lockedMessage)) {
			return fmt.Errorf("%w: %w", ErrNamingConflict, apiErr)
		}
		if resp.StatusCode == http.StatusNotFound {
			return fmt.Errorf("%w: %w", ErrNotFound, apiErr)
		}
		return apiErr
	}

	if result != nil && len(bytes.TrimSpace(body)) > 0 {
		if err := json.Unmarshal(body, result); err != nil {
			return retry.Unrecoverable(fmt.Errorf("failed to decode response: %w", err))
		}
	}
	return nil
}

func errorMessage(body []byte) string {
	var errResp struct {
		Message string `json:"Message"`
		Error   string `json:"error"`
	}
	if json.Unmarshal(body, &errResp) == nil {
		if errResp.Message != "" {
			return errResp.Message
		}
		if errResp.Error != "" {
			return errResp.Error
		}
	}
	msg := strings.TrimSpace(string(body))
	if len(msg) > 300 {
		msg = msg[:300]
	}
	return msg
}

// ExpectedPrice is the service charge, falling back to the service total.
func (w WorkItem) ExpectedPrice() (float64, bool) {
	if w.ServiceCharge != nil {
		return *w.ServiceCharge, true
	}
	if w.ServiceTotal != nil {
		return *w.ServiceTotal, true
	}
	return 0, false
}

// Asset returns the asset name, falling back to its description.
func (w WorkItem) Asset() string {
	if w.AssetName != "" {
		return w.AssetName
	}
	return w.AssetDescription
}
