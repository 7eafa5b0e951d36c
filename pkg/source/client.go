// pkg/source/client.go
package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/David-Botos/story-ingress/pkg/config"
	"github.com/David-Botos/story-ingress/pkg/model"
)

// maxErrorBody caps how much of an error response is kept for messages
const maxErrorBody = 2048

// Page is one page of a view or filtered listing
type Page struct {
	Records    []model.SourceRecord
	NextCursor string
}

// Lister is the read surface of the source API used by the merger
type Lister interface {
	ListView(ctx context.Context, table, view, cursor string) (Page, error)
	ListFiltered(ctx context.Context, table, formula, cursor string) (Page, error)
	ListViews(ctx context.Context, table string) ([]model.ViewDescriptor, error)
	GetRecord(ctx context.Context, table, recordID string) (model.SourceRecord, error)
}

// ClientOptions configures a Client
type ClientOptions struct {
	BaseURL       string
	Token         string
	RateLimit     time.Duration // Minimum delay between calls; 0 disables
	Timeout       time.Duration // Per-attempt timeout
	RetryAttempts int
	RetryDelay    time.Duration // Initial backoff interval
	PageSize      int
	HTTPClient    *http.Client
	Logger        *zap.Logger
}

// Client is a rate-limited, retrying wrapper over the source record API
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	limiter    *rate.Limiter
	timeout    time.Duration
	maxRetries int
	retryDelay time.Duration
	pageSize   int
	logger     *zap.Logger
}

// NewClient creates a source API client
func NewClient(opts ClientOptions) (*Client, error) {
	if opts.BaseURL == "" {
		return nil, errors.New("source base URL is required")
	}
	if opts.Token == "" {
		return nil, errors.New("source API token is required")
	}

	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}

	limit := rate.Inf
	if opts.RateLimit > 0 {
		limit = rate.Every(opts.RateLimit)
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	retryDelay := opts.RetryDelay
	if retryDelay <= 0 {
		retryDelay = time.Second
	}

	return &Client{
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		token:      opts.Token,
		httpClient: httpClient,
		limiter:    rate.NewLimiter(limit, 1),
		timeout:    timeout,
		maxRetries: opts.RetryAttempts,
		retryDelay: retryDelay,
		pageSize:   opts.PageSize,
		logger:     logger.Named("source-client"),
	}, nil
}

// NewClientFromConfig creates a client from application configuration
func NewClientFromConfig(cfg *config.Config, logger *zap.Logger) (*Client, error) {
	return NewClient(ClientOptions{
		BaseURL:       cfg.Source.BaseURL,
		Token:         cfg.Source.Token,
		RateLimit:     cfg.Source.RateLimit,
		Timeout:       cfg.Source.Timeout,
		RetryAttempts: cfg.RetryAttempts,
		RetryDelay:    cfg.RetryDelay,
		PageSize:      cfg.Source.PageSize,
		Logger:        logger,
	})
}

type listResponse struct {
	Records    []model.SourceRecord `json:"records"`
	NextCursor string               `json:"nextCursor"`
}

type metaResponse struct {
	Views []model.ViewDescriptor `json:"views"`
}

// ListView fetches one page of a view. An empty cursor requests the first page.
func (c *Client) ListView(ctx context.Context, table, view, cursor string) (Page, error) {
	params := url.Values{}
	if view != "" {
		params.Set("view", view)
	}
	return c.list(ctx, table, params, cursor)
}

// ListFiltered fetches one page of records matching a filter formula
func (c *Client) ListFiltered(ctx context.Context, table, formula, cursor string) (Page, error) {
	params := url.Values{}
	params.Set("filter", formula)
	return c.list(ctx, table, params, cursor)
}

// ListViews returns the views a table exposes
func (c *Client) ListViews(ctx context.Context, table string) ([]model.ViewDescriptor, error) {
	var meta metaResponse
	if err := c.getJSON(ctx, "/tables/"+url.PathEscape(table)+"/meta", nil, &meta); err != nil {
		return nil, fmt.Errorf("failed to list views of %s: %w", table, err)
	}
	return meta.Views, nil
}

// GetRecord reads a single record by ID
func (c *Client) GetRecord(ctx context.Context, table, recordID string) (model.SourceRecord, error) {
	var record model.SourceRecord
	path := "/tables/" + url.PathEscape(table) + "/" + url.PathEscape(recordID)
	if err := c.getJSON(ctx, path, nil, &record); err != nil {
		return model.SourceRecord{}, fmt.Errorf("failed to read record %s/%s: %w", table, recordID, err)
	}
	record.TableName = table
	return record, nil
}

func (c *Client) list(ctx context.Context, table string, params url.Values, cursor string) (Page, error) {
	if cursor != "" {
		params.Set("cursor", cursor)
	}
	if c.pageSize > 0 {
		params.Set("pageSize", strconv.Itoa(c.pageSize))
	}

	var resp listResponse
	if err := c.getJSON(ctx, "/tables/"+url.PathEscape(table), params, &resp); err != nil {
		return Page{}, fmt.Errorf("failed to list %s: %w", table, err)
	}

	for i := range resp.Records {
		resp.Records[i].TableName = table
	}

	return Page{Records: resp.Records, NextCursor: resp.NextCursor}, nil
}

// getJSON performs a rate-limited GET with bounded exponential-backoff retry
// and decodes the body into out
func (c *Client) getJSON(ctx context.Context, path string, params url.Values, out interface{}) error {
	target := c.baseURL + path
	if len(params) > 0 {
		target += "?" + params.Encode()
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = c.retryDelay
	policy.MaxElapsedTime = 0
	retryPolicy := backoff.WithContext(backoff.WithMaxRetries(policy, uint64(c.maxRetries)), ctx)

	attempt := 0
	operation := func() error {
		attempt++
		err := c.doGet(ctx, target, path, out)
		if err == nil {
			return nil
		}

		// Parent cancellation is never retried
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		if !errors.Is(err, ErrTransient) {
			return backoff.Permanent(err)
		}

		c.logger.Debug("Source call failed, will retry",
			zap.String("path", path),
			zap.Int("attempt", attempt),
			zap.Error(err))
		return err
	}

	return backoff.Retry(operation, retryPolicy)
}

func (c *Client) doGet(ctx context.Context, target, path string, out interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter wait failed: %w", err)
	}

	attemptCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodGet, target, nil)
	if err != nil {
		return fmt.Errorf("%w: failed to build request: %v", ErrFatal, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTransient, err)
	}
	defer resp.Body.Close()

	c.logger.Debug("Source call completed",
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("duration", time.Since(start)))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		apiErr := &APIError{
			Method:     http.MethodGet,
			Path:       path,
			StatusCode: resp.StatusCode,
			Message:    strings.TrimSpace(string(body)),
		}
		if resp.StatusCode == http.StatusTooManyRequests {
			c.waitRetryAfter(ctx, resp.Header.Get("Retry-After"))
		}
		return apiErr
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		// A truncated body is as likely a dropped connection as bad data
		return fmt.Errorf("%w: failed to decode response: %v", ErrTransient, err)
	}
	return nil
}

// waitRetryAfter honours a Retry-After header given in seconds
func (c *Client) waitRetryAfter(ctx context.Context, header string) {
	seconds, err := strconv.Atoi(strings.TrimSpace(header))
	if err != nil || seconds <= 0 {
		return
	}

	wait := time.Duration(seconds) * time.Second
	c.logger.Warn("Source API rate limited, backing off",
		zap.Duration("retryAfter", wait))

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
