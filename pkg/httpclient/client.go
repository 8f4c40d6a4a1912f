// Package httpclient is the shared client utility for inter-service calls.
// It layers exponential-backoff retry and HA failover on net/http: the
// primary URL is retried on transient transport errors, then a single
// attempt is made against the fallback URL unless the maintenance flag is
// present. Timeouts and 4xx responses never retry and never fail over.
package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"time"
)

// MaintenanceChecker gates automatic failover. ha.MaintenanceFlag satisfies
// it.
type MaintenanceChecker interface {
	Active() bool
}

type Client struct {
	client      *http.Client
	maxRetries  int
	baseDelay   time.Duration
	maintenance MaintenanceChecker
	sleep       func(time.Duration)
}

type Option func(*Client)

func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) { c.client = client }
}

func WithMaxRetries(max int) Option {
	return func(c *Client) { c.maxRetries = max }
}

func WithBaseDelay(delay time.Duration) Option {
	return func(c *Client) { c.baseDelay = delay }
}

func WithMaintenance(m MaintenanceChecker) Option {
	return func(c *Client) { c.maintenance = m }
}

// withSleep replaces the backoff sleeper in tests.
func withSleep(fn func(time.Duration)) Option {
	return func(c *Client) { c.sleep = fn }
}

func New(opts ...Option) *Client {
	c := &Client{
		client:     &http.Client{Timeout: 60 * time.Second},
		maxRetries: 3,
		baseDelay:  500 * time.Millisecond,
		sleep:      time.Sleep,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// PostJSON posts a JSON body to a single URL with retry, no failover.
func (c *Client) PostJSON(ctx context.Context, url string, body any) (*http.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request body: %w", err)
	}
	return c.postWithBackoff(ctx, url, payload)
}

// PostWithRetry posts to primaryURL with exponential backoff on retryable
// errors, then makes a single attempt against fallbackURL. Rules:
//
//   - Timeouts do not retry and do not fail over.
//   - HTTP 4xx does not retry and does not fail over.
//   - The fallback is skipped while the maintenance flag is present.
//   - If the fallback also fails, the original primary error is returned.
func (c *Client) PostWithRetry(ctx context.Context, primaryURL, fallbackURL string, body any) (*http.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request body: %w", err)
	}

	resp, primaryErr := c.postWithBackoff(ctx, primaryURL, payload)
	if primaryErr == nil {
		return resp, nil
	}

	if IsTimeout(primaryErr) || !isRetryableError(primaryErr) {
		return nil, primaryErr
	}
	if fallbackURL == "" {
		return nil, primaryErr
	}
	if c.maintenance != nil && c.maintenance.Active() {
		slog.Warn("Failover suppressed by maintenance flag", "primary", primaryURL)
		return nil, primaryErr
	}

	slog.Warn("Primary exhausted, attempting fallback once",
		"primary", primaryURL, "fallback", fallbackURL)

	resp, fallbackErr := c.postOnce(ctx, fallbackURL, payload)
	if fallbackErr != nil {
		slog.Error("Fallback also failed", "fallback", fallbackURL, "error", fallbackErr)
		return nil, primaryErr
	}
	return resp, nil
}

func (c *Client) postWithBackoff(ctx context.Context, url string, payload []byte) (*http.Response, error) {
	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			delay := time.Duration(math.Pow(2, float64(attempt-1))) * c.baseDelay
			c.sleep(delay)
		}

		resp, err := c.postOnce(ctx, url, payload)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		if IsTimeout(err) || !isRetryableError(err) {
			return nil, err
		}
	}
	return nil, lastErr
}

func (c *Client) postOnce(ctx context.Context, url string, payload []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		// Connect and protocol failures are the retryable class.
		if IsTimeout(err) {
			return nil, err
		}
		return nil, &RetryableError{Message: "transport failure", Err: err}
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp, nil
	}

	defer resp.Body.Close()
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))

	if isRetryableStatus(resp.StatusCode) {
		return nil, &RetryableError{
			StatusCode: resp.StatusCode,
			Message:    string(snippet),
		}
	}
	return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(snippet))
}

func isRetryableError(err error) bool {
	var re *RetryableError
	return errors.As(err, &re)
}

// DecodeJSON reads and closes a response body into v.
func DecodeJSON(resp *http.Response, v any) error {
	defer resp.Body.Close()
	return json.NewDecoder(resp.Body).Decode(v)
}
