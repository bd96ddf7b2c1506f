package elexon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"curtailsync/config"
)

// Default configuration values.
const (
	DefaultTimeout    = 30 * time.Second
	DefaultMaxRetries = 3
	DefaultRetryDelay = 1 * time.Second
	DefaultMaxDelay   = 30 * time.Second
	DefaultCooldown   = 60 * time.Second
)

// TransientError marks a failure worth retrying at a higher level:
// network faults, timeouts, HTTP 429/5xx.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// Client talks to the settlement data API under a global request budget.
type Client struct {
	baseURL    string
	httpClient *http.Client
	limiter    *windowLimiter

	maxRetries int
	retryDelay time.Duration
	maxDelay   time.Duration
	cooldown   time.Duration

	// overridable for tests
	sleep func(ctx context.Context, d time.Duration) error
}

// Option configures Client.
type Option func(*Client)

// WithHTTPClient sets a custom http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithCooldown sets the fixed sleep applied after HTTP 429.
func WithCooldown(d time.Duration) Option {
	return func(c *Client) {
		c.cooldown = d
	}
}

// WithRetry sets the retry count and backoff bounds.
func WithRetry(maxRetries int, retryDelay, maxDelay time.Duration) Option {
	return func(c *Client) {
		c.maxRetries = maxRetries
		c.retryDelay = retryDelay
		c.maxDelay = maxDelay
	}
}

// NewClient creates a settlement API client from config.
func NewClient(cfg config.ElexonConfig, opts ...Option) *Client {
	c := &Client{
		baseURL:    cfg.BaseURL,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    newWindowLimiter(cfg.MaxRequests, cfg.Window),
		maxRetries: cfg.MaxRetries,
		retryDelay: cfg.RetryDelay,
		maxDelay:   cfg.MaxDelay,
		cooldown:   cfg.Cooldown,
		sleep:      sleepCtx,
	}
	if c.httpClient.Timeout == 0 {
		c.httpClient.Timeout = DefaultTimeout
	}
	if c.maxRetries == 0 {
		c.maxRetries = DefaultMaxRetries
	}
	if c.retryDelay == 0 {
		c.retryDelay = DefaultRetryDelay
	}
	if c.maxDelay == 0 {
		c.maxDelay = DefaultMaxDelay
	}
	if c.cooldown == 0 {
		c.cooldown = DefaultCooldown
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// FetchAcceptances fetches all bid-side and offer-side acceptances for one
// (settlement date, settlement period). Transient failures are retried with
// exponential backoff capped at the configured maximum; HTTP 429 sleeps the
// fixed cooldown instead of backing off. After exhausting retries the last
// error is returned wrapped — callers treat the period as empty and move on.
func (c *Client) FetchAcceptances(ctx context.Context, date string, period int) ([]Acceptance, error) {
	endpoint := fmt.Sprintf(
		"%s/balancing/settlement/acceptances/all/%s/%d",
		c.baseURL, date, period,
	)

	delay := c.retryDelay
	var lastErr error

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			if err := c.sleep(ctx, delay); err != nil {
				return nil, err
			}
			// Exponential backoff
			delay *= 2
			if delay > c.maxDelay {
				delay = c.maxDelay
			}
		}

		// Respect the global request budget before every attempt
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		recs, retry, err := c.fetchOnce(ctx, endpoint)
		if err == nil {
			return recs, nil
		}
		if !retry {
			return nil, err
		}
		lastErr = err

		// 429 gets the fixed cooldown on top of the regular backoff path
		if isRateLimited(err) && attempt < c.maxRetries {
			if serr := c.sleep(ctx, c.cooldown); serr != nil {
				return nil, serr
			}
		}
	}

	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}

type rateLimitedError struct{ body string }

func (e *rateLimitedError) Error() string {
	return fmt.Sprintf("rate limited (429): %s", e.body)
}

func isRateLimited(err error) bool {
	var rle *rateLimitedError
	return errors.As(err, &rle)
}

// fetchOnce performs a single GET. The second return value reports whether
// the failure is transient and worth another attempt.
func (c *Client) fetchOnce(ctx context.Context, endpoint string) ([]Acceptance, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, false, fmt.Errorf("creating request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, true, &TransientError{Op: "making request", Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		body, _ := io.ReadAll(resp.Body)
		return nil, true, &TransientError{Op: "fetch acceptances", Err: &rateLimitedError{body: string(body)}}
	case resp.StatusCode >= 500:
		body, _ := io.ReadAll(resp.Body)
		return nil, true, &TransientError{
			Op:  "fetch acceptances",
			Err: fmt.Errorf("server error %d: %s", resp.StatusCode, body),
		}
	case resp.StatusCode != http.StatusOK:
		body, _ := io.ReadAll(resp.Body)
		return nil, false, fmt.Errorf("elexon error %d: %s", resp.StatusCode, body)
	}

	var rawResp apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&rawResp); err != nil {
		return nil, false, fmt.Errorf("decode response: %w", err)
	}

	var result acceptanceData
	if err := json.Unmarshal(rawResp.Data, &result); err != nil {
		return nil, false, fmt.Errorf("decode result: %w", err)
	}

	recs := make([]Acceptance, 0, len(result.Bid)+len(result.Offer))
	recs = append(recs, result.Bid...)
	recs = append(recs, result.Offer...)
	return recs, false, nil
}
