// Package qase is a minimal client for the Qase TMS REST API, covering
// defect creation and credential validation.
package qase

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	defaultBaseURL = "https://api.qase.io/v1"
	requestTimeout = 30 * time.Second

	// Qase allows 600 API calls per minute per token.
	rateLimitCalls  = 600
	rateLimitWindow = 60 * time.Second

	maxAttempts    = 3
	defaultBackoff = time.Second
)

// Sentinel errors for responses that retrying cannot fix.
var (
	ErrUnauthorized = errors.New("qase: invalid or expired API token")
	ErrForbidden    = errors.New("qase: token lacks access to this project")
	ErrNotFound     = errors.New("qase: project not found")
	ErrRateLimited  = errors.New("qase: local rate limit reached")
)

// Defect is the payload for defect creation.
type Defect struct {
	Title        string `json:"title"`
	ActualResult string `json:"actual_result"`
	Severity     string `json:"severity"`
}

// Client talks to the Qase API for a single project. Safe for
// concurrent use.
type Client struct {
	baseURL     string
	token       string
	projectCode string
	httpClient  *http.Client
	logger      *zap.Logger
	backoffBase time.Duration

	mu          sync.Mutex
	windowStart time.Time
	callCount   int
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL overrides the API endpoint, mainly for tests.
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = u }
}

// WithBackoffBase overrides the initial retry delay, mainly for tests.
func WithBackoffBase(d time.Duration) Option {
	return func(c *Client) { c.backoffBase = d }
}

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.httpClient = h }
}

// NewClient creates a client for one project.
func NewClient(token, projectCode string, logger *zap.Logger, opts ...Option) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Client{
		baseURL:     defaultBaseURL,
		token:       token,
		projectCode: projectCode,
		httpClient:  &http.Client{Timeout: requestTimeout},
		logger:      logger,
		backoffBase: defaultBackoff,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CreateDefect files a defect and returns its numeric ID.
func (c *Client) CreateDefect(ctx context.Context, d Defect) (int, error) {
	body, err := json.Marshal(d)
	if err != nil {
		return 0, fmt.Errorf("marshal defect: %w", err)
	}

	var result struct {
		Status bool `json:"status"`
		Result struct {
			ID int `json:"id"`
		} `json:"result"`
	}
	if err := c.do(ctx, http.MethodPost, "/defect/"+c.projectCode, body, &result); err != nil {
		return 0, err
	}

	c.logger.Info("defect created",
		zap.Int("defect_id", result.Result.ID),
		zap.String("severity", d.Severity))
	return result.Result.ID, nil
}

// ValidateCredentials checks that the token can read the configured
// project.
func (c *Client) ValidateCredentials(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/project/"+c.projectCode, nil, nil)
}

// do runs one API call with rate limiting and retry. Retries cover
// network failures and 5xx responses only.
func (c *Client) do(ctx context.Context, method, path string, body []byte, out any) error {
	if !c.allow(time.Now()) {
		return ErrRateLimited
	}

	var lastErr error
	delay := c.backoffBase

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			c.logger.Debug("retrying request",
				zap.String("path", path),
				zap.Int("attempt", attempt),
				zap.Duration("delay", delay))
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
			delay *= 2
		}

		retryable, err := c.once(ctx, method, path, body, out)
		if err == nil {
			return nil
		}
		if !retryable {
			return err
		}
		lastErr = err
	}

	return fmt.Errorf("qase: %s %s failed after %d attempts: %w", method, path, maxAttempts, lastErr)
}

// once performs a single HTTP exchange. The bool reports whether the
// failure is worth retrying.
func (c *Client) once(ctx context.Context, method, path string, body []byte, out any) (bool, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return false, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Token", c.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return true, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return true, fmt.Errorf("read response: %w", err)
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		if out != nil {
			if err := json.Unmarshal(respBody, out); err != nil {
				return false, fmt.Errorf("decode response: %w", err)
			}
		}
		return false, nil
	case resp.StatusCode == http.StatusUnauthorized:
		return false, ErrUnauthorized
	case resp.StatusCode == http.StatusForbidden:
		return false, ErrForbidden
	case resp.StatusCode == http.StatusNotFound:
		return false, ErrNotFound
	case resp.StatusCode >= 500:
		return true, fmt.Errorf("qase API returned %d: %s", resp.StatusCode, string(respBody))
	default:
		return false, fmt.Errorf("qase API returned %d: %s", resp.StatusCode, string(respBody))
	}
}

// allow implements a fixed-window counter over the API's documented
// per-minute quota, resetting the window lazily.
func (c *Client) allow(now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.windowStart.IsZero() || now.Sub(c.windowStart) >= rateLimitWindow {
		c.windowStart = now
		c.callCount = 0
	}
	if c.callCount >= rateLimitCalls {
		return false
	}
	c.callCount++
	return true
}
