// Package transport implements the HTTP client every API package posts
// through: bearer auth with the vendor API key, bounded retries with
// exponential backoff and jitter, and platform error envelopes decoded into
// the core taxonomy.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"strings"
	"time"

	glog "github.com/goliatone/go-logger/glog"
	"github.com/onesub/onesub-go/core"
)

const (
	defaultTimeout           = 30 * time.Second
	defaultMaxRetries        = 3
	defaultBackoffBase       = time.Second
	defaultBackoffMax        = 30 * time.Second
	defaultResponseBodyLimit = int64(10 << 20) // 10 MiB

	userAgent = "onesub-go/1.0.0"
)

// Doer abstracts the underlying HTTP client so tests and instrumented
// clients can slot in.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

type Config struct {
	APIKey     string
	BaseURL    string
	Timeout    time.Duration
	MaxRetries int
}

type Client struct {
	apiKey     string
	baseURL    string
	timeout    time.Duration
	maxRetries int
	doer       Doer
	logger     core.Logger

	// Sleep is injectable so retry tests run without wall-clock delays.
	Sleep func(ctx context.Context, d time.Duration) error
}

type Option func(*Client)

func WithDoer(doer Doer) Option {
	return func(c *Client) {
		if doer != nil {
			c.doer = doer
		}
	}
}

func WithLogger(logger core.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// New validates the API key shape locally before any request can be issued.
func New(cfg Config, options ...Option) (*Client, error) {
	if err := core.ValidateAPIKey(cfg.APIKey); err != nil {
		return nil, err
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = core.DefaultBaseURL
	}
	if parsed, err := url.Parse(baseURL); err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, core.NewValidationError(fmt.Sprintf("base url %q is not absolute", cfg.BaseURL))
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	maxRetries := cfg.MaxRetries
	if maxRetries < 0 {
		maxRetries = defaultMaxRetries
	}

	client := &Client{
		apiKey:     strings.TrimSpace(cfg.APIKey),
		baseURL:    baseURL,
		timeout:    timeout,
		maxRetries: maxRetries,
		doer:       &http.Client{Timeout: timeout},
		logger:     glog.Nop(),
		Sleep:      sleepContext,
	}
	for _, option := range options {
		if option != nil {
			option(client)
		}
	}
	return client, nil
}

var _ core.PlatformClient = (*Client)(nil)

// Post issues one logical POST with automatic retries for transport
// failures, 429s, and 5xx responses. Client errors other than 429 are
// terminal and returned on the first attempt. A nil out skips decoding.
func (c *Client) Post(ctx context.Context, path string, body any, out any) error {
	if c == nil || c.doer == nil {
		return core.NewAPIError("transport client is not configured", http.StatusInternalServerError)
	}
	if ctx == nil {
		ctx = context.Background()
	}
	path = "/" + strings.TrimLeft(strings.TrimSpace(path), "/")

	var payload []byte
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return core.NewValidationError(fmt.Sprintf("encode request body: %v", err))
		}
		payload = encoded
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			delay := backoffDelay(attempt)
			c.logger.Debug("retrying request",
				"path", path,
				"attempt", attempt,
				"delay_ms", delay.Milliseconds(),
			)
			if err := c.sleep(ctx, delay); err != nil {
				return core.NewTimeoutError(err, "request canceled while backing off")
			}
		}

		err := c.doOnce(ctx, path, payload, out)
		if err == nil {
			return nil
		}
		if !core.IsRetryable(err) {
			return err
		}
		lastErr = err
	}
	if lastErr == nil {
		lastErr = core.NewNetworkError(nil, "request failed after retries")
	}
	return lastErr
}

func (c *Client) doOnce(ctx context.Context, path string, payload []byte, out any) error {
	requestCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(
		requestCtx,
		http.MethodPost,
		c.baseURL+path,
		bytes.NewReader(payload),
	)
	if err != nil {
		return core.NewValidationError(fmt.Sprintf("create request: %v", err))
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("User-Agent", userAgent)

	c.logger.Debug("request", "method", http.MethodPost, "path", path)

	httpRes, err := c.doer.Do(httpReq)
	if err != nil {
		if isTimeout(err) {
			return core.NewTimeoutError(err, fmt.Sprintf("request timed out after %s", c.timeout))
		}
		return core.NewNetworkError(err, "execute request")
	}
	defer httpRes.Body.Close()

	responseBody, err := io.ReadAll(io.LimitReader(httpRes.Body, defaultResponseBodyLimit))
	if err != nil {
		return core.NewNetworkError(err, "read response body")
	}

	c.logger.Debug("response", "path", path, "status", httpRes.StatusCode)

	if httpRes.StatusCode < http.StatusOK || httpRes.StatusCode >= http.StatusMultipleChoices {
		return decodeAPIError(httpRes.StatusCode, responseBody)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(responseBody, out); err != nil {
		return core.NewAPIError(
			fmt.Sprintf("decode response body: %v", err),
			http.StatusBadGateway,
		)
	}
	return nil
}

func (c *Client) sleep(ctx context.Context, d time.Duration) error {
	if c != nil && c.Sleep != nil {
		return c.Sleep(ctx, d)
	}
	return sleepContext(ctx, d)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// backoffDelay doubles per attempt with random jitter, capped at 30s.
func backoffDelay(attempt int) time.Duration {
	delay := defaultBackoffBase << (attempt - 1)
	jitter := time.Duration(rand.Int63n(int64(time.Second)))
	if delay+jitter > defaultBackoffMax {
		return defaultBackoffMax
	}
	return delay + jitter
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr interface{ Timeout() bool }
	return errors.As(err, &netErr) && netErr.Timeout()
}
