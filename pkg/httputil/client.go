package httputil

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/wonny/aegis/weightgov/pkg/logger"
	"github.com/wonny/aegis/weightgov/pkg/redis"
)

// Client is an HTTP client wrapper with retry logic and logging
// ⭐ SSOT: 모든 외부 HTTP 요청(webhook 등)은 이 클라이언트를 통해서만 수행
type Client struct {
	httpClient   *http.Client
	logger       *logger.Logger
	retryConfig  RetryConfig
	rateLimiter  *redis.RateLimiter
	rateLimitCfg *redis.RateLimitConfig
}

// RetryConfig holds retry configuration
type RetryConfig struct {
	MaxRetries   int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Enabled      bool
}

// StatusError is returned when the final response is not 2xx
type StatusError struct {
	Method     string
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: unexpected status %d", e.Method, e.URL, e.StatusCode)
}

// New creates a new HTTP client
// ⭐ SSOT: http.Client 인스턴스는 여기서만 생성
func New(log *logger.Logger) *Client {
	return &Client{
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		logger: log,
		retryConfig: RetryConfig{
			MaxRetries:   3,
			InitialDelay: 500 * time.Millisecond,
			MaxDelay:     5 * time.Second,
			Enabled:      true,
		},
	}
}

// NewWithTimeout creates a client with custom timeout
func NewWithTimeout(log *logger.Logger, timeout time.Duration) *Client {
	client := New(log)
	client.httpClient.Timeout = timeout
	return client
}

// WithRetry configures retry behavior
func (c *Client) WithRetry(maxRetries int, initialDelay time.Duration) *Client {
	c.retryConfig.MaxRetries = maxRetries
	c.retryConfig.InitialDelay = initialDelay
	c.retryConfig.Enabled = true
	return c
}

// DisableRetry disables automatic retry
func (c *Client) DisableRetry() *Client {
	c.retryConfig.Enabled = false
	return c
}

// WithRateLimiter sets the shared (Redis) rate limiter for this client
func (c *Client) WithRateLimiter(limiter *redis.RateLimiter, cfg redis.RateLimitConfig) *Client {
	c.rateLimiter = limiter
	c.rateLimitCfg = &cfg
	return c
}

// PostJSON POSTs data as JSON and drains the response.
// 2xx 이외의 최종 응답은 *StatusError 로 반환
func (c *Client) PostJSON(ctx context.Context, url string, data interface{}) error {
	body, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}

	resp, err := c.do(ctx, http.MethodPost, url, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &StatusError{Method: http.MethodPost, URL: url, StatusCode: resp.StatusCode}
	}
	return nil
}

// Get performs a GET request. The caller closes the body.
func (c *Client) Get(ctx context.Context, url string) (*http.Response, error) {
	return c.do(ctx, http.MethodGet, url, nil)
}

// do executes the request with retry logic and logging.
// body는 재시도마다 새 reader로 감싸서 전송
func (c *Client) do(ctx context.Context, method, url string, body []byte) (*http.Response, error) {
	if c.rateLimiter != nil && c.rateLimitCfg != nil {
		if err := c.rateLimiter.Wait(ctx, *c.rateLimitCfg); err != nil {
			return nil, fmt.Errorf("rate limit wait failed: %w", err)
		}
	}

	log := c.logger.WithFields(map[string]interface{}{
		"method": method,
		"url":    url,
	})
	log.Debug("HTTP request started")

	start := time.Now()
	attempt := 0

	operation := func() (*http.Response, error) {
		attempt++
		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, url, reader)
		if err != nil {
			return nil, backoff.Permanent(fmt.Errorf("failed to create %s request: %w", method, err))
		}
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, err
		}
		if IsRetryableError(resp.StatusCode) && c.retryConfig.Enabled && attempt <= c.retryConfig.MaxRetries {
			_, _ = io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
			return nil, &StatusError{Method: method, URL: url, StatusCode: resp.StatusCode}
		}
		return resp, nil
	}

	var policy backoff.BackOff = &backoff.StopBackOff{}
	if c.retryConfig.Enabled {
		exp := backoff.NewExponentialBackOff()
		exp.InitialInterval = c.retryConfig.InitialDelay
		exp.MaxInterval = c.retryConfig.MaxDelay
		exp.MaxElapsedTime = 0
		policy = backoff.WithMaxRetries(exp, uint64(c.retryConfig.MaxRetries))
	}

	notify := func(err error, delay time.Duration) {
		log.WithFields(map[string]interface{}{
			"attempt": attempt,
			"delay":   delay,
			"error":   err.Error(),
		}).Warn("Retrying HTTP request")
	}

	resp, err := backoff.RetryNotifyWithData(operation, backoff.WithContext(policy, ctx), notify)
	duration := time.Since(start)
	if err != nil {
		log.WithFields(map[string]interface{}{
			"duration": duration,
			"attempts": attempt,
			"error":    err.Error(),
		}).Error("HTTP request failed")
		return nil, err
	}

	log.WithFields(map[string]interface{}{
		"status_code": resp.StatusCode,
		"duration":    duration,
	}).Debug("HTTP request completed")
	return resp, nil
}

// IsRetryableError checks if a status code should be retried
func IsRetryableError(statusCode int) bool {
	// Retry on 5xx server errors and 429 Too Many Requests
	return statusCode >= 500 || statusCode == http.StatusTooManyRequests
}
