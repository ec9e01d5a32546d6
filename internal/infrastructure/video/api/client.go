// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

// Package api is the retrying JSON client shared by the video providers.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/rand"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/linuxfoundation/lfx-v2-session-lifecycle-service/internal/domain"
	"github.com/linuxfoundation/lfx-v2-session-lifecycle-service/internal/logging"
)

const (
	// DefaultClientTimeout is the default HTTP client timeout for provider requests
	DefaultClientTimeout = 30 * time.Second
	// Default retry configuration
	DefaultMaxRetries        = 3
	DefaultInitialBackoff    = 1 * time.Second
	DefaultMaxBackoff        = 30 * time.Second
	DefaultBackoffMultiplier = 2.0
)

// Config holds the configuration for a provider client
type Config struct {
	// Provider names the remote service in logs and spans
	Provider string
	BaseURL  string
	// Optional: override timeout for HTTP requests
	Timeout time.Duration
	// Optional: retry configuration. A negative MaxRetries disables retries.
	MaxRetries        int
	InitialBackoff    time.Duration
	MaxBackoff        time.Duration
	BackoffMultiplier float64
}

// Client performs JSON requests against a provider API with retries on
// transport errors, 5xx and 429.
type Client struct {
	httpClient *http.Client
	config     Config
}

// NewClient creates a client. The transport carries provider authentication;
// it is wrapped with OpenTelemetry instrumentation.
func NewClient(config Config, transport http.RoundTripper) *Client {
	if config.Timeout == 0 {
		config.Timeout = DefaultClientTimeout
	}
	if config.MaxRetries == 0 {
		config.MaxRetries = DefaultMaxRetries
	}
	if config.MaxRetries < 0 {
		config.MaxRetries = 0
	}
	if config.InitialBackoff == 0 {
		config.InitialBackoff = DefaultInitialBackoff
	}
	if config.MaxBackoff == 0 {
		config.MaxBackoff = DefaultMaxBackoff
	}
	if config.BackoffMultiplier == 0 {
		config.BackoffMultiplier = DefaultBackoffMultiplier
	}
	if transport == nil {
		transport = http.DefaultTransport
	}

	return &Client{
		httpClient: &http.Client{
			Timeout: config.Timeout,
			Transport: otelhttp.NewTransport(transport,
				otelhttp.WithSpanNameFormatter(func(operation string, r *http.Request) string {
					return config.Provider + " " + r.Method + " " + r.URL.Path
				}),
			),
		},
		config: config,
	}
}

// shouldRetry determines if an error or HTTP status code should be retried
func shouldRetry(statusCode int, err error) bool {
	if err != nil {
		return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
	}
	if statusCode >= 500 && statusCode < 600 {
		return true
	}
	return statusCode == http.StatusTooManyRequests
}

// calculateBackoff calculates the backoff duration for a retry attempt with jitter
func (c *Client) calculateBackoff(attempt int) time.Duration {
	if attempt <= 0 {
		return c.config.InitialBackoff
	}

	backoff := float64(c.config.InitialBackoff) * math.Pow(c.config.BackoffMultiplier, float64(attempt))
	if time.Duration(backoff) > c.config.MaxBackoff {
		backoff = float64(c.config.MaxBackoff)
	}

	// ±25% jitter
	jitter := backoff * 0.25 * (rand.Float64()*2 - 1)
	withJitter := time.Duration(backoff + jitter)
	if withJitter < c.config.InitialBackoff {
		withJitter = c.config.InitialBackoff
	}
	return withJitter
}

// Do sends the request and decodes a 2xx JSON response into out when out is
// not nil. A 404 becomes a NotFound error; every other failure becomes a
// Provider error.
func (c *Client) Do(ctx context.Context, method, path string, body, out any) error {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return domain.NewInternalError("failed to marshal request body", err)
		}
	}

	url := c.config.BaseURL + path
	var (
		lastErr    error
		lastStatus int
		lastBody   []byte
	)
	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := c.calculateBackoff(attempt - 1)
			slog.WarnContext(ctx, "provider request failed, retrying",
				"provider", c.config.Provider,
				"method", method,
				"path", path,
				"status", lastStatus,
				"attempt", attempt,
				"backoff", backoff.String(),
				logging.ErrKey, lastErr,
			)
			select {
			case <-ctx.Done():
				return domain.NewProviderError(fmt.Sprintf("%s request cancelled", c.config.Provider), ctx.Err())
			case <-time.After(backoff):
			}
		}

		status, respBody, duration, err := c.send(ctx, method, url, payload)
		lastErr, lastStatus, lastBody = err, status, respBody

		if err == nil && status < http.StatusBadRequest {
			slog.DebugContext(ctx, "provider request completed",
				"provider", c.config.Provider,
				"method", method,
				"path", path,
				"status", status,
				"duration", duration.String(),
				"attempt", attempt+1,
			)
			if out != nil && len(respBody) > 0 {
				if err := json.Unmarshal(respBody, out); err != nil {
					return domain.NewProviderError(fmt.Sprintf("invalid %s response", c.config.Provider), err)
				}
			}
			return nil
		}
		if !shouldRetry(status, err) {
			break
		}
	}

	if lastErr != nil {
		slog.ErrorContext(ctx, "provider request failed",
			"provider", c.config.Provider,
			"method", method,
			"path", path,
			logging.ErrKey, lastErr,
		)
		return domain.NewProviderError(fmt.Sprintf("%s %s %s failed", c.config.Provider, method, path), lastErr)
	}

	apiErr := parseErrorResponse(c.config.Provider, lastStatus, lastBody)
	if lastStatus == http.StatusNotFound {
		return domain.NewNotFoundError(fmt.Sprintf("%s resource not found", c.config.Provider), apiErr)
	}
	slog.ErrorContext(ctx, "provider error response",
		"provider", c.config.Provider,
		"method", method,
		"path", path,
		"status", lastStatus,
		"body", string(lastBody),
	)
	return domain.NewProviderError(fmt.Sprintf("%s %s %s failed", c.config.Provider, method, path), apiErr)
}

func (c *Client) send(ctx context.Context, method, url string, payload []byte) (int, []byte, time.Duration, error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return 0, nil, 0, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	duration := time.Since(start)
	if err != nil {
		return 0, nil, duration, err
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, duration, fmt.Errorf("failed to read response body: %w", err)
	}
	return resp.StatusCode, respBody, duration, nil
}

// StatusError is a non-2xx answer from a provider.
type StatusError struct {
	Provider   string
	StatusCode int
	Code       string
	Message    string
}

func (e *StatusError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s API error (status %d, code %s): %s", e.Provider, e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("%s API error (status %d): %s", e.Provider, e.StatusCode, e.Message)
}

// parseErrorResponse understands both Zoom ({"code": 3001, "message": ...})
// and Twirp ({"code": "not_found", "msg": ...}) error bodies.
func parseErrorResponse(provider string, status int, body []byte) *StatusError {
	out := &StatusError{Provider: provider, StatusCode: status, Message: string(body)}

	var errResp struct {
		Code    json.RawMessage `json:"code"`
		Message string          `json:"message"`
		Msg     string          `json:"msg"`
	}
	if err := json.Unmarshal(body, &errResp); err != nil {
		return out
	}
	if msg := errResp.Message + errResp.Msg; msg != "" {
		out.Message = msg
	}
	var code string
	if err := json.Unmarshal(errResp.Code, &code); err == nil {
		out.Code = code
	} else if len(errResp.Code) > 0 {
		out.Code = string(errResp.Code)
	}
	return out
}
