package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// maxRetryAfter caps a server-requested Retry-After wait.
const maxRetryAfter = 30 * time.Second

// APIError is a non-2xx response. Message carries the Django REST
// framework "detail" field when present, else the status text.
type APIError struct {
	StatusCode int
	Message    string
	Body       []byte

	retryAfter time.Duration
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %d: %s", e.StatusCode, e.Message)
}

// IsRetryable reports throttling and server-side failures.
func (e *APIError) IsRetryable() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

// newAPIError builds an APIError from a failed response.
func newAPIError(resp *http.Response, body []byte) *APIError {
	e := &APIError{
		StatusCode: resp.StatusCode,
		Message:    http.StatusText(resp.StatusCode),
		Body:       body,
	}

	var drf struct {
		Detail string `json:"detail"`
	}
	if json.Unmarshal(body, &drf) == nil && drf.Detail != "" {
		e.Message = drf.Detail
	}

	if secs, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil && secs > 0 {
		e.retryAfter = min(time.Duration(secs)*time.Second, maxRetryAfter)
	}
	return e
}

// endpoint joins path onto the API mount point and appends query.
func (c *Client) endpoint(path string, query url.Values) (string, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	// JoinPath keeps the trailing slash DRF routes require.
	u = u.JoinPath(path)
	u.RawQuery = query.Encode()
	return u.String(), nil
}

// fetch performs one GET exchange and returns the body of a 2xx response.
func (c *Client) fetch(ctx context.Context, path string, query url.Values) ([]byte, error) {
	target, err := c.endpoint(path, query)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	start := time.Now()
	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	c.logger.Debug("api request",
		"path", path,
		"instrument", query.Get("instrument"),
		"status", resp.StatusCode,
		"duration", time.Since(start),
	)

	if resp.StatusCode >= 300 {
		return nil, newAPIError(resp, body)
	}
	return body, nil
}

// get fetches path and decodes the JSON body into result. Throttled and
// 5xx responses are retried with jittered exponential delay, or after the
// server's Retry-After when it sends one.
func (c *Client) get(ctx context.Context, path string, query url.Values, result any) error {
	delay := c.retryDelay
	var lastErr error

	for attempt := 0; attempt <= c.retries; attempt++ {
		if attempt > 0 {
			wait := delay/2 + time.Duration(rand.Int63n(int64(delay)+1))
			var apiErr *APIError
			if errors.As(lastErr, &apiErr) && apiErr.retryAfter > 0 {
				wait = apiErr.retryAfter
			}
			c.logger.Warn("retrying api request",
				"path", path,
				"instrument", query.Get("instrument"),
				"attempt", attempt,
				"wait", wait,
				"error", lastErr,
			)

			t := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				t.Stop()
				return ctx.Err()
			case <-t.C:
			}
			delay *= 2
		}

		body, err := c.fetch(ctx, path, query)
		if err == nil {
			if err := json.Unmarshal(body, result); err != nil {
				return fmt.Errorf("decode response: %w", err)
			}
			return nil
		}
		lastErr = err

		var apiErr *APIError
		if !errors.As(err, &apiErr) || !apiErr.IsRetryable() {
			return err
		}
	}

	return fmt.Errorf("giving up after %d retries: %w", c.retries, lastErr)
}
